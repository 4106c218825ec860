package cron

import (
	"context"
	"errors"
	"sync"

	pkgerrors "github.com/pallet-works/stockroom-backend/pkg/errors"
	"github.com/pallet-works/stockroom-backend/pkg/lock"
)

// Lock coordinates exclusive sweep cycles across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LeaseLock adapts the lease locker to a skip-if-busy cycle lock: losing the
// race to another replica is a normal outcome, not an error.
type LeaseLock struct {
	locker   *lock.Locker
	resource string

	mu    sync.Mutex
	lease *lock.Lease
}

// NewLeaseLock builds a cycle lock over the given resource name.
func NewLeaseLock(locker *lock.Locker, resource string) (*LeaseLock, error) {
	if locker == nil {
		return nil, errors.New("lease locker required")
	}
	if resource == "" {
		return nil, errors.New("lock resource is required")
	}
	return &LeaseLock{locker: locker, resource: resource}, nil
}

func (l *LeaseLock) Acquire(ctx context.Context) (bool, error) {
	lease, err := l.locker.Acquire(ctx, l.resource)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeLockAcquisition) {
			return false, nil
		}
		return false, err
	}
	l.mu.Lock()
	l.lease = lease
	l.mu.Unlock()
	return true, nil
}

func (l *LeaseLock) Release(ctx context.Context) error {
	l.mu.Lock()
	lease := l.lease
	l.lease = nil
	l.mu.Unlock()
	if lease == nil {
		return nil
	}
	return lease.Release(ctx)
}
