// Package lock provides lease-based mutual exclusion over a shared
// coordination store. A lease is an owner-token value written with
// set-if-absent and a TTL; losing processes retry with exponential backoff.
// Crash of a holder self-heals when the TTL lapses.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/pallet-works/stockroom-backend/pkg/errors"
	"github.com/pallet-works/stockroom-backend/pkg/logger"
	"github.com/pallet-works/stockroom-backend/pkg/metrics"
	"github.com/pallet-works/stockroom-backend/pkg/redis"
)

const maxBackoff = 2 * time.Second

// ErrLeaseLost is returned by Extend when the lease expired or was taken over.
var ErrLeaseLost = errors.New("lease no longer owned")

// Store is the coordination-store surface the lease lock consumes.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	CompareAndDelete(ctx context.Context, key, token string) (bool, error)
	CompareAndSet(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	LockKey(parts ...string) string
}

// Options tune acquisition behavior.
type Options struct {
	TTL         time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 10 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 8
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 25 * time.Millisecond
	}
	return o
}

// AcquisitionDetails describe a failed acquisition for error payloads.
type AcquisitionDetails struct {
	Resource string `json:"resource"`
	Attempts int    `json:"attempts"`
}

// Locker hands out leases on resource ids.
type Locker struct {
	store   Store
	logg    *logger.Logger
	metrics *metrics.LockMetrics
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
}

// NewLocker builds a Locker over the provided store.
func NewLocker(store Store, logg *logger.Logger, m *metrics.LockMetrics, opts Options) (*Locker, error) {
	if store == nil {
		return nil, fmt.Errorf("lock store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Locker{
		store:   store,
		logg:    logg,
		metrics: m,
		opts:    opts.withDefaults(),
		sleep:   sleepCtx,
		now:     time.Now,
	}, nil
}

// Lease is an exclusive, TTL-bounded claim on one resource id.
type Lease struct {
	locker     *Locker
	resource   string
	key        string
	token      string
	acquiredAt time.Time
	expiresAt  time.Time
}

// Resource returns the resource id the lease covers.
func (l *Lease) Resource() string { return l.resource }

// Token returns the owner token.
func (l *Lease) Token() string { return l.token }

// ExpiresAt returns when the lease lapses unless extended.
func (l *Lease) ExpiresAt() time.Time { return l.expiresAt }

// Acquire claims the resource, retrying with exponential backoff up to the
// configured retry budget. On exhaustion it fails with a LOCK_ACQUISITION error.
func (l *Locker) Acquire(ctx context.Context, resource string) (*Lease, error) {
	if resource == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lock resource id required")
	}

	key := l.store.LockKey(resource)
	token := uuid.NewString()

	for attempt := 0; attempt <= l.opts.MaxRetries; attempt++ {
		ok, err := l.store.SetNX(ctx, key, token, l.opts.TTL)
		if err != nil {
			l.metrics.IncAttempt("error")
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "coordination store unavailable")
		}
		if ok {
			l.metrics.IncAttempt("acquired")
			now := l.now()
			return &Lease{
				locker:     l,
				resource:   resource,
				key:        key,
				token:      token,
				acquiredAt: now,
				expiresAt:  now.Add(l.opts.TTL),
			}, nil
		}

		l.metrics.IncAttempt("contended")
		if attempt == l.opts.MaxRetries {
			break
		}
		if err := l.sleep(ctx, backoffDelay(l.opts.BackoffBase, attempt)); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeLockAcquisition, err, "lock wait canceled").
				WithDetails(AcquisitionDetails{Resource: resource, Attempts: attempt + 1})
		}
	}

	l.metrics.IncExhausted("resource")
	return nil, pkgerrors.Newf(pkgerrors.CodeLockAcquisition, "could not acquire lease on %s", resource).
		WithDetails(AcquisitionDetails{Resource: resource, Attempts: l.opts.MaxRetries + 1})
}

// Release frees the lease via compare-and-delete. A lease that already expired
// is a silent no-op; a lease now held by someone else is logged and dropped.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.token == "" {
		return nil
	}
	deleted, err := l.locker.store.CompareAndDelete(ctx, l.key, l.token)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", l.resource, err)
	}
	if deleted {
		l.locker.metrics.ObserveHeld(l.locker.now().Sub(l.acquiredAt))
		l.token = ""
		return nil
	}

	// Compare failed: either the TTL lapsed (fine) or another owner holds the
	// key, which should be impossible under correct sequencing.
	current, err := l.locker.store.Get(ctx, l.key)
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("inspect lease %s after failed release: %w", l.resource, err)
	}
	if current != "" && current != l.token {
		logCtx := l.locker.logg.WithLockKey(ctx, l.key)
		l.locker.logg.Warn(logCtx, "lease owned by another token at release; TTL likely lapsed mid-operation")
	}
	l.token = ""
	return nil
}

// Extend pushes the lease expiry out by ttl, failing with ErrLeaseLost when the
// lease is no longer owned.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	if l == nil || l.token == "" {
		return ErrLeaseLost
	}
	if ttl <= 0 {
		ttl = l.locker.opts.TTL
	}
	ok, err := l.locker.store.CompareAndSet(ctx, l.key, l.token, ttl)
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", l.resource, err)
	}
	if !ok {
		return ErrLeaseLost
	}
	l.expiresAt = l.locker.now().Add(ttl)
	return nil
}

// Remaining reports how much lease time is left at the given instant.
func (l *Lease) Remaining(now time.Time) time.Duration {
	if l == nil {
		return 0
	}
	return l.expiresAt.Sub(now)
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base << attempt
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
