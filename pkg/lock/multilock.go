package lock

import (
	"context"
	"sort"

	"go.uber.org/multierr"

	pkgerrors "github.com/pallet-works/stockroom-backend/pkg/errors"
)

// MultiLease holds leases on several resources, acquired in canonical order.
type MultiLease struct {
	leases []*Lease
}

// AcquireMany claims every resource id or none. Ids are deduplicated and
// sorted before acquisition so that any two callers requesting overlapping
// sets always request them in the same relative order; that ordering is the
// sole deadlock-avoidance mechanism. On a partial failure the already-held
// leases are released in reverse order before the error propagates.
func (l *Locker) AcquireMany(ctx context.Context, resources []string) (*MultiLease, error) {
	if len(resources) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one lock resource id required")
	}

	ordered := canonicalOrder(resources)
	multi := &MultiLease{leases: make([]*Lease, 0, len(ordered))}

	for _, resource := range ordered {
		lease, err := l.Acquire(ctx, resource)
		if err != nil {
			if relErr := multi.Release(ctx); relErr != nil {
				err = multierr.Append(err, relErr)
			}
			return nil, err
		}
		multi.leases = append(multi.leases, lease)
	}
	return multi, nil
}

// Release frees all held leases in reverse acquisition order, aggregating
// any individual release failures.
func (m *MultiLease) Release(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs error
	for i := len(m.leases) - 1; i >= 0; i-- {
		if err := m.leases[i].Release(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Leases returns the held leases in acquisition order.
func (m *MultiLease) Leases() []*Lease {
	if m == nil {
		return nil
	}
	out := make([]*Lease, len(m.leases))
	copy(out, m.leases)
	return out
}

func canonicalOrder(resources []string) []string {
	seen := make(map[string]struct{}, len(resources))
	ordered := make([]string, 0, len(resources))
	for _, r := range resources {
		if r == "" {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		ordered = append(ordered, r)
	}
	sort.Strings(ordered)
	return ordered
}
