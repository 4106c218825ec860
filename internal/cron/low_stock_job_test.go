package cron

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/pallet-works/stockroom-backend/internal/inventory"
	"github.com/pallet-works/stockroom-backend/pkg/db/models"
)

type fakeTenantSource struct {
	ids []uuid.UUID
	err error
}

func (f *fakeTenantSource) TenantIDs(context.Context) ([]uuid.UUID, error) {
	return f.ids, f.err
}

type fakeChecker struct {
	low     map[uuid.UUID][]inventory.LowStockItem
	errFor  map[uuid.UUID]error
	scanned []uuid.UUID
}

func (f *fakeChecker) CheckLowStock(_ context.Context, tenantID uuid.UUID) ([]inventory.LowStockItem, error) {
	f.scanned = append(f.scanned, tenantID)
	if err := f.errFor[tenantID]; err != nil {
		return nil, err
	}
	return f.low[tenantID], nil
}

func TestLowStockJobScansEveryTenant(t *testing.T) {
	t.Parallel()

	tenantA := uuid.New()
	tenantB := uuid.New()
	checker := &fakeChecker{
		low: map[uuid.UUID][]inventory.LowStockItem{
			tenantA: {{Item: models.InventoryItem{ID: uuid.New()}, EffectiveReorderPoint: 5, Net: 2}},
		},
	}
	job, err := NewLowStockJob(checker, &fakeTenantSource{ids: []uuid.UUID{tenantA, tenantB}}, testLogger())
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(checker.scanned) != 2 {
		t.Fatalf("expected both tenants scanned, got %d", len(checker.scanned))
	}
}

func TestLowStockJobContinuesPastTenantFailure(t *testing.T) {
	t.Parallel()

	tenantA := uuid.New()
	tenantB := uuid.New()
	checker := &fakeChecker{
		errFor: map[uuid.UUID]error{tenantA: errors.New("boom")},
	}
	job, err := NewLowStockJob(checker, &fakeTenantSource{ids: []uuid.UUID{tenantA, tenantB}}, testLogger())
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("one bad tenant must not fail the job: %v", err)
	}
	if len(checker.scanned) != 2 {
		t.Fatalf("expected scan to continue, got %d", len(checker.scanned))
	}
}

func TestLowStockJobFailsWhenTenantListUnavailable(t *testing.T) {
	t.Parallel()

	job, err := NewLowStockJob(&fakeChecker{}, &fakeTenantSource{err: errors.New("db down")}, testLogger())
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error when tenants cannot be listed")
	}
}
