package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pallet-works/stockroom-backend/internal/inventory"
	"github.com/pallet-works/stockroom-backend/pkg/logger"
)

type lowStockChecker interface {
	CheckLowStock(ctx context.Context, tenantID uuid.UUID) ([]inventory.LowStockItem, error)
}

type tenantSource interface {
	TenantIDs(ctx context.Context) ([]uuid.UUID, error)
}

// LowStockJob scans every tenant for items under their reorder threshold and
// surfaces them in the worker log for downstream alerting.
type LowStockJob struct {
	checker lowStockChecker
	tenants tenantSource
	logg    *logger.Logger
}

// NewLowStockJob builds the low-stock scan job.
func NewLowStockJob(checker lowStockChecker, tenants tenantSource, logg *logger.Logger) (*LowStockJob, error) {
	if checker == nil {
		return nil, fmt.Errorf("low stock checker required")
	}
	if tenants == nil {
		return nil, fmt.Errorf("tenant source required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &LowStockJob{checker: checker, tenants: tenants, logg: logg}, nil
}

func (j *LowStockJob) Name() string { return "low_stock_scan" }

func (j *LowStockJob) Run(ctx context.Context) error {
	tenantIDs, err := j.tenants.TenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	for _, tenantID := range tenantIDs {
		tenantCtx := j.logg.WithTenantID(ctx, tenantID.String())
		low, err := j.checker.CheckLowStock(ctx, tenantID)
		if err != nil {
			j.logg.Error(tenantCtx, "low stock scan failed", err)
			continue
		}
		for _, entry := range low {
			itemCtx := j.logg.WithItemID(tenantCtx, entry.Item.ID.String())
			itemCtx = j.logg.WithFields(itemCtx, map[string]any{
				"net":           entry.Net,
				"reorder_point": entry.EffectiveReorderPoint,
				"reorder_qty":   entry.Item.ReorderQty,
			})
			j.logg.Warn(itemCtx, "stock below reorder point")
		}
	}
	return nil
}
