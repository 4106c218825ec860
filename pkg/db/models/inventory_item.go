package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InventoryItem holds the authoritative counters for one
// (tenant, product, variant, location) triple. It is the only row in the system
// subject to concurrent in-place mutation; every write must hold the item lease
// and pass the version guard.
type InventoryItem struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID       uuid.UUID       `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:idx_inventory_items_key"`
	ProductID      uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:idx_inventory_items_key"`
	VariantID      *uuid.UUID      `gorm:"column:variant_id;type:uuid;uniqueIndex:idx_inventory_items_key"`
	LocationID     uuid.UUID       `gorm:"column:location_id;type:uuid;not null;uniqueIndex:idx_inventory_items_key"`
	AvailableQty   int             `gorm:"column:available_qty;not null;default:0"`
	ReservedQty    int             `gorm:"column:reserved_qty;not null;default:0"`
	ReorderPoint   int             `gorm:"column:reorder_point;not null;default:0"`
	ReorderQty     int             `gorm:"column:reorder_qty;not null;default:0"`
	UnitCost       decimal.Decimal `gorm:"column:unit_cost;type:decimal(18,4);not null;default:0"`
	Version        int64           `gorm:"column:version;not null;default:0"`
	LastMovementAt *time.Time      `gorm:"column:last_movement_at"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// Net is the quantity actually promisable to a new order.
func (i InventoryItem) Net() int {
	return i.AvailableQty - i.ReservedQty
}

// IsLowStock compares net quantity against the item's reorder point, falling
// back to the supplied product-level default when the item has none.
func (i InventoryItem) IsLowStock(fallbackReorderPoint int) bool {
	threshold := i.ReorderPoint
	if threshold == 0 {
		threshold = fallbackReorderPoint
	}
	return i.Net() < threshold
}
