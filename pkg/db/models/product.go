package models

import (
	"time"

	"github.com/google/uuid"
)

// Product is the read-side slice of the catalog this engine depends on. The
// catalog itself is owned elsewhere; the engine only reads reorder defaults.
type Product struct {
	ID                  uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID            uuid.UUID `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:idx_products_tenant_sku"`
	SKU                 string    `gorm:"column:sku;not null;uniqueIndex:idx_products_tenant_sku"`
	Name                string    `gorm:"column:name;not null"`
	DefaultReorderPoint int       `gorm:"column:default_reorder_point;not null;default:0"`
	DefaultReorderQty   int       `gorm:"column:default_reorder_qty;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
