package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pallet-works/stockroom-backend/pkg/enums"
)

// Location is a stock-holding place: a warehouse, a storefront, or a virtual bucket.
type Location struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID  uuid.UUID          `gorm:"column:tenant_id;type:uuid;not null;uniqueIndex:idx_locations_tenant_code"`
	Code      string             `gorm:"column:code;not null;uniqueIndex:idx_locations_tenant_code"`
	Name      string             `gorm:"column:name;not null"`
	Type      enums.LocationType `gorm:"column:type;type:location_type;not null;default:'warehouse'"`
	IsDefault bool               `gorm:"column:is_default;not null;default:false"`
	IsActive  bool               `gorm:"column:is_active;not null;default:true"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
