package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/pallet-works/stockroom-backend/pkg/enums"
)

// StockReservation is a time-bound hold of quantity units against one
// inventory item for one external order. It leaves pending exactly once,
// into confirmed, released, or expired.
type StockReservation struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID        uuid.UUID               `gorm:"column:tenant_id;type:uuid;not null;index"`
	InventoryItemID uuid.UUID               `gorm:"column:inventory_item_id;type:uuid;not null;index"`
	OrderID         string                  `gorm:"column:order_id;not null;index"`
	Qty             int                     `gorm:"column:qty;not null"`
	Status          enums.ReservationStatus `gorm:"column:status;type:reservation_status;not null;default:'pending'"`
	ExpiresAt       time.Time               `gorm:"column:expires_at;not null;index"`
	ConfirmedAt     *time.Time              `gorm:"column:confirmed_at"`
	ReleasedAt      *time.Time              `gorm:"column:released_at"`
	CreatedAt       time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// IsExpired reports whether the hold has outlived its window at the given instant.
func (r StockReservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
