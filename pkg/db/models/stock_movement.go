package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pallet-works/stockroom-backend/pkg/enums"
)

// ErrMovementImmutable is returned when anything tries to rewrite audit history.
var ErrMovementImmutable = errors.New("stock movements are append-only")

// StockMovement is the immutable audit record for one change to an inventory
// item's available quantity. QtyBefore/QtyAfter snapshot the available counter
// around the change. Rows are insert-only; the gorm hooks below reject any
// update or delete that reaches the ORM.
type StockMovement struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID        uuid.UUID            `gorm:"column:tenant_id;type:uuid;not null;index"`
	InventoryItemID uuid.UUID            `gorm:"column:inventory_item_id;type:uuid;not null;index"`
	Type            enums.MovementType   `gorm:"column:type;type:movement_type;not null"`
	Qty             int                  `gorm:"column:qty;not null"`
	QtyBefore       int                  `gorm:"column:qty_before;not null"`
	QtyAfter        int                  `gorm:"column:qty_after;not null"`
	ReferenceType   *enums.ReferenceType `gorm:"column:reference_type;type:reference_type"`
	ReferenceID     *string              `gorm:"column:reference_id"`
	Notes           *string              `gorm:"column:notes"`
	Actor           string               `gorm:"column:actor;not null;default:'system'"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
}

// BeforeUpdate blocks updates; movements are append-only.
func (StockMovement) BeforeUpdate(*gorm.DB) error {
	return ErrMovementImmutable
}

// BeforeDelete blocks deletes; movements are append-only.
func (StockMovement) BeforeDelete(*gorm.DB) error {
	return ErrMovementImmutable
}
