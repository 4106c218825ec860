package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pallet-works/stockroom-backend/pkg/db/models"
	"github.com/pallet-works/stockroom-backend/pkg/enums"
)

// ItemKey is the natural key of one stock record.
type ItemKey struct {
	TenantID   uuid.UUID
	ProductID  uuid.UUID
	VariantID  *uuid.UUID
	LocationID uuid.UUID
}

// StockLevel aggregates one item's counters for the per-location view.
type StockLevel struct {
	InventoryItemID uuid.UUID `json:"inventory_item_id"`
	LocationID      uuid.UUID `json:"location_id"`
	LocationCode    string    `json:"location_code"`
	Available       int       `json:"available"`
	Reserved        int       `json:"reserved"`
	Net             int       `json:"net"`
}

// ItemWithReorderDefault pairs an item with its product's fallback threshold.
type ItemWithReorderDefault struct {
	models.InventoryItem
	DefaultReorderPoint int `gorm:"column:default_reorder_point"`
}

// Repository persists stock records, reservations, and movements. Movements
// are insert-only; reservations leave pending through exactly one guarded
// transition; item counter writes carry a version guard.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindItemByID(ctx context.Context, id uuid.UUID) (*models.InventoryItem, error)
	FindItemByKey(ctx context.Context, key ItemKey) (*models.InventoryItem, error)
	CreateItem(ctx context.Context, item *models.InventoryItem) error
	UpdateItemGuarded(ctx context.Context, item *models.InventoryItem, updates map[string]any) error
	ItemsWithReorderDefaults(ctx context.Context, tenantID uuid.UUID) ([]ItemWithReorderDefault, error)
	StockLevels(ctx context.Context, tenantID, productID uuid.UUID) ([]StockLevel, error)
	TenantIDs(ctx context.Context) ([]uuid.UUID, error)

	CreateMovement(ctx context.Context, movement *models.StockMovement) error
	ListMovements(ctx context.Context, itemID uuid.UUID, limit int) ([]models.StockMovement, error)

	CreateReservation(ctx context.Context, reservation *models.StockReservation) error
	FindReservation(ctx context.Context, id uuid.UUID) (*models.StockReservation, error)
	TransitionReservation(ctx context.Context, id uuid.UUID, to enums.ReservationStatus, at time.Time) (bool, error)
	FindExpiredPending(ctx context.Context, tenantID *uuid.UUID, cutoff time.Time, limit int) ([]models.StockReservation, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an inventory repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindItemByID(ctx context.Context, id uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := r.db.WithContext(ctx).First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) FindItemByKey(ctx context.Context, key ItemKey) (*models.InventoryItem, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ? AND product_id = ? AND location_id = ?", key.TenantID, key.ProductID, key.LocationID)
	if key.VariantID != nil {
		query = query.Where("variant_id = ?", *key.VariantID)
	} else {
		query = query.Where("variant_id IS NULL")
	}

	var item models.InventoryItem
	if err := query.First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) CreateItem(ctx context.Context, item *models.InventoryItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// UpdateItemGuarded performs the conditional counter write. The WHERE clause
// pins the version read under the lease; zero affected rows means the row
// moved and the caller must treat the operation as lost.
func (r *repository) UpdateItemGuarded(ctx context.Context, item *models.InventoryItem, updates map[string]any) error {
	if item == nil {
		return errors.New("inventory item required")
	}
	payload := make(map[string]any, len(updates)+2)
	for column, value := range updates {
		payload[column] = value
	}
	payload["version"] = gorm.Expr("version + 1")
	payload["last_movement_at"] = time.Now().UTC()

	res := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("id = ? AND version = ?", item.ID, item.Version).
		Updates(payload)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	item.Version++
	return nil
}

func (r *repository) ItemsWithReorderDefaults(ctx context.Context, tenantID uuid.UUID) ([]ItemWithReorderDefault, error) {
	var rows []ItemWithReorderDefault
	err := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Select("inventory_items.*, products.default_reorder_point AS default_reorder_point").
		Joins("JOIN products ON products.id = inventory_items.product_id").
		Where("inventory_items.tenant_id = ?", tenantID).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) StockLevels(ctx context.Context, tenantID, productID uuid.UUID) ([]StockLevel, error) {
	var rows []StockLevel
	err := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Select(`inventory_items.id AS inventory_item_id,
			inventory_items.location_id AS location_id,
			locations.code AS location_code,
			inventory_items.available_qty AS available,
			inventory_items.reserved_qty AS reserved,
			inventory_items.available_qty - inventory_items.reserved_qty AS net`).
		Joins("JOIN locations ON locations.id = inventory_items.location_id").
		Where("inventory_items.tenant_id = ? AND inventory_items.product_id = ?", tenantID, productID).
		Order("locations.code ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) TenantIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Distinct("tenant_id").
		Order("tenant_id ASC").
		Pluck("tenant_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repository) CreateMovement(ctx context.Context, movement *models.StockMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

func (r *repository) ListMovements(ctx context.Context, itemID uuid.UUID, limit int) ([]models.StockMovement, error) {
	if limit <= 0 {
		limit = 100
	}
	var movements []models.StockMovement
	err := r.db.WithContext(ctx).
		Where("inventory_item_id = ?", itemID).
		Order("created_at DESC").
		Limit(limit).
		Find(&movements).Error
	if err != nil {
		return nil, err
	}
	return movements, nil
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.StockReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) FindReservation(ctx context.Context, id uuid.UUID) (*models.StockReservation, error) {
	var reservation models.StockReservation
	if err := r.db.WithContext(ctx).First(&reservation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// TransitionReservation moves a pending reservation into a terminal status.
// The status guard in the WHERE clause makes the transition single-shot: a
// second caller matches zero rows and learns the hold already terminated.
func (r *repository) TransitionReservation(ctx context.Context, id uuid.UUID, to enums.ReservationStatus, at time.Time) (bool, error) {
	if !to.IsValid() || !to.IsTerminal() {
		return false, errors.New("reservation transitions must target a terminal status")
	}

	updates := map[string]any{"status": to, "updated_at": at}
	switch to {
	case enums.ReservationStatusConfirmed:
		updates["confirmed_at"] = at
	case enums.ReservationStatusReleased, enums.ReservationStatusExpired:
		updates["released_at"] = at
	}

	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND status = ?", id, enums.ReservationStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) FindExpiredPending(ctx context.Context, tenantID *uuid.UUID, cutoff time.Time, limit int) ([]models.StockReservation, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", enums.ReservationStatusPending, cutoff).
		Order("expires_at ASC").
		Limit(limit)
	if tenantID != nil {
		query = query.Where("tenant_id = ?", *tenantID)
	}

	var reservations []models.StockReservation
	if err := query.Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}
