package locations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pallet-works/stockroom-backend/pkg/db/models"
)

// Repository persists stock-holding locations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, location *models.Location) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Location, error)
	FindByCode(ctx context.Context, tenantID uuid.UUID, code string) (*models.Location, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]models.Location, error)
	Update(ctx context.Context, location *models.Location) error
	ClearDefault(ctx context.Context, tenantID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a location repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, location *models.Location) error {
	return r.db.WithContext(ctx).Create(location).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	var location models.Location
	if err := r.db.WithContext(ctx).First(&location, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *repository) FindByCode(ctx context.Context, tenantID uuid.UUID, code string) (*models.Location, error) {
	var location models.Location
	err := r.db.WithContext(ctx).
		First(&location, "tenant_id = ? AND code = ?", tenantID, code).Error
	if err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *repository) ListByTenant(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]models.Location, error) {
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}

	var locations []models.Location
	if err := query.Order("code ASC").Find(&locations).Error; err != nil {
		return nil, err
	}
	return locations, nil
}

func (r *repository) Update(ctx context.Context, location *models.Location) error {
	return r.db.WithContext(ctx).Save(location).Error
}

// ClearDefault drops the default flag across the tenant so a new default can
// be promoted without ever having two.
func (r *repository) ClearDefault(ctx context.Context, tenantID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Location{}).
		Where("tenant_id = ? AND is_default = ?", tenantID, true).
		Update("is_default", false).Error
}
