package locations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pallet-works/stockroom-backend/pkg/db"
	"github.com/pallet-works/stockroom-backend/pkg/db/models"
	"github.com/pallet-works/stockroom-backend/pkg/enums"
	pkgerrors "github.com/pallet-works/stockroom-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreateLocationInput describes a new stock-holding location.
type CreateLocationInput struct {
	TenantID  uuid.UUID
	Code      string
	Name      string
	Type      enums.LocationType
	IsDefault bool
}

// Service manages the locations stock records hang off.
type Service interface {
	Create(ctx context.Context, input CreateLocationInput) (*models.Location, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error)
	List(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]models.Location, error)
	SetDefault(ctx context.Context, tenantID, locationID uuid.UUID) (*models.Location, error)
	Deactivate(ctx context.Context, tenantID, locationID uuid.UUID) (*models.Location, error)
}

type service struct {
	tx   txRunner
	repo Repository
}

// NewService builds the locations service.
func NewService(tx txRunner, repo Repository) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("locations repository required")
	}
	return &service{tx: tx, repo: repo}, nil
}

func (s *service) Create(ctx context.Context, input CreateLocationInput) (*models.Location, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	code := strings.TrimSpace(strings.ToUpper(input.Code))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location code required")
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "location name required")
	}
	locType := input.Type
	if locType == "" {
		locType = enums.LocationTypeWarehouse
	}
	if !locType.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "unknown location type %q", input.Type)
	}

	location := &models.Location{
		TenantID:  input.TenantID,
		Code:      code,
		Name:      strings.TrimSpace(input.Name),
		Type:      locType,
		IsDefault: input.IsDefault,
		IsActive:  true,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if input.IsDefault {
			if err := repo.ClearDefault(ctx, input.TenantID); err != nil {
				return err
			}
		}
		if err := repo.Create(ctx, location); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Newf(pkgerrors.CodeConflict, "location code %s already exists", code)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return location, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	location, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, id)
	}
	return location, nil
}

func (s *service) List(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]models.Location, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	return s.repo.ListByTenant(ctx, tenantID, activeOnly)
}

func (s *service) SetDefault(ctx context.Context, tenantID, locationID uuid.UUID) (*models.Location, error) {
	var promoted *models.Location
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		location, err := repo.FindByID(ctx, locationID)
		if err != nil {
			return lookupError(err, locationID)
		}
		if location.TenantID != tenantID {
			return pkgerrors.Newf(pkgerrors.CodeNotFound, "location %s not found", locationID)
		}
		if !location.IsActive {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "inactive locations cannot be the default")
		}

		if err := repo.ClearDefault(ctx, tenantID); err != nil {
			return err
		}
		location.IsDefault = true
		if err := repo.Update(ctx, location); err != nil {
			return err
		}
		promoted = location
		return nil
	})
	if err != nil {
		return nil, err
	}
	return promoted, nil
}

func (s *service) Deactivate(ctx context.Context, tenantID, locationID uuid.UUID) (*models.Location, error) {
	var deactivated *models.Location
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		location, err := repo.FindByID(ctx, locationID)
		if err != nil {
			return lookupError(err, locationID)
		}
		if location.TenantID != tenantID {
			return pkgerrors.Newf(pkgerrors.CodeNotFound, "location %s not found", locationID)
		}
		if location.IsDefault {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "the default location cannot be deactivated")
		}

		location.IsActive = false
		if err := repo.Update(ctx, location); err != nil {
			return err
		}
		deactivated = location
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deactivated, nil
}

func lookupError(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "location %s not found", id)
	}
	return err
}
