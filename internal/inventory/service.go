package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/pallet-works/stockroom-backend/pkg/db/models"
	"github.com/pallet-works/stockroom-backend/pkg/enums"
	pkgerrors "github.com/pallet-works/stockroom-backend/pkg/errors"
	"github.com/pallet-works/stockroom-backend/pkg/lock"
	"github.com/pallet-works/stockroom-backend/pkg/logger"
)

const (
	defaultReservationTTL = 30 * time.Minute
	defaultExtendMargin   = 2 * time.Second
	defaultActor          = "system"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type leaseLocker interface {
	Acquire(ctx context.Context, resource string) (*lock.Lease, error)
	AcquireMany(ctx context.Context, resources []string) (*lock.MultiLease, error)
}

// Service orchestrates every stock mutation: lease, re-read, validate,
// counter write plus movement in one transaction, release.
type Service interface {
	Reserve(ctx context.Context, input ReserveInput) (*ReserveResult, error)
	ConfirmReservation(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error)
	ReleaseReservation(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error)
	AdjustStock(ctx context.Context, input AdjustInput) (*models.InventoryItem, error)
	TransferStock(ctx context.Context, input TransferInput) (*TransferResult, error)
	ReceiveStock(ctx context.Context, input ReceiveInput) (*models.InventoryItem, error)
	StockLevels(ctx context.Context, tenantID, productID uuid.UUID) ([]StockLevel, error)
	CheckLowStock(ctx context.Context, tenantID uuid.UUID) ([]LowStockItem, error)
	CleanupExpiredReservations(ctx context.Context, tenantID *uuid.UUID, batchSize int) (int, error)
}

// ReserveInput requests a hold of Qty units for OrderID.
type ReserveInput struct {
	InventoryItemID uuid.UUID
	OrderID         string
	Qty             int
	TTL             time.Duration // zero means the configured default
	Actor           string
}

// ReserveResult returns the created hold and the item state after it.
type ReserveResult struct {
	Reservation *models.StockReservation
	Item        *models.InventoryItem
}

// AdjustInput applies a signed correction to available stock.
type AdjustInput struct {
	InventoryItemID uuid.UUID
	Delta           int
	Notes           *string
	Actor           string
}

// TransferInput moves Qty units between two items of the same tenant.
type TransferInput struct {
	FromItemID uuid.UUID
	ToItemID   uuid.UUID
	Qty        int
	Actor      string
}

// TransferResult returns both items after the move.
type TransferResult struct {
	From *models.InventoryItem
	To   *models.InventoryItem
}

// ReceiveInput books incoming stock against a natural key, creating the stock
// record on first touch.
type ReceiveInput struct {
	Key           ItemKey
	Qty           int
	UnitCost      *decimal.Decimal
	ReferenceType *enums.ReferenceType
	ReferenceID   *string
	Actor         string
}

// LowStockItem flags an item whose net quantity fell under its threshold.
type LowStockItem struct {
	Item                  models.InventoryItem
	EffectiveReorderPoint int
	Net                   int
}

// Params configure the inventory service.
type Params struct {
	Tx             txRunner
	Repo           Repository
	Locker         leaseLocker
	Logger         *logger.Logger
	ReservationTTL time.Duration
	ExtendMargin   time.Duration
}

type service struct {
	tx             txRunner
	repo           Repository
	locker         leaseLocker
	logg           *logger.Logger
	reservationTTL time.Duration
	extendMargin   time.Duration
	now            func() time.Time
}

// NewService builds the inventory service.
func NewService(params Params) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("lease locker required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.ReservationTTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	margin := params.ExtendMargin
	if margin <= 0 {
		margin = defaultExtendMargin
	}
	return &service{
		tx:             params.Tx,
		repo:           params.Repo,
		locker:         params.Locker,
		logg:           params.Logger,
		reservationTTL: ttl,
		extendMargin:   margin,
		now:            time.Now,
	}, nil
}

func (s *service) Reserve(ctx context.Context, input ReserveInput) (*ReserveResult, error) {
	if input.InventoryItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "inventory item id required")
	}
	if input.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reserve quantity must be positive")
	}

	lease, err := s.locker.Acquire(ctx, input.InventoryItemID.String())
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(ctx, lease)

	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.reservationTTL
	}

	var result *ReserveResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		item, err := repo.FindItemByID(ctx, input.InventoryItemID)
		if err != nil {
			return itemLookupError(err, input.InventoryItemID)
		}
		if item.Net() < input.Qty {
			return insufficientStockError(item.ID, input.Qty, item.AvailableQty, item.ReservedQty)
		}

		now := s.now().UTC()
		reservation := &models.StockReservation{
			TenantID:        item.TenantID,
			InventoryItemID: item.ID,
			OrderID:         input.OrderID,
			Qty:             input.Qty,
			Status:          enums.ReservationStatusPending,
			ExpiresAt:       now.Add(ttl),
		}
		if err := repo.CreateReservation(ctx, reservation); err != nil {
			return err
		}

		if err := s.applyGuarded(ctx, repo, item, map[string]any{
			"reserved_qty": item.ReservedQty + input.Qty,
		}); err != nil {
			return err
		}
		item.ReservedQty += input.Qty

		refType := enums.ReferenceTypeOrder
		refID := input.OrderID
		movement := &models.StockMovement{
			TenantID:        item.TenantID,
			InventoryItemID: item.ID,
			Type:            enums.MovementTypeSale,
			Qty:             -input.Qty,
			QtyBefore:       item.AvailableQty,
			QtyAfter:        item.AvailableQty,
			ReferenceType:   &refType,
			ReferenceID:     &refID,
			Actor:           actorOrDefault(input.Actor),
		}
		if err := repo.CreateMovement(ctx, movement); err != nil {
			return err
		}

		result = &ReserveResult{Reservation: reservation, Item: item}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ConfirmReservation(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error) {
	if reservationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id required")
	}

	reservation, err := s.repo.FindReservation(ctx, reservationID)
	if err != nil {
		return nil, reservationLookupError(err, reservationID)
	}

	lease, err := s.locker.Acquire(ctx, reservation.InventoryItemID.String())
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(ctx, lease)

	var confirmed *models.StockReservation
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		now := s.now().UTC()
		transitioned, err := repo.TransitionReservation(ctx, reservationID, enums.ReservationStatusConfirmed, now)
		if err != nil {
			return err
		}
		if !transitioned {
			current, err := repo.FindReservation(ctx, reservationID)
			if err != nil {
				return reservationLookupError(err, reservationID)
			}
			return pkgerrors.Newf(pkgerrors.CodeStateConflict,
				"reservation is %s, only pending reservations can be confirmed", current.Status)
		}

		confirmed, err = repo.FindReservation(ctx, reservationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

func (s *service) ReleaseReservation(ctx context.Context, reservationID uuid.UUID) (*models.StockReservation, error) {
	if reservationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id required")
	}

	reservation, err := s.repo.FindReservation(ctx, reservationID)
	if err != nil {
		return nil, reservationLookupError(err, reservationID)
	}

	lease, err := s.locker.Acquire(ctx, reservation.InventoryItemID.String())
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(ctx, lease)

	var released *models.StockReservation
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		released, err = s.releaseInTx(ctx, repo, reservationID, enums.ReservationStatusReleased, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// releaseInTx runs the shared pending-terminal path for release and expiry.
// When the guarded transition matches no row the hold already terminated and
// the counters are left untouched; that is what makes the path idempotent.
func (s *service) releaseInTx(ctx context.Context, repo Repository, reservationID uuid.UUID, to enums.ReservationStatus, notes *string) (*models.StockReservation, error) {
	now := s.now().UTC()
	transitioned, err := repo.TransitionReservation(ctx, reservationID, to, now)
	if err != nil {
		return nil, err
	}
	reservation, err := repo.FindReservation(ctx, reservationID)
	if err != nil {
		return nil, reservationLookupError(err, reservationID)
	}
	if !transitioned {
		return reservation, nil
	}

	item, err := repo.FindItemByID(ctx, reservation.InventoryItemID)
	if err != nil {
		return nil, itemLookupError(err, reservation.InventoryItemID)
	}

	newReserved := item.ReservedQty - reservation.Qty
	if newReserved < 0 {
		newReserved = 0
	}
	if err := s.applyGuarded(ctx, repo, item, map[string]any{
		"reserved_qty": newReserved,
	}); err != nil {
		return nil, err
	}
	item.ReservedQty = newReserved

	refType := enums.ReferenceTypeReservation
	refID := reservation.ID.String()
	movement := &models.StockMovement{
		TenantID:        item.TenantID,
		InventoryItemID: item.ID,
		Type:            enums.MovementTypeReturn,
		Qty:             reservation.Qty,
		QtyBefore:       item.AvailableQty,
		QtyAfter:        item.AvailableQty,
		ReferenceType:   &refType,
		ReferenceID:     &refID,
		Notes:           notes,
		Actor:           defaultActor,
	}
	if err := repo.CreateMovement(ctx, movement); err != nil {
		return nil, err
	}
	return reservation, nil
}

func (s *service) AdjustStock(ctx context.Context, input AdjustInput) (*models.InventoryItem, error) {
	if input.InventoryItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "inventory item id required")
	}
	if input.Delta == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment delta must be non-zero")
	}

	lease, err := s.locker.Acquire(ctx, input.InventoryItemID.String())
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(ctx, lease)

	var adjusted *models.InventoryItem
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		item, err := repo.FindItemByID(ctx, input.InventoryItemID)
		if err != nil {
			return itemLookupError(err, input.InventoryItemID)
		}

		newAvailable := item.AvailableQty + input.Delta
		if newAvailable < 0 {
			return pkgerrors.Newf(pkgerrors.CodeValidation,
				"adjustment of %d would leave available at %d", input.Delta, newAvailable)
		}
		if newAvailable < item.ReservedQty {
			return pkgerrors.Newf(pkgerrors.CodeValidation,
				"adjustment of %d would leave available %d below reserved %d",
				input.Delta, newAvailable, item.ReservedQty)
		}

		before := item.AvailableQty
		if err := s.applyGuarded(ctx, repo, item, map[string]any{
			"available_qty": newAvailable,
		}); err != nil {
			return err
		}
		item.AvailableQty = newAvailable

		refType := enums.ReferenceTypeManual
		movement := &models.StockMovement{
			TenantID:        item.TenantID,
			InventoryItemID: item.ID,
			Type:            enums.MovementTypeAdjustment,
			Qty:             input.Delta,
			QtyBefore:       before,
			QtyAfter:        newAvailable,
			ReferenceType:   &refType,
			Notes:           input.Notes,
			Actor:           actorOrDefault(input.Actor),
		}
		if err := repo.CreateMovement(ctx, movement); err != nil {
			return err
		}

		adjusted = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return adjusted, nil
}

func (s *service) TransferStock(ctx context.Context, input TransferInput) (*TransferResult, error) {
	if input.FromItemID == uuid.Nil || input.ToItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "both stock record ids are required")
	}
	if input.FromItemID == input.ToItemID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cannot transfer a stock record onto itself")
	}
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer quantity must be positive")
	}

	multi, err := s.locker.AcquireMany(ctx, []string{input.FromItemID.String(), input.ToItemID.String()})
	if err != nil {
		return nil, err
	}
	defer s.releaseMultiLease(ctx, multi)

	var result *TransferResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		from, err := repo.FindItemByID(ctx, input.FromItemID)
		if err != nil {
			return itemLookupError(err, input.FromItemID)
		}
		to, err := repo.FindItemByID(ctx, input.ToItemID)
		if err != nil {
			return itemLookupError(err, input.ToItemID)
		}
		if from.TenantID != to.TenantID {
			return pkgerrors.New(pkgerrors.CodeValidation, "transfer endpoints belong to different tenants")
		}
		if from.Net() < input.Qty {
			return insufficientStockError(from.ID, input.Qty, from.AvailableQty, from.ReservedQty)
		}

		fromBefore := from.AvailableQty
		if err := s.applyGuarded(ctx, repo, from, map[string]any{
			"available_qty": from.AvailableQty - input.Qty,
		}); err != nil {
			return err
		}
		from.AvailableQty -= input.Qty

		s.extendIfExpiring(ctx, multi)

		toBefore := to.AvailableQty
		if err := s.applyGuarded(ctx, repo, to, map[string]any{
			"available_qty": to.AvailableQty + input.Qty,
		}); err != nil {
			return err
		}
		to.AvailableQty += input.Qty

		refType := enums.ReferenceTypeTransfer
		outRef := to.ID.String()
		inRef := from.ID.String()
		actor := actorOrDefault(input.Actor)
		movements := []*models.StockMovement{
			{
				TenantID:        from.TenantID,
				InventoryItemID: from.ID,
				Type:            enums.MovementTypeTransferOut,
				Qty:             -input.Qty,
				QtyBefore:       fromBefore,
				QtyAfter:        from.AvailableQty,
				ReferenceType:   &refType,
				ReferenceID:     &outRef,
				Actor:           actor,
			},
			{
				TenantID:        to.TenantID,
				InventoryItemID: to.ID,
				Type:            enums.MovementTypeTransferIn,
				Qty:             input.Qty,
				QtyBefore:       toBefore,
				QtyAfter:        to.AvailableQty,
				ReferenceType:   &refType,
				ReferenceID:     &inRef,
				Actor:           actor,
			},
		}
		for _, movement := range movements {
			if err := repo.CreateMovement(ctx, movement); err != nil {
				return err
			}
		}

		result = &TransferResult{From: from, To: to}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) ReceiveStock(ctx context.Context, input ReceiveInput) (*models.InventoryItem, error) {
	if input.Key.TenantID == uuid.Nil || input.Key.ProductID == uuid.Nil || input.Key.LocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant, product, and location ids are required")
	}
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "receive quantity must be positive")
	}

	item, err := s.ensureItem(ctx, input.Key)
	if err != nil {
		return nil, err
	}

	lease, err := s.locker.Acquire(ctx, item.ID.String())
	if err != nil {
		return nil, err
	}
	defer s.releaseLease(ctx, lease)

	var received *models.InventoryItem
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		row, err := repo.FindItemByID(ctx, item.ID)
		if err != nil {
			return itemLookupError(err, item.ID)
		}

		before := row.AvailableQty
		updates := map[string]any{
			"available_qty": row.AvailableQty + input.Qty,
		}
		if input.UnitCost != nil {
			updates["unit_cost"] = *input.UnitCost
		}
		if err := s.applyGuarded(ctx, repo, row, updates); err != nil {
			return err
		}
		row.AvailableQty += input.Qty
		if input.UnitCost != nil {
			row.UnitCost = *input.UnitCost
		}

		refType := input.ReferenceType
		if refType == nil {
			purchase := enums.ReferenceTypePurchaseOrder
			refType = &purchase
		}
		movement := &models.StockMovement{
			TenantID:        row.TenantID,
			InventoryItemID: row.ID,
			Type:            enums.MovementTypePurchase,
			Qty:             input.Qty,
			QtyBefore:       before,
			QtyAfter:        row.AvailableQty,
			ReferenceType:   refType,
			ReferenceID:     input.ReferenceID,
			Actor:           actorOrDefault(input.Actor),
		}
		if err := repo.CreateMovement(ctx, movement); err != nil {
			return err
		}

		received = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return received, nil
}

func (s *service) StockLevels(ctx context.Context, tenantID, productID uuid.UUID) ([]StockLevel, error) {
	if tenantID == uuid.Nil || productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant and product ids are required")
	}
	return s.repo.StockLevels(ctx, tenantID, productID)
}

func (s *service) CheckLowStock(ctx context.Context, tenantID uuid.UUID) ([]LowStockItem, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}

	rows, err := s.repo.ItemsWithReorderDefaults(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var low []LowStockItem
	for _, row := range rows {
		if !row.IsLowStock(row.DefaultReorderPoint) {
			continue
		}
		threshold := row.ReorderPoint
		if threshold == 0 {
			threshold = row.DefaultReorderPoint
		}
		low = append(low, LowStockItem{
			Item:                  row.InventoryItem,
			EffectiveReorderPoint: threshold,
			Net:                   row.Net(),
		})
	}
	return low, nil
}

func (s *service) CleanupExpiredReservations(ctx context.Context, tenantID *uuid.UUID, batchSize int) (int, error) {
	expired, err := s.repo.FindExpiredPending(ctx, tenantID, s.now().UTC(), batchSize)
	if err != nil {
		return 0, err
	}

	var errs error
	restored := 0
	notes := "reservation expired"
	for _, reservation := range expired {
		lease, err := s.locker.Acquire(ctx, reservation.InventoryItemID.String())
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("lease for reservation %s: %w", reservation.ID, err))
			continue
		}

		reservationID := reservation.ID
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := s.releaseInTx(ctx, s.repo.WithTx(tx), reservationID, enums.ReservationStatusExpired, &notes)
			return err
		})
		s.releaseLease(ctx, lease)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire reservation %s: %w", reservationID, err))
			continue
		}
		restored++
	}
	return restored, errs
}

// ensureItem looks up the stock record for the natural key, creating a zeroed
// record on first touch. A create that loses the unique-index race falls back
// to re-reading the winner's row.
func (s *service) ensureItem(ctx context.Context, key ItemKey) (*models.InventoryItem, error) {
	item, err := s.repo.FindItemByKey(ctx, key)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := &models.InventoryItem{
		TenantID:   key.TenantID,
		ProductID:  key.ProductID,
		VariantID:  key.VariantID,
		LocationID: key.LocationID,
		UnitCost:   decimal.Zero,
	}
	if createErr := s.repo.CreateItem(ctx, fresh); createErr != nil {
		item, err = s.repo.FindItemByKey(ctx, key)
		if err != nil {
			return nil, createErr
		}
		return item, nil
	}
	return fresh, nil
}

// applyGuarded funnels every counter write through the version guard and maps
// a zero-row update onto the optimistic-lock error. The lease should make the
// conflict unreachable; when it fires anyway it is a defect signal worth a log.
func (s *service) applyGuarded(ctx context.Context, repo Repository, item *models.InventoryItem, updates map[string]any) error {
	err := repo.UpdateItemGuarded(ctx, item, updates)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrVersionConflict) {
		logCtx := s.logg.WithItemID(ctx, item.ID.String())
		s.logg.Warn(logCtx, "version conflict under a held lease; writer bypassed the lock or the lease TTL lapsed")
		return versionConflictError(item.ID)
	}
	return err
}

func (s *service) releaseLease(ctx context.Context, lease *lock.Lease) {
	if err := lease.Release(ctx); err != nil {
		s.logg.Error(ctx, "failed to release stock lease", err)
	}
}

func (s *service) releaseMultiLease(ctx context.Context, multi *lock.MultiLease) {
	if err := multi.Release(ctx); err != nil {
		s.logg.Error(ctx, "failed to release stock leases", err)
	}
}

// extendIfExpiring renews both leases mid-transfer when the remaining window
// dips under the safety margin.
func (s *service) extendIfExpiring(ctx context.Context, multi *lock.MultiLease) {
	now := s.now()
	for _, lease := range multi.Leases() {
		if lease.Remaining(now) > s.extendMargin {
			continue
		}
		if err := lease.Extend(ctx, 0); err != nil {
			logCtx := s.logg.WithLockKey(ctx, lease.Resource())
			s.logg.Warn(logCtx, "could not extend lease nearing expiry")
		}
	}
}

func actorOrDefault(actor string) string {
	if actor == "" {
		return defaultActor
	}
	return actor
}

func itemLookupError(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "inventory item %s not found", id)
	}
	return err
}

func reservationLookupError(err error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "reservation %s not found", id)
	}
	return err
}
