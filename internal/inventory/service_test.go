package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/pallet-works/stockroom-backend/pkg/db/models"
	"github.com/pallet-works/stockroom-backend/pkg/enums"
	pkgerrors "github.com/pallet-works/stockroom-backend/pkg/errors"
)

func TestReserveThenConfirm(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, store := newTestService(t, db)
	ctx := context.Background()
	item := seedItem(t, db, 100, 0)

	result, err := svc.Reserve(ctx, ReserveInput{
		InventoryItemID: item.ID,
		OrderID:         "order-1",
		Qty:             10,
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if result.Reservation.Status != enums.ReservationStatusPending {
		t.Fatalf("expected pending hold, got %s", result.Reservation.Status)
	}
	if result.Item.AvailableQty != 100 || result.Item.ReservedQty != 10 {
		t.Fatalf("expected available=100 reserved=10, got %d/%d", result.Item.AvailableQty, result.Item.ReservedQty)
	}
	if store.held("test:lock:" + item.ID.String()) {
		t.Fatal("lease must be released after the operation")
	}

	var movements []models.StockMovement
	if err := db.Where("inventory_item_id = ?", item.ID).Find(&movements).Error; err != nil {
		t.Fatalf("load movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected one movement, got %d", len(movements))
	}
	if movements[0].Type != enums.MovementTypeSale || movements[0].Qty != -10 {
		t.Fatalf("unexpected movement: %+v", movements[0])
	}
	if movements[0].QtyBefore != 100 || movements[0].QtyAfter != 100 {
		t.Fatalf("reserve must not move available, snapshots %d/%d", movements[0].QtyBefore, movements[0].QtyAfter)
	}

	confirmed, err := svc.ConfirmReservation(ctx, result.Reservation.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != enums.ReservationStatusConfirmed || confirmed.ConfirmedAt == nil {
		t.Fatalf("unexpected confirmed state: %+v", confirmed)
	}

	stored := reloadItem(t, db, item.ID)
	if stored.AvailableQty != 100 || stored.ReservedQty != 10 {
		t.Fatalf("confirm must not change counters, got %d/%d", stored.AvailableQty, stored.ReservedQty)
	}
}

func TestReserveRejectsOverNet(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	item := seedItem(t, db, 10, 8)

	_, err := svc.Reserve(ctx, ReserveInput{InventoryItemID: item.ID, OrderID: "order-2", Qty: 3})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	shortfall, ok := typed.Details().(StockShortfall)
	if !ok {
		t.Fatalf("expected shortfall details, got %T", typed.Details())
	}
	if shortfall.Requested != 3 || shortfall.Net != 2 {
		t.Fatalf("unexpected shortfall payload: %+v", shortfall)
	}

	stored := reloadItem(t, db, item.ID)
	if stored.ReservedQty != 8 || stored.Version != 0 {
		t.Fatalf("failed reserve must leave state untouched: %+v", stored)
	}
	var count int64
	if err := db.Model(&models.StockReservation{}).Count(&count).Error; err != nil {
		t.Fatalf("count reservations: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback of reservation row, found %d", count)
	}
}

func TestReserveExactNetBoundary(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	item := seedItem(t, db, 10, 5)

	if _, err := svc.Reserve(ctx, ReserveInput{InventoryItemID: item.ID, OrderID: "order-3", Qty: 5}); err != nil {
		t.Fatalf("reserving exactly net must succeed: %v", err)
	}
	_, err := svc.Reserve(ctx, ReserveInput{InventoryItemID: item.ID, OrderID: "order-4", Qty: 1})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock at net zero, got %v", err)
	}
}

func TestConfirmNonPendingFails(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	item := seedItem(t, db, 20, 0)

	result, err := svc.Reserve(ctx, ReserveInput{InventoryItemID: item.ID, OrderID: "order-5", Qty: 4})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := svc.ReleaseReservation(ctx, result.Reservation.ID); err != nil {
		t.Fatalf("release: %v", err)
	}

	_, err = svc.ConfirmReservation(ctx, result.Reservation.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestReleaseRestoresReservedAndIsIdempotent(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	item := seedItem(t, db, 50, 0)

	result, err := svc.Reserve(ctx, ReserveInput{InventoryItemID: item.ID, OrderID: "order-6", Qty: 7})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	released, err := svc.ReleaseReservation(ctx, result.Reservation.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != enums.ReservationStatusReleased || released.ReleasedAt == nil {
		t.Fatalf("unexpected released state: %+v", released)
	}

	stored := reloadItem(t, db, item.ID)
	if stored.ReservedQty != 0 {
		t.Fatalf("expected reserved restored to 0, got %d", stored.ReservedQty)
	}

	again, err := svc.ReleaseReservation(ctx, result.Reservation.ID)
	if err != nil {
		t.Fatalf("second release must be a no-op: %v", err)
	}
	if again.Status != enums.ReservationStatusReleased {
		t.Fatalf("unexpected status on repeat release: %s", again.Status)
	}
	if stored := reloadItem(t, db, item.ID); stored.ReservedQty != 0 {
		t.Fatalf("repeat release must not move counters, got %d", stored.ReservedQty)
	}

	var returns int64
	if err := db.Model(&models.StockMovement{}).Where("type = ?", enums.MovementTypeReturn).Count(&returns).Error; err != nil {
		t.Fatalf("count returns: %v", err)
	}
	if returns != 1 {
		t.Fatalf("expected exactly one return movement, got %d", returns)
	}
}

func TestAdjustRejectsNegativeResult(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	item := seedItem(t, db, 10, 0)

	_, err := svc.AdjustStock(ctx, AdjustInput{InventoryItemID: item.ID, Delta: -20})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if stored := reloadItem(t, db, item.ID); stored.AvailableQty != 10 || stored.Version != 0 {
		t.Fatalf("rejected adjust must leave state untouched: %+v", stored)
	}
}

func TestAdjustRejectsBelowReserved(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	item := seedItem(t, db, 100, 80)

	_, err := svc.AdjustStock(ctx, AdjustInput{InventoryItemID: item.ID, Delta: -30})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if stored := reloadItem(t, db, item.ID); stored.AvailableQty != 100 {
		t.Fatalf("rejected adjust must leave state untouched: %+v", stored)
	}
}

func TestAdjustWritesMovement(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	item := seedItem(t, db, 10, 0)

	notes := "cycle count correction"
	adjusted, err := svc.AdjustStock(ctx, AdjustInput{InventoryItemID: item.ID, Delta: 5, Notes: &notes, Actor: "counter"})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if adjusted.AvailableQty != 15 {
		t.Fatalf("expected available=15, got %d", adjusted.AvailableQty)
	}

	var movement models.StockMovement
	if err := db.Where("inventory_item_id = ?", item.ID).First(&movement).Error; err != nil {
		t.Fatalf("load movement: %v", err)
	}
	if movement.Type != enums.MovementTypeAdjustment || movement.Qty != 5 {
		t.Fatalf("unexpected movement: %+v", movement)
	}
	if movement.QtyBefore != 10 || movement.QtyAfter != 15 {
		t.Fatalf("unexpected snapshots: %d/%d", movement.QtyBefore, movement.QtyAfter)
	}
	if movement.Actor != "counter" {
		t.Fatalf("expected actor to carry through, got %s", movement.Actor)
	}
}

func TestTransferMovesStockBothWays(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, store := newTestService(t, db)
	ctx := context.Background()

	tenantID := uuid.New()
	from := &models.InventoryItem{ID: uuid.New(), TenantID: tenantID, ProductID: uuid.New(), LocationID: uuid.New(), AvailableQty: 100}
	to := &models.InventoryItem{ID: uuid.New(), TenantID: tenantID, ProductID: from.ProductID, LocationID: uuid.New(), AvailableQty: 20}
	for _, item := range []*models.InventoryItem{from, to} {
		if err := db.Create(item).Error; err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}

	result, err := svc.TransferStock(ctx, TransferInput{FromItemID: from.ID, ToItemID: to.ID, Qty: 30})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if result.From.AvailableQty != 70 || result.To.AvailableQty != 50 {
		t.Fatalf("expected 70/50 after transfer, got %d/%d", result.From.AvailableQty, result.To.AvailableQty)
	}
	if store.held("test:lock:"+from.ID.String()) || store.held("test:lock:"+to.ID.String()) {
		t.Fatal("both leases must be released after the transfer")
	}

	var out, in models.StockMovement
	if err := db.Where("inventory_item_id = ?", from.ID).First(&out).Error; err != nil {
		t.Fatalf("load outbound movement: %v", err)
	}
	if err := db.Where("inventory_item_id = ?", to.ID).First(&in).Error; err != nil {
		t.Fatalf("load inbound movement: %v", err)
	}
	if out.Type != enums.MovementTypeTransferOut || out.Qty != -30 {
		t.Fatalf("unexpected outbound movement: %+v", out)
	}
	if in.Type != enums.MovementTypeTransferIn || in.Qty != 30 {
		t.Fatalf("unexpected inbound movement: %+v", in)
	}
	if out.Qty+in.Qty != 0 {
		t.Fatal("transfer movements must sum to zero")
	}
}

func TestTransferRejectsOverNetAndCrossTenant(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()

	tenantID := uuid.New()
	from := &models.InventoryItem{ID: uuid.New(), TenantID: tenantID, ProductID: uuid.New(), LocationID: uuid.New(), AvailableQty: 10, ReservedQty: 6}
	to := &models.InventoryItem{ID: uuid.New(), TenantID: tenantID, ProductID: from.ProductID, LocationID: uuid.New()}
	foreign := &models.InventoryItem{ID: uuid.New(), TenantID: uuid.New(), ProductID: from.ProductID, LocationID: uuid.New()}
	for _, item := range []*models.InventoryItem{from, to, foreign} {
		if err := db.Create(item).Error; err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}

	_, err := svc.TransferStock(ctx, TransferInput{FromItemID: from.ID, ToItemID: to.ID, Qty: 5})
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock for net 4, got %v", err)
	}

	_, err = svc.TransferStock(ctx, TransferInput{FromItemID: from.ID, ToItemID: foreign.ID, Qty: 1})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected cross-tenant rejection, got %v", err)
	}

	if stored := reloadItem(t, db, from.ID); stored.AvailableQty != 10 {
		t.Fatalf("failed transfers must leave source untouched: %+v", stored)
	}
}

func TestReceiveCreatesItemOnFirstTouch(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()

	key := ItemKey{TenantID: uuid.New(), ProductID: uuid.New(), LocationID: uuid.New()}
	cost := decimal.NewFromFloat(12.5)
	received, err := svc.ReceiveStock(ctx, ReceiveInput{Key: key, Qty: 40, UnitCost: &cost})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if received.AvailableQty != 40 {
		t.Fatalf("expected available=40, got %d", received.AvailableQty)
	}
	if !received.UnitCost.Equal(cost) {
		t.Fatalf("expected unit cost update, got %s", received.UnitCost)
	}

	again, err := svc.ReceiveStock(ctx, ReceiveInput{Key: key, Qty: 10})
	if err != nil {
		t.Fatalf("second receive: %v", err)
	}
	if again.ID != received.ID {
		t.Fatal("second receive must reuse the existing stock record")
	}
	if again.AvailableQty != 50 {
		t.Fatalf("expected available=50, got %d", again.AvailableQty)
	}
	if !again.UnitCost.Equal(cost) {
		t.Fatalf("cost must persist when not supplied, got %s", again.UnitCost)
	}

	var movements []models.StockMovement
	if err := db.Where("inventory_item_id = ?", received.ID).Order("created_at ASC").Find(&movements).Error; err != nil {
		t.Fatalf("load movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected two purchase movements, got %d", len(movements))
	}
	if movements[0].Type != enums.MovementTypePurchase || movements[0].QtyBefore != 0 || movements[0].QtyAfter != 40 {
		t.Fatalf("unexpected first movement: %+v", movements[0])
	}
}

func TestStockLevelsRequiresIdentifiers(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, newTestDB(t))
	if _, err := svc.StockLevels(context.Background(), uuid.Nil, uuid.New()); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCheckLowStockUsesItemThresholdThenProductDefault(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()

	tenantID := uuid.New()
	product := &models.Product{ID: uuid.New(), TenantID: tenantID, SKU: "SKU-LOW", Name: "Widget", DefaultReorderPoint: 10}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}

	withOwnThreshold := &models.InventoryItem{ID: uuid.New(), TenantID: tenantID, ProductID: product.ID, LocationID: uuid.New(), AvailableQty: 4, ReorderPoint: 5}
	fallsBack := &models.InventoryItem{ID: uuid.New(), TenantID: tenantID, ProductID: product.ID, LocationID: uuid.New(), AvailableQty: 8}
	healthy := &models.InventoryItem{ID: uuid.New(), TenantID: tenantID, ProductID: product.ID, LocationID: uuid.New(), AvailableQty: 50, ReorderPoint: 5}
	for _, item := range []*models.InventoryItem{withOwnThreshold, fallsBack, healthy} {
		if err := db.Create(item).Error; err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}

	low, err := svc.CheckLowStock(ctx, tenantID)
	if err != nil {
		t.Fatalf("check low stock: %v", err)
	}
	if len(low) != 2 {
		t.Fatalf("expected 2 low items, got %d", len(low))
	}
	thresholds := map[uuid.UUID]int{}
	for _, entry := range low {
		thresholds[entry.Item.ID] = entry.EffectiveReorderPoint
	}
	if thresholds[withOwnThreshold.ID] != 5 {
		t.Fatalf("expected item threshold 5, got %d", thresholds[withOwnThreshold.ID])
	}
	if thresholds[fallsBack.ID] != 10 {
		t.Fatalf("expected product default 10, got %d", thresholds[fallsBack.ID])
	}
}

func TestCleanupExpiredReservationsExactlyOnce(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	item := seedItem(t, db, 30, 0)

	result, err := svc.Reserve(ctx, ReserveInput{InventoryItemID: item.ID, OrderID: "order-9", Qty: 6})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	past := time.Now().UTC().Add(-time.Minute)
	if err := db.Model(&models.StockReservation{}).Where("id = ?", result.Reservation.ID).Update("expires_at", past).Error; err != nil {
		t.Fatalf("backdate reservation: %v", err)
	}

	swept, err := svc.CleanupExpiredReservations(ctx, &item.TenantID, 50)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 expired hold, got %d", swept)
	}

	stored := reloadItem(t, db, item.ID)
	if stored.ReservedQty != 0 {
		t.Fatalf("expected reserved credit back to 0, got %d", stored.ReservedQty)
	}
	reservation := reloadReservation(t, db, result.Reservation.ID)
	if reservation.Status != enums.ReservationStatusExpired || reservation.ReleasedAt == nil {
		t.Fatalf("unexpected reservation state: %+v", reservation)
	}

	swept, err = svc.CleanupExpiredReservations(ctx, &item.TenantID, 50)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if swept != 0 {
		t.Fatalf("second sweep must find nothing, got %d", swept)
	}
	if stored := reloadItem(t, db, item.ID); stored.ReservedQty != 0 {
		t.Fatalf("second sweep must not double-credit, got reserved=%d", stored.ReservedQty)
	}
}

func TestReservedNeverExceedsAvailable(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	ctx := context.Background()
	item := seedItem(t, db, 10, 0)

	reserved := 0
	for i := 0; i < 5; i++ {
		_, err := svc.Reserve(ctx, ReserveInput{InventoryItemID: item.ID, OrderID: "order-loop", Qty: 3})
		if err == nil {
			reserved += 3
			continue
		}
		if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	stored := reloadItem(t, db, item.ID)
	if stored.ReservedQty != reserved {
		t.Fatalf("expected reserved=%d, got %d", reserved, stored.ReservedQty)
	}
	if stored.ReservedQty > stored.AvailableQty {
		t.Fatalf("invariant broken: reserved %d > available %d", stored.ReservedQty, stored.AvailableQty)
	}
}

func TestNewServiceValidatesDependencies(t *testing.T) {
	t.Parallel()

	if _, err := NewService(Params{}); err == nil {
		t.Fatal("expected error for missing dependencies")
	}
}

func reloadItem(t *testing.T, db *gorm.DB, id uuid.UUID) *models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := db.First(&item, "id = ?", id).Error; err != nil {
		t.Fatalf("reload item: %v", err)
	}
	return &item
}

func reloadReservation(t *testing.T, db *gorm.DB, id uuid.UUID) *models.StockReservation {
	t.Helper()
	var reservation models.StockReservation
	if err := db.First(&reservation, "id = ?", id).Error; err != nil {
		t.Fatalf("reload reservation: %v", err)
	}
	return &reservation
}
