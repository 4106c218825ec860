package inventory

import (
	"errors"

	"github.com/google/uuid"

	pkgerrors "github.com/pallet-works/stockroom-backend/pkg/errors"
)

// ErrVersionConflict signals that a guarded item update matched zero rows: the
// row's version moved underneath us despite the lease. Under correct
// sequencing this is unreachable; it is surfaced, never silently retried.
var ErrVersionConflict = errors.New("inventory item version conflict")

// StockShortfall describes a rejected quantity request.
type StockShortfall struct {
	InventoryItemID uuid.UUID `json:"inventory_item_id"`
	Requested       int       `json:"requested"`
	Available       int       `json:"available"`
	Reserved        int       `json:"reserved"`
	Net             int       `json:"net"`
}

func insufficientStockError(itemID uuid.UUID, requested, available, reserved int) *pkgerrors.Error {
	return pkgerrors.Newf(pkgerrors.CodeInsufficientStock,
		"requested %d units, net available %d", requested, available-reserved).
		WithDetails(StockShortfall{
			InventoryItemID: itemID,
			Requested:       requested,
			Available:       available,
			Reserved:        reserved,
			Net:             available - reserved,
		})
}

func versionConflictError(itemID uuid.UUID) *pkgerrors.Error {
	return pkgerrors.Wrap(pkgerrors.CodeOptimisticLock, ErrVersionConflict,
		"inventory item changed during a held lease").
		WithDetails(map[string]any{"inventory_item_id": itemID})
}
