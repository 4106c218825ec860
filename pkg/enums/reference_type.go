package enums

// ReferenceType identifies the external document a stock movement points back to.
type ReferenceType string

const (
	ReferenceTypeOrder         ReferenceType = "order"
	ReferenceTypePurchaseOrder ReferenceType = "purchase_order"
	ReferenceTypeReservation   ReferenceType = "reservation"
	ReferenceTypeTransfer      ReferenceType = "transfer"
	ReferenceTypeManual        ReferenceType = "manual"
)

// IsValid reports whether the value is a known reference type.
func (t ReferenceType) IsValid() bool {
	switch t {
	case ReferenceTypeOrder, ReferenceTypePurchaseOrder, ReferenceTypeReservation, ReferenceTypeTransfer, ReferenceTypeManual:
		return true
	}
	return false
}
