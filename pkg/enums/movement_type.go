package enums

import "fmt"

// MovementType maps to the movement_type enum in Postgres.
type MovementType string

const (
	MovementTypePurchase    MovementType = "purchase"
	MovementTypeSale        MovementType = "sale"
	MovementTypeAdjustment  MovementType = "adjustment"
	MovementTypeTransferIn  MovementType = "transfer_in"
	MovementTypeTransferOut MovementType = "transfer_out"
	MovementTypeReturn      MovementType = "return"
	MovementTypeDamage      MovementType = "damage"
	MovementTypeCount       MovementType = "count"
)

var validMovementTypes = []MovementType{
	MovementTypePurchase,
	MovementTypeSale,
	MovementTypeAdjustment,
	MovementTypeTransferIn,
	MovementTypeTransferOut,
	MovementTypeReturn,
	MovementTypeDamage,
	MovementTypeCount,
}

// IsValid reports whether the value matches the canonical movement type enum.
func (t MovementType) IsValid() bool {
	for _, candidate := range validMovementTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseMovementType converts raw input into MovementType.
func ParseMovementType(value string) (MovementType, error) {
	for _, candidate := range validMovementTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid movement type %q", value)
}
