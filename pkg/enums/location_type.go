package enums

import "fmt"

// LocationType maps to the location_type enum in Postgres.
type LocationType string

const (
	LocationTypeWarehouse LocationType = "warehouse"
	LocationTypeStore     LocationType = "store"
	LocationTypeVirtual   LocationType = "virtual"
)

var validLocationTypes = []LocationType{
	LocationTypeWarehouse,
	LocationTypeStore,
	LocationTypeVirtual,
}

// IsValid reports whether the value matches the canonical location type enum.
func (t LocationType) IsValid() bool {
	for _, candidate := range validLocationTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLocationType converts raw input into LocationType.
func ParseLocationType(value string) (LocationType, error) {
	for _, candidate := range validLocationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid location type %q", value)
}
