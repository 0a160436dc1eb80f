package interstitial

import (
	"strings"
	"unicode/utf8"
)

// MaxPlacementIDLength matches the placement_id column width in the operation history
const MaxPlacementIDLength = 128

// ValidatePlacementID rejects empty, whitespace-only or overlong placement identifiers
func ValidatePlacementID(placementID string) error {
	if strings.TrimSpace(placementID) == "" {
		return ErrInvalidPlacement
	}
	if utf8.RuneCountInString(placementID) > MaxPlacementIDLength {
		return ErrInvalidPlacement
	}
	return nil
}
