// pkg/core/bike.go
package core

import "fmt"

// BrakeSide identifies which handlebar lever operates the front brake.
type BrakeSide uint8

const (
	BrakeSideLeft BrakeSide = iota
	BrakeSideRight
)

// String returns the bike definition file spelling of the side.
func (s BrakeSide) String() string {
	switch s {
	case BrakeSideLeft:
		return "left"
	case BrakeSideRight:
		return "right"
	default:
		return fmt.Sprintf("BrakeSide(%d)", uint8(s))
	}
}

// ParseBrakeSide parses "left" or "right".
func ParseBrakeSide(s string) (BrakeSide, error) {
	switch s {
	case "left":
		return BrakeSideLeft, nil
	case "right":
		return BrakeSideRight, nil
	default:
		return 0, fmt.Errorf("invalid brake side %q", s)
	}
}

// BikeDefinition holds the static parameters of one bike model.
// Travel and seat values are in millimetres.
type BikeDefinition struct {
	Name        string    `json:"name"`
	PrefabPath  string    `json:"prefabPath"`
	FrontGears  int       `json:"frontGears"`
	RearGears   int       `json:"rearGears"`
	MaxFrontSus float64   `json:"maxFrontSus"`
	MaxRearSus  float64   `json:"maxRearSus"`
	MaxSeatPos  float64   `json:"maxSeatPos"`
	FrontBrake  BrakeSide `json:"frontBrake"`
}
