package enums

type Placement string

const (
	PlacementSpotlight Placement = "spotlight"
	PlacementTravel    Placement = "travel"
	PlacementEvent     Placement = "event"
)

func (p Placement) Valid() bool {
	switch p {
	case PlacementSpotlight, PlacementTravel, PlacementEvent:
		return true
	default:
		return false
	}
}
