package model

// VesselID names an anatomical model in the catalog.
type VesselID string

const (
	VesselStandardBend VesselID = "standard_bend"
	VesselStraight     VesselID = "straight"
)

// Point is a centerline control point in world units.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// VesselDefinition is a selectable vessel: identity plus its centerline,
// ordered proximal to distal.
type VesselDefinition struct {
	ID          VesselID
	Name        string
	Description string
	Centerline  []Point
}
