package models

import (
	"fmt"
)

// NotSpecified is the placeholder value for brief fields the user never mentioned.
const NotSpecified = "Not specified"

// DesignBrief is the normalized form of a free-text design request.
// It is produced once by the brief normalizer stage and never mutated afterwards.
type DesignBrief struct {
	BuildingType string         `json:"building_type"`
	TotalArea    string         `json:"total_area"`
	Floors       string         `json:"floors"`
	Rooms        []RoomSpecHint `json:"rooms"`
	Style        string         `json:"style"`
	Constraints  []string       `json:"constraints"`
}

// RoomSpecHint is one requested space in the brief (pre-geometry).
type RoomSpecHint struct {
	Name    string `json:"name"`
	Details string `json:"details,omitempty"`
}

// Point3D is a coordinate in the host's native unit (feet).
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// WallSpec describes one wall baseline in a design plan.
type WallSpec struct {
	StartPoint Point3D `json:"start_point"`
	EndPoint   Point3D `json:"end_point"`
	Height     float64 `json:"height"`
	LevelName  string  `json:"level_name"`
	WallID     string  `json:"wall_id"`
}

// RoomSpec describes one room placement in a design plan. The boundary
// polygon is always derived from center+width+length via BoundaryPoints;
// it is deliberately never stored so it cannot desynchronize.
type RoomSpec struct {
	Name      string  `json:"name"`
	LevelName string  `json:"level_name"`
	CenterX   float64 `json:"center_x"`
	CenterY   float64 `json:"center_y"`
	Width     float64 `json:"width"`
	Length    float64 `json:"length"`
	RoomID    string  `json:"room_id"`
}

// BoundaryPoints derives the room's rectangular boundary polygon as
// [x,y] pairs, counter-clockwise from the lower-left corner. The
// derivation is deterministic: the same center and dimensions always
// yield the same coordinates.
func (r RoomSpec) BoundaryPoints() [][]float64 {
	halfW := r.Width / 2
	halfL := r.Length / 2
	return [][]float64{
		{r.CenterX - halfW, r.CenterY - halfL},
		{r.CenterX + halfW, r.CenterY - halfL},
		{r.CenterX + halfW, r.CenterY + halfL},
		{r.CenterX - halfW, r.CenterY + halfL},
	}
}

// Area returns the room's floor area in square units.
func (r RoomSpec) Area() float64 {
	return r.Width * r.Length
}

// DesignPlan is the structured design artifact flowing from the design
// generator to the compliance checker and the bridge. Plans are
// immutable after creation; a revision is a new plan.
type DesignPlan struct {
	Description string     `json:"plan_description"`
	Walls       []WallSpec `json:"walls"`
	Rooms       []RoomSpec `json:"rooms"`
}

// Validate enforces the plan invariants: element IDs unique across walls
// and rooms, all dimensions and heights non-negative.
func (p *DesignPlan) Validate() error {
	seen := make(map[string]struct{}, len(p.Walls)+len(p.Rooms))

	for i, w := range p.Walls {
		if w.WallID == "" {
			return fmt.Errorf("wall %d: missing wall_id", i)
		}
		if _, dup := seen[w.WallID]; dup {
			return fmt.Errorf("duplicate element id %q", w.WallID)
		}
		seen[w.WallID] = struct{}{}
		if w.Height < 0 {
			return fmt.Errorf("wall %q: negative height %v", w.WallID, w.Height)
		}
	}

	for i, r := range p.Rooms {
		if r.RoomID == "" {
			return fmt.Errorf("room %d: missing room_id", i)
		}
		if _, dup := seen[r.RoomID]; dup {
			return fmt.Errorf("duplicate element id %q", r.RoomID)
		}
		seen[r.RoomID] = struct{}{}
		if r.Width < 0 || r.Length < 0 {
			return fmt.Errorf("room %q: negative dimensions %vx%v", r.RoomID, r.Width, r.Length)
		}
	}

	return nil
}

// Summary returns the structural summary handed to the compliance
// checker: the plan description plus element counts, never the raw
// generator output.
func (p *DesignPlan) Summary() string {
	return fmt.Sprintf("%s\nContains %d walls and %d rooms.", p.Description, len(p.Walls), len(p.Rooms))
}

// ElementCount returns the total number of plan elements the bridge
// will translate into tool calls.
func (p *DesignPlan) ElementCount() int {
	return len(p.Walls) + len(p.Rooms)
}
