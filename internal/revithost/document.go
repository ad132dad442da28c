package revithost

import (
	"fmt"
	"sync"
)

// Element is one applied mutation: a wall or a room in the document.
type Element struct {
	ID        string
	Category  string
	Name      string
	LevelName string
}

// Element categories
const (
	CategoryWall = "Walls"
	CategoryRoom = "Rooms"
)

// Document is the host's live model state. Every mutation is applied
// under a single lock in an all-or-nothing unit: either the element is
// fully inserted or the document is untouched, mirroring the host's
// transaction semantics. One lock also serializes calls for a session.
type Document struct {
	mu       sync.Mutex
	levels   map[string]struct{}
	elements []Element
	nextID   int
}

// NewDocument creates a document with the default level, matching a
// fresh architectural template.
func NewDocument() *Document {
	return &Document{
		levels: map[string]struct{}{"Level 1": {}},
		nextID: 100001,
	}
}

// AddLevel declares an additional level name.
func (d *Document) AddLevel(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.levels[name] = struct{}{}
}

// CreateWall applies one wall mutation. The level must exist; the
// baseline must have distinct endpoints.
func (d *Document) CreateWall(start, end []float64, height float64, levelName string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.levels[levelName]; !ok {
		return "", fmt.Errorf("Level '%s' not found.", levelName)
	}
	if len(start) < 2 || len(end) < 2 {
		return "", fmt.Errorf("wall baseline requires [x,y,z] start and end points")
	}
	if start[0] == end[0] && start[1] == end[1] {
		return "", fmt.Errorf("wall baseline is degenerate: start and end coincide")
	}
	if height <= 0 {
		return "", fmt.Errorf("wall height must be positive, got %v", height)
	}

	id := d.allocateID()
	d.elements = append(d.elements, Element{ID: id, Category: CategoryWall, LevelName: levelName})
	return id, nil
}

// CreateRoom applies one room mutation at the centroid of the boundary
// points, the way the host places an unbound room.
func (d *Document) CreateRoom(name string, boundary [][]float64, levelName string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.levels[levelName]; !ok {
		return "", fmt.Errorf("Level '%s' not found.", levelName)
	}
	if len(boundary) == 0 {
		return "", fmt.Errorf("No boundary points provided for room.")
	}
	for _, p := range boundary {
		if len(p) < 2 {
			return "", fmt.Errorf("boundary points must be [x,y] pairs")
		}
	}

	id := d.allocateID()
	d.elements = append(d.elements, Element{ID: id, Category: CategoryRoom, Name: name, LevelName: levelName})
	return id, nil
}

// Elements returns a snapshot of applied elements in creation order.
func (d *Document) Elements() []Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Element, len(d.elements))
	copy(out, d.elements)
	return out
}

// CountByCategory counts applied elements in one category.
func (d *Document) CountByCategory(category string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.elements {
		if e.Category == category {
			n++
		}
	}
	return n
}

func (d *Document) allocateID() string {
	id := fmt.Sprintf("%d", d.nextID)
	d.nextID++
	return id
}
