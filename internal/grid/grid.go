// Package grid holds the bidirectional transform between the compact grid
// shape persisted for a space and the expanded shape a client renders. The
// compact form stores only object references plus an independent matrix of
// per-cell state; the expanded form joins each reference against the current
// object kit.
package grid

import (
	"encoding/json"
	"log"
)

// FieldDef describes one value slot on an object template.
type FieldDef struct {
	Slug  string `json:"slug"`
	Name  string `json:"name"`
	Type  string `json:"type"` // text, timer, toggle
	Value any    `json:"value,omitempty"`
}

// StyleSpec carries the style delta a visual state applies when it matches.
type StyleSpec struct {
	Style map[string]string `json:"style,omitempty"`
}

// VisualState maps a condition over field state to style deltas.
// SpecialCondition inspects timer sub-state directly and wins over Condition
// when both are set.
type VisualState struct {
	Condition        string     `json:"condition,omitempty"`
	SpecialCondition string     `json:"s_condition,omitempty"`
	Back             *StyleSpec `json:"back,omitempty"`
	Elem             *StyleSpec `json:"elem,omitempty"`
}

// Template is a reusable object definition referenced by grid placements.
// LocalID is stable and unique within a space; it is never reused after a
// template is removed.
type Template struct {
	LocalID      int           `json:"localId"`
	Slug         string        `json:"slug"`
	Name         string        `json:"name"`
	Type         string        `json:"type,omitempty"`
	Display      string        `json:"display,omitempty"`
	Fields       []FieldDef    `json:"fields,omitempty"`
	VisualStates []VisualState `json:"visual_states,omitempty"`
}

// FieldState is the per-placement state of one field. Timer fields carry
// TargetDate and LastAction in addition to the raw input value.
type FieldState struct {
	Value      any    `json:"value,omitempty"`
	TargetDate string `json:"targetDate,omitempty"`
	LastAction string `json:"lastAction,omitempty"`
}

// StateMap is a placement's field state keyed by field slug.
type StateMap map[string]FieldState

// CompactCell is the persisted form of an occupied cell: a reference only.
type CompactCell struct {
	LocalID int `json:"localId"`
}

// CompactGrid is the persisted grid; nil entries are empty cells.
type CompactGrid [][]*CompactCell

// ValuesMatrix mirrors the grid dimensions with one state map per cell.
type ValuesMatrix [][]StateMap

// Pos is a cell's coordinates within the grid.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Cell is the render-ready form of a grid position: the referenced template
// merged with the placement's own state.
type Cell struct {
	IsEmpty      bool          `json:"isEmpty"`
	LocalID      int           `json:"localId,omitempty"`
	Slug         string        `json:"slug,omitempty"`
	Name         string        `json:"name,omitempty"`
	Type         string        `json:"type,omitempty"`
	Display      string        `json:"display,omitempty"`
	Fields       []FieldDef    `json:"fields,omitempty"`
	VisualStates []VisualState `json:"visual_states,omitempty"`
	State        StateMap      `json:"state,omitempty"`
	Pos          Pos           `json:"pos"`
}

// Grid is the expanded, render-ready matrix.
type Grid [][]Cell

func emptyCell(x, y int) Cell {
	return Cell{IsEmpty: true, Pos: Pos{X: x, Y: y}}
}

// DefaultGrid returns an all-empty rows x cols grid with positions filled in.
func DefaultGrid(rows, cols int) Grid {
	g := make(Grid, rows)
	for y := range g {
		g[y] = make([]Cell, cols)
		for x := range g[y] {
			g[y][x] = emptyCell(x, y)
		}
	}
	return g
}

// Decode joins the compact grid against the current kit to produce the
// expanded grid. A cell referencing a template that no longer exists is
// decoded as empty; the reference is stale data, not a reason to fail.
func Decode(compact CompactGrid, values ValuesMatrix, templates []Template) Grid {
	index := make(map[int]int, len(templates))
	for i, tpl := range templates {
		index[tpl.LocalID] = i
	}

	out := make(Grid, len(compact))
	for y, row := range compact {
		out[y] = make([]Cell, len(row))
		for x, ref := range row {
			if ref == nil {
				out[y][x] = emptyCell(x, y)
				continue
			}
			i, ok := index[ref.LocalID]
			if !ok {
				log.Printf("grid: cell (%d,%d) references unknown object %d, treating as empty", x, y, ref.LocalID)
				out[y][x] = emptyCell(x, y)
				continue
			}
			tpl := templates[i]
			var state StateMap
			if y < len(values) && x < len(values[y]) {
				state = values[y][x]
			}
			out[y][x] = Cell{
				IsEmpty:      false,
				LocalID:      tpl.LocalID,
				Slug:         tpl.Slug,
				Name:         tpl.Name,
				Type:         tpl.Type,
				Display:      tpl.Display,
				Fields:       tpl.Fields,
				VisualStates: tpl.VisualStates,
				State:        state,
				Pos:          Pos{X: x, Y: y},
			}
		}
	}
	return out
}

// Encode strips the expanded grid back to its persisted form: an object
// reference per occupied cell plus the independent state matrix.
func Encode(g Grid) (CompactGrid, ValuesMatrix) {
	compact := make(CompactGrid, len(g))
	values := make(ValuesMatrix, len(g))
	for y, row := range g {
		compact[y] = make([]*CompactCell, len(row))
		values[y] = make([]StateMap, len(row))
		for x, cell := range row {
			values[y][x] = cell.State
			if cell.IsEmpty {
				continue
			}
			compact[y][x] = &CompactCell{LocalID: cell.LocalID}
		}
	}
	return compact, values
}

// ApplyTemplateEdit re-joins every placement against the updated kit, so
// field and visual-state definition changes reach all placements at once.
// Per-cell state survives the round trip.
func ApplyTemplateEdit(g Grid, templates []Template) Grid {
	compact, values := Encode(g)
	return Decode(compact, values, templates)
}

// RemoveTemplates empties every cell whose placement references one of the
// removed templates.
func RemoveTemplates(g Grid, removed []Template) Grid {
	if len(removed) == 0 {
		return g
	}
	gone := make(map[int]bool, len(removed))
	for _, tpl := range removed {
		gone[tpl.LocalID] = true
	}
	out := make(Grid, len(g))
	for y, row := range g {
		out[y] = make([]Cell, len(row))
		for x, cell := range row {
			if !cell.IsEmpty && gone[cell.LocalID] {
				out[y][x] = emptyCell(x, y)
				continue
			}
			out[y][x] = cell
		}
	}
	return out
}

// NextLocalID returns one past the highest template local id in the kit.
func NextLocalID(templates []Template) int {
	next := 1
	for _, tpl := range templates {
		if tpl.LocalID >= next {
			next = tpl.LocalID + 1
		}
	}
	return next
}

// ParseTemplates decodes a persisted object kit.
func ParseTemplates(raw json.RawMessage) ([]Template, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var templates []Template
	if err := json.Unmarshal(raw, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// ParseCompact decodes a persisted grid and values matrix.
func ParseCompact(rawGrid, rawValues json.RawMessage) (CompactGrid, ValuesMatrix, error) {
	var compact CompactGrid
	if len(rawGrid) > 0 {
		if err := json.Unmarshal(rawGrid, &compact); err != nil {
			return nil, nil, err
		}
	}
	var values ValuesMatrix
	if len(rawValues) > 0 {
		if err := json.Unmarshal(rawValues, &values); err != nil {
			return nil, nil, err
		}
	}
	return compact, values, nil
}
