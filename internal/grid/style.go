package grid

import (
	"time"

	"gridspace/api/internal/condition"
)

// StyleDelta is the accumulated styling for one cell: background styles for
// the cell itself and styles for the rendered element.
type StyleDelta struct {
	Back map[string]string `json:"back,omitempty"`
	Elem map[string]string `json:"elem,omitempty"`
}

// StyleFor folds a cell's visual states in array order: every matching rule
// shallow-merges its deltas, so a later rule overrides an earlier one on key
// collision. Empty cells have no styling.
func StyleFor(cell Cell, now time.Time) StyleDelta {
	var delta StyleDelta
	if cell.IsEmpty {
		return delta
	}

	fields := make(map[string]string, len(cell.Fields))
	state := make(map[string]condition.FieldValue, len(cell.Fields))
	for _, field := range cell.Fields {
		fields[field.Slug] = field.Type
		merged := condition.FieldValue{Value: field.Value}
		if fs, ok := cell.State[field.Slug]; ok {
			if fs.Value != nil {
				merged.Value = fs.Value
			}
			merged.TargetDate = fs.TargetDate
			merged.LastAction = fs.LastAction
		}
		state[field.Slug] = merged
	}

	for _, vs := range cell.VisualStates {
		ctx := condition.Context{State: state, Fields: fields, Now: now}
		var matched bool
		if vs.SpecialCondition != "" {
			ctx.Special = true
			matched = condition.Compile(vs.SpecialCondition).Eval(ctx)
		} else {
			matched = condition.Compile(vs.Condition).Eval(ctx)
		}
		if !matched {
			continue
		}
		if vs.Back != nil {
			delta.Back = mergeStyles(delta.Back, vs.Back.Style)
		}
		if vs.Elem != nil {
			delta.Elem = mergeStyles(delta.Elem, vs.Elem.Style)
		}
	}
	return delta
}

func mergeStyles(into, from map[string]string) map[string]string {
	if len(from) == 0 {
		return into
	}
	if into == nil {
		into = make(map[string]string, len(from))
	}
	for k, v := range from {
		into[k] = v
	}
	return into
}
