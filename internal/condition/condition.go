// Package condition evaluates the single-comparison rules that drive an
// object's visual states. A rule source looks like "count==5" or, in special
// mode, "brew_timer['lastAction']==started". Rules are compiled once and
// cached; a malformed rule simply never matches.
package condition

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	FieldText   = "text"
	FieldTimer  = "timer"
	FieldToggle = "toggle"
)

// operators in match priority order, so "<" and ">" never match inside
// "<=" and ">=".
var operators = []string{"==", "!=", "<=", "<", ">=", ">"}

// Rule is the compiled form of a condition string.
type Rule struct {
	Operand string // full left-hand side as written
	Slug    string // operand with any bracketed sub-property stripped
	Prop    string // sub-property inside brackets, if any
	Op      string
	Literal string
}

// FieldValue is the per-field slice of cell state a rule can inspect.
type FieldValue struct {
	Value      any
	TargetDate string
	LastAction string
}

// Context carries everything a rule needs to evaluate.
type Context struct {
	State  map[string]FieldValue
	Fields map[string]string // field slug -> field type
	// Special bypasses the timer "started" gate and reads the bracketed
	// sub-property directly.
	Special bool
	// Now anchors timer target-date computation. Zero means time.Now().
	Now time.Time
}

var (
	cacheMu sync.RWMutex
	cache   = map[string]*Rule{}
)

// Compile parses a condition string, returning nil if it is malformed.
// Results are cached by source text.
func Compile(src string) *Rule {
	cacheMu.RLock()
	rule, ok := cache[src]
	cacheMu.RUnlock()
	if ok {
		return rule
	}

	rule = parse(src)
	cacheMu.Lock()
	cache[src] = rule
	cacheMu.Unlock()
	return rule
}

func parse(src string) *Rule {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	for _, op := range operators {
		if !strings.Contains(src, op) {
			continue
		}
		parts := strings.SplitN(src, op, 2)
		operand := parts[0]
		literal := parts[1]

		slug := operand
		prop := ""
		if open := strings.Index(operand, "['"); open >= 0 {
			slug = operand[:open]
			rest := operand[open+2:]
			if closing := strings.Index(rest, "']"); closing >= 0 {
				prop = rest[:closing]
			}
		}
		return &Rule{Operand: operand, Slug: slug, Prop: prop, Op: op, Literal: literal}
	}
	return nil
}

// Eval returns whether the rule matches the given state. A nil rule, an
// unknown slug, or an inactive timer in non-special mode all evaluate false.
func (r *Rule) Eval(ctx Context) bool {
	if r == nil || ctx.State == nil || ctx.Fields == nil {
		return false
	}
	slug := r.Operand
	if ctx.Special {
		slug = r.Slug
	}
	state, ok := ctx.State[slug]
	if !ok {
		return false
	}
	fieldType, ok := ctx.Fields[slug]
	if !ok {
		return false
	}

	// An idle timer never matches in normal mode.
	if fieldType == FieldTimer && !ctx.Special && state.LastAction != "started" {
		return false
	}

	var actual any
	if ctx.Special {
		actual = state.prop(r.Prop)
	} else {
		actual = state.Value
	}

	left := coerce(actual, state, fieldType, false, ctx)
	right := coerce(r.Literal, state, fieldType, true, ctx)
	return compare(r.Op, left, right)
}

func (s FieldValue) prop(name string) any {
	switch name {
	case "targetDate":
		return s.TargetDate
	case "lastAction":
		return s.LastAction
	case "value":
		return s.Value
	default:
		return nil
	}
}

// coerce normalizes one side of the comparison. For an active timer in
// normal mode both sides become target dates: the literal is interpreted as
// a duration from now, the actual value is the timer's stored target date.
func coerce(val any, state FieldValue, fieldType string, fromExpr bool, ctx Context) any {
	if !ctx.Special && fieldType == FieldTimer {
		if fromExpr && state.LastAction == "started" {
			text, _ := val.(string)
			if target, ok := TargetDate(text, ctx.Now); ok {
				return target
			}
			return nil
		}
		return state.TargetDate
	}

	switch v := val.(type) {
	case nil:
		return ""
	case string:
		switch v {
		case "true":
			return true
		case "false":
			return false
		case "''":
			return ""
		}
		return v
	default:
		return val
	}
}

func compare(op string, left, right any) bool {
	if lb, ok := left.(bool); ok {
		rb, ok := right.(bool)
		if !ok {
			return op == "!="
		}
		switch op {
		case "==":
			return lb == rb
		case "!=":
			return lb != rb
		default:
			return false
		}
	}
	if _, ok := right.(bool); ok {
		return op == "!="
	}

	ls, rs := stringify(left), stringify(right)
	if lf, lok := toFloat(ls); lok {
		if rf, rok := toFloat(rs); rok {
			return ordered(op, func() bool { return lf == rf }, func() bool { return lf < rf })
		}
	}
	return ordered(op, func() bool { return ls == rs }, func() bool { return ls < rs })
}

func ordered(op string, eq, less func() bool) bool {
	switch op {
	case "==":
		return eq()
	case "!=":
		return !eq()
	case "<":
		return less()
	case "<=":
		return less() || eq()
	case ">":
		return !less() && !eq()
	case ">=":
		return !less()
	default:
		return false
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

func toFloat(s string) (float64, bool) {
	if strings.TrimSpace(s) == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
