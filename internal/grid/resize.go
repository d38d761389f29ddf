package grid

// ResizeAction names one of the uniform grid shape changes.
type ResizeAction string

const (
	AddRow    ResizeAction = "addRow"
	RemoveRow ResizeAction = "removeRow"
	AddCol    ResizeAction = "addCol"
	RemoveCol ResizeAction = "removeCol"
)

// Resize grows or shrinks the grid by one row or column. Removal truncates:
// any objects in the dropped row or column are gone, no migration happens.
func Resize(g Grid, action ResizeAction) Grid {
	switch action {
	case AddRow:
		return addRow(g)
	case RemoveRow:
		return removeRow(g)
	case AddCol:
		return addCol(g)
	case RemoveCol:
		return removeCol(g)
	default:
		return g
	}
}

func addRow(g Grid) Grid {
	if len(g) == 0 {
		return g
	}
	cols := len(g[0])
	y := len(g)
	row := make([]Cell, cols)
	for x := range row {
		row[x] = emptyCell(x, y)
	}
	out := make(Grid, 0, len(g)+1)
	out = append(out, g...)
	return append(out, row)
}

func removeRow(g Grid) Grid {
	if len(g) <= 1 {
		return g
	}
	out := make(Grid, len(g)-1)
	copy(out, g)
	return out
}

func addCol(g Grid) Grid {
	out := make(Grid, len(g))
	for y, row := range g {
		x := len(row)
		next := make([]Cell, 0, x+1)
		next = append(next, row...)
		out[y] = append(next, emptyCell(x, y))
	}
	return out
}

func removeCol(g Grid) Grid {
	if len(g) == 0 || len(g[0]) <= 1 {
		return g
	}
	out := make(Grid, len(g))
	for y, row := range g {
		next := make([]Cell, len(row)-1)
		copy(next, row)
		out[y] = next
	}
	return out
}
