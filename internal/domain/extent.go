package domain

import (
	"fmt"
	"math"
)

// Extent represents a spatial bounding box.
type Extent struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
	SRID int
}

// IsValid checks if the extent has valid dimensions.
func (e Extent) IsValid() bool {
	return e.MinX <= e.MaxX && e.MinY <= e.MaxY
}

// Width returns the width of the extent.
func (e Extent) Width() float64 {
	return math.Abs(e.MaxX - e.MinX)
}

// Height returns the height of the extent.
func (e Extent) Height() float64 {
	return math.Abs(e.MaxY - e.MinY)
}

// Contains checks if a point is within the extent.
func (e Extent) Contains(x, y float64) bool {
	return x >= e.MinX && x <= e.MaxX && y >= e.MinY && y <= e.MaxY
}

// Expand grows the extent by fraction of its span on each axis, half of the
// growth applied to each side. Expand(0.1) on a 100 wide box yields 110.
func (e Extent) Expand(fraction float64) Extent {
	dx := e.Width() * fraction / 2
	dy := e.Height() * fraction / 2
	return Extent{
		MinX: e.MinX - dx,
		MinY: e.MinY - dy,
		MaxX: e.MaxX + dx,
		MaxY: e.MaxY + dy,
		SRID: e.SRID,
	}
}

// String returns a compact representation for logs.
func (e Extent) String() string {
	return fmt.Sprintf("[%g %g, %g %g] SRID=%d", e.MinX, e.MinY, e.MaxX, e.MaxY, e.SRID)
}

// GridSpec describes a regular grid by its upper left and lower right
// corners and the cell size.
type GridSpec struct {
	North float64
	West  float64
	South float64
	East  float64
	EWRes float64 // cell width
	NSRes float64 // cell height
}

// Validate checks corner ordering and resolution.
func (g GridSpec) Validate() error {
	if !(g.EWRes > 0 && g.NSRes > 0) || math.IsInf(g.EWRes, 1) || math.IsInf(g.NSRes, 1) {
		return &ConfigError{Field: "box_grid", Message: "cell width and height must be positive"}
	}
	if !(g.North > g.South) {
		return &ConfigError{Field: "ul_grid", Message: "upper left corner must lie north of the lower right corner"}
	}
	if !(g.East > g.West) {
		return &ConfigError{Field: "lr_grid", Message: "lower right corner must lie east of the upper left corner"}
	}
	return nil
}

// Layout returns the number of rows and columns needed to cover the grid
// and the region aligned to whole cells. The north and west edges are kept;
// south and east move outward so every cell has the requested size.
func (g GridSpec) Layout() (region Extent, rows, cols int) {
	rows = int(math.Ceil((g.North - g.South) / g.NSRes))
	cols = int(math.Ceil((g.East - g.West) / g.EWRes))
	region = Extent{
		MinX: g.West,
		MinY: g.North - float64(rows)*g.NSRes,
		MaxX: g.West + float64(cols)*g.EWRes,
		MaxY: g.North,
	}
	return region, rows, cols
}

// CellExtents splits region into rows x cols rectangles, row-major from the
// north west corner. Cell ids start at 1.
func CellExtents(region Extent, rows, cols int) []Cell {
	if rows <= 0 || cols <= 0 {
		return nil
	}
	w := region.Width() / float64(cols)
	h := region.Height() / float64(rows)
	cells := make([]Cell, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			maxY := region.MaxY - float64(r)*h
			minX := region.MinX + float64(c)*w
			cells = append(cells, Cell{
				ID: int64(r*cols + c + 1),
				Extent: Extent{
					MinX: minX,
					MinY: maxY - h,
					MaxX: minX + w,
					MaxY: maxY,
					SRID: region.SRID,
				},
			})
		}
	}
	return cells
}
