// Package grid models the geospatial sampling grid shared by co-registered
// raster bands: an affine pixel-to-world transform, pixel dimensions, and a
// coordinate reference system identifier.
package grid

import (
	"errors"
	"fmt"
)

// ErrDegenerateTransform is returned when an affine transform cannot be
// inverted (zero determinant).
var ErrDegenerateTransform = errors.New("degenerate affine transform")

// Affine is a 2-D affine transform mapping pixel coordinates (col, row) to
// world coordinates (x, y):
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// For north-up rasters B and D are zero and E is negative.
type Affine struct {
	A, B, C float64
	D, E, F float64
}

// Apply maps a pixel coordinate to a world coordinate.
func (t Affine) Apply(col, row float64) (x, y float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert returns the inverse transform (world to pixel).
func (t Affine) Invert() (Affine, error) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return Affine{}, ErrDegenerateTransform
	}
	inv := Affine{
		A: t.E / det,
		B: -t.B / det,
		D: -t.D / det,
		E: t.A / det,
	}
	inv.C = -(inv.A*t.C + inv.B*t.F)
	inv.F = -(inv.D*t.C + inv.E*t.F)
	return inv, nil
}

// Grid describes the geospatial sampling definition of a raster band: the
// pixel-to-world transform, the raster dimensions, and the CRS identifier
// (e.g. "EPSG:32644"). A Grid is a value; it is never mutated after being
// derived from a reference band.
type Grid struct {
	Transform Affine
	Width     int
	Height    int
	CRS       string
}

// Equal reports whether two grids are identical. Equality is exact on all
// fields; there is no tolerance.
func (g Grid) Equal(o Grid) bool {
	return g.Transform == o.Transform && g.Width == o.Width && g.Height == o.Height && g.CRS == o.CRS
}

// Shape returns the pixel-array shape as (rows, cols).
func (g Grid) Shape() (rows, cols int) {
	return g.Height, g.Width
}

// XCoords returns the world x coordinate of every pixel column.
func (g Grid) XCoords() []float64 {
	xs := make([]float64, g.Width)
	for col := range xs {
		xs[col] = float64(col)*g.Transform.A + g.Transform.C
	}
	return xs
}

// YCoords returns the world y coordinate of every pixel row.
func (g Grid) YCoords() []float64 {
	ys := make([]float64, g.Height)
	for row := range ys {
		ys[row] = float64(row)*g.Transform.E + g.Transform.F
	}
	return ys
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d %s", g.Width, g.Height, g.CRS)
}
