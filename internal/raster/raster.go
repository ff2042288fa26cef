// Package raster defines the in-memory dataset model shared by every pipeline
// stage: named 2-D bands co-registered on one grid, plus free-form attributes.
package raster

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/rkm/satpipe/internal/grid"
)

// Band is one spectral or polarization channel: a logical name, a 2-D pixel
// array, and the grid the array is defined on. The array shape always equals
// (grid.Height, grid.Width).
type Band struct {
	Name string
	Data *mat.Dense
	Grid grid.Grid
}

// NewBand validates the shape invariant and returns the band.
func NewBand(name string, data *mat.Dense, g grid.Grid) (*Band, error) {
	rows, cols := data.Dims()
	if rows != g.Height || cols != g.Width {
		return nil, fmt.Errorf("band %s: array shape (%d,%d) does not match grid %s", name, rows, cols, g)
	}
	return &Band{Name: name, Data: data, Grid: g}, nil
}

// Dataset is an ordered collection of bands sharing one grid. Band names are
// unique; insertion order is preserved so downstream stages assemble output
// deterministically. A dataset is written whole to its destination and never
// mutated after that.
type Dataset struct {
	names []string
	bands map[string]*Band
	grid  grid.Grid

	// Attrs carries scene-level metadata such as scene_id and the integrity
	// digest stamped before persistence.
	Attrs map[string]string
}

// NewDataset returns an empty dataset on the given grid.
func NewDataset(g grid.Grid) *Dataset {
	return &Dataset{
		bands: make(map[string]*Band),
		grid:  g,
		Attrs: make(map[string]string),
	}
}

// AddBand appends a band. The band's grid must equal the dataset grid and its
// name must not already be present.
func (d *Dataset) AddBand(b *Band) error {
	if !b.Grid.Equal(d.grid) {
		return fmt.Errorf("band %s: grid %s does not match dataset grid %s", b.Name, b.Grid, d.grid)
	}
	if _, ok := d.bands[b.Name]; ok {
		return fmt.Errorf("band %s: duplicate band name", b.Name)
	}
	d.names = append(d.names, b.Name)
	d.bands[b.Name] = b
	return nil
}

// Band returns the named band.
func (d *Dataset) Band(name string) (*Band, bool) {
	b, ok := d.bands[name]
	return b, ok
}

// BandNames returns the band names in insertion order.
func (d *Dataset) BandNames() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Grid returns the grid shared by all bands.
func (d *Dataset) Grid() grid.Grid {
	return d.grid
}

// Len returns the number of bands.
func (d *Dataset) Len() int {
	return len(d.names)
}

// Digest computes the integrity digest over the scene identifier and the
// dataset dimensions.
func (d *Dataset) Digest() string {
	meta := fmt.Sprintf("%s{y:%d x:%d}", d.Attrs["scene_id"], d.grid.Height, d.grid.Width)
	sum := sha256.Sum256([]byte(meta))
	return hex.EncodeToString(sum[:])
}

// StampDigest records the integrity digest in the dataset attributes. Called
// once, just before persistence.
func (d *Dataset) StampDigest() {
	d.Attrs["hash"] = d.Digest()
}
