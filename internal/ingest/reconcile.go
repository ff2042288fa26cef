package ingest

import (
	"fmt"

	"github.com/rkm/satpipe/internal/grid"
	"github.com/rkm/satpipe/internal/raster"
)

// ReferenceBand is the band whose native grid every other band is reconciled
// onto at ingest time: the shortest-wavelength visible band, which arrives at
// the native high resolution.
const ReferenceBand = "B02"

// Reconcile merges freshly fetched bands, possibly on heterogeneous native
// grids, into one dataset on the reference band's grid. Bands whose shape
// already matches the reference are reused unchanged; the rest are resampled
// with nearest-neighbor interpolation so discretized sensor counts are not
// blended at ingest time. Any band failure aborts the merge.
func Reconcile(bands []*raster.Band, reference, sceneID string) (*raster.Dataset, error) {
	var ref *raster.Band
	for _, b := range bands {
		if b.Name == reference {
			ref = b
			break
		}
	}
	if ref == nil {
		return nil, fmt.Errorf("reference band %s is not among the fetched bands", reference)
	}

	ds := raster.NewDataset(ref.Grid)
	ds.Attrs["scene_id"] = sceneID

	for _, b := range bands {
		merged := b
		refRows, refCols := ref.Grid.Shape()
		rows, cols := b.Data.Dims()
		if rows != refRows || cols != refCols {
			data, err := grid.Reproject(b.Data, b.Grid, ref.Grid, grid.Nearest)
			if err != nil {
				return nil, fmt.Errorf("band %s: %w", b.Name, err)
			}
			merged, err = raster.NewBand(b.Name, data, ref.Grid)
			if err != nil {
				return nil, err
			}
		} else if !b.Grid.Equal(ref.Grid) {
			// Same shape but a different transform still needs a band pinned
			// to the dataset grid.
			var err error
			merged, err = raster.NewBand(b.Name, b.Data, ref.Grid)
			if err != nil {
				return nil, err
			}
		}
		if err := ds.AddBand(merged); err != nil {
			return nil, err
		}
	}
	return ds, nil
}
