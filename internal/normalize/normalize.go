// Package normalize applies the per-band linear transform that makes
// heterogeneous sensor values comparable: z-score with optional clipping, or
// min-max scaled into [0, 1].
package normalize

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/rkm/satpipe/internal/raster"
	"github.com/rkm/satpipe/internal/stats"
)

// Mode selects the normalization transform.
type Mode string

const (
	ModeZScore Mode = "zscore"
	ModeMinMax Mode = "minmax"
)

// DefaultClip is the default clip bound for z-score normalization.
const DefaultClip = 3.0

// Config controls normalization. Clip is only meaningful for z-score mode;
// nil disables clipping.
type Config struct {
	Mode Mode
	Clip *float64
}

// StatisticsMismatchError is returned when a band present in the dataset has
// no entry in the statistics mapping.
type StatisticsMismatchError struct {
	Band string
}

func (e *StatisticsMismatchError) Error() string {
	return fmt.Sprintf("no statistics supplied for band %s", e.Band)
}

// Apply returns a new dataset with every band transformed as
// (value - stat0) / stat1. Z-score output is clipped to [-clip, clip] when a
// clip bound is set; min-max output is unconditionally clipped to [0, 1].
// Values are rounded through single precision. The input dataset is never
// mutated.
func Apply(ds *raster.Dataset, st map[string]stats.BandStats, cfg Config) (*raster.Dataset, error) {
	switch cfg.Mode {
	case ModeZScore, ModeMinMax:
	default:
		return nil, fmt.Errorf("unknown normalization mode %q", cfg.Mode)
	}

	out := raster.NewDataset(ds.Grid())
	for k, v := range ds.Attrs {
		out.Attrs[k] = v
	}

	for _, name := range ds.BandNames() {
		band, _ := ds.Band(name)
		bs, ok := st[name]
		if !ok {
			return nil, &StatisticsMismatchError{Band: name}
		}

		rows, cols := band.Data.Dims()
		data := mat.NewDense(rows, cols, nil)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				v := (band.Data.At(r, c) - bs.Loc) / bs.Spread
				switch cfg.Mode {
				case ModeZScore:
					if cfg.Clip != nil {
						v = clamp(v, -*cfg.Clip, *cfg.Clip)
					}
				case ModeMinMax:
					v = clamp(v, 0, 1)
				}
				data.Set(r, c, float64(float32(v)))
			}
		}

		nb, err := raster.NewBand(name, data, band.Grid)
		if err != nil {
			return nil, err
		}
		if err := out.AddBand(nb); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
