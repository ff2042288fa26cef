// Package stats draws reproducible random subsamples of raster bands and
// computes the per-band summary statistics feeding normalization.
package stats

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/rkm/satpipe/internal/raster"
)

// DefaultSampleFraction is the fraction of pixels sampled per band.
const DefaultSampleFraction = 0.02

// BandStats is the (stat0, stat1) pair driving the linear normalization
// transform: (mean, standard deviation) for z-score, (minimum, range) for
// min-max.
type BandStats struct {
	Loc    float64
	Spread float64
}

// Compute returns per-band (mean, standard deviation) over a random sample of
// each band's pixels. Sampling is driven entirely by the seed; identical
// array, fraction, and seed always yield identical statistics.
func Compute(ds *raster.Dataset, frac float64, seed int64) (map[string]BandStats, error) {
	return compute(ds, frac, seed, func(sample []float64) BandStats {
		return BandStats{
			Loc:    stat.Mean(sample, nil),
			Spread: stat.StdDev(sample, nil),
		}
	})
}

// ComputeMinMax returns per-band (minimum, range) over the same deterministic
// sample Compute draws. This is the statistic min-max normalization actually
// requires.
func ComputeMinMax(ds *raster.Dataset, frac float64, seed int64) (map[string]BandStats, error) {
	return compute(ds, frac, seed, func(sample []float64) BandStats {
		lo := floats.Min(sample)
		return BandStats{
			Loc:    lo,
			Spread: floats.Max(sample) - lo,
		}
	})
}

func compute(ds *raster.Dataset, frac float64, seed int64, summarize func([]float64) BandStats) (map[string]BandStats, error) {
	if frac <= 0 || frac > 1 {
		return nil, fmt.Errorf("sample fraction %g outside (0, 1]", frac)
	}

	// One generator per band, reseeded from the caller's seed, so a band's
	// statistics do not depend on which bands precede it.
	out := make(map[string]BandStats, ds.Len())
	for _, name := range ds.BandNames() {
		band, _ := ds.Band(name)
		rng := rand.New(rand.NewSource(seed))
		sample := Sample(band.Data, frac, rng)
		out[name] = summarize(sample)
	}
	return out, nil
}

// Sample flattens the array and draws max(1, frac*total) pixels without
// replacement using the supplied generator.
func Sample(data *mat.Dense, frac float64, rng *rand.Rand) []float64 {
	rows, cols := data.Dims()
	total := rows * cols
	n := max(1, int(frac*float64(total)))
	if n > total {
		n = total
	}

	flat := data.RawMatrix().Data
	out := make([]float64, n)
	for i, idx := range rng.Perm(total)[:n] {
		out[i] = flat[idx]
	}
	return out
}
