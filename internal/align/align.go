// Package align reprojects every band of a merged dataset onto the grid of a
// chosen reference band, so all bands end up on one target sampling grid.
package align

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/rkm/satpipe/internal/grid"
	"github.com/rkm/satpipe/internal/raster"
)

// Aligner regrids datasets using bilinear resampling.
type Aligner struct {
	workers int
	logger  *slog.Logger
}

// NewAligner creates an aligner. workers bounds per-band parallelism; zero or
// negative means one worker per CPU.
func NewAligner(workers int) *Aligner {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Aligner{workers: workers, logger: slog.Default()}
}

// WithLogger sets a custom logger for the aligner
func (a *Aligner) WithLogger(logger *slog.Logger) *Aligner {
	a.logger = logger
	return a
}

// Regrid reprojects all bands of ds, the reference included, onto the grid of
// referenceBand using bilinear interpolation. Per-band work runs on a bounded
// worker pool; the output is assembled by band order, so completion order is
// not observable. Any single band failure aborts the whole alignment.
func (a *Aligner) Regrid(ctx context.Context, ds *raster.Dataset, referenceBand string) (*raster.Dataset, error) {
	ref, ok := ds.Band(referenceBand)
	if !ok {
		return nil, fmt.Errorf("reference band %s is not in the dataset", referenceBand)
	}
	target := ref.Grid

	names := ds.BandNames()
	resampled := make([]*raster.Band, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, name := range names {
		band, _ := ds.Band(name)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := grid.Reproject(band.Data, band.Grid, target, grid.Bilinear)
			if err != nil {
				return fmt.Errorf("band %s: %w", name, err)
			}
			nb, err := raster.NewBand(name, data, target)
			if err != nil {
				return err
			}
			resampled[i] = nb
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := raster.NewDataset(target)
	for k, v := range ds.Attrs {
		out.Attrs[k] = v
	}
	for _, band := range resampled {
		if err := out.AddBand(band); err != nil {
			return nil, err
		}
	}

	a.logger.InfoContext(ctx, "dataset aligned",
		slog.String("reference_band", referenceBand),
		slog.Int("bands", out.Len()),
		slog.Int("height", target.Height),
		slog.Int("width", target.Width),
	)
	return out, nil
}
