package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/rkm/satpipe/internal/fetch"
	"github.com/rkm/satpipe/internal/geotiff"
	"github.com/rkm/satpipe/internal/raster"
	"github.com/rkm/satpipe/internal/zarr"
)

// SARIngestor ingests radar scenes from a fixed measurement-file layout under
// the configured base URL. Only the VH polarization is ingested.
type SARIngestor struct {
	baseURL string
	fetcher fetch.Fetcher
	logger  *slog.Logger
}

// NewSARIngestor creates a radar ingestor fetching from baseURL.
func NewSARIngestor(baseURL string, fetcher fetch.Fetcher) *SARIngestor {
	return &SARIngestor{
		baseURL: strings.TrimRight(baseURL, "/"),
		fetcher: fetcher,
		logger:  slog.Default(),
	}
}

// WithLogger sets a custom logger for the ingestor
func (s *SARIngestor) WithLogger(logger *slog.Logger) *SARIngestor {
	s.logger = logger
	return s
}

// Download fetches the scene's VH measurement file.
func (s *SARIngestor) Download(ctx context.Context, sceneID string) (*SceneAssets, error) {
	ref := fmt.Sprintf("%s/%s/measurement/%s-VH.tiff", s.baseURL, sceneID, sceneID)

	tmp, err := os.MkdirTemp("", "sar_"+strings.ReplaceAll(sceneID, "/", "_")+"_")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	path := filepath.Join(tmp, "VH.tif")

	s.logger.InfoContext(ctx, "fetching measurement",
		slog.String("scene_id", sceneID),
		slog.String("ref", ref),
	)
	if err := s.fetcher.Fetch(ctx, ref, path); err != nil {
		os.RemoveAll(tmp)
		return nil, err
	}

	return &SceneAssets{
		SceneID: sceneID,
		Bands:   []string{"VH"},
		Files:   map[string]string{"VH": path},
		TmpDir:  tmp,
	}, nil
}

// Store reads the measurement raster and persists it as a single-band
// dataset at dst.
func (s *SARIngestor) Store(ctx context.Context, assets *SceneAssets, dst string) error {
	r, err := geotiff.Read(assets.Files["VH"])
	if err != nil {
		return err
	}
	band, err := raster.NewBand("VH", r.Data, r.Grid)
	if err != nil {
		return err
	}

	ds := raster.NewDataset(r.Grid)
	ds.Attrs["scene_id"] = assets.SceneID
	if err := ds.AddBand(band); err != nil {
		return err
	}
	ds.StampDigest()

	s.logger.InfoContext(ctx, "storing radar scene",
		slog.String("scene_id", assets.SceneID),
		slog.String("dst", dst),
	)
	return zarr.Write(dst, ds)
}
