package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rkm/satpipe/internal/catalog"
	"github.com/rkm/satpipe/internal/fetch"
	"github.com/rkm/satpipe/internal/raster"
	"github.com/rkm/satpipe/internal/geotiff"
	"github.com/rkm/satpipe/internal/zarr"
)

// msiBands is the ingestion order of the logical optical bands.
var msiBands = []string{"B02", "B03", "B04", "B08"}

// MSIIngestor ingests optical multispectral scenes. Scene identifiers take
// the form TILE/YYYY/MM/DD, e.g. "T44RFQ/2025/07/15"; the leading "T" on the
// tile is optional.
type MSIIngestor struct {
	resolver *catalog.Resolver
	aliases  catalog.AliasTable
	fetcher  fetch.Fetcher
	logger   *slog.Logger
}

// NewMSIIngestor wires the catalog resolver, the alias table, and the blob
// fetcher into an optical ingestor.
func NewMSIIngestor(resolver *catalog.Resolver, aliases catalog.AliasTable, fetcher fetch.Fetcher) *MSIIngestor {
	return &MSIIngestor{
		resolver: resolver,
		aliases:  aliases,
		fetcher:  fetcher,
		logger:   slog.Default(),
	}
}

// WithLogger sets a custom logger for the ingestor
func (m *MSIIngestor) WithLogger(logger *slog.Logger) *MSIIngestor {
	m.logger = logger
	return m
}

// ParseSceneID splits an optical scene identifier into tile and date.
func ParseSceneID(sceneID string) (tile string, date time.Time, err error) {
	parts := strings.Split(sceneID, "/")
	if len(parts) != 4 {
		return "", time.Time{}, fmt.Errorf("scene id %q is not TILE/YYYY/MM/DD", sceneID)
	}
	tile = strings.TrimLeft(parts[0], "Tt")
	date, err = time.Parse("2006/01/02", strings.Join(parts[1:], "/"))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("scene id %q has invalid date: %w", sceneID, err)
	}
	return tile, date, nil
}

// Download resolves the catalog item for the scene and fetches every logical
// band into a private temporary directory.
func (m *MSIIngestor) Download(ctx context.Context, sceneID string) (*SceneAssets, error) {
	tile, date, err := ParseSceneID(sceneID)
	if err != nil {
		return nil, err
	}

	item, err := m.resolver.Resolve(ctx, tile, date)
	if err != nil {
		return nil, err
	}

	tmp, err := os.MkdirTemp("", "msi_"+strings.ReplaceAll(sceneID, "/", "_")+"_")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	assets := &SceneAssets{
		SceneID: sceneID,
		Files:   make(map[string]string, len(msiBands)),
		TmpDir:  tmp,
	}
	for _, logical := range msiBands {
		asset, err := m.aliases.ResolveAsset(item, logical)
		if err != nil {
			os.RemoveAll(tmp)
			return nil, err
		}

		ext := ".tif"
		if strings.HasSuffix(strings.ToLower(asset.Href), ".jp2") {
			ext = ".jp2"
		}
		path := filepath.Join(tmp, logical+ext)

		m.logger.InfoContext(ctx, "fetching band",
			slog.String("band", logical),
			slog.String("href", asset.Href),
		)
		if err := m.fetcher.Fetch(ctx, asset.Href, path); err != nil {
			os.RemoveAll(tmp)
			return nil, err
		}
		assets.Bands = append(assets.Bands, logical)
		assets.Files[logical] = path
	}
	return assets, nil
}

// Store reads the fetched rasters, reconciles them onto the reference band's
// grid, and persists the dataset at dst.
func (m *MSIIngestor) Store(ctx context.Context, assets *SceneAssets, dst string) error {
	bands := make([]*raster.Band, 0, len(assets.Bands))
	for _, name := range assets.Bands {
		r, err := geotiff.Read(assets.Files[name])
		if err != nil {
			return err
		}
		band, err := raster.NewBand(name, r.Data, r.Grid)
		if err != nil {
			return err
		}
		bands = append(bands, band)
	}

	ds, err := Reconcile(bands, ReferenceBand, assets.SceneID)
	if err != nil {
		return err
	}
	ds.StampDigest()

	m.logger.InfoContext(ctx, "storing reconciled scene",
		slog.String("scene_id", assets.SceneID),
		slog.Int("bands", ds.Len()),
		slog.String("dst", dst),
	)
	return zarr.Write(dst, ds)
}
