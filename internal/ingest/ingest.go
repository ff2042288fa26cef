// Package ingest turns a scene identifier into a persisted raster dataset:
// catalog resolution, asset fetch, and reconciliation of all fetched bands
// onto one reference grid.
package ingest

import (
	"context"
	"fmt"
	"os"
)

// SceneAssets describes a downloaded scene: the files per logical band, in
// band order, held in a caller-private temporary directory.
type SceneAssets struct {
	SceneID string
	Bands   []string
	Files   map[string]string
	// TmpDir is removed once the scene is stored.
	TmpDir string
}

// Ingestor is the two-operation contract every sensor variant satisfies:
// download the raw scene, then convert it into the chunked store at dst. The
// orchestration of the two steps is fixed; see Run.
type Ingestor interface {
	Download(ctx context.Context, sceneID string) (*SceneAssets, error)
	Store(ctx context.Context, assets *SceneAssets, dst string) error
}

// Run executes the shared end-to-end ingestion pipeline for any sensor
// variant.
func Run(ctx context.Context, ing Ingestor, sceneID, dst string) error {
	assets, err := ing.Download(ctx, sceneID)
	if err != nil {
		return fmt.Errorf("download scene %s: %w", sceneID, err)
	}
	defer func() {
		if assets.TmpDir != "" {
			os.RemoveAll(assets.TmpDir)
		}
	}()

	if err := ing.Store(ctx, assets, dst); err != nil {
		return fmt.Errorf("store scene %s: %w", sceneID, err)
	}
	return nil
}
