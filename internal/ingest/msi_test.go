package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/rkm/satpipe/internal/catalog"
	"github.com/rkm/satpipe/internal/fetch"
	"github.com/rkm/satpipe/internal/geotiff"
	"github.com/rkm/satpipe/internal/grid"
	"github.com/rkm/satpipe/internal/zarr"
)

func TestParseSceneID(t *testing.T) {
	tile, date, err := ParseSceneID("T44RFQ/2025/07/15")
	if err != nil {
		t.Fatalf("ParseSceneID failed: %v", err)
	}
	if tile != "44RFQ" {
		t.Errorf("tile = %s, want 44RFQ (leading T stripped)", tile)
	}
	if !date.Equal(time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v", date)
	}

	if _, _, err := ParseSceneID("44RFQ/2025/07/15"); err != nil {
		t.Errorf("leading T should be optional: %v", err)
	}
	if _, _, err := ParseSceneID("T44RFQ/2025-07-15"); err == nil {
		t.Error("malformed scene id accepted")
	}
	if _, _, err := ParseSceneID("T44RFQ/2025/13/40"); err == nil {
		t.Error("impossible date accepted")
	}
}

// serveScene stands up a STAC catalog and an asset server backed by generated
// GeoTIFFs: three 10 m bands and one 20 m band covering the same extent.
func serveScene(t *testing.T) (catalogURL string) {
	t.Helper()

	dir := t.TempDir()
	highRes := grid.Grid{
		Transform: grid.Affine{A: 10, E: -10, C: 600000, F: 5000000},
		Width:     4,
		Height:    4,
		CRS:       "EPSG:32644",
	}
	lowRes := grid.Grid{
		Transform: grid.Affine{A: 20, E: -20, C: 600000, F: 5000000},
		Width:     2,
		Height:    2,
		CRS:       "EPSG:32644",
	}

	for i, name := range []string{"B02", "B03", "B04"} {
		values := make([]float64, 16)
		for j := range values {
			values[j] = float64(i*100 + j)
		}
		raster := &geotiff.Raster{Data: mat.NewDense(4, 4, values), Grid: highRes}
		if err := geotiff.Write(filepath.Join(dir, name+".tif"), raster); err != nil {
			t.Fatal(err)
		}
	}
	nir := &geotiff.Raster{Data: mat.NewDense(2, 2, []float64{1000, 2000, 3000, 4000}), Grid: lowRes}
	if err := geotiff.Write(filepath.Join(dir, "B08.tif"), nir); err != nil {
		t.Fatal(err)
	}

	assetServer := httptest.NewServer(http.FileServer(http.Dir(dir)))
	t.Cleanup(assetServer.Close)

	catalogServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The item exposes provider-style aliases, not canonical band names,
		// and only a nir08 key for B08.
		item := map[string]any{
			"type":         "Feature",
			"stac_version": "1.0.0",
			"id":           "S2A_MSIL2A_20250715",
			"collection":   "sentinel-2-l2a",
			"geometry":     nil,
			"links":        []any{},
			"properties":   map[string]any{"datetime": "2025-07-15T05:16:41Z"},
			"assets": map[string]any{
				"blue":  map[string]any{"href": assetServer.URL + "/B02.tif"},
				"green": map[string]any{"href": assetServer.URL + "/B03.tif"},
				"red":   map[string]any{"href": assetServer.URL + "/B04.tif"},
				"nir08": map[string]any{"href": assetServer.URL + "/B08.tif"},
			},
		}
		json.NewEncoder(w).Encode(map[string]any{
			"type":     "FeatureCollection",
			"features": []any{item},
		})
	}))
	t.Cleanup(catalogServer.Close)

	return catalogServer.URL
}

func TestMSIIngestor_EndToEnd(t *testing.T) {
	catalogURL := serveScene(t)

	client := catalog.NewClient(catalogURL, 10*time.Second)
	resolver := catalog.NewResolver(client, "sentinel-2-l2a", "s2:mgrs_tile")
	fetcher := &fetch.Router{HTTP: fetch.NewHTTPFetcher(10 * time.Second)}
	ing := NewMSIIngestor(resolver, catalog.DefaultAliases(), fetcher)

	dst := filepath.Join(t.TempDir(), "scene.zarr")
	if err := Run(context.Background(), ing, "T44RFQ/2025/07/15", dst); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	ds, err := zarr.Read(dst)
	if err != nil {
		t.Fatalf("reading ingested store failed: %v", err)
	}

	want := []string{"B02", "B03", "B04", "B08"}
	got := ds.BandNames()
	if len(got) != len(want) {
		t.Fatalf("bands %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("bands %v, want %v", got, want)
		}
	}

	// Everything landed on the 10 m reference grid.
	if ds.Grid().Width != 4 || ds.Grid().Height != 4 {
		t.Errorf("dataset grid %s, want 4x4", ds.Grid())
	}
	b08, _ := ds.Band("B08")
	if gotv := b08.Data.At(0, 0); gotv != 1000 {
		t.Errorf("upsampled B08[0,0] = %g, want 1000", gotv)
	}
	if gotv := b08.Data.At(3, 3); gotv != 4000 {
		t.Errorf("upsampled B08[3,3] = %g, want 4000", gotv)
	}

	if ds.Attrs["scene_id"] != "T44RFQ/2025/07/15" {
		t.Errorf("scene_id attr = %q", ds.Attrs["scene_id"])
	}
	if ds.Attrs["hash"] == "" {
		t.Error("integrity digest not stamped")
	}
}

func TestMSIIngestor_FetchFailureAborts(t *testing.T) {
	// Catalog resolves, but the asset server answers 403 for every band.
	assetServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer assetServer.Close()

	catalogServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"type":"FeatureCollection","features":[{
			"type":"Feature","stac_version":"1.0.0","id":"S2A","collection":"sentinel-2-l2a",
			"geometry":null,"links":[],
			"properties":{"datetime":"2025-07-15T05:16:41Z"},
			"assets":{"blue":{"href":%q}}}]}`, assetServer.URL+"/B02.tif")
	}))
	defer catalogServer.Close()

	client := catalog.NewClient(catalogServer.URL, 10*time.Second)
	resolver := catalog.NewResolver(client, "sentinel-2-l2a", "s2:mgrs_tile")
	ing := NewMSIIngestor(resolver, catalog.DefaultAliases(), fetch.NewHTTPFetcher(10*time.Second))

	dst := filepath.Join(t.TempDir(), "scene.zarr")
	err := Run(context.Background(), ing, "T44RFQ/2025/07/15", dst)
	if err == nil {
		t.Fatal("expected ingest to fail on fetch failure")
	}
	if _, statErr := zarr.Read(dst); statErr == nil {
		t.Error("failed ingest still produced a store at the destination")
	}
}
