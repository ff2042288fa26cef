package catalog

import (
	"errors"
	"testing"

	gostac "github.com/planetlabs/go-stac"
)

func itemWithAssets(keys ...string) *Item {
	assets := make(map[string]*gostac.Asset, len(keys))
	for _, key := range keys {
		assets[key] = &gostac.Asset{Href: "https://example.com/" + key}
	}
	return &gostac.Item{Id: "test-item", Assets: assets}
}

func TestAliasTable_ResolveAsset(t *testing.T) {
	table := DefaultAliases()

	tests := []struct {
		name     string
		assets   []string
		logical  string
		wantHref string
	}{
		{
			name:     "canonical key",
			assets:   []string{"B02", "blue"},
			logical:  "B02",
			wantHref: "https://example.com/B02",
		},
		{
			name:     "provider alias only",
			assets:   []string{"nir08", "scl"},
			logical:  "B08",
			wantHref: "https://example.com/nir08",
		},
		{
			name:     "alias order respected",
			assets:   []string{"red", "B04"},
			logical:  "B04",
			wantHref: "https://example.com/B04",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			asset, err := table.ResolveAsset(itemWithAssets(tt.assets...), tt.logical)
			if err != nil {
				t.Fatalf("ResolveAsset failed: %v", err)
			}
			if asset.Href != tt.wantHref {
				t.Errorf("resolved href %s, want %s", asset.Href, tt.wantHref)
			}
		})
	}
}

func TestAliasTable_MissingAsset(t *testing.T) {
	table := DefaultAliases()
	item := itemWithAssets("scl", "visual")

	_, err := table.ResolveAsset(item, "B08")
	var missing *MissingAssetError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingAssetError, got %v", err)
	}
	if missing.Band != "B08" {
		t.Errorf("error names band %s, want B08", missing.Band)
	}
	if len(missing.Available) != 2 {
		t.Errorf("error lists %d available keys, want 2", len(missing.Available))
	}
}

func TestAliasTable_UnknownLogicalBand(t *testing.T) {
	table := DefaultAliases()
	if _, err := table.ResolveAsset(itemWithAssets("B02"), "B11"); err == nil {
		t.Fatal("expected error for band outside the alias table")
	}
}
