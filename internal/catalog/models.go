// Package catalog resolves scene identifiers against a STAC search API and
// maps logical band names onto concrete catalog assets. It wraps
// planetlabs/go-stac for the core item and asset types.
package catalog

import (
	"fmt"
	"time"

	gostac "github.com/planetlabs/go-stac"
)

// Re-export core types from planetlabs/go-stac for convenience
type (
	Item  = gostac.Item
	Asset = gostac.Asset
)

// ItemCollection is the GeoJSON FeatureCollection returned by a STAC item
// search.
type ItemCollection struct {
	Type     string         `json:"type"` // "FeatureCollection"
	Features []*gostac.Item `json:"features"`
}

// SortbyItem represents a single sort criterion
type SortbyItem struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // "asc" or "desc"
}

// SearchRequest is the body of a POST /search request against a STAC API.
type SearchRequest struct {
	Collections []string       `json:"collections,omitempty"`
	DateTime    string         `json:"datetime,omitempty"`
	Query       map[string]any `json:"query,omitempty"`
	Sortby      []SortbyItem   `json:"sortby,omitempty"`
	Limit       int            `json:"limit,omitempty"`
}

// Time formats observed in catalog item datetime properties.
var itemTimeFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05",
}

// ItemTime parses the acquisition timestamp from an item's datetime property.
// Returns time in UTC.
func ItemTime(item *gostac.Item) (time.Time, error) {
	raw, ok := item.Properties["datetime"]
	if !ok || raw == nil {
		return time.Time{}, fmt.Errorf("item %s has no datetime property", item.Id)
	}
	s, ok := raw.(string)
	if !ok {
		return time.Time{}, fmt.Errorf("item %s: datetime property is not a string", item.Id)
	}

	var lastErr error
	for _, format := range itemTimeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("failed to parse item datetime %q: %w", s, lastErr)
}
