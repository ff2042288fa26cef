package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound is returned when both the exact-date and the fallback search
// produce no catalog items.
var ErrNotFound = errors.New("no catalog item found")

// Resolver resolves a tile and target date to exactly one catalog item.
type Resolver struct {
	client       *Client
	collection   string
	tileProperty string
	logger       *slog.Logger
}

// NewResolver creates a resolver searching the given collection. tileProperty
// is the item property holding the tile designator (e.g. "s2:mgrs_tile").
func NewResolver(client *Client, collection, tileProperty string) *Resolver {
	return &Resolver{
		client:       client,
		collection:   collection,
		tileProperty: tileProperty,
		logger:       slog.Default(),
	}
}

// WithLogger sets a custom logger for the resolver
func (r *Resolver) WithLogger(logger *slog.Logger) *Resolver {
	r.logger = logger
	return r
}

// Resolve finds the catalog item for a tile and target date. It first searches
// the 24-hour window of the target date; if that is empty it falls back to the
// most recent item acquired at or before the end of the target date. Catalogs
// may return several items per search; only the first, in provider order (the
// fallback sorts by datetime descending), is used.
func (r *Resolver) Resolve(ctx context.Context, tile string, date time.Time) (*Item, error) {
	day := date.UTC().Format("2006-01-02")
	tileQuery := map[string]any{
		r.tileProperty: map[string]any{"eq": tile},
	}

	exact := &SearchRequest{
		Collections: []string{r.collection},
		Query:       tileQuery,
		DateTime:    fmt.Sprintf("%sT00:00:00Z/%sT23:59:59Z", day, day),
		Limit:       1,
	}
	result, err := r.client.Search(ctx, exact)
	if err != nil {
		return nil, fmt.Errorf("exact-date search for tile %s: %w", tile, err)
	}

	if len(result.Features) == 0 {
		r.logger.DebugContext(ctx, "no exact-date match, falling back to most recent",
			slog.String("tile", tile),
			slog.String("date", day),
		)
		fallback := &SearchRequest{
			Collections: []string{r.collection},
			Query:       tileQuery,
			DateTime:    fmt.Sprintf("../%sT23:59:59Z", day),
			Sortby:      []SortbyItem{{Field: "properties.datetime", Direction: "desc"}},
			Limit:       1,
		}
		result, err = r.client.Search(ctx, fallback)
		if err != nil {
			return nil, fmt.Errorf("fallback search for tile %s: %w", tile, err)
		}
	}

	if len(result.Features) == 0 {
		return nil, fmt.Errorf("%w: tile %s up to %s", ErrNotFound, tile, day)
	}

	item := result.Features[0]
	r.logger.InfoContext(ctx, "resolved catalog item",
		slog.String("tile", tile),
		slog.String("item_id", item.Id),
	)
	return item, nil
}
