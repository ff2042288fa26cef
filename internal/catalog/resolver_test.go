package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const itemTemplate = `{
	"type": "Feature",
	"stac_version": "1.0.0",
	"id": %q,
	"collection": "sentinel-2-l2a",
	"geometry": null,
	"properties": {"datetime": %q},
	"assets": {"blue": {"href": "https://example.com/B02.tif"}},
	"links": []
}`

func searchServer(t *testing.T, handler func(req *SearchRequest) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST request, got %s", r.Method)
		}
		if r.URL.Path != "/v1/search" {
			t.Errorf("expected path /v1/search, got %s", r.URL.Path)
		}
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode search request: %v", err)
		}
		w.Header().Set("Content-Type", "application/geo+json")
		fmt.Fprintf(w, `{"type": "FeatureCollection", "features": [%s]}`, handler(&req))
	}))
}

func TestResolver_ExactDateMatch(t *testing.T) {
	var requests []SearchRequest
	server := searchServer(t, func(req *SearchRequest) string {
		requests = append(requests, *req)
		return fmt.Sprintf(itemTemplate, "S2A_20240215", "2024-02-15T05:16:41Z")
	})
	defer server.Close()

	client := NewClient(server.URL+"/v1", 30*time.Second)
	resolver := NewResolver(client, "sentinel-2-l2a", "s2:mgrs_tile")

	date := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	item, err := resolver.Resolve(context.Background(), "44RFQ", date)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if item.Id != "S2A_20240215" {
		t.Errorf("resolved item %s, want S2A_20240215", item.Id)
	}

	if len(requests) != 1 {
		t.Fatalf("expected 1 search, got %d", len(requests))
	}
	req := requests[0]
	if req.DateTime != "2024-02-15T00:00:00Z/2024-02-15T23:59:59Z" {
		t.Errorf("exact search datetime = %q", req.DateTime)
	}
	if req.Limit != 1 {
		t.Errorf("exact search limit = %d, want 1", req.Limit)
	}
	tileFilter, ok := req.Query["s2:mgrs_tile"].(map[string]any)
	if !ok || tileFilter["eq"] != "44RFQ" {
		t.Errorf("tile query = %v", req.Query)
	}
}

func TestResolver_FallbackToMostRecent(t *testing.T) {
	var requests []SearchRequest
	server := searchServer(t, func(req *SearchRequest) string {
		requests = append(requests, *req)
		if len(requests) == 1 {
			return "" // no exact-date match
		}
		return fmt.Sprintf(itemTemplate, "S2A_20240212", "2024-02-12T05:16:41Z")
	})
	defer server.Close()

	client := NewClient(server.URL+"/v1", 30*time.Second)
	resolver := NewResolver(client, "sentinel-2-l2a", "s2:mgrs_tile")

	date := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	item, err := resolver.Resolve(context.Background(), "44RFQ", date)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if item.Id != "S2A_20240212" {
		t.Errorf("resolved item %s, want the earlier scene S2A_20240212", item.Id)
	}

	if len(requests) != 2 {
		t.Fatalf("expected 2 searches, got %d", len(requests))
	}
	fallback := requests[1]
	if fallback.DateTime != "../2024-02-15T23:59:59Z" {
		t.Errorf("fallback datetime = %q", fallback.DateTime)
	}
	if len(fallback.Sortby) != 1 || fallback.Sortby[0].Field != "properties.datetime" || fallback.Sortby[0].Direction != "desc" {
		t.Errorf("fallback sortby = %v", fallback.Sortby)
	}
}

func TestResolver_NotFound(t *testing.T) {
	server := searchServer(t, func(req *SearchRequest) string { return "" })
	defer server.Close()

	client := NewClient(server.URL+"/v1", 30*time.Second)
	resolver := NewResolver(client, "sentinel-2-l2a", "s2:mgrs_tile")

	date := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	_, err := resolver.Resolve(context.Background(), "44RFQ", date)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolver_SearchError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/v1", 30*time.Second)
	resolver := NewResolver(client, "sentinel-2-l2a", "s2:mgrs_tile")

	_, err := resolver.Resolve(context.Background(), "44RFQ", time.Now())
	if err == nil {
		t.Fatal("expected error from failing catalog")
	}
}

func TestItemTime(t *testing.T) {
	var ic ItemCollection
	raw := fmt.Sprintf(`{"type":"FeatureCollection","features":[%s]}`,
		fmt.Sprintf(itemTemplate, "S2A_20240215", "2024-02-15T05:16:41Z"))
	if err := json.Unmarshal([]byte(raw), &ic); err != nil {
		t.Fatal(err)
	}

	got, err := ItemTime(ic.Features[0])
	if err != nil {
		t.Fatalf("ItemTime failed: %v", err)
	}
	want := time.Date(2024, 2, 15, 5, 16, 41, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("ItemTime = %v, want %v", got, want)
	}
}
