package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestHTTPFetcher_Success(t *testing.T) {
	payload := []byte("geotiff bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	dst := filepath.Join(t.TempDir(), "B02.tif")
	f := NewHTTPFetcher(10 * time.Second)
	if err := f.Fetch(context.Background(), server.URL+"/B02.tif", dst); err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Errorf("fetched %q, want %q", got, payload)
	}
}

func TestHTTPFetcher_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	dst := filepath.Join(t.TempDir(), "missing.tif")
	f := NewHTTPFetcher(10 * time.Second)
	err := f.Fetch(context.Background(), server.URL+"/missing.tif", dst)

	var failure *FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("expected FailureError, got %v", err)
	}
	if failure.Status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", failure.Status)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Error("failed fetch left a file at the destination")
	}
}

func TestRouter_Dispatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	router := &Router{HTTP: NewHTTPFetcher(10 * time.Second)}

	dst := filepath.Join(t.TempDir(), "blob")
	if err := router.Fetch(context.Background(), server.URL, dst); err != nil {
		t.Fatalf("HTTP dispatch failed: %v", err)
	}

	if err := router.Fetch(context.Background(), "s3://bucket/key", dst); err == nil {
		t.Error("expected error when no S3 fetcher is configured")
	}
	if err := router.Fetch(context.Background(), "ftp://host/file", dst); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}
