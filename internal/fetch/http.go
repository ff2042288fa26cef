package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// HTTPFetcher downloads blobs over HTTP(S).
type HTTPFetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPFetcher creates an HTTP fetcher with a per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the fetcher
func (f *HTTPFetcher) WithLogger(logger *slog.Logger) *HTTPFetcher {
	f.logger = logger
	return f
}

// Fetch streams ref to dst. Non-2xx responses and transport errors are
// reported as a FailureError; dst is removed on failure so a broken download
// never masquerades as a valid file.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return &FailureError{Ref: ref, Err: err}
	}
	req.Header.Set("User-Agent", "satpipe/1.0")

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		f.logger.ErrorContext(ctx, "blob fetch failed",
			slog.String("ref", ref),
			slog.String("error", err.Error()),
		)
		return &FailureError{Ref: ref, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.ErrorContext(ctx, "blob fetch returned non-success status",
			slog.String("ref", ref),
			slog.Int("status_code", resp.StatusCode),
		)
		return &FailureError{Ref: ref, Status: resp.StatusCode}
	}

	out, err := os.Create(dst)
	if err != nil {
		return &FailureError{Ref: ref, Err: fmt.Errorf("create %s: %w", dst, err)}
	}

	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return &FailureError{Ref: ref, Err: err}
	}

	f.logger.DebugContext(ctx, "blob fetched",
		slog.String("ref", ref),
		slog.Int64("bytes", written),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}
