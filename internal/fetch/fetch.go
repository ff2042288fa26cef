// Package fetch retrieves scene assets referenced by a catalog item and
// stores them at caller-private local paths. References may be https:// or
// s3:// URIs; a Router dispatches on the scheme.
package fetch

import (
	"context"
	"fmt"
	"net/url"
)

// Fetcher streams the bytes behind a reference to a local path. A failed
// fetch must surface as an error, never as a silently empty file.
type Fetcher interface {
	Fetch(ctx context.Context, ref, dst string) error
}

// FailureError reports a transport or status failure retrieving a blob.
type FailureError struct {
	Ref    string
	Status int
	Err    error
}

func (e *FailureError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Ref, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.Ref, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// Router dispatches fetches by URI scheme.
type Router struct {
	HTTP Fetcher
	S3   Fetcher
}

// Fetch routes ref to the fetcher for its scheme.
func (r *Router) Fetch(ctx context.Context, ref, dst string) error {
	u, err := url.Parse(ref)
	if err != nil {
		return &FailureError{Ref: ref, Err: err}
	}
	switch u.Scheme {
	case "http", "https":
		if r.HTTP == nil {
			return &FailureError{Ref: ref, Err: fmt.Errorf("no HTTP fetcher configured")}
		}
		return r.HTTP.Fetch(ctx, ref, dst)
	case "s3":
		if r.S3 == nil {
			return &FailureError{Ref: ref, Err: fmt.Errorf("no S3 fetcher configured")}
		}
		return r.S3.Fetch(ctx, ref, dst)
	default:
		return &FailureError{Ref: ref, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
}
