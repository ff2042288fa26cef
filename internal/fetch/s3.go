package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client used by the fetcher.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads blobs referenced as s3://bucket/key. Some catalog
// providers expose asset hrefs only as S3 URIs.
type S3Fetcher struct {
	client s3API
	logger *slog.Logger
}

// NewS3Fetcher creates an S3 fetcher using the ambient AWS configuration.
func NewS3Fetcher(ctx context.Context) (*S3Fetcher, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return &S3Fetcher{
		client: s3.NewFromConfig(cfg),
		logger: slog.Default(),
	}, nil
}

// WithLogger sets a custom logger for the fetcher
func (f *S3Fetcher) WithLogger(logger *slog.Logger) *S3Fetcher {
	f.logger = logger
	return f
}

// Fetch streams the object behind an s3:// ref to dst.
func (f *S3Fetcher) Fetch(ctx context.Context, ref, dst string) error {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return &FailureError{Ref: ref, Err: fmt.Errorf("not an s3 URI")}
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")

	obj, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		f.logger.ErrorContext(ctx, "S3 fetch failed",
			slog.String("ref", ref),
			slog.String("error", err.Error()),
		)
		return &FailureError{Ref: ref, Err: err}
	}
	defer obj.Body.Close()

	out, err := os.Create(dst)
	if err != nil {
		return &FailureError{Ref: ref, Err: fmt.Errorf("create %s: %w", dst, err)}
	}

	written, err := io.Copy(out, obj.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return &FailureError{Ref: ref, Err: err}
	}

	f.logger.DebugContext(ctx, "blob fetched from S3",
		slog.String("ref", ref),
		slog.Int64("bytes", written),
	)
	return nil
}
