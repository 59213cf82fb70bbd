package objectstore

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/viktsys/marketdata-lake/domain"
	"github.com/viktsys/marketdata-lake/ierr"
)

// S3Store is the production ObjectStore backed by an S3-compatible bucket.
// It mirrors the connection-building style of rudder-server's warehouse S3
// integrations: one client built once at startup, every call scoped by a
// caller-supplied context and timeout.
type S3Store struct {
	client  *s3.Client
	bucket  string
	timeout time.Duration
}

// S3Config carries the credentials and endpoint needed to build the client.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string // optional, for S3-compatible endpoints
	Bucket          string
	Timeout         time.Duration
}

// NewS3Store builds an S3-backed ObjectStore. When AccessKeyID/SecretAccessKey
// are empty, it falls back to the default AWS credential chain (environment,
// IAM role, shared config) the same way the original loader's DuckDB
// `s3_secret` falls back to PROVIDER credential_chain.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	optFns = append(optFns, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &S3Store{client: client, bucket: cfg.Bucket, timeout: timeout}, nil
}

func (s *S3Store) Head(ctx context.Context, exchange domain.Exchange, dataDate time.Time) (ObjectMeta, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := BuildKey(exchange, dataDate, "Data")
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return ObjectMeta{}, &ierr.NotFound{Path: key}
		}
		return ObjectMeta{}, &ierr.TransientIO{Op: "s3.HeadObject", Err: err}
	}

	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return ObjectMeta{Path: key, SizeBytes: size}, nil
}

func (s *S3Store) Open(ctx context.Context, exchange domain.Exchange, dataDate time.Time) (io.ReadCloser, error) {
	key := BuildKey(exchange, dataDate, "Data")
	// No per-call timeout on the context passed to GetObject: the body is
	// streamed over the lifetime of the read, which for multi-GB files can
	// run far longer than the single-request timeout used for Head.
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, &ierr.NotFound{Path: key}
		}
		return nil, &ierr.TransientIO{Op: "s3.GetObject", Err: err}
	}

	gz, err := gzip.NewReader(out.Body)
	if err != nil {
		out.Body.Close()
		return nil, &ierr.DataMalformed{Context: key, Err: err}
	}

	return &gzipReadCloser{gz: gz, body: out.Body}, nil
}

// gzipReadCloser closes both the gzip.Reader and the underlying HTTP body.
type gzipReadCloser struct {
	gz   *gzip.Reader
	body io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	gzErr := g.gz.Close()
	bodyErr := g.body.Close()
	if gzErr != nil {
		return gzErr
	}
	return bodyErr
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "404":
			return true
		}
	}
	return false
}
