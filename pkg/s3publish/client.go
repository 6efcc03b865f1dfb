// Package s3publish uploads finished output files to S3.
package s3publish

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Target is a bucket and key prefix parsed from s3://bucket/prefix.
type Target struct {
	Bucket string
	Prefix string
}

// ParseURI parses an S3 URI (s3://bucket/prefix) into a Target.
// The prefix may be empty; a trailing slash is dropped.
func ParseURI(uri string) (Target, error) {
	if !strings.HasPrefix(uri, "s3://") {
		return Target{}, errors.New("invalid S3 URI: must start with s3://")
	}

	rest := strings.TrimPrefix(uri, "s3://")
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Target{}, errors.New("invalid S3 URI: missing bucket name")
	}
	return Target{Bucket: bucket, Prefix: strings.Trim(prefix, "/")}, nil
}

// Key returns the object key for a local file name.
func (t Target) Key(name string) string {
	if t.Prefix == "" {
		return name
	}
	return path.Join(t.Prefix, name)
}

// String returns the target as an S3 URI.
func (t Target) String() string {
	if t.Prefix == "" {
		return "s3://" + t.Bucket
	}
	return "s3://" + t.Bucket + "/" + t.Prefix
}

// NewS3Client creates an S3 client using the default AWS configuration chain.
func NewS3Client(ctx context.Context) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

// NewS3ClientWithConfig creates an S3 client with a custom AWS config and
// client options, for example a custom endpoint with path-style addressing.
func NewS3ClientWithConfig(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
	return s3.NewFromConfig(cfg, optFns...)
}
