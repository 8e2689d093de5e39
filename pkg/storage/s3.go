package storage

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/mzaldivar/centralita/pkg/errorsx"
)

// S3Client abstracts the S3 API operations used by [S3Store].
// The [s3.Client] type satisfies this interface.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Store implements Store backed by Amazon S3 or any S3-compatible
// object store (MinIO, Cloudflare R2, etc.).
//
// Keys are mapped to S3 object keys under an optional prefix. The
// caller is responsible for configuring the [s3.Client] with
// appropriate credentials, region, and endpoint. PublicBase is the
// base URL objects are served from (CDN or bucket public domain).
type S3Store struct {
	client     S3Client
	bucket     string
	prefix     string
	publicBase string
}

// NewS3 creates an S3-backed Store.
//
// Prefix is prepended to all object keys; pass "" for no prefix.
// publicBase must not include the prefix; URL joins both.
func NewS3(client S3Client, bucket, prefix, publicBase string) *S3Store {
	return &S3Store{
		client:     client,
		bucket:     bucket,
		prefix:     prefix,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// key builds the full S3 object key for the given storage key.
func (s *S3Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

// Exists checks whether the named object exists via HeadObject.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, errorsx.Wrap(err, errorsx.ReasonStorageHead)
	}
	return true, nil
}

// Put writes the object via PutObject.
func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(key)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonStorageUpload)
	}
	return nil
}

// URL returns the public URL for key under the configured base.
func (s *S3Store) URL(key string) string {
	return s.publicBase + "/" + s.key(key)
}

// isS3NotFound reports whether err indicates the S3 object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// Compile-time interface check.
var _ Store = (*S3Store)(nil)
