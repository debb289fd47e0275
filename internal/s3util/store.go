// Package s3util adapts the S3 API to the pipeline's Storage interface.
//
// Sources are streamed back to the caller unbuffered; buffering and the
// size cap belong to the decoder. Variants are written with their content
// type and the project cost-allocation tag.
package s3util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/rs/zerolog/log"
)

// variantCacheControl is set on every written variant. Output keys are
// derived from upload keys, which the front-end treats as immutable.
const variantCacheControl = "public, max-age=86400"

// API is the subset of *s3.Client the Store uses.
type API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store reads sources from and writes variants to S3.
type Store struct {
	client API
}

// NewStore creates a Store backed by client.
func NewStore(client API) *Store {
	return &Store{client: client}
}

// Fetch opens the object body. The caller must close it. A missing object
// is reported as fs.ErrNotExist.
func (s *Store) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Fetching source from S3")
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if isNotFound(err) {
		return nil, fmt.Errorf("S3 GetObject s3://%s/%s: %w: %w", bucket, key, fs.ErrNotExist, err)
	}
	if err != nil {
		return nil, fmt.Errorf("S3 GetObject s3://%s/%s: %w", bucket, key, err)
	}
	return result.Body, nil
}

// Put uploads body under key.
func (s *Store) Put(ctx context.Context, bucket, key, contentType string, body []byte) error {
	start := time.Now()
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &bucket,
		Key:           &key,
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   &contentType,
		CacheControl:  aws.String(variantCacheControl),
		Tagging:       ProjectTagging(),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject s3://%s/%s: %w", bucket, key, err)
	}
	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Variant uploaded to S3")
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var resp *smithyhttp.ResponseError
	return errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound
}
