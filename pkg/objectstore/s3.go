package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"go.corestream.dev/corestream/pkg/corerr"
)

// S3Store implements Store over an S3-compatible bucket, grounded on the
// aws-sdk-go-v2 dependency used by the evalgo-org-eve example.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store loads the default AWS config chain (env, shared config,
// IMDS) and returns a Store bound to bucket. endpoint overrides the
// resolved endpoint for S3-compatible stores (MinIO, etc.); pass "" to use
// AWS's default resolution.
func NewS3Store(ctx context.Context, bucket, region, endpoint string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: bucket}, nil
}

// Put uploads size bytes read from r to key.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	return nil
}

// GetRange fetches [offset, offset+length) from key via an HTTP Range GET.
func (s *S3Store) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	rangeHeader := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(rangeHeader),
	})
	if err != nil {
		return nil, Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	defer func() { _ = out.Body.Close() }()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, out.Body); err != nil {
		return nil, Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	return buf.Bytes(), nil
}

// Size returns key's content length.
func (s *S3Store) Size(ctx context.Context, key string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return 0, Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	return aws.ToInt64(out.ContentLength), nil
}

// Delete removes key.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Error.Wrap(corerr.Wrap(corerr.IoError, err))
	}
	return nil
}
