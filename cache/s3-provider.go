package cache

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the part of the S3 client used by S3Cache.
type S3API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Cache stores entries as objects in a bucket, so that several
// instances can share one cache.
// Cache keys are base64url encoded into object names below Prefix.
type S3Cache struct {
	client S3API
	bucket string
	prefix string
}

// S3Options configures the client created by NewS3CacheFromEnv.
type S3Options struct {
	Bucket string
	Prefix string
	// Region overrides the region of the shared config chain.
	Region string
}

// NewS3Cache creates a provider on top of an existing client.
func NewS3Cache(client S3API, bucket, prefix string) S3Cache {
	return S3Cache{client: client, bucket: bucket, prefix: prefix}
}

// NewS3CacheFromEnv loads the AWS config from the environment and shared
// config files and creates a provider for the bucket.
func NewS3CacheFromEnv(ctx context.Context, opts S3Options) (S3Cache, error) {
	if opts.Bucket == "" {
		return S3Cache{}, fmt.Errorf("S3 bucket not specified")
	}
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return S3Cache{}, fmt.Errorf("could not load AWS config: %w", err)
	}
	return NewS3Cache(s3.NewFromConfig(cfg), opts.Bucket, opts.Prefix), nil
}

func (s S3Cache) objectKey(key string) string {
	return s.prefix + base64.RawURLEncoding.EncodeToString([]byte(key))
}

func (s S3Cache) cacheKey(objectKey string) (string, error) {
	key, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(objectKey, s.prefix))
	return string(key), err
}

func (s S3Cache) AllKeys(ctx context.Context, prefix string, cb func(string)) error {
	// encoded prefixes are not prefixes of encoded keys, so list everything
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	keys := make([]string, 0)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, object := range page.Contents {
			key, err := s.cacheKey(aws.ToString(object.Key))
			if err != nil {
				continue
			}
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
	}
	for _, key := range keys {
		cb(key)
	}
	return nil
}

func (s S3Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer out.Body.Close()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s S3Cache) Put(ctx context.Context, key string, b []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(key)),
		Body:          bytes.NewReader(b),
		ContentLength: aws.Int64(int64(len(b))),
		ContentType:   aws.String("message/http"),
	})
	return err
}

func (s S3Cache) Purge(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	return err
}

func (s S3Cache) Has(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if isNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
