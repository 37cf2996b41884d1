package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) s3API {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// s3API is the subset of *s3.Client used by ObjectStore
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type ObjectStoreOptions struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Endpoint  string // S3-compatible endpoint such as MinIO; path-style addressing is used when set
	Prefix    string
}

// ObjectStore keeps blobs in an S3 bucket
type ObjectStore struct {
	client s3API
	bucket string
	prefix string
}

func NewObjectStore(ctx context.Context, opts ObjectStoreOptions) (*ObjectStore, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(opts.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKey,
			opts.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %w", ErrInvalidConfig, err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	prefix := strings.Trim(opts.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &ObjectStore{client: client, bucket: opts.Bucket, prefix: prefix}, nil
}

func (o *ObjectStore) Put(ctx context.Context, key string, blob []byte) error {
	_, err := o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(o.bucket),
		Key:           aws.String(o.prefix + key),
		Body:          bytes.NewReader(blob),
		ContentLength: aws.Int64(int64(len(blob))),
	})
	if err != nil {
		return classifyS3(ctx, "put "+key, err)
	}
	return nil
}

func (o *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.prefix + key),
	})
	if err != nil {
		return nil, classifyS3(ctx, "get "+key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, classifyS3(ctx, "read "+key, err)
	}
	return data, nil
}

func (o *ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := o.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(o.prefix + key),
	})
	if err != nil {
		err = classifyS3(ctx, "delete "+key, err)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (o *ObjectStore) ListKeys(ctx context.Context) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	p := s3.NewListObjectsV2Paginator(o.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(o.bucket),
		Prefix: aws.String(o.prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classifyS3(ctx, "list", err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), o.prefix)
			if key == "" || strings.HasSuffix(key, "/") {
				continue
			}
			keys[key] = struct{}{}
		}
	}
	return keys, nil
}

var (
	s3AuthCodes = map[string]bool{
		"AccessDenied":          true,
		"InvalidAccessKeyId":    true,
		"SignatureDoesNotMatch": true,
		"ExpiredToken":          true,
		"InvalidToken":          true,
	}
	s3NotFoundCodes = map[string]bool{
		"NoSuchKey": true,
		"NotFound":  true,
	}
)

// classifyS3 maps SDK errors onto the backend error set.
// Anything not recognized as auth or not-found is treated as transient.
func classifyS3(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case s3AuthCodes[code]:
			return fmt.Errorf("%w: %s: %s", ErrAuth, op, apiErr.ErrorMessage())
		case s3NotFoundCodes[code]:
			return fmt.Errorf("%w: %s", ErrNotFound, op)
		case code == "NoSuchBucket":
			return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, op, apiErr.ErrorMessage())
		}
	}

	var statusErr interface{ HTTPStatusCode() int }
	if errors.As(err, &statusErr) {
		switch status := statusErr.HTTPStatusCode(); {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return fmt.Errorf("%w: %s: %w", ErrAuth, op, err)
		case status == http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, op)
		}
	}

	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
