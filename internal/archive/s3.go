package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Backend stores archive objects in S3 or MinIO.
type S3Backend struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// NewS3Backend creates a backend from the archive configuration.
// A non-empty Endpoint selects MinIO-style addressing.
func NewS3Backend(cfg *Config) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1" // Default region for MinIO
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"", // session token (not used for MinIO)
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.Contains(endpoint, "://") {
			endpoint = "http://" + endpoint
		}
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO
		})
	} else if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)
	presigner := s3.NewPresignClient(client)

	return &S3Backend{
		client:    client,
		presigner: presigner,
		bucket:    cfg.Bucket,
	}, nil
}

// Put stores data and returns a reference with its SHA256 checksum.
func (b *S3Backend) Put(ctx context.Context, path string, data io.Reader, contentType string) (*ArchiveRef, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	hash := sha256.Sum256(content)

	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(content),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(content))),
	})
	if err != nil {
		return nil, fmt.Errorf("put object: %w", err)
	}

	return &ArchiveRef{
		URI:         fmt.Sprintf("s3://%s/%s", b.bucket, path),
		ContentType: contentType,
		Size:        int64(len(content)),
		Checksum:    hex.EncodeToString(hash[:]),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Get retrieves the object at a path.
func (b *S3Backend) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return result.Body, nil
}

// Delete removes the object at a path.
func (b *S3Backend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// PresignGet generates a presigned URL for download.
func (b *S3Backend) PresignGet(ctx context.Context, path string, expiry time.Duration) (string, error) {
	result, err := b.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return result.URL, nil
}

// Verify interface compliance
var _ Backend = (*S3Backend)(nil)
