package export

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/kvscope/kvscope/internal/config"
	"github.com/sirupsen/logrus"
)

// Uploader stores one object (for testing)
type Uploader interface {
	PutObject(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string, metadata map[string]string) error
}

// S3Uploader uploads to an S3-compatible server
type S3Uploader struct {
	client   *s3.Client
	endpoint string
	region   string
}

// NewS3Uploader creates a client for cfg. An empty endpoint targets AWS itself.
func NewS3Uploader(cfg config.ExportConfig) *S3Uploader {
	awsCfg := aws.Config{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Use path-style URLs for compatibility
		}
	})

	return &S3Uploader{
		client:   client,
		endpoint: cfg.Endpoint,
		region:   cfg.Region,
	}
}

// PutObject uploads an object
func (u *S3Uploader) PutObject(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string, metadata map[string]string) error {
	logrus.WithFields(logrus.Fields{
		"endpoint": u.endpoint,
		"bucket":   bucket,
		"key":      key,
		"size":     size,
	}).Debug("Uploading export to S3")

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          data,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Metadata:      metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to put object: %w", err)
	}
	return nil
}
