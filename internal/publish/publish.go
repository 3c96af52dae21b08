// Package publish uploads the final reference table to S3-compatible storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/matsen/pmcrefs/internal/config"
)

// ContentType is set on the uploaded table.
const ContentType = "text/tab-separated-values"

// ErrNotConfigured is returned when no bucket is set.
var ErrNotConfigured = errors.New("s3 bucket not configured")

// Uploader is the subset of the S3 client used for publishing.
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Result describes one upload.
type Result struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	Size   int64  `json:"size"`
}

// URI returns the s3:// location of the object.
func (r *Result) URI() string {
	return "s3://" + r.Bucket + "/" + r.Key
}

// Publisher uploads files under a bucket prefix.
type Publisher struct {
	client Uploader
	bucket string
	prefix string
	logger *zap.Logger
}

// New creates a Publisher on an existing client.
func New(client Uploader, bucket, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// NewS3Publisher builds a Publisher from the S3 settings, using the default
// AWS configuration chain with optional static credentials and endpoint.
func NewS3Publisher(ctx context.Context, cfg config.S3Config, logger *zap.Logger) (*Publisher, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return New(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// Key returns the object key for a local file.
func (p *Publisher) Key(localPath string) string {
	return path.Join(p.prefix, filepath.Base(localPath))
}

// Publish uploads the file at localPath to <prefix>/<base name>.
func (p *Publisher) Publish(ctx context.Context, localPath string) (*Result, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localPath, err)
	}

	key := p.Key(localPath)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading to s3://%s/%s: %w", p.bucket, key, err)
	}

	result := &Result{Bucket: p.bucket, Key: key, Size: info.Size()}
	p.logger.Info("published table", zap.String("uri", result.URI()), zap.Int64("bytes", info.Size()))
	return result, nil
}
