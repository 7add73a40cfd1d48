// pkg/publish/publish.go
package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/config"
)

// Publisher makes finished report files available to readers
type Publisher interface {
	Publish(ctx context.Context, files []string) error
	Name() string
}

// New returns an S3 publisher when a bucket is configured, otherwise a local one
func New(ctx context.Context, cfg config.PublishConfig, logger *zap.Logger) (Publisher, error) {
	if cfg.S3Bucket == "" {
		return NewLocalPublisher(logger), nil
	}
	return NewS3Publisher(ctx, cfg, logger)
}

// LocalPublisher leaves reports where they were written
type LocalPublisher struct {
	logger *zap.Logger
}

// NewLocalPublisher creates a local publisher
func NewLocalPublisher(logger *zap.Logger) *LocalPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalPublisher{logger: logger}
}

// Publish only checks that every file exists
func (p *LocalPublisher) Publish(ctx context.Context, files []string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("failed to publish %s: %w", f, err)
		}
	}
	p.logger.Info("Reports available locally", zap.Int("files", len(files)))
	return nil
}

// Name identifies the publisher in logs
func (p *LocalPublisher) Name() string {
	return "local"
}

// ObjectPutter is the part of the S3 client used for uploads
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads reports to a bucket under a key prefix
type S3Publisher struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *zap.Logger
}

// NewS3Publisher creates an S3 publisher from the default AWS credential chain
func NewS3Publisher(ctx context.Context, cfg config.PublishConfig, logger *zap.Logger) (*S3Publisher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return NewS3PublisherWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.S3Bucket, cfg.S3Prefix, logger), nil
}

// NewS3PublisherWithClient creates an S3 publisher with a pre-configured client
func NewS3PublisherWithClient(client ObjectPutter, bucket, prefix string, logger *zap.Logger) *S3Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Publisher{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
	}
}

// Publish uploads each file as text/html, keyed by prefix and base name
func (p *S3Publisher) Publish(ctx context.Context, files []string) error {
	for _, f := range files {
		if err := p.upload(ctx, f); err != nil {
			return err
		}
	}
	p.logger.Info("Reports published",
		zap.String("bucket", p.bucket),
		zap.String("prefix", p.prefix),
		zap.Int("files", len(files)))
	return nil
}

func (p *S3Publisher) upload(ctx context.Context, file string) error {
	fh, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer fh.Close()

	key := p.Key(file)
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        fh,
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", file, p.bucket, key, err)
	}

	p.logger.Debug("Uploaded report", zap.String("key", key))
	return nil
}

// Key returns the object key for a local file
func (p *S3Publisher) Key(file string) string {
	if p.prefix == "" {
		return filepath.Base(file)
	}
	return path.Join(p.prefix, filepath.Base(file))
}

// Name identifies the publisher in logs
func (p *S3Publisher) Name() string {
	return "s3"
}
