package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/skypro1111/voicecap/internal/config"
)

// ContentType is stored on every archived recording.
const ContentType = "audio/wav"

// Archiver copies a finished recording somewhere durable and returns the
// location it was stored under.
type Archiver interface {
	Archive(ctx context.Context, name string, r io.Reader, size int64) (string, error)
}

// S3Client abstracts the S3 API operations used by S3Archiver.
// The s3.Client type satisfies this interface.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads recordings to Amazon S3 or any S3-compatible store.
// Keys have the form prefix/YYYY/MM/DD/<uuid>-<name>.
type S3Archiver struct {
	client S3Client
	bucket string
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewS3 wraps a pre-configured client.
func NewS3(client S3Client, bucket, prefix string, logger *slog.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger,
		now:    time.Now,
	}
}

// NewS3FromConfig builds an s3.Client from the default AWS credential chain
// and the archive section of the configuration.
func NewS3FromConfig(ctx context.Context, cfg config.ArchiveConfig, logger *slog.Logger) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	logger.Info("S3 archive configured",
		slog.String("bucket", cfg.Bucket),
		slog.String("prefix", cfg.Prefix),
		slog.String("region", cfg.Region))

	return NewS3(client, cfg.Bucket, cfg.Prefix, logger), nil
}

// Key returns the object key a recording called name would be stored under.
func (a *S3Archiver) Key(name string, id uuid.UUID) string {
	day := a.now().UTC().Format("2006/01/02")
	base := id.String() + "-" + path.Base(name)
	if a.prefix == "" {
		return day + "/" + base
	}
	return a.prefix + "/" + day + "/" + base
}

// Archive uploads size bytes from r and returns the object key.
func (a *S3Archiver) Archive(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	key := a.Key(name, uuid.New())
	start := time.Now()

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(ContentType),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("archive: put s3://%s/%s: %s: %w", a.bucket, key, apiErr.ErrorCode(), err)
		}
		return "", fmt.Errorf("archive: put s3://%s/%s: %w", a.bucket, key, err)
	}

	a.logger.Debug("Recording archived",
		slog.String("key", key),
		slog.Int64("bytes", size),
		slog.Duration("elapsed", time.Since(start)))
	return key, nil
}

// Compile-time interface check.
var _ Archiver = (*S3Archiver)(nil)
