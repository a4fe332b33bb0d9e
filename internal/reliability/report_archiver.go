package reliability

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	appconfig "github.com/frontieralpha/quant/internal/config"
)

const uploadTimeout = 30 * time.Second

// ReportArchiver uploads generated reports to S3-compatible object
// storage (AWS S3, Cloudflare R2, MinIO). One object per report, keyed
// by caller-supplied path.
type ReportArchiver struct {
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// NewReportArchiver builds an archiver from the archive settings.
// Returns (nil, nil) when archiving is disabled so callers can carry a
// nil archiver without branching on config.
func NewReportArchiver(cfg *appconfig.ArchiveConfig, log zerolog.Logger) (*ReportArchiver, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &ReportArchiver{
		uploader: manager.NewUploader(client),
		bucket:   cfg.Bucket,
		log:      log.With().Str("component", "report_archiver").Logger(),
	}, nil
}

// Upload stores a single report body under the given key.
func (a *ReportArchiver) Upload(key, contentType string, body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()

	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}

	a.log.Info().Str("key", key).Int("bytes", len(body)).Msg("Report archived")
	return nil
}
