package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "raffleflow/config"
	"raffleflow/logger"
	"raffleflow/models"
)

// Writer uploads final round snapshots to S3 so every round's standings are
// retained after a reset. Archiving is best effort: a failed upload is
// logged by the caller and never blocks the reset itself.
type Writer struct {
	client *s3.Client
	bucket string
	prefix string
	log    *logger.Log
}

// NewWriter builds the round archiver. It returns (nil, nil) when S3 storage
// is disabled in the configuration.
func NewWriter(cfg appconfig.S3Config) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	log := logger.GetLogger()
	ctx := context.Background()

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	w := &Writer{
		client: s3.NewFromConfig(awsCfg),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    log,
	}

	log.WithComponent("archive").WithFields(logger.Fields{
		"region": cfg.Region,
		"bucket": cfg.Bucket,
		"prefix": cfg.Prefix,
	}).Info("round archiver initialized")

	return w, nil
}

// ArchiveRound uploads the snapshot as one JSON object keyed by round ID and
// upload time.
func (w *Writer) ArchiveRound(ctx context.Context, snap models.Ledger) error {
	if w == nil {
		return nil
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal round snapshot: %w", err)
	}

	key := objectKey(w.prefix, snap.Meta.RoundID, time.Now().UTC())

	if _, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}); err != nil {
		return fmt.Errorf("failed to upload round snapshot: %w", err)
	}

	w.log.WithComponent("archive").WithFields(logger.Fields{
		"key":   key,
		"bytes": len(data),
	}).Info("round snapshot archived")

	return nil
}

func objectKey(prefix, roundID string, ts time.Time) string {
	return path.Join(prefix, roundID, ts.Format("20060102T150405Z")+".json")
}
