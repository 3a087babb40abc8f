package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/appchat-platform/appchat-platform/internal/config"
	"github.com/appchat-platform/appchat-platform/internal/db/models"
	"github.com/appchat-platform/appchat-platform/internal/telemetry"
)

// archiveBatchSize is the maximum number of records exported per object.
const archiveBatchSize = 500

// logSource is the slice of the audit repository the archiver needs.
type logSource interface {
	ListAuditLogsSince(ctx context.Context, afterID int64, limit int) ([]*models.AuditLog, error)
}

// ObjectStore abstracts the archive destination.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// S3Store writes archive objects to an S3-compatible bucket (AWS S3, MinIO,
// DigitalOcean Spaces).
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an archive destination from the audit.archive config
// section.
//
// Authentication methods:
//   - "default" or empty: AWS default credential chain (env vars, shared config, IAM role, IMDS)
//   - "static": explicit access key and secret key
func NewS3Store(ctx context.Context, cfg appconfig.AuditArchiveConfig) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket name is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	switch cfg.AuthMethod {
	case "static":
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("access_key_id and secret_access_key are required for static auth")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	case "", "default":
		// AWS default credential chain, no additional configuration needed
	default:
		return nil, fmt.Errorf("unsupported auth_method: %s (must be 'default' or 'static')", cfg.AuthMethod)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible services need path-style addressing
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Put uploads one archive object.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive object: %w", err)
	}
	return nil
}

// Archiver periodically exports new audit records to an object store as
// newline-delimited JSON batches. The export cursor is the last archived
// record ID, so a batch is only ever exported once per process. Exports are
// additive; the database rows are never modified or deleted.
type Archiver struct {
	source   logSource
	store    ObjectStore
	prefix   string
	interval time.Duration
	cursor   int64
}

// NewArchiver creates an archiver exporting records newer than the given
// starting ID.
func NewArchiver(source logSource, store ObjectStore, cfg appconfig.AuditArchiveConfig) *Archiver {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	return &Archiver{
		source:   source,
		store:    store,
		prefix:   cfg.Prefix,
		interval: interval,
	}
}

// Run exports on the configured interval until ctx is cancelled. One export
// pass runs immediately on startup so a crash-looping process still makes
// archive progress.
func (a *Archiver) Run(ctx context.Context) {
	a.export(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.export(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// export drains all records past the cursor in batches.
func (a *Archiver) export(ctx context.Context) {
	for {
		n, err := a.exportBatch(ctx)
		if err != nil {
			slog.Error("audit archive export failed", "error", err, "cursor", a.cursor)
			telemetry.AuditArchiveBatchesTotal.WithLabelValues("error").Inc()
			return
		}
		if n == 0 {
			return
		}
		telemetry.AuditArchiveBatchesTotal.WithLabelValues("success").Inc()
		if n < archiveBatchSize {
			return
		}
	}
}

// exportBatch uploads one batch and advances the cursor. Returns the number
// of records exported.
func (a *Archiver) exportBatch(ctx context.Context) (int, error) {
	logs, err := a.source.ListAuditLogsSince(ctx, a.cursor, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list audit records: %w", err)
	}
	if len(logs) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, log := range logs {
		if err := enc.Encode(log); err != nil {
			return 0, fmt.Errorf("failed to encode audit record %d: %w", log.ID, err)
		}
	}

	firstID := logs[0].ID
	lastID := logs[len(logs)-1].ID
	key := a.objectKey(logs[0].CreatedAt, firstID, lastID)

	if err := a.store.Put(ctx, key, buf.Bytes()); err != nil {
		return 0, err
	}

	a.cursor = lastID
	slog.Info("exported audit archive batch", "key", key, "records", len(logs))
	return len(logs), nil
}

// objectKey builds a date-partitioned key so archive consumers can prune by
// prefix.
func (a *Archiver) objectKey(ts time.Time, firstID, lastID int64) string {
	key := fmt.Sprintf("%s/audit-%d-%d.ndjson", ts.UTC().Format("2006/01/02"), firstID, lastID)
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	return key
}
