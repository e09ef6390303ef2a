// Package archive exports aged automation-log rows to S3 and prunes them
// from Postgres. Rows are uploaded as JSON lines before anything is
// deleted, so a failed upload never loses audit history.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/giftwell/gift-automation/internal/config"
	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/pkg/logger"
)

const batchSize = 1000

// LogStore is the slice of the automation-log repository the archiver needs.
type LogStore interface {
	OlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.AutomationLogEntry, error)
	Delete(ctx context.Context, ids []string) error
}

// ObjectPutter is the S3 surface the archiver uses. *s3.Client satisfies it.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver moves old automation-log rows into an S3 bucket.
type Archiver struct {
	logs      LogStore
	s3        ObjectPutter
	bucket    string
	retention time.Duration

	now func() time.Time
}

// New creates an archiver over an existing S3 client.
func New(logs LogStore, putter ObjectPutter, bucket string, retentionDays int) *Archiver {
	return &Archiver{
		logs:      logs,
		s3:        putter,
		bucket:    bucket,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       time.Now,
	}
}

// NewFromConfig creates an archiver with its own S3 client.
func NewFromConfig(ctx context.Context, logs LogStore, cfg config.ArchiveConfig) (*Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return New(logs, s3.NewFromConfig(awsCfg), cfg.S3Bucket, cfg.RetentionDays), nil
}

// SetClock overrides the archiver's notion of "now".
func (a *Archiver) SetClock(now func() time.Time) { a.now = now }

// Run archives every row older than the retention window, batch by batch,
// and returns how many rows were exported.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	cutoff := a.now().UTC().Add(-a.retention)
	total := 0

	for {
		entries, err := a.logs.OlderThan(ctx, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("list rows to archive: %w", err)
		}
		if len(entries) == 0 {
			return total, nil
		}

		key := a.objectKey(entries[0].CreatedAt, total)
		body, err := encodeLines(entries)
		if err != nil {
			return total, err
		}

		_, err = a.s3.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/x-ndjson"),
		})
		if err != nil {
			return total, fmt.Errorf("upload %s: %w", key, err)
		}

		ids := make([]string, len(entries))
		for i := range entries {
			ids[i] = entries[i].ID
		}
		if err := a.logs.Delete(ctx, ids); err != nil {
			// The object is uploaded; re-running will re-export the same
			// rows under a new key, which is harmless duplication.
			return total, fmt.Errorf("prune archived rows: %w", err)
		}

		total += len(entries)
		logger.Info("archived automation log batch",
			"key", key, "rows", len(entries))

		if len(entries) < batchSize {
			return total, nil
		}
	}
}

// objectKey partitions exports by the first row's creation month so a
// bucket listing groups naturally by period.
func (a *Archiver) objectKey(oldest time.Time, offset int) string {
	return fmt.Sprintf("automation-log/%s/export-%s-%06d.jsonl",
		oldest.UTC().Format("2006/01"),
		a.now().UTC().Format("20060102T150405Z"),
		offset)
}

func encodeLines(entries []domain.AutomationLogEntry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return nil, fmt.Errorf("encode log entry %s: %w", entries[i].ID, err)
		}
	}
	return buf.Bytes(), nil
}
