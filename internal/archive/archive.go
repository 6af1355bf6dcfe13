// Package archive ships audit-log windows to object storage. Exports are
// JSON Lines, optionally gzip-compressed, one object per window. Incident
// forensics pull these objects instead of querying the hot table.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/JovieInc/Jovie-sub015/internal/audit"
	"github.com/JovieInc/Jovie-sub015/internal/logger"
	"github.com/JovieInc/Jovie-sub015/internal/metrics"
)

const exportPageSize = 500

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
	Prefix    string
	Compress  bool
}

// AuditLister pages audit entries in stable id order. Satisfied by
// store.Store.
type AuditLister interface {
	ListAuditEntriesBetween(ctx context.Context, from, to time.Time, afterID uuid.UUID, limit int32) ([]audit.Entry, error)
}

type Store struct {
	client   *minio.Client
	bucket   string
	region   string
	prefix   string
	compress bool
}

func NewStore(cfg *Config) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Store{
		client:   client,
		bucket:   cfg.Bucket,
		region:   cfg.Region,
		prefix:   cfg.Prefix,
		compress: cfg.Compress,
	}, nil
}

func (s *Store) EnsureBucket(ctx context.Context) error {
	log := logger.FromContext(ctx)

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		log.Info("creating archive bucket", "bucket", s.bucket, "region", s.region)
		err = s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{
			Region: s.region,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		log.Info("archive bucket created", "bucket", s.bucket)
	}

	return nil
}

// HealthCheck satisfies health.ArchiveHealthChecker.
func (s *Store) HealthCheck(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

type ExportResult struct {
	Key     string
	Entries int64
	Bytes   int64
}

// Export writes every audit entry in [from, to) to a single object and
// returns where it landed. An empty window uploads nothing and returns a
// zero-key result.
func (s *Store) Export(ctx context.Context, entries AuditLister, from, to time.Time) (ExportResult, error) {
	log := logger.FromContext(ctx)
	start := time.Now()

	data, count, err := BuildExport(ctx, entries, from, to, s.compress)
	if err != nil {
		metrics.RecordArchiveExport("error")
		return ExportResult{}, err
	}
	if count == 0 {
		log.Info("no audit entries in window", "from", from, "to", to)
		return ExportResult{}, nil
	}

	key := s.objectKey(from, to)
	contentType := "application/x-ndjson"
	if s.compress {
		contentType = "application/gzip"
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		metrics.RecordArchiveExport("error")
		return ExportResult{}, fmt.Errorf("upload to %s: %w", key, err)
	}

	metrics.RecordArchiveExport("ok")
	log.Info("audit archive exported",
		"key", key,
		"entries", count,
		"bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ExportResult{Key: key, Entries: count, Bytes: int64(len(data))}, nil
}

func (s *Store) objectKey(from, to time.Time) string {
	name := fmt.Sprintf("billing-audit-%s-%s.jsonl",
		from.UTC().Format("20060102"), to.UTC().Format("20060102"))
	if s.compress {
		name += ".gz"
	}
	key := fmt.Sprintf("audit/%s/%s", from.UTC().Format("2006/01"), name)
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	return key
}

// line is the stable wire form of one exported entry; the hot table's
// column layout can evolve without invalidating old archives.
type line struct {
	ID              uuid.UUID      `json:"id"`
	UserID          uuid.UUID      `json:"user_id"`
	Source          string         `json:"source"`
	EventType       string         `json:"event_type"`
	ProviderEventID string         `json:"provider_event_id,omitempty"`
	Before          audit.Snapshot `json:"before"`
	After           audit.Snapshot `json:"after"`
	Reason          string         `json:"reason,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// BuildExport serializes the audit entries in [from, to) as JSON Lines,
// paging through the lister with an id cursor. It returns the encoded
// bytes and the number of entries written.
func BuildExport(ctx context.Context, entries AuditLister, from, to time.Time, compress bool) ([]byte, int64, error) {
	var buf bytes.Buffer
	var w io.Writer = &buf
	var gz *gzip.Writer
	if compress {
		gz = gzip.NewWriter(&buf)
		w = gz
	}
	enc := json.NewEncoder(w)

	var count int64
	after := uuid.Nil
	for {
		page, err := entries.ListAuditEntriesBetween(ctx, from, to, after, exportPageSize)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to page audit entries: %w", err)
		}
		for _, e := range page {
			err := enc.Encode(line{
				ID:              e.ID,
				UserID:          e.UserID,
				Source:          string(e.Source),
				EventType:       string(e.EventType),
				ProviderEventID: e.ProviderEventID,
				Before:          e.Before,
				After:           e.After,
				Reason:          e.Reason,
				Metadata:        e.Metadata,
				CreatedAt:       e.CreatedAt,
			})
			if err != nil {
				return nil, 0, fmt.Errorf("failed to encode audit entry: %w", err)
			}
			count++
			after = e.ID
		}
		if len(page) < exportPageSize {
			break
		}
	}

	if gz != nil {
		if err := gz.Close(); err != nil {
			return nil, 0, fmt.Errorf("failed to finish compression: %w", err)
		}
	}
	return buf.Bytes(), count, nil
}
