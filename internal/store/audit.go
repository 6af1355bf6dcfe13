package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JovieInc/Jovie-sub015/internal/audit"
)

const insertAuditEntrySQL = `
	INSERT INTO billing_audit_log
		(id, user_id, source, event_type, provider_event_id, before_state, after_state, reason, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

func insertAuditEntryTx(ctx context.Context, tx pgx.Tx, entry audit.Entry) error {
	beforeJSON, err := json.Marshal(entry.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before state: %w", err)
	}
	afterJSON, err := json.Marshal(entry.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after state: %w", err)
	}

	_, err = tx.Exec(ctx, insertAuditEntrySQL,
		entry.ID,
		entry.UserID,
		string(entry.Source),
		string(entry.EventType),
		pgtype.Text{String: entry.ProviderEventID, Valid: entry.ProviderEventID != ""},
		beforeJSON,
		afterJSON,
		entry.Reason,
		audit.MarshalMetadata(entry.Metadata),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// InsertAuditEntry appends an entry outside any write transaction. It
// satisfies audit.Querier for observers that never mutate billing state.
func (s *Store) InsertAuditEntry(ctx context.Context, entry audit.Entry) error {
	beforeJSON, err := json.Marshal(entry.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before state: %w", err)
	}
	afterJSON, err := json.Marshal(entry.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after state: %w", err)
	}

	_, err = s.pool.Exec(ctx, insertAuditEntrySQL,
		entry.ID,
		entry.UserID,
		string(entry.Source),
		string(entry.EventType),
		pgtype.Text{String: entry.ProviderEventID, Valid: entry.ProviderEventID != ""},
		beforeJSON,
		afterJSON,
		entry.Reason,
		audit.MarshalMetadata(entry.Metadata),
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

const auditEntryColumns = `id, user_id, source, event_type, provider_event_id,
	before_state, after_state, reason, metadata, created_at`

func scanAuditEntry(row pgx.Row) (audit.Entry, error) {
	var (
		entry           audit.Entry
		source          string
		eventType       string
		providerEventID pgtype.Text
		beforeJSON      []byte
		afterJSON       []byte
		metadataJSON    []byte
	)
	err := row.Scan(
		&entry.ID,
		&entry.UserID,
		&source,
		&eventType,
		&providerEventID,
		&beforeJSON,
		&afterJSON,
		&entry.Reason,
		&metadataJSON,
		&entry.CreatedAt,
	)
	if err != nil {
		return audit.Entry{}, err
	}

	entry.Source = audit.Source(source)
	entry.EventType = audit.EventType(eventType)
	if providerEventID.Valid {
		entry.ProviderEventID = providerEventID.String
	}
	if err := json.Unmarshal(beforeJSON, &entry.Before); err != nil {
		return audit.Entry{}, fmt.Errorf("failed to unmarshal before state: %w", err)
	}
	if err := json.Unmarshal(afterJSON, &entry.After); err != nil {
		return audit.Entry{}, fmt.Errorf("failed to unmarshal after state: %w", err)
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return audit.Entry{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return entry, nil
}

func (s *Store) ListAuditEntries(ctx context.Context, userID uuid.UUID, limit int32) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditEntryColumns+`
		 FROM billing_audit_log
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// ListAuditEntriesBetween pages a time window in stable id order for the
// archive exporter. Pass uuid.Nil to start from the beginning.
func (s *Store) ListAuditEntriesBetween(ctx context.Context, from, to time.Time, afterID uuid.UUID, limit int32) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditEntryColumns+`
		 FROM billing_audit_log
		 WHERE created_at >= $1 AND created_at < $2 AND id > $3
		 ORDER BY id
		 LIMIT $4`, from, to, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// DailyActivity is one day's worth of audit entries for a single source.
type DailyActivity struct {
	Day    time.Time
	Source audit.Source
	Count  int64
}

func (s *Store) CountAuditEntriesByDay(ctx context.Context, from, to time.Time) ([]DailyActivity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT date_trunc('day', created_at) AS day, source, count(*)
		 FROM billing_audit_log
		 WHERE created_at >= $1 AND created_at < $2
		 GROUP BY 1, 2
		 ORDER BY 1`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}
	defer rows.Close()

	var activity []DailyActivity
	for rows.Next() {
		var (
			a      DailyActivity
			source string
		)
		if err := rows.Scan(&a.Day, &source, &a.Count); err != nil {
			return nil, fmt.Errorf("failed to scan daily activity: %w", err)
		}
		a.Source = audit.Source(source)
		activity = append(activity, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return activity, nil
}
