package index

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Attachments returns the immutable attachment rows for a batch.
func (s *Store) Attachments(ctx context.Context, batchID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, batch_id, kind, filename, store_key, size_bytes, created_at
         FROM attachments WHERE batch_id = ? ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list attachments %s: %w", batchID, err)
	}
	defer rows.Close()

	var attachments []Attachment
	for rows.Next() {
		var (
			attachment Attachment
			kindStr    string
			createdRaw string
		)
		if err := rows.Scan(
			&attachment.ID,
			&attachment.BatchID,
			&kindStr,
			&attachment.Filename,
			&attachment.StoreKey,
			&attachment.SizeBytes,
			&createdRaw,
		); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachment.Kind = AttachmentKind(kindStr)
		if created, err := parseTimeString(createdRaw); err == nil {
			attachment.CreatedAt = created
		}
		attachments = append(attachments, attachment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return attachments, nil
}

// AppendStageRecord adds one row to the stage attempt log. A row for the
// same (batch, stage, attempt) triple is inserted at most once, which keeps
// reprocessing idempotent.
func (s *Store) AppendStageRecord(ctx context.Context, record StageRecord) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO processing_stages
            (batch_id, stage, attempt, duration_seconds, success, error_message, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.BatchID,
		record.Stage,
		record.Attempt,
		record.DurationSeconds,
		boolToInt(record.Success),
		nullableString(record.ErrorMessage),
		timestamp,
	)
	if err != nil {
		return fmt.Errorf("append stage record %s/%s: %w", record.BatchID, record.Stage, err)
	}
	return nil
}

// RecordStages appends a whole list of stage records in one transaction.
// Duplicate (batch, stage, attempt) rows are ignored, so a remote processor
// re-posting its log after a retry cannot double-count attempts.
func (s *Store) RecordStages(ctx context.Context, batchID string, records []StageRecord) error {
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stage tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, record := range records {
		_, err := tx.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO processing_stages
                (batch_id, stage, attempt, duration_seconds, success, error_message, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			batchID,
			record.Stage,
			record.Attempt,
			record.DurationSeconds,
			boolToInt(record.Success),
			nullableString(record.ErrorMessage),
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("append stage record %s/%s: %w", batchID, record.Stage, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage tx: %w", err)
	}
	return nil
}

// StageRecords returns the stage attempt log for a batch in insertion order.
func (s *Store) StageRecords(ctx context.Context, batchID string) ([]StageRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, batch_id, stage, attempt, duration_seconds, success, error_message, created_at
         FROM processing_stages WHERE batch_id = ? ORDER BY id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list stage records %s: %w", batchID, err)
	}
	defer rows.Close()

	var records []StageRecord
	for rows.Next() {
		var (
			record     StageRecord
			success    int
			message    sql.NullString
			createdRaw string
		)
		if err := rows.Scan(
			&record.ID,
			&record.BatchID,
			&record.Stage,
			&record.Attempt,
			&record.DurationSeconds,
			&success,
			&message,
			&createdRaw,
		); err != nil {
			return nil, fmt.Errorf("scan stage record: %w", err)
		}
		record.Success = success != 0
		record.ErrorMessage = message.String
		if created, err := parseTimeString(createdRaw); err == nil {
			record.CreatedAt = created
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage records: %w", err)
	}
	return records, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
