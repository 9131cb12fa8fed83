package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"audiobatch/internal/artifact"
	"audiobatch/internal/services"
)

// Store manages batch index persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the index database and applies migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// CreateBatch inserts a batch row and its attachments in one transaction.
// The batch starts in status uploaded with retry_count 0.
func (s *Store) CreateBatch(ctx context.Context, batch *Batch, attachments []Attachment) error {
	if batch == nil {
		return services.Wrap(services.ErrValidation, "", "index.create", "nil batch", nil)
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	artifactJSON, err := marshalArtifacts(batch.Artifacts)
	if err != nil {
		return err
	}
	priority := batch.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO batches (
            id, owner_id, status, priority, retry_count, artifact_keys_json,
            raw_audio_size_bytes, recording_started_at, recording_ended_at,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.OwnerID,
		StatusUploaded,
		priority,
		artifactJSON,
		batch.Metrics.RawAudioSizeBytes,
		batch.RecordingStartedAt.UTC().Format(time.RFC3339Nano),
		batch.RecordingEndedAt.UTC().Format(time.RFC3339Nano),
		timestamp,
		timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", batch.ID, err)
	}

	for _, attachment := range attachments {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO attachments (batch_id, kind, filename, store_key, size_bytes, created_at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			batch.ID,
			attachment.Kind,
			attachment.Filename,
			attachment.StoreKey,
			attachment.SizeBytes,
			timestamp,
		)
		if err != nil {
			return fmt.Errorf("insert attachment %s/%s: %w", batch.ID, attachment.Filename, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tx: %w", err)
	}

	batch.Status = StatusUploaded
	batch.Priority = priority
	batch.CreatedAt = now
	batch.UpdatedAt = now
	return nil
}

// Get fetches a batch by ID regardless of owner. Internal use only; user
// requests go through GetOwned.
func (s *Store) Get(ctx context.Context, id string) (*Batch, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+batchColumns+" FROM batches WHERE id = ?", id)
	batch, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "index.get", id, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return batch, nil
}

// GetOwned fetches a batch for an owner. An unknown ID yields a not-found
// error; a known ID belonging to someone else yields forbidden, since
// direct-by-ID access already implies existence.
func (s *Store) GetOwned(ctx context.Context, ownerID, id string) (*Batch, error) {
	batch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if batch.OwnerID != ownerID {
		return nil, services.Wrap(services.ErrForbidden, "", "index.get", id, nil)
	}
	return batch, nil
}

// List returns owner-scoped batch summaries plus the total row count for
// pagination. The owner filter is part of the WHERE clause so no query shape
// can leak cross-owner rows.
func (s *Store) List(ctx context.Context, ownerID string, filter ListFilter) ([]Summary, int, error) {
	conditions := []string{"owner_id = ?"}
	args := []any{ownerID}

	if filter.Status != "" {
		if _, err := ParseStatus(string(filter.Status)); err != nil {
			return nil, 0, services.Wrap(services.ErrValidation, "", "index.list", "", err)
		}
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.StartDate.IsZero() {
		conditions = append(conditions, "recording_started_at >= ?")
		args = append(args, filter.StartDate.UTC().Format(time.RFC3339Nano))
	}
	if !filter.EndDate.IsZero() {
		conditions = append(conditions, "recording_started_at < ?")
		args = append(args, filter.EndDate.UTC().Format(time.RFC3339Nano))
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM batches WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(
		ctx,
		"SELECT id, status, recording_started_at, created_at FROM batches WHERE "+where+
			" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var (
			summary    Summary
			statusStr  string
			startedRaw string
			createdRaw string
		)
		if err := rows.Scan(&summary.ID, &statusStr, &startedRaw, &createdRaw); err != nil {
			return nil, 0, fmt.Errorf("scan summary: %w", err)
		}
		summary.Status = Status(statusStr)
		if started, err := parseTimeString(startedRaw); err == nil {
			summary.RecordingStartedAt = started
		}
		if created, err := parseTimeString(createdRaw); err == nil {
			summary.CreatedAt = created
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate summaries: %w", err)
	}
	return summaries, total, nil
}

func marshalArtifacts(artifacts map[artifact.Type]string) (string, error) {
	if len(artifacts) == 0 {
		return "{}", nil
	}
	body, err := json.Marshal(artifacts)
	if err != nil {
		return "", fmt.Errorf("marshal artifact keys: %w", err)
	}
	return string(body), nil
}
