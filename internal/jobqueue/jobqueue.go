package jobqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"audiobatch/internal/services"
)

// Lane selects delivery priority. Immediate jobs are drained before normal
// ones.
type Lane string

const (
	LaneImmediate Lane = "immediate"
	LaneNormal    Lane = "normal"
)

// ParseLane validates a raw lane string, defaulting to normal when empty.
func ParseLane(value string) (Lane, error) {
	switch Lane(value) {
	case "":
		return LaneNormal, nil
	case LaneImmediate, LaneNormal:
		return Lane(value), nil
	}
	return "", fmt.Errorf("unknown queue lane %q", value)
}

// Job is one queued unit of work.
type Job struct {
	ID          int64
	BatchID     string
	OwnerID     string
	Lane        Lane
	Deliveries  int
	EnqueuedAt  time.Time
	LeasedUntil time.Time
}

// Queue manages job persistence backed by SQLite.
type Queue struct {
	db    *sql.DB
	path  string
	lease time.Duration
}

// Open initializes or connects to the queue database and applies migrations.
// Lease is how long a dequeued job stays invisible before ReclaimExpired can
// hand it out again.
func Open(dbPath string, lease time.Duration) (*Queue, error) {
	if lease <= 0 {
		return nil, services.Wrap(services.ErrConfiguration, "", "queue.open", "lease must be positive", nil)
	}
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

	queue := &Queue{db: db, path: dbPath, lease: lease}
	if err := queue.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return queue, nil
}

// Close closes the underlying database connection.
func (q *Queue) Close() error {
	if q == nil || q.db == nil {
		return nil
	}
	return q.db.Close()
}

// Enqueue adds a job to its lane.
func (q *Queue) Enqueue(ctx context.Context, job Job) (int64, error) {
	lane, err := ParseLane(string(job.Lane))
	if err != nil {
		return 0, services.Wrap(services.ErrValidation, "", "queue.enqueue", "", err)
	}
	if job.BatchID == "" || job.OwnerID == "" {
		return 0, services.Wrap(services.ErrValidation, "", "queue.enqueue", "batch id and owner id are required", nil)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := q.db.ExecContext(
		ctx,
		"INSERT INTO jobs (batch_id, owner_id, lane, state, deliveries, enqueued_at) VALUES (?, ?, ?, 'pending', 0, ?)",
		job.BatchID, job.OwnerID, lane, timestamp,
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue job for %s: %w", job.BatchID, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("enqueue job for %s: last insert id: %w", job.BatchID, err)
	}
	return id, nil
}

// Dequeue leases the next deliverable job, immediate lane first, oldest
// first within a lane. It returns nil when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	leasedUntil := time.Now().UTC().Add(q.lease)

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	row := tx.QueryRowContext(
		ctx,
		`SELECT id, batch_id, owner_id, lane, deliveries, enqueued_at FROM jobs
         WHERE state = 'pending'
         ORDER BY CASE lane WHEN 'immediate' THEN 0 ELSE 1 END, id
         LIMIT 1`,
	)
	job := &Job{}
	var enqueuedRaw string
	err = row.Scan(&job.ID, &job.BatchID, &job.OwnerID, &job.Lane, &job.Deliveries, &enqueuedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan candidate job: %w", err)
	}

	result, err := tx.ExecContext(
		ctx,
		"UPDATE jobs SET state = 'leased', leased_until = ?, deliveries = deliveries + 1 WHERE id = ? AND state = 'pending'",
		leasedUntil.Format(time.RFC3339Nano), job.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("lease job %d: %w", job.ID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("lease job %d: rows affected: %w", job.ID, err)
	}
	if affected == 0 {
		// Another worker won the race inside this transaction window.
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dequeue tx: %w", err)
	}

	job.Deliveries++
	job.LeasedUntil = leasedUntil
	if enqueued, parseErr := time.Parse(time.RFC3339Nano, enqueuedRaw); parseErr == nil {
		job.EnqueuedAt = enqueued.UTC()
	}
	return job, nil
}

// Ack removes a delivered job from the queue.
func (q *Queue) Ack(ctx context.Context, id int64) error {
	result, err := q.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("ack job %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("ack job %d: rows affected: %w", id, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "", "queue.ack", fmt.Sprintf("job %d", id), nil)
	}
	return nil
}

// Nack returns a leased job to its lane immediately.
func (q *Queue) Nack(ctx context.Context, id int64) error {
	result, err := q.db.ExecContext(
		ctx,
		"UPDATE jobs SET state = 'pending', leased_until = NULL WHERE id = ? AND state = 'leased'",
		id,
	)
	if err != nil {
		return fmt.Errorf("nack job %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("nack job %d: rows affected: %w", id, err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "", "queue.nack", fmt.Sprintf("leased job %d", id), nil)
	}
	return nil
}

// ReclaimExpired makes jobs with lapsed leases deliverable again and reports
// how many were reclaimed.
func (q *Queue) ReclaimExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	result, err := q.db.ExecContext(
		ctx,
		"UPDATE jobs SET state = 'pending', leased_until = NULL WHERE state = 'leased' AND leased_until < ?",
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim expired leases: rows affected: %w", err)
	}
	return int(affected), nil
}

// Depth reports pending and leased job counts.
func (q *Queue) Depth(ctx context.Context) (pending, leased int, err error) {
	rows, err := q.db.QueryContext(ctx, "SELECT state, COUNT(1) FROM jobs GROUP BY state")
	if err != nil {
		return 0, 0, fmt.Errorf("queue depth: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return 0, 0, fmt.Errorf("scan queue depth: %w", err)
		}
		switch state {
		case "pending":
			pending = count
		case "leased":
			leased = count
		}
	}
	return pending, leased, rows.Err()
}
