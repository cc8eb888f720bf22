package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tenderflow/docpipe/constants"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	queue         TEXT NOT NULL,
	payload       BLOB NOT NULL,
	status        TEXT NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	max_attempts  INTEGER NOT NULL DEFAULT 3,
	priority      INTEGER NOT NULL DEFAULT 0,
	stall_count   INTEGER NOT NULL DEFAULT 0,
	last_error    TEXT NOT NULL DEFAULT '',
	result        BLOB,
	enqueued_at   INTEGER NOT NULL,
	visible_at    INTEGER NOT NULL,
	heartbeat_at  INTEGER,
	finished_at   INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_ready ON jobs(queue, status, visible_at, priority);
CREATE INDEX IF NOT EXISTS idx_jobs_finished ON jobs(queue, status, finished_at);
`

// SQLiteBackend is the default durable backend: a single WAL-mode sqlite
// file. Jobs still waiting at shutdown survive a restart.
type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create queue data dir: %w", err)
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open queue db: %w", err)
	}
	// sqlite allows one writer; a single conn avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init queue schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Enqueue(ctx context.Context, queue string, payload []byte, opts Options) (string, error) {
	opts = opts.withDefaults()
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO jobs (id, queue, payload, status, max_attempts, priority, enqueued_at, visible_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, queue, payload, string(constants.JobStatusWaiting),
		opts.MaxAttempts, opts.Priority, now.UnixMilli(), now.Add(opts.Delay).UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

func (b *SQLiteBackend) Dequeue(ctx context.Context, queue string) (*Job, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	row := tx.QueryRowContext(ctx, `
		SELECT id FROM jobs
		WHERE queue = ? AND status IN (?, ?) AND visible_at <= ?
		ORDER BY priority DESC, enqueued_at ASC
		LIMIT 1`,
		queue, string(constants.JobStatusWaiting), string(constants.JobStatusStalled), now.UnixMilli(),
	)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select ready job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempts = attempts + 1, heartbeat_at = ?
		WHERE id = ?`,
		string(constants.JobStatusActive), now.UnixMilli(), id,
	); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return b.Job(ctx, queue, id)
}

func (b *SQLiteBackend) Ack(ctx context.Context, queue, jobID string, result []byte) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result = ?, finished_at = ?
		WHERE id = ? AND queue = ?`,
		string(constants.JobStatusCompleted), result, time.Now().UTC().UnixMilli(), jobID, queue,
	)
	if err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return requireRow(res)
}

func (b *SQLiteBackend) Fail(ctx context.Context, queue, jobID, reason string, retryable bool) (bool, error) {
	job, err := b.Job(ctx, queue, jobID)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if retryable && job.Attempts < job.MaxAttempts {
		_, err := b.db.ExecContext(ctx, `
			UPDATE jobs SET status = ?, last_error = ?, visible_at = ?
			WHERE id = ?`,
			string(constants.JobStatusWaiting), reason, now.Add(BackoffDelay(job.Attempts)).UnixMilli(), jobID,
		)
		if err != nil {
			return false, fmt.Errorf("requeue job: %w", err)
		}
		return true, nil
	}
	_, err = b.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, last_error = ?, finished_at = ?
		WHERE id = ?`,
		string(constants.JobStatusFailed), reason, now.UnixMilli(), jobID,
	)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return false, nil
}

func (b *SQLiteBackend) Heartbeat(ctx context.Context, queue, jobID string) error {
	res, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET heartbeat_at = ? WHERE id = ? AND queue = ? AND status = ?`,
		time.Now().UTC().UnixMilli(), jobID, queue, string(constants.JobStatusActive),
	)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return requireRow(res)
}

func (b *SQLiteBackend) ReclaimStalled(ctx context.Context, queue string, stallAfter time.Duration, maxStallRetries int) (int, int, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-stallAfter).UnixMilli()

	// Reclaimed jobs carry the stalled status until redelivery so the
	// census can count them; dequeue treats stalled like waiting.
	requeued, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, stall_count = stall_count + 1, visible_at = ?
		WHERE queue = ? AND status = ? AND heartbeat_at < ? AND stall_count < ?`,
		string(constants.JobStatusStalled), now.UnixMilli(),
		queue, string(constants.JobStatusActive), cutoff, maxStallRetries,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("reclaim stalled: %w", err)
	}
	failed, err := b.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, last_error = 'stall retry cap exceeded', finished_at = ?
		WHERE queue = ? AND status = ? AND heartbeat_at < ?`,
		string(constants.JobStatusFailed), now.UnixMilli(),
		queue, string(constants.JobStatusActive), cutoff,
	)
	if err != nil {
		return 0, 0, fmt.Errorf("fail over-stalled: %w", err)
	}
	r, _ := requeued.RowsAffected()
	f, _ := failed.RowsAffected()
	return int(r), int(f), nil
}

func (b *SQLiteBackend) PurgeFinished(ctx context.Context, queue string, keepCompleted, keepFailed int) (int, error) {
	purge := func(status string, keep int) (int64, error) {
		res, err := b.db.ExecContext(ctx, `
			DELETE FROM jobs WHERE queue = ? AND status = ? AND id NOT IN (
				SELECT id FROM jobs WHERE queue = ? AND status = ?
				ORDER BY finished_at DESC LIMIT ?
			)`,
			queue, status, queue, status, keep,
		)
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}
	c, err := purge(string(constants.JobStatusCompleted), keepCompleted)
	if err != nil {
		return 0, fmt.Errorf("purge completed: %w", err)
	}
	f, err := purge(string(constants.JobStatusFailed), keepFailed)
	if err != nil {
		return 0, fmt.Errorf("purge failed: %w", err)
	}
	return int(c + f), nil
}

func (b *SQLiteBackend) Counts(ctx context.Context, queue string) (Counts, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs WHERE queue = ? GROUP BY status`, queue)
	if err != nil {
		return Counts{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, fmt.Errorf("scan count: %w", err)
		}
		switch constants.JobStatus(status) {
		case constants.JobStatusWaiting:
			c.Waiting = n
		case constants.JobStatusActive:
			c.Active = n
		case constants.JobStatusCompleted:
			c.Completed = n
		case constants.JobStatusFailed:
			c.Failed = n
		case constants.JobStatusStalled:
			c.Stalled = n
		}
	}
	return c, rows.Err()
}

func (b *SQLiteBackend) Job(ctx context.Context, queue, jobID string) (*Job, error) {
	row := b.db.QueryRowContext(ctx, `
		SELECT id, queue, payload, status, attempts, max_attempts, priority,
		       stall_count, last_error, result, enqueued_at, visible_at, heartbeat_at, finished_at
		FROM jobs WHERE id = ? AND queue = ?`, jobID, queue,
	)
	var j Job
	var status string
	var enq, vis int64
	var hb, fin sql.NullInt64
	var result []byte
	err := row.Scan(&j.ID, &j.Queue, (*[]byte)(&j.Payload), &status, &j.Attempts, &j.MaxAttempts,
		&j.Priority, &j.StallCount, &j.LastError, &result, &enq, &vis, &hb, &fin)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoSuchJob
		}
		return nil, fmt.Errorf("load job: %w", err)
	}
	j.Status = constants.JobStatus(status)
	j.Result = result
	j.EnqueuedAt = time.UnixMilli(enq).UTC()
	j.VisibleAt = time.UnixMilli(vis).UTC()
	if hb.Valid {
		j.HeartbeatAt = time.UnixMilli(hb.Int64).UTC()
	}
	if fin.Valid {
		j.FinishedAt = time.UnixMilli(fin.Int64).UTC()
	}
	return &j, nil
}

func (b *SQLiteBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoSuchJob
	}
	return nil
}
