package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/signalforge/signalforge/internal/model"
)

// ErrNotFound is returned when a Job or Signal does not exist.
var ErrNotFound = errors.New("not found")

// MaxPageSize bounds the limit of list queries.
const MaxPageSize = 200

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	dedup_key        TEXT NOT NULL UNIQUE,
	title            TEXT NOT NULL,
	company          TEXT NOT NULL,
	location         TEXT NOT NULL DEFAULT '',
	url              TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	stack            TEXT NOT NULL DEFAULT '',
	posted_at        INTEGER,
	first_seen       INTEGER NOT NULL,
	last_seen        INTEGER NOT NULL,
	score            INTEGER NOT NULL DEFAULT 0,
	alerted          INTEGER NOT NULL DEFAULT 0,
	alerted_at       INTEGER,
	alert_attempts   INTEGER NOT NULL DEFAULT 0,
	dead_lettered    INTEGER NOT NULL DEFAULT 0,
	last_alert_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_jobs_score ON jobs (score DESC, posted_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_first_seen ON jobs (first_seen);
CREATE INDEX IF NOT EXISTS idx_jobs_pending ON jobs (alerted, dead_lettered, score);

CREATE TABLE IF NOT EXISTS signals (
	id              TEXT PRIMARY KEY,
	signal_key      TEXT NOT NULL UNIQUE,
	type            TEXT NOT NULL,
	dimension       TEXT NOT NULL,
	dimension_value TEXT NOT NULL,
	window_name     TEXT NOT NULL,
	window_span_ms  INTEGER NOT NULL,
	bucket_start    INTEGER NOT NULL,
	score           INTEGER NOT NULL,
	detected_at     INTEGER NOT NULL,
	count           INTEGER NOT NULL,
	mean            REAL NOT NULL,
	stddev          REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_detected ON signals (detected_at DESC);
`

// SQLiteStore persists Jobs and Signals. Times are stored as Unix
// milliseconds so range comparisons are numeric.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// modernc sqlite uses DSN like: file:foo.db?_pragma=busy_timeout(5000)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection serializes writers; readers share it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// fromDB wraps an already-open database without touching the schema.
func fromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const jobColumns = `id, dedup_key, title, company, location, url, source, description, stack,
	posted_at, first_seen, last_seen, score, alerted, alerted_at, alert_attempts, dead_lettered, last_alert_error`

// UpsertJob inserts job keyed by its DedupKey in one transaction. When a Job
// with the key already exists only last_seen and score change; the stored
// record is returned with created=false. score is applied to the record
// being written, so an existing Job is re-scored from its stored fields.
func (s *SQLiteStore) UpsertJob(ctx context.Context, job model.Job, score func(model.Job) int) (model.Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Job{}, false, fmt.Errorf("begin upsert %s: %w", job.DedupKey, err)
	}
	defer tx.Rollback()

	if score != nil {
		job.Score = score(job)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, NULL, 0, 0, '')
		ON CONFLICT(dedup_key) DO NOTHING`,
		job.ID, job.DedupKey, job.Title, job.Company, job.Location, job.URL, job.Source, job.Description,
		strings.Join(job.Stack, ","), nullableMillis(job.PostedAt), millis(job.FirstSeen), millis(job.LastSeen), job.Score)
	if err != nil {
		return model.Job{}, false, fmt.Errorf("insert job %s: %w", job.DedupKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Job{}, false, fmt.Errorf("insert job %s: %w", job.DedupKey, err)
	}
	if n == 1 {
		if err := tx.Commit(); err != nil {
			return model.Job{}, false, fmt.Errorf("commit job %s: %w", job.DedupKey, err)
		}
		return job, true, nil
	}

	existing, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE dedup_key = ?`, job.DedupKey))
	if err != nil {
		return model.Job{}, false, fmt.Errorf("load job %s: %w", job.DedupKey, err)
	}
	if job.LastSeen.After(existing.LastSeen) {
		existing.LastSeen = job.LastSeen
	}
	if score != nil {
		existing.Score = score(existing)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE jobs SET last_seen = ?, score = ? WHERE id = ?`,
		millis(existing.LastSeen), existing.Score, existing.ID); err != nil {
		return model.Job{}, false, fmt.Errorf("touch job %s: %w", job.DedupKey, err)
	}
	if err := tx.Commit(); err != nil {
		return model.Job{}, false, fmt.Errorf("commit job %s: %w", job.DedupKey, err)
	}
	return existing, false, nil
}

// GetJob returns the Job with id or ErrNotFound.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (model.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// DeleteJob removes the Job with id. It reports whether a row was deleted.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete job %s: %w", id, err)
	}
	return n > 0, nil
}

// JobFilter selects Jobs for ListJobs. Zero values do not filter.
type JobFilter struct {
	Limit       int
	Offset      int
	MinScore    int
	Location    string // case-insensitive substring
	Company     string // case-insensitive substring
	Source      string
	PostedAfter *time.Time
}

// ListJobs returns Jobs ordered by score then posted_at, newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, f JobFilter) ([]model.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.MinScore > 0 {
		where = append(where, "score >= ?")
		args = append(args, f.MinScore)
	}
	if f.Location != "" {
		where = append(where, "LOWER(location) LIKE ? ESCAPE '\\'")
		args = append(args, likePattern(f.Location))
	}
	if f.Company != "" {
		where = append(where, "LOWER(company) LIKE ? ESCAPE '\\'")
		args = append(args, likePattern(f.Company))
	}
	if f.Source != "" {
		where = append(where, "source = ?")
		args = append(args, f.Source)
	}
	if f.PostedAfter != nil {
		where = append(where, "posted_at >= ?")
		args = append(args, millis(*f.PostedAfter))
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY score DESC, posted_at IS NULL, posted_at DESC, first_seen DESC LIMIT ? OFFSET ?"
	args = append(args, pageSize(f.Limit), max(f.Offset, 0))

	return s.queryJobs(ctx, q, args...)
}

// JobsFirstSeenSince returns every Job first seen at or after since, oldest
// first. The aggregator replays these on startup.
func (s *SQLiteStore) JobsFirstSeenSince(ctx context.Context, since time.Time) ([]model.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE first_seen >= ? ORDER BY first_seen`, millis(since))
}

// PendingAlerts returns Jobs at or above threshold that are neither alerted
// nor dead-lettered, highest score first.
func (s *SQLiteStore) PendingAlerts(ctx context.Context, threshold int) ([]model.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs
		WHERE score >= ? AND alerted = 0 AND dead_lettered = 0
		ORDER BY score DESC, first_seen`, threshold)
}

// MarkAlerted flips alerted to true. It reports false when the Job was
// already alerted or does not exist, so only one caller wins.
func (s *SQLiteStore) MarkAlerted(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET alerted = 1, alerted_at = ?, last_alert_error = ''
		WHERE id = ? AND alerted = 0`, millis(at), id)
	if err != nil {
		return false, fmt.Errorf("mark job %s alerted: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark job %s alerted: %w", id, err)
	}
	return n == 1, nil
}

// RecordAlertFailure counts a failed delivery for id and dead-letters the Job
// once attempts reach maxAttempts. It returns the new attempt count.
func (s *SQLiteStore) RecordAlertFailure(ctx context.Context, id, reason string, maxAttempts int) (int, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("begin alert failure %s: %w", id, err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRowContext(ctx, `UPDATE jobs SET alert_attempts = alert_attempts + 1, last_alert_error = ?
		WHERE id = ? AND alerted = 0 AND dead_lettered = 0 RETURNING alert_attempts`, reason, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, ErrNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("record alert failure %s: %w", id, err)
	}

	dead := attempts >= maxAttempts
	if dead {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET dead_lettered = 1 WHERE id = ?`, id); err != nil {
			return 0, false, fmt.Errorf("dead-letter job %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("commit alert failure %s: %w", id, err)
	}
	return attempts, dead, nil
}

// MarkDeadLettered stops automatic delivery for id.
func (s *SQLiteStore) MarkDeadLettered(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET dead_lettered = 1 WHERE id = ? AND alerted = 0`, id); err != nil {
		return fmt.Errorf("dead-letter job %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) queryJobs(ctx context.Context, q string, args ...any) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return jobs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (model.Job, error) {
	var (
		job                   model.Job
		stack                 string
		postedAt, alertedAt   sql.NullInt64
		firstSeen, lastSeen   int64
		alerted, deadLettered int
	)
	err := row.Scan(&job.ID, &job.DedupKey, &job.Title, &job.Company, &job.Location, &job.URL, &job.Source,
		&job.Description, &stack, &postedAt, &firstSeen, &lastSeen, &job.Score, &alerted, &alertedAt,
		&job.AlertAttempts, &deadLettered, &job.LastAlertError)
	if err != nil {
		return model.Job{}, err
	}
	if stack != "" {
		job.Stack = strings.Split(stack, ",")
	}
	job.PostedAt = fromNullable(postedAt)
	job.AlertedAt = fromNullable(alertedAt)
	job.FirstSeen = fromMillis(firstSeen)
	job.LastSeen = fromMillis(lastSeen)
	job.Alerted = alerted != 0
	job.DeadLettered = deadLettered != 0
	return job, nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func pageSize(limit int) int {
	if limit <= 0 {
		return 50
	}
	return min(limit, MaxPageSize)
}

// likePattern builds a lower-case substring pattern with LIKE wildcards escaped.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(strings.ToLower(s)) + "%"
}
