package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/signalforge/signalforge/internal/model"
)

const signalColumns = `id, type, dimension, dimension_value, window_name, window_span_ms, bucket_start,
	score, detected_at, count, mean, stddev`

// CreateSignals inserts the batch in one transaction. Signals whose identity
// key already exists are skipped; the ones actually inserted are returned.
// Either the whole batch is applied or none of it.
func (s *SQLiteStore) CreateSignals(ctx context.Context, signals []model.Signal) ([]model.Signal, error) {
	if len(signals) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin create signals: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO signals (signal_key, `+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare create signals: %w", err)
	}
	defer stmt.Close()

	var created []model.Signal
	for _, sig := range signals {
		res, err := stmt.ExecContext(ctx, sig.Key(), sig.ID, string(sig.Type), string(sig.Dimension), sig.DimensionValue,
			sig.Window, sig.WindowSpan.Milliseconds(), millis(sig.BucketStart), sig.Score, millis(sig.DetectedAt),
			sig.Count, sig.Mean, sig.Stddev)
		if err != nil {
			return nil, fmt.Errorf("insert signal %s: %w", sig.Key(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert signal %s: %w", sig.Key(), err)
		}
		if n == 1 {
			created = append(created, sig)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit signals: %w", err)
	}
	return created, nil
}

// SignalFilter selects Signals for ListSignals. Zero values do not filter.
type SignalFilter struct {
	Limit    int
	Offset   int
	Type     model.SignalType
	MinScore int
}

// ListSignals returns Signals newest first.
func (s *SQLiteStore) ListSignals(ctx context.Context, f SignalFilter) ([]model.Signal, error) {
	var (
		where []string
		args  []any
	)
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.MinScore > 0 {
		where = append(where, "score >= ?")
		args = append(args, f.MinScore)
	}
	q := `SELECT ` + signalColumns + ` FROM signals`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY detected_at DESC, id LIMIT ? OFFSET ?"
	args = append(args, pageSize(f.Limit), max(f.Offset, 0))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	return out, nil
}

// GetSignal returns the Signal with id or ErrNotFound.
func (s *SQLiteStore) GetSignal(ctx context.Context, id string) (model.Signal, error) {
	sig, err := scanSignal(s.db.QueryRowContext(ctx, `SELECT `+signalColumns+` FROM signals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Signal{}, ErrNotFound
	}
	if err != nil {
		return model.Signal{}, fmt.Errorf("get signal %s: %w", id, err)
	}
	return sig, nil
}

func scanSignal(row scanner) (model.Signal, error) {
	var (
		sig                             model.Signal
		typ, dim                        string
		spanMs, bucketStart, detectedAt int64
	)
	err := row.Scan(&sig.ID, &typ, &dim, &sig.DimensionValue, &sig.Window, &spanMs, &bucketStart,
		&sig.Score, &detectedAt, &sig.Count, &sig.Mean, &sig.Stddev)
	if err != nil {
		return model.Signal{}, err
	}
	sig.Type = model.SignalType(typ)
	sig.Dimension = model.Dimension(dim)
	sig.WindowSpan = time.Duration(spanMs) * time.Millisecond
	sig.BucketStart = fromMillis(bucketStart)
	sig.DetectedAt = fromMillis(detectedAt)
	return sig, nil
}
