package store

import (
	"context"
	"fmt"
	"time"
)

// NameCount is one row of a top-N breakdown.
type NameCount struct {
	Name  string
	Count int
}

// Summary is the aggregate view served by `stats` and the stats endpoint.
type Summary struct {
	TotalJobs     int
	HighScoreJobs int // score >= alert threshold
	AlertedJobs   int
	DeadLettered  int
	RecentJobs    int // posted in the last 7 days
	AverageScore  float64
	RemoteJobs    int
	TotalSignals  int
	TopCompanies  []NameCount
	TopLocations  []NameCount
}

// Stats computes the Summary relative to now.
func (s *SQLiteStore) Stats(ctx context.Context, threshold int, now time.Time) (Summary, error) {
	var sum Summary
	weekAgo := millis(now.Add(-7 * 24 * time.Hour))

	err := s.db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COALESCE(SUM(score >= ?), 0),
			COALESCE(SUM(alerted), 0),
			COALESCE(SUM(dead_lettered), 0),
			COALESCE(SUM(posted_at >= ?), 0),
			COALESCE(AVG(score), 0.0),
			COALESCE(SUM(LOWER(location) LIKE '%remote%'), 0)
		FROM jobs`, threshold, weekAgo).Scan(
		&sum.TotalJobs, &sum.HighScoreJobs, &sum.AlertedJobs, &sum.DeadLettered,
		&sum.RecentJobs, &sum.AverageScore, &sum.RemoteJobs)
	if err != nil {
		return Summary{}, fmt.Errorf("job stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals`).Scan(&sum.TotalSignals); err != nil {
		return Summary{}, fmt.Errorf("signal stats: %w", err)
	}

	if sum.TopCompanies, err = s.top(ctx, "company"); err != nil {
		return Summary{}, err
	}
	if sum.TopLocations, err = s.top(ctx, "location"); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

// top returns the ten most frequent values of column. column is a constant
// chosen by the caller, never user input.
func (s *SQLiteStore) top(ctx context.Context, column string) ([]NameCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) AS n FROM jobs
		WHERE `+column+` != '' GROUP BY `+column+` ORDER BY n DESC, `+column+` LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("top %s: %w", column, err)
	}
	defer rows.Close()

	var out []NameCount
	for rows.Next() {
		var nc NameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("top %s: %w", column, err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}
