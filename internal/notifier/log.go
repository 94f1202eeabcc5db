package notifier

import (
	"context"
	"log/slog"
	"strings"

	"github.com/signalforge/signalforge/internal/model"
)

// Ensure LogNotifier implements model.Notifier.
var _ model.Notifier = (*LogNotifier)(nil)

// LogNotifier writes alerts to the given logger as structured messages.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier that logs each alert via slog.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyJob logs the job. Logging never fails.
func (n *LogNotifier) NotifyJob(_ context.Context, j model.Job) error {
	args := []any{"id", j.ID, "score", j.Score, "company", j.Company, "title", j.Title, "location", j.Location, "url", j.URL}
	if len(j.Stack) > 0 {
		args = append(args, "stack", strings.Join(j.Stack, ","))
	}
	if j.PostedAt != nil {
		args = append(args, "posted_at", *j.PostedAt)
	}
	n.logger.Info("job alert", args...)
	return nil
}

// NotifySignal logs the signal.
func (n *LogNotifier) NotifySignal(_ context.Context, s model.Signal) error {
	n.logger.Info("signal alert",
		"type", s.Type,
		"dimension", s.Dimension,
		"value", s.DimensionValue,
		"window", s.Window,
		"score", s.Score,
		"count", s.Count,
		"mean", s.Mean,
		"stddev", s.Stddev,
	)
	return nil
}
