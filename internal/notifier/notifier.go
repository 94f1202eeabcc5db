package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

// New builds the notifier selected by cfg.Type.
func New(cfg config.NotificationConfig, client *http.Client, logger *slog.Logger) (model.Notifier, error) {
	switch cfg.Type {
	case "", "log":
		return NewLogNotifier(logger), nil
	case "slack":
		return NewSlackNotifier(cfg.WebhookURL, client, logger), nil
	case "telegram":
		return NewTelegramNotifier(cfg.Telegram, client, logger)
	default:
		return nil, &model.ConfigurationError{Field: "notification.type", Reason: fmt.Sprintf("unknown notifier %q", cfg.Type)}
	}
}

// SendTestMessage sends a sample job alert to verify the integration works.
func SendTestMessage(ctx context.Context, n model.Notifier) error {
	now := time.Now().UTC()
	return n.NotifyJob(ctx, model.Job{
		ID:        "test-001",
		Company:   "SignalForge",
		Title:     "Test Notification - Integration Verified",
		Location:  "Remote",
		URL:       "https://example.com/jobs/test",
		Stack:     []string{"go"},
		PostedAt:  &now,
		FirstSeen: now,
		LastSeen:  now,
		Score:     100,
		Source:    "test",
	})
}
