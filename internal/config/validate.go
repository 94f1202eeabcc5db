package config

import (
	"fmt"
	"strings"

	"github.com/signalforge/signalforge/internal/model"
)

const slackWebhookPrefix = "https://hooks.slack.com/"

// knownSourceTypes is the closed set of built-in collector variants.
// Keep in sync with collector registrations.
var knownSourceTypes = map[string]bool{
	"greenhouse": true,
	"lever":      true,
	"ashby":      true,
	"gem":        true,
	"workday":    true,
	"remoteok":   true,
	"html":       true,
}

// RegisterSourceType lets config validation accept a collector variant
// registered outside the built-in set.
func RegisterSourceType(name string) {
	knownSourceTypes[strings.ToLower(name)] = true
}

func invalid(field, format string, args ...any) error {
	return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func validate(cfg *Config) error {
	if cfg.AlertThreshold < 0 || cfg.AlertThreshold > 100 {
		return invalid("alert_threshold", "must be between 0 and 100, got %d", cfg.AlertThreshold)
	}
	if cfg.Database == "" {
		return invalid("database", "must not be empty")
	}
	if cfg.Pipeline.Concurrency < 1 {
		return invalid("pipeline.concurrency", "must be at least 1, got %d", cfg.Pipeline.Concurrency)
	}
	if cfg.Pipeline.Interval <= 0 {
		return invalid("pipeline.interval", "must be positive, got %v", cfg.Pipeline.Interval)
	}

	seen := make(map[string]bool)
	for _, s := range cfg.Sources {
		field := fmt.Sprintf("sources[%s]", s.Name)
		if !knownSourceTypes[s.Type] {
			return invalid(field+".type", "unsupported source type %q", s.Type)
		}
		if seen[s.Name] {
			return invalid(field+".name", "duplicate source name")
		}
		seen[s.Name] = true
		if s.Options.Timeout <= 0 {
			return invalid(field+".options.timeout", "must be positive")
		}
		if s.Options.RetryCount < 0 {
			return invalid(field+".options.retry_count", "must not be negative")
		}
		if s.Options.RateLimit.Requests < 0 || (s.Options.RateLimit.Requests > 0 && s.Options.RateLimit.Interval <= 0) {
			return invalid(field+".options.rate_limit", "needs positive requests and interval")
		}
		switch s.Type {
		case "greenhouse", "lever", "ashby", "gem":
			if s.BoardToken == "" {
				return invalid(field+".board_token", "is required for %s", s.Type)
			}
		case "workday":
			if s.URL == "" {
				return invalid(field+".url", "is required for workday")
			}
		case "html":
			if s.URL == "" || s.Selectors.Item == "" || s.Selectors.Title == "" {
				return invalid(field, "html sources need url, selectors.item and selectors.title")
			}
		}
	}

	sc := cfg.Scoring
	for name, w := range map[string]int{"title_match": sc.TitleMatch, "stack_match": sc.StackMatch, "remote_bonus": sc.RemoteBonus, "recency_max": sc.RecencyMax} {
		if w < 0 || w > 100 {
			return invalid("scoring."+name, "must be between 0 and 100, got %d", w)
		}
	}
	if sc.RecencyMax > 0 && sc.RecencyHalfLife <= 0 {
		return invalid("scoring.recency_half_life", "must be positive when recency_max is set")
	}

	sig := cfg.Signals
	if sig.MinSamples < 1 {
		return invalid("signals.min_samples", "must be at least 1, got %d", sig.MinSamples)
	}
	if sig.SpikeZ <= 0 || sig.AnomalyK <= 0 {
		return invalid("signals", "spike_z and anomaly_k must be positive")
	}
	if sig.AnomalyK > sig.SpikeZ {
		return invalid("signals.anomaly_k", "must not exceed spike_z (%v > %v)", sig.AnomalyK, sig.SpikeZ)
	}
	if sig.StddevFloor < 0 {
		return invalid("signals.stddev_floor", "must not be negative")
	}
	if sig.TrendBuckets < 2 {
		return invalid("signals.trend_buckets", "must be at least 2, got %d", sig.TrendBuckets)
	}
	if len(sig.Windows) == 0 {
		return invalid("signals.windows", "at least one window is required")
	}
	names := make(map[string]bool)
	for _, w := range sig.Windows {
		if w.Name == "" || names[w.Name] {
			return invalid("signals.windows", "window names must be unique and non-empty")
		}
		names[w.Name] = true
		if w.Bucket <= 0 || w.Length < 2 {
			return invalid("signals.windows["+w.Name+"]", "needs a positive bucket and length >= 2")
		}
		// The current bucket is open, so a window holds length-1 completed ones.
		if sig.MinSamples > w.Length-1 {
			return invalid("signals.windows["+w.Name+"]", "length %d leaves %d completed buckets, fewer than min_samples (%d)", w.Length, w.Length-1, sig.MinSamples)
		}
	}

	if cfg.Alerts.MaxAttempts < 1 {
		return invalid("alerts.max_attempts", "must be at least 1, got %d", cfg.Alerts.MaxAttempts)
	}
	if cfg.Alerts.QueueSize < 1 {
		return invalid("alerts.queue_size", "must be at least 1, got %d", cfg.Alerts.QueueSize)
	}

	switch cfg.Notification.Type {
	case "log":
	case "slack":
		if cfg.Notification.WebhookURL == "" {
			return invalid("notification.webhook_url", "is required when type is \"slack\"")
		}
		if !strings.HasPrefix(cfg.Notification.WebhookURL, slackWebhookPrefix) {
			return invalid("notification.webhook_url", "must start with %s", slackWebhookPrefix)
		}
	case "telegram":
		if cfg.Notification.Telegram.Token == "" {
			return invalid("notification.telegram.token", "is required when type is \"telegram\" (set TELEGRAM_BOT_TOKEN or keyring_account)")
		}
		if cfg.Notification.Telegram.ChatID == 0 {
			return invalid("notification.telegram.chat_id", "is required when type is \"telegram\"")
		}
	default:
		return invalid("notification.type", "must be log, slack or telegram, got %q", cfg.Notification.Type)
	}

	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return invalid("api.port", "must be a valid TCP port, got %d", cfg.API.Port)
	}
	return nil
}
