package config

import (
	"time"

	"github.com/signalforge/signalforge/internal/model"
)

// DefaultAlertThreshold is the score at or above which a job is alerted.
const DefaultAlertThreshold = 70

// Default returns a Config populated with the built-in defaults. The scoring
// weights and detection thresholds are tunable starting points, not ground truth.
func Default() *Config {
	return &Config{
		Database:       "signalforge.db",
		LogLevel:       "info",
		AlertThreshold: DefaultAlertThreshold,
		Pipeline: PipelineConfig{
			Concurrency: 4,
			Interval:    15 * time.Minute,
		},
		StackVocabulary: map[string][]string{
			"go":         {"golang"},
			"rust":       nil,
			"python":     nil,
			"java":       nil,
			"kotlin":     nil,
			"typescript": {"ts"},
			"javascript": {"js"},
			"node":       {"node.js", "nodejs"},
			"react":      {"react.js", "reactjs"},
			"kubernetes": {"k8s"},
			"docker":     nil,
			"terraform":  nil,
			"aws":        {"amazon web services"},
			"gcp":        {"google cloud"},
			"postgres":   {"postgresql"},
			"kafka":      nil,
			"grpc":       nil,
		},
		Scoring: ScoringConfig{
			TitleKeywords:   []string{"engineer", "developer", "sre"},
			TitleMatch:      20,
			StackMatch:      15,
			RemoteBonus:     10,
			RecencyMax:      10,
			RecencyHalfLife: 72 * time.Hour,
			SourceTiers:     map[string]int{},
		},
		Signals: SignalConfig{
			MinSamples:    4,
			SpikeZ:        3,
			AnomalyK:      2,
			StddevFloor:   0.5,
			TrendBuckets:  4,
			TrendMinSlope: 1,
			Dimensions:    []model.Dimension{model.DimensionCompany, model.DimensionLocation, model.DimensionStack},
			Windows: []WindowConfig{
				{Name: "daily", Bucket: 24 * time.Hour, Length: 14},
				{Name: "weekly", Bucket: 7 * 24 * time.Hour, Length: 8},
			},
		},
		Alerts: AlertConfig{
			MaxAttempts: 3,
			QueueSize:   256,
		},
		Notification: NotificationConfig{Type: "log"},
		API:          APIConfig{Host: "0.0.0.0", Port: 8000},
	}
}
