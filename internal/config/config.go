package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/secrets"
)

// Config is the root configuration for SignalForge.
type Config struct {
	Database        string
	LogLevel        string
	LogFile         string
	AlertThreshold  int
	Pipeline        PipelineConfig
	Sources         []SourceConfig
	StackVocabulary map[string][]string // canonical token -> aliases
	Scoring         ScoringConfig
	Signals         SignalConfig
	Alerts          AlertConfig
	Notification    NotificationConfig
	API             APIConfig
}

// PipelineConfig controls the scheduling loop and the fetch worker pool.
type PipelineConfig struct {
	Concurrency int           // max concurrent fetches across all passes
	Interval    time.Duration // default schedule for sources without one
}

// SourceConfig describes a single source to collect from.
type SourceConfig struct {
	Name       string
	Type       string // greenhouse, lever, ashby, gem, workday, remoteok, html
	Company    string // display company for single-company boards
	BoardToken string // greenhouse/lever/ashby/gem board identifier
	URL        string // workday cxs base, remoteok feed, html page, or API base override
	Schedule   string // cron spec; defaults to "@every <pipeline.interval>"
	Enabled    bool
	Options    model.SourceOptions
	Selectors  HTMLSelectors
}

// HTMLSelectors are the CSS selectors used by the html source.
type HTMLSelectors struct {
	Item        string `yaml:"item"`
	Title       string `yaml:"title"`
	Company     string `yaml:"company"`
	Location    string `yaml:"location"`
	Link        string `yaml:"link"`
	Description string `yaml:"description"`
	PostedAt    string `yaml:"posted_at"`
}

// PenaltyRule subtracts Weight when any of the phrases appears in the title.
type PenaltyRule struct {
	Any    []string `yaml:"any"`
	Weight int      `yaml:"weight"`
}

// ScoringConfig is the named weight table used by the scorer.
type ScoringConfig struct {
	TitleKeywords   []string
	TitleMatch      int
	StackKeywords   []string
	StackMatch      int
	RemoteBonus     int
	RecencyMax      int
	RecencyHalfLife time.Duration
	SourceTiers     map[string]int
	Penalties       []PenaltyRule
}

// WindowConfig is a rolling window made of Length sub-windows of Bucket each.
type WindowConfig struct {
	Name   string
	Bucket time.Duration
	Length int
}

// Span is the total time covered by the window.
func (w WindowConfig) Span() time.Duration {
	return w.Bucket * time.Duration(w.Length)
}

// SignalConfig holds detection thresholds.
type SignalConfig struct {
	MinSamples    int
	SpikeZ        float64
	AnomalyK      float64
	StddevFloor   float64
	TrendBuckets  int
	TrendMinSlope float64
	Dimensions    []model.Dimension
	Windows       []WindowConfig
}

// AlertConfig controls the alert dispatcher.
type AlertConfig struct {
	MaxAttempts int // failed deliveries before a job is dead-lettered
	QueueSize   int
}

// NotificationConfig controls which notifier is used and its settings.
type NotificationConfig struct {
	Type       string // "log", "slack" or "telegram"
	WebhookURL string // required if type is "slack"
	Telegram   TelegramConfig
}

// TelegramConfig holds bot credentials. Token may come from the OS keyring.
type TelegramConfig struct {
	Token          string
	ChatID         int64
	KeyringAccount string
	APIURL         string // override for tests and self-hosted bot API servers
}

// APIConfig controls the query API listener.
type APIConfig struct {
	Host string
	Port int
}

// Addr is the listen address for the API server.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// EnabledSources returns the sources with enabled: true, in config order.
func (c *Config) EnabledSources() []SourceConfig {
	var out []SourceConfig
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// MaxWindowSpan is the longest configured window, used to size replays.
func (c *Config) MaxWindowSpan() time.Duration {
	var longest time.Duration
	for _, w := range c.Signals.Windows {
		if s := w.Span(); s > longest {
			longest = s
		}
	}
	return longest
}

// rawConfig is used for YAML unmarshaling (snake_case fields and duration as string).
type rawConfig struct {
	Database        string              `yaml:"database"`
	LogLevel        string              `yaml:"log_level"`
	LogFile         string              `yaml:"log_file"`
	AlertThreshold  *int                `yaml:"alert_threshold"`
	Pipeline        rawPipelineConfig   `yaml:"pipeline"`
	Sources         []rawSourceConfig   `yaml:"sources"`
	StackVocabulary map[string][]string `yaml:"stack_vocabulary"`
	Scoring         rawScoringConfig    `yaml:"scoring"`
	Signals         rawSignalConfig     `yaml:"signals"`
	Alerts          rawAlertConfig      `yaml:"alerts"`
	Notification    rawNotification     `yaml:"notification"`
	API             rawAPIConfig        `yaml:"api"`
}

type rawPipelineConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Interval    string `yaml:"interval"`
}

type rawSourceConfig struct {
	Name       string           `yaml:"name"`
	Type       string           `yaml:"type"`
	Company    string           `yaml:"company"`
	BoardToken string           `yaml:"board_token"`
	URL        string           `yaml:"url"`
	Schedule   string           `yaml:"schedule"`
	Enabled    *bool            `yaml:"enabled"`
	Options    rawSourceOptions `yaml:"options"`
	Selectors  HTMLSelectors    `yaml:"selectors"`
}

type rawSourceOptions struct {
	Timeout    string `yaml:"timeout"`
	RetryCount *int   `yaml:"retry_count"`
	RateLimit  struct {
		Requests int    `yaml:"requests"`
		Interval string `yaml:"interval"`
	} `yaml:"rate_limit"`
}

type rawScoringConfig struct {
	TitleKeywords   []string       `yaml:"title_keywords"`
	TitleMatch      *int           `yaml:"title_match"`
	StackKeywords   []string       `yaml:"stack_keywords"`
	StackMatch      *int           `yaml:"stack_match"`
	RemoteBonus     *int           `yaml:"remote_bonus"`
	RecencyMax      *int           `yaml:"recency_max"`
	RecencyHalfLife string         `yaml:"recency_half_life"`
	SourceTiers     map[string]int `yaml:"source_tiers"`
	Penalties       []PenaltyRule  `yaml:"penalties"`
}

type rawSignalConfig struct {
	MinSamples    *int        `yaml:"min_samples"`
	SpikeZ        *float64    `yaml:"spike_z"`
	AnomalyK      *float64    `yaml:"anomaly_k"`
	StddevFloor   *float64    `yaml:"stddev_floor"`
	TrendBuckets  *int        `yaml:"trend_buckets"`
	TrendMinSlope *float64    `yaml:"trend_min_slope"`
	Dimensions    []string    `yaml:"dimensions"`
	Windows       []rawWindow `yaml:"windows"`
}

type rawWindow struct {
	Name   string `yaml:"name"`
	Bucket string `yaml:"bucket"`
	Length int    `yaml:"length"`
}

type rawAlertConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	QueueSize   int `yaml:"queue_size"`
}

type rawNotification struct {
	Type       string `yaml:"type"`
	WebhookURL string `yaml:"webhook_url"`
	Telegram   struct {
		Token          string `yaml:"token"`
		ChatID         string `yaml:"chat_id"`
		KeyringAccount string `yaml:"keyring_account"`
		APIURL         string `yaml:"api_url"`
	} `yaml:"telegram"`
}

type rawAPIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// envOverrides are read from the environment after the YAML file.
// Unset variables leave the file value alone.
type envOverrides struct {
	Database         string `envconfig:"DATABASE"`
	LogLevel         string `envconfig:"LOG_LEVEL"`
	AlertThreshold   string `envconfig:"ALERT_THRESHOLD"`
	APIHost          string `envconfig:"API_HOST"`
	APIPort          string `envconfig:"API_PORT"`
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID   string `envconfig:"TELEGRAM_CHAT_ID"`
}

// Load reads and parses the YAML config file at path, applies environment
// overrides, validates it, and returns Config.
func Load(path string) (*Config, error) {
	// .env files are optional; variables may already be set in the shell.
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Notification.Type == "telegram" && cfg.Notification.Telegram.Token == "" && cfg.Notification.Telegram.KeyringAccount != "" {
		token, err := secrets.TelegramToken(cfg.Notification.Telegram.KeyringAccount)
		if err != nil {
			return nil, &model.ConfigurationError{Field: "notification.telegram.keyring_account", Reason: fmt.Sprintf("keyring lookup failed: %v", err)}
		}
		cfg.Notification.Telegram.Token = token
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse converts YAML bytes into a Config with defaults filled in. It expands
// ${VAR} references but does not validate.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := Default()
	if raw.Database != "" {
		cfg.Database = raw.Database
	}
	if raw.LogLevel != "" {
		cfg.LogLevel = raw.LogLevel
	}
	cfg.LogFile = raw.LogFile
	if raw.AlertThreshold != nil {
		cfg.AlertThreshold = *raw.AlertThreshold
	}

	if raw.Pipeline.Concurrency != 0 {
		cfg.Pipeline.Concurrency = raw.Pipeline.Concurrency
	}
	if raw.Pipeline.Interval != "" {
		d, err := time.ParseDuration(raw.Pipeline.Interval)
		if err != nil {
			return nil, fmt.Errorf("parse pipeline.interval %q: %w", raw.Pipeline.Interval, err)
		}
		cfg.Pipeline.Interval = d
	}

	for i, rs := range raw.Sources {
		sc, err := convertSource(rs, cfg.Pipeline.Interval)
		if err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		cfg.Sources = append(cfg.Sources, sc)
	}

	if len(raw.StackVocabulary) > 0 {
		cfg.StackVocabulary = raw.StackVocabulary
	}

	if err := mergeScoring(&cfg.Scoring, raw.Scoring); err != nil {
		return nil, err
	}
	if err := mergeSignals(&cfg.Signals, raw.Signals); err != nil {
		return nil, err
	}

	if raw.Alerts.MaxAttempts != 0 {
		cfg.Alerts.MaxAttempts = raw.Alerts.MaxAttempts
	}
	if raw.Alerts.QueueSize != 0 {
		cfg.Alerts.QueueSize = raw.Alerts.QueueSize
	}

	if raw.Notification.Type != "" {
		cfg.Notification.Type = raw.Notification.Type
	}
	cfg.Notification.WebhookURL = raw.Notification.WebhookURL
	tg := raw.Notification.Telegram
	cfg.Notification.Telegram.Token = tg.Token
	cfg.Notification.Telegram.KeyringAccount = tg.KeyringAccount
	cfg.Notification.Telegram.APIURL = tg.APIURL
	if tg.ChatID != "" {
		id, err := strconv.ParseInt(tg.ChatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse notification.telegram.chat_id %q: %w", tg.ChatID, err)
		}
		cfg.Notification.Telegram.ChatID = id
	}

	if raw.API.Host != "" {
		cfg.API.Host = raw.API.Host
	}
	if raw.API.Port != 0 {
		cfg.API.Port = raw.API.Port
	}

	return cfg, nil
}

func convertSource(rs rawSourceConfig, defaultInterval time.Duration) (SourceConfig, error) {
	sc := SourceConfig{
		Name:       rs.Name,
		Type:       strings.ToLower(strings.TrimSpace(rs.Type)),
		Company:    rs.Company,
		BoardToken: rs.BoardToken,
		URL:        rs.URL,
		Schedule:   rs.Schedule,
		Enabled:    true,
		Selectors:  rs.Selectors,
		Options: model.SourceOptions{
			Timeout:    30 * time.Second,
			RetryCount: 2,
		},
	}
	if sc.Name == "" {
		sc.Name = sc.Type
		if rs.BoardToken != "" {
			sc.Name = sc.Type + "-" + rs.BoardToken
		}
	}
	if rs.Enabled != nil {
		sc.Enabled = *rs.Enabled
	}
	if sc.Schedule == "" {
		sc.Schedule = "@every " + defaultInterval.String()
	}
	if rs.Options.Timeout != "" {
		d, err := time.ParseDuration(rs.Options.Timeout)
		if err != nil {
			return sc, fmt.Errorf("parse options.timeout %q: %w", rs.Options.Timeout, err)
		}
		sc.Options.Timeout = d
	}
	if rs.Options.RetryCount != nil {
		sc.Options.RetryCount = *rs.Options.RetryCount
	}
	sc.Options.RateLimit.Requests = rs.Options.RateLimit.Requests
	if rs.Options.RateLimit.Interval != "" {
		d, err := time.ParseDuration(rs.Options.RateLimit.Interval)
		if err != nil {
			return sc, fmt.Errorf("parse options.rate_limit.interval %q: %w", rs.Options.RateLimit.Interval, err)
		}
		sc.Options.RateLimit.Interval = d
	}
	return sc, nil
}

func mergeScoring(dst *ScoringConfig, raw rawScoringConfig) error {
	if raw.TitleKeywords != nil {
		dst.TitleKeywords = raw.TitleKeywords
	}
	if raw.StackKeywords != nil {
		dst.StackKeywords = raw.StackKeywords
	}
	setInt(&dst.TitleMatch, raw.TitleMatch)
	setInt(&dst.StackMatch, raw.StackMatch)
	setInt(&dst.RemoteBonus, raw.RemoteBonus)
	setInt(&dst.RecencyMax, raw.RecencyMax)
	if raw.RecencyHalfLife != "" {
		d, err := time.ParseDuration(raw.RecencyHalfLife)
		if err != nil {
			return fmt.Errorf("parse scoring.recency_half_life %q: %w", raw.RecencyHalfLife, err)
		}
		dst.RecencyHalfLife = d
	}
	if raw.SourceTiers != nil {
		dst.SourceTiers = raw.SourceTiers
	}
	if raw.Penalties != nil {
		dst.Penalties = raw.Penalties
	}
	return nil
}

func mergeSignals(dst *SignalConfig, raw rawSignalConfig) error {
	setInt(&dst.MinSamples, raw.MinSamples)
	setInt(&dst.TrendBuckets, raw.TrendBuckets)
	setFloat(&dst.SpikeZ, raw.SpikeZ)
	setFloat(&dst.AnomalyK, raw.AnomalyK)
	setFloat(&dst.StddevFloor, raw.StddevFloor)
	setFloat(&dst.TrendMinSlope, raw.TrendMinSlope)

	if raw.Dimensions != nil {
		dst.Dimensions = nil
		for _, s := range raw.Dimensions {
			d, err := model.ParseDimension(s)
			if err != nil {
				return fmt.Errorf("signals.dimensions: %w", err)
			}
			dst.Dimensions = append(dst.Dimensions, d)
		}
	}

	if raw.Windows != nil {
		dst.Windows = nil
		for _, rw := range raw.Windows {
			bucket, err := time.ParseDuration(rw.Bucket)
			if err != nil {
				return fmt.Errorf("parse signals.windows[%s].bucket %q: %w", rw.Name, rw.Bucket, err)
			}
			dst.Windows = append(dst.Windows, WindowConfig{Name: rw.Name, Bucket: bucket, Length: rw.Length})
		}
	}
	return nil
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process("signalforge", &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if env.Database != "" {
		cfg.Database = env.Database
	}
	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}
	if env.AlertThreshold != "" {
		n, err := strconv.Atoi(env.AlertThreshold)
		if err != nil {
			return &model.ConfigurationError{Field: "SIGNALFORGE_ALERT_THRESHOLD", Reason: fmt.Sprintf("must be an integer, got %q", env.AlertThreshold)}
		}
		cfg.AlertThreshold = n
	}
	if env.APIHost != "" {
		cfg.API.Host = env.APIHost
	}
	if env.APIPort != "" {
		n, err := strconv.Atoi(env.APIPort)
		if err != nil {
			return &model.ConfigurationError{Field: "SIGNALFORGE_API_PORT", Reason: fmt.Sprintf("must be an integer, got %q", env.APIPort)}
		}
		cfg.API.Port = n
	}
	if env.TelegramBotToken != "" {
		cfg.Notification.Telegram.Token = env.TelegramBotToken
	}
	if env.TelegramChatID != "" {
		id, err := strconv.ParseInt(env.TelegramChatID, 10, 64)
		if err != nil {
			return &model.ConfigurationError{Field: "TELEGRAM_CHAT_ID", Reason: fmt.Sprintf("must be an integer, got %q", env.TelegramChatID)}
		}
		cfg.Notification.Telegram.ChatID = id
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
