package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/signalforge/signalforge/internal/collector"
	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/store"
)

var (
	cfgPath string
	debug   bool
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

var rootCmd = &cobra.Command{
	Use:           "signalforge",
	Short:         "Job-market signal engine",
	Long:          "SignalForge collects job postings, scores them, detects hiring trends, anomalies and spikes, and alerts on what matters.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (default: SIGNALFORGE_CONFIG env var or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

// resolveConfigPath applies the priority: explicit flag > SIGNALFORGE_CONFIG > ./config.yaml.
func resolveConfigPath(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv("SIGNALFORGE_CONFIG"); env != "" {
		return env
	}
	return "config.yaml"
}

func loadConfig(path string) (*config.Config, error) {
	return config.Load(resolveConfigPath(path))
}

// setupLogger builds the text logger at the configured level. When logFile is
// set, output goes to both stdout and the file; the returned closer releases it.
func setupLogger(level string, dbg bool, logFile string) (*slog.Logger, func() error, error) {
	logLevel := parseLevel(level)
	if dbg {
		logLevel = slog.LevelDebug
	}

	var out io.Writer = os.Stdout
	closer := func() error { return nil }
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		closer = f.Close
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: logLevel})), closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// app is what every command that touches the database needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.SQLiteStore
	close  func()
}

// setup loads the config, builds the logger and opens the store. quiet drops
// logs (or sends them to stderr with --debug), for commands whose stdout is
// the product.
func setup(quiet bool) (*app, error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	var (
		logger   *slog.Logger
		closeLog = func() error { return nil }
	)
	if quiet {
		var out io.Writer = io.Discard
		if debug {
			out = os.Stderr
		}
		logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		logger, closeLog, err = setupLogger(cfg.LogLevel, debug, cfg.LogFile)
		if err != nil {
			return nil, err
		}
	}

	st, err := store.NewSQLiteStore(cfg.Database)
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		store:  st,
		close: func() {
			if err := st.Close(); err != nil {
				logger.Warn("failed to close store", "error", err)
			}
			_ = closeLog()
		},
	}, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func buildCollectors(cfg *config.Config, logger *slog.Logger) ([]model.Collector, error) {
	collectors, err := collector.BuildAll(cfg, newHTTPClient(), logger)
	if err != nil {
		return nil, err
	}
	for _, sc := range cfg.EnabledSources() {
		logger.Info("registered source", "name", sc.Name, "type", sc.Type, "schedule", sc.Schedule)
	}
	if len(collectors) == 0 {
		return nil, &model.ConfigurationError{Field: "sources", Reason: "no enabled sources"}
	}
	return collectors, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
