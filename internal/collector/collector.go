package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/ratelimit"
	"github.com/signalforge/signalforge/internal/retry"
)

// retryBaseDelay is the first backoff delay; later retries double it.
var retryBaseDelay = 5 * time.Second

// Factory builds an unconfigured source variant from its config entry.
type Factory func(sc config.SourceConfig, client *http.Client) (model.Collector, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"greenhouse": newGreenhouse,
		"lever":      newLever,
		"ashby":      newAshby,
		"gem":        newGem,
		"workday":    newWorkday,
		"remoteok":   newRemoteOK,
		"html":       newHTML,
	}
)

// Register adds a source variant under typ, replacing any existing one.
func Register(typ string, f Factory) {
	typ = strings.ToLower(typ)
	registryMu.Lock()
	registry[typ] = f
	registryMu.Unlock()
	config.RegisterSourceType(typ)
}

// Types lists the registered source types.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs the collector for sc and wraps it with rate limiting,
// retries and the per-source timeout, in that order from the inside out.
func Build(sc config.SourceConfig, client *http.Client, logger *slog.Logger) (model.Collector, error) {
	registryMu.RLock()
	f, ok := registry[sc.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, &model.ConfigurationError{Field: "sources[" + sc.Name + "].type", Reason: fmt.Sprintf("unsupported source type %q", sc.Type)}
	}

	c, err := f(sc, client)
	if err != nil {
		return nil, fmt.Errorf("build source %s: %w", sc.Name, err)
	}
	if err := c.Configure(sc.Options); err != nil {
		return nil, fmt.Errorf("configure source %s: %w", sc.Name, err)
	}

	var wrapped model.Collector = c
	if sc.Options.RateLimit.Requests > 0 {
		wrapped = ratelimit.NewCollector(wrapped, sc.Options.RateLimit)
	}
	if sc.Options.RetryCount > 0 {
		wrapped = retry.NewCollector(wrapped, sc.Options.RetryCount, retryBaseDelay, logger.With("source", sc.Name))
	}
	return Bounded(wrapped, sc.Options.Timeout), nil
}

// BuildAll builds every enabled source in cfg.
func BuildAll(cfg *config.Config, client *http.Client, logger *slog.Logger) ([]model.Collector, error) {
	var out []model.Collector
	for _, sc := range cfg.EnabledSources() {
		c, err := Build(sc, client, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type bounded struct {
	inner   model.Collector
	timeout time.Duration
}

// Bounded limits each Fetch of inner to timeout and reports every failure as
// a *model.SourceFetchError. A successful fetch never returns a nil slice.
func Bounded(inner model.Collector, timeout time.Duration) model.Collector {
	return &bounded{inner: inner, timeout: timeout}
}

func (b *bounded) Name() string { return b.inner.Name() }

func (b *bounded) Configure(opts model.SourceOptions) error {
	if opts.Timeout > 0 {
		b.timeout = opts.Timeout
	}
	return b.inner.Configure(opts)
}

func (b *bounded) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	postings, err := b.inner.Fetch(ctx)
	if err != nil {
		return nil, &model.SourceFetchError{Source: b.inner.Name(), Err: err}
	}
	if postings == nil {
		postings = []model.RawPosting{}
	}
	return postings, nil
}

// base holds what every built-in variant shares.
type base struct {
	name   string
	opts   model.SourceOptions
	client *http.Client
}

func (b *base) Name() string { return b.name }

func (b *base) Configure(opts model.SourceOptions) error {
	if opts.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if opts.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative")
	}
	b.opts = opts
	return nil
}

func newBase(sc config.SourceConfig, client *http.Client) base {
	if client == nil {
		client = http.DefaultClient
	}
	return base{name: sc.Name, client: client}
}

// companyName picks the display company for single-company boards.
func companyName(sc config.SourceConfig) string {
	if sc.Company != "" {
		return sc.Company
	}
	return sc.BoardToken
}
