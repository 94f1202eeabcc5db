package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// roundTripFunc adapts a function to http.RoundTripper.
type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

type stubCollector struct {
	name  string
	fetch func(ctx context.Context) ([]model.RawPosting, error)
}

func (s *stubCollector) Name() string                        { return s.name }
func (s *stubCollector) Configure(_ model.SourceOptions) error { return nil }
func (s *stubCollector) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	return s.fetch(ctx)
}

func TestBounded_WrapsErrorsAsSourceFetchError(t *testing.T) {
	inner := &stubCollector{name: "acme", fetch: func(context.Context) ([]model.RawPosting, error) {
		return nil, errors.New("boom")
	}}

	_, err := Bounded(inner, time.Second).Fetch(context.Background())
	var sfe *model.SourceFetchError
	if !errors.As(err, &sfe) {
		t.Fatalf("err = %v, want SourceFetchError", err)
	}
	if sfe.Source != "acme" {
		t.Errorf("Source = %q, want acme", sfe.Source)
	}
}

func TestBounded_AppliesTimeout(t *testing.T) {
	inner := &stubCollector{name: "slow", fetch: func(ctx context.Context) ([]model.RawPosting, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	start := time.Now()
	_, err := Bounded(inner, 20*time.Millisecond).Fetch(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout was not applied")
	}
}

func TestBounded_NeverReturnsNilSlice(t *testing.T) {
	inner := &stubCollector{name: "empty", fetch: func(context.Context) ([]model.RawPosting, error) {
		return nil, nil
	}}

	got, err := Bounded(inner, time.Second).Fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil {
		t.Fatal("expected empty non-nil slice")
	}
}

func TestBuild_UnknownType(t *testing.T) {
	_, err := Build(config.SourceConfig{Name: "x", Type: "workday"}, nil, discardLogger())
	if !model.IsConfigurationError(err) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
}

func TestBuild_WrapsAndRetries(t *testing.T) {
	defer func(d time.Duration) { retryBaseDelay = d }(retryBaseDelay)
	retryBaseDelay = 10 * time.Millisecond

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`[{"legal":"notice"},{"id":"1","position":"Go Engineer","company":"Acme","url":"https://remoteok.com/1"}]`))
	}))
	defer srv.Close()

	sc := config.SourceConfig{
		Name: "rok",
		Type: "remoteok",
		URL:  srv.URL,
		Options: model.SourceOptions{
			Timeout:    5 * time.Second,
			RetryCount: 1,
			RateLimit:  model.RateLimit{Requests: 10, Interval: time.Second},
		},
	}
	c, err := Build(sc, srv.Client(), discardLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if c.Name() != "rok" {
		t.Errorf("Name = %q, want rok", c.Name())
	}
	got, err := c.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 1 || calls != 2 {
		t.Fatalf("got %d postings after %d calls, want 1 after 2", len(got), calls)
	}
}

func TestBuild_FailureIsSourceFetchError(t *testing.T) {
	defer func(d time.Duration) { retryBaseDelay = d }(retryBaseDelay)
	retryBaseDelay = 10 * time.Millisecond

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	sc := config.SourceConfig{Name: "gone", Type: "lever", BoardToken: "gone", URL: srv.URL,
		Options: model.SourceOptions{Timeout: time.Second, RetryCount: 2}}
	c, err := Build(sc, srv.Client(), discardLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = c.Fetch(context.Background())
	var sfe *model.SourceFetchError
	if !errors.As(err, &sfe) || sfe.Source != "gone" {
		t.Fatalf("err = %v, want SourceFetchError for gone", err)
	}
	var httpErr *model.HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 404 {
		t.Fatalf("err = %v, want wrapped 404", err)
	}
}

func TestRegister_CustomType(t *testing.T) {
	Register("static", func(sc config.SourceConfig, _ *http.Client) (model.Collector, error) {
		return &stubCollector{name: sc.Name, fetch: func(context.Context) ([]model.RawPosting, error) {
			return []model.RawPosting{{Title: "t", Company: "c"}}, nil
		}}, nil
	})

	found := false
	for _, typ := range Types() {
		if typ == "static" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Types() = %v, missing static", Types())
	}

	c, err := Build(config.SourceConfig{Name: "s", Type: "static", Options: model.SourceOptions{Timeout: time.Second}}, nil, discardLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := c.Fetch(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("Fetch = %v, %v", got, err)
	}
}

func TestBuildAll_SkipsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{
		{Name: "on", Type: "remoteok", Enabled: true, Options: model.SourceOptions{Timeout: time.Second}},
		{Name: "off", Type: "remoteok", Enabled: false, Options: model.SourceOptions{Timeout: time.Second}},
	}
	got, err := BuildAll(cfg, nil, discardLogger())
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if len(got) != 1 || got[0].Name() != "on" {
		t.Fatalf("BuildAll = %d collectors", len(got))
	}
}

func TestExtractText(t *testing.T) {
	in := "&lt;p&gt;We use &lt;strong&gt;Go&lt;/strong&gt; and Kubernetes.&lt;/p&gt;&lt;p&gt;Remote&amp;nbsp;OK&lt;/p&gt;"
	got := extractText(in)
	want := "We use Go and Kubernetes. Remote OK"
	if got != want {
		t.Errorf("extractText = %q, want %q", got, want)
	}
}
