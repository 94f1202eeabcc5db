package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/store"
)

// --- Fakes ---

type stubCollector struct {
	name     string
	postings []model.RawPosting
	err      error
	started  chan struct{}
	release  chan struct{}
	onFetch  func()
}

func (s *stubCollector) Name() string { return s.name }
func (s *stubCollector) Configure(_ model.SourceOptions) error { return nil }
func (s *stubCollector) Fetch(ctx context.Context) ([]model.RawPosting, error) {
	if s.onFetch != nil {
		s.onFetch()
	}
	if s.started != nil {
		close(s.started)
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.postings, s.err
}

type recordingAlerter struct {
	mu      sync.Mutex
	jobs    []model.Job
	signals []model.Signal
}

func (r *recordingAlerter) EnqueueJob(j model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, j)
	return nil
}

func (r *recordingAlerter) EnqueueSignal(s model.Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
	return nil
}

// failingStore fails every upsert.
type failingStore struct {
	*store.SQLiteStore
	err error
}

func (f *failingStore) UpsertJob(context.Context, model.Job, func(model.Job) int) (model.Job, bool, error) {
	return model.Job{}, false, f.err
}

// companyFailingStore fails upserts for one company and stores the rest.
type companyFailingStore struct {
	*store.SQLiteStore
	company string
	err     error
}

func (f *companyFailingStore) UpsertJob(ctx context.Context, job model.Job, score func(model.Job) int) (model.Job, bool, error) {
	if job.Company == f.company {
		return model.Job{}, false, f.err
	}
	return f.SQLiteStore.UpsertJob(ctx, job, score)
}

// --- Helpers ---

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pipeline.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AlertThreshold = 40
	cfg.Signals.Dimensions = []model.Dimension{model.DimensionCompany}
	cfg.Signals.Windows = []config.WindowConfig{{Name: "daily", Bucket: 24 * time.Hour, Length: 14}}
	return cfg
}

func newPipeline(t *testing.T, st Store, alerter Alerter, collectors ...model.Collector) *Pipeline {
	t.Helper()
	p := New(testConfig(), collectors, st, alerter, nil, discardLogger())
	p.now = func() time.Time { return now }
	return p
}

// currentCount is the aggregator's current-bucket count for a company.
func currentCount(p *Pipeline, company string) int {
	for _, st := range p.aggregator.Snapshot(now) {
		if st.Dimension == model.DimensionCompany && st.Value == company {
			return st.Count
		}
	}
	return 0
}

func postings(company string, n int) []model.RawPosting {
	out := make([]model.RawPosting, n)
	for i := range out {
		out[i] = model.RawPosting{
			Title:    "Go Engineer",
			Company:  company,
			Location: "Remote",
			URL:      fmt.Sprintf("https://jobs.example.com/%s/%d?utm_source=feed", company, i),
		}
	}
	return out
}

// --- Tests ---

func TestRunPass_DedupIdempotent(t *testing.T) {
	st := newTestStore(t)
	src := &stubCollector{name: "board", postings: postings("Acme", 3)}
	p := newPipeline(t, st, nil, src)
	ctx := context.Background()

	first, err := p.RunPass(ctx)
	if err != nil {
		t.Fatalf("first RunPass: %v", err)
	}
	if first.Created() != 3 {
		t.Errorf("first pass created %d, want 3", first.Created())
	}

	second, err := p.RunPass(ctx)
	if err != nil {
		t.Fatalf("second RunPass: %v", err)
	}
	sr := second.Sources[0]
	if sr.Created != 0 || sr.Duplicates != 3 || sr.Fetched != 3 {
		t.Errorf("second pass = %+v, want 3 duplicates", sr)
	}

	jobs, _ := st.ListJobs(ctx, store.JobFilter{})
	if len(jobs) != 3 {
		t.Errorf("stored %d jobs, want 3", len(jobs))
	}
}

func TestRunPass_InvalidPostingsCounted(t *testing.T) {
	st := newTestStore(t)
	raws := append(postings("Acme", 1), model.RawPosting{Title: "  ", Company: "Acme"}, model.RawPosting{Title: "SRE"})
	p := newPipeline(t, st, nil, &stubCollector{name: "board", postings: raws})

	report, err := p.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if sr := report.Sources[0]; sr.Invalid != 2 || sr.Created != 1 {
		t.Errorf("report = %+v, want 2 invalid and 1 created", sr)
	}
}

func TestRunPass_FailingSourceIsolated(t *testing.T) {
	st := newTestStore(t)
	bad := &stubCollector{name: "bad", err: &model.SourceFetchError{Source: "bad", Err: errors.New("HTTP 500")}}
	good := &stubCollector{name: "good", postings: postings("Acme", 2)}
	p := newPipeline(t, st, nil, bad, good)

	report, err := p.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	failed := report.Failed()
	if len(failed) != 1 || failed[0].Source != "bad" {
		t.Fatalf("Failed = %+v, want only bad", failed)
	}
	var sfe *model.SourceFetchError
	if !errors.As(failed[0].Err, &sfe) {
		t.Errorf("err = %v, want SourceFetchError", failed[0].Err)
	}
	if report.Created() != 2 {
		t.Errorf("created = %d, want 2 from the healthy source", report.Created())
	}
	if p.Coordinator().Running("bad") {
		t.Error("failed source still marked running")
	}
}

func TestRunPass_OverlappingRunSkipped(t *testing.T) {
	st := newTestStore(t)
	slow := &stubCollector{
		name:     "slow",
		postings: postings("Acme", 1),
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	p := newPipeline(t, st, nil, slow)
	ctx := context.Background()

	type result struct {
		report Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := p.RunPass(ctx)
		done <- result{r, err}
	}()
	<-slow.started

	if !p.Coordinator().Running("slow") {
		t.Fatal("source should be marked running")
	}
	manual, err := p.RunPass(ctx, "slow")
	if err != nil {
		t.Fatalf("manual RunPass: %v", err)
	}
	if !manual.Sources[0].Skipped {
		t.Errorf("manual pass = %+v, want skipped", manual.Sources[0])
	}

	close(slow.release)
	r := <-done
	if r.err != nil || r.report.Created() != 1 {
		t.Errorf("scheduled pass = %+v, %v", r.report, r.err)
	}
	if p.Coordinator().Running("slow") {
		t.Error("source still marked running after pass")
	}
}

func TestRunPass_StoreFailureAborts(t *testing.T) {
	diskFull := errors.New("disk full")
	st := &failingStore{SQLiteStore: newTestStore(t), err: diskFull}
	p := newPipeline(t, st, nil, &stubCollector{name: "board", postings: postings("Acme", 1)})

	_, err := p.RunPass(context.Background())
	if !errors.Is(err, diskFull) {
		t.Fatalf("err = %v, want wrapped disk full", err)
	}
	if p.Coordinator().Running("board") {
		t.Error("source still marked running after abort")
	}
}

func TestRunPass_AbortKeepsStatsInStepWithStore(t *testing.T) {
	diskFull := errors.New("disk full")
	base := newTestStore(t)
	st := &companyFailingStore{SQLiteStore: base, company: "Boom", err: diskFull}
	src := &stubCollector{name: "board", postings: append(postings("Acme", 5), postings("Boom", 1)...)}
	p := newPipeline(t, st, nil, src)
	ctx := context.Background()

	report, err := p.RunPass(ctx)
	if !errors.Is(err, diskFull) {
		t.Fatalf("err = %v, want wrapped disk full", err)
	}
	if report.Sources[0].Created != 5 {
		t.Errorf("created = %d, want 5 committed before the failure", report.Sources[0].Created)
	}
	stored, _ := base.ListJobs(ctx, store.JobFilter{})
	if len(stored) != 5 {
		t.Fatalf("stored %d jobs, want 5", len(stored))
	}
	if got := currentCount(p, "Acme"); got != 5 {
		t.Errorf("aggregated Acme = %d after abort, want 5 to match the store", got)
	}
	if sigs, _ := base.ListSignals(ctx, store.SignalFilter{}); len(sigs) != 0 {
		t.Errorf("stored %d signals after abort, want 0", len(sigs))
	}

	// A later pass sees the committed jobs as duplicates and must not lose them.
	src.postings = postings("Acme", 5)
	if _, err := p.RunPass(ctx); err != nil {
		t.Fatalf("follow-up RunPass: %v", err)
	}
	if got := currentCount(p, "Acme"); got != 5 {
		t.Errorf("aggregated Acme = %d after follow-up pass, want 5", got)
	}

	// Replaying the store yields the same stats as the incremental path.
	replayed := newPipeline(t, base, nil, src)
	if err := replayed.Warm(ctx); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if got := currentCount(replayed, "Acme"); got != 5 {
		t.Errorf("replayed Acme = %d, want 5", got)
	}
}

func TestRunPass_CancelledPassCommitsNoSignals(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for day := 1; day <= 8; day++ {
		seen := now.Add(-time.Duration(day) * 24 * time.Hour)
		key := fmt.Sprintf("seed-%d", day)
		if _, _, err := st.UpsertJob(ctx, model.Job{ID: key, DedupKey: key, Title: "Engineer", Company: "Acme", FirstSeen: seen, LastSeen: seen}, nil); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	alerter := &recordingAlerter{}
	src := &stubCollector{name: "board", postings: postings("Acme", 10), onFetch: cancel}
	p := newPipeline(t, st, alerter, src)
	if err := p.Warm(ctx); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	report, err := p.RunPass(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(report.Signals) != 0 || len(alerter.signals) != 0 || len(alerter.jobs) != 0 {
		t.Errorf("cancelled pass produced signals %v, alerts %v", report.Signals, alerter.jobs)
	}
	bg := context.Background()
	if sigs, _ := st.ListSignals(bg, store.SignalFilter{}); len(sigs) != 0 {
		t.Errorf("stored %d signals after cancel, want 0", len(sigs))
	}
	jobs, _ := st.JobsFirstSeenSince(bg, now.Add(-time.Hour))
	if got := currentCount(p, "Acme"); got != len(jobs) {
		t.Errorf("aggregated Acme = %d, store has %d in the current bucket", got, len(jobs))
	}
	if p.Coordinator().Running("board") {
		t.Error("source still marked running after cancel")
	}
}

func TestRunPass_UnknownSource(t *testing.T) {
	p := newPipeline(t, newTestStore(t), nil, &stubCollector{name: "board"})
	if _, err := p.RunPass(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestRunPass_EnqueuesEligibleJobs(t *testing.T) {
	st := newTestStore(t)
	alerter := &recordingAlerter{}
	raws := []model.RawPosting{
		{Title: "Go Engineer", Company: "Acme", Location: "Remote", URL: "https://example.com/1"},
		{Title: "Accountant", Company: "Acme", Location: "Berlin", URL: "https://example.com/2"},
	}
	p := newPipeline(t, st, alerter, &stubCollector{name: "board", postings: raws})

	report, err := p.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if len(alerter.jobs) != 1 || alerter.jobs[0].Title != "Go Engineer" {
		t.Fatalf("queued jobs = %+v, want only the Go Engineer", alerter.jobs)
	}
	if alerter.jobs[0].Score < 40 {
		t.Errorf("queued score = %d, want >= threshold", alerter.jobs[0].Score)
	}
	if report.AlertsQueued != 1 {
		t.Errorf("AlertsQueued = %d, want 1", report.AlertsQueued)
	}
}

func TestRunPass_DetectsSpikeOnce(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// Two Acme postings on each of the eight previous days.
	for day := 1; day <= 8; day++ {
		seen := now.Add(-time.Duration(day) * 24 * time.Hour)
		for i := 0; i < 2; i++ {
			key := fmt.Sprintf("seed-%d-%d", day, i)
			_, _, err := st.UpsertJob(ctx, model.Job{
				ID: key, DedupKey: key, Title: "Engineer", Company: "Acme",
				FirstSeen: seen, LastSeen: seen,
			}, nil)
			if err != nil {
				t.Fatalf("seed: %v", err)
			}
		}
	}

	alerter := &recordingAlerter{}
	src := &stubCollector{name: "board", postings: postings("Acme", 10)}
	p := newPipeline(t, st, alerter, src)
	if err := p.Warm(ctx); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	report, err := p.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass: %v", err)
	}
	if len(report.Signals) != 1 {
		t.Fatalf("signals = %+v, want one spike", report.Signals)
	}
	sig := report.Signals[0]
	if sig.Type != model.SignalSpike || sig.DimensionValue != "Acme" || sig.Count != 10 || sig.Score != 100 {
		t.Errorf("signal = %+v", sig)
	}
	if len(alerter.signals) != 1 {
		t.Errorf("queued signals = %d, want 1", len(alerter.signals))
	}

	// Same bucket, condition persists: no second signal.
	again, err := p.RunPass(ctx)
	if err != nil {
		t.Fatalf("second RunPass: %v", err)
	}
	if len(again.Signals) != 0 {
		t.Errorf("second pass created %d signals, want 0", len(again.Signals))
	}
	stored, _ := st.ListSignals(ctx, store.SignalFilter{})
	if len(stored) != 1 {
		t.Errorf("stored %d signals, want 1", len(stored))
	}
}

func TestPipeline_SourcesInConfigOrder(t *testing.T) {
	p := newPipeline(t, newTestStore(t), nil, &stubCollector{name: "lever-b"}, &stubCollector{name: "ashby-a"})
	got := p.Sources()
	if len(got) != 2 || got[0] != "lever-b" || got[1] != "ashby-a" {
		t.Errorf("Sources = %v", got)
	}
}

func TestCoordinator(t *testing.T) {
	c := NewCoordinator()
	if !c.TryStart("a") {
		t.Fatal("first TryStart should succeed")
	}
	if c.TryStart("a") {
		t.Fatal("second TryStart should fail while running")
	}
	if !c.TryStart("b") {
		t.Fatal("other sources are independent")
	}
	if got := c.Active(); len(got) != 2 || got[0] != "a" {
		t.Errorf("Active = %v", got)
	}
	c.Finish("a")
	if c.Running("a") || !c.TryStart("a") {
		t.Error("a should be startable after Finish")
	}
}
