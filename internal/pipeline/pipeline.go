package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/signalforge/signalforge/internal/aggregate"
	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/normalize"
	"github.com/signalforge/signalforge/internal/scorer"
	"github.com/signalforge/signalforge/internal/signal"
)

// Store is what a pass reads and writes.
type Store interface {
	UpsertJob(ctx context.Context, job model.Job, score func(model.Job) int) (model.Job, bool, error)
	CreateSignals(ctx context.Context, signals []model.Signal) ([]model.Signal, error)
	PendingAlerts(ctx context.Context, threshold int) ([]model.Job, error)
	JobsFirstSeenSince(ctx context.Context, since time.Time) ([]model.Job, error)
}

// Alerter queues deliveries. The alert dispatcher implements it.
type Alerter interface {
	EnqueueJob(job model.Job) error
	EnqueueSignal(sig model.Signal) error
}

// SourceReport is the outcome of one source within a pass.
type SourceReport struct {
	Source     string
	Skipped    bool // already running elsewhere
	Fetched    int
	Created    int
	Duplicates int
	Invalid    int
	Err        error
	Duration   time.Duration
}

// Report summarizes a pass.
type Report struct {
	Sources      []SourceReport
	Signals      []model.Signal // newly created
	AlertsQueued int
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Created is the number of new jobs across all sources.
func (r Report) Created() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Created
	}
	return n
}

// Failed lists the sources whose fetch failed.
func (r Report) Failed() []SourceReport {
	var out []SourceReport
	for _, s := range r.Sources {
		if s.Err != nil {
			out = append(out, s)
		}
	}
	return out
}

// Pipeline runs collection passes: fetch, normalize, upsert, aggregate,
// detect and enqueue alerts.
type Pipeline struct {
	collectors  []model.Collector
	byName      map[string]model.Collector
	store       Store
	alerter     Alerter
	coord       *Coordinator
	normalizer  *normalize.Normalizer
	scorer      *scorer.Scorer
	aggregator  *aggregate.Aggregator
	detector    *signal.Detector
	fetchSem    *semaphore.Weighted
	concurrency int
	threshold   int
	replaySpan  time.Duration
	logger      *slog.Logger
	now         func() time.Time

	analysisMu sync.Mutex
}

// New wires a Pipeline from cfg. coord may be shared with other pipelines
// in the same process; nil creates a private one.
func New(cfg *config.Config, collectors []model.Collector, st Store, alerter Alerter, coord *Coordinator, logger *slog.Logger) *Pipeline {
	if coord == nil {
		coord = NewCoordinator()
	}
	concurrency := max(cfg.Pipeline.Concurrency, 1)
	p := &Pipeline{
		collectors:  collectors,
		byName:      make(map[string]model.Collector, len(collectors)),
		store:       st,
		alerter:     alerter,
		coord:       coord,
		normalizer:  normalize.New(cfg.StackVocabulary),
		scorer:      scorer.New(cfg.Scoring),
		aggregator:  aggregate.New(cfg.Signals.Dimensions, cfg.Signals.Windows),
		detector:    signal.New(cfg.Signals),
		fetchSem:    semaphore.NewWeighted(int64(concurrency)),
		concurrency: concurrency,
		threshold:   cfg.AlertThreshold,
		replaySpan:  cfg.MaxWindowSpan(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, c := range collectors {
		p.byName[c.Name()] = c
	}
	return p
}

// Coordinator exposes the run-state flags.
func (p *Pipeline) Coordinator() *Coordinator { return p.coord }

// Sources lists the configured source names in config order.
func (p *Pipeline) Sources() []string {
	out := make([]string, len(p.collectors))
	for i, c := range p.collectors {
		out[i] = c.Name()
	}
	return out
}

// Warm rebuilds the aggregator from jobs first seen within the longest window.
func (p *Pipeline) Warm(ctx context.Context) error {
	now := p.now()
	jobs, err := p.store.JobsFirstSeenSince(ctx, now.Add(-p.replaySpan))
	if err != nil {
		return fmt.Errorf("replay aggregates: %w", err)
	}
	p.analysisMu.Lock()
	p.aggregator.Replay(jobs, now)
	p.analysisMu.Unlock()
	p.logger.Info("aggregates replayed", "jobs", len(jobs), "series", p.aggregator.Len())
	return nil
}

// RunPass collects from the named sources, or all sources when none are
// named. Sources already running are reported as skipped, never queued.
// Source failures are recorded in the report; a store failure aborts the
// pass and is returned.
func (p *Pipeline) RunPass(ctx context.Context, names ...string) (Report, error) {
	targets, err := p.resolve(names)
	if err != nil {
		return Report{}, err
	}

	report := Report{StartedAt: p.now()}
	results := make([]SourceReport, len(targets))
	var (
		mu      sync.Mutex
		created []model.Job
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, c := range targets {
		name := c.Name()
		if !p.coord.TryStart(name) {
			p.logger.Info("source already running, skipping", "source", name)
			results[i] = SourceReport{Source: name, Skipped: true}
			continue
		}
		g.Go(func() error {
			defer p.coord.Finish(name)
			sr, jobs, err := p.collect(gctx, c)
			results[i] = sr
			mu.Lock()
			created = append(created, jobs...)
			mu.Unlock()
			return err
		})
	}
	waitErr := g.Wait()
	report.Sources = results
	if waitErr == nil {
		waitErr = ctx.Err()
	}
	if waitErr != nil {
		// Jobs committed before the abort are stored, so they are counted;
		// detection waits for the next complete pass.
		p.observe(created)
		report.FinishedAt = p.now()
		return report, waitErr
	}

	signals, err := p.analyze(ctx, created)
	if err != nil {
		report.FinishedAt = p.now()
		return report, err
	}
	report.Signals = signals

	queued, err := p.enqueueAlerts(ctx, signals)
	report.AlertsQueued = queued
	report.FinishedAt = p.now()
	if err != nil {
		return report, err
	}

	p.logger.Info("pass complete",
		"sources", len(targets),
		"created", report.Created(),
		"failed", len(report.Failed()),
		"signals", len(signals),
		"alerts_queued", queued,
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	return report, nil
}

func (p *Pipeline) resolve(names []string) ([]model.Collector, error) {
	if len(names) == 0 {
		return p.collectors, nil
	}
	out := make([]model.Collector, 0, len(names))
	for _, n := range names {
		c, ok := p.byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

// collect fetches one source and upserts its postings. Only store errors are
// returned, along with the jobs committed before the failure; fetch failures
// land in the SourceReport.
func (p *Pipeline) collect(ctx context.Context, c model.Collector) (SourceReport, []model.Job, error) {
	sr := SourceReport{Source: c.Name()}
	start := time.Now()

	if err := p.fetchSem.Acquire(ctx, 1); err != nil {
		sr.Err = &model.SourceFetchError{Source: c.Name(), Err: err}
		return sr, nil, nil
	}
	raws, err := c.Fetch(ctx)
	p.fetchSem.Release(1)
	if err != nil {
		sr.Err = err
		sr.Duration = time.Since(start)
		p.logger.Error("fetch failed", "source", c.Name(), "error", err)
		return sr, nil, nil
	}
	sr.Fetched = len(raws)

	now := p.now()
	var created []model.Job
	for _, raw := range raws {
		job, err := p.normalizer.Normalize(c.Name(), raw, now)
		if err != nil {
			var verr *model.ValidationError
			if errors.As(err, &verr) {
				sr.Invalid++
				p.logger.Debug("skipping invalid posting", "source", c.Name(), "error", err)
				continue
			}
			sr.Duration = time.Since(start)
			return sr, created, fmt.Errorf("normalize %s posting: %w", c.Name(), err)
		}

		stored, isNew, err := p.store.UpsertJob(ctx, job, p.scorer.Score)
		if err != nil {
			sr.Duration = time.Since(start)
			return sr, created, fmt.Errorf("store %s posting: %w", c.Name(), err)
		}
		if !isNew {
			sr.Duplicates++
			p.logger.Debug("posting already stored", "source", c.Name(), "job", stored.ID, "reason", model.ErrDuplicateSkipped)
			continue
		}
		sr.Created++
		created = append(created, stored)
	}
	sr.Duration = time.Since(start)

	p.logger.Info("source collected",
		"source", c.Name(),
		"fetched", sr.Fetched,
		"new", sr.Created,
		"duplicates", sr.Duplicates,
		"invalid", sr.Invalid,
	)
	return sr, created, nil
}

func (p *Pipeline) observe(created []model.Job) {
	if len(created) == 0 {
		return
	}
	p.analysisMu.Lock()
	p.aggregator.Observe(created, p.now())
	p.analysisMu.Unlock()
}

// analyze feeds new jobs to the aggregator, detects signals and commits
// them in one transaction. Passes are serialized here.
func (p *Pipeline) analyze(ctx context.Context, created []model.Job) ([]model.Signal, error) {
	p.analysisMu.Lock()
	defer p.analysisMu.Unlock()

	now := p.now()
	p.aggregator.Observe(created, now)
	detected := p.detector.Detect(p.aggregator.Snapshot(now), now)
	if len(detected) == 0 {
		return nil, nil
	}
	signals, err := p.store.CreateSignals(ctx, detected)
	if err != nil {
		return nil, fmt.Errorf("commit signals: %w", err)
	}
	for _, s := range signals {
		p.logger.Info("signal detected", "type", s.Type, "dimension", s.Dimension, "value", s.DimensionValue, "window", s.Window, "score", s.Score)
	}
	return signals, nil
}

// enqueueAlerts queues every eligible job, including ones left over from
// failed deliveries in earlier passes, and every new signal.
func (p *Pipeline) enqueueAlerts(ctx context.Context, signals []model.Signal) (int, error) {
	if p.alerter == nil {
		return 0, nil
	}
	pending, err := p.store.PendingAlerts(ctx, p.threshold)
	if err != nil {
		return 0, fmt.Errorf("load pending alerts: %w", err)
	}
	queued := 0
	for _, job := range pending {
		if err := p.alerter.EnqueueJob(job); err != nil {
			p.logger.Warn("job alert not queued", "job", job.ID, "error", err)
			continue
		}
		queued++
	}
	for _, s := range signals {
		if err := p.alerter.EnqueueSignal(s); err != nil {
			p.logger.Warn("signal alert not queued", "signal", s.ID, "error", err)
			continue
		}
		queued++
	}
	return queued, nil
}
