package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/signalforge/signalforge/internal/config"
	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/pipeline"
)

// Runner runs a collection pass over the named sources.
type Runner interface {
	RunPass(ctx context.Context, names ...string) (pipeline.Report, error)
}

// Scheduler owns the main loop: one cron entry per source, each tick running
// a pass for that source only.
type Scheduler struct {
	runner  Runner
	sources []config.SourceConfig
	logger  *slog.Logger
	parser  cron.Parser

	wg sync.WaitGroup
}

// NewScheduler validates every source schedule and returns a Scheduler.
func NewScheduler(runner Runner, sources []config.SourceConfig, logger *slog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		runner:  runner,
		sources: sources,
		logger:  logger,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, src := range sources {
		if _, err := s.parser.Parse(src.Schedule); err != nil {
			return nil, &model.ConfigurationError{
				Field:  fmt.Sprintf("sources[%s].schedule", src.Name),
				Reason: fmt.Sprintf("invalid schedule %q: %v", src.Schedule, err),
			}
		}
	}
	return s, nil
}

// Run starts one immediate pass over all sources, then fires each source on
// its own schedule. It returns nil when ctx is cancelled, after running
// passes have finished. Passes run detached from ctx so a shutdown never
// cuts a fetch short; each fetch is still bounded by its source timeout.
func (s *Scheduler) Run(ctx context.Context) error {
	passCtx := context.WithoutCancel(ctx)
	cronLog := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithChain(cron.Recover(cronLog)),
		cron.WithLogger(cron.DiscardLogger),
	)
	for _, src := range s.sources {
		name := src.Name
		if _, err := c.AddFunc(src.Schedule, func() { s.pass(passCtx, name) }); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}

	s.logger.Info("starting scheduler", "sources", len(s.sources))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pass(passCtx)
	}()
	c.Start()

	<-ctx.Done()
	s.logger.Info("shutting down scheduler")
	<-c.Stop().Done()
	s.wg.Wait()
	return nil
}

func (s *Scheduler) pass(ctx context.Context, names ...string) {
	report, err := s.runner.RunPass(ctx, names...)
	if err != nil {
		s.logger.Error("pass failed", "sources", names, "error", err)
		return
	}
	for _, sr := range report.Sources {
		if sr.Skipped {
			s.logger.Debug("tick skipped, source still running", "source", sr.Source)
		}
	}
}
