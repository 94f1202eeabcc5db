package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/signalforge/signalforge/internal/alert"
	"github.com/signalforge/signalforge/internal/api"
	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/notifier"
	"github.com/signalforge/signalforge/internal/pipeline"
	"github.com/signalforge/signalforge/internal/scheduler"
	"github.com/signalforge/signalforge/internal/store"
)

const drainTimeout = 30 * time.Second

var runMode string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler, the query API, or both",
	Long:  "Starts the long-running service; blocks until SIGINT/SIGTERM.",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "both", "what to run: scheduler, api or both")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	var withScheduler, withAPI bool
	switch runMode {
	case "scheduler":
		withScheduler = true
	case "api":
		withAPI = true
	case "both":
		withScheduler, withAPI = true, true
	default:
		return &model.ConfigurationError{Field: "--mode", Reason: fmt.Sprintf("must be scheduler, api or both, got %q", runMode)}
	}

	a, err := setup(false)
	if err != nil {
		return err
	}
	defer a.close()

	a.logger.Info("config loaded",
		"mode", runMode,
		"database", a.cfg.Database,
		"sources", len(a.cfg.EnabledSources()),
		"threshold", a.cfg.AlertThreshold,
		"notifier", notifierName(a.cfg.Notification.Type),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var svc *collectService
	if withScheduler {
		svc, err = newCollectService(ctx, a)
		if err != nil {
			return err
		}
		defer svc.lock.Release()

		sched, err := scheduler.NewScheduler(svc.pipeline, a.cfg.EnabledSources(), a.logger)
		if err != nil {
			svc.drain(a)
			return err
		}
		g.Go(func() error { return sched.Run(gctx) })
	}

	if withAPI {
		srv := api.NewServer(a.store, a.cfg.AlertThreshold, a.logger)
		g.Go(func() error { return srv.ListenAndServe(gctx, a.cfg.API.Addr()) })
	}

	runErr := g.Wait()
	if svc != nil {
		if active := svc.pipeline.Coordinator().Active(); len(active) > 0 {
			a.logger.Warn("sources still running at shutdown", "sources", active)
		}
		svc.drain(a)
	}
	if runErr != nil {
		return runErr
	}
	a.logger.Info("goodbye")
	return nil
}

// collectService is the pipeline plus what it owns: the process lock and the
// alert dispatcher.
type collectService struct {
	lock       *store.ProcessLock
	dispatcher *alert.Dispatcher
	pipeline   *pipeline.Pipeline
}

func newCollectService(ctx context.Context, a *app) (*collectService, error) {
	lock, err := store.AcquireProcessLock(a.cfg.Database)
	if err != nil {
		return nil, err
	}

	n, err := notifier.New(a.cfg.Notification, newHTTPClient(), a.logger)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	collectors, err := buildCollectors(a.cfg, a.logger)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	d := alert.NewDispatcher(n, a.store, a.cfg.Alerts.MaxAttempts, a.cfg.Alerts.QueueSize, a.logger)
	d.Start(ctx)
	p := pipeline.New(a.cfg, collectors, a.store, d, nil, a.logger)
	svc := &collectService{lock: lock, dispatcher: d, pipeline: p}

	if err := p.Warm(ctx); err != nil {
		svc.drain(a)
		_ = lock.Release()
		return nil, err
	}
	a.logger.Info("collect service ready", "sources", p.Sources())
	return svc, nil
}

func (s *collectService) drain(a *app) {
	a.logger.Info("draining alert queue", "pending", s.dispatcher.Pending())
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.dispatcher.Stop(ctx); err != nil {
		a.logger.Warn("alert queue not fully drained", "error", err)
	}
}
