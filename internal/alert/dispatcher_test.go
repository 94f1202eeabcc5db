package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeNotifier records deliveries and fails while fail is set.
type fakeNotifier struct {
	mu      sync.Mutex
	fail    bool
	block   chan struct{}
	jobs    []string
	signals []string
}

func (f *fakeNotifier) NotifyJob(_ context.Context, j model.Job) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, j.ID)
	if f.fail {
		return errors.New("webhook down")
	}
	return nil
}

func (f *fakeNotifier) NotifySignal(_ context.Context, s model.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, s.ID)
	if f.fail {
		return errors.New("webhook down")
	}
	return nil
}

func (f *fakeNotifier) jobCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "alerts.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedJob(t *testing.T, s *store.SQLiteStore, id string, score int) model.Job {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job, _, err := s.UpsertJob(context.Background(), model.Job{
		ID: id, DedupKey: "key-" + id, Title: "Engineer", Company: "Acme",
		FirstSeen: now, LastSeen: now,
	}, func(model.Job) int { return score })
	if err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}
	return job
}

func waitIdle(t *testing.T, d *Dispatcher) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.Pending() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("dispatcher did not go idle")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcher_DeliversAndMarksAlerted(t *testing.T) {
	s := newTestStore(t)
	n := &fakeNotifier{}
	d := NewDispatcher(n, s, 3, 8, discardLogger())
	d.Start(context.Background())

	job := seedJob(t, s, "a", 90)
	if err := d.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	got, _ := s.GetJob(context.Background(), "a")
	if !got.Alerted || got.AlertedAt == nil {
		t.Errorf("job = %+v, want alerted", got)
	}
	if n.jobCalls() != 1 {
		t.Errorf("notifier calls = %d, want 1", n.jobCalls())
	}
}

func TestDispatcher_AlertsOnce(t *testing.T) {
	s := newTestStore(t)
	n := &fakeNotifier{}
	d := NewDispatcher(n, s, 3, 8, discardLogger())
	d.Start(context.Background())
	defer d.Stop(context.Background())

	job := seedJob(t, s, "a", 90)
	for i := 0; i < 3; i++ {
		d.EnqueueJob(job)
		waitIdle(t, d)
	}
	if n.jobCalls() != 1 {
		t.Errorf("notifier calls = %d, want 1", n.jobCalls())
	}
}

func TestDispatcher_PendingSetSkipsQueuedJob(t *testing.T) {
	s := newTestStore(t)
	n := &fakeNotifier{block: make(chan struct{})}
	d := NewDispatcher(n, s, 3, 8, discardLogger())
	d.Start(context.Background())

	job := seedJob(t, s, "a", 90)
	d.EnqueueJob(job)
	d.EnqueueJob(job)
	d.EnqueueJob(job)
	if got := d.Pending(); got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}
	close(n.block)
	d.Stop(context.Background())

	if n.jobCalls() != 1 {
		t.Errorf("notifier calls = %d, want 1", n.jobCalls())
	}
}

func TestDispatcher_DeadLettersAfterMaxAttempts(t *testing.T) {
	s := newTestStore(t)
	n := &fakeNotifier{fail: true}
	d := NewDispatcher(n, s, 3, 8, discardLogger())
	d.Start(context.Background())
	defer d.Stop(context.Background())
	ctx := context.Background()

	seedJob(t, s, "a", 90)
	// Each pass re-enqueues whatever is still pending.
	for pass := 0; pass < 5; pass++ {
		pending, err := s.PendingAlerts(ctx, 70)
		if err != nil {
			t.Fatalf("PendingAlerts: %v", err)
		}
		for _, j := range pending {
			d.EnqueueJob(j)
		}
		waitIdle(t, d)
	}

	got, _ := s.GetJob(ctx, "a")
	if !got.DeadLettered || got.Alerted || got.AlertAttempts != 3 {
		t.Errorf("job = %+v, want dead-lettered after 3 attempts", got)
	}
	if got.LastAlertError != "webhook down" {
		t.Errorf("LastAlertError = %q", got.LastAlertError)
	}
	if n.jobCalls() != 3 {
		t.Errorf("notifier calls = %d, want 3", n.jobCalls())
	}
}

func TestDispatcher_SignalsAttemptedOnce(t *testing.T) {
	s := newTestStore(t)
	n := &fakeNotifier{fail: true}
	d := NewDispatcher(n, s, 3, 8, discardLogger())
	d.Start(context.Background())

	d.EnqueueSignal(model.Signal{ID: "sig-1"})
	d.Stop(context.Background())

	if len(n.signals) != 1 {
		t.Errorf("signal deliveries = %d, want 1", len(n.signals))
	}
}

func TestDispatcher_StoppedAndFull(t *testing.T) {
	s := newTestStore(t)
	n := &fakeNotifier{block: make(chan struct{})}
	d := NewDispatcher(n, s, 3, 1, discardLogger())

	if err := d.EnqueueJob(model.Job{ID: "x"}); !errors.Is(err, ErrStopped) {
		t.Errorf("before Start err = %v, want ErrStopped", err)
	}

	d.Start(context.Background())
	d.EnqueueJob(seedJob(t, s, "a", 90)) // picked up, blocks in notifier
	deadline := time.Now().Add(time.Second)
	for len(d.queue) > 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// Fill the single slot, then overflow.
	var full bool
	for i := 0; i < 3; i++ {
		if err := d.EnqueueSignal(model.Signal{ID: "s"}); errors.Is(err, ErrQueueFull) {
			full = true
		}
	}
	if !full {
		t.Error("expected ErrQueueFull with a one-slot queue")
	}

	close(n.block)
	d.Stop(context.Background())
	if err := d.EnqueueSignal(model.Signal{ID: "late"}); !errors.Is(err, ErrStopped) {
		t.Errorf("after Stop err = %v, want ErrStopped", err)
	}
}
