package alert

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/store"
)

var (
	ErrQueueFull = errors.New("alert queue full")
	ErrStopped   = errors.New("alert dispatcher stopped")
)

// Store is the slice of the persisted store the dispatcher writes to.
type Store interface {
	GetJob(ctx context.Context, id string) (model.Job, error)
	MarkAlerted(ctx context.Context, id string, at time.Time) (bool, error)
	RecordAlertFailure(ctx context.Context, id, reason string, maxAttempts int) (int, bool, error)
}

type item struct {
	job    *model.Job
	signal *model.Signal
}

// Dispatcher delivers job and signal alerts from a single consumer goroutine,
// so the delivered transition for a Job happens at most once per process.
// A failed job delivery is attempted once per enqueue; the next pass
// re-enqueues it until it is delivered or dead-lettered.
type Dispatcher struct {
	notifier    model.Notifier
	store       Store
	maxAttempts int
	queueSize   int
	logger      *slog.Logger
	now         func() time.Time

	mu        sync.Mutex
	accepting bool
	queue     chan item
	pending   map[string]bool
	sendWG    sync.WaitGroup
	done      chan struct{}
	cancel    context.CancelFunc
}

// NewDispatcher creates a dispatcher. Call Start before enqueueing.
func NewDispatcher(n model.Notifier, s Store, maxAttempts, queueSize int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier:    n,
		store:       s,
		maxAttempts: max(maxAttempts, 1),
		queueSize:   max(queueSize, 1),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		pending:     make(map[string]bool),
	}
}

// Start launches the consumer. Deliveries use a context detached from ctx's
// cancellation so Stop can drain the queue after a shutdown signal.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue != nil {
		return
	}
	d.queue = make(chan item, d.queueSize)
	d.done = make(chan struct{})
	d.accepting = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel

	go func(q <-chan item, done chan<- struct{}) {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic in alert dispatcher", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		for it := range q {
			d.handle(runCtx, it)
		}
	}(d.queue, d.done)
}

// EnqueueJob queues an alert for job. A job already waiting in the queue is
// not queued again.
func (d *Dispatcher) EnqueueJob(job model.Job) error {
	d.mu.Lock()
	if !d.accepting {
		d.mu.Unlock()
		return ErrStopped
	}
	if d.pending[job.ID] {
		d.mu.Unlock()
		return nil
	}
	d.pending[job.ID] = true
	q := d.queue
	d.sendWG.Add(1)
	d.mu.Unlock()
	defer d.sendWG.Done()

	select {
	case q <- item{job: &job}:
		return nil
	default:
		d.clearPending(job.ID)
		return ErrQueueFull
	}
}

// EnqueueSignal queues a newly created signal for a single delivery attempt.
func (d *Dispatcher) EnqueueSignal(sig model.Signal) error {
	d.mu.Lock()
	if !d.accepting {
		d.mu.Unlock()
		return ErrStopped
	}
	q := d.queue
	d.sendWG.Add(1)
	d.mu.Unlock()
	defer d.sendWG.Done()

	select {
	case q <- item{signal: &sig}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending reports how many jobs are queued or being delivered.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop refuses new items and waits for the queue to drain. If ctx ends first,
// in-flight deliveries are cancelled and ctx's error is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.queue == nil || !d.accepting {
		d.mu.Unlock()
		return nil
	}
	d.accepting = false
	q, done, cancel := d.queue, d.done, d.cancel
	d.mu.Unlock()

	d.sendWG.Wait()
	close(q)

	defer cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) handle(ctx context.Context, it item) {
	switch {
	case it.job != nil:
		d.deliverJob(ctx, *it.job)
		d.clearPending(it.job.ID)
	case it.signal != nil:
		d.deliverSignal(ctx, *it.signal)
	}
}

func (d *Dispatcher) deliverJob(ctx context.Context, job model.Job) {
	// The queued copy may be stale; a job delivered or dead-lettered since
	// it was enqueued is never sent again.
	current, err := d.store.GetJob(ctx, job.ID)
	if err != nil {
		d.logger.Error("loading job for alert", "job", job.ID, "error", err)
		return
	}
	if current.Alerted || current.DeadLettered {
		d.logger.Debug("skipping job alert", "job", job.ID, "state", current.AlertState(0))
		return
	}
	job = current

	if err := d.notifier.NotifyJob(ctx, job); err != nil {
		attempts, dead, ferr := d.store.RecordAlertFailure(ctx, job.ID, err.Error(), d.maxAttempts)
		if errors.Is(ferr, store.ErrNotFound) {
			return
		}
		if ferr != nil {
			d.logger.Error("recording alert failure", "job", job.ID, "error", ferr)
			return
		}
		derr := &model.AlertDeliveryError{JobID: job.ID, Attempt: attempts, Err: err}
		if dead {
			d.logger.Error("job alert dead-lettered", "job", job.ID, "company", job.Company, "attempts", attempts, "error", derr)
			return
		}
		d.logger.Warn("job alert failed, will retry next pass", "job", job.ID, "attempts", attempts, "error", derr)
		return
	}

	ok, err := d.store.MarkAlerted(ctx, job.ID, d.now())
	if err != nil {
		d.logger.Error("marking job alerted", "job", job.ID, "error", err)
		return
	}
	if !ok {
		d.logger.Debug("job already alerted", "job", job.ID)
		return
	}
	d.logger.Info("job alerted", "job", job.ID, "company", job.Company, "title", job.Title, "score", job.Score)
}

func (d *Dispatcher) deliverSignal(ctx context.Context, sig model.Signal) {
	if err := d.notifier.NotifySignal(ctx, sig); err != nil {
		d.logger.Error("signal alert failed", "signal", sig.ID, "type", sig.Type, "value", sig.DimensionValue, "error", err)
		return
	}
	d.logger.Info("signal alerted", "signal", sig.ID, "type", sig.Type, "value", sig.DimensionValue, "score", sig.Score)
}

func (d *Dispatcher) clearPending(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}
