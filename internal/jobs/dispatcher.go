package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/clinicops/portal-sync/internal/redis"
)

// Definition declares one runnable job kind.
type Definition struct {
	Name string

	// LockKey derives the mutual-exclusion key from the submitted args. An
	// empty key means the job runs without a lock (read-only work).
	LockKey func(a Args) string

	// Run does the work. The context carries the soft deadline; runners that
	// honor it exit cleanly before the hard limit ever fires.
	Run func(ctx context.Context, a Args) (interface{}, error)

	// ChainAfter names a job submitted with the same args when this one
	// succeeds. Chaining is best effort; a failed submission is logged on the
	// parent record, not retried.
	ChainAfter string
}

// Options bounds the dispatcher's pool and per-job timing.
type Options struct {
	Workers   int
	QueueSize int
	SoftLimit time.Duration
	HardLimit time.Duration
	LockWait  time.Duration
	LockLease time.Duration
}

type task struct {
	id   string
	name string
	args Args
}

// Dispatcher runs submitted jobs on a bounded worker pool with per-key mutual
// exclusion. Submit returns the job id immediately; callers poll the store.
type Dispatcher struct {
	opts   Options
	store  Store
	locker redisclient.Locker
	log    *zap.Logger

	mu   sync.RWMutex
	defs map[string]Definition

	queue chan task
	wg    sync.WaitGroup
}

func NewDispatcher(opts Options, store Store, locker redisclient.Locker, log *zap.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Dispatcher{
		opts:   opts,
		store:  store,
		locker: locker,
		log:    log,
		defs:   make(map[string]Definition),
		queue:  make(chan task, opts.QueueSize),
	}
}

func (d *Dispatcher) Register(def Definition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defs[def.Name] = def
}

func (d *Dispatcher) definition(name string) (Definition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.defs[name]
	return def, ok
}

// Start launches the worker pool. Jobs derive their contexts from ctx, so
// cancelling it stops new work from starting.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
	d.log.Info("dispatcher started",
		zap.Int("workers", d.opts.Workers),
		zap.Int("queue", d.opts.QueueSize))
}

// Stop drains nothing; it closes intake and waits for in-flight jobs. Queued
// but unstarted jobs stay queued in memory and are lost, which is why their
// records remain in "queued" until the store TTL reaps them.
func (d *Dispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
}

// Submit validates the job name, persists a queued record and enqueues it.
func (d *Dispatcher) Submit(ctx context.Context, name string, args Args) (string, error) {
	if _, ok := d.definition(name); !ok {
		return "", NewError(CodeBadRequest, fmt.Sprintf("unknown job %q", name))
	}

	rec := &Record{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       args,
		Status:     StatusQueued,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := d.store.Put(ctx, rec); err != nil {
		return "", err
	}

	select {
	case d.queue <- task{id: rec.ID, name: name, args: args}:
		return rec.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	default:
		return "", NewError(CodeInternal, "job queue full")
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for t := range d.queue {
		if ctx.Err() != nil {
			return
		}
		d.execute(ctx, t)
	}
}

func (d *Dispatcher) execute(ctx context.Context, t task) {
	def, ok := d.definition(t.name)
	if !ok {
		return
	}

	rec, err := d.store.Get(ctx, t.id)
	if err != nil {
		d.log.Error("job record lost before start", zap.String("job_id", t.id), zap.Error(err))
		return
	}

	now := time.Now().UTC()
	rec.Status = StatusRunning
	rec.StartedAt = &now
	if err := d.store.Put(ctx, rec); err != nil {
		d.log.Error("job record update failed", zap.String("job_id", t.id), zap.Error(err))
	}

	var (
		lockKey   string
		lockToken string
	)
	if def.LockKey != nil {
		lockKey = def.LockKey(t.args)
	}
	if lockKey != "" {
		lockToken, err = d.locker.Acquire(ctx, lockKey, d.opts.LockWait, d.opts.LockLease)
		if err != nil {
			// Contention is a terminal outcome for this submission; the
			// caller decides whether to resubmit.
			d.finish(ctx, rec, nil, err)
			return
		}
	}

	result, runErr, abandoned := d.runBounded(ctx, def, t)

	if lockKey != "" && !abandoned {
		if err := d.locker.Release(ctx, lockKey, lockToken); err != nil {
			d.log.Warn("lock release failed", zap.String("key", lockKey), zap.Error(err))
		}
	}
	// An abandoned runner may still be touching the portal; the lease expiry
	// frees the lock instead of an early release letting a rival in.

	d.finish(ctx, rec, result, runErr)

	if runErr == nil && def.ChainAfter != "" {
		chainedID, err := d.Submit(ctx, def.ChainAfter, t.args)
		if err != nil {
			d.log.Warn("chained job submission failed",
				zap.String("job_id", rec.ID),
				zap.String("chain", def.ChainAfter),
				zap.Error(err))
			return
		}
		rec.ChainedID = chainedID
		if err := d.store.Put(ctx, rec); err != nil {
			d.log.Error("job record update failed", zap.String("job_id", rec.ID), zap.Error(err))
		}
	}
}

// runBounded runs the job under the soft deadline and walks away at the hard
// one. abandoned reports that the runner goroutine was left behind.
func (d *Dispatcher) runBounded(ctx context.Context, def Definition, t task) (result interface{}, err error, abandoned bool) {
	runCtx := ctx
	var cancel context.CancelFunc
	if d.opts.SoftLimit > 0 {
		runCtx, cancel = context.WithTimeout(ctx, d.opts.SoftLimit)
		defer cancel()
	}

	type outcome struct {
		result interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: NewError(CodeInternal, fmt.Sprintf("job panicked: %v", r))}
			}
		}()
		res, err := def.Run(runCtx, t.args)
		done <- outcome{result: res, err: err}
	}()

	hard := d.opts.HardLimit
	if hard <= 0 {
		o := <-done
		return o.result, o.err, false
	}

	timer := time.NewTimer(hard)
	defer timer.Stop()

	select {
	case o := <-done:
		return o.result, o.err, false
	case <-timer.C:
		d.log.Error("job hit hard limit, abandoning runner",
			zap.String("job_id", t.id),
			zap.String("name", t.name),
			zap.Duration("hard_limit", hard))
		return nil, NewError(CodeExternalTimeout,
			fmt.Sprintf("job exceeded hard limit of %s", hard)), true
	}
}

func (d *Dispatcher) finish(ctx context.Context, rec *Record, result interface{}, runErr error) {
	now := time.Now().UTC()
	rec.FinishedAt = &now

	if runErr != nil {
		rec.Status = StatusFailed
		rec.Error = Classify(runErr)
		d.log.Warn("job failed",
			zap.String("job_id", rec.ID),
			zap.String("name", rec.Name),
			zap.String("code", string(rec.Error.Code)),
			zap.String("message", rec.Error.Message))
	} else {
		rec.Status = StatusSucceeded
		rec.Result = result
		d.log.Info("job succeeded",
			zap.String("job_id", rec.ID),
			zap.String("name", rec.Name))
	}

	if err := d.store.Put(ctx, rec); err != nil {
		d.log.Error("job record update failed", zap.String("job_id", rec.ID), zap.Error(err))
	}
}
