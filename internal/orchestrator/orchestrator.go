// Package orchestrator drives each call from submission to a terminal status.
//
// Rules:
//   - The orchestrator is the only writer of call records.
//   - Every status write is guarded by the set of statuses it may replace,
//     so a terminal status is never overwritten.
//   - Writes and event publishes for one call happen under that call's lock,
//     so observers see events in store order.
//   - Errors after Submit returns are recorded on the call, never returned.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"callpilot/internal/calls"
	"callpilot/internal/events"
	"callpilot/internal/metrics"
	"callpilot/internal/telephony"

	"github.com/google/uuid"
)

var (
	ErrNotTerminable = errors.New("orchestrator: call is not terminable in its current status")
	ErrPollTimeout   = errors.New("orchestrator: polling budget exhausted")
	ErrShuttingDown  = errors.New("orchestrator: shutting down")
)

// Classifier decides whether a transcript records a successful call.
type Classifier interface {
	Classify(transcript string) bool
}

// Publisher receives every persisted transition.
type Publisher interface {
	Publish(ev events.Event)
}

const lockStripes = 64

type Orchestrator struct {
	cfg        Config
	store      calls.Store
	provider   telephony.Provider
	classifier Classifier
	bus        Publisher
	limiter    Limiter
	log        *slog.Logger
	metrics    *metrics.Metrics
	clock      func() time.Time
	newID      func() string

	locks [lockStripes]sync.Mutex

	root   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	inFlight atomic.Int64
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLimiter replaces the default local limiter sized by Config.MaxConcurrent.
func WithLimiter(l Limiter) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.limiter = l
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

func New(store calls.Store, provider telephony.Provider, classifier Classifier, bus Publisher, cfg Config, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("orchestrator: store is nil")
	}
	if provider == nil {
		return nil, errors.New("orchestrator: provider is nil")
	}
	if classifier == nil {
		return nil, errors.New("orchestrator: classifier is nil")
	}
	if bus == nil {
		return nil, errors.New("orchestrator: publisher is nil")
	}
	cfg = cfg.withDefaults()
	root, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		store:      store,
		provider:   provider,
		classifier: classifier,
		bus:        bus,
		log:        slog.Default(),
		clock:      time.Now,
		newID:      uuid.NewString,
		root:       root,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.limiter == nil {
		o.limiter = NewLocalLimiter(cfg.MaxConcurrent)
	}
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Submit validates and persists a pending call, then drives it asynchronously.
// It returns before any provider traffic.
func (o *Orchestrator) Submit(ctx context.Context, req calls.CallRequest) (string, error) {
	if o.isClosed() {
		return "", ErrShuttingDown
	}
	if err := req.Validate(); err != nil {
		o.metrics.CallSubmitted("invalid")
		return "", err
	}

	now := o.clock().UTC()
	c := calls.Call{
		ID:        o.newID(),
		Request:   req,
		Status:    calls.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.save(ctx, c); err != nil {
		o.metrics.CallSubmitted("error")
		return "", err
	}
	o.metrics.CallSubmitted("accepted")
	o.log.Info("call submitted", "call_id", c.ID)

	if !o.spawn(c.ID) {
		// Shutdown raced the submit; the record stays pending for the sweeper.
		o.log.Warn("call accepted during shutdown; not started", "call_id", c.ID)
	}
	return c.ID, nil
}

// BatchResult is the per-item outcome of SubmitBatch.
type BatchResult struct {
	Index  int    `json:"index"`
	CallID string `json:"call_id,omitempty"`
	Err    error  `json:"-"`
}

// SubmitBatch submits each request independently. A failing item does not stop the rest.
func (o *Orchestrator) SubmitBatch(ctx context.Context, reqs []calls.CallRequest) []BatchResult {
	out := make([]BatchResult, 0, len(reqs))
	for i, r := range reqs {
		id, err := o.Submit(ctx, r)
		out = append(out, BatchResult{Index: i, CallID: id, Err: err})
	}
	return out
}

func (o *Orchestrator) Get(ctx context.Context, id string) (calls.Call, error) {
	return o.store.Get(ctx, id)
}

func (o *Orchestrator) List(ctx context.Context, f calls.ListFilter) ([]calls.Call, error) {
	return o.store.List(ctx, f)
}

// Terminate marks a live call terminated: dialing, queued, unknown or in
// progress. The provider is not asked to hang up; the poll loop notices the
// local terminal status and stops.
func (o *Orchestrator) Terminate(ctx context.Context, id string) (calls.Call, error) {
	now := o.clock().UTC()
	c, err := o.apply(ctx, id, calls.Patch{
		Status:      calls.Ptr(calls.StatusTerminated),
		CompletedAt: &now,
		IfStatus:    calls.TerminableStatuses(),
	}, "call terminated by operator")
	if errors.Is(err, calls.ErrStatusConflict) {
		return c, fmt.Errorf("%w (status %s)", ErrNotTerminable, c.Status)
	}
	if err != nil {
		return calls.Call{}, err
	}
	o.log.Info("call terminated", "call_id", id)
	return c, nil
}

// CleanupStuck force-fails every non-terminal call created before the
// staleness threshold and returns how many it changed.
func (o *Orchestrator) CleanupStuck(ctx context.Context) (int, error) {
	cutoff := o.clock().Add(-o.cfg.StaleAfter)
	stale, err := o.store.ListStale(ctx, cutoff, calls.ActiveStatuses())
	if err != nil {
		return 0, err
	}
	var (
		n    int
		errs []error
	)
	for _, c := range stale {
		now := o.clock().UTC()
		msg := fmt.Sprintf("call exceeded the %s staleness threshold while %s", o.cfg.StaleAfter, c.Status)
		_, err := o.apply(ctx, c.ID, calls.Patch{
			Status:       calls.Ptr(calls.StatusFailed),
			ErrorMessage: &msg,
			CompletedAt:  &now,
			IfStatus:     calls.ActiveStatuses(),
		}, "stale call cleaned up")
		switch {
		case err == nil:
			n++
		case errors.Is(err, calls.ErrStatusConflict):
			// Finished between the scan and the write.
		default:
			errs = append(errs, fmt.Errorf("cleanup %s: %w", c.ID, err))
		}
	}
	o.metrics.StaleCleaned(n)
	if n > 0 {
		o.log.Info("stale calls cleaned up", "count", n, "cutoff", cutoff)
	}
	return n, errors.Join(errs...)
}

// RunSweeper runs CleanupStuck immediately and then every interval until ctx is done.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := o.CleanupStuck(ctx); err != nil && ctx.Err() == nil {
			o.log.Error("stale call sweep failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// InFlight is the number of calls with a live worker, including those waiting for a slot.
func (o *Orchestrator) InFlight() int { return int(o.inFlight.Load()) }

// Shutdown stops accepting calls, cancels every worker and waits for them to
// exit or ctx to end. Cancelled workers do not write; the sweeper reconciles them later.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.close()
	o.cancel()
	return o.waitWorkers(ctx)
}

// Drain stops accepting calls and lets every worker run its call to a
// terminal status. If ctx ends first the workers keep running; follow with
// Shutdown to stop them.
func (o *Orchestrator) Drain(ctx context.Context) error {
	o.close()
	return o.waitWorkers(ctx)
}

func (o *Orchestrator) close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
}

func (o *Orchestrator) waitWorkers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) spawn(id string) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	o.wg.Add(1)
	o.mu.Unlock()

	o.inFlight.Add(1)
	o.metrics.WorkerStarted()
	go func() {
		defer o.wg.Done()
		defer o.metrics.WorkerDone()
		defer o.inFlight.Add(-1)
		o.run(o.root, id)
	}()
	return true
}

func (o *Orchestrator) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &o.locks[h.Sum32()%lockStripes]
}

func (o *Orchestrator) save(ctx context.Context, c calls.Call) error {
	mu := o.lockFor(c.ID)
	mu.Lock()
	defer mu.Unlock()
	if err := o.store.Save(ctx, c); err != nil {
		return err
	}
	o.metrics.StatusTransition(string(c.Status))
	o.bus.Publish(events.FromCall(c, "call queued", o.clock()))
	return nil
}

// apply persists a patch and publishes the resulting record as one step.
// On ErrStatusConflict the current record is returned and nothing is published.
func (o *Orchestrator) apply(ctx context.Context, id string, p calls.Patch, msg string) (calls.Call, error) {
	mu := o.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	c, err := o.store.Update(ctx, id, p)
	if err != nil {
		return c, err
	}
	if p.Status != nil {
		o.metrics.StatusTransition(string(c.Status))
		if c.Status.IsTerminal() {
			o.metrics.CallFinished(string(c.Status), c.Success != nil && *c.Success)
		}
	}
	o.bus.Publish(events.FromCall(c, msg, o.clock()))
	return c, nil
}
