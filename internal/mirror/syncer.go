// Package mirror copies persisted readings into the address space.
//
// Handlers never write the address space themselves. They hand a Task to a
// Syncer, whose single consumer goroutine owns every mirror write, so the
// handler never re-enters the address-space lock from the call path.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"plcserver/internal/addressspace"
	"plcserver/pkg/domain"
)

var (
	// ErrQueueFull is returned by Schedule when the queue has no room.
	ErrQueueFull = errors.New("mirror queue full")
	// ErrStopped is returned by Schedule after Stop.
	ErrStopped = errors.New("mirror syncer stopped")
)

// DefaultQueueSize is used when no queue size is configured.
const DefaultQueueSize = 64

// Update writes one variable. RowID is the store row the value came from;
// zero means unknown and always applies.
type Update struct {
	Node  addressspace.NodeID
	Value addressspace.Variant
	RowID int64
}

// Task is a group of updates applied under one write-lock acquisition with a
// shared timestamp.
type Task struct {
	Origin    string
	Timestamp time.Time
	Updates   []Update
}

// Apply results reported to Metrics.
const (
	ResultApplied    = "applied"
	ResultSuperseded = "superseded"
	ResultFailed     = "failed"
)

// Metrics receives syncer measurements.
type Metrics interface {
	QueueDepth(depth int)
	Applied(result string, latency time.Duration)
	Dropped()
}

// NoopMetrics discards measurements.
type NoopMetrics struct{}

func (NoopMetrics) QueueDepth(int)                {}
func (NoopMetrics) Applied(string, time.Duration) {}
func (NoopMetrics) Dropped()                      {}

// Option configures a Syncer.
type Option func(*Syncer)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Syncer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// Syncer is a bounded single-consumer queue of mirror tasks.
//
// Updates to one variable are never applied out of store order: the consumer
// remembers the highest row id written to each variable and skips updates
// carrying a lower one. When a task cannot be queued its variables are
// flagged stale by the consumer unless a newer row reaches them first.
type Syncer struct {
	space     *addressspace.AddressSpace
	logger    *slog.Logger
	metrics   Metrics
	queueSize int
	queue     chan queued

	mu      sync.Mutex
	stopped bool
	pending map[addressspace.NodeID]int64

	// owned by the consumer goroutine
	lastApplied map[addressspace.NodeID]int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type queued struct {
	task     Task
	enqueued time.Time
}

// NewSyncer constructs a syncer writing into space.
func NewSyncer(space *addressspace.AddressSpace, opts ...Option) *Syncer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		space:       space,
		logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
		metrics:     NoopMetrics{},
		queueSize:   DefaultQueueSize,
		pending:     make(map[addressspace.NodeID]int64),
		lastApplied: make(map[addressspace.NodeID]int64),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make(chan queued, s.queueSize)
	return s
}

// Start begins processing tasks.
func (s *Syncer) Start() {
	s.wg.Add(1)
	go s.loop()
}

// Stop signals the consumer to halt and waits for it. Tasks still queued are
// discarded.
func (s *Syncer) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Schedule queues task without blocking.
func (s *Syncer) Schedule(task Task) error {
	if len(task.Updates) == 0 {
		return nil
	}
	if task.Timestamp.IsZero() {
		task.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	select {
	case s.queue <- queued{task: task, enqueued: time.Now()}:
		s.metrics.QueueDepth(len(s.queue))
		return nil
	default:
	}
	for _, u := range task.Updates {
		if u.RowID >= s.pending[u.Node] {
			s.pending[u.Node] = u.RowID
		}
	}
	s.metrics.Dropped()
	s.logger.Warn("mirror task dropped", "origin", task.Origin, "updates", len(task.Updates), "queue_size", s.queueSize)
	return fmt.Errorf("%s: %w", task.Origin, ErrQueueFull)
}

// Depth returns the number of queued tasks.
func (s *Syncer) Depth() int { return len(s.queue) }

func (s *Syncer) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case q := <-s.queue:
			s.metrics.QueueDepth(len(s.queue))
			s.apply(q)
			s.flagDropped()
		}
	}
}

func (s *Syncer) apply(q queued) {
	var applied, superseded int
	var failed []addressspace.NodeID
	err := s.space.Batch(func(w *addressspace.Writer) error {
		var errs []error
		for _, u := range q.task.Updates {
			if u.RowID != 0 && u.RowID < s.lastApplied[u.Node] {
				superseded++
				continue
			}
			if err := w.SetVariableValue(u.Node, u.Value, q.task.Timestamp, time.Now()); err != nil {
				errs = append(errs, err)
				failed = append(failed, u.Node)
				_ = w.MarkStale(u.Node)
				continue
			}
			if u.RowID > s.lastApplied[u.Node] {
				s.lastApplied[u.Node] = u.RowID
			}
			applied++
		}
		return errors.Join(errs...)
	})
	latency := time.Since(q.enqueued)
	switch {
	case err != nil:
		s.metrics.Applied(ResultFailed, latency)
		s.logger.Error("mirror task failed", "origin", q.task.Origin, "failed_nodes", len(failed), "error", err)
	case applied == 0 && superseded > 0:
		s.metrics.Applied(ResultSuperseded, latency)
		s.logger.Debug("mirror task superseded", "origin", q.task.Origin)
	default:
		s.metrics.Applied(ResultApplied, latency)
	}
}

// flagDropped marks variables whose updates were dropped as stale, unless a
// row at least as new has been applied since.
func (s *Syncer) flagDropped() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	pending := s.pending
	s.pending = make(map[addressspace.NodeID]int64)
	s.mu.Unlock()

	var stale []addressspace.NodeID
	for node, rowID := range pending {
		if rowID == 0 || s.lastApplied[node] < rowID {
			stale = append(stale, node)
		}
	}
	if len(stale) == 0 {
		return
	}
	if err := s.space.MarkStale(stale...); err != nil {
		s.logger.Error("mark stale failed", "nodes", len(stale), "error", err)
		return
	}
	s.logger.Warn("mirror variables flagged stale", "nodes", len(stale))
}

// VariantOf converts a persisted reading to the variant its variable holds.
func VariantOf(r domain.Reading) (addressspace.Variant, error) {
	switch r.Quantity {
	case domain.QuantityLevel:
		return addressspace.Double(r.Float()), nil
	case domain.QuantityValvePosition:
		return addressspace.Boolean(r.Bool()), nil
	case domain.QuantityThreshold:
		return addressspace.Int32(r.Int32()), nil
	default:
		return addressspace.Variant{}, fmt.Errorf("%w: %q", domain.ErrUnknownQuantity, r.Quantity)
	}
}
