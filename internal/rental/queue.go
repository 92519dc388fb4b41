package rental

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/evcraddock/rent-finder/internal/metrics"
)

// ErrQueueClosed is the result of a write issued after Close.
var ErrQueueClosed = errors.New("write queue closed")

// Result is the outcome of one write.
type Result struct {
	Op   string
	Path string
	Err  error
}

// OK reports whether the write succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Notifier receives the outcome of every write.
type Notifier interface {
	Notify(Result)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(Result)

func (f NotifierFunc) Notify(r Result) { f(r) }

// LogNotifier reports write outcomes to a logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(r Result) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if r.Err != nil {
		logger.Warn("write failed", "op", r.Op, "path", r.Path, "error", r.Err)
		return
	}
	logger.Debug("write succeeded", "op", r.Op, "path", r.Path)
}

// Pending is the handle to a write that has been issued but may not have
// completed.
type Pending struct {
	done   chan struct{}
	result Result
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) complete(r Result) {
	p.result = r
	close(p.done)
}

// Done is closed once the write has completed.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome and true if the write has completed.
func (p *Pending) Result() (Result, bool) {
	select {
	case <-p.done:
		return p.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the write completes or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Queue runs writes in the background. Callers get a Pending immediately;
// outcomes go to the Notifier. Writes are never retried.
type Queue struct {
	notifier Notifier
	metrics  *metrics.Metrics

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue creates a write queue. A nil notifier logs outcomes.
func NewQueue(notifier Notifier, m *metrics.Metrics) *Queue {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Queue{notifier: notifier, metrics: m}
}

// Go issues a write. fn runs on its own goroutine.
func (q *Queue) Go(op, path string, fn func(ctx context.Context) error) *Pending {
	p := newPending()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.finish(p, Result{Op: op, Path: path, Err: ErrQueueClosed})
		return p
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		err := fn(context.Background())
		q.finish(p, Result{Op: op, Path: path, Err: err})
	}()
	return p
}

// Fail records a write that could not be issued at all.
func (q *Queue) Fail(op, path string, err error) *Pending {
	p := newPending()
	q.finish(p, Result{Op: op, Path: path, Err: err})
	return p
}

func (q *Queue) finish(p *Pending, r Result) {
	q.metrics.WriteResult(r.Op, r.Err)
	p.complete(r)
	q.notifier.Notify(r)
}

// Flush waits for all issued writes to complete.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes and waits for in-flight ones.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.Flush(ctx)
}
