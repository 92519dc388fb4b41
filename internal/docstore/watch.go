package docstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Subscription is a live watch. Unsubscribe stops further deliveries; it
// does not wait for an in-flight delivery to return.
type Subscription interface {
	Unsubscribe()
}

// hub fans committed changes out to watchers.
type hub struct {
	mu       sync.RWMutex
	nextID   int
	watchers map[int]*watcher
}

func newHub() *hub {
	return &hub{watchers: make(map[int]*watcher)}
}

type watcher struct {
	match   func(path string) bool
	kick    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	once    sync.Once
	onStop  func()
}

func (h *hub) add(w *watcher) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.watchers[h.nextID] = w
	return h.nextID
}

func (h *hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.watchers, id)
}

// publish wakes every watcher interested in one of paths. Wakeups coalesce:
// a watcher that has not yet consumed its last kick gets a single reload.
func (h *hub) publish(paths []string) {
	if len(paths) == 0 {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, w := range h.watchers {
		for _, p := range paths {
			if w.match(p) {
				select {
				case w.kick <- struct{}{}:
				default:
				}
				break
			}
		}
	}
}

type subscription struct {
	hub *hub
	id  int
	w   *watcher
}

func (s *subscription) Unsubscribe() {
	s.w.once.Do(func() {
		s.w.stopped.Store(true)
		s.w.cancel()
		s.hub.remove(s.id)
		if s.w.onStop != nil {
			s.w.onStop()
		}
	})
}

// watch registers a watcher that calls load on every relevant change,
// starting with an immediate load. load returns false to end the watch.
func (c *Client) watch(match func(string) bool, load func(ctx context.Context, w *watcher) bool) Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	w := &watcher{
		match:  match,
		kick:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		onStop: c.store.metrics.SubscriptionClosed,
	}
	w.kick <- struct{}{}

	c.store.metrics.SubscriptionOpened()
	sub := &subscription{hub: c.store.hub, w: w}
	sub.id = c.store.hub.add(w)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.kick:
				if !load(ctx, w) {
					sub.Unsubscribe()
					return
				}
			}
		}
	}()

	return sub
}

// WatchDocument delivers the document at path now and after every change to
// it. A missing document is delivered as nil. An error (such as
// ErrPermissionDenied) is delivered once and ends the subscription.
func (c *Client) WatchDocument(path string, fn func(*Document, error)) (Subscription, error) {
	if _, _, err := splitDocPath(path); err != nil {
		return nil, err
	}

	match := func(p string) bool { return p == path }
	sub := c.watch(match, func(ctx context.Context, w *watcher) bool {
		d, err := c.Get(ctx, path)
		if errors.Is(err, ErrNotFound) {
			d, err = nil, nil
		}
		if w.stopped.Load() || ctx.Err() != nil {
			return false
		}
		c.store.metrics.Delivered("document")
		fn(d, err)
		return err == nil
	})
	return sub, nil
}

// WatchQuery delivers the full result set of q now and after every change
// to a document in q's collection. An error is delivered once and ends the
// subscription.
func (c *Client) WatchQuery(q Query, fn func([]*Document, error)) (Subscription, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	match := func(p string) bool {
		collection, _, err := splitDocPath(p)
		return err == nil && collection == q.Collection
	}
	sub := c.watch(match, func(ctx context.Context, w *watcher) bool {
		docs, err := c.Query(ctx, q)
		if w.stopped.Load() || ctx.Err() != nil {
			return false
		}
		c.store.metrics.Delivered("query")
		fn(docs, err)
		return err == nil
	})
	return sub, nil
}
