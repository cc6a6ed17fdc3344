// Package listview owns the canonical document snapshot for one view of the
// document list: it fetches on start, on filter change, and on reconcile
// signal, feeds push events into the reconciliation engine, and exposes the
// merged rows for rendering.
package listview

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"docucr/pkg/domain"
	"docucr/pkg/push"
	"docucr/pkg/reconcile"
	"docucr/pkg/tracker"
)

// Lister fetches the canonical snapshot. Satisfied by docclient.Client.
type Lister interface {
	ListDocuments(ctx context.Context, filter domain.ListFilter) ([]domain.Document, int, error)
}

// EventStream is a live push subscription handle.
type EventStream interface {
	Close() error
	Done() <-chan struct{}
}

// EventSource opens per-user push subscriptions.
type EventSource interface {
	Connect(ctx context.Context, userID string, onEvent func(domain.StatusEvent)) (EventStream, error)
}

// NewRedisSource adapts a push client to the EventSource interface.
func NewRedisSource(c *push.Client) EventSource {
	return redisSource{c}
}

type redisSource struct {
	c *push.Client
}

func (s redisSource) Connect(ctx context.Context, userID string, onEvent func(domain.StatusEvent)) (EventStream, error) {
	return s.c.Connect(ctx, userID, onEvent)
}

// Config wires one controller instance.
type Config struct {
	UserID  string
	Lister  Lister
	Source  EventSource
	Tracker *tracker.Tracker
	// OnChange is invoked after every externally visible view change.
	OnChange func()
	// ReconnectBackoff is the pause before reopening a dropped push
	// subscription. Reconnect policy lives here, not in the push client.
	ReconnectBackoff time.Duration
	Reconcile        reconcile.Config
}

// Controller is one mounted view of the document list. The snapshot it holds
// is owned exclusively by this instance; the engine only reads it.
type Controller struct {
	userID   string
	lister   Lister
	source   EventSource
	tracker  *tracker.Tracker
	engine   *reconcile.Engine
	onChange func()
	backoff  time.Duration

	mu      sync.Mutex
	filter  domain.ListFilter
	total   int
	lastErr error
	gen     int
	closed  bool
	stream  EventStream

	cancel  context.CancelFunc
	untrack func()
	wg      sync.WaitGroup
}

// New constructs a controller. Start must be called before Rows reflects
// canonical state.
func New(cfg Config) (*Controller, error) {
	if cfg.UserID == "" {
		return nil, errors.New("userId required")
	}
	if cfg.Lister == nil {
		return nil, errors.New("lister required")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("tracker required")
	}
	backoff := cfg.ReconnectBackoff
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	onChange := cfg.OnChange
	if onChange == nil {
		onChange = func() {}
	}
	return &Controller{
		userID:   cfg.UserID,
		lister:   cfg.Lister,
		source:   cfg.Source,
		tracker:  cfg.Tracker,
		engine:   reconcile.New(cfg.Tracker, cfg.Reconcile),
		onChange: onChange,
		backoff:  backoff,
	}, nil
}

// Start attaches to the tracker and push channel and fetches the first
// canonical snapshot. Teardown is Close.
func (c *Controller) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return errors.New("controller closed")
	}
	c.cancel = cancel
	c.mu.Unlock()

	c.untrack = c.tracker.Subscribe(c.onChange)

	if c.source != nil {
		if err := c.connectStream(ctx); err != nil {
			// Non-fatal: the list still works from snapshots; the reconnect
			// loop keeps trying while the view is mounted.
			slog.Warn("push connect failed", "user_id", c.userID, "error", err)
			c.retryStreamLater(ctx)
		}
	}

	c.wg.Add(1)
	go c.refreshLoop(ctx)

	c.fetch(ctx)
	return nil
}

// SetFilter replaces the listing filter and refetches.
func (c *Controller) SetFilter(ctx context.Context, filter domain.ListFilter) {
	c.mu.Lock()
	c.filter = filter
	c.mu.Unlock()
	c.fetch(ctx)
}

// Refresh forces a canonical snapshot fetch.
func (c *Controller) Refresh(ctx context.Context) {
	c.fetch(ctx)
}

// Rows returns the merged, duplicate-free view.
func (c *Controller) Rows() []reconcile.Row {
	return c.engine.Rows()
}

// Total returns the server-reported total of the last snapshot.
func (c *Controller) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// LastError returns the most recent fetch failure, cleared by a successful
// fetch. Fetch failures never corrupt the held snapshot.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close detaches the tracker subscription, closes the push stream, and stops
// the refresh loop. In-flight fetch results arriving afterwards are
// discarded, not aborted.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if c.untrack != nil {
		c.untrack()
	}
	var err error
	if stream != nil {
		err = stream.Close()
	}
	c.engine.Close()
	c.wg.Wait()
	return err
}

func (c *Controller) connectStream(ctx context.Context) error {
	stream, err := c.source.Connect(ctx, c.userID, c.handleEvent)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return stream.Close()
	}
	c.stream = stream
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-stream.Done():
		case <-ctx.Done():
			return
		}
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		slog.Warn("push channel dropped, reconnecting", "user_id", c.userID)
		c.retryStreamLater(ctx)
	}()
	return nil
}

func (c *Controller) retryStreamLater(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.backoff):
		}
		if err := c.connectStream(ctx); err != nil {
			slog.Warn("push reconnect failed", "user_id", c.userID, "error", err)
			c.retryStreamLater(ctx)
		}
	}()
}

func (c *Controller) handleEvent(ev domain.StatusEvent) {
	d := c.engine.HandleEvent(ev)
	if d.Applied {
		c.onChange()
	}
}

func (c *Controller) refreshLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.engine.RefreshC():
			c.fetch(ctx)
		}
	}
}

// fetch runs the snapshot request in the background. The generation counter
// guards against a slow response landing after Close or after a newer fetch;
// the network call itself is not cancelled.
func (c *Controller) fetch(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.gen++
	gen := c.gen
	filter := c.filter
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		docs, total, err := c.lister.ListDocuments(ctx, filter)

		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			return
		}
		if err != nil {
			c.lastErr = err
			c.mu.Unlock()
			slog.Warn("document list fetch failed", "user_id", c.userID, "error", err)
			c.onChange()
			return
		}
		c.lastErr = nil
		c.total = total
		// Install under the same lock as the generation check, so a newer
		// fetch cannot land between the check and the install and then be
		// overwritten by this stale result.
		c.engine.SetSnapshot(docs)
		c.mu.Unlock()

		c.onChange()
	}()
}
