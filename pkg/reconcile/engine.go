// Package reconcile merges canonical snapshots, upload-tracker state, and
// push-channel events into a single duplicate-free view, and decides when a
// fresh canonical snapshot is warranted.
package reconcile

import (
	"sync"
	"time"

	"docucr/pkg/domain"
	"docucr/pkg/status"
	"docucr/pkg/tracker"
)

// Config holds engine tunables. The delays are empirically chosen and not a
// protocol contract.
type Config struct {
	// RefreshDebounce coalesces refresh requests caused by events for
	// documents the client has no local record of.
	RefreshDebounce time.Duration
	// TerminalRefreshDelay is applied before refreshing after a terminal
	// event for a document tracked only as an upload, so the upload row is
	// replaced by the authoritative canonical row.
	TerminalRefreshDelay time.Duration
}

// Decision records what handling one event did. Scheduling is signaled as
// data; the engine itself performs no fetches.
type Decision struct {
	Applied      bool
	Stale        bool
	Refresh      bool
	RefreshDelay time.Duration
}

// Engine holds the overlay layer and the latest snapshot identifiers. It
// reads the upload tracker but owns neither the tracker nor the snapshot
// slice it is handed; SetSnapshot copies.
type Engine struct {
	mu          sync.Mutex
	snapshot    []domain.Document
	overlays    *OverlaySet
	tasks       *tracker.Tracker
	debounce    time.Duration
	termDelay   time.Duration
	refreshC    chan struct{}
	refreshTmr  *time.Timer
	refreshStop bool
}

// New constructs an engine bound to the given upload tracker.
func New(tasks *tracker.Tracker, cfg Config) *Engine {
	debounce := cfg.RefreshDebounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	termDelay := cfg.TerminalRefreshDelay
	if termDelay <= 0 {
		termDelay = time.Second
	}
	return &Engine{
		overlays:  NewOverlaySet(),
		tasks:     tasks,
		debounce:  debounce,
		termDelay: termDelay,
		refreshC:  make(chan struct{}, 1),
	}
}

// RefreshC signals that a canonical refresh is due. The channel is buffered;
// coalesced signals are intentional.
func (e *Engine) RefreshC() <-chan struct{} {
	return e.refreshC
}

// SetSnapshot installs a fresh canonical snapshot. Overlay patches are
// dropped (the snapshot supersedes them), and linked upload tasks confirmed
// by a non-transient canonical record are reconciled away.
func (e *Engine) SetSnapshot(docs []domain.Document) {
	copied := make([]domain.Document, len(docs))
	copy(copied, docs)

	confirmed := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		switch doc.Status {
		case domain.StatusQueued, domain.StatusUploading:
			// Transient: the local task still carries upload progress.
		default:
			confirmed[doc.ID] = struct{}{}
		}
	}

	e.mu.Lock()
	e.snapshot = copied
	e.overlays.Reset()
	e.mu.Unlock()

	e.tasks.ReconcileSnapshot(confirmed)
}

// HandleEvent routes one push event: overlay for snapshot documents, status
// update for tracked uploads, refresh signal for identifiers nobody knows.
// Stale events (sequence at or below the last applied for that document) are
// dropped regardless of arrival order.
func (e *Engine) HandleEvent(ev domain.StatusEvent) Decision {
	e.mu.Lock()
	known := false
	for _, doc := range e.snapshot {
		if doc.ID == ev.DocumentID {
			known = true
			break
		}
	}
	e.mu.Unlock()

	if known {
		if !e.overlays.Apply(ev) {
			return Decision{Stale: true}
		}
		return Decision{Applied: true}
	}

	if _, tracked := e.tasks.GetByServerID(ev.DocumentID); tracked {
		if !e.overlays.Fresh(ev) {
			return Decision{Stale: true}
		}
		e.overlays.Mark(ev)
		mapped := status.FromServerCode(ev.Status)
		e.tasks.ApplyStatus(ev.DocumentID, mapped, ev.ErrorMessage)
		if ev.Progress >= 0 {
			if task, ok := e.tasks.GetByServerID(ev.DocumentID); ok {
				e.tasks.ApplyProgress(task.TempID, ev.Progress)
			}
		}
		if status.IsTerminal(mapped) {
			e.scheduleRefresh(e.termDelay)
			return Decision{Applied: true, Refresh: true, RefreshDelay: e.termDelay}
		}
		return Decision{Applied: true}
	}

	// A document appeared server-side that this client has no record of,
	// e.g. another session uploaded it. Debounced so an event burst asks for
	// one refresh, not many.
	e.overlays.Mark(ev)
	e.scheduleRefresh(e.debounce)
	return Decision{Refresh: true, RefreshDelay: e.debounce}
}

// Rows returns the merged view for rendering.
func (e *Engine) Rows() []Row {
	e.mu.Lock()
	snapshot := e.snapshot
	e.mu.Unlock()
	return Merge(snapshot, e.tasks.Snapshot(), e.overlays)
}

// Close stops any pending refresh timer.
func (e *Engine) Close() {
	e.mu.Lock()
	e.refreshStop = true
	if e.refreshTmr != nil {
		e.refreshTmr.Stop()
		e.refreshTmr = nil
	}
	e.mu.Unlock()
}

func (e *Engine) scheduleRefresh(delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refreshStop || e.refreshTmr != nil {
		return
	}
	e.refreshTmr = time.AfterFunc(delay, func() {
		e.mu.Lock()
		e.refreshTmr = nil
		stopped := e.refreshStop
		e.mu.Unlock()
		if stopped {
			return
		}
		select {
		case e.refreshC <- struct{}{}:
		default:
		}
	})
}
