package reconcile

import (
	"sync"

	"docucr/pkg/domain"
	"docucr/pkg/status"
)

// Overlay is a StatusEvent-derived patch applied on top of a canonical
// record's projection. The underlying snapshot is never mutated; the next
// full snapshot supersedes all patches.
type Overlay struct {
	Status       domain.DocumentStatus
	Progress     int
	ErrorMessage string
	Seq          int64
}

// OverlaySet keeps the freshest patch per document and a per-document
// sequence watermark. Watermarks outlive Reset so a stale event arriving
// after a snapshot refresh is still rejected.
type OverlaySet struct {
	mu      sync.Mutex
	patches map[string]Overlay
	seen    map[string]int64
}

// NewOverlaySet returns an empty overlay set.
func NewOverlaySet() *OverlaySet {
	return &OverlaySet{
		patches: make(map[string]Overlay),
		seen:    make(map[string]int64),
	}
}

// Apply records the event's patch unless a same-document event with an equal
// or newer sequence was already applied. Returns whether the event was fresh.
func (o *OverlaySet) Apply(ev domain.StatusEvent) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if last, ok := o.seen[ev.DocumentID]; ok && ev.Seq <= last {
		return false
	}
	o.seen[ev.DocumentID] = ev.Seq
	o.patches[ev.DocumentID] = Overlay{
		Status:       status.FromServerCode(ev.Status),
		Progress:     ev.Progress,
		ErrorMessage: ev.ErrorMessage,
		Seq:          ev.Seq,
	}
	return true
}

// Fresh reports whether an event would pass the watermark without recording
// anything.
func (o *OverlaySet) Fresh(ev domain.StatusEvent) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	last, ok := o.seen[ev.DocumentID]
	return !ok || ev.Seq > last
}

// Mark advances the watermark for a document without keeping a patch. Used
// for events consumed by the upload tracker instead of the snapshot overlay.
func (o *OverlaySet) Mark(ev domain.StatusEvent) {
	o.mu.Lock()
	if last, ok := o.seen[ev.DocumentID]; !ok || ev.Seq > last {
		o.seen[ev.DocumentID] = ev.Seq
	}
	o.mu.Unlock()
}

// Get returns the current patch for a document.
func (o *OverlaySet) Get(id string) (Overlay, bool) {
	o.mu.Lock()
	patch, ok := o.patches[id]
	o.mu.Unlock()
	return patch, ok
}

// Reset drops all patches but keeps sequence watermarks. Called when a fresh
// canonical snapshot arrives and cleanly supersedes the overlay layer.
func (o *OverlaySet) Reset() {
	o.mu.Lock()
	o.patches = make(map[string]Overlay)
	o.mu.Unlock()
}
