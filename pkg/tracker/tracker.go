package tracker

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"docucr/pkg/domain"
	"docucr/pkg/status"
)

// UploadTask is the client-owned, ephemeral record of a locally-initiated
// upload. It lives from the moment a file is handed to the upload call until
// the corresponding canonical document is confirmed in a snapshot, or until a
// linger period after terminal success.
type UploadTask struct {
	TempID       string                `json:"tempId"`
	ServerID     string                `json:"serverId,omitempty"`
	Filename     string                `json:"filename"`
	SizeBytes    int64                 `json:"sizeBytes"`
	Progress     int                   `json:"progress"`
	Status       domain.DocumentStatus `json:"status"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// Config holds tracker tunables.
type Config struct {
	// TerminalLinger is how long a terminal-success task stays visible so a
	// final canonical refresh can replace it with the authoritative row.
	TerminalLinger time.Duration
}

// Tracker is the process-wide registry of in-flight uploads. All mutation
// goes through its methods; reads return copies. Subscribers are notified
// synchronously after every externally visible change.
type Tracker struct {
	mu       sync.Mutex
	tasks    map[string]UploadTask
	byServer map[string]string
	timers   map[string]*time.Timer
	subs     map[int]func()
	nextSub  int
	linger   time.Duration
}

// New constructs a tracker. Zero-value tunables get defaults.
func New(cfg Config) *Tracker {
	linger := cfg.TerminalLinger
	if linger <= 0 {
		linger = 3 * time.Second
	}
	return &Tracker{
		tasks:    make(map[string]UploadTask),
		byServer: make(map[string]string),
		timers:   make(map[string]*time.Timer),
		subs:     make(map[int]func()),
		linger:   linger,
	}
}

// Subscribe registers a change callback and returns its unsubscribe func.
// Callers attach on mount and must detach on unmount.
func (t *Tracker) Subscribe(fn func()) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
	}
}

// BeginUpload registers a fresh task in status queued and returns its temp ID
// immediately; no network I/O happens here.
func (t *Tracker) BeginUpload(filename string, size int64) string {
	task := UploadTask{
		TempID:    uuid.NewString(),
		Filename:  filename,
		SizeBytes: size,
		Status:    domain.StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	t.mu.Lock()
	t.tasks[task.TempID] = task
	t.mu.Unlock()
	t.notify()
	return task.TempID
}

// LinkServerID attaches the server-assigned identifier once the upload call
// returns, moving the task to uploading. An unknown temp ID is logged and
// ignored: the task may have been reconciled away already.
func (t *Tracker) LinkServerID(tempID, serverID string) {
	t.mu.Lock()
	task, ok := t.tasks[tempID]
	if !ok {
		t.mu.Unlock()
		slog.Warn("link for unknown upload task", "temp_id", tempID, "server_id", serverID)
		return
	}
	task.ServerID = serverID
	task.Status = domain.StatusUploading
	t.tasks[tempID] = task
	t.byServer[serverID] = tempID
	t.mu.Unlock()
	t.notify()
}

// ApplyProgress records upload progress. Decreases are dropped silently so
// reordered progress callbacks cannot move the bar backwards.
func (t *Tracker) ApplyProgress(tempID string, percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.mu.Lock()
	task, ok := t.tasks[tempID]
	if !ok || percent <= task.Progress {
		t.mu.Unlock()
		return
	}
	task.Progress = percent
	t.tasks[tempID] = task
	t.mu.Unlock()
	t.notify()
}

// ApplyStatus applies a lifecycle change to the task linked to serverID.
// Terminal success schedules removal after the linger period; failures stay
// visible until dismissed or retried.
func (t *Tracker) ApplyStatus(serverID string, st domain.DocumentStatus, errMsg string) {
	t.mu.Lock()
	tempID, ok := t.byServer[serverID]
	if !ok {
		t.mu.Unlock()
		slog.Warn("status for unlinked upload task", "server_id", serverID, "status", st)
		return
	}
	task := t.tasks[tempID]
	task.Status = st
	task.ErrorMessage = errMsg
	if st == domain.StatusUploaded || status.IsTerminal(st) {
		task.Progress = 100
	}
	t.tasks[tempID] = task
	if status.IsTerminal(st) && !status.IsFailure(st) {
		t.scheduleRemoveLocked(tempID)
	}
	t.mu.Unlock()
	t.notify()
}

// ReconcileSnapshot removes every linked task whose server ID appears in the
// confirmed canonical set. This is what keeps a document from rendering twice,
// once as an in-flight upload and once as a canonical row.
func (t *Tracker) ReconcileSnapshot(serverIDs map[string]struct{}) {
	t.mu.Lock()
	removed := false
	for serverID, tempID := range t.byServer {
		if _, ok := serverIDs[serverID]; !ok {
			continue
		}
		t.removeLocked(tempID)
		removed = true
	}
	t.mu.Unlock()
	if removed {
		t.notify()
	}
}

// Dismiss drops a task regardless of state. Used when the user dismisses a
// failed upload row.
func (t *Tracker) Dismiss(tempID string) {
	t.mu.Lock()
	_, ok := t.tasks[tempID]
	if ok {
		t.removeLocked(tempID)
	}
	t.mu.Unlock()
	if ok {
		t.notify()
	}
}

// GetByServerID returns a copy of the task linked to a server identifier.
func (t *Tracker) GetByServerID(serverID string) (UploadTask, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tempID, ok := t.byServer[serverID]
	if !ok {
		return UploadTask{}, false
	}
	task, ok := t.tasks[tempID]
	return task, ok
}

// Get returns a copy of one task.
func (t *Tracker) Get(tempID string) (UploadTask, bool) {
	t.mu.Lock()
	task, ok := t.tasks[tempID]
	t.mu.Unlock()
	return task, ok
}

// Snapshot returns copies of all live tasks, oldest first.
func (t *Tracker) Snapshot() []UploadTask {
	t.mu.Lock()
	out := make([]UploadTask, 0, len(t.tasks))
	for _, task := range t.tasks {
		out = append(out, task)
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TempID < out[j].TempID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (t *Tracker) scheduleRemoveLocked(tempID string) {
	if _, ok := t.timers[tempID]; ok {
		return
	}
	t.timers[tempID] = time.AfterFunc(t.linger, func() {
		t.mu.Lock()
		_, ok := t.tasks[tempID]
		if ok {
			t.removeLocked(tempID)
		}
		t.mu.Unlock()
		if ok {
			t.notify()
		}
	})
}

func (t *Tracker) removeLocked(tempID string) {
	task := t.tasks[tempID]
	delete(t.tasks, tempID)
	if task.ServerID != "" {
		delete(t.byServer, task.ServerID)
	}
	if timer, ok := t.timers[tempID]; ok {
		timer.Stop()
		delete(t.timers, tempID)
	}
}

func (t *Tracker) notify() {
	t.mu.Lock()
	fns := make([]func(), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
