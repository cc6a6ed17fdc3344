// Package app holds the document service core: upload intake, lifecycle
// transitions, and the push-event fanout that keeps connected consoles in
// sync with the canonical records.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ledongthuc/pdf"

	"docucr/pkg/domain"
	"docucr/pkg/status"
	"docucr/pkg/storage"
	"docucr/pkg/store"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrForbidden is returned when a document belongs to another user.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition is returned for a lifecycle operation the
	// document's current status does not permit.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Queue enqueues analysis jobs.
type Queue interface {
	Enqueue(ctx context.Context, documentID string) error
}

// EventPublisher delivers status events to a user's push channel.
type EventPublisher interface {
	Publish(ctx context.Context, userID string, ev domain.StatusEvent) error
}

// Config wires the app's collaborators.
type Config struct {
	Store             store.Store
	Objects           storage.ObjectStore
	Queue             Queue
	Events            EventPublisher
	MaxUploadBytes    int64
	AllowedExtensions []string
}

// App is the document service core.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	queue          Queue
	events         EventPublisher
	maxUploadBytes int64
	allowedExts    map[string]struct{}
	presignExpiry  time.Duration
}

// New constructs the application core.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Objects == nil {
		return nil, errors.New("object store required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("queue required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	exts := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = struct{}{}
	}
	return &App{
		store:          cfg.Store,
		objects:        cfg.Objects,
		queue:          cfg.Queue,
		events:         cfg.Events,
		maxUploadBytes: maxUploadBytes,
		allowedExts:    exts,
		presignExpiry:  15 * time.Minute,
	}, nil
}

// Upload stores one uploaded file, records the document, and enqueues
// analysis. On enqueue failure the document is kept with status failed so the
// owner can reanalyze it later.
func (a *App) Upload(ctx context.Context, ownerID, filename string, r io.Reader, size int64) (domain.Document, error) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return domain.Document{}, errors.New("filename required")
	}
	if a.maxUploadBytes > 0 && size > a.maxUploadBytes {
		return domain.Document{}, errors.New("file too large")
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if len(a.allowedExts) > 0 {
		if _, ok := a.allowedExts[ext]; !ok {
			return domain.Document{}, fmt.Errorf("unsupported file type %q", ext)
		}
	}

	data, err := io.ReadAll(io.LimitReader(r, a.maxUploadBytes+1))
	if err != nil {
		return domain.Document{}, fmt.Errorf("read upload: %w", err)
	}
	if a.maxUploadBytes > 0 && int64(len(data)) > a.maxUploadBytes {
		return domain.Document{}, errors.New("file too large")
	}

	id := uuid.NewString()
	storageKey := storage.DocumentKey(id, sanitizeFilename(filename))
	now := time.Now().UTC()
	doc := domain.Document{
		ID:               id,
		OwnerID:          ownerID,
		Name:             nameFromFilename(filename),
		OriginalFilename: filepath.Base(filename),
		StorageKey:       storageKey,
		Status:           domain.StatusUploaded,
		SizeBytes:        int64(len(data)),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if ext == ".pdf" {
		doc.TotalPages = countPDFPages(data)
	}

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, storageKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return domain.Document{}, fmt.Errorf("save file: %w", err)
	}
	if err := a.store.SaveDocument(doc); err != nil {
		_ = a.objects.Delete(ctx, storageKey)
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	a.publish(ctx, doc.OwnerID, doc.ID, doc.Status, "")

	if err := a.queue.Enqueue(ctx, doc.ID); err != nil {
		doc.Status = domain.StatusFailed
		doc.ErrorMessage = "analysis enqueue failed"
		_ = a.store.SetStatus(doc.ID, doc.Status, doc.ErrorMessage)
		a.publish(ctx, doc.OwnerID, doc.ID, doc.Status, doc.ErrorMessage)
		return doc, nil
	}
	doc.Status = domain.StatusAIQueued
	if err := a.store.SetStatus(doc.ID, doc.Status, ""); err != nil {
		return domain.Document{}, fmt.Errorf("update status: %w", err)
	}
	a.publish(ctx, doc.OwnerID, doc.ID, doc.Status, "")
	return doc, nil
}

// List returns the owner's documents matching the filter and the total count
// before pagination.
func (a *App) List(ownerID string, filter domain.ListFilter) ([]domain.Document, int, error) {
	return a.store.ListDocuments(ownerID, filter)
}

// Get returns one of the owner's documents.
func (a *App) Get(ownerID, id string) (domain.Document, error) {
	return a.ownedDocument(ownerID, id)
}

// DownloadURL returns a presigned download URL and the original filename.
func (a *App) DownloadURL(ctx context.Context, ownerID, id string) (string, string, error) {
	doc, err := a.ownedDocument(ownerID, id)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(doc.StorageKey) == "" {
		return "", "", errors.New("storage key missing")
	}
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, a.presignExpiry)
	if err != nil {
		return "", "", err
	}
	return url, doc.OriginalFilename, nil
}

// Cancel aborts analysis for a document. Only ai_queued and analyzing
// documents can be cancelled; the upload phase is too short to interrupt
// and terminal documents have nothing left to abort.
func (a *App) Cancel(ctx context.Context, ownerID, id string) (domain.Document, error) {
	doc, err := a.ownedDocument(ownerID, id)
	if err != nil {
		return domain.Document{}, err
	}
	cancellable := doc.Status == domain.StatusAIQueued || doc.Status == domain.StatusAnalyzing
	if !cancellable || doc.Archived {
		return domain.Document{}, ErrInvalidTransition
	}
	return a.transition(ctx, doc, domain.StatusCancelled, "")
}

// Reanalyze re-runs analysis for a failed or cancelled document.
func (a *App) Reanalyze(ctx context.Context, ownerID, id string) (domain.Document, error) {
	doc, err := a.ownedDocument(ownerID, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !status.IsFailure(doc.Status) || doc.Archived {
		return domain.Document{}, ErrInvalidTransition
	}
	doc, err = a.transition(ctx, doc, domain.StatusAIQueued, "")
	if err != nil {
		return domain.Document{}, err
	}
	if err := a.queue.Enqueue(ctx, doc.ID); err != nil {
		return a.transition(ctx, doc, domain.StatusFailed, "analysis enqueue failed")
	}
	return doc, nil
}

// Archive hides a document from the default listing. Archiving is a
// visibility flag, not a lifecycle transition: it is allowed in any
// processing state and the document keeps its current status.
func (a *App) Archive(ctx context.Context, ownerID, id string) (domain.Document, error) {
	doc, err := a.ownedDocument(ownerID, id)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.Archived {
		return domain.Document{}, ErrInvalidTransition
	}
	if err := a.store.SetArchived(id, true); err != nil {
		return domain.Document{}, err
	}
	doc.Archived = true
	a.publish(ctx, doc.OwnerID, doc.ID, doc.Status, doc.ErrorMessage)
	return doc, nil
}

// Unarchive restores an archived document to its stored status.
func (a *App) Unarchive(ctx context.Context, ownerID, id string) (domain.Document, error) {
	doc, err := a.ownedDocument(ownerID, id)
	if err != nil {
		return domain.Document{}, err
	}
	if !doc.Archived {
		return domain.Document{}, ErrInvalidTransition
	}
	if err := a.store.SetArchived(id, false); err != nil {
		return domain.Document{}, err
	}
	doc.Archived = false
	a.publish(ctx, doc.OwnerID, doc.ID, doc.Status, doc.ErrorMessage)
	return doc, nil
}

// UpdateMetadata renames a document and/or replaces its custom metadata.
func (a *App) UpdateMetadata(ctx context.Context, ownerID, id, name string, metadata map[string]string) (domain.Document, error) {
	doc, err := a.ownedDocument(ownerID, id)
	if err != nil {
		return domain.Document{}, err
	}
	if err := a.store.UpdateMetadata(id, name, metadata); err != nil {
		return domain.Document{}, err
	}
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	return doc, nil
}

// Delete removes the document record and its stored file.
func (a *App) Delete(ctx context.Context, ownerID, id string) error {
	doc, err := a.ownedDocument(ownerID, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := a.store.DeleteDocument(id); err != nil {
		return err
	}
	if doc.StorageKey != "" {
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) ownedDocument(ownerID, id string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	if doc.OwnerID != ownerID {
		return domain.Document{}, ErrForbidden
	}
	return doc, nil
}

func (a *App) transition(ctx context.Context, doc domain.Document, to domain.DocumentStatus, errMsg string) (domain.Document, error) {
	if err := a.store.SetStatus(doc.ID, to, errMsg); err != nil {
		return domain.Document{}, err
	}
	doc.Status = to
	doc.ErrorMessage = errMsg
	a.publish(ctx, doc.OwnerID, doc.ID, to, errMsg)
	return doc, nil
}

// publish is best-effort: a dropped event only delays consoles until their
// next refresh.
func (a *App) publish(ctx context.Context, ownerID, docID string, st domain.DocumentStatus, errMsg string) {
	if a.events == nil {
		return
	}
	_ = a.events.Publish(ctx, ownerID, domain.StatusEvent{
		DocumentID:   docID,
		Status:       string(st),
		Progress:     -1,
		ErrorMessage: errMsg,
	})
}

func countPDFPages(data []byte) int {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0
	}
	return reader.NumPage()
}

func nameFromFilename(name string) string {
	base := filepath.Base(name)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	title = strings.TrimSpace(title)
	if title == "" {
		return "Untitled document"
	}
	return title
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(filepath.Base(name))
	if name == "" {
		return "document"
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "document"
	}
	return out
}
