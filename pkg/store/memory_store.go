package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"docucr/pkg/domain"
)

// MemoryStore keeps documents in-process. Used by tests and local dev.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]domain.Document
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]domain.Document)}
}

// SaveDocument stores or replaces a document record.
func (m *MemoryStore) SaveDocument(d domain.Document) error {
	m.mu.Lock()
	m.docs[d.ID] = d
	m.mu.Unlock()
	return nil
}

// GetDocument retrieves a document.
func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	doc, ok := m.docs[id]
	m.mu.RUnlock()
	return doc, ok, nil
}

// ListDocuments returns an owner's documents, newest first, narrowed by
// filter, plus the total before limit/offset.
func (m *MemoryStore) ListDocuments(ownerID string, filter domain.ListFilter) ([]domain.Document, int, error) {
	m.mu.RLock()
	matched := make([]domain.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		if doc.OwnerID != ownerID {
			continue
		}
		if !matchesFilter(doc, filter) {
			continue
		}
		matched = append(matched, doc)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func matchesFilter(doc domain.Document, filter domain.ListFilter) bool {
	if filter.Status != "" && doc.Status != filter.Status {
		return false
	}
	if filter.Search != "" {
		needle := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(doc.Name), needle) &&
			!strings.Contains(strings.ToLower(doc.OriginalFilename), needle) {
			return false
		}
	}
	if !filter.CreatedFrom.IsZero() && doc.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && doc.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	if !filter.IncludeArchived && doc.Archived {
		return false
	}
	for k, v := range filter.Metadata {
		if doc.Metadata[k] != v {
			return false
		}
	}
	return true
}

// SetStatus updates status and optional error message.
func (m *MemoryStore) SetStatus(id string, status domain.DocumentStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil
	}
	doc.Status = status
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}

// SetArchived flips the archived flag.
func (m *MemoryStore) SetArchived(id string, archived bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil
	}
	doc.Archived = archived
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}

// SetTotalPages records the extracted page count.
func (m *MemoryStore) SetTotalPages(id string, pages int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil
	}
	doc.TotalPages = pages
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}

// UpdateMetadata replaces display name and/or custom metadata.
func (m *MemoryStore) UpdateMetadata(id string, name string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil
	}
	if name != "" {
		doc.Name = name
	}
	if metadata != nil {
		doc.Metadata = metadata
	}
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}

// DeleteDocument removes a record.
func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}
