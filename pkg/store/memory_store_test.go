package store

import (
	"testing"
	"time"

	"docucr/pkg/domain"
)

func seedDoc(t *testing.T, s *MemoryStore, id, owner string, st domain.DocumentStatus, created time.Time) {
	t.Helper()
	if err := s.SaveDocument(domain.Document{
		ID:               id,
		OwnerID:          owner,
		Name:             "Doc " + id,
		OriginalFilename: "doc-" + id + ".pdf",
		Status:           st,
		SizeBytes:        100,
		CreatedAt:        created,
		UpdatedAt:        created,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestListDocumentsScopedToOwnerNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedDoc(t, s, "1", "alice", domain.StatusCompleted, base)
	seedDoc(t, s, "2", "alice", domain.StatusCompleted, base.Add(time.Hour))
	seedDoc(t, s, "3", "bob", domain.StatusCompleted, base.Add(2*time.Hour))

	docs, total, err := s.ListDocuments("alice", domain.ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(docs) != 2 {
		t.Fatalf("total=%d len=%d", total, len(docs))
	}
	if docs[0].ID != "2" || docs[1].ID != "1" {
		t.Fatalf("order = %s, %s", docs[0].ID, docs[1].ID)
	}
}

func TestListDocumentsFilters(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedDoc(t, s, "1", "alice", domain.StatusCompleted, base)
	seedDoc(t, s, "2", "alice", domain.StatusAnalyzing, base.Add(time.Hour))
	if err := s.SaveDocument(domain.Document{
		ID: "3", OwnerID: "alice", Name: "Quarterly invoice",
		OriginalFilename: "q3.pdf", Status: domain.StatusCompleted,
		Metadata:  map[string]string{"project": "alpha"},
		CreatedAt: base.Add(2 * time.Hour), UpdatedAt: base.Add(2 * time.Hour),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	docs, _, _ := s.ListDocuments("alice", domain.ListFilter{Status: domain.StatusAnalyzing})
	if len(docs) != 1 || docs[0].ID != "2" {
		t.Fatalf("status filter: %+v", docs)
	}
	docs, _, _ = s.ListDocuments("alice", domain.ListFilter{Search: "invoice"})
	if len(docs) != 1 || docs[0].ID != "3" {
		t.Fatalf("search filter: %+v", docs)
	}
	docs, _, _ = s.ListDocuments("alice", domain.ListFilter{Metadata: map[string]string{"project": "alpha"}})
	if len(docs) != 1 || docs[0].ID != "3" {
		t.Fatalf("metadata filter: %+v", docs)
	}
	docs, _, _ = s.ListDocuments("alice", domain.ListFilter{CreatedFrom: base.Add(30 * time.Minute)})
	if len(docs) != 2 {
		t.Fatalf("date filter: %+v", docs)
	}
}

func TestListDocumentsExcludesArchivedByDefault(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	seedDoc(t, s, "1", "alice", domain.StatusCompleted, base)
	seedDoc(t, s, "2", "alice", domain.StatusCompleted, base.Add(time.Hour))
	if err := s.SetArchived("1", true); err != nil {
		t.Fatalf("archive: %v", err)
	}

	docs, total, _ := s.ListDocuments("alice", domain.ListFilter{})
	if total != 1 || len(docs) != 1 || docs[0].ID != "2" {
		t.Fatalf("default listing: total=%d docs=%+v", total, docs)
	}
	docs, _, _ = s.ListDocuments("alice", domain.ListFilter{IncludeArchived: true})
	if len(docs) != 2 {
		t.Fatalf("archived listing: %+v", docs)
	}

	// Archiving never disturbs the processing status.
	doc, ok, _ := s.GetDocument("1")
	if !ok || doc.Status != domain.StatusCompleted || !doc.Archived {
		t.Fatalf("doc = %+v", doc)
	}
}

func TestListDocumentsPagination(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seedDoc(t, s, string(rune('a'+i)), "alice", domain.StatusCompleted, base.Add(time.Duration(i)*time.Hour))
	}
	docs, total, _ := s.ListDocuments("alice", domain.ListFilter{Limit: 2, Offset: 1})
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(docs) != 2 || docs[0].ID != "d" || docs[1].ID != "c" {
		t.Fatalf("page = %+v", docs)
	}
}

func TestSetStatusAndMetadata(t *testing.T) {
	s := NewMemoryStore()
	seedDoc(t, s, "1", "alice", domain.StatusAnalyzing, time.Now().UTC())

	if err := s.SetStatus("1", domain.StatusAIFailed, "model timeout"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	doc, _, _ := s.GetDocument("1")
	if doc.Status != domain.StatusAIFailed || doc.ErrorMessage != "model timeout" {
		t.Fatalf("doc = %+v", doc)
	}

	if err := s.UpdateMetadata("1", "Renamed", map[string]string{"tag": "x"}); err != nil {
		t.Fatalf("update metadata: %v", err)
	}
	doc, _, _ = s.GetDocument("1")
	if doc.Name != "Renamed" || doc.Metadata["tag"] != "x" {
		t.Fatalf("doc = %+v", doc)
	}

	if err := s.SetTotalPages("1", 12); err != nil {
		t.Fatalf("set pages: %v", err)
	}
	doc, _, _ = s.GetDocument("1")
	if doc.TotalPages != 12 {
		t.Fatalf("pages = %d", doc.TotalPages)
	}
}

func TestDeleteDocument(t *testing.T) {
	s := NewMemoryStore()
	seedDoc(t, s, "1", "alice", domain.StatusCompleted, time.Now().UTC())
	if err := s.DeleteDocument("1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := s.GetDocument("1"); ok {
		t.Fatal("document still present")
	}
}
