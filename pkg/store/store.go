package store

import (
	"docucr/pkg/domain"
)

// Store defines persistence operations for documents.
type Store interface {
	SaveDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocuments(ownerID string, filter domain.ListFilter) ([]domain.Document, int, error)
	SetStatus(id string, status domain.DocumentStatus, errMsg string) error
	SetArchived(id string, archived bool) error
	SetTotalPages(id string, pages int) error
	UpdateMetadata(id string, name string, metadata map[string]string) error
	DeleteDocument(id string) error
}
