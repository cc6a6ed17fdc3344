package domain

import "time"

// DocumentStatus is the client-visible lifecycle status of a document.
type DocumentStatus string

const (
	StatusQueued       DocumentStatus = "queued"
	StatusUploading    DocumentStatus = "uploading"
	StatusUploaded     DocumentStatus = "uploaded"
	StatusProcessing   DocumentStatus = "processing"
	StatusAIQueued     DocumentStatus = "ai_queued"
	StatusAnalyzing    DocumentStatus = "analyzing"
	StatusCompleted    DocumentStatus = "completed"
	StatusAIFailed     DocumentStatus = "ai_failed"
	StatusFailed       DocumentStatus = "failed"
	StatusUploadFailed DocumentStatus = "upload_failed"
	StatusCancelled    DocumentStatus = "cancelled"
	StatusArchived     DocumentStatus = "archived"
)

// Document is the canonical server-owned record. Clients never mutate it
// except through explicit update calls; processing mutates status server-side.
type Document struct {
	ID               string            `json:"id"`
	OwnerID          string            `json:"ownerId"`
	Name             string            `json:"name"`
	OriginalFilename string            `json:"originalFilename"`
	StorageKey       string            `json:"-"`
	Status           DocumentStatus    `json:"status"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	Archived         bool              `json:"archived"`
	SizeBytes        int64             `json:"fileSize"`
	TotalPages       int               `json:"totalPages,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
}

// StatusEvent is a lifecycle-change notification delivered over the push
// channel. Status carries the raw server code; mapping to DocumentStatus is
// the consumer's concern. Seq orders events for the same document only;
// no ordering is guaranteed across documents. Progress is -1 when the
// producer did not include one.
type StatusEvent struct {
	DocumentID   string
	Status       string
	Progress     int
	ErrorMessage string
	Seq          int64
}

// ListFilter narrows a canonical document listing.
type ListFilter struct {
	Status          DocumentStatus
	Search          string
	CreatedFrom     time.Time
	CreatedTo       time.Time
	Metadata        map[string]string
	IncludeArchived bool
	Limit           int
	Offset          int
}
