package reconcile

import (
	"time"

	"docucr/pkg/domain"
	"docucr/pkg/tracker"
)

// Row is one entry of the merged view: either a canonical document,
// optionally patched by the freshest status event, or a not-yet-confirmed
// upload task. Pending distinguishes the two sources.
type Row struct {
	ID           string                `json:"id"`
	TempID       string                `json:"tempId,omitempty"`
	Name         string                `json:"name"`
	Filename     string                `json:"filename"`
	SizeBytes    int64                 `json:"sizeBytes"`
	Status       domain.DocumentStatus `json:"status"`
	Progress     int                   `json:"progress,omitempty"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
	Archived     bool                  `json:"archived,omitempty"`
	TotalPages   int                   `json:"totalPages,omitempty"`
	Metadata     map[string]string     `json:"metadata,omitempty"`
	Pending      bool                  `json:"pending,omitempty"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// Merge projects the three inputs into one ordered, duplicate-free view.
// Upload tasks lead, oldest first, but a task whose linked server ID appears
// in the snapshot is suppressed: the canonical record always wins. Snapshot
// rows follow in snapshot order with overlays applied on top. No two rows
// ever resolve to the same server identifier.
func Merge(snapshot []domain.Document, tasks []tracker.UploadTask, overlays *OverlaySet) []Row {
	inSnapshot := make(map[string]struct{}, len(snapshot))
	for _, doc := range snapshot {
		inSnapshot[doc.ID] = struct{}{}
	}

	rows := make([]Row, 0, len(tasks)+len(snapshot))
	for _, task := range tasks {
		if task.ServerID != "" {
			if _, ok := inSnapshot[task.ServerID]; ok {
				continue
			}
		}
		id := task.ServerID
		if id == "" {
			id = task.TempID
		}
		rows = append(rows, Row{
			ID:           id,
			TempID:       task.TempID,
			Name:         task.Filename,
			Filename:     task.Filename,
			SizeBytes:    task.SizeBytes,
			Status:       task.Status,
			Progress:     task.Progress,
			ErrorMessage: task.ErrorMessage,
			Pending:      true,
			CreatedAt:    task.CreatedAt,
			UpdatedAt:    task.CreatedAt,
		})
	}

	for _, doc := range snapshot {
		row := Row{
			ID:           doc.ID,
			Name:         doc.Name,
			Filename:     doc.OriginalFilename,
			SizeBytes:    doc.SizeBytes,
			Status:       doc.Status,
			ErrorMessage: doc.ErrorMessage,
			Archived:     doc.Archived,
			TotalPages:   doc.TotalPages,
			Metadata:     doc.Metadata,
			CreatedAt:    doc.CreatedAt,
			UpdatedAt:    doc.UpdatedAt,
		}
		if overlays != nil {
			if patch, ok := overlays.Get(doc.ID); ok {
				row.Status = patch.Status
				if patch.Progress >= 0 {
					row.Progress = patch.Progress
				}
				if patch.ErrorMessage != "" {
					row.ErrorMessage = patch.ErrorMessage
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}
