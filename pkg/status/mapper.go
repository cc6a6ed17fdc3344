package status

import (
	"strings"

	"docucr/pkg/domain"
)

// FromServerCode translates a backend lifecycle code into the closed set of
// client-visible statuses. Unrecognized codes map to processing so an
// unannounced backend value degrades to a transient state instead of
// breaking the view.
func FromServerCode(code string) domain.DocumentStatus {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "queued", "pending":
		return domain.StatusQueued
	case "uploading":
		return domain.StatusUploading
	case "uploaded":
		return domain.StatusUploaded
	case "processing", "extracting":
		return domain.StatusProcessing
	case "ai_queued", "analysis_queued":
		return domain.StatusAIQueued
	case "analyzing", "ai_processing":
		return domain.StatusAnalyzing
	case "completed", "done", "ready":
		return domain.StatusCompleted
	case "ai_failed", "analysis_failed":
		return domain.StatusAIFailed
	case "upload_failed":
		return domain.StatusUploadFailed
	case "failed", "error":
		return domain.StatusFailed
	case "cancelled", "canceled":
		return domain.StatusCancelled
	case "archived":
		return domain.StatusArchived
	default:
		return domain.StatusProcessing
	}
}

// IsTerminal reports whether a status ends the upload-tracking lifecycle.
// Archived is a visibility flag, not a terminal state.
func IsTerminal(s domain.DocumentStatus) bool {
	switch s {
	case domain.StatusCompleted, domain.StatusAIFailed, domain.StatusFailed,
		domain.StatusUploadFailed, domain.StatusCancelled:
		return true
	default:
		return false
	}
}

// IsFailure reports whether a terminal status represents a failure or a
// user-initiated cancellation, the states a reanalyze may start from.
func IsFailure(s domain.DocumentStatus) bool {
	switch s {
	case domain.StatusAIFailed, domain.StatusFailed, domain.StatusUploadFailed,
		domain.StatusCancelled:
		return true
	default:
		return false
	}
}
