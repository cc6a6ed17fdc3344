package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"docucr/internal/authtoken"
	"docucr/internal/ratelimit"
	"docucr/internal/util"
	"docucr/pkg/domain"
	"docucr/services/docs/internal/app"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Tokens         *authtoken.Manager
	UploadLimiter  *ratelimit.FixedWindowLimiter
	TrustedProxies *util.TrustedProxies
	MaxUploadBytes int64
}

// Server exposes the documents REST API.
type Server struct {
	app            *app.App
	tokens         *authtoken.Manager
	uploadLimiter  *ratelimit.FixedWindowLimiter
	trustedProxies *util.TrustedProxies
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token manager required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		tokens:         cfg.Tokens,
		uploadLimiter:  cfg.UploadLimiter,
		trustedProxies: cfg.TrustedProxies,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("docs", s.trustedProxies, util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/documents", s.withUser(s.handleDocuments))
	s.mux.Handle("/documents/", s.withUser(s.handleDocumentByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := authtoken.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokens.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

// /documents
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodGet:
		s.handleList(w, r, userID)
	default:
		methodNotAllowed(w)
	}
}

// /documents/upload, /documents/{id}, /documents/{id}/{action}
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, userID string) {
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		notFound(w, "not found")
		return
	}
	if id == "upload" && len(parts) == 1 {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleUpload(w, r, userID)
		return
	}
	if len(parts) == 2 {
		s.handleAction(w, r, userID, id, parts[1])
		return
	}
	switch r.Method {
	case http.MethodGet:
		doc, err := s.app.Get(userID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.app.Delete(r.Context(), userID, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case http.MethodPatch:
		s.handleUpdateMetadata(w, r, userID, id)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, userID, id, action string) {
	switch action {
	case "download":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		url, filename, err := s.app.DownloadURL(r.Context(), userID, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url, "filename": filename})
		return
	case "cancel", "reanalyze", "archive", "unarchive":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
	default:
		notFound(w, "not found")
		return
	}

	var doc domain.Document
	var err error
	switch action {
	case "cancel":
		doc, err = s.app.Cancel(r.Context(), userID, id)
	case "reanalyze":
		doc, err = s.app.Reanalyze(r.Context(), userID, id)
	case "archive":
		doc, err = s.app.Archive(r.Context(), userID, id)
	case "unarchive":
		doc, err = s.app.Unarchive(r.Context(), userID, id)
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, userID string) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	docs, total, err := s.app.List(userID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
		"total":     total,
	})
}

func parseListFilter(r *http.Request) (domain.ListFilter, error) {
	q := r.URL.Query()
	filter := domain.ListFilter{
		Status: domain.DocumentStatus(strings.TrimSpace(q.Get("status"))),
		Search: strings.TrimSpace(q.Get("search")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid from timestamp")
		}
		filter.CreatedFrom = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("invalid to timestamp")
		}
		filter.CreatedTo = t
	}
	if v := q.Get("archived"); v == "true" {
		filter.IncludeArchived = true
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New("invalid offset")
		}
		filter.Offset = n
	}
	for key, values := range q {
		if !strings.HasPrefix(key, "meta.") || len(values) == 0 {
			continue
		}
		name := strings.TrimPrefix(key, "meta.")
		if name == "" {
			continue
		}
		if filter.Metadata == nil {
			filter.Metadata = make(map[string]string)
		}
		filter.Metadata[name] = values[0]
	}
	return filter, nil
}

// uploadResult mirrors what the console expects per uploaded file.
type uploadResult struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	Status         string `json:"status"`
	FileSize       int64  `json:"file_size"`
	UploadProgress int    `json:"upload_progress"`
	TotalPages     int    `json:"total_pages,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, userID string) {
	if s.uploadLimiter != nil && !s.uploadLimiter.Allow(userID) {
		writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "at least one file is required (field: files)")
		return
	}

	results := make([]uploadResult, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			results = append(results, uploadResult{Filename: header.Filename, Status: string(domain.StatusUploadFailed), Error: "unreadable file"})
			continue
		}
		doc, err := s.app.Upload(r.Context(), userID, header.Filename, file, header.Size)
		file.Close()
		if err != nil {
			results = append(results, uploadResult{Filename: header.Filename, Status: string(domain.StatusUploadFailed), Error: err.Error()})
			continue
		}
		util.LoggerFromContext(r.Context()).Info("document uploaded",
			"documentId", doc.ID,
			"userId", userID,
			"sizeBytes", doc.SizeBytes,
		)
		results = append(results, uploadResult{
			ID:             doc.ID,
			Filename:       doc.OriginalFilename,
			Status:         string(doc.Status),
			FileSize:       doc.SizeBytes,
			UploadProgress: 100,
			TotalPages:     doc.TotalPages,
		})
	}
	writeJSON(w, http.StatusCreated, results)
}

type metadataRequest struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request, userID, id string) {
	var req metadataRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	doc, err := s.app.UpdateMetadata(r.Context(), userID, id, req.Name, req.Metadata)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotFound):
		notFound(w, "document not found")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid status transition")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      errorCodeForDocs(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}

func errorCodeForDocs(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "unauthorized":
		return "AUTH_INVALID_TOKEN"
	case message == "forbidden":
		return "DOC_FORBIDDEN"
	case message == "document not found":
		return "DOC_NOT_FOUND"
	case message == "invalid status transition":
		return "DOC_INVALID_TRANSITION"
	case message == "file too large":
		return "DOC_FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"):
		return "DOC_FILE_REQUIRED"
	case strings.Contains(message, "unsupported file type"):
		return "DOC_UNSUPPORTED_FILE_TYPE"
	case message == "upload rate limit exceeded":
		return "DOC_UPLOAD_RATE_LIMITED"
	case message == "invalid form data":
		return "DOC_INVALID_UPLOAD_FORM"
	case message == "invalid json body":
		return "DOC_INVALID_REQUEST"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "DOC_INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "DOC_FORBIDDEN"
	case http.StatusNotFound:
		return "DOC_NOT_FOUND"
	case http.StatusConflict:
		return "DOC_INVALID_TRANSITION"
	case http.StatusTooManyRequests:
		return "DOC_UPLOAD_RATE_LIMITED"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
