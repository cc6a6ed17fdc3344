// Package docclient talks to the document service REST API.
package docclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docucr/pkg/domain"
)

// Client calls the document service over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// APIError represents a document service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a document service client authenticated as one user.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type listResponse struct {
	Documents []domain.Document `json:"documents"`
	Total     int               `json:"total"`
}

// ListDocuments fetches the canonical snapshot narrowed by filter.
func (c *Client) ListDocuments(ctx context.Context, filter domain.ListFilter) ([]domain.Document, int, error) {
	q := url.Values{}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Search != "" {
		q.Set("search", filter.Search)
	}
	if !filter.CreatedFrom.IsZero() {
		q.Set("from", filter.CreatedFrom.UTC().Format(time.RFC3339))
	}
	if !filter.CreatedTo.IsZero() {
		q.Set("to", filter.CreatedTo.UTC().Format(time.RFC3339))
	}
	if filter.IncludeArchived {
		q.Set("archived", "true")
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	for k, v := range filter.Metadata {
		q.Set("meta."+k, v)
	}
	path := c.baseURL + "/documents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}
	var resp listResponse
	if err := c.do(req, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Documents, resp.Total, nil
}

// GetDocument fetches one canonical record.
func (c *Client) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/documents/%s", c.baseURL, id), nil)
	if err != nil {
		return domain.Document{}, err
	}
	var doc domain.Document
	if err := c.do(req, &doc); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

// UploadFile is one file handed to Upload.
type UploadFile struct {
	Filename string
	Size     int64
	Reader   io.Reader
}

// UploadResult is the per-file acknowledgement, returned before processing
// begins.
type UploadResult struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	Status         string `json:"status"`
	FileSize       int64  `json:"file_size"`
	UploadProgress int    `json:"upload_progress"`
	TotalPages     int    `json:"total_pages"`
}

// ProgressFunc observes per-file upload progress in percent.
type ProgressFunc func(filename string, percent int)

// Upload sends one or more files as multipart form data. onProgress, if
// non-nil, is called as each file's bytes are consumed; reported values
// never decrease for a given file.
func (c *Client) Upload(ctx context.Context, files []UploadFile, onProgress ProgressFunc) ([]UploadResult, error) {
	if len(files) == 0 {
		return nil, &APIError{Status: http.StatusBadRequest, Message: "at least one file required"}
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile("files", f.Filename)
		if err != nil {
			return nil, err
		}
		r := f.Reader
		if onProgress != nil && f.Size > 0 {
			r = &progressReader{r: r, total: f.Size, name: f.Filename, report: onProgress}
		}
		if _, err := io.Copy(part, r); err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/upload", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var results []UploadResult
	if err := c.do(req, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Cancel stops analysis of a document. Server rejects it outside ai_queued
// or analyzing.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.post(ctx, id, "cancel")
}

// Reanalyze re-queues a failed or cancelled document under the same
// identifier.
func (c *Client) Reanalyze(ctx context.Context, id string) error {
	return c.post(ctx, id, "reanalyze")
}

// Archive hides a document from default listings without touching its
// processing status.
func (c *Client) Archive(ctx context.Context, id string) error {
	return c.post(ctx, id, "archive")
}

// Unarchive restores an archived document to default listings.
func (c *Client) Unarchive(ctx context.Context, id string) error {
	return c.post(ctx, id, "unarchive")
}

// Delete removes the document and its stored file.
func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/documents/%s", c.baseURL, id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// UpdateMetadata patches display name and/or custom metadata.
func (c *Client) UpdateMetadata(ctx context.Context, id, name string, metadata map[string]string) (domain.Document, error) {
	payload, err := json.Marshal(map[string]any{"name": name, "metadata": metadata})
	if err != nil {
		return domain.Document{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, fmt.Sprintf("%s/documents/%s", c.baseURL, id), bytes.NewReader(payload))
	if err != nil {
		return domain.Document{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	var doc domain.Document
	if err := c.do(req, &doc); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}

func (c *Client) post(ctx context.Context, id, action string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/documents/%s/%s", c.baseURL, id, action), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, out any) error {
	if strings.TrimSpace(c.token) != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	name   string
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		percent := int(p.read * 100 / p.total)
		if percent > 100 {
			percent = 100
		}
		if percent > p.last {
			p.last = percent
			p.report(p.name, percent)
		}
	}
	return n, err
}
