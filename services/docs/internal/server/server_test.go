package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"docucr/internal/authtoken"
	"docucr/pkg/domain"
	"docucr/pkg/store"
	"docucr/services/docs/internal/app"
)

type stubObjects struct {
	objects map[string][]byte
}

func (s *stubObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *stubObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *stubObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.local/" + key, nil
}

func (s *stubObjects) Delete(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

type stubQueue struct{}

func (stubQueue) Enqueue(context.Context, string) error { return nil }

type testServer struct {
	ts     *httptest.Server
	tokens *authtoken.Manager
	store  *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	core, err := app.New(app.Config{
		Store:   st,
		Objects: &stubObjects{objects: make(map[string][]byte)},
		Queue:   stubQueue{},
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	tokens, err := authtoken.New(authtoken.Options{Secret: "test-secret"})
	if err != nil {
		t.Fatalf("authtoken.New: %v", err)
	}
	srv, err := New(Config{App: core, Tokens: tokens})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, tokens: tokens, store: st}
}

func (s *testServer) request(t *testing.T, method, path, userID string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if userID != "" {
		token, err := s.tokens.Sign(userID)
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func uploadBody(t *testing.T, filenames map[string]string) (io.Reader, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for name, content := range filenames {
		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write([]byte(content)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	resp := s.request(t, http.MethodGet, "/documents", "", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestUploadAndList(t *testing.T) {
	s := newTestServer(t)
	body, contentType := uploadBody(t, map[string]string{"report.txt": "contents"})
	resp := s.request(t, http.MethodPost, "/documents/upload", "user-1", body, contentType)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d, want 201", resp.StatusCode)
	}
	var results []struct {
		ID       string `json:"id"`
		Filename string `json:"filename"`
		Status   string `json:"status"`
		FileSize int64  `json:"file_size"`
	}
	decodeBody(t, resp, &results)
	if len(results) != 1 || results[0].ID == "" || results[0].Status != "ai_queued" {
		t.Fatalf("unexpected results: %+v", results)
	}

	resp = s.request(t, http.MethodGet, "/documents", "user-1", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	var listing struct {
		Documents []domain.Document `json:"documents"`
		Total     int               `json:"total"`
	}
	decodeBody(t, resp, &listing)
	if listing.Total != 1 || len(listing.Documents) != 1 {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if listing.Documents[0].ID != results[0].ID {
		t.Fatalf("listed id = %q, want %q", listing.Documents[0].ID, results[0].ID)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	s := newTestServer(t)
	body, contentType := uploadBody(t, map[string]string{"a.txt": "a"})
	resp := s.request(t, http.MethodPost, "/documents/upload", "user-1", body, contentType)
	resp.Body.Close()

	resp = s.request(t, http.MethodGet, "/documents?status=completed", "user-1", nil, "")
	var listing struct {
		Documents []domain.Document `json:"documents"`
		Total     int               `json:"total"`
	}
	decodeBody(t, resp, &listing)
	if listing.Total != 0 {
		t.Fatalf("total = %d, want 0", listing.Total)
	}

	resp = s.request(t, http.MethodGet, "/documents?status=ai_queued", "user-1", nil, "")
	decodeBody(t, resp, &listing)
	if listing.Total != 1 {
		t.Fatalf("total = %d, want 1", listing.Total)
	}
}

func TestListRejectsBadTimestamps(t *testing.T) {
	s := newTestServer(t)
	resp := s.request(t, http.MethodGet, "/documents?from=yesterday", "user-1", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestOwnerIsolation(t *testing.T) {
	s := newTestServer(t)
	body, contentType := uploadBody(t, map[string]string{"a.txt": "a"})
	resp := s.request(t, http.MethodPost, "/documents/upload", "user-1", body, contentType)
	var results []struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &results)

	resp = s.request(t, http.MethodGet, "/documents/"+results[0].ID, "user-2", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestLifecycleActions(t *testing.T) {
	s := newTestServer(t)
	body, contentType := uploadBody(t, map[string]string{"a.txt": "a"})
	resp := s.request(t, http.MethodPost, "/documents/upload", "user-1", body, contentType)
	var results []struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &results)
	id := results[0].ID

	// archive works mid-processing: it only flips visibility
	resp = s.request(t, http.MethodPost, "/documents/"+id+"/archive", "user-1", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("archive status = %d, want 200", resp.StatusCode)
	}
	var archived domain.Document
	decodeBody(t, resp, &archived)
	if !archived.Archived || archived.Status != domain.StatusAIQueued {
		t.Fatalf("archived doc = %+v, want archived with retained status", archived)
	}

	// archived documents reject lifecycle actions
	resp = s.request(t, http.MethodPost, "/documents/"+id+"/cancel", "user-1", nil, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("cancel-while-archived status = %d, want 409", resp.StatusCode)
	}
	var errBody struct {
		Code string `json:"code"`
	}
	decodeBody(t, resp, &errBody)
	if errBody.Code != "DOC_INVALID_TRANSITION" {
		t.Fatalf("code = %q, want DOC_INVALID_TRANSITION", errBody.Code)
	}

	resp = s.request(t, http.MethodPost, "/documents/"+id+"/unarchive", "user-1", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unarchive status = %d, want 200", resp.StatusCode)
	}

	resp = s.request(t, http.MethodPost, "/documents/"+id+"/cancel", "user-1", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}
	var doc domain.Document
	decodeBody(t, resp, &doc)
	if doc.Status != domain.StatusCancelled {
		t.Fatalf("status = %q, want cancelled", doc.Status)
	}

	resp = s.request(t, http.MethodPost, "/documents/"+id+"/reanalyze", "user-1", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reanalyze status = %d, want 200", resp.StatusCode)
	}
	decodeBody(t, resp, &doc)
	if doc.Status != domain.StatusAIQueued {
		t.Fatalf("status = %q, want ai_queued", doc.Status)
	}
}

func TestUpdateMetadata(t *testing.T) {
	s := newTestServer(t)
	body, contentType := uploadBody(t, map[string]string{"a.txt": "a"})
	resp := s.request(t, http.MethodPost, "/documents/upload", "user-1", body, contentType)
	var results []struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &results)

	payload := bytes.NewReader([]byte(`{"name":"Renamed","metadata":{"project":"atlas"}}`))
	resp = s.request(t, http.MethodPatch, "/documents/"+results[0].ID, "user-1", payload, "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch status = %d, want 200", resp.StatusCode)
	}
	var doc domain.Document
	decodeBody(t, resp, &doc)
	if doc.Name != "Renamed" || doc.Metadata["project"] != "atlas" {
		t.Fatalf("unexpected document: %+v", doc)
	}
}

func TestDeleteDocument(t *testing.T) {
	s := newTestServer(t)
	body, contentType := uploadBody(t, map[string]string{"a.txt": "a"})
	resp := s.request(t, http.MethodPost, "/documents/upload", "user-1", body, contentType)
	var results []struct {
		ID string `json:"id"`
	}
	decodeBody(t, resp, &results)

	resp = s.request(t, http.MethodDelete, "/documents/"+results[0].ID, "user-1", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}

	resp = s.request(t, http.MethodGet, "/documents/"+results[0].ID, "user-1", nil, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get status = %d, want 404", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	resp := s.request(t, http.MethodPut, "/documents", "user-1", nil, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}
