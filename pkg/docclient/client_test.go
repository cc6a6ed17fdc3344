package docclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docucr/pkg/domain"
)

func TestListDocumentsBuildsFilterQuery(t *testing.T) {
	var gotQuery map[string][]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"documents": []domain.Document{{ID: "1", Status: domain.StatusCompleted}},
			"total":     7,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	docs, total, err := c.ListDocuments(context.Background(), domain.ListFilter{
		Status:          domain.StatusCompleted,
		Search:          "invoice",
		CreatedFrom:     from,
		IncludeArchived: true,
		Metadata:        map[string]string{"project": "alpha"},
		Limit:           25,
		Offset:          50,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 7 || len(docs) != 1 {
		t.Fatalf("total=%d docs=%d", total, len(docs))
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth = %q", gotAuth)
	}
	expect := map[string]string{
		"status":       "completed",
		"search":       "invoice",
		"from":         "2025-03-01T00:00:00Z",
		"archived":     "true",
		"meta.project": "alpha",
		"limit":        "25",
		"offset":       "50",
	}
	for k, v := range expect {
		if got := gotQuery[k]; len(got) != 1 || got[0] != v {
			t.Errorf("query %q = %v, want %q", k, got, v)
		}
	}
}

func TestUploadMultipleFilesWithProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		files := r.MultipartForm.File["files"]
		out := make([]UploadResult, 0, len(files))
		for i, fh := range files {
			out = append(out, UploadResult{
				ID:       "srv-" + fh.Filename,
				Filename: fh.Filename,
				Status:   "QUEUED",
				FileSize: fh.Size,
			})
			_ = i
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	progress := make(map[string][]int)
	c := NewClient(srv.URL, "tok")
	payload := strings.Repeat("x", 1000)
	results, err := c.Upload(context.Background(), []UploadFile{
		{Filename: "a.txt", Size: int64(len(payload)), Reader: strings.NewReader(payload)},
		{Filename: "b.txt", Size: int64(len(payload)), Reader: strings.NewReader(payload)},
	}, func(name string, percent int) {
		progress[name] = append(progress[name], percent)
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(results) != 2 || results[0].ID != "srv-a.txt" {
		t.Fatalf("results = %+v", results)
	}
	for _, name := range []string{"a.txt", "b.txt"} {
		values := progress[name]
		if len(values) == 0 || values[len(values)-1] != 100 {
			t.Fatalf("progress for %s = %v", name, values)
		}
		for i := 1; i < len(values); i++ {
			if values[i] <= values[i-1] {
				t.Fatalf("progress for %s not increasing: %v", name, values)
			}
		}
	}
}

func TestUploadRequiresFiles(t *testing.T) {
	c := NewClient("http://unused", "tok")
	_, err := c.Upload(context.Background(), nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("err = %v", err)
	}
}

func TestTransitionEndpoints(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	ctx := context.Background()
	if err := c.Cancel(ctx, "42"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := c.Reanalyze(ctx, "42"); err != nil {
		t.Fatalf("reanalyze: %v", err)
	}
	if err := c.Archive(ctx, "42"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := c.Unarchive(ctx, "42"); err != nil {
		t.Fatalf("unarchive: %v", err)
	}
	if err := c.Delete(ctx, "42"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	want := []string{
		"POST /documents/42/cancel",
		"POST /documents/42/reanalyze",
		"POST /documents/42/archive",
		"POST /documents/42/unarchive",
		"DELETE /documents/42",
	}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestErrorResponsesBecomeAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid transition"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	err := c.Cancel(context.Background(), "42")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Message != "invalid transition" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}
