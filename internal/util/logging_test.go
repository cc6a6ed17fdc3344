package util

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggerFromContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := ContextWithLogger(context.Background(), logger)
	if got := LoggerFromContext(ctx); got != logger {
		t.Fatal("expected the stored logger back from the context")
	}
}

func TestLoggerFromContextFallsBackToDefault(t *testing.T) {
	if got := LoggerFromContext(context.Background()); got != slog.Default() {
		t.Fatal("expected default logger for bare context")
	}
	if got := LoggerFromContext(nil); got != slog.Default() {
		t.Fatal("expected default logger for nil context")
	}
}

func TestWithRequestIDAttachesLoggerWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		LoggerFromContext(r.Context()).Info("document uploaded")
	}))
	// Attach a capture logger upstream of the request-id middleware.
	outer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithLogger(r.Context(), base)
		handler.ServeHTTP(w, r.WithContext(ctx))
	})

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", nil)
	req.Header.Set("X-Request-Id", "req-log-1")
	rec := httptest.NewRecorder()
	outer.ServeHTTP(rec, req)

	line := buf.String()
	if !strings.Contains(line, `"request_id":"req-log-1"`) {
		t.Fatalf("log line missing request_id attribute: %s", line)
	}
	if !strings.Contains(line, "document uploaded") {
		t.Fatalf("log line missing message: %s", line)
	}
}
