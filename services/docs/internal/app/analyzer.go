package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"docucr/pkg/domain"
	"docucr/pkg/queue"
)

// Analyze is the queue handler for one analysis job. Infrastructure errors
// (store, object storage) are returned so the queue retries; unreadable
// content marks the document ai_failed and consumes the job.
func (a *App) Analyze(ctx context.Context, job queue.JobStatus) error {
	doc, ok, err := a.store.GetDocument(job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		slog.Warn("analysis job for unknown document", "documentId", job.DocumentID, "jobId", job.ID)
		return nil
	}
	if doc.Status != domain.StatusAIQueued {
		// cancelled, re-enqueued, or already analyzed; drop the job
		slog.Info("skipping analysis job", "documentId", doc.ID, "status", doc.Status)
		return nil
	}

	doc, err = a.transition(ctx, doc, domain.StatusAnalyzing, "")
	if err != nil {
		return fmt.Errorf("mark analyzing: %w", err)
	}

	rc, err := a.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return fmt.Errorf("fetch file: %w", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	text, pages, err := extractContent(doc.OriginalFilename, data)
	if err != nil {
		if _, terr := a.transition(ctx, doc, domain.StatusAIFailed, err.Error()); terr != nil {
			return fmt.Errorf("mark ai_failed: %w", terr)
		}
		return nil
	}
	if pages > 0 && doc.TotalPages == 0 {
		if err := a.store.SetTotalPages(doc.ID, pages); err != nil {
			return fmt.Errorf("record pages: %w", err)
		}
	}
	slog.Info("analysis completed", "documentId", doc.ID, "chars", len(text), "pages", pages)
	if _, err := a.transition(ctx, doc, domain.StatusCompleted, ""); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// extractContent pulls plain text out of a document. PDFs also report their
// page count.
func extractContent(filename string, data []byte) (string, int, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return extractPDF(data)
	case ".html", ".htm", ".xhtml":
		text, err := extractHTML(data)
		return text, 0, err
	default:
		text := normalizeText(string(data))
		if text == "" {
			return "", 0, errors.New("no text content")
		}
		return text, 0, nil
	}
}

func extractPDF(data []byte) (string, int, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	totalPages := reader.NumPage()
	var b strings.Builder
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// skip unreadable pages rather than failing the document
			continue
		}
		b.WriteString(text)
		b.WriteString(" ")
	}
	text := normalizeText(b.String())
	if text == "" {
		return "", totalPages, errors.New("no text extracted from pdf")
	}
	return text, totalPages, nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "br" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(doc)
	text := normalizeText(buf.String())
	if text == "" {
		return "", errors.New("no text extracted from html")
	}
	return text, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}
