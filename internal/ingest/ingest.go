package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
)

const MaxUploadBytes = 20 * 1024 * 1024

const (
	KindText = "text"
	KindPDF  = "pdf"
	KindDOCX = "docx"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var (
	ErrTooLarge    = errors.New("file too large")
	ErrUnsupported = errors.New("unsupported file type")
	ErrNoText      = errors.New("no extractable text found")
)

// Document is manuscript text ready for the pipeline.
type Document struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Method string `json:"method"`
	Text   string `json:"text"`
	Words  int    `json:"words"`
}

// FromText wraps typed or pasted text as-is.
func FromText(text string) Document {
	return Document{Kind: KindText, Method: "direct", Text: text, Words: len(strings.Fields(text))}
}

// Extract detects the type of an uploaded file and pulls its text out.
func Extract(ctx context.Context, filename string, data []byte) (Document, error) {
	if len(data) > MaxUploadBytes {
		return Document{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	if len(data) == 0 {
		return Document{}, ErrNoText
	}
	doc := Document{Name: filepath.Base(filename)}
	var (
		text string
		err  error
	)
	switch kind := detectKind(filename, data); kind {
	case KindPDF:
		doc.Kind = KindPDF
		text, doc.Method, err = ExtractPDF(ctx, data)
	case KindDOCX:
		doc.Kind, doc.Method = KindDOCX, "docx-xml"
		text, err = ExtractDOCX(data)
	case KindText:
		if !utf8.Valid(data) {
			return Document{}, fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupported)
		}
		doc.Kind, doc.Method = KindText, "direct"
		text = string(data)
	default:
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupported, kind)
	}
	if err != nil {
		return Document{}, err
	}
	doc.Text = normalizeWhitespace(text)
	if doc.Text == "" {
		return Document{}, ErrNoText
	}
	doc.Words = len(strings.Fields(doc.Text))
	return doc, nil
}

func detectKind(filename string, data []byte) string {
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case m.Is("application/pdf"):
			return KindPDF
		case m.Is(docxMIME):
			return KindDOCX
		case m.Is("text/plain"):
			return KindText
		}
	}
	// Some docx writers produce zips mimetype cannot tell from plain zips.
	if mt.Is("application/zip") && strings.EqualFold(filepath.Ext(filename), ".docx") {
		return KindDOCX
	}
	return mt.String()
}

func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, strings.Join(strings.Fields(line), " "))
	}
	return strings.Join(out, "\n")
}
