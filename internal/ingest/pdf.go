package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// ExtractPDF returns the text of a PDF and the method that produced it. It
// tries the pure-Go reader first, then pdftotext if installed, then printable
// byte runs.
func ExtractPDF(ctx context.Context, data []byte) (string, string, error) {
	if text, err := readPDFPages(data); err == nil && strings.TrimSpace(text) != "" {
		return text, "pdf-reader", nil
	}
	if text, err := runPdfToText(ctx, data); err == nil && strings.TrimSpace(text) != "" {
		return text, "pdftotext", nil
	}
	if text := extractPrintableText(data); text != "" {
		return text, "byte-fallback", nil
	}
	return "", "", ErrNoText
}

// readPDFPages concatenates page text with newlines, skipping pages that
// are empty or fail to decode.
func readPDFPages(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, pageErr := p.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "", ErrNoText
	}
	return b.String(), nil
}

func runPdfToText(ctx context.Context, data []byte) (string, error) {
	bin, err := exec.LookPath("pdftotext")
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", "greenlight-*.pdf")
	if err != nil {
		return "", err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	out, err := exec.CommandContext(ctx, bin, "-layout", f.Name(), "-").Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func extractPrintableText(blob []byte) string {
	var runs []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		if len(s) >= 24 && !looksLikePDFSyntax(s) {
			runs = append(runs, s)
		}
		b.Reset()
	}
	for _, c := range blob {
		r := rune(c)
		if unicode.IsPrint(r) || r == '\n' || r == '\t' || r == '\r' {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return strings.TrimSpace(strings.Join(runs, "\n"))
}

func looksLikePDFSyntax(s string) bool {
	return strings.HasPrefix(s, "%PDF") || strings.Contains(s, " obj") || strings.Contains(s, "endstream") || strings.Contains(s, "/Type")
}
