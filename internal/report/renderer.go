package report

import (
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"html"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed style.css
var styleCSS string

// Document is a compiled analysis plus the details printed in its header.
type Document struct {
	SubmissionID string
	TimeRange    string
	CutoffYear   int
	Chunks       int
	CompletedAt  time.Time
	Text         string
}

type Renderer interface {
	Render(ctx context.Context, doc Document) ([]byte, error)
}

// ChromiumPDFRenderer prints the report HTML with headless Chromium.
type ChromiumPDFRenderer struct {
	chromePath string
	timeout    time.Duration
}

func NewChromiumPDFRenderer(chromePath string) *ChromiumPDFRenderer {
	if chromePath == "" {
		chromePath = detectChromePath()
	}
	return &ChromiumPDFRenderer{chromePath: chromePath, timeout: 30 * time.Second}
}

func (r *ChromiumPDFRenderer) Render(ctx context.Context, doc Document) ([]byte, error) {
	htmlDoc, err := BuildHTML(doc)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	}
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, append(chromedp.DefaultExecAllocatorOptions[:], opts...)...)
	defer allocCancel()

	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			footer := `<div style="width:100%;text-align:center;font-size:9px;color:#666;">` +
				`Page <span class="pageNumber"></span> of <span class="totalPages"></span></div>`
			out, _, err := page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(true).
				WithHeaderTemplate(`<div></div>`).
				WithFooterTemplate(footer).
				WithPaperWidth(8.5).
				WithPaperHeight(11).
				WithMarginTop(0.5).
				WithMarginBottom(0.75).
				WithMarginLeft(0.6).
				WithMarginRight(0.6).
				Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	); err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

// BuildHTML renders the standalone page that gets printed.
func BuildHTML(doc Document) (string, error) {
	var content strings.Builder
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	if err := md.Convert([]byte(ToMarkdown(doc.Text)), &content); err != nil {
		return "", fmt.Errorf("markdown convert: %w", err)
	}
	contentHTML := applyPrintLayoutHooks(content.String())

	return "<!doctype html><html><head><meta charset='utf-8'><title>Manuscript Market Analysis</title>" +
		"<style>" + styleCSS + "</style></head><body>" +
		"<div class='pdf-wrap'><section class='report-viewer'><div class='report-header'>" +
		"<h1>Manuscript Market Analysis</h1>" +
		"<div class='report-meta'>" + buildMetaHTML(doc) + "</div>" +
		"<div class='report-badges'>" + buildBadgeHTML(doc) + "</div>" +
		"</div><div class='report-html'>" + contentHTML + "</div></section></div>" +
		"</body></html>", nil
}

var (
	listLine    = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s+`)
	scoreLine   = regexp.MustCompile(`(?i)overall\s+score\s*:?\s*\**\s*(\d{1,2}(?:\.\d)?)\s*/\s*10`)
	sectionHook = regexp.MustCompile(`(?i)<h2([^>]*)>\s*(Similar Published Books)\s*</h2>`)
)

// ToMarkdown promotes the report's bare section titles to headings. Text that
// already carries markdown headings is returned unchanged.
func ToMarkdown(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "#") {
			return text
		}
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		t := strings.TrimSpace(l)
		switch {
		case t == "":
			out = append(out, "")
		case listLine.MatchString(l):
			out = append(out, l)
		case isSectionTitle(t):
			out = append(out, "", "## "+strings.Trim(t, "*: "), "")
		default:
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func isSectionTitle(t string) bool {
	if len(t) > 60 || strings.HasSuffix(t, ".") || strings.Contains(t, ". ") {
		return false
	}
	return !strings.Contains(strings.Trim(t, "*: "), ":")
}

func applyPrintLayoutHooks(contentHTML string) string {
	return sectionHook.ReplaceAllString(contentHTML, `<h2$1 data-comp-section="true">$2</h2>`)
}

// Score pulls N out of an "Overall Score: N/10" line.
func Score(text string) (float64, bool) {
	m := scoreLine.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 10 {
		return 0, false
	}
	return v, true
}

func buildMetaHTML(doc Document) string {
	var out strings.Builder
	if doc.SubmissionID != "" {
		out.WriteString("<div><strong>Reference:</strong> " + html.EscapeString(doc.SubmissionID) + "</div>")
	}
	if doc.Chunks > 0 {
		fmt.Fprintf(&out, "<div><strong>Sections analyzed:</strong> %d</div>", doc.Chunks)
	}
	if !doc.CompletedAt.IsZero() {
		out.WriteString("<div><strong>Date:</strong> " + html.EscapeString(doc.CompletedAt.In(time.Local).Format("January 2, 2006 at 3:04 PM MST")) + "</div>")
	}
	return out.String()
}

func buildBadgeHTML(doc Document) string {
	var out strings.Builder
	if score, ok := Score(doc.Text); ok {
		out.WriteString("<span class='report-badge'>Commercial Score: " + strconv.FormatFloat(score, 'f', -1, 64) + "/10</span>")
	}
	if doc.TimeRange == "recent" && doc.CutoffYear > 0 {
		fmt.Fprintf(&out, "<span class='report-badge'>Comps published %d or later</span>", doc.CutoffYear)
	}
	return out.String()
}

func detectChromePath() string {
	candidates := []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
