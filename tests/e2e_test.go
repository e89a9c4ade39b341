//go:build integration

package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/greenlight/internal/chunk"
	"github.com/joelkehle/greenlight/internal/llm"
	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/manuscript"
	"github.com/joelkehle/greenlight/internal/metrics"
	"github.com/joelkehle/greenlight/internal/server"
	"github.com/joelkehle/greenlight/internal/store"
)

// minimalPDF returns a one-page PDF with a short manuscript excerpt.
func minimalPDF() []byte {
	content := `%PDF-1.0
1 0 obj
<< /Type /Catalog /Pages 2 0 R >>
endobj
2 0 obj
<< /Type /Pages /Kids [3 0 R] /Count 1 >>
endobj
3 0 obj
<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792]
   /Contents 4 0 R /Resources << /Font << /F1 5 0 R >> >> >>
endobj
4 0 obj
<< /Length 210 >>
stream
BT
/F1 12 Tf
72 720 Td
(Chapter One. The lighthouse keeper found the letter in the tide pool.) Tj
0 -20 Td
(It was addressed to her mother, who had been dead for eleven years.) Tj
ET
endstream
endobj
5 0 obj
<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>
endobj
xref
0 6
0000000000 65535 f
0000000009 00000 n
0000000058 00000 n
0000000115 00000 n
0000000266 00000 n
0000000528 00000 n
trailer
<< /Size 6 /Root 1 0 R >>
startxref
605
%%EOF`
	return []byte(content)
}

type runeTokenizer struct{}

func (runeTokenizer) Encode(text string) []int {
	out := make([]int, 0, len(text))
	for _, r := range text {
		out = append(out, int(r))
	}
	return out
}

func (runeTokenizer) Decode(tokens []int) string {
	rs := make([]rune, len(tokens))
	for i, t := range tokens {
		rs[i] = rune(t)
	}
	return string(rs)
}

const chunkAnalysis = `Primary Comparable Titles
1. The Night Circus (2011) - Erin Morgenstern. Lush atmosphere.
2. Fourth Wing (2023) - Rebecca Yarros. Romantic stakes.`

const compiledReport = `Commercial Viability Score (1-10)
- Overall Score: 7/10

Similar Published Books
- Babel by R. F. Kuang (2022)`

// fakeCompletions mimics an OpenAI-compatible endpoint and answers by prompt
// role: chunk analysis, recency check or compilation.
type fakeCompletions struct {
	mu    sync.Mutex
	kinds []string
}

func (f *fakeCompletions) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != llm.ChatCompletionsPath || r.Header.Get("Authorization") != "Bearer sk-test" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	var req llm.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) < 2 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	system, prompt := req.Messages[0].Content, req.Messages[len(req.Messages)-1].Content

	kind, answer := "analyze", chunkAnalysis
	switch {
	case strings.Contains(system, "publishing researcher"):
		kind, answer = "validate", "REPLACE: The Night Circus (2011)\nWITH: Babel (2022)"
	case strings.Contains(prompt, "Section analyses:"):
		kind, answer = "compile", compiledReport
	}
	f.mu.Lock()
	f.kinds = append(f.kinds, kind)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": answer}}},
	})
}

func (f *fakeCompletions) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.kinds...)
}

func startStack(t *testing.T) (*httptest.Server, *fakeCompletions) {
	t.Helper()
	fake := &fakeCompletions{}
	upstream := httptest.NewServer(fake)
	t.Cleanup(upstream.Close)

	log := logger.Discard()
	session, err := llm.NewClient(llm.ClientConfig{
		BaseURL:       upstream.URL,
		APIKey:        "sk-test",
		BackoffFactor: time.Millisecond,
		Logger:        log,
	})
	require.NoError(t, err)

	m := metrics.New()
	pipeline := manuscript.NewPipeline(session, chunk.New(runeTokenizer{}, 200), manuscript.Options{
		AttemptTimeout: 5 * time.Second,
		Backoff:        time.Millisecond,
		Recency:        manuscript.RecencyPolicy{ReferenceYear: 2026},
		Logger:         log,
		Metrics:        m,
	})

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "e2e.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	handler, err := server.New(server.Config{
		Analyzer:   pipeline,
		Store:      st,
		Metrics:    m,
		Logger:     log,
		AdminToken: "admin",
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, fake
}

func postJSON(t *testing.T, url string, body any) (int, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestE2ERecentAnalysis(t *testing.T) {
	srv, fake := startStack(t)

	// 450 runes at 200 per chunk gives three chunks.
	text := strings.Repeat("The keeper walks the shore. ", 16) + strings.Repeat("x", 2)
	require.Equal(t, 450, len([]rune(text)))

	status, resp := postJSON(t, srv.URL+"/analyze", map[string]any{"text": text, "time_range": "recent"})
	require.Equal(t, http.StatusOK, status, resp)
	assert.Equal(t, compiledReport, resp["result"])
	assert.EqualValues(t, 3, resp["chunks"])

	meta := resp["metadata"].(map[string]any)
	assert.EqualValues(t, 2021, meta["cutoff_year"])
	assert.EqualValues(t, 7, meta["upstream_calls"])
	assert.EqualValues(t, 3, meta["validator_calls"])
	assert.EqualValues(t, 3, meta["patches_applied"])
	assert.Equal(t, []any{"chunk", "analyze", "validate", "compile"}, meta["stages_executed"])
	assert.Equal(t, []string{"analyze", "validate", "analyze", "validate", "analyze", "validate", "compile"}, fake.calls())

	id := resp["submission_id"].(string)
	got, err := http.Get(srv.URL + "/submissions/" + id)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
	var sub struct {
		Submission struct {
			Status string `json:"status"`
			Report string `json:"report"`
		} `json:"submission"`
	}
	require.NoError(t, json.NewDecoder(got.Body).Decode(&sub))
	assert.Equal(t, "completed", sub.Submission.Status)
	assert.Equal(t, compiledReport, sub.Submission.Report)
}

func TestE2EUploadSubscribeAndExport(t *testing.T) {
	srv, fake := startStack(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "manuscript.pdf")
	require.NoError(t, err)
	_, err = part.Write(minimalPDF())
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(srv.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	var upload struct {
		Result       string `json:"result"`
		SubmissionID string `json:"submission_id"`
		File         struct {
			Kind  string `json:"kind"`
			Words int    `json:"words"`
		} `json:"file"`
	}
	require.NoError(t, json.Unmarshal(raw, &upload))
	assert.Equal(t, "pdf", upload.File.Kind)
	assert.Positive(t, upload.File.Words)
	assert.Equal(t, compiledReport, upload.Result)
	assert.NotContains(t, fake.calls(), "validate")

	status, sub := postJSON(t, srv.URL+"/subscribe", map[string]any{"email": "writer@example.com", "submission_id": upload.SubmissionID})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, sub["success"])

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/admin/signups.csv", nil)
	req.Header.Set("X-Admin-Token", "admin")
	csvResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer csvResp.Body.Close()
	csvBody, _ := io.ReadAll(csvResp.Body)
	require.Equal(t, http.StatusOK, csvResp.StatusCode)
	assert.Contains(t, string(csvBody), "writer@example.com,"+upload.SubmissionID+",")
}
