package manuscript

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/joelkehle/greenlight/internal/chunk"
	"github.com/joelkehle/greenlight/internal/llm"
	"github.com/joelkehle/greenlight/internal/logger"
)

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

// scriptedLLM records every request and answers with fn.
type scriptedLLM struct {
	mu    sync.Mutex
	calls []llm.ChatRequest
	fn    func(ctx context.Context, n int, req llm.ChatRequest) (string, error)
}

func (s *scriptedLLM) Complete(ctx context.Context, req llm.ChatRequest) (string, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return s.fn(ctx, n, req)
}

func (s *scriptedLLM) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedLLM) userPrompt(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.calls[n].Messages {
		if m.Role == llm.RoleUser {
			return m.Content
		}
	}
	return ""
}

func isValidatorRequest(req llm.ChatRequest) bool {
	return len(req.Messages) > 0 && req.Messages[0].Content == validatorSystemPrompt
}

func isCompileRequest(req llm.ChatRequest) bool {
	for _, m := range req.Messages {
		if strings.Contains(m.Content, "Section analyses:") {
			return true
		}
	}
	return false
}

func testOptions() Options {
	return Options{
		AttemptTimeout: 20 * time.Millisecond,
		CallTimeout:    20 * time.Millisecond,
		Backoff:        time.Millisecond,
		Recency:        RecencyPolicy{ReferenceYear: 2025},
		Logger:         logger.Discard(),
	}
}

func singleChunk(text string) chunk.Chunk {
	return chunk.Chunk{Index: 0, StartToken: 0, EndToken: len([]rune(text)), Text: text}
}
