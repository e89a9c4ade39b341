package manuscript

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/greenlight/internal/chunk"
	"github.com/joelkehle/greenlight/internal/llm"
)

func newTestPipeline(fake llm.Completer, maxTokens int, opts Options) *Pipeline {
	return NewPipeline(fake, chunk.New(runeTokenizer{}, maxTokens), opts)
}

func compiledAnalyses(t *testing.T, prompt string) []string {
	t.Helper()
	_, dump, ok := strings.Cut(prompt, "Section analyses:\n")
	require.True(t, ok)
	var out []string
	require.NoError(t, json.Unmarshal([]byte(dump), &out))
	return out
}

func TestRunEndToEndCallCount(t *testing.T) {
	analyzed := 0
	fake := &scriptedLLM{fn: func(_ context.Context, _ int, req llm.ChatRequest) (string, error) {
		if isCompileRequest(req) {
			return "Overall Score: 7/10", nil
		}
		out := fmt.Sprintf("analysis-%d", analyzed)
		analyzed++
		return out, nil
	}}
	p := newTestPipeline(fake, 3000, testOptions())

	rep, err := p.Run(context.Background(), strings.Repeat("a", 9000), TimeRangeAll)
	require.NoError(t, err)
	assert.Equal(t, "Overall Score: 7/10", rep.Text)
	assert.Equal(t, 3, rep.Chunks)
	assert.Equal(t, 4, fake.count())
	assert.Equal(t, 4, rep.Metadata.UpstreamCalls)
	assert.Equal(t, []int{1, 1, 1}, rep.Metadata.ChunkAttempts)
	assert.Equal(t, 9000, rep.Metadata.Tokens)
	assert.Zero(t, rep.Metadata.ValidatorCalls)

	for i := 0; i < 3; i++ {
		assert.Contains(t, fake.userPrompt(i), fmt.Sprintf("part %d of 3", i+1))
	}
	assert.Equal(t, []string{"analysis-0", "analysis-1", "analysis-2"}, compiledAnalyses(t, fake.userPrompt(3)))
	assert.Equal(t, []string{"analysis-0", "analysis-1", "analysis-2"}, rep.Analyses)
}

func TestRunRecentCountsValidatorCalls(t *testing.T) {
	fake := &scriptedLLM{fn: func(_ context.Context, _ int, req llm.ChatRequest) (string, error) {
		switch {
		case isCompileRequest(req):
			return "final", nil
		case isValidatorRequest(req):
			return "REPLACE: Circe by Madeline Miller (2018)\nWITH: Lore by Alexandra Bracken (2021)", nil
		default:
			return "Thematic Comparables\n- Circe by Madeline Miller (2018) - myth", nil
		}
	}}
	p := newTestPipeline(fake, 10, testOptions())

	rep, err := p.Run(context.Background(), strings.Repeat("b", 15), TimeRangeRecent)
	require.NoError(t, err)
	assert.Equal(t, 5, fake.count())
	assert.Equal(t, 5, rep.Metadata.UpstreamCalls)
	assert.Equal(t, 2, rep.Metadata.ValidatorCalls)
	assert.Equal(t, 2, rep.Metadata.PatchesApplied)
	assert.Equal(t, 2020, rep.Metadata.CutoffYear)
	for _, a := range rep.Analyses {
		assert.Contains(t, a, "Lore by Alexandra Bracken (2021)")
	}
	assert.Contains(t, fake.userPrompt(4), "published 2020 or later")
	assert.Equal(t, []string{"chunk", StageAnalyze, StageValidate, StageCompile}, rep.Metadata.StagesExecuted)
}

func TestRunRejectsBlankTextBeforeAnyCall(t *testing.T) {
	fake := &scriptedLLM{fn: func(context.Context, int, llm.ChatRequest) (string, error) {
		t.Fatal("no request expected")
		return "", nil
	}}
	p := newTestPipeline(fake, 3000, testOptions())

	for _, text := range []string{"", "   ", "\n\t \n"} {
		_, err := p.Run(context.Background(), text, TimeRangeAll)
		var ae *AnalysisError
		require.ErrorAs(t, err, &ae)
		assert.Equal(t, KindInvalidInput, ae.Kind)
		assert.Equal(t, StageInput, ae.Stage)
		assert.Equal(t, "No text provided", ae.UserMessage())
	}
	assert.Zero(t, fake.count())
}

func TestRunEnforcesWordLimit(t *testing.T) {
	fake := &scriptedLLM{fn: func(context.Context, int, llm.ChatRequest) (string, error) { return "x", nil }}
	opts := testOptions()
	opts.MaxWords = 5
	_, err := newTestPipeline(fake, 3000, opts).Run(context.Background(), "one two three four five six", TimeRangeAll)
	assert.ErrorIs(t, err, ErrTooManyWords)
	assert.Zero(t, fake.count())
}

func TestRunAbortsOnFirstChunkFailure(t *testing.T) {
	fake := &scriptedLLM{fn: func(_ context.Context, n int, _ llm.ChatRequest) (string, error) {
		if n == 1 {
			return "", &llm.UpstreamError{Status: 429, Message: "rate limited"}
		}
		return "fine", nil
	}}
	rep, err := newTestPipeline(fake, 4, testOptions()).Run(context.Background(), "abcdefghijkl", TimeRangeAll)

	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StageAnalyze, ae.Stage)
	assert.Equal(t, 1, ae.Chunk)
	assert.Equal(t, 2, fake.count())
	assert.Empty(t, rep.Text)
	assert.Equal(t, StageAnalyze, StageNameFromError(err))
}

func TestRunCompileFailureIsSurfaced(t *testing.T) {
	fake := &scriptedLLM{fn: func(_ context.Context, _ int, req llm.ChatRequest) (string, error) {
		if isCompileRequest(req) {
			return "", llm.ErrMalformedResponse
		}
		return "fine", nil
	}}
	_, err := newTestPipeline(fake, 3000, testOptions()).Run(context.Background(), "short text", TimeRangeAll)
	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StageCompile, ae.Stage)
	assert.Equal(t, KindMalformed, ae.Kind)
	assert.Equal(t, 2, fake.count())
}

func TestRunBoundsValidateAndCompileCalls(t *testing.T) {
	deadlines := map[string]bool{}
	var prompts []string
	fake := &scriptedLLM{fn: func(ctx context.Context, _ int, req llm.ChatRequest) (string, error) {
		_, ok := ctx.Deadline()
		switch {
		case isValidatorRequest(req):
			deadlines[StageValidate] = ok
		case isCompileRequest(req):
			deadlines[StageCompile] = ok
			prompts = append(prompts, req.Messages[len(req.Messages)-1].Content)
		default:
			deadlines[StageAnalyze] = ok
			return "- Circe by Madeline Miller (2018) - myth", nil
		}
		<-ctx.Done()
		return "", ctx.Err()
	}}
	_, err := newTestPipeline(fake, 3000, testOptions()).Run(context.Background(), "short text", TimeRangeRecent)

	var ae *AnalysisError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, StageCompile, ae.Stage)
	assert.Equal(t, KindTimeout, ae.Kind)
	assert.Equal(t, map[string]bool{StageAnalyze: true, StageValidate: true, StageCompile: true}, deadlines)
	require.Len(t, prompts, 1)
	assert.Equal(t, []string{"- Circe by Madeline Miller (2018) - myth"}, compiledAnalyses(t, prompts[0]))
}

func TestRunWithProgressReportsStages(t *testing.T) {
	fake := &scriptedLLM{fn: func(context.Context, int, llm.ChatRequest) (string, error) { return "ok", nil }}
	var stages []string
	_, err := newTestPipeline(fake, 5, testOptions()).RunWithProgress(context.Background(), "0123456789", TimeRangeAll,
		func(stage, _ string) { stages = append(stages, stage) })
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk", StageAnalyze, StageAnalyze, StageCompile}, stages)
}

func TestCompileEmbedsOrderedJSON(t *testing.T) {
	fake := &scriptedLLM{fn: func(context.Context, int, llm.ChatRequest) (string, error) { return "merged", nil }}
	c := NewCompiler(fake, testOptions())

	out, err := c.Compile(context.Background(), []string{"first \"quoted\"", "second\nline"})
	require.NoError(t, err)
	assert.Equal(t, "merged", out)
	prompt := fake.userPrompt(0)
	assert.Equal(t, []string{"first \"quoted\"", "second\nline"}, compiledAnalyses(t, prompt))
	assert.Contains(t, prompt, "only once across all categories")
	assert.Contains(t, prompt, "own series")
}

func TestCompileRejectsEmptyInput(t *testing.T) {
	fake := &scriptedLLM{fn: func(context.Context, int, llm.ChatRequest) (string, error) { return "", nil }}
	_, err := NewCompiler(fake, testOptions()).Compile(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyAnalyses)
	assert.Zero(t, fake.count())
}
