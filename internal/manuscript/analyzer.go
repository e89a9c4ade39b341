package manuscript

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joelkehle/greenlight/internal/chunk"
	"github.com/joelkehle/greenlight/internal/llm"
	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/metrics"
)

// ChunkAnalyzer produces the comparable-titles analysis for one chunk.
type ChunkAnalyzer struct {
	llm       llm.Completer
	validator *RecencyValidator
	model     string
	attempts  int
	timeout   time.Duration
	backoff   time.Duration
	policy    RecencyPolicy
	log       logger.Logger
	metrics   *metrics.Metrics
}

// NewChunkAnalyzer builds an analyzer. A nil validator disables recency
// validation.
func NewChunkAnalyzer(c llm.Completer, validator *RecencyValidator, opts Options) *ChunkAnalyzer {
	opts = opts.withDefaults()
	return &ChunkAnalyzer{
		llm:       c,
		validator: validator,
		model:     opts.Model,
		attempts:  opts.Attempts,
		timeout:   opts.AttemptTimeout,
		backoff:   opts.Backoff,
		policy:    opts.Recency,
		log:       opts.Logger.With("stage", StageAnalyze),
		metrics:   opts.Metrics,
	}
}

// Analyze returns the analysis text for a single chunk of a single-chunk text.
func (a *ChunkAnalyzer) Analyze(ctx context.Context, ch chunk.Chunk, tr TimeRange) (string, error) {
	res, err := a.AnalyzeChunk(ctx, ch, 1, tr)
	return res.Text, err
}

// AnalyzeChunk sends the chunk, retrying timeouts and transport failures up
// to the attempt budget. Each attempt gets its own deadline. Upstream
// rejections fail at once.
func (a *ChunkAnalyzer) AnalyzeChunk(ctx context.Context, ch chunk.Chunk, total int, tr TimeRange) (ChunkResult, error) {
	ctx, span := tracer.Start(ctx, "chunk.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.Int("chunk.index", ch.Index),
		attribute.Int("chunk.tokens", ch.TokenCount()),
		attribute.String("time_range", string(tr)),
	)

	res := ChunkResult{Index: ch.Index}
	if total < ch.Index+1 {
		total = ch.Index + 1
	}
	req := llm.ChatRequest{
		Model: a.model,
		Messages: []llm.Message{
			llm.System(agentSystemPrompt),
			llm.User(chunkPrompt(ch.Text, ch.Index, total, tr == TimeRangeRecent, a.policy.CutoffYear())),
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	}

	var lastErr error
	backoff := retry.WithMaxRetries(uint64(a.attempts-1), retry.NewExponential(a.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res.Attempts++
		actx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		out, err := a.llm.Complete(actx, req)
		if err == nil {
			res.Text = out
			a.metrics.LLMRequest(StageAnalyze, "ok")
			return nil
		}
		lastErr = err
		kind := kindOf(err)
		a.metrics.LLMRequest(StageAnalyze, string(kind))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if llm.Retryable(err) && res.Attempts < a.attempts {
			a.log.Warn("chunk attempt failed, retrying", "chunk", ch.Index, "attempt", res.Attempts, "kind", kind, "err", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if lastErr == nil || errors.Is(err, context.Canceled) {
			lastErr = err
		}
		ae := &AnalysisError{Stage: StageAnalyze, Chunk: ch.Index, Kind: kindOf(lastErr), Attempts: res.Attempts, Err: lastErr}
		span.RecordError(ae)
		span.SetStatus(codes.Error, string(ae.Kind))
		a.log.Error("chunk analysis failed", "chunk", ch.Index, "attempts", res.Attempts, "kind", ae.Kind, "err", lastErr)
		return res, ae
	}
	span.SetAttributes(attribute.Int("attempts", res.Attempts))
	a.metrics.ChunkAnalyzed()

	if a.validator != nil && tr == TimeRangeRecent {
		text, called, applied := a.validator.validate(ctx, res.Text, tr)
		res.Text = text
		if called {
			res.ValidatorCalls++
		}
		res.PatchesApplied = applied
	}
	return res, nil
}
