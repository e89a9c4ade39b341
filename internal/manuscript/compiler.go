package manuscript

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joelkehle/greenlight/internal/llm"
	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/metrics"
)

// Compiler merges per-chunk analyses into the final report with one request
// bounded by Options.CallTimeout. It does not retry.
type Compiler struct {
	llm     llm.Completer
	model   string
	policy  RecencyPolicy
	timeout time.Duration
	log     logger.Logger
	metrics *metrics.Metrics
}

func NewCompiler(c llm.Completer, opts Options) *Compiler {
	opts = opts.withDefaults()
	return &Compiler{
		llm:     c,
		model:   opts.Model,
		policy:  opts.Recency,
		timeout: opts.CallTimeout,
		log:     opts.Logger.With("stage", StageCompile),
		metrics: opts.Metrics,
	}
}

func (c *Compiler) Compile(ctx context.Context, analyses []string) (string, error) {
	return c.CompileFor(ctx, analyses, TimeRangeAll)
}

// CompileFor repeats the recency requirement in the merge prompt when tr is
// recent.
func (c *Compiler) CompileFor(ctx context.Context, analyses []string, tr TimeRange) (string, error) {
	if len(analyses) == 0 {
		return "", &AnalysisError{Stage: StageCompile, Chunk: -1, Kind: KindInvalidInput, Err: ErrEmptyAnalyses}
	}
	ctx, span := tracer.Start(ctx, "report.compile")
	defer span.End()
	span.SetAttributes(attribute.Int("analyses", len(analyses)))

	dump, err := json.MarshalIndent(analyses, "", "  ")
	if err != nil {
		return "", &AnalysisError{Stage: StageCompile, Chunk: -1, Kind: KindUnexpected, Err: fmt.Errorf("encode analyses: %w", err)}
	}
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	out, err := c.llm.Complete(callCtx, llm.ChatRequest{
		Model: c.model,
		Messages: []llm.Message{
			llm.System(agentSystemPrompt),
			llm.User(compilePrompt(string(dump), tr == TimeRangeRecent, c.policy.CutoffYear())),
		},
		Temperature:      0.7,
		MaxTokens:        2500,
		PresencePenalty:  llm.Float(0.1),
		FrequencyPenalty: llm.Float(0.1),
	})
	if err != nil {
		kind := kindOf(err)
		c.metrics.LLMRequest(StageCompile, string(kind))
		ae := &AnalysisError{Stage: StageCompile, Chunk: -1, Kind: kind, Attempts: 1, Err: err}
		span.RecordError(ae)
		span.SetStatus(codes.Error, string(kind))
		c.log.Error("compile failed", "kind", kind, "err", err)
		return "", ae
	}
	c.metrics.LLMRequest(StageCompile, "ok")
	return out, nil
}
