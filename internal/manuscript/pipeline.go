package manuscript

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/joelkehle/greenlight/internal/chunk"
	"github.com/joelkehle/greenlight/internal/llm"
	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/metrics"
)

type StageProgressFn func(stage, message string)

// Pipeline runs chunk, analyze and compile for one manuscript. Chunks are
// analyzed one at a time in order.
type Pipeline struct {
	chunker  *chunk.Chunker
	analyzer *ChunkAnalyzer
	compiler *Compiler
	maxWords int
	policy   RecencyPolicy
	now      func() time.Time
	log      logger.Logger
	metrics  *metrics.Metrics
}

// NewPipeline wires all stages to one completion session.
func NewPipeline(session llm.Completer, chunker *chunk.Chunker, opts Options) *Pipeline {
	validator := NewRecencyValidator(session, opts)
	return NewPipelineWith(chunker, NewChunkAnalyzer(session, validator, opts), NewCompiler(session, opts), opts)
}

func NewPipelineWith(chunker *chunk.Chunker, analyzer *ChunkAnalyzer, compiler *Compiler, opts Options) *Pipeline {
	opts = opts.withDefaults()
	now := opts.Recency.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		chunker:  chunker,
		analyzer: analyzer,
		compiler: compiler,
		maxWords: opts.MaxWords,
		policy:   opts.Recency,
		now:      now,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
}

func (p *Pipeline) Run(ctx context.Context, text string, tr TimeRange) (Report, error) {
	return p.runWithProgress(ctx, text, tr, nil)
}

func (p *Pipeline) RunWithProgress(ctx context.Context, text string, tr TimeRange, progress StageProgressFn) (Report, error) {
	return p.runWithProgress(ctx, text, tr, progress)
}

func (p *Pipeline) runWithProgress(ctx context.Context, text string, tr TimeRange, progress StageProgressFn) (Report, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(attribute.String("time_range", string(tr))))
	defer span.End()

	rep := Report{
		TimeRange: tr,
		Metadata: Metadata{
			StartedAt: p.now(),
			MaxTokens: p.chunker.MaxTokens(),
		},
	}
	if tr == TimeRangeRecent {
		rep.Metadata.CutoffYear = p.policy.CutoffYear()
	}
	fail := func(err error) (Report, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, StageNameFromError(err))
		p.finish(&rep)
		p.metrics.PipelineRun(string(tr), string(KindFromError(err)), time.Duration(rep.Metadata.DurationMS)*time.Millisecond)
		return rep, err
	}

	if tr != TimeRangeAll && tr != TimeRangeRecent {
		return fail(&AnalysisError{Stage: StageInput, Chunk: -1, Kind: KindInvalidInput, Err: fmt.Errorf("%w: %q", ErrBadTimeRange, tr)})
	}
	if err := ValidateInput(text, p.maxWords); err != nil {
		return fail(&AnalysisError{Stage: StageInput, Chunk: -1, Kind: KindInvalidInput, Err: err})
	}
	rep.Metadata.Words = len(strings.Fields(text))
	rep.Metadata.Tokens = p.chunker.CountTokens(text)
	total := (rep.Metadata.Tokens + p.chunker.MaxTokens() - 1) / p.chunker.MaxTokens()
	span.SetAttributes(attribute.Int("chunks", total), attribute.Int("tokens", rep.Metadata.Tokens))
	emit(progress, "chunk", fmt.Sprintf("Split manuscript into %d chunk(s)...", total))
	rep.Metadata.StagesExecuted = append(rep.Metadata.StagesExecuted, "chunk")

	log := p.log.With("time_range", tr, "chunks", total)
	for ch := range p.chunker.Chunks(text) {
		emit(progress, StageAnalyze, fmt.Sprintf("Analyzing chunk %d of %d...", ch.Index+1, total))
		res, err := p.analyzer.AnalyzeChunk(ctx, ch, total, tr)
		rep.Metadata.ChunkAttempts = append(rep.Metadata.ChunkAttempts, res.Attempts)
		rep.Metadata.UpstreamCalls += res.Attempts + res.ValidatorCalls
		if err != nil {
			return fail(err)
		}
		rep.Metadata.ValidatorCalls += res.ValidatorCalls
		rep.Metadata.PatchesApplied += res.PatchesApplied
		rep.Analyses = append(rep.Analyses, res.Text)
		log.Debug("chunk analyzed", "chunk", ch.Index, "attempts", res.Attempts, "patches", res.PatchesApplied)
	}
	rep.Chunks = len(rep.Analyses)
	if rep.Chunks == 0 {
		return fail(&AnalysisError{Stage: StageInput, Chunk: -1, Kind: KindInvalidInput, Err: ErrNoChunks})
	}
	rep.Metadata.StagesExecuted = append(rep.Metadata.StagesExecuted, StageAnalyze)
	if tr == TimeRangeRecent {
		rep.Metadata.StagesExecuted = append(rep.Metadata.StagesExecuted, StageValidate)
	}

	emit(progress, StageCompile, "Compiling final report...")
	rep.Metadata.UpstreamCalls++
	out, err := p.compiler.CompileFor(ctx, rep.Analyses, tr)
	if err != nil {
		return fail(err)
	}
	rep.Text = out
	rep.Metadata.StagesExecuted = append(rep.Metadata.StagesExecuted, StageCompile)
	p.finish(&rep)
	p.metrics.PipelineRun(string(tr), "ok", time.Duration(rep.Metadata.DurationMS)*time.Millisecond)
	log.Info("analysis complete", "upstream_calls", rep.Metadata.UpstreamCalls, "patches", rep.Metadata.PatchesApplied, "duration_ms", rep.Metadata.DurationMS)
	return rep, nil
}

func (p *Pipeline) finish(rep *Report) {
	rep.Metadata.CompletedAt = p.now()
	rep.Metadata.DurationMS = rep.Metadata.CompletedAt.Sub(rep.Metadata.StartedAt).Milliseconds()
}

func emit(progress StageProgressFn, stage, message string) {
	if progress != nil {
		progress(stage, message)
	}
}
