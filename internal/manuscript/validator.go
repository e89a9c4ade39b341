package manuscript

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/joelkehle/greenlight/internal/llm"
	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/metrics"
)

// RecencyValidator swaps out comparable titles older than the recency cutoff.
// It never fails: any problem leaves the analysis as it was.
type RecencyValidator struct {
	llm     llm.Completer
	model   string
	policy  RecencyPolicy
	timeout time.Duration
	log     logger.Logger
	metrics *metrics.Metrics
}

func NewRecencyValidator(c llm.Completer, opts Options) *RecencyValidator {
	opts = opts.withDefaults()
	return &RecencyValidator{
		llm:     c,
		model:   opts.Model,
		policy:  opts.Recency,
		timeout: opts.CallTimeout,
		log:     opts.Logger.With("stage", StageValidate),
		metrics: opts.Metrics,
	}
}

func (v *RecencyValidator) Validate(ctx context.Context, analysis string, tr TimeRange) string {
	out, _, _ := v.validate(ctx, analysis, tr)
	return out
}

// validate also reports whether a request was sent and how many patches
// were applied.
func (v *RecencyValidator) validate(ctx context.Context, analysis string, tr TimeRange) (string, bool, int) {
	if tr != TimeRangeRecent {
		return analysis, false, 0
	}
	cutoff := v.policy.CutoffYear()
	ctx, span := tracer.Start(ctx, "recency.validate")
	defer span.End()
	span.SetAttributes(attribute.Int("cutoff_year", cutoff))

	callCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	resp, err := v.llm.Complete(callCtx, llm.ChatRequest{
		Model: v.model,
		Messages: []llm.Message{
			llm.System(validatorSystemPrompt),
			llm.User(validatorPrompt(analysis, cutoff)),
		},
		Temperature: 0.3,
		MaxTokens:   1000,
	})
	if err != nil {
		v.metrics.LLMRequest(StageValidate, string(kindOf(err)))
		v.log.Warn("recency validation skipped", "kind", kindOf(err), "err", err)
		span.SetAttributes(attribute.Bool("degraded", true))
		return analysis, true, 0
	}
	v.metrics.LLMRequest(StageValidate, "ok")

	if strings.Contains(resp, RecencySentinel) {
		return analysis, true, 0
	}
	patches := ParsePatches(resp)
	if len(patches) == 0 {
		v.log.Debug("validator returned no usable patches")
		return analysis, true, 0
	}
	patched, applied := ApplyPatches(analysis, patches)
	span.SetAttributes(attribute.Int("patches", applied))
	v.metrics.PatchesApplied(applied)

	stale := 0
	for _, e := range ParseCompEntries(patched) {
		if e.Year < cutoff {
			stale++
		}
	}
	if stale > 0 {
		v.log.Info("titles older than cutoff remain", "count", stale, "cutoff", cutoff)
	}
	return patched, true, applied
}
