package manuscript

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joelkehle/greenlight/internal/llm"
)

const sampleAnalysis = `Primary Comparable Titles
- The Night Circus by Erin Morgenstern (2011) - lush magical competition
- Fourth Wing by Rebecca Yarros (2023) - dragon rider academy

Thematic Comparables
1. Circe by Madeline Miller (2018) - reclaimed myth

Voice/Style Comparables
- The Night Circus by Erin Morgenstern (2011) - lyrical present tense

Notes: readers of The Night Circus by Erin Morgenstern will recognise the atmosphere.`

func TestValidateAllTimeRangeIsNoop(t *testing.T) {
	fake := &scriptedLLM{fn: func(context.Context, int, llm.ChatRequest) (string, error) {
		t.Fatal("validator must not call the model for time range all")
		return "", nil
	}}
	v := NewRecencyValidator(fake, testOptions())
	assert.Equal(t, sampleAnalysis, v.Validate(context.Background(), sampleAnalysis, TimeRangeAll))
	assert.Zero(t, fake.count())
}

func TestValidateSentinelReturnsInputUnchanged(t *testing.T) {
	fake := &scriptedLLM{fn: func(context.Context, int, llm.ChatRequest) (string, error) {
		return "All titles are within the 5-year range.", nil
	}}
	v := NewRecencyValidator(fake, testOptions())
	out := v.Validate(context.Background(), sampleAnalysis, TimeRangeRecent)
	assert.Equal(t, []byte(sampleAnalysis), []byte(out))
	assert.Equal(t, 1, fake.count())
}

func TestValidateDegradesOnUpstreamError(t *testing.T) {
	fake := &scriptedLLM{fn: func(context.Context, int, llm.ChatRequest) (string, error) {
		return "", &llm.UpstreamError{Status: 500}
	}}
	v := NewRecencyValidator(fake, testOptions())
	assert.Equal(t, sampleAnalysis, v.Validate(context.Background(), sampleAnalysis, TimeRangeRecent))
}

func TestValidateDegradesWhenUpstreamStalls(t *testing.T) {
	fake := &scriptedLLM{fn: func(ctx context.Context, _ int, _ llm.ChatRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	v := NewRecencyValidator(fake, testOptions())
	out, called, applied := v.validate(context.Background(), sampleAnalysis, TimeRangeRecent)
	assert.True(t, called)
	assert.Zero(t, applied)
	assert.Equal(t, sampleAnalysis, out)
}

func TestValidateAppliesPatchesToSlotsOnly(t *testing.T) {
	fake := &scriptedLLM{fn: func(context.Context, int, llm.ChatRequest) (string, error) {
		return "REPLACE: The Night Circus by Erin Morgenstern (2011)\nWITH: Babel by R. F. Kuang (2022)\n" +
			"REPLACE: Circe by Madeline Miller (2018)\nWITH: Lore by Alexandra Bracken (2021)", nil
	}}
	v := NewRecencyValidator(fake, testOptions())

	out, called, applied := v.validate(context.Background(), sampleAnalysis, TimeRangeRecent)
	assert.True(t, called)
	assert.Equal(t, 2, applied)
	assert.Contains(t, out, "- Babel by R. F. Kuang (2022) - lush magical competition")
	assert.Contains(t, out, "- Babel by R. F. Kuang (2022) - lyrical present tense")
	assert.Contains(t, out, "1. Lore by Alexandra Bracken (2021) - reclaimed myth")
	assert.Contains(t, out, "Notes: readers of The Night Circus by Erin Morgenstern will recognise")
	assert.Contains(t, out, "- Fourth Wing by Rebecca Yarros (2023)")
}

func TestValidateRequestCarriesCutoff(t *testing.T) {
	fake := &scriptedLLM{fn: func(context.Context, int, llm.ChatRequest) (string, error) {
		return "nothing useful", nil
	}}
	opts := testOptions()
	opts.Recency = RecencyPolicy{ReferenceYear: 2030}
	v := NewRecencyValidator(fake, opts)

	assert.Equal(t, sampleAnalysis, v.Validate(context.Background(), sampleAnalysis, TimeRangeRecent))
	require.Equal(t, 1, fake.count())
	assert.Contains(t, fake.userPrompt(0), "published 2025 or later")
}
