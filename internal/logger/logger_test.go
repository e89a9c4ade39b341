package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextFallsBackToDefault(t *testing.T) {
	require.Equal(t, Default(), FromContext(context.Background()))
}

func TestFromContextReturnsStoredLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Level: "debug"})
	ctx := ContextWithLogger(context.Background(), l)

	FromContext(ctx).Info("chunk analyzed", "chunk", 2)
	assert.Contains(t, buf.String(), "chunk analyzed")
	assert.Contains(t, buf.String(), "chunk=2")
}

func TestJSONFormatterAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Output: &buf, Level: "warn", JSON: true})

	l.Info("hidden")
	l.With("stage", "validate").Warn("validator degraded")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"validator degraded"`)
	assert.Contains(t, out, `"stage":"validate"`)
}
