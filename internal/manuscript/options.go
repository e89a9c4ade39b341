package manuscript

import (
	"time"

	"go.opentelemetry.io/otel"

	"github.com/joelkehle/greenlight/internal/logger"
	"github.com/joelkehle/greenlight/internal/metrics"
)

const (
	DefaultModel          = "gpt-4"
	DefaultAttempts       = 3
	DefaultAttemptTimeout = 60 * time.Second
	DefaultCallTimeout    = 60 * time.Second
	DefaultBackoff        = time.Second
)

var tracer = otel.Tracer("github.com/joelkehle/greenlight/internal/manuscript")

// Options configures the analysis components. Zero values take defaults.
type Options struct {
	Model          string
	Attempts       int
	AttemptTimeout time.Duration
	// CallTimeout bounds the single recency and compile requests.
	CallTimeout time.Duration
	// Backoff is the pause before the second attempt; it doubles after that.
	Backoff  time.Duration
	MaxWords int
	Recency  RecencyPolicy
	Logger   logger.Logger
	Metrics  *metrics.Metrics
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Logger == nil {
		o.Logger = logger.Default()
	}
	return o
}
