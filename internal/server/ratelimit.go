package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/joelkehle/greenlight/internal/logger"
)

// newRateLimit builds a per-client-IP limiter from a "<limit>-<period>"
// rate such as "10-M". An empty rate returns a pass-through.
func newRateLimit(formatted string, log logger.Logger) (func(http.Handler) http.Handler, error) {
	formatted = strings.TrimSpace(formatted)
	if formatted == "" {
		return func(h http.Handler) http.Handler { return h }, nil
	}
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, fmt.Errorf("rate limit %q: %w", formatted, err)
	}
	instance := limiter.New(memory.NewStore(), rate)
	mw := stdlib.NewMiddleware(instance,
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "Too many requests. Please wait a moment and try again.")
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			log.Error("rate limiter failed", "err", err)
			writeError(w, http.StatusInternalServerError, "rate limiter unavailable")
		}),
	)
	return mw.Handler, nil
}
