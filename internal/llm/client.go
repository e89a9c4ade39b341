package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/joelkehle/greenlight/internal/logger"
)

const (
	DefaultBaseURL      = "https://api.openai.com"
	ChatCompletionsPath = "/v1/chat/completions"
	DefaultUserAgent    = "ManuscriptAnalysis/1.0"
	DefaultRetryCount   = 3
	DefaultBackoff      = time.Second
)

var DefaultRetryStatuses = []int{
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

type ClientConfig struct {
	BaseURL        string
	APIKey         string
	OrganizationID string
	UserAgent      string
	// RetryCount is the number of transport-level retries after the first try.
	RetryCount int
	// BackoffFactor scales the wait before retry n as factor * 2^(n-1).
	BackoffFactor time.Duration
	RetryStatuses []int
	// Timeout bounds a whole Complete call including retries. Zero leaves it
	// to the caller's context.
	Timeout time.Duration
	Logger  logger.Logger
}

// Client is a chat-completions session. It is safe for concurrent use and
// keeps its connection pool across calls.
type Client struct {
	http *resty.Client
	cfg  ClientConfig
	log  logger.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, &ConfigError{Setting: "API key", Hint: "Please check server configuration."}
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	if cfg.BackoffFactor <= 0 {
		cfg.BackoffFactor = DefaultBackoff
	}
	if len(cfg.RetryStatuses) == 0 {
		cfg.RetryStatuses = DefaultRetryStatuses
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With("component", "llm")

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", cfg.UserAgent).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.BackoffFactor).
		SetRetryMaxWaitTime(cfg.BackoffFactor << max(cfg.RetryCount, 1)).
		SetRetryAfter(exponentialAfter(cfg.BackoffFactor)).
		SetLogger(restyLogger{log})
	if cfg.OrganizationID != "" {
		rc.SetHeader("X-Organization-ID", cfg.OrganizationID)
	}
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}
	statuses := slices.Clone(cfg.RetryStatuses)
	rc.AddRetryCondition(func(r *resty.Response, err error) bool {
		// Transport errors are left to the caller's retry policy.
		if err != nil || r == nil {
			return false
		}
		return slices.Contains(statuses, r.StatusCode())
	})
	rc.AddRetryHook(func(r *resty.Response, err error) {
		if r != nil {
			log.Warn("retrying completion", "status", r.StatusCode(), "attempt", r.Request.Attempt)
		}
	})

	return &Client{http: rc, cfg: cfg, log: log}, nil
}

func exponentialAfter(factor time.Duration) resty.RetryAfterFunc {
	return func(_ *resty.Client, r *resty.Response) (time.Duration, error) {
		n := 1
		if r != nil && r.Request != nil && r.Request.Attempt > 0 {
			n = r.Request.Attempt
		}
		return factor << (n - 1), nil
	}
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(ChatCompletionsPath)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", newUpstreamError(resp.StatusCode(), resp.Body())
	}
	var parsed chatResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == nil {
		return "", ErrMalformedResponse
	}
	return *parsed.Choices[0].Message.Content, nil
}

type restyLogger struct{ l logger.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }
