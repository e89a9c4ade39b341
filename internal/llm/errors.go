package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrMalformedResponse marks a 200 response without the expected choices shape.
var ErrMalformedResponse = errors.New("unexpected response format from API")

// ConfigError reports a missing or invalid setting. It is never retried.
type ConfigError struct {
	Setting string
	Hint    string
}

func (e *ConfigError) Error() string {
	msg := e.Setting + " not set"
	if e.Hint != "" {
		msg += ". " + e.Hint
	}
	return msg
}

// UpstreamError is a non-200 response from the completion endpoint.
type UpstreamError struct {
	Status  int
	Message string
	Body    string
}

func (e *UpstreamError) Error() string {
	msg := fmt.Sprintf("API Error: Status %d", e.Status)
	switch {
	case e.Message != "":
		msg += " - " + e.Message
	case e.Body != "":
		msg += " - " + e.Body
	}
	return msg
}

func (e *UpstreamError) Temporary() bool { return e.Status/100 == 5 }

func newUpstreamError(status int, body []byte) *UpstreamError {
	ue := &UpstreamError{Status: status, Body: strings.TrimSpace(string(body))}
	var payload struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != nil {
		ue.Message = payload.Error.Message
	}
	return ue
}

type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassTimeout
	ClassTransport
	ClassUpstream
	ClassMalformed
	ClassConfig
	ClassCanceled
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTimeout:
		return "timeout"
	case ClassTransport:
		return "transport"
	case ClassUpstream:
		return "upstream"
	case ClassMalformed:
		return "malformed_response"
	case ClassConfig:
		return "configuration"
	case ClassCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a Completer onto the failure taxonomy.
// Anything not otherwise recognised is a transport failure.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ClassConfig
	}
	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		return ClassUpstream
	}
	if errors.Is(err, ErrMalformedResponse) {
		return ClassMalformed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTimeout
	}
	return ClassTransport
}

// Retryable reports whether a caller-level retry may help.
func Retryable(err error) bool {
	switch Classify(err) {
	case ClassTimeout, ClassTransport:
		return true
	default:
		return false
	}
}
