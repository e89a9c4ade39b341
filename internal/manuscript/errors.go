package manuscript

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joelkehle/greenlight/internal/llm"
)

const (
	StageInput    = "input"
	StageAnalyze  = "analyze"
	StageValidate = "validate"
	StageCompile  = "compile"
)

var (
	ErrEmptyText     = errors.New("no text provided")
	ErrTooManyWords  = errors.New("text exceeds word limit")
	ErrBadTimeRange  = errors.New("invalid time range")
	ErrNoChunks      = errors.New("text produced no chunks")
	ErrEmptyAnalyses = errors.New("no analyses to compile")
)

type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindInvalidInput  ErrorKind = "invalid_input"
	KindTimeout       ErrorKind = "timeout"
	KindTransport     ErrorKind = "transport"
	KindUpstream      ErrorKind = "upstream"
	KindMalformed     ErrorKind = "malformed_response"
	KindCanceled      ErrorKind = "canceled"
	KindUnexpected    ErrorKind = "unexpected"
)

// AnalysisError is the single failure type surfaced by the pipeline. Chunk is
// -1 when the failure is not tied to a chunk.
type AnalysisError struct {
	Stage    string
	Chunk    int
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *AnalysisError) Error() string {
	if e.Chunk >= 0 {
		return fmt.Sprintf("%s chunk %d: %s: %v", e.Stage, e.Chunk, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// UserMessage is the text shown to whoever submitted the manuscript.
func (e *AnalysisError) UserMessage() string {
	switch e.Kind {
	case KindTimeout:
		return "The analysis took longer than expected. Please try again with a shorter text."
	case KindTransport:
		return "There was an error communicating with the analysis service. Please try again."
	case KindUpstream:
		return e.Err.Error()
	case KindMalformed:
		return "Error: Unexpected response format from API"
	case KindConfiguration:
		return "Error: " + e.Err.Error()
	case KindInvalidInput:
		if errors.Is(e.Err, ErrEmptyText) {
			return "No text provided"
		}
		return capitalize(e.Err.Error())
	case KindCanceled:
		return "The analysis was canceled."
	default:
		return fmt.Sprintf("An unexpected error occurred: %v", e.Err)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func kindOf(err error) ErrorKind {
	switch llm.Classify(err) {
	case llm.ClassConfig:
		return KindConfiguration
	case llm.ClassTimeout:
		return KindTimeout
	case llm.ClassUpstream:
		return KindUpstream
	case llm.ClassMalformed:
		return KindMalformed
	case llm.ClassCanceled:
		return KindCanceled
	case llm.ClassTransport:
		return KindTransport
	default:
		return KindUnexpected
	}
}

func StageNameFromError(err error) string {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Stage
	}
	return "pipeline"
}

// KindFromError returns the failure kind carried by err, or KindUnexpected.
func KindFromError(err error) ErrorKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnexpected
}
