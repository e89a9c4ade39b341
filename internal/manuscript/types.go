package manuscript

import (
	"fmt"
	"strings"
	"time"
)

type TimeRange string

const (
	TimeRangeAll    TimeRange = "all"
	TimeRangeRecent TimeRange = "recent"
)

// ParseTimeRange accepts "all" or "recent"; empty means all.
func ParseTimeRange(s string) (TimeRange, error) {
	switch TimeRange(strings.ToLower(strings.TrimSpace(s))) {
	case "", TimeRangeAll:
		return TimeRangeAll, nil
	case TimeRangeRecent:
		return TimeRangeRecent, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrBadTimeRange, s)
	}
}

const RecencyWindowYears = 5

// RecencyPolicy fixes the cutoff year for the recent time range. ReferenceYear
// overrides the clock when set.
type RecencyPolicy struct {
	Now           func() time.Time
	ReferenceYear int
}

func (p RecencyPolicy) CurrentYear() int {
	if p.ReferenceYear > 0 {
		return p.ReferenceYear
	}
	if p.Now != nil {
		return p.Now().Year()
	}
	return time.Now().Year()
}

func (p RecencyPolicy) CutoffYear() int { return p.CurrentYear() - RecencyWindowYears }

// Patch replaces one out-of-range comparable title.
type Patch struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// ChunkResult is one analyzed chunk plus what it took to get it.
type ChunkResult struct {
	Index          int    `json:"index"`
	Text           string `json:"text"`
	Attempts       int    `json:"attempts"`
	ValidatorCalls int    `json:"validator_calls"`
	PatchesApplied int    `json:"patches_applied"`
}

type Metadata struct {
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	DurationMS     int64     `json:"duration_ms"`
	Words          int       `json:"words"`
	Tokens         int       `json:"tokens"`
	MaxTokens      int       `json:"max_tokens"`
	CutoffYear     int       `json:"cutoff_year,omitempty"`
	ChunkAttempts  []int     `json:"chunk_attempts"`
	ValidatorCalls int       `json:"validator_calls"`
	PatchesApplied int       `json:"patches_applied"`
	UpstreamCalls  int       `json:"upstream_calls"`
	StagesExecuted []string  `json:"stages_executed"`
}

// Report is the compiled result of one pipeline run.
type Report struct {
	Text      string    `json:"text"`
	TimeRange TimeRange `json:"time_range"`
	Chunks    int       `json:"chunks"`
	Analyses  []string  `json:"analyses"`
	Metadata  Metadata  `json:"metadata"`
}

// ValidateInput rejects empty text and, when maxWords > 0, text longer than
// maxWords words.
func ValidateInput(text string, maxWords int) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if maxWords > 0 {
		if n := len(strings.Fields(text)); n > maxWords {
			return fmt.Errorf("%w: %d words, limit %d", ErrTooManyWords, n, maxWords)
		}
	}
	return nil
}
