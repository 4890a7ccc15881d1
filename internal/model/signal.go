package model

import (
	"encoding/json"
	"strings"
)

// Signal is one emitted record from executing a candidate scanner. Identity
// for comparison purposes is the (ticker, date) pair; every other attribute
// is payload carried through untouched.
type Signal struct {
	Ticker string
	Date   string
	Attrs  map[string]interface{}
}

// Key returns the comparison identity for the signal. Tickers are
// case-insensitive; pandas timestamps stringify as "2006-01-02 15:04:05", so
// identity uses only the date part.
func (s Signal) Key() string {
	return strings.ToUpper(strings.TrimSpace(s.Ticker)) + "|" + normalizeDate(s.Date)
}

func normalizeDate(date string) string {
	date = strings.TrimSpace(date)
	if i := strings.IndexAny(date, " T"); i > 0 {
		return date[:i]
	}
	return date
}

// UnmarshalJSON extracts ticker and date and keeps every remaining key as
// payload. Candidates produced from older templates emit "symbol" instead of
// "ticker"; both are accepted.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["ticker"].(string); ok {
		s.Ticker = v
		delete(raw, "ticker")
	} else if v, ok := raw["symbol"].(string); ok {
		s.Ticker = v
		delete(raw, "symbol")
	}
	if v, ok := raw["date"].(string); ok {
		s.Date = v
		delete(raw, "date")
	}
	if len(raw) > 0 {
		s.Attrs = raw
	}
	return nil
}

// MarshalJSON flattens ticker, date, and payload attributes into one object.
func (s Signal) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(s.Attrs)+2)
	for k, v := range s.Attrs {
		out[k] = v
	}
	out["ticker"] = s.Ticker
	out["date"] = s.Date
	return json.Marshal(out)
}

// ExecutionMetadata carries run statistics alongside the signal set.
type ExecutionMetadata struct {
	TickersTested int `json:"tickers_tested"`
	SignalsFound  int `json:"signals_found"`
}

// ExecutionResult is the outcome of one sandboxed candidate run. Produced
// once per run and owned by the caller; never persisted by the sandbox. On
// failure Signals is nil, never a partial set.
type ExecutionResult struct {
	Success         bool              `json:"success"`
	Signals         []Signal          `json:"signals"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	Error           string            `json:"error,omitempty"`
	Metadata        ExecutionMetadata `json:"metadata"`
}

// PerformanceDelta compares execution times of two sandboxed runs.
// Observation is set when the candidate is materially slower; it is a note,
// never a failure.
type PerformanceDelta struct {
	OriginalMs   int64   `json:"original_ms"`
	CandidateMs  int64   `json:"candidate_ms"`
	DeltaMs      int64   `json:"delta_ms"`
	DeltaPercent float64 `json:"delta_percent"`
	Observation  string  `json:"observation,omitempty"`
}

// EquivalenceComparison reconciles two signal sets keyed by (ticker, date).
// Invariants: matching ∪ missing = original signals, matching ∪ extra =
// candidate signals, and no signal appears in more than one bucket.
type EquivalenceComparison struct {
	SignalsMatch     bool             `json:"signals_match"`
	OriginalCount    int              `json:"original_count"`
	CandidateCount   int              `json:"candidate_count"`
	MissingSignals   []Signal         `json:"missing_signals"`
	ExtraSignals     []Signal         `json:"extra_signals"`
	MatchingSignals  []Signal         `json:"matching_signals"`
	MatchRatePercent float64          `json:"match_rate_percent"`
	Performance      PerformanceDelta `json:"performance"`
}
