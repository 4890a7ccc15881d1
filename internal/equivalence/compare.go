// Package equivalence reconciles the signal sets of two scanner executions.
// Signal identity is the (ticker, date) pair; everything else is payload and
// does not participate in matching.
package equivalence

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/scanguard/scanguard/internal/model"
)

// slowdownObservationPct is the slowdown past which a performance note is
// attached. A slower candidate is an observation, never a failure.
const slowdownObservationPct = 50.0

// Compare buckets signals into matching, missing, and extra using one
// identity map per side. Duplicate keys within a side collapse to their first
// occurrence. Counts are unique-identity counts, so
// matching+missing = original and matching+extra = candidate always hold.
func Compare(original, candidate model.ExecutionResult) model.EquivalenceComparison {
	originalByKey := keyIndex(original.Signals)
	candidateByKey := keyIndex(candidate.Signals)

	matching := make([]model.Signal, 0, len(originalByKey))
	missing := make([]model.Signal, 0)
	extra := make([]model.Signal, 0)

	seen := make(map[string]bool, len(originalByKey))
	for _, sig := range original.Signals {
		key := sig.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := candidateByKey[key]; ok {
			matching = append(matching, sig)
		} else {
			missing = append(missing, sig)
		}
	}

	seenExtra := make(map[string]bool, len(candidateByKey))
	for _, sig := range candidate.Signals {
		key := sig.Key()
		if seenExtra[key] {
			continue
		}
		seenExtra[key] = true
		if _, ok := originalByKey[key]; !ok {
			extra = append(extra, sig)
		}
	}

	matchRate := 0.0
	if len(originalByKey) > 0 {
		matchRate = float64(len(matching)) / float64(len(originalByKey)) * 100
	}

	comparison := model.EquivalenceComparison{
		SignalsMatch:     len(missing) == 0 && len(extra) == 0,
		OriginalCount:    len(originalByKey),
		CandidateCount:   len(candidateByKey),
		MissingSignals:   missing,
		ExtraSignals:     extra,
		MatchingSignals:  matching,
		MatchRatePercent: matchRate,
		Performance:      comparePerformance(original.ExecutionTimeMs, candidate.ExecutionTimeMs),
	}

	log.Debug().
		Int("original", comparison.OriginalCount).
		Int("candidate", comparison.CandidateCount).
		Int("matching", len(matching)).
		Float64("match_rate", matchRate).
		Bool("signals_match", comparison.SignalsMatch).
		Msg("equivalence comparison complete")
	return comparison
}

// keyIndex builds the identity map for one side. First occurrence wins.
func keyIndex(signals []model.Signal) map[string]model.Signal {
	index := make(map[string]model.Signal, len(signals))
	for _, sig := range signals {
		key := sig.Key()
		if _, ok := index[key]; !ok {
			index[key] = sig
		}
	}
	return index
}

func comparePerformance(originalMs, candidateMs int64) model.PerformanceDelta {
	delta := model.PerformanceDelta{
		OriginalMs:  originalMs,
		CandidateMs: candidateMs,
		DeltaMs:     candidateMs - originalMs,
	}
	if originalMs > 0 {
		delta.DeltaPercent = float64(delta.DeltaMs) / float64(originalMs) * 100
	}
	if delta.DeltaPercent > slowdownObservationPct {
		delta.Observation = fmt.Sprintf("candidate is %.1f%% slower than the original", delta.DeltaPercent)
	}
	return delta
}
