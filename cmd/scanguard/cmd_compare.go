package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scanguard/scanguard/internal/equivalence"
	"github.com/scanguard/scanguard/internal/model"
)

// maxListedSignals caps how many diverging signals print in plain output.
const maxListedSignals = 10

// runCompare reconciles two captured execution results
func runCompare(cmd *cobra.Command, args []string) error {
	original, err := readExecutionResult(args[0])
	if err != nil {
		return err
	}
	candidate, err := readExecutionResult(args[1])
	if err != nil {
		return err
	}

	comparison := equivalence.Compare(original, candidate)

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		json.NewEncoder(os.Stdout).Encode(comparison)
	} else {
		printComparison(comparison)
	}

	if !comparison.SignalsMatch {
		return fmt.Errorf("signal sets diverge: %d missing, %d extra",
			len(comparison.MissingSignals), len(comparison.ExtraSignals))
	}
	return nil
}

func readExecutionResult(path string) (model.ExecutionResult, error) {
	var result model.ExecutionResult
	raw, err := os.ReadFile(path)
	if err != nil {
		return result, fmt.Errorf("failed to read execution result: %w", err)
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("failed to parse execution result %s: %w", path, err)
	}
	return result, nil
}

// printExecution renders one execution result for humans.
func printExecution(result model.ExecutionResult) {
	if !result.Success {
		fmt.Printf("❌ Execution failed after %dms: %s\n", result.ExecutionTimeMs, result.Error)
		return
	}

	fmt.Printf("✅ Execution completed in %dms (%d tickers tested, %d signals)\n",
		result.ExecutionTimeMs, result.Metadata.TickersTested, len(result.Signals))
	for _, sig := range result.Signals {
		fmt.Printf("   %-8s %s\n", sig.Ticker, sig.Date)
	}
}

// printComparison renders an equivalence comparison for humans.
func printComparison(c model.EquivalenceComparison) {
	if c.SignalsMatch {
		fmt.Printf("✅ Signal sets MATCH (%d signals, %.1f%%)\n", c.OriginalCount, c.MatchRatePercent)
	} else {
		fmt.Printf("❌ Signal sets DIVERGE (%.1f%% match, original %d, candidate %d)\n",
			c.MatchRatePercent, c.OriginalCount, c.CandidateCount)
	}

	listSignals("Missing from candidate", c.MissingSignals)
	listSignals("Extra in candidate", c.ExtraSignals)

	if c.Performance.Observation != "" {
		fmt.Printf("⏱️  %s\n", c.Performance.Observation)
	}
}

func listSignals(label string, signals []model.Signal) {
	if len(signals) == 0 {
		return
	}
	fmt.Printf("%s (%d):\n", label, len(signals))
	for i, sig := range signals {
		if i == maxListedSignals {
			fmt.Printf("   ... and %d more\n", len(signals)-maxListedSignals)
			break
		}
		fmt.Printf("   %-8s %s\n", sig.Ticker, sig.Date)
	}
}
