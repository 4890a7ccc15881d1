// Package progress streams pipeline run progress in either human-readable or
// machine-readable form. Printers never own pipeline state; they render what
// the pipeline tells them.
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Stage status strings shared with the HTTP progress stream.
const (
	StatusPass = "pass"
	StatusFail = "fail"
	StatusSkip = "skip"
)

// StageResult is one completed pipeline stage.
type StageResult struct {
	Stage    int           `json:"stage"`
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
	Detail   string        `json:"detail,omitempty"`
}

// RunSummary closes out a pipeline run for display.
type RunSummary struct {
	RunID           string        `json:"run_id"`
	Success         bool          `json:"success"`
	FailureReason   string        `json:"failure_reason,omitempty"`
	OverallScore    int           `json:"overall_score"`
	Status          string        `json:"status"`
	CanDeploy       bool          `json:"can_deploy"`
	CompletedStages int           `json:"completed_stages"`
	TotalStages     int           `json:"total_stages"`
	TotalDuration   time.Duration `json:"total_duration"`
	ArtifactsPath   string        `json:"artifacts_path,omitempty"`
}

// Printer renders run progress in one output format.
type Printer interface {
	Start(runID string, totalStages int)
	Stage(result StageResult)
	Complete(summary RunSummary)
}

// JSONPrinter emits one JSON event per line for automation.
type JSONPrinter struct {
	out io.Writer
}

func NewJSONPrinter() *JSONPrinter {
	return &JSONPrinter{out: os.Stdout}
}

func (p *JSONPrinter) Start(runID string, totalStages int) {
	p.printJSON(map[string]interface{}{
		"event":        "run_start",
		"timestamp":    time.Now().Format(time.RFC3339),
		"run_id":       runID,
		"total_stages": totalStages,
	})
}

func (p *JSONPrinter) Stage(result StageResult) {
	p.printJSON(map[string]interface{}{
		"event":     "run_stage",
		"timestamp": time.Now().Format(time.RFC3339),
		"stage":     result.Stage,
		"name":      result.Name,
		"status":    result.Status,
		"duration":  result.Duration.Milliseconds(),
		"detail":    result.Detail,
	})
}

func (p *JSONPrinter) Complete(summary RunSummary) {
	p.printJSON(map[string]interface{}{
		"event":            "run_complete",
		"timestamp":        time.Now().Format(time.RFC3339),
		"run_id":           summary.RunID,
		"success":          summary.Success,
		"failure_reason":   summary.FailureReason,
		"overall_score":    summary.OverallScore,
		"status":           summary.Status,
		"can_deploy":       summary.CanDeploy,
		"completed_stages": summary.CompletedStages,
		"total_stages":     summary.TotalStages,
		"total_duration":   summary.TotalDuration.Milliseconds(),
		"artifacts_path":   summary.ArtifactsPath,
	})
}

func (p *JSONPrinter) printJSON(data map[string]interface{}) {
	json.NewEncoder(p.out).Encode(data)
}

// PlainPrinter renders progress for humans at a terminal.
type PlainPrinter struct {
	out io.Writer
}

func NewPlainPrinter() *PlainPrinter {
	return &PlainPrinter{out: os.Stdout}
}

func (p *PlainPrinter) Start(runID string, totalStages int) {
	fmt.Fprintf(p.out, "🚀 Starting validation run %s (%d stages)\n", runID, totalStages)
	fmt.Fprintln(p.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func (p *PlainPrinter) Stage(result StageResult) {
	icon := "✅"
	switch result.Status {
	case StatusFail:
		icon = "❌"
	case StatusSkip:
		icon = "⏭️"
	}

	fmt.Fprintf(p.out, "[%d] %s %s (%v)\n",
		result.Stage, icon, result.Name, result.Duration.Round(time.Millisecond))
	if result.Detail != "" {
		fmt.Fprintf(p.out, "    %s\n", result.Detail)
	}
}

func (p *PlainPrinter) Complete(summary RunSummary) {
	fmt.Fprintln(p.out, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	if summary.Success {
		fmt.Fprintf(p.out, "✅ VALIDATION PASSED (score %d/100, status %s, %v total)\n",
			summary.OverallScore, summary.Status, summary.TotalDuration.Round(time.Millisecond))
		if summary.CanDeploy {
			fmt.Fprintln(p.out, "🚀 Candidate is deployable")
		} else {
			fmt.Fprintln(p.out, "⚠️  Candidate passed but is below the deployment bar")
		}
	} else {
		fmt.Fprintf(p.out, "❌ VALIDATION FAILED (%d/%d stages, %v total)\n",
			summary.CompletedStages, summary.TotalStages, summary.TotalDuration.Round(time.Millisecond))
		if summary.FailureReason != "" {
			fmt.Fprintf(p.out, "   Reason: %s\n", summary.FailureReason)
		}
	}

	if summary.ArtifactsPath != "" {
		fmt.Fprintf(p.out, "📁 Artifacts: %s\n", summary.ArtifactsPath)
	}
}

// NewAutoPrinter picks plain output at a terminal and JSON everywhere else,
// so redirected and CI runs stay machine-readable.
func NewAutoPrinter() Printer {
	if os.Getenv("CI") != "" || !isTerminal() {
		return NewJSONPrinter()
	}
	return NewPlainPrinter()
}

// NewNopPrinter swallows progress; used by callers that stream progress
// through another channel.
func NewNopPrinter() Printer {
	return nopPrinter{}
}

type nopPrinter struct{}

func (nopPrinter) Start(string, int)   {}
func (nopPrinter) Stage(StageResult)   {}
func (nopPrinter) Complete(RunSummary) {}

func isTerminal() bool {
	stat, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
