// Package sandbox executes candidate scanners as child processes inside
// scoped temporary directories. Every run gets a uniquely named scope,
// cleanup is unconditional on every exit path, and failures are terminal
// results for that run; no retries happen here.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/scanguard/scanguard/internal/config"
	"github.com/scanguard/scanguard/internal/model"
)

const outputExcerptLimit = 400

// RunConfig scopes one sandboxed execution. TimeoutMs of zero means the
// configured default; requests above the configured maximum are clamped.
type RunConfig struct {
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Tickers   []string `json:"tickers,omitempty"`
	TimeoutMs int      `json:"timeout_ms,omitempty"`
}

// Sandbox spawns candidate scanners under a hard deadline.
type Sandbox struct {
	bin            string
	defaultTimeout time.Duration
	maxTimeout     time.Duration
	dataModulePath string
}

// New builds a sandbox from pipeline configuration.
func New(sc config.SandboxConfig, ic config.InterpreterConfig) *Sandbox {
	bin := ic.PythonBin
	if bin == "" {
		bin = "python3"
	}
	return &Sandbox{
		bin:            bin,
		defaultTimeout: sc.Timeout(),
		maxTimeout:     sc.MaxTimeout(),
		dataModulePath: sc.DataModulePath,
	}
}

// Execute materializes the candidate with its harness, runs it, and parses
// the result payload out of combined output. Failures of any kind come back
// as Success:false with a human-readable error; Signals is never a partial
// set.
func (s *Sandbox) Execute(ctx context.Context, source string, cfg RunConfig) model.ExecutionResult {
	class, ok := detectClass(source)
	if !ok {
		return failedResult(0, "no scanner class found in candidate source")
	}

	dir, err := os.MkdirTemp("", "scanguard_run_")
	if err != nil {
		return failedResult(0, "could not create sandbox dir: %v", err)
	}
	defer os.RemoveAll(dir)

	runID := uuid.New().String()[:8]
	scriptPath := filepath.Join(dir, fmt.Sprintf("scanner_%s.py", runID))
	script := source + buildHarness(class, cfg)
	if err := os.WriteFile(scriptPath, []byte(script), 0o644); err != nil {
		return failedResult(0, "could not materialize candidate: %v", err)
	}

	timeout := s.timeoutFor(cfg)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Debug().
		Str("class", class).
		Str("run_id", runID).
		Dur("timeout", timeout).
		Int("tickers", len(cfg.Tickers)).
		Msg("sandbox execution starting")

	cmd := exec.CommandContext(runCtx, s.bin, scriptPath)
	cmd.Dir = dir
	cmd.Env = s.environ()

	start := time.Now()
	output, err := cmd.CombinedOutput()
	elapsed := time.Since(start).Milliseconds()

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return failedResult(elapsed, "execution timed out after %dms", timeout.Milliseconds())
	case runCtx.Err() == context.Canceled:
		return failedResult(elapsed, "execution canceled")
	case err != nil:
		return failedResult(elapsed, "execution failed: %v: %s", err, tailExcerpt(string(output), outputExcerptLimit))
	}

	payload, perr := parsePayload(string(output))
	if perr != nil {
		return failedResult(elapsed, "could not parse execution output: %v", perr)
	}
	if !payload.Success {
		return failedResult(elapsed, "%s", payload.Error)
	}

	result := model.ExecutionResult{
		Success:         true,
		Signals:         payload.Results,
		ExecutionTimeMs: elapsed,
	}
	if payload.Metadata != nil {
		result.Metadata = *payload.Metadata
	} else {
		result.Metadata = model.ExecutionMetadata{
			TickersTested: len(cfg.Tickers),
			SignalsFound:  len(payload.Results),
		}
	}

	log.Info().
		Str("run_id", runID).
		Int("signals", len(result.Signals)).
		Int64("elapsed_ms", elapsed).
		Msg("sandbox execution complete")
	return result
}

// timeoutFor resolves the effective deadline for one run.
func (s *Sandbox) timeoutFor(cfg RunConfig) time.Duration {
	if cfg.TimeoutMs <= 0 {
		return s.defaultTimeout
	}
	requested := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if s.maxTimeout > 0 && requested > s.maxTimeout {
		return s.maxTimeout
	}
	return requested
}

// environ inherits the parent environment and prepends any existing
// PYTHONPATH to the configured historical-data module path.
func (s *Sandbox) environ() []string {
	env := os.Environ()
	if s.dataModulePath == "" {
		return env
	}
	merged := s.dataModulePath
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		merged = existing + string(os.PathListSeparator) + merged
	}
	return append(env, "PYTHONPATH="+merged)
}

func failedResult(elapsedMs int64, format string, args ...interface{}) model.ExecutionResult {
	return model.ExecutionResult{
		Success:         false,
		ExecutionTimeMs: elapsedMs,
		Error:           fmt.Sprintf(format, args...),
	}
}

// tailExcerpt keeps the end of process output, where interpreter errors land.
func tailExcerpt(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return "..." + s[len(s)-limit:]
}
