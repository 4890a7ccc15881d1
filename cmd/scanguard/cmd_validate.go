package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scanguard/scanguard/internal/artifacts"
	"github.com/scanguard/scanguard/internal/infrastructure/db"
	"github.com/scanguard/scanguard/internal/pipeline"
)

const (
	// staticRunTimeout bounds a validate run without sandbox execution.
	staticRunTimeout = 5 * time.Minute
	// executeRunTimeout additionally covers two sandboxed subprocess runs.
	executeRunTimeout = 15 * time.Minute
)

// runValidate runs the full validation pipeline from the CLI
func runValidate(cmd *cobra.Command, args []string) error {
	candidate, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read candidate: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	originalPath, _ := cmd.Flags().GetString("original")
	scannerType, _ := cmd.Flags().GetString("scanner-type")
	strict, _ := cmd.Flags().GetBool("strict")
	execute, _ := cmd.Flags().GetBool("execute")
	startDate, _ := cmd.Flags().GetString("start-date")
	endDate, _ := cmd.Flags().GetString("end-date")
	tickers, _ := cmd.Flags().GetString("tickers")
	timeoutMs, _ := cmd.Flags().GetInt("timeout-ms")
	progressMode, _ := cmd.Flags().GetString("progress")
	outDir, _ := cmd.Flags().GetString("out")
	noArtifacts, _ := cmd.Flags().GetBool("no-artifacts")

	var originalSource string
	if originalPath != "" {
		raw, err := os.ReadFile(originalPath)
		if err != nil {
			return fmt.Errorf("failed to read original: %w", err)
		}
		originalSource = string(raw)
	}

	if outDir != "" {
		cfg.Artifacts.Enabled = true
		cfg.Artifacts.Dir = outDir
	}
	if noArtifacts {
		cfg.Artifacts.Enabled = false
	}

	opts := pipeline.Options{Progress: progressMode}
	if cfg.Artifacts.Enabled {
		opts.Artifacts = artifacts.NewWriter(cfg.Artifacts.Dir)
	}

	// Run history is best effort from the CLI; a dead database never blocks
	// a validation verdict.
	if cfg.Database.Enabled {
		manager, err := db.NewManager(cfg.Database)
		if err != nil {
			log.Warn().Err(err).Msg("run history disabled: database unavailable")
		} else {
			defer manager.Close()
			opts.Repository = manager.Repository()
		}
	}

	pipe, err := pipeline.New(cfg, opts)
	if err != nil {
		return err
	}

	timeout := staticRunTimeout
	if execute {
		timeout = executeRunTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := pipe.Run(ctx, pipeline.Request{
		Source:         string(candidate),
		OriginalSource: originalSource,
		ScannerType:    scannerType,
		StrictMode:     strict,
		Execute:        execute,
		StartDate:      startDate,
		EndDate:        endDate,
		Tickers:        splitTickers(tickers),
		TimeoutMs:      timeoutMs,
	})
	if err != nil {
		return fmt.Errorf("validation run cancelled: %w", err)
	}

	if progressMode == "json" {
		// Automation consumers get the full result as the final JSON line
		json.NewEncoder(os.Stdout).Encode(result)
	} else {
		fmt.Println(result.Report)
		if result.ArtifactsPath != "" {
			fmt.Printf("📁 Artifacts: %s\n", result.ArtifactsPath)
		}
	}

	if !result.Success {
		return fmt.Errorf("validation failed: %s", result.FailureReason)
	}
	return nil
}
