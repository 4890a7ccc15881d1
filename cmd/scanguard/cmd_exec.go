package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scanguard/scanguard/internal/sandbox"
)

// runExec executes one scanner in the sandbox and prints its signal set
func runExec(cmd *cobra.Command, args []string) error {
	source, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read scanner: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	startDate, _ := cmd.Flags().GetString("start-date")
	endDate, _ := cmd.Flags().GetString("end-date")
	tickers, _ := cmd.Flags().GetString("tickers")
	timeoutMs, _ := cmd.Flags().GetInt("timeout-ms")
	asJSON, _ := cmd.Flags().GetBool("json")

	sb := sandbox.New(cfg.Sandbox, cfg.Interpreter)

	// The sandbox enforces its own per-run deadline; this outer ceiling only
	// catches a wedged interpreter spawn.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sandbox.MaxTimeout()+30*time.Second)
	defer cancel()

	result := sb.Execute(ctx, string(source), sandbox.RunConfig{
		StartDate: startDate,
		EndDate:   endDate,
		Tickers:   splitTickers(tickers),
		TimeoutMs: timeoutMs,
	})

	if asJSON {
		json.NewEncoder(os.Stdout).Encode(result)
	} else {
		printExecution(result)
	}

	if !result.Success {
		return fmt.Errorf("execution failed: %s", result.Error)
	}
	return nil
}
