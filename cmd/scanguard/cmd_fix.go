package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scanguard/scanguard/internal/autofix"
)

// runFix applies rewrite rules to a candidate without validating it
func runFix(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read candidate: %w", err)
	}

	write, _ := cmd.Flags().GetBool("write")
	outPath, _ := cmd.Flags().GetString("out")
	if write && outPath != "" {
		return fmt.Errorf("--write and --out are mutually exclusive")
	}

	result := autofix.New().Fix(string(raw))

	if result.Changed {
		log.Info().Strs("rules", result.Applied).Msg("rewrite rules fired")
	} else {
		log.Info().Msg("no rewrite rules fired; source unchanged")
	}

	switch {
	case write:
		if err := os.WriteFile(path, []byte(result.Source), 0644); err != nil {
			return fmt.Errorf("failed to rewrite candidate: %w", err)
		}
		fmt.Printf("✅ Rewrote %s (rules: %s)\n", path, joinOrNone(result.Applied))
	case outPath != "":
		if err := os.WriteFile(outPath, []byte(result.Source), 0644); err != nil {
			return fmt.Errorf("failed to write fixed source: %w", err)
		}
		fmt.Printf("✅ Wrote fixed source to %s (rules: %s)\n", outPath, joinOrNone(result.Applied))
	default:
		fmt.Print(result.Source)
	}

	return nil
}

func joinOrNone(rules []string) string {
	if len(rules) == 0 {
		return "none"
	}
	return strings.Join(rules, ", ")
}
