package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/scanguard/scanguard/internal/config"
)

const (
	appName = "ScanGuard"
	version = "v1.0.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     "scanguard",
		Short:   "Validate regenerated trading scanners before they replace trusted ones",
		Version: version,
		Long: `ScanGuard scores regenerated Python scanner candidates through static
validation, applies known-defect rewrite rules, and optionally executes both
candidate and original in a sandbox to prove the emitted signal sets match.

THE INTERACTIVE MENU IS THE PRIMARY INTERFACE
   Run 'scanguard' in a terminal for the guided experience.
   Subcommands and flags are automation shims for CI and scripts.`,
		Run:          runDefaultEntry, // TTY detection and menu routing
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Config file path (defaults to config/scanguard.yaml when present)")

	// Add validate command for the full pipeline
	validateCmd := &cobra.Command{
		Use:   "validate [candidate.py]",
		Short: "Run the full validation pipeline on a candidate scanner",
		Long:  "Static validation, autofix with revalidation, optional sandboxed execution comparison, and a deployment verdict",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	validateCmd.Flags().String("original", "", "Trusted original scanner for execution comparison")
	validateCmd.Flags().String("scanner-type", "multi", "Scanner shape (single|multi)")
	validateCmd.Flags().Bool("strict", false, "Escalate structural warnings to errors")
	validateCmd.Flags().Bool("execute", false, "Execute candidate and original in the sandbox and compare signal sets")
	validateCmd.Flags().String("start-date", "", "Execution window start (YYYY-MM-DD)")
	validateCmd.Flags().String("end-date", "", "Execution window end (YYYY-MM-DD)")
	validateCmd.Flags().String("tickers", "", "Comma-separated ticker subset for execution")
	validateCmd.Flags().Int("timeout-ms", 0, "Per-execution timeout override in milliseconds")
	validateCmd.Flags().String("progress", "auto", "Progress output mode (auto|plain|json|none)")
	validateCmd.Flags().String("out", "", "Artifacts directory override")
	validateCmd.Flags().Bool("no-artifacts", false, "Skip writing run artifacts")

	// Add fix command for standalone rule application
	fixCmd := &cobra.Command{
		Use:   "fix [candidate.py]",
		Short: "Apply known-defect rewrite rules to a candidate",
		Long:  "Runs the autofix rules without validating; prints the rewritten source unless --write or --out is given",
		Args:  cobra.ExactArgs(1),
		RunE:  runFix,
	}

	fixCmd.Flags().Bool("write", false, "Rewrite the candidate file in place")
	fixCmd.Flags().String("out", "", "Write the fixed source to this path")

	// Add exec command for direct sandbox runs
	execCmd := &cobra.Command{
		Use:   "exec [scanner.py]",
		Short: "Execute a scanner in the sandbox and capture its signals",
		Long:  "Runs one scanner under the subprocess sandbox and prints the captured signal set",
		Args:  cobra.ExactArgs(1),
		RunE:  runExec,
	}

	execCmd.Flags().String("start-date", "", "Execution window start (YYYY-MM-DD)")
	execCmd.Flags().String("end-date", "", "Execution window end (YYYY-MM-DD)")
	execCmd.Flags().String("tickers", "", "Comma-separated ticker subset")
	execCmd.Flags().Int("timeout-ms", 0, "Execution timeout override in milliseconds")
	execCmd.Flags().Bool("json", false, "Print the raw execution result as JSON")

	// Add compare command for captured execution results
	compareCmd := &cobra.Command{
		Use:   "compare [original.json] [candidate.json]",
		Short: "Compare two captured execution results for signal equivalence",
		Long:  "Reconciles two signal sets by (ticker, date) identity and reports missing, extra, and matching signals",
		Args:  cobra.ExactArgs(2),
		RunE:  runCompare,
	}

	compareCmd.Flags().Bool("json", false, "Print the full comparison as JSON")

	// Add serve command for the HTTP API
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP API with progress streaming",
		Long:  "Serves /api/v1 validation endpoints, /health, /metrics, and the /ws/progress websocket stream",
		RunE:  runServe,
	}

	serveCmd.Flags().String("host", "", "Bind host (overrides config)")
	serveCmd.Flags().Int("port", 0, "Bind port (overrides config)")

	// Add config command for configuration management
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and bootstrap configuration",
		Long:  "Write the default configuration file or show the effective configuration with validation problems",
	}

	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		RunE:  runConfigInit,
	}

	configInitCmd.Flags().String("path", config.DefaultPath(), "Destination path")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE:  runConfigShow,
	}

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	// Add explicit menu command (though it's also the default)
	menuCmd := &cobra.Command{
		Use:   "menu",
		Short: "Interactive menu interface",
		Long:  "Start the interactive menu system for guided validation workflows",
		Run:   runMenu,
	}

	// Add commands in menu-first order
	rootCmd.AddCommand(menuCmd)     // Menu first
	rootCmd.AddCommand(validateCmd) // Primary functionality
	rootCmd.AddCommand(fixCmd)      // Rewrite rules
	rootCmd.AddCommand(execCmd)     // Sandbox runs
	rootCmd.AddCommand(compareCmd)  // Equivalence
	rootCmd.AddCommand(serveCmd)    // HTTP API
	rootCmd.AddCommand(configCmd)   // Configuration

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// runDefaultEntry implements TTY detection and routing to menu or help
func runDefaultEntry(cmd *cobra.Command, args []string) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		// Non-interactive environment - show guidance
		fmt.Fprintf(os.Stderr, "❌ Interactive menu requires a TTY terminal.\n")
		fmt.Fprintf(os.Stderr, "   Use subcommands and flags for non-interactive automation:\n\n")
		fmt.Fprintf(os.Stderr, "   scanguard validate candidate.py --strict\n")
		fmt.Fprintf(os.Stderr, "   scanguard validate candidate.py --original trusted.py --execute --tickers AAPL,MSFT\n")
		fmt.Fprintf(os.Stderr, "   scanguard --help\n\n")
		os.Exit(2)
	}

	// Interactive terminal - launch the menu
	runMenu(cmd, args)
}

// runMenu starts the interactive menu interface
func runMenu(cmd *cobra.Command, args []string) {
	menuUI := NewMenuUI()
	if err := menuUI.Run(); err != nil {
		log.Error().Err(err).Msg("menu interface failed")
		os.Exit(1)
	}
}

// loadConfig resolves configuration for a command: explicit --config path,
// then the default file when present, then built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.DefaultPath()); err == nil {
		return config.Load(config.DefaultPath())
	}
	return config.GetDefault(), nil
}

// splitTickers parses a comma-separated ticker flag into a clean slice.
func splitTickers(raw string) []string {
	if raw == "" {
		return nil
	}
	var tickers []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tickers = append(tickers, t)
		}
	}
	return tickers
}
