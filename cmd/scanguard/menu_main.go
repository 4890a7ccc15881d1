package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/scanguard/scanguard/internal/infrastructure/db"
)

// MenuUI provides the interactive interface for ScanGuard
type MenuUI struct {
	in *bufio.Reader
}

func NewMenuUI() *MenuUI {
	return &MenuUI{in: bufio.NewReader(os.Stdin)}
}

// Run starts the interactive menu system
func (ui *MenuUI) Run() error {
	log.Info().Msg("Starting ScanGuard interactive menu")

	// Clear screen and show banner
	fmt.Print("\033[2J\033[H")
	ui.showBanner()

	for {
		choice, err := ui.showMainMenu()
		if err != nil {
			return fmt.Errorf("menu error: %w", err)
		}

		if err := ui.handleMenuChoice(choice); err != nil {
			if err.Error() == "exit" {
				break
			}
			log.Error().Err(err).Msg("Menu action failed")
			ui.waitForEnter()
		}
	}

	log.Info().Msg("ScanGuard menu session ended")
	return nil
}

// showBanner displays the interface banner
func (ui *MenuUI) showBanner() {
	fmt.Printf(`
 ╔═══════════════════════════════════════════════════════════╗
 ║                   🛡️  %s %s                     ║
 ║          Trading Scanner Validation & Equivalence         ║
 ║                                                           ║
 ║    Score regenerated scanner candidates, fix known        ║
 ║    defects, and prove signal equivalence before deploy    ║
 ║                                                           ║
 ╚═══════════════════════════════════════════════════════════╝

`, appName, version)
}

// showMainMenu displays the main menu and gets user choice
func (ui *MenuUI) showMainMenu() (string, error) {
	fmt.Printf(`
╔══════════════ MAIN MENU ══════════════╗

 1. 🛡️  Validate - Score a Candidate
 2. 🔬 Verify - Validate + Sandbox Comparison
 3. 🔧 Fix - Apply Rewrite Rules
 4. 🏃 Exec - Sandbox a Scanner Run
 5. ⚖️  Compare - Captured Signal Sets
 6. 📈 Serve - HTTP API & Progress Stream
 7. 📜 History - Recent Validation Runs
 8. ⚙️  Settings - Configuration
 0. 🚪 Exit

╚═══════════════════════════════════════╝

Enter your choice (0-8): `)

	choice, err := ui.readLine()
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	return choice, nil
}

// handleMenuChoice routes menu selections to the same functions the CLI uses
func (ui *MenuUI) handleMenuChoice(choice string) error {
	switch choice {
	case "1":
		return ui.handleValidate(false)
	case "2":
		return ui.handleValidate(true)
	case "3":
		return ui.handleFix()
	case "4":
		return ui.handleExec()
	case "5":
		return ui.handleCompare()
	case "6":
		return ui.handleServe()
	case "7":
		return ui.handleHistory()
	case "8":
		return ui.handleSettings()
	case "0":
		return fmt.Errorf("exit")
	default:
		fmt.Printf("❌ Invalid choice: %s\n", choice)
		return nil
	}
}

// handleValidate runs the validation pipeline via the same function as CLI
func (ui *MenuUI) handleValidate(execute bool) error {
	candidate := ui.prompt("Candidate scanner path", "")
	if candidate == "" {
		fmt.Println("❌ A candidate path is required")
		ui.waitForEnter()
		return nil
	}

	cmd := newValidateMenuCommand()
	if ui.promptYesNo("Strict mode") {
		cmd.Flags().Set("strict", "true")
	}

	if execute {
		original := ui.prompt("Trusted original scanner path", "")
		if original == "" {
			fmt.Println("❌ Execution comparison requires the original scanner")
			ui.waitForEnter()
			return nil
		}
		cmd.Flags().Set("execute", "true")
		cmd.Flags().Set("original", original)
		cmd.Flags().Set("start-date", ui.prompt("Start date (YYYY-MM-DD)", ""))
		cmd.Flags().Set("end-date", ui.prompt("End date (YYYY-MM-DD)", ""))
		cmd.Flags().Set("tickers", ui.prompt("Tickers (comma-separated, blank for all)", ""))
	}

	fmt.Println("🛡️  Running validation pipeline...")

	// Call the exact same function as CLI - no duplicated logic
	if err := runValidate(cmd, []string{candidate}); err != nil {
		fmt.Printf("❌ %v\n", err)
	}
	ui.waitForEnter()
	return nil
}

// handleFix applies rewrite rules via the same function as CLI
func (ui *MenuUI) handleFix() error {
	candidate := ui.prompt("Candidate scanner path", "")
	if candidate == "" {
		fmt.Println("❌ A candidate path is required")
		ui.waitForEnter()
		return nil
	}

	cmd := newFixMenuCommand()
	if ui.promptYesNo("Rewrite the file in place") {
		cmd.Flags().Set("write", "true")
	} else {
		cmd.Flags().Set("out", candidate+".fixed")
	}

	if err := runFix(cmd, []string{candidate}); err != nil {
		fmt.Printf("❌ Fix failed: %v\n", err)
	}
	ui.waitForEnter()
	return nil
}

// handleExec runs a scanner in the sandbox via the same function as CLI
func (ui *MenuUI) handleExec() error {
	scanner := ui.prompt("Scanner path", "")
	if scanner == "" {
		fmt.Println("❌ A scanner path is required")
		ui.waitForEnter()
		return nil
	}

	cmd := newExecMenuCommand()
	cmd.Flags().Set("start-date", ui.prompt("Start date (YYYY-MM-DD)", ""))
	cmd.Flags().Set("end-date", ui.prompt("End date (YYYY-MM-DD)", ""))
	cmd.Flags().Set("tickers", ui.prompt("Tickers (comma-separated, blank for all)", ""))

	fmt.Println("🏃 Executing in sandbox...")

	if err := runExec(cmd, []string{scanner}); err != nil {
		fmt.Printf("❌ %v\n", err)
	}
	ui.waitForEnter()
	return nil
}

// handleCompare reconciles two captured execution results
func (ui *MenuUI) handleCompare() error {
	original := ui.prompt("Original execution result (JSON path)", "")
	candidate := ui.prompt("Candidate execution result (JSON path)", "")
	if original == "" || candidate == "" {
		fmt.Println("❌ Both result paths are required")
		ui.waitForEnter()
		return nil
	}

	cmd := &cobra.Command{}
	cmd.Flags().Bool("json", false, "JSON output")

	if err := runCompare(cmd, []string{original, candidate}); err != nil {
		fmt.Printf("❌ %v\n", err)
	}
	ui.waitForEnter()
	return nil
}

// handleServe starts the HTTP API and blocks until interrupted
func (ui *MenuUI) handleServe() error {
	fmt.Println("📈 Starting HTTP API (Ctrl+C to stop)...")

	cmd := &cobra.Command{}
	cmd.Flags().String("host", "", "Bind host")
	cmd.Flags().Int("port", 0, "Bind port")

	if err := runServe(cmd, []string{}); err != nil {
		fmt.Printf("❌ Server failed: %v\n", err)
	}
	ui.waitForEnter()
	return nil
}

// handleHistory lists recent validation runs from the database
func (ui *MenuUI) handleHistory() error {
	cfg, err := loadConfig(&cobra.Command{})
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		fmt.Println("📜 Run history requires database.enabled: true in the config file")
		ui.waitForEnter()
		return nil
	}

	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	defer manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs, err := manager.Repository().Runs.ListRecent(ctx, 15)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("📜 No validation runs recorded yet")
		ui.waitForEnter()
		return nil
	}

	fmt.Printf("\n%-10s %-17s %-6s %-10s %-7s %s\n", "RUN", "WHEN", "SCORE", "STATUS", "DEPLOY", "RULES")
	for _, run := range runs {
		deploy := "no"
		if run.CanDeploy {
			deploy = "yes"
		}
		fmt.Printf("%-10s %-17s %-6d %-10s %-7s %s\n",
			shortRunID(run.ID), run.CreatedAt.Format("2006-01-02 15:04"),
			run.OverallScore, run.Status, deploy, joinOrNone(run.RulesApplied))
	}
	ui.waitForEnter()
	return nil
}

// handleSettings shows the configuration submenu
func (ui *MenuUI) handleSettings() error {
	fmt.Printf(`
╔══════════ SETTINGS MENU ══════════╗

 1. 📄 Show Effective Configuration
 2. 💾 Write Default Config File
 0. ← Back to Main Menu

╚═══════════════════════════════════╝

Enter choice: `)

	choice, _ := ui.readLine()

	switch choice {
	case "1":
		if err := runConfigShow(&cobra.Command{}, []string{}); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		ui.waitForEnter()
	case "2":
		cmd := &cobra.Command{}
		cmd.Flags().String("path", "", "Destination path")
		cmd.Flags().Bool("force", false, "Overwrite")
		cmd.Flags().Set("path", ui.prompt("Destination path", "config/scanguard.yaml"))
		if ui.promptYesNo("Overwrite if present") {
			cmd.Flags().Set("force", "true")
		}
		if err := runConfigInit(cmd, []string{}); err != nil {
			fmt.Printf("❌ %v\n", err)
		}
		ui.waitForEnter()
	}
	return nil
}

// Mock cobra commands with default flag values for menu->CLI function reuse

func newValidateMenuCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("original", "", "Original scanner path")
	cmd.Flags().String("scanner-type", "multi", "Scanner shape")
	cmd.Flags().Bool("strict", false, "Strict mode")
	cmd.Flags().Bool("execute", false, "Execute comparison")
	cmd.Flags().String("start-date", "", "Window start")
	cmd.Flags().String("end-date", "", "Window end")
	cmd.Flags().String("tickers", "", "Ticker subset")
	cmd.Flags().Int("timeout-ms", 0, "Timeout override")
	cmd.Flags().String("progress", "plain", "Progress output mode (plain for menu)")
	cmd.Flags().String("out", "", "Artifacts directory")
	cmd.Flags().Bool("no-artifacts", false, "Skip artifacts")
	return cmd
}

func newFixMenuCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().Bool("write", false, "Rewrite in place")
	cmd.Flags().String("out", "", "Output path")
	return cmd
}

func newExecMenuCommand() *cobra.Command {
	cmd := &cobra.Command{}
	cmd.Flags().String("start-date", "", "Window start")
	cmd.Flags().String("end-date", "", "Window end")
	cmd.Flags().String("tickers", "", "Ticker subset")
	cmd.Flags().Int("timeout-ms", 0, "Timeout override")
	cmd.Flags().Bool("json", false, "JSON output")
	return cmd
}

// Input helpers

func (ui *MenuUI) readLine() (string, error) {
	line, err := ui.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (ui *MenuUI) prompt(label, fallback string) string {
	if fallback != "" {
		fmt.Printf("%s [%s]: ", label, fallback)
	} else {
		fmt.Printf("%s: ", label)
	}
	value, err := ui.readLine()
	if err != nil || value == "" {
		return fallback
	}
	return value
}

func (ui *MenuUI) promptYesNo(label string) bool {
	fmt.Printf("%s (y/N): ", label)
	value, _ := ui.readLine()
	value = strings.ToLower(value)
	return value == "y" || value == "yes"
}

func (ui *MenuUI) waitForEnter() {
	fmt.Print("\nPress Enter to continue...")
	ui.readLine()
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
