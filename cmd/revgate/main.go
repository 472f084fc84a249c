// Package main is the CLI entry point for revgate — lifecycle hooks for
// automated coding agents.
//
// Revgate wires into the agent runtime's tool lifecycle. Before a gated
// file modification it evaluates the engineering-guideline catalog and
// runs the project's test script; failing tests deny the action. Around
// every tool call it appends structured review records and a
// hash-chained decision ledger entry.
//
// Architecture overview:
//
//	agent runtime --(event JSON on stdin)--> revgate preflight
//	                                          |-- guideline findings
//	                                          |-- test gate (deny on failure)
//	                                          |-- preflight.jsonl + ledger
//	agent runtime --(event JSON on stdin)--> revgate cycle
//	                                          |-- cycle.jsonl + ledger
//
// CLI commands (cobra):
//
//	revgate preflight    - PreToolUse hook entrypoint (stdin JSON)
//	revgate cycle        - PostToolUse hook entrypoint (stdin JSON)
//	revgate gate         - Run the test gate manually
//	revgate guidelines   - List the guideline catalog
//	revgate audit        - Query/verify the decision ledger
//	revgate sessions     - Per-session hook activity
//	revgate hooks        - Install/remove hooks in .claude/settings.json
//	revgate config       - View/write the YAML configuration
//	revgate serve        - Live review feed (web UI + WebSocket)
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/revgate/revgate/internal/audit"
	"github.com/revgate/revgate/internal/config"
	"github.com/revgate/revgate/internal/event"
	"github.com/revgate/revgate/internal/feed"
	"github.com/revgate/revgate/internal/gate"
	"github.com/revgate/revgate/internal/guideline"
	"github.com/revgate/revgate/internal/hook"
	"github.com/revgate/revgate/internal/settings"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-08-20"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// main is the entry point. It builds the cobra command tree and executes it.
// All commands share a common project directory (--project-dir flag on root).
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

// projectDir is the global flag for the project the CLI commands operate
// on. The hook entrypoints ignore it — they take the project from the
// event payload's cwd field instead.
var projectDir string

// rootCmd is the top-level cobra command.
var rootCmd = &cobra.Command{
	Use:   "revgate",
	Short: "Revgate — lifecycle hooks for automated coding agents",
	Long: `Revgate hooks into an automated coding agent's tool lifecycle. Before
file modifications it surfaces engineering-guideline findings and runs
the project's test script — failing tests block the action. Every
decision lands in an append-only, hash-chained ledger.

Run 'revgate hooks install' inside a project to wire up the hooks, and
'revgate serve' for a live review feed.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	// --project-dir: Operate on a project other than the current directory.
	// This flag is persistent so all subcommands inherit it.
	rootCmd.PersistentFlags().StringVar(
		&projectDir,
		"project-dir",
		".",
		"Project directory (config, hook logs, and ledger live under .claude/)",
	)

	// Register all subcommands on the root command.
	rootCmd.AddCommand(preflightCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(gateCmd)
	rootCmd.AddCommand(guidelinesCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(hooksCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

// ============================================================================
// revgate preflight / cycle — Hook entrypoints
// ============================================================================

// preflightCmd is the PreToolUse hook entrypoint: the agent runtime runs
// it with one JSON event on stdin before a tool call executes.
var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "PreToolUse hook entrypoint (reads event JSON from stdin)",
	Long: `PreToolUse hook entrypoint. The agent runtime pipes one JSON event to
stdin; revgate evaluates guideline findings for the tool call, runs the
test gate for gated tools, and appends a preflight record under
.claude/context/review-audit/.

When the gate's test run fails, a deny response is printed to stdout
and no preflight record is written. The process always exits 0 — a
broken hook must never break the agent.`,
	Run: func(cmd *cobra.Command, args []string) {
		runHook(event.PreToolUse, func(p *hook.Pipeline, ev *event.Event) error {
			return p.Preflight(context.Background(), ev)
		})
	},
}

// cycleCmd is the PostToolUse hook entrypoint, run after a tool call
// completes.
var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "PostToolUse hook entrypoint (reads event JSON from stdin)",
	Long: `PostToolUse hook entrypoint. The agent runtime pipes one JSON event to
stdin after a tool call completes; revgate summarizes the call and its
response into a cycle record under .claude/context/review-audit/.
Always exits 0.`,
	Run: func(cmd *cobra.Command, args []string) {
		runHook(event.PostToolUse, func(p *hook.Pipeline, ev *event.Event) error {
			return p.Cycle(ev)
		})
	},
}

// runHook is the shared body of the two hook entrypoints: decode the
// event from stdin, build the pipeline for the event's project, run the
// stage. Everything is fail-open — no event means no work, and failures
// are swallowed after logging so the agent's tool loop is never broken
// by its own hooks.
func runHook(defaultEvent string, stage func(*hook.Pipeline, *event.Event) error) {
	hook.Capture(func() error {
		ev, ok := event.FromStdin(defaultEvent)
		if !ok {
			return nil
		}

		p := hook.NewPipeline(config.LoadOrDefault(ev.Cwd), ev.Cwd, os.Stdout)
		defer p.Close()

		return stage(p, ev)
	})
}

// ============================================================================
// revgate gate — Run the test gate manually
// ============================================================================

// gateCmd runs the configured test script once and reports the outcome.
// Unlike the hook entrypoints this uses normal CLI semantics: failing
// tests yield a non-zero exit code.
var gateCmd = &cobra.Command{
	Use:   "gate",
	Short: "Run the test gate manually",
	Long: `Run the project's test gate exactly as the preflight hook would:
execute scripts/run_make_test.sh (or the configured script) in the
project directory and report the outcome.

Unlike the hook entrypoints, this command uses normal CLI semantics —
it returns a non-zero exit code when the tests fail.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGate(cmd, args)
	},
}

// runGate executes the test script and prints its captured output.
func runGate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.Path(projectDir))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	runner, err := gate.NewRunner(gate.Options{
		Script:    cfg.Gate.Script,
		Tools:     cfg.Gate.Tools,
		Timeout:   time.Duration(cfg.Gate.TimeoutSeconds) * time.Second,
		TailChars: cfg.Gate.TailChars,
		SkipPaths: cfg.Gate.SkipPaths,
	})
	if err != nil {
		return fmt.Errorf("failed to build gate runner: %w", err)
	}

	outcome := runner.Run(context.Background(), projectDir)
	switch outcome.Status {
	case gate.StatusSkipped:
		fmt.Printf("[revgate] Gate skipped: %s\n", outcome.Reason)
	case gate.StatusError:
		return fmt.Errorf("gate execution failed: %s", outcome.Reason)
	case gate.StatusCompleted:
		if outcome.Stdout != "" {
			fmt.Print(outcome.Stdout)
			if !strings.HasSuffix(outcome.Stdout, "\n") {
				fmt.Println()
			}
		}
		if outcome.Stderr != "" {
			fmt.Fprint(os.Stderr, outcome.Stderr)
			if !strings.HasSuffix(outcome.Stderr, "\n") {
				fmt.Fprintln(os.Stderr)
			}
		}
		if outcome.ExitCode != 0 {
			return fmt.Errorf("tests failed (exit code %d)", outcome.ExitCode)
		}
		fmt.Println("[revgate] Tests passed")
	}
	return nil
}

// ============================================================================
// revgate guidelines — List the guideline catalog
// ============================================================================

// guidelineCategories filters the catalog listing (--category flag).
var guidelineCategories []string

// guidelinesCmd prints the guideline catalog, optionally filtered to the
// requested categories, plus the rules active under the current config.
var guidelinesCmd = &cobra.Command{
	Use:   "guidelines",
	Short: "List the guideline catalog",
	Long: `List the engineering-practice guidelines revgate evaluates tool calls
against, with the reference document for each. Use --category to show
only specific entries.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		entries := guideline.Catalog()
		if len(guidelineCategories) > 0 {
			entries = guideline.Links(guidelineCategories)
		}

		if len(entries) == 0 {
			fmt.Println("No guidelines matched.")
			return nil
		}

		fmt.Printf("%-16s %-42s %s\n", "CATEGORY", "TITLE", "REFERENCE")
		fmt.Printf("%-16s %-42s %s\n", "--------", "-----", "---------")
		for _, g := range entries {
			fmt.Printf("%-16s %-42s %s\n", g.Category, g.Title, g.Reference)
		}

		cfg, err := config.Load(config.Path(projectDir))
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		engine := guideline.NewEngine(guideline.Options{
			MinDescription:   cfg.Guidelines.MinDescription,
			LargeChangeChars: cfg.Guidelines.LargeChangeChars,
			Disabled:         cfg.Guidelines.Disabled,
		})
		fmt.Printf("\nActive rules: %s\n", strings.Join(engine.RuleNames(), ", "))
		return nil
	},
}

func init() {
	guidelinesCmd.Flags().StringSliceVar(&guidelineCategories, "category", nil,
		"Filter by category (repeatable or comma-separated)")
}

// ============================================================================
// revgate audit — Query and verify the decision ledger
// ============================================================================

// auditCmd is the parent command for decision ledger operations.
// The ledger is a tamper-evident, hash-chained JSONL file stored under
// .claude/revgate/ledger/ with a SQLite index for fast queries.
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and verify the decision ledger",
	Long: `The decision ledger records the outcome of every hook invocation —
allow, deny, or info — with the session, tool, and file involved.
Entries are hash-chained: each entry's hash depends on the previous
entry, making tampering detectable.`,
}

// auditFollowMode enables real-time following of new entries (-f flag).
var auditFollowMode bool

// auditTailLimit controls how many recent entries to show.
var auditTailLimit int

func init() {
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
}

// auditTailCmd shows recent ledger entries, optionally following in real-time.
var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent ledger entries",
	Long:  `Show the most recent decision ledger entries. Use -f to follow in real-time (like tail -f).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()

		entries, err := ledger.Tail(auditTailLimit)
		if err != nil {
			return fmt.Errorf("failed to read ledger: %w", err)
		}

		for _, entry := range entries {
			printLedgerEntry(entry)
		}

		// If -f flag is set, keep watching for new entries.
		if auditFollowMode {
			return ledger.Follow(context.Background(), func(entry audit.Entry) {
				printLedgerEntry(entry)
			})
		}
		return nil
	},
}

func init() {
	auditTailCmd.Flags().BoolVarP(&auditFollowMode, "follow", "f", false, "Follow new entries in real-time")
	auditTailCmd.Flags().IntVarP(&auditTailLimit, "limit", "n", 20, "Number of recent entries to show")
}

// Ledger query filter flags.
var (
	auditQuerySession  string
	auditQueryTool     string
	auditQueryDecision string
	auditQuerySince    string
	auditQueryPath     string
	auditQueryLimit    int
)

// auditQueryCmd queries the ledger with filters.
var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query ledger entries with filters",
	Long: `Query the decision ledger with filters. Supports filtering by session,
tool, decision (allow/deny/info), time range, and file path glob.

Examples:
  revgate audit query --session abc123 --decision deny --since 1h
  revgate audit query --tool Edit --path 'internal/*' --limit 100`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()

		entries, err := ledger.Query(audit.QueryParams{
			Session:  auditQuerySession,
			Tool:     auditQueryTool,
			Decision: auditQueryDecision,
			Since:    auditQuerySince,
			PathGlob: auditQueryPath,
			Limit:    auditQueryLimit,
		})
		if err != nil {
			return fmt.Errorf("ledger query failed: %w", err)
		}

		if len(entries) == 0 {
			fmt.Println("No matching ledger entries found.")
			return nil
		}

		for _, entry := range entries {
			printLedgerEntry(entry)
		}
		fmt.Printf("\n%d entries found.\n", len(entries))
		return nil
	},
}

func init() {
	auditQueryCmd.Flags().StringVar(&auditQuerySession, "session", "", "Filter by session ID")
	auditQueryCmd.Flags().StringVar(&auditQueryTool, "tool", "", "Filter by tool name")
	auditQueryCmd.Flags().StringVar(&auditQueryDecision, "decision", "", "Filter by decision (allow/deny/info)")
	auditQueryCmd.Flags().StringVar(&auditQuerySince, "since", "", "Show entries since duration (e.g., 1h, 30m, 24h) or ISO timestamp")
	auditQueryCmd.Flags().StringVar(&auditQueryPath, "path", "", "Filter by file path glob (e.g., 'internal/*')")
	auditQueryCmd.Flags().IntVar(&auditQueryLimit, "limit", 50, "Maximum number of entries to return")
}

// auditVerifyCmd verifies the integrity of the hash chain. Each entry's
// hash depends on the previous entry's hash, so any tampering breaks the
// chain from that point forward.
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity",
	Long: `Verify the integrity of the ledger hash chain. Each entry's hash is
computed as SHA-256(prev_hash | seq | ts | session | tool | decision).
If any entry has been tampered with, the chain breaks and this command
reports where the inconsistency was detected.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()

		result, err := ledger.VerifyChain()
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}

		if result.Valid {
			fmt.Printf("[revgate] Hash chain VALID (%d entries verified)\n", result.EntriesChecked)
		} else {
			fmt.Printf("[revgate] Hash chain BROKEN at entry #%d\n", result.BrokenAt)
			fmt.Printf("  Expected hash: %s\n", result.ExpectedHash)
			fmt.Printf("  Actual hash:   %s\n", result.ActualHash)
			return fmt.Errorf("ledger chain integrity violation detected")
		}
		return nil
	},
}

// auditExportFormat controls the export output format (csv, json, jsonl).
var auditExportFormat string

// auditExportCmd exports the full ledger to stdout in the specified format.
var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the decision ledger",
	Long: `Export the full decision ledger to stdout in the specified format.
Supported formats: csv, json, jsonl.

Example:
  revgate audit export --format csv > decisions.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()

		return ledger.Export(os.Stdout, auditExportFormat)
	},
}

func init() {
	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "jsonl", "Export format: csv, json, jsonl")
}

// openLedger loads the project config and opens the decision ledger it
// points at.
func openLedger() (*audit.Ledger, error) {
	cfg, err := config.Load(config.Path(projectDir))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	ledger, err := audit.Open(cfg.LedgerDir(projectDir))
	if err != nil {
		return nil, fmt.Errorf("failed to open decision ledger: %w", err)
	}
	return ledger, nil
}

// printLedgerEntry formats and prints a single ledger entry to stdout.
func printLedgerEntry(e audit.Entry) {
	decision := e.Decision
	// Uppercase denials for terminal visibility.
	if decision == "deny" {
		decision = "DENY"
	}
	session := e.Session
	if session == "" {
		session = "-"
	}
	if e.Path != "" {
		fmt.Printf("[%s] session=%-16s tool=%-10s decision=%-6s path=%s\n",
			e.Timestamp, session, e.Tool, decision, e.Path)
	} else {
		fmt.Printf("[%s] session=%-16s tool=%-10s decision=%s\n",
			e.Timestamp, session, e.Tool, decision)
	}
}

// ============================================================================
// revgate sessions — Per-session hook activity
// ============================================================================

// sessionsCmd lists every agent session recorded in the ledger.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show per-session hook activity",
	Long: `List every agent session recorded in the decision ledger with its
event count, how many actions were denied, and when it was first and
last seen. Sessions are ordered most-recently-active first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer ledger.Close()

		stats, err := ledger.SessionStats()
		if err != nil {
			return fmt.Errorf("failed to read session stats: %w", err)
		}

		if len(stats) == 0 {
			fmt.Println("No sessions recorded yet.")
			return nil
		}

		fmt.Printf("%-24s %-8s %-8s %-32s %s\n", "SESSION", "EVENTS", "DENIED", "FIRST SEEN", "LAST SEEN")
		fmt.Printf("%-24s %-8s %-8s %-32s %s\n", "-------", "------", "------", "----------", "---------")
		for _, s := range stats {
			fmt.Printf("%-24s %-8d %-8d %-32s %s\n",
				s.Session, s.Events, s.Denied, s.FirstSeen, s.LastSeen)
		}
		return nil
	},
}

// ============================================================================
// revgate hooks — Manage hook entries in .claude/settings.json
// ============================================================================

// hooksCmd is the parent command for hook installation management.
var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Manage the hook entries in .claude/settings.json",
	Long: `Install or remove the PreToolUse/PostToolUse hook entries that make the
agent runtime invoke revgate around tool calls. Existing settings are
preserved: only revgate's own entries are added or removed, and the
previous file is backed up to settings.json.bak before every write.`,
}

func init() {
	hooksCmd.AddCommand(hooksInstallCmd)
	hooksCmd.AddCommand(hooksShowCmd)
	hooksCmd.AddCommand(hooksUninstallCmd)
}

// hooksInstallCmd wires the running binary into the project's settings.
var hooksInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the PreToolUse/PostToolUse hooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		binPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to find executable path: %w", err)
		}

		backup, err := settings.Install(projectDir, binPath)
		if err != nil {
			return fmt.Errorf("failed to install hooks: %w", err)
		}

		fmt.Printf("[revgate] Hooks installed in %s\n", settings.Path(projectDir))
		if backup != "" {
			fmt.Printf("[revgate] Previous settings backed up to %s\n", backup)
		}
		fmt.Println("[revgate] The agent now runs 'revgate preflight' before and 'revgate cycle' after tool calls")
		return nil
	},
}

// hooksShowCmd lists which hook events currently carry revgate entries.
var hooksShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show installed revgate hooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := settings.Load(settings.Path(projectDir))
		if err != nil {
			return fmt.Errorf("failed to read settings: %w", err)
		}

		managed := settings.Managed(raw)
		if len(managed) == 0 {
			fmt.Println("No revgate hooks installed. Run 'revgate hooks install'.")
			return nil
		}

		fmt.Printf("[revgate] Managed hook events in %s:\n", settings.Path(projectDir))
		for _, ev := range managed {
			fmt.Printf("  %s\n", ev)
		}
		return nil
	},
}

// hooksUninstallCmd removes revgate's hook entries, leaving everything
// else in the settings file untouched.
var hooksUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the revgate hooks",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := settings.Load(settings.Path(projectDir))
		if err != nil {
			return fmt.Errorf("failed to read settings: %w", err)
		}
		if len(settings.Managed(raw)) == 0 {
			fmt.Println("No revgate hooks installed — nothing to remove.")
			return nil
		}

		backup, err := settings.Uninstall(projectDir)
		if err != nil {
			return fmt.Errorf("failed to uninstall hooks: %w", err)
		}

		fmt.Printf("[revgate] Hooks removed from %s\n", settings.Path(projectDir))
		if backup != "" {
			fmt.Printf("[revgate] Previous settings backed up to %s\n", backup)
		}
		return nil
	},
}

// ============================================================================
// revgate config — Configuration management
// ============================================================================

// configCmd is the parent command for configuration operations.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and manage the revgate configuration",
	Long: `Manage the revgate configuration. The config file lives at
.claude/revgate.yaml inside the project and defines the gate script,
gated tools, guideline thresholds, ledger location, and the feed
server's listen address. Every key has a default — a missing config
file means default behavior, never an error.`,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

// configShowCmd prints the current configuration file to stdout.
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.Path(projectDir)
		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("No config file found at %s (defaults are in effect)\n", configPath)
				fmt.Println("Run 'revgate config init' to write a commented default config.")
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	},
}

// configInitCmd writes the commented default config file.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.Path(projectDir)
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config already exists at %s", configPath)
		}

		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}

		fmt.Printf("[revgate] Wrote default config to %s\n", configPath)
		return nil
	},
}

// ============================================================================
// revgate serve — Live review feed
// ============================================================================

// serveCmd runs the local web server with the live review feed.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the live review feed",
	Long: `Serve the live review feed: a single-page web UI over the decision
ledger with per-session stats, the guideline catalog, and a WebSocket
stream of new decisions as hook invocations append them.

Binds to the address in the config (default 127.0.0.1:7333).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, args)
	},
}

// runServe wires the feed server together and blocks until SIGINT/SIGTERM:
//
//  1. Load config and open the decision ledger
//  2. Start the feed server (HTTP + WebSocket hub)
//  3. Watch the ledger directory — hook invocations are separate
//     processes, so new entries arrive via the filesystem
//  4. Serve until a shutdown signal, then drain and log the stop
func runServe(cmd *cobra.Command, args []string) error {
	dir, err := filepath.Abs(projectDir)
	if err != nil {
		return fmt.Errorf("failed to resolve project directory: %w", err)
	}

	cfg, err := config.Load(config.Path(dir))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Ledger.Enabled {
		return fmt.Errorf("decision ledger is disabled in config — the feed has nothing to serve")
	}

	ledger, err := audit.Open(cfg.LedgerDir(dir))
	if err != nil {
		return fmt.Errorf("failed to open decision ledger: %w", err)
	}
	defer ledger.Close()

	ledger.LogLifecycle("serve_start")

	srv := feed.New(feed.Options{
		Ledger:     ledger,
		ProjectDir: dir,
	})

	// Watch the ledger directory so entries appended by hook processes
	// reach connected WebSocket clients without polling. The config
	// directory is watched too, but config changes need a restart.
	watcher, err := config.NewWatcher(filepath.Dir(config.Path(dir)), cfg.LedgerDir(dir), config.WatchTargets{
		OnConfigChange: func() {
			fmt.Println("[revgate] Config changed — restart serve to apply")
		},
		OnLedgerAppend: func() {
			srv.PublishNew()
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start ledger watcher: %w", err)
	}
	defer watcher.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Serve.Host, cfg.Serve.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout — WebSocket connections stay open indefinitely.
	}

	// Graceful shutdown on SIGINT (Ctrl+C) or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[revgate] Review feed at http://%s\n", addr)
		fmt.Println("[revgate] Press Ctrl+C to stop")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[revgate] Shutting down...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Drain in-flight requests, then record the stop in the ledger.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[revgate] Shutdown error: %v\n", shutdownErr)
	}

	ledger.LogLifecycle("serve_stop")
	fmt.Println("[revgate] Stopped")
	return nil
}
