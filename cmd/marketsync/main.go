// marketsync keeps a local OHLCV archive in step with its market data
// provider: incremental daily syncs, full-history downloads, calendar-aware
// gap repair, and integrity validation for NSE equities and indices.
//
// Usage:
//
//	marketsync sync --symbols RELIANCE,TCS --intervals 1d
//	marketsync download --force
//	marketsync gaps --fix
//	marketsync validate --output reports/validation.json
//	marketsync failures --format json
//	marketsync schedule
//
// For detailed help on any command, use: marketsync <command> --help
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tsengine/go-marketsync/internal/config"
	"github.com/tsengine/go-marketsync/internal/logger"
	"github.com/tsengine/go-marketsync/internal/metadata"
	"github.com/tsengine/go-marketsync/internal/models"
	"github.com/tsengine/go-marketsync/internal/provider"
	"github.com/tsengine/go-marketsync/internal/retry"
	"github.com/tsengine/go-marketsync/internal/storage"
	"github.com/tsengine/go-marketsync/internal/syncer"
)

// CLI version information
const (
	Version          = "1.0.0"
	AppName          = "marketsync"
	DefaultConfigDir = "config"
	ConfigDirEnv     = "MARKETSYNC_CONFIG_DIR"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitHealthError = 3
	ExitDataError   = 4
	ExitInterrupt   = 130
)

// CLI wires the engine components behind the command handlers.
type CLI struct {
	cfg      *config.Config
	logs     *logger.Manager
	logger   *slog.Logger
	store    storage.SeriesStore
	metadata *metadata.Store
	provider provider.Provider
	ledger   *retry.Ledger
	syncer   *syncer.Syncer
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	command := os.Args[1]
	args := os.Args[2:]

	// Informational commands work without configuration.
	switch command {
	case "--version", "-v", "version":
		fmt.Printf("%s version %s\n", AppName, Version)
		return
	case "--help", "-h", "help":
		if len(args) > 0 {
			printCommandHelp(args[0])
		} else {
			printUsage()
		}
		return
	}

	// Signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize %s: %v\n", AppName, err)
		os.Exit(ExitConfigError)
	}

	switch command {
	case "sync":
		cli.exitOn(cli.handleSync(ctx, args), "sync failed")
	case "download":
		cli.exitOn(cli.handleDownload(ctx, args), "download failed")
	case "gaps":
		cli.exitOn(cli.handleGaps(ctx, args), "gap analysis failed")
	case "validate":
		cli.exitOn(cli.handleValidate(ctx, args), "validation failed")
	case "failures":
		cli.exitOn(cli.handleFailures(ctx, args), "failure report failed")
	case "health":
		if err := cli.handleHealth(ctx, args); err != nil {
			cli.logger.Error("health check failed", slog.String("error", err.Error()))
			os.Exit(ExitHealthError)
		}
	case "schedule":
		cli.exitOn(cli.handleSchedule(ctx, args), "scheduler failed")
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	cli.close()
}

// initialize loads configuration and builds the component graph.
func (c *CLI) initialize(ctx context.Context) error {
	dir := os.Getenv(ConfigDirEnv)
	if dir == "" {
		dir = DefaultConfigDir
	}

	cfg, err := config.NewLoader(dir, nil).Load()
	if err != nil {
		return err
	}
	c.cfg = cfg

	logs, err := logger.NewManager(cfg.Logging)
	if err != nil {
		return err
	}
	c.logs = logs
	c.logger = logs.Component("cli")

	store, err := storage.Open(cfg.Data, logs.Component("storage"))
	if err != nil {
		return err
	}
	c.store = store

	meta, err := metadata.NewStore(cfg.MetadataDir(), logs.Component("metadata"))
	if err != nil {
		return err
	}
	c.metadata = meta

	alertLog := logs.Component("alerts")
	c.ledger = retry.NewLedger(cfg.LedgerPath(), func(f retry.Failure) error {
		alertLog.Warn("download failure recorded",
			slog.String("symbol", f.Symbol),
			slog.String("interval", f.Interval),
			slog.String("error", f.Error))
		return nil
	}, logs.Component("retry"))

	client := provider.NewChartClient(cfg.Provider, retry.FromConfig(cfg.Retry), logs.Component("provider"))
	c.provider = client

	s, err := syncer.New(syncer.Deps{
		Provider: client,
		Store:    store,
		Metadata: meta,
		Ledger:   c.ledger,
		Logger:   logs.Component("syncer"),
	}, cfg)
	if err != nil {
		return err
	}
	c.syncer = s

	c.logger.Debug("initialized",
		slog.String("config_dir", dir),
		slog.String("data_dir", cfg.Data.Dir),
		slog.String("backend", cfg.Data.Backend))
	return nil
}

// exitOn terminates the process when err is set. Interrupts exit 130
// without a log entry; everything else logs and exits with a data error.
func (c *CLI) exitOn(err error, msg string) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "interrupted")
		os.Exit(ExitInterrupt)
	}
	c.logger.Error(msg, slog.String("error", err.Error()))
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(ExitDataError)
}

func (c *CLI) close() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			c.logger.Warn("storage close failed", slog.String("error", err.Error()))
		}
	}
	if c.logs != nil {
		_ = c.logs.Close()
	}
}

// Command handlers

// handleSync runs an incremental update across the requested entities.
func (c *CLI) handleSync(ctx context.Context, args []string) error {
	flags, err := parseSyncFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("sync")
		return nil
	}

	if flags.Date != "" {
		if _, err := time.Parse("2006-01-02", flags.Date); err != nil {
			return fmt.Errorf("invalid date format, use YYYY-MM-DD: %w", err)
		}
	}

	c.logger.Info("starting sync",
		slog.Int("symbols", len(flags.Symbols)),
		slog.Int("intervals", len(flags.Intervals)),
		slog.String("date", flags.Date),
		slog.Bool("dry_run", flags.DryRun),
		slog.Bool("force", flags.Force))

	stats, err := c.syncer.Run(ctx, syncer.RunOptions{
		Symbols:    flags.Symbols,
		Intervals:  flags.Intervals,
		TargetDate: flags.Date,
		DryRun:     flags.DryRun,
		Force:      flags.Force,
		Workers:    flags.Workers,
	})
	if err != nil {
		if stats != nil {
			fmt.Printf("Sync interrupted: %s\n", stats.Summary())
		}
		return err
	}

	if flags.DryRun {
		fmt.Printf("✅ Dry run complete: %s\n", stats.Summary())
		return nil
	}
	fmt.Printf("✅ Sync complete: %s\n", stats.Summary())
	if stats.Failed > 0 {
		fmt.Printf("   %d entities failed; run '%s failures' for details\n", stats.Failed, AppName)
	}
	return nil
}

// handleDownload fetches full history for entities with no stored data.
func (c *CLI) handleDownload(ctx context.Context, args []string) error {
	flags, err := parseDownloadFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("download")
		return nil
	}

	c.logger.Info("starting full history download",
		slog.Int("symbols", len(flags.Symbols)),
		slog.Int("intervals", len(flags.Intervals)),
		slog.Bool("force", flags.Force))

	stats, err := c.syncer.Backfill(ctx, syncer.BackfillOptions{
		Symbols:   flags.Symbols,
		Intervals: flags.Intervals,
		Force:     flags.Force,
		Workers:   flags.Workers,
	})
	if err != nil {
		if stats != nil {
			fmt.Printf("Download interrupted: %s\n", stats.Summary())
		}
		return err
	}

	fmt.Printf("✅ Download complete: %s\n", stats.Summary())
	if stats.Skipped > 0 {
		fmt.Printf("   %d entities already had data (use --force to re-download)\n", stats.Skipped)
	}
	if stats.Failed > 0 {
		fmt.Printf("   %d entities failed; run '%s failures' for details\n", stats.Failed, AppName)
	}
	return nil
}

// handleGaps analyzes stored series for continuity holes and optionally
// repairs the fixable ones.
func (c *CLI) handleGaps(ctx context.Context, args []string) error {
	flags, err := parseGapsFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("gaps")
		return nil
	}

	opts := syncer.GapOptions{Symbols: flags.Symbols, Intervals: flags.Intervals}
	repair := flags.Fix && !flags.DryRun

	var report *syncer.GapReport
	if repair {
		report, err = c.syncer.FixGaps(ctx, opts)
	} else {
		report, err = c.syncer.AnalyzeGaps(ctx, opts)
	}
	if err != nil {
		return err
	}

	st := report.Stats
	if st.Found == 0 {
		fmt.Printf("✅ No gaps found across %d entities\n", st.Entities)
		return nil
	}

	fmt.Printf("🔍 Found %d gaps across %d entities: %d expected (weekends/holidays), %d fixable\n\n",
		st.Found, st.Entities, st.Expected, st.Fixable)
	for _, entity := range report.Entities {
		for _, gap := range entity.Gaps {
			label := string(gap.Reason)
			if label == "" {
				label = "unclassified"
			}
			if gap.Fixable {
				label = "fixable"
			}
			fmt.Printf("   %s %s: %s to %s (%s)\n",
				entity.Symbol, entity.Interval,
				gap.Start.Format("2006-01-02"), gap.End.Format("2006-01-02"), label)
		}
	}

	if repair {
		fmt.Printf("\n✅ Repaired %d of %d fixable gaps", st.Fixed, st.Fixable)
		if st.Unfixable > 0 {
			fmt.Printf(" (%d could not be filled)", st.Unfixable)
		}
		fmt.Printf("\n")
	} else if st.Fixable > 0 {
		fmt.Printf("\nTo repair these gaps, run: %s gaps --fix\n", AppName)
	}

	if flags.Output != "" {
		if err := report.WriteJSON(flags.Output); err != nil {
			return err
		}
		fmt.Printf("Report written to %s\n", flags.Output)
	}
	return nil
}

// handleValidate sweeps stored series through the integrity checks.
func (c *CLI) handleValidate(ctx context.Context, args []string) error {
	flags, err := parseValidateFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("validate")
		return nil
	}

	report, err := c.syncer.ValidateAll(ctx, syncer.ValidateOptions{
		Symbols:   flags.Symbols,
		Intervals: flags.Intervals,
		Fix:       flags.Fix,
	})
	if err != nil {
		return err
	}

	fmt.Printf("📊 Validation: %d entities, %d valid, %d with issues, %d missing\n",
		report.TotalEntities, report.ValidEntities, report.WithIssues, report.Missing)
	if report.FixMode && report.FixedEntities > 0 {
		fmt.Printf("   repaired and re-saved %d entities\n", report.FixedEntities)
	}

	if len(report.IssuesByCategory) > 0 {
		categories := make([]models.IssueCategory, 0, len(report.IssuesByCategory))
		for category := range report.IssuesByCategory {
			categories = append(categories, category)
		}
		sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })
		fmt.Printf("\n   Issues by category:\n")
		for _, category := range categories {
			fmt.Printf("   %-14s %d\n", category, report.IssuesByCategory[category])
		}
	}

	if len(report.Redownload) > 0 {
		symbols := make([]string, 0, len(report.Redownload))
		fmt.Printf("\n   %d entities need a full re-download:\n", len(report.Redownload))
		for _, item := range report.Redownload {
			fmt.Printf("   - %s %s: %s\n", item.Symbol, item.Interval, strings.Join(item.Reasons, "; "))
			symbols = append(symbols, item.Symbol)
		}
		fmt.Printf("\nTo re-download, run: %s download --symbols %s --force\n",
			AppName, strings.Join(dedupe(symbols), ","))
	}

	if flags.Output != "" {
		if err := report.WriteJSON(flags.Output); err != nil {
			return err
		}
		fmt.Printf("Report written to %s\n", flags.Output)
	}
	return nil
}

// handleFailures reports on or clears the persistent failure ledger.
func (c *CLI) handleFailures(ctx context.Context, args []string) error {
	flags, err := parseFailuresFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("failures")
		return nil
	}

	if flags.Clear || flags.ClearOlderThan >= 0 {
		var olderThan *int
		if flags.ClearOlderThan >= 0 {
			olderThan = &flags.ClearOlderThan
		}
		removed, err := c.ledger.Clear(olderThan)
		if err != nil {
			return err
		}
		fmt.Printf("✅ Cleared %d failure records\n", removed)
		return nil
	}

	if flags.Symbol != "" {
		failures := c.ledger.Failures(retry.FilterOptions{Symbol: flags.Symbol})
		if len(failures) == 0 {
			fmt.Printf("No recorded failures for %s\n", flags.Symbol)
			return nil
		}
		fmt.Printf("🔍 %d recorded failures for %s:\n", len(failures), flags.Symbol)
		for _, f := range failures {
			fmt.Printf("   %s [%s] %s\n", f.Timestamp.Format(time.RFC3339), f.Interval, f.Error)
		}
		return nil
	}

	if flags.Output != "" {
		if err := c.ledger.WriteReport(flags.Output, flags.Format); err != nil {
			return err
		}
		fmt.Printf("Report written to %s\n", flags.Output)
		return nil
	}

	report, err := c.ledger.Report(flags.Format)
	if err != nil {
		return err
	}
	fmt.Println(strings.TrimRight(report, "\n"))
	return nil
}

// handleHealth probes the provider and prints the effective configuration.
func (c *CLI) handleHealth(ctx context.Context, args []string) error {
	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			printCommandHelp("health")
			return nil
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	start := time.Now()
	if err := c.provider.HealthCheck(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: provider unreachable: %v\n", err)
		return err
	}

	fmt.Printf("✅ Provider reachable in %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Printf("   storage:   %s backend at %s\n", c.cfg.Data.Backend, c.cfg.Data.Dir)
	fmt.Printf("   tracking:  %d symbols, %d indices\n", len(c.cfg.Symbols), len(c.cfg.Indices))
	fmt.Printf("   intervals: %s\n", strings.Join(c.cfg.Sync.Intervals, ", "))
	fmt.Printf("   ledger:    %s\n", c.cfg.LedgerPath())

	if stats, err := c.metadata.Statistics(); err == nil && stats.TotalEntities > 0 {
		fmt.Printf("   archive:   %d entities, %d rows, %d downloads in last 24h\n",
			stats.TotalEntities, stats.TotalRows, stats.RecentDownloads)
	}
	return nil
}

// handleSchedule runs incremental syncs continuously on a cron schedule.
func (c *CLI) handleSchedule(ctx context.Context, args []string) error {
	flags, err := parseScheduleFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("schedule")
		return nil
	}

	spec := c.cfg.Schedule.Cron
	if flags.Cron != "" {
		spec = flags.Cron
	}

	sched := syncer.NewScheduler(c.logs.Component("scheduler"))
	err = sched.Register(spec, "sync", func(jobCtx context.Context) {
		stats, err := c.syncer.Run(jobCtx, syncer.RunOptions{})
		if err != nil {
			c.logger.Error("scheduled sync failed", slog.String("error", err.Error()))
			return
		}
		c.logger.Info("scheduled sync finished", slog.String("summary", stats.Summary()))
	})
	if err != nil {
		return err
	}

	fmt.Printf("🚀 Scheduler running with spec %q; press Ctrl+C to stop\n", spec)
	return sched.Run(ctx)
}

// Flag types

// SyncFlags holds parsed flags for the sync command.
type SyncFlags struct {
	Symbols   []string
	Intervals []string
	Date      string
	DryRun    bool
	Force     bool
	Workers   int
	Help      bool
}

// DownloadFlags holds parsed flags for the download command.
type DownloadFlags struct {
	Symbols   []string
	Intervals []string
	Force     bool
	Workers   int
	Help      bool
}

// GapsFlags holds parsed flags for the gaps command.
type GapsFlags struct {
	Symbols   []string
	Intervals []string
	Fix       bool
	DryRun    bool
	Output    string
	Help      bool
}

// ValidateFlags holds parsed flags for the validate command.
type ValidateFlags struct {
	Symbols   []string
	Intervals []string
	Fix       bool
	Output    string
	Help      bool
}

// FailuresFlags holds parsed flags for the failures command.
type FailuresFlags struct {
	Format         string
	Output         string
	Symbol         string
	Clear          bool
	ClearOlderThan int
	Help           bool
}

// ScheduleFlags holds parsed flags for the schedule command.
type ScheduleFlags struct {
	Cron string
	Help bool
}

// Flag parsing functions

func parseSyncFlags(args []string) (*SyncFlags, error) {
	flags := &SyncFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbols", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbols requires a value")
			}
			flags.Symbols = splitList(strings.ToUpper(args[i+1]))
			i++
		case "--intervals", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--intervals requires a value")
			}
			flags.Intervals = splitList(args[i+1])
			i++
		case "--date", "-d":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--date requires a value")
			}
			flags.Date = args[i+1]
			i++
		case "--workers", "-w":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--workers requires a value")
			}
			workers, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid workers value: %w", err)
			}
			flags.Workers = workers
			i++
		case "--dry-run":
			flags.DryRun = true
		case "--force", "-f":
			flags.Force = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseDownloadFlags(args []string) (*DownloadFlags, error) {
	flags := &DownloadFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbols", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbols requires a value")
			}
			flags.Symbols = splitList(strings.ToUpper(args[i+1]))
			i++
		case "--intervals", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--intervals requires a value")
			}
			flags.Intervals = splitList(args[i+1])
			i++
		case "--workers", "-w":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--workers requires a value")
			}
			workers, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid workers value: %w", err)
			}
			flags.Workers = workers
			i++
		case "--force", "-f":
			flags.Force = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseGapsFlags(args []string) (*GapsFlags, error) {
	flags := &GapsFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbols", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbols requires a value")
			}
			flags.Symbols = splitList(strings.ToUpper(args[i+1]))
			i++
		case "--intervals", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--intervals requires a value")
			}
			flags.Intervals = splitList(args[i+1])
			i++
		case "--output", "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--output requires a value")
			}
			flags.Output = args[i+1]
			i++
		case "--fix":
			flags.Fix = true
		case "--dry-run":
			flags.DryRun = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseValidateFlags(args []string) (*ValidateFlags, error) {
	flags := &ValidateFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--symbols", "-s":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbols requires a value")
			}
			flags.Symbols = splitList(strings.ToUpper(args[i+1]))
			i++
		case "--intervals", "-i":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--intervals requires a value")
			}
			flags.Intervals = splitList(args[i+1])
			i++
		case "--output", "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--output requires a value")
			}
			flags.Output = args[i+1]
			i++
		case "--fix":
			flags.Fix = true
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

func parseFailuresFlags(args []string) (*FailuresFlags, error) {
	flags := &FailuresFlags{
		Format:         "text", // default report format
		ClearOlderThan: -1,     // -1 means not set
	}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--format":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires a value")
			}
			flags.Format = args[i+1]
			i++
		case "--output", "-o":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--output requires a value")
			}
			flags.Output = args[i+1]
			i++
		case "--symbol":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--symbol requires a value")
			}
			flags.Symbol = strings.ToUpper(args[i+1])
			i++
		case "--clear":
			flags.Clear = true
		case "--clear-older-than":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--clear-older-than requires a value")
			}
			days, err := strconv.Atoi(args[i+1])
			if err != nil || days < 0 {
				return nil, fmt.Errorf("invalid --clear-older-than value: %s", args[i+1])
			}
			flags.ClearOlderThan = days
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if flags.Format != "text" && flags.Format != "json" {
		return nil, fmt.Errorf("invalid format %q, use text or json", flags.Format)
	}

	return flags, nil
}

func parseScheduleFlags(args []string) (*ScheduleFlags, error) {
	flags := &ScheduleFlags{}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--cron":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--cron requires a value")
			}
			flags.Cron = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	return flags, nil
}

// splitList splits a comma-separated flag value into trimmed, non-empty parts.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// dedupe removes duplicates while preserving first-seen order.
func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Help and usage functions

// printUsage prints the main usage information
func printUsage() {
	fmt.Printf(`%s - Market Data Sync Engine v%s

USAGE:
    %s <command> [options]

COMMANDS:
    sync        Incrementally update stored series from the provider
    download    Download full history for entities with no local data
    gaps        Detect calendar-aware gaps and optionally repair them
    validate    Run integrity checks across stored series
    failures    Report on or clear the persistent failure ledger
    health      Check provider connectivity and show configuration
    schedule    Run syncs continuously on a cron schedule

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Update every configured symbol and interval
    %s sync

    # Re-fetch a single trading day for two symbols
    %s sync --symbols RELIANCE,TCS --date 2024-01-15 --force

    # First-time full history download
    %s download

    # Find gaps and repair the fixable ones
    %s gaps --fix

    # Validate everything and write a JSON report
    %s validate --output reports/validation.json

CONFIGURATION:
    Configuration is read from YAML files in the config directory
    (%s/ by default, override with %s):

    config.yaml    engine settings (data, sync, retry, provider, logging)
    symbols.yaml   tracked equity symbols
    indices.yaml   tracked index symbols

    Environment variables prefixed MARKETSYNC_ override file values.
    A .env file in the working directory is loaded when present.

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName, AppName,
		DefaultConfigDir, ConfigDirEnv, AppName)
}

// printCommandHelp prints detailed help for a specific command
func printCommandHelp(command string) {
	switch command {
	case "sync":
		fmt.Printf(`%s sync - Incrementally update stored series

USAGE:
    %s sync [options]

OPTIONS:
    --symbols, -s <list>    Comma-separated symbols (default: all configured)
    --intervals, -i <list>  Comma-separated intervals (default: from config)
    --date, -d <date>       Re-fetch a single day (YYYY-MM-DD) instead of
                            the window after the stored cursor
    --dry-run               Plan fetch windows without calling the provider
    --force, -f             Sync even entities updated recently
    --workers, -w <n>       Concurrent entities (default: from config)
    --help, -h              Show this help

EXAMPLES:
    %s sync
    %s sync --symbols RELIANCE --date 2024-01-15 --force
    %s sync --intervals 1d,1wk --workers 4

NOTES:
    Entities updated within the freshness window (sync.max_age_hours) are
    skipped unless --force or --date is given. Failed entities land in the
    failure ledger; run '%s failures' to inspect them.
`, AppName, AppName, AppName, AppName, AppName, AppName)
	case "download":
		fmt.Printf(`%s download - Download full history

USAGE:
    %s download [options]

OPTIONS:
    --symbols, -s <list>    Comma-separated symbols (default: all configured)
    --intervals, -i <list>  Comma-separated intervals (default: from config)
    --force, -f             Re-download entities that already have data
    --workers, -w <n>       Concurrent entities (default: from config)
    --help, -h              Show this help

EXAMPLES:
    %s download
    %s download --symbols RELIANCE,TCS --force

NOTES:
    Each interval is fetched over its maximum provider lookback (daily gets
    full history, intraday is capped to the provider limit). Entities that
    already have stored rows are skipped unless --force is given.
`, AppName, AppName, AppName, AppName)
	case "gaps":
		fmt.Printf(`%s gaps - Detect and repair data gaps

USAGE:
    %s gaps [options]

OPTIONS:
    --symbols, -s <list>    Comma-separated symbols (default: all configured)
    --intervals, -i <list>  Comma-separated intervals (default: from config)
    --fix                   Re-fetch fixable gap windows and merge the rows
    --dry-run               With --fix, analyze only
    --output, -o <path>     Write the gap report as JSON to this path
    --help, -h              Show this help

EXAMPLES:
    %s gaps
    %s gaps --symbols RELIANCE --fix
    %s gaps --output reports/gaps.json

NOTES:
    Gaps spanning only weekends and exchange holidays are expected and never
    re-fetched. Only gaps containing at least one missed trading day count
    as fixable.
`, AppName, AppName, AppName, AppName, AppName)
	case "validate":
		fmt.Printf(`%s validate - Run integrity checks

USAGE:
    %s validate [options]

OPTIONS:
    --symbols, -s <list>    Comma-separated symbols (default: all configured)
    --intervals, -i <list>  Comma-separated intervals (default: from config)
    --fix                   Repair duplicate and out-of-order rows in place
    --output, -o <path>     Write the validation report as JSON to this path
    --help, -h              Show this help

EXAMPLES:
    %s validate
    %s validate --fix --output reports/validation.json

NOTES:
    Checks cover OHLC consistency, chronology, duplicates, price movement,
    volume anomalies, calendar gaps, and metadata drift. Entities with
    missing files or too many errors are flagged for re-download.
`, AppName, AppName, AppName, AppName)
	case "failures":
		fmt.Printf(`%s failures - Inspect the failure ledger

USAGE:
    %s failures [options]

OPTIONS:
    --format <text|json>      Report format (default: text)
    --symbol <symbol>         List raw failures for one symbol
    --output, -o <path>       Write the report to a file instead of stdout
    --clear                   Remove all recorded failures
    --clear-older-than <days> Remove failures older than the given age
    --help, -h                Show this help

EXAMPLES:
    %s failures
    %s failures --format json --output reports/failures.json
    %s failures --clear-older-than 30

NOTES:
    The ledger lives at the path set by ledger.path and survives restarts.
    Every sync, download, and gap-fill failure is appended to it.
`, AppName, AppName, AppName, AppName, AppName)
	case "health":
		fmt.Printf(`%s health - Check provider connectivity

USAGE:
    %s health

NOTES:
    Issues a one-day probe request against the provider and prints the
    effective storage, symbol, and interval configuration.
`, AppName, AppName)
	case "schedule":
		fmt.Printf(`%s schedule - Run syncs on a cron schedule

USAGE:
    %s schedule [options]

OPTIONS:
    --cron <spec>  Six-field cron expression, seconds first
                   (default: schedule.cron from config.yaml)
    --help, -h     Show this help

EXAMPLES:
    %s schedule
    %s schedule --cron "0 0 18 * * 1-5"

NOTES:
    The default schedule runs at 18:00 on weekdays, after the exchange
    close. A run that is still in progress when the next trigger fires is
    not overlapped; the trigger is skipped.
`, AppName, AppName, AppName, AppName)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
	}
}
