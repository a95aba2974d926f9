// Trade tick archiver CLI
// This application ingests raw trade ticks from an exchange into DuckDB,
// verifies the integrity of stored sequences, and aggregates stored ticks
// into OHLCV bars.
//
// Usage:
//
//	tickd ingest --asset XBTUSD
//	tickd verify --asset XBTUSD --chunk-size 10000
//	tickd bars --asset XBTUSD --period 15m --format table
//
// For detailed help on any command, use: tickd <command> --help
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/tickdb/go-tick-archiver/internal/bars"
	"github.com/tickdb/go-tick-archiver/internal/config"
	"github.com/tickdb/go-tick-archiver/internal/exchange"
	"github.com/tickdb/go-tick-archiver/internal/ingest"
	"github.com/tickdb/go-tick-archiver/internal/integrity"
	"github.com/tickdb/go-tick-archiver/internal/logger"
	"github.com/tickdb/go-tick-archiver/internal/storage"
)

const (
	Version = "1.0.0"
	AppName = "tickd"
)

// Exit codes following standard conventions
const (
	ExitSuccess     = 0
	ExitUsageError  = 1
	ExitConfigError = 2
	ExitDataError   = 4
)

// CLI wires the application components together for command handling.
type CLI struct {
	config  *config.Config
	logger  *logger.Logger
	storage *storage.DuckDBStorage
	client  exchange.Client
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(ExitUsageError)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "--version", "-v":
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

	cli := &CLI{}
	if err := cli.initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(ExitConfigError)
	}
	defer cli.shutdown()

	var err error
	switch command {
	case "ingest":
		err = cli.handleIngest(ctx, args)
	case "verify":
		err = cli.handleVerify(ctx, args)
	case "bars":
		err = cli.handleBars(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(ExitUsageError)
	}

	if err != nil {
		cli.logger.Error("command failed", "command", command, "error", err)
		cli.shutdown()
		os.Exit(ExitDataError)
	}
}

// initialize loads configuration and constructs the storage and exchange
// layers shared by every command.
func (cli *CLI) initialize(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("TICKD_CONFIG"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	cli.config = cfg

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	cli.logger = log

	store, err := storage.NewDuckDBStorage(cfg.Storage.Path, log.Logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	if err := store.Initialize(ctx); err != nil {
		store.Close()
		return fmt.Errorf("initializing storage schema: %w", err)
	}
	cli.storage = store

	if cfg.Exchange.BaseURL != "" {
		cli.client = exchange.NewKrakenClientWithBaseURL(cfg.Exchange.BaseURL, log.Logger)
	} else {
		cli.client = exchange.NewKrakenClient(log.Logger)
	}

	return nil
}

func (cli *CLI) shutdown() {
	if cli.storage != nil {
		if err := cli.storage.Close(); err != nil {
			cli.logger.Warn("closing storage", "error", err)
		}
		cli.storage = nil
	}
	if cli.logger != nil {
		cli.logger.Close()
	}
}

// handleIngest runs the paging pipeline for one asset or every configured
// asset, streaming progress events to stdout as they arrive.
func (cli *CLI) handleIngest(ctx context.Context, args []string) error {
	flags, err := parseIngestFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("ingest")
		return nil
	}

	assets := cli.config.Ingest.Assets
	if flags.Asset != "" {
		assets = []string{flags.Asset}
	}

	pipeline, err := ingest.NewPipeline(cli.storage, cli.client, ingest.Config{
		HistoryWindow: cli.config.Ingest.HistoryWindow,
		PageDelay:     cli.config.Ingest.PageDelay,
		FullPageSize:  cli.config.Ingest.FullPageSize,
		Logger:        cli.logger.Logger,
	})
	if err != nil {
		return err
	}

	for _, asset := range assets {
		events := make(chan ingest.Event, cli.config.Ingest.EventBuffer)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range events {
				fmt.Println(ev.String())
			}
		}()

		err := pipeline.Ingest(ctx, asset, events)
		close(events)
		<-done
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", asset, err)
		}
	}
	return nil
}

// handleVerify scans stored sequences for gaps and reports the findings.
func (cli *CLI) handleVerify(ctx context.Context, args []string) error {
	flags, err := parseVerifyFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("verify")
		return nil
	}

	assets := cli.config.Ingest.Assets
	if flags.Asset != "" {
		assets = []string{flags.Asset}
	}

	verifier := integrity.NewVerifier(cli.storage, flags.ChunkSize, cli.logger.Logger)

	gapsFound := false
	for _, asset := range assets {
		report := verifier.Check(ctx, asset)
		if !report.Ok {
			return fmt.Errorf("verifying %s: %s", asset, report.Error)
		}
		if flags.Format == "json" {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			fmt.Println(report.String())
			for _, id := range report.MissingIDs {
				fmt.Printf("  missing id %d\n", id)
			}
		}
		if !report.GapFree() {
			gapsFound = true
		}
	}
	if gapsFound {
		return fmt.Errorf("sequence gaps detected")
	}
	return nil
}

// handleBars aggregates stored ticks into OHLCV bars and prints them.
func (cli *CLI) handleBars(ctx context.Context, args []string) error {
	flags, err := parseBarsFlags(args)
	if err != nil {
		return err
	}
	if flags.Help {
		printCommandHelp("bars")
		return nil
	}
	if flags.Asset == "" {
		return fmt.Errorf("--asset is required")
	}
	if flags.Period == "" {
		return fmt.Errorf("--period is required")
	}

	ticks, err := cli.storage.ReadTicks(ctx, flags.Asset, 0, ^uint64(0)>>1, 0)
	if err != nil {
		return fmt.Errorf("reading ticks for %s: %w", flags.Asset, err)
	}

	series, err := bars.BuildSeries(ticks, flags.Period)
	if err != nil {
		return fmt.Errorf("building %s series for %s: %w", flags.Period, flags.Asset, err)
	}

	out := series.Bars
	if flags.Limit > 0 && len(out) > flags.Limit {
		out = out[len(out)-flags.Limit:]
	}

	switch flags.Format {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "csv":
		fmt.Println("open_at,close_at,open,high,low,close,volume")
		for _, b := range out {
			fmt.Printf("%s,%s,%s,%s,%s,%s,%s\n",
				b.OpenAt.Format("2006-01-02T15:04:05Z"),
				b.CloseAt.Format("2006-01-02T15:04:05Z"),
				b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		return nil
	default:
		fmt.Printf("%-20s %-20s %-12s %-12s %-12s %-12s %-15s\n",
			"Open At", "Close At", "Open", "High", "Low", "Close", "Volume")
		fmt.Println(strings.Repeat("-", 108))
		for _, b := range out {
			fmt.Printf("%-20s %-20s %-12s %-12s %-12s %-12s %-15s\n",
				b.OpenAt.Format("2006-01-02 15:04"),
				b.CloseAt.Format("2006-01-02 15:04"),
				b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume.String())
		}
		fmt.Printf("\n%d bars from %d ticks\n", len(out), len(series.Ticks))
		return nil
	}
}

// Flag structures for parsing command line arguments

type IngestFlags struct {
	Asset string
	Help  bool
}

type VerifyFlags struct {
	Asset     string
	ChunkSize int
	Format    string
	Help      bool
}

type BarsFlags struct {
	Asset  string
	Period string
	Format string
	Limit  int
	Help   bool
}

func parseIngestFlags(args []string) (*IngestFlags, error) {
	flags := &IngestFlags{}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--asset", "-a":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--asset requires a value")
			}
			flags.Asset = args[i+1]
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

func parseVerifyFlags(args []string) (*VerifyFlags, error) {
	flags := &VerifyFlags{
		ChunkSize: integrity.DefaultChunkSize,
		Format:    "table",
	}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--asset", "-a":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--asset requires a value")
			}
			flags.Asset = args[i+1]
			i++
		case "--chunk-size", "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--chunk-size requires a value")
			}
			size, err := strconv.Atoi(args[i+1])
			if err != nil || size <= 0 {
				return nil, fmt.Errorf("invalid chunk size: %s", args[i+1])
			}
			flags.ChunkSize = size
			i++
		case "--format", "-f":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires a value")
			}
			format := args[i+1]
			if format != "table" && format != "json" {
				return nil, fmt.Errorf("invalid format, must be: table or json")
			}
			flags.Format = format
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

func parseBarsFlags(args []string) (*BarsFlags, error) {
	flags := &BarsFlags{
		Format: "table",
	}
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--asset", "-a":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--asset requires a value")
			}
			flags.Asset = args[i+1]
			i++
		case "--period", "-p":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--period requires a value")
			}
			flags.Period = args[i+1]
			i++
		case "--format", "-f":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--format requires a value")
			}
			format := args[i+1]
			if format != "table" && format != "json" && format != "csv" {
				return nil, fmt.Errorf("invalid format, must be: table, json, or csv")
			}
			flags.Format = format
			i++
		case "--limit", "-l":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--limit requires a value")
			}
			limit, err := strconv.Atoi(args[i+1])
			if err != nil {
				return nil, fmt.Errorf("invalid limit value: %w", err)
			}
			flags.Limit = limit
			i++
		case "--help", "-h":
			flags.Help = true
		default:
			return nil, fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	return flags, nil
}

// Help and usage functions

func printUsage() {
	fmt.Printf(`%s - Trade tick archiver v%s

USAGE:
    %s <command> [options]

COMMANDS:
    ingest      Ingest trade ticks for configured assets
    verify      Verify stored sequences for missing IDs
    bars        Aggregate stored ticks into OHLCV bars

GLOBAL OPTIONS:
    --help, -h     Show help information
    --version, -v  Show version information

EXAMPLES:
    # Ingest the configured assets
    %s ingest

    # Ingest one asset
    %s ingest --asset XBTUSD

    # Verify sequence integrity
    %s verify --asset XBTUSD

    # Build 15-minute bars
    %s bars --asset XBTUSD --period 15m

CONFIGURATION:
    Configuration is read from the JSON file named by TICKD_CONFIG and
    overridden by TICKD_* environment variables (e.g. TICKD_DB_PATH,
    TICKD_ASSETS, TICKD_HISTORY_WINDOW, TICKD_LOG_LEVEL).

For detailed help on any command, use: %s <command> --help
`, AppName, Version, AppName, AppName, AppName, AppName, AppName, AppName)
}

func printCommandHelp(command string) {
	switch command {
	case "ingest":
		fmt.Printf(`%s ingest - Ingest trade ticks

USAGE:
    %s ingest [options]

OPTIONS:
    --asset, -a <asset>  Single asset to ingest; defaults to the
                         configured asset list
    --help, -h           Show this help message

NOTES:
    - Ingestion resumes from the persisted cursor, so interrupting and
      restarting never loses or duplicates ticks
    - A fresh asset is bootstrapped back to the configured history window
    - Progress events are printed as pages arrive
`, AppName, AppName)

	case "verify":
		fmt.Printf(`%s verify - Verify sequence integrity

USAGE:
    %s verify [options]

OPTIONS:
    --asset, -a <asset>      Single asset to verify; defaults to the
                             configured asset list
    --chunk-size, -c <n>     IDs scanned per storage query (default: %d)
    --format, -f <format>    Output format: table, json (default: table)
    --help, -h               Show this help message

NOTES:
    - Exits non-zero when any missing IDs are found
    - The scan reads only the id column, so large tables stay cheap
`, AppName, AppName, integrity.DefaultChunkSize)

	case "bars":
		fmt.Printf(`%s bars - Aggregate ticks into OHLCV bars

USAGE:
    %s bars [options]

OPTIONS:
    --asset, -a <asset>    Asset to aggregate (required)
    --period, -p <period>  Bar period, e.g. 100t, 30s, 15m, 4h, 1d, 1w, 1M
                           (required)
    --format, -f <format>  Output format: table, json, csv (default: table)
    --limit, -l <limit>    Show only the most recent N bars
    --help, -h             Show this help message

PERIODS:
    <n>t   tick count      <n>s   seconds      <n>m   minutes
    <n>h   hours           <n>d   days         <n>w   calendar weeks
    <n>M   calendar months
`, AppName, AppName)

	default:
		fmt.Fprintf(os.Stderr, "No help available for command: %s\n", command)
		printUsage()
	}
}
