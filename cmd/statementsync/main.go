package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-sync/internal/config"
	"github.com/dvloznov/statement-sync/internal/logger"
	"github.com/dvloznov/statement-sync/internal/pipeline"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	command := "run"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "run":
		return runSync(ctx, args, stdout, stderr)
	case "status":
		return runStatus(ctx, args, stdout, stderr)
	case "pending":
		return runPending(ctx, args, stdout, stderr)
	case "extract":
		return runExtract(ctx, args, stdout, stderr)
	case "resolve":
		return runResolve(ctx, args, stdout, stderr)
	case "help":
		printUsage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		printUsage(stderr)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "statementsync: bank statements to per-respondent Notion ledgers")
	fmt.Fprintln(w, "\nUsage:")
	fmt.Fprintln(w, "  statementsync [command] [options]")
	fmt.Fprintln(w, "\nCommands:")
	fmt.Fprintln(w, "  run                     Process every pending statement (default)")
	fmt.Fprintln(w, "  status <document-id>    Show the processing status of a document")
	fmt.Fprintln(w, "  pending                 List documents still waiting to be processed")
	fmt.Fprintln(w, "  extract <locator>       Extract and print the transactions of one file")
	fmt.Fprintln(w, "  resolve <respondent>    Find or create the ledger of a respondent")
	fmt.Fprintln(w, "  help                    Show this help message")
	fmt.Fprintln(w, "\nConfiguration is read from the environment and an optional .env file.")
	fmt.Fprintln(w, "Run 'statementsync <command> -h' for the options of a command.")
}

// commonFlags are accepted by every command and override the environment.
type commonFlags struct {
	logLevel  string
	logFormat string
	tracking  string
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := &commonFlags{}
	fs.StringVar(&common.logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")
	fs.StringVar(&common.logFormat, "log-format", "", "Log format: console or json (overrides LOG_FORMAT)")
	fs.StringVar(&common.tracking, "tracking", "", "Tracking backend: notion, sqlite, bigquery, firestore or memory (overrides TRACKING_BACKEND)")
	return fs, common
}

// setup loads configuration, applies flag overrides and attaches a logger
// carrying a fresh run id to ctx.
func setup(ctx context.Context, common *commonFlags, stderr io.Writer) (context.Context, *config.Config, zerolog.Logger, bool) {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ctx, nil, zerolog.Nop(), false
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ctx, nil, zerolog.Nop(), false
	}
	if common.logLevel != "" {
		cfg.Log.Level = common.logLevel
	}
	if common.logFormat != "" {
		cfg.Log.Format = common.logFormat
	}
	if common.tracking != "" {
		cfg.Tracking.Backend = common.tracking
	}

	log, err := logger.NewWithOptions(logger.Options{
		Level:  cfg.Log.Level,
		Format: logger.Format(cfg.Log.Format),
		Out:    stderr,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ctx, nil, zerolog.Nop(), false
	}
	log = logger.WithFields(log, map[string]interface{}{
		"run_id":   uuid.NewString(),
		"tracking": cfg.Tracking.Backend,
	})
	return logger.WithContext(ctx, log), cfg, log, true
}

func runSync(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("run", stderr)
	dryRun := fs.Bool("dry-run", false, "Extract and log transactions without writing or marking documents")
	noPurge := fs.Bool("no-purge", false, "Do not archive rows left by an earlier attempt before writing")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	ctx, cfg, log, ok := setup(ctx, common, stderr)
	if !ok {
		return exitUsage
	}
	if *noPurge {
		cfg.Ledger.PurgeOnRetry = false
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return exitUsage
	}

	app, err := build(ctx, cfg, needs{text: true, completion: true, ledgers: !*dryRun, tracking: true})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return exitFailure
	}
	defer app.Close(ctx)

	coordinator := pipeline.NewCoordinator(pipeline.Deps{
		Source:       app.intake,
		Store:        app.store,
		Text:         app.text,
		Transactions: app.transactions,
		Resolver:     app.resolver,
		Writer:       app.writer,
	}, pipeline.Options{
		DryRun:           *dryRun,
		PurgeBeforeWrite: cfg.Ledger.PurgeOnRetry,
		FetchTimeout:     cfg.Timeouts.Fetch,
	})

	summary, err := coordinator.Run(ctx)
	if summary != nil {
		if werr := summary.Write(stdout); werr != nil {
			log.Warn().Err(werr).Msg("Could not print summary")
		}
	}
	if err != nil {
		log.Error().Err(err).Bool("fatal", pipeline.IsFatal(err)).Msg("Run aborted")
		return exitFailure
	}
	return exitOK
}

func runStatus(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("status", stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: statementsync status [options] <document-id>")
		return exitUsage
	}

	ctx, cfg, log, ok := setup(ctx, common, stderr)
	if !ok {
		return exitUsage
	}
	if err := validateTracking(cfg); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return exitUsage
	}

	app, err := build(ctx, cfg, needs{tracking: true})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return exitFailure
	}
	defer app.Close(ctx)

	status, err := app.store.GetStatus(ctx, fs.Arg(0))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read status")
		return exitFailure
	}
	fmt.Fprintf(stdout, "%s\t%s\n", fs.Arg(0), status)
	return exitOK
}

func runPending(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("pending", stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	ctx, cfg, log, ok := setup(ctx, common, stderr)
	if !ok {
		return exitUsage
	}
	if err := validateTracking(cfg); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return exitUsage
	}

	app, err := build(ctx, cfg, needs{tracking: true})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return exitFailure
	}
	defer app.Close(ctx)

	entries, err := app.store.ListPending(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list pending documents")
		return exitFailure
	}
	for _, e := range entries {
		updated := "-"
		if !e.UpdatedAt.IsZero() {
			updated = e.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z")
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", e.DocumentID, e.Status, updated)
	}
	fmt.Fprintf(stdout, "%d pending\n", len(entries))
	return exitOK
}

func runExtract(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("extract", stderr)
	textOnly := fs.Bool("text", false, "Print the extracted text instead of transactions")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: statementsync extract [options] <locator>")
		return exitUsage
	}
	locator := fs.Arg(0)

	ctx, cfg, log, ok := setup(ctx, common, stderr)
	if !ok {
		return exitUsage
	}
	checks := []error{cfg.ValidatePDF()}
	if !*textOnly {
		checks = append(checks, cfg.ValidateLLM())
	}
	if err := errors.Join(checks...); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return exitUsage
	}

	app, err := build(ctx, cfg, needs{text: true, completion: !*textOnly})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return exitFailure
	}
	defer app.Close(ctx)

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Fetch)
	defer cancel()
	doc, err := app.text.Extract(fetchCtx, locator)
	if err != nil {
		log.Error().Err(err).Msg("Failed to extract text")
		return exitFailure
	}
	text, err := doc.Text()
	if err != nil {
		log.Error().Err(err).Msg("Failed to decode pages")
		return exitFailure
	}
	if *textOnly {
		fmt.Fprintln(stdout, text)
		return exitOK
	}

	extraction, err := app.transactions.Extract(ctx, text)
	if err != nil {
		log.Error().Err(err).Msg("Failed to extract transactions")
		return exitFailure
	}
	for _, rec := range extraction.Records {
		fmt.Fprintf(stdout, "%s\t%s\t%s\t%s\n", rec.Date, rec.PriceString(), rec.ProductName, rec.Category)
	}
	fmt.Fprintf(stdout, "%d records, %d dropped, %d pages\n", len(extraction.Records), len(extraction.Rejected), doc.PageCount())
	return exitOK
}

func runResolve(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("resolve", stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: statementsync resolve [options] <respondent>")
		return exitUsage
	}

	ctx, cfg, log, ok := setup(ctx, common, stderr)
	if !ok {
		return exitUsage
	}
	if err := cfg.ValidateNotion(true); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return exitUsage
	}

	app, err := build(ctx, cfg, needs{ledgers: true})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		return exitFailure
	}
	defer app.Close(ctx)

	ledger, err := app.resolver.Resolve(ctx, fs.Arg(0))
	if err != nil {
		log.Error().Err(err).Msg("Failed to resolve ledger")
		return exitFailure
	}
	fmt.Fprintf(stdout, "%s\t%s\t%s\n", ledger.Respondent, ledger.ID, ledger.URL)
	return exitOK
}

// validateTracking checks what the status commands need. Notion settings are
// only required when the intake database is the tracking store.
func validateTracking(cfg *config.Config) error {
	if err := cfg.ValidateTracking(); err != nil {
		return err
	}
	if cfg.Tracking.Backend == config.TrackingNotion {
		return cfg.ValidateNotion(false)
	}
	return nil
}
