package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/logger"
	"github.com/dvloznov/statement-sync/internal/tracking"
)

// Source lists candidate documents in processing order.
type Source interface {
	ListDocuments(ctx context.Context) ([]domain.SourceDocument, error)
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Source       Source
	Store        tracking.Store
	Text         TextExtractor
	Transactions TransactionExtractor
	Resolver     LedgerResolver
	Writer       LedgerWriter
}

// Options tune a Coordinator.
type Options struct {
	// DryRun extracts and logs transactions without resolving, writing or marking.
	DryRun bool

	// PurgeBeforeWrite archives rows an earlier attempt left for the document.
	PurgeBeforeWrite bool

	// FetchTimeout bounds retrieval and text extraction of one document.
	FetchTimeout time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// Coordinator drives every discovered document through the pipeline, one at a time.
type Coordinator struct {
	deps     Deps
	opts     Options
	pipeline *Pipeline
}

// NewCoordinator wires the processing pipeline.
func NewCoordinator(deps Deps, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	steps := []Step{
		&ExtractTextStep{Extractor: deps.Text, Timeout: opts.FetchTimeout},
		&ExtractTransactionsStep{Extractor: deps.Transactions},
	}
	if !opts.DryRun {
		steps = append(steps,
			&ResolveLedgerStep{Resolver: deps.Resolver},
			&WriteLedgerStep{Writer: deps.Writer, Purge: opts.PurgeBeforeWrite},
			&MarkProcessedStep{Store: deps.Store, Now: opts.Now},
		)
	}

	return &Coordinator{deps: deps, opts: opts, pipeline: NewPipeline(steps...)}
}

// Run processes every pending document. Document failures become skipped
// outcomes; only fatal errors, discovery failures and cancellation end the
// run early, and the summary then covers the documents handled so far.
func (c *Coordinator) Run(ctx context.Context) (*Summary, error) {
	log := logger.FromContext(ctx)
	summary := newSummary()

	docs, err := c.deps.Source.ListDocuments(ctx)
	if err != nil {
		return summary, fmt.Errorf("listing documents: %w", err)
	}
	log.Info().Int("documents", len(docs)).Bool("dry_run", c.opts.DryRun).Msg("Starting run")

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		outcome, err := c.Process(ctx, doc)
		summary.add(outcome)
		if err != nil {
			log.Error().Err(err).Str("document_id", doc.ID).Msg("Aborting run")
			return summary, err
		}
	}

	log.Info().
		Int("processed", summary.Processed).
		Int("already_processed", summary.AlreadyProcessed).
		Int("skipped", summary.SkippedTotal()).
		Int("rows_written", summary.RowsWritten).
		Int("records_dropped", summary.Dropped).
		Msg("Run completed")
	return summary, nil
}

// Process runs one document. The returned error is non-nil only when the run
// must stop: a fatal error or cancellation of ctx.
func (c *Coordinator) Process(ctx context.Context, doc domain.SourceDocument) (Outcome, error) {
	ctx = logger.WithDocument(ctx, doc.ID, doc.Respondent)
	log := logger.FromContext(ctx)

	status, err := c.deps.Store.GetStatus(ctx, doc.ID)
	if err != nil {
		perr := newError(KindTracking, doc.ID, fmt.Errorf("reading status: %w", err))
		if perr.Kind == KindFatal {
			return c.skipped(ctx, doc, NewState(doc), perr), perr
		}
		return c.skipped(ctx, doc, NewState(doc), perr), nil
	}
	if status == domain.StatusProcessed {
		log.Debug().Msg("Already processed")
		return Outcome{DocumentID: doc.ID, Respondent: doc.Respondent, Status: OutcomeAlreadyProcessed, Stage: StageProcessed}, nil
	}

	state := NewState(doc)
	err = c.pipeline.Execute(ctx, state)
	if err != nil {
		var perr *Error
		if !errors.As(err, &perr) {
			perr = newError(KindFetch, doc.ID, err)
		}
		if perr.Kind == KindFatal {
			return c.skipped(ctx, doc, state, perr), err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return c.skipped(ctx, doc, state, perr), ctxErr
		}
		return c.skipped(ctx, doc, state, perr), nil
	}

	if c.opts.DryRun {
		c.logDryRun(ctx, state)
		return Outcome{
			DocumentID: doc.ID,
			Respondent: doc.Respondent,
			Status:     OutcomeDryRun,
			Stage:      state.Stage,
			Records:    len(state.Records),
			Dropped:    state.Dropped,
		}, nil
	}

	log.Info().
		Int("rows_written", state.RowsWritten).
		Int("records_dropped", state.Dropped).
		Int("rows_purged", state.Purged).
		Str("ledger_id", state.Ledger.ID).
		Msg("Document processed")
	return Outcome{
		DocumentID:  doc.ID,
		Respondent:  doc.Respondent,
		Status:      OutcomeProcessed,
		Stage:       state.Stage,
		Records:     len(state.Records),
		RowsWritten: state.RowsWritten,
		Dropped:     state.Dropped,
	}, nil
}

// skipped logs the failure and records the attempt as pending, best effort.
func (c *Coordinator) skipped(ctx context.Context, doc domain.SourceDocument, state *State, perr *Error) Outcome {
	log := logger.FromContext(ctx)

	event := log.Warn()
	if perr.Kind == KindFatal {
		event = log.Error()
	}
	event.Err(perr.Err).
		Str("reason", string(perr.Kind)).
		Str("stage", string(state.Stage)).
		Msg("Document skipped")

	if !c.opts.DryRun && perr.Kind != KindFatal && ctx.Err() == nil {
		if err := c.deps.Store.SetStatus(ctx, doc.ID, domain.StatusPending, c.opts.Now()); err != nil {
			log.Warn().Err(err).Msg("Could not record pending status")
		}
	}

	return Outcome{
		DocumentID:  doc.ID,
		Respondent:  doc.Respondent,
		Status:      OutcomeSkipped,
		Reason:      perr.Kind,
		Err:         perr,
		Stage:       state.Stage,
		Records:     len(state.Records),
		RowsWritten: state.RowsWritten,
		Dropped:     state.Dropped,
	}
}

func (c *Coordinator) logDryRun(ctx context.Context, state *State) {
	log := logger.FromContext(ctx)
	for _, rec := range state.Records {
		log.Info().
			Str("date", rec.Date.String()).
			Str("product", rec.ProductName).
			Str("price", rec.PriceString()).
			Str("category", rec.Category).
			Msg("[DRY RUN] Would write transaction")
	}
	log.Info().
		Int("pages", state.PageCount).
		Int("records", len(state.Records)).
		Int("records_dropped", state.Dropped).
		Msg("[DRY RUN] Document extracted")
}
