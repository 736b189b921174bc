package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/logger"
	"github.com/dvloznov/statement-sync/internal/textextract"
	"github.com/dvloznov/statement-sync/internal/tracking"
	"github.com/dvloznov/statement-sync/internal/transactions"
)

// TextExtractor retrieves a document and opens it as pages of text.
type TextExtractor interface {
	Extract(ctx context.Context, locator string) (*textextract.Document, error)
}

// TransactionExtractor turns statement text into transaction records.
type TransactionExtractor interface {
	Extract(ctx context.Context, text string) (*transactions.Extraction, error)
}

// LedgerResolver finds or creates the ledger of a respondent.
type LedgerResolver interface {
	Resolve(ctx context.Context, respondent string) (domain.Ledger, error)
}

// LedgerWriter appends records to a ledger.
type LedgerWriter interface {
	Write(ctx context.Context, ledger domain.Ledger, records []domain.TransactionRecord, sourceDocumentID string) (int, error)
	Purge(ctx context.Context, ledger domain.Ledger, sourceDocumentID string) (int, error)
}

// Step is a single stage of document processing. A failing step returns an
// *Error and leaves state at the last completed stage.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// ExtractTextStep fetches the document and decodes every page.
type ExtractTextStep struct {
	Extractor TextExtractor
	Timeout   time.Duration
}

func (s *ExtractTextStep) Execute(ctx context.Context, state *State) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	doc, err := s.Extractor.Extract(ctx, state.Document.Locator)
	if err != nil {
		return newError(textErrorKind(err), state.Document.ID, err)
	}
	text, err := doc.Text()
	if err != nil {
		return newError(textErrorKind(err), state.Document.ID, err)
	}

	state.PageCount = doc.PageCount()
	state.Text = text
	state.Stage = StageTextExtracted
	return nil
}

func textErrorKind(err error) Kind {
	var parseErr *textextract.ParseError
	if errors.As(err, &parseErr) {
		return KindParse
	}
	return KindFetch
}

// ExtractTransactionsStep asks the completion service for the records.
// Zero records is a success.
type ExtractTransactionsStep struct {
	Extractor TransactionExtractor
}

func (s *ExtractTransactionsStep) Execute(ctx context.Context, state *State) error {
	extraction, err := s.Extractor.Extract(ctx, state.Text)
	if err != nil {
		return newError(KindExtractionSchema, state.Document.ID, err)
	}

	state.Records = extraction.Records
	state.Dropped = len(extraction.Rejected)
	state.Stage = StageTransactionsExtracted
	return nil
}

// ResolveLedgerStep finds or creates the respondent's ledger.
type ResolveLedgerStep struct {
	Resolver LedgerResolver
}

func (s *ResolveLedgerStep) Execute(ctx context.Context, state *State) error {
	ledger, err := s.Resolver.Resolve(ctx, state.Document.Respondent)
	if err != nil {
		return newError(KindDatabaseResolution, state.Document.ID, err)
	}
	state.Ledger = ledger
	state.Stage = StageLedgerResolved
	return nil
}

// WriteLedgerStep writes every record, first archiving rows left by an
// earlier attempt when Purge is set.
type WriteLedgerStep struct {
	Writer LedgerWriter
	Purge  bool
}

func (s *WriteLedgerStep) Execute(ctx context.Context, state *State) error {
	id := state.Document.ID

	if s.Purge {
		purged, err := s.Writer.Purge(ctx, state.Ledger, id)
		state.Purged = purged
		if err != nil {
			return newError(KindWrite, id, fmt.Errorf("purging earlier rows: %w", err))
		}
	}

	if len(state.Records) == 0 {
		state.Stage = StageWritten
		return nil
	}

	n, err := s.Writer.Write(ctx, state.Ledger, state.Records, id)
	state.RowsWritten = n
	if err != nil {
		return newError(KindWrite, id, err)
	}
	if n != len(state.Records) {
		return newError(KindWrite, id, fmt.Errorf("wrote %d of %d records", n, len(state.Records)))
	}
	state.Stage = StageWritten
	return nil
}

// MarkProcessedStep records the document as processed.
type MarkProcessedStep struct {
	Store tracking.Store
	Now   func() time.Time
}

func (s *MarkProcessedStep) Execute(ctx context.Context, state *State) error {
	if err := s.Store.SetStatus(ctx, state.Document.ID, domain.StatusProcessed, s.Now()); err != nil {
		return newError(KindTracking, state.Document.ID, err)
	}
	state.Stage = StageProcessed
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially, stopping at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	log := logger.FromContext(ctx)
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
		log.Debug().Str("stage", string(state.Stage)).Msg("Stage reached")
	}
	return nil
}
