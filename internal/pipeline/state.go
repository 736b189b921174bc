package pipeline

import (
	"github.com/dvloznov/statement-sync/internal/domain"
)

// Stage is the furthest point a document reached in a run.
type Stage string

const (
	StageDiscovered            Stage = "discovered"
	StageTextExtracted         Stage = "text_extracted"
	StageTransactionsExtracted Stage = "transactions_extracted"
	StageLedgerResolved        Stage = "ledger_resolved"
	StageWritten               Stage = "written"
	StageProcessed             Stage = "processed"
)

// State holds the shared state across all pipeline steps for one document.
type State struct {
	Document domain.SourceDocument
	Stage    Stage

	PageCount int
	Text      string

	Records []domain.TransactionRecord
	Dropped int

	Ledger      domain.Ledger
	Purged      int
	RowsWritten int
}

// NewState returns the state of a freshly discovered document.
func NewState(doc domain.SourceDocument) *State {
	return &State{Document: doc, Stage: StageDiscovered}
}
