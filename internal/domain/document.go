package domain

import "time"

// Status represents the processing status of a source document.
type Status string

const (
	// StatusPending indicates the document has not been fully written to its ledger.
	StatusPending Status = "pending"
	// StatusProcessed indicates every record of the document was durably written.
	StatusProcessed Status = "processed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusProcessed
}

// UnknownRespondent is used when an intake page carries no respondent.
const UnknownRespondent = "Unknown Respondent"

// SourceDocument is one uploaded statement waiting to be processed.
type SourceDocument struct {
	// ID is stable across runs and is the key of the processing ledger.
	ID string

	// Respondent is the name of the entity whose ledger receives the records.
	Respondent string

	// Locator is where the document bytes live (https URL, gs:// URI or local path).
	Locator string

	// FileName is the display name of the uploaded file, if known.
	FileName string

	// IntakePageID is the page in the intake database the document was attached to.
	IntakePageID string

	// Status is the processing status at discovery time.
	Status Status
}

// Ledger is the per-respondent destination database for transaction records.
type Ledger struct {
	ID         string
	Respondent string
	URL        string
	CreatedAt  time.Time
}
