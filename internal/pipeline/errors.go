package pipeline

import (
	"errors"
	"fmt"

	"github.com/dvloznov/statement-sync/internal/domain"
)

// Kind classifies why a document was skipped.
type Kind string

const (
	KindFetch              Kind = "FetchError"
	KindParse              Kind = "ParseError"
	KindExtractionSchema   Kind = "ExtractionSchemaError"
	KindDatabaseResolution Kind = "DatabaseResolutionError"
	KindWrite              Kind = "WriteError"
	KindTracking           Kind = "TrackingError"

	// KindFatal aborts the run instead of skipping the document.
	KindFatal Kind = "FatalConfigurationError"
)

// ErrFatalConfiguration matches every error that must abort a run.
var ErrFatalConfiguration = domain.ErrFatalConfiguration

// Error is a document-scoped failure. It unwraps to the cause.
type Error struct {
	Kind       Kind
	DocumentID string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: document %s: %v", e.Kind, e.DocumentID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError tags err with kind, unless err is fatal.
func newError(kind Kind, documentID string, err error) *Error {
	if errors.Is(err, ErrFatalConfiguration) {
		kind = KindFatal
	}
	return &Error{Kind: kind, DocumentID: documentID, Err: err}
}

// IsFatal reports whether err must abort the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalConfiguration)
}
