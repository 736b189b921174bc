package notionsync

import (
	"context"
	"fmt"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/logger"
)

// WriteError reports the row a ledger write stopped at.
type WriteError struct {
	LedgerID string
	Row      int
	Written  int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing row %d to ledger %s (%d written): %v", e.Row, e.LedgerID, e.Written, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// LedgerWriter appends transaction records to ledger databases.
type LedgerWriter struct {
	notion NotionService
	calls  CallOptions
}

// NewLedgerWriter creates a writer.
func NewLedgerWriter(notion NotionService, calls CallOptions) *LedgerWriter {
	return &LedgerWriter{notion: notion, calls: calls}
}

// Write appends one page per record, in order, tagging each with
// sourceDocumentID. It stops at the first row that still fails after retries
// and returns how many rows were written before it.
func (w *LedgerWriter) Write(ctx context.Context, ledger domain.Ledger, records []domain.TransactionRecord, sourceDocumentID string) (int, error) {
	log := logger.FromContext(ctx)

	for i, rec := range records {
		props := RecordToProperties(rec, sourceDocumentID)
		err := w.calls.do(ctx, func(ctx context.Context) error {
			_, err := w.notion.CreatePage(ctx, ledger.ID, props)
			return err
		})
		if err != nil {
			return i, &WriteError{LedgerID: ledger.ID, Row: i, Written: i, Err: err}
		}
	}

	log.Debug().
		Str("ledger_id", ledger.ID).
		Int("rows", len(records)).
		Msg("Wrote ledger rows")
	return len(records), nil
}

// Purge archives every row previously written for sourceDocumentID and
// returns how many were archived.
func (w *LedgerWriter) Purge(ctx context.Context, ledger domain.Ledger, sourceDocumentID string) (int, error) {
	filter := notionapi.PropertyFilter{
		Property: ColumnSourceDocument,
		RichText: &notionapi.TextFilterCondition{Equals: sourceDocumentID},
	}
	pages, err := queryAllNotionPages(ctx, w.notion, w.calls, ledger.ID, filter)
	if err != nil {
		return 0, &WriteError{LedgerID: ledger.ID, Err: fmt.Errorf("listing rows of %s: %w", sourceDocumentID, err)}
	}

	var archived int
	for _, page := range pages {
		if propertyText(page.Properties[ColumnSourceDocument]) != sourceDocumentID {
			continue
		}
		pageID := page.ID.String()
		err := w.calls.do(ctx, func(ctx context.Context) error {
			return w.notion.ArchivePage(ctx, pageID)
		})
		if err != nil {
			return archived, &WriteError{LedgerID: ledger.ID, Err: fmt.Errorf("archiving row %s: %w", pageID, err)}
		}
		archived++
	}

	if archived > 0 {
		log := logger.FromContext(ctx)
		log.Info().
			Str("ledger_id", ledger.ID).
			Int("archived", archived).
			Msg("Purged rows from an earlier attempt")
	}
	return archived, nil
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically. A nil filter returns every page.
func queryAllNotionPages(ctx context.Context, notion NotionService, calls CallOptions, databaseID string, filter notionapi.Filter, sorts ...notionapi.SortObject) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			Filter:   filter,
			Sorts:    sorts,
			PageSize: 100,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		var resp *notionapi.DatabaseQueryResponse
		err := calls.do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = notion.QueryDatabase(ctx, databaseID, req)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}
