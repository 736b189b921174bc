package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/fetch"
	"github.com/dvloznov/statement-sync/internal/llm"
	"github.com/dvloznov/statement-sync/internal/logger"
	"github.com/dvloznov/statement-sync/internal/pipeline"
	"github.com/dvloznov/statement-sync/internal/textextract"
	"github.com/dvloznov/statement-sync/internal/tracking"
)

const (
	statementText = "2024-01-03 Coffee Shop $4.50\n2024-01-05 Bookstore $19.99"
	statementJSON = `[
		{"transaction_date": "2024-01-03", "product_name": "Coffee Shop", "price": "$4.50", "category": "Food & Drink"},
		{"transaction_date": "2024-01-05", "product_name": "Bookstore", "price": "$19.99", "category": "Shopping"}
	]`
	threeRowText = "three rows"
	threeRowJSON = `[
		{"transaction_date": "2024-02-01", "product_name": "Rent", "price": "1,200.00", "category": "Housing"},
		{"transaction_date": "2024-02-02", "product_name": "Bus", "price": "2.40", "category": "Transport"},
		{"transaction_date": "2024-02-03", "product_name": "Salary", "price": "(3000.00)", "category": "Income"}
	]`
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

func doc(id, respondent string) domain.SourceDocument {
	return domain.SourceDocument{ID: id, Respondent: respondent, Locator: "https://files.example/" + id + ".pdf", Status: domain.StatusPending}
}

type harness struct {
	source    *MockSource
	text      *MockTextExtractor
	completer *MockCompleter
	ledgers   *MemLedgers
	store     *FlakyStore
}

func newHarness(docs []domain.SourceDocument, texts, replies map[string]string) *harness {
	byLocator := make(map[string]string)
	for _, d := range docs {
		if text, ok := texts[d.ID]; ok {
			byLocator[d.Locator] = text
		}
	}
	return &harness{
		source:    &MockSource{Docs: docs},
		text:      textByLocator(byLocator),
		completer: replyByInput(replies),
		ledgers:   NewMemLedgers(),
		store:     newFlakyStore(),
	}
}

func (h *harness) coordinator(opts pipeline.Options) *pipeline.Coordinator {
	if opts.Now == nil {
		opts.Now = fixedNow
	}
	return pipeline.NewCoordinator(pipeline.Deps{
		Source:       h.source,
		Store:        h.store,
		Text:         h.text,
		Transactions: newTransactionExtractor(h.completer),
		Resolver:     h.ledgers,
		Writer:       h.ledgers,
	}, opts)
}

func (h *harness) status(t *testing.T, id string) domain.Status {
	t.Helper()
	status, err := h.store.GetStatus(context.Background(), id)
	if err != nil {
		t.Fatalf("GetStatus(%s): %v", id, err)
	}
	return status
}

func TestRun_EndToEndExample(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe")},
		map[string]string{"page-1": statementText},
		map[string]string{statementText: statementJSON},
	)

	summary, err := h.coordinator(pipeline.Options{PurgeBeforeWrite: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows := h.ledgers.Rows("Jane Doe")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	want := []struct{ date, price string }{{"2024-01-03", "4.50"}, {"2024-01-05", "19.99"}}
	for i, w := range want {
		if got := rows[i].Date.String(); got != w.date {
			t.Errorf("row %d: expected date %s, got %s", i, w.date, got)
		}
		if got := rows[i].PriceString(); got != w.price {
			t.Errorf("row %d: expected price %s, got %s", i, w.price, got)
		}
	}
	if summary.Processed != 1 || summary.RowsWritten != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if got := h.status(t, "page-1"); got != domain.StatusProcessed {
		t.Errorf("expected processed, got %s", got)
	}
}

func TestRun_Idempotent(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe"), doc("page-2", "Jane Doe")},
		map[string]string{"page-1": statementText, "page-2": threeRowText},
		map[string]string{statementText: statementJSON, threeRowText: threeRowJSON},
	)
	c := h.coordinator(pipeline.Options{PurgeBeforeWrite: true})

	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	writes, completions := h.ledgers.WriteCalls, h.completer.calls

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if got := len(h.ledgers.Rows("Jane Doe")); got != 5 {
		t.Errorf("expected 5 rows after two runs, got %d", got)
	}
	if h.ledgers.WriteCalls != writes {
		t.Errorf("second run performed %d writes", h.ledgers.WriteCalls-writes)
	}
	if h.completer.calls != completions {
		t.Errorf("second run called the completion service %d times", h.completer.calls-completions)
	}
	if summary.AlreadyProcessed != 2 || summary.Processed != 0 {
		t.Errorf("unexpected second summary: %+v", summary)
	}
	if h.ledgers.Created != 1 {
		t.Errorf("expected one ledger for the respondent, got %d", h.ledgers.Created)
	}
}

func TestRun_SchemaRejectionDropsOnlyBadRecords(t *testing.T) {
	reply := `[
		{"transaction_date": "2024-01-03", "product_name": "Coffee Shop", "price": "4.50", "category": "Food"},
		{"transaction_date": "2024-01-04", "product_name": "Mystery", "category": "Other"},
		{"transaction_date": "2024-01-05", "product_name": "Gadget", "price": "12,5", "category": "Shopping"},
		{"transaction_date": "someday", "product_name": "Lunch", "price": "9.00", "category": "Food"},
		{"transaction_date": "2024-01-06", "product_name": "Bakery", "price": 3, "category": "Food"}
	]`
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe")},
		map[string]string{"page-1": "mixed"},
		map[string]string{"mixed": reply},
	)

	summary, err := h.coordinator(pipeline.Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rows := h.ledgers.Rows("Jane Doe")
	if len(rows) != 2 {
		t.Fatalf("expected 2 valid rows, got %d", len(rows))
	}
	if rows[1].ProductName != "Bakery" || rows[1].PriceString() != "3.00" {
		t.Errorf("unexpected second row: %+v", rows[1])
	}
	if summary.Dropped != 3 {
		t.Errorf("expected 3 dropped records, got %d", summary.Dropped)
	}
	if h.status(t, "page-1") != domain.StatusProcessed {
		t.Error("document with dropped records must still be processed")
	}
}

func TestRun_CategoryStoredVerbatim(t *testing.T) {
	reply := `[
		{"transaction_date": "2024-01-03", "product_name": "Milk", "price": "1.10", "category": "Groceries"},
		{"transaction_date": "2024-01-03", "product_name": "Thing", "price": "2.00", "category": "Unknown — ???"}
	]`
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe")},
		map[string]string{"page-1": "categories"},
		map[string]string{"categories": reply},
	)

	if _, err := h.coordinator(pipeline.Options{}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	rows := h.ledgers.Rows("Jane Doe")
	if len(rows) != 2 || rows[0].Category != "Groceries" || rows[1].Category != "Unknown — ???" {
		t.Errorf("categories not stored verbatim: %+v", rows)
	}
}

func TestRun_ZeroTransactionDocument(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe")},
		map[string]string{"page-1": "no activity this month"},
		map[string]string{"no activity this month": "[]"},
	)

	summary, err := h.coordinator(pipeline.Options{PurgeBeforeWrite: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Processed != 1 || summary.RowsWritten != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if h.ledgers.WriteCalls != 0 {
		t.Errorf("expected no write calls, got %d", h.ledgers.WriteCalls)
	}
	if h.status(t, "page-1") != domain.StatusProcessed {
		t.Error("zero-transaction document must be processed")
	}
}

func TestRun_PartialWriteStaysPendingThenRecovers(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe")},
		map[string]string{"page-1": threeRowText},
		map[string]string{threeRowText: threeRowJSON},
	)
	h.ledgers.FailWriteAt = 2
	c := h.coordinator(pipeline.Options{PurgeBeforeWrite: true})

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped[pipeline.KindWrite] != 1 {
		t.Fatalf("expected a WriteError skip, got %+v", summary.Skipped)
	}
	outcome := summary.Outcomes[0]
	if outcome.RowsWritten != 2 || outcome.Stage != pipeline.StageLedgerResolved {
		t.Errorf("unexpected outcome: %+v", outcome)
	}
	if h.status(t, "page-1") != domain.StatusPending {
		t.Fatal("partially written document must stay pending")
	}
	pending, err := h.store.ListPending(context.Background())
	if err != nil || len(pending) != 1 || !pending[0].UpdatedAt.Equal(fixedNow()) {
		t.Errorf("expected the attempt recorded as pending, got %+v, %v", pending, err)
	}

	h.ledgers.FailWriteAt = -1
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("retry Run: %v", err)
	}
	if got := len(h.ledgers.Rows("Jane Doe")); got != 3 {
		t.Errorf("expected exactly 3 rows after retry, got %d", got)
	}
	if h.status(t, "page-1") != domain.StatusProcessed {
		t.Error("expected processed after retry")
	}
}

func TestRun_TrackingFailureLeavesRowsForPurge(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe")},
		map[string]string{"page-1": statementText},
		map[string]string{statementText: statementJSON},
	)
	h.store.FailProcessed = true
	c := h.coordinator(pipeline.Options{PurgeBeforeWrite: true})

	summary, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped[pipeline.KindTracking] != 1 {
		t.Fatalf("expected a TrackingError skip, got %+v", summary.Skipped)
	}

	h.store.FailProcessed = false
	if _, err := c.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if got := len(h.ledgers.Rows("Jane Doe")); got != 2 {
		t.Errorf("expected the rewrite to replace earlier rows, got %d rows", got)
	}
}

func TestRun_DocumentFailuresAreIsolated(t *testing.T) {
	docs := []domain.SourceDocument{doc("missing", "Jane Doe"), doc("broken", "Jane Doe"), doc("good", "Acme Ltd")}
	h := newHarness(docs,
		map[string]string{"good": statementText},
		map[string]string{statementText: statementJSON},
	)
	h.text.ExtractFunc = func(ctx context.Context, locator string) (*textextract.Document, error) {
		switch {
		case strings.Contains(locator, "missing"):
			return nil, &fetch.Error{Locator: locator, Reason: "HTTP 404"}
		case strings.Contains(locator, "broken"):
			return nil, &textextract.ParseError{Err: errors.New("not a PDF")}
		}
		return textextract.NewDocumentFromPages([]string{statementText}), nil
	}

	summary, err := h.coordinator(pipeline.Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped[pipeline.KindFetch] != 1 || summary.Skipped[pipeline.KindParse] != 1 {
		t.Errorf("unexpected skips: %+v", summary.Skipped)
	}
	if summary.Processed != 1 || len(h.ledgers.Rows("Acme Ltd")) != 2 {
		t.Errorf("expected the good document processed, got %+v", summary)
	}
	var perr *pipeline.Error
	if !errors.As(summary.Outcomes[0].Err, &perr) || perr.DocumentID != "missing" {
		t.Errorf("expected a pipeline.Error for the first document, got %v", summary.Outcomes[0].Err)
	}
}

func TestRun_ExtractionFailureSkips(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe")},
		map[string]string{"page-1": "prose"},
		map[string]string{"prose": "I could not find any transactions, sorry."},
	)

	summary, err := h.coordinator(pipeline.Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped[pipeline.KindExtractionSchema] != 1 {
		t.Errorf("expected ExtractionSchemaError, got %+v", summary.Skipped)
	}
	if h.completer.calls != 2 {
		t.Errorf("expected the schema error to be retried once, got %d calls", h.completer.calls)
	}
	if h.ledgers.ResolveCalls != 0 {
		t.Error("resolver must not run after a failed extraction")
	}
}

func TestRun_FatalErrorAbortsRun(t *testing.T) {
	docs := []domain.SourceDocument{doc("page-1", "Jane Doe"), doc("page-2", "Acme Ltd")}
	h := newHarness(docs,
		map[string]string{"page-1": statementText, "page-2": statementText},
		map[string]string{statementText: statementJSON},
	)
	h.ledgers.ResolveErr = fmt.Errorf("SearchDatabases: %w", domain.ErrFatalConfiguration)

	summary, err := h.coordinator(pipeline.Options{}).Run(context.Background())
	if !errors.Is(err, pipeline.ErrFatalConfiguration) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if len(h.text.calls) != 1 {
		t.Errorf("second document must be untouched, extractor saw %v", h.text.calls)
	}
	if len(summary.Outcomes) != 1 || summary.Outcomes[0].Reason != pipeline.KindFatal {
		t.Errorf("unexpected outcomes: %+v", summary.Outcomes)
	}
	pending, _ := h.store.ListPending(context.Background())
	if len(pending) != 0 {
		t.Errorf("fatal errors must not touch tracking, got %+v", pending)
	}
}

func TestRun_FatalCompletionErrorAbortsRun(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe"), doc("page-2", "Jane Doe")},
		map[string]string{"page-1": statementText, "page-2": statementText},
		nil,
	)
	h.completer.CompleteFunc = func(ctx context.Context, req llm.Request) (string, error) {
		return "", fmt.Errorf("gemini: %w", domain.ErrFatalConfiguration)
	}

	_, err := h.coordinator(pipeline.Options{}).Run(context.Background())
	if !errors.Is(err, pipeline.ErrFatalConfiguration) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if h.completer.calls != 1 {
		t.Errorf("fatal errors must not be retried, got %d calls", h.completer.calls)
	}
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe")},
		map[string]string{"page-1": statementText},
		map[string]string{statementText: statementJSON},
	)

	summary, err := h.coordinator(pipeline.Options{DryRun: true}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.DryRun != 1 || summary.Outcomes[0].Records != 2 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if h.ledgers.ResolveCalls != 0 || h.ledgers.WriteCalls != 0 {
		t.Error("dry run must not resolve or write")
	}
	if h.status(t, "page-1") != domain.StatusPending {
		t.Error("dry run must not mark documents")
	}
}

func TestRun_DiscoveryFailure(t *testing.T) {
	h := newHarness(nil, nil, nil)
	h.source.Err = errors.New("intake database unavailable")

	if _, err := h.coordinator(pipeline.Options{}).Run(context.Background()); err == nil {
		t.Fatal("expected discovery error")
	}
}

func TestRun_CancelledContextStops(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe"), doc("page-2", "Jane Doe")},
		map[string]string{"page-1": statementText, "page-2": statementText},
		map[string]string{statementText: statementJSON},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.coordinator(pipeline.Options{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(h.text.calls) != 0 {
		t.Errorf("no document should be processed, got %v", h.text.calls)
	}
}

func TestSummaryWrite(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-1", "Jane Doe"), doc("page-2", "Jane Doe")},
		map[string]string{"page-1": statementText},
		map[string]string{statementText: statementJSON},
	)
	summary, err := h.coordinator(pipeline.Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var buf bytes.Buffer
	if err := summary.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"processed:          1", "skipped:            1", "FetchError:", "rows written:       2", "skipped page-2 (FetchError)"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestRun_SkipLogCarriesDocument(t *testing.T) {
	h := newHarness(
		[]domain.SourceDocument{doc("page-9", "Acme Ltd")},
		nil,
		nil,
	)
	var buf bytes.Buffer
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(&buf))

	if _, err := h.coordinator(pipeline.Options{}).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"message":"Document skipped"`, `"document_id":"page-9"`, `"respondent":"Acme Ltd"`, `"reason":"FetchError"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s:\n%s", want, out)
		}
	}
}

var _ tracking.Store = (*FlakyStore)(nil)
