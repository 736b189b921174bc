package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/llm"
	"github.com/dvloznov/statement-sync/internal/retry"
	"github.com/dvloznov/statement-sync/internal/textextract"
	"github.com/dvloznov/statement-sync/internal/tracking"
	"github.com/dvloznov/statement-sync/internal/tracking/memory"
	"github.com/dvloznov/statement-sync/internal/transactions"
)

// MockSource returns a fixed document list.
type MockSource struct {
	Docs []domain.SourceDocument
	Err  error
}

func (m *MockSource) ListDocuments(ctx context.Context) ([]domain.SourceDocument, error) {
	return m.Docs, m.Err
}

// MockTextExtractor serves page texts by locator.
type MockTextExtractor struct {
	ExtractFunc func(ctx context.Context, locator string) (*textextract.Document, error)
	calls       []string
}

func (m *MockTextExtractor) Extract(ctx context.Context, locator string) (*textextract.Document, error) {
	m.calls = append(m.calls, locator)
	return m.ExtractFunc(ctx, locator)
}

func textByLocator(texts map[string]string) *MockTextExtractor {
	return &MockTextExtractor{ExtractFunc: func(ctx context.Context, locator string) (*textextract.Document, error) {
		text, ok := texts[locator]
		if !ok {
			return nil, fmt.Errorf("no such document: %s", locator)
		}
		return textextract.NewDocumentFromPages([]string{text}), nil
	}}
}

// MockCompleter answers completion requests.
type MockCompleter struct {
	CompleteFunc func(ctx context.Context, req llm.Request) (string, error)
	calls        int
}

func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.calls++
	return m.CompleteFunc(ctx, req)
}

func (m *MockCompleter) Model() string { return "mock" }

// replyByInput maps document text to a canned model reply.
func replyByInput(replies map[string]string) *MockCompleter {
	return &MockCompleter{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
		reply, ok := replies[req.Input]
		if !ok {
			return "[]", nil
		}
		return reply, nil
	}}
}

func newTransactionExtractor(c llm.Completer) *transactions.Extractor {
	return transactions.NewExtractor(c, transactions.Options{
		Policy:      retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond},
		CallTimeout: time.Second,
	})
}

type ledgerRow struct {
	SourceDocumentID string
	Record           domain.TransactionRecord
	Archived         bool
}

// MemLedgers resolves respondents to in-memory ledgers and writes rows to them.
type MemLedgers struct {
	mu      sync.Mutex
	ledgers map[string]domain.Ledger
	rows    map[string][]*ledgerRow

	// FailWriteAt makes the n-th row write of the next Write call fail (0-based); -1 disables.
	FailWriteAt int
	ResolveErr  error

	Created      int
	WriteCalls   int
	ResolveCalls int
}

func NewMemLedgers() *MemLedgers {
	return &MemLedgers{
		ledgers:     make(map[string]domain.Ledger),
		rows:        make(map[string][]*ledgerRow),
		FailWriteAt: -1,
	}
}

func (m *MemLedgers) Resolve(ctx context.Context, respondent string) (domain.Ledger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResolveCalls++
	if m.ResolveErr != nil {
		return domain.Ledger{}, m.ResolveErr
	}
	if l, ok := m.ledgers[respondent]; ok {
		return l, nil
	}
	m.Created++
	l := domain.Ledger{ID: fmt.Sprintf("ledger-%d", m.Created), Respondent: respondent}
	m.ledgers[respondent] = l
	return l, nil
}

func (m *MemLedgers) Write(ctx context.Context, ledger domain.Ledger, records []domain.TransactionRecord, sourceDocumentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls++
	for i, rec := range records {
		if i == m.FailWriteAt {
			return i, fmt.Errorf("row %d rejected", i)
		}
		m.rows[ledger.ID] = append(m.rows[ledger.ID], &ledgerRow{SourceDocumentID: sourceDocumentID, Record: rec})
	}
	return len(records), nil
}

func (m *MemLedgers) Purge(ctx context.Context, ledger domain.Ledger, sourceDocumentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, row := range m.rows[ledger.ID] {
		if !row.Archived && row.SourceDocumentID == sourceDocumentID {
			row.Archived = true
			n++
		}
	}
	return n, nil
}

// Rows returns the live rows of the respondent's ledger.
func (m *MemLedgers) Rows(respondent string) []domain.TransactionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TransactionRecord
	for _, row := range m.rows[m.ledgers[respondent].ID] {
		if !row.Archived {
			out = append(out, row.Record)
		}
	}
	return out
}

// FlakyStore fails SetStatus for processed marks while FailProcessed is set.
type FlakyStore struct {
	tracking.Store
	FailProcessed bool
}

func (s *FlakyStore) SetStatus(ctx context.Context, id string, status domain.Status, at time.Time) error {
	if s.FailProcessed && status == domain.StatusProcessed {
		return fmt.Errorf("tracking backend unavailable")
	}
	return s.Store.SetStatus(ctx, id, status, at)
}

func newFlakyStore() *FlakyStore {
	return &FlakyStore{Store: memory.NewStore()}
}
