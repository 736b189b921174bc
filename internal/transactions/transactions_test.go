package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/llm"
	"github.com/dvloznov/statement-sync/internal/retry"
)

type MockCompleter struct {
	CompleteFunc func(ctx context.Context, req llm.Request) (string, error)
	calls        int
}

func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	m.calls++
	return m.CompleteFunc(ctx, req)
}

func (m *MockCompleter) Model() string { return "mock" }

func replyWith(replies ...string) *MockCompleter {
	m := &MockCompleter{}
	m.CompleteFunc = func(ctx context.Context, req llm.Request) (string, error) {
		i := m.calls - 1
		if i >= len(replies) {
			i = len(replies) - 1
		}
		return replies[i], nil
	}
	return m
}

var fastPolicy = retry.Policy{MaxAttempts: 3}

func TestExtractTransactions_StatementExample(t *testing.T) {
	text := "2024-01-03 Coffee Shop $4.50\n2024-01-05 Bookstore $19.99"
	completer := &MockCompleter{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
		assert.Equal(t, text, req.Input)
		assert.Contains(t, req.Instruction, "free text")
		return `[
			{"transaction_date": "2024-01-03", "product_name": "Coffee Shop", "price": "4.50", "category": "Food"},
			{"transaction_date": "2024-01-05", "product_name": "Bookstore", "price": "19.99", "category": "Books"}
		]`, nil
	}}

	records, err := NewExtractor(completer, Options{Policy: fastPolicy}).ExtractTransactions(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "2024-01-03", records[0].Date.String())
	assert.Equal(t, "4.50", records[0].PriceString())
	assert.Equal(t, "Coffee Shop", records[0].ProductName)
	assert.Equal(t, "2024-01-05", records[1].Date.String())
	assert.Equal(t, "19.99", records[1].PriceString())
}

func TestExtract_DropsInvalidRecordsKeepsOthers(t *testing.T) {
	reply := `[
		{"transaction_date": "2024-02-01", "product_name": "Rent", "price": "1,200.00", "category": "Housing"},
		{"transaction_date": "2024-02-02", "product_name": "Missing price", "category": "Misc"},
		{"transaction_date": "2024-02-03", "product_name": "Bad price", "price": "12,5", "category": "Misc"},
		{"transaction_date": "sometime", "product_name": "Bad date", "price": "1.00", "category": "Misc"},
		{"transaction_date": "2024-02-04", "product_name": "   ", "price": "1.00", "category": "Misc"},
		"not an object",
		{"transaction_date": "2024-02-05", "product_name": "Gym", "price": 45, "category": "Health"}
	]`

	ex, err := NewExtractor(replyWith(reply), Options{Policy: fastPolicy}).Extract(context.Background(), "text")
	require.NoError(t, err)

	require.Len(t, ex.Records, 2)
	assert.Equal(t, "1200.00", ex.Records[0].PriceString())
	assert.Equal(t, "45.00", ex.Records[1].PriceString())

	var indexes []int
	for _, r := range ex.Rejected {
		indexes = append(indexes, r.Index)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, indexes)
}

func TestExtract_CategoryIsFreeText(t *testing.T) {
	reply := `[
		{"transaction_date": "2024-03-01", "product_name": "A", "price": "1.00", "category": "Groceries"},
		{"transaction_date": "2024-03-02", "product_name": "B", "price": "2.00", "category": "Unknown — ???"},
		{"transaction_date": "2024-03-03", "product_name": "C", "price": "3.00", "category": "自定义类别"}
	]`

	records, err := NewExtractor(replyWith(reply), Options{Policy: fastPolicy}).ExtractTransactions(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "Groceries", records[0].Category)
	assert.Equal(t, "Unknown — ???", records[1].Category)
	assert.Equal(t, "自定义类别", records[2].Category)
}

func TestExtract_ZeroRecordsIsSuccess(t *testing.T) {
	records, err := NewExtractor(replyWith("```json\n[]\n```"), Options{Policy: fastPolicy}).ExtractTransactions(context.Background(), "no activity")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestExtract_RetriesSchemaErrorsThenSucceeds(t *testing.T) {
	completer := replyWith(
		"I could not find any structured data.",
		`[{"transaction_date": "2024-04-01", "product_name": "Tea", "price": "2.00", "category": "Food"}]`,
	)

	ex, err := NewExtractor(completer, Options{Policy: fastPolicy}).Extract(context.Background(), "text")
	require.NoError(t, err)
	assert.Len(t, ex.Records, 1)
	assert.Equal(t, 2, ex.Attempts)
}

func TestExtract_SchemaErrorAfterRetries(t *testing.T) {
	completer := replyWith(`{"answer": "no list here"}`)

	_, err := NewExtractor(completer, Options{Policy: fastPolicy}).Extract(context.Background(), "text")
	require.Error(t, err)

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, 3, completer.calls)
}

func TestExtract_FatalErrorIsNotRetried(t *testing.T) {
	completer := &MockCompleter{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
		return "", fmt.Errorf("%w: %w", domain.ErrFatalConfiguration, &llm.APIError{Provider: "openai", StatusCode: 401})
	}}

	_, err := NewExtractor(completer, Options{Policy: fastPolicy}).Extract(context.Background(), "text")
	assert.ErrorIs(t, err, domain.ErrFatalConfiguration)
	assert.Equal(t, 1, completer.calls)
}

func TestExtract_TransientErrorsRetried(t *testing.T) {
	completer := &MockCompleter{}
	completer.CompleteFunc = func(ctx context.Context, req llm.Request) (string, error) {
		if completer.calls == 1 {
			return "", &llm.APIError{Provider: "gemini", StatusCode: 429, Message: "quota"}
		}
		return "[]", nil
	}

	_, err := NewExtractor(completer, Options{Policy: fastPolicy}).Extract(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, 2, completer.calls)
}

func TestExtract_TruncatesLongInput(t *testing.T) {
	var got string
	completer := &MockCompleter{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
		got = req.Input
		return "[]", nil
	}}

	text := strings.Repeat("é", 10) // 20 bytes
	_, err := NewExtractor(completer, Options{Policy: fastPolicy, MaxInputChars: 5}).Extract(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, "ééééé", got)
}

func TestExtract_InputWithinCharLimitIsNotTruncated(t *testing.T) {
	var got string
	completer := &MockCompleter{CompleteFunc: func(ctx context.Context, req llm.Request) (string, error) {
		got = req.Input
		return "[]", nil
	}}

	text := strings.Repeat("€", 8) // 8 chars, 24 bytes
	_, err := NewExtractor(completer, Options{Policy: fastPolicy, MaxInputChars: 8}).Extract(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, text, got)
}

func TestExtract_IgnoresBracketedProse(t *testing.T) {
	reply := "Found [2] transactions (see note [1]):\n" +
		`[{"transaction_date": "2024-01-03", "product_name": "Coffee Shop", "price": "$4.50", "category": "Food"},` +
		` {"transaction_date": "2024-01-05", "product_name": "Bookstore", "price": "$19.99", "category": "Shopping"}]` +
		"\nTotals exclude fees [3]."
	completer := replyWith(reply)

	records, err := NewExtractor(completer, Options{Policy: fastPolicy}).ExtractTransactions(context.Background(), "text")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Coffee Shop", records[0].ProductName)
	assert.Equal(t, "19.99", records[1].PriceString())
	assert.Equal(t, 1, completer.calls)
}

func TestParseResponse(t *testing.T) {
	record := `{"transaction_date": "2024-01-03", "product_name": "Coffee", "price": "4.50", "category": "Food"}`

	tests := []struct {
		name        string
		raw         string
		wantRecords int
		wantErr     bool
	}{
		{name: "plain array", raw: "[" + record + "]", wantRecords: 1},
		{name: "json fence", raw: "```json\n[" + record + "]\n```", wantRecords: 1},
		{name: "prose around fence", raw: "Here you go:\n```\n[" + record + "]\n```\nLet me know!", wantRecords: 1},
		{name: "prose around array", raw: "Transactions: [" + record + "] done.", wantRecords: 1},
		{name: "wrapped object", raw: `{"transactions": [` + record + `]}`, wantRecords: 1},
		{name: "empty array", raw: "[]", wantRecords: 0},
		{name: "object without list", raw: `{"transaction_date": "2024-01-03"}`, wantErr: true},
		{name: "scalar", raw: `"nothing"`, wantErr: true},
		{name: "empty", raw: "  ", wantErr: true},
		{name: "truncated", raw: "[" + record, wantErr: true},
		{name: "count in leading prose", raw: "Found [2] transactions:\n[" + record + ", " + record + "]", wantRecords: 2},
		{name: "note marker in leading prose", raw: "Statement (see note [1]):\n[" + record + "]", wantRecords: 1},
		{name: "brackets in trailing prose", raw: "[" + record + "]\nTotals exclude fees [3].", wantRecords: 1},
		{name: "wrapped object in prose", raw: `Result [ok]: {"transactions": [` + record + `]}`, wantRecords: 1},
		{name: "empty list after bracketed prose", raw: "Page [1] has no activity: []", wantRecords: 0},
		{name: "only bracketed prose", raw: "I found [2] items but cannot list them.", wantErr: true},
		{name: "trailing garbage after list", raw: "[" + record + "] [", wantRecords: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ParseResponse(tt.raw)
			if tt.wantErr {
				require.False(t, result.Ok())
				assert.Equal(t, tt.raw, result.SchemaErr.Raw)
				return
			}
			require.True(t, result.Ok(), "unexpected schema error: %v", result.SchemaErr)
			assert.Len(t, result.Records, tt.wantRecords)
			assert.Empty(t, result.Rejected)
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2024-01-03", want: "2024-01-03"},
		{in: "2024-1-3", want: "2024-01-03"},
		{in: "2024/01/03", want: "2024-01-03"},
		{in: "2024-01-03T10:15:00Z", want: "2024-01-03"},
		{in: "01/03/2024", want: "2024-01-03"},
		{in: "1/3/24", want: "2024-01-03"},
		{in: "25/03/2024", want: "2024-03-25"},
		{in: "25.03.2024", want: "2024-03-25"},
		{in: "Jan 3, 2024", want: "2024-01-03"},
		{in: "January 3, 2024", want: "2024-01-03"},
		{in: "3 Jan 2024", want: "2024-01-03"},
		{in: "03-Jan-2024", want: "2024-01-03"},
		{in: " 2024-01-03 ", want: "2024-01-03"},
		{in: "2024-02-30", wantErr: true},
		{in: "13/13/2024", wantErr: true},
		{in: "yesterday", wantErr: true},
		{in: "0001-01-01", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if tt.wantErr {
				assert.Error(t, err, "got %s", got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseDate_Deterministic(t *testing.T) {
	first, err := ParseDate("02/03/2024")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := ParseDate("02/03/2024")
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, civil.Date{Year: 2024, Month: 2, Day: 3}, first)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      interface{}
		want    string
		wantErr bool
	}{
		{in: "4.50", want: "4.5"},
		{in: "$19.99", want: "19.99"},
		{in: "1,234.56", want: "1234.56"},
		{in: "USD 12", want: "12"},
		{in: "12.00 EUR", want: "12"},
		{in: "£ 3.20", want: "3.2"},
		{in: "-4.50", want: "-4.5"},
		{in: "−4.50", want: "-4.5"},
		{in: "4.50-", want: "-4.5"},
		{in: "(12.00)", want: "-12"},
		{in: "+7", want: "7"},
		{in: "1 000.00", want: "1000"},
		{in: "12,5", wantErr: true},
		{in: "1.234,56", wantErr: true},
		{in: "12,34,567", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "4.50.1", wantErr: true},
		{in: true, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			if tt.wantErr {
				assert.Error(t, err, "got %s", got)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestNewTransactionRecord_RoundsPrice(t *testing.T) {
	rec := domain.NewTransactionRecord(civil.Date{Year: 2024, Month: 1, Day: 1}, "x", decimal.RequireFromString("4.505"), "y")
	assert.Equal(t, "4.51", rec.PriceString())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, isRetryable(&SchemaError{Err: errors.New("x")}))
	assert.False(t, isRetryable(fmt.Errorf("%w: bad key", domain.ErrFatalConfiguration)))
	assert.False(t, isRetryable(errors.New("decode openai response")))
}
