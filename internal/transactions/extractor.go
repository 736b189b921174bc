// Package transactions turns statement text into validated transaction
// records using a completion service.
package transactions

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/llm"
	"github.com/dvloznov/statement-sync/internal/logger"
	"github.com/dvloznov/statement-sync/internal/retry"
)

// Extraction is the result of extracting one document.
type Extraction struct {
	Records  []domain.TransactionRecord
	Rejected []Rejection
	Attempts int
}

// Extractor asks a completion service for the transactions in a text.
type Extractor struct {
	completer     llm.Completer
	policy        retry.Policy
	callTimeout   time.Duration
	maxInputChars int
}

// Options tune an Extractor. Zero values select defaults.
type Options struct {
	Policy        retry.Policy
	CallTimeout   time.Duration
	MaxInputChars int
}

// NewExtractor creates an Extractor.
func NewExtractor(completer llm.Completer, opts Options) *Extractor {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 2 * time.Minute
	}
	return &Extractor{
		completer:     completer,
		policy:        opts.Policy,
		callTimeout:   opts.CallTimeout,
		maxInputChars: opts.MaxInputChars,
	}
}

// ExtractTransactions returns the valid records in text. Invalid candidates are
// dropped; a reply that is never a list fails with *SchemaError.
func (e *Extractor) ExtractTransactions(ctx context.Context, text string) ([]domain.TransactionRecord, error) {
	ex, err := e.Extract(ctx, text)
	if err != nil {
		return nil, err
	}
	return ex.Records, nil
}

// Extract is ExtractTransactions with the rejected candidates and attempt count.
func (e *Extractor) Extract(ctx context.Context, text string) (*Extraction, error) {
	log := logger.FromContext(ctx)
	input := e.truncate(ctx, text)

	var result ParseResult
	attempts := 0
	err := retry.Do(ctx, e.policy, isRetryable, func(ctx context.Context, attempt int) error {
		attempts = attempt
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		defer cancel()

		raw, err := e.completer.Complete(callCtx, llm.Request{Instruction: Instruction, Input: input})
		if err != nil {
			return err
		}

		result = ParseResponse(raw)
		if !result.Ok() {
			log.Warn().
				Err(result.SchemaErr.Err).
				Int("attempt", attempt).
				Int("raw_len", len(raw)).
				Msg("Completion was not a transaction list")
			return result.SchemaErr
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, r := range result.Rejected {
		log.Warn().
			Int("record_index", r.Index).
			Str("reason", r.Reason).
			Msg("Dropped invalid transaction record")
	}
	log.Info().
		Int("records", len(result.Records)).
		Int("dropped", len(result.Rejected)).
		Int("attempts", attempts).
		Str("model", e.completer.Model()).
		Msg("Extracted transactions")

	return &Extraction{Records: result.Records, Rejected: result.Rejected, Attempts: attempts}, nil
}

// truncate bounds the input sent to the model to maxInputChars characters.
func (e *Extractor) truncate(ctx context.Context, text string) string {
	if e.maxInputChars <= 0 || utf8.RuneCountInString(text) <= e.maxInputChars {
		return text
	}
	cut, n := 0, 0
	for cut < len(text) && n < e.maxInputChars {
		_, size := utf8.DecodeRuneInString(text[cut:])
		cut += size
		n++
	}
	log := logger.FromContext(ctx)
	log.Warn().
		Int("text_chars", utf8.RuneCountInString(text)).
		Int("max_input_chars", e.maxInputChars).
		Msg("Statement text truncated before extraction")
	return text[:cut]
}

func isRetryable(err error) bool {
	if errors.Is(err, domain.ErrFatalConfiguration) {
		return false
	}
	var schemaErr *SchemaError
	if errors.As(err, &schemaErr) {
		return true
	}
	return llm.IsRetryable(err)
}
