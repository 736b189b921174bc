package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/statement-sync/internal/config"
	"github.com/dvloznov/statement-sync/internal/fetch"
	"github.com/dvloznov/statement-sync/internal/llm"
	"github.com/dvloznov/statement-sync/internal/logger"
	"github.com/dvloznov/statement-sync/internal/notionsync"
	"github.com/dvloznov/statement-sync/internal/retry"
	"github.com/dvloznov/statement-sync/internal/textextract"
	"github.com/dvloznov/statement-sync/internal/tracking"
	"github.com/dvloznov/statement-sync/internal/tracking/bigquery"
	"github.com/dvloznov/statement-sync/internal/tracking/firestore"
	"github.com/dvloznov/statement-sync/internal/tracking/memory"
	"github.com/dvloznov/statement-sync/internal/tracking/sqlite"
	"github.com/dvloznov/statement-sync/internal/transactions"
)

// needs selects which components a command builds.
type needs struct {
	text       bool
	completion bool
	ledgers    bool
	tracking   bool
}

type app struct {
	intake       *notionsync.Intake
	store        tracking.Store
	text         *textextract.Extractor
	transactions *transactions.Extractor
	resolver     *notionsync.LedgerResolver
	writer       *notionsync.LedgerWriter

	closers []io.Closer
}

// Close releases every client opened by build.
func (a *app) Close(ctx context.Context) {
	log := logger.FromContext(ctx)
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close client")
		}
	}
}

func build(ctx context.Context, cfg *config.Config, n needs) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close(ctx)
		}
	}()

	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      true,
	}

	if n.text {
		a.text = textextract.NewExtractor(newRouter(ctx, cfg, a), newEngine(cfg))
	}

	if n.completion {
		completer, err := newCompleter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.transactions = transactions.NewExtractor(completer, transactions.Options{
			Policy:        policy,
			CallTimeout:   cfg.Timeouts.Completion,
			MaxInputChars: cfg.LLM.MaxInputChars,
		})
	}

	if n.ledgers || n.tracking {
		notion := notionsync.NewNotionClient(cfg.Notion.APIKey, cfg.Notion.RateLimit)
		calls := notionsync.CallOptions{Policy: policy, Timeout: cfg.Timeouts.Platform}

		a.intake = notionsync.NewIntake(notion, notionsync.IntakeOptions{
			DatabaseID:         cfg.Notion.IntakeDatabaseID,
			FilesProperty:      cfg.Notion.FilesProperty,
			RespondentProperty: cfg.Notion.RespondentProperty,
			ProcessedProperty:  cfg.Notion.ProcessedProperty,
			OnlyUnprocessed:    cfg.Tracking.Backend == config.TrackingNotion,
			Calls:              calls,
		})

		if n.ledgers {
			a.resolver = notionsync.NewLedgerResolver(notion, notionsync.ResolverOptions{
				ParentPageID: cfg.Notion.LedgerParentPageID,
				CacheTTL:     cfg.Ledger.CacheTTL,
				Calls:        calls,
			})
			a.writer = notionsync.NewLedgerWriter(notion, calls)
		}
	}

	if n.tracking {
		store, err := newStore(ctx, cfg, a)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	ok = true
	return a, nil
}

func newRouter(ctx context.Context, cfg *config.Config, a *app) *fetch.Router {
	router := &fetch.Router{
		HTTP:  fetch.NewHTTPFetcher(cfg.Timeouts.Fetch),
		Local: fetch.FileFetcher{},
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("GCS client unavailable, gs:// locators will fail")
		return router
	}
	a.closers = append(a.closers, client)
	router.GCS = fetch.NewGCSFetcher(client)
	return router
}

func newEngine(cfg *config.Config) textextract.Engine {
	if cfg.PDF.Engine == config.EnginePDFToText {
		return textextract.NewPDFToTextEngine(textextract.ExecRunner{}, cfg.PDF.PdftotextPath)
	}
	return textextract.PDFCPUEngine{}
}

func newCompleter(ctx context.Context, cfg *config.Config) (llm.Completer, error) {
	settings := llm.Settings{
		Temperature:     cfg.LLM.Temperature,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	}

	switch cfg.LLM.Provider {
	case config.ProviderOpenAI:
		settings.Model = cfg.LLM.OpenAIModel
		return llm.NewOpenAI(llm.OpenAIConfig{
			Settings: settings,
			APIKey:   cfg.LLM.OpenAIAPIKey,
			BaseURL:  cfg.LLM.OpenAIBaseURL,
		}, &http.Client{}), nil
	default:
		settings.Model = cfg.LLM.GeminiModel
		return llm.NewGemini(ctx, llm.GeminiConfig{
			Settings:    settings,
			APIKey:      cfg.LLM.GoogleAPIKey,
			UseVertexAI: cfg.LLM.UseVertexAI,
		})
	}
}

func newStore(ctx context.Context, cfg *config.Config, a *app) (tracking.Store, error) {
	log := logger.FromContext(ctx)
	t := cfg.Tracking
	log.Debug().Str("backend", t.Backend).Msg("Opening tracking store")

	switch t.Backend {
	case config.TrackingNotion:
		if err := a.intake.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("preparing intake database: %w", err)
		}
		return a.intake, nil
	case config.TrackingSQLite:
		store, err := sqlite.Open(ctx, t.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	case config.TrackingBigQuery:
		store, err := bigquery.NewStore(ctx, t.GCPProjectID, t.BigQueryDataset)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	case config.TrackingFirestore:
		store, err := firestore.NewStore(ctx, t.GCPProjectID, t.FirestoreCollection)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store)
		return store, nil
	case config.TrackingMemory:
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown tracking backend %q", t.Backend)
	}
}
