package notionsync

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/patrickmn/go-cache"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/logger"
)

// ResolutionError reports a ledger that could not be found, created or
// brought up to the current schema.
type ResolutionError struct {
	Respondent string
	Err        error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving ledger for %q: %v", e.Respondent, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// ResolverOptions configures a LedgerResolver.
type ResolverOptions struct {
	// ParentPageID is the page ledgers live under.
	ParentPageID string
	// CacheTTL bounds how long a resolved ledger is reused. Zero disables caching.
	CacheTTL time.Duration
	Calls    CallOptions
}

// LedgerResolver finds or creates the ledger database of a respondent.
type LedgerResolver struct {
	notion NotionService
	opts   ResolverOptions
	cache  *cache.Cache
}

// NewLedgerResolver creates a resolver.
func NewLedgerResolver(notion NotionService, opts ResolverOptions) *LedgerResolver {
	r := &LedgerResolver{notion: notion, opts: opts}
	if opts.CacheTTL > 0 {
		r.cache = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return r
}

// Resolve returns the ledger of respondent, creating it with the ledger schema
// when none exists. An existing ledger gains any missing column.
func (r *LedgerResolver) Resolve(ctx context.Context, respondent string) (domain.Ledger, error) {
	log := logger.FromContext(ctx)

	if r.cache != nil {
		if cached, ok := r.cache.Get(respondent); ok {
			return cached.(domain.Ledger), nil
		}
	}

	db, err := r.find(ctx, respondent)
	if err != nil {
		return domain.Ledger{}, &ResolutionError{Respondent: respondent, Err: err}
	}

	if db != nil {
		if err := r.ensureSchema(ctx, db); err != nil {
			return domain.Ledger{}, &ResolutionError{Respondent: respondent, Err: err}
		}
	} else {
		// Another writer may have created it since the first search.
		db, err = r.find(ctx, respondent)
		if err != nil {
			return domain.Ledger{}, &ResolutionError{Respondent: respondent, Err: err}
		}
		if db == nil {
			db, err = r.create(ctx, respondent)
			if err != nil {
				return domain.Ledger{}, &ResolutionError{Respondent: respondent, Err: err}
			}
			log.Info().
				Str("respondent", respondent).
				Str("ledger_id", db.ID.String()).
				Msg("Created ledger database")
		} else if err := r.ensureSchema(ctx, db); err != nil {
			return domain.Ledger{}, &ResolutionError{Respondent: respondent, Err: err}
		}
	}

	ledger := domain.Ledger{
		ID:         db.ID.String(),
		Respondent: respondent,
		URL:        db.URL,
		CreatedAt:  db.CreatedTime,
	}
	if r.cache != nil {
		r.cache.SetDefault(respondent, ledger)
	}
	return ledger, nil
}

// find searches for ledgers titled exactly respondent under the parent page.
// It returns nil when there is none and the oldest when there are several.
func (r *LedgerResolver) find(ctx context.Context, respondent string) (*notionapi.Database, error) {
	var matches []*notionapi.Database
	var cursor notionapi.Cursor

	for {
		var resp *notionapi.SearchResponse
		err := r.opts.Calls.do(ctx, func(ctx context.Context) error {
			var err error
			resp, err = r.notion.SearchDatabases(ctx, respondent, cursor)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("searching ledgers: %w", err)
		}

		for _, obj := range resp.Results {
			db, ok := obj.(*notionapi.Database)
			if !ok || db.Archived {
				continue
			}
			if plainText(db.Title) != respondent {
				continue
			}
			if normalizeID(string(db.Parent.PageID)) != normalizeID(r.opts.ParentPageID) {
				continue
			}
			matches = append(matches, db)
		}

		if !resp.HasMore || resp.NextCursor == "" {
			break
		}
		cursor = resp.NextCursor
	}

	if len(matches) == 0 {
		return nil, nil
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedTime.Before(matches[j].CreatedTime)
	})
	if len(matches) > 1 {
		ids := make([]string, len(matches))
		for i, db := range matches {
			ids[i] = db.ID.String()
		}
		log := logger.FromContext(ctx)
		log.Warn().
			Str("respondent", respondent).
			Str("chosen", ids[0]).
			Str("candidates", strings.Join(ids, ",")).
			Msg("Several ledgers match respondent, using the oldest")
	}
	return matches[0], nil
}

func (r *LedgerResolver) create(ctx context.Context, respondent string) (*notionapi.Database, error) {
	var db *notionapi.Database
	err := r.opts.Calls.do(ctx, func(ctx context.Context) error {
		var err error
		db, err = r.notion.CreateDatabase(ctx, r.opts.ParentPageID, respondent, LedgerSchema())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating ledger: %w", err)
	}
	return db, nil
}

// ensureSchema adds missing ledger columns. Search results may omit the
// schema, so the database is fetched first.
func (r *LedgerResolver) ensureSchema(ctx context.Context, db *notionapi.Database) error {
	id := db.ID.String()

	var full *notionapi.Database
	err := r.opts.Calls.do(ctx, func(ctx context.Context) error {
		var err error
		full, err = r.notion.GetDatabase(ctx, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("reading ledger schema: %w", err)
	}

	missing, err := missingColumns(full.Properties)
	if err != nil {
		return fmt.Errorf("ledger %s: %w", id, err)
	}
	if len(missing) == 0 {
		return nil
	}

	err = r.opts.Calls.do(ctx, func(ctx context.Context) error {
		_, err := r.notion.UpdateDatabase(ctx, id, missing)
		return err
	})
	if err != nil {
		return fmt.Errorf("adding ledger columns: %w", err)
	}

	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	log := logger.FromContext(ctx)
	log.Info().
		Str("ledger_id", id).
		Strs("added", names).
		Msg("Added missing ledger columns")
	return nil
}
