package notionsync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/logger"
	"github.com/dvloznov/statement-sync/internal/tracking"
)

// IntakeOptions configures an Intake.
type IntakeOptions struct {
	DatabaseID         string
	FilesProperty      string
	RespondentProperty string
	ProcessedProperty  string

	// OnlyUnprocessed restricts discovery to pages whose Processed checkbox is
	// unchecked. Set it when the Intake is also the tracking store.
	OnlyUnprocessed bool

	Calls CallOptions
}

// Intake discovers uploaded statements in the intake database and, through
// the Processed checkbox, doubles as a tracking.Store.
//
// A page's checkbox covers every file on it, so per-file status is kept in
// memory for the run and the checkbox is ticked once all files are processed.
type Intake struct {
	notion NotionService
	opts   IntakeOptions

	mu    sync.Mutex
	pages map[string]*intakePage
}

type intakePage struct {
	docIDs    []string
	status    map[string]tracking.Entry
	processed bool
}

// NewIntake creates an Intake.
func NewIntake(notion NotionService, opts IntakeOptions) *Intake {
	return &Intake{
		notion: notion,
		opts:   opts,
		pages:  make(map[string]*intakePage),
	}
}

// EnsureSchema adds the Processed checkbox to the intake database if missing.
func (i *Intake) EnsureSchema(ctx context.Context) error {
	var db *notionapi.Database
	err := i.opts.Calls.do(ctx, func(ctx context.Context) error {
		var err error
		db, err = i.notion.GetDatabase(ctx, i.opts.DatabaseID)
		return err
	})
	if err != nil {
		return fmt.Errorf("EnsureSchema: reading intake database: %w", err)
	}

	if cfg, ok := db.Properties[i.opts.ProcessedProperty]; ok {
		if cfg.GetType() != notionapi.PropertyConfigTypeCheckbox {
			return fmt.Errorf("EnsureSchema: %w: intake property %q is %s, expected checkbox",
				domain.ErrFatalConfiguration, i.opts.ProcessedProperty, cfg.GetType())
		}
		return nil
	}

	props := notionapi.PropertyConfigs{
		i.opts.ProcessedProperty: notionapi.CheckboxPropertyConfig{Type: notionapi.PropertyConfigTypeCheckbox},
	}
	err = i.opts.Calls.do(ctx, func(ctx context.Context) error {
		_, err := i.notion.UpdateDatabase(ctx, i.opts.DatabaseID, props)
		return err
	})
	if err != nil {
		return fmt.Errorf("EnsureSchema: adding %q: %w", i.opts.ProcessedProperty, err)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("property", i.opts.ProcessedProperty).
		Msg("Added processed checkbox to intake database")
	return nil
}

// ListDocuments returns one SourceDocument per uploaded file, oldest page first.
func (i *Intake) ListDocuments(ctx context.Context) ([]domain.SourceDocument, error) {
	var filter notionapi.Filter
	if i.opts.OnlyUnprocessed {
		filter = i.unprocessedFilter()
	}
	pages, err := queryAllNotionPages(ctx, i.notion, i.opts.Calls, i.opts.DatabaseID, filter, createdAscending())
	if err != nil {
		return nil, fmt.Errorf("ListDocuments: %w", err)
	}

	var docs []domain.SourceDocument
	for _, page := range pages {
		docs = append(docs, i.register(ctx, page)...)
	}
	return docs, nil
}

// register converts a page into documents and records it in the run view.
func (i *Intake) register(ctx context.Context, page notionapi.Page) []domain.SourceDocument {
	pageID := page.ID.String()
	processed := checkboxValue(page.Properties[i.opts.ProcessedProperty])

	respondent := strings.TrimSpace(propertyText(page.Properties[i.opts.RespondentProperty]))
	if respondent == "" {
		respondent = domain.UnknownRespondent
	}

	status := domain.StatusPending
	if processed {
		status = domain.StatusProcessed
	}

	files := pageFiles(page.Properties[i.opts.FilesProperty])
	if len(files) == 0 {
		log := logger.FromContext(ctx)
		log.Debug().Str("page_id", pageID).Msg("Intake page has no files")
	}

	docs := make([]domain.SourceDocument, 0, len(files))
	for n, file := range files {
		docs = append(docs, domain.SourceDocument{
			ID:           DocumentID(pageID, n+1),
			Respondent:   respondent,
			Locator:      file.url,
			FileName:     file.name,
			IntakePageID: pageID,
			Status:       status,
		})
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	state := &intakePage{
		status:    make(map[string]tracking.Entry),
		processed: processed,
	}
	for _, doc := range docs {
		state.docIDs = append(state.docIDs, doc.ID)
	}
	i.pages[pageID] = state
	return docs
}

type intakeFile struct {
	name string
	url  string
}

func pageFiles(prop notionapi.Property) []intakeFile {
	var files []notionapi.File
	switch p := prop.(type) {
	case *notionapi.FilesProperty:
		files = p.Files
	case notionapi.FilesProperty:
		files = p.Files
	}

	var out []intakeFile
	for _, f := range files {
		var url string
		switch {
		case f.File != nil && f.File.URL != "":
			url = f.File.URL
		case f.External != nil && f.External.URL != "":
			url = f.External.URL
		default:
			continue
		}
		out = append(out, intakeFile{name: f.Name, url: url})
	}
	return out
}

// DocumentID names the n-th file (1-based) of an intake page. The first file
// uses the bare page ID so adding files never renames existing documents.
func DocumentID(pageID string, n int) string {
	if n <= 1 {
		return pageID
	}
	return pageID + "#" + strconv.Itoa(n)
}

// PageOf returns the intake page ID a document ID belongs to.
func PageOf(documentID string) string {
	if idx := strings.IndexByte(documentID, '#'); idx >= 0 {
		return documentID[:idx]
	}
	return documentID
}

func (i *Intake) unprocessedFilter() notionapi.Filter {
	// equals:false would be dropped by omitempty; does_not_equal:true also
	// matches pages whose checkbox was never set.
	return notionapi.PropertyFilter{
		Property: i.opts.ProcessedProperty,
		Checkbox: &notionapi.CheckboxFilterCondition{DoesNotEqual: true},
	}
}

func createdAscending() notionapi.SortObject {
	return notionapi.SortObject{
		Timestamp: notionapi.TimestampCreated,
		Direction: notionapi.SortOrderASC,
	}
}

// GetStatus implements tracking.Store. Pages not seen in this run are read
// from Notion.
func (i *Intake) GetStatus(ctx context.Context, documentID string) (domain.Status, error) {
	if status, ok := i.runStatus(documentID); ok {
		return status, nil
	}

	var page *notionapi.Page
	err := i.opts.Calls.do(ctx, func(ctx context.Context) error {
		var err error
		page, err = i.notion.GetPage(ctx, PageOf(documentID))
		return err
	})
	if err != nil {
		return "", fmt.Errorf("GetStatus: %w", err)
	}
	if checkboxValue(page.Properties[i.opts.ProcessedProperty]) {
		return domain.StatusProcessed, nil
	}
	return domain.StatusPending, nil
}

func (i *Intake) runStatus(documentID string) (domain.Status, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	state, ok := i.pages[PageOf(documentID)]
	if !ok {
		return "", false
	}
	if state.processed {
		return domain.StatusProcessed, true
	}
	if entry, ok := state.status[documentID]; ok {
		return entry.Status, true
	}
	return domain.StatusPending, true
}

func (i *Intake) runEntry(documentID string) (tracking.Entry, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	state, ok := i.pages[PageOf(documentID)]
	if !ok {
		return tracking.Entry{}, false
	}
	entry, ok := state.status[documentID]
	return entry, ok
}

// SetStatus implements tracking.Store. The page checkbox is ticked when every
// file of the page is processed and cleared when a file goes back to pending.
func (i *Intake) SetStatus(ctx context.Context, documentID string, status domain.Status, at time.Time) error {
	if err := tracking.CheckSet(documentID, status); err != nil {
		return err
	}
	pageID := PageOf(documentID)

	i.mu.Lock()
	state, ok := i.pages[pageID]
	if !ok {
		// Not discovered in this run; treat the document as the page's only file.
		state = &intakePage{docIDs: []string{documentID}, status: make(map[string]tracking.Entry)}
		i.pages[pageID] = state
	}
	state.status[documentID] = tracking.Entry{DocumentID: documentID, Status: status, UpdatedAt: at}

	want := state.processed
	switch status {
	case domain.StatusProcessed:
		want = state.allProcessed()
	case domain.StatusPending:
		want = false
	}
	changed := want != state.processed || !ok
	i.mu.Unlock()

	if !changed {
		return nil
	}

	props := notionapi.Properties{
		i.opts.ProcessedProperty: notionapi.CheckboxProperty{Checkbox: want},
	}
	err := i.opts.Calls.do(ctx, func(ctx context.Context) error {
		_, err := i.notion.UpdatePage(ctx, pageID, props)
		return err
	})
	if err != nil {
		return fmt.Errorf("SetStatus: %w", err)
	}

	i.mu.Lock()
	state.processed = want
	i.mu.Unlock()
	return nil
}

func (p *intakePage) allProcessed() bool {
	for _, id := range p.docIDs {
		if p.status[id].Status != domain.StatusProcessed {
			return false
		}
	}
	return true
}

// ListPending implements tracking.Store by listing every file on pages whose
// checkbox is unchecked, minus files already processed in this run.
func (i *Intake) ListPending(ctx context.Context) ([]tracking.Entry, error) {
	pages, err := queryAllNotionPages(ctx, i.notion, i.opts.Calls, i.opts.DatabaseID, i.unprocessedFilter(), createdAscending())
	if err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}

	var entries []tracking.Entry
	for _, page := range pages {
		pageID := page.ID.String()
		for n := range pageFiles(page.Properties[i.opts.FilesProperty]) {
			id := DocumentID(pageID, n+1)
			entry := tracking.Entry{DocumentID: id, Status: domain.StatusPending, UpdatedAt: page.LastEditedTime}
			if seen, ok := i.runEntry(id); ok {
				if seen.Status == domain.StatusProcessed {
					continue
				}
				entry.UpdatedAt = seen.UpdatedAt
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

var _ tracking.Store = (*Intake)(nil)
