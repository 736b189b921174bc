package notionsync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jomei/notionapi"

	"github.com/dvloznov/statement-sync/internal/retry"
)

// fakeNotion is an in-memory NotionService. Results come back in insertion
// order and are paginated by pageSize.
type fakeNotion struct {
	mu       sync.Mutex
	clock    time.Time
	nextID   int
	pageSize int

	databases []*notionapi.Database
	rows      map[string][]*notionapi.Page

	// createPageErr, when set, decides the result of the n-th CreatePage call (1-based).
	createPageErr func(n int) error

	createPageCalls int
	searchCalls     int
	createDBCalls   int
	updateDBCalls   int
	updatePageCalls int
}

func newFakeNotion() *fakeNotion {
	return &fakeNotion{
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		pageSize: 100,
		rows:     make(map[string][]*notionapi.Page),
	}
}

func testCalls() CallOptions {
	return CallOptions{Policy: retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}}
}

func (f *fakeNotion) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%04d", prefix, f.nextID)
}

func (f *fakeNotion) tick() time.Time {
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

// addDatabase registers a database as if someone created it in the workspace.
func (f *fakeNotion) addDatabase(parentPageID, title string, props notionapi.PropertyConfigs) *notionapi.Database {
	f.mu.Lock()
	defer f.mu.Unlock()
	db := &notionapi.Database{
		ID:          notionapi.ObjectID(f.id("db")),
		CreatedTime: f.tick(),
		Title:       richText(title),
		Parent:      notionapi.Parent{Type: notionapi.ParentTypePageID, PageID: notionapi.PageID(parentPageID)},
		Properties:  props,
		URL:         "https://notion.so/" + title,
	}
	f.databases = append(f.databases, db)
	return db
}

// addPage inserts a page into databaseID without counting as a CreatePage call.
func (f *fakeNotion) addPage(databaseID string, props notionapi.Properties) *notionapi.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertPage(databaseID, props)
}

func (f *fakeNotion) insertPage(databaseID string, props notionapi.Properties) *notionapi.Page {
	now := f.tick()
	page := &notionapi.Page{
		ID:             notionapi.ObjectID(f.id("page")),
		CreatedTime:    now,
		LastEditedTime: now,
		Properties:     props,
	}
	f.rows[databaseID] = append(f.rows[databaseID], page)
	return page
}

// liveRows returns the non-archived pages of databaseID.
func (f *fakeNotion) liveRows(databaseID string) []*notionapi.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*notionapi.Page
	for _, p := range f.rows[databaseID] {
		if !p.Archived {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeNotion) findPage(pageID string) *notionapi.Page {
	for _, rows := range f.rows {
		for _, p := range rows {
			if p.ID.String() == pageID {
				return p
			}
		}
	}
	return nil
}

func (f *fakeNotion) findDatabase(id string) *notionapi.Database {
	for _, db := range f.databases {
		if db.ID.String() == id {
			return db
		}
	}
	return nil
}

func notFound(what string) error {
	return &notionapi.Error{Status: 404, Code: "object_not_found", Message: what + " not found"}
}

func (f *fakeNotion) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createPageCalls++
	if f.createPageErr != nil {
		if err := f.createPageErr(f.createPageCalls); err != nil {
			return nil, err
		}
	}
	if f.findDatabase(databaseID) == nil {
		return nil, notFound(databaseID)
	}
	return f.insertPage(databaseID, properties), nil
}

func (f *fakeNotion) GetPage(ctx context.Context, pageID string) (*notionapi.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p := f.findPage(pageID); p != nil {
		return p, nil
	}
	return nil, notFound(pageID)
}

func (f *fakeNotion) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatePageCalls++
	p := f.findPage(pageID)
	if p == nil {
		return nil, notFound(pageID)
	}
	for k, v := range properties {
		p.Properties[k] = v
	}
	p.LastEditedTime = f.tick()
	return p, nil
}

func (f *fakeNotion) ArchivePage(ctx context.Context, pageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.findPage(pageID)
	if p == nil {
		return notFound(pageID)
	}
	p.Archived = true
	return nil
}

func (f *fakeNotion) QueryDatabase(ctx context.Context, databaseID string, query *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findDatabase(databaseID) == nil {
		return nil, notFound(databaseID)
	}

	var matched []notionapi.Page
	for _, p := range f.rows[databaseID] {
		if !p.Archived && matchesFilter(p, query.Filter) {
			matched = append(matched, *p)
		}
	}

	start := 0
	if query.StartCursor != "" {
		start, _ = strconv.Atoi(string(query.StartCursor))
	}
	end := min(start+f.pageSize, len(matched))
	resp := &notionapi.DatabaseQueryResponse{Results: matched[start:end]}
	if end < len(matched) {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor(strconv.Itoa(end))
	}
	return resp, nil
}

func matchesFilter(p *notionapi.Page, filter notionapi.Filter) bool {
	pf, ok := filter.(notionapi.PropertyFilter)
	if !ok {
		return true
	}
	prop := p.Properties[pf.Property]
	switch {
	case pf.RichText != nil:
		return propertyText(prop) == pf.RichText.Equals
	case pf.Checkbox != nil && pf.Checkbox.DoesNotEqual:
		return !checkboxValue(prop)
	}
	return true
}

func (f *fakeNotion) GetDatabase(ctx context.Context, databaseID string) (*notionapi.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if db := f.findDatabase(databaseID); db != nil {
		return db, nil
	}
	return nil, notFound(databaseID)
}

func (f *fakeNotion) CreateDatabase(ctx context.Context, parentPageID, title string, properties notionapi.PropertyConfigs) (*notionapi.Database, error) {
	f.mu.Lock()
	f.createDBCalls++
	f.mu.Unlock()
	return f.addDatabase(parentPageID, title, properties), nil
}

func (f *fakeNotion) UpdateDatabase(ctx context.Context, databaseID string, properties notionapi.PropertyConfigs) (*notionapi.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateDBCalls++
	db := f.findDatabase(databaseID)
	if db == nil {
		return nil, notFound(databaseID)
	}
	for k, v := range properties {
		db.Properties[k] = v
	}
	return db, nil
}

func (f *fakeNotion) SearchDatabases(ctx context.Context, query string, cursor notionapi.Cursor) (*notionapi.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++

	var matched []notionapi.Object
	for _, db := range f.databases {
		if strings.Contains(strings.ToLower(plainText(db.Title)), strings.ToLower(query)) {
			matched = append(matched, db)
		}
	}

	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(string(cursor))
	}
	end := min(start+f.pageSize, len(matched))
	resp := &notionapi.SearchResponse{Results: matched[start:end]}
	if end < len(matched) {
		resp.HasMore = true
		resp.NextCursor = notionapi.Cursor(strconv.Itoa(end))
	}
	return resp, nil
}

var _ NotionService = (*fakeNotion)(nil)
