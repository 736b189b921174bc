package notionsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jomei/notionapi"
	"golang.org/x/time/rate"

	"github.com/dvloznov/statement-sync/internal/domain"
)

// DefaultRequestsPerSecond is Notion's documented average request rate.
const DefaultRequestsPerSecond = 3

// NotionClient is the concrete implementation of NotionService using the Notion SDK.
// Every call waits on a shared rate limiter.
type NotionClient struct {
	client  *notionapi.Client
	limiter *rate.Limiter
}

// NewNotionClient creates a new NotionClient with the provided API token.
// A non-positive requestsPerSecond selects DefaultRequestsPerSecond.
func NewNotionClient(token string, requestsPerSecond float64) *NotionClient {
	if requestsPerSecond <= 0 {
		requestsPerSecond = DefaultRequestsPerSecond
	}
	return &NotionClient{
		client:  notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (n *NotionClient) wait(ctx context.Context, op string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", op, err)
	}
	return nil
}

// CreatePage creates a new page in a Notion database with the given properties.
func (n *NotionClient) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if err := n.wait(ctx, "CreatePage"); err != nil {
		return nil, err
	}
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(databaseID),
		},
		Properties: properties,
	}

	page, err := n.client.Page.Create(ctx, req)
	if err != nil {
		return nil, wrapAPIError("CreatePage", err)
	}
	return page, nil
}

// GetPage retrieves a page with its properties.
func (n *NotionClient) GetPage(ctx context.Context, pageID string) (*notionapi.Page, error) {
	if err := n.wait(ctx, "GetPage"); err != nil {
		return nil, err
	}
	page, err := n.client.Page.Get(ctx, notionapi.PageID(pageID))
	if err != nil {
		return nil, wrapAPIError("GetPage", err)
	}
	return page, nil
}

// UpdatePage updates an existing Notion page with the given properties.
func (n *NotionClient) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	if err := n.wait(ctx, "UpdatePage"); err != nil {
		return nil, err
	}
	req := &notionapi.PageUpdateRequest{
		Properties: properties,
	}

	page, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), req)
	if err != nil {
		return nil, wrapAPIError("UpdatePage", err)
	}
	return page, nil
}

// ArchivePage archives a Notion page by setting its archived property to true.
func (n *NotionClient) ArchivePage(ctx context.Context, pageID string) error {
	if err := n.wait(ctx, "ArchivePage"); err != nil {
		return err
	}
	req := &notionapi.PageUpdateRequest{
		Archived: true,
	}

	if _, err := n.client.Page.Update(ctx, notionapi.PageID(pageID), req); err != nil {
		return wrapAPIError("ArchivePage", err)
	}
	return nil
}

// QueryDatabase queries a Notion database with the given filter.
func (n *NotionClient) QueryDatabase(ctx context.Context, databaseID string, query *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := n.wait(ctx, "QueryDatabase"); err != nil {
		return nil, err
	}
	resp, err := n.client.Database.Query(ctx, notionapi.DatabaseID(databaseID), query)
	if err != nil {
		return nil, wrapAPIError("QueryDatabase", err)
	}
	return resp, nil
}

// GetDatabase retrieves a database with its property schema.
func (n *NotionClient) GetDatabase(ctx context.Context, databaseID string) (*notionapi.Database, error) {
	if err := n.wait(ctx, "GetDatabase"); err != nil {
		return nil, err
	}
	db, err := n.client.Database.Get(ctx, notionapi.DatabaseID(databaseID))
	if err != nil {
		return nil, wrapAPIError("GetDatabase", err)
	}
	return db, nil
}

// CreateDatabase creates a database titled title under parentPageID.
func (n *NotionClient) CreateDatabase(ctx context.Context, parentPageID, title string, properties notionapi.PropertyConfigs) (*notionapi.Database, error) {
	if err := n.wait(ctx, "CreateDatabase"); err != nil {
		return nil, err
	}
	req := &notionapi.DatabaseCreateRequest{
		Parent: notionapi.Parent{
			Type:   notionapi.ParentTypePageID,
			PageID: notionapi.PageID(parentPageID),
		},
		Title:      richText(title),
		Properties: properties,
	}

	db, err := n.client.Database.Create(ctx, req)
	if err != nil {
		return nil, wrapAPIError("CreateDatabase", err)
	}
	return db, nil
}

// UpdateDatabase adds or changes properties of a database.
func (n *NotionClient) UpdateDatabase(ctx context.Context, databaseID string, properties notionapi.PropertyConfigs) (*notionapi.Database, error) {
	if err := n.wait(ctx, "UpdateDatabase"); err != nil {
		return nil, err
	}
	req := &notionapi.DatabaseUpdateRequest{
		Properties: properties,
	}

	db, err := n.client.Database.Update(ctx, notionapi.DatabaseID(databaseID), req)
	if err != nil {
		return nil, wrapAPIError("UpdateDatabase", err)
	}
	return db, nil
}

// SearchDatabases returns one page of databases whose title matches query.
func (n *NotionClient) SearchDatabases(ctx context.Context, query string, cursor notionapi.Cursor) (*notionapi.SearchResponse, error) {
	if err := n.wait(ctx, "SearchDatabases"); err != nil {
		return nil, err
	}
	req := &notionapi.SearchRequest{
		Query: query,
		Filter: notionapi.SearchFilter{
			Property: "object",
			Value:    "database",
		},
		StartCursor: cursor,
		PageSize:    100,
	}

	resp, err := n.client.Search.Do(ctx, req)
	if err != nil {
		return nil, wrapAPIError("SearchDatabases", err)
	}
	return resp, nil
}

// wrapAPIError marks credential rejections as fatal configuration errors.
func wrapAPIError(op string, err error) error {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrFatalConfiguration, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ NotionService = (*NotionClient)(nil)
