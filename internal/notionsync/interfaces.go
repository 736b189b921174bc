package notionsync

import (
	"context"

	"github.com/jomei/notionapi"
)

// NotionService defines the interface for interacting with Notion API.
// This interface enables mocking and testing of Notion operations.
type NotionService interface {
	// CreatePage creates a new page in a Notion database with the given properties.
	CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error)

	// GetPage retrieves a page with its properties.
	GetPage(ctx context.Context, pageID string) (*notionapi.Page, error)

	// UpdatePage updates an existing Notion page with the given properties.
	UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error)

	// ArchivePage archives a page.
	ArchivePage(ctx context.Context, pageID string) error

	// QueryDatabase queries a Notion database with the given filter.
	QueryDatabase(ctx context.Context, databaseID string, query *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)

	GetDatabase(ctx context.Context, databaseID string) (*notionapi.Database, error)
	CreateDatabase(ctx context.Context, parentPageID, title string, properties notionapi.PropertyConfigs) (*notionapi.Database, error)
	UpdateDatabase(ctx context.Context, databaseID string, properties notionapi.PropertyConfigs) (*notionapi.Database, error)

	// SearchDatabases returns one page of databases matching query.
	SearchDatabases(ctx context.Context, query string, cursor notionapi.Cursor) (*notionapi.SearchResponse, error)
}
