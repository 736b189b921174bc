// Package bigquery keeps the processing ledger in a BigQuery table. Writes go
// through DML so a mark is visible to the next query as soon as the job ends.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/logger"
	"github.com/dvloznov/statement-sync/internal/tracking"
)

// TableName is the table created inside the configured dataset.
const TableName = "processing_ledger"

// LedgerRow is one row of the processing_ledger table.
type LedgerRow struct {
	DocumentID string    `bigquery:"document_id"` // REQUIRED
	Status     string    `bigquery:"status"`      // REQUIRED
	UpdatedAt  time.Time `bigquery:"updated_at"`  // TIMESTAMP
}

// Store is a tracking.Store backed by BigQuery.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewStore creates a client for projectID and makes sure the dataset and
// table exist.
func NewStore(ctx context.Context, projectID, datasetID string) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	s := &Store{client: client, projectID: projectID, datasetID: datasetID}
	if err := s.ensureTable(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) ensureTable(ctx context.Context) error {
	log := logger.FromContext(ctx)
	dataset := s.client.Dataset(s.datasetID)

	if _, err := dataset.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("ensureTable: dataset metadata: %w", err)
		}
		if err := dataset.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("ensureTable: creating dataset: %w", err)
		}
		log.Info().Str("dataset", s.datasetID).Msg("Created tracking dataset")
	}

	table := dataset.Table(TableName)
	if _, err := table.Metadata(ctx); err == nil {
		return nil
	} else if !isNotFound(err) {
		return fmt.Errorf("ensureTable: table metadata: %w", err)
	}

	schema, err := bigquery.InferSchema(LedgerRow{})
	if err != nil {
		return fmt.Errorf("ensureTable: inferring schema: %w", err)
	}
	for _, field := range schema {
		field.Required = true
	}
	if err := table.Create(ctx, &bigquery.TableMetadata{Schema: schema}); err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("ensureTable: creating table: %w", err)
	}
	log.Info().Str("table", s.tableRef()).Msg("Created tracking table")
	return nil
}

func (s *Store) tableRef() string {
	return fmt.Sprintf("`%s.%s.%s`", s.projectID, s.datasetID, TableName)
}

// GetStatus implements tracking.Store.
func (s *Store) GetStatus(ctx context.Context, documentID string) (domain.Status, error) {
	q := s.client.Query(getStatusQuery(s.tableRef()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "document_id", Value: documentID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return "", fmt.Errorf("GetStatus: reading query: %w", err)
	}

	var row LedgerRow
	err = it.Next(&row)
	if err == iterator.Done {
		return domain.StatusPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("GetStatus: iterating: %w", err)
	}
	return domain.Status(row.Status), nil
}

// SetStatus implements tracking.Store.
func (s *Store) SetStatus(ctx context.Context, documentID string, status domain.Status, at time.Time) error {
	if err := tracking.CheckSet(documentID, status); err != nil {
		return err
	}

	q := s.client.Query(upsertQuery(s.tableRef()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "document_id", Value: documentID},
		{Name: "status", Value: string(status)},
		{Name: "updated_at", Value: at.UTC()},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("SetStatus: run query: %w", err)
	}
	jobStatus, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("SetStatus: wait for job: %w", err)
	}
	if err := jobStatus.Err(); err != nil {
		return fmt.Errorf("SetStatus: job error: %w", err)
	}
	return nil
}

// ListPending implements tracking.Store.
func (s *Store) ListPending(ctx context.Context) ([]tracking.Entry, error) {
	q := s.client.Query(listPendingQuery(s.tableRef()))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: string(domain.StatusPending)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListPending: reading query: %w", err)
	}

	var entries []tracking.Entry
	for {
		var row LedgerRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListPending: iterating: %w", err)
		}
		entries = append(entries, row.entry())
	}
	return entries, nil
}

func (r LedgerRow) entry() tracking.Entry {
	return tracking.Entry{
		DocumentID: r.DocumentID,
		Status:     domain.Status(r.Status),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func getStatusQuery(table string) string {
	return `
		SELECT document_id, status, updated_at
		FROM ` + table + `
		WHERE document_id = @document_id
		LIMIT 1
	`
}

func upsertQuery(table string) string {
	return `
		MERGE ` + table + ` AS t
		USING (SELECT @document_id AS document_id, @status AS status, @updated_at AS updated_at) AS s
		ON t.document_id = s.document_id
		WHEN MATCHED THEN
			UPDATE SET status = s.status, updated_at = s.updated_at
		WHEN NOT MATCHED THEN
			INSERT (document_id, status, updated_at) VALUES (s.document_id, s.status, s.updated_at)
	`
}

func listPendingQuery(table string) string {
	return `
		SELECT document_id, status, updated_at
		FROM ` + table + `
		WHERE status = @status
		ORDER BY updated_at, document_id
	`
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

var _ tracking.Store = (*Store)(nil)
