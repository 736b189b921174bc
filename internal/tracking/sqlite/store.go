// Package sqlite keeps the processing ledger in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/statement-sync/internal/domain"
	"github.com/dvloznov/statement-sync/internal/logger"
	"github.com/dvloznov/statement-sync/internal/tracking"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store is a tracking.Store backed by SQLite. A single connection is used so
// writers never contend for the file lock.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("Open: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: ping: %w", err)
	}

	if err := migrateUp(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func migrateUp(ctx context.Context, db *sql.DB) error {
	log := logger.FromContext(ctx)

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrateUp: source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("migrateUp: driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("migrateUp: instance: %w", err)
	}

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Debug().Msg("Tracking schema up to date")
	case err != nil:
		return fmt.Errorf("migrateUp: applying: %w", err)
	default:
		log.Info().Msg("Applied tracking migrations")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetStatus implements tracking.Store.
func (s *Store) GetStatus(ctx context.Context, documentID string) (domain.Status, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM processing_ledger WHERE document_id = ?`, documentID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StatusPending, nil
	}
	if err != nil {
		return "", fmt.Errorf("GetStatus: %w", err)
	}
	return domain.Status(status), nil
}

// SetStatus implements tracking.Store.
func (s *Store) SetStatus(ctx context.Context, documentID string, status domain.Status, at time.Time) error {
	if err := tracking.CheckSet(documentID, status); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_ledger (document_id, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		documentID, string(status), at.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("SetStatus: %w", err)
	}
	return nil
}

// ListPending implements tracking.Store.
func (s *Store) ListPending(ctx context.Context) ([]tracking.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, status, updated_at
		FROM processing_ledger
		WHERE status = ?
		ORDER BY updated_at, document_id`, string(domain.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("ListPending: %w", err)
	}
	defer rows.Close()

	var entries []tracking.Entry
	for rows.Next() {
		var (
			entry  tracking.Entry
			status string
			nanos  int64
		)
		if err := rows.Scan(&entry.DocumentID, &status, &nanos); err != nil {
			return nil, fmt.Errorf("ListPending: scanning: %w", err)
		}
		entry.Status = domain.Status(status)
		entry.UpdatedAt = time.Unix(0, nanos).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListPending: iterating: %w", err)
	}
	return entries, nil
}

var _ tracking.Store = (*Store)(nil)
