package blobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLDialect selects placeholder and upsert syntax.
type SQLDialect string

const (
	DialectPostgres SQLDialect = "postgres"
	DialectSQLite   SQLDialect = "sqlite"
)

// SQLStore keeps blobs in a single table relay_blobs(name, data, updated_at).
type SQLStore struct {
	db      *sql.DB
	dialect SQLDialect
}

// NewPostgresStore wraps an open PostgreSQL handle (driver "postgres").
// The table must exist; Migrate creates it.
func NewPostgresStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, dialect: DialectPostgres}
}

// NewSQLiteStore wraps an open SQLite handle (driver "sqlite") and creates
// the table if needed.
func NewSQLiteStore(db *sql.DB) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: DialectSQLite}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates the blob table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	blobType := "BLOB"
	if s.dialect == DialectPostgres {
		blobType = "BYTEA"
	}
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS relay_blobs (
		name TEXT PRIMARY KEY,
		data %s NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`, blobType)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("blobstore: migrate: %w", err)
	}
	return nil
}

func (s *SQLStore) selectQuery() string {
	if s.dialect == DialectPostgres {
		return "SELECT data FROM relay_blobs WHERE name = $1"
	}
	return "SELECT data FROM relay_blobs WHERE name = ?"
}

func (s *SQLStore) upsertQuery() string {
	if s.dialect == DialectPostgres {
		return `INSERT INTO relay_blobs (name, data, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
	}
	return `INSERT INTO relay_blobs (name, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, s.selectQuery(), name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(name)
	}
	if err != nil {
		return nil, unavailable(string(s.dialect)+" get", name, err)
	}
	return data, nil
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	if _, err := s.db.ExecContext(ctx, s.upsertQuery(), name, data); err != nil {
		return unavailable(string(s.dialect)+" put", name, err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
