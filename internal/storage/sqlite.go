package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"kakeibo/internal/core"

	_ "modernc.org/sqlite"
)

// DefaultCollection is the row name the record collection is stored under.
const DefaultCollection = "records"

// SQLiteStore keeps the collection document in one row of a SQLite table.
type SQLiteStore struct {
	db   *sql.DB
	name string
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db, name: DefaultCollection}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Load implements Store
func (s *SQLiteStore) Load(ctx context.Context) (core.Collection, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM collections WHERE name = ?`, s.name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Collection{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query collection %s: %w", s.name, err)
	}

	c, err := decode([]byte(doc))
	if err != nil {
		return nil, fmt.Errorf("parse collection %s: %w", s.name, err)
	}
	return c, nil
}

// Save implements Store
func (s *SQLiteStore) Save(ctx context.Context, c core.Collection) error {
	data, err := encode(c)
	if err != nil {
		return fmt.Errorf("encode collection: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO collections (name, document, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		s.name, string(data))
	if err != nil {
		return fmt.Errorf("upsert collection %s: %w", s.name, err)
	}

	slog.DebugContext(ctx, "Collection saved to SQLite", "collection", s.name, "records", len(c))
	return nil
}
