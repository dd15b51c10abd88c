package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps blobs in a single table of an embedded database.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens or creates the database at path, ":memory:" is supported for tests.
func NewSQLiteBackend(ctx context.Context, path string) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	schema := `CREATE TABLE IF NOT EXISTS blobs (
		name TEXT PRIMARY KEY,
		data BLOB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Name() string { return "sqlite" }

func (s *SQLiteBackend) Put(ctx context.Context, name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blobs (name, data) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET data = excluded.data`,
		name, data)
	if err != nil {
		return fmt.Errorf("%w", &WriteError{msg: fmt.Sprintf("%v", err)})
	}
	return nil
}

func (s *SQLiteBackend) Get(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w", &NotFoundError{})
	}
	if err != nil {
		return nil, fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
	return data, nil
}

func (s *SQLiteBackend) Exists(ctx context.Context, name string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM blobs WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
	return count > 0, nil
}

func (s *SQLiteBackend) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM blobs WHERE substr(name, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
	defer rows.Close()
	ret := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w", &ReadError{msg: fmt.Sprintf("%v", err)})
		}
		ret = append(ret, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w", &ReadError{msg: fmt.Sprintf("%v", err)})
	}
	return ret, nil
}

func (s *SQLiteBackend) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("%w", &AccessError{msg: fmt.Sprintf("%v", err)})
	}
	return nil
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
