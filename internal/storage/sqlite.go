package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteKV persists keys in a single-table SQLite database.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV opens (or creates) the database at dbPath and ensures
// the schema exists.
func NewSQLiteKV(dbPath string) (*SQLiteKV, error) {
	if dbPath == "" {
		dbPath = "authkit.db"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key    TEXT PRIMARY KEY,
			value  BLOB NOT NULL
		);`,
	); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init kv table schema: %w", err)
	}

	return &SQLiteKV{db: db}, nil
}

func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?1;`, key)

	var value []byte
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't scan kv value: %w", err)
	}
	return value, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value) VALUES (?1, ?2)
		ON CONFLICT (key) DO UPDATE SET value=excluded.value;`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("couldn't upsert into kv: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key=?1;`, key); err != nil {
		return fmt.Errorf("couldn't delete from kv: %w", err)
	}
	return nil
}

func (s *SQLiteKV) DeleteAll(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, key := range keys {
		placeholders[i] = fmt.Sprintf("?%d", i+1)
		args[i] = key
	}
	query := fmt.Sprintf(`DELETE FROM kv WHERE key IN (%s);`, strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("couldn't bulk delete from kv: %w", err)
	}
	return nil
}
