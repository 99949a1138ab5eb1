package storage

import (
	"bytes"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteBackend stores keys in a SQLite database using the pure-Go
// modernc.org/sqlite driver. It serves as the secondary mirror target so
// a corrupted primary file does not lose the vault.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the SQLite database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("storage: failed to open sqlite database: %w", err)
	}
	// modernc sqlite handles are not safe for concurrent writers on one file.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   BLOB PRIMARY KEY,
		value BLOB NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: failed to create table: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite get: %w", err)
	}
	return value, nil
}

func (s *SQLiteBackend) Set(key, value []byte) error {
	_, err := s.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("storage: sqlite set: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Remove(key []byte) error {
	if _, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: sqlite remove: %w", err)
	}
	return nil
}

// Apply runs the whole batch in a single transaction.
func (s *SQLiteBackend) Apply(ops []BatchOp) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: sqlite apply: %w", err)
	}
	for _, op := range ops {
		if op.Remove {
			_, err = tx.Exec(`DELETE FROM kv WHERE key = ?`, op.Key)
		} else {
			_, err = tx.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
				ON CONFLICT(key) DO UPDATE SET value = excluded.value`, op.Key, op.Value)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: sqlite apply: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: sqlite apply: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Keys(prefix []byte) ([][]byte, error) {
	rows, err := s.db.Query(`SELECT key FROM kv ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("storage: sqlite keys: %w", err)
	}
	defer rows.Close()

	var keys [][]byte
	for rows.Next() {
		var key []byte
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("storage: sqlite keys: %w", err)
		}
		if bytes.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: sqlite keys: %w", err)
	}
	return keys, nil
}

func (s *SQLiteBackend) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM kv`); err != nil {
		return fmt.Errorf("storage: sqlite clear: %w", err)
	}
	return nil
}

func (s *SQLiteBackend) Name() string { return "sqlite" }

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}
