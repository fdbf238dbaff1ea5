package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	area  TEXT NOT NULL,
	key   TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (area, key)
)`

// SQLiteArea persists one area in a SQLite database. Several areas may share
// a database file.
type SQLiteArea struct {
	name AreaName
	db   *sql.DB
	feed *Feed

	writeMu sync.Mutex
}

// OpenSQLiteArea opens (or creates) the database at path. Use ":memory:" for
// a private in-memory database.
func OpenSQLiteArea(ctx context.Context, path string, name AreaName, feed *Feed) (*SQLiteArea, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and writes ordered
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteArea{name: name, db: db, feed: feed}, nil
}

func (s *SQLiteArea) Name() AreaName {
	return s.name
}

func (s *SQLiteArea) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *SQLiteArea) Get(ctx context.Context, keys ...string) (Record, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if len(keys) == 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT key, value FROM entries WHERE area = ?`, string(s.name))
	} else {
		args := make([]interface{}, 0, len(keys)+1)
		args = append(args, string(s.name))
		for _, key := range keys {
			args = append(args, key)
		}

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
		rows, err = s.db.QueryContext(ctx,
			`SELECT key, value FROM entries WHERE area = ? AND key IN (`+placeholders+`)`, args...)
	}

	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	record := make(Record)
	for rows.Next() {
		var (
			key   string
			value []byte
		)

		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}

		record[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	return record, nil
}

// Set writes every item in one transaction. A nil value removes the key.
func (s *SQLiteArea) Set(ctx context.Context, items Record) (err error) {
	// Held until the change is published, so watchers see commits in order
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	changes := make(map[string]Change, len(items))

	for key, value := range items {
		var old []byte
		err = tx.QueryRowContext(ctx,
			`SELECT value FROM entries WHERE area = ? AND key = ?`, string(s.name), key).Scan(&old)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read %q: %w", key, err)
		}

		if value == nil {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM entries WHERE area = ? AND key = ?`, string(s.name), key)
		} else {
			if !gjson.ValidBytes(value) {
				return fmt.Errorf("Failed to set %q: %w", key, ErrInvalidValue)
			}

			_, err = tx.ExecContext(ctx,
				`INSERT INTO entries (area, key, value) VALUES (?, ?, ?)
				 ON CONFLICT (area, key) DO UPDATE SET value = excluded.value`,
				string(s.name), key, value)
		}

		if err != nil {
			return fmt.Errorf("write %q: %w", key, err)
		}

		changes[key] = Change{OldValue: old, NewValue: cloneBytes(value)}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if s.feed != nil {
		s.feed.Publish(&ChangeSet{Area: s.name, Changes: changes})
	}

	return nil
}

var _ NativeArea = (*SQLiteArea)(nil)
