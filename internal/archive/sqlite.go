package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const ddlSQLite = `
CREATE TABLE IF NOT EXISTS captions (
    id          INTEGER  PRIMARY KEY AUTOINCREMENT,
    event_id    TEXT     NOT NULL,
    speaker_id  TEXT     NOT NULL,
    username    TEXT     NOT NULL DEFAULT '',
    text        TEXT     NOT NULL,
    src_lang    TEXT     NOT NULL DEFAULT '',
    at_ms       INTEGER  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_captions_at ON captions (at_ms DESC);
`

// SQLite stores captions in a local database file.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database at path in WAL mode.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("archive sqlite: open: %w", err)
	}
	// One writer at a time avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, ddlSQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive sqlite: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Append implements [Store].
func (s *SQLite) Append(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO captions (event_id, speaker_id, username, text, src_lang, at_ms)
		VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, e.EventID, e.SpeakerID, e.Username, e.Text, e.SrcLang, e.At.UnixMilli()); err != nil {
		return fmt.Errorf("archive sqlite: append: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (s *SQLite) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `
		SELECT event_id, speaker_id, username, text, src_lang, at_ms
		FROM   captions
		ORDER  BY at_ms DESC, id DESC
		LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, clampLimit(n))
	if err != nil {
		return nil, fmt.Errorf("archive sqlite: recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var atMs int64
		if err := rows.Scan(&e.EventID, &e.SpeakerID, &e.Username, &e.Text, &e.SrcLang, &atMs); err != nil {
			return nil, fmt.Errorf("archive sqlite: scan: %w", err)
		}
		e.At = time.UnixMilli(atMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
