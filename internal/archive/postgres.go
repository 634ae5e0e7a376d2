package archive

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlPostgres = `
CREATE TABLE IF NOT EXISTS captions (
    id          BIGSERIAL    PRIMARY KEY,
    event_id    TEXT         NOT NULL,
    speaker_id  TEXT         NOT NULL,
    username    TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL,
    src_lang    TEXT         NOT NULL DEFAULT '',
    at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_captions_at ON captions (at DESC);
CREATE INDEX IF NOT EXISTS idx_captions_speaker ON captions (speaker_id, at DESC);
`

// Postgres stores captions in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres creates a pool for dsn, pings it and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlPostgres); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive postgres: migrate: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Append implements [Store].
func (p *Postgres) Append(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO captions (event_id, speaker_id, username, text, src_lang, at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := p.pool.Exec(ctx, q, e.EventID, e.SpeakerID, e.Username, e.Text, e.SrcLang, e.At.UTC()); err != nil {
		return fmt.Errorf("archive postgres: append: %w", err)
	}
	return nil
}

// Recent implements [Store].
func (p *Postgres) Recent(ctx context.Context, n int) ([]Entry, error) {
	const q = `
		SELECT event_id, speaker_id, username, text, src_lang, at
		FROM   captions
		ORDER  BY at DESC, id DESC
		LIMIT  $1`
	rows, err := p.pool.Query(ctx, q, clampLimit(n))
	if err != nil {
		return nil, fmt.Errorf("archive postgres: recent: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.EventID, &e.SpeakerID, &e.Username, &e.Text, &e.SrcLang, &e.At)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive postgres: scan: %w", err)
	}
	return entries, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
