// Package archive keeps an append-only log of finalized captions.
//
// Two backends exist: PostgreSQL through a pgx connection pool for shared
// deployments, and a local SQLite file (pure Go driver) for single-host
// setups. Both create their schema on open.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnknownDriver is returned by [Open] for an unsupported driver name.
var ErrUnknownDriver = errors.New("archive: unknown driver")

// Supported driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Entry is one finalized caption.
type Entry struct {
	EventID   string
	SpeakerID string
	Username  string
	Text      string
	SrcLang   string
	At        time.Time
}

// Store is implemented by every backend. Implementations are safe for
// concurrent use.
type Store interface {
	// Append records e.
	Append(ctx context.Context, e Entry) error
	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)
	Close() error
}

// Open connects to the backend named by driver and migrates its schema.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case DriverPostgres:
		return OpenPostgres(ctx, dsn)
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// clampLimit keeps Recent queries bounded.
func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 10
	case n > 500:
		return 500
	default:
		return n
	}
}
