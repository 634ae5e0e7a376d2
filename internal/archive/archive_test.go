package archive_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/glyphcap/internal/archive"
)

func sampleEntries() []archive.Entry {
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)
	return []archive.Entry{
		{EventID: "e1", SpeakerID: "u1", Username: "alice", Text: "Hello there.", SrcLang: "en", At: base},
		{EventID: "e2", SpeakerID: "u2", Username: "bob", Text: "Hallo zusammen.", SrcLang: "de", At: base.Add(time.Second)},
		{EventID: "e3", SpeakerID: "u1", Username: "alice", Text: "Shall we start?", SrcLang: "en", At: base.Add(2 * time.Second)},
	}
}

// exerciseStore appends the sample entries and checks Recent ordering.
func exerciseStore(t *testing.T, s archive.Store) {
	t.Helper()
	ctx := context.Background()
	for _, e := range sampleEntries() {
		if err := s.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s): %v", e.EventID, err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent(2) returned %d entries", len(got))
	}
	if got[0].EventID != "e3" || got[1].EventID != "e2" {
		t.Errorf("Recent order = %s, %s; want e3, e2", got[0].EventID, got[1].EventID)
	}
	want := sampleEntries()[2]
	if g := got[0]; g.Text != want.Text || g.Username != want.Username || g.SrcLang != want.SrcLang || !g.At.Equal(want.At) {
		t.Errorf("Recent()[0] = %+v, want %+v", g, want)
	}

	all, err := s.Recent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("Recent(0) returned %d entries, want default limit to cover all 3", len(all))
	}
}

func TestSQLite(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "captions.db")
	s, err := archive.Open(context.Background(), archive.DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}

func TestSQLite_Reopen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "captions.db")
	s, err := archive.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, sampleEntries()[0]); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = archive.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].EventID != "e1" {
		t.Errorf("after reopen Recent = %+v", got)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := archive.Open(context.Background(), "mongodb", "x")
	if !errors.Is(err, archive.ErrUnknownDriver) {
		t.Errorf("err = %v, want ErrUnknownDriver", err)
	}
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("GLYPHCAP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GLYPHCAP_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration test")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS captions"); err != nil {
		t.Fatal(err)
	}
	pool.Close()

	s, err := archive.Open(ctx, archive.DriverPostgres, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	exerciseStore(t, s)
}
