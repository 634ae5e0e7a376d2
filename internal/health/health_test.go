package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func serve(t *testing.T, h *Handler, path string) (int, result) {
	t.Helper()
	mux := http.NewServeMux()
	h.Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func ok(context.Context) error { return nil }

func TestHealthz(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "archive", Check: func(context.Context) error { return errors.New("down") }})
	code, body := serve(t, h, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", code, body.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{},
		},
		{
			name:       "all pass",
			checkers:   []Checker{{Name: "archive", Check: ok}, {Name: "voice", Check: ok}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"archive": "ok", "voice": "ok"},
		},
		{
			name: "one fails",
			checkers: []Checker{
				{Name: "archive", Check: func(context.Context) error { return errors.New("connection refused") }},
				{Name: "voice", Check: ok},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"archive": "fail: connection refused", "voice": "ok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			code, body := serve(t, New(tt.checkers...), "/readyz")
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
			if len(body.Checks) != len(tt.wantChecks) {
				t.Errorf("checks = %v, want %v", body.Checks, tt.wantChecks)
			}
			for name, want := range tt.wantChecks {
				if body.Checks[name] != want {
					t.Errorf("check %q = %q, want %q", name, body.Checks[name], want)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	t.Parallel()

	// Each checker waits for the other; sequential evaluation would hit the
	// check timeout.
	a, b := make(chan struct{}), make(chan struct{})
	rendezvous := func(mine, theirs chan struct{}) func(context.Context) error {
		return func(ctx context.Context) error {
			close(mine)
			select {
			case <-theirs:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	h := New(
		Checker{Name: "a", Check: rendezvous(a, b)},
		Checker{Name: "b", Check: rendezvous(b, a)},
	)

	start := time.Now()
	code, _ := serve(t, h, "/readyz")
	if code != http.StatusOK {
		t.Errorf("readyz = %d, want 200", code)
	}
	if d := time.Since(start); d > checkTimeout {
		t.Errorf("readyz took %v", d)
	}
}

func TestReadyz_AddAndDrain(t *testing.T) {
	t.Parallel()

	h := New()
	h.Add(Checker{Name: "voice", Check: func(context.Context) error { return errors.New("gave up") }})

	if code, body := serve(t, h, "/readyz"); code != http.StatusServiceUnavailable || body.Checks["voice"] != "fail: gave up" {
		t.Errorf("readyz after Add = %d %v", code, body.Checks)
	}

	h.SetDraining(true)
	code, body := serve(t, h, "/readyz")
	if code != http.StatusServiceUnavailable || body.Status != "draining" {
		t.Errorf("readyz while draining = %d %q, want 503 draining", code, body.Status)
	}
	if code, _ := serve(t, h, "/healthz"); code != http.StatusOK {
		t.Errorf("healthz while draining = %d, want 200", code)
	}
}
