package resilience

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/glyphcap/pkg/provider/llm"
	llmmock "github.com/MrWong99/glyphcap/pkg/provider/llm/mock"
	translatemock "github.com/MrWong99/glyphcap/pkg/provider/translate/mock"
)

func newGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		fail    map[string]bool
		want    string
		wantErr bool
	}{
		{name: "primary ok", want: "primary"},
		{name: "failover", fail: map[string]bool{"primary": true}, want: "secondary"},
		{name: "all fail", fail: map[string]bool{"primary": true, "secondary": true}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var called string
			err := newGroup().Execute(context.Background(), func(v string) error {
				if tt.fail[v] {
					return errTest
				}
				called = v
				return nil
			})
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
				}
				if !strings.Contains(err.Error(), "primary") || !strings.Contains(err.Error(), "secondary") {
					t.Errorf("err %q does not name every provider", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if called != tt.want {
				t.Fatalf("called = %q, want %q", called, tt.want)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	t.Parallel()

	fg := newGroup()
	for range 2 {
		_ = fg.Execute(context.Background(), func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if fg.Breaker("primary").State() != StateOpen {
		t.Fatal("primary breaker not open")
	}

	var tried []string
	_ = fg.Execute(context.Background(), func(v string) error {
		tried = append(tried, v)
		return nil
	})
	if len(tried) != 1 || tried[0] != "secondary" {
		t.Fatalf("tried = %v, want [secondary]", tried)
	}
	if fg.Breaker("missing") != nil {
		t.Error("Breaker(missing) != nil")
	}
	if got := fg.Names(); len(got) != 2 || got[0] != "primary" {
		t.Errorf("Names() = %v", got)
	}
}

func TestExecuteWithResult_StopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := ExecuteWithResult(ctx, newGroup(), func(string) (int, error) {
		calls++
		return 1, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Fatalf("calls = %d, want 0", calls)
	}
}

func TestTranslateFallback(t *testing.T) {
	t.Parallel()

	primary := &translatemock.Provider{Err: errTest}
	secondary := &translatemock.Provider{}
	fb := NewTranslateFallback(primary, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.AddFallback("anyllm", secondary)

	got, err := fb.Translate(context.Background(), "hallo", "en")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "[en] hallo" {
		t.Fatalf("got %q", got)
	}
	if fb.Breaker("openai").State() != StateOpen {
		t.Fatal("openai breaker should be open after one failure")
	}

	// With the primary open only the fallback is consulted.
	_, _ = fb.Translate(context.Background(), "zwei", "en")
	if n := len(primary.Calls()); n != 1 {
		t.Errorf("primary calls = %d, want 1", n)
	}
	if n := len(secondary.Calls()); n != 2 {
		t.Errorf("secondary calls = %d, want 2", n)
	}
	if b := fb.Backends(); len(b) != 2 || b[1] != "anyllm" {
		t.Errorf("Backends() = %v", b)
	}
}

func TestTranslateFallback_SingleBackendFailsFast(t *testing.T) {
	t.Parallel()

	p := &translatemock.Provider{Err: errTest}
	fb := NewTranslateFallback(p, "openai", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	for range 4 {
		_, err := fb.Translate(context.Background(), "x", "de")
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want ErrAllFailed", err)
		}
	}
	if n := len(p.Calls()); n != 2 {
		t.Fatalf("backend calls = %d, want 2 (breaker open afterwards)", n)
	}
}

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{Err: errors.New("primary down")}
	secondary := &llmmock.Provider{Content: "from secondary"}
	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.UserPrompt("sys", "text"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from secondary" {
		t.Fatalf("content = %q", resp.Content)
	}
	if primary.Calls() != 1 || secondary.Calls() != 1 {
		t.Fatalf("calls = %d/%d, want 1/1", primary.Calls(), secondary.Calls())
	}
}
