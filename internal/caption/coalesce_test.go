package caption

import (
	"strings"
	"testing"
	"time"
)

func TestCoalescer_Delay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		chars int
		step  time.Duration
		want  time.Duration
	}{
		{name: "no data uses min", want: 80 * time.Millisecond},
		{name: "fast speech batches longer", chars: 30, step: 100 * time.Millisecond, want: 150 * time.Millisecond},
		{name: "slow speech renders sooner", chars: 2, step: time.Second, want: 80 * time.Millisecond},
		{name: "normal speech uses base", chars: 10, step: time.Second, want: 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewCoalescer(DefaultCoalesceConfig())
			if tt.chars > 0 {
				for i := range 5 {
					c.Observe(strings.Repeat("a", tt.chars), t0.Add(time.Duration(i)*tt.step))
				}
			}
			if got := c.Delay(); got != tt.want {
				t.Errorf("delay: want %v, got %v (cps %.1f)", tt.want, got, c.CharsPerSecond())
			}
		})
	}
}

func TestCoalescer_NonAdaptive(t *testing.T) {
	t.Parallel()
	cfg := DefaultCoalesceConfig()
	cfg.Adaptive = false
	c := NewCoalescer(cfg)
	c.Observe("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", t0)
	c.Observe("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", t0.Add(10*time.Millisecond))
	if got := c.Delay(); got != 100*time.Millisecond {
		t.Errorf("want base delay, got %v", got)
	}
	c.Reset()
	if c.CharsPerSecond() != 0 {
		t.Error("reset must forget samples")
	}
}
