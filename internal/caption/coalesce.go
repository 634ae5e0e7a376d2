package caption

import (
	"sync"
	"time"
)

// CoalesceConfig controls adaptive update coalescing.
type CoalesceConfig struct {
	Base time.Duration
	Min  time.Duration
	Max  time.Duration
	// FastCPS and SlowCPS are the speech-rate thresholds in characters per
	// second. Fast talkers get the longer Max delay, slow ones the shorter Min.
	FastCPS  float64
	SlowCPS  float64
	Adaptive bool
}

// DefaultCoalesceConfig returns 100 ms adapting between 80 and 150 ms.
func DefaultCoalesceConfig() CoalesceConfig {
	return CoalesceConfig{
		Base:     100 * time.Millisecond,
		Min:      80 * time.Millisecond,
		Max:      150 * time.Millisecond,
		FastCPS:  14,
		SlowCPS:  8,
		Adaptive: true,
	}
}

const (
	coalesceWindow  = 10
	coalesceHistory = 20
)

type rateSample struct {
	chars int
	at    time.Time
}

// Coalescer estimates the speech rate from recent updates and derives the
// delay for which updates should be batched before rendering.
type Coalescer struct {
	cfg CoalesceConfig

	mu      sync.Mutex
	samples []rateSample
}

// NewCoalescer creates a Coalescer.
func NewCoalescer(cfg CoalesceConfig) *Coalescer {
	return &Coalescer{cfg: cfg}
}

// Observe records an update's text length.
func (c *Coalescer) Observe(text string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, rateSample{chars: len([]rune(text)), at: at})
	if len(c.samples) > coalesceHistory {
		c.samples = append(c.samples[:0], c.samples[len(c.samples)-coalesceHistory:]...)
	}
}

// CharsPerSecond returns the rate over the last ten updates, 0 when unknown.
func (c *Coalescer) CharsPerSecond() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cpsLocked()
}

func (c *Coalescer) cpsLocked() float64 {
	recent := c.samples
	if len(recent) > coalesceWindow {
		recent = recent[len(recent)-coalesceWindow:]
	}
	if len(recent) < 2 {
		return 0
	}
	total := 0
	for _, s := range recent {
		total += s.chars
	}
	span := recent[len(recent)-1].at.Sub(recent[0].at)
	if span <= 0 {
		return 0
	}
	return float64(total) / span.Seconds()
}

// Delay returns the current coalescing delay.
func (c *Coalescer) Delay() time.Duration {
	if !c.cfg.Adaptive {
		return c.cfg.Base
	}
	c.mu.Lock()
	cps := c.cpsLocked()
	c.mu.Unlock()
	switch {
	case cps > c.cfg.FastCPS:
		return c.cfg.Max
	case cps < c.cfg.SlowCPS:
		return c.cfg.Min
	default:
		return c.cfg.Base
	}
}

// Reset forgets the observed rate.
func (c *Coalescer) Reset() {
	c.mu.Lock()
	c.samples = nil
	c.mu.Unlock()
}
