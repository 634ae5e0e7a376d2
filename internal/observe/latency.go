package observe

import (
	"math"
	"slices"
	"sync"
	"time"
)

// Stage names recorded in [Latencies].
const (
	StageSTTOpen   = "stt_open"
	StageClip      = "clip"
	StageTranslate = "translate"
	StageCleanup   = "cleanup"
)

// Percentiles holds p50 and p95 of one stage.
type Percentiles struct {
	P50     time.Duration
	P95     time.Duration
	Samples int
}

// Latencies keeps a bounded window of recent samples per stage for human
// readable status output. Prometheus histograms carry the full picture.
//
// Safe for concurrent use.
type Latencies struct {
	mu     sync.Mutex
	window int
	stages map[string]*latencyBuffer
}

// NewLatencies creates a Latencies keeping window samples per stage.
func NewLatencies(window int) *Latencies {
	if window <= 0 {
		window = 100
	}
	return &Latencies{window: window, stages: make(map[string]*latencyBuffer)}
}

// Record adds one sample for stage.
func (l *Latencies) Record(stage string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.stages[stage]
	if !ok {
		b = newLatencyBuffer(l.window)
		l.stages[stage] = b
	}
	b.add(d)
}

// Snapshot returns the percentiles of every stage with samples.
func (l *Latencies) Snapshot() map[string]Percentiles {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Percentiles, len(l.stages))
	for name, b := range l.stages {
		out[name] = b.percentiles()
	}
	return out
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newLatencyBuffer(size int) *latencyBuffer {
	return &latencyBuffer{data: make([]time.Duration, size)}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos == len(lb.data) {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() Percentiles {
	n := lb.pos
	if lb.full {
		n = len(lb.data)
	}
	if n == 0 {
		return Percentiles{}
	}
	sorted := slices.Clone(lb.data[:n])
	slices.Sort(sorted)
	return Percentiles{
		P50:     percentile(sorted, 0.50),
		P95:     percentile(sorted, 0.95),
		Samples: n,
	}
}

// percentile returns the nearest-rank value at p (0..1) of a sorted slice.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}
