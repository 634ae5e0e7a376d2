package observe

import (
	"sync"
	"testing"
	"time"
)

func TestLatencies_Percentiles(t *testing.T) {
	t.Parallel()

	l := NewLatencies(100)
	for i := 1; i <= 100; i++ {
		l.Record(StageTranslate, time.Duration(i)*time.Millisecond)
	}
	l.Record(StageSTTOpen, 250*time.Millisecond)

	snap := l.Snapshot()
	tr := snap[StageTranslate]
	if tr.P50 != 50*time.Millisecond || tr.P95 != 95*time.Millisecond || tr.Samples != 100 {
		t.Errorf("translate = %+v, want p50 50ms p95 95ms over 100 samples", tr)
	}
	if open := snap[StageSTTOpen]; open.P50 != 250*time.Millisecond || open.P95 != 250*time.Millisecond {
		t.Errorf("stt_open = %+v", open)
	}
	if _, ok := snap[StageCleanup]; ok {
		t.Error("stage without samples should be absent")
	}
}

func TestLatencies_WindowWraps(t *testing.T) {
	t.Parallel()

	l := NewLatencies(10)
	for range 10 {
		l.Record(StageClip, time.Second)
	}
	for range 10 {
		l.Record(StageClip, 10*time.Millisecond)
	}
	got := l.Snapshot()[StageClip]
	if got.P95 != 10*time.Millisecond || got.Samples != 10 {
		t.Errorf("after wrap = %+v, want only the newest 10ms samples", got)
	}
}

func TestLatencies_DefaultWindow(t *testing.T) {
	t.Parallel()

	l := NewLatencies(0)
	l.Record(StageCleanup, 5*time.Millisecond)
	if got := l.Snapshot()[StageCleanup].P50; got != 5*time.Millisecond {
		t.Errorf("P50 = %v, want 5ms", got)
	}
}

func TestLatencies_Concurrent(t *testing.T) {
	t.Parallel()

	l := NewLatencies(50)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				l.Record(StageTranslate, time.Duration(g*100+i)*time.Microsecond)
				_ = l.Snapshot()
			}
		}()
	}
	wg.Wait()
	if got := l.Snapshot()[StageTranslate].Samples; got != 50 {
		t.Errorf("Samples = %d, want 50", got)
	}
}
