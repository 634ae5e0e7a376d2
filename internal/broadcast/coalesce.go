package broadcast

import (
	"sync"
	"time"

	"github.com/MrWong99/glyphcap/internal/roster"
)

// patchCoalescer merges roster patches per speaker and flushes them once
// per window, in first-change order.
type patchCoalescer struct {
	window time.Duration
	flush  func([]roster.Patch)

	mu      sync.Mutex
	pending map[string]roster.Patch
	order   []string
	timer   *time.Timer
	stopped bool
}

func newPatchCoalescer(window time.Duration, flush func([]roster.Patch)) *patchCoalescer {
	return &patchCoalescer{
		window:  window,
		flush:   flush,
		pending: make(map[string]roster.Patch),
	}
}

func (c *patchCoalescer) add(p roster.Patch) {
	if p.Empty() {
		return
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.window <= 0 {
		c.mu.Unlock()
		c.flush([]roster.Patch{p})
		return
	}
	if prev, ok := c.pending[p.UserID]; ok {
		c.pending[p.UserID] = prev.Merge(p)
	} else {
		c.pending[p.UserID] = p
		c.order = append(c.order, p.UserID)
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(c.window, c.fire)
	}
	c.mu.Unlock()
}

func (c *patchCoalescer) fire() {
	c.mu.Lock()
	c.timer = nil
	batch := c.takeLocked()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.flush(batch)
	}
}

func (c *patchCoalescer) takeLocked() []roster.Patch {
	batch := make([]roster.Patch, 0, len(c.order))
	for _, id := range c.order {
		batch = append(batch, c.pending[id])
	}
	clear(c.pending)
	c.order = c.order[:0]
	return batch
}

// stop flushes what is pending and ignores later patches.
func (c *patchCoalescer) stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	batch := c.takeLocked()
	c.mu.Unlock()
	if len(batch) > 0 {
		c.flush(batch)
	}
}
