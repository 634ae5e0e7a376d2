// Package caption implements the per-speaker caption lane: a state machine
// that turns interim, final and possibly reordered caption events into a
// paginated, render-ready text buffer.
//
// A lane drops updates whose sequence number is not newer than the last one
// accepted for their id, re-enters text arriving after an id was finalized
// under a synthetic id ("e1#2"), flips to a new page before any write that
// would overflow the current one, and promotes stalled interim text to a
// final on its own. Until a width measurement is available events are
// queued and replayed in order.
package caption

import (
	"strings"
	"sync"
	"time"
)

// Config holds lane parameters. Zero fields take the defaults from
// [DefaultConfig], except MaxHeightPx where zero means no pixel bound.
type Config struct {
	// MaxRowsPerPage and MaxHeightPx/LineHeightPx bound a page; the tighter
	// of the two wins.
	MaxRowsPerPage int
	MaxHeightPx    int
	LineHeightPx   int

	// MaxHistoryPages is the number of pages kept, including the live one.
	MaxHistoryPages int

	// MaxQueuedUpdates bounds the queue used while no measurement exists.
	MaxQueuedUpdates int
	// MeasureTimeout is how long events wait for a measurement before the
	// conservative measurer is installed.
	MeasureTimeout time.Duration
	// ConservativeWidthPx and CharWidthPx define the fallback column budget.
	ConservativeWidthPx int
	CharWidthPx         int
	// SoftBreakAfterChars is the preferred row length when a single run has
	// to be split.
	SoftBreakAfterChars int

	// IdleClear empties the pages of a lane with no activity for this long.
	// A negative value disables idle clearing.
	IdleClear time.Duration

	// MaxTrackedIDs bounds how many event ids keep their sequence and
	// finalize state. The oldest ids not shown on a page are forgotten first.
	MaxTrackedIDs int

	// Lane-side finalization of interim text.
	PromoteMinChars   int
	PromoteMinWords   int
	PromoteLongChars  int
	PromoteShortDelay time.Duration
	PromoteLongDelay  time.Duration
}

// DefaultConfig returns the default lane parameters.
func DefaultConfig() Config {
	return Config{
		MaxRowsPerPage:      3,
		MaxHeightPx:         96,
		LineHeightPx:        32,
		MaxHistoryPages:     5,
		MaxQueuedUpdates:    6,
		MeasureTimeout:      250 * time.Millisecond,
		ConservativeWidthPx: 180,
		CharWidthPx:         8,
		SoftBreakAfterChars: 22,
		IdleClear:           4 * time.Second,
		MaxTrackedIDs:       256,
		PromoteMinChars:     12,
		PromoteMinWords:     3,
		PromoteLongChars:    60,
		PromoteShortDelay:   900 * time.Millisecond,
		PromoteLongDelay:    450 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRowsPerPage <= 0 {
		c.MaxRowsPerPage = d.MaxRowsPerPage
	}
	if c.MaxHeightPx < 0 {
		c.MaxHeightPx = 0
	}
	if c.LineHeightPx <= 0 {
		c.LineHeightPx = d.LineHeightPx
	}
	if c.MaxHistoryPages <= 0 {
		c.MaxHistoryPages = d.MaxHistoryPages
	}
	if c.MaxQueuedUpdates <= 0 {
		c.MaxQueuedUpdates = d.MaxQueuedUpdates
	}
	if c.MeasureTimeout <= 0 {
		c.MeasureTimeout = d.MeasureTimeout
	}
	if c.ConservativeWidthPx <= 0 {
		c.ConservativeWidthPx = d.ConservativeWidthPx
	}
	if c.CharWidthPx <= 0 {
		c.CharWidthPx = d.CharWidthPx
	}
	if c.SoftBreakAfterChars <= 0 {
		c.SoftBreakAfterChars = d.SoftBreakAfterChars
	}
	if c.IdleClear == 0 {
		c.IdleClear = d.IdleClear
	}
	if c.MaxTrackedIDs <= 0 {
		c.MaxTrackedIDs = d.MaxTrackedIDs
	}
	if c.PromoteMinChars <= 0 {
		c.PromoteMinChars = d.PromoteMinChars
	}
	if c.PromoteMinWords <= 0 {
		c.PromoteMinWords = d.PromoteMinWords
	}
	if c.PromoteLongChars <= 0 {
		c.PromoteLongChars = d.PromoteLongChars
	}
	if c.PromoteShortDelay <= 0 {
		c.PromoteShortDelay = d.PromoteShortDelay
	}
	if c.PromoteLongDelay <= 0 {
		c.PromoteLongDelay = d.PromoteLongDelay
	}
	return c
}

// RowLimit is the effective maximum number of rows per page.
func (c Config) RowLimit() int {
	rows := c.MaxRowsPerPage
	if c.MaxHeightPx > 0 && c.LineHeightPx > 0 {
		if h := c.MaxHeightPx / c.LineHeightPx; h > 0 && h < rows {
			rows = h
		}
	}
	return rows
}

// ConservativeMeasurer is the measurer installed when no real measurement
// arrives in time.
func (c Config) ConservativeMeasurer() CharMeasurer {
	return NewCharMeasurer(c.ConservativeWidthPx, c.CharWidthPx, c.RowLimit())
}

// Metrics are the lane's running counters.
type Metrics struct {
	PageFlips        int
	LateRespawns     int
	OverflowPrevents int
	OutOfOrderDrops  int
	QueueFlushes     int
	QueueDrops       int
	SyntheticFinals  int
	SuppressedFinals int
}

// Action is the outcome of [Lane.Apply].
type Action int

const (
	// ActionApplied means the event changed the lane.
	ActionApplied Action = iota
	// ActionQueued means the event waits for a measurement.
	ActionQueued
	// ActionDropped means the update was stale and ignored.
	ActionDropped
	// ActionRespawned means a late update was shown under a synthetic id.
	ActionRespawned
	// ActionSuppressed means a provider final duplicated a lane-promoted one.
	ActionSuppressed
	// ActionIgnored means the event had nothing to change.
	ActionIgnored
)

var actionNames = [...]string{"applied", "queued", "dropped", "respawned", "suppressed", "ignored"}

// String implements fmt.Stringer.
func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// Result describes what Apply did with an event.
type Result struct {
	Action Action
	// ID is the id the event was applied under (synthetic after a respawn).
	ID EventID
	// Flips is the number of pages flipped by this event.
	Flips int
}

// LaneOption is a functional option for [NewLane].
type LaneOption func(*Lane)

// WithLaneClock overrides the time source used for events without a
// timestamp.
func WithLaneClock(now func() time.Time) LaneOption {
	return func(l *Lane) {
		l.now = now
	}
}

// WithMeasurer starts the lane with a measurement so events are not queued.
func WithMeasurer(m Measurer) LaneOption {
	return func(l *Lane) {
		l.measurer = m
	}
}

// Lane is the caption state of one speaker. All methods are safe for
// concurrent use.
type Lane struct {
	cfg       Config
	speakerID string
	now       func() time.Time

	mu          sync.Mutex
	measurer    Measurer
	pages       []*page
	nextPage    int
	segs        map[EventID]*segment
	finalized   map[EventID]bool
	lastSeq     map[EventID]int
	promoted    map[EventID]string
	tracked     map[EventID]bool
	history     []EventID
	active      EventID
	queue       []Event
	queuedSince time.Time
	lastEvent   time.Time
	cleared     bool
	metrics     Metrics
}

// NewLane creates an empty lane for speakerID.
func NewLane(speakerID string, cfg Config, opts ...LaneOption) *Lane {
	l := &Lane{
		cfg:       cfg.withDefaults(),
		speakerID: speakerID,
		now:       time.Now,
		finalized: make(map[EventID]bool),
		lastSeq:   make(map[EventID]int),
		promoted:  make(map[EventID]string),
		tracked:   make(map[EventID]bool),
	}
	l.clearPages()
	for _, o := range opts {
		o(l)
	}
	return l
}

// clearPages empties the display. Sequence and finalize state survive.
func (l *Lane) clearPages() {
	l.pages = nil
	l.segs = make(map[EventID]*segment)
	l.active = EventID{}
	l.livePage()
}

// remember adds id to the tracked ids and forgets the oldest ones beyond
// MaxTrackedIDs. Ids still shown on a page are kept.
func (l *Lane) remember(id EventID) {
	if l.tracked[id] {
		return
	}
	l.tracked[id] = true
	l.history = append(l.history, id)
	for over := len(l.history) - l.cfg.MaxTrackedIDs; over > 0; over-- {
		old := l.history[0]
		l.history = l.history[1:]
		if s := l.segs[old]; s != nil && l.onPage(s) {
			l.history = append(l.history, old)
			continue
		}
		delete(l.tracked, old)
		delete(l.lastSeq, old)
		delete(l.finalized, old)
		delete(l.promoted, old)
		delete(l.segs, old)
	}
}

// SpeakerID returns the lane's speaker.
func (l *Lane) SpeakerID() string { return l.speakerID }

// Apply feeds one event into the lane.
func (l *Lane) Apply(ev Event) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ev.At.IsZero() {
		ev.At = l.now()
	}

	switch ev.Kind {
	case KindBegin:
		// A begin restarts sequence tracking for its id.
		delete(l.lastSeq, ev.ID)
	case KindUpdate:
		if ev.Seq > 0 {
			if last, ok := l.lastSeq[ev.ID]; ok && ev.Seq <= last {
				l.metrics.OutOfOrderDrops++
				return Result{Action: ActionDropped, ID: ev.ID}
			}
			l.lastSeq[ev.ID] = ev.Seq
			l.remember(ev.ID)
		}
	case KindFinalize:
	default:
		return Result{Action: ActionIgnored, ID: ev.ID}
	}

	l.lastEvent = ev.At
	l.cleared = false

	if l.measurer == nil {
		l.enqueue(ev)
		return Result{Action: ActionQueued, ID: ev.ID}
	}
	return l.applyMeasured(ev)
}

func (l *Lane) applyMeasured(ev Event) Result {
	switch ev.Kind {
	case KindBegin:
		return l.applyBegin(ev)
	case KindUpdate:
		return l.applyUpdate(ev)
	default:
		return l.applyFinalize(ev)
	}
}

func (l *Lane) applyBegin(ev Event) Result {
	id := ev.ID
	if l.finalized[id] {
		id = l.successor(id)
	}
	l.active = id
	return Result{Action: ActionApplied, ID: id}
}

func (l *Lane) applyUpdate(ev Event) Result {
	id := ev.ID
	action := ActionApplied
	if l.finalized[id] {
		id = l.successor(id)
		if l.segs[id] == nil {
			action = ActionRespawned
			l.metrics.LateRespawns++
		}
	}

	seg := l.segs[id]
	if seg == nil {
		seg = &segment{id: id, interim: true, start: ev.At}
		l.segs[id] = seg
		l.remember(id)
	}
	seg.last = ev.At
	if ev.Lang != "" {
		seg.lang = ev.Lang
	}
	flips := l.place(seg, ev.Text)
	l.active = id
	return Result{Action: action, ID: id, Flips: flips}
}

func (l *Lane) applyFinalize(ev Event) Result {
	id := ev.ID
	if l.finalized[id] {
		if syn, ok := l.promoted[id]; ok {
			delete(l.promoted, id)
			if !ev.HasText || coveredBy(ev.Text, syn) {
				l.metrics.SuppressedFinals++
				return Result{Action: ActionSuppressed, ID: id}
			}
		}
		next := l.successor(id)
		if s := l.segs[next]; s != nil {
			id = next
		} else if s := l.segs[id]; s != nil {
			if !ev.HasText || s.text == ev.Text {
				return Result{Action: ActionIgnored, ID: id}
			}
			flips := l.place(s, ev.Text)
			return Result{Action: ActionApplied, ID: id, Flips: flips}
		} else {
			// Repeated final for text that was cleared or evicted.
			return Result{Action: ActionIgnored, ID: id}
		}
	}

	l.finalized[id] = true
	l.remember(id)
	seg := l.segs[id]
	if seg == nil {
		if !ev.HasText || strings.TrimSpace(ev.Text) == "" {
			return Result{Action: ActionIgnored, ID: id}
		}
		seg = &segment{id: id, start: ev.At}
		l.segs[id] = seg
	}
	seg.interim = false
	seg.last = ev.At
	if ev.Lang != "" {
		seg.lang = ev.Lang
	}
	flips := 0
	if ev.HasText {
		flips = l.place(seg, ev.Text)
	}
	return Result{Action: ActionApplied, ID: id, Flips: flips}
}

// successor returns the first synthetic id after id that is not finalized.
func (l *Lane) successor(id EventID) EventID {
	next := id.Next()
	for l.finalized[next] {
		next = next.Next()
	}
	return next
}

// enqueue buffers ev while no measurement exists. On overflow the oldest
// update is dropped; begin and finalize events are kept while possible.
func (l *Lane) enqueue(ev Event) {
	if len(l.queue) == 0 {
		l.queuedSince = ev.At
	}
	if len(l.queue) >= l.cfg.MaxQueuedUpdates {
		drop := 0
		for i, q := range l.queue {
			if q.Kind == KindUpdate {
				drop = i
				break
			}
		}
		l.queue = append(l.queue[:drop], l.queue[drop+1:]...)
		l.metrics.QueueDrops++
	}
	l.queue = append(l.queue, ev)
}

func (l *Lane) replay() {
	if len(l.queue) == 0 {
		return
	}
	q := l.queue
	l.queue = nil
	l.metrics.QueueFlushes++
	for _, ev := range q {
		l.applyMeasured(ev)
	}
}

// SetMeasurement installs m and replays queued events in order. A nil m
// makes the lane queue again.
func (l *Lane) SetMeasurement(m Measurer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.measurer = m
	if m != nil {
		l.replay()
	}
}

// MeasurementTimeout installs the conservative measurer if none is set and
// replays queued events.
func (l *Lane) MeasurementTimeout() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.measurementTimeoutLocked()
}

func (l *Lane) measurementTimeoutLocked() {
	if l.measurer != nil {
		return
	}
	l.measurer = l.cfg.ConservativeMeasurer()
	l.replay()
}

// Measured reports whether a measurement is installed.
func (l *Lane) Measured() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.measurer != nil
}

// Tick advances lane timers: the measurement timeout, lane-side promotion of
// stalled interim text and idle clearing. It returns the synthetic finalize
// and clear events produced, for the caller to publish.
func (l *Lane) Tick(now time.Time) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.measurer == nil && len(l.queue) > 0 && now.Sub(l.queuedSince) >= l.cfg.MeasureTimeout {
		l.measurementTimeoutLocked()
	}

	var out []Event
	if ev, ok := l.promoteLocked(now); ok {
		out = append(out, ev)
	}
	if l.cfg.IdleClear > 0 && !l.cleared && !l.lastEvent.IsZero() && now.Sub(l.lastEvent) >= l.cfg.IdleClear {
		hadText := l.hasTextLocked()
		l.clearPages()
		l.cleared = true
		if hadText {
			out = append(out, Event{Kind: KindClear, SpeakerID: l.speakerID, At: now})
		}
	}
	return out
}

func (l *Lane) promoteLocked(now time.Time) (Event, bool) {
	if l.measurer == nil || l.active.IsZero() || l.finalized[l.active] {
		return Event{}, false
	}
	seg := l.segs[l.active]
	if seg == nil || !seg.interim || !l.cfg.promotable(seg.text) {
		return Event{}, false
	}
	if now.Sub(l.lastEvent) < l.cfg.promoteDelay(seg.text) {
		return Event{}, false
	}
	l.finalized[seg.id] = true
	l.remember(seg.id)
	l.promoted[seg.id] = seg.text
	seg.interim = false
	l.metrics.SyntheticFinals++
	return Event{
		Kind:      KindFinalize,
		ID:        seg.id,
		SpeakerID: l.speakerID,
		Text:      seg.text,
		HasText:   true,
		Lang:      seg.lang,
		At:        now,
		Synthetic: true,
	}, true
}

func (l *Lane) hasTextLocked() bool {
	for _, pg := range l.pages {
		if !pg.empty() {
			return true
		}
	}
	return false
}

// Pages returns a copy of the page history, oldest first.
func (l *Lane) Pages() []Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Page, 0, len(l.pages))
	for _, pg := range l.pages {
		out = append(out, pg.view())
	}
	return out
}

// Text returns the live page's text.
func (l *Lane) Text() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.livePage().text()
}

// SegmentText returns the full text of the utterance with the given id.
func (l *Lane) SegmentText(id EventID) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.segs[id]
	if !ok {
		return "", false
	}
	return s.text, true
}

// Finalized reports whether id was finalized.
func (l *Lane) Finalized(id EventID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.finalized[id]
}

// ActiveID returns the id of the utterance currently being written.
func (l *Lane) ActiveID() EventID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// Metrics returns a snapshot of the lane counters.
func (l *Lane) Metrics() Metrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.metrics
}

// QueueLen returns the number of events waiting for a measurement.
func (l *Lane) QueueLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
