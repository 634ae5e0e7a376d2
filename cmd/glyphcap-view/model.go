package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrWong99/glyphcap/internal/broadcast"
	"github.com/MrWong99/glyphcap/internal/caption"
	"github.com/MrWong99/glyphcap/internal/roster"
)

const (
	tickInterval = 250 * time.Millisecond
	laneIndent   = 2
	minColumns   = 16
)

// targetLangs is the cycle of the l key.
var targetLangs = []string{"en", "de", "fr", "es", "it", "pt", "ja"}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	laneStyle   = lipgloss.NewStyle().PaddingLeft(laneIndent)
)

// ─── Messages ────────────────────────────────────────────────────────────────

type serverMsg struct{ msg serverMessage }

type connErrorMsg struct{ err error }

type tickMsg time.Time

// flushMsg applies a speaker's coalesced update.
type flushMsg struct{ userID string }

// ─── Model ───────────────────────────────────────────────────────────────────

type speakerView struct {
	info     roster.Speaker
	lane     *caption.Lane
	coalesce *caption.Coalescer
	// pending is the newest update not yet applied to the lane.
	pending *caption.Event
}

// model is the root bubbletea model of the viewer. Each speaker gets its own
// caption lane fed from the server's caption events.
type model struct {
	ctx context.Context
	tr  transport
	url string

	laneCfg caption.Config
	width   int

	speakers map[string]*speakerView
	order    []string
	// owners maps an utterance base id to its speaker; update messages
	// carry no user id.
	owners map[string]string

	prefs   broadcast.Prefs
	initial map[string]any
	status  string
	err     error
	now     func() time.Time
}

func newModel(ctx context.Context, tr transport, url string, initial map[string]any) model {
	cfg := caption.DefaultConfig()
	cfg.MaxRowsPerPage = 2
	cfg.MaxHeightPx = 0
	return model{
		ctx:      ctx,
		tr:       tr,
		url:      url,
		laneCfg:  cfg,
		speakers: make(map[string]*speakerView),
		owners:   make(map[string]string),
		initial:  initial,
		status:   "connected",
		now:      time.Now,
	}
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.listen(), tick()}
	if len(m.initial) > 0 {
		cmds = append(cmds, m.setPrefs(m.initial))
	}
	return tea.Batch(cmds...)
}

func (m model) listen() tea.Cmd {
	return func() tea.Msg {
		msg, err := m.tr.Next(m.ctx)
		if err != nil {
			return connErrorMsg{err: err}
		}
		return serverMsg{msg: msg}
	}
}

func (m model) setPrefs(patch map[string]any) tea.Cmd {
	return func() tea.Msg {
		if err := m.tr.SetPrefs(m.ctx, patch); err != nil {
			return connErrorMsg{err: err}
		}
		return nil
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "t":
			m.prefs.Translate = !m.prefs.Translate
			patch := map[string]any{"translate": m.prefs.Translate}
			if m.prefs.Translate && m.prefs.TargetLang == "" {
				m.prefs.TargetLang = targetLangs[0]
				patch["targetLang"] = m.prefs.TargetLang
			}
			return m, m.setPrefs(patch)
		case "l":
			m.prefs.TargetLang = nextLang(m.prefs.TargetLang)
			return m, m.setPrefs(map[string]any{"targetLang": m.prefs.TargetLang})
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		for _, sp := range m.speakers {
			sp.lane.SetMeasurement(m.measurer())
		}

	case serverMsg:
		cmd := m.apply(msg.msg)
		return m, tea.Batch(m.listen(), cmd)

	case flushMsg:
		if sp, ok := m.speakers[msg.userID]; ok {
			sp.flush()
		}

	case connErrorMsg:
		m.err = msg.err
		return m, tea.Quit

	case tickMsg:
		now := time.Time(msg)
		for _, sp := range m.speakers {
			sp.lane.Tick(now)
		}
		return m, tick()
	}
	return m, nil
}

// apply folds one server message into the model. Interim updates are
// held back per speaker for the coalescing delay; the returned command
// delivers the flush.
func (m *model) apply(msg serverMessage) tea.Cmd {
	now := m.now()
	switch msg.Type {
	case broadcast.TypeCaption:
		sp := m.speaker(msg.UserID)
		sp.flush()
		if msg.Username != "" {
			sp.info.Username = msg.Username
		}
		if msg.Color != "" {
			sp.info.Color = msg.Color
		}
		id := caption.ParseEventID(msg.EventID)
		m.owners[id.Base()] = msg.UserID
		sp.lane.Apply(caption.Begin(msg.UserID, id, now))

	case broadcast.TypeUpdate:
		id := caption.ParseEventID(msg.EventID)
		userID, ok := m.owners[id.Base()]
		if !ok {
			return nil
		}
		text, seq := msg.Text, msg.Seq
		if msg.Translated != "" {
			if !m.prefs.Translate {
				return nil
			}
			// Translations repeat the source seq.
			text, seq = msg.Translated, 0
		}
		return m.speaker(userID).hold(caption.Update(userID, id, seq, text, now))

	case broadcast.TypeFinalize:
		id := caption.ParseEventID(msg.EventID)
		sp := m.speaker(msg.UserID)
		sp.flush()
		sp.lane.Apply(caption.Finalize(msg.UserID, id, msg.Text, now))
		delete(m.owners, id.Base())

	case broadcast.TypeSpeakersSnap:
		for _, s := range msg.Speakers {
			m.speaker(s.UserID).info = s
		}

	case broadcast.TypeSpeakersUpdate:
		if msg.Patch != nil {
			m.patch(*msg.Patch)
		}

	case broadcast.TypePrefs:
		if msg.Prefs != nil {
			m.prefs = *msg.Prefs
		}

	case broadcast.TypeInputLangAck:
		m.status = fmt.Sprintf("%s now speaks %s", m.name(msg.UserID), msg.Lang)

	case broadcast.TypeError:
		m.status = strings.TrimSpace("server error: " + msg.Reason + " " + msg.Detail)
	}
	return nil
}

// hold parks ev as the speaker's pending update and schedules a flush if
// none is scheduled yet. A stale seq for the pending id is ignored.
func (sp *speakerView) hold(ev caption.Event) tea.Cmd {
	sp.coalesce.Observe(ev.Text, ev.At)
	if p := sp.pending; p != nil && p.ID == ev.ID {
		if ev.Seq == 0 || ev.Seq > p.Seq {
			sp.pending = &ev
		}
		return nil
	}
	sp.flush()
	sp.pending = &ev
	userID := sp.info.UserID
	return tea.Tick(sp.coalesce.Delay(), func(time.Time) tea.Msg { return flushMsg{userID: userID} })
}

func (sp *speakerView) flush() {
	if sp.pending == nil {
		return
	}
	sp.lane.Apply(*sp.pending)
	sp.pending = nil
}

func (m *model) patch(p roster.Patch) {
	if p.Removed {
		delete(m.speakers, p.UserID)
		m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == p.UserID })
		return
	}
	sp := m.speaker(p.UserID)
	if p.Username != nil {
		sp.info.Username = *p.Username
	}
	if p.Color != nil {
		sp.info.Color = *p.Color
	}
	if p.IsSpeaking != nil {
		sp.info.IsSpeaking = *p.IsSpeaking
	}
	if p.DetectedLang != nil {
		sp.info.DetectedLang = *p.DetectedLang
	}
	if p.PinnedInputLang != nil {
		sp.info.PinnedInputLang = *p.PinnedInputLang
	}
}

// speaker returns the view of userID, creating it on first sight. Lanes
// queue events until the terminal width is known.
func (m *model) speaker(userID string) *speakerView {
	if sp, ok := m.speakers[userID]; ok {
		return sp
	}
	var opts []caption.LaneOption
	if m.width > 0 {
		opts = append(opts, caption.WithMeasurer(m.measurer()))
	}
	sp := &speakerView{
		info:     roster.Speaker{UserID: userID},
		lane:     caption.NewLane(userID, m.laneCfg, opts...),
		coalesce: caption.NewCoalescer(caption.DefaultCoalesceConfig()),
	}
	m.speakers[userID] = sp
	m.order = append(m.order, userID)
	return sp
}

func (m *model) name(userID string) string {
	if sp, ok := m.speakers[userID]; ok && sp.info.Username != "" {
		return sp.info.Username
	}
	return userID
}

// measurer reports overflow when lipgloss wraps text to more rows than a
// page holds at the current terminal width.
func (m model) measurer() caption.Measurer {
	cols := max(m.width-laneIndent, minColumns)
	rows := m.laneCfg.RowLimit()
	style := lipgloss.NewStyle().Width(cols)
	return caption.MeasurerFunc(func(text string) bool {
		return lipgloss.Height(style.Render(text)) > rows
	})
}

func (m model) View() string {
	var b strings.Builder

	translate := "off"
	if m.prefs.Translate {
		translate = "→ " + m.prefs.TargetLang
	}
	b.WriteString(headerStyle.Render("glyphcap"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  translate %s", m.url, translate)))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(dimStyle.Render("waiting for speakers…"))
		b.WriteString("\n")
	}
	cols := max(m.width-laneIndent, minColumns)
	for _, id := range m.order {
		sp := m.speakers[id]
		b.WriteString(m.renderSpeaker(sp, cols))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
	} else {
		b.WriteString(dimStyle.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("t translate · l language · q quit"))
	return b.String()
}

func (m model) renderSpeaker(sp *speakerView, cols int) string {
	name := sp.info.Username
	if name == "" {
		name = sp.info.UserID
	}
	nameStyle := lipgloss.NewStyle().Bold(true)
	if sp.info.Color != "" {
		nameStyle = nameStyle.Foreground(lipgloss.Color(sp.info.Color))
	}
	head := nameStyle.Render(name)
	if sp.info.IsSpeaking {
		head += " ●"
	}

	body := dimStyle.Render("…")
	pages := sp.lane.Pages()
	if n := len(pages); n > 0 {
		var lines []string
		if n > 1 {
			if prev := pages[n-2].Text(); prev != "" {
				lines = append(lines, dimStyle.Width(cols).Render(prev))
			}
		}
		if live := pages[n-1].Text(); live != "" {
			lines = append(lines, lipgloss.NewStyle().Width(cols).Render(live))
		}
		if len(lines) > 0 {
			body = strings.Join(lines, "\n")
		}
	}
	return head + "\n" + laneStyle.Render(body)
}

func nextLang(cur string) string {
	i := slices.Index(targetLangs, cur)
	return targetLangs[(i+1)%len(targetLangs)]
}
