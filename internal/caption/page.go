package caption

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Segment is the part of one utterance shown on one page.
type Segment struct {
	ID      EventID
	Text    string
	Interim bool
	// Continued is set when the utterance started on an earlier page.
	Continued bool
	Start     time.Time
	Last      time.Time
	Lang      string
}

// Page is a width-bounded group of segments. The last page is the live one.
type Page struct {
	ID       int
	Segments []Segment
}

// Text joins the page's segments with single spaces.
func (p Page) Text() string {
	parts := make([]string, 0, len(p.Segments))
	for _, s := range p.Segments {
		if s.Text != "" {
			parts = append(parts, s.Text)
		}
	}
	return strings.Join(parts, " ")
}

// segment is the full state of one utterance.
type segment struct {
	id      EventID
	text    string
	interim bool
	start   time.Time
	last    time.Time
	lang    string
	// from is the byte offset of the portion shown on the live page; text
	// before it is frozen on earlier pages.
	from int
}

func (s *segment) liveText() string {
	if s.from >= len(s.text) {
		return ""
	}
	return s.text[s.from:]
}

// part places a segment on a page. Frozen parts keep the text they showed
// when their page was flipped.
type part struct {
	seg    *segment
	frozen bool
	text   string
	offset int
}

func (p *part) Text() string {
	if p.frozen {
		return p.text
	}
	return p.seg.liveText()
}

type page struct {
	id    int
	parts []*part
}

// liveFor returns the non-frozen part of seg on this page.
func (pg *page) liveFor(seg *segment) *part {
	for _, p := range pg.parts {
		if p.seg == seg && !p.frozen {
			return p
		}
	}
	return nil
}

func (pg *page) remove(target *part) {
	for i, p := range pg.parts {
		if p == target {
			pg.parts = append(pg.parts[:i], pg.parts[i+1:]...)
			return
		}
	}
}

func (pg *page) has(seg *segment) bool {
	for _, p := range pg.parts {
		if p.seg == seg {
			return true
		}
	}
	return false
}

// textWith renders the page as if target showed override, and with extra
// appended when non-nil.
func (pg *page) textWith(target *part, override string, extra *string) string {
	var b strings.Builder
	add := func(s string) {
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	for _, p := range pg.parts {
		if p == target {
			add(override)
			continue
		}
		add(p.Text())
	}
	if extra != nil {
		add(*extra)
	}
	return b.String()
}

func (pg *page) text() string { return pg.textWith(nil, "", nil) }

func (pg *page) empty() bool { return strings.TrimSpace(pg.text()) == "" }

func (pg *page) view() Page {
	out := Page{ID: pg.id, Segments: make([]Segment, 0, len(pg.parts))}
	for _, p := range pg.parts {
		out.Segments = append(out.Segments, Segment{
			ID:        p.seg.id,
			Text:      p.Text(),
			Interim:   p.seg.interim && !p.frozen,
			Continued: p.offset > 0,
			Start:     p.seg.start,
			Last:      p.seg.last,
			Lang:      p.seg.lang,
		})
	}
	return out
}

// maxPlaceSteps bounds the flip loop for a single write.
const maxPlaceSteps = 64

// place writes text into seg and flips pages until the live page no longer
// overflows. Text that no longer fits is frozen on the old page at the last
// word boundary that fits and continues on the new page, so no characters
// are lost. When text rewrites the frozen prefix the whole segment moves to
// the live page. Returns the number of flips.
func (l *Lane) place(seg *segment, text string) int {
	if seg.from > 0 && !strings.HasPrefix(text, seg.text[:seg.from]) {
		l.unfreeze(seg)
	}
	seg.text = text
	flips := 0
	for range maxPlaceSteps {
		live := l.livePage()
		p := live.liveFor(seg)
		if p == nil {
			lt := seg.liveText()
			if !live.empty() && l.measurer.Overflows(live.textWith(nil, "", &lt)) {
				l.flip()
				flips++
				l.metrics.OverflowPrevents++
				continue
			}
			p = &part{seg: seg, offset: seg.from}
			live.parts = append(live.parts, p)
		}
		if !l.measurer.Overflows(live.text()) {
			return flips
		}

		b := l.fitBoundary(live, p)
		if b <= seg.from {
			if len(live.parts) > 1 {
				// Nothing of this segment fits next to the others; move it.
				live.remove(p)
				l.flip()
				flips++
				l.metrics.OverflowPrevents++
				continue
			}
			b = l.hardBoundary(live, p)
			if b <= seg.from {
				return flips
			}
		}
		p.frozen = true
		p.text = strings.TrimRight(seg.text[seg.from:b], " ")
		seg.from = b
		for seg.from < len(seg.text) && seg.text[seg.from] == ' ' {
			seg.from++
		}
		l.flip()
		flips++
		l.metrics.OverflowPrevents++
	}
	return flips
}

// unfreeze removes every part of seg from the pages and drops history pages
// left empty, so seg is placed again from its first byte.
func (l *Lane) unfreeze(seg *segment) {
	for _, pg := range l.pages {
		pg.parts = slices.DeleteFunc(pg.parts, func(p *part) bool { return p.seg == seg })
	}
	seg.from = 0
	n := len(l.pages)
	kept := l.pages[:0]
	for i, pg := range l.pages {
		if i < n-1 && len(pg.parts) == 0 {
			continue
		}
		kept = append(kept, pg)
	}
	l.pages = kept
}

// fitBoundary returns the largest word boundary b such that the live page
// fits with seg showing text[from:b], or from when none does.
func (l *Lane) fitBoundary(live *page, p *part) int {
	seg := p.seg
	for b := len(seg.text); b > seg.from; b-- {
		if b < len(seg.text) && seg.text[b] != ' ' {
			continue
		}
		candidate := strings.TrimRight(seg.text[seg.from:b], " ")
		if candidate == "" {
			continue
		}
		if !l.measurer.Overflows(live.textWith(p, candidate, nil)) {
			return b
		}
	}
	return seg.from
}

// hardBoundary splits a single run that does not fit on an empty page: the
// first soft-break row if it fits, else the longest rune prefix that fits,
// else one rune.
func (l *Lane) hardBoundary(live *page, p *part) int {
	seg := p.seg
	rest := seg.text[seg.from:]
	if rows := SoftBreaks(rest, l.cfg.SoftBreakAfterChars); len(rows) > 1 {
		if !l.measurer.Overflows(live.textWith(p, rows[0], nil)) {
			return seg.from + len(rows[0])
		}
	}
	for b := len(rest) - 1; b > 0; b-- {
		if !utf8.RuneStart(rest[b]) {
			continue
		}
		if !l.measurer.Overflows(live.textWith(p, rest[:b], nil)) {
			return seg.from + b
		}
	}
	_, size := utf8.DecodeRuneInString(rest)
	return seg.from + size
}

func (l *Lane) livePage() *page {
	if len(l.pages) == 0 {
		l.nextPage++
		l.pages = append(l.pages, &page{id: l.nextPage})
	}
	return l.pages[len(l.pages)-1]
}

// flip appends a new live page and evicts history beyond MaxHistoryPages.
func (l *Lane) flip() {
	l.nextPage++
	l.pages = append(l.pages, &page{id: l.nextPage})
	l.metrics.PageFlips++
	if over := len(l.pages) - l.cfg.MaxHistoryPages; over > 0 {
		evicted := l.pages[:over]
		l.pages = append([]*page(nil), l.pages[over:]...)
		for _, pg := range evicted {
			for _, p := range pg.parts {
				if !p.seg.interim && !l.onPage(p.seg) {
					delete(l.segs, p.seg.id)
				}
			}
		}
	}
}

func (l *Lane) onPage(seg *segment) bool {
	for _, pg := range l.pages {
		if pg.has(seg) {
			return true
		}
	}
	return false
}
