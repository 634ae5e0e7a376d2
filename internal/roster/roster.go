// Package roster tracks the speakers present in a voice channel: their
// display names, palette colours, language pins and speaking state.
//
// Every change is reported as a [Patch] to the registered listener, which the
// broadcast hub coalesces into subscriber updates.
package roster

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a silent speaker who left no explicit leave event
// stays on the roster.
const DefaultTTL = 10 * time.Minute

// Option configures a [Registry].
type Option func(*Registry)

// WithTTL overrides [DefaultTTL]. Zero disables eviction.
func WithTTL(d time.Duration) Option {
	return func(r *Registry) { r.ttl = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithOnPatch registers the change listener. It is called without the
// roster lock held and never concurrently with itself.
func WithOnPatch(fn func(Patch)) Option {
	return func(r *Registry) { r.onPatch = fn }
}

// Registry is the concurrency-safe speaker roster.
type Registry struct {
	ttl     time.Duration
	now     func() time.Time
	onPatch func(Patch)

	mu       sync.Mutex
	speakers map[string]*Speaker

	emitMu sync.Mutex
}

// New returns an empty Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		ttl:      DefaultTTL,
		now:      time.Now,
		speakers: make(map[string]*Speaker),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetOnPatch replaces the change listener.
func (r *Registry) SetOnPatch(fn func(Patch)) {
	r.emitMu.Lock()
	r.onPatch = fn
	r.emitMu.Unlock()
}

// Seed pre-registers speakers, typically from configuration, without
// emitting patches. Missing colours are filled from the palette.
func (r *Registry) Seed(speakers ...Speaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range speakers {
		if s.UserID == "" {
			continue
		}
		if s.Color == "" {
			s.Color = Color(s.UserID)
		}
		if s.Username == "" {
			s.Username = s.UserID
		}
		s.IsSpeaking = false
		cp := s
		r.speakers[s.UserID] = &cp
	}
}

// Join adds or refreshes a speaker. Username falls back to the user id.
func (r *Registry) Join(userID, username, avatar string) Speaker {
	if username == "" {
		username = userID
	}
	r.mu.Lock()
	s, ok := r.speakers[userID]
	var p Patch
	if !ok {
		s = &Speaker{UserID: userID, Username: username, Color: Color(userID), Avatar: avatar}
		r.speakers[userID] = s
		p = Patch{UserID: userID, Username: ptr(username), Color: ptr(s.Color), IsSpeaking: ptr(false)}
		if avatar != "" {
			p.Avatar = ptr(avatar)
		}
		if s.PinnedInputLang != "" {
			p.PinnedInputLang = ptr(s.PinnedInputLang)
		}
	} else {
		p = Patch{UserID: userID}
		if s.Username != username {
			s.Username = username
			p.Username = ptr(username)
		}
		if avatar != "" && s.Avatar != avatar {
			s.Avatar = avatar
			p.Avatar = ptr(avatar)
		}
	}
	out := *s
	r.mu.Unlock()
	r.emit(p)
	return out
}

// Leave removes a speaker. It reports whether the speaker was present.
func (r *Registry) Leave(userID string) bool {
	r.mu.Lock()
	_, ok := r.speakers[userID]
	delete(r.speakers, userID)
	r.mu.Unlock()
	if ok {
		r.emit(Patch{UserID: userID, Removed: true})
	}
	return ok
}

// SetSpeaking records a speaking-state change. Starting to speak also
// refreshes LastHeardAt. Unknown speakers are added with their id as name.
func (r *Registry) SetSpeaking(userID string, speaking bool) {
	r.mu.Lock()
	s, created := r.ensureLocked(userID)
	p := Patch{UserID: userID}
	if created {
		p = r.fullPatchLocked(s)
	}
	if s.IsSpeaking != speaking {
		s.IsSpeaking = speaking
		p.IsSpeaking = ptr(speaking)
	}
	if speaking {
		s.LastHeardAt = r.now().UnixMilli()
		p.LastHeardAt = ptr(s.LastHeardAt)
	}
	r.mu.Unlock()
	r.emit(p)
}

// Heard refreshes LastHeardAt and, when lang is non-empty, DetectedLang.
func (r *Registry) Heard(userID, lang string) {
	r.mu.Lock()
	s, created := r.ensureLocked(userID)
	p := Patch{UserID: userID}
	if created {
		p = r.fullPatchLocked(s)
	}
	s.LastHeardAt = r.now().UnixMilli()
	p.LastHeardAt = ptr(s.LastHeardAt)
	if lang = strings.TrimSpace(lang); lang != "" && lang != s.DetectedLang {
		s.DetectedLang = lang
		p.DetectedLang = ptr(lang)
	}
	r.mu.Unlock()
	r.emit(p)
}

// SetPinnedLang records a speaker's input-language pin. The value is stored
// as given; validation belongs to the caller.
func (r *Registry) SetPinnedLang(userID, lang string) {
	r.mu.Lock()
	s, created := r.ensureLocked(userID)
	p := Patch{UserID: userID}
	if created {
		p = r.fullPatchLocked(s)
	}
	if s.PinnedInputLang != lang {
		s.PinnedInputLang = lang
		p.PinnedInputLang = ptr(lang)
	}
	r.mu.Unlock()
	r.emit(p)
}

// Get returns a copy of the speaker.
func (r *Registry) Get(userID string) (Speaker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.speakers[userID]
	if !ok {
		return Speaker{}, false
	}
	return *s, true
}

// Name returns the speaker's display name and colour, falling back to the
// id and its palette colour for unknown speakers.
func (r *Registry) Name(userID string) (username, color string) {
	if s, ok := r.Get(userID); ok {
		return s.Username, s.Color
	}
	return userID, Color(userID)
}

// Snapshot returns all speakers ordered by username, then id.
func (r *Registry) Snapshot() []Speaker {
	r.mu.Lock()
	out := make([]Speaker, 0, len(r.speakers))
	for _, s := range r.speakers {
		out = append(out, *s)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b Speaker) int {
		if c := strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username)); c != 0 {
			return c
		}
		return strings.Compare(a.UserID, b.UserID)
	})
	return out
}

// Len returns the number of speakers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.speakers)
}

// Evict removes speakers that are not speaking and have not been heard for
// longer than the TTL, returning their ids. Speakers never heard are aged
// from when they were first seen by Evict.
func (r *Registry) Evict() []string {
	if r.ttl <= 0 {
		return nil
	}
	now := r.now()
	cutoff := now.Add(-r.ttl).UnixMilli()
	var gone []string
	r.mu.Lock()
	for id, s := range r.speakers {
		if s.IsSpeaking {
			continue
		}
		if s.LastHeardAt == 0 {
			s.LastHeardAt = now.UnixMilli()
			continue
		}
		if s.LastHeardAt < cutoff {
			delete(r.speakers, id)
			gone = append(gone, id)
		}
	}
	r.mu.Unlock()
	slices.Sort(gone)
	for _, id := range gone {
		r.emit(Patch{UserID: id, Removed: true})
	}
	return gone
}

// ensureLocked must be called with r.mu held.
func (r *Registry) ensureLocked(userID string) (*Speaker, bool) {
	if s, ok := r.speakers[userID]; ok {
		return s, false
	}
	s := &Speaker{UserID: userID, Username: userID, Color: Color(userID)}
	r.speakers[userID] = s
	return s, true
}

func (r *Registry) fullPatchLocked(s *Speaker) Patch {
	p := Patch{
		UserID:     s.UserID,
		Username:   ptr(s.Username),
		Color:      ptr(s.Color),
		IsSpeaking: ptr(s.IsSpeaking),
	}
	if s.Avatar != "" {
		p.Avatar = ptr(s.Avatar)
	}
	if s.PinnedInputLang != "" {
		p.PinnedInputLang = ptr(s.PinnedInputLang)
	}
	return p
}

func (r *Registry) emit(p Patch) {
	if p.Empty() {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.onPatch != nil {
		r.onPatch(p)
	}
}
