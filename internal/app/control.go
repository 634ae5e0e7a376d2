package app

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/glyphcap/internal/archive"
	"github.com/MrWong99/glyphcap/internal/config"
	"github.com/MrWong99/glyphcap/internal/observe"
	"github.com/MrWong99/glyphcap/internal/speech"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// Status is a point-in-time summary for operators.
type Status struct {
	Mode config.STTMode

	// Voice is the active voice session; zero when not connected.
	Voice  SessionInfo
	Active bool

	Speakers     int
	Subscribers  int
	OpenSessions int

	// Latencies holds p50/p95 per stage (see the observe.Stage constants).
	Latencies map[string]observe.Percentiles

	// Recent lists the latest archived captions, newest first. Empty when
	// the archive is disabled.
	Recent []archive.Entry
}

// Status collects the current runtime summary. Archive failures are logged
// and leave Recent empty.
func (a *App) Status(ctx context.Context) Status {
	st := Status{
		Mode:        a.cfg.STT.Mode,
		Voice:       a.sessions.Info(),
		Active:      a.sessions.IsActive(),
		Speakers:    a.roster.Len(),
		Subscribers: a.hub.Subscribers(),
		Latencies:   a.latencies.Snapshot(),
	}
	if a.speech != nil {
		st.OpenSessions = a.speech.Stats().Open
	}
	if a.archive != nil {
		recent, err := a.archive.Recent(ctx, recentCaptions)
		if err != nil {
			observe.Logger(ctx).Warn("status: archive read failed", "err", err)
		}
		st.Recent = recent
	}
	return st
}

// SwitchLanguage pins the recognition language of userID and returns the
// normalized code. In stream mode an open socket is switched in place; in
// clip mode the pin applies from the next clip.
func (a *App) SwitchLanguage(ctx context.Context, userID, lang string) (string, error) {
	norm, ok := stt.NormalizeLanguage(lang)
	if !ok {
		return "", fmt.Errorf("%w: %q", speech.ErrInvalidLanguage, lang)
	}
	if a.speech != nil {
		if err := a.speech.SwitchLanguage(ctx, userID, norm); err != nil {
			return "", err
		}
	}
	a.roster.SetPinnedLang(userID, norm)
	if sp, ok := a.lookupSpeaker(userID); ok {
		sp.asm.SetLanguage(stt.ResolveLanguage(norm, a.cfg.STT.DefaultLanguage))
	}
	observe.Logger(ctx).Info("input language pinned", "speaker", userID, "lang", norm)
	return norm, nil
}

// Join starts a voice session on channelID.
func (a *App) Join(ctx context.Context, channelID, startedBy string) error {
	return a.sessions.Start(ctx, channelID, startedBy)
}

// Leave ends the active voice session.
func (a *App) Leave(ctx context.Context) error {
	return a.sessions.Stop(ctx)
}

// Ready reports whether the app can serve captions: the archive answers and
// the session manager is not given up.
func (a *App) Ready(ctx context.Context) error {
	if a.archive != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if _, err := a.archive.Recent(ctx, 1); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
	}
	if err := a.sessions.Err(); err != nil {
		return fmt.Errorf("voice: %w", err)
	}
	return nil
}
