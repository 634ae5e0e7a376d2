// Package discord provides an [audio.Platform] backed by Discord voice
// channels through bwmarrin/discordgo. It decodes each participant's Opus
// stream with gopus, attributes audio to users through speaking updates and
// delivers fixed-size mono PCM frames in the configured capture format.
//
// The platform needs an active *discordgo.Session owned by the bot layer.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphcap/pkg/audio"
)

var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] on top of a discordgo session.
type Platform struct {
	session *discordgo.Session
	guildID string
	format  audio.Format
}

// Option configures a [Platform].
type Option func(*Platform)

// WithFormat sets the capture format frames are converted to. The default is
// 48 kHz mono.
func WithFormat(f audio.Format) Option {
	return func(p *Platform) {
		p.format = f
	}
}

// New creates a Platform for the given session and guild.
func New(session *discordgo.Session, guildID string, opts ...Option) *Platform {
	p := &Platform{
		session: session,
		guildID: guildID,
		format:  audio.Format{SampleRate: opusSampleRate, Channels: 1},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect joins channelID muted (the bot never talks) and starts capture.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConnection(vc, p.session, p.guildID, p.format), nil
}
