// Package discord owns the bot's gateway session, routes slash command
// interactions to registered handlers, and decides who may control
// captioning.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphcap/pkg/audio"
	discordaudio "github.com/MrWong99/glyphcap/pkg/audio/discord"
)

// ErrNotInVoice is returned by [Bot.VoiceChannelOf] when the user is not
// connected to a voice channel in the guild.
var ErrNotInVoice = errors.New("discord: user is not in a voice channel")

// Config holds Discord bot configuration.
type Config struct {
	// Token is the bot token without the "Bot " prefix.
	Token string

	// GuildID is the guild whose voice channel is captioned.
	GuildID string

	// ControlRoleID may join and leave channels. Empty allows everyone.
	ControlRoleID string
}

// Bot owns the Discord gateway connection and routes interactions
// to registered command handlers.
type Bot struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	platform  *discordaudio.Platform
	router    *CommandRouter
	perms     *PermissionChecker
	guildID   string
	commands  []*discordgo.ApplicationCommand
	closeOnce sync.Once
}

// New creates a Bot, opens the gateway and installs the interaction handler.
func New(_ context.Context, cfg Config) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}

	// Voice states feed both the SSRC mapping and VoiceChannelOf.
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("discord: open session: %w", err)
	}

	b := &Bot{
		session:  session,
		platform: discordaudio.New(session, cfg.GuildID),
		router:   NewCommandRouter(),
		perms:    NewPermissionChecker(cfg.ControlRoleID),
		guildID:  cfg.GuildID,
	}
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})
	return b, nil
}

// Platform returns the audio.Platform for voice channel connections.
func (b *Bot) Platform() audio.Platform {
	return b.platform
}

// GuildID returns the target guild ID.
func (b *Bot) GuildID() string {
	return b.guildID
}

// Session returns the underlying discordgo session.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Router returns the command router for registering handlers.
func (b *Bot) Router() *CommandRouter {
	return b.router
}

// Permissions returns the permission checker.
func (b *Bot) Permissions() *PermissionChecker {
	return b.perms
}

// VoiceChannelOf returns the voice channel userID is connected to, from the
// gateway state cache.
func (b *Bot) VoiceChannelOf(userID string) (string, error) {
	vs, err := b.Session().State.VoiceState(b.guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", ErrNotInVoice
	}
	return vs.ChannelID, nil
}

// Run registers slash commands with the Discord API and blocks until
// ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	s := b.Session()
	appID := s.State.User.ID

	if cmds := b.router.ApplicationCommands(); len(cmds) > 0 {
		registered, err := s.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("discord: register commands: %w", err)
		}
		b.mu.Lock()
		b.commands = registered
		b.mu.Unlock()
		slog.Info("discord commands registered", "count", len(registered))
	}

	<-ctx.Done()
	return ctx.Err()
}

// Close unregisters the commands and disconnects from Discord.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if b.session == nil {
			return
		}
		appID := b.session.State.User.ID
		for _, cmd := range b.commands {
			if err := b.session.ApplicationCommandDelete(appID, b.guildID, cmd.ID); err != nil {
				slog.Warn("discord: failed to delete command", "name", cmd.Name, "err", err)
			}
		}
		if err := b.session.Close(); err != nil {
			closeErr = fmt.Errorf("discord: close session: %w", err)
		}
		slog.Info("discord bot closed")
	})
	return closeErr
}
