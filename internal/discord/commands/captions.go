// Package commands implements the /captions slash command group.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphcap/internal/app"
	"github.com/MrWong99/glyphcap/internal/discord"
	"github.com/MrWong99/glyphcap/internal/speech"
	"github.com/MrWong99/glyphcap/pkg/provider/stt"
)

// commandTimeout bounds joining, leaving and switching languages.
const commandTimeout = 30 * time.Second

// maxChoices is Discord's autocomplete limit.
const maxChoices = 25

// commonLanguages are offered by /captions lang autocomplete.
var commonLanguages = []struct{ Code, Name string }{
	{stt.LanguageAuto, "Detect automatically"},
	{"en", "English"},
	{"en-US", "English (US)"},
	{"en-GB", "English (UK)"},
	{"de", "German"},
	{"fr", "French"},
	{"es", "Spanish"},
	{"it", "Italian"},
	{"pt", "Portuguese"},
	{"pt-BR", "Portuguese (Brazil)"},
	{"nl", "Dutch"},
	{"pl", "Polish"},
	{"sv", "Swedish"},
	{"tr", "Turkish"},
	{"ru", "Russian"},
	{"uk", "Ukrainian"},
	{"ja", "Japanese"},
	{"ko", "Korean"},
	{"zh", "Chinese"},
	{"hi", "Hindi"},
}

// Controller is the captioning runtime driven by the commands. *app.App
// implements it.
type Controller interface {
	Join(ctx context.Context, channelID, startedBy string) error
	Leave(ctx context.Context) error
	SwitchLanguage(ctx context.Context, userID, lang string) (string, error)
	Status(ctx context.Context) app.Status
}

var _ Controller = (*app.App)(nil)

// VoiceLocator finds the voice channel a user is connected to.
type VoiceLocator interface {
	VoiceChannelOf(userID string) (string, error)
}

// CaptionCommands holds the dependencies for /captions slash commands.
type CaptionCommands struct {
	ctrl  Controller
	voice VoiceLocator
	perms *discord.PermissionChecker
	now   func() time.Time
}

// NewCaptionCommands creates a CaptionCommands and registers its handlers
// with the bot's router.
func NewCaptionCommands(bot *discord.Bot, ctrl Controller) *CaptionCommands {
	cc := &CaptionCommands{
		ctrl:  ctrl,
		voice: bot,
		perms: bot.Permissions(),
		now:   time.Now,
	}
	cc.Register(bot.Router())
	return cc
}

// Register registers the /captions command group with the router.
func (cc *CaptionCommands) Register(router *discord.CommandRouter) {
	router.RegisterCommand("captions", cc.Definition(), func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "Please use a subcommand: `/captions join`, `leave`, `lang` or `status`.")
	})
	router.RegisterHandler("captions/join", cc.handleJoin)
	router.RegisterHandler("captions/leave", cc.handleLeave)
	router.RegisterHandler("captions/lang", cc.handleLang)
	router.RegisterHandler("captions/status", cc.handleStatus)
	router.RegisterAutocomplete("captions/lang", cc.autocompleteLang)
}

// Definition returns the ApplicationCommand definition for Discord.
func (cc *CaptionCommands) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "captions",
		Description: "Live captions for the voice channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "join",
				Description: "Caption your current voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "leave",
				Description: "Stop captioning and leave the voice channel",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "lang",
				Description: "Set the language you speak",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:         discordgo.ApplicationCommandOptionString,
					Name:         "code",
					Description:  "Language code such as en, de or pt-BR, or auto",
					Required:     true,
					Autocomplete: true,
				}},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "status",
				Description: "Show captioning status and latency",
			},
		},
	}
}

func (cc *CaptionCommands) handleJoin(r discord.Responder, i *discordgo.InteractionCreate) {
	if !cc.perms.CanControl(i) {
		discord.RespondEphemeral(r, i, "You need the caption control role to move the captioner.")
		return
	}

	userID := discord.InteractionUserID(i)
	channelID, err := cc.voice.VoiceChannelOf(userID)
	if err != nil {
		discord.RespondEphemeral(r, i, "You must be in a voice channel to start captions.")
		return
	}

	// Joining voice can take a few seconds.
	discord.DeferReply(r, i)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch err := cc.ctrl.Join(ctx, channelID, userID); {
	case errors.Is(err, app.ErrSessionActive):
		st := cc.ctrl.Status(ctx)
		discord.FollowUp(r, i, fmt.Sprintf("Already captioning <#%s>. Use `/captions leave` first.", st.Voice.ChannelID))
	case err != nil:
		discord.FollowUp(r, i, fmt.Sprintf("Failed to join: %v", err))
	default:
		discord.FollowUp(r, i, fmt.Sprintf("Captioning <#%s>.", channelID))
	}
}

func (cc *CaptionCommands) handleLeave(r discord.Responder, i *discordgo.InteractionCreate) {
	if !cc.perms.CanControl(i) {
		discord.RespondEphemeral(r, i, "You need the caption control role to stop captions.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch err := cc.ctrl.Leave(ctx); {
	case errors.Is(err, app.ErrNoSession):
		discord.RespondEphemeral(r, i, "Not captioning any channel.")
	case err != nil:
		discord.RespondError(r, i, fmt.Errorf("leave: %w", err))
	default:
		discord.RespondEphemeral(r, i, "Stopped captioning.")
	}
}

func (cc *CaptionCommands) handleLang(r discord.Responder, i *discordgo.InteractionCreate) {
	var code string
	for _, opt := range discord.SubcommandOptions(i) {
		if opt.Name == "code" {
			code = opt.StringValue()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	lang, err := cc.ctrl.SwitchLanguage(ctx, discord.InteractionUserID(i), code)
	switch {
	case errors.Is(err, speech.ErrInvalidLanguage):
		discord.RespondEphemeral(r, i, fmt.Sprintf("`%s` is not a language code. Try `en`, `de`, `pt-BR` or `auto`.", code))
	case errors.Is(err, speech.ErrSwitchInProgress):
		discord.RespondEphemeral(r, i, "A language switch is already running for you. Try again in a moment.")
	case err != nil:
		discord.RespondError(r, i, err)
	case lang == stt.LanguageAuto:
		discord.RespondEphemeral(r, i, "Your language is now detected automatically.")
	default:
		discord.RespondEphemeral(r, i, fmt.Sprintf("Your captions are now recognised as `%s`.", lang))
	}
}

func (cc *CaptionCommands) handleStatus(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	discord.RespondEmbed(r, i, discord.StatusEmbed(statusView(cc.ctrl.Status(ctx)), cc.now()))
}

// autocompleteLang suggests languages whose code or name starts with what
// the user typed so far.
func (cc *CaptionCommands) autocompleteLang(r discord.Responder, i *discordgo.InteractionCreate) {
	var typed string
	for _, opt := range discord.SubcommandOptions(i) {
		if opt.Focused {
			typed = strings.ToLower(opt.StringValue())
		}
	}

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, maxChoices)
	for _, l := range commonLanguages {
		if len(choices) == maxChoices {
			break
		}
		if typed != "" && !strings.HasPrefix(strings.ToLower(l.Code), typed) && !strings.HasPrefix(strings.ToLower(l.Name), typed) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{
			Name:  fmt.Sprintf("%s (%s)", l.Name, l.Code),
			Value: l.Code,
		})
	}
	discord.RespondChoices(r, i, choices)
}

func statusView(st app.Status) discord.StatusView {
	v := discord.StatusView{
		Mode:         string(st.Mode),
		Active:       st.Active,
		ChannelID:    st.Voice.ChannelID,
		StartedAt:    st.Voice.StartedAt,
		Reconnects:   st.Voice.Reconnects,
		Speakers:     st.Speakers,
		Subscribers:  st.Subscribers,
		OpenSessions: st.OpenSessions,
		Latencies:    st.Latencies,
	}
	for _, e := range st.Recent {
		name := e.Username
		if name == "" {
			name = e.SpeakerID
		}
		v.Recent = append(v.Recent, fmt.Sprintf("**%s**: %s", name, e.Text))
	}
	return v
}
