package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphcap/internal/app"
	"github.com/MrWong99/glyphcap/internal/archive"
	"github.com/MrWong99/glyphcap/internal/config"
	"github.com/MrWong99/glyphcap/internal/discord"
	"github.com/MrWong99/glyphcap/internal/discord/mock"
	"github.com/MrWong99/glyphcap/internal/speech"
)

type fakeController struct {
	mu       sync.Mutex
	joinErr  error
	leaveErr error
	joined   []string
	switched []string
	status   app.Status
}

func (f *fakeController) Join(_ context.Context, channelID, startedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joined = append(f.joined, channelID+"/"+startedBy)
	return f.joinErr
}

func (f *fakeController) Leave(context.Context) error { return f.leaveErr }

func (f *fakeController) SwitchLanguage(_ context.Context, userID, lang string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch lang {
	case "busy":
		return "", speech.ErrSwitchInProgress
	case "??":
		return "", fmt.Errorf("%w: %q", speech.ErrInvalidLanguage, lang)
	}
	f.switched = append(f.switched, userID+"="+lang)
	return strings.ToLower(lang), nil
}

func (f *fakeController) Status(context.Context) app.Status { return f.status }

type fakeVoice map[string]string

func (v fakeVoice) VoiceChannelOf(userID string) (string, error) {
	if ch, ok := v[userID]; ok {
		return ch, nil
	}
	return "", discord.ErrNotInVoice
}

func newCommands(ctrl *fakeController, roleID string) *CaptionCommands {
	return &CaptionCommands{
		ctrl:  ctrl,
		voice: fakeVoice{"user-1": "voice-1"},
		perms: discord.NewPermissionChecker(roleID),
		now:   func() time.Time { return time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC) },
	}
}

func interaction(userID string, roles []string, sub string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:   discordgo.InteractionApplicationCommand,
		Member: &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles},
		Data: discordgo.ApplicationCommandInteractionData{
			Name: "captions",
			Options: []*discordgo.ApplicationCommandInteractionDataOption{{
				Name:    sub,
				Type:    discordgo.ApplicationCommandOptionSubCommand,
				Options: opts,
			}},
		},
	}}
}

func codeOption(value string, focused bool) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:    "code",
		Type:    discordgo.ApplicationCommandOptionString,
		Value:   value,
		Focused: focused,
	}
}

func TestHandleJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		userID     string
		roles      []string
		joinErr    error
		wantJoined bool
		wantText   string
	}{
		{name: "success", userID: "user-1", roles: []string{"ctl"}, wantJoined: true, wantText: "Captioning <#voice-1>."},
		{name: "missing role", userID: "user-1", wantText: "control role"},
		{name: "not in voice", userID: "user-2", roles: []string{"ctl"}, wantText: "must be in a voice channel"},
		{name: "already active", userID: "user-1", roles: []string{"ctl"}, joinErr: app.ErrSessionActive, wantJoined: true, wantText: "Already captioning <#voice-9>"},
		{name: "connect failure", userID: "user-1", roles: []string{"ctl"}, joinErr: errors.New("gateway timeout"), wantJoined: true, wantText: "gateway timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := &fakeController{
				joinErr: tt.joinErr,
				status:  app.Status{Voice: app.SessionInfo{ChannelID: "voice-9"}},
			}
			cc := newCommands(ctrl, "ctl")
			resp := &mock.InteractionResponder{}

			cc.handleJoin(resp, interaction(tt.userID, tt.roles, "join"))

			if got := len(ctrl.joined) > 0; got != tt.wantJoined {
				t.Fatalf("joined = %v, want %v", ctrl.joined, tt.wantJoined)
			}
			if tt.wantJoined && ctrl.joined[0] != "voice-1/user-1" {
				t.Errorf("Join args = %q", ctrl.joined[0])
			}
			if got := resp.LastContent(); !strings.Contains(got, tt.wantText) {
				t.Errorf("reply = %q, want it to contain %q", got, tt.wantText)
			}
		})
	}
}

func TestHandleJoin_DefersBeforeConnecting(t *testing.T) {
	t.Parallel()

	cc := newCommands(&fakeController{}, "")
	resp := &mock.InteractionResponder{}
	cc.handleJoin(resp, interaction("user-1", nil, "join"))

	if len(resp.Responses) != 1 || resp.Responses[0].Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Fatalf("responses = %+v, want one deferred reply", resp.Responses)
	}
	if len(resp.FollowUps) != 1 {
		t.Errorf("follow-ups = %d, want 1", len(resp.FollowUps))
	}
}

func TestHandleLeave(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		roles    []string
		err      error
		wantText string
	}{
		{name: "success", roles: []string{"ctl"}, wantText: "Stopped captioning."},
		{name: "nothing running", roles: []string{"ctl"}, err: app.ErrNoSession, wantText: "Not captioning any channel."},
		{name: "failure", roles: []string{"ctl"}, err: errors.New("boom"), wantText: "Error: leave: boom"},
		{name: "missing role", wantText: "control role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cc := newCommands(&fakeController{leaveErr: tt.err}, "ctl")
			resp := &mock.InteractionResponder{}
			cc.handleLeave(resp, interaction("user-1", tt.roles, "leave"))
			if got := resp.LastContent(); !strings.Contains(got, tt.wantText) {
				t.Errorf("reply = %q, want it to contain %q", got, tt.wantText)
			}
		})
	}
}

func TestHandleLang(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code     string
		wantText string
	}{
		{code: "DE", wantText: "recognised as `de`"},
		{code: "auto", wantText: "detected automatically"},
		{code: "??", wantText: "is not a language code"},
		{code: "busy", wantText: "already running"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			ctrl := &fakeController{}
			cc := newCommands(ctrl, "ctl")
			resp := &mock.InteractionResponder{}

			// Any participant may set their own language.
			cc.handleLang(resp, interaction("user-7", nil, "lang", codeOption(tt.code, false)))

			if got := resp.LastContent(); !strings.Contains(got, tt.wantText) {
				t.Errorf("reply = %q, want it to contain %q", got, tt.wantText)
			}
		})
	}
}

func TestHandleLang_SwitchesInvokingUser(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{}
	cc := newCommands(ctrl, "")
	cc.handleLang(&mock.InteractionResponder{}, interaction("user-7", nil, "lang", codeOption("fr", false)))

	if len(ctrl.switched) != 1 || ctrl.switched[0] != "user-7=fr" {
		t.Errorf("switched = %v, want [user-7=fr]", ctrl.switched)
	}
}

func TestAutocompleteLang(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typed     string
		wantCodes []string
	}{
		{typed: "pt", wantCodes: []string{"pt", "pt-BR"}},
		{typed: "Germ", wantCodes: []string{"de"}},
		{typed: "xx", wantCodes: nil},
	}

	for _, tt := range tests {
		t.Run(tt.typed, func(t *testing.T) {
			t.Parallel()
			cc := newCommands(&fakeController{}, "")
			resp := &mock.InteractionResponder{}
			cc.autocompleteLang(resp, interaction("user-1", nil, "lang", codeOption(tt.typed, true)))

			last := resp.LastResponse()
			if last == nil || last.Type != discordgo.InteractionApplicationCommandAutocompleteResult {
				t.Fatalf("response = %+v, want autocomplete result", last)
			}
			var got []string
			for _, c := range last.Data.Choices {
				got = append(got, c.Value.(string))
			}
			if strings.Join(got, ",") != strings.Join(tt.wantCodes, ",") {
				t.Errorf("choices = %v, want %v", got, tt.wantCodes)
			}
		})
	}

	t.Run("empty offers the first page", func(t *testing.T) {
		t.Parallel()
		cc := newCommands(&fakeController{}, "")
		resp := &mock.InteractionResponder{}
		cc.autocompleteLang(resp, interaction("user-1", nil, "lang", codeOption("", true)))
		if n := len(resp.LastResponse().Data.Choices); n != len(commonLanguages) {
			t.Errorf("choices = %d, want %d", n, len(commonLanguages))
		}
	})
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{status: app.Status{
		Mode:     config.STTModeStream,
		Active:   true,
		Voice:    app.SessionInfo{ChannelID: "voice-1", StartedAt: time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)},
		Speakers: 2,
		Recent: []archive.Entry{
			{SpeakerID: "u1", Username: "Ana", Text: "See you."},
			{SpeakerID: "u2", Text: "Bye."},
		},
	}}
	cc := newCommands(ctrl, "")
	resp := &mock.InteractionResponder{}
	cc.handleStatus(resp, interaction("user-1", nil, "status"))

	last := resp.LastResponse()
	if last == nil || last.Data == nil || len(last.Data.Embeds) != 1 {
		t.Fatalf("response = %+v, want one embed", last)
	}
	fields := map[string]string{}
	for _, f := range last.Data.Embeds[0].Fields {
		fields[f.Name] = f.Value
	}
	if fields["Uptime"] != "1h 0m 0s" {
		t.Errorf("Uptime = %q", fields["Uptime"])
	}
	if fields["Mode"] != "stream" {
		t.Errorf("Mode = %q", fields["Mode"])
	}
	if want := "**Ana**: See you.\n**u2**: Bye."; fields["Recent captions"] != want {
		t.Errorf("Recent = %q, want %q", fields["Recent captions"], want)
	}
}

func TestRegister(t *testing.T) {
	t.Parallel()

	router := discord.NewCommandRouter()
	newCommands(&fakeController{}, "").Register(router)

	cmds := router.ApplicationCommands()
	if len(cmds) != 1 || cmds[0].Name != "captions" {
		t.Fatalf("ApplicationCommands() = %v", cmds)
	}
	var subs []string
	for _, o := range cmds[0].Options {
		subs = append(subs, o.Name)
	}
	if got := strings.Join(subs, ","); got != "join,leave,lang,status" {
		t.Errorf("subcommands = %s", got)
	}
}
