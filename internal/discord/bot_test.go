package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/glyphcap/internal/discord/mock"
)

func TestPermissionChecker_CanControl(t *testing.T) {
	t.Parallel()

	member := func(roles ...string) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{
			Interaction: &discordgo.Interaction{Member: &discordgo.Member{Roles: roles}},
		}
	}

	tests := []struct {
		name   string
		roleID string
		inter  *discordgo.InteractionCreate
		want   bool
	}{
		{name: "has role", roleID: "role-123", inter: member("role-456", "role-123"), want: true},
		{name: "lacks role", roleID: "role-123", inter: member("role-456"), want: false},
		{name: "empty role allows all", roleID: "", inter: member(), want: true},
		{name: "no member", roleID: "role-123", inter: &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewPermissionChecker(tt.roleID).CanControl(tt.inter); got != tt.want {
				t.Errorf("CanControl() = %v, want %v", got, tt.want)
			}
		})
	}
}

func commandInteraction(name, sub string, typ discordgo.InteractionType) *discordgo.InteractionCreate {
	data := discordgo.ApplicationCommandInteractionData{Name: name}
	if sub != "" {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{{
			Name: sub,
			Type: discordgo.ApplicationCommandOptionSubCommand,
		}}
	}
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{Type: typ, Data: data}}
}

func TestCommandRouter_Handle(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	var called []string
	def := &discordgo.ApplicationCommand{Name: "captions"}
	r.RegisterCommand("captions", def, func(Responder, *discordgo.InteractionCreate) { called = append(called, "captions") })
	r.RegisterHandler("captions/join", func(Responder, *discordgo.InteractionCreate) { called = append(called, "join") })
	r.RegisterAutocomplete("captions/lang", func(Responder, *discordgo.InteractionCreate) { called = append(called, "lang-ac") })

	resp := &mock.InteractionResponder{}
	r.Handle(resp, commandInteraction("captions", "join", discordgo.InteractionApplicationCommand))
	r.Handle(resp, commandInteraction("captions", "", discordgo.InteractionApplicationCommand))
	r.Handle(resp, commandInteraction("captions", "lang", discordgo.InteractionApplicationCommandAutocomplete))

	want := []string{"join", "captions", "lang-ac"}
	if len(called) != len(want) {
		t.Fatalf("called = %v, want %v", called, want)
	}
	for i := range want {
		if called[i] != want[i] {
			t.Errorf("called[%d] = %q, want %q", i, called[i], want[i])
		}
	}
	if len(resp.Responses) != 0 {
		t.Errorf("router responded itself %d times", len(resp.Responses))
	}

	cmds := r.ApplicationCommands()
	if len(cmds) != 1 || cmds[0].Name != "captions" {
		t.Errorf("ApplicationCommands() = %v", cmds)
	}
}

func TestCommandRouter_Unknown(t *testing.T) {
	t.Parallel()

	r := NewCommandRouter()
	resp := &mock.InteractionResponder{}

	r.Handle(resp, commandInteraction("nope", "", discordgo.InteractionApplicationCommand))
	if got := resp.LastContent(); got != "Unknown command." {
		t.Errorf("unknown command reply = %q", got)
	}

	r.Handle(resp, commandInteraction("nope", "", discordgo.InteractionApplicationCommandAutocomplete))
	last := resp.LastResponse()
	if last.Type != discordgo.InteractionApplicationCommandAutocompleteResult || len(last.Data.Choices) != 0 {
		t.Errorf("unknown autocomplete reply = %+v", last)
	}
}

func TestInteractionUserID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		inter *discordgo.Interaction
		want  string
	}{
		{"guild member", &discordgo.Interaction{Member: &discordgo.Member{User: &discordgo.User{ID: "m-1"}}}, "m-1"},
		{"direct message", &discordgo.Interaction{User: &discordgo.User{ID: "u-2"}}, "u-2"},
		{"none", &discordgo.Interaction{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := InteractionUserID(&discordgo.InteractionCreate{Interaction: tt.inter}); got != tt.want {
				t.Errorf("InteractionUserID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSubcommandOptions(t *testing.T) {
	t.Parallel()

	i := commandInteraction("captions", "lang", discordgo.InteractionApplicationCommand)
	data := i.Data.(discordgo.ApplicationCommandInteractionData)
	data.Options[0].Options = []*discordgo.ApplicationCommandInteractionDataOption{{
		Name:  "code",
		Type:  discordgo.ApplicationCommandOptionString,
		Value: "de",
	}}
	i.Data = data

	opts := SubcommandOptions(i)
	if len(opts) != 1 || opts[0].StringValue() != "de" {
		t.Errorf("SubcommandOptions() = %+v", opts)
	}
}
