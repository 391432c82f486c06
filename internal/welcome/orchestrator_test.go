package welcome

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"welcomer/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type sentMessage struct {
	channelID string
	msg       *discordgo.MessageSend
}

type fakeClient struct {
	channels    map[string]*discordgo.Channel
	roles       []*discordgo.Role
	botPosition int
	sendErr     error
	roleErrs    map[string]error

	sent       []sentMessage
	roleCalls  []string
	roleLookup int
}

func (f *fakeClient) Channel(_ context.Context, _, channelID string) (*discordgo.Channel, error) {
	channel, ok := f.channels[channelID]
	if !ok {
		return nil, errors.New("unknown channel")
	}
	return channel, nil
}

func (f *fakeClient) SendMessage(_ context.Context, channelID string, msg *discordgo.MessageSend) error {
	f.sent = append(f.sent, sentMessage{channelID: channelID, msg: msg})
	return f.sendErr
}

func (f *fakeClient) Roles(context.Context, string) ([]*discordgo.Role, error) {
	f.roleLookup++
	return f.roles, nil
}

func (f *fakeClient) AddMemberRole(_ context.Context, _, _, roleID string) error {
	f.roleCalls = append(f.roleCalls, roleID)
	return f.roleErrs[roleID]
}

func (f *fakeClient) BotHighestRolePosition(context.Context, string) (int, error) {
	f.roleLookup++
	return f.botPosition, nil
}

type fakeStore struct {
	cfg *storage.WelcomeConfig
	err error
}

func (f fakeStore) GetWelcomeConfig(context.Context, string) (*storage.WelcomeConfig, error) {
	return f.cfg, f.err
}

func newClient() *fakeClient {
	return &fakeClient{
		channels: map[string]*discordgo.Channel{"C1": {ID: "C1", Type: discordgo.ChannelTypeGuildText}},
		roles: []*discordgo.Role{
			{ID: "A", Position: 1},
			{ID: "B", Position: 7},
			{ID: "C", Position: 3},
		},
		botPosition: 5,
	}
}

func runJoin(t *testing.T, client *fakeClient, cfg *storage.WelcomeConfig) Report {
	t.Helper()
	orch := NewOrchestrator(client, fakeStore{cfg: cfg}, zap.NewNop(), "")
	report, err := orch.HandleJoin(context.Background(), sampleJoin())
	if err != nil {
		t.Fatalf("handle join: %v", err)
	}
	return report
}

func TestHandleJoinPlainText(t *testing.T) {
	client := newClient()
	report := runJoin(t, client, &storage.WelcomeConfig{GuildID: "g1", Enabled: true, ChannelID: "C1", RawMessage: "Hi {nombre}"})

	if len(client.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(client.sent))
	}
	if client.sent[0].channelID != "C1" || client.sent[0].msg.Content != "Hi Bob" {
		t.Fatalf("unexpected send %+v", client.sent[0])
	}
	if len(client.roleCalls) != 0 || client.roleLookup != 0 {
		t.Fatalf("expected no role calls, got %v", client.roleCalls)
	}
	if report.Payload != PayloadText || !report.Sent {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestHandleJoinNoOps(t *testing.T) {
	cases := map[string]*storage.WelcomeConfig{
		"absent":     nil,
		"disabled":   {GuildID: "g1", Enabled: false, ChannelID: "C1", RawMessage: "x", AutoRoleEnabled: true, AutoRoleIDs: []string{"A"}},
		"no channel": {GuildID: "g1", Enabled: true, RawMessage: "x", AutoRoleEnabled: true, AutoRoleIDs: []string{"A"}},
		"gone":       {GuildID: "g1", Enabled: true, ChannelID: "deleted", RawMessage: "x", AutoRoleEnabled: true, AutoRoleIDs: []string{"A"}},
	}
	for name, cfg := range cases {
		client := newClient()
		runJoin(t, client, cfg)
		if len(client.sent) != 0 || len(client.roleCalls) != 0 {
			t.Fatalf("%s: expected no side effects, got sends=%d roles=%v", name, len(client.sent), client.roleCalls)
		}
	}
}

func TestHandleJoinEmbed(t *testing.T) {
	client := newClient()
	cfg := &storage.WelcomeConfig{
		GuildID:    "g1",
		Enabled:    true,
		ChannelID:  "C1",
		RawMessage: "ignored",
		Embed:      json.RawMessage(`{"titulo":"Hola {nombre}","thumbnail":"{user_avatar}"}`),
	}
	report := runJoin(t, client, cfg)

	if report.Payload != PayloadEmbed || len(client.sent) != 1 {
		t.Fatalf("expected embed send, got %+v", report)
	}
	msg := client.sent[0].msg
	if msg.Content != "" || len(msg.Embeds) != 1 {
		t.Fatalf("unexpected payload %+v", msg)
	}
	if msg.Embeds[0].Title != "Hola Bob" || msg.Embeds[0].Color != BrandColor {
		t.Fatalf("unexpected embed %+v", msg.Embeds[0])
	}
	if msg.Embeds[0].Thumbnail == nil || msg.Embeds[0].Thumbnail.URL != sampleJoin().AvatarURL {
		t.Fatalf("expected avatar thumbnail, got %+v", msg.Embeds[0].Thumbnail)
	}
}

func TestHandleJoinMalformedEmbedFallsBack(t *testing.T) {
	client := newClient()
	cfg := &storage.WelcomeConfig{GuildID: "g1", Enabled: true, ChannelID: "C1", Embed: json.RawMessage(`{"title":"x","color":"nope"}`)}
	report := runJoin(t, client, cfg)

	if report.Payload != PayloadFallback {
		t.Fatalf("expected fallback, got %q", report.Payload)
	}
	if got := client.sent[0].msg.Content; got != "¡Bienvenido Bob al servidor!" {
		t.Fatalf("unexpected fallback text %q", got)
	}

	client = newClient()
	cfg.RawMessage = "Hola {mention}"
	runJoin(t, client, cfg)
	if got := client.sent[0].msg.Content; got != "Hola <@42>" {
		t.Fatalf("expected raw message, got %q", got)
	}
}

func TestHandleJoinSendFailureStillGrantsRoles(t *testing.T) {
	client := newClient()
	client.sendErr = errors.New("missing access")
	cfg := &storage.WelcomeConfig{GuildID: "g1", Enabled: true, ChannelID: "C1", RawMessage: "hi", AutoRoleEnabled: true, AutoRoleIDs: []string{"A", "B", "C", "X"}}
	report := runJoin(t, client, cfg)

	if report.Sent || report.SendError == nil {
		t.Fatalf("expected send failure in report, got %+v", report)
	}
	if !reflect.DeepEqual(client.roleCalls, []string{"A", "C"}) {
		t.Fatalf("expected grants [A C], got %v", client.roleCalls)
	}
	if !reflect.DeepEqual(report.Skipped, []string{"B", "X"}) {
		t.Fatalf("expected skipped [B X], got %v", report.Skipped)
	}
}

func TestHandleJoinRoleFailureContinues(t *testing.T) {
	client := newClient()
	client.roleErrs = map[string]error{"A": errors.New("forbidden")}
	cfg := &storage.WelcomeConfig{GuildID: "g1", Enabled: true, ChannelID: "C1", RawMessage: "hi", AutoRoleEnabled: true, AutoRoleIDs: []string{"A", "C"}}
	report := runJoin(t, client, cfg)

	if !reflect.DeepEqual(client.roleCalls, []string{"A", "C"}) {
		t.Fatalf("expected both attempts, got %v", client.roleCalls)
	}
	if !reflect.DeepEqual(report.Granted, []string{"C"}) || !reflect.DeepEqual(report.FailedRoles, []string{"A"}) {
		t.Fatalf("unexpected grant report %+v", report)
	}
}

func TestHandleJoinAutoRoleDisabled(t *testing.T) {
	client := newClient()
	runJoin(t, client, &storage.WelcomeConfig{GuildID: "g1", Enabled: true, ChannelID: "C1", RawMessage: "hi", AutoRoleIDs: []string{"A"}})
	if len(client.roleCalls) != 0 {
		t.Fatalf("expected no grants, got %v", client.roleCalls)
	}
}

func TestHandleJoinStoreError(t *testing.T) {
	client := newClient()
	orch := NewOrchestrator(client, fakeStore{err: errors.New("connection refused")}, zap.NewNop(), "")
	if _, err := orch.HandleJoin(context.Background(), sampleJoin()); err == nil {
		t.Fatalf("expected store error")
	}
	if len(client.sent) != 0 {
		t.Fatalf("expected no sends")
	}
}
