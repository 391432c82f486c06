package bot

import (
	"strings"
	"testing"
	"time"

	"welcomer/internal/config"
	"welcomer/internal/stats"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func TestJoinContext(t *testing.T) {
	guild := &discordgo.Guild{ID: "g1", Name: "Cafe", MemberCount: 12, OwnerID: "99"}
	member := &discordgo.Member{User: &discordgo.User{ID: "42", Username: "bob", Discriminator: "0", Avatar: "abc"}}
	now := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC)

	join := joinContext(guild, member, now, config.WelcomeConfig{AvatarSize: 256, DateLayout: "02/01/2006 15:04"})
	if join.Tag != "bob" || join.Mention != "<@42>" || join.OwnerMention != "<@99>" {
		t.Fatalf("unexpected context %+v", join)
	}
	if join.MemberCount != 12 || join.GuildName != "Cafe" {
		t.Fatalf("unexpected guild fields %+v", join)
	}
	if !strings.Contains(join.AvatarURL, "size=256") {
		t.Fatalf("expected sized avatar, got %q", join.AvatarURL)
	}
}

func TestJoinContextWithoutOwner(t *testing.T) {
	member := &discordgo.Member{User: &discordgo.User{ID: "42", Username: "bob", Discriminator: "1234"}}
	join := joinContext(&discordgo.Guild{ID: "g1"}, member, time.Now(), config.WelcomeConfig{})
	if join.OwnerMention != "" {
		t.Fatalf("expected empty owner mention, got %q", join.OwnerMention)
	}
	if join.Tag != "bob#1234" {
		t.Fatalf("unexpected tag %q", join.Tag)
	}
}

func TestClaimNewGuild(t *testing.T) {
	b := &Bot{readyGuilds: map[string]struct{}{"g1": {}}}
	if b.claimNewGuild("g1") {
		t.Fatalf("guild from ready must not count as new")
	}
	if !b.claimNewGuild("g2") {
		t.Fatalf("expected g2 to be new")
	}
	if b.claimNewGuild("g2") {
		t.Fatalf("expected g2 to be claimed once")
	}
}

type stubTimer struct{}

func (stubTimer) Stop() bool { return true }

// scheduleClock records refresh delays without ever firing them.
type scheduleClock struct {
	delays []time.Duration
}

func (c *scheduleClock) Now() time.Time { return time.Unix(0, 0) }

func (c *scheduleClock) AfterFunc(d time.Duration, _ func()) stats.Timer {
	c.delays = append(c.delays, d)
	return stubTimer{}
}

func newGuildBot(guildIDs ...string) (*Bot, *scheduleClock) {
	clock := &scheduleClock{}
	aggregator := stats.NewAggregator(nil, nil, zap.NewNop(), stats.Options{})
	aggregator.WithClock(clock)

	ready := make(map[string]struct{}, len(guildIDs))
	for _, id := range guildIDs {
		ready[id] = struct{}{}
	}
	b := &Bot{
		cfg:         config.Config{Stats: config.StatsConfig{EventDelaySeconds: 2}},
		logger:      zap.NewNop(),
		stats:       aggregator,
		readyGuilds: ready,
	}
	return b, clock
}

func TestGuildDeleteIgnoresOutage(t *testing.T) {
	b, clock := newGuildBot("g1")

	b.onGuildDelete(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1", Unavailable: true}})

	if len(clock.delays) != 0 {
		t.Fatalf("outage must not schedule a refresh, got %v", clock.delays)
	}
	if _, ok := b.readyGuilds["g1"]; !ok {
		t.Fatalf("outage must not forget the guild")
	}
}

func TestGuildDeleteSchedulesRefresh(t *testing.T) {
	b, clock := newGuildBot("g1")

	b.onGuildDelete(nil, &discordgo.GuildDelete{Guild: &discordgo.Guild{ID: "g1"}})

	if len(clock.delays) != 1 || clock.delays[0] != 2*time.Second {
		t.Fatalf("expected one refresh after 2s, got %v", clock.delays)
	}
	if _, ok := b.readyGuilds["g1"]; ok {
		t.Fatalf("expected g1 to be forgotten")
	}
}

func TestGuildCreateOnlyCountsNewGuilds(t *testing.T) {
	b, clock := newGuildBot("g1")

	b.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g1"}})
	if len(clock.delays) != 0 {
		t.Fatalf("guild from ready must not schedule a refresh")
	}
	b.onGuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g2", Name: "New"}})
	if len(clock.delays) != 1 {
		t.Fatalf("expected one refresh for the new guild, got %v", clock.delays)
	}
}
