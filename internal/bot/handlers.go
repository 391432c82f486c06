package bot

import (
	"context"
	"strconv"
	"time"

	"welcomer/internal/config"
	"welcomer/internal/welcome"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.readyMu.Lock()
	b.readyGuilds = make(map[string]struct{}, len(event.Guilds))
	for _, guild := range event.Guilds {
		b.readyGuilds[guild.ID] = struct{}{}
	}
	b.readyMu.Unlock()

	b.logger.Info("discord ready",
		zap.String("user", event.User.Username),
		zap.Int("guilds", len(event.Guilds)))
	b.stats.RefreshAfter(b.cfg.Stats.Warmup())
}

// onGuildCreate also fires for every guild listed in Ready while the
// session streams them in; only genuinely new guilds trigger a refresh.
func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	if event.Guild == nil || event.Unavailable {
		return
	}
	if !b.claimNewGuild(event.ID) {
		return
	}
	b.logger.Info("joined guild", zap.String("guild_id", event.ID), zap.String("guild", event.Name))
	b.stats.RefreshAfter(b.cfg.Stats.EventDelay())
}

func (b *Bot) onGuildDelete(session *discordgo.Session, event *discordgo.GuildDelete) {
	if event.Guild == nil {
		return
	}
	// Unavailable means an outage, not a removal.
	if event.Unavailable {
		return
	}
	b.readyMu.Lock()
	delete(b.readyGuilds, event.ID)
	b.readyMu.Unlock()

	b.logger.Info("left guild", zap.String("guild_id", event.ID))
	b.stats.RefreshAfter(b.cfg.Stats.EventDelay())
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.User == nil || event.GuildID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Welcome.Timeout())
	defer cancel()

	guild, err := session.State.Guild(event.GuildID)
	if err != nil || guild == nil {
		guild, err = session.Guild(event.GuildID)
		if err != nil {
			b.logger.Warn("guild lookup failed", zap.String("guild_id", event.GuildID), zap.Error(err))
			guild = &discordgo.Guild{ID: event.GuildID}
		}
	}

	join := joinContext(guild, event.Member, time.Now().In(b.location), b.cfg.Welcome)
	report, err := b.orchestrator.HandleJoin(ctx, join)
	if err != nil {
		b.logger.Error("welcome failed",
			zap.String("guild_id", event.GuildID),
			zap.String("user_id", event.User.ID),
			zap.Error(err))
		return
	}
	if report.Configured {
		b.metrics.WelcomeHandled(report.Payload, report.Sent)
		b.metrics.RoleGrants(len(report.Granted), len(report.Skipped), len(report.FailedRoles))
	}
}

// claimNewGuild records guildID and reports whether it was unknown.
func (b *Bot) claimNewGuild(guildID string) bool {
	b.readyMu.Lock()
	defer b.readyMu.Unlock()
	if _, ok := b.readyGuilds[guildID]; ok {
		return false
	}
	b.readyGuilds[guildID] = struct{}{}
	return true
}

func joinContext(guild *discordgo.Guild, member *discordgo.Member, now time.Time, cfg config.WelcomeConfig) welcome.MemberJoinContext {
	user := member.User
	size := cfg.AvatarSize
	if size <= 0 {
		size = 256
	}
	join := welcome.MemberJoinContext{
		UserID:      user.ID,
		Username:    user.Username,
		Tag:         userTag(user),
		Mention:     user.Mention(),
		AvatarURL:   user.AvatarURL(strconv.Itoa(size)),
		GuildID:     guild.ID,
		GuildName:   guild.Name,
		MemberCount: guild.MemberCount,
		Now:         now,
		DateLayout:  cfg.DateLayout,
	}
	if guild.OwnerID != "" {
		join.OwnerMention = "<@" + guild.OwnerID + ">"
	}
	return join
}

// userTag drops the discriminator for accounts migrated to unique usernames.
func userTag(user *discordgo.User) string {
	if user.Discriminator == "" || user.Discriminator == "0" {
		return user.Username
	}
	if _, err := strconv.Atoi(user.Discriminator); err != nil {
		return user.Username
	}
	return user.Username + "#" + user.Discriminator
}
