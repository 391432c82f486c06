package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"welcomer/internal/stats"
	"welcomer/internal/welcome"

	"github.com/bwmarrin/discordgo"
)

const memberPageLimit = 1000

var errChannelOutsideGuild = errors.New("channel does not belong to guild")

// Client adapts a discordgo session to the narrow interfaces the welcome,
// stats and dashboard packages depend on. State lookups are tried before
// REST calls.
type Client struct {
	session  *discordgo.Session
	pageSize int
}

func NewClient(session *discordgo.Session, pageSize int) *Client {
	if pageSize <= 0 || pageSize > memberPageLimit {
		pageSize = memberPageLimit
	}
	return &Client{session: session, pageSize: pageSize}
}

func (c *Client) Channel(ctx context.Context, guildID, channelID string) (*discordgo.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channel, err := c.session.State.Channel(channelID)
	if err != nil || channel == nil {
		channel, err = c.session.Channel(channelID)
		if err != nil {
			return nil, fmt.Errorf("fetch channel %s: %w", channelID, err)
		}
	}
	if channel.GuildID != "" && channel.GuildID != guildID {
		return nil, errChannelOutsideGuild
	}
	return channel, nil
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	_, err := c.Send(ctx, channelID, msg)
	return err
}

// Send posts msg and returns the created message id.
func (c *Client) Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sent, err := c.session.ChannelMessageSendComplex(channelID, msg)
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", channelID, err)
	}
	return sent.ID, nil
}

func (c *Client) Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if guild, err := c.session.State.Guild(guildID); err == nil && guild != nil && len(guild.Roles) > 0 {
		return guild.Roles, nil
	}
	roles, err := c.session.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("fetch roles %s: %w", guildID, err)
	}
	return roles, nil
}

func (c *Client) AddMemberRole(ctx context.Context, guildID, userID, roleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.session.GuildMemberRoleAdd(guildID, userID, roleID)
}

func (c *Client) BotHighestRolePosition(ctx context.Context, guildID string) (int, error) {
	if c.session.State == nil || c.session.State.User == nil {
		return 0, errors.New("session not ready")
	}
	botID := c.session.State.User.ID
	member, err := c.session.State.Member(guildID, botID)
	if err != nil || member == nil {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		member, err = c.session.GuildMember(guildID, botID)
		if err != nil {
			return 0, fmt.Errorf("fetch bot member %s: %w", guildID, err)
		}
	}
	roles, err := c.Roles(ctx, guildID)
	if err != nil {
		return 0, err
	}
	return welcome.HighestPosition(member.Roles, roles), nil
}

// InGuild reports whether the bot's gateway cache knows the guild.
func (c *Client) InGuild(guildID string) bool {
	guild, err := c.session.State.Guild(guildID)
	return err == nil && guild != nil
}

// TextChannels lists the guild's text channels ordered by position.
func (c *Client) TextChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	channels, err := c.session.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("fetch channels %s: %w", guildID, err)
	}
	text := make([]*discordgo.Channel, 0, len(channels))
	for _, channel := range channels {
		if channel.Type == discordgo.ChannelTypeGuildText {
			text = append(text, channel)
		}
	}
	sort.SliceStable(text, func(i, j int) bool {
		return text[i].Position < text[j].Position
	})
	return text, nil
}

// Guilds snapshots the gateway cache for the statistics aggregator.
func (c *Client) Guilds() []stats.GuildInfo {
	state := c.session.State
	state.RLock()
	defer state.RUnlock()

	guilds := make([]stats.GuildInfo, 0, len(state.Guilds))
	for _, guild := range state.Guilds {
		if guild == nil || guild.Unavailable {
			continue
		}
		guilds = append(guilds, stats.GuildInfo{
			ID:             guild.ID,
			ApproxMembers:  guild.MemberCount,
			ApproxChannels: len(guild.Channels),
		})
	}
	return guilds
}

// MemberCount pages through the full member list.
func (c *Client) MemberCount(ctx context.Context, guildID string) (int, error) {
	total := 0
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		page, err := c.session.GuildMembers(guildID, after, c.pageSize)
		if err != nil {
			return 0, fmt.Errorf("list members %s: %w", guildID, err)
		}
		total += len(page)
		if len(page) < c.pageSize {
			return total, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (c *Client) ChannelCount(ctx context.Context, guildID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	channels, err := c.session.GuildChannels(guildID)
	if err != nil {
		return 0, fmt.Errorf("fetch channels %s: %w", guildID, err)
	}
	return len(channels), nil
}
