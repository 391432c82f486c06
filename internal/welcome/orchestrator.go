package welcome

import (
	"context"
	"fmt"

	"welcomer/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const DefaultFallbackText = "¡Bienvenido {nombre} al servidor!"

// Client is the slice of the Discord API a join needs.
type Client interface {
	Channel(ctx context.Context, guildID, channelID string) (*discordgo.Channel, error)
	SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) error
	Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	AddMemberRole(ctx context.Context, guildID, userID, roleID string) error
	BotHighestRolePosition(ctx context.Context, guildID string) (int, error)
}

// ConfigStore returns nil, nil for guilds without a welcome row.
type ConfigStore interface {
	GetWelcomeConfig(ctx context.Context, guildID string) (*storage.WelcomeConfig, error)
}

type state int

const (
	stateConfigLoad state = iota
	stateMessageBuild
	stateSend
	stateRoleGrant
	stateDone
)

func (s state) String() string {
	switch s {
	case stateConfigLoad:
		return "config_load"
	case stateMessageBuild:
		return "message_build"
	case stateSend:
		return "send"
	case stateRoleGrant:
		return "role_grant"
	default:
		return "done"
	}
}

// Payload kinds reported for a join.
const (
	PayloadNone     = ""
	PayloadEmbed    = "embed"
	PayloadText     = "text"
	PayloadFallback = "fallback"
)

// Report summarizes what one join did. It is filled step by step and
// returned even when HandleJoin fails.
type Report struct {
	GuildID     string
	UserID      string
	Configured  bool
	ChannelID   string
	Payload     string
	Sent        bool
	SendError   error
	Granted     []string
	Skipped     []string
	FailedRoles []string
}

type stepResult struct {
	next    state
	outcome string
	err     error
}

type joinRun struct {
	join    MemberJoinContext
	config  *storage.WelcomeConfig
	message *discordgo.MessageSend
	report  Report
}

type Orchestrator struct {
	client       Client
	store        ConfigStore
	logger       *zap.Logger
	fallbackText string
}

func NewOrchestrator(client Client, store ConfigStore, logger *zap.Logger, fallbackText string) *Orchestrator {
	if fallbackText == "" {
		fallbackText = DefaultFallbackText
	}
	return &Orchestrator{client: client, store: store, logger: logger, fallbackText: fallbackText}
}

// HandleJoin drives one member join through config load, message build,
// send and role grant. Only store failures are returned; every other
// problem ends or skips a step and is logged.
func (o *Orchestrator) HandleJoin(ctx context.Context, join MemberJoinContext) (Report, error) {
	run := &joinRun{
		join:   join,
		report: Report{GuildID: join.GuildID, UserID: join.UserID},
	}

	current := stateConfigLoad
	for current != stateDone {
		result := o.step(ctx, current, run)
		o.logStep(current, run, result)
		if current == stateConfigLoad && result.err != nil {
			return run.report, result.err
		}
		current = result.next
	}
	return run.report, nil
}

func (o *Orchestrator) step(ctx context.Context, current state, run *joinRun) stepResult {
	switch current {
	case stateConfigLoad:
		return o.loadConfig(ctx, run)
	case stateMessageBuild:
		return o.buildMessage(ctx, run)
	case stateSend:
		return o.send(ctx, run)
	case stateRoleGrant:
		return o.grantRoles(ctx, run)
	default:
		return stepResult{next: stateDone}
	}
}

func (o *Orchestrator) loadConfig(ctx context.Context, run *joinRun) stepResult {
	cfg, err := o.store.GetWelcomeConfig(ctx, run.join.GuildID)
	if err != nil {
		return stepResult{next: stateDone, outcome: "store_error", err: fmt.Errorf("welcome config: %w", err)}
	}
	switch {
	case cfg == nil:
		return stepResult{next: stateDone, outcome: "absent"}
	case !cfg.Enabled:
		return stepResult{next: stateDone, outcome: "disabled"}
	case cfg.ChannelID == "":
		return stepResult{next: stateDone, outcome: "no_channel"}
	}
	run.config = cfg
	run.report.Configured = true
	run.report.ChannelID = cfg.ChannelID
	return stepResult{next: stateMessageBuild, outcome: "loaded"}
}

func (o *Orchestrator) buildMessage(ctx context.Context, run *joinRun) stepResult {
	cfg := run.config
	channel, err := o.client.Channel(ctx, run.join.GuildID, cfg.ChannelID)
	if err != nil || channel == nil {
		return stepResult{next: stateDone, outcome: "channel_unavailable", err: err}
	}

	if len(cfg.Embed) > 0 {
		spec := Normalize(cfg.Embed)
		if !spec.Empty() {
			run.message = &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{spec.Render(run.join)}}
			run.report.Payload = PayloadEmbed
			return stepResult{next: stateSend, outcome: PayloadEmbed}
		}
		o.logger.Warn("stored welcome embed unusable, falling back to text",
			zap.String("guild_id", run.join.GuildID))
	}

	if cfg.RawMessage != "" {
		run.message = &discordgo.MessageSend{Content: Resolve(cfg.RawMessage, run.join)}
		run.report.Payload = PayloadText
		return stepResult{next: stateSend, outcome: PayloadText}
	}
	run.message = &discordgo.MessageSend{Content: Resolve(o.fallbackText, run.join)}
	run.report.Payload = PayloadFallback
	return stepResult{next: stateSend, outcome: PayloadFallback}
}

func (o *Orchestrator) send(ctx context.Context, run *joinRun) stepResult {
	if err := o.client.SendMessage(ctx, run.config.ChannelID, run.message); err != nil {
		run.report.SendError = err
		return stepResult{next: stateRoleGrant, outcome: "send_failed", err: err}
	}
	run.report.Sent = true
	return stepResult{next: stateRoleGrant, outcome: "sent"}
}

func (o *Orchestrator) grantRoles(ctx context.Context, run *joinRun) stepResult {
	cfg := run.config
	if !cfg.AutoRoleEnabled || len(cfg.AutoRoleIDs) == 0 {
		return stepResult{next: stateDone, outcome: "no_auto_roles"}
	}

	botPosition, err := o.client.BotHighestRolePosition(ctx, run.join.GuildID)
	if err != nil {
		return stepResult{next: stateDone, outcome: "bot_position_unavailable", err: err}
	}
	roles, err := o.client.Roles(ctx, run.join.GuildID)
	if err != nil {
		return stepResult{next: stateDone, outcome: "roles_unavailable", err: err}
	}

	grantable := FilterGrantable(cfg.AutoRoleIDs, botPosition, RolePositions(roles))
	run.report.Skipped = difference(cfg.AutoRoleIDs, grantable)
	for _, roleID := range grantable {
		if err := o.client.AddMemberRole(ctx, run.join.GuildID, run.join.UserID, roleID); err != nil {
			o.logger.Warn("auto role grant failed",
				zap.String("guild_id", run.join.GuildID),
				zap.String("user_id", run.join.UserID),
				zap.String("role_id", roleID),
				zap.Error(err))
			run.report.FailedRoles = append(run.report.FailedRoles, roleID)
			continue
		}
		run.report.Granted = append(run.report.Granted, roleID)
	}

	outcome := "granted"
	if len(run.report.FailedRoles) > 0 {
		outcome = "partially_granted"
	}
	return stepResult{next: stateDone, outcome: outcome}
}

func (o *Orchestrator) logStep(current state, run *joinRun, result stepResult) {
	fields := []zap.Field{
		zap.String("step", current.String()),
		zap.String("outcome", result.outcome),
		zap.String("guild_id", run.join.GuildID),
		zap.String("user_id", run.join.UserID),
	}
	if run.report.ChannelID != "" {
		fields = append(fields, zap.String("channel_id", run.report.ChannelID))
	}
	if result.err != nil {
		o.logger.Warn("welcome step failed", append(fields, zap.Error(result.err))...)
		return
	}
	o.logger.Debug("welcome step", fields...)
}

func difference(all, kept []string) []string {
	keep := make(map[string]struct{}, len(kept))
	for _, id := range kept {
		keep[id] = struct{}{}
	}
	var out []string
	for _, id := range all {
		if _, ok := keep[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
