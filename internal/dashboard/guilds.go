package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"welcomer/internal/audit"
	"welcomer/internal/storage"
	"welcomer/internal/utils"
	"welcomer/internal/welcome"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

var errInvalidEmbed = errors.New("embed could not be parsed")

type guildView struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Icon   string `json:"icon,omitempty"`
	Owner  bool   `json:"owner"`
	HasBot bool   `json:"has_bot"`
}

type channelView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type welcomeView struct {
	GuildID         string                   `json:"guild_id"`
	Enabled         bool                     `json:"enabled"`
	ChannelID       string                   `json:"channel_id,omitempty"`
	RawMessage      string                   `json:"raw_message,omitempty"`
	Embed           *welcome.EmbedSpec       `json:"embed"`
	AutoRoleEnabled bool                     `json:"auto_role_enabled"`
	AutoRoleIDs     []string                 `json:"auto_role_ids"`
	Channels        []channelView            `json:"channels"`
	Roles           []welcome.AssignableRole `json:"roles"`
	RejectedRoles   []string                 `json:"rejected_roles,omitempty"`
}

type welcomeRequest struct {
	Enabled         bool            `json:"enabled"`
	ChannelID       string          `json:"channel_id"`
	RawMessage      string          `json:"raw_message"`
	Embed           json.RawMessage `json:"embed"`
	AutoRoleEnabled bool            `json:"auto_role_enabled"`
	AutoRoleIDs     json.RawMessage `json:"auto_role_ids"`
}

// manageableGuilds fetches the user's guilds, keeping those the user can
// manage. A rejected token ends the session.
func (s *Server) manageableGuilds(w http.ResponseWriter, r *http.Request) ([]UserGuild, bool) {
	guilds, err := s.api.UserGuilds(r.Context(), sessionFrom(r.Context()).Token)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.endSession(w, r)
			return nil, false
		}
		s.logger.Warn("list user guilds failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load guilds from discord")
		return nil, false
	}

	manageable := guilds[:0]
	for _, guild := range guilds {
		if guild.CanManage() {
			manageable = append(manageable, guild)
		}
	}
	return manageable, true
}

func (s *Server) handleGuilds(w http.ResponseWriter, r *http.Request) {
	guilds, ok := s.manageableGuilds(w, r)
	if !ok {
		return
	}
	views := make([]guildView, 0, len(guilds))
	for _, guild := range guilds {
		views = append(views, guildView{
			ID:     guild.ID,
			Name:   guild.Name,
			Icon:   guild.Icon,
			Owner:  guild.Owner,
			HasBot: s.directory.InGuild(guild.ID),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) requireGuildAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		guildID := chi.URLParam(r, "guildID")
		guilds, ok := s.manageableGuilds(w, r)
		if !ok {
			return
		}
		found := false
		for _, guild := range guilds {
			if guild.ID == guildID {
				found = true
				break
			}
		}
		if !found {
			writeError(w, http.StatusForbidden, "you cannot manage this guild")
			return
		}
		if !s.directory.InGuild(guildID) {
			writeError(w, http.StatusNotFound, "bot is not in this guild")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetWelcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	guildID := chi.URLParam(r, "guildID")

	cfg, err := s.store.GetWelcomeConfig(ctx, guildID)
	if err != nil {
		s.logger.Error("load welcome config failed", zap.String("guild_id", guildID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load configuration")
		return
	}
	if cfg == nil {
		cfg = &storage.WelcomeConfig{GuildID: guildID}
	}

	view, err := s.welcomeView(ctx, *cfg)
	if err != nil {
		s.logger.Warn("load guild layout failed", zap.String("guild_id", guildID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load guild channels or roles")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSaveWelcome(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	guildID := chi.URLParam(r, "guildID")
	userID := sessionFrom(ctx).UserID

	req, err := decodeWelcomeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	embed, err := canonicalEmbed(req.Embed)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	channels, err := s.directory.TextChannels(ctx, guildID)
	if err != nil {
		s.logger.Warn("list channels failed", zap.String("guild_id", guildID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load guild channels")
		return
	}
	channelID := strings.TrimSpace(req.ChannelID)
	if channelID != "" && !hasChannel(channels, channelID) {
		writeError(w, http.StatusBadRequest, "channel is not a text channel of this guild")
		return
	}

	requested := storage.ParseRoleIDs(req.AutoRoleIDs)
	roles, botPosition, err := s.guildRoles(ctx, guildID)
	if err != nil {
		s.logger.Warn("load roles failed", zap.String("guild_id", guildID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load guild roles")
		return
	}
	granted := welcome.FilterGrantable(requested, botPosition, welcome.RolePositions(roles))
	rejected := rejectedRoles(requested, granted)

	cfg := storage.WelcomeConfig{
		GuildID:         guildID,
		Enabled:         req.Enabled,
		ChannelID:       channelID,
		RawMessage:      strings.TrimSpace(req.RawMessage),
		Embed:           embed,
		AutoRoleEnabled: req.AutoRoleEnabled,
		AutoRoleIDs:     granted,
	}
	if err := s.store.UpsertWelcomeConfig(ctx, cfg); err != nil {
		s.logger.Error("save welcome config failed", zap.String("guild_id", guildID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save configuration")
		return
	}

	s.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventWelcomeSaved,
		fmt.Sprintf("enabled=%t channel=%s roles=%d", cfg.Enabled, cfg.ChannelID, len(granted)))
	if len(rejected) > 0 {
		s.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventRolesRejected, strings.Join(rejected, ","))
	}

	view := welcomeView{
		GuildID:         guildID,
		Enabled:         cfg.Enabled,
		ChannelID:       cfg.ChannelID,
		RawMessage:      cfg.RawMessage,
		Embed:           welcome.Normalize(cfg.Embed),
		AutoRoleEnabled: cfg.AutoRoleEnabled,
		AutoRoleIDs:     granted,
		Channels:        channelViews(channels),
		Roles:           welcome.AssignableRoles(guildID, roles, botPosition),
		RejectedRoles:   rejected,
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) welcomeView(ctx context.Context, cfg storage.WelcomeConfig) (welcomeView, error) {
	channels, err := s.directory.TextChannels(ctx, cfg.GuildID)
	if err != nil {
		return welcomeView{}, err
	}
	roles, botPosition, err := s.guildRoles(ctx, cfg.GuildID)
	if err != nil {
		return welcomeView{}, err
	}
	roleIDs := cfg.AutoRoleIDs
	if roleIDs == nil {
		roleIDs = []string{}
	}
	return welcomeView{
		GuildID:         cfg.GuildID,
		Enabled:         cfg.Enabled,
		ChannelID:       cfg.ChannelID,
		RawMessage:      cfg.RawMessage,
		Embed:           welcome.Normalize(cfg.Embed),
		AutoRoleEnabled: cfg.AutoRoleEnabled,
		AutoRoleIDs:     roleIDs,
		Channels:        channelViews(channels),
		Roles:           welcome.AssignableRoles(cfg.GuildID, roles, botPosition),
	}, nil
}

func (s *Server) guildRoles(ctx context.Context, guildID string) ([]*discordgo.Role, int, error) {
	botPosition, err := s.directory.BotHighestRolePosition(ctx, guildID)
	if err != nil {
		return nil, 0, err
	}
	roles, err := s.directory.Roles(ctx, guildID)
	if err != nil {
		return nil, 0, err
	}
	return roles, botPosition, nil
}

// canonicalEmbed validates a submitted embed and returns its stored form.
// An absent or visually empty embed is stored as nothing.
func canonicalEmbed(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == `""` {
		return nil, nil
	}
	spec := welcome.Normalize(raw)
	if spec == nil {
		return nil, errInvalidEmbed
	}
	if spec.Empty() {
		return nil, nil
	}
	spec.ImageURL = utils.NormalizeURL(spec.ImageURL)
	spec.ThumbnailURL = utils.NormalizeURL(spec.ThumbnailURL)
	encoded, err := json.Marshal(spec)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

func decodeWelcomeRequest(r *http.Request) (welcomeRequest, error) {
	var req welcomeRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body := io.LimitReader(r.Body, maxBodyBytes)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			return welcomeRequest{}, fmt.Errorf("invalid json body: %w", err)
		}
		return req, nil
	}

	r.Body = io.NopCloser(io.LimitReader(r.Body, maxBodyBytes))
	if err := r.ParseForm(); err != nil {
		return welcomeRequest{}, fmt.Errorf("invalid form body: %w", err)
	}
	form := r.PostForm
	req.Enabled = checked(formValue(form, "enabled", "bienvenida_habilitada"))
	req.ChannelID = formValue(form, "channel_id", "canal_bienvenida_id")
	req.RawMessage = formValue(form, "raw_message", "mensaje_bienvenida")
	req.AutoRoleEnabled = checked(formValue(form, "auto_role_enabled", "autorol_habilitado"))

	embed := map[string]any{}
	for key, aliases := range map[string][]string{
		"title":       {"embed_title", "embed_titulo"},
		"description": {"embed_description", "embed_descripcion"},
		"color":       {"embed_color"},
		"image":       {"embed_image", "embed_imagen"},
		"thumbnail":   {"embed_thumbnail"},
		"footer":      {"embed_footer"},
	} {
		if value := formValue(form, aliases...); value != "" {
			embed[key] = value
		}
	}
	if len(embed) > 0 {
		encoded, err := json.Marshal(embed)
		if err != nil {
			return welcomeRequest{}, err
		}
		req.Embed = encoded
	}

	roles := form["auto_role_ids"]
	if len(roles) == 0 {
		roles = form["roles_auto"]
	}
	if len(roles) > 0 {
		encoded, err := json.Marshal(roles)
		if err != nil {
			return welcomeRequest{}, err
		}
		req.AutoRoleIDs = encoded
	}
	return req, nil
}

func formValue(form url.Values, keys ...string) string {
	for _, key := range keys {
		if value := strings.TrimSpace(form.Get(key)); value != "" {
			return value
		}
	}
	return ""
}

func checked(value string) bool {
	switch strings.ToLower(value) {
	case "on", "true", "1", "yes":
		return true
	}
	return false
}

func hasChannel(channels []*discordgo.Channel, channelID string) bool {
	for _, channel := range channels {
		if channel.ID == channelID {
			return true
		}
	}
	return false
}

func channelViews(channels []*discordgo.Channel) []channelView {
	views := make([]channelView, 0, len(channels))
	for _, channel := range channels {
		views = append(views, channelView{ID: channel.ID, Name: channel.Name})
	}
	return views
}

func rejectedRoles(requested, granted []string) []string {
	kept := make(map[string]struct{}, len(granted))
	for _, id := range granted {
		kept[id] = struct{}{}
	}
	var rejected []string
	for _, id := range requested {
		if _, ok := kept[id]; !ok {
			rejected = append(rejected, id)
		}
	}
	return rejected
}
