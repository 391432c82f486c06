package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"welcomer/internal/audit"
	"welcomer/internal/storage"
	"welcomer/internal/utils"
	"welcomer/internal/welcome"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type embedRequest struct {
	ChannelID string          `json:"channel_id"`
	Embed     json.RawMessage `json:"embed"`
}

type embedSent struct {
	OK        bool   `json:"ok"`
	MessageID string `json:"message_id"`
}

// handleSendEmbed posts an embed to one of the guild's text channels exactly
// as written; placeholders are not resolved for broadcasts.
func (s *Server) handleSendEmbed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	guildID := chi.URLParam(r, "guildID")
	userID := sessionFrom(ctx).UserID

	req, err := decodeEmbedRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec := welcome.Normalize(req.Embed)
	if spec.Empty() {
		writeError(w, http.StatusBadRequest, errInvalidEmbed.Error())
		return
	}
	spec.ImageURL = utils.NormalizeURL(spec.ImageURL)
	spec.ThumbnailURL = utils.NormalizeURL(spec.ThumbnailURL)

	channels, err := s.directory.TextChannels(ctx, guildID)
	if err != nil {
		s.logger.Warn("list channels failed", zap.String("guild_id", guildID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "could not load guild channels")
		return
	}
	if !hasChannel(channels, req.ChannelID) {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}

	messageID, err := s.directory.Send(ctx, req.ChannelID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{spec.Plain()},
	})
	if err != nil {
		s.logger.Warn("embed send failed",
			zap.String("guild_id", guildID),
			zap.String("channel_id", req.ChannelID),
			zap.Error(err))
		s.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventEmbedFailed, err.Error())
		writeError(w, http.StatusBadGateway, "error sending embed")
		return
	}

	encoded, err := json.Marshal(spec)
	if err == nil {
		err = s.store.AddEmbedHistory(ctx, storage.EmbedHistoryEntry{
			GuildID:   guildID,
			ChannelID: req.ChannelID,
			Embed:     encoded,
			MessageID: messageID,
			SentBy:    userID,
		})
	}
	if err != nil {
		s.logger.Warn("record embed history failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	s.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventEmbedSent,
		fmt.Sprintf("channel=%s message=%s", req.ChannelID, messageID))

	writeJSON(w, http.StatusOK, embedSent{OK: true, MessageID: messageID})
}

func (s *Server) handleEmbedHistory(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	entries, err := s.store.ListEmbedHistory(r.Context(), guildID, s.opts.HistoryLimit)
	if err != nil {
		s.logger.Error("list embed history failed", zap.String("guild_id", guildID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	logs, err := s.store.ListAuditLogs(r.Context(), guildID, s.opts.HistoryLimit)
	if err != nil {
		s.logger.Error("list audit logs failed", zap.String("guild_id", guildID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load audit logs")
		return
	}
	if logs == nil {
		logs = []storage.AuditLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}

// decodeEmbedRequest accepts JSON or the form fields canal_id and datos_embed.
func decodeEmbedRequest(r *http.Request) (embedRequest, error) {
	var req embedRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			return embedRequest{}, fmt.Errorf("invalid json body: %w", err)
		}
	} else {
		r.Body = io.NopCloser(io.LimitReader(r.Body, maxBodyBytes))
		if err := r.ParseForm(); err != nil {
			return embedRequest{}, fmt.Errorf("invalid form body: %w", err)
		}
		req.ChannelID = formValue(r.PostForm, "channel_id", "canal_id")
		if raw := formValue(r.PostForm, "embed", "datos_embed"); raw != "" {
			req.Embed = json.RawMessage(raw)
		}
	}
	req.ChannelID = strings.TrimSpace(req.ChannelID)
	if req.ChannelID == "" {
		return embedRequest{}, fmt.Errorf("channel_id is required")
	}
	return req, nil
}
