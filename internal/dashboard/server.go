package dashboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"welcomer/internal/audit"
	"welcomer/internal/metrics"
	"welcomer/internal/storage"

	"github.com/bwmarrin/discordgo"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type Store interface {
	Ping(ctx context.Context) error
	GetWelcomeConfig(ctx context.Context, guildID string) (*storage.WelcomeConfig, error)
	UpsertWelcomeConfig(ctx context.Context, cfg storage.WelcomeConfig) error
	UpsertOAuthUser(ctx context.Context, user storage.OAuthUser) error
	GetOAuthUser(ctx context.Context, discordID string) (storage.OAuthUser, error)
	CreateSession(ctx context.Context, session storage.Session) error
	GetSession(ctx context.Context, id string) (storage.Session, error)
	DeleteSession(ctx context.Context, id string) error
	PurgeExpiredSessions(ctx context.Context) (int64, error)
	AddEmbedHistory(ctx context.Context, entry storage.EmbedHistoryEntry) error
	ListEmbedHistory(ctx context.Context, guildID string, limit int) ([]storage.EmbedHistoryEntry, error)
	ListAuditLogs(ctx context.Context, guildID string, limit int) ([]storage.AuditLog, error)
}

// Directory is the bot's view of a guild.
type Directory interface {
	InGuild(guildID string) bool
	TextChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error)
	Roles(ctx context.Context, guildID string) ([]*discordgo.Role, error)
	BotHighestRolePosition(ctx context.Context, guildID string) (int, error)
	Send(ctx context.Context, channelID string, msg *discordgo.MessageSend) (string, error)
}

type StatsSource interface {
	Current(ctx context.Context) (storage.Statistics, error)
	RefreshInBackground()
}

// UserAPI is Discord as seen with the logged-in user's token.
type UserAPI interface {
	CurrentUser(ctx context.Context, token *oauth2.Token) (DiscordUser, error)
	UserGuilds(ctx context.Context, token *oauth2.Token) ([]UserGuild, error)
}

type OAuthFlow interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

type Options struct {
	Addr          string
	SessionSecret string
	SessionTTL    time.Duration
	SecureCookies bool
	HistoryLimit  int
	MetricsPath   string
	LoginRedirect string
}

type Deps struct {
	Store     Store
	Directory Directory
	Stats     StatsSource
	API       UserAPI
	OAuth     OAuthFlow
	Audit     *audit.Logger
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Server struct {
	opts      Options
	store     Store
	directory Directory
	stats     StatsSource
	api       UserAPI
	oauth     OAuthFlow
	audit     *audit.Logger
	metrics   *metrics.Metrics
	logger    *zap.Logger
	sealer    *tokenSealer
	now       func() time.Time
	router    chi.Router
	http      *http.Server
}

func New(opts Options, deps Deps) (*Server, error) {
	sealer, err := newTokenSealer(opts.SessionSecret)
	if err != nil {
		return nil, err
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	if opts.LoginRedirect == "" {
		opts.LoginRedirect = "/"
	}

	s := &Server{
		opts:      opts,
		store:     deps.Store,
		directory: deps.Directory,
		stats:     deps.Stats,
		api:       deps.API,
		oauth:     deps.OAuth,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		sealer:    sealer,
		now:       time.Now,
	}
	if deps.Audit != nil && deps.Metrics != nil {
		deps.Audit.SetNotifier(func(_ context.Context, entry storage.AuditLog) {
			deps.Metrics.AuditRecorded(entry.Level, entry.Event)
		})
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle(s.opts.MetricsPath, s.metrics.Handler())
	}

	r.Get("/auth/discord", s.handleLogin)
	r.Get("/auth/discord/callback", s.handleCallback)
	r.Get("/logout", s.handleLogout)
	r.Post("/logout", s.handleLogout)

	r.Get("/api/stats", s.handleStats)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Get("/api/me", s.handleMe)
		r.Get("/api/guilds", s.handleGuilds)
		r.Route("/api/guilds/{guildID}", func(r chi.Router) {
			r.Use(s.requireGuildAccess)
			r.Get("/welcome", s.handleGetWelcome)
			r.Post("/welcome", s.handleSaveWelcome)
			r.Get("/embeds", s.handleEmbedHistory)
			r.Post("/embeds", s.handleSendEmbed)
			r.Get("/audit", s.handleAuditLogs)
		})
	})
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("dashboard listening", zap.String("addr", s.opts.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStats backs the public login page counters. It answers from the
// last known totals and only nudges a cooldown-bound refresh in the
// background, so an anonymous request never waits on Discord.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.stats.RefreshInBackground()
	stats, err := s.stats.Current(r.Context())
	if err != nil {
		s.logger.Warn("load statistics failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "statistics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
