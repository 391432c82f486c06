package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"welcomer/internal/audit"
	"welcomer/internal/bot"
	"welcomer/internal/config"
	"welcomer/internal/dashboard"
	"welcomer/internal/metrics"
	"welcomer/internal/storage"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := storage.New(initCtx, cfg.DatabaseURL)
	initCancel()
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}
	auditLogger := audit.NewLogger(store, logger.Named("audit"))

	botSvc, err := bot.New(cfg, logger, store, m)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}
	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *dashboard.Server
	if cfg.Dashboard.Enabled {
		server, err = dashboard.New(dashboard.Options{
			Addr:          cfg.Dashboard.Addr,
			SessionSecret: cfg.Dashboard.SessionSecret,
			SessionTTL:    cfg.Dashboard.SessionTTL(),
			SecureCookies: cfg.Dashboard.SecureCookies,
			HistoryLimit:  cfg.Dashboard.HistoryLimit,
			MetricsPath:   cfg.Metrics.Path,
		}, dashboard.Deps{
			Store:     store,
			Directory: botSvc.Client(),
			Stats:     botSvc.Stats(),
			API:       dashboard.NewDiscordAPI(cfg.OAuth.APIBaseURL, cfg.Dashboard.GuildListRetries, logger.Named("discord_api"), m),
			OAuth:     dashboard.OAuthConfig(cfg.OAuth.ClientID, cfg.OAuth.ClientSecret, cfg.OAuth.RedirectURL, cfg.OAuth.Scopes),
			Audit:     auditLogger,
			Metrics:   m,
			Logger:    logger.Named("dashboard"),
		})
		if err != nil {
			logger.Fatal("dashboard init failed", zap.Error(err))
		}
		go func() {
			if err := server.Start(); err != nil {
				logger.Error("dashboard server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
}
