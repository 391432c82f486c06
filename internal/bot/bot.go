package bot

import (
	"context"
	"sync"
	"time"

	"welcomer/internal/config"
	"welcomer/internal/metrics"
	"welcomer/internal/stats"
	"welcomer/internal/storage"
	"welcomer/internal/welcome"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg          config.Config
	logger       *zap.Logger
	session      *discordgo.Session
	client       *Client
	orchestrator *welcome.Orchestrator
	stats        *stats.Aggregator
	metrics      *metrics.Metrics
	location     *time.Location

	readyMu     sync.Mutex
	readyGuilds map[string]struct{}
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, m *metrics.Metrics) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers

	client := NewClient(session, cfg.Stats.MemberPageSize)
	aggregator := stats.NewAggregator(client, store, logger.Named("stats"), stats.Options{
		Cooldown:       cfg.Stats.Cooldown(),
		Concurrency:    cfg.Stats.FetchConcurrency,
		RefreshTimeout: cfg.Stats.RefreshTimeout(),
	})
	if m != nil {
		aggregator.SetRecorder(m)
	}

	b := &Bot{
		cfg:          cfg,
		logger:       logger,
		session:      session,
		client:       client,
		orchestrator: welcome.NewOrchestrator(client, store, logger.Named("welcome"), cfg.Welcome.FallbackText),
		stats:        aggregator,
		metrics:      m,
		location:     cfg.Location(),
		readyGuilds:  make(map[string]struct{}),
	}
	return b, nil
}

func (b *Bot) Client() *Client {
	return b.client
}

func (b *Bot) Stats() *stats.Aggregator {
	return b.stats
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildDelete)
	b.session.AddHandler(b.onGuildMemberAdd)

	return b.session.Open()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	b.stats.Stop()
	if b.session != nil {
		_ = b.session.Close()
	}
}
