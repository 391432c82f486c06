package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"welcomer/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GuildInfo carries the gateway cache's approximate counts, used when a
// live fetch for that guild fails.
type GuildInfo struct {
	ID             string
	ApproxMembers  int
	ApproxChannels int
}

type GuildSource interface {
	Guilds() []GuildInfo
	MemberCount(ctx context.Context, guildID string) (int, error)
	ChannelCount(ctx context.Context, guildID string) (int, error)
}

type Store interface {
	GetStatistics(ctx context.Context) (storage.Statistics, error)
	ReplaceStatistics(ctx context.Context, stats storage.Statistics) error
}

type Recorder interface {
	StatsRefreshed(outcome string)
}

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

type Options struct {
	Cooldown       time.Duration
	Concurrency    int
	RefreshTimeout time.Duration
}

type Aggregator struct {
	mu       sync.Mutex
	source   GuildSource
	store    Store
	logger   *zap.Logger
	clock    Clock
	recorder Recorder
	opts     Options

	lastSuccess time.Time
	last        storage.Statistics

	// snapshot mirrors last under its own lock so readers never wait on a
	// refresh in flight.
	snapMu      sync.RWMutex
	snapshot    storage.Statistics
	hasSnapshot bool

	background atomic.Bool

	timerMu sync.Mutex
	pending Timer
}

func NewAggregator(source GuildSource, store Store, logger *zap.Logger, opts Options) *Aggregator {
	if opts.Cooldown <= 0 {
		opts.Cooldown = time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.RefreshTimeout <= 0 {
		opts.RefreshTimeout = 2 * time.Minute
	}
	return &Aggregator{
		source: source,
		store:  store,
		logger: logger,
		clock:  realClock{},
		opts:   opts,
	}
}

func (a *Aggregator) WithClock(clock Clock) {
	a.clock = clock
}

func (a *Aggregator) SetRecorder(recorder Recorder) {
	a.recorder = recorder
}

// Refresh recomputes the totals and replaces the stored row. Unless force
// is set, a call within the cooldown of the last successful refresh
// returns the previous totals without touching Discord or the store.
// The lock is held for the whole run, so a caller that arrives mid-refresh
// waits and then sees the fresh timestamp.
func (a *Aggregator) Refresh(ctx context.Context, force bool) (storage.Statistics, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if !force && !a.lastSuccess.IsZero() && now.Sub(a.lastSuccess) < a.opts.Cooldown {
		a.record("cached")
		return a.last, nil
	}

	totals := a.collect(ctx)
	totals.UpdatedAt = now
	if err := a.store.ReplaceStatistics(ctx, totals); err != nil {
		a.record("store_error")
		return a.last, fmt.Errorf("refresh statistics: %w", err)
	}

	a.lastSuccess = now
	a.last = totals
	a.snapMu.Lock()
	a.snapshot, a.hasSnapshot = totals, true
	a.snapMu.Unlock()
	a.record("refreshed")
	a.logger.Info("statistics refreshed",
		zap.Int("guilds", totals.Guilds),
		zap.Int("users", totals.Users),
		zap.Int("channels", totals.Channels))
	return totals, nil
}

// Current returns the last computed totals, falling back to the stored row
// before the first refresh of this process. It does not wait for a refresh
// in flight.
func (a *Aggregator) Current(ctx context.Context) (storage.Statistics, error) {
	a.snapMu.RLock()
	last, ok := a.snapshot, a.hasSnapshot
	a.snapMu.RUnlock()
	if ok {
		return last, nil
	}
	return a.store.GetStatistics(ctx)
}

// RefreshInBackground starts a cooldown-respecting refresh and returns
// immediately. At most one such refresh runs at a time.
func (a *Aggregator) RefreshInBackground() {
	if !a.background.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer a.background.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.RefreshTimeout)
		defer cancel()
		if _, err := a.Refresh(ctx, false); err != nil {
			a.logger.Warn("background statistics refresh failed", zap.Error(err))
		}
	}()
}

type guildCounts struct {
	members  int
	channels int
}

func (a *Aggregator) collect(ctx context.Context) storage.Statistics {
	guilds := a.source.Guilds()
	results := make([]guildCounts, len(guilds))

	var group errgroup.Group
	group.SetLimit(a.opts.Concurrency)
	for i, guild := range guilds {
		i, guild := i, guild
		group.Go(func() error {
			results[i] = a.countGuild(ctx, guild)
			return nil
		})
	}
	_ = group.Wait()

	totals := storage.Statistics{Guilds: len(guilds)}
	for _, counts := range results {
		totals.Users += counts.members
		totals.Channels += counts.channels
	}
	return totals
}

func (a *Aggregator) countGuild(ctx context.Context, guild GuildInfo) guildCounts {
	counts := guildCounts{members: guild.ApproxMembers, channels: guild.ApproxChannels}

	if members, err := a.source.MemberCount(ctx, guild.ID); err != nil {
		a.logger.Warn("member count failed, using cached value",
			zap.String("guild_id", guild.ID), zap.Int("cached", guild.ApproxMembers), zap.Error(err))
	} else {
		counts.members = members
	}

	if channels, err := a.source.ChannelCount(ctx, guild.ID); err != nil {
		a.logger.Warn("channel count failed, using cached value",
			zap.String("guild_id", guild.ID), zap.Int("cached", guild.ApproxChannels), zap.Error(err))
	} else {
		counts.channels = channels
	}
	return counts
}

// RefreshAfter schedules a forced refresh once delay has elapsed. A trigger
// arriving while one is pending replaces it, so bursts of guild events
// collapse into one run.
func (a *Aggregator) RefreshAfter(delay time.Duration) {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()

	if a.pending != nil {
		a.pending.Stop()
	}
	var timer Timer
	timer = a.clock.AfterFunc(delay, func() {
		a.timerMu.Lock()
		if a.pending == timer {
			a.pending = nil
		}
		a.timerMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), a.opts.RefreshTimeout)
		defer cancel()
		if _, err := a.Refresh(ctx, true); err != nil {
			a.logger.Error("scheduled statistics refresh failed", zap.Error(err))
		}
	})
	a.pending = timer
}

// Stop cancels a pending scheduled refresh.
func (a *Aggregator) Stop() {
	a.timerMu.Lock()
	defer a.timerMu.Unlock()
	if a.pending != nil {
		a.pending.Stop()
		a.pending = nil
	}
}

func (a *Aggregator) record(outcome string) {
	if a.recorder != nil {
		a.recorder.StatsRefreshed(outcome)
	}
}
