package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"floorwatch/internal/alerting"
	"floorwatch/internal/config"
	"floorwatch/internal/dedup"
	"floorwatch/internal/detector"
	"floorwatch/internal/domain"
	"floorwatch/internal/fetcher"
	"floorwatch/internal/floor"
	"floorwatch/internal/observability"
	"floorwatch/internal/scheduler"
	"floorwatch/internal/service"
	"floorwatch/internal/storage"
	"floorwatch/internal/storage/file"
	"floorwatch/internal/storage/memory"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newListingFetcher() (*fetcher.Rarible, error) {
	coll, err := domain.ParseCollection(a.Config.Marketplace.Collection)
	if err != nil {
		return nil, err
	}
	m := a.Config.Marketplace
	return fetcher.NewRarible(fetcher.RaribleOptions{
		BaseURL:         m.BaseURL,
		Collection:      coll,
		PageSize:        m.PageSize,
		Timeout:         m.RequestTimeout,
		MetadataTimeout: m.MetadataTimeout,
		Origin:          m.Origin,
		ItemBaseURL:     m.RaribleItemBase,
		OpenSeaBaseURL:  m.OpenSeaBase,
		IPFSGateway:     m.IPFSGateway,
	}, a.Logger), nil
}

func (a *App) newRateFetcher() fetcher.RateFetcher {
	r := a.Config.Rate
	switch strings.ToLower(r.Source) {
	case "chainlink":
		return fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:     r.RPCURL,
			Aggregator: r.Aggregator,
			Timeout:    r.RequestTimeout,
			MaxAge:     r.MaxAge,
		}, a.Logger)
	case "binance":
		return fetcher.NewBinance(fetcher.BinanceOptions{
			BaseURL: r.BinanceBase,
			Symbol:  r.Symbol,
			Timeout: r.RequestTimeout,
		}, a.Logger)
	default:
		return nil
	}
}

func (a *App) newNotifier() alerting.Notifier {
	loc := a.Config.Location()
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		images := alerting.NewHTTPImageResolver(a.Config.Alerting.ImageTimeout, a.Config.Marketplace.IPFSGateway, a.Logger)
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.Config.Alerting.NotifyTimeout, images, loc, a.Logger)
	}
	return alerting.NewLogNotifier(loc, a.Logger)
}

func (a *App) newThresholds(repo storage.ThresholdRepository) *detector.Thresholds {
	return detector.NewThresholds(decimal.NewFromFloat(a.Config.Alerting.DiscountPct), repo)
}

// openStore connects to PostgreSQL and applies the schema. It returns a nil store when no DSN is configured.
func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database, a.Config.App.Name)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, err
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// requireStore is openStore for commands that are meaningless without a database.
func (a *App) requireStore(ctx context.Context, what string) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, fmt.Errorf("database not configured; cannot %s", what)
	}
	return store, closeStore, nil
}

// openRepository returns PostgreSQL when a DSN is configured, otherwise the state file.
// Only with neither is state kept in memory.
func (a *App) openRepository(ctx context.Context) (storage.Repository, storage.AdvisoryLocker, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if store != nil {
		return store, store, closeStore, nil
	}

	if path := a.Config.Database.StateFile; path != "" {
		fs, err := file.Open(path, a.Logger)
		if err != nil {
			return nil, nil, nil, err
		}
		a.Logger.Info().Str("state_file", path).Msg("database.dsn not configured; using state file")
		return fs, nil, func() {}, nil
	}

	a.Logger.Warn().Msg("neither database.dsn nor database.state_file configured; floors and alerted listings will not survive a restart")
	return memory.NewStore(), nil, func() {}, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	repo, locker, closeRepo, err := a.openRepository(ctx)
	if err != nil {
		return err
	}
	defer closeRepo()

	listings, err := a.newListingFetcher()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(a.Config.Metrics.Namespace)
	thresholds := a.newThresholds(repo)

	svc := service.New(a.Config, service.Dependencies{
		PollScheduler: scheduler.New(scheduler.Options{
			Name:         "poll",
			Interval:     a.Config.Scheduler.PollInterval,
			StartupDelay: a.Config.Scheduler.StartupDelay,
			Immediate:    true,
		}, a.Logger),
		RefreshScheduler: scheduler.New(scheduler.Options{
			Name:         "refresh",
			Interval:     a.Config.Scheduler.RefreshInterval,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger),
		Listings:   listings,
		Rates:      a.newRateFetcher(),
		Floors:     floor.NewStore(repo, a.Logger),
		Alerted:    dedup.NewSet(repo, a.Logger),
		Thresholds: thresholds,
		Notifier:   a.newNotifier(),
		Locker:     locker,
		Metrics:    metrics,
	}, a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Run(gctx) })

	if addr := a.Config.Metrics.Listen; addr != "" {
		g.Go(func() error { return metrics.Serve(gctx, addr, a.Logger) })
	}

	tg := a.Config.Alerting.Telegram
	if tg.Enabled && a.Config.Alerting.Commands {
		listener := alerting.NewCommandListener(tg.BotToken, tg.ChatID, tg.APIBase, thresholds, a.Logger)
		g.Go(func() error { return listener.Run(gctx) })
	}

	a.Logger.Info().
		Str("collection", a.Config.Marketplace.Collection).
		Dur("poll_interval", a.Config.Scheduler.PollInterval).
		Dur("refresh_interval", a.Config.Scheduler.RefreshInterval).
		Msg("starting floor watcher")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("floor watcher stopped")
	return nil
}

// ExportOptions hold parameters for exporting floor history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
	// Rarities restricts the export; empty means all.
	Rarities []domain.Rarity
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SeedOptions configure the seed command.
type SeedOptions struct {
	Force  bool
	DryRun bool
}

// PruneOptions configure the prune command.
type PruneOptions struct {
	OlderThan time.Duration
	DryRun    bool
}

// SimulateOptions describe a synthetic listing for simulate-alert.
type SimulateOptions struct {
	Rarity domain.Rarity
	Price  decimal.Decimal
	Floor  decimal.Decimal
}
