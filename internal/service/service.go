package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
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
	"floorwatch/internal/storage"
)

const (
	loadBackoff    = 2 * time.Second
	maxLoadBackoff = time.Minute
	rateMaxAge     = 5 * time.Minute
)

// Dependencies are the collaborators of the service. Rates, Notifier, Locker and Metrics may be nil.
type Dependencies struct {
	PollScheduler    *scheduler.Scheduler
	RefreshScheduler *scheduler.Scheduler
	Listings         fetcher.ListingFetcher
	Rates            fetcher.RateFetcher
	Floors           *floor.Store
	Alerted          *dedup.Set
	Thresholds       *detector.Thresholds
	Notifier         alerting.Notifier
	Locker           storage.AdvisoryLocker
	Metrics          *observability.Metrics
}

// Service orchestrates fetching, floor maintenance, classification and alerting.
type Service struct {
	deps   Dependencies
	logger zerolog.Logger
	now    func() time.Time

	searchPages    int
	sampleSize     int
	pollSampleSize int
	loadBackoff    time.Duration
	maxLoadBackoff time.Duration
	fetchTimeout   time.Duration
	notifyTimeout  time.Duration
	alertsOn       bool
	lowerOnAlert   bool
	retention      time.Duration
	lockKey        int64

	rateMu   sync.Mutex
	lastRate decimal.Decimal
	rateAt   time.Time
}

// New constructs the monitoring service.
func New(cfg *config.Config, deps Dependencies, logger zerolog.Logger) *Service {
	return &Service{
		deps:           deps,
		logger:         logger.With().Str("component", "service").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
		searchPages:    cfg.Marketplace.SearchPages,
		sampleSize:     cfg.Marketplace.RefreshSampleSize,
		pollSampleSize: max(cfg.Marketplace.PollSampleSize, 1),
		loadBackoff:    loadBackoff,
		maxLoadBackoff: maxLoadBackoff,
		fetchTimeout:   cfg.Marketplace.RequestTimeout,
		notifyTimeout:  cfg.Alerting.NotifyTimeout,
		alertsOn:       cfg.Alerting.Enabled,
		lowerOnAlert:   cfg.Alerting.LowerFloorOnAlert,
		retention:      cfg.Alerting.Retention,
		lockKey:        cfg.Scheduler.AdvisoryLockKey,
	}
}

// Run restores state and drives the poll and refresh loops until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.PollScheduler == nil || s.deps.RefreshScheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	if err := s.Bootstrap(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.deps.PollScheduler.Run(gctx, s.Poll) })
	g.Go(func() error { return s.deps.RefreshScheduler.Run(gctx, s.Refresh) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Bootstrap loads persisted state and seeds the floors from a full fetch when none exist.
// A failed seeding fetch is not an error: the refresh loop fills the floors later.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.loadState(ctx); err != nil {
		return err
	}

	s.deps.Metrics.SetAlertedSetSize(s.deps.Alerted.Len())
	for _, rec := range s.deps.Floors.Records() {
		s.deps.Metrics.SetFloor(rec.Rarity.String(), rec.Price)
	}

	if s.deps.Floors.Len() > 0 {
		s.logger.Info().Int("floors", s.deps.Floors.Len()).Int("alerted", s.deps.Alerted.Len()).Msg("state restored")
		return nil
	}

	fetchCtx, cancel := s.withTimeout(ctx, s.fetchTimeout)
	listings, fetched := s.fetchBatch(fetchCtx, s.logger)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !fetched || len(listings) == 0 {
		s.logger.Warn().Bool("fetched", fetched).Msg("initial fetch returned nothing, floors will be seeded by refresh")
		return nil
	}

	_, changes, err := s.deps.Floors.Initialize(ctx, listings)
	if err != nil {
		s.deps.Metrics.RecordStoreFailure("floors")
		s.logger.Error().Err(err).Msg("seeded floors not persisted yet")
	}
	s.recordFloorChanges(s.logger, changes, "seed")
	s.logger.Info().Int("listings", len(listings)).Int("floors", s.deps.Floors.Len()).Msg("floors initialized")
	return nil
}

// loadState retries with capped backoff until the state loads or ctx is cancelled.
func (s *Service) loadState(ctx context.Context) error {
	delay := s.loadBackoff
	for attempt := 1; ; attempt++ {
		err := s.loadOnce(ctx)
		if err == nil {
			return nil
		}
		s.deps.Metrics.RecordStoreFailure("load")
		s.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("state load failed")
		select {
		case <-ctx.Done():
			return fmt.Errorf("load persisted state: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay = min(delay*2, s.maxLoadBackoff)
	}
}

func (s *Service) loadOnce(ctx context.Context) error {
	if err := s.deps.Thresholds.Load(ctx); err != nil {
		return err
	}
	if err := s.deps.Alerted.Load(ctx); err != nil {
		return err
	}
	return s.deps.Floors.Load(ctx)
}

// Poll runs one FETCHING → CLASSIFYING → NOTIFYING cycle.
func (s *Service) Poll(ctx context.Context, tick time.Time) error {
	log := s.cycleLogger("poll", tick)

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		log.Debug().Msg("skip poll because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	start := time.Now()
	status := "ok"

	fetchCtx, cancel := s.withTimeout(ctx, s.fetchTimeout)
	listings, fetched := s.fetchBatch(fetchCtx, log)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !fetched {
		// a failed fetch is an empty batch
		status = "fetch_failed"
		listings = nil
	}

	if s.deps.Alerted.Pending() > 0 {
		if err := s.deps.Alerted.Flush(ctx); err != nil {
			s.deps.Metrics.RecordStoreFailure("alerted_listings")
		}
	}

	alerts := s.classify(log, listings)
	for _, a := range alerts {
		s.dispatch(ctx, log, a)
	}

	s.deps.Metrics.RecordPoll(status, len(listings), time.Since(start))
	log.Debug().Int("listings", len(listings)).Int("alerts", len(alerts)).Dur("took", time.Since(start)).Msg("poll finished")
	return nil
}

// classify evaluates a batch against one floor snapshot.
func (s *Service) classify(log zerolog.Logger, listings []domain.Listing) []alerting.Alert {
	snapshot := s.deps.Floors.Snapshot()
	seen := make(map[string]struct{}, len(listings))

	var alerts []alerting.Alert
	for _, l := range listings {
		if _, dup := seen[l.ID]; dup {
			continue
		}
		seen[l.ID] = struct{}{}

		res := detector.Classify(l, snapshot, s.deps.Alerted, s.deps.Thresholds)
		s.deps.Metrics.RecordDecision(res.Decision.String())
		if res.Decision != detector.Alert {
			continue
		}

		log.Info().
			Str("listing_id", l.ID).
			Str("rarity", l.Rarity.String()).
			Str("price", l.Price.String()).
			Str("floor", res.Floor.String()).
			Str("limit", res.Limit.String()).
			Msg("bargain detected")
		alerts = append(alerts, alerting.Alert{
			Listing:     l,
			Floor:       res.Floor,
			Limit:       res.Limit,
			DiscountPct: res.DiscountPct,
			DetectedAt:  s.now(),
		})
	}
	return alerts
}

// dispatch notifies and, only on success, marks the listing as alerted.
func (s *Service) dispatch(ctx context.Context, log zerolog.Logger, alert alerting.Alert) {
	if !s.alertsOn || s.deps.Notifier == nil {
		log.Info().Str("listing_id", alert.Listing.ID).Msg("alerting disabled, bargain not dispatched")
		return
	}

	alert.Rate = s.rate(ctx)

	// dispatched notifications run to completion or timeout
	notifyCtx, cancel := s.withTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	err := s.deps.Notifier.Notify(notifyCtx, alert)
	cancel()
	s.deps.Metrics.RecordAlert(err)
	if err != nil {
		log.Error().Err(err).Str("listing_id", alert.Listing.ID).Msg("failed to dispatch alert, will retry next poll")
		return
	}

	if err := s.deps.Alerted.Mark(ctx, alert.Listing); err != nil {
		s.deps.Metrics.RecordStoreFailure("alerted_listings")
		log.Error().Err(err).Str("listing_id", alert.Listing.ID).Msg("alerted mark not persisted")
	}
	s.deps.Metrics.SetAlertedSetSize(s.deps.Alerted.Len())

	if s.lowerOnAlert {
		lowered, err := s.deps.Floors.Lower(ctx, alert.Listing.Rarity, alert.Listing.Price)
		if err != nil {
			s.deps.Metrics.RecordStoreFailure("floors")
			log.Error().Err(err).Msg("lowered floor not persisted")
		}
		if lowered {
			s.deps.Metrics.RecordFloor(alert.Listing.Rarity.String(), "alert", alert.Listing.Price)
			log.Info().Str("rarity", alert.Listing.Rarity.String()).Str("floor", alert.Listing.Price.String()).Msg("floor lowered after alert")
		}
	}
}

// Refresh recomputes every rarity's floor from its cheapest active listings.
func (s *Service) Refresh(ctx context.Context, tick time.Time) error {
	log := s.cycleLogger("refresh", tick)
	start := time.Now()

	fetchCtx, cancel := s.withTimeout(ctx, s.fetchTimeout)
	observations, failed := s.fetchCheapest(fetchCtx, log, s.sampleSize)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := "ok"
	if failed == len(domain.Rarities()) {
		// nothing fetched: keep the previous floors
		s.deps.Metrics.RecordRefresh("fetch_failed", time.Since(start))
		log.Warn().Msg("floor refresh skipped, every fetch failed")
		return nil
	}
	if failed > 0 {
		status = "partial"
	}

	changes, err := s.deps.Floors.Refresh(ctx, observations)
	if err != nil {
		s.deps.Metrics.RecordStoreFailure("floors")
		log.Error().Err(err).Msg("refreshed floors not persisted yet")
	}
	s.recordFloorChanges(log, changes, "refresh")

	if s.retention > 0 {
		removed, err := s.deps.Alerted.Prune(ctx, s.now().Add(-s.retention))
		if err != nil {
			log.Warn().Err(err).Msg("alerted set prune failed")
		} else if removed > 0 {
			log.Info().Int64("removed", removed).Msg("alerted set pruned")
			s.deps.Metrics.SetAlertedSetSize(s.deps.Alerted.Len())
		}
	}

	s.deps.Metrics.RecordRefresh(status, time.Since(start))
	log.Debug().Int("observations", len(observations)).Int("changes", len(changes)).Msg("refresh finished")
	return nil
}

// fetchBatch merges one search pass with the cheapest listings of every rarity. Scarce tiers
// are covered even when common listings fill the search pages. It reports false only when
// no source could be fetched.
func (s *Service) fetchBatch(ctx context.Context, log zerolog.Logger) ([]domain.Listing, bool) {
	var (
		searched  []domain.Listing
		searchErr error
		cheapest  []domain.Listing
		failed    int
	)

	var g errgroup.Group
	g.Go(func() error {
		searched, searchErr = s.deps.Listings.SearchListings(ctx, s.searchPages)
		return nil
	})
	g.Go(func() error {
		cheapest, failed = s.fetchCheapest(ctx, log, s.pollSampleSize)
		return nil
	})
	_ = g.Wait()

	if searchErr != nil {
		s.deps.Metrics.RecordFetchFailure("search")
		log.Warn().Err(searchErr).Msg("listing search failed")
	}
	if searchErr != nil && failed == len(domain.Rarities()) {
		return nil, false
	}
	return append(cheapest, searched...), true
}

// fetchCheapest queries every rarity concurrently and returns the observations with the number of failed rarities.
func (s *Service) fetchCheapest(ctx context.Context, log zerolog.Logger, size int) ([]domain.Listing, int) {
	rarities := domain.Rarities()
	results := make([][]domain.Listing, len(rarities))
	errs := make([]error, len(rarities))

	var g errgroup.Group
	for i, r := range rarities {
		g.Go(func() error {
			results[i], errs[i] = s.deps.Listings.CheapestByRarity(ctx, r, size)
			return nil
		})
	}
	_ = g.Wait()

	var (
		observations []domain.Listing
		failed       int
	)
	for i, r := range rarities {
		switch err := errs[i]; {
		case err == nil:
			observations = append(observations, results[i]...)
		case errors.Is(err, fetcher.ErrNoListings):
			log.Debug().Str("rarity", r.String()).Msg("no active listings, floor kept")
		default:
			failed++
			s.deps.Metrics.RecordFetchFailure("cheapest")
			log.Warn().Err(err).Str("rarity", r.String()).Msg("cheapest listing fetch failed")
		}
	}
	return observations, failed
}

func (s *Service) recordFloorChanges(log zerolog.Logger, changes []floor.Change, reason string) {
	for _, c := range changes {
		ev := log.Info().Str("rarity", c.Rarity.String()).Str("floor", c.Current.String()).Str("reason", reason)
		if c.Previous.Valid {
			ev = ev.Str("previous", c.Previous.Decimal.String())
		}
		ev.Msg("floor updated")
		s.deps.Metrics.RecordFloor(c.Rarity.String(), reason, c.Current)
	}
}

// rate returns the native to USD rate, reusing a recent value when the fetch fails.
func (s *Service) rate(ctx context.Context) decimal.NullDecimal {
	if s.deps.Rates == nil {
		return decimal.NullDecimal{}
	}

	rate, err := s.deps.Rates.FetchRate(ctx)

	s.rateMu.Lock()
	defer s.rateMu.Unlock()
	if err != nil {
		s.deps.Metrics.RecordFetchFailure("rate")
		s.logger.Warn().Err(err).Msg("rate unavailable")
		if !s.rateAt.IsZero() && s.now().Sub(s.rateAt) <= rateMaxAge {
			return decimal.NewNullDecimal(s.lastRate)
		}
		return decimal.NullDecimal{}
	}
	s.lastRate, s.rateAt = rate, s.now()
	s.deps.Metrics.SetRate(rate)
	return decimal.NewNullDecimal(rate)
}

func (s *Service) cycleLogger(cycle string, tick time.Time) zerolog.Logger {
	return s.logger.With().
		Str("cycle", cycle).
		Str("cycle_id", uuid.NewString()).
		Time("tick", tick).
		Logger()
}

func (s *Service) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
