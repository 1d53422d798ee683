package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grupp3/weathergate/internal/storage"
	"github.com/grupp3/weathergate/internal/weather"
)

// Store is the persistence surface the engine drives.
type Store interface {
	AlertStore
	FindFavoritePlaces(ctx context.Context) ([]*storage.Place, error)
	SaveObservation(ctx context.Context, obs *storage.Observation) error
	SaveForecastDay(ctx context.Context, day *storage.ForecastDay) error
	PurgeForecastsBefore(ctx context.Context, date time.Time) (int64, error)
	FindActiveAlertRules(ctx context.Context) ([]*storage.AlertRule, error)
}

// Fetcher is the upstream weather provider.
type Fetcher interface {
	FetchCurrent(ctx context.Context, lat, lon float64) (*weather.CurrentConditions, error)
	FetchForecast(ctx context.Context, lat, lon float64) ([]weather.DailyForecast, error)
}

// Compactor is the rate-limiter state the daily cleanup compacts.
type Compactor interface {
	Size() int
	Compact() int
}

// Options are the engine's timing knobs.
type Options struct {
	RefreshInterval time.Duration
	StartupDelay    time.Duration
	CallDelay       time.Duration
	CleanupHour     int
}

// RefreshStats summarizes one refresh cycle.
type RefreshStats struct {
	Places          int `json:"places"`
	CurrentOK       int `json:"current_ok"`
	ForecastOK      int `json:"forecast_ok"`
	Errors          int `json:"errors"`
	AlertsTriggered int `json:"alerts_triggered"`
}

// Engine owns the three scheduled triggers: the periodic refresh (plus one
// run shortly after startup), the daily cleanup, and the manual trigger.
// All three funnel into the same refresh implementation. Places are walked
// strictly sequentially with a pause between provider calls; that is a
// deliberate rate-shaping choice against the upstream, not an accident.
type Engine struct {
	store     Store
	fetcher   Fetcher
	limiter   Compactor
	evaluator *AlertEvaluator
	opts      Options
	logger    *zap.Logger
	now       func() time.Time

	// serializes refresh cycles so a manual trigger cannot interleave
	// with the scheduled one
	mu sync.Mutex
}

func NewEngine(store Store, fetcher Fetcher, limiter Compactor, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		fetcher:   fetcher,
		limiter:   limiter,
		evaluator: NewAlertEvaluator(store, logger),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Start blocks until the context is cancelled, firing the startup refresh,
// the periodic refresh and the daily cleanup from a single goroutine. It
// never runs on request-handling goroutines.
func (e *Engine) Start(ctx context.Context) error {
	startup := time.NewTimer(e.opts.StartupDelay)
	defer startup.Stop()

	ticker := time.NewTicker(e.opts.RefreshInterval)
	defer ticker.Stop()

	cleanup := time.NewTimer(e.untilNextCleanup())
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-startup.C:
			e.logger.Info("running initial weather refresh")
			e.RefreshAll(ctx)
		case <-ticker.C:
			e.RefreshAll(ctx)
		case <-cleanup.C:
			e.Cleanup(ctx)
			cleanup.Reset(e.untilNextCleanup())
		}
	}
}

func (e *Engine) untilNextCleanup() time.Duration {
	now := e.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), e.opts.CleanupHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// TriggerManualUpdate runs a refresh cycle on demand. It is the same code
// path as the scheduled refresh and safe to call while one is running.
func (e *Engine) TriggerManualUpdate(ctx context.Context) RefreshStats {
	e.logger.Info("manual weather refresh triggered")
	return e.RefreshAll(ctx)
}

// RefreshAll fetches current weather and the forecast for every favorite
// place, persisting as it goes. One failing place never aborts the rest of
// the batch; each place is its own unit of failure. After the walk the
// active alert rules are checked once against the fresh data.
func (e *Engine) RefreshAll(ctx context.Context) RefreshStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var stats RefreshStats

	places, err := e.store.FindFavoritePlaces(ctx)
	if err != nil {
		e.logger.Error("failed to list favorite places", zap.Error(err))
		stats.Errors++
		refreshErrorsTotal.Inc()
		return stats
	}
	if len(places) == 0 {
		e.logger.Info("no favorite places registered, skipping refresh")
		return stats
	}

	stats.Places = len(places)
	e.logger.Info("starting weather refresh", zap.Int("places", len(places)))

	for _, place := range places {
		// shutdown mid-cycle: finish nothing new, already-persisted
		// records stay valid
		if ctx.Err() != nil {
			break
		}

		if e.refreshCurrent(ctx, place) {
			stats.CurrentOK++
		} else {
			stats.Errors++
		}
		e.pause(ctx)

		if ctx.Err() != nil {
			break
		}

		if e.refreshForecast(ctx, place) {
			stats.ForecastOK++
		} else {
			stats.Errors++
		}
		e.pause(ctx)
	}

	e.logger.Info("weather refresh completed",
		zap.Int("current_ok", stats.CurrentOK),
		zap.Int("forecast_ok", stats.ForecastOK),
		zap.Int("errors", stats.Errors),
	)
	refreshCyclesTotal.Inc()

	stats.AlertsTriggered = e.checkAlerts(ctx, places)
	return stats
}

func (e *Engine) refreshCurrent(ctx context.Context, place *storage.Place) bool {
	conditions, err := e.fetcher.FetchCurrent(ctx, place.Latitude, place.Longitude)
	if err != nil || conditions == nil {
		refreshErrorsTotal.Inc()
		e.logger.Warn("failed to fetch current weather",
			zap.String("place", place.Name), zap.Error(err))
		return false
	}

	obs := &storage.Observation{
		PlaceName:   place.Name,
		Temperature: conditions.Temperature,
		WindSpeed:   conditions.WindSpeed,
		CloudCover:  conditions.CloudCover,
		ObservedAt:  conditions.ObservedAt,
	}
	if err := e.store.SaveObservation(ctx, obs); err != nil {
		refreshErrorsTotal.Inc()
		e.logger.Error("failed to save observation",
			zap.String("place", place.Name), zap.Error(err))
		return false
	}

	return true
}

func (e *Engine) refreshForecast(ctx context.Context, place *storage.Place) bool {
	days, err := e.fetcher.FetchForecast(ctx, place.Latitude, place.Longitude)
	if err != nil || len(days) == 0 {
		refreshErrorsTotal.Inc()
		e.logger.Warn("failed to fetch forecast",
			zap.String("place", place.Name), zap.Error(err))
		return false
	}

	for _, day := range days {
		record := &storage.ForecastDay{
			PlaceName:     place.Name,
			Date:          day.Date,
			TempMin:       day.TempMin,
			TempMax:       day.TempMax,
			Precipitation: day.Precipitation,
		}
		if err := e.store.SaveForecastDay(ctx, record); err != nil {
			refreshErrorsTotal.Inc()
			e.logger.Error("failed to save forecast day",
				zap.String("place", place.Name),
				zap.Time("date", day.Date),
				zap.Error(err))
			return false
		}
	}

	return true
}

func (e *Engine) checkAlerts(ctx context.Context, places []*storage.Place) int {
	rules, err := e.store.FindActiveAlertRules(ctx)
	if err != nil {
		e.logger.Error("failed to load active alert rules", zap.Error(err))
		return 0
	}
	if len(rules) == 0 {
		return 0
	}

	e.logger.Info("checking alerts",
		zap.Int("rules", len(rules)), zap.Int("places", len(places)))

	triggered := e.evaluator.CheckAll(ctx, rules, places)
	if triggered > 0 {
		e.logger.Info("alerts triggered this cycle", zap.Int("count", triggered))
	}
	return triggered
}

// Cleanup purges forecast days dated before today and compacts the bucket
// table when it has outgrown its high-water mark. Either step failing never
// blocks the other.
func (e *Engine) Cleanup(ctx context.Context) {
	e.logger.Info("starting daily cleanup")

	today := e.now().Truncate(24 * time.Hour)
	purged, err := e.store.PurgeForecastsBefore(ctx, today)
	if err != nil {
		e.logger.Error("failed to purge old forecasts", zap.Error(err))
	} else {
		e.logger.Info("purged old forecasts", zap.Int64("rows", purged))
	}

	if e.limiter != nil {
		before := e.limiter.Size()
		if evicted := e.limiter.Compact(); evicted > 0 {
			e.logger.Info("compacted rate-limit buckets",
				zap.Int("before", before), zap.Int("evicted", evicted))
		}
	}

	e.logger.Info("daily cleanup completed")
}

// pause sleeps the inter-call delay on the engine's own goroutine, waking
// early on shutdown.
func (e *Engine) pause(ctx context.Context) {
	if e.opts.CallDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.opts.CallDelay):
	}
}
