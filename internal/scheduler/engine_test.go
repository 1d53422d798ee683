package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grupp3/weathergate/internal/storage"
	"github.com/grupp3/weathergate/internal/weather"
)

type fakeStore struct {
	favorites    []*storage.Place
	favoritesErr error
	rules        []*storage.AlertRule

	observations []*storage.Observation
	forecasts    []*storage.ForecastDay
	saveObsErr   map[string]error
	purged       time.Time
	purgedRows   int64
	purgeErr     error
	purgeCalled  bool
}

func (s *fakeStore) FindFavoritePlaces(context.Context) ([]*storage.Place, error) {
	return s.favorites, s.favoritesErr
}

func (s *fakeStore) SaveObservation(_ context.Context, obs *storage.Observation) error {
	if err := s.saveObsErr[obs.PlaceName]; err != nil {
		return err
	}
	s.observations = append(s.observations, obs)
	return nil
}

func (s *fakeStore) SaveForecastDay(_ context.Context, day *storage.ForecastDay) error {
	s.forecasts = append(s.forecasts, day)
	return nil
}

func (s *fakeStore) PurgeForecastsBefore(_ context.Context, date time.Time) (int64, error) {
	s.purgeCalled = true
	if s.purgeErr != nil {
		return 0, s.purgeErr
	}
	s.purged = date
	return s.purgedRows, nil
}

func (s *fakeStore) FindActiveAlertRules(context.Context) ([]*storage.AlertRule, error) {
	return s.rules, nil
}

func (s *fakeStore) LatestObservation(_ context.Context, placeName string) (*storage.Observation, error) {
	for i := len(s.observations) - 1; i >= 0; i-- {
		if s.observations[i].PlaceName == placeName {
			return s.observations[i], nil
		}
	}
	return nil, nil
}

type fakeFetcher struct {
	currentErr  map[string]error
	forecastErr map[string]error
	windSpeed   float64

	currentCalls  int
	forecastCalls int
}

// Tests give each place a distinct latitude; coordKey maps it back to the
// place name so the fetcher can fail selectively.
func coordKey(lat float64) string {
	if lat == 1.0 {
		return "berlin"
	}
	if lat == 2.0 {
		return "hamburg"
	}
	return "munich"
}

func (f *fakeFetcher) FetchCurrent(_ context.Context, lat, _ float64) (*weather.CurrentConditions, error) {
	f.currentCalls++
	if err := f.currentErr[coordKey(lat)]; err != nil {
		return nil, err
	}
	wind := f.windSpeed
	return &weather.CurrentConditions{
		WindSpeed:  &wind,
		ObservedAt: time.Now(),
	}, nil
}

func (f *fakeFetcher) FetchForecast(_ context.Context, lat, _ float64) ([]weather.DailyForecast, error) {
	f.forecastCalls++
	if err := f.forecastErr[coordKey(lat)]; err != nil {
		return nil, err
	}
	return []weather.DailyForecast{
		{Date: time.Now(), TempMin: 10, TempMax: 20, Precipitation: 0},
		{Date: time.Now().AddDate(0, 0, 1), TempMin: 11, TempMax: 21, Precipitation: 2.5},
	}, nil
}

type fakeCompactor struct {
	size      int
	compacted bool
	evicted   int
}

func (c *fakeCompactor) Size() int { return c.size }
func (c *fakeCompactor) Compact() int {
	c.compacted = true
	return c.evicted
}

func enginePlaces() []*storage.Place {
	return []*storage.Place{
		{Name: "berlin", Latitude: 1.0, Favorite: true},
		{Name: "hamburg", Latitude: 2.0, Favorite: true},
		{Name: "munich", Latitude: 3.0, Favorite: true},
	}
}

func newTestEngine(store *fakeStore, fetcher *fakeFetcher, limiter Compactor) *Engine {
	return NewEngine(store, fetcher, limiter, Options{
		RefreshInterval: time.Hour,
		StartupDelay:    time.Hour,
		CallDelay:       0, // no inter-call pause in tests
		CleanupHour:     2,
	}, nil)
}

func TestRefreshAll_PersistsAllPlaces(t *testing.T) {
	store := &fakeStore{favorites: enginePlaces()}
	fetcher := &fakeFetcher{}
	engine := newTestEngine(store, fetcher, nil)

	stats := engine.RefreshAll(context.Background())

	assert.Equal(t, 3, stats.Places)
	assert.Equal(t, 3, stats.CurrentOK)
	assert.Equal(t, 3, stats.ForecastOK)
	assert.Equal(t, 0, stats.Errors)
	assert.Len(t, store.observations, 3)
	assert.Len(t, store.forecasts, 6)
}

func TestRefreshAll_FailingPlaceDoesNotAbortBatch(t *testing.T) {
	store := &fakeStore{favorites: enginePlaces()}
	fetcher := &fakeFetcher{
		currentErr:  map[string]error{"hamburg": errors.New("timeout")},
		forecastErr: map[string]error{"hamburg": errors.New("timeout")},
	}
	engine := newTestEngine(store, fetcher, nil)

	stats := engine.RefreshAll(context.Background())

	assert.Equal(t, 2, stats.CurrentOK)
	assert.Equal(t, 2, stats.ForecastOK)
	assert.Equal(t, 2, stats.Errors)
	// munich still refreshed after hamburg failed
	assert.Equal(t, 3, fetcher.currentCalls)
	assert.Equal(t, 3, fetcher.forecastCalls)
}

func TestRefreshAll_SaveFailureCountsAsError(t *testing.T) {
	store := &fakeStore{
		favorites:  enginePlaces(),
		saveObsErr: map[string]error{"berlin": errors.New("constraint violation")},
	}
	engine := newTestEngine(store, &fakeFetcher{}, nil)

	stats := engine.RefreshAll(context.Background())

	assert.Equal(t, 2, stats.CurrentOK)
	assert.Equal(t, 1, stats.Errors)
}

func TestRefreshAll_NoFavoritesSkipsEverything(t *testing.T) {
	store := &fakeStore{}
	fetcher := &fakeFetcher{}
	engine := newTestEngine(store, fetcher, nil)

	stats := engine.RefreshAll(context.Background())

	assert.Equal(t, RefreshStats{}, stats)
	assert.Equal(t, 0, fetcher.currentCalls)
}

func TestRefreshAll_FavoriteQueryFailureReturnsError(t *testing.T) {
	store := &fakeStore{favoritesErr: errors.New("connection refused")}
	engine := newTestEngine(store, &fakeFetcher{}, nil)

	stats := engine.RefreshAll(context.Background())

	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 0, stats.Places)
}

func TestRefreshAll_ChecksAlertsAfterWalk(t *testing.T) {
	store := &fakeStore{
		favorites: enginePlaces(),
		rules: []*storage.AlertRule{{
			Name:      "high wind",
			Metric:    storage.MetricWindSpeed,
			Operator:  storage.OpGT,
			Threshold: 15.0,
			Severity:  "high",
			Active:    true,
		}},
	}
	fetcher := &fakeFetcher{windSpeed: 20.5}
	engine := newTestEngine(store, fetcher, nil)

	stats := engine.RefreshAll(context.Background())

	assert.Equal(t, 3, stats.AlertsTriggered)
}

func TestRefreshAll_CancelledContextStopsWalk(t *testing.T) {
	store := &fakeStore{favorites: enginePlaces()}
	fetcher := &fakeFetcher{}
	engine := newTestEngine(store, fetcher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := engine.RefreshAll(ctx)

	assert.Equal(t, 0, fetcher.currentCalls)
	assert.Equal(t, 3, stats.Places)
	assert.Equal(t, 0, stats.CurrentOK)
}

func TestTriggerManualUpdate_SharesRefreshPath(t *testing.T) {
	store := &fakeStore{favorites: enginePlaces()}
	engine := newTestEngine(store, &fakeFetcher{}, nil)

	stats := engine.TriggerManualUpdate(context.Background())

	require.Equal(t, 3, stats.Places)
	assert.Len(t, store.observations, 3)
}

func TestCleanup_PurgesAndCompacts(t *testing.T) {
	store := &fakeStore{purgedRows: 12}
	compactor := &fakeCompactor{size: 11000, evicted: 11000}
	engine := newTestEngine(store, &fakeFetcher{}, compactor)

	engine.Cleanup(context.Background())

	assert.True(t, store.purgeCalled)
	assert.True(t, compactor.compacted)
	assert.False(t, store.purged.After(time.Now()))
}

func TestCleanup_PurgeFailureStillCompacts(t *testing.T) {
	store := &fakeStore{purgeErr: errors.New("deadlock detected")}
	compactor := &fakeCompactor{size: 11000, evicted: 11000}
	engine := newTestEngine(store, &fakeFetcher{}, compactor)

	engine.Cleanup(context.Background())

	assert.True(t, compactor.compacted)
}

func TestUntilNextCleanup(t *testing.T) {
	engine := newTestEngine(&fakeStore{}, &fakeFetcher{}, nil)

	engine.now = func() time.Time {
		return time.Date(2025, 6, 1, 1, 0, 0, 0, time.UTC)
	}
	assert.Equal(t, time.Hour, engine.untilNextCleanup())

	// already past today's cleanup hour: schedule for tomorrow
	engine.now = func() time.Time {
		return time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	}
	assert.Equal(t, 23*time.Hour, engine.untilNextCleanup())
}
