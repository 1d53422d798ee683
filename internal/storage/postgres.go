package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("not found")

type PostgresClient struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresClient(connectionURL string, logger *zap.Logger) (*PostgresClient, error) {
	config, err := pgxpool.ParseConfig(connectionURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection URL: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute
	config.ConnConfig.ConnectTimeout = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{
		pool:   pool,
		logger: logger,
	}, nil
}

func (c *PostgresClient) Close() {
	c.pool.Close()
}

func (c *PostgresClient) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.pool.Ping(ctx)
}

// --- places ---

func (c *PostgresClient) CreatePlace(ctx context.Context, place *Place) error {
	query := `
		INSERT INTO places (name, latitude, longitude, favorite)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.pool.QueryRow(ctx, query, place.Name, place.Latitude, place.Longitude, place.Favorite).
		Scan(&place.ID, &place.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create place: %w", err)
	}

	return nil
}

func (c *PostgresClient) GetPlaceByName(ctx context.Context, name string) (*Place, error) {
	query := `
		SELECT id, name, latitude, longitude, favorite, created_at
		FROM places
		WHERE lower(name) = lower($1)
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var p Place
	err := c.pool.QueryRow(ctx, query, name).
		Scan(&p.ID, &p.Name, &p.Latitude, &p.Longitude, &p.Favorite, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get place: %w", err)
	}

	return &p, nil
}

func (c *PostgresClient) ListPlaces(ctx context.Context) ([]*Place, error) {
	query := `
		SELECT id, name, latitude, longitude, favorite, created_at
		FROM places
		ORDER BY name
	`
	return c.queryPlaces(ctx, query)
}

// FindFavoritePlaces returns the places the scheduled engine tracks.
func (c *PostgresClient) FindFavoritePlaces(ctx context.Context) ([]*Place, error) {
	query := `
		SELECT id, name, latitude, longitude, favorite, created_at
		FROM places
		WHERE favorite
		ORDER BY name
	`
	return c.queryPlaces(ctx, query)
}

func (c *PostgresClient) queryPlaces(ctx context.Context, query string, args ...any) ([]*Place, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query places: %w", err)
	}
	defer rows.Close()

	var places []*Place
	for rows.Next() {
		var p Place
		if err := rows.Scan(&p.ID, &p.Name, &p.Latitude, &p.Longitude, &p.Favorite, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan place row: %w", err)
		}
		places = append(places, &p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating places: %w", err)
	}

	return places, nil
}

func (c *PostgresClient) SetFavorite(ctx context.Context, name string, favorite bool) error {
	query := `UPDATE places SET favorite = $2 WHERE lower(name) = lower($1)`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := c.pool.Exec(ctx, query, name, favorite)
	if err != nil {
		return fmt.Errorf("failed to update favorite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (c *PostgresClient) DeletePlace(ctx context.Context, name string) error {
	query := `DELETE FROM places WHERE lower(name) = lower($1)`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := c.pool.Exec(ctx, query, name)
	if err != nil {
		return fmt.Errorf("failed to delete place: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// --- observations ---

func (c *PostgresClient) SaveObservation(ctx context.Context, obs *Observation) error {
	query := `
		INSERT INTO observations (place_name, temperature, wind_speed, cloud_cover, observed_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.pool.QueryRow(ctx, query,
		obs.PlaceName,
		obs.Temperature,
		obs.WindSpeed,
		obs.CloudCover,
		obs.ObservedAt,
	).Scan(&obs.ID, &obs.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save observation: %w", err)
	}

	return nil
}

// LatestObservation returns the most recent sample for a place, or nil when
// the place has never been observed.
func (c *PostgresClient) LatestObservation(ctx context.Context, placeName string) (*Observation, error) {
	query := `
		SELECT id, place_name, temperature, wind_speed, cloud_cover, observed_at, created_at
		FROM observations
		WHERE lower(place_name) = lower($1)
		ORDER BY observed_at DESC
		LIMIT 1
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var o Observation
	err := c.pool.QueryRow(ctx, query, placeName).
		Scan(&o.ID, &o.PlaceName, &o.Temperature, &o.WindSpeed, &o.CloudCover, &o.ObservedAt, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest observation: %w", err)
	}

	return &o, nil
}

func (c *PostgresClient) ListObservations(ctx context.Context, placeName string, since time.Time) ([]*Observation, error) {
	query := `
		SELECT id, place_name, temperature, wind_speed, cloud_cover, observed_at, created_at
		FROM observations
		WHERE lower(place_name) = lower($1) AND observed_at > $2
		ORDER BY observed_at DESC
		LIMIT 1000
	`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := c.pool.Query(ctx, query, placeName, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var observations []*Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.PlaceName, &o.Temperature, &o.WindSpeed, &o.CloudCover, &o.ObservedAt, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan observation row: %w", err)
		}
		observations = append(observations, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observations: %w", err)
	}

	return observations, nil
}

// --- forecasts ---

func (c *PostgresClient) SaveForecastDay(ctx context.Context, day *ForecastDay) error {
	query := `
		INSERT INTO forecast_days (place_name, date, temp_min, temp_max, precipitation)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (place_name, date) DO UPDATE
		SET temp_min = EXCLUDED.temp_min,
		    temp_max = EXCLUDED.temp_max,
		    precipitation = EXCLUDED.precipitation
		RETURNING id, created_at
	`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.pool.QueryRow(ctx, query,
		day.PlaceName,
		day.Date,
		day.TempMin,
		day.TempMax,
		day.Precipitation,
	).Scan(&day.ID, &day.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save forecast day: %w", err)
	}

	return nil
}

func (c *PostgresClient) ListForecast(ctx context.Context, placeName string, from time.Time) ([]*ForecastDay, error) {
	query := `
		SELECT id, place_name, date, temp_min, temp_max, precipitation, created_at
		FROM forecast_days
		WHERE lower(place_name) = lower($1) AND date >= $2
		ORDER BY date
	`

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := c.pool.Query(ctx, query, placeName, from)
	if err != nil {
		return nil, fmt.Errorf("failed to query forecast: %w", err)
	}
	defer rows.Close()

	var days []*ForecastDay
	for rows.Next() {
		var d ForecastDay
		if err := rows.Scan(&d.ID, &d.PlaceName, &d.Date, &d.TempMin, &d.TempMax, &d.Precipitation, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan forecast row: %w", err)
		}
		days = append(days, &d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forecast: %w", err)
	}

	return days, nil
}

// PurgeForecastsBefore removes forecast days older than the given date and
// reports how many rows went away.
func (c *PostgresClient) PurgeForecastsBefore(ctx context.Context, date time.Time) (int64, error) {
	query := `DELETE FROM forecast_days WHERE date < $1`

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tag, err := c.pool.Exec(ctx, query, date)
	if err != nil {
		return 0, fmt.Errorf("failed to purge forecasts: %w", err)
	}

	return tag.RowsAffected(), nil
}

// --- alert rules ---

const alertRuleColumns = `id, name, metric, operator, threshold, severity, message, active, created_at, updated_at`

func (c *PostgresClient) CreateAlertRule(ctx context.Context, rule *AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	taken, err := c.alertNameTaken(ctx, rule.Name, 0)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("alert rule name already exists: %s", rule.Name)
	}

	query := `
		INSERT INTO alert_rules (name, metric, operator, threshold, severity, message, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err = c.pool.QueryRow(ctx, query,
		rule.Name, rule.Metric, rule.Operator, rule.Threshold, rule.Severity, rule.Message, rule.Active,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}

	return nil
}

func (c *PostgresClient) UpdateAlertRule(ctx context.Context, rule *AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	taken, err := c.alertNameTaken(ctx, rule.Name, rule.ID)
	if err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("alert rule name already exists: %s", rule.Name)
	}

	query := `
		UPDATE alert_rules
		SET name = $2, metric = $3, operator = $4, threshold = $5,
		    severity = $6, message = $7, active = $8, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`

	err = c.pool.QueryRow(ctx, query,
		rule.ID, rule.Name, rule.Metric, rule.Operator, rule.Threshold, rule.Severity, rule.Message, rule.Active,
	).Scan(&rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update alert rule: %w", err)
	}

	return nil
}

// alertNameTaken enforces case-insensitive name uniqueness before writes.
func (c *PostgresClient) alertNameTaken(ctx context.Context, name string, excludeID int64) (bool, error) {
	query := `SELECT count(*) FROM alert_rules WHERE lower(name) = $1 AND id <> $2`

	var count int
	if err := c.pool.QueryRow(ctx, query, strings.ToLower(name), excludeID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check alert rule name: %w", err)
	}
	return count > 0, nil
}

func (c *PostgresClient) DeleteAlertRule(ctx context.Context, id int64) error {
	query := `DELETE FROM alert_rules WHERE id = $1`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := c.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete alert rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func (c *PostgresClient) ListAlertRules(ctx context.Context) ([]*AlertRule, error) {
	query := `
		SELECT ` + alertRuleColumns + `
		FROM alert_rules
		ORDER BY name
	`
	return c.queryAlertRules(ctx, query)
}

// FindActiveAlertRules returns active rules sorted by severity, critical
// first.
func (c *PostgresClient) FindActiveAlertRules(ctx context.Context) ([]*AlertRule, error) {
	query := `
		SELECT ` + alertRuleColumns + `
		FROM alert_rules
		WHERE active
		ORDER BY CASE severity
			WHEN 'critical' THEN 4
			WHEN 'high' THEN 3
			WHEN 'medium' THEN 2
			ELSE 1
		END DESC, name
	`
	return c.queryAlertRules(ctx, query)
}

func (c *PostgresClient) queryAlertRules(ctx context.Context, query string, args ...any) ([]*AlertRule, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert rules: %w", err)
	}
	defer rows.Close()

	var rules []*AlertRule
	for rows.Next() {
		var r AlertRule
		if err := rows.Scan(
			&r.ID, &r.Name, &r.Metric, &r.Operator, &r.Threshold,
			&r.Severity, &r.Message, &r.Active, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert rule row: %w", err)
		}
		rules = append(rules, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alert rules: %w", err)
	}

	return rules, nil
}
