// Package weather talks to the upstream Open-Meteo API and caches current
// conditions in redis. Provider failures are returned to the caller; the
// scheduled engine treats them as per-place failures and moves on.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// CurrentConditions is one measured sample from the provider. Fields are
// pointers because the provider may omit any variable.
type CurrentConditions struct {
	Temperature *float64  `json:"temperature"`
	WindSpeed   *float64  `json:"wind_speed"`
	CloudCover  *float64  `json:"cloud_cover"`
	ObservedAt  time.Time `json:"observed_at"`
}

// DailyForecast is one day of the multi-day forecast.
type DailyForecast struct {
	Date          time.Time `json:"date"`
	TempMin       float64   `json:"temp_min"`
	TempMax       float64   `json:"temp_max"`
	Precipitation float64   `json:"precipitation"`
}

const forecastDays = 7

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Open-Meteo timestamps come without a zone, e.g. "2025-08-31T14:30".
const observationTimeLayout = "2006-01-02T15:04"

type currentResponse struct {
	Current struct {
		Time        string   `json:"time"`
		Temperature *float64 `json:"temperature_2m"`
		WindSpeed   *float64 `json:"wind_speed_10m"`
		CloudCover  *float64 `json:"cloud_cover"`
	} `json:"current"`
}

type forecastResponse struct {
	Daily struct {
		Time          []string  `json:"time"`
		TempMin       []float64 `json:"temperature_2m_min"`
		TempMax       []float64 `json:"temperature_2m_max"`
		Precipitation []float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// FetchCurrent retrieves the current conditions at the given coordinates.
func (c *Client) FetchCurrent(ctx context.Context, lat, lon float64) (*CurrentConditions, error) {
	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", lat))
	params.Set("longitude", fmt.Sprintf("%.4f", lon))
	params.Set("current", "temperature_2m,wind_speed_10m,cloud_cover")
	params.Set("timezone", "UTC")

	var parsed currentResponse
	if err := c.get(ctx, params, &parsed); err != nil {
		return nil, err
	}

	observedAt, err := time.Parse(observationTimeLayout, parsed.Current.Time)
	if err != nil {
		observedAt = time.Now().UTC()
	}

	return &CurrentConditions{
		Temperature: parsed.Current.Temperature,
		WindSpeed:   parsed.Current.WindSpeed,
		CloudCover:  parsed.Current.CloudCover,
		ObservedAt:  observedAt.UTC(),
	}, nil
}

// FetchForecast retrieves the daily summaries for the next week.
func (c *Client) FetchForecast(ctx context.Context, lat, lon float64) ([]DailyForecast, error) {
	params := url.Values{}
	params.Set("latitude", fmt.Sprintf("%.4f", lat))
	params.Set("longitude", fmt.Sprintf("%.4f", lon))
	params.Set("daily", "temperature_2m_min,temperature_2m_max,precipitation_sum")
	params.Set("forecast_days", fmt.Sprintf("%d", forecastDays))
	params.Set("timezone", "UTC")

	var parsed forecastResponse
	if err := c.get(ctx, params, &parsed); err != nil {
		return nil, err
	}

	days := make([]DailyForecast, 0, len(parsed.Daily.Time))
	for i, raw := range parsed.Daily.Time {
		date, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, fmt.Errorf("unparseable forecast date %q: %w", raw, err)
		}
		day := DailyForecast{Date: date}
		if i < len(parsed.Daily.TempMin) {
			day.TempMin = parsed.Daily.TempMin[i]
		}
		if i < len(parsed.Daily.TempMax) {
			day.TempMax = parsed.Daily.TempMax[i]
		}
		if i < len(parsed.Daily.Precipitation) {
			day.Precipitation = parsed.Daily.Precipitation[i]
		}
		days = append(days, day)
	}

	if len(days) == 0 {
		return nil, fmt.Errorf("provider returned an empty forecast")
	}

	return days, nil
}

func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	endpoint := fmt.Sprintf("%s/v1/forecast?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}

	return nil
}
