package storage

import (
	"fmt"
	"strings"
	"time"
)

// Place is a tracked location. Favorites are the places the scheduled
// engine refreshes automatically.
type Place struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Favorite  bool      `json:"favorite"`
	CreatedAt time.Time `json:"created_at"`
}

// Observation is one measured weather sample for a place. Fields are
// pointers because the upstream provider may omit any of them; a missing
// value never triggers an alert.
type Observation struct {
	ID          int64     `json:"id"`
	PlaceName   string    `json:"place_name"`
	Temperature *float64  `json:"temperature,omitempty"`
	WindSpeed   *float64  `json:"wind_speed,omitempty"`
	CloudCover  *float64  `json:"cloud_cover,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// ForecastDay is one daily summary from the multi-day forecast.
type ForecastDay struct {
	ID            int64     `json:"id"`
	PlaceName     string    `json:"place_name"`
	Date          time.Time `json:"date"`
	TempMin       float64   `json:"temp_min"`
	TempMax       float64   `json:"temp_max"`
	Precipitation float64   `json:"precipitation"`
	CreatedAt     time.Time `json:"created_at"`
}

// Alert rule vocabulary. Precipitation is accepted in rules but has no
// measurement source in the observation cycle, so such rules never fire.
const (
	MetricTemperature   = "temperature"
	MetricWindSpeed     = "wind_speed"
	MetricPrecipitation = "precipitation"
	MetricCloudCover    = "cloud_cover"
)

const (
	OpLT = "LT"
	OpGT = "GT"
	OpLE = "LE"
	OpGE = "GE"
	OpEQ = "EQ"
)

var severityRank = map[string]int{
	"low":      1,
	"medium":   2,
	"high":     3,
	"critical": 4,
}

// AlertRule is an administrator-defined threshold condition evaluated
// against the latest observation of every favorite place.
type AlertRule struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Metric    string    `json:"metric"`
	Operator  string    `json:"operator"`
	Threshold float64   `json:"threshold"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the rule vocabulary before persistence.
func (r *AlertRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("alert rule name cannot be empty")
	}
	switch r.Metric {
	case MetricTemperature, MetricWindSpeed, MetricPrecipitation, MetricCloudCover:
	default:
		return fmt.Errorf("unknown alert metric: %s", r.Metric)
	}
	switch r.Operator {
	case OpLT, OpGT, OpLE, OpGE, OpEQ:
	default:
		return fmt.Errorf("unknown alert operator: %s", r.Operator)
	}
	if _, ok := severityRank[r.Severity]; !ok {
		return fmt.Errorf("unknown alert severity: %s", r.Severity)
	}
	return nil
}

// SeverityRank orders severities for display, critical highest.
func (r *AlertRule) SeverityRank() int {
	return severityRank[r.Severity]
}
