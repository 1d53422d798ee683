// Package scheduler runs the background work that happens without a user
// request: the periodic weather refresh over all favorite places, the daily
// cleanup, and the alert evaluation that follows every refresh.
package scheduler

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/grupp3/weathergate/internal/storage"
)

// EQ comparisons use a tolerance band instead of exact float equality.
const eqTolerance = 0.1

// ShouldTrigger decides whether a measured value fires a rule. Inactive
// rules and unrecognized operators never trigger.
func ShouldTrigger(rule *storage.AlertRule, value float64) bool {
	if !rule.Active {
		return false
	}
	switch rule.Operator {
	case storage.OpLT:
		return value < rule.Threshold
	case storage.OpGT:
		return value > rule.Threshold
	case storage.OpLE:
		return value <= rule.Threshold
	case storage.OpGE:
		return value >= rule.Threshold
	case storage.OpEQ:
		return math.Abs(value-rule.Threshold) < eqTolerance
	default:
		return false
	}
}

// valueForMetric selects the observation field a rule compares against.
// Precipitation has no source in the observation cycle, so precipitation
// rules never see a value.
func valueForMetric(metric string, obs *storage.Observation) (float64, bool) {
	switch metric {
	case storage.MetricTemperature:
		if obs.Temperature != nil {
			return *obs.Temperature, true
		}
	case storage.MetricWindSpeed:
		if obs.WindSpeed != nil {
			return *obs.WindSpeed, true
		}
	case storage.MetricCloudCover:
		if obs.CloudCover != nil {
			return *obs.CloudCover, true
		}
	}
	return 0, false
}

// AlertStore is the slice of storage the evaluator reads.
type AlertStore interface {
	LatestObservation(ctx context.Context, placeName string) (*storage.Observation, error)
}

// AlertEvaluator checks active rules against the latest observation of each
// favorite place. Triggers are logged; no notifications are dispatched here.
type AlertEvaluator struct {
	store  AlertStore
	logger *zap.Logger
}

func NewAlertEvaluator(store AlertStore, logger *zap.Logger) *AlertEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AlertEvaluator{store: store, logger: logger}
}

// CheckAll evaluates every active rule against every favorite place and
// returns the number of (rule, place) pairs that triggered. Places without
// any observation are skipped.
func (e *AlertEvaluator) CheckAll(ctx context.Context, rules []*storage.AlertRule, places []*storage.Place) int {
	if len(rules) == 0 || len(places) == 0 {
		return 0
	}

	triggered := 0
	for _, place := range places {
		obs, err := e.store.LatestObservation(ctx, place.Name)
		if err != nil {
			e.logger.Warn("failed to load latest observation",
				zap.String("place", place.Name), zap.Error(err))
			continue
		}
		if obs == nil {
			continue
		}

		for _, rule := range rules {
			value, ok := valueForMetric(rule.Metric, obs)
			if !ok {
				continue
			}
			if ShouldTrigger(rule, value) {
				triggered++
				alertsTriggeredTotal.Inc()
				e.logger.Info("alert triggered",
					zap.String("rule", rule.Name),
					zap.String("place", place.Name),
					zap.String("metric", rule.Metric),
					zap.String("operator", rule.Operator),
					zap.Float64("value", value),
					zap.Float64("threshold", rule.Threshold),
					zap.String("severity", rule.Severity),
					zap.String("message", rule.Message),
				)
			}
		}
	}

	return triggered
}
