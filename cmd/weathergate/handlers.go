package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/grupp3/weathergate/internal/admission"
	"github.com/grupp3/weathergate/internal/core"
	"github.com/grupp3/weathergate/internal/scheduler"
	"github.com/grupp3/weathergate/internal/storage"
	"github.com/grupp3/weathergate/internal/weather"
)

func healthHandler(db *storage.PostgresClient, config *core.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := db.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Format(time.RFC3339),
			"version":   config.App.Version,
		})
	}
}

func readyHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		if err := db.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not_ready",
				"reason": "database unavailable",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func statusHandler(config *core.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":   config.App.Name,
			"version":   config.App.Version,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// --- weather ---

func getCurrentWeatherHandler(db *storage.PostgresClient, svc *weather.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		place, err := db.GetPlaceByName(ctx, c.Param("name"))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "place not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		conditions, err := svc.Current(ctx, place.Name, place.Latitude, place.Longitude)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weather provider unavailable"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"place":   place.Name,
			"current": conditions,
		})
	}
}

func getForecastHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		name := c.Param("name")
		days, err := db.ListForecast(ctx, name, time.Now().Truncate(24*time.Hour))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(days) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "no forecast stored for place"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"place":    name,
			"days":     len(days),
			"forecast": days,
		})
	}
}

func getHistoryHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		durationStr := c.DefaultQuery("duration", "24h")
		duration, err := time.ParseDuration(durationStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid duration format. Use format like: 1h, 30m, 24h",
			})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		name := c.Param("name")
		observations, err := db.ListObservations(ctx, name, time.Now().Add(-duration))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"place":        name,
			"duration":     durationStr,
			"observations": observations,
			"count":        len(observations),
		})
	}
}

// --- places & favorites ---

type placeRequest struct {
	Name      string  `json:"name" binding:"required"`
	Latitude  float64 `json:"latitude" binding:"required"`
	Longitude float64 `json:"longitude" binding:"required"`
	Favorite  bool    `json:"favorite"`
}

func listPlacesHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		places, err := db.ListPlaces(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"places": places, "count": len(places)})
	}
}

func createPlaceHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req placeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if _, err := db.GetPlaceByName(ctx, req.Name); err == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "place already exists"})
			return
		}

		place := &storage.Place{
			Name:      req.Name,
			Latitude:  req.Latitude,
			Longitude: req.Longitude,
			Favorite:  req.Favorite,
		}
		if err := db.CreatePlace(ctx, place); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, place)
	}
}

func getPlaceHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		place, err := db.GetPlaceByName(ctx, c.Param("name"))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "place not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, place)
	}
}

func deletePlaceHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		err := db.DeletePlace(ctx, c.Param("name"))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "place not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

func listFavoritesHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		favorites, err := db.FindFavoritePlaces(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"favorites": favorites, "count": len(favorites)})
	}
}

func setFavoriteHandler(db *storage.PostgresClient, favorite bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		err := db.SetFavorite(ctx, c.Param("name"), favorite)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "place not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"place": c.Param("name"), "favorite": favorite})
	}
}

// --- alert rules ---

type alertRuleRequest struct {
	Name      string  `json:"name" binding:"required"`
	Metric    string  `json:"metric" binding:"required"`
	Operator  string  `json:"operator" binding:"required"`
	Threshold float64 `json:"threshold"`
	Severity  string  `json:"severity" binding:"required"`
	Message   string  `json:"message"`
	Active    bool    `json:"active"`
}

func listAlertRulesHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		rules, err := db.ListAlertRules(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"rules": rules, "count": len(rules)})
	}
}

func createAlertRuleHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req alertRuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		rule := &storage.AlertRule{
			Name:      req.Name,
			Metric:    req.Metric,
			Operator:  req.Operator,
			Threshold: req.Threshold,
			Severity:  req.Severity,
			Message:   req.Message,
			Active:    req.Active,
		}
		if err := db.CreateAlertRule(ctx, rule); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, rule)
	}
}

func updateAlertRuleHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert rule id"})
			return
		}

		var req alertRuleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		rule := &storage.AlertRule{
			ID:        id,
			Name:      req.Name,
			Metric:    req.Metric,
			Operator:  req.Operator,
			Threshold: req.Threshold,
			Severity:  req.Severity,
			Message:   req.Message,
			Active:    req.Active,
		}
		err = db.UpdateAlertRule(ctx, rule)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert rule not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, rule)
	}
}

func deleteAlertRuleHandler(db *storage.PostgresClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert rule id"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		err = db.DeleteAlertRule(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "alert rule not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// --- admin ---

func manualUpdateHandler(engine *scheduler.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		// synchronous on purpose: the admin sees the cycle's outcome
		stats := engine.TriggerManualUpdate(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"message": "weather update completed",
			"stats":   stats,
		})
	}
}

func rateLimitStatusHandler(pipeline *admission.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientKey := admission.ClientKey(
			c.Request.Header.Get("X-Forwarded-For"),
			c.Request.Header.Get("X-Real-IP"),
			c.Request.RemoteAddr,
		)

		remaining := map[string]int{}
		for _, class := range []admission.EndpointClass{
			admission.ClassAdmin,
			admission.ClassWeather,
			admission.ClassPlaceWrite,
			admission.ClassPlaceRead,
			admission.ClassOther,
		} {
			remaining[string(class)] = pipeline.Available(clientKey, class)
		}

		c.JSON(http.StatusOK, gin.H{
			"client":    clientKey,
			"remaining": remaining,
		})
	}
}
