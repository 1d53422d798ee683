package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/grupp3/weathergate/internal/admission"
	"github.com/grupp3/weathergate/internal/core"
	"github.com/grupp3/weathergate/internal/scheduler"
	"github.com/grupp3/weathergate/internal/storage"
	"github.com/grupp3/weathergate/internal/weather"
	"github.com/grupp3/weathergate/pkg/logger"
)

func main() {
	configPath := os.Getenv("WEATHERGATE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/weathergate.yaml"
	}

	config, err := core.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Config load failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(config.App.LogLevel); err != nil {
		fmt.Printf("Logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := storage.NewPostgresClient(config.GetDatabaseURL(), logger.Log)
	if err != nil {
		logger.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.Health(ctx); err != nil {
		logger.Fatal("Database health check failed", zap.Error(err))
	}

	var cache *weather.Cache
	if addr := config.GetRedisAddr(); addr != "" {
		cache, err = weather.NewCache(addr, config.Redis.Password, config.Redis.DB,
			core.Duration(config.Redis.CacheTTL), logger.Log)
		if err != nil {
			logger.Warn("Weather cache unavailable, reads go straight to the provider", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	upstream := weather.NewClient(config.Upstream.BaseURL, core.Duration(config.Upstream.Timeout), logger.Log)
	weatherService := weather.NewService(upstream, cache, logger.Log)

	classLimits := map[admission.EndpointClass]admission.ClassLimit{
		admission.ClassAdmin:      classLimit(config, "admin"),
		admission.ClassWeather:    classLimit(config, "weather"),
		admission.ClassPlaceWrite: classLimit(config, "place_write"),
		admission.ClassPlaceRead:  classLimit(config, "place_read"),
		admission.ClassOther:      classLimit(config, "other"),
	}
	limiter := admission.NewBucketLimiter(
		admission.WithVolumeLimit(classLimits, config.Admission.DDoSPerMinute),
		config.Admission.BucketHighWater,
		nil,
	)
	registry := admission.NewBlockRegistry(core.Duration(config.Admission.BlockFor), nil)
	detector := admission.NewDetector(limiter, registry, config.Admission.SuspicionThreshold, nil)
	gate := admission.NewCredentialGate(config.Server.APIKey)
	pipeline := admission.NewPipeline(gate, limiter, detector, registry, logger.Log)

	engine := scheduler.NewEngine(db, upstream, limiter, scheduler.Options{
		RefreshInterval: core.Duration(config.Scheduler.RefreshEvery),
		StartupDelay:    core.Duration(config.Scheduler.StartupAfter),
		CallDelay:       core.Duration(config.Scheduler.CallDelay),
		CleanupHour:     config.Scheduler.CleanupHour,
	}, logger.Log)

	engineCtx, engineCancel := context.WithCancel(context.Background())
	defer engineCancel()

	go func() {
		if err := engine.Start(engineCtx); err != nil && err != context.Canceled {
			logger.Error("Scheduler error", zap.Error(err))
		}
	}()

	if config.App.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), ginLogger(), admission.Middleware(pipeline))

	router.GET("/health", healthHandler(db, config))
	router.GET("/ready", readyHandler(db))
	router.GET("/status", statusHandler(config))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/weather/:name/current", getCurrentWeatherHandler(db, weatherService))
	router.GET("/weather/:name/forecast", getForecastHandler(db))
	router.GET("/weather/:name/history", getHistoryHandler(db))

	router.GET("/places", listPlacesHandler(db))
	router.POST("/places", createPlaceHandler(db))
	router.GET("/places/:name", getPlaceHandler(db))
	router.DELETE("/places/:name", deletePlaceHandler(db))

	router.GET("/favorites", listFavoritesHandler(db))
	router.PUT("/favorites/:name", setFavoriteHandler(db, true))
	router.DELETE("/favorites/:name", setFavoriteHandler(db, false))

	admin := router.Group("/admin")
	{
		admin.GET("/alerts", listAlertRulesHandler(db))
		admin.POST("/alerts", createAlertRuleHandler(db))
		admin.PUT("/alerts/:id", updateAlertRuleHandler(db))
		admin.DELETE("/alerts/:id", deleteAlertRuleHandler(db))

		admin.POST("/update", manualUpdateHandler(engine))
		admin.GET("/rate-limit", rateLimitStatusHandler(pipeline))
	}

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", config.Server.Port),
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		logger.Info("HTTP server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	engineCancel()
}

func classLimit(config *core.Config, name string) admission.ClassLimit {
	limit := config.Admission.Limits[name]
	return admission.ClassLimit{
		Capacity: limit.Capacity,
		Interval: core.Duration(limit.Interval),
	}
}

func ginLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
