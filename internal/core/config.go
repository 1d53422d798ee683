// Package core provides configuration management for weathergate
package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClassLimit is a (capacity, refill interval) pair for one endpoint class.
type ClassLimit struct {
	Capacity int    `yaml:"capacity"`
	Interval string `yaml:"interval"`
}

// Config holds all weathergate configuration with validation
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Version  string `yaml:"version"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Port   int    `yaml:"port"`
		APIKey string `yaml:"api_key"`
	} `yaml:"server"`

	Database struct {
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		User           string `yaml:"user"`
		Password       string `yaml:"password"`
		DBName         string `yaml:"dbname"`
		MaxConnections int    `yaml:"max_connections"`
	} `yaml:"database"`

	Redis struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		CacheTTL string `yaml:"cache_ttl"`
	} `yaml:"redis"`

	Upstream struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"upstream"`

	Admission struct {
		DDoSPerMinute      int                   `yaml:"ddos_per_minute"`
		BlockFor           string                `yaml:"block_for"`
		SuspicionThreshold int                   `yaml:"suspicion_threshold"`
		BucketHighWater    int                   `yaml:"bucket_high_water"`
		Limits             map[string]ClassLimit `yaml:"limits"`
	} `yaml:"admission"`

	Scheduler struct {
		RefreshEvery string `yaml:"refresh_every"`
		StartupAfter string `yaml:"startup_after"`
		CallDelay    string `yaml:"call_delay"`
		CleanupHour  int    `yaml:"cleanup_hour"`
	} `yaml:"scheduler"`
}

// endpoint class names accepted under admission.limits
var limitClasses = []string{"admin", "weather", "place_write", "place_read", "other"}

// LoadConfig reads and validates configuration from YAML file
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.ApplyEnvOverrides()
	return &config, nil
}

// applyDefaults fills the tunables the original deployment ran with, so a
// minimal config file only has to name the app, database and API key.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 25
	}
	if c.Redis.CacheTTL == "" {
		c.Redis.CacheTTL = "10m"
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://api.open-meteo.com"
	}
	if c.Upstream.Timeout == "" {
		c.Upstream.Timeout = "10s"
	}
	if c.Admission.DDoSPerMinute == 0 {
		c.Admission.DDoSPerMinute = 100
	}
	if c.Admission.BlockFor == "" {
		c.Admission.BlockFor = "15m"
	}
	if c.Admission.SuspicionThreshold == 0 {
		c.Admission.SuspicionThreshold = 10
	}
	if c.Admission.BucketHighWater == 0 {
		c.Admission.BucketHighWater = 10000
	}
	if c.Admission.Limits == nil {
		c.Admission.Limits = map[string]ClassLimit{}
	}
	defaults := map[string]ClassLimit{
		"admin":       {Capacity: 10, Interval: "1m"},
		"weather":     {Capacity: 30, Interval: "1m"},
		"place_write": {Capacity: 20, Interval: "1m"},
		"place_read":  {Capacity: 60, Interval: "1m"},
		"other":       {Capacity: 60, Interval: "1m"},
	}
	for name, limit := range defaults {
		if _, ok := c.Admission.Limits[name]; !ok {
			c.Admission.Limits[name] = limit
		}
	}
	if c.Scheduler.RefreshEvery == "" {
		c.Scheduler.RefreshEvery = "30m"
	}
	if c.Scheduler.StartupAfter == "" {
		c.Scheduler.StartupAfter = "30s"
	}
	if c.Scheduler.CallDelay == "" {
		c.Scheduler.CallDelay = "1s"
	}
	if c.Scheduler.CleanupHour == 0 {
		c.Scheduler.CleanupHour = 2
	}
}

// Validate checks if configuration values are valid
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name cannot be empty")
	}
	if c.App.Version == "" {
		return fmt.Errorf("app.version cannot be empty")
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.App.LogLevel] {
		return fmt.Errorf("app.log_level must be one of: debug, info, warn, error")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Server.APIKey == "" {
		return fmt.Errorf("server.api_key cannot be empty")
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database.host cannot be empty")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535")
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user cannot be empty")
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database.dbname cannot be empty")
	}
	if c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database.max_connections must be positive")
	}

	if !strings.HasPrefix(c.Upstream.BaseURL, "http://") && !strings.HasPrefix(c.Upstream.BaseURL, "https://") {
		return fmt.Errorf("upstream.base_url must start with http:// or https://")
	}

	if c.Admission.DDoSPerMinute <= 0 {
		return fmt.Errorf("admission.ddos_per_minute must be positive")
	}
	if c.Admission.SuspicionThreshold <= 0 {
		return fmt.Errorf("admission.suspicion_threshold must be positive")
	}
	if c.Admission.BucketHighWater <= 0 {
		return fmt.Errorf("admission.bucket_high_water must be positive")
	}
	for _, name := range limitClasses {
		limit, ok := c.Admission.Limits[name]
		if !ok {
			return fmt.Errorf("admission.limits.%s is required", name)
		}
		if limit.Capacity <= 0 {
			return fmt.Errorf("admission.limits.%s.capacity must be positive", name)
		}
		if _, err := time.ParseDuration(limit.Interval); err != nil {
			return fmt.Errorf("admission.limits.%s.interval is not a duration: %w", name, err)
		}
	}

	for field, value := range map[string]string{
		"redis.cache_ttl":         c.Redis.CacheTTL,
		"upstream.timeout":        c.Upstream.Timeout,
		"admission.block_for":     c.Admission.BlockFor,
		"scheduler.refresh_every": c.Scheduler.RefreshEvery,
		"scheduler.startup_after": c.Scheduler.StartupAfter,
		"scheduler.call_delay":    c.Scheduler.CallDelay,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s is not a duration: %w", field, err)
		}
	}
	if c.Scheduler.CleanupHour < 0 || c.Scheduler.CleanupHour > 23 {
		return fmt.Errorf("scheduler.cleanup_hour must be between 0 and 23")
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("WEATHERGATE_DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if user := os.Getenv("WEATHERGATE_DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("WEATHERGATE_DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if dbname := os.Getenv("WEATHERGATE_DB_NAME"); dbname != "" {
		c.Database.DBName = dbname
	}
	if host := os.Getenv("WEATHERGATE_REDIS_HOST"); host != "" {
		c.Redis.Host = host
	}
	if apiKey := os.Getenv("WEATHERGATE_API_KEY"); apiKey != "" {
		c.Server.APIKey = apiKey
	}
	if logLevel := os.Getenv("WEATHERGATE_LOG_LEVEL"); logLevel != "" {
		c.App.LogLevel = logLevel
	}
}

// Duration returns an already-validated duration field.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

// GetDatabaseURL returns PostgreSQL connection string
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable&pool_max_conns=%d",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.MaxConnections,
	)
}

// GetRedisAddr returns the host:port address of the cache.
func (c *Config) GetRedisAddr() string {
	if c.Redis.Host == "" {
		return ""
	}
	port := c.Redis.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", c.Redis.Host, port)
}
