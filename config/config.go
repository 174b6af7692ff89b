package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	Server struct {
		Port        string   `env:"PORT" envDefault:"8080"`
		CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	}

	Store struct {
		// Driver selects the sale record store: sqlite or postgres
		Driver      string `env:"STORE_DRIVER" envDefault:"sqlite"`
		SQLitePath  string `env:"SQLITE_PATH" envDefault:"data/sales.db"`
		PostgresDSN string `env:"POSTGRES_DSN"`
	}

	Cache struct {
		Enabled  bool          `env:"CACHE_ENABLED" envDefault:"false"`
		Addr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
		Password string        `env:"REDIS_PASSWORD"`
		DB       int           `env:"REDIS_DB" envDefault:"0"`
		TTL      time.Duration `env:"CACHE_TTL" envDefault:"10m"`

		// Interval between cache warm-up runs; zero disables warming
		WarmInterval time.Duration `env:"CACHE_WARM_INTERVAL" envDefault:"15m"`
	}

	Analytics struct {
		DefaultYear         int     `env:"DEFAULT_YEAR" envDefault:"2024"`
		LeaderboardSize     int     `env:"LEADERBOARD_SIZE" envDefault:"5"`
		MapTopK             int     `env:"MAP_TOP_K" envDefault:"10"`
		NeighborsPerCluster int     `env:"MAP_NEIGHBORS_PER_CLUSTER" envDefault:"5"`
		NeighborRadiusKm    float64 `env:"MAP_NEIGHBOR_RADIUS_KM" envDefault:"5"`
	}

	// BatchProcessing configuration
	BatchProcessing struct {
		// Maximum number of sales accepted in one ingestion request
		MaxBatchSize int `env:"BATCH_MAX_SIZE" envDefault:"1000"`

		// Number of batches the queue buffers before rejecting new ones
		QueueSize int `env:"BATCH_QUEUE_SIZE" envDefault:"100"`

		// Number of concurrent batch processors
		ProcessorCount int `env:"BATCH_PROCESSOR_COUNT" envDefault:"2"`

		// Maximum number of retries for failed batches
		MaxRetries int `env:"BATCH_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds
		RetryDelay int `env:"BATCH_RETRY_DELAY" envDefault:"5"`
	}

	MetricsNamespace string `env:"METRICS_NAMESPACE" envDefault:"growthmap"`
	LogLevel         string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads the given .env files, or ./.env when none are given, and
// parses the environment. Missing files are skipped; variables already set in
// the environment win over file values.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	if c.Analytics.DefaultYear <= 0 {
		return errors.New("DEFAULT_YEAR must be positive")
	}
	if c.Analytics.LeaderboardSize <= 0 || c.Analytics.MapTopK <= 0 {
		return errors.New("LEADERBOARD_SIZE and MAP_TOP_K must be positive")
	}
	if c.Analytics.NeighborsPerCluster < 1 || c.Analytics.NeighborsPerCluster > 5 {
		return errors.New("MAP_NEIGHBORS_PER_CLUSTER must be between 1 and 5")
	}
	if c.Analytics.NeighborRadiusKm <= 0 {
		return errors.New("MAP_NEIGHBOR_RADIUS_KM must be positive")
	}
	if c.BatchProcessing.MaxBatchSize <= 0 || c.BatchProcessing.QueueSize <= 0 || c.BatchProcessing.ProcessorCount <= 0 {
		return errors.New("batch sizes and processor count must be positive")
	}
	if c.Cache.WarmInterval < 0 {
		return errors.New("CACHE_WARM_INTERVAL must not be negative")
	}
	if c.BatchProcessing.MaxRetries < 0 || c.BatchProcessing.RetryDelay < 0 {
		return errors.New("batch retries and delay must not be negative")
	}
	return nil
}
