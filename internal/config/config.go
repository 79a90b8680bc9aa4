package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/weather-series/internal/common"
	"github.com/i474232898/weather-series/internal/store"
	"github.com/i474232898/weather-series/internal/weather"
	"github.com/i474232898/weather-series/internal/weather/providers"
)

type AppConfig struct {
	Port string `validate:"required,numeric"`

	// Datasets served by the API and created when the store is opened.
	Datasets []string `validate:"required,min=1,dive,dataset"`

	// Remote source of full dataset snapshots.
	RemoteBaseURL      string `validate:"required,url"`
	RemotePathTemplate string `validate:"required,contains={dataset}"`
	RemoteMaxRetries   int    `validate:"min=0,max=10"`
	HTTPTimeout        time.Duration

	// Persistent store.
	StoreDriver        string `validate:"oneof=badger sqlite memory"`
	StorePath          string
	StoreSchemaVersion int `validate:"min=1"`

	// WarmInterval controls how often the cache warmer resolves every dataset (0 = disabled).
	WarmInterval time.Duration `validate:"min=0"`

	MetricsEnabled bool
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.Datasets = common.SplitList(getenvDefault("DATASETS", strings.Join(weather.DefaultDatasets, ",")))

	cfg.RemoteBaseURL = getenvDefault("REMOTE_BASE_URL", "http://localhost:8081")
	cfg.RemotePathTemplate = getenvDefault("REMOTE_PATH_TEMPLATE", providers.DefaultPathTemplate)
	cfg.RemoteMaxRetries = getenvInt("REMOTE_MAX_RETRIES", 0)

	timeout, err := time.ParseDuration(getenvDefault("HTTP_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	cfg.StoreDriver = getenvDefault("STORE_DRIVER", store.DriverBadger)
	cfg.StorePath = getenvDefault("STORE_PATH", "data/weather-series")
	cfg.StoreSchemaVersion = getenvInt("STORE_SCHEMA_VERSION", 1)

	// Warm every hour by default; a populated dataset costs a single scan.
	warm, err := time.ParseDuration(getenvDefault("WARM_INTERVAL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("invalid WARM_INTERVAL: %w", err)
	}
	cfg.WarmInterval = warm

	enabled, err := strconv.ParseBool(getenvDefault("METRICS_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid METRICS_ENABLED: %w", err)
	}
	cfg.MetricsEnabled = enabled

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// StoreConfig returns the settings for store.New.
func (c *AppConfig) StoreConfig() store.Config {
	return store.Config{
		Driver:        c.StoreDriver,
		Path:          c.StorePath,
		Datasets:      c.Datasets,
		SchemaVersion: c.StoreSchemaVersion,
	}
}

// RemoteConfig returns the settings for providers.NewDatasetSource.
func (c *AppConfig) RemoteConfig() providers.DatasetSourceConfig {
	return providers.DatasetSourceConfig{
		BaseURL:      c.RemoteBaseURL,
		PathTemplate: c.RemotePathTemplate,
		MaxRetries:   c.RemoteMaxRetries,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("dataset", func(fl validator.FieldLevel) bool {
		return weather.ValidDatasetName(fl.Field().String())
	})
	return v
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
