package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every knob the storefront reads at startup. Values come
// from the environment, with a .env file loaded beforehand for local runs.
type Config struct {
	HTTPPort        string        `mapstructure:"HTTP_PORT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`

	BackendAPIURL  string `mapstructure:"BACKEND_API_URL"`
	UpstreamOrigin string `mapstructure:"UPSTREAM_ORIGIN"`

	CatalogDBPath  string `mapstructure:"CATALOG_DB_PATH"`
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH"`

	CacheVersion string `mapstructure:"CACHE_VERSION"`
}

func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", 10*time.Second)
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB_NAME", "storefront")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("BACKEND_API_URL", "http://localhost:9000")
	v.SetDefault("UPSTREAM_ORIGIN", "http://localhost:3000")
	v.SetDefault("CATALOG_DB_PATH", "./catalog.db")
	v.SetDefault("MIGRATIONS_PATH", "migrations/catalog")
	v.SetDefault("CACHE_VERSION", "v2")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// KAFKA_BROKERS arrives as a comma-separated string from the environment.
	if raw := v.GetString("KAFKA_BROKERS"); raw != "" {
		cfg.KafkaBrokers = strings.Split(raw, ",")
	}

	return &cfg, nil
}
