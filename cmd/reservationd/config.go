package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type config struct {
	ListenAddr     string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	// memory | sqlite | redis
	StoreBackend      string        `env:"STORE_BACKEND" envDefault:"memory"`
	LockTimeout       time.Duration `env:"LOCK_TIMEOUT" envDefault:"2s"`
	SQLitePath        string        `env:"SQLITE_PATH" envDefault:"reservations.db"`
	SQLiteBusyTimeout time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"2s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"reservation"`

	RetryMaxAttempts    int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialBackoff time.Duration `env:"RETRY_INITIAL_BACKOFF" envDefault:"10ms"`
	RetryMaxBackoff     time.Duration `env:"RETRY_MAX_BACKOFF" envDefault:"200ms"`
	// Retry-After devolvido ao cliente em TRANSIENT_CONFLICT.
	RetryAfter time.Duration `env:"RETRY_AFTER" envDefault:"1s"`

	CatalogPath string `env:"CATALOG_PATH"`

	// lista separada por vírgula: log,redis,kafka (fan-out)
	Notifiers          []string      `env:"NOTIFIER" envDefault:"log" envSeparator:","`
	NotifyRedisChannel string        `env:"NOTIFY_REDIS_CHANNEL" envDefault:"reservation:events"`
	KafkaBrokers       []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic         string        `env:"KAFKA_TOPIC" envDefault:"reservation-events"`
	NotifyQueueSize    int           `env:"NOTIFY_QUEUE_SIZE" envDefault:"1024"`
	NotifyTimeout      time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`

	StatsEnabled        bool          `env:"STATS_ENABLED" envDefault:"false"`
	StatsBackend        string        `env:"STATS_BACKEND" envDefault:"memory"`
	StatsPrefix         string        `env:"STATS_PREFIX" envDefault:"reservation:stats"`
	StatsTTL            time.Duration `env:"STATS_TTL" envDefault:"24h"`
	StatsBucket         string        `env:"STATS_BUCKET" envDefault:"minute"`
	StatsTrackResources bool          `env:"STATS_TRACK_RESOURCES" envDefault:"false"`

	// jwt | header
	AuthMode   string        `env:"AUTH_MODE" envDefault:"jwt"`
	JWTSecret  string        `env:"JWT_SECRET"`
	JWTIssuer  string        `env:"JWT_ISSUER"`
	JWTLeeway  time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
	UserHeader string        `env:"USER_HEADER" envDefault:"Authorization"`

	RateEnabled         bool    `env:"RATE_ENABLED" envDefault:"true"`
	RateRPS             float64 `env:"RATE_RPS" envDefault:"5"`
	RateBurst           int     `env:"RATE_BURST" envDefault:"10"`
	AddRateLimitHeaders bool    `env:"ADD_RATELIMIT_HEADERS" envDefault:"false"`

	// 0 desliga o limite de requisições em andamento.
	MaxInFlight     int           `env:"MAX_IN_FLIGHT" envDefault:"0"`
	InFlightTimeout time.Duration `env:"IN_FLIGHT_TIMEOUT" envDefault:"100ms"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"reservationd"`
}

func readConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.StatsBackend = strings.ToLower(strings.TrimSpace(cfg.StatsBackend))
	cfg.StatsBucket = strings.ToLower(strings.TrimSpace(cfg.StatsBucket))
	cfg.AuthMode = strings.ToLower(strings.TrimSpace(cfg.AuthMode))
	for i, n := range cfg.Notifiers {
		cfg.Notifiers[i] = strings.ToLower(strings.TrimSpace(n))
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

// needsRedis indica se algum componente configurado usa o cliente Redis.
func (c config) needsRedis() bool {
	return c.StoreBackend == "redis" ||
		(c.StatsEnabled && c.StatsBackend == "redis") ||
		slices.Contains(c.Notifiers, "redis")
}

func (c config) validate() error {
	switch c.StoreBackend {
	case "memory", "redis":
	case "sqlite":
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required when STORE_BACKEND=sqlite")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, sqlite or redis, got %q", c.StoreBackend)
	}

	if c.needsRedis() && strings.TrimSpace(c.RedisAddr) == "" {
		return errors.New("REDIS_ADDR is required when a redis component is enabled")
	}

	for _, n := range c.Notifiers {
		switch n {
		case "log", "redis", "none":
		case "kafka":
			if len(c.KafkaBrokers) == 0 {
				return errors.New("KAFKA_BROKERS is required when NOTIFIER includes kafka")
			}
			if strings.TrimSpace(c.KafkaTopic) == "" {
				return errors.New("KAFKA_TOPIC is required when NOTIFIER includes kafka")
			}
		default:
			return fmt.Errorf("unknown NOTIFIER %q", n)
		}
	}

	if c.StatsEnabled && c.StatsBackend != "memory" && c.StatsBackend != "redis" {
		return fmt.Errorf("STATS_BACKEND must be memory or redis, got %q", c.StatsBackend)
	}
	if c.StatsEnabled && c.StatsBackend == "redis" && !slices.Contains([]string{"minute", "hour", "none"}, c.StatsBucket) {
		return fmt.Errorf("STATS_BUCKET must be minute, hour or none, got %q", c.StatsBucket)
	}

	switch c.AuthMode {
	case "jwt":
		if c.JWTSecret == "" {
			return errors.New("JWT_SECRET is required when AUTH_MODE=jwt")
		}
	case "header":
	default:
		return fmt.Errorf("AUTH_MODE must be jwt or header, got %q", c.AuthMode)
	}

	if c.MaxInFlight < 0 {
		return errors.New("MAX_IN_FLIGHT must be >= 0")
	}
	if c.RetryMaxAttempts <= 0 {
		return errors.New("RETRY_MAX_ATTEMPTS must be > 0")
	}
	if c.RateEnabled {
		if c.RateRPS <= 0 {
			return errors.New("RATE_RPS must be > 0")
		}
		if c.RateBurst <= 0 {
			return errors.New("RATE_BURST must be > 0")
		}
	}
	return nil
}
