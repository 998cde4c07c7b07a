package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Env       string
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Events    EventsConfig
	Forecast  ForecastConfig
	Scheduler SchedulerConfig
	Allocator AllocatorConfig
	OTEL      OTELConfig
	Log       LogConfig
}

// StoreConfig selects the resource directory backend
type StoreConfig struct {
	Backend string // memory | postgres
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers []string
	GroupID string
}

// EventsConfig selects the resource event transport
type EventsConfig struct {
	Backend string // none | local | redis | kafka
}

// ForecastConfig holds demand predictor configuration
type ForecastConfig struct {
	Provider           string // static | http
	URL                string
	Timeout            time.Duration
	CacheTTLSeconds    int
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
	MaxDays            int
	StaticDemand       map[string]float64
}

// SchedulerConfig holds queue scheduler tuning
type SchedulerConfig struct {
	AverageConsultationMinutes int
	Timezone                   string
	HistoryTermsPath           string
}

// AllocatorConfig holds bed allocator tuning
type AllocatorConfig struct {
	MinBuffer      int
	FallbackBandKm float64
	TxMaxAttempts  int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	staticDemand, err := parseDemand(v.GetString("FORECAST_STATIC_DEMAND"))
	if err != nil {
		return nil, fmt.Errorf("parse FORECAST_STATIC_DEMAND: %w", err)
	}

	cfg := &Config{
		Env: v.GetString("APP_ENV"),
		Store: StoreConfig{
			Backend: strings.ToLower(v.GetString("STORE_BACKEND")),
		},
		Database: DatabaseConfig{
			Host:         v.GetString("DB_HOST"),
			Port:         v.GetInt("DB_PORT"),
			User:         v.GetString("DB_USER"),
			Password:     v.GetString("DB_PASSWORD"),
			Database:     v.GetString("DB_NAME"),
			SSLMode:      v.GetString("DB_SSLMODE"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("REDIS_ENABLED"),
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("KAFKA_BROKERS")),
			GroupID: v.GetString("KAFKA_GROUP_ID"),
		},
		Events: EventsConfig{
			Backend: strings.ToLower(v.GetString("EVENTS_BACKEND")),
		},
		Forecast: ForecastConfig{
			Provider:           strings.ToLower(v.GetString("FORECAST_PROVIDER")),
			URL:                v.GetString("FORECAST_URL"),
			Timeout:            v.GetDuration("FORECAST_TIMEOUT"),
			CacheTTLSeconds:    v.GetInt("FORECAST_CACHE_TTL_SECONDS"),
			BreakerMaxFailures: v.GetUint32("FORECAST_BREAKER_MAX_FAILURES"),
			BreakerOpenTimeout: v.GetDuration("FORECAST_BREAKER_OPEN_TIMEOUT"),
			MaxDays:            v.GetInt("FORECAST_MAX_DAYS"),
			StaticDemand:       staticDemand,
		},
		Scheduler: SchedulerConfig{
			AverageConsultationMinutes: v.GetInt("SCHEDULER_AVG_CONSULTATION_MINUTES"),
			Timezone:                   v.GetString("SCHEDULER_TIMEZONE"),
			HistoryTermsPath:           v.GetString("SCHEDULER_HISTORY_TERMS_PATH"),
		},
		Allocator: AllocatorConfig{
			MinBuffer:      v.GetInt("ALLOCATOR_MIN_BUFFER"),
			FallbackBandKm: v.GetFloat64("ALLOCATOR_FALLBACK_BAND_KM"),
			TxMaxAttempts:  v.GetInt("ALLOCATOR_TX_MAX_ATTEMPTS"),
		},
		OTEL: OTELConfig{
			ServiceName:    v.GetString("OTEL_SERVICE_NAME"),
			ServiceVersion: v.GetString("OTEL_SERVICE_VERSION"),
			Endpoint:       v.GetString("OTEL_ENDPOINT"),
			Enabled:        v.GetBool("OTEL_ENABLED"),
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("STORE_BACKEND", "memory")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "careflow")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_ID", "careflow")
	v.SetDefault("EVENTS_BACKEND", "local")

	v.SetDefault("FORECAST_PROVIDER", "static")
	v.SetDefault("FORECAST_URL", "http://localhost:5000")
	v.SetDefault("FORECAST_TIMEOUT", "2s")
	v.SetDefault("FORECAST_CACHE_TTL_SECONDS", 600)
	v.SetDefault("FORECAST_BREAKER_MAX_FAILURES", 5)
	v.SetDefault("FORECAST_BREAKER_OPEN_TIMEOUT", "30s")
	v.SetDefault("FORECAST_MAX_DAYS", 30)
	v.SetDefault("FORECAST_STATIC_DEMAND", "ICU:2,General:12,Emergency:4,Special Care:1")

	v.SetDefault("SCHEDULER_AVG_CONSULTATION_MINUTES", 15)
	v.SetDefault("SCHEDULER_TIMEZONE", "Local")
	v.SetDefault("SCHEDULER_HISTORY_TERMS_PATH", "")

	v.SetDefault("ALLOCATOR_MIN_BUFFER", 2)
	v.SetDefault("ALLOCATOR_FALLBACK_BAND_KM", 0)
	v.SetDefault("ALLOCATOR_TX_MAX_ATTEMPTS", 5)

	v.SetDefault("OTEL_SERVICE_NAME", "careflow")
	v.SetDefault("OTEL_SERVICE_VERSION", "1.0.0")
	v.SetDefault("OTEL_ENDPOINT", "")
	v.SetDefault("OTEL_ENABLED", false)

	v.SetDefault("LOG_LEVEL", "info")
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	switch c.Events.Backend {
	case "none", "local", "redis", "kafka":
	default:
		return fmt.Errorf("unsupported EVENTS_BACKEND %q", c.Events.Backend)
	}
	switch c.Forecast.Provider {
	case "static", "http":
	default:
		return fmt.Errorf("unsupported FORECAST_PROVIDER %q", c.Forecast.Provider)
	}
	if c.Scheduler.AverageConsultationMinutes <= 0 {
		return fmt.Errorf("SCHEDULER_AVG_CONSULTATION_MINUTES must be positive")
	}
	if c.Allocator.MinBuffer < 0 {
		return fmt.Errorf("ALLOCATOR_MIN_BUFFER must not be negative")
	}
	if c.Forecast.Timeout <= 0 {
		return fmt.Errorf("FORECAST_TIMEOUT must be positive")
	}
	return nil
}

// IsDev reports whether the service runs in development mode
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves the scheduler timezone used for calendar-day boundaries
func (c *SchedulerConfig) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDemand parses "Ward:demand" pairs separated by commas.
func parseDemand(raw string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, pair := range splitList(raw) {
		name, value, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("expected ward:demand, got %q", pair)
		}
		demand, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid demand for %q: %w", name, err)
		}
		out[strings.TrimSpace(name)] = demand
	}
	return out, nil
}
