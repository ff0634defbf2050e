package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Engine   EngineConfig
	Grading  GradingConfig
	Cache    CacheConfig
	Events   EventsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// JWTConfig holds the shared secret used to decode actor tokens issued
// by the external auth service.
type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// EngineConfig tunes the enrollment engine.
type EngineConfig struct {
	LockTimeout time.Duration
	MaxRetries  int
	MinCredits  float64
	MaxCredits  float64
}

// GradingConfig controls grade classification.
type GradingConfig struct {
	PlusMinusBands bool
	PassPoints     float64
}

// CacheConfig holds TTLs for cached aggregate reads.
type CacheConfig struct {
	GPATTL      time.Duration
	PassRateTTL time.Duration
}

// EventsConfig tunes the notification dispatcher.
type EventsConfig struct {
	Workers      int
	BufferSize   int
	MaxRetries   int
	RedisChannel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		Enabled:  v.GetBool("REDIS_ENABLED"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Engine = EngineConfig{
		LockTimeout: parseDuration(v.GetString("ENGINE_LOCK_TIMEOUT"), 3*time.Second),
		MaxRetries:  v.GetInt("ENGINE_MAX_RETRIES"),
		MinCredits:  v.GetFloat64("ENGINE_MIN_CREDITS"),
		MaxCredits:  v.GetFloat64("ENGINE_MAX_CREDITS"),
	}

	cfg.Grading = GradingConfig{
		PlusMinusBands: v.GetBool("GRADING_PLUS_MINUS_BANDS"),
		PassPoints:     v.GetFloat64("GRADING_PASS_POINTS"),
	}

	cfg.Cache = CacheConfig{
		GPATTL:      parseDuration(v.GetString("CACHE_GPA_TTL"), 5*time.Minute),
		PassRateTTL: parseDuration(v.GetString("CACHE_PASS_RATE_TTL"), 5*time.Minute),
	}

	cfg.Events = EventsConfig{
		Workers:      v.GetInt("EVENTS_WORKERS"),
		BufferSize:   v.GetInt("EVENTS_BUFFER_SIZE"),
		MaxRetries:   v.GetInt("EVENTS_MAX_RETRIES"),
		RedisChannel: v.GetString("EVENTS_REDIS_CHANNEL"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "registrar")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_ENABLED", false)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("ENGINE_LOCK_TIMEOUT", "3s")
	v.SetDefault("ENGINE_MAX_RETRIES", 3)
	v.SetDefault("ENGINE_MIN_CREDITS", 10)
	v.SetDefault("ENGINE_MAX_CREDITS", 40)

	v.SetDefault("GRADING_PLUS_MINUS_BANDS", false)
	v.SetDefault("GRADING_PASS_POINTS", 2.0)

	v.SetDefault("CACHE_GPA_TTL", "5m")
	v.SetDefault("CACHE_PASS_RATE_TTL", "5m")

	v.SetDefault("EVENTS_WORKERS", 2)
	v.SetDefault("EVENTS_BUFFER_SIZE", 64)
	v.SetDefault("EVENTS_MAX_RETRIES", 3)
	v.SetDefault("EVENTS_REDIS_CHANNEL", "registrar.events")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
