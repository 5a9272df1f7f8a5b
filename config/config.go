package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"collabcanvas/internal/history"
	"collabcanvas/internal/lock"
	"collabcanvas/internal/presence/channel"
	"collabcanvas/internal/presence/cleanup"
	"collabcanvas/internal/selection"
	"collabcanvas/internal/session"
	"collabcanvas/internal/smoothing"
	"collabcanvas/pkg/logger"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverRedis    = "redis"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Presence  PresenceConfig
	Canvas    CanvasConfig
	Smoothing SmoothingConfig
}

type ServerConfig struct {
	Port     string
	LogLevel string
}

type DatabaseConfig struct {
	Driver   string
	URL      string
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	SSLMode  string
	Migrate  bool
}

// DSN is DATABASE_URL when set, else a URL assembled from the individual parts.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Driver   string
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type AuthConfig struct {
	JWTSecret string
}

type PresenceConfig struct {
	CleanupEnabled      bool
	CleanupInterval     time.Duration
	InactiveAfter       time.Duration
	RemoveAfter         time.Duration
	DragEventsPerSecond float64
	CursorDebounce      time.Duration
	PublishRetryDelay   time.Duration
}

type CanvasConfig struct {
	LockStaleAfter time.Duration
	MaxSelection   int
	HistoryCap     int
}

type SmoothingConfig struct {
	Factor        float64
	Epsilon       float64
	FrameInterval time.Duration
}

// Load reads .env (when present) and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logger.Sugar.Info("No .env file found, using environment variables from OS")
	}

	return &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
			URL:      getEnv("DATABASE_URL", ""),
			User:     getEnv("user", ""),
			Password: getEnv("password", ""),
			Host:     getEnv("host", "localhost"),
			Port:     getEnv("port", "5432"),
			Name:     getEnv("dbname", "postgres"),
			SSLMode:  getEnv("DB_SSLMODE", "require"),
			Migrate:  getBool("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Driver:   strings.ToLower(getEnv("EPHEMERAL_DRIVER", DriverRedis)),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
			Prefix:   getEnv("REDIS_PREFIX", channel.DefaultPrefix),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		Presence: PresenceConfig{
			CleanupEnabled:      getBool("CLEANUP_ENABLED", true),
			CleanupInterval:     getDuration("CLEANUP_INTERVAL", cleanup.DefaultInterval),
			InactiveAfter:       getDuration("PRESENCE_INACTIVE_AFTER", cleanup.DefaultInactiveAfter),
			RemoveAfter:         getDuration("PRESENCE_REMOVE_AFTER", cleanup.DefaultRemoveAfter),
			DragEventsPerSecond: getFloat("DRAG_EVENTS_PER_SECOND", channel.DefaultEventsPerSecond),
			CursorDebounce:      getDuration("CURSOR_DEBOUNCE", session.DefaultCursorDebounce),
			PublishRetryDelay:   getDuration("PUBLISH_RETRY_DELAY", channel.DefaultRetryDelay),
		},
		Canvas: CanvasConfig{
			LockStaleAfter: getDuration("LOCK_STALE_AFTER", lock.DefaultStaleAfter),
			MaxSelection:   getInt("MAX_SELECTION", selection.DefaultMaxSelection),
			HistoryCap:     getInt("HISTORY_CAP", history.DefaultCap),
		},
		Smoothing: SmoothingConfig{
			Factor:        getFloat("SMOOTHING_FACTOR", smoothing.DefaultFactor),
			Epsilon:       getFloat("SMOOTHING_EPSILON", smoothing.DefaultEpsilon),
			FrameInterval: getDuration("FRAME_INTERVAL", smoothing.DefaultFrameInterval),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
		logger.Sugar.Warnf("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		logger.Sugar.Warnf("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		logger.Sugar.Warnf("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		logger.Sugar.Warnf("Ignoring invalid %s=%q", key, value)
	}
	return defaultValue
}
