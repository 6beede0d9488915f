package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Signaling SignalingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds the PostgreSQL connection string for the call-history
// recorder. An empty URL disables history recording.
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis connection settings for the lifecycle event
// publisher. An empty Addr disables publishing.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds token validation settings. Tokens are minted by the main
// API; this server only validates them.
type JWTConfig struct {
	Secret string
}

// SignalingConfig holds call-session coordination settings.
type SignalingConfig struct {
	// ReapIntervalSec is how often the idle-session sweep runs.
	ReapIntervalSec int
	// IdleTimeoutSec is how long a session may go without activity before
	// the sweep force-closes it.
	IdleTimeoutSec int
	// MaxSessions caps concurrent sessions; 0 means unlimited.
	MaxSessions int
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Database: DatabaseConfig{
			URL: getEnv("DATABASE_URL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "change-me-in-production"),
		},
		Signaling: SignalingConfig{
			ReapIntervalSec: getEnvInt("SIGNAL_REAP_INTERVAL_SEC", 60),
			IdleTimeoutSec:  getEnvInt("SIGNAL_IDLE_TIMEOUT_SEC", 600),
			MaxSessions:     getEnvInt("SIGNAL_MAX_SESSIONS", 0),
		},
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
