package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds database configuration
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds access/refresh token configuration
type JWTConfig struct {
	SigningKey        string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	PermissionVersion int
}

// RateLimitConfig holds the windows and thresholds for the three limiters.
// Auth applies to login/register, API to everything behind authentication,
// Strict to credential-sensitive operations.
type RateLimitConfig struct {
	AuthWindow     time.Duration
	AuthMax        int64
	APIWindow      time.Duration
	APIMax         int64
	StrictWindow   time.Duration
	StrictMax      int64
	TrustForwarded bool
	StoreTimeout   time.Duration
}

// RedisConfig holds the optional Redis connection for rate-limit counters.
// An empty Addr selects the in-process counter store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WorkspaceConfig toggles the multi-workspace capability
type WorkspaceConfig struct {
	Enabled bool
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// Config holds all configuration
type Config struct {
	DB        DBConfig
	Server    ServerConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Workspace WorkspaceConfig
	Log       LogConfig
	Metrics   MetricsConfig
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "crm_auth"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8081"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey:        getEnv("JWT_SIGNING_KEY", "authservicesecretkey"),
			AccessTokenTTL:    getEnvAsDuration("JWT_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL:   getEnvAsDuration("JWT_REFRESH_TOKEN_TTL", 14*24*time.Hour),
			PermissionVersion: getEnvAsInt("JWT_PERMISSION_VERSION", 1),
		},
		RateLimit: RateLimitConfig{
			AuthWindow:     getEnvAsDuration("RATE_LIMIT_AUTH_WINDOW", 15*time.Minute),
			AuthMax:        int64(getEnvAsInt("RATE_LIMIT_AUTH_MAX", 10)),
			APIWindow:      getEnvAsDuration("RATE_LIMIT_API_WINDOW", 60*time.Second),
			APIMax:         int64(getEnvAsInt("RATE_LIMIT_API_MAX", 100)),
			StrictWindow:   getEnvAsDuration("RATE_LIMIT_STRICT_WINDOW", 60*time.Minute),
			StrictMax:      int64(getEnvAsInt("RATE_LIMIT_STRICT_MAX", 5)),
			TrustForwarded: getEnvAsBool("RATE_LIMIT_TRUST_FORWARDED", true),
			StoreTimeout:   getEnvAsDuration("RATE_LIMIT_STORE_TIMEOUT", 2*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Workspace: WorkspaceConfig{
			Enabled: getEnvAsBool("WORKSPACES_ENABLED", true),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "auth"),
		},
	}

	return config, nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_port", c.DB.Port),
		zap.String("db_name", c.DB.DBName),
		zap.String("server_port", c.Server.Port),
		zap.Bool("workspaces_enabled", c.Workspace.Enabled),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as booleans
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
