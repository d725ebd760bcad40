package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	API       APIConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Session   SessionConfig
	Cookie    CookieConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Audit     AuditConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// APIConfig points at the remote REST backend.
type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/console?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// SessionConfig holds durable store and bootstrap settings.
type SessionConfig struct {
	SessionPrefix    string
	TenantPrefix     string
	BootstrapTimeout time.Duration
	GateWait         time.Duration
}

// CookieConfig controls the attributes of cookies the console writes.
type CookieConfig struct {
	Domain   string
	Secure   bool
	HTTPOnly bool
}

// RateLimitConfig throttles login attempts per client IP.
type RateLimitConfig struct {
	LoginPerMinute int
	LoginBurst     int
	IdleTTL        time.Duration
}

// CacheConfig sizes the organization list cache.
type CacheConfig struct {
	OrganizationsSize int
	OrganizationsTTL  time.Duration
}

// AuditConfig controls audit retention.
type AuditConfig struct {
	Retention     time.Duration
	PruneInterval time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Origins returns the CORS origins as a list.
func (c ServerConfig) Origins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		API: APIConfig{
			BaseURL: strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:3001/api"), "/"),
			Timeout: getEnvDuration("API_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 0),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "console"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 4),
		},
		Session: SessionConfig{
			SessionPrefix:    getEnv("SESSION_PREFIX", "console:session:"),
			TenantPrefix:     getEnv("TENANT_PREFIX", "console:tenant:"),
			BootstrapTimeout: getEnvDuration("BOOTSTRAP_TIMEOUT", 5*time.Second),
			GateWait:         getEnvDuration("GATE_WAIT", 3*time.Second),
		},
		Cookie: CookieConfig{
			Domain:   getEnv("COOKIE_DOMAIN", ""),
			Secure:   getEnvBool("COOKIE_SECURE", false),
			HTTPOnly: getEnvBool("COOKIE_HTTP_ONLY", true),
		},
		RateLimit: RateLimitConfig{
			LoginPerMinute: getEnvInt("LOGIN_RATE_PER_MINUTE", 10),
			LoginBurst:     getEnvInt("LOGIN_RATE_BURST", 5),
			IdleTTL:        getEnvDuration("LOGIN_RATE_IDLE_TTL", 10*time.Minute),
		},
		Cache: CacheConfig{
			OrganizationsSize: getEnvInt("ORG_CACHE_SIZE", 1024),
			OrganizationsTTL:  getEnvDuration("ORG_CACHE_TTL", 30*time.Second),
		},
		Audit: AuditConfig{
			Retention:     getEnvDuration("AUDIT_RETENTION", 90*24*time.Hour),
			PruneInterval: getEnvDuration("AUDIT_PRUNE_INTERVAL", time.Hour),
		},
	}
	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
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

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
