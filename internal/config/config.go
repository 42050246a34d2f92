package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Cache backends understood by CACHE_BACKEND.
const (
	CacheBackendMemory = "memory"
	CacheBackendFile   = "file"
	CacheBackendRedis  = "redis"
)

// Config holds all configuration for the chatsync client.
type Config struct {
	// Service settings
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"chatsync"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"console"`
	LogContent      string        `env:"LOG_CONTENT" envDefault:"hashed"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	// Backend - base endpoint for all REST and channel connections
	APIURL    string `env:"API_URL"`
	AuthToken string `env:"AUTH_TOKEN"`

	// Session identity
	UserID   string `env:"USER_ID"`
	UserRole string `env:"USER_ROLE" envDefault:"student"`

	// Realtime channel
	RealtimePath      string        `env:"REALTIME_PATH" envDefault:"/ws"`
	ReconnectAttempts uint64        `env:"REALTIME_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectDelay    time.Duration `env:"REALTIME_RECONNECT_DELAY" envDefault:"1s"`
	DialTimeout       time.Duration `env:"REALTIME_DIAL_TIMEOUT" envDefault:"10s"`

	// Conversation session
	DeliveryAckTimeout time.Duration `env:"DELIVERY_ACK_TIMEOUT" envDefault:"10s"`
	TypingIndicatorTTL time.Duration `env:"TYPING_INDICATOR_TTL" envDefault:"3s"`
	TypingIdleTimeout  time.Duration `env:"TYPING_IDLE_TIMEOUT" envDefault:"2s"`

	// Store gateway and uploads
	HTTPTimeout          time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	UploadMaxBytes       int64         `env:"UPLOAD_MAX_BYTES" envDefault:"10485760"`
	StoreBreakerFailures uint32        `env:"STORE_BREAKER_FAILURES" envDefault:"5"`
	StoreBreakerCooldown time.Duration `env:"STORE_BREAKER_COOLDOWN" envDefault:"30s"`

	// Local cache
	CacheBackend    string `env:"CACHE_BACKEND" envDefault:"file"`
	CacheDir        string `env:"CACHE_DIR" envDefault:".chatsync"`
	CacheMemorySize int    `env:"CACHE_MEMORY_SIZE" envDefault:"256"`
	CacheRedisURL   string `env:"CACHE_REDIS_URL"`

	// OpenTelemetry
	EnableTracing    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	TraceSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"1"`

	// Prometheus endpoint, disabled when empty
	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes the config and checks required values.
func (c *Config) Validate() error {
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	if c.APIURL == "" {
		return fmt.Errorf("API_URL is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("API_URL must be an absolute URL: %q", c.APIURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("API_URL scheme must be http or https, got %q", u.Scheme)
	}

	c.UserRole = strings.ToLower(strings.TrimSpace(c.UserRole))
	if c.UserRole != "student" && c.UserRole != "tutor" {
		return fmt.Errorf("USER_ROLE must be student or tutor, got %q", c.UserRole)
	}

	c.CacheBackend = strings.ToLower(strings.TrimSpace(c.CacheBackend))
	switch c.CacheBackend {
	case CacheBackendMemory, CacheBackendFile:
	case CacheBackendRedis:
		if strings.TrimSpace(c.CacheRedisURL) == "" {
			return fmt.Errorf("CACHE_REDIS_URL is required when CACHE_BACKEND is redis")
		}
	default:
		return fmt.Errorf("unsupported CACHE_BACKEND %q", c.CacheBackend)
	}

	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATIO must be between 0 and 1, got %v", c.TraceSampleRatio)
	}

	if c.UploadMaxBytes <= 0 {
		c.UploadMaxBytes = 10 * 1024 * 1024
	}
	if c.CacheMemorySize <= 0 {
		c.CacheMemorySize = 256
	}
	return nil
}

// RealtimeURL returns the websocket endpoint derived from API_URL.
func (c *Config) RealtimeURL() string {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(c.RealtimePath, "/")
	return u.String()
}
