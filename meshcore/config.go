package meshcore

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every configuration knob for a mesh node. It follows the
// teacher's three-layer priority: defaults, then environment variables
// (GOMESH_* prefix), then functional options applied last.
type Config struct {
	InstanceID string `json:"instance_id" env:"GOMESH_INSTANCE_ID"`
	Hostname   string `json:"hostname" env:"GOMESH_HOSTNAME"`
	Port       int    `json:"port" env:"GOMESH_PORT" default:"8443"`
	Namespace  string `json:"namespace" env:"GOMESH_NAMESPACE" default:"default"`

	HTTP       HTTPConfig
	Auth       AuthConfig
	TLS        TLSConfig
	Discovery  DiscoveryConfig
	SyncPolicy SyncPolicyConfig
	Logging    LoggingConfig
	Resilience ResilienceConfig
	Dev        DevelopmentConfig

	logger Logger `json:"-"`
}

// HTTPConfig contains server timeouts and CORS.
type HTTPConfig struct {
	ReadTimeout     time.Duration `json:"read_timeout" env:"GOMESH_HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"GOMESH_HTTP_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout     time.Duration `json:"idle_timeout" env:"GOMESH_HTTP_IDLE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"GOMESH_HTTP_SHUTDOWN_TIMEOUT" default:"30s"`
	CORS            CORSConfig
}

// CORSConfig configures cross-origin access for the public API.
type CORSConfig struct {
	Enabled          bool     `json:"enabled" env:"GOMESH_CORS_ENABLED" default:"false"`
	AllowedOrigins   []string `json:"allowed_origins" env:"GOMESH_CORS_ORIGINS"`
	AllowedMethods   []string `json:"allowed_methods" env:"GOMESH_CORS_METHODS" default:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string `json:"allowed_headers" env:"GOMESH_CORS_HEADERS" default:"Content-Type,Authorization"`
	AllowCredentials bool     `json:"allow_credentials" env:"GOMESH_CORS_CREDENTIALS" default:"false"`
	MaxAge           int      `json:"max_age" env:"GOMESH_CORS_MAX_AGE" default:"86400"`
}

// AuthConfig configures bearer-token issuance and PBKDF2 cost.
type AuthConfig struct {
	Enabled          bool          `json:"enabled" env:"GOMESH_AUTH_ENABLED" default:"true"`
	SigningKey       string        `json:"-" env:"GOMESH_AUTH_SIGNING_KEY"`
	TokenTTL         time.Duration `json:"token_ttl" env:"GOMESH_AUTH_TOKEN_TTL" default:"1h"`
	PBKDF2Iterations int           `json:"pbkdf2_iterations" env:"GOMESH_AUTH_PBKDF2_ITERATIONS" default:"100000"`
}

// TLSConfig configures the self-issued certificate.
type TLSConfig struct {
	CertPath     string   `json:"cert_path" env:"GOMESH_TLS_CERT_PATH"`
	KeyPath      string   `json:"key_path" env:"GOMESH_TLS_KEY_PATH"`
	ValidityDays int      `json:"validity_days" env:"GOMESH_TLS_VALIDITY_DAYS" default:"365"`
	ExtraSANs    []string `json:"extra_sans" env:"GOMESH_TLS_EXTRA_SANS"`
}

// DiscoveryConfig configures peer discovery backing.
type DiscoveryConfig struct {
	StaleTimeout  time.Duration `json:"stale_timeout" env:"GOMESH_DISCOVERY_STALE_TIMEOUT" default:"30s"`
	SweepInterval time.Duration `json:"sweep_interval" env:"GOMESH_DISCOVERY_SWEEP_INTERVAL" default:"10s"`
}

// SyncPolicyConfig configures the background sync coordinator.
type SyncPolicyConfig struct {
	Interval           time.Duration `json:"interval" env:"GOMESH_SYNC_INTERVAL" default:"60s"`
	MaxConcurrentSyncs int           `json:"max_concurrent_syncs" env:"GOMESH_SYNC_MAX_CONCURRENCY" default:"3"`
	RetryInterval      time.Duration `json:"retry_interval" env:"GOMESH_SYNC_RETRY_INTERVAL" default:"5s"`
	MaxRetries         int           `json:"max_retries" env:"GOMESH_SYNC_MAX_RETRIES" default:"3"`
	RequestTimeout     time.Duration `json:"request_timeout" env:"GOMESH_SYNC_REQUEST_TIMEOUT" default:"30s"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `json:"level" env:"GOMESH_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"GOMESH_LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"GOMESH_LOG_OUTPUT" default:"stdout"`
}

// ResilienceConfig bounds circuit breaker / retry behavior for outbound
// mesh calls.
type ResilienceConfig struct {
	CircuitBreakerThreshold   int           `json:"cb_threshold" env:"GOMESH_CB_THRESHOLD" default:"5"`
	CircuitBreakerTimeout     time.Duration `json:"cb_timeout" env:"GOMESH_CB_TIMEOUT" default:"30s"`
	CircuitBreakerHalfOpenMax int           `json:"cb_half_open_max" env:"GOMESH_CB_HALF_OPEN_MAX" default:"3"`
}

// DevelopmentConfig enables local-dev conveniences; never set true in prod.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"GOMESH_DEV_MODE" default:"false"`
	PrettyLogs   bool `json:"pretty_logs" env:"GOMESH_PRETTY_LOGS" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"GOMESH_DEBUG" default:"false"`
}

// Option configures a Config; returning an error aborts NewConfig.
type Option func(*Config) error

// DefaultConfig returns sane defaults matching the struct tags above.
func DefaultConfig() *Config {
	return &Config{
		Port:      8443,
		Namespace: "default",
		HTTP: HTTPConfig{
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:         86400,
			},
		},
		Auth: AuthConfig{
			Enabled:          true,
			TokenTTL:         time.Hour,
			PBKDF2Iterations: 100_000,
		},
		TLS: TLSConfig{ValidityDays: 365},
		Discovery: DiscoveryConfig{
			StaleTimeout:  30 * time.Second,
			SweepInterval: 10 * time.Second,
		},
		SyncPolicy: SyncPolicyConfig{
			Interval:           60 * time.Second,
			MaxConcurrentSyncs: 3,
			RetryInterval:      5 * time.Second,
			MaxRetries:         3,
			RequestTimeout:     30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Resilience: ResilienceConfig{
			CircuitBreakerThreshold:   5,
			CircuitBreakerTimeout:     30 * time.Second,
			CircuitBreakerHalfOpenMax: 3,
		},
	}
}

// NewConfig builds a Config from defaults, environment variables, then
// functional options, and finally validates the result. Only
// GOMESH_INSTANCE_ID, GOMESH_HOSTNAME, GOMESH_NAMESPACE, GOMESH_PORT,
// GOMESH_AUTH_SIGNING_KEY, GOMESH_SYNC_INTERVAL and GOMESH_LOG_LEVEL are
// read; the env/default struct tags are not read by any loader.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("GOMESH_INSTANCE_ID"); v != "" {
		cfg.InstanceID = v
	}
	if v := os.Getenv("GOMESH_HOSTNAME"); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv("GOMESH_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv("GOMESH_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("GOMESH_AUTH_SIGNING_KEY"); v != "" {
		cfg.Auth.SigningKey = v
	}
	if v := os.Getenv("GOMESH_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncPolicy.Interval = d
		}
	}
	if v := os.Getenv("GOMESH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("applying config option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.Dev, cfg.InstanceID)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks invariants that functional options and env parsing
// cannot enforce on their own.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidInput, c.Port)
	}
	if c.Auth.Enabled && c.Auth.SigningKey == "" {
		return fmt.Errorf("%w: auth enabled but signing key is empty", ErrInvalidInput)
	}
	if c.Auth.PBKDF2Iterations < 1000 {
		return fmt.Errorf("%w: pbkdf2 iteration count too low", ErrInvalidInput)
	}
	if c.SyncPolicy.MaxConcurrentSyncs < 1 {
		return fmt.Errorf("%w: max concurrent syncs must be >= 1", ErrInvalidInput)
	}
	return nil
}

// Logger returns the configured logger, defaulting to a no-op.
func (c *Config) Logger() Logger {
	if c.logger == nil {
		return NoOpLogger{}
	}
	return c.logger
}

// WithInstanceID sets a stable instance id for the process lifetime.
func WithInstanceID(id string) Option {
	return func(c *Config) error { c.InstanceID = id; return nil }
}

// WithPort overrides the listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: port out of range", ErrInvalidInput)
		}
		c.Port = port
		return nil
	}
}

// WithSigningKey sets the HMAC key used to sign bearer tokens.
func WithSigningKey(key string) Option {
	return func(c *Config) error { c.Auth.SigningKey = key; return nil }
}

// WithCORS enables CORS for the given origins.
func WithCORS(origins []string, credentials bool) Option {
	return func(c *Config) error {
		c.HTTP.CORS.Enabled = true
		c.HTTP.CORS.AllowedOrigins = origins
		c.HTTP.CORS.AllowCredentials = credentials
		return nil
	}
}

// WithLogger injects a pre-built logger, bypassing ProductionLogger.
func WithLogger(l Logger) Option {
	return func(c *Config) error { c.logger = l; return nil }
}
