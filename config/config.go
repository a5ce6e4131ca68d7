package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment is the deployment tier the process runs in.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config is the engine's full configuration, loaded once at startup
// from environment variables.
type Config struct {
	// Application
	App AppConfig

	// HTTP API
	HTTP HTTPConfig

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Content service
	Content ContentConfig

	// Estimation engine
	Engine EngineConfig

	// Item selection policy
	Selector SelectorConfig

	// Item calibration
	Calibration CalibrationConfig

	// Scheduler
	Scheduler SchedulerConfig

	// Feature Flags
	Features *FeatureFlags

	// Observability
	Observability ObservabilityConfig
}

// AppConfig identifies the process.
type AppConfig struct {
	Name        string
	Environment Environment
	Debug       bool
	Version     string

	// ShutdownTimeout bounds graceful drain on SIGTERM.
	ShutdownTimeout time.Duration
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64

	EnableCORS         bool
	AllowedOrigins     []string
	RateLimitPerMinute int

	// API keys for the administrative endpoints. Empty leaves them
	// open (local deployments only).
	AdminAPIKeys []string
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	// Pool sizing.
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration

	// QueryTimeout bounds individual statements.
	QueryTimeout time.Duration
}

// RedisConfig configures the cache and pub/sub connection.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int

	// Pool sizing.
	PoolSize     int
	MinIdleConns int

	// Per-operation timeouts.
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ProfileTTL bounds profile cache staleness.
	ProfileTTL time.Duration

	// Disabled lets development run without Redis; the engine falls
	// back to the in-memory bus and uncached reads.
	Disabled bool
}

// ContentConfig configures the upstream content service client.
type ContentConfig struct {
	BaseURL string
	APIKey  string

	// Client-side throttling, matched to the upstream quota.
	RequestsPerSecond float64
	BurstSize         int
	RequestTimeout    time.Duration
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration

	// Breaker settings guarding the upstream.
	CircuitBreakerThreshold   int
	CircuitBreakerTimeout     time.Duration
	CircuitBreakerHalfOpenMax int

	// Disabled serves item metadata without prompts.
	Disabled bool
}

// EngineConfig holds estimation pipeline settings.
type EngineConfig struct {
	// InferenceTimeout bounds a single sequence-model forward pass.
	// On expiry the attempt commits on the Bayesian estimate alone.
	InferenceTimeout time.Duration

	// Saturation is the attempt count at which estimate confidence
	// reaches 1.
	Saturation int

	// Breaker settings for the sequence model. Tripping enters
	// degraded mode.
	BreakerFailureThreshold int
	BreakerRecoveryTimeout  time.Duration

	// Default Bayesian tracer parameters for skills without overrides.
	DefaultLearn  float64
	DefaultSlip   float64
	DefaultGuess  float64
	DefaultForget float64
	DefaultPrior  float64
}

// SelectorConfig holds item selection thresholds.
type SelectorConfig struct {
	// MasteryFloor gates dependent skills behind prerequisite mastery.
	MasteryFloor float64

	// MasteryCeiling excludes effectively mastered skills.
	MasteryCeiling float64

	// TargetSuccess is the ideal predicted success for a served item.
	TargetSuccess float64

	// BandLow and BandHigh bound the acceptable success range.
	BandLow  float64
	BandHigh float64
}

// CalibrationConfig holds 2PL fitting settings.
type CalibrationConfig struct {
	// Epsilon is the convergence threshold on the parameter step.
	Epsilon float64

	// MaxIterations caps the fitting iterations per item.
	MaxIterations int

	// Damping scales each Newton step. 1.0 takes full steps.
	Damping float64

	// MinResponses is the evidence floor below which items are skipped.
	MinResponses int
}

// SchedulerConfig drives the worker's cron jobs.
type SchedulerConfig struct {
	Enabled bool

	// RecalibrateCron is the cron spec for the calibration pass.
	RecalibrateCron string

	// ReplaySweepCron is the cron spec for the full replay sweep.
	// Runs in a quiet window: replay bypasses the submission queues.
	ReplaySweepCron string

	// Per-job deadlines.
	RecalibrateTimeout time.Duration
	ReplaySweepTimeout time.Duration

	// ReplayMaxFailures aborts the sweep after this many failed
	// students.
	ReplayMaxFailures int
}

// ObservabilityConfig covers logging and the metrics endpoint.
type ObservabilityConfig struct {
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	// Prometheus scrape endpoint.
	MetricsEnabled bool
	MetricsPort    int
}

// Load reads every section from the environment and validates the
// result. A validation failure is fatal at startup.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.App = loadAppConfig()
	cfg.HTTP = loadHTTPConfig()
	cfg.Database = loadDatabaseConfig()
	cfg.Redis = loadRedisConfig()
	cfg.Content = loadContentConfig()
	cfg.Engine = loadEngineConfig()
	cfg.Selector = loadSelectorConfig()
	cfg.Calibration = loadCalibrationConfig()
	cfg.Scheduler = loadSchedulerConfig()
	cfg.Features = LoadFeatureFlags()
	cfg.Observability = loadObservabilityConfig()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("APP_ENV", "development"))

	return AppConfig{
		Name:            getEnv("APP_NAME", "mastery-engine"),
		Environment:     env,
		Debug:           env == EnvDevelopment || getEnvBool("APP_DEBUG", false),
		Version:         getEnv("APP_VERSION", "0.1.0"),
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Host:               getEnv("HTTP_HOST", "0.0.0.0"),
		Port:               getEnvInt("HTTP_PORT", 8080),
		ReadTimeout:        getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:       getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:        getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		RequestTimeout:     getEnvDuration("HTTP_REQUEST_TIMEOUT", 30*time.Second),
		MaxBodyBytes:       int64(getEnvInt("HTTP_MAX_BODY_BYTES", 256<<10)),
		EnableCORS:         getEnvBool("HTTP_ENABLE_CORS", true),
		AllowedOrigins:     getEnvStringSlice("HTTP_ALLOWED_ORIGINS", []string{"*"}),
		RateLimitPerMinute: getEnvInt("HTTP_RATE_LIMIT_PER_MINUTE", 300),
		AdminAPIKeys:       getEnvStringSlice("HTTP_ADMIN_API_KEYS", nil),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		Database:        getEnv("DB_NAME", "mastery"),
		User:            getEnv("DB_USER", "mastery"),
		Password:        getEnv("DB_PASSWORD", ""),
		SSLMode:         getEnv("DB_SSLMODE", "prefer"),
		MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 10)),
		MinConns:        int32(getEnvInt("DB_MIN_CONNS", 2)),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		ConnectTimeout:  getEnvDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		QueryTimeout:    getEnvDuration("DB_QUERY_TIMEOUT", 30*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		ProfileTTL:   getEnvDuration("REDIS_PROFILE_TTL", 10*time.Minute),
		Disabled:     getEnvBool("REDIS_DISABLED", false),
	}
}

func loadContentConfig() ContentConfig {
	return ContentConfig{
		BaseURL:                   getEnv("CONTENT_BASE_URL", ""),
		APIKey:                    getEnv("CONTENT_API_KEY", ""),
		RequestsPerSecond:         getEnvFloat("CONTENT_RATE_LIMIT", 50),
		BurstSize:                 getEnvInt("CONTENT_RATE_LIMIT_BURST", 100),
		RequestTimeout:            getEnvDuration("CONTENT_REQUEST_TIMEOUT", 10*time.Second),
		MaxRetries:                getEnvInt("CONTENT_MAX_RETRIES", 2),
		RetryBaseDelay:            getEnvDuration("CONTENT_RETRY_BASE_DELAY", 200*time.Millisecond),
		RetryMaxDelay:             getEnvDuration("CONTENT_RETRY_MAX_DELAY", 2*time.Second),
		CircuitBreakerThreshold:   getEnvInt("CONTENT_CB_THRESHOLD", 5),
		CircuitBreakerTimeout:     getEnvDuration("CONTENT_CB_TIMEOUT", 30*time.Second),
		CircuitBreakerHalfOpenMax: getEnvInt("CONTENT_CB_HALF_OPEN_MAX", 3),
		Disabled:                  getEnvBool("CONTENT_DISABLED", false),
	}
}

func loadEngineConfig() EngineConfig {
	return EngineConfig{
		InferenceTimeout:        getEnvDuration("ENGINE_INFERENCE_TIMEOUT", 250*time.Millisecond),
		Saturation:              getEnvInt("ENGINE_SATURATION", 20),
		BreakerFailureThreshold: getEnvInt("ENGINE_BREAKER_THRESHOLD", 5),
		BreakerRecoveryTimeout:  getEnvDuration("ENGINE_BREAKER_RECOVERY", 30*time.Second),
		DefaultLearn:            getEnvFloat("ENGINE_DEFAULT_LEARN", 0.20),
		DefaultSlip:             getEnvFloat("ENGINE_DEFAULT_SLIP", 0.10),
		DefaultGuess:            getEnvFloat("ENGINE_DEFAULT_GUESS", 0.20),
		DefaultForget:           getEnvFloat("ENGINE_DEFAULT_FORGET", 0.0),
		DefaultPrior:            getEnvFloat("ENGINE_DEFAULT_PRIOR", 0.30),
	}
}

func loadSelectorConfig() SelectorConfig {
	return SelectorConfig{
		MasteryFloor:   getEnvFloat("SELECTOR_MASTERY_FLOOR", 0.5),
		MasteryCeiling: getEnvFloat("SELECTOR_MASTERY_CEILING", 0.95),
		TargetSuccess:  getEnvFloat("SELECTOR_TARGET_SUCCESS", 0.7),
		BandLow:        getEnvFloat("SELECTOR_BAND_LOW", 0.6),
		BandHigh:       getEnvFloat("SELECTOR_BAND_HIGH", 0.75),
	}
}

func loadCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{
		Epsilon:       getEnvFloat("CALIBRATION_EPSILON", 1e-4),
		MaxIterations: getEnvInt("CALIBRATION_MAX_ITERATIONS", 200),
		Damping:       getEnvFloat("CALIBRATION_DAMPING", 1.0),
		MinResponses:  getEnvInt("CALIBRATION_MIN_RESPONSES", 10),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:            getEnvBool("SCHEDULER_ENABLED", true),
		RecalibrateCron:    getEnv("SCHEDULER_RECALIBRATE_CRON", "0 3 * * *"),
		ReplaySweepCron:    getEnv("SCHEDULER_REPLAY_SWEEP_CRON", "0 4 * * 0"),
		RecalibrateTimeout: getEnvDuration("SCHEDULER_RECALIBRATE_TIMEOUT", 10*time.Minute),
		ReplaySweepTimeout: getEnvDuration("SCHEDULER_REPLAY_SWEEP_TIMEOUT", 30*time.Minute),
		ReplayMaxFailures:  getEnvInt("SCHEDULER_REPLAY_MAX_FAILURES", 10),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		MetricsEnabled: getEnvBool("METRICS_ENABLED", false),
		MetricsPort:    getEnvInt("METRICS_PORT", 9090),
	}
}

// Validate collects every configuration problem into one error so
// operators fix them in a single pass.
func (c *Config) Validate() error {
	var errs []string

	// Production refuses to start half-configured.
	if c.App.Environment == EnvProduction {
		if c.Database.Host == "" {
			errs = append(errs, "DB_HOST is required in production")
		}
		if c.Database.Password == "" {
			errs = append(errs, "DB_PASSWORD is required in production")
		}
		if len(c.HTTP.AdminAPIKeys) == 0 {
			errs = append(errs, "HTTP_ADMIN_API_KEYS is required in production")
		}
	}

	// Model parameters must form a usable tracer.
	if c.Engine.DefaultSlip+c.Engine.DefaultGuess >= 1.0 {
		errs = append(errs, "ENGINE_DEFAULT_SLIP + ENGINE_DEFAULT_GUESS must be < 1.0")
	}
	if c.Engine.DefaultPrior < 0 || c.Engine.DefaultPrior > 1 {
		errs = append(errs, "ENGINE_DEFAULT_PRIOR must be in [0,1]")
	}
	if c.Engine.Saturation <= 0 {
		errs = append(errs, "ENGINE_SATURATION must be positive")
	}
	if c.Engine.InferenceTimeout <= 0 {
		errs = append(errs, "ENGINE_INFERENCE_TIMEOUT must be positive")
	}

	// The success band must be a real interval around the target.
	if c.Selector.BandLow >= c.Selector.BandHigh {
		errs = append(errs, "SELECTOR_BAND_LOW must be below SELECTOR_BAND_HIGH")
	}
	if c.Selector.TargetSuccess < c.Selector.BandLow || c.Selector.TargetSuccess > c.Selector.BandHigh {
		errs = append(errs, "SELECTOR_TARGET_SUCCESS must lie inside the band")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment reports whether this is a development process.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction reports whether this is a production process.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// Environment parsing. Unset or malformed values fall back to the
// default so a typo degrades to known behavior instead of a crash.

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	return parseEnv(key, strconv.ParseBool, fallback)
}

func getEnvInt(key string, fallback int) int {
	return parseEnv(key, strconv.Atoi, fallback)
}

func getEnvFloat(key string, fallback float64) float64 {
	return parseEnv(key, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	}, fallback)
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	return parseEnv(key, time.ParseDuration, fallback)
}

func getEnvStringSlice(key string, fallback []string) []string {
	return parseEnv(key, func(s string) ([]string, error) {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}, fallback)
}

func parseEnv[T any](key string, parse func(string) (T, error), fallback T) T {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}
