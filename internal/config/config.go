package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	TestingMode bool

	ServerPort string

	StoreBackend string // "memory" or "postgres"

	PostgresDSN             string
	PostgresMaxOpenConns    int
	PostgresMaxIdleConns    int
	PostgresConnMaxLifetime time.Duration
	PostgresConnectAttempts int
	PostgresConnectBaseDelay time.Duration
	PostgresConnectMaxDelay  time.Duration

	SessionBackend string // "memory" or "memcached"
	SessionTTL     time.Duration
	SweepInterval  time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	UsernameMinLength int
	UsernameMaxLength int
	PasswordMinLength int
	PasswordMaxLength int

	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleThresholdReqPerMin int
	IdleWindow             time.Duration
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	DegradedRetryInitial   time.Duration
	DegradedRetryMax       time.Duration
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Store struct {
		Backend  string `yaml:"backend"`
		Postgres struct {
			MaxOpenConns     int    `yaml:"max_open_conns"`
			MaxIdleConns     int    `yaml:"max_idle_conns"`
			ConnMaxLifetime  string `yaml:"conn_max_lifetime"`
			ConnectAttempts  int    `yaml:"connect_attempts"`
			ConnectBaseDelay string `yaml:"connect_base_delay"`
			ConnectMaxDelay  string `yaml:"connect_max_delay"`
		} `yaml:"postgres"`
	} `yaml:"store"`

	Session struct {
		Backend       string `yaml:"backend"`
		TTL           string `yaml:"ttl"`
		SweepInterval string `yaml:"sweep_interval"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"session"`

	Accounts struct {
		UsernameMinLength int `yaml:"username_min_length"`
		UsernameMaxLength int `yaml:"username_max_length"`
		PasswordMinLength int `yaml:"password_min_length"`
		PasswordMaxLength int `yaml:"password_max_length"`
	} `yaml:"accounts"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		Breaker        struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
		DegradedRetryInitial   string `yaml:"degraded_retry_initial"`
		DegradedRetryMax       string `yaml:"degraded_retry_max"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// The postgres DSN comes from POSTGRES_DSN env or the secrets file, and is only
// required when the store backend is postgres. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{
		TestingMode: false,
	}
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "80"
	}

	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(os.Getenv("STORE_BACKEND")))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = strings.TrimSpace(strings.ToLower(fc.Store.Backend))
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "memory"
	}

	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	if cfg.PostgresDSN == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.PostgresDSN = sec.PostgresDSN
		}
	}
	cfg.PostgresMaxOpenConns = fc.Store.Postgres.MaxOpenConns
	if cfg.PostgresMaxOpenConns <= 0 {
		cfg.PostgresMaxOpenConns = 10
	}
	cfg.PostgresMaxIdleConns = fc.Store.Postgres.MaxIdleConns
	if cfg.PostgresMaxIdleConns <= 0 {
		cfg.PostgresMaxIdleConns = 5
	}
	cfg.PostgresConnMaxLifetime = parseDuration(fc.Store.Postgres.ConnMaxLifetime, 30*time.Minute)
	cfg.PostgresConnectAttempts = fc.Store.Postgres.ConnectAttempts
	if cfg.PostgresConnectAttempts <= 0 {
		cfg.PostgresConnectAttempts = 5
	}
	cfg.PostgresConnectBaseDelay = parseDuration(fc.Store.Postgres.ConnectBaseDelay, 200*time.Millisecond)
	cfg.PostgresConnectMaxDelay = parseDuration(fc.Store.Postgres.ConnectMaxDelay, 5*time.Second)

	cfg.SessionBackend = strings.TrimSpace(strings.ToLower(os.Getenv("SESSION_BACKEND")))
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = strings.TrimSpace(strings.ToLower(fc.Session.Backend))
	}
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = "memory"
	}
	cfg.SessionTTL = parseDuration(fc.Session.TTL, 24*time.Hour)
	cfg.SweepInterval = parseDuration(fc.Session.SweepInterval, 10*time.Minute)

	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Session.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Session.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Session.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.UsernameMinLength = fc.Accounts.UsernameMinLength
	if cfg.UsernameMinLength <= 0 {
		cfg.UsernameMinLength = 3
	}
	cfg.UsernameMaxLength = fc.Accounts.UsernameMaxLength
	if cfg.UsernameMaxLength <= 0 {
		cfg.UsernameMaxLength = 64
	}
	cfg.PasswordMinLength = fc.Accounts.PasswordMinLength
	if cfg.PasswordMinLength <= 0 {
		cfg.PasswordMinLength = 8
	}
	cfg.PasswordMaxLength = fc.Accounts.PasswordMaxLength
	if cfg.PasswordMaxLength <= 0 {
		cfg.PasswordMaxLength = 128
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.BreakerEnabled = true
	if fc.Reliability.Breaker.Enabled != nil {
		cfg.BreakerEnabled = *fc.Reliability.Breaker.Enabled
	}
	cfg.BreakerFailureThreshold = fc.Reliability.Breaker.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.Breaker.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.Breaker.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	if cfg.IdleThresholdReqPerMin <= 0 {
		cfg.IdleThresholdReqPerMin = 5
	}
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, 5*time.Minute)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, 5*time.Minute)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}
	cfg.DegradedRetryInitial = parseDuration(fc.Lifecycle.DegradedRetryInitial, 1*time.Minute)
	cfg.DegradedRetryMax = parseDuration(fc.Lifecycle.DegradedRetryMax, 20*time.Minute)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal on empty
// string, parse error, or a result <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	switch cfg.StoreBackend {
	case "memory":
		// valid
	case "postgres":
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN required (set env or config/secrets.yaml postgres_dsn)")
		}
	default:
		return fmt.Errorf("store.backend must be memory or postgres, got %q", cfg.StoreBackend)
	}
	switch cfg.SessionBackend {
	case "memory", "memcached":
		// valid
	default:
		return fmt.Errorf("session.backend must be memory or memcached, got %q", cfg.SessionBackend)
	}
	if cfg.UsernameMinLength > cfg.UsernameMaxLength {
		return fmt.Errorf("accounts.username_min_length exceeds username_max_length")
	}
	if cfg.PasswordMinLength > cfg.PasswordMaxLength {
		return fmt.Errorf("accounts.password_min_length exceeds password_max_length")
	}
	return nil
}
