package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "evidenced.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "EVIDENCED_PORT")
	setString(&cfg.Server.AdminAPIKey, "EVIDENCED_ADMIN_API_KEY")
	setFloat64(&cfg.Server.RateLimitRPS, "EVIDENCED_RATE_LIMIT_RPS")
	setInt(&cfg.Server.RateLimitBurst, "EVIDENCED_RATE_LIMIT_BURST")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "EVIDENCED_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "EVIDENCED_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "EVIDENCED_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "EVIDENCED_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "EVIDENCED_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "EVIDENCED_LOG_LEVEL")
	setString(&cfg.Logging.Service, "EVIDENCED_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "EVIDENCED_LOG_ASYNC")

	// Cache
	setBool(&cfg.Cache.Enabled, "EVIDENCED_CACHE_ENABLED")
	setString(&cfg.Cache.Backend, "EVIDENCED_CACHE_BACKEND")
	setInt64(&cfg.Cache.L1MaxSizeMB, "EVIDENCED_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.L1TTL, "EVIDENCED_CACHE_L1_TTL")
	setDuration(&cfg.Cache.SearchTTL, "EVIDENCED_CACHE_SEARCH_TTL")
	setDuration(&cfg.Cache.ReliabilityTTL, "EVIDENCED_CACHE_RELIABILITY_TTL")
	setDuration(&cfg.Cache.ReliabilityFilteredTTL, "EVIDENCED_CACHE_RELIABILITY_FILTERED_TTL")
	setDuration(&cfg.Cache.ReliabilityNegativeTTL, "EVIDENCED_CACHE_RELIABILITY_NEGATIVE_TTL")

	// Breaker
	setInt(&cfg.Breaker.FailureThreshold, "EVIDENCED_BREAKER_FAILURE_THRESHOLD")
	setDuration(&cfg.Breaker.ResetTimeout, "EVIDENCED_BREAKER_RESET_TIMEOUT")

	// Consensus
	setFloat64(&cfg.Consensus.SpreadThreshold, "EVIDENCED_CONSENSUS_SPREAD_THRESHOLD")
	setFloat64(&cfg.Consensus.ConfidenceThreshold, "EVIDENCED_CONSENSUS_CONFIDENCE_THRESHOLD")
	setInt(&cfg.Consensus.FanOut, "EVIDENCED_CONSENSUS_FAN_OUT")

	// Filter
	setBool(&cfg.Filter.SuffixesEnabled, "EVIDENCED_FILTER_SUFFIXES_ENABLED")
	setBool(&cfg.Filter.PatternsEnabled, "EVIDENCED_FILTER_PATTERNS_ENABLED")

	// Prefetch
	setInt(&cfg.Prefetch.MaxInFlight, "EVIDENCED_PREFETCH_MAX_IN_FLIGHT")
	setInt(&cfg.Prefetch.WritebackBuffer, "EVIDENCED_WRITEBACK_BUFFER")
	setDuration(&cfg.Prefetch.WritebackTimeout, "EVIDENCED_WRITEBACK_TIMEOUT")

	// Per-provider and per-evaluator credentials, keyed by upper-cased name:
	// EVIDENCED_PROVIDER_SERPER_API_KEY, EVIDENCED_EVALUATOR_JUDGE_A_API_KEY, ...
	for i := range cfg.Providers {
		key := envName(cfg.Providers[i].Name)
		setString(&cfg.Providers[i].APIKey, "EVIDENCED_PROVIDER_"+key+"_API_KEY")
		setString(&cfg.Providers[i].BaseURL, "EVIDENCED_PROVIDER_"+key+"_BASE_URL")
		setBool(&cfg.Providers[i].Enabled, "EVIDENCED_PROVIDER_"+key+"_ENABLED")
	}
	for i := range cfg.Evaluators {
		key := envName(cfg.Evaluators[i].Name)
		setString(&cfg.Evaluators[i].APIKey, "EVIDENCED_EVALUATOR_"+key+"_API_KEY")
		setString(&cfg.Evaluators[i].BaseURL, "EVIDENCED_EVALUATOR_"+key+"_BASE_URL")
		setString(&cfg.Evaluators[i].Model, "EVIDENCED_EVALUATOR_"+key+"_MODEL")
		setBool(&cfg.Evaluators[i].Enabled, "EVIDENCED_EVALUATOR_"+key+"_ENABLED")
	}
}

// validate checks that required fields are set. Failures here are the only
// class of error that halts initialization.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch cfg.Cache.Backend {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required with the postgres cache backend")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "memory":
	default:
		return fmt.Errorf("cache.backend must be \"postgres\" or \"memory\", got %q", cfg.Cache.Backend)
	}
	if cfg.Breaker.FailureThreshold < 1 {
		return errors.New("breaker.failure_threshold must be >= 1")
	}
	if cfg.Breaker.ResetTimeout <= 0 {
		return errors.New("breaker.reset_timeout must be positive")
	}
	if cfg.Consensus.FanOut < 2 {
		return errors.New("consensus.fan_out must be >= 2")
	}
	if cfg.Consensus.SpreadThreshold < 0 || cfg.Consensus.SpreadThreshold > 1 {
		return errors.New("consensus.spread_threshold must be in [0,1]")
	}
	if cfg.Consensus.ConfidenceThreshold < 0 || cfg.Consensus.ConfidenceThreshold > 1 {
		return errors.New("consensus.confidence_threshold must be in [0,1]")
	}
	if len(cfg.Providers) == 0 {
		return errors.New("at least one search provider must be configured")
	}
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return errors.New("provider name is required")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
