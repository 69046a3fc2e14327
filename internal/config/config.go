// Package config loads process configuration from environment variables,
// with an optional YAML overlay, following the struct-of-structs shape of
// the teacher's internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration object threaded through every
// component's constructor. Component settings are read from the
// environment only in this package; the two other direct os.Getenv reads
// are CONFIG_FILE in main and APP_ENV in internal/logging.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Processor   ProcessorConfig   `yaml:"processor"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Settlements SettlementsConfig `yaml:"settlements"`
	Chain       ChainConfig       `yaml:"chain"`
	Retry       RetryConfig       `yaml:"retry"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Auth        AuthConfig        `yaml:"auth"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProcessorConfig governs the bet worker pool (C8).
type ProcessorConfig struct {
	WorkerCount           int           `yaml:"worker_count"`
	SettlementWorkerCount int           `yaml:"settlement_worker_count"`
	BatchInterval         time.Duration `yaml:"batch_interval"`
	BatchSize             int           `yaml:"batch_size"`
	MaxBetsPerTx          int           `yaml:"max_bets_per_tx"`
	MaxStuckTime          time.Duration `yaml:"max_stuck_time"`
	ShutdownBudget        time.Duration `yaml:"shutdown_budget"`
}

// CoordinatorConfig governs the settlement coordinator (C6).
type CoordinatorConfig struct {
	Enabled            bool          `yaml:"enabled"`
	ChannelBufferSize  int           `yaml:"channel_buffer_size"`
	BatchMinSize       int           `yaml:"batch_min_size"`
	BatchMaxSize       int           `yaml:"batch_max_size"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	SettlementPageSize int           `yaml:"settlement_batch_size"`
}

// SettlementsConfig governs the settlements client (C2).
type SettlementsConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	RatePerMin  int           `yaml:"rate_per_minute"`
}

// ChainConfig governs the chain gateway (C1).
type ChainConfig struct {
	RPCURLs           []string      `yaml:"rpc_urls"`
	HealthCheckPeriod time.Duration `yaml:"health_check_period"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// RetryConfig governs the bet retry policy (C4).
type RetryConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	BackoffMax    time.Duration `yaml:"backoff_max"`
	SettlementMax int           `yaml:"settlement_max_retries"`
}

// BreakerConfig governs the per-worker circuit breaker (C5).
type BreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type MetricsConfig struct {
	Port int `yaml:"port"`
}

// ReconcileConfig governs the opt-in stuck-bet reconciliation sweep.
type ReconcileConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxStuckTime  time.Duration `yaml:"max_stuck_time"`
	MaxRetries    int           `yaml:"max_retries"`
	PageSize      int           `yaml:"page_size"`
}

// Load reads environment variables (falling back to defaults), then merges
// an optional YAML file on top of the env-derived struct if yamlPath is
// non-empty and exists. Environment variables named after the original
// Rust processor's config (PROCESSOR_*, COORDINATOR_*, BLOCKCHAIN_*) are
// honored for operational continuity with that system.
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Processor: ProcessorConfig{
			WorkerCount:           getEnvInt("PROCESSOR_WORKER_COUNT", 10),
			SettlementWorkerCount: getEnvInt("SETTLEMENT_WORKER_COUNT", 4),
			BatchInterval:         getEnvSeconds("PROCESSOR_BATCH_INTERVAL_SECONDS", 30),
			BatchSize:             getEnvInt("PROCESSOR_BATCH_SIZE", 100),
			MaxBetsPerTx:          getEnvInt("PROCESSOR_MAX_BETS_PER_TX", 12),
			MaxStuckTime:          getEnvSeconds("PROCESSOR_MAX_STUCK_TIME_SECONDS", 120),
			ShutdownBudget:        getEnvSeconds("PROCESSOR_SHUTDOWN_BUDGET_SECONDS", 30),
		},
		Coordinator: CoordinatorConfig{
			Enabled:            getEnvBool("COORDINATOR_ENABLED", true),
			ChannelBufferSize:  getEnvInt("COORDINATOR_CHANNEL_BUFFER_SIZE", 100),
			BatchMinSize:       getEnvInt("COORDINATOR_BATCH_MIN_SIZE", 3),
			BatchMaxSize:       getEnvInt("COORDINATOR_BATCH_MAX_SIZE", 12),
			PollInterval:       getEnvSeconds("BLOCKCHAIN_POLL_INTERVAL_SECONDS", 10),
			SettlementPageSize: getEnvInt("BLOCKCHAIN_SETTLEMENT_BATCH_SIZE", 50),
		},
		Settlements: SettlementsConfig{
			BaseURL:     getEnv("BLOCKCHAIN_API_URL", "http://localhost:9000"),
			APIKey:      getEnv("BLOCKCHAIN_API_KEY", ""),
			HTTPTimeout: getEnvSeconds("SETTLEMENTS_HTTP_TIMEOUT_SECONDS", 10),
			RatePerMin:  getEnvInt("SETTLEMENTS_RATE_PER_MINUTE", 3000),
		},
		Chain: ChainConfig{
			RPCURLs:           getEnvList("SOLANA_RPC_URLS", []string{"http://localhost:8899"}),
			HealthCheckPeriod: getEnvSeconds("CHAIN_HEALTH_CHECK_PERIOD_SECONDS", 60),
			RequestsPerSecond: getEnvFloat("CHAIN_REQUESTS_PER_SECOND", 20),
			Burst:             getEnvInt("CHAIN_BURST", 5),
		},
		Retry: RetryConfig{
			MaxRetries:    getEnvInt("BET_MAX_RETRIES", 5),
			BackoffBase:   getEnvMillis("BET_RETRY_BACKOFF_BASE_MS", 2000),
			BackoffMax:    getEnvMillis("BET_RETRY_BACKOFF_MAX_MS", 60000),
			SettlementMax: getEnvInt("SETTLEMENT_MAX_RETRIES", 3),
		},
		Breaker: BreakerConfig{
			FailureThreshold: uint32(getEnvInt("BREAKER_FAILURE_THRESHOLD", 5)),
			ResetTimeout:     getEnvSeconds("BREAKER_RESET_TIMEOUT_SECONDS", 60),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
		},
		Metrics: MetricsConfig{
			Port: getEnvInt("PROCESSOR_METRICS_PORT", 9091),
		},
		Reconcile: ReconcileConfig{
			Enabled:       getEnvBool("RECONCILE_ENABLED", false),
			SweepInterval: getEnvSeconds("RECONCILE_SWEEP_INTERVAL_SECONDS", 300),
			MaxStuckTime:  getEnvSeconds("PROCESSOR_MAX_STUCK_TIME_SECONDS", 120),
			MaxRetries:    getEnvInt("BET_MAX_RETRIES", 5),
			PageSize:      getEnvInt("RECONCILE_PAGE_SIZE", 50),
		},
	}

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defSeconds)) * time.Second
}

func getEnvMillis(key string, defMillis int) time.Duration {
	return time.Duration(getEnvInt(key, defMillis)) * time.Millisecond
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
