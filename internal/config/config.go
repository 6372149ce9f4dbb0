package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/agentic-reviewer/internal/llm"
	"github.com/miradorstack/agentic-reviewer/internal/models"
)

const envPrefix = "AGENTIC_REVIEWER_"

// Config captures every setting needed to boot the reviewer. It is loaded once
// and passed by value into constructors.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	LLM         LLMConfig         `yaml:"llm"`
	Agents      AgentsConfig      `yaml:"agents"`
	Performance PerformanceConfig `yaml:"performance"`
	Cache       CacheConfig       `yaml:"cache"`
	Selection   SelectionConfig   `yaml:"selection"`
	Store       StoreConfig       `yaml:"store"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig controls the gRPC, HTTP and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	// MaxBatchSamples caps samples per batch request. Zero means unlimited.
	MaxBatchSamples int `yaml:"maxBatchSamples"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LLMConfig selects and tunes the inference backend.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"baseURL"`
	APIKey            string        `yaml:"apiKey"`
	Model             string        `yaml:"model"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"maxTokens"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requestsPerMinute"`
}

// AgentsConfig controls review agents.
type AgentsConfig struct {
	DefaultMode string        `yaml:"defaultMode"`
	LabelsPath  string        `yaml:"labelsPath"`
	CallTimeout time.Duration `yaml:"callTimeout"`
}

// PerformanceConfig bounds fan-out and retries.
type PerformanceConfig struct {
	MaxConcurrentRequests int           `yaml:"maxConcurrentRequests"`
	BatchSize             int           `yaml:"batchSize"`
	MaxRetries            int           `yaml:"maxRetries"`
	InitialBackoff        time.Duration `yaml:"initialBackoff"`
	MaxBackoff            time.Duration `yaml:"maxBackoff"`
	PassTimeout           time.Duration `yaml:"passTimeout"`
}

// CacheConfig controls the in-process response cache and its optional Valkey tier.
type CacheConfig struct {
	Enabled    bool              `yaml:"enabled"`
	TTL        time.Duration     `yaml:"ttl"`
	MaxEntries int               `yaml:"maxEntries"`
	MaxBytes   int64             `yaml:"maxBytes"`
	Remote     RemoteCacheConfig `yaml:"remote"`
}

// RemoteCacheConfig configures the Valkey/Redis tier shared between replicas.
type RemoteCacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SelectionConfig is the default strategy for batch passes.
type SelectionConfig struct {
	Strategy  string  `yaml:"strategy"`
	Threshold float64 `yaml:"threshold"`
	Count     int     `yaml:"count"`
	Seed      *int64  `yaml:"seed"`
}

// StoreConfig controls the SQLite review history.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig controls OTLP span export.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"serviceName"`
	SampleRate  float64 `yaml:"sampleRate"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() Config { return defaultConfig() }

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			MaxBatchSamples: 10000,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		LLM: LLMConfig{
			Provider:    llm.ProviderOllama,
			BaseURL:     llm.DefaultOllamaURL,
			Model:       "mistral",
			Temperature: 0.1,
			MaxTokens:   512,
			Timeout:     60 * time.Second,
		},
		Agents: AgentsConfig{
			DefaultMode: string(models.ModeUnified),
			CallTimeout: 60 * time.Second,
		},
		Performance: PerformanceConfig{
			MaxConcurrentRequests: 5,
			BatchSize:             10,
			MaxRetries:            2,
			InitialBackoff:        500 * time.Millisecond,
			MaxBackoff:            10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTL:        time.Hour,
			MaxEntries: 10000,
			MaxBytes:   64 << 20,
			Remote: RemoteCacheConfig{
				DialTimeout:  2 * time.Second,
				ReadTimeout:  500 * time.Millisecond,
				WriteTimeout: 500 * time.Millisecond,
				MaxRetries:   2,
				KeyPrefix:    "agentic-reviewer:",
				Timeout:      time.Second,
			},
		},
		Selection: SelectionConfig{
			Strategy:  string(models.StrategyLowConfidence),
			Threshold: 0.7,
			Count:     10,
		},
		Store: StoreConfig{Enabled: false, Path: "reviews.db"},
		Tracing: TracingConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "agentic-reviewer",
			SampleRate:  1,
		},
	}
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case llm.ProviderOpenAI, llm.ProviderOllama, llm.ProviderAnthropic, llm.ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if _, err := c.Agents.Mode(); err != nil {
		errs = append(errs, fmt.Errorf("agents.defaultMode: %w", err))
	}
	if c.Server.MaxBatchSamples < 0 {
		errs = append(errs, errors.New("server.maxBatchSamples must not be negative"))
	}
	if c.Performance.MaxConcurrentRequests <= 0 {
		errs = append(errs, errors.New("performance.maxConcurrentRequests must be positive"))
	}
	if c.Performance.BatchSize <= 0 {
		errs = append(errs, errors.New("performance.batchSize must be positive"))
	}
	if c.Performance.MaxRetries < 0 {
		errs = append(errs, errors.New("performance.maxRetries must not be negative"))
	}
	if c.Cache.Remote.Enabled && c.Cache.Remote.Addr == "" {
		errs = append(errs, errors.New("cache.remote.addr is required when the remote tier is enabled"))
	}
	if _, err := c.Selection.DefaultStrategy(); err != nil {
		errs = append(errs, fmt.Errorf("selection: %w", err))
	}
	if c.Store.Enabled && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required when the store is enabled"))
	}
	return errors.Join(errs...)
}

// Mode parses the configured default agent mode. Empty means unified.
func (a AgentsConfig) Mode() (models.AgentMode, error) {
	return models.ParseAgentMode(a.DefaultMode, models.ModeUnified)
}

// DefaultStrategy converts the configured default into a SelectionStrategy.
func (s SelectionConfig) DefaultStrategy() (models.SelectionStrategy, error) {
	return models.ParseStrategy(s.Strategy, s.Threshold, s.Count, s.Seed)
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(envPrefix + key); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(envPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(envPrefix + key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(envPrefix + key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("SERVER_ADDRESS", &cfg.Server.Address)
	str("HTTP_ADDRESS", &cfg.Server.HTTPAddress)
	str("METRICS_ADDRESS", &cfg.Server.MetricsAddress)
	integer("MAX_BATCH_SAMPLES", &cfg.Server.MaxBatchSamples)
	str("LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv(envPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}

	str("LLM_PROVIDER", &cfg.LLM.Provider)
	str("LLM_BASE_URL", &cfg.LLM.BaseURL)
	str("LLM_API_KEY", &cfg.LLM.APIKey)
	str("LLM_MODEL", &cfg.LLM.Model)
	float("LLM_TEMPERATURE", &cfg.LLM.Temperature)
	integer("LLM_MAX_TOKENS", &cfg.LLM.MaxTokens)
	duration("LLM_TIMEOUT", &cfg.LLM.Timeout)
	integer("LLM_REQUESTS_PER_MINUTE", &cfg.LLM.RequestsPerMinute)

	str("AGENT_MODE", &cfg.Agents.DefaultMode)
	str("LABELS_PATH", &cfg.Agents.LabelsPath)
	duration("AGENT_CALL_TIMEOUT", &cfg.Agents.CallTimeout)

	integer("MAX_CONCURRENT_REQUESTS", &cfg.Performance.MaxConcurrentRequests)
	integer("BATCH_SIZE", &cfg.Performance.BatchSize)
	integer("MAX_RETRIES", &cfg.Performance.MaxRetries)
	duration("PASS_TIMEOUT", &cfg.Performance.PassTimeout)

	boolean("CACHE_ENABLED", &cfg.Cache.Enabled)
	duration("CACHE_TTL", &cfg.Cache.TTL)
	integer("CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	boolean("CACHE_REMOTE_ENABLED", &cfg.Cache.Remote.Enabled)
	str("CACHE_REMOTE_ADDR", &cfg.Cache.Remote.Addr)
	str("CACHE_REMOTE_USERNAME", &cfg.Cache.Remote.Username)
	str("CACHE_REMOTE_PASSWORD", &cfg.Cache.Remote.Password)
	integer("CACHE_REMOTE_DB", &cfg.Cache.Remote.DB)
	boolean("CACHE_REMOTE_TLS", &cfg.Cache.Remote.TLS)

	str("SELECTION_STRATEGY", &cfg.Selection.Strategy)
	float("SELECTION_THRESHOLD", &cfg.Selection.Threshold)
	integer("SELECTION_COUNT", &cfg.Selection.Count)
	if v := os.Getenv(envPrefix + "SELECTION_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSELECTION_SEED: %w", envPrefix, err))
		} else {
			cfg.Selection.Seed = &seed
		}
	}

	boolean("STORE_ENABLED", &cfg.Store.Enabled)
	str("STORE_PATH", &cfg.Store.Path)

	boolean("TRACING_ENABLED", &cfg.Tracing.Enabled)
	str("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)

	return errors.Join(errs...)
}
