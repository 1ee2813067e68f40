// Package config loads the service configuration.
//
// Values are layered, later sources overriding earlier ones:
//
//  1. Built-in defaults
//  2. An optional YAML file (CONFIG_PATH, or ./config.yaml)
//  3. Environment variables
//
// Environment variables use the MEAL_ prefix with a double underscore between section and
// field, e.g. MEAL_EXPLORATION__TARGET_SIZE=30. A handful of conventional names such as
// DATABASE_URL and GEMINI_API_KEY are also accepted.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the variable holding an explicit config file path
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix prefixes every structured environment variable
const EnvPrefix = "MEAL_"

// DefaultConfigPaths are searched when CONFIG_PATH is unset
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/meal-learner/config.yaml",
}

// Config is the complete service configuration
type Config struct {
	Log            LogConfig            `koanf:"log"`
	Server         ServerConfig         `koanf:"server"`
	Database       DatabaseConfig       `koanf:"database"`
	Queue          QueueConfig          `koanf:"queue"`
	Worker         WorkerConfig         `koanf:"worker"`
	Guard          GuardConfig          `koanf:"guard"`
	Catalog        CatalogConfig        `koanf:"catalog"`
	Candidates     CandidatesConfig     `koanf:"candidates"`
	Exploration    ExplorationConfig    `koanf:"exploration"`
	Recommendation RecommendationConfig `koanf:"recommendation"`
	Oracle         OracleConfig         `koanf:"oracle"`
	Feedback       FeedbackConfig       `koanf:"feedback"`
	Tracing        TracingConfig        `koanf:"tracing"`
}

type LogConfig struct {
	Mode  string `koanf:"mode" validate:"oneof=dev prod"`
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

type ServerConfig struct {
	Addr            string          `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration   `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration   `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration   `koanf:"shutdown_timeout" validate:"gt=0"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled bool `koanf:"enabled"`
	// DefaultPerMinute applies to every route without its own limit
	DefaultPerMinute int `koanf:"default_per_minute" validate:"gte=1"`
	// TriggersPerMinute limits POST /triggers per client
	TriggersPerMinute int           `koanf:"triggers_per_minute" validate:"gte=1"`
	CleanupInterval   time.Duration `koanf:"cleanup_interval" validate:"gte=0"`
}

type DatabaseConfig struct {
	// Driver is postgres, or memory for local runs and demos
	Driver         string `koanf:"driver" validate:"oneof=postgres memory"`
	URL            string `koanf:"url"`
	MigrateOnStart bool   `koanf:"migrate_on_start"`
}

type QueueConfig struct {
	Backend   string `koanf:"backend" validate:"oneof=memory redis"`
	Size      int    `koanf:"size" validate:"gt=0"`
	RedisAddr string `koanf:"redis_addr"`
	RedisKey  string `koanf:"redis_key" validate:"required"`
}

type WorkerConfig struct {
	Concurrency int `koanf:"concurrency" validate:"gte=1,lte=64"`
}

type GuardConfig struct {
	PendingTTL      time.Duration `koanf:"pending_ttl" validate:"gt=0"`
	ReclaimInterval time.Duration `koanf:"reclaim_interval" validate:"gte=0"`
}

type CatalogConfig struct {
	// Source is file or s3
	Source        string        `koanf:"source" validate:"oneof=file s3"`
	ManifestPath  string        `koanf:"manifest_path"`
	TaxonomyPath  string        `koanf:"taxonomy_path"`
	S3Bucket      string        `koanf:"s3_bucket"`
	S3ManifestKey string        `koanf:"s3_manifest_key"`
	S3TaxonomyKey string        `koanf:"s3_taxonomy_key"`
	CacheTTL      time.Duration `koanf:"cache_ttl" validate:"gte=0"`
}

type CandidatesConfig struct {
	MaxPoolSize   int  `koanf:"max_pool_size" validate:"gte=0"`
	ExcludeRecent bool `koanf:"exclude_recent"`
}

type ExplorationConfig struct {
	TargetSize          int           `koanf:"target_size" validate:"gte=1"`
	PerArchetypeLimit   int           `koanf:"per_archetype_limit" validate:"gte=1"`
	MaxConcurrency      int           `koanf:"max_concurrency" validate:"gte=1"`
	Timeout             time.Duration `koanf:"timeout" validate:"gt=0"`
	EmptyFallbackToPool bool          `koanf:"empty_fallback_to_pool"`
}

type RecommendationConfig struct {
	TargetCount int           `koanf:"target_count" validate:"gte=1"`
	Timeout     time.Duration `koanf:"timeout" validate:"gt=0"`
}

type OracleConfig struct {
	// Provider is gemini, or fake for offline runs that pick the first candidates
	Provider      string        `koanf:"provider" validate:"oneof=gemini fake"`
	APIKey        string        `koanf:"api_key"`
	LiteModel     string        `koanf:"lite_model"`
	StandardModel string        `koanf:"standard_model"`
	Temperature   float32       `koanf:"temperature" validate:"gte=0,lte=2"`
	Breaker       BreakerConfig `koanf:"breaker"`
}

type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MaxRequests  uint32        `koanf:"max_requests" validate:"gte=1"`
	Interval     time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout      time.Duration `koanf:"timeout" validate:"gt=0"`
	MinRequests  uint32        `koanf:"min_requests" validate:"gte=1"`
	FailureRatio float64       `koanf:"failure_ratio" validate:"gt=0,lte=1"`
}

type FeedbackConfig struct {
	// Sources are the feedback_events.source values read into the snapshot
	Sources []string `koanf:"sources" validate:"dive,required"`
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

func defaultConfig() *Config {
	return &Config{
		Log: LogConfig{Mode: "prod", Level: "info"},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				DefaultPerMinute:  600,
				TriggersPerMinute: 30,
				CleanupInterval:   5 * time.Minute,
			},
		},
		Database: DatabaseConfig{Driver: "postgres", MigrateOnStart: true},
		Queue:    QueueConfig{Backend: "memory", Size: 256, RedisKey: "meal-learner:runs"},
		Worker:   WorkerConfig{Concurrency: 4},
		Guard:    GuardConfig{PendingTTL: 15 * time.Minute, ReclaimInterval: time.Minute},
		Catalog: CatalogConfig{
			Source:       "file",
			ManifestPath: "data/manifest.json",
			TaxonomyPath: "data/taxonomy.json",
			CacheTTL:     5 * time.Minute,
		},
		Candidates: CandidatesConfig{MaxPoolSize: 400},
		Exploration: ExplorationConfig{
			TargetSize:        24,
			PerArchetypeLimit: 20,
			MaxConcurrency:    4,
			Timeout:           45 * time.Second,
		},
		Recommendation: RecommendationConfig{TargetCount: 6, Timeout: 30 * time.Second},
		Oracle: OracleConfig{
			Provider:      "gemini",
			LiteModel:     "gemini-2.5-flash-lite",
			StandardModel: "gemini-2.5-flash",
			Temperature:   0.1,
			Breaker: BreakerConfig{
				Enabled:      true,
				MaxRequests:  3,
				Interval:     time.Minute,
				Timeout:      2 * time.Minute,
				MinRequests:  10,
				FailureRatio: 0.6,
			},
		},
		Feedback: FeedbackConfig{Sources: []string{"app"}},
		Tracing:  TracingConfig{ServiceName: "meal-learner"},
	}
}

// Load builds the configuration from defaults, the optional file and the environment
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings lets the conventional unprefixed names keep working
var envMappings = map[string]string{
	"database_url":   "database.url",
	"gemini_api_key": "oracle.api_key",
	"redis_addr":     "queue.redis_addr",
	"log_level":      "log.level",
	"log_mode":       "log.mode",
	"http_addr":      "server.addr",
}

// envTransformFunc maps an environment variable name to a koanf path. Unknown names map to
// "" and are skipped.
//
//   - MEAL_EXPLORATION__TARGET_SIZE -> exploration.target_size
//   - MEAL_ORACLE__BREAKER__ENABLED -> oracle.breaker.enabled
//   - DATABASE_URL -> database.url
func envTransformFunc(key string) string {
	if strings.HasPrefix(key, EnvPrefix) {
		path := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		return strings.ReplaceAll(path, "__", ".")
	}
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}

var sliceConfigPaths = []string{
	"feedback.sources",
}

// processSliceFields splits comma-separated environment values for slice fields
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks field ranges, then the rules that span fields
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("config error: database.url (or DATABASE_URL) is required for the postgres driver")
	}
	if c.Queue.Backend == "redis" && c.Queue.RedisAddr == "" {
		return fmt.Errorf("config error: queue.redis_addr (or REDIS_ADDR) is required for the redis backend")
	}
	if c.Oracle.Provider == "gemini" && c.Oracle.APIKey == "" {
		return fmt.Errorf("config error: oracle.api_key (or GEMINI_API_KEY) is required for the gemini provider")
	}

	switch c.Catalog.Source {
	case "file":
		if c.Catalog.ManifestPath == "" || c.Catalog.TaxonomyPath == "" {
			return fmt.Errorf("config error: catalog.manifest_path and catalog.taxonomy_path are required for the file source")
		}
	case "s3":
		if c.Catalog.S3Bucket == "" || c.Catalog.S3ManifestKey == "" || c.Catalog.S3TaxonomyKey == "" {
			return fmt.Errorf("config error: catalog.s3_bucket, catalog.s3_manifest_key and catalog.s3_taxonomy_key are required for the s3 source")
		}
	}

	return nil
}
