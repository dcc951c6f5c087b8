// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/vacancy-ingest/internal/logging"
)

// Storage and integration providers.
const (
	ProviderNone     = "none"
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
	ProviderPubSub   = "pubsub"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   logging.Config  `mapstructure:"logging"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Cluster   ClusterConfig   `mapstructure:"cluster"`
	Inference InferenceConfig `mapstructure:"inference"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Store     StoreConfig     `mapstructure:"store"`
	DB        DBConfig        `mapstructure:"db"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Runs      RunsConfig      `mapstructure:"runs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig describes the listing site and fan-out limits.
type ScraperConfig struct {
	BaseDomain    string   `mapstructure:"base_domain"`
	Scheme        string   `mapstructure:"scheme"`
	DefaultRegion string   `mapstructure:"default_region"`
	Concurrency   int      `mapstructure:"concurrency"`
	AdHosts       []string `mapstructure:"ad_hosts"`
}

// FetcherConfig configures the page fetcher retry and throttle behavior.
type FetcherConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RateLimitBackoff  time.Duration `mapstructure:"rate_limit_backoff"`
	Proxy             string        `mapstructure:"proxy"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// ExtractorConfig controls labeler chunking.
type ExtractorConfig struct {
	ChunkSize   int `mapstructure:"chunk_size"`
	Concurrency int `mapstructure:"concurrency"`
}

// ClusterConfig holds the density clustering radii and refinement limits.
type ClusterConfig struct {
	Eps            float64 `mapstructure:"eps"`
	RefineEps      float64 `mapstructure:"refine_eps"`
	MaxClusterSize int     `mapstructure:"max_cluster_size"`
	MaxRefineDepth int     `mapstructure:"max_refine_depth"`
}

// InferenceConfig points at the remote labeling and embedding services.
type InferenceConfig struct {
	LabelerURL     string        `mapstructure:"labeler_url"`
	EmbedderURL    string        `mapstructure:"embedder_url"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	APIKey         string        `mapstructure:"api_key"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// PipelineConfig sets batch size and request defaults.
type PipelineConfig struct {
	BatchPages    int    `mapstructure:"batch_pages"`
	DefaultRegion string `mapstructure:"default_region"`
	DefaultQuery  string `mapstructure:"default_query"`
}

// StoreConfig selects the vacancy store backend.
type StoreConfig struct {
	Provider string `mapstructure:"provider"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ArchiveConfig sets where raw detail pages are kept.
type ArchiveConfig struct {
	Provider    string `mapstructure:"provider"`
	BaseDir     string `mapstructure:"base_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PublisherConfig holds metadata for publish-subscribe notifications.
type PublisherConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RunsConfig sizes the background run workers.
type RunsConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VACANCY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("scraper.base_domain", "hh.ru")
	v.SetDefault("scraper.scheme", "https")
	v.SetDefault("scraper.default_region", "moscow")
	v.SetDefault("scraper.concurrency", 5)
	v.SetDefault("scraper.ad_hosts", []string{"adsrv.hh.ru"})
	v.SetDefault("fetcher.timeout", 30*time.Second)
	v.SetDefault("fetcher.max_attempts", 5)
	v.SetDefault("fetcher.rate_limit_backoff", 10*time.Second)
	v.SetDefault("fetcher.proxy", "")
	v.SetDefault("fetcher.requests_per_second", 0)
	v.SetDefault("fetcher.burst", 1)
	v.SetDefault("extractor.chunk_size", 500)
	v.SetDefault("extractor.concurrency", 4)
	v.SetDefault("cluster.eps", 0.0003)
	v.SetDefault("cluster.refine_eps", 0.0001)
	v.SetDefault("cluster.max_cluster_size", 10)
	v.SetDefault("cluster.max_refine_depth", 1)
	v.SetDefault("inference.labeler_url", "")
	v.SetDefault("inference.embedder_url", "")
	v.SetDefault("inference.embedding_model", "")
	v.SetDefault("inference.api_key", "")
	v.SetDefault("inference.timeout", 60*time.Second)
	v.SetDefault("pipeline.batch_pages", 10)
	v.SetDefault("pipeline.default_region", "volgograd")
	v.SetDefault("pipeline.default_query", "programmist")
	v.SetDefault("store.provider", ProviderPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.base_dir", "")
	v.SetDefault("archive.gcs_bucket", "")
	v.SetDefault("archive.prefix", "vacancies")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("publisher.provider", ProviderNone)
	v.SetDefault("publisher.project_id", "")
	v.SetDefault("publisher.topic", "")
	v.SetDefault("runs.workers", 1)
	v.SetDefault("runs.queue_depth", 16)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.RequestTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if strings.TrimSpace(c.Scraper.BaseDomain) == "" {
		return fmt.Errorf("scraper.base_domain is required")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Fetcher.MaxAttempts <= 0 {
		return fmt.Errorf("fetcher.max_attempts must be > 0")
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Fetcher.RateLimitBackoff < 0 {
		return fmt.Errorf("fetcher.rate_limit_backoff must be >= 0")
	}
	if c.Extractor.ChunkSize <= 0 {
		return fmt.Errorf("extractor.chunk_size must be > 0")
	}
	if c.Extractor.Concurrency <= 0 {
		return fmt.Errorf("extractor.concurrency must be > 0")
	}
	if c.Cluster.Eps <= 0 || c.Cluster.RefineEps <= 0 {
		return fmt.Errorf("cluster.eps and cluster.refine_eps must be > 0")
	}
	if c.Cluster.RefineEps > c.Cluster.Eps {
		return fmt.Errorf("cluster.refine_eps must not exceed cluster.eps")
	}
	if c.Cluster.MaxClusterSize <= 0 {
		return fmt.Errorf("cluster.max_cluster_size must be > 0")
	}
	if c.Cluster.MaxRefineDepth < 0 {
		return fmt.Errorf("cluster.max_refine_depth must be >= 0")
	}
	if c.Pipeline.BatchPages <= 0 {
		return fmt.Errorf("pipeline.batch_pages must be > 0")
	}
	switch c.Store.Provider {
	case ProviderPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres store")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	switch c.Archive.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local archive")
		}
	case ProviderGCS:
		if c.Archive.GCSBucket == "" {
			return fmt.Errorf("archive.gcs_bucket is required for the gcs archive")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	switch c.Publisher.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.Publisher.ProjectID == "" || c.Publisher.Topic == "" {
			return fmt.Errorf("publisher.project_id and publisher.topic are required for pubsub")
		}
	default:
		return fmt.Errorf("unknown publisher.provider %q", c.Publisher.Provider)
	}
	if c.Runs.Workers <= 0 || c.Runs.QueueDepth <= 0 {
		return fmt.Errorf("runs.workers and runs.queue_depth must be > 0")
	}
	return nil
}
