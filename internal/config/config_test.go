package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("VACANCY_STORE_PROVIDER", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scraper.BaseDomain != "hh.ru" || cfg.Scraper.DefaultRegion != "moscow" {
		t.Fatalf("unexpected scraper defaults: %+v", cfg.Scraper)
	}
	if cfg.Scraper.Concurrency != 5 || len(cfg.Scraper.AdHosts) != 1 || cfg.Scraper.AdHosts[0] != "adsrv.hh.ru" {
		t.Fatalf("unexpected scraper fan-out defaults: %+v", cfg.Scraper)
	}
	if cfg.Fetcher.MaxAttempts != 5 || cfg.Fetcher.RateLimitBackoff != 10*time.Second || cfg.Fetcher.Timeout != 30*time.Second {
		t.Fatalf("unexpected fetcher defaults: %+v", cfg.Fetcher)
	}
	if cfg.Extractor.ChunkSize != 500 {
		t.Fatalf("expected chunk size 500, got %d", cfg.Extractor.ChunkSize)
	}
	if cfg.Cluster.Eps != 0.0003 || cfg.Cluster.RefineEps != 0.0001 || cfg.Cluster.MaxClusterSize != 10 {
		t.Fatalf("unexpected cluster defaults: %+v", cfg.Cluster)
	}
	if cfg.Pipeline.BatchPages != 10 {
		t.Fatalf("expected batch of 10 pages, got %d", cfg.Pipeline.BatchPages)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: false
  level: warn
scraper:
  base_domain: example.test
  concurrency: 3
  ad_hosts: ["ads.example.test", "*.banners.example.test"]
fetcher:
  timeout: 5s
  max_attempts: 2
  rate_limit_backoff: 250ms
  proxy: http://proxy.local:3128
extractor:
  chunk_size: 128
cluster:
  eps: 0.001
  refine_eps: 0.0005
pipeline:
  batch_pages: 4
store:
  provider: postgres
db:
  dsn: postgres://localhost/vacancies
  max_conns: 12
archive:
  provider: local
  base_dir: /tmp/archive
publisher:
  provider: pubsub
  project_id: proj
  topic: vacancies
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected server/auth overrides: %+v %+v", cfg.Server, cfg.Auth)
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
	if cfg.Scraper.BaseDomain != "example.test" || len(cfg.Scraper.AdHosts) != 2 {
		t.Fatalf("expected scraper overrides: %+v", cfg.Scraper)
	}
	if cfg.Fetcher.RateLimitBackoff != 250*time.Millisecond || cfg.Fetcher.Proxy != "http://proxy.local:3128" {
		t.Fatalf("expected fetcher overrides: %+v", cfg.Fetcher)
	}
	if cfg.DB.MaxConns != 12 || cfg.Archive.BaseDir != "/tmp/archive" || cfg.Publisher.Topic != "vacancies" {
		t.Fatalf("expected storage overrides: %+v %+v %+v", cfg.DB, cfg.Archive, cfg.Publisher)
	}
	if cfg.Pipeline.BatchPages != 4 || cfg.Extractor.ChunkSize != 128 {
		t.Fatalf("expected pipeline overrides: %+v %+v", cfg.Pipeline, cfg.Extractor)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		Scraper:   ScraperConfig{BaseDomain: "hh.ru", Concurrency: 5},
		Fetcher:   FetcherConfig{Timeout: time.Second, MaxAttempts: 5},
		Extractor: ExtractorConfig{ChunkSize: 500, Concurrency: 1},
		Cluster:   ClusterConfig{Eps: 0.0003, RefineEps: 0.0001, MaxClusterSize: 10, MaxRefineDepth: 1},
		Pipeline:  PipelineConfig{BatchPages: 10},
		Store:     StoreConfig{Provider: ProviderMemory},
		Archive:   ArchiveConfig{Provider: ProviderNone},
		Publisher: PublisherConfig{Provider: ProviderNone},
		Runs:      RunsConfig{Workers: 1, QueueDepth: 1},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"zero concurrency", func(c *Config) { c.Scraper.Concurrency = 0 }, "scraper.concurrency"},
		{"zero attempts", func(c *Config) { c.Fetcher.MaxAttempts = 0 }, "fetcher.max_attempts"},
		{"zero chunk", func(c *Config) { c.Extractor.ChunkSize = 0 }, "extractor.chunk_size"},
		{"refine wider than eps", func(c *Config) { c.Cluster.RefineEps = 0.01 }, "cluster.refine_eps"},
		{"zero batch", func(c *Config) { c.Pipeline.BatchPages = 0 }, "pipeline.batch_pages"},
		{"postgres without dsn", func(c *Config) { c.Store.Provider = ProviderPostgres }, "db.dsn"},
		{"unknown store", func(c *Config) { c.Store.Provider = "mongo" }, "store.provider"},
		{"gcs without bucket", func(c *Config) { c.Archive.Provider = ProviderGCS }, "archive.gcs_bucket"},
		{"pubsub without topic", func(c *Config) { c.Publisher.Provider = ProviderPubSub }, "publisher.project_id"},
		{"no workers", func(c *Config) { c.Runs.Workers = 0 }, "runs.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Scraper.AdHosts = nil
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
