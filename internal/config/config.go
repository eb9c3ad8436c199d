// Package config provides configuration loading for reflexd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables, with hardcoded defaults for everything left unset.
package config

import (
	"fmt"
	"time"
)

// Config holds the complete reflexd configuration.
type Config struct {
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Storage   StorageConfig   `koanf:"storage"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Cache     CacheConfig     `koanf:"cache"`
	Scorer    ScorerConfig    `koanf:"scorer"`
	Router    RouterConfig    `koanf:"router"`
	Learning  LearningConfig  `koanf:"learning"`
	Watcher   WatcherConfig   `koanf:"watcher"`
	Packs     PacksConfig     `koanf:"packs"`
	Ingest    IngestConfig    `koanf:"ingest"`
	HTTP      HTTPConfig      `koanf:"http"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" for production or "console" for development.
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
}

// StorageConfig selects and configures the heuristic store.
type StorageConfig struct {
	// Backend is "chromem" (persistent, embedded) or "memory".
	Backend string `koanf:"backend"`

	// Path is the data directory for the chromem backend.
	Path string `koanf:"path"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "fastembed" (local ONNX) or "tei" (HTTP server).
	Provider string `koanf:"provider"`

	// Model is the fastembed model name.
	Model string `koanf:"model"`

	// CacheDir is where fastembed stores downloaded models.
	CacheDir string `koanf:"cache_dir"`

	// BaseURL is the text-embeddings-inference server address.
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates against a protected TEI server.
	APIKey Secret `koanf:"api_key"`

	// Timeout bounds each embedding request.
	Timeout Duration `koanf:"timeout"`
}

// CacheConfig holds heuristic cache configuration.
type CacheConfig struct {
	MaxEntries    int      `koanf:"max_entries"`
	TTL           Duration `koanf:"ttl"`
	NoveltyWindow int      `koanf:"novelty_window"`
}

// ScorerConfig holds similarity scorer configuration.
type ScorerConfig struct {
	MinSimilarity   float64 `koanf:"min_similarity"`
	MinConfidence   float64 `koanf:"min_confidence"`
	MaxCandidates   int     `koanf:"max_candidates"`
	EmbedRatePerSec float64 `koanf:"embed_rate_per_sec"`
	EmbedBurst      int     `koanf:"embed_burst"`
}

// RouterConfig holds event router configuration.
type RouterConfig struct {
	EmergencySimilarity float64  `koanf:"emergency_similarity"`
	EmergencyConfidence float64  `koanf:"emergency_confidence"`
	EmergencyThreat     float64  `koanf:"emergency_threat"`
	QueueDeadline       Duration `koanf:"queue_deadline"`
	ScanInterval        Duration `koanf:"scan_interval"`
	Workers             int      `koanf:"workers"`
	ReasonerTimeout     Duration `koanf:"reasoner_timeout"`
	ReasonerURL         string   `koanf:"reasoner_url"`

	// Salience weights for the default scalar reduction.
	ThreatWeight    float64 `koanf:"threat_weight"`
	NoveltyWeight   float64 `koanf:"novelty_weight"`
	UrgencyWeight   float64 `koanf:"urgency_weight"`
	RelevanceWeight float64 `koanf:"relevance_weight"`
}

// LearningConfig holds learning strategy configuration.
type LearningConfig struct {
	// CreditPolicy is "most_recent" or "all_in_window".
	CreditPolicy string `koanf:"credit_policy"`

	// UndoKeywords override the built-in undo phrase list.
	UndoKeywords []string `koanf:"undo_keywords"`

	// IgnoreThreshold is the consecutive-ignore streak that produces a
	// negative signal.
	IgnoreThreshold int `koanf:"ignore_threshold"`
}

// WatcherConfig holds outcome watcher configuration.
type WatcherConfig struct {
	Window        Duration `koanf:"window"`
	SweepInterval Duration `koanf:"sweep_interval"`
}

// PacksConfig holds heuristic pack loading configuration.
type PacksConfig struct {
	// Dir is the directory of YAML pack files. Empty disables packs.
	Dir string `koanf:"dir"`

	// Watch reloads pack files on change.
	Watch bool `koanf:"watch"`
}

// IngestConfig holds NATS event ingestion configuration.
type IngestConfig struct {
	// URL is the NATS server address. Empty disables ingestion.
	URL string `koanf:"url"`

	// Subject is the subscription subject for incoming events.
	Subject string `koanf:"subject"`

	// ResponseSubjectPrefix is where resolved responses are published,
	// suffixed with the event source.
	ResponseSubjectPrefix string `koanf:"response_subject_prefix"`
}

// HTTPConfig holds the HTTP API configuration.
type HTTPConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// applyDefaults fills in defaults for unset values.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "reflexd"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "chromem"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "fastembed"
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(10 * time.Second)
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 256
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(5 * time.Minute)
	}
	if cfg.Cache.NoveltyWindow == 0 {
		cfg.Cache.NoveltyWindow = 128
	}
	if cfg.Scorer.MinSimilarity == 0 {
		cfg.Scorer.MinSimilarity = 0.5
	}
	if cfg.Scorer.MinConfidence == 0 {
		cfg.Scorer.MinConfidence = 0.1
	}
	if cfg.Scorer.MaxCandidates == 0 {
		cfg.Scorer.MaxCandidates = 10
	}
	if cfg.Router.EmergencySimilarity == 0 {
		cfg.Router.EmergencySimilarity = 0.9
	}
	if cfg.Router.EmergencyConfidence == 0 {
		cfg.Router.EmergencyConfidence = 0.95
	}
	if cfg.Router.EmergencyThreat == 0 {
		cfg.Router.EmergencyThreat = 0.9
	}
	if cfg.Router.QueueDeadline == 0 {
		cfg.Router.QueueDeadline = Duration(30 * time.Second)
	}
	if cfg.Router.ScanInterval == 0 {
		cfg.Router.ScanInterval = Duration(5 * time.Second)
	}
	if cfg.Router.Workers == 0 {
		cfg.Router.Workers = 4
	}
	if cfg.Router.ReasonerTimeout == 0 {
		cfg.Router.ReasonerTimeout = Duration(10 * time.Second)
	}
	if cfg.Learning.CreditPolicy == "" {
		cfg.Learning.CreditPolicy = "most_recent"
	}
	if cfg.Learning.IgnoreThreshold == 0 {
		cfg.Learning.IgnoreThreshold = 3
	}
	if cfg.Watcher.Window == 0 {
		cfg.Watcher.Window = Duration(2 * time.Minute)
	}
	if cfg.Watcher.SweepInterval == 0 {
		cfg.Watcher.SweepInterval = Duration(15 * time.Second)
	}
	if cfg.Ingest.Subject == "" {
		cfg.Ingest.Subject = "reflexd.events"
	}
	if cfg.Ingest.ResponseSubjectPrefix == "" {
		cfg.Ingest.ResponseSubjectPrefix = "reflexd.responses"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8321
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = Duration(10 * time.Second)
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console: %q", c.Logging.Format)
	}
	switch c.Storage.Backend {
	case "chromem", "memory":
	default:
		return fmt.Errorf("storage.backend must be chromem or memory: %q", c.Storage.Backend)
	}
	switch c.Embedding.Provider {
	case "fastembed", "tei":
	default:
		return fmt.Errorf("embedding.provider must be fastembed or tei: %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "tei" && c.Embedding.BaseURL == "" {
		return fmt.Errorf("embedding.base_url is required for the tei provider")
	}
	switch c.Learning.CreditPolicy {
	case "most_recent", "all_in_window":
	default:
		return fmt.Errorf("learning.credit_policy must be most_recent or all_in_window: %q", c.Learning.CreditPolicy)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in 1-65535: %d", c.HTTP.Port)
	}
	for _, th := range []struct {
		name  string
		value float64
	}{
		{"router.emergency_similarity", c.Router.EmergencySimilarity},
		{"router.emergency_confidence", c.Router.EmergencyConfidence},
		{"router.emergency_threat", c.Router.EmergencyThreat},
		{"scorer.min_similarity", c.Scorer.MinSimilarity},
		{"scorer.min_confidence", c.Scorer.MinConfidence},
	} {
		if th.value < 0 || th.value > 1 {
			return fmt.Errorf("%s must be in [0, 1]: %v", th.name, th.value)
		}
	}
	return nil
}
