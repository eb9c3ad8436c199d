package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "chromem", cfg.Storage.Backend)
	assert.Equal(t, "fastembed", cfg.Embedding.Provider)
	assert.Equal(t, 256, cfg.Cache.MaxEntries)
	assert.Equal(t, 128, cfg.Cache.NoveltyWindow)
	assert.Equal(t, 0.5, cfg.Scorer.MinSimilarity)
	assert.Equal(t, 0.95, cfg.Router.EmergencyConfidence)
	assert.Equal(t, 30*time.Second, cfg.Router.QueueDeadline.Duration())
	assert.Equal(t, "most_recent", cfg.Learning.CreditPolicy)
	assert.Equal(t, 2*time.Minute, cfg.Watcher.Window.Duration())
	assert.Equal(t, 8321, cfg.HTTP.Port)
	assert.Equal(t, "reflexd.events", cfg.Ingest.Subject)
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := Config{}
	cfg.Cache.MaxEntries = 16
	cfg.Logging.Level = "debug"
	applyDefaults(&cfg)

	assert.Equal(t, 16, cfg.Cache.MaxEntries)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		var cfg Config
		applyDefaults(&cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level",
		},
		{
			name:    "bad storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: "storage.backend",
		},
		{
			name:    "tei requires base url",
			mutate:  func(c *Config) { c.Embedding.Provider = "tei" },
			wantErr: "embedding.base_url",
		},
		{
			name:    "bad credit policy",
			mutate:  func(c *Config) { c.Learning.CreditPolicy = "split_evenly" },
			wantErr: "learning.credit_policy",
		},
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Router.EmergencyThreat = 1.5 },
			wantErr: "router.emergency_threat",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.HTTP.Port = 70000 },
			wantErr: "http.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("45s")))
	assert.Equal(t, 45*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")), "negative durations rejected")
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())

	out, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")

	assert.Empty(t, Secret("").String())
}
