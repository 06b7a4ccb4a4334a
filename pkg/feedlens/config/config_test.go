package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/feedlens/feedlens/pkg/feedlens/internalerr"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default() does not validate: %v", err)
	}
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app_package: com.example.shop
match_threshold: 0.9
trend_window_days: 14
seed_topics:
  - name: App crashed
    category: issue
  - name: Dark mode
    category: request
    description: requests for a dark theme
llm:
  model: test-model
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.AppPackage != "com.example.shop" {
		t.Errorf("AppPackage = %q", cfg.AppPackage)
	}
	if cfg.MatchThreshold != 0.9 {
		t.Errorf("MatchThreshold = %v, want 0.9", cfg.MatchThreshold)
	}
	if cfg.TrendWindowDays != 14 {
		t.Errorf("TrendWindowDays = %d, want 14", cfg.TrendWindowDays)
	}
	// Untouched fields keep their defaults.
	if cfg.CandidateK != Default().CandidateK {
		t.Errorf("CandidateK = %d, want default %d", cfg.CandidateK, Default().CandidateK)
	}
	if cfg.LLM.Model != "test-model" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.BaseURL != Default().LLM.BaseURL {
		t.Errorf("LLM.BaseURL = %q, want default kept", cfg.LLM.BaseURL)
	}
	if len(cfg.SeedTopics) != 2 || cfg.SeedTopics[1].Category != "request" {
		t.Errorf("SeedTopics = %+v", cfg.SeedTopics)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of absent file succeeded")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold zero", func(c *Config) { c.MatchThreshold = 0 }},
		{"threshold above one", func(c *Config) { c.MatchThreshold = 1.5 }},
		{"candidate k zero", func(c *Config) { c.CandidateK = 0 }},
		{"reconcile below candidate", func(c *Config) { c.ReconcileK = c.CandidateK - 1 }},
		{"zero trend window", func(c *Config) { c.TrendWindowDays = 0 }},
		{"zero workers", func(c *Config) { c.ExtractWorkers = 0 }},
		{"seed without name", func(c *Config) { c.SeedTopics = []SeedTopic{{Category: "issue"}} }},
		{"seed bad category", func(c *Config) { c.SeedTopics = []SeedTopic{{Name: "x", Category: "rant"}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, internalerr.ErrInvalidConfig) {
				t.Errorf("error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}
