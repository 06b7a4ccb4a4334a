// Package config loads the analyzer's YAML configuration with defaults
// and validation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/feedlens/feedlens/pkg/feedlens/internalerr"
)

// SeedTopic pre-populates the taxonomy before the first batch.
type SeedTopic struct {
	Name        string `yaml:"name"`
	Category    string `yaml:"category"`
	Description string `yaml:"description"`
}

// LLM configures the extraction and comparison model endpoint.
type LLM struct {
	BaseURL     string  `yaml:"base_url"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	RatePerSec  float64 `yaml:"rate_per_sec"`
	MaxRetries  int     `yaml:"max_retries"`
	TimeoutSecs int     `yaml:"timeout_secs"`
}

// Config is the full analyzer configuration.
type Config struct {
	AppPackage string `yaml:"app_package"`

	StatePath  string `yaml:"state_path"`
	ReviewDB   string `yaml:"review_db"`
	ReportDir  string `yaml:"report_dir"`

	MatchThreshold   float64 `yaml:"match_threshold"`
	CandidateK       int     `yaml:"candidate_k"`
	ReconcileK       int     `yaml:"reconcile_k"`
	VerdictCacheSize int     `yaml:"verdict_cache_size"`
	ExtractWorkers   int     `yaml:"extract_workers"`

	TrendWindowDays int     `yaml:"trend_window_days"`
	TopN            int     `yaml:"top_n"`
	AlertThreshold  float64 `yaml:"alert_threshold"` // trend percentage

	SeedTopics []SeedTopic `yaml:"seed_topics"`
	LLM        LLM         `yaml:"llm"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		StatePath:        "processor_state.json",
		ReviewDB:         "reviews.db",
		ReportDir:        "reports",
		MatchThreshold:   0.8,
		CandidateK:       5,
		ReconcileK:       20,
		VerdictCacheSize: 2048,
		ExtractWorkers:   4,
		TrendWindowDays:  31,
		TopN:             10,
		AlertThreshold:   50,
		LLM: LLM{
			BaseURL:     "https://api.openai.com/v1",
			APIKeyEnv:   "OPENAI_API_KEY",
			Model:       "gpt-4o-mini",
			RatePerSec:  2,
			MaxRetries:  3,
			TimeoutSecs: 60,
		},
	}
}

// Load reads a YAML config file, layering it over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the analyzer cannot run with.
func (c Config) Validate() error {
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("match_threshold %v must be in (0, 1]: %w",
			c.MatchThreshold, internalerr.ErrInvalidConfig)
	}
	if c.CandidateK <= 0 {
		return fmt.Errorf("candidate_k %d must be positive: %w",
			c.CandidateK, internalerr.ErrInvalidConfig)
	}
	if c.ReconcileK < c.CandidateK {
		return fmt.Errorf("reconcile_k %d must be at least candidate_k %d: %w",
			c.ReconcileK, c.CandidateK, internalerr.ErrInvalidConfig)
	}
	if c.TrendWindowDays < 1 {
		return fmt.Errorf("trend_window_days %d must be positive: %w",
			c.TrendWindowDays, internalerr.ErrInvalidConfig)
	}
	if c.ExtractWorkers < 1 {
		return fmt.Errorf("extract_workers %d must be positive: %w",
			c.ExtractWorkers, internalerr.ErrInvalidConfig)
	}
	for i, s := range c.SeedTopics {
		if s.Name == "" {
			return fmt.Errorf("seed topic %d has no name: %w", i, internalerr.ErrInvalidConfig)
		}
		switch s.Category {
		case "", "issue", "request", "feedback":
		default:
			return fmt.Errorf("seed topic %q has unknown category %q: %w",
				s.Name, s.Category, internalerr.ErrInvalidConfig)
		}
	}
	return nil
}
