package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultMaxAttempts     = 3
	DefaultClaimTimeout    = "10m"
	DefaultSweepInterval   = "1m"
	DefaultDecaySchedule   = "0 3 * * *"
	DefaultDecayHalfLife   = "720h"
	DefaultPriority        = 5
	DefaultContextBudget   = 8000
	DefaultSafetyMargin    = 500
	DefaultMaxContextItems = 20
	DefaultConfirmBoost    = 0.15
	DefaultShadowThreshold = 0.3

	// EscalationEnv must be set in the caller's environment for FULL-tier
	// recall. Checked at call time, never cached.
	EscalationEnv = "SCRIBE_FULL_RECALL"
)

type Config struct {
	DBPath    string          `json:"dbPath"`
	Queue     QueueConfig     `json:"queue"`
	Facts     FactsConfig     `json:"facts"`
	Recall    RecallConfig    `json:"recall"`
	Extractor ExtractorConfig `json:"extractor"`
}

type QueueConfig struct {
	MaxAttempts     int    `json:"maxAttempts"`
	ClaimTimeout    string `json:"claimTimeout"`
	SweepInterval   string `json:"sweepInterval"`
	DefaultPriority int    `json:"defaultPriority"`
}

type FactsConfig struct {
	ConfirmBoost    float64 `json:"confirmBoost"`
	ShadowThreshold float64 `json:"shadowThreshold"`
	DecaySchedule   string  `json:"decaySchedule"`
	DecayHalfLife   string  `json:"decayHalfLife"`
}

type RecallConfig struct {
	TokenBudget  int `json:"tokenBudget"`
	SafetyMargin int `json:"safetyMargin"`
	MaxItems     int `json:"maxItems"`
}

// ExtractorConfig selects and configures the fact extractor. When APIKey and
// BaseURL are set the worker uses the chat-completions extractor; otherwise
// it falls back to the built-in heuristic one.
type ExtractorConfig struct {
	APIKey    string `json:"apiKey,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DBPath: filepath.Join(home, ".scribe", "data", "memory.db"),
		Queue: QueueConfig{
			MaxAttempts:     DefaultMaxAttempts,
			ClaimTimeout:    DefaultClaimTimeout,
			SweepInterval:   DefaultSweepInterval,
			DefaultPriority: DefaultPriority,
		},
		Facts: FactsConfig{
			ConfirmBoost:    DefaultConfirmBoost,
			ShadowThreshold: DefaultShadowThreshold,
			DecaySchedule:   DefaultDecaySchedule,
			DecayHalfLife:   DefaultDecayHalfLife,
		},
		Recall: RecallConfig{
			TokenBudget:  DefaultContextBudget,
			SafetyMargin: DefaultSafetyMargin,
			MaxItems:     DefaultMaxContextItems,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".scribe")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if path := os.Getenv("SCRIBE_DB_PATH"); path != "" {
		cfg.DBPath = path
	}
	if v := os.Getenv("SCRIBE_MAX_ATTEMPTS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Queue.MaxAttempts = parsed
		}
	}
	if v := os.Getenv("SCRIBE_CLAIM_TIMEOUT"); v != "" {
		cfg.Queue.ClaimTimeout = v
	}
	if key := os.Getenv("SCRIBE_MEMORY_API_KEY"); key != "" {
		cfg.Extractor.APIKey = key
	}
	if url := os.Getenv("SCRIBE_MEMORY_BASE_URL"); url != "" {
		cfg.Extractor.BaseURL = url
	}
	if model := os.Getenv("SCRIBE_MEMORY_MODEL"); model != "" {
		cfg.Extractor.Model = model
	}
	if v := os.Getenv("SCRIBE_TOKEN_BUDGET"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Recall.TokenBudget = parsed
		}
	}

	if cfg.DBPath == "" {
		cfg.DBPath = DefaultConfig().DBPath
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Queue.DefaultPriority < 1 || cfg.Queue.DefaultPriority > 10 {
		cfg.Queue.DefaultPriority = DefaultPriority
	}
	if cfg.Facts.ConfirmBoost <= 0 || cfg.Facts.ConfirmBoost >= 1 {
		cfg.Facts.ConfirmBoost = DefaultConfirmBoost
	}
	if cfg.Facts.ShadowThreshold <= 0 {
		cfg.Facts.ShadowThreshold = DefaultShadowThreshold
	}
	if cfg.Recall.TokenBudget <= 0 {
		cfg.Recall.TokenBudget = DefaultContextBudget
	}
	if cfg.Recall.MaxItems <= 0 {
		cfg.Recall.MaxItems = DefaultMaxContextItems
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}

// FullRecallAllowed reports whether the out-of-band escalation flag is
// present. Absent flag means FULL-tier requests fail closed.
func FullRecallAllowed() bool {
	v := os.Getenv(EscalationEnv)
	if v == "" {
		return false
	}
	parsed, err := strconv.ParseBool(v)
	return err == nil && parsed
}
