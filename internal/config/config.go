// Package config loads the top-level engine configuration: rule set,
// encryption keys, embedding and retrieval tuning, indexing policy and
// the brake's initial state.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/haven-ai/bartholomew/internal/rules"
)

// KeyConfig is one entry of encryption.keys: a key-id plus the name of
// the environment variable holding its raw key material — keys never
// live in the YAML file itself.
type KeyConfig struct {
	KID       string `yaml:"kid"`
	KeyEnvVar string `yaml:"key_env_var"`
}

// EncryptionConfig is the encryption.keys block.
type EncryptionConfig struct {
	Standard KeyConfig `yaml:"standard"`
	Strong   KeyConfig `yaml:"strong"`
}

// EmbeddingConfig is the embedding block.
type EmbeddingConfig struct {
	Provider       string  `yaml:"provider"`
	Model          string  `yaml:"model"`
	Dim            int     `yaml:"dim"`
	RemoteAllowed  bool    `yaml:"remote_allowed"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

// RetrievalConfig is the retrieval block.
type RetrievalConfig struct {
	Mode               string  `yaml:"mode"`
	FTSTokenizer       string  `yaml:"fts_tokenizer"`
	FTSTokenizerArgs   string  `yaml:"fts_tokenizer_args"`
	Fusion             string  `yaml:"fusion"`
	WeightFTS          float64 `yaml:"w_fts"`
	WeightVector       float64 `yaml:"w_vec"`
	RRFK               float64 `yaml:"rrf_k"`
	RecencyHalfLifeHrs float64 `yaml:"recency_half_life_hours"`
}

// IndexingConfig is the indexing block.
type IndexingConfig struct {
	DisallowStrongOnly bool `yaml:"disallow_strong_only"`
}

// BrakeConfig is the brake block: the initial state at startup.
type BrakeConfig struct {
	Engaged bool     `yaml:"engaged"`
	Scopes  []string `yaml:"scopes"`
}

// StoreConfig names the on-disk location of the single record-store file.
type StoreConfig struct {
	DataDir  string `yaml:"data_dir"`
	Filename string `yaml:"filename"`
}

// Config is the fully-parsed top-level engine configuration.
type Config struct {
	Store       StoreConfig      `yaml:"store"`
	MemoryRules rules.Document   `yaml:"memory_rules"`
	Encryption  EncryptionConfig `yaml:"encryption"`
	Embedding   EmbeddingConfig  `yaml:"embedding"`
	Retrieval   RetrievalConfig  `yaml:"retrieval"`
	Indexing    IndexingConfig   `yaml:"indexing"`
	Brake       BrakeConfig      `yaml:"brake"`

	// EmbedEnabled mirrors BARTHO_EMBED_ENABLED: the master switch for
	// the embedding hook. When false, the fallback hash embedder is used
	// regardless of Embedding.Provider.
	EmbedEnabled bool
	// EmbedReload mirrors BARTHO_EMBED_RELOAD, the switch for disabling
	// config hot-reload. No config watcher exists and nothing reads this
	// field; rule sets change only through Kernel.ReloadRules.
	EmbedReload bool
}

// Default returns a Config populated with the recommended defaults, for
// callers that don't load a YAML file.
func Default() Config {
	return Config{
		Store: StoreConfig{DataDir: ".", Filename: "bartholomew.db"},
		Embedding: EmbeddingConfig{
			Provider: "bartholomew", Model: "hash-fallback-v1", Dim: 384,
			RateLimitRPS: 5, RateLimitBurst: 10,
		},
		Retrieval: RetrievalConfig{
			Mode: "hybrid", Fusion: "weighted",
			WeightFTS: 0.5, WeightVector: 0.5, RRFK: 60, RecencyHalfLifeHrs: 168,
		},
	}
}

// Load reads and parses a YAML configuration file at path, then layers
// the BARTHO_EMBED_ENABLED / BARTHO_EMBED_RELOAD environment toggles on
// top.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.EmbedEnabled = envBool("BARTHO_EMBED_ENABLED", false)
	cfg.EmbedReload = envBool("BARTHO_EMBED_RELOAD", false)

	return cfg, nil
}

func envBool(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch v {
	case "1", "true", "TRUE", "True":
		return true
	case "0", "false", "FALSE", "False":
		return false
	default:
		return def
	}
}
