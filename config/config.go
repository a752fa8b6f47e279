package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the retrieval pipeline.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Rerank    RerankConfig    `yaml:"rerank"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Context   ContextConfig   `yaml:"context"`
	LLM       LLMConfig       `yaml:"llm"`
	Session   SessionConfig   `yaml:"session"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// StoreConfig locates the durable store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ChunkingConfig controls the sliding-window chunker.
type ChunkingConfig struct {
	Size    int `yaml:"size"`    // window size in characters
	Overlap int `yaml:"overlap"` // characters shared between adjacent chunks
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "local" or "remote"
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	APIKeyEnv  string `yaml:"api_key_env"` // environment variable holding the API key
	Dimension  int    `yaml:"dimension"`
	BatchSize  int    `yaml:"batch_size"`
	MaxRetries int    `yaml:"max_retries"`
	TimeoutSec int    `yaml:"timeout_sec"`
	CacheSize  int    `yaml:"cache_size"`
}

// RetrievalConfig controls the first-pass indexes and fusion.
type RetrievalConfig struct {
	Mode         string  `yaml:"mode"` // "vector", "keyword", "hybrid"
	TopK         int     `yaml:"top_k"`
	VectorWeight float64 `yaml:"vector_weight"`
	K1           float64 `yaml:"k1"`
	B            float64 `yaml:"b"`
	MinScore     float64 `yaml:"min_score"` // drop results below this after reranking (0 = disabled)
}

// RerankConfig controls the cross-encoder reranker.
type RerankConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	APIKeyEnv  string `yaml:"api_key_env"`
	MaxRetries int    `yaml:"max_retries"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// OptimizerConfig toggles the LLM query transforms.
type OptimizerConfig struct {
	Enabled       bool `yaml:"enabled"`
	Rewrite       bool `yaml:"rewrite"`
	Revise        bool `yaml:"revise"`
	Expand        bool `yaml:"expand"`
	MaxSubqueries int  `yaml:"max_subqueries"`
}

// ContextConfig controls context assembly.
type ContextConfig struct {
	BudgetTokens    int    `yaml:"budget_tokens"`
	Separator       string `yaml:"separator"`
	ExpandNeighbors bool   `yaml:"expand_neighbors"`
}

// MarshalYAML forces a quoted scalar for the separator. The block-scalar
// encoding yaml would otherwise pick loses the leading newline on reload.
func (c ContextConfig) MarshalYAML() (interface{}, error) {
	type plain ContextConfig
	var node yaml.Node
	if err := node.Encode(plain(c)); err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "separator" {
			node.Content[i+1].Style = yaml.DoubleQuotedStyle
		}
	}
	return &node, nil
}

// LLMConfig points at the generation model.
type LLMConfig struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	MaxRetries  int     `yaml:"max_retries"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

// SessionConfig bounds in-memory conversation state.
type SessionConfig struct {
	MaxTurns int `yaml:"max_turns"`
}

// IngestConfig controls source discovery during directory ingestion.
type IngestConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path: filepath.Join(".ragkit", "store.db"),
		},
		Chunking: ChunkingConfig{
			Size:    500,
			Overlap: 50,
		},
		Embedding: EmbeddingConfig{
			Provider:   "local",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			APIKeyEnv:  "OPENAI_API_KEY",
			Dimension:  384,
			BatchSize:  100,
			MaxRetries: 3,
			TimeoutSec: 30,
			CacheSize:  4096,
		},
		Retrieval: RetrievalConfig{
			Mode:         "hybrid",
			TopK:         5,
			VectorWeight: 0.5,
			K1:           1.5,
			B:            0.75,
			MinScore:     0,
		},
		Rerank: RerankConfig{
			Enabled:    false,
			Model:      "bge-reranker-v2-m3",
			APIKeyEnv:  "RERANK_API_KEY",
			MaxRetries: 3,
			TimeoutSec: 30,
		},
		Optimizer: OptimizerConfig{
			Enabled:       false,
			Rewrite:       true,
			Revise:        true,
			Expand:        false,
			MaxSubqueries: 3,
		},
		Context: ContextConfig{
			BudgetTokens:    2000,
			Separator:       "\n\n---\n\n",
			ExpandNeighbors: false,
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.3,
			MaxTokens:   1024,
			MaxRetries:  3,
			TimeoutSec:  60,
		},
		Session: SessionConfig{
			MaxTurns: 50,
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.md", "**/*.txt", "**/*.rst"},
			Excludes: []string{"**/node_modules/**", "**/.git/**", "**/vendor/**"},
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for ragkit.yaml,
// then .ragkit/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "ragkit.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".ragkit", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// EnsureStoreDir creates the directory holding the store file.
func EnsureStoreDir(storePath string) error {
	return os.MkdirAll(filepath.Dir(storePath), 0755)
}
