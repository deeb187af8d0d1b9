package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration settings
type Config struct {
	Neo4j      Neo4jConfig      `yaml:"neo4j" mapstructure:"neo4j"`
	Embedding  EmbeddingConfig  `yaml:"embedding" mapstructure:"embedding"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Similarity SimilarityConfig `yaml:"similarity" mapstructure:"similarity"`
	RAG        RAGConfig        `yaml:"rag" mapstructure:"rag"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Audit      AuditConfig      `yaml:"audit" mapstructure:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Logging    LoggingConfig    `yaml:"logging" mapstructure:"logging"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// EmbeddingConfig selects the embedding runtime. Provider is one of
// "openai", "ollama" (any OpenAI-compatible /v1/embeddings endpoint) or "gemini".
type EmbeddingConfig struct {
	Provider          string `yaml:"provider" mapstructure:"provider"`
	Model             string `yaml:"model" mapstructure:"model"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string `yaml:"api_key" mapstructure:"api_key"`
	Dimensions        int    `yaml:"dimensions" mapstructure:"dimensions"`
	MaxSeqLength      int    `yaml:"max_seq_length" mapstructure:"max_seq_length"` // 0 = ask the tokenizer
	Encoding          string `yaml:"encoding" mapstructure:"encoding"`             // tokenizer BPE encoding
	BatchSize         int    `yaml:"batch_size" mapstructure:"batch_size"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

type LLMConfig struct {
	Provider          string        `yaml:"provider" mapstructure:"provider"` // "openai", "gemini", "ollama"
	Model             string        `yaml:"model" mapstructure:"model"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	UseKeychain       bool          `yaml:"use_keychain" mapstructure:"use_keychain"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Temperature       float32       `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens         int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SimilarityConfig controls where cosine is computed. Mode "graph" runs
// CosineFunction inside Cypher, mode "local" reads vectors and scores in-process.
type SimilarityConfig struct {
	Mode             string  `yaml:"mode" mapstructure:"mode"`
	CosineFunction   string  `yaml:"cosine_function" mapstructure:"cosine_function"`
	DisplayThreshold float64 `yaml:"display_threshold" mapstructure:"display_threshold"`
	BulkThreshold    float64 `yaml:"bulk_threshold" mapstructure:"bulk_threshold"`
	TopN             int     `yaml:"top_n" mapstructure:"top_n"`
}

type RAGConfig struct {
	Categories     []string `yaml:"categories" mapstructure:"categories"`
	Limit          int      `yaml:"limit" mapstructure:"limit"`
	Concurrency    int      `yaml:"concurrency" mapstructure:"concurrency"`
	PromptTemplate string   `yaml:"prompt_template" mapstructure:"prompt_template"` // path to a handlebars file
}

type CacheConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// AuditConfig selects the mapping transition trail. Driver "sqlite3",
// "postgres" (lib/pq) or "pgx" writes to SQL, "jsonl" appends to JSONLPath, "" disables it.
type AuditConfig struct {
	Driver    string `yaml:"driver" mapstructure:"driver"`
	DSN       string `yaml:"dsn" mapstructure:"dsn"`
	JSONLPath string `yaml:"jsonl_path" mapstructure:"jsonl_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Address string `yaml:"address" mapstructure:"address"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// Default returns default configuration
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			User:     "neo4j",
			Database: "neo4j",
		},
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			BaseURL:   "http://localhost:11434/v1",
			Encoding:  "cl100k_base",
			BatchSize: 16,
		},
		LLM: LLMConfig{
			Provider:          "ollama",
			Model:             "llama3",
			BaseURL:           "http://localhost:11434/v1",
			RequestsPerMinute: 60,
			Temperature:       0.1,
			MaxTokens:         2000,
			Timeout:           2 * time.Minute,
		},
		Similarity: SimilarityConfig{
			Mode:             "graph",
			CosineFunction:   "gds.similarity.cosine",
			DisplayThreshold: 0.5,
			BulkThreshold:    0.3,
			TopN:             25,
		},
		RAG: RAGConfig{
			Categories:  []string{"high_similarity", "medium_similarity"},
			Limit:       5,
			Concurrency: 2,
		},
		Cache: CacheConfig{
			Enabled: true,
			Path:    filepath.Join(homeDir, ".cysecmato", "vectors.db"),
		},
		Audit: AuditConfig{
			Driver: "sqlite3",
			DSN:    filepath.Join(homeDir, ".cysecmato", "audit.db"),
		},
		Metrics: MetricsConfig{
			Address: ":9464",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("neo4j", cfg.Neo4j)
	v.SetDefault("embedding", cfg.Embedding)
	v.SetDefault("llm", cfg.LLM)
	v.SetDefault("similarity", cfg.Similarity)
	v.SetDefault("rag", cfg.RAG)
	v.SetDefault("cache", cfg.Cache)
	v.SetDefault("audit", cfg.Audit)
	v.SetDefault("metrics", cfg.Metrics)
	v.SetDefault("logging", cfg.Logging)

	v.SetEnvPrefix("CYSECMATO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".cysecmato")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".cysecmato"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg, NewKeyringManager())

	return cfg, nil
}

// loadEnvFiles loads .env files in order of precedence; godotenv never
// overrides variables that are already set, so earlier files win.
func loadEnvFiles() {
	for _, file := range []string{".env.local", ".env"} {
		if _, err := os.Stat(file); err == nil {
			_ = godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".cysecmato", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		_ = godotenv.Load(homeEnvFile)
	}
}

// secretSource is the subset of KeyringManager used for key lookup
type secretSource interface {
	IsAvailable() bool
	Get(item string) (string, error)
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config, secrets secretSource) {
	// Neo4j
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Neo4j.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Neo4j.User = user
	}
	cfg.Neo4j.Password = resolveKey(cfg.Neo4j.Password, []string{"NEO4J_PASSWORD"}, KeyringNeo4jPasswordItem, secrets, false)
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		cfg.Neo4j.Database = db
	}

	// Embedding runtime
	if provider := os.Getenv("EMBEDDING_PROVIDER"); provider != "" {
		cfg.Embedding.Provider = provider
	}
	if model := os.Getenv("EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}
	if url := os.Getenv("EMBEDDING_URL"); url != "" {
		cfg.Embedding.BaseURL = url
	}
	if n := os.Getenv("EMBEDDING_MAX_SEQ_LENGTH"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			cfg.Embedding.MaxSeqLength = v
		}
	}

	// LLM provider
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		cfg.LLM.Provider = provider
	}
	if model := os.Getenv("LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if url := os.Getenv("LLM_BASE_URL"); url != "" {
		cfg.LLM.BaseURL = url
	}
	if rpm := os.Getenv("LLM_REQUESTS_PER_MINUTE"); rpm != "" {
		if v, err := strconv.Atoi(rpm); err == nil {
			cfg.LLM.RequestsPerMinute = v
		}
	}

	// API keys. Precedence: 1. env var 2. keychain 3. config file
	cfg.LLM.APIKey = resolveKey(cfg.LLM.APIKey, llmKeyEnv(cfg.LLM.Provider), KeyringLLMKeyItem, secrets, cfg.LLM.UseKeychain)
	cfg.Embedding.APIKey = resolveKey(cfg.Embedding.APIKey, embeddingKeyEnv(cfg.Embedding.Provider), KeyringEmbeddingKeyItem, secrets, cfg.LLM.UseKeychain)

	// Similarity
	if mode := os.Getenv("SIMILARITY_MODE"); mode != "" {
		cfg.Similarity.Mode = mode
	}
	if fn := os.Getenv("SIMILARITY_COSINE_FUNCTION"); fn != "" {
		cfg.Similarity.CosineFunction = fn
	}

	// Audit and cache
	if driver := os.Getenv("AUDIT_DRIVER"); driver != "" {
		cfg.Audit.Driver = driver
	}
	if dsn := os.Getenv("AUDIT_DSN"); dsn != "" {
		cfg.Audit.DSN = expandPath(dsn)
	}
	if path := os.Getenv("VECTOR_CACHE_PATH"); path != "" {
		cfg.Cache.Path = expandPath(path)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

func resolveKey(current string, envNames []string, item string, secrets secretSource, preferKeychain bool) string {
	for _, name := range envNames {
		if key := os.Getenv(name); key != "" {
			return key
		}
	}
	if current != "" && !preferKeychain {
		return current
	}
	if secrets != nil && secrets.IsAvailable() {
		if key, err := secrets.Get(item); err == nil && key != "" {
			return key
		}
	}
	return current
}

func llmKeyEnv(provider string) []string {
	switch provider {
	case "gemini":
		return []string{"LLM_API_KEY", "GEMINI_API_KEY"}
	case "openai":
		return []string{"LLM_API_KEY", "OPENAI_API_KEY"}
	default:
		return []string{"LLM_API_KEY"}
	}
}

func embeddingKeyEnv(provider string) []string {
	switch provider {
	case "gemini":
		return []string{"EMBEDDING_API_KEY", "GEMINI_API_KEY"}
	case "openai":
		return []string{"EMBEDDING_API_KEY", "OPENAI_API_KEY"}
	default:
		return []string{"EMBEDDING_API_KEY"}
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file. API keys and the Neo4j password are
// never written; they belong in the environment or the keychain.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	neo := c.Neo4j
	neo.Password = ""
	emb := c.Embedding
	emb.APIKey = ""
	llm := c.LLM
	llm.APIKey = ""

	v.Set("neo4j", neo)
	v.Set("embedding", emb)
	v.Set("llm", llm)
	v.Set("similarity", c.Similarity)
	v.Set("rag", c.RAG)
	v.Set("cache", c.Cache)
	v.Set("audit", c.Audit)
	v.Set("metrics", c.Metrics)
	v.Set("logging", c.Logging)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
