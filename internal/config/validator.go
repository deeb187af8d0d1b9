package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cysecmato/cysecmato/internal/errors"
)

// ValidationContext specifies what configuration a command needs
type ValidationContext string

const (
	// ValidationContextEmbed - embedding generation needs Neo4j and an embedding runtime
	ValidationContextEmbed ValidationContext = "embed"
	// ValidationContextSimilarity - similarity runs need Neo4j and sane thresholds
	ValidationContextSimilarity ValidationContext = "similarity"
	// ValidationContextMapping - the review workflow needs Neo4j
	ValidationContextMapping ValidationContext = "mapping"
	// ValidationContextRAG - proposals need Neo4j and an LLM
	ValidationContextRAG ValidationContext = "rag"
	// ValidationContextAll - validate all configuration
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nwarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}

	return sb.String()
}

// Err converts a failed result into a typed config error, nil otherwise
func (vr *ValidationResult) Err() error {
	if !vr.HasErrors() {
		return nil
	}
	return errors.ConfigErrorf("%s", strings.TrimSpace(vr.Error()))
}

// Validate validates configuration for the given command context
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextEmbed:
		c.validateNeo4j(result)
		c.validateEmbedding(result)
	case ValidationContextSimilarity:
		c.validateNeo4j(result)
		c.validateSimilarity(result)
	case ValidationContextMapping:
		c.validateNeo4j(result)
		c.validateAudit(result)
	case ValidationContextRAG:
		c.validateNeo4j(result)
		c.validateLLM(result)
		c.validateRAG(result)
	case ValidationContextAll:
		c.validateNeo4j(result)
		c.validateEmbedding(result)
		c.validateSimilarity(result)
		c.validateLLM(result)
		c.validateRAG(result)
		c.validateAudit(result)
	}

	return result
}

func (c *Config) validateNeo4j(result *ValidationResult) {
	if c.Neo4j.URI == "" {
		result.AddError("NEO4J_URI is required but not set")
	} else if u, err := url.Parse(c.Neo4j.URI); err != nil {
		result.AddError("NEO4J_URI is invalid: %v", err)
	} else if !strings.HasPrefix(u.Scheme, "bolt") && !strings.HasPrefix(u.Scheme, "neo4j") {
		result.AddError("NEO4J_URI must use a bolt:// or neo4j:// scheme, got %q", u.Scheme)
	}

	if c.Neo4j.User == "" {
		result.AddError("NEO4J_USER is required but not set")
	}
	if c.Neo4j.Password == "" {
		result.AddError("NEO4J_PASSWORD is required but not set. Set it via environment variable or .env file.")
	} else if c.Neo4j.Password == "neo4j" || c.Neo4j.Password == "password" {
		result.AddWarning("NEO4J_PASSWORD is set to a very common password")
	}
}

func (c *Config) validateEmbedding(result *ValidationResult) {
	switch c.Embedding.Provider {
	case "openai", "gemini":
		if c.Embedding.APIKey == "" {
			result.AddError("embedding provider %s requires an API key (EMBEDDING_API_KEY or keychain)", c.Embedding.Provider)
		}
	case "ollama":
		if c.Embedding.BaseURL == "" {
			result.AddError("embedding provider ollama requires embedding.base_url")
		}
	default:
		result.AddError("unknown embedding provider %q (expected openai, ollama or gemini)", c.Embedding.Provider)
	}

	if c.Embedding.Model == "" {
		result.AddError("embedding.model is required")
	}
	if c.Embedding.MaxSeqLength < 0 {
		result.AddError("embedding.max_seq_length must not be negative")
	}
}

func (c *Config) validateSimilarity(result *ValidationResult) {
	switch c.Similarity.Mode {
	case "graph":
		if c.Similarity.CosineFunction == "" {
			result.AddError("similarity.cosine_function is required in graph mode")
		}
	case "local":
	default:
		result.AddError("similarity.mode must be graph or local, got %q", c.Similarity.Mode)
	}

	if c.Similarity.BulkThreshold < 0.3 {
		result.AddWarning("similarity.bulk_threshold %.2f is below 0.3, bulk runs will write many low_similarity edges", c.Similarity.BulkThreshold)
	}
	if c.Similarity.TopN <= 0 {
		result.AddWarning("similarity.top_n is not positive, top results will use the store default")
	}
}

func (c *Config) validateLLM(result *ValidationResult) {
	switch c.LLM.Provider {
	case "openai", "gemini":
		if c.LLM.APIKey == "" {
			result.AddError("llm provider %s requires an API key. Run 'cysecmato configure' or set LLM_API_KEY", c.LLM.Provider)
		}
	case "ollama":
		if c.LLM.BaseURL == "" {
			result.AddError("llm provider ollama requires llm.base_url")
		}
	default:
		result.AddError("unknown llm provider %q (expected openai, ollama or gemini)", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		result.AddError("llm.model is required")
	}
}

func (c *Config) validateRAG(result *ValidationResult) {
	if c.RAG.Limit < 0 {
		result.AddError("rag.limit must not be negative")
	}
	if len(c.RAG.Categories) == 0 {
		result.AddWarning("rag.categories is empty, defaults high_similarity and medium_similarity apply")
	}
}

func (c *Config) validateAudit(result *ValidationResult) {
	switch c.Audit.Driver {
	case "":
		result.AddWarning("audit trail disabled, mapping transitions will not be recorded")
	case "sqlite3", "postgres", "pgx":
		if c.Audit.DSN == "" {
			result.AddError("audit.dsn is required for driver %s", c.Audit.Driver)
		}
	case "jsonl":
		if c.Audit.JSONLPath == "" {
			result.AddError("audit.jsonl_path is required for driver jsonl")
		}
	default:
		result.AddError("unknown audit driver %q", c.Audit.Driver)
	}
}
