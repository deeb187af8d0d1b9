package graph

import (
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Operation names. Each maps to a timeout and metadata that Neo4j records
// in query.log, so slow queries can be attributed.
const (
	OpCatalogRead     = "catalog_read"
	OpEmbeddingStatus = "embedding_status"
	OpEmbeddingWrite  = "embedding_write"
	OpSimilarityRead  = "similarity_read"
	OpSimilarityMerge = "similarity_merge"
	OpSimilarityBulk  = "similarity_bulk"
	OpMappingRead     = "mapping_read"
	OpMappingWrite    = "mapping_write"
	OpRAGContext      = "rag_context"
	OpIndexCreation   = "index_creation"
	OpHealthCheck     = "health_check"
)

// TransactionConfig defines timeout and metadata for transactions
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

// DefaultTransactionConfigs returns the config per operation
func DefaultTransactionConfigs() map[string]TransactionConfig {
	return map[string]TransactionConfig{
		OpCatalogRead: {
			Timeout:  30 * time.Second,
			Metadata: map[string]any{"operation": OpCatalogRead, "type": "read"},
		},
		OpEmbeddingStatus: {
			Timeout:  60 * time.Second,
			Metadata: map[string]any{"operation": OpEmbeddingStatus, "type": "read"},
		},
		// One transaction carries every vector of a batch run
		OpEmbeddingWrite: {
			Timeout:  5 * time.Minute,
			Metadata: map[string]any{"operation": OpEmbeddingWrite, "type": "write"},
		},
		OpSimilarityRead: {
			Timeout:  2 * time.Minute,
			Metadata: map[string]any{"operation": OpSimilarityRead, "type": "read"},
		},
		OpSimilarityMerge: {
			Timeout:  2 * time.Minute,
			Metadata: map[string]any{"operation": OpSimilarityMerge, "type": "write"},
		},
		// Catalog x catalog scoring happens inside this transaction
		OpSimilarityBulk: {
			Timeout:  30 * time.Minute,
			Metadata: map[string]any{"operation": OpSimilarityBulk, "type": "write"},
		},
		OpMappingRead: {
			Timeout:  30 * time.Second,
			Metadata: map[string]any{"operation": OpMappingRead, "type": "read"},
		},
		OpMappingWrite: {
			Timeout:  30 * time.Second,
			Metadata: map[string]any{"operation": OpMappingWrite, "type": "write"},
		},
		OpRAGContext: {
			Timeout:  30 * time.Second,
			Metadata: map[string]any{"operation": OpRAGContext, "type": "read"},
		},
		OpIndexCreation: {
			Timeout:  5 * time.Minute,
			Metadata: map[string]any{"operation": OpIndexCreation, "type": "schema"},
		},
		OpHealthCheck: {
			Timeout:  5 * time.Second,
			Metadata: map[string]any{"operation": OpHealthCheck, "type": "read"},
		},
	}
}

// AsNeo4jConfig converts to Neo4j transaction config functions
// for use with ExecuteRead/ExecuteWrite
func (tc TransactionConfig) AsNeo4jConfig() []func(*neo4j.TransactionConfig) {
	configs := []func(*neo4j.TransactionConfig){}

	if tc.Timeout > 0 {
		configs = append(configs, neo4j.WithTxTimeout(tc.Timeout))
	}
	if len(tc.Metadata) > 0 {
		configs = append(configs, neo4j.WithTxMetadata(tc.Metadata))
	}

	return configs
}

// GetConfigForOperation retrieves the transaction config for an operation,
// falling back to a 60s default for unknown names
func GetConfigForOperation(operation string) TransactionConfig {
	if config, ok := DefaultTransactionConfigs()[operation]; ok {
		return config
	}

	return TransactionConfig{
		Timeout: 60 * time.Second,
		Metadata: map[string]any{
			"operation": operation,
			"type":      "unknown",
		},
	}
}
