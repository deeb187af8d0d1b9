package graph

// BatchConfig defines UNWIND batch sizes for bulk writes. Batches only bound
// the size of a single statement; they still share one transaction.
type BatchConfig struct {
	// Embedding vectors are large (hundreds of floats each)
	EmbeddingWriteBatchSize int
	// Similarity rows carry a few scalars
	SimilarityMergeBatchSize int
}

// DefaultBatchConfig returns batch sizes suited to 384..1536 dimension vectors
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		EmbeddingWriteBatchSize:  200,
		SimilarityMergeBatchSize: 2000,
	}
}
