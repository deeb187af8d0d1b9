// Package embedding turns control prose into fixed-length vectors.
//
// A Manager owns the single active model/tokenizer pair, an Encoder maps
// one text of any length onto one vector under the model's token budget,
// and a Pipeline drives the Encoder over a batch of description parts and
// persists the results in one bulk write.
package embedding

import (
	"context"
	"fmt"
)

// DefaultTokenLimit applies when neither the model nor the tokenizer
// reports a usable maximum sequence length.
const DefaultTokenLimit = 512

// Model is an embedding runtime
type Model interface {
	// Encode returns one vector per text, in input order
	Encode(ctx context.Context, texts []string) ([][]float32, error)
	// MaxSeqLength is the model's configured maximum sequence length, 0 if unknown
	MaxSeqLength() int
	// Dimension is the output vector length, 0 if unknown
	Dimension() int
}

// Tokenizer splits text into token ids compatible with the model's budget
type Tokenizer interface {
	// Encode tokenizes text; with addSpecial the ids are wrapped in one
	// start and one end marker
	Encode(text string, addSpecial bool) []int
	// Decode turns ids back into text, dropping special tokens
	Decode(ids []int) string
	// ModelMaxLength is the tokenizer's configured maximum, 0 if unknown
	ModelMaxLength() int
}

// Loader resolves a model identifier into a runtime and its tokenizer
type Loader interface {
	LoadModel(ctx context.Context, modelID string) (Model, error)
	LoadTokenizer(ctx context.Context, modelID string) (Tokenizer, error)
}

// SourceLoader is a Loader that can name the endpoint it loads from
type SourceLoader interface {
	Loader
	Source() string
}

// Components is a consistent snapshot of the active configuration
type Components struct {
	Model      Model
	Tokenizer  Tokenizer
	TokenLimit int
	ModelName  string
	// Source identifies the serving endpoint, e.g. "ollama@http://host:11434/v1"
	Source string
}

func (c Components) cacheVariant() string {
	return fmt.Sprintf("%s|limit=%d", c.Source, c.TokenLimit)
}

func (c Components) complete() bool {
	return c.Model != nil && c.Tokenizer != nil && c.TokenLimit > 0 && c.ModelName != ""
}
