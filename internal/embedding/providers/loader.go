// Package providers adapts remote embedding APIs to the embedding.Model
// and embedding.Tokenizer contracts.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/embedding"
	"github.com/cysecmato/cysecmato/internal/errors"
)

const probeText = "dimension probe"

// knownMaxSeq holds published input limits for common embedding models
var knownMaxSeq = map[string]int{
	"text-embedding-3-small": 8191,
	"text-embedding-3-large": 8191,
	"text-embedding-ada-002": 8191,
	"nomic-embed-text":       8192,
	"mxbai-embed-large":      512,
	"all-minilm":             256,
	"all-minilm-l6-v2":       256,
	"all-mpnet-base-v2":      384,
	"bge-m3":                 8192,
	"text-embedding-004":     2048,
	"gemini-embedding-001":   2048,
}

type meta struct {
	dim    int
	maxSeq int
}

func (m *meta) MaxSeqLength() int { return m.maxSeq }

func (m *meta) Dimension() int { return m.dim }

func (m *meta) setMeta(dim, maxSeq int) {
	m.dim = dim
	m.maxSeq = maxSeq
}

type remoteModel interface {
	embedding.Model
	setMeta(dim, maxSeq int)
}

// Loader builds models and tokenizers from the embedding configuration
type Loader struct {
	cfg    config.EmbeddingConfig
	logger *slog.Logger
}

// NewLoader creates a Loader
func NewLoader(cfg config.EmbeddingConfig) *Loader {
	return &Loader{cfg: cfg, logger: slog.Default().With("component", "embedding_provider")}
}

// Source names the provider and endpoint vectors come from
func (l *Loader) Source() string {
	provider := strings.ToLower(l.cfg.Provider)
	if provider == "" {
		provider = "ollama"
	}
	return provider + "@" + l.cfg.BaseURL
}

// LoadModel connects to the configured provider and probes the output
// dimension unless it is configured
func (l *Loader) LoadModel(ctx context.Context, modelID string) (embedding.Model, error) {
	b := newBatcher(l.cfg.BatchSize, l.cfg.RequestsPerMinute)

	var m remoteModel
	switch strings.ToLower(l.cfg.Provider) {
	case "openai":
		if l.cfg.APIKey == "" {
			return nil, errors.ConfigErrorf("openai embeddings need an API key")
		}
		m = newOpenAIModel(l.cfg.APIKey, l.cfg.BaseURL, modelID, b)
	case "ollama", "":
		m = newCompatModel(l.cfg.APIKey, l.cfg.BaseURL, modelID, b)
	case "gemini":
		if l.cfg.APIKey == "" {
			return nil, errors.ConfigErrorf("gemini embeddings need an API key")
		}
		gm, err := newGeminiModel(ctx, l.cfg.APIKey, modelID, b)
		if err != nil {
			return nil, err
		}
		m = gm
	default:
		return nil, errors.ConfigErrorf("unknown embedding provider %q", l.cfg.Provider)
	}

	dim := l.cfg.Dimensions
	if dim <= 0 {
		vecs, err := m.Encode(ctx, []string{probeText})
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", modelID, err)
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return nil, fmt.Errorf("probe %s returned no vector", modelID)
		}
		dim = len(vecs[0])
	}
	m.setMeta(dim, l.maxSeq(modelID))

	l.logger.Info("embedding model connected",
		"provider", l.cfg.Provider,
		"model", modelID,
		"dimension", dim,
		"max_seq_length", m.MaxSeqLength())
	return m, nil
}

// LoadTokenizer returns the BPE tokenizer for the configured encoding
func (l *Loader) LoadTokenizer(_ context.Context, modelID string) (embedding.Tokenizer, error) {
	return NewBPETokenizer(l.cfg.Encoding, l.maxSeq(modelID))
}

func (l *Loader) maxSeq(modelID string) int {
	if l.cfg.MaxSeqLength > 0 {
		return l.cfg.MaxSeqLength
	}
	name := strings.ToLower(modelID)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name, _, _ = strings.Cut(name, ":")
	return knownMaxSeq[name]
}
