package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAIModel embeds through the official OpenAI API
type OpenAIModel struct {
	client openai.Client
	model  string
	batch  *batcher
	meta
}

func newOpenAIModel(apiKey, baseURL, model string, b *batcher) *OpenAIModel {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIModel{client: openai.NewClient(opts...), model: model, batch: b}
}

func (m *OpenAIModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return m.batch.run(ctx, texts, m.embed)
}

func (m *OpenAIModel) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := m.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(m.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, fmt.Errorf("openai returned out-of-range index %d", d.Index)
		}
		out[d.Index] = toFloat32(d.Embedding)
	}
	return out, nil
}

// CompatModel embeds through any OpenAI-compatible /embeddings endpoint,
// such as Ollama or LM Studio
type CompatModel struct {
	client *goopenai.Client
	model  string
	batch  *batcher
	meta
}

func newCompatModel(apiKey, baseURL, model string, b *batcher) *CompatModel {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &CompatModel{client: goopenai.NewClientWithConfig(cfg), model: model, batch: b}
}

func (m *CompatModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return m.batch.run(ctx, texts, m.embed)
}

func (m *CompatModel) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := m.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequestStrings{
		Input: texts,
		Model: goopenai.EmbeddingModel(m.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request to %s failed: %w", m.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("endpoint returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("endpoint returned out-of-range index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
