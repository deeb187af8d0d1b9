package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/errors"
)

func TestBatcherPreservesOrder(t *testing.T) {
	b := newBatcher(3, 0)
	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}

	var requests atomic.Int32
	out, err := b.run(context.Background(), texts, func(_ context.Context, batch []string) ([][]float32, error) {
		requests.Add(1)
		assert.LessOrEqual(t, len(batch), 3)
		vecs := make([][]float32, len(batch))
		for i, s := range batch {
			var n int
			fmt.Sscanf(s, "t%d", &n)
			vecs[i] = []float32{float32(n)}
		}
		return vecs, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, requests.Load())
	for i, v := range out {
		assert.Equal(t, []float32{float32(i)}, v)
	}
}

func TestBatcherPropagatesErrors(t *testing.T) {
	b := newBatcher(2, 0)
	_, err := b.run(context.Background(), []string{"a", "b", "c"}, func(context.Context, []string) ([][]float32, error) {
		return nil, fmt.Errorf("quota exceeded")
	})
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestMaxSeqResolution(t *testing.T) {
	tests := []struct {
		name       string
		configured int
		model      string
		want       int
	}{
		{"configured wins", 300, "nomic-embed-text", 300},
		{"known model", 0, "text-embedding-3-small", 8191},
		{"ollama tag stripped", 0, "nomic-embed-text:latest", 8192},
		{"hub path stripped", 0, "sentence-transformers/all-MiniLM-L6-v2", 256},
		{"unknown", 0, "custom-encoder", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader(config.EmbeddingConfig{MaxSeqLength: tt.configured})
			assert.Equal(t, tt.want, l.maxSeq(tt.model))
		})
	}
}

func TestLoaderSource(t *testing.T) {
	l := NewLoader(config.EmbeddingConfig{BaseURL: "http://gpu-01:11434/v1"})
	assert.Equal(t, "ollama@http://gpu-01:11434/v1", l.Source())

	l = NewLoader(config.EmbeddingConfig{Provider: "OpenAI", BaseURL: "https://api.openai.com/v1"})
	assert.Equal(t, "openai@https://api.openai.com/v1", l.Source())
}

func TestLoadModelConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.EmbeddingConfig
	}{
		{"unknown provider", config.EmbeddingConfig{Provider: "cohere"}},
		{"openai without key", config.EmbeddingConfig{Provider: "openai"}},
		{"gemini without key", config.EmbeddingConfig{Provider: "gemini"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(tt.cfg).LoadModel(context.Background(), "m")
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func embeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		data := make([]map[string]any, 0, len(req.Input))
		// reversed to check index handling
		for i := len(req.Input) - 1; i >= 0; i-- {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(len(req.Input[i])), 1, 0},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCompatModelAgainstServer(t *testing.T) {
	srv := embeddingServer(t)
	l := NewLoader(config.EmbeddingConfig{Provider: "ollama", BaseURL: srv.URL, BatchSize: 2})

	m, err := l.LoadModel(context.Background(), "nomic-embed-text")
	require.NoError(t, err)
	assert.Equal(t, 3, m.Dimension(), "dimension comes from the probe")
	assert.Equal(t, 8192, m.MaxSeqLength())

	vecs, err := m.Encode(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{1, 1, 0}, vecs[0])
	assert.Equal(t, []float32{2, 1, 0}, vecs[1])
	assert.Equal(t, []float32{3, 1, 0}, vecs[2])
}

func TestConfiguredDimensionSkipsProbe(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, err := NewLoader(config.EmbeddingConfig{Provider: "ollama", BaseURL: srv.URL, Dimensions: 768}).
		LoadModel(context.Background(), "nomic-embed-text")
	require.NoError(t, err)
	assert.Equal(t, 768, m.Dimension())
	assert.Zero(t, hits.Load())
}

func TestBPETokenizerMarkers(t *testing.T) {
	tok, err := NewBPETokenizer("cl100k_base", 512)
	if err != nil {
		t.Skipf("encoding unavailable offline: %v", err)
	}

	text := "Audit events are reviewed weekly."
	plain := tok.Encode(text, false)
	marked := tok.Encode(text, true)

	require.Len(t, marked, len(plain)+2)
	assert.Equal(t, startMarker, marked[0])
	assert.Equal(t, endMarker, marked[len(marked)-1])
	assert.Equal(t, text, tok.Decode(marked))
	assert.Equal(t, 512, tok.ModelMaxLength())
}
