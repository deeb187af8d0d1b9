package embedding

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strings"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/metrics"
)

// ErrNoUsableChunks is the cause when an over-budget text decodes into
// nothing but empty chunks. Callers skip such items.
var ErrNoUsableChunks = stderrors.New("text produced no usable chunks")

// VectorCache stores vectors by (model, variant, text). The variant names
// everything besides the model id that shapes the output: the serving
// endpoint and the token limit.
type VectorCache interface {
	Get(model, variant, text string) ([]float32, bool)
	Put(model, variant, text string, vector []float32) error
}

// Encoding is the result of encoding one text
type Encoding struct {
	Vector  []float32
	Chunks  int
	Chunked bool
	Cached  bool
}

// Encoder produces exactly one vector per text
type Encoder struct {
	cache VectorCache
}

// EncoderOption configures an Encoder
type EncoderOption func(*Encoder)

// WithCache enables the vector cache
func WithCache(c VectorCache) EncoderOption {
	return func(e *Encoder) { e.cache = c }
}

// NewEncoder creates an Encoder
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode embeds text with the given components. Texts within the token
// limit are encoded directly. Longer texts lose their boundary markers, are
// cut into chunks of max(limit-2, 1) tokens, and the normalized chunk
// vectors are averaged element-wise.
func (e *Encoder) Encode(ctx context.Context, c Components, text string) (Encoding, error) {
	if !c.complete() {
		return Encoding{}, errors.NotInitializedError("encoder called without an initialized model")
	}
	if strings.TrimSpace(text) == "" {
		return Encoding{}, errors.ValidationError("text to encode is empty")
	}

	ids := c.Tokenizer.Encode(text, true)

	var chunks []string
	if len(ids) > c.TokenLimit {
		chunks = chunkTexts(c.Tokenizer, ids, c.TokenLimit)
		if len(chunks) == 0 {
			return Encoding{}, errors.Wrap(ErrNoUsableChunks, errors.ErrorTypeValidation, errors.SeverityMedium,
				fmt.Sprintf("%d tokens over limit %d", len(ids), c.TokenLimit))
		}
	}

	variant := c.cacheVariant()
	if e.cache != nil {
		if v, ok := e.cache.Get(c.ModelName, variant, text); ok && fitsModel(c.Model, v) {
			metrics.VectorCache.WithLabelValues("hit").Inc()
			enc := Encoding{Vector: v, Chunks: 1, Cached: true}
			if chunks != nil {
				enc.Chunks, enc.Chunked = len(chunks), true
			}
			metrics.EmbeddingChunks.Observe(float64(enc.Chunks))
			return enc, nil
		}
		metrics.VectorCache.WithLabelValues("miss").Inc()
	}

	var enc Encoding
	if chunks == nil {
		vecs, err := e.encodeAll(ctx, c, []string{text})
		if err != nil {
			return Encoding{}, err
		}
		enc = Encoding{Vector: vecs[0], Chunks: 1}
	} else {
		vecs, err := e.encodeAll(ctx, c, chunks)
		if err != nil {
			return Encoding{}, err
		}
		enc = Encoding{Vector: meanPool(vecs), Chunks: len(chunks), Chunked: true}
	}

	metrics.EmbeddingChunks.Observe(float64(enc.Chunks))

	if e.cache != nil {
		// a failed cache write only costs a recompute later
		_ = e.cache.Put(c.ModelName, variant, text, enc.Vector)
	}
	return enc, nil
}

// fitsModel rejects a cached vector whose length disagrees with the
// model's reported dimension
func fitsModel(m Model, v []float32) bool {
	if len(v) == 0 {
		return false
	}
	dim := m.Dimension()
	return dim == 0 || len(v) == dim
}

// chunkTexts strips the start/end markers and decodes consecutive slices
// of max(limit-2, 1) tokens, dropping chunks that decode to blank text.
func chunkTexts(tok Tokenizer, ids []int, limit int) []string {
	inner := ids
	if len(inner) >= 2 {
		inner = inner[1 : len(inner)-1]
	}

	size := limit - 2
	if size < 1 {
		size = 1
	}

	var out []string
	for start := 0; start < len(inner); start += size {
		end := start + size
		if end > len(inner) {
			end = len(inner)
		}
		text := tok.Decode(inner[start:end])
		if strings.TrimSpace(text) == "" {
			continue
		}
		out = append(out, text)
	}
	return out
}

func (e *Encoder) encodeAll(ctx context.Context, c Components, texts []string) ([][]float32, error) {
	vecs, err := c.Model.Encode(ctx, texts)
	if err != nil {
		var typed *errors.Error
		if stderrors.As(err, &typed) {
			return nil, err
		}
		return nil, errors.UnavailableErrorf(err, "embedding model %s failed to encode", c.ModelName)
	}
	if len(vecs) != len(texts) {
		return nil, errors.ExternalError(
			fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)),
			"embedding model returned a short batch")
	}

	dim := c.Model.Dimension()
	for i := range vecs {
		if dim > 0 && len(vecs[i]) != dim {
			return nil, errors.ExternalError(
				fmt.Errorf("vector %d has %d dimensions, want %d", i, len(vecs[i]), dim),
				"embedding model returned inconsistent dimensions")
		}
		if dim == 0 && len(vecs[i]) != len(vecs[0]) {
			return nil, errors.ExternalError(
				fmt.Errorf("vector %d has %d dimensions, want %d", i, len(vecs[i]), len(vecs[0])),
				"embedding model returned inconsistent dimensions")
		}
		vecs[i] = Normalize(vecs[i])
	}
	return vecs, nil
}

// Normalize scales v to unit L2 length; the zero vector is returned as is
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

// meanPool averages vectors element-wise; all vectors share one length
func meanPool(vecs [][]float32) []float32 {
	sums := make([]float64, len(vecs[0]))
	for _, v := range vecs {
		for i, f := range v {
			sums[i] += float64(f)
		}
	}
	out := make([]float32, len(sums))
	n := float64(len(vecs))
	for i, s := range sums {
		out[i] = float32(s / n)
	}
	return out
}
