package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

const (
	bos = 0
	eos = 1
)

// wordTokenizer maps each whitespace-separated word to one id
type wordTokenizer struct {
	mu     sync.Mutex
	vocab  map[string]int
	words  []string
	maxLen int
}

func newWordTokenizer(maxLen int) *wordTokenizer {
	return &wordTokenizer{vocab: map[string]int{}, words: []string{"<s>", "</s>"}, maxLen: maxLen}
}

func (w *wordTokenizer) Encode(text string, addSpecial bool) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	var ids []int
	if addSpecial {
		ids = append(ids, bos)
	}
	for _, word := range strings.Fields(text) {
		id, ok := w.vocab[word]
		if !ok {
			id = len(w.words)
			w.vocab[word] = id
			w.words = append(w.words, word)
		}
		ids = append(ids, id)
	}
	if addSpecial {
		ids = append(ids, eos)
	}
	return ids
}

func (w *wordTokenizer) Decode(ids []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var parts []string
	for _, id := range ids {
		if id == bos || id == eos {
			continue
		}
		parts = append(parts, w.words[id])
	}
	return strings.Join(parts, " ")
}

func (w *wordTokenizer) ModelMaxLength() int { return w.maxLen }

// blankTokenizer decodes everything to whitespace
type blankTokenizer struct{ *wordTokenizer }

func (b blankTokenizer) Decode([]int) string { return "   " }

// hashModel derives a deterministic vector from each text
type hashModel struct {
	mu       sync.Mutex
	dim      int
	maxSeq   int
	calls    [][]string
	failOn   string
	override map[string][]float32
}

func (m *hashModel) Encode(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), texts...))
	m.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if m.failOn != "" && strings.Contains(text, m.failOn) {
			return nil, fmt.Errorf("runtime crashed on %q", text)
		}
		if v, ok := m.override[text]; ok {
			out[i] = v
			continue
		}
		out[i] = Normalize(hashVector(text, m.dim))
	}
	return out, nil
}

func (m *hashModel) MaxSeqLength() int { return m.maxSeq }

func (m *hashModel) Dimension() int { return m.dim }

func (m *hashModel) encodedTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []string
	for _, c := range m.calls {
		all = append(all, c...)
	}
	return all
}

func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		h := fnv.New32a()
		fmt.Fprintf(h, "%d:%s", i, text)
		v[i] = float32(h.Sum32()%1000)/1000 + 0.01
	}
	return v
}

// fakeLoader counts loads and can fail per model id
type fakeLoader struct {
	mu             sync.Mutex
	modelLoads     int
	tokenizerLoads int
	failModel      map[string]bool
	failTokenizer  map[string]bool
	modelMax       int
	tokenizerMax   int
	dim            int
	failOn         string
	source         string
}

func (l *fakeLoader) Source() string { return l.source }

func newFakeLoader() *fakeLoader {
	return &fakeLoader{failModel: map[string]bool{}, failTokenizer: map[string]bool{}, dim: 4}
}

func (l *fakeLoader) LoadModel(_ context.Context, id string) (Model, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failModel[id] {
		return nil, fmt.Errorf("no such model %s", id)
	}
	l.modelLoads++
	return &hashModel{dim: l.dim, maxSeq: l.modelMax, failOn: l.failOn}, nil
}

func (l *fakeLoader) LoadTokenizer(_ context.Context, id string) (Tokenizer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failTokenizer[id] {
		return nil, fmt.Errorf("no tokenizer for %s", id)
	}
	l.tokenizerLoads++
	return newWordTokenizer(l.tokenizerMax), nil
}

// memWriter records written vectors
type memWriter struct {
	mu      sync.Mutex
	vectors map[string]PartVector
	writes  int
	err     error
}

func (w *memWriter) WriteEmbeddings(_ context.Context, vectors []PartVector) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	if w.vectors == nil {
		w.vectors = map[string]PartVector{}
	}
	w.writes++
	for _, v := range vectors {
		w.vectors[v.PartID] = v
	}
	return len(vectors), nil
}

// memCache is an in-memory VectorCache
type memCache struct {
	data map[string][]float32
}

func (c *memCache) Get(model, variant, text string) ([]float32, bool) {
	v, ok := c.data[model+"\x00"+variant+"\x00"+text]
	return v, ok
}

func (c *memCache) Put(model, variant, text string, v []float32) error {
	if c.data == nil {
		c.data = map[string][]float32{}
	}
	c.data[model+"\x00"+variant+"\x00"+text] = v
	return nil
}

func words(n int, prefix string) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(w, " ")
}
