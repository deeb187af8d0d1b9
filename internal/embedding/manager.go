package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/metrics"
	"github.com/cysecmato/cysecmato/internal/progress"
)

// Manager holds the one active embedding configuration. Initialize calls
// are serialized; readers always see either the complete old or the
// complete new configuration, or none while a swap is loading.
type Manager struct {
	loader       Loader
	logger       *slog.Logger
	defaultLimit int

	initMu sync.Mutex // serializes Initialize

	mu     sync.RWMutex
	active *Components
	loads  int
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithManagerLogger overrides the component logger
func WithManagerLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithDefaultTokenLimit overrides the 512 token fallback budget
func WithDefaultTokenLimit(n int) ManagerOption {
	return func(m *Manager) { m.defaultLimit = n }
}

// NewManager creates an uninitialized Manager
func NewManager(loader Loader, opts ...ManagerOption) *Manager {
	m := &Manager{
		loader:       loader,
		logger:       slog.Default().With("component", "embedding_manager"),
		defaultLimit: DefaultTokenLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Initialize makes modelID the active model. Re-initializing the active
// model is a no-op. Any load failure leaves the manager uninitialized.
func (m *Manager) Initialize(ctx context.Context, modelID string, sink progress.Sink) error {
	modelID = strings.TrimSpace(modelID)
	if modelID == "" {
		return errors.ValidationError("model identifier is required")
	}
	report := progress.NewReporter(sink, "model")

	m.initMu.Lock()
	defer m.initMu.Unlock()

	m.mu.RLock()
	current := m.active
	m.mu.RUnlock()
	if current != nil && current.ModelName == modelID && current.Model != nil && current.Tokenizer != nil {
		metrics.ModelLoads.WithLabelValues("reused").Inc()
		report.Info(fmt.Sprintf("model %s already active", modelID))
		return nil
	}

	m.reset()

	report.Info(fmt.Sprintf("loading embedding model %s", modelID))
	model, err := m.loader.LoadModel(ctx, modelID)
	if err != nil {
		return m.fail(report, modelID, "model load failed", err)
	}

	report.Info(fmt.Sprintf("loading tokenizer for %s", modelID))
	tokenizer, err := m.loader.LoadTokenizer(ctx, modelID)
	if err != nil {
		return m.fail(report, modelID, "tokenizer load failed", err)
	}

	limit, source := resolveTokenLimit(model.MaxSeqLength(), tokenizer.ModelMaxLength(), m.defaultLimit)
	if limit <= 0 {
		return m.fail(report, modelID, "token budget", errors.ConfigErrorf("resolved token limit %d is not positive", limit))
	}

	var endpoint string
	if sl, ok := m.loader.(SourceLoader); ok {
		endpoint = sl.Source()
	}

	m.mu.Lock()
	m.active = &Components{
		Model:      model,
		Tokenizer:  tokenizer,
		TokenLimit: limit,
		ModelName:  modelID,
		Source:     endpoint,
	}
	m.loads++
	m.mu.Unlock()

	metrics.ModelLoads.WithLabelValues("loaded").Inc()
	m.logger.Info("embedding model initialized",
		"model", modelID,
		"token_limit", limit,
		"token_limit_source", source,
		"dimension", model.Dimension())
	report.Info(fmt.Sprintf("model %s ready (token limit %d from %s)", modelID, limit, source))
	return nil
}

func (m *Manager) fail(report progress.Reporter, modelID, stage string, err error) error {
	m.reset()
	metrics.ModelLoads.WithLabelValues("failed").Inc()
	m.logger.Error("embedding model initialization failed", "model", modelID, "stage", stage, "error", err)
	report.Error(modelID, fmt.Sprintf("%s: %v", stage, err))

	var typed *errors.Error
	if e, ok := err.(*errors.Error); ok {
		typed = e
	} else {
		typed = errors.UnavailableErrorf(err, "embedding %s for %s", stage, modelID)
	}
	return typed.WithContext("model", modelID)
}

func (m *Manager) reset() {
	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
}

// Active returns the active components or a NotInitialized error. It never
// initializes implicitly.
func (m *Manager) Active() (Components, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil || !m.active.complete() {
		return Components{}, errors.NotInitializedError("embedding model not initialized, call Initialize first")
	}
	return *m.active, nil
}

// ActiveModelName returns the active model identifier, if any
func (m *Manager) ActiveModelName() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return "", false
	}
	return m.active.ModelName, true
}

// Loads returns how many expensive loads have completed
func (m *Manager) Loads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads
}

// resolveTokenLimit prefers the model's own maximum, then the tokenizer's,
// then the fallback.
func resolveTokenLimit(modelMax, tokenizerMax, fallback int) (int, string) {
	if modelMax > 0 {
		return modelMax, "model"
	}
	if tokenizerMax > 0 {
		return tokenizerMax, "tokenizer"
	}
	return fallback, "default"
}
