package mapping

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cysecmato/cysecmato/internal/audit"
	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/metrics"
)

// Proposal is the machine-suggested content of a new or refreshed mapping
type Proposal struct {
	Type        Type
	Explanation string
	Similarity  float64
}

// Edit is a human correction. An empty Type keeps the current one.
type Edit struct {
	Type        string
	Explanation string
}

// Payload carries the transition-specific fields of a Command
type Payload struct {
	Type        string
	Explanation string
	Similarity  float64
	Annotation  string
}

// Command is one lifecycle request for an ordered control pair
type Command struct {
	SourceID   string
	TargetID   string
	Transition Transition
	Payload    Payload
}

// Manager applies lifecycle transitions and records them in the audit trail
type Manager struct {
	store  Store
	trail  audit.Store
	logger *slog.Logger
	now    func() time.Time
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithAudit records every successful transition in s
func WithAudit(s audit.Store) ManagerOption {
	return func(m *Manager) { m.trail = s }
}

// WithLogger sets the manager logger
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager without an audit trail unless WithAudit is given
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		trail:  audit.Nop{},
		logger: slog.Default().With("component", "mapping"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func checkPair(sourceID, targetID string) error {
	if strings.TrimSpace(sourceID) == "" || strings.TrimSpace(targetID) == "" {
		return errors.ValidationErrorf("source and target control ids are required (%q -> %q)", sourceID, targetID)
	}
	return nil
}

func notFound(sourceID, targetID string) error {
	return errors.NotFoundErrorf("mapping %s -> %s not found", sourceID, targetID).
		WithContext("source_id", sourceID).
		WithContext("target_id", targetID)
}

// Propose creates or overwrites the pair's mapping as pending validation
func (m *Manager) Propose(ctx context.Context, sourceID, targetID string, p Proposal) (err error) {
	defer m.observe(TransitionPropose, &err)
	if err := checkPair(sourceID, targetID); err != nil {
		return err
	}
	t, err := ParseType(string(p.Type))
	if err != nil {
		return err
	}

	patch := Patch{
		Type:        &t,
		Explanation: ptr(p.Explanation),
		Similarity:  ptr(p.Similarity),
		Method:      ptr(MethodLLM),
		Status:      ptr(StatusPending),
	}
	if err := m.store.Upsert(ctx, sourceID, targetID, patch); err != nil {
		return err
	}

	m.record(ctx, sourceID, targetID, TransitionPropose, patch)
	m.logger.Info("mapping proposed", "source", sourceID, "target", targetID, "type", t, "similarity", p.Similarity)
	return nil
}

// Validate accepts the mapping as is. The method is left unchanged since
// the content was not edited.
func (m *Manager) Validate(ctx context.Context, sourceID, targetID string) (err error) {
	defer m.observe(TransitionValidate, &err)
	if err := checkPair(sourceID, targetID); err != nil {
		return err
	}

	patch := Patch{Status: ptr(StatusHumanValidated)}
	found, err := m.store.Update(ctx, sourceID, targetID, patch)
	if err != nil {
		return err
	}
	if !found {
		return notFound(sourceID, targetID)
	}

	m.record(ctx, sourceID, targetID, TransitionValidate, patch)
	m.logger.Info("mapping validated", "source", sourceID, "target", targetID)
	return nil
}

// EditAndConfirm overwrites the explanation (and optionally the type) of an
// existing mapping. A changed, non-null explanation is archived to
// explanation_old in the same write. An invalid type fails before anything
// is written.
func (m *Manager) EditAndConfirm(ctx context.Context, sourceID, targetID string, edit Edit) (err error) {
	defer m.observe(TransitionEdit, &err)
	if err := checkPair(sourceID, targetID); err != nil {
		return err
	}

	patch := Patch{
		Explanation:        ptr(edit.Explanation),
		Method:             ptr(MethodHuman),
		Status:             ptr(StatusConfirmed),
		ArchiveExplanation: true,
	}
	if strings.TrimSpace(edit.Type) != "" {
		t, err := ParseType(edit.Type)
		if err != nil {
			return err.(*errors.Error).
				WithContext("source_id", sourceID).
				WithContext("target_id", targetID)
		}
		patch.Type = &t
	}

	found, err := m.store.Update(ctx, sourceID, targetID, patch)
	if err != nil {
		return err
	}
	if !found {
		return notFound(sourceID, targetID)
	}

	m.record(ctx, sourceID, targetID, TransitionEdit, patch)
	m.logger.Info("mapping edited and confirmed", "source", sourceID, "target", targetID)
	return nil
}

// Reject declines the mapping, keeping an optional free-text annotation
func (m *Manager) Reject(ctx context.Context, sourceID, targetID, annotation string) (err error) {
	defer m.observe(TransitionReject, &err)
	if err := checkPair(sourceID, targetID); err != nil {
		return err
	}

	patch := Patch{Method: ptr(MethodHuman), Status: ptr(StatusRejected)}
	if annotation = strings.TrimSpace(annotation); annotation != "" {
		patch.Annotation = &annotation
	}
	found, err := m.store.Update(ctx, sourceID, targetID, patch)
	if err != nil {
		return err
	}
	if !found {
		return notFound(sourceID, targetID)
	}

	m.record(ctx, sourceID, targetID, TransitionReject, patch)
	m.logger.Info("mapping rejected", "source", sourceID, "target", targetID)
	return nil
}

// Delete removes the edge. Confirmation is the caller's job; deleting an
// absent edge reports false without error.
func (m *Manager) Delete(ctx context.Context, sourceID, targetID string) (deleted bool, err error) {
	defer m.observe(TransitionDelete, &err)
	if err := checkPair(sourceID, targetID); err != nil {
		return false, err
	}

	deleted, err = m.store.Delete(ctx, sourceID, targetID)
	if err != nil {
		return false, err
	}
	if !deleted {
		m.logger.Warn("no mapping to delete", "source", sourceID, "target", targetID)
		return false, nil
	}

	m.record(ctx, sourceID, targetID, TransitionDelete, Patch{})
	m.logger.Info("mapping deleted", "source", sourceID, "target", targetID)
	return true, nil
}

// Get returns the pair's mapping or a NotFound error
func (m *Manager) Get(ctx context.Context, sourceID, targetID string) (Mapping, error) {
	if err := checkPair(sourceID, targetID); err != nil {
		return Mapping{}, err
	}
	mp, found, err := m.store.Get(ctx, sourceID, targetID)
	if err != nil {
		return Mapping{}, err
	}
	if !found {
		return Mapping{}, notFound(sourceID, targetID)
	}
	return mp, nil
}

// List returns mappings for review, most recently updated first
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]Mapping, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	return m.store.List(ctx, filter)
}

// History returns the recorded transitions of a pair, newest first. An
// empty target returns every pair of the source.
func (m *Manager) History(ctx context.Context, sourceID, targetID string, limit int) ([]audit.Entry, error) {
	if strings.TrimSpace(sourceID) == "" {
		return nil, errors.ValidationError("source control id is required")
	}
	return m.trail.History(ctx, sourceID, targetID, limit)
}

// Apply dispatches a Command to its transition
func (m *Manager) Apply(ctx context.Context, cmd Command) error {
	switch cmd.Transition {
	case TransitionPropose:
		t, err := ParseType(cmd.Payload.Type)
		if err != nil {
			return err
		}
		return m.Propose(ctx, cmd.SourceID, cmd.TargetID, Proposal{Type: t, Explanation: cmd.Payload.Explanation, Similarity: cmd.Payload.Similarity})
	case TransitionValidate:
		return m.Validate(ctx, cmd.SourceID, cmd.TargetID)
	case TransitionEdit:
		return m.EditAndConfirm(ctx, cmd.SourceID, cmd.TargetID, Edit{Type: cmd.Payload.Type, Explanation: cmd.Payload.Explanation})
	case TransitionReject:
		return m.Reject(ctx, cmd.SourceID, cmd.TargetID, cmd.Payload.Annotation)
	case TransitionDelete:
		_, err := m.Delete(ctx, cmd.SourceID, cmd.TargetID)
		return err
	default:
		return errors.ValidationErrorf("unknown mapping transition %q", cmd.Transition)
	}
}

func (m *Manager) observe(t Transition, err *error) {
	metrics.MappingTransitions.WithLabelValues(string(t), metrics.Outcome(*err)).Inc()
}

// record appends to the audit trail. A failing trail never fails the
// transition that already happened.
func (m *Manager) record(ctx context.Context, sourceID, targetID string, t Transition, patch Patch) {
	e := audit.Entry{
		SourceID:   sourceID,
		TargetID:   targetID,
		Transition: string(t),
		At:         m.now(),
	}
	if patch.Status != nil {
		e.Status = string(*patch.Status)
	}
	if patch.Method != nil {
		e.Method = string(*patch.Method)
	}
	if patch.Type != nil {
		e.Type = string(*patch.Type)
	}
	if patch.Annotation != nil {
		e.Annotation = *patch.Annotation
	}
	if err := m.trail.Record(ctx, e); err != nil {
		m.logger.Error("failed to record mapping transition",
			"source", sourceID, "target", targetID, "transition", t, "error", err)
	}
}
