// Package rag turns precomputed similarity into LLM classification
// proposals for control pairs.
package rag

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/similarity"
)

// Completer is a blocking text completion endpoint
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Assembler fetches candidates and classifies pairs
type Assembler struct {
	store     CandidateStore
	completer Completer
	prompt    *PromptTemplate
	logger    *slog.Logger
}

// Option configures an Assembler
type Option func(*Assembler)

// WithPromptTemplate replaces the default classification prompt
func WithPromptTemplate(p *PromptTemplate) Option {
	return func(a *Assembler) { a.prompt = p }
}

// WithLogger sets the assembler logger
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// NewAssembler creates an Assembler with the default prompt
func NewAssembler(store CandidateStore, completer Completer, opts ...Option) *Assembler {
	a := &Assembler{
		store:     store,
		completer: completer,
		logger:    slog.Default().With("component", "rag"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.prompt == nil {
		// the default template is a constant known to parse
		a.prompt, _ = ParsePromptTemplate(DefaultPromptTemplate)
	}
	return a
}

// FetchCandidates returns similar targets of the source in the allowed
// categories, best first, flagged when a mapping already exists
func (a *Assembler) FetchCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error) {
	if strings.TrimSpace(q.SourceID) == "" {
		return nil, errors.ValidationError("source control id is required")
	}
	if len(q.Categories) == 0 {
		q.Categories = DefaultCategories
	}
	for _, c := range q.Categories {
		if _, ok := similarity.ParseCategory(string(c)); !ok {
			return nil, errors.ValidationErrorf("unknown similarity category %q", c)
		}
	}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}

	candidates, err := a.store.Candidates(ctx, q)
	if err != nil {
		return nil, err
	}
	a.logger.Info("rag candidates fetched",
		"source", q.SourceID, "categories", q.Categories, "limit", q.Limit, "found", len(candidates))
	return candidates, nil
}

// SourceProse returns the description of a control
func (a *Assembler) SourceProse(ctx context.Context, controlID string) (string, error) {
	if strings.TrimSpace(controlID) == "" {
		return "", errors.ValidationError("control id is required")
	}
	return a.store.SourceProse(ctx, controlID)
}

// ClassifyPair asks the LLM how two descriptions relate. An empty reply is
// a validation error; an unclassified reply is not an error.
func (a *Assembler) ClassifyPair(ctx context.Context, sourceProse, targetProse string) (Proposal, error) {
	if strings.TrimSpace(sourceProse) == "" || strings.TrimSpace(targetProse) == "" {
		return Proposal{}, errors.ValidationError("source and target prose must not be empty")
	}
	prompt, err := a.prompt.Render(sourceProse, targetProse)
	if err != nil {
		return Proposal{}, err
	}

	reply, err := a.completer.Complete(ctx, prompt)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeUnavailable) {
			return Proposal{}, err
		}
		return Proposal{}, errors.UnavailableError(err, "llm comparison failed")
	}
	if strings.TrimSpace(reply) == "" {
		return Proposal{}, errors.ValidationError("llm returned an empty reply")
	}

	p := a.ParseReply(reply)
	if !p.Classified() {
		a.logger.Warn("llm reply carried no valid classification", "reply_length", len(reply))
	}
	return p, nil
}

// ParseReply parses a raw LLM reply
func (a *Assembler) ParseReply(reply string) Proposal {
	return ParseReply(reply)
}
