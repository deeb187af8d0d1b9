package rag

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/cysecmato/cysecmato/internal/mapping"
	"github.com/cysecmato/cysecmato/internal/metrics"
	"github.com/cysecmato/cysecmato/internal/progress"
	"github.com/cysecmato/cysecmato/internal/similarity"
)

// OutcomeKind is the result of proposing one candidate
type OutcomeKind string

const (
	OutcomeProposed      OutcomeKind = "proposed"
	OutcomeSkippedMapped OutcomeKind = "skipped_mapped"
	OutcomeUnclassified  OutcomeKind = "unclassified"
	OutcomeFailed        OutcomeKind = "failed"
)

// Outcome reports one candidate of a batch proposal
type Outcome struct {
	TargetID       string       `json:"target_id"`
	Score          float64      `json:"score"`
	Kind           OutcomeKind  `json:"outcome"`
	Classification mapping.Type `json:"classification,omitempty"`
	Explanation    string       `json:"explanation,omitempty"`
	Err            error        `json:"-"`
}

// MappingProposer persists a machine proposal
type MappingProposer interface {
	Propose(ctx context.Context, sourceID, targetID string, p mapping.Proposal) error
}

// ProposeRequest selects the candidates to classify
type ProposeRequest struct {
	SourceID   string
	Categories []similarity.Category
	Limit      int
}

// DefaultConcurrency bounds simultaneous LLM calls
const DefaultConcurrency = 2

// Proposer classifies every unmapped candidate of a source and records
// valid classifications as pending mappings
type Proposer struct {
	assembler   *Assembler
	mappings    MappingProposer
	concurrency int
	logger      *slog.Logger
}

// ProposerOption configures a Proposer
type ProposerOption func(*Proposer)

// WithConcurrency bounds simultaneous LLM calls
func WithConcurrency(n int) ProposerOption {
	return func(p *Proposer) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// NewProposer creates a Proposer
func NewProposer(assembler *Assembler, mappings MappingProposer, opts ...ProposerOption) *Proposer {
	p := &Proposer{
		assembler:   assembler,
		mappings:    mappings,
		concurrency: DefaultConcurrency,
		logger:      slog.Default().With("component", "rag"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ProposeAll runs the batch. Per-candidate failures are reported in the
// outcomes; only a failure to start (no source prose, no candidates read)
// or cancellation is returned as an error. Outcomes keep candidate order.
func (p *Proposer) ProposeAll(ctx context.Context, req ProposeRequest, sink progress.Sink) ([]Outcome, error) {
	rep := progress.NewReporter(sink, "rag")

	candidates, err := p.assembler.FetchCandidates(ctx, CandidateQuery{
		SourceID:   req.SourceID,
		Categories: req.Categories,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		rep.Info(fmt.Sprintf("no similar controls for %s in the selected categories", req.SourceID))
		return nil, nil
	}
	sourceProse, err := p.assembler.SourceProse(ctx, req.SourceID)
	if err != nil {
		return nil, err
	}

	// per-candidate failures stay in outcomes; only cancellation of ctx
	// surfaces from Wait
	outcomes := make([]Outcome, len(candidates))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, c := range candidates {
		outcomes[i] = Outcome{TargetID: c.TargetID, Score: c.Score}
		if c.HasMapping {
			outcomes[i].Kind = OutcomeSkippedMapped
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].Kind, outcomes[i].Err = OutcomeFailed, err
				return err
			}
			p.proposeOne(ctx, req.SourceID, sourceProse, c, &outcomes[i])
			return nil
		})
	}
	waitErr := g.Wait()

	for i, o := range outcomes {
		metrics.RAGOutcomes.WithLabelValues(string(o.Kind)).Inc()
		switch o.Kind {
		case OutcomeFailed:
			rep.Error(o.TargetID, o.Err.Error())
		case OutcomeUnclassified:
			rep.Warn(o.TargetID, "reply carried no valid classification")
		}
		rep.Step(i+1, len(outcomes), fmt.Sprintf("%s -> %s: %s", req.SourceID, o.TargetID, o.Kind))
	}
	p.logger.Info("rag proposals finished", "source", req.SourceID, "candidates", len(candidates))
	if waitErr != nil {
		return outcomes, waitErr
	}
	return outcomes, ctx.Err()
}

func (p *Proposer) proposeOne(ctx context.Context, sourceID, sourceProse string, c Candidate, out *Outcome) {
	proposal, err := p.assembler.ClassifyPair(ctx, sourceProse, c.TargetProse)
	if err != nil {
		out.Kind, out.Err = OutcomeFailed, err
		return
	}
	out.Classification = proposal.Classification
	out.Explanation = proposal.Explanation
	if !proposal.Classified() {
		out.Kind = OutcomeUnclassified
		return
	}

	err = p.mappings.Propose(ctx, sourceID, c.TargetID, mapping.Proposal{
		Type:        proposal.Classification,
		Explanation: proposal.Explanation,
		Similarity:  c.Score,
	})
	if err != nil {
		out.Kind, out.Err = OutcomeFailed, err
		return
	}
	out.Kind = OutcomeProposed
}
