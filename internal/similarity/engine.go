package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/metrics"
)

// Mode selects where cosine similarity is computed
type Mode string

const (
	// ModeGraph runs the cosine function inside the store query
	ModeGraph Mode = "graph"
	// ModeLocal reads vectors and scores them in-process
	ModeLocal Mode = "local"
)

// DefaultCosineFunction is the Graph Data Science cosine
const DefaultCosineFunction = "gds.similarity.cosine"

// function names are spliced into Cypher, so only dotted identifiers pass
var functionName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// Engine computes 1-N and M-N similarities
type Engine struct {
	store    Store
	mode     Mode
	cosineFn string
	logger   *slog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithMode selects graph or local scoring
func WithMode(m Mode) Option {
	return func(e *Engine) { e.mode = m }
}

// WithCosineFunction names the in-query cosine function used in graph mode
func WithCosineFunction(name string) Option {
	return func(e *Engine) { e.cosineFn = name }
}

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine, graph mode with the GDS cosine by default
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		mode:     ModeGraph,
		cosineFn: DefaultCosineFunction,
		logger:   slog.Default().With("component", "similarity"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the configured scoring mode
func (e *Engine) Mode() Mode { return e.mode }

func (e *Engine) checkConfig() error {
	switch e.mode {
	case ModeGraph:
		if !functionName.MatchString(e.cosineFn) {
			return errors.ConfigErrorf("invalid cosine function name %q", e.cosineFn)
		}
	case ModeLocal:
	default:
		return errors.ConfigErrorf("unknown similarity mode %q", e.mode)
	}
	return nil
}

// Lock loads the source part for a 1-N comparison. A part without a
// vector cannot be locked.
func (e *Engine) Lock(ctx context.Context, partID string) (LockedPart, error) {
	if partID == "" {
		return LockedPart{}, errors.ValidationError("source part id is required")
	}
	locked, err := e.store.LockedPart(ctx, partID)
	if err != nil {
		return LockedPart{}, err
	}
	if len(locked.Vector) == 0 {
		return LockedPart{}, errors.NotFoundErrorf("part %s has no embedding vector", partID).
			WithContext("part_id", partID).
			WithContext("control_id", locked.ControlID)
	}
	return locked, nil
}

// OneToMany scores the locked part against every embedded description in
// the target scope. Nothing is written; results are ordered by descending
// score and never include the source part itself.
func (e *Engine) OneToMany(ctx context.Context, req OneToManyRequest) ([]Result, error) {
	if err := e.checkConfig(); err != nil {
		return nil, err
	}
	if req.TargetCatalog == "" {
		return nil, errors.ValidationError("target catalog is required")
	}
	locked, err := e.Lock(ctx, req.SourcePartID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var results []Result
	if e.mode == ModeGraph {
		results, err = e.store.ScoreOneToMany(ctx, e.cosineFn, req)
		if err != nil {
			return nil, e.capability(err)
		}
	} else {
		results, err = e.localOneToMany(ctx, locked, req)
		if err != nil {
			return nil, err
		}
	}
	metrics.SimilarityDuration.WithLabelValues(string(e.mode)).Observe(time.Since(start).Seconds())
	metrics.SimilarityRows.WithLabelValues(string(e.mode), "returned").Add(float64(len(results)))

	e.logger.Info("1-N similarities computed",
		"source_part", req.SourcePartID,
		"source_control", locked.ControlID,
		"target_catalog", req.TargetCatalog,
		"target_group", req.TargetGroup,
		"threshold", req.Threshold,
		"results", len(results),
		"mode", e.mode)
	return results, nil
}

func (e *Engine) localOneToMany(ctx context.Context, locked LockedPart, req OneToManyRequest) ([]Result, error) {
	targets, err := e.store.Parts(ctx, req.TargetCatalog, req.TargetGroup)
	if err != nil {
		return nil, err
	}

	var results []Result
	mismatched := 0
	for _, t := range targets {
		if t.PartID == locked.PartID || len(t.Vector) == 0 {
			continue
		}
		score, err := Cosine(locked.Vector, t.Vector)
		if err != nil {
			mismatched++
			continue
		}
		if score < req.Threshold {
			continue
		}
		results = append(results, Result{
			SourceID:    locked.ControlID,
			SourceProse: locked.Prose,
			TargetID:    t.ControlID,
			TargetTitle: t.Title,
			TargetProse: t.Prose,
			Score:       score,
			Category:    Categorize(score),
		})
	}
	if mismatched > 0 {
		e.logger.Warn("skipped targets embedded with a different vector size",
			"source_part", locked.PartID, "skipped", mismatched)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].TargetID < results[j].TargetID
	})
	return results, nil
}

// Store persists caller-approved 1-N results as similarity edges and
// returns how many edges were created or refreshed
func (e *Engine) Store(ctx context.Context, results []Result, modelName string) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	if modelName == "" {
		return 0, errors.ValidationError("model name is required to store similarities")
	}

	edges := make([]Edge, 0, len(results))
	for _, r := range results {
		if r.SourceID == "" || r.TargetID == "" {
			return 0, errors.ValidationErrorf("similarity result without control ids (%q -> %q)", r.SourceID, r.TargetID)
		}
		cat := r.Category
		if cat == "" {
			cat = Categorize(r.Score)
		}
		edges = append(edges, Edge{SourceID: r.SourceID, TargetID: r.TargetID, Score: r.Score, Category: cat, ModelName: modelName})
	}

	n, err := e.store.MergeEdges(ctx, edges)
	if err != nil {
		return 0, err
	}
	metrics.SimilarityRows.WithLabelValues(string(e.mode), "stored").Add(float64(n))
	e.logger.Info("similarities stored", "requested", len(edges), "merged", n, "model", modelName)
	return n, nil
}

// ManyToMany scores every eligible pair across two catalogs and writes the
// pairs reaching the threshold in one transaction. Group narrowing is not
// applied to bulk runs.
func (e *Engine) ManyToMany(ctx context.Context, req ManyToManyRequest) (ManyToManyResult, error) {
	if err := e.checkConfig(); err != nil {
		return ManyToManyResult{}, err
	}
	if req.SourceCatalog == "" || req.TargetCatalog == "" {
		return ManyToManyResult{}, errors.ValidationError("source and target catalogs are required")
	}
	if req.ModelName == "" {
		return ManyToManyResult{}, errors.ValidationError("model name is required for a bulk run")
	}
	if req.SourceGroup != "" || req.TargetGroup != "" {
		e.logger.Warn("group narrowing is ignored for bulk runs, scoring whole catalogs",
			"source_group", req.SourceGroup, "target_group", req.TargetGroup)
	}

	start := time.Now()
	var (
		written int
		err     error
	)
	if e.mode == ModeGraph {
		written, err = e.store.ScoreManyToMany(ctx, e.cosineFn, req)
		if err != nil {
			return ManyToManyResult{}, e.capability(err)
		}
	} else {
		written, err = e.localManyToMany(ctx, req)
		if err != nil {
			return ManyToManyResult{}, err
		}
	}
	metrics.SimilarityDuration.WithLabelValues(string(e.mode)).Observe(time.Since(start).Seconds())
	metrics.SimilarityRows.WithLabelValues(string(e.mode), "written").Add(float64(written))

	e.logger.Info("M-N similarities written",
		"source_catalog", req.SourceCatalog,
		"target_catalog", req.TargetCatalog,
		"threshold", req.Threshold,
		"model", req.ModelName,
		"written", written,
		"duration_ms", time.Since(start).Milliseconds())

	out := ManyToManyResult{RelationshipsWritten: written}
	if req.TopN > 0 {
		top, err := e.Top(ctx, TopRequest{SourceCatalog: req.SourceCatalog, TargetCatalog: req.TargetCatalog, Limit: req.TopN})
		if err != nil {
			return out, err
		}
		out.Top = top
	}
	return out, nil
}

func (e *Engine) localManyToMany(ctx context.Context, req ManyToManyRequest) (int, error) {
	sources, err := e.store.Parts(ctx, req.SourceCatalog, "")
	if err != nil {
		return 0, err
	}
	targets, err := e.store.Parts(ctx, req.TargetCatalog, "")
	if err != nil {
		return 0, err
	}

	var edges []Edge
	mismatched := 0
	for _, s := range sources {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		for _, t := range targets {
			if s.PartID == t.PartID {
				continue
			}
			score, err := Cosine(s.Vector, t.Vector)
			if err != nil {
				mismatched++
				continue
			}
			if score < req.Threshold {
				continue
			}
			edges = append(edges, Edge{
				SourceID:  s.ControlID,
				TargetID:  t.ControlID,
				Score:     score,
				Category:  CategorizeBulk(score),
				ModelName: req.ModelName,
			})
		}
	}
	if mismatched > 0 {
		e.logger.Warn("skipped pairs embedded with different vector sizes", "skipped", mismatched)
	}
	return e.store.MergeEdges(ctx, edges)
}

// Top reads the highest persisted similarities between two catalogs
func (e *Engine) Top(ctx context.Context, req TopRequest) ([]StoredSimilarity, error) {
	if req.SourceCatalog == "" || req.TargetCatalog == "" {
		return nil, errors.ValidationError("source and target catalogs are required")
	}
	if req.Limit <= 0 {
		req.Limit = DefaultTopLimit
	}
	return e.store.Top(ctx, req)
}

func (e *Engine) capability(err error) error {
	if errors.IsType(err, errors.ErrorTypeCapabilityMissing) {
		e.logger.Error("similarity function unavailable in the graph store",
			"function", e.cosineFn, "hint", "install GDS, pick another similarity.cosine_function or use similarity.mode=local")
		if typed, ok := err.(*errors.Error); ok {
			return typed.WithContext("function", e.cosineFn)
		}
		return errors.CapabilityMissingError(err, fmt.Sprintf("cosine function %s is not available", e.cosineFn))
	}
	return err
}
