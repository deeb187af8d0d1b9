package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/metrics"
	"github.com/cysecmato/cysecmato/internal/progress"
)

// progressEvery is the item interval between progress notifications
const progressEvery = 10

// PartDescriptor is one description part eligible for embedding
type PartDescriptor struct {
	PartID       string
	ControlID    string
	Description  string
	HasEmbedding bool
}

// PartVector is a computed vector ready for persistence
type PartVector struct {
	PartID    string
	Vector    []float32
	ModelName string
}

// PartWriter persists vectors and the producing model in one bulk write
type PartWriter interface {
	WriteEmbeddings(ctx context.Context, vectors []PartVector) (int, error)
}

// ItemFailure describes one skipped or failed batch item
type ItemFailure struct {
	PartID    string
	ControlID string
	Err       error
}

func (f ItemFailure) String() string {
	return fmt.Sprintf("part %s (control %s): %v", f.PartID, f.ControlID, f.Err)
}

// Report is the aggregate outcome of a batch run. Computed counts vectors
// produced by the encoder; Persisted is what the store reported changing.
type Report struct {
	Total     int
	Computed  int
	Skipped   int // already embedded
	Invalid   int // missing id or description
	Failed    int // encode errors
	Persisted int
	Chunked   int
	Failures  []ItemFailure
}

// Pipeline embeds batches of description parts
type Pipeline struct {
	manager *Manager
	encoder *Encoder
	writer  PartWriter
	logger  *slog.Logger
}

// NewPipeline wires a pipeline
func NewPipeline(manager *Manager, encoder *Encoder, writer PartWriter) *Pipeline {
	return &Pipeline{
		manager: manager,
		encoder: encoder,
		writer:  writer,
		logger:  slog.Default().With("component", "embedding_pipeline"),
	}
}

// CreateEmbeddings encodes every part that has no vector yet and writes
// all results in one bulk write. Bad items are reported and skipped. The
// run aborts only if the model is not initialized, the context ends, or
// the final write fails.
func (p *Pipeline) CreateEmbeddings(ctx context.Context, parts []PartDescriptor, sink progress.Sink) (Report, error) {
	report := Report{Total: len(parts)}
	rep := progress.NewReporter(sink, "embedding")

	components, err := p.manager.Active()
	if err != nil {
		rep.Error("", err.Error())
		return report, err
	}

	rep.Info(fmt.Sprintf("embedding %d parts with %s", len(parts), components.ModelName))

	vectors := make([]PartVector, 0, len(parts))
	for i, part := range parts {
		if err := ctx.Err(); err != nil {
			rep.Warn("", "embedding run cancelled, nothing persisted")
			return report, err
		}

		switch {
		case part.HasEmbedding:
			report.Skipped++
			metrics.Embeddings.WithLabelValues("skipped").Inc()

		case part.PartID == "" || strings.TrimSpace(part.Description) == "":
			report.Invalid++
			f := ItemFailure{PartID: part.PartID, ControlID: part.ControlID,
				Err: errors.ValidationErrorf("part descriptor is missing an id or description")}
			report.Failures = append(report.Failures, f)
			metrics.Embeddings.WithLabelValues("invalid").Inc()
			p.logger.Warn("skipping part", "part_id", part.PartID, "control_id", part.ControlID, "reason", "missing id or description")
			rep.Warn(part.ControlID, f.String())

		default:
			enc, err := p.encoder.Encode(ctx, components, part.Description)
			if err != nil {
				report.Failed++
				f := ItemFailure{PartID: part.PartID, ControlID: part.ControlID, Err: err}
				report.Failures = append(report.Failures, f)
				metrics.Embeddings.WithLabelValues("failed").Inc()
				p.logger.Error("embedding failed", "part_id", part.PartID, "control_id", part.ControlID, "error", err)
				rep.Error(part.ControlID, f.String())
				break
			}
			if enc.Chunked {
				report.Chunked++
			}
			vectors = append(vectors, PartVector{
				PartID:    part.PartID,
				Vector:    enc.Vector,
				ModelName: components.ModelName,
			})
			metrics.Embeddings.WithLabelValues("computed").Inc()
		}

		if (i+1)%progressEvery == 0 || i+1 == len(parts) {
			rep.Step(i+1, len(parts), fmt.Sprintf("processed %d/%d parts", i+1, len(parts)))
		}
	}
	report.Computed = len(vectors)

	if len(vectors) == 0 {
		rep.Info("no new vectors to persist")
		return report, nil
	}

	persisted, err := p.writer.WriteEmbeddings(ctx, vectors)
	if err != nil {
		p.logger.Error("bulk embedding write failed", "vectors", len(vectors), "error", err)
		rep.Error("", fmt.Sprintf("bulk write of %d vectors failed: %v", len(vectors), err))
		return report, err
	}
	report.Persisted = persisted

	if persisted != len(vectors) {
		p.logger.Warn("store updated fewer parts than computed", "computed", len(vectors), "persisted", persisted)
	}
	p.logger.Info("embedding run finished",
		"model", components.ModelName,
		"total", report.Total,
		"computed", report.Computed,
		"persisted", report.Persisted,
		"skipped", report.Skipped,
		"invalid", report.Invalid,
		"failed", report.Failed)
	rep.Info(fmt.Sprintf("computed %d vectors, store updated %d parts", report.Computed, persisted))
	return report, nil
}
