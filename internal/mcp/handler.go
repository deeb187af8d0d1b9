package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/mapping"
	"github.com/cysecmato/cysecmato/internal/rag"
	"github.com/cysecmato/cysecmato/internal/similarity"
)

type handler struct {
	svc    Services
	logger *slog.Logger
}

type findSimilarArgs struct {
	PartID        string   `json:"part_id" jsonschema:"id of the source description part"`
	TargetCatalog string   `json:"target_catalog" jsonschema:"uuid of the target catalog"`
	TargetGroup   string   `json:"target_group,omitempty" jsonschema:"group id narrowing the targets"`
	Threshold     *float64 `json:"threshold,omitempty" jsonschema:"minimum cosine score between 0 and 1"`
}

type ragCandidatesArgs struct {
	ControlID  string   `json:"control_id" jsonschema:"id of the source control"`
	Categories []string `json:"categories,omitempty" jsonschema:"similarity categories to include, default high and medium"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of candidates, default 5"`
}

type pairArgs struct {
	SourceID string `json:"source_id" jsonschema:"id of the source control"`
	TargetID string `json:"target_id" jsonschema:"id of the target control"`
}

type listMappingsArgs struct {
	SourceCatalog string   `json:"source_catalog,omitempty" jsonschema:"uuid of the source catalog"`
	TargetCatalog string   `json:"target_catalog,omitempty" jsonschema:"uuid of the target catalog"`
	Statuses      []string `json:"statuses,omitempty" jsonschema:"mapping statuses to include"`
	Limit         int      `json:"limit,omitempty" jsonschema:"maximum number of mappings, default 200"`
}

type rejectArgs struct {
	SourceID   string `json:"source_id" jsonschema:"id of the source control"`
	TargetID   string `json:"target_id" jsonschema:"id of the target control"`
	Annotation string `json:"annotation,omitempty" jsonschema:"reason for the rejection"`
}

type classification struct {
	SourceID       string       `json:"source_id"`
	TargetID       string       `json:"target_id"`
	Classification mapping.Type `json:"classification,omitempty"`
	Explanation    string       `json:"explanation"`
}

type transitionResult struct {
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id"`
	Status   mapping.Status `json:"status"`
}

func (h *handler) register(server *sdk.Server) {
	if h.svc.Similarity != nil {
		sdk.AddTool(server, &sdk.Tool{
			Name:        "find_similar_controls",
			Description: "Score one description part against every embedded part of a target catalog and return the matches above the threshold, best first.",
		}, h.findSimilar)
	}
	if h.svc.RAG != nil {
		sdk.AddTool(server, &sdk.Tool{
			Name:        "rag_candidates",
			Description: "List stored similarity candidates of a control with their prose and whether a mapping already exists.",
		}, h.ragCandidates)
		sdk.AddTool(server, &sdk.Tool{
			Name:        "classify_pair",
			Description: "Ask the LLM how two controls relate. Nothing is persisted.",
		}, h.classifyPair)
	}
	if h.svc.Mappings != nil {
		sdk.AddTool(server, &sdk.Tool{
			Name:        "mapping_detail",
			Description: "Show the mapping between two controls.",
		}, h.mappingDetail)
		sdk.AddTool(server, &sdk.Tool{
			Name:        "list_mappings",
			Description: "List mappings filtered by catalogs and status, most recently updated first.",
		}, h.listMappings)
		sdk.AddTool(server, &sdk.Tool{
			Name:        "validate_mapping",
			Description: "Mark a proposed mapping as human validated.",
		}, h.validateMapping)
		sdk.AddTool(server, &sdk.Tool{
			Name:        "reject_mapping",
			Description: "Reject a mapping, optionally with an annotation.",
		}, h.rejectMapping)
	}
}

func (h *handler) findSimilar(ctx context.Context, _ *sdk.CallToolRequest, args findSimilarArgs) (*sdk.CallToolResult, any, error) {
	threshold := h.svc.DisplayThreshold
	if args.Threshold != nil {
		threshold = *args.Threshold
	}
	results, err := h.svc.Similarity.OneToMany(ctx, similarity.OneToManyRequest{
		SourcePartID:  args.PartID,
		TargetCatalog: args.TargetCatalog,
		TargetGroup:   args.TargetGroup,
		Threshold:     threshold,
	})
	if err != nil {
		return h.fail("find_similar_controls", err)
	}
	return jsonResult(results)
}

func (h *handler) ragCandidates(ctx context.Context, _ *sdk.CallToolRequest, args ragCandidatesArgs) (*sdk.CallToolResult, any, error) {
	categories := make([]similarity.Category, 0, len(args.Categories))
	for _, c := range args.Categories {
		cat, ok := similarity.ParseCategory(c)
		if !ok {
			return h.fail("rag_candidates", errors.ValidationErrorf("unknown similarity category %q", c))
		}
		categories = append(categories, cat)
	}
	candidates, err := h.svc.RAG.FetchCandidates(ctx, rag.CandidateQuery{
		SourceID:   args.ControlID,
		Categories: categories,
		Limit:      args.Limit,
	})
	if err != nil {
		return h.fail("rag_candidates", err)
	}
	return jsonResult(candidates)
}

func (h *handler) classifyPair(ctx context.Context, _ *sdk.CallToolRequest, args pairArgs) (*sdk.CallToolResult, any, error) {
	sourceProse, err := h.svc.RAG.SourceProse(ctx, args.SourceID)
	if err != nil {
		return h.fail("classify_pair", err)
	}
	targetProse, err := h.svc.RAG.SourceProse(ctx, args.TargetID)
	if err != nil {
		return h.fail("classify_pair", err)
	}
	p, err := h.svc.RAG.ClassifyPair(ctx, sourceProse, targetProse)
	if err != nil {
		return h.fail("classify_pair", err)
	}
	return jsonResult(classification{
		SourceID:       args.SourceID,
		TargetID:       args.TargetID,
		Classification: p.Classification,
		Explanation:    p.Explanation,
	})
}

func (h *handler) mappingDetail(ctx context.Context, _ *sdk.CallToolRequest, args pairArgs) (*sdk.CallToolResult, any, error) {
	m, err := h.svc.Mappings.Get(ctx, args.SourceID, args.TargetID)
	if err != nil {
		return h.fail("mapping_detail", err)
	}
	return jsonResult(m)
}

func (h *handler) listMappings(ctx context.Context, _ *sdk.CallToolRequest, args listMappingsArgs) (*sdk.CallToolResult, any, error) {
	filter := mapping.ListFilter{
		SourceCatalog: args.SourceCatalog,
		TargetCatalog: args.TargetCatalog,
		Limit:         args.Limit,
	}
	for _, s := range args.Statuses {
		st, err := mapping.ParseStatus(s)
		if err != nil {
			return h.fail("list_mappings", err)
		}
		filter.Statuses = append(filter.Statuses, st)
	}
	mappings, err := h.svc.Mappings.List(ctx, filter)
	if err != nil {
		return h.fail("list_mappings", err)
	}
	return jsonResult(mappings)
}

func (h *handler) validateMapping(ctx context.Context, _ *sdk.CallToolRequest, args pairArgs) (*sdk.CallToolResult, any, error) {
	if err := h.svc.Mappings.Validate(ctx, args.SourceID, args.TargetID); err != nil {
		return h.fail("validate_mapping", err)
	}
	return jsonResult(transitionResult{SourceID: args.SourceID, TargetID: args.TargetID, Status: mapping.StatusHumanValidated})
}

func (h *handler) rejectMapping(ctx context.Context, _ *sdk.CallToolRequest, args rejectArgs) (*sdk.CallToolResult, any, error) {
	if err := h.svc.Mappings.Reject(ctx, args.SourceID, args.TargetID, args.Annotation); err != nil {
		return h.fail("reject_mapping", err)
	}
	return jsonResult(transitionResult{SourceID: args.SourceID, TargetID: args.TargetID, Status: mapping.StatusRejected})
}

// fail turns an operation error into a tool error result so the client
// sees the error kind instead of a protocol failure
func (h *handler) fail(tool string, err error) (*sdk.CallToolResult, any, error) {
	h.logger.Warn("tool call failed", "tool", tool, "kind", errors.KindOf(err), "error", err)
	return &sdk.CallToolResult{
		IsError: true,
		Content: []sdk.Content{&sdk.TextContent{Text: fmt.Sprintf("%s: %v", errors.KindOf(err), err)}},
	}, nil, nil
}

func jsonResult(v any) (*sdk.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, errors.InternalErrorf("encode tool result: %v", err)
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: string(data)}}}, nil, nil
}
