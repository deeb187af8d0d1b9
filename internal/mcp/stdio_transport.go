// Package mcp exposes similarity, RAG and mapping operations as Model
// Context Protocol tools.
package mcp

import (
	"context"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/cysecmato/cysecmato/internal/mapping"
	"github.com/cysecmato/cysecmato/internal/rag"
	"github.com/cysecmato/cysecmato/internal/similarity"
)

// ServerName is reported to clients during initialization
const ServerName = "cysecmato"

// SimilarityFinder scores one locked part against a target catalog
type SimilarityFinder interface {
	OneToMany(ctx context.Context, req similarity.OneToManyRequest) ([]similarity.Result, error)
}

// Classifier reads RAG context and asks the LLM about a pair
type Classifier interface {
	FetchCandidates(ctx context.Context, q rag.CandidateQuery) ([]rag.Candidate, error)
	SourceProse(ctx context.Context, controlID string) (string, error)
	ClassifyPair(ctx context.Context, sourceProse, targetProse string) (rag.Proposal, error)
}

// Mappings reads and transitions mapping edges
type Mappings interface {
	Get(ctx context.Context, sourceID, targetID string) (mapping.Mapping, error)
	List(ctx context.Context, filter mapping.ListFilter) ([]mapping.Mapping, error)
	Validate(ctx context.Context, sourceID, targetID string) error
	Reject(ctx context.Context, sourceID, targetID, annotation string) error
}

// Services backs the tools. A nil service leaves its tools unregistered.
type Services struct {
	Similarity SimilarityFinder
	RAG        Classifier
	Mappings   Mappings
	// DisplayThreshold applies when find_similar_controls gets no threshold
	DisplayThreshold float64
}

// NewServer creates an MCP server with one tool per available operation
func NewServer(svc Services, version string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: ServerName, Version: version}, nil)
	h := &handler{svc: svc, logger: slog.Default().With("component", "mcp")}
	h.register(server)
	return server
}

// Serve runs the server over stdin/stdout until the client disconnects or
// ctx is cancelled
func Serve(ctx context.Context, server *sdk.Server) error {
	slog.Default().With("component", "mcp").Info("mcp server listening on stdio")
	return server.Run(ctx, &sdk.StdioTransport{})
}
