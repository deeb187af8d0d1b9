// Package catalog reads the ingested standards: catalogs, their groups and
// the description parts that carry embeddings.
package catalog

import (
	"context"
	"log/slog"

	"github.com/cysecmato/cysecmato/internal/embedding"
	"github.com/cysecmato/cysecmato/internal/errors"
	"github.com/cysecmato/cysecmato/internal/graph"
)

// Catalog is one ingested standard
type Catalog struct {
	UUID  string `json:"uuid"`
	Title string `json:"title"`
}

// Group is a named control group within a catalog
type Group struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// StatusQuery selects description parts of one catalog. GroupID narrows
// to a group and its nested controls, OnlyWithoutGroup to the top-level
// controls no group claims. ShowAll overrides both.
type StatusQuery struct {
	CatalogUUID       string
	GroupID           string
	ShowAll           bool
	OnlyWithoutGroup  bool
	OnlyWithEmbedding bool
}

// PartStatus is a control's description part and its embedding state
type PartStatus struct {
	ControlID       string `json:"control_id"`
	Title           string `json:"control_title"`
	Class           string `json:"control_class,omitempty"`
	Description     string `json:"description"`
	PartID          string `json:"part_element_id"`
	HasEmbedding    bool   `json:"has_embedding"`
	EmbeddingMethod string `json:"embedding_method,omitempty"`
}

// Descriptor converts the row into embedding pipeline input
func (p PartStatus) Descriptor() embedding.PartDescriptor {
	return embedding.PartDescriptor{
		PartID:       p.PartID,
		ControlID:    p.ControlID,
		Description:  p.Description,
		HasEmbedding: p.HasEmbedding,
	}
}

// Descriptors converts a status listing into pipeline input
func Descriptors(parts []PartStatus) []embedding.PartDescriptor {
	out := make([]embedding.PartDescriptor, len(parts))
	for i, p := range parts {
		out[i] = p.Descriptor()
	}
	return out
}

// Summary aggregates a status listing
type Summary struct {
	Total    int            `json:"total"`
	Embedded int            `json:"embedded"`
	Methods  map[string]int `json:"methods"`
}

// Mixed reports whether vectors from more than one model are present
func (s Summary) Mixed() bool { return len(s.Methods) > 1 }

// Summarize counts embedded parts per producing model
func Summarize(parts []PartStatus) Summary {
	s := Summary{Total: len(parts), Methods: map[string]int{}}
	for _, p := range parts {
		if !p.HasEmbedding {
			continue
		}
		s.Embedded++
		s.Methods[p.EmbeddingMethod]++
	}
	return s
}

const catalogsQuery = `
MATCH (c:Catalog)
RETURN c.uuid AS uuid, c.title AS title
ORDER BY c.title
`

const groupsQuery = `
MATCH (g:Group {catalog_uuid: $uuid})
RETURN g.id AS id, g.title AS title
ORDER BY g.title
`

const partReturn = `
RETURN DISTINCT ctrl.id AS control_id,
       ctrl.title AS control_title,
       ctrl.` + "`class`" + ` AS control_class,
       p.prose AS description,
       elementId(p) AS part_element_id,
       p.embedding_vector IS NOT NULL AS has_embedding,
       p.embedding_method AS embedding_method
ORDER BY control_id
`

const catalogPartsMatch = `
MATCH (ctrl:Control {catalog_uuid: $cid})
MATCH (ctrl)-[:HAS_PART]->(p:Part {name: 'description'})
`

const groupPartsMatch = `
MATCH (g:Group {id: $gid, catalog_uuid: $cid})-[:HAS_CONTROL]->(top:Control)
MATCH (ctrl:Control)-[:IS_CHILD_OF*0..]->(top)
MATCH (ctrl)-[:HAS_PART]->(p:Part {name: 'description'})
`

const ungroupedPartsMatch = `
MATCH (cat:Catalog {uuid: $cid})-[:HAS_CONTROL]->(top:Control)
WHERE NOT (top)<-[:HAS_CONTROL]-(:Group {catalog_uuid: $cid})
MATCH (ctrl:Control)-[:IS_CHILD_OF*0..]->(top)
MATCH (ctrl)-[:HAS_PART]->(p:Part {name: 'description'})
`

// Repository reads catalog structure from the graph
type Repository struct {
	runner graph.Runner
	logger *slog.Logger
}

// NewRepository creates a Repository
func NewRepository(runner graph.Runner) *Repository {
	return &Repository{runner: runner, logger: slog.Default().With("component", "catalog")}
}

// Catalogs lists every catalog ordered by title
func (r *Repository) Catalogs(ctx context.Context) ([]Catalog, error) {
	records, err := r.runner.Read(ctx, graph.OpCatalogRead, catalogsQuery, nil)
	if err != nil {
		return nil, err
	}
	out := make([]Catalog, 0, len(records))
	for _, rec := range records {
		out = append(out, Catalog{UUID: graph.String(rec, "uuid"), Title: graph.String(rec, "title")})
	}
	return out, nil
}

// Groups lists the groups of a catalog ordered by title
func (r *Repository) Groups(ctx context.Context, catalogUUID string) ([]Group, error) {
	if catalogUUID == "" {
		return nil, errors.ValidationError("catalog uuid is required")
	}
	records, err := r.runner.Read(ctx, graph.OpCatalogRead, groupsQuery, map[string]any{"uuid": catalogUUID})
	if err != nil {
		return nil, err
	}
	out := make([]Group, 0, len(records))
	for _, rec := range records {
		out = append(out, Group{ID: graph.String(rec, "id"), Title: graph.String(rec, "title")})
	}
	return out, nil
}

// DescriptionParts returns the description part of every control in scope
func (r *Repository) DescriptionParts(ctx context.Context, q StatusQuery) ([]PartStatus, error) {
	if q.CatalogUUID == "" {
		return nil, errors.ValidationError("catalog uuid is required")
	}

	params := map[string]any{"cid": q.CatalogUUID}
	var match string
	switch {
	case q.ShowAll:
		match = catalogPartsMatch
	case q.GroupID != "":
		match = groupPartsMatch
		params["gid"] = q.GroupID
	case q.OnlyWithoutGroup:
		match = ungroupedPartsMatch
	default:
		match = catalogPartsMatch
	}

	records, err := r.runner.Read(ctx, graph.OpEmbeddingStatus, match+partReturn, params)
	if err != nil {
		return nil, err
	}

	out := make([]PartStatus, 0, len(records))
	for _, rec := range records {
		p := PartStatus{
			ControlID:       graph.String(rec, "control_id"),
			Title:           graph.String(rec, "control_title"),
			Class:           graph.String(rec, "control_class"),
			Description:     graph.String(rec, "description"),
			PartID:          graph.String(rec, "part_element_id"),
			HasEmbedding:    graph.Bool(rec, "has_embedding"),
			EmbeddingMethod: graph.String(rec, "embedding_method"),
		}
		if q.OnlyWithEmbedding && !p.HasEmbedding {
			continue
		}
		out = append(out, p)
	}

	r.logger.Debug("description parts loaded",
		"catalog", q.CatalogUUID,
		"group", q.GroupID,
		"without_group", q.OnlyWithoutGroup,
		"parts", len(out))
	return out, nil
}
