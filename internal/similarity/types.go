package similarity

import "context"

// LockedPart is the source side of a 1-N comparison
type LockedPart struct {
	PartID    string
	ControlID string
	Prose     string
	Vector    []float32
	ModelName string
}

// OneToManyRequest scores one locked part against a target catalog,
// optionally narrowed to a group and its nested controls
type OneToManyRequest struct {
	SourcePartID  string
	TargetCatalog string
	TargetGroup   string
	Threshold     float64
}

// Result is one scored 1-N candidate
type Result struct {
	SourceID    string   `json:"source_control_id"`
	SourceProse string   `json:"source_control_prose,omitempty"`
	TargetID    string   `json:"target_control_id"`
	TargetTitle string   `json:"target_control_title"`
	TargetProse string   `json:"target_control_prose,omitempty"`
	Score       float64  `json:"similarity_score"`
	Category    Category `json:"similarity_category"`
}

// ManyToManyRequest scores every eligible pair across two catalogs. The
// group fields are accepted but a bulk run always covers whole catalogs.
type ManyToManyRequest struct {
	SourceCatalog string
	SourceGroup   string
	TargetCatalog string
	TargetGroup   string
	ModelName     string
	Threshold     float64
	// TopN > 0 reads back the best persisted pairs after the run
	TopN int
}

// ManyToManyResult reports a bulk run
type ManyToManyResult struct {
	RelationshipsWritten int                `json:"relationships_written"`
	Top                  []StoredSimilarity `json:"top,omitempty"`
}

// TopRequest reads persisted similarities between two catalogs
type TopRequest struct {
	SourceCatalog string
	TargetCatalog string
	Limit         int
}

// DefaultTopLimit applies when TopRequest.Limit is not positive
const DefaultTopLimit = 10000

// StoredSimilarity is a persisted HAS_SIMILARITY edge
type StoredSimilarity struct {
	SourceID    string   `json:"source_control_id"`
	SourceTitle string   `json:"source_control_title"`
	TargetID    string   `json:"target_control_id"`
	TargetTitle string   `json:"target_control_title"`
	Score       float64  `json:"similarity_score"`
	Category    Category `json:"similarity_category"`
	ModelName   string   `json:"model_name"`
}

// TargetPart is a description part with its vector
type TargetPart struct {
	PartID    string
	ControlID string
	Title     string
	Prose     string
	Vector    []float32
}

// Edge is one similarity edge to merge
type Edge struct {
	SourceID  string
	TargetID  string
	Score     float64
	Category  Category
	ModelName string
}

// Store is the persistence the engine needs. The Score* methods run the
// cosine inside the store and are used in graph mode; Parts feeds local mode.
type Store interface {
	LockedPart(ctx context.Context, partID string) (LockedPart, error)
	Parts(ctx context.Context, catalog, group string) ([]TargetPart, error)
	ScoreOneToMany(ctx context.Context, cosineFn string, req OneToManyRequest) ([]Result, error)
	ScoreManyToMany(ctx context.Context, cosineFn string, req ManyToManyRequest) (int, error)
	MergeEdges(ctx context.Context, edges []Edge) (int, error)
	Top(ctx context.Context, req TopRequest) ([]StoredSimilarity, error)
}
