// Package mapping manages the human-in-the-loop lifecycle of IS_MAPPED_TO
// edges between controls.
package mapping

import (
	"strings"
	"time"

	"github.com/cysecmato/cysecmato/internal/errors"
)

// Type classifies how two controls relate
type Type string

const (
	TypeEqual     Type = "EQUAL"
	TypeSubset    Type = "SUBSET"
	TypeSuperset  Type = "SUPERSET"
	TypeRelated   Type = "RELATED"
	TypeUnrelated Type = "UNRELATED"
	TypeError     Type = "ERROR"
)

// Types lists every valid mapping type
var Types = []Type{TypeEqual, TypeSubset, TypeSuperset, TypeRelated, TypeUnrelated, TypeError}

// ParseType accepts any casing and surrounding space
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	for _, valid := range Types {
		if t == valid {
			return t, nil
		}
	}
	return "", errors.ValidationErrorf("invalid mapping type %q", s)
}

// Status is the lifecycle state of a mapping edge
type Status string

const (
	StatusPending        Status = "pending_validation"
	StatusHumanValidated Status = "human_validated"
	StatusConfirmed      Status = "confirmed"
	StatusRejected       Status = "rejected"
)

// Statuses lists every status in lifecycle order
var Statuses = []Status{StatusPending, StatusHumanValidated, StatusConfirmed, StatusRejected}

// ParseStatus validates a status filter value
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, valid := range Statuses {
		if st == valid {
			return st, nil
		}
	}
	return "", errors.ValidationErrorf("invalid mapping status %q", s)
}

// Method records who produced the current content
type Method string

const (
	MethodLLM   Method = "LLM"
	MethodHuman Method = "Human"
)

// Transition names a lifecycle step
type Transition string

const (
	TransitionPropose  Transition = "propose"
	TransitionValidate Transition = "validate"
	TransitionEdit     Transition = "edit"
	TransitionReject   Transition = "reject"
	TransitionDelete   Transition = "delete"
)

// Mapping is an IS_MAPPED_TO edge with its endpoints. Titles and prose are
// filled by List only.
type Mapping struct {
	SourceID       string    `json:"source_id" yaml:"source_id"`
	SourceTitle    string    `json:"source_title,omitempty" yaml:"source_title,omitempty"`
	SourceProse    string    `json:"source_prose,omitempty" yaml:"source_prose,omitempty"`
	TargetID       string    `json:"target_id" yaml:"target_id"`
	TargetTitle    string    `json:"target_title,omitempty" yaml:"target_title,omitempty"`
	TargetProse    string    `json:"target_prose,omitempty" yaml:"target_prose,omitempty"`
	Type           Type      `json:"type" yaml:"type"`
	Explanation    *string   `json:"explanation" yaml:"explanation"`
	ExplanationOld *string   `json:"explanation_old,omitempty" yaml:"explanation_old,omitempty"`
	Similarity     *float64  `json:"similarity,omitempty" yaml:"similarity,omitempty"`
	Method         Method    `json:"method" yaml:"method"`
	Status         Status    `json:"status" yaml:"status"`
	Annotation     string    `json:"annotation,omitempty" yaml:"annotation,omitempty"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
}

// Patch lists the edge properties a transition writes. Nil fields are left
// untouched. With ArchiveExplanation set, Update moves a non-null current
// explanation that differs from Explanation into explanation_old within the
// same write.
type Patch struct {
	Type               *Type
	Explanation        *string
	Similarity         *float64
	Method             *Method
	Status             *Status
	Annotation         *string
	ArchiveExplanation bool
}

// Properties renders the set fields as graph properties
func (p Patch) Properties() map[string]any {
	props := map[string]any{}
	if p.Type != nil {
		props["type"] = string(*p.Type)
	}
	if p.Explanation != nil {
		props["explanation"] = *p.Explanation
	}
	if p.Similarity != nil {
		props["similarity"] = *p.Similarity
	}
	if p.Method != nil {
		props["method"] = string(*p.Method)
	}
	if p.Status != nil {
		props["status"] = string(*p.Status)
	}
	if p.Annotation != nil {
		props["annotation"] = *p.Annotation
	}
	return props
}

// ListFilter narrows the validation listing. Empty fields match everything.
type ListFilter struct {
	SourceCatalog string
	TargetCatalog string
	Statuses      []Status
	Limit         int
}

// DefaultListLimit applies when ListFilter.Limit is not positive
const DefaultListLimit = 200

func ptr[T any](v T) *T { return &v }
