package rag

import (
	"os"
	"strings"

	"github.com/aymerick/raymond"

	"github.com/cysecmato/cysecmato/internal/errors"
)

// DefaultPromptTemplate asks for a Classification line followed by an
// Explanation line. Prose is inserted unescaped.
const DefaultPromptTemplate = `
Compare the following two descriptions of cybersecurity controls.
Analyze the relationship between Control A (source) and Control B (target).
Classify the relationship into one of the following categories:
- EQUAL: Both controls essentially describe the same goal and scope.
- SUBSET: Control A is a more specific subset of Control B (B covers everything in A and more).
- SUPERSET: Control A is a broader superset of Control B (A covers everything in B and more).
- RELATED: The controls address related topics, but neither is a subset or superset of the other.
- UNRELATED: The controls are thematically largely or entirely unrelated.

Provide your answer in the following format:
Classification: [EQUAL|SUBSET|SUPERSET|RELATED|UNRELATED]
Explanation: [Your detailed reasoning for the classification, why they (do not) relate and how.]

Control A (source):
{{{source_prose}}}

Control B (target):
{{{target_prose}}}

Answer:
`

// PromptTemplate renders the classification prompt for a control pair
type PromptTemplate struct {
	tmpl *raymond.Template
}

// ParsePromptTemplate compiles a handlebars template that references both
// source_prose and target_prose
func ParsePromptTemplate(src string) (*PromptTemplate, error) {
	for _, field := range []string{"source_prose", "target_prose"} {
		if !strings.Contains(src, field) {
			return nil, errors.ConfigErrorf("prompt template does not reference %s", field)
		}
	}
	tmpl, err := raymond.Parse(src)
	if err != nil {
		return nil, errors.ConfigErrorf("parse prompt template: %v", err)
	}
	return &PromptTemplate{tmpl: tmpl}, nil
}

// LoadPromptTemplate reads a template file; an empty path yields the default
func LoadPromptTemplate(path string) (*PromptTemplate, error) {
	if path == "" {
		return ParsePromptTemplate(DefaultPromptTemplate)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigErrorf("read prompt template %s: %v", path, err)
	}
	return ParsePromptTemplate(string(content))
}

// Render fills the template with both descriptions
func (p *PromptTemplate) Render(sourceProse, targetProse string) (string, error) {
	out, err := p.tmpl.Exec(map[string]any{
		"source_prose": sourceProse,
		"target_prose": targetProse,
	})
	if err != nil {
		return "", errors.InternalErrorf("render prompt: %v", err)
	}
	return out, nil
}
