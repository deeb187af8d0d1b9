package rag

import (
	"regexp"
	"strings"

	"github.com/cysecmato/cysecmato/internal/mapping"
)

var (
	classificationLabel = regexp.MustCompile(`(?i)Classification:\s*([A-Z_]+)`)
	explanationLabel    = regexp.MustCompile(`(?is)Explanation:\s*(.*)`)
)

// Proposal is a parsed LLM reply. Classification is empty when the reply
// named no valid mapping type; Explanation is never empty for a non-empty
// reply.
type Proposal struct {
	Classification mapping.Type `json:"classification,omitempty"`
	Explanation    string       `json:"explanation"`
	Raw            string       `json:"-"`
}

// Classified reports whether the reply carried a valid classification
func (p Proposal) Classified() bool { return p.Classification != "" }

// ParseReply extracts the classification and explanation. The explanation
// is only looked for in a reply that carries a classification label: it is
// the labelled text, else the text after the classification token. A reply
// without the label, or with nothing after it, explains itself whole.
func ParseReply(reply string) Proposal {
	p := Proposal{Raw: reply, Explanation: strings.TrimSpace(reply)}

	loc := classificationLabel.FindStringSubmatchIndex(reply)
	if loc == nil {
		return p
	}
	if t, err := mapping.ParseType(reply[loc[2]:loc[3]]); err == nil {
		p.Classification = t
	}
	if m := explanationLabel.FindStringSubmatch(reply); m != nil {
		p.Explanation = strings.TrimSpace(m[1])
	} else {
		p.Explanation = strings.TrimSpace(reply[loc[1]:])
	}
	if p.Explanation == "" {
		p.Explanation = strings.TrimSpace(reply)
	}
	return p
}
