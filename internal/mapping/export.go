package mapping

import (
	"encoding/json"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cysecmato/cysecmato/internal/errors"
)

// ExportFormat selects the serialization of Export
type ExportFormat string

const (
	FormatYAML ExportFormat = "yaml"
	FormatJSON ExportFormat = "json"
)

// ParseExportFormat accepts yaml, yml and json
func ParseExportFormat(s string) (ExportFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml", "":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	}
	return "", errors.ValidationErrorf("unsupported export format %q", s)
}

// exportDocument wraps the mappings with when they were exported
type exportDocument struct {
	ExportedAt time.Time `json:"exported_at" yaml:"exported_at"`
	Count      int       `json:"count" yaml:"count"`
	Mappings   []Mapping `json:"mappings" yaml:"mappings"`
}

// Export writes mappings to w
func Export(w io.Writer, format ExportFormat, mappings []Mapping, at time.Time) error {
	if mappings == nil {
		mappings = []Mapping{}
	}
	doc := exportDocument{ExportedAt: at.UTC(), Count: len(mappings), Mappings: mappings}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.ValidationErrorf("unsupported export format %q", format)
	}
}
