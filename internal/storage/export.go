package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/breeze-rmm/swtrack/internal/inventory"
)

// exportRecord is the document shape of one exported record.
type exportRecord struct {
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	InstalledOn string `json:"installedOn" yaml:"installedOn"`
	Status      string `json:"status" yaml:"status"`
}

type exportDocument struct {
	Count    int            `json:"count" yaml:"count"`
	Software []exportRecord `json:"software" yaml:"software"`
}

// Export writes records to w as "yaml" or "json".
func Export(w io.Writer, records []inventory.Record, format string) error {
	doc := exportDocument{Count: len(records), Software: make([]exportRecord, 0, len(records))}
	for _, r := range records {
		doc.Software = append(doc.Software, exportRecord{
			Name:        r.Name,
			Version:     r.Version,
			InstalledOn: r.DateString(),
			Status:      string(r.Status),
		})
	}

	switch strings.ToLower(format) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	default:
		return fmt.Errorf("unsupported export format %q (use yaml or json)", format)
	}
}
