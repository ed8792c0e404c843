package service

import (
	"encoding/json"

	"datamarket/internal/core/domain"
)

// MetadataLayout locates the dataset checksum inside ledger metadata.
type MetadataLayout struct {
	Label string
	Field string
}

// DefaultMetadataLayout is label "1", field "checksum".
var DefaultMetadataLayout = MetadataLayout{Label: "1", Field: "checksum"}

// Checksum returns the checksum recorded at the layout's label, if any.
func (l MetadataLayout) Checksum(entries []domain.MetadataEntry) (string, bool) {
	for _, e := range entries {
		if e.Label != l.Label {
			continue
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(e.Content, &doc); err != nil {
			continue
		}
		var sum string
		if err := json.Unmarshal(doc[l.Field], &sum); err != nil || sum == "" {
			continue
		}
		return sum, true
	}
	return "", false
}
