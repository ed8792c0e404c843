package domain

import "encoding/json"

// LedgerTransaction is what the ledger reports about a submitted reference.
type LedgerTransaction struct {
	Hash           string
	Validated      bool
	OutputsPresent bool
	Metadata       []MetadataEntry
}

// Settled reports whether the ledger confirms a valid, funded transfer.
func (l *LedgerTransaction) Settled() bool {
	return l.Validated && l.OutputsPresent
}

// MetadataEntry is one labelled metadata document attached to a ledger transaction.
type MetadataEntry struct {
	Label   string          `json:"label"`
	Content json.RawMessage `json:"json_metadata"`
}

// IntegrityReport is the outcome of re-hashing a dataset file against the ledger.
type IntegrityReport struct {
	Computed      string `json:"computed"`
	Ledger        string `json:"ledger"`
	Snapshot      string `json:"snapshot"`
	LedgerMatch   bool   `json:"ledger_match"`
	SnapshotMatch bool   `json:"snapshot_match"`
}
