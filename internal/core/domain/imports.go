package domain

import "fmt"

// ImportMode selects how imported rows are written.
type ImportMode string

const (
	ImportInsert ImportMode = "insert"
	ImportUpdate ImportMode = "update"
	ImportUpsert ImportMode = "upsert"
)

// IdentifyBy selects how imported rows are matched against stored places.
type IdentifyBy string

const (
	IdentifyByID          IdentifyBy = "id"
	IdentifyByName        IdentifyBy = "name"
	IdentifyByCoordinates IdentifyBy = "coordinates"
)

// ImportConfig controls a bulk import.
type ImportConfig struct {
	Mode           ImportMode `json:"mode"`
	IdentifyBy     IdentifyBy `json:"identifyBy"`
	DeleteExisting bool       `json:"deleteExisting"`
}

// Normalize fills defaults and rejects unknown values.
func (c *ImportConfig) Normalize() error {
	if c.Mode == "" {
		c.Mode = ImportInsert
	}
	if c.IdentifyBy == "" {
		c.IdentifyBy = IdentifyByID
	}
	switch c.Mode {
	case ImportInsert, ImportUpdate, ImportUpsert:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidImport, c.Mode)
	}
	switch c.IdentifyBy {
	case IdentifyByID, IdentifyByName, IdentifyByCoordinates:
	default:
		return fmt.Errorf("%w: unknown identifyBy %q", ErrInvalidImport, c.IdentifyBy)
	}
	return nil
}

// WriteOutcome reports what a keyed write did.
type WriteOutcome int

const (
	WriteNone WriteOutcome = iota
	WriteUpdated
	WriteInserted
)

// ImportResult summarizes a bulk import.
type ImportResult struct {
	Total    int      `json:"total"`
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors,omitempty"`
}

// CleanupResult summarizes removal of legacy coordinate properties.
type CleanupResult struct {
	DocumentsFound    int `json:"documentsFound"`
	DocumentsModified int `json:"documentsModified"`
}

// RepairResult summarizes a geometry repair pass.
type RepairResult struct {
	Scanned       int `json:"scanned"`
	Corrected     int `json:"corrected"`
	Unrecoverable int `json:"unrecoverable"`
}

// Add accumulates another batch.
func (r *RepairResult) Add(o RepairResult) {
	r.Scanned += o.Scanned
	r.Corrected += o.Corrected
	r.Unrecoverable += o.Unrecoverable
}
