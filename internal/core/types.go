package core

import (
	"github.com/JonMunkholm/billing/internal/ingest"
)

// ImportPhase is the lifecycle stage of a tracked import.
type ImportPhase string

const (
	PhaseQueued     ImportPhase = "queued"
	PhaseRunning    ImportPhase = "running"
	PhaseCommitted  ImportPhase = "committed"
	PhaseRolledBack ImportPhase = "rolled_back"
	PhaseFailed     ImportPhase = "failed"
)

// Finished reports whether no further progress will follow.
func (p ImportPhase) Finished() bool {
	return p == PhaseCommitted || p == PhaseRolledBack || p == PhaseFailed
}

// ImportProgress is a snapshot of a running import.
type ImportProgress struct {
	ImportID   string        `json:"import_id"`
	FileName   string        `json:"file_name"`
	Policy     ingest.Policy `json:"policy"`
	DryRun     bool          `json:"dry_run,omitempty"`
	Phase      ImportPhase   `json:"phase"`
	Attempted  int           `json:"attempted"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	BytesRead  int64         `json:"bytes_read"`
	BytesTotal int64         `json:"bytes_total"`
	Error      string        `json:"error,omitempty"`

	// ReadPercent is the share of the upload consumed so far, as reported
	// by the source reader.
	ReadPercent int `json:"-"`
}

// Percent estimates completion from bytes read. Row counts are unknown
// until the file has been read, and a fully read file is not done until
// the batch ends.
func (p ImportProgress) Percent() int {
	if p.Phase.Finished() {
		return 100
	}
	return min(p.ReadPercent, 99)
}

// ImportRequest describes a file to import.
type ImportRequest struct {
	FileName string
	// Path is a spooled temp file. The service removes it when the import
	// ends, whatever the outcome.
	Path   string
	Size   int64
	Policy ingest.Policy
	DryRun bool
}

// ImportResult is the final state of an import.
type ImportResult struct {
	ImportID string         `json:"import_id"`
	FileName string         `json:"file_name"`
	Report   *ingest.Report `json:"report,omitempty"`
	Error    string         `json:"error,omitempty"`

	err error
}

// Err returns the error the import ended with, if any.
func (r *ImportResult) Err() error {
	return r.err
}
