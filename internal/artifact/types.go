// Package artifact defines the run artifact data model: the immutable record
// of one governed feasibility decision, its overlay fields, and the error
// taxonomy shared by every component that persists or reads artifacts.
package artifact

import "time"

// Status is the outcome of a run.
type Status string

const (
	StatusOK      Status = "OK"
	StatusBlocked Status = "BLOCKED"
	StatusError   Status = "ERROR"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusOK, StatusBlocked, StatusError:
		return true
	}
	return false
}

// Risk levels produced by the feasibility engine. The set is open: any
// non-empty value is accepted, these are the ones with special meaning.
const (
	RiskGreen   = "GREEN"
	RiskYellow  = "YELLOW"
	RiskRed     = "RED"
	RiskUnknown = "UNKNOWN"
)

// RunArtifact is the immutable record of one run.
//
// AdvisoryInputs, ExplanationStatus and ExplanationSummary are overlay
// fields: they are never persisted in the primary file and are populated at
// read time from sibling side files.
type RunArtifact struct {
	RunID          string         `json:"run_id"`
	CreatedAt      time.Time      `json:"created_at"`
	Mode           string         `json:"mode"`
	ToolID         string         `json:"tool_id"`
	Status         Status         `json:"status"`
	RequestSummary map[string]any `json:"request_summary"`
	Feasibility    map[string]any `json:"feasibility"`
	Decision       Decision       `json:"decision"`
	Hashes         Hashes         `json:"hashes"`
	Outputs        map[string]any `json:"outputs,omitempty"`
	Meta           map[string]any `json:"meta"`

	AdvisoryInputs     []AdvisoryInputRef `json:"advisory_inputs"`
	ExplanationStatus  string             `json:"explanation_status"`
	ExplanationSummary string             `json:"explanation_summary"`
}

// Decision is the governed outcome. RiskLevel is required.
type Decision struct {
	RiskLevel   string   `json:"risk_level"`
	Score       *float64 `json:"score,omitempty"`
	BlockReason string   `json:"block_reason,omitempty"`
	Warnings    []string `json:"warnings"`
}

// Hashes binds the decision to the exact inputs and outputs it was made on.
// FeasibilitySHA256 is required.
type Hashes struct {
	FeasibilitySHA256 string `json:"feasibility_sha256"`
	ToolpathsSHA256   string `json:"toolpaths_sha256,omitempty"`
	GcodeSHA256       string `json:"gcode_sha256,omitempty"`
}

// AdvisoryInputRef links an advisory engine's output to an artifact. Each
// distinct AdvisoryID is attached at most once.
type AdvisoryInputRef struct {
	AdvisoryID    string    `json:"advisory_id"`
	Kind          string    `json:"kind"`
	CreatedAt     time.Time `json:"created_at"`
	EngineID      string    `json:"engine_id,omitempty"`
	EngineVersion string    `json:"engine_version,omitempty"`
}

// Explanation is the single mutable overlay of an artifact.
type Explanation struct {
	Status    string    `json:"status"`
	Summary   string    `json:"summary"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Primary returns a copy of a with overlay fields reset to their empty
// defaults, i.e. exactly what belongs in the write-once primary file.
func (a *RunArtifact) Primary() *RunArtifact {
	cp := *a
	cp.AdvisoryInputs = []AdvisoryInputRef{}
	cp.ExplanationStatus = ""
	cp.ExplanationSummary = ""
	if cp.Decision.Warnings == nil {
		cp.Decision.Warnings = []string{}
	}
	if cp.Meta == nil {
		cp.Meta = map[string]any{}
	}
	return &cp
}

// PartitionDate returns the YYYY-MM-DD partition key for the artifact.
func (a *RunArtifact) PartitionDate() string {
	return PartitionKey(a.CreatedAt)
}

// PartitionLayout is the time layout of partition directory names.
const PartitionLayout = "2006-01-02"

// PartitionKey returns the partition directory name for t (UTC date).
func PartitionKey(t time.Time) string {
	return t.UTC().Format(PartitionLayout)
}
