// Package diff compares two run artifacts field by field and grades the
// result. Diff is pure; Engine adds repository lookups by run id.
package diff

import (
	"fmt"
	"math"

	"github.com/roach88/runledger/internal/artifact"
)

const (
	// ScoreEpsilon is the smallest score drift reported at all.
	ScoreEpsilon = 0.01
	// ScoreWarningDrift is the drift above which a score change is a warning.
	ScoreWarningDrift = 5.0
)

// Field names used in Difference.Field.
const (
	FieldStatus            = "status"
	FieldRiskLevel         = "decision.risk_level"
	FieldScore             = "decision.score"
	FieldBlockReason       = "decision.block_reason"
	FieldFeasibilitySHA256 = "hashes.feasibility_sha256"
	FieldToolpathsSHA256   = "hashes.toolpaths_sha256"
	FieldGcodeSHA256       = "hashes.gcode_sha256"
	FieldToolID            = "tool_id"
	FieldMode              = "mode"
	FieldAdvisoryCount     = "advisory_inputs.count"
	FieldExplanationStatus = "explanation_status"
)

// Difference is one field that differs between the two artifacts.
type Difference struct {
	Field    string   `json:"field"`
	A        any      `json:"a"`
	B        any      `json:"b"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message,omitempty"`
}

// Result is the outcome of comparing artifact A with artifact B. Severity
// is the maximum over Differences, or Info when there are none.
type Result struct {
	RunIDA      string       `json:"run_id_a"`
	RunIDB      string       `json:"run_id_b"`
	Severity    Severity     `json:"severity"`
	Differences []Difference `json:"differences"`
	Notes       []string     `json:"notes"`
}

// Changed reports whether any difference was found.
func (r *Result) Changed() bool {
	return len(r.Differences) > 0
}

func (r *Result) add(field string, a, b any, sev Severity, msg string) {
	r.Differences = append(r.Differences, Difference{Field: field, A: a, B: b, Severity: sev, Message: msg})
	r.Severity = r.Severity.Max(sev)
}

// Diff compares a and b. Every rule runs regardless of earlier findings,
// and severity only ever moves upward.
func Diff(a, b *artifact.RunArtifact) *Result {
	r := &Result{
		RunIDA:      a.RunID,
		RunIDB:      b.RunID,
		Severity:    Info,
		Differences: []Difference{},
		Notes:       []string{},
	}

	if a.RunID == b.RunID {
		r.Notes = append(r.Notes, fmt.Sprintf("comparing %s with itself", a.RunID))
	}

	if a.Status != b.Status {
		sev := Warning
		if a.Status == artifact.StatusError || b.Status == artifact.StatusError {
			sev = Critical
		}
		r.add(FieldStatus, string(a.Status), string(b.Status), sev, "")
	}

	if ra, rb := a.Decision.RiskLevel, b.Decision.RiskLevel; ra != rb {
		sev := Warning
		if ra == artifact.RiskRed || rb == artifact.RiskRed {
			sev = Critical
		}
		r.add(FieldRiskLevel, ra, rb, sev, "")
	}

	diffScore(r, a.Decision.Score, b.Decision.Score)

	if ba, bb := a.Decision.BlockReason, b.Decision.BlockReason; ba != bb {
		// Differing strings imply at least one side is non-empty.
		r.add(FieldBlockReason, ba, bb, Warning, "")
	}

	if fa, fb := a.Hashes.FeasibilitySHA256, b.Hashes.FeasibilitySHA256; fa != fb {
		r.add(FieldFeasibilitySHA256, fa, fb, Critical, "decisions were made on different inputs")
	}
	diffOptionalHash(r, FieldToolpathsSHA256, a.Hashes.ToolpathsSHA256, b.Hashes.ToolpathsSHA256)
	diffOptionalHash(r, FieldGcodeSHA256, a.Hashes.GcodeSHA256, b.Hashes.GcodeSHA256)

	if a.ToolID != b.ToolID {
		r.add(FieldToolID, a.ToolID, b.ToolID, Info, "")
	}
	if a.Mode != b.Mode {
		r.add(FieldMode, a.Mode, b.Mode, Info, "")
	}
	if na, nb := len(a.AdvisoryInputs), len(b.AdvisoryInputs); na != nb {
		r.add(FieldAdvisoryCount, na, nb, Info, "")
	}
	if a.ExplanationStatus != b.ExplanationStatus {
		r.add(FieldExplanationStatus, a.ExplanationStatus, b.ExplanationStatus, Info, "")
	}

	return r
}

func diffScore(r *Result, a, b *float64) {
	switch {
	case a == nil && b == nil:
		return
	case a == nil || b == nil:
		r.add(FieldScore, scoreValue(a), scoreValue(b), Info, "score present on one side only")
		return
	}
	drift := math.Abs(*a - *b)
	if drift <= ScoreEpsilon {
		return
	}
	sev := Info
	if drift > ScoreWarningDrift {
		sev = Warning
	}
	r.add(FieldScore, *a, *b, sev, fmt.Sprintf("drift %.2f", drift))
}

func scoreValue(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

// diffOptionalHash flags output hashes only when both sides recorded one;
// an output produced on one side only is not a drift in the output itself.
func diffOptionalHash(r *Result, field, a, b string) {
	if a == "" || b == "" || a == b {
		return
	}
	r.add(field, a, b, Warning, "")
}
