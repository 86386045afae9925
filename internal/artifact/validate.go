package artifact

import (
	"fmt"
	"math"
	"strings"
)

// Validate checks the invariants every persisted artifact must satisfy.
// Returns the first violation as a *ValidationError.
func (a *RunArtifact) Validate() error {
	if a == nil {
		return &ValidationError{Message: "artifact is nil"}
	}
	if err := ValidateRunID(a.RunID); err != nil {
		return err
	}
	if a.CreatedAt.IsZero() {
		return &ValidationError{Field: "created_at", Message: "required"}
	}
	if !a.Status.Valid() {
		return &ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("invalid status %q: want one of OK, BLOCKED, ERROR", a.Status),
		}
	}
	if strings.TrimSpace(a.Decision.RiskLevel) == "" {
		return &ValidationError{Field: "decision.risk_level", Message: "required"}
	}
	if a.Decision.Score != nil && (math.IsNaN(*a.Decision.Score) || math.IsInf(*a.Decision.Score, 0)) {
		return &ValidationError{Field: "decision.score", Message: "must be finite"}
	}
	if strings.TrimSpace(a.Hashes.FeasibilitySHA256) == "" {
		return &ValidationError{Field: "hashes.feasibility_sha256", Message: "required"}
	}
	return nil
}
