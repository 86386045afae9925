package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/journal"
)

// Mismatch is one critical field that differs between the legacy record
// and the stored artifact.
type Mismatch struct {
	RunID    string `json:"run_id"`
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// VerifyReport is the outcome of Verify.
type VerifyReport struct {
	V1Count       int           `json:"v1_count"`
	V2Count       int           `json:"v2_count"`
	Missing       []string      `json:"missing"`
	Mismatched    []Mismatch    `json:"mismatched"`
	Unconvertible []RecordError `json:"unconvertible"`
	Success       bool          `json:"success"`
}

// Verify re-reads both stores and checks that every legacy record is
// present in the repository with the same critical fields. The repository
// may hold more artifacts than the legacy file (runs recorded after the
// migration), so parity means v2_count >= v1_count.
func (e *Engine) Verify(ctx context.Context) (*VerifyReport, error) {
	started := e.now().UTC()
	if err := e.checkLegacy(); err != nil {
		return nil, err
	}
	records, err := loadLegacy(e.legacyPath)
	if err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}

	report := &VerifyReport{
		V1Count:       len(records),
		Missing:       []string{},
		Mismatched:    []Mismatch{},
		Unconvertible: []RecordError{},
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if rec.Fields == nil {
			report.Unconvertible = append(report.Unconvertible, RecordError{Key: rec.Key, Error: "legacy record is not an object"})
			continue
		}
		want, err := Convert(rec.idKey(), rec.Fields, started)
		if err != nil {
			report.Unconvertible = append(report.Unconvertible, RecordError{Key: rec.Key, Error: err.Error()})
			continue
		}
		got, found, err := e.repo.Get(ctx, want.RunID)
		if err != nil {
			return nil, fmt.Errorf("verify: reading %s: %w", want.RunID, err)
		}
		if !found {
			report.Missing = append(report.Missing, want.RunID)
			continue
		}
		report.Mismatched = append(report.Mismatched, compareCritical(want, got)...)
	}

	if report.V2Count, err = e.repo.Count(ctx); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	report.Success = len(report.Missing) == 0 &&
		len(report.Mismatched) == 0 &&
		len(report.Unconvertible) == 0 &&
		report.V2Count >= report.V1Count

	e.record(ctx, journal.Entry{
		Operation:  journal.OpVerify,
		StartedAt:  started,
		FinishedAt: e.now().UTC(),
		Success:    report.Success,
		Details: map[string]any{
			"v1_count":      report.V1Count,
			"v2_count":      report.V2Count,
			"missing":       len(report.Missing),
			"mismatched":    len(report.Mismatched),
			"unconvertible": len(report.Unconvertible),
		},
	})
	return report, nil
}

// compareCritical checks the fields downstream consumers act on. created_at
// is compared by partition date, and not at all when it was synthesised at
// conversion time.
func compareCritical(want, got *artifact.RunArtifact) []Mismatch {
	var out []Mismatch
	check := func(field, expected, actual string) {
		if expected != actual {
			out = append(out, Mismatch{RunID: want.RunID, Field: field, Expected: expected, Actual: actual})
		}
	}
	check("status", string(want.Status), string(got.Status))
	check("mode", want.Mode, got.Mode)
	check("tool_id", want.ToolID, got.ToolID)
	if synthesized, _ := want.Meta[MetaCreatedAtDerived].(bool); !synthesized {
		check("created_at", want.PartitionDate(), got.PartitionDate())
	}
	check("decision.risk_level", want.Decision.RiskLevel, got.Decision.RiskLevel)
	check("hashes.feasibility_sha256", want.Hashes.FeasibilitySHA256, strings.ToLower(got.Hashes.FeasibilitySHA256))
	return out
}
