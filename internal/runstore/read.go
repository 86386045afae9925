package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/runledger/internal/artifact"
)

// DefaultListLimit caps ListFiltered when Filter.Limit is not positive.
const DefaultListLimit = 50

// Filter selects artifacts for ListFiltered. Zero-valued fields match
// everything. DateFrom and DateTo bound created_at inclusively.
type Filter struct {
	Status    artifact.Status
	Mode      string
	ToolID    string
	RiskLevel string
	DateFrom  time.Time
	DateTo    time.Time
	Limit     int
}

// Get returns the artifact with overlays merged. A missing artifact is
// reported as found=false with a nil error; an unreadable one as an error
// matching artifact.ErrCorruptRecord.
func (r *Repository) Get(ctx context.Context, runID string) (*artifact.RunArtifact, bool, error) {
	if err := artifact.ValidateRunID(runID); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	dir, err := r.locate(runID)
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", runID, err)
	}
	if dir == "" {
		return nil, false, nil
	}

	a, err := readArtifact(filepath.Join(dir, runID+".json"))
	if err != nil {
		return nil, false, err
	}
	r.mergeOverlays(dir, a)
	return a, true, nil
}

// ListFiltered returns up to f.Limit artifacts matching f, newest first.
// Partitions are scanned newest first and the scan stops once the limit is
// reached. Candidates are rejected on their raw fields before the full
// decode; corrupt files are logged and skipped.
func (r *Repository) ListFiltered(ctx context.Context, f Filter) ([]*artifact.RunArtifact, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	parts, err := r.partitions()
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}

	var results []*artifact.RunArtifact
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !f.partitionInRange(p) {
			continue
		}

		dir := filepath.Join(r.root, p)
		names, err := primaryFiles(dir)
		if err != nil {
			r.logger.Warn("skipping unreadable partition", "path", dir, "error", err)
			continue
		}

		var matched []*artifact.RunArtifact
		for _, name := range names {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				r.logger.Warn("skipping unreadable artifact", "path", path, "error", err)
				continue
			}
			var raw rawRecord
			if err := json.Unmarshal(data, &raw); err != nil {
				r.logger.Warn("skipping corrupt artifact", "path", path, "error", err)
				continue
			}
			if !f.matchesRaw(raw) {
				continue
			}
			a, err := decodeArtifact(path, data)
			if err != nil {
				r.logger.Warn("skipping corrupt artifact", "path", path, "error", err)
				continue
			}
			if !f.matchesTime(a.CreatedAt) {
				continue
			}
			r.mergeOverlays(dir, a)
			matched = append(matched, a)
		}

		slices.SortFunc(matched, func(x, y *artifact.RunArtifact) int {
			if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(y.RunID, x.RunID)
		})
		for _, a := range matched {
			results = append(results, a)
			if len(results) == limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// Count returns the number of primary artifact files across all partitions.
func (r *Repository) Count(ctx context.Context) (int, error) {
	parts, err := r.partitions()
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	total := 0
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		names, err := primaryFiles(filepath.Join(r.root, p))
		if err != nil {
			return 0, fmt.Errorf("count: reading partition %s: %w", p, err)
		}
		total += len(names)
	}
	return total, nil
}

// rawRecord holds the fields ListFiltered checks before a full decode.
type rawRecord struct {
	Status   string `json:"status"`
	Mode     string `json:"mode"`
	ToolID   string `json:"tool_id"`
	Decision struct {
		RiskLevel string `json:"risk_level"`
	} `json:"decision"`
}

func (f Filter) matchesRaw(raw rawRecord) bool {
	if f.Status != "" && raw.Status != string(f.Status) {
		return false
	}
	if f.Mode != "" && raw.Mode != f.Mode {
		return false
	}
	if f.ToolID != "" && raw.ToolID != f.ToolID {
		return false
	}
	if f.RiskLevel != "" && !strings.EqualFold(raw.Decision.RiskLevel, f.RiskLevel) {
		return false
	}
	return true
}

func (f Filter) matchesTime(t time.Time) bool {
	if !f.DateFrom.IsZero() && t.Before(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && t.After(f.DateTo) {
		return false
	}
	return true
}

// partitionInRange rejects whole partitions outside the date bounds.
func (f Filter) partitionInRange(name string) bool {
	if !f.DateFrom.IsZero() && name < artifact.PartitionKey(f.DateFrom) {
		return false
	}
	if !f.DateTo.IsZero() && name > artifact.PartitionKey(f.DateTo) {
		return false
	}
	return true
}

func readArtifact(path string) (*artifact.RunArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return decodeArtifact(path, data)
}

func decodeArtifact(path string, data []byte) (*artifact.RunArtifact, error) {
	var a artifact.RunArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, &artifact.CorruptRecordError{Path: path, Err: err}
	}
	if err := a.Validate(); err != nil {
		return nil, &artifact.CorruptRecordError{Path: path, Err: err}
	}
	if filepath.Base(path) != a.RunID+".json" {
		return nil, &artifact.CorruptRecordError{
			Path: path,
			Err:  fmt.Errorf("file name does not match run id %s", a.RunID),
		}
	}
	return &a, nil
}

// mergeOverlays fills the overlay fields of a from its side files in dir.
// Unreadable side files are logged and ignored.
func (r *Repository) mergeOverlays(dir string, a *artifact.RunArtifact) {
	a.AdvisoryInputs = []artifact.AdvisoryInputRef{}
	a.ExplanationStatus = ""
	a.ExplanationSummary = ""

	entries, err := os.ReadDir(dir)
	if err != nil {
		r.logger.Warn("reading partition for overlays", "run_id", a.RunID, "error", err)
	}
	prefix := a.RunID + advisoryInfix
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			r.logger.Warn("skipping unreadable advisory", "path", path, "error", err)
			continue
		}
		var ref artifact.AdvisoryInputRef
		if err := json.Unmarshal(data, &ref); err != nil || ref.AdvisoryID == "" {
			r.logger.Warn("skipping corrupt advisory", "path", path, "error", err)
			continue
		}
		a.AdvisoryInputs = append(a.AdvisoryInputs, ref)
	}
	slices.SortFunc(a.AdvisoryInputs, func(x, y artifact.AdvisoryInputRef) int {
		if c := x.CreatedAt.Compare(y.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(x.AdvisoryID, y.AdvisoryID)
	})

	path := explanationPath(dir, a.RunID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("skipping unreadable explanation", "path", path, "error", err)
		}
		return
	}
	var exp artifact.Explanation
	if err := json.Unmarshal(data, &exp); err != nil {
		r.logger.Warn("skipping corrupt explanation", "path", path, "error", err)
		return
	}
	a.ExplanationStatus = exp.Status
	a.ExplanationSummary = exp.Summary
}
