package runstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/runledger/internal/artifact"
)

// Put persists a new artifact. It fails with *artifact.ValidationError for
// malformed artifacts (before touching the filesystem) and with
// *artifact.ImmutabilityError when the run id is already stored in any
// partition. Overlay fields on a are ignored.
func (r *Repository) Put(ctx context.Context, a *artifact.RunArtifact) error {
	if a == nil {
		return &artifact.ValidationError{Message: "artifact is nil"}
	}
	if err := artifact.ValidateRunID(a.RunID); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}

	doc := a.Primary()
	if id, ok := RequestIDFromContext(ctx); ok {
		if _, present := doc.Meta[MetaRequestID]; !present {
			doc.Meta = maps.Clone(doc.Meta)
			doc.Meta[MetaRequestID] = id
		}
	}
	data, err := encode(doc)
	if err != nil {
		return fmt.Errorf("put %s: %w", a.RunID, err)
	}

	path := r.artifactPath(a.RunID, a.CreatedAt)

	// The lock is keyed by run id rather than by partition path so that
	// two Puts with different created_at dates still serialise.
	release, err := r.locks.lock(ctx, "artifact/"+a.RunID)
	if err != nil {
		return fmt.Errorf("put %s: %w", a.RunID, err)
	}
	defer release()

	existing, err := r.locate(a.RunID)
	if err != nil {
		return fmt.Errorf("put %s: %w", a.RunID, err)
	}
	if existing != "" {
		return &artifact.ImmutabilityError{RunID: a.RunID, Path: existingPath(existing, a.RunID)}
	}

	if err := createExclusive(path, data); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return &artifact.ImmutabilityError{RunID: a.RunID, Path: path}
		}
		return fmt.Errorf("put %s: %w", a.RunID, err)
	}

	r.logger.Debug("artifact persisted", "run_id", a.RunID, "path", path)
	return nil
}

// AttachAdvisory links an advisory to an existing artifact by writing a
// side file derived from (run id, sanitized advisory id). Re-attaching the
// same advisory id is a successful no-op. Returns the artifact with overlays
// merged, or an error matching artifact.ErrNotFound for unknown run ids.
func (r *Repository) AttachAdvisory(ctx context.Context, runID string, ref artifact.AdvisoryInputRef) (*artifact.RunArtifact, error) {
	if err := artifact.ValidateRunID(runID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(ref.AdvisoryID) == "" {
		return nil, &artifact.ValidationError{Field: "advisory_id", Message: "required"}
	}

	dir, err := r.locate(runID)
	if err != nil {
		return nil, fmt.Errorf("attach advisory to %s: %w", runID, err)
	}
	if dir == "" {
		return nil, &artifact.NotFoundError{RunID: runID}
	}

	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = r.now().UTC()
	}
	data, err := encode(ref)
	if err != nil {
		return nil, fmt.Errorf("attach advisory to %s: %w", runID, err)
	}

	path := advisoryPath(dir, runID, ref.AdvisoryID)
	if err := r.writeOnce(ctx, path, data); err != nil {
		return nil, fmt.Errorf("attach advisory to %s: %w", runID, err)
	}

	return r.mustGet(ctx, runID)
}

// writeOnce creates path under its lock unless it already exists. An
// existing file means the write was already applied.
func (r *Repository) writeOnce(ctx context.Context, path string, data []byte) error {
	release, err := r.locks.lock(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	if _, err := os.Stat(path); err == nil {
		r.logger.Debug("side file already present", "path", path)
		return nil
	}
	if err := createExclusive(path, data); err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}
	return nil
}

// SetExplanation overwrites the artifact's explanation overlay. This is the
// one mutable piece of state per artifact; the primary file is untouched.
func (r *Repository) SetExplanation(ctx context.Context, runID, status, summary string) (*artifact.RunArtifact, error) {
	if err := artifact.ValidateRunID(runID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(status) == "" {
		return nil, &artifact.ValidationError{Field: "explanation_status", Message: "required"}
	}

	dir, err := r.locate(runID)
	if err != nil {
		return nil, fmt.Errorf("set explanation on %s: %w", runID, err)
	}
	if dir == "" {
		return nil, &artifact.NotFoundError{RunID: runID}
	}

	data, err := encode(artifact.Explanation{
		Status:    status,
		Summary:   summary,
		UpdatedAt: r.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("set explanation on %s: %w", runID, err)
	}

	path := explanationPath(dir, runID)
	release, err := r.locks.lock(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("set explanation on %s: %w", runID, err)
	}
	err = replaceFile(path, data)
	release()
	if err != nil {
		return nil, fmt.Errorf("set explanation on %s: %w", runID, err)
	}

	return r.mustGet(ctx, runID)
}

// mustGet re-reads an artifact that is known to exist.
func (r *Repository) mustGet(ctx context.Context, runID string) (*artifact.RunArtifact, error) {
	a, found, err := r.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &artifact.NotFoundError{RunID: runID}
	}
	return a, nil
}

func existingPath(dir, runID string) string {
	return filepath.Join(dir, runID+".json")
}

// encode serialises v as indented JSON without HTML escaping.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	return buf.Bytes(), nil
}
