package diff

import (
	"context"
	"fmt"

	"github.com/roach88/runledger/internal/artifact"
)

// Getter loads an artifact by run id. *runstore.Repository satisfies it.
type Getter interface {
	Get(ctx context.Context, runID string) (*artifact.RunArtifact, bool, error)
}

// Engine diffs stored artifacts.
type Engine struct {
	repo Getter
}

// NewEngine returns an Engine reading from repo.
func NewEngine(repo Getter) *Engine {
	return &Engine{repo: repo}
}

// DiffRuns loads both artifacts and compares them. An unknown id yields an
// error matching artifact.ErrNotFound.
func (e *Engine) DiffRuns(ctx context.Context, runIDA, runIDB string) (*Result, error) {
	a, err := e.load(ctx, runIDA)
	if err != nil {
		return nil, err
	}
	b, err := e.load(ctx, runIDB)
	if err != nil {
		return nil, err
	}
	return Diff(a, b), nil
}

func (e *Engine) load(ctx context.Context, runID string) (*artifact.RunArtifact, error) {
	a, found, err := e.repo.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("diff: loading %s: %w", runID, err)
	}
	if !found {
		return nil, &artifact.NotFoundError{RunID: runID}
	}
	return a, nil
}
