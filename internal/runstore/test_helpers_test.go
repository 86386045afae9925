package runstore

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/testutil"
)

// createTestRepository opens a repository in a fresh temp dir.
func createTestRepository(t *testing.T) (*Repository, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	repo, err := Open(t.TempDir(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return repo, clock
}

// createTestArtifact builds a minimal valid artifact.
func createTestArtifact(runID string, createdAt time.Time) *artifact.RunArtifact {
	return &artifact.RunArtifact{
		RunID:     runID,
		CreatedAt: createdAt,
		Mode:      "saw",
		ToolID:    "T-01",
		Status:    artifact.StatusOK,
		Feasibility: map[string]any{
			"stock": "maple",
		},
		Decision: artifact.Decision{RiskLevel: artifact.RiskGreen},
		Hashes:   artifact.Hashes{FeasibilitySHA256: strings.Repeat("a", 64)},
	}
}

// runID returns a valid run id encoding n.
func runID(n int) string {
	return testutil.RunID(n)
}
