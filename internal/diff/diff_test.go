package diff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runledger/internal/artifact"
)

func score(v float64) *float64 { return &v }

func baseArtifact(runID string) *artifact.RunArtifact {
	return &artifact.RunArtifact{
		RunID:     runID,
		CreatedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Mode:      "saw",
		ToolID:    "T-01",
		Status:    artifact.StatusOK,
		Decision:  artifact.Decision{RiskLevel: artifact.RiskGreen},
		Hashes:    artifact.Hashes{FeasibilitySHA256: strings.Repeat("a", 64)},
	}
}

func fields(r *Result) []string {
	out := []string{}
	for _, d := range r.Differences {
		out = append(out, d.Field)
	}
	return out
}

func TestDiff_StatusOKvsErrorIsSingleCriticalDifference(t *testing.T) {
	a := baseArtifact("run_aaaaaaaaaaaa")
	b := baseArtifact("run_bbbbbbbbbbbb")
	b.Status = artifact.StatusError

	r := Diff(a, b)
	assert.Equal(t, Critical, r.Severity)
	require.Len(t, r.Differences, 1)
	assert.Equal(t, FieldStatus, r.Differences[0].Field)
	assert.Equal(t, "OK", r.Differences[0].A)
	assert.Equal(t, "ERROR", r.Differences[0].B)
}

func TestDiff_Identical(t *testing.T) {
	r := Diff(baseArtifact("run_aaaaaaaaaaaa"), baseArtifact("run_bbbbbbbbbbbb"))
	assert.Equal(t, Info, r.Severity)
	assert.False(t, r.Changed())
	assert.Empty(t, r.Notes)
}

func TestDiff_SameRunIDIsNoteOnly(t *testing.T) {
	a := baseArtifact("run_aaaaaaaaaaaa")
	r := Diff(a, a)
	assert.Empty(t, r.Differences)
	require.Len(t, r.Notes, 1)
	assert.Contains(t, r.Notes[0], "run_aaaaaaaaaaaa")
}

func TestDiff_Rules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a, b *artifact.RunArtifact)
		field  string
		want   Severity
	}{
		{"status blocked", func(_, b *artifact.RunArtifact) { b.Status = artifact.StatusBlocked }, FieldStatus, Warning},
		{"status from error", func(a, b *artifact.RunArtifact) { a.Status = artifact.StatusError; b.Status = artifact.StatusBlocked }, FieldStatus, Critical},
		{"risk yellow", func(_, b *artifact.RunArtifact) { b.Decision.RiskLevel = artifact.RiskYellow }, FieldRiskLevel, Warning},
		{"risk red", func(_, b *artifact.RunArtifact) { b.Decision.RiskLevel = artifact.RiskRed }, FieldRiskLevel, Critical},
		{"risk from red", func(a, b *artifact.RunArtifact) { a.Decision.RiskLevel = artifact.RiskRed; b.Decision.RiskLevel = artifact.RiskUnknown }, FieldRiskLevel, Critical},
		{"score small drift", func(a, b *artifact.RunArtifact) { a.Decision.Score = score(80); b.Decision.Score = score(82) }, FieldScore, Info},
		{"score large drift", func(a, b *artifact.RunArtifact) { a.Decision.Score = score(80); b.Decision.Score = score(74.9) }, FieldScore, Warning},
		{"score one side", func(_, b *artifact.RunArtifact) { b.Decision.Score = score(50) }, FieldScore, Info},
		{"block reason", func(_, b *artifact.RunArtifact) { b.Decision.BlockReason = "fence missing" }, FieldBlockReason, Warning},
		{"feasibility hash", func(_, b *artifact.RunArtifact) { b.Hashes.FeasibilitySHA256 = strings.Repeat("b", 64) }, FieldFeasibilitySHA256, Critical},
		{"gcode hash", func(a, b *artifact.RunArtifact) { a.Hashes.GcodeSHA256 = "x"; b.Hashes.GcodeSHA256 = "y" }, FieldGcodeSHA256, Warning},
		{"toolpaths hash", func(a, b *artifact.RunArtifact) { a.Hashes.ToolpathsSHA256 = "x"; b.Hashes.ToolpathsSHA256 = "y" }, FieldToolpathsSHA256, Warning},
		{"tool id", func(_, b *artifact.RunArtifact) { b.ToolID = "T-02" }, FieldToolID, Info},
		{"mode", func(_, b *artifact.RunArtifact) { b.Mode = "router" }, FieldMode, Info},
		{"advisory count", func(_, b *artifact.RunArtifact) {
			b.AdvisoryInputs = []artifact.AdvisoryInputRef{{AdvisoryID: "adv-1"}}
		}, FieldAdvisoryCount, Info},
		{"explanation status", func(_, b *artifact.RunArtifact) { b.ExplanationStatus = "READY" }, FieldExplanationStatus, Info},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := baseArtifact("run_aaaaaaaaaaaa")
			b := baseArtifact("run_bbbbbbbbbbbb")
			tt.mutate(a, b)

			r := Diff(a, b)
			require.Equal(t, []string{tt.field}, fields(r))
			assert.Equal(t, tt.want, r.Differences[0].Severity)
			assert.Equal(t, tt.want, r.Severity)
		})
	}
}

func TestDiff_IgnoredChanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a, b *artifact.RunArtifact)
	}{
		{"score within epsilon", func(a, b *artifact.RunArtifact) { a.Decision.Score = score(80); b.Decision.Score = score(80.005) }},
		{"gcode one side", func(_, b *artifact.RunArtifact) { b.Hashes.GcodeSHA256 = "y" }},
		{"toolpaths one side", func(a, _ *artifact.RunArtifact) { a.Hashes.ToolpathsSHA256 = "x" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := baseArtifact("run_aaaaaaaaaaaa")
			b := baseArtifact("run_bbbbbbbbbbbb")
			tt.mutate(a, b)
			assert.False(t, Diff(a, b).Changed())
		})
	}
}

func TestDiff_SeverityIsMonotonic(t *testing.T) {
	a := baseArtifact("run_aaaaaaaaaaaa")
	b := baseArtifact("run_bbbbbbbbbbbb")

	// Each step adds one more difference; the overall severity must never
	// drop and must always equal the highest entry.
	steps := []func(){
		func() { b.Hashes.FeasibilitySHA256 = strings.Repeat("b", 64) },
		func() { b.ToolID = "T-02" },
		func() { b.Decision.BlockReason = "x" },
		func() { b.Mode = "router" },
	}
	prev := Info
	for i, step := range steps {
		step()
		r := Diff(a, b)
		assert.GreaterOrEqual(t, r.Severity, prev, "step %d", i)
		maxSeen := Info
		for _, d := range r.Differences {
			maxSeen = maxSeen.Max(d.Severity)
		}
		assert.Equal(t, maxSeen, r.Severity)
		prev = r.Severity
	}
	assert.Equal(t, Critical, prev)
}

func regressionPair() (*artifact.RunArtifact, *artifact.RunArtifact) {
	a := baseArtifact("run_aaaaaaaaaaaa")
	a.Decision.Score = score(80)
	a.Hashes.GcodeSHA256 = strings.Repeat("1", 64)

	b := baseArtifact("run_bbbbbbbbbbbb")
	b.Status = artifact.StatusError
	b.ToolID = "T-02"
	b.Decision = artifact.Decision{RiskLevel: artifact.RiskRed, Score: score(72.5), BlockReason: "spindle overload"}
	b.Hashes = artifact.Hashes{FeasibilitySHA256: strings.Repeat("b", 64), GcodeSHA256: strings.Repeat("2", 64)}
	b.AdvisoryInputs = []artifact.AdvisoryInputRef{{AdvisoryID: "adv-1"}}
	b.ExplanationStatus = "READY"
	return a, b
}

func TestDiff_Golden(t *testing.T) {
	a, b := regressionPair()

	out, err := json.MarshalIndent(Diff(a, b), "", "  ")
	require.NoError(t, err)

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"), goldie.WithNameSuffix(".golden"))
	g.Assert(t, "regression_report", out)
}

func TestWriteText(t *testing.T) {
	a, b := regressionPair()

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, Diff(a, b)))
	out := buf.String()

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 11)
	assert.Equal(t, "run_aaaaaaaaaaaa -> run_bbbbbbbbbbbb: CRITICAL", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "SEVERITY"))
	assert.Contains(t, out, "spindle overload")
	assert.Contains(t, out, "80.00")
	assert.Contains(t, out, "drift 7.50")

	buf.Reset()
	require.NoError(t, WriteText(&buf, Diff(a, a)))
	assert.Contains(t, buf.String(), "note: comparing run_aaaaaaaaaaaa with itself")
	assert.Contains(t, buf.String(), "no differences")
}

func TestSeverity_Text(t *testing.T) {
	for _, s := range []Severity{Info, Warning, Critical} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back Severity
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	_, err := ParseSeverity("FATAL")
	require.Error(t, err)
	_, err = Severity(7).MarshalText()
	require.Error(t, err)
}

type mapGetter map[string]*artifact.RunArtifact

func (m mapGetter) Get(_ context.Context, runID string) (*artifact.RunArtifact, bool, error) {
	a, ok := m[runID]
	return a, ok, nil
}

type failingGetter struct{}

func (failingGetter) Get(context.Context, string) (*artifact.RunArtifact, bool, error) {
	return nil, false, errors.New("disk on fire")
}

func TestEngine_DiffRuns(t *testing.T) {
	a, b := regressionPair()
	e := NewEngine(mapGetter{a.RunID: a, b.RunID: b})

	r, err := e.DiffRuns(context.Background(), a.RunID, b.RunID)
	require.NoError(t, err)
	assert.Equal(t, Critical, r.Severity)

	_, err = e.DiffRuns(context.Background(), a.RunID, "run_cccccccccccc")
	assert.True(t, artifact.IsNotFound(err))

	_, err = NewEngine(failingGetter{}).DiffRuns(context.Background(), a.RunID, b.RunID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}
