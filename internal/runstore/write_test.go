package runstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runledger/internal/artifact"
)

var day = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestOpen_EmptyRoot(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}

func TestOpen_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "artifacts")
	repo, err := Open(root)
	require.NoError(t, err)
	assert.Equal(t, root, repo.Root())

	info, err := os.Stat(root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPut_WritesPartitionedFile(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := context.Background()

	a := createTestArtifact("run_aaaaaaaaaaaa", day)
	require.NoError(t, repo.Put(ctx, a))

	path := filepath.Join(repo.Root(), "2026-03-14", "run_aaaaaaaaaaaa.json")
	_, err := os.Stat(path)
	require.NoError(t, err)

	got, found, err := repo.Get(ctx, "run_aaaaaaaaaaaa")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, a.RunID, got.RunID)
	assert.True(t, a.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, artifact.StatusOK, got.Status)
	assert.Equal(t, "maple", got.Feasibility["stock"])
	assert.Empty(t, got.AdvisoryInputs)
}

func TestPut_SecondPutIsImmutabilityViolation(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, createTestArtifact("run_aaaaaaaaaaaa", day)))

	path := filepath.Join(repo.Root(), "2026-03-14", "run_aaaaaaaaaaaa.json")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	second := createTestArtifact("run_aaaaaaaaaaaa", day)
	second.Status = artifact.StatusError
	err = repo.Put(ctx, second)
	require.Error(t, err)
	assert.True(t, artifact.IsImmutabilityViolation(err))

	var imm *artifact.ImmutabilityError
	require.True(t, errors.As(err, &imm))
	assert.Equal(t, "run_aaaaaaaaaaaa", imm.RunID)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "primary bytes must never change")
}

func TestPut_SameRunIDDifferentDateIsRejected(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, createTestArtifact("run_aaaaaaaaaaaa", day)))

	err := repo.Put(ctx, createTestArtifact("run_aaaaaaaaaaaa", day.AddDate(0, 0, 3)))
	assert.True(t, artifact.IsImmutabilityViolation(err))

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPut_ConcurrentSameRunIDExactlyOneWins(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := context.Background()

	const writers = 16
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		violations int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Put(ctx, createTestArtifact("run_bbbbbbbbbbbb", day))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case artifact.IsImmutabilityViolation(err):
				violations++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, writers-1, violations)
}

func TestPut_ConcurrentDistinctRunIDs(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, repo.Put(ctx, createTestArtifact(runID(n), day)))
		}(i)
	}
	wg.Wait()

	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, count)
}

func TestPut_InvalidRunIDNeverTouchesFilesystem(t *testing.T) {
	repo, _ := createTestRepository(t)

	for _, id := range []string{"../../escape", "run_ZZZZZZZZZZZZ", "run_aaaa/../../x", ""} {
		err := repo.Put(context.Background(), createTestArtifact(id, day))
		require.Error(t, err)
		assert.True(t, artifact.IsValidation(err), "id %q", id)
	}

	entries, err := os.ReadDir(repo.Root())
	require.NoError(t, err)
	for _, e := range entries {
		assert.Equal(t, lockDirName, e.Name(), "no partition may be created")
	}
}

func TestPut_RejectsMissingRequiredFields(t *testing.T) {
	repo, _ := createTestRepository(t)

	a := createTestArtifact("run_aaaaaaaaaaaa", day)
	a.Decision.RiskLevel = ""
	assert.True(t, artifact.IsValidation(repo.Put(context.Background(), a)))

	b := createTestArtifact("run_aaaaaaaaaaab", day)
	b.Hashes.FeasibilitySHA256 = ""
	assert.True(t, artifact.IsValidation(repo.Put(context.Background(), b)))

	assert.True(t, artifact.IsValidation(repo.Put(context.Background(), nil)))
}

func TestPut_IgnoresOverlayFields(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := context.Background()

	a := createTestArtifact("run_aaaaaaaaaaaa", day)
	a.AdvisoryInputs = []artifact.AdvisoryInputRef{{AdvisoryID: "smuggled"}}
	a.ExplanationStatus = "READY"
	require.NoError(t, repo.Put(ctx, a))

	got, _, err := repo.Get(ctx, a.RunID)
	require.NoError(t, err)
	assert.Empty(t, got.AdvisoryInputs)
	assert.Empty(t, got.ExplanationStatus)
}

func TestPut_StashesRequestID(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := WithRequestID(context.Background(), "req-42")

	require.NoError(t, repo.Put(ctx, createTestArtifact("run_aaaaaaaaaaaa", day)))

	preset := createTestArtifact("run_aaaaaaaaaaab", day)
	preset.Meta = map[string]any{MetaRequestID: "upstream"}
	require.NoError(t, repo.Put(ctx, preset))

	got, _, err := repo.Get(ctx, "run_aaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "req-42", got.Meta[MetaRequestID])

	got, _, err = repo.Get(ctx, "run_aaaaaaaaaaab")
	require.NoError(t, err)
	assert.Equal(t, "upstream", got.Meta[MetaRequestID])
	assert.Equal(t, "upstream", preset.Meta[MetaRequestID], "caller's map is not mutated")
}

func TestPut_CancelledContextWhileLocked(t *testing.T) {
	repo, _ := createTestRepository(t)

	release, err := repo.locks.lock(context.Background(), "artifact/run_aaaaaaaaaaaa")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = repo.Put(ctx, createTestArtifact("run_aaaaaaaaaaaa", day))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAttachAdvisory_Idempotent(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, createTestArtifact("run_aaaaaaaaaaaa", day)))

	ref := artifact.AdvisoryInputRef{AdvisoryID: "adv/001", Kind: "explanation", EngineID: "advisor", EngineVersion: "1.2.0"}
	for i := 0; i < 5; i++ {
		got, err := repo.AttachAdvisory(ctx, "run_aaaaaaaaaaaa", ref)
		require.NoError(t, err)
		require.Len(t, got.AdvisoryInputs, 1)
		assert.Equal(t, "adv/001", got.AdvisoryInputs[0].AdvisoryID)
	}

	files, err := filepath.Glob(filepath.Join(repo.Root(), "2026-03-14", "run_aaaaaaaaaaaa_advisory_*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "run_aaaaaaaaaaaa_advisory_"+SanitizeAdvisoryID("adv/001")+".json", filepath.Base(files[0]))
}

func TestAttachAdvisory_ConcurrentSameID(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, createTestArtifact("run_aaaaaaaaaaaa", day)))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AttachAdvisory(ctx, "run_aaaaaaaaaaaa", artifact.AdvisoryInputRef{AdvisoryID: "adv-1", Kind: "risk"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, _, err := repo.Get(ctx, "run_aaaaaaaaaaaa")
	require.NoError(t, err)
	assert.Len(t, got.AdvisoryInputs, 1)
}

func TestAttachAdvisory_OrderedByCreatedAt(t *testing.T) {
	repo, clock := createTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, createTestArtifact("run_aaaaaaaaaaaa", day)))

	_, err := repo.AttachAdvisory(ctx, "run_aaaaaaaaaaaa", artifact.AdvisoryInputRef{AdvisoryID: "zeta", Kind: "risk"})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	got, err := repo.AttachAdvisory(ctx, "run_aaaaaaaaaaaa", artifact.AdvisoryInputRef{AdvisoryID: "alpha", Kind: "risk"})
	require.NoError(t, err)

	require.Len(t, got.AdvisoryInputs, 2)
	assert.Equal(t, "zeta", got.AdvisoryInputs[0].AdvisoryID)
	assert.Equal(t, "alpha", got.AdvisoryInputs[1].AdvisoryID)
}

func TestAttachAdvisory_UnknownRun(t *testing.T) {
	repo, _ := createTestRepository(t)
	_, err := repo.AttachAdvisory(context.Background(), "run_aaaaaaaaaaaa", artifact.AdvisoryInputRef{AdvisoryID: "adv-1"})
	assert.True(t, artifact.IsNotFound(err))
}

func TestAttachAdvisory_RequiresAdvisoryID(t *testing.T) {
	repo, _ := createTestRepository(t)
	_, err := repo.AttachAdvisory(context.Background(), "run_aaaaaaaaaaaa", artifact.AdvisoryInputRef{})
	assert.True(t, artifact.IsValidation(err))
}

func TestSetExplanation_OverwritesOverlayOnly(t *testing.T) {
	repo, clock := createTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, createTestArtifact("run_aaaaaaaaaaaa", day)))

	primary := filepath.Join(repo.Root(), "2026-03-14", "run_aaaaaaaaaaaa.json")
	before, err := os.ReadFile(primary)
	require.NoError(t, err)

	got, err := repo.SetExplanation(ctx, "run_aaaaaaaaaaaa", "PENDING", "")
	require.NoError(t, err)
	assert.Equal(t, "PENDING", got.ExplanationStatus)

	clock.Advance(time.Hour)
	got, err = repo.SetExplanation(ctx, "run_aaaaaaaaaaaa", "READY", "Blade height within limits.")
	require.NoError(t, err)
	assert.Equal(t, "READY", got.ExplanationStatus)
	assert.Equal(t, "Blade height within limits.", got.ExplanationSummary)

	after, err := os.ReadFile(primary)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSetExplanation_UnknownRun(t *testing.T) {
	repo, _ := createTestRepository(t)
	_, err := repo.SetExplanation(context.Background(), "run_aaaaaaaaaaaa", "READY", "x")
	assert.True(t, artifact.IsNotFound(err))
}

func TestSanitizeAdvisoryID(t *testing.T) {
	assert.Equal(t, "adv-1_x", SanitizeAdvisoryID("adv-1_x"))

	escaped := SanitizeAdvisoryID("../../etc/passwd")
	assert.True(t, strings.HasPrefix(escaped, "______etc_passwd-"), escaped)
	assert.NotContains(t, escaped, "/")

	assert.Len(t, SanitizeAdvisoryID(string(make([]byte, 300))), maxAdvisoryIDChars)
	assert.Len(t, SanitizeAdvisoryID(strings.Repeat("a", 300)), maxAdvisoryIDChars)
}

func TestSanitizeAdvisoryID_DistinctIDsStayDistinct(t *testing.T) {
	long := strings.Repeat("x", maxAdvisoryIDChars)
	pairs := [][2]string{
		{"adv.1", "adv_1"},
		{"adv.1", "adv/1"},
		{long + "-a", long + "-b"},
		{long, long + "y"},
	}
	for _, p := range pairs {
		assert.NotEqual(t, SanitizeAdvisoryID(p[0]), SanitizeAdvisoryID(p[1]), "%q vs %q", p[0], p[1])
	}
}

func TestAttachAdvisory_SimilarIDsGetSeparateFiles(t *testing.T) {
	repo, _ := createTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Put(ctx, createTestArtifact("run_aaaaaaaaaaaa", day)))

	_, err := repo.AttachAdvisory(ctx, "run_aaaaaaaaaaaa", artifact.AdvisoryInputRef{AdvisoryID: "adv_1"})
	require.NoError(t, err)
	got, err := repo.AttachAdvisory(ctx, "run_aaaaaaaaaaaa", artifact.AdvisoryInputRef{AdvisoryID: "adv.1"})
	require.NoError(t, err)

	var ids []string
	for _, in := range got.AdvisoryInputs {
		ids = append(ids, in.AdvisoryID)
	}
	assert.ElementsMatch(t, []string{"adv_1", "adv.1"}, ids)
}
