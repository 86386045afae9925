package attachments

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/hashing"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, err)
	return s
}

func TestStore_ContentAddressed(t *testing.T) {
	s := createTestStore(t)

	content := []byte("G21\nG90\nG0 X0 Y0\n")
	sha, err := s.Store(content)
	require.NoError(t, err)
	assert.Equal(t, hashing.HashBytes(content), sha)

	path, err := s.Path(sha)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Root(), sha[:2], sha[2:4], sha), path)

	got, found, err := s.Get(sha)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, content, got)
}

func TestStore_DedupLeavesOneFile(t *testing.T) {
	s := createTestStore(t)

	content := []byte("same bytes")
	first, err := s.Store(content)
	require.NoError(t, err)

	path, err := s.Path(first)
	require.NoError(t, err)
	before, err := os.Stat(path)
	require.NoError(t, err)

	second, err := s.Store(content)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime(), "existing blob is not rewritten")

	report, err := s.VerifyAll()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
}

func TestStore_ConcurrentSameContent(t *testing.T) {
	s := createTestStore(t)
	content := bytes.Repeat([]byte("toolpath "), 4096)

	var wg sync.WaitGroup
	shas := make([]string, 12)
	for i := range shas {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sha, err := s.Store(content)
			assert.NoError(t, err)
			shas[i] = sha
		}(i)
	}
	wg.Wait()

	for _, sha := range shas {
		assert.Equal(t, shas[0], sha)
	}
	assert.True(t, s.Verify(shas[0]))

	leftovers, err := os.ReadDir(filepath.Join(s.Root(), tmpDir))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files are cleaned up")
}

func TestStoreReader(t *testing.T) {
	s := createTestStore(t)

	content := strings.Repeat("abc", 10000)
	sha, size, err := s.StoreReader(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, hashing.HashText(content), sha)
	assert.Equal(t, int64(len(content)), size)

	again, _, err := s.StoreReader(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, sha, again)

	stored, found, err := s.Size(sha)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(len(content)), stored)
}

func TestPut_Descriptor(t *testing.T) {
	s := createTestStore(t)

	att, err := s.Put([]byte("%PDF-1.7"), "report", "application/pdf", "run.pdf")
	require.NoError(t, err)
	assert.Equal(t, hashing.HashText("%PDF-1.7"), att.SHA256)
	assert.Equal(t, "report", att.Kind)
	assert.Equal(t, "application/pdf", att.Mime)
	assert.Equal(t, "run.pdf", att.Filename)
	assert.Equal(t, int64(8), att.SizeBytes)
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), att.CreatedAt)
}

func TestGet_MissingIsNotFound(t *testing.T) {
	s := createTestStore(t)
	missing := strings.Repeat("0", 64)

	data, found, err := s.Get(missing)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, data)

	rc, found, err := s.Open(missing)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, rc)

	assert.False(t, s.Exists(missing))
	_, found, err = s.Size(missing)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOpen_StreamsContent(t *testing.T) {
	s := createTestStore(t)
	sha, err := s.Store([]byte("streamed"))
	require.NoError(t, err)

	rc, found, err := s.Open(sha)
	require.NoError(t, err)
	require.True(t, found)
	defer rc.Close()

	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "streamed", string(got))
}

func TestPath_RejectsMalformedDigest(t *testing.T) {
	s := createTestStore(t)

	for _, bad := range []string{"", "abc", "../../etc/passwd", strings.Repeat("g", 64)} {
		_, err := s.Path(bad)
		assert.True(t, artifact.IsValidation(err), "digest %q", bad)
		assert.False(t, s.Exists(bad))
		assert.False(t, s.Verify(bad))
	}
}

func TestPath_AcceptsUppercase(t *testing.T) {
	s := createTestStore(t)
	sha, err := s.Store([]byte("x"))
	require.NoError(t, err)

	assert.True(t, s.Exists(strings.ToUpper(sha)))
	assert.True(t, s.Verify(strings.ToUpper(sha)))
}

func TestVerify_DetectsTampering(t *testing.T) {
	s := createTestStore(t)
	sha, err := s.Store([]byte("original"))
	require.NoError(t, err)
	assert.True(t, s.Verify(sha))

	path, err := s.Path(sha)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	assert.False(t, s.Verify(sha))
}

func TestVerifyAll_Report(t *testing.T) {
	s := createTestStore(t)

	good, err := s.Store([]byte("good"))
	require.NoError(t, err)
	bad, err := s.Store([]byte("bad"))
	require.NoError(t, err)

	badPath, err := s.Path(bad)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(badPath, []byte("corrupted"), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "stray.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), tmpDir, "blob-123"), []byte("partial"), 0o644))

	report, err := s.VerifyAll()
	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.OK)
	assert.Equal(t, []string{bad}, report.Mismatched)
	assert.Equal(t, []string{"stray.txt"}, report.Misplaced)
	assert.False(t, report.Healthy())
	assert.NotContains(t, report.Mismatched, good)
}

func TestVerifyAll_UnreadableShardDoesNotAbortSweep(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	s := createTestStore(t)

	good, err := s.Store([]byte("readable"))
	require.NoError(t, err)
	hidden, err := s.Store([]byte("behind a locked shard"))
	require.NoError(t, err)
	require.NotEqual(t, good[:2], hidden[:2], "fixture needs two top-level shards")

	shard := filepath.Join(s.Root(), hidden[:2])
	require.NoError(t, os.Chmod(shard, 0o000))
	t.Cleanup(func() { os.Chmod(shard, 0o755) })

	report, err := s.VerifyAll()
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.OK)
	assert.Equal(t, []string{hidden[:2]}, report.Unreadable)
	assert.False(t, report.Healthy())
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	sha, err := s.Store([]byte("ephemeral"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(sha))
	assert.False(t, s.Exists(sha))
	require.NoError(t, s.Delete(sha), "deleting a missing blob is not an error")
}

func TestOpen_EmptyRoot(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}
