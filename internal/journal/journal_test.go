package journal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestJournal opens a journal in a fresh temp dir.
func createTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func TestOpen_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)

	var mode string
	require.NoError(t, j.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var version int
	require.NoError(t, j.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		j, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		require.NoError(t, j.Close())
	}
}

func TestRecord_AssignsIDAndSeq(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	e, err := j.Record(ctx, Entry{
		Operation:  OpMigrate,
		StartedAt:  t0,
		FinishedAt: t0.Add(2 * time.Second),
		Success:    true,
		BackupPath: "/backups/runs_v1.20260314T080000Z.json",
		Details:    map[string]any{"total": 3, "migrated": 3, "skipped": 0},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, int64(1), e.Seq)
	assert.Equal(t, OpMigrate, e.Operation)
	assert.True(t, e.StartedAt.Equal(t0))
	assert.True(t, e.Success)
	assert.Equal(t, json.Number("3"), e.Details["migrated"])
}

func TestRecord_SameIDIsIdempotent(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	first, err := j.Record(ctx, Entry{ID: "fixed", Operation: OpVerify, StartedAt: t0, FinishedAt: t0})
	require.NoError(t, err)
	second, err := j.Record(ctx, Entry{ID: "fixed", Operation: OpRollback, StartedAt: t0, FinishedAt: t0})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, OpVerify, second.Operation)

	entries, err := j.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecord_RequiresOperation(t *testing.T) {
	j := createTestJournal(t)
	_, err := j.Record(context.Background(), Entry{})
	require.Error(t, err)
}

func TestLast(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	_, found, err := j.Last(ctx, "")
	require.NoError(t, err)
	assert.False(t, found)

	for i, op := range []string{OpMigrate, OpVerify, OpMigrate, OpRollback} {
		_, err := j.Record(ctx, Entry{
			Operation:  op,
			StartedAt:  t0.Add(time.Duration(i) * time.Minute),
			FinishedAt: t0.Add(time.Duration(i) * time.Minute),
			Details:    map[string]any{"step": i},
		})
		require.NoError(t, err)
	}

	last, found, err := j.Last(ctx, "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, OpRollback, last.Operation)

	last, found, err = j.Last(ctx, OpMigrate)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, json.Number("2"), last.Details["step"])

	_, found, err = j.Last(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestList_NewestFirstWithLimit(t *testing.T) {
	j := createTestJournal(t)
	ctx := context.Background()

	entries, err := j.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.NotNil(t, entries)

	// Identical timestamps: ordering must come from seq alone.
	for i := 0; i < 5; i++ {
		_, err := j.Record(ctx, Entry{Operation: OpVerify, StartedAt: t0, FinishedAt: t0, Details: map[string]any{"i": i}})
		require.NoError(t, err)
	}

	entries, err = j.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []int64{5, 4, 3}, []int64{entries[0].Seq, entries[1].Seq, entries[2].Seq})
}

func TestMarshalDetails_Canonical(t *testing.T) {
	a, err := marshalDetails(map[string]any{"b": 1, "a": "<x>"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1}`, a)

	empty, err := marshalDetails(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", empty)
}
