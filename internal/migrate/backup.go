package migrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/runledger/internal/hashing"
	"github.com/roach88/runledger/internal/journal"
)

// backupStampLayout sorts lexicographically in time order.
const backupStampLayout = "20060102T150405.000000000Z"

const backupSuffix = ".bak"

// ErrNoBackup is returned by Rollback when no backup is available.
var ErrNoBackup = errors.New("no legacy backup found")

// RollbackReport describes a completed Rollback.
type RollbackReport struct {
	BackupPath   string `json:"backup_path"`
	RestoredPath string `json:"restored_path"`
	SHA256       string `json:"sha256"`
}

// StatusReport is a snapshot of migration state.
type StatusReport struct {
	LegacyPath      string          `json:"legacy_path"`
	LegacyPresent   bool            `json:"legacy_present"`
	LegacyRecords   int             `json:"legacy_records"`
	RepositoryCount int             `json:"repository_count"`
	Backups         []string        `json:"backups"`
	LastOperation   *journal.Entry  `json:"last_operation,omitempty"`
	History         []journal.Entry `json:"history,omitempty"`
}

func (e *Engine) checkLegacy() error {
	info, err := os.Stat(e.legacyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNoLegacySource, e.legacyPath)
		}
		return fmt.Errorf("stat legacy store: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("legacy store %s is a directory", e.legacyPath)
	}
	return nil
}

// backup copies the legacy file to a timestamped name in the backup
// directory and checks the copy hashes the same as the source.
func (e *Engine) backup() (string, error) {
	if err := os.MkdirAll(e.backupDir, 0o755); err != nil {
		return "", fmt.Errorf("creating backup directory: %w", err)
	}
	name := filepath.Base(e.legacyPath) + "." + e.now().UTC().Format(backupStampLayout) + backupSuffix
	dst := filepath.Join(e.backupDir, name)

	want, err := copyAtomic(e.legacyPath, dst)
	if err != nil {
		return "", fmt.Errorf("backing up legacy store: %w", err)
	}
	got, err := hashing.HashFile(dst)
	if err != nil {
		return "", fmt.Errorf("verifying backup: %w", err)
	}
	if !hashing.VerifyHash(want, got) {
		return "", fmt.Errorf("verifying backup: %s does not match source", dst)
	}
	return dst, nil
}

// Backups lists backups of the legacy file, oldest first.
func (e *Engine) Backups() ([]string, error) {
	entries, err := os.ReadDir(e.backupDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading backup directory: %w", err)
	}
	prefix := filepath.Base(e.legacyPath) + "."
	backups := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.Type().IsRegular() && strings.HasPrefix(name, prefix) && strings.HasSuffix(name, backupSuffix) {
			backups = append(backups, filepath.Join(e.backupDir, name))
		}
	}
	slices.Sort(backups)
	return backups, nil
}

// Rollback restores the legacy file from backupPath, or from the most
// recent backup when backupPath is empty. The repository is not touched.
func (e *Engine) Rollback(ctx context.Context, backupPath string) (*RollbackReport, error) {
	started := e.now().UTC()
	if backupPath == "" {
		backups, err := e.Backups()
		if err != nil {
			return nil, fmt.Errorf("rollback: %w", err)
		}
		if len(backups) == 0 {
			return nil, fmt.Errorf("rollback: %w in %s", ErrNoBackup, e.backupDir)
		}
		backupPath = backups[len(backups)-1]
	}

	if _, err := loadLegacy(backupPath); err != nil {
		if errors.Is(err, ErrNoLegacySource) {
			return nil, fmt.Errorf("rollback: %w: %s", ErrNoBackup, backupPath)
		}
		return nil, fmt.Errorf("rollback: backup is not a readable legacy store: %w", err)
	}

	sha, err := copyAtomic(backupPath, e.legacyPath)
	if err != nil {
		return nil, fmt.Errorf("rollback: %w", err)
	}
	e.logger.Info("legacy store restored", "backup", backupPath, "path", e.legacyPath)

	e.record(ctx, journal.Entry{
		Operation:  journal.OpRollback,
		StartedAt:  started,
		FinishedAt: e.now().UTC(),
		Success:    true,
		BackupPath: backupPath,
		Details:    map[string]any{"sha256": sha},
	})
	return &RollbackReport{BackupPath: backupPath, RestoredPath: e.legacyPath, SHA256: sha}, nil
}

// Status reports the legacy file, repository size, backups, and the last
// journaled operation.
func (e *Engine) Status(ctx context.Context) (*StatusReport, error) {
	report := &StatusReport{LegacyPath: e.legacyPath}

	if err := e.checkLegacy(); err == nil {
		report.LegacyPresent = true
		records, err := loadLegacy(e.legacyPath)
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		report.LegacyRecords = len(records)
	} else if !errors.Is(err, ErrNoLegacySource) {
		return nil, fmt.Errorf("status: %w", err)
	}

	count, err := e.repo.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	report.RepositoryCount = count

	if report.Backups, err = e.Backups(); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	if e.journal != nil {
		last, found, err := e.journal.Last(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("status: %w", err)
		}
		if found {
			report.LastOperation = &last
		}
	}
	return report, nil
}

// History returns up to limit journaled operations, newest first. Without a
// journal it returns an empty list.
func (e *Engine) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	if e.journal == nil {
		return []journal.Entry{}, nil
	}
	entries, err := e.journal.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	return entries, nil
}

// copyAtomic copies src over dst through a synced temp file and a rename,
// returning the SHA-256 of the bytes copied.
func copyAtomic(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	sha, _, err := hashing.HashReader(io.TeeReader(in, tmp))
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("copying %s: %w", src, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return "", fmt.Errorf("renaming to %s: %w", dst, err)
	}
	success = true
	return sha, nil
}
