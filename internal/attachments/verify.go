package attachments

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/roach88/runledger/internal/hashing"
)

// VerifyReport summarises a full integrity sweep.
type VerifyReport struct {
	Checked    int      `json:"checked"`
	OK         int      `json:"ok"`
	Mismatched []string `json:"mismatched"`
	Unreadable []string `json:"unreadable"`
	Misplaced  []string `json:"misplaced"`
}

// Healthy reports whether every blob hashed to its name.
func (r VerifyReport) Healthy() bool {
	return len(r.Mismatched) == 0 && len(r.Unreadable) == 0 && len(r.Misplaced) == 0
}

// Verify re-hashes the blob and compares it with its name. Missing,
// unreadable, and malformed digests all report false.
func (s *Store) Verify(sha string) bool {
	path, err := s.Path(sha)
	if err != nil {
		return false
	}
	actual, err := hashing.HashFile(path)
	if err != nil {
		return false
	}
	return hashing.VerifyHash(sha, actual)
}

// VerifyAll walks the whole tree and re-hashes every blob. Files whose name
// is not a digest, or that sit in the wrong shard, are reported as
// misplaced. Temp files are ignored. A shard that cannot be read is
// reported as unreadable and the sweep moves on; only an unreadable root
// is an error.
func (s *Store) VerifyAll() (VerifyReport, error) {
	report := VerifyReport{
		Mismatched: []string{},
		Unreadable: []string{},
		Misplaced:  []string{},
	}
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			rel, _ := filepath.Rel(s.root, path)
			s.logger.Warn("unreadable attachment path", "path", rel, "error", err)
			report.Unreadable = append(report.Unreadable, filepath.ToSlash(rel))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == tmpDir {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(s.root, path)
		name := d.Name()
		want, perr := s.Path(name)
		if perr != nil || want != path {
			report.Misplaced = append(report.Misplaced, filepath.ToSlash(rel))
			return nil
		}

		report.Checked++
		actual, herr := hashing.HashFile(path)
		switch {
		case herr != nil:
			s.logger.Warn("unreadable attachment", "sha256", name, "error", herr)
			report.Unreadable = append(report.Unreadable, name)
		case !hashing.VerifyHash(name, actual):
			s.logger.Warn("attachment digest mismatch", "sha256", name, "actual", actual)
			report.Mismatched = append(report.Mismatched, name)
		default:
			report.OK++
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("walking attachment store: %w", err)
	}
	return report, nil
}
