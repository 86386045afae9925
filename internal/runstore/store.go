package runstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/hashing"
)

const (
	lockDirName        = ".locks"
	advisoryInfix      = "_advisory_"
	explanationSuffix  = "_explanation.json"
	maxAdvisoryIDChars = 96

	// advisoryDigestChars is the length of the disambiguating digest.
	advisoryDigestChars = 12
)

var (
	partitionPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	primaryPattern   = regexp.MustCompile(`^run_[0-9a-f]{12}\.json$`)
	unsafeIDChars    = regexp.MustCompile(`[^A-Za-z0-9_-]`)
)

// Repository is the write-once artifact store. Construct one with Open and
// pass it to collaborators; it holds no global state.
type Repository struct {
	root   string
	locks  *pathLocks
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger used for skipped records and write events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the wall clock used for overlay timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// Open creates or opens a repository rooted at root. The directory is
// created if it does not exist.
func Open(root string, opts ...Option) (*Repository, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("open repository: root path is empty")
	}
	r := &Repository{
		root:   root,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, dir := range []string{root, filepath.Join(root, lockDirName)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("open repository: creating %s: %w", dir, err)
		}
	}
	r.locks = newPathLocks(filepath.Join(root, lockDirName))
	return r, nil
}

// Root returns the repository root directory.
func (r *Repository) Root() string {
	return r.root
}

func (r *Repository) artifactPath(runID string, createdAt time.Time) string {
	return filepath.Join(r.root, artifact.PartitionKey(createdAt), runID+".json")
}

func advisoryPath(dir, runID, advisoryID string) string {
	return filepath.Join(dir, runID+advisoryInfix+SanitizeAdvisoryID(advisoryID)+".json")
}

func explanationPath(dir, runID string) string {
	return filepath.Join(dir, runID+explanationSuffix)
}

// SanitizeAdvisoryID maps an advisory id onto the characters allowed in a
// side-file name. Anything outside [A-Za-z0-9_-] becomes '_'. When that
// changes the id, or the id is too long, a digest of the raw id is appended
// so distinct ids never share a side file.
func SanitizeAdvisoryID(id string) string {
	s := unsafeIDChars.ReplaceAllString(id, "_")
	if s == id && len(s) <= maxAdvisoryIDChars {
		return s
	}
	suffix := "-" + hashing.HashText(id)[:advisoryDigestChars]
	if limit := maxAdvisoryIDChars - len(suffix); len(s) > limit {
		s = s[:limit]
	}
	return s + suffix
}

// partitions returns partition directory names, newest first.
func (r *Repository) partitions() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading repository root: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() || !partitionPattern.MatchString(e.Name()) {
			continue
		}
		if _, err := time.Parse(artifact.PartitionLayout, e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	slices.Reverse(names)
	return names, nil
}

// locate returns the partition directory holding runID, or "" when the
// artifact does not exist.
func (r *Repository) locate(runID string) (string, error) {
	parts, err := r.partitions()
	if err != nil {
		return "", err
	}
	name := runID + ".json"
	for _, p := range parts {
		dir := filepath.Join(r.root, p)
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return dir, nil
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", filepath.Join(dir, name), err)
		}
	}
	return "", nil
}

// primaryFiles returns the primary artifact file names in dir.
func primaryFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && primaryPattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
