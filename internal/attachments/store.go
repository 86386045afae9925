package attachments

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/hashing"
)

const tmpDir = ".tmp"

// Attachment describes a stored blob. The digest is the identity; the
// remaining fields are hints supplied by whoever stored it.
type Attachment struct {
	SHA256    string    `json:"sha256"`
	Kind      string    `json:"kind"`
	Mime      string    `json:"mime"`
	Filename  string    `json:"filename"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages the blob directory. It is safe for concurrent use;
// concurrent stores of the same content share one write.
type Store struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store and verification events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for Attachment.CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open creates a Store rooted at root, creating the directory structure if
// it does not exist.
func Open(root string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("open attachment store: root path is empty")
	}
	s := &Store{root: root, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	for _, dir := range []string{root, filepath.Join(root, tmpDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the sharded path for a digest. The digest must be 64
// lowercase hex characters; anything else is a validation error, which
// keeps caller-supplied strings from escaping the root.
func (s *Store) Path(sha string) (string, error) {
	sha = strings.ToLower(strings.TrimSpace(sha))
	if !hashing.IsDigest(sha) {
		return "", &artifact.ValidationError{Field: "sha256", Message: "must be 64 hex characters"}
	}
	return filepath.Join(s.root, sha[:2], sha[2:4], sha), nil
}

// Store writes data and returns its digest. Storing content that is
// already present does not rewrite it.
func (s *Store) Store(data []byte) (string, error) {
	sha := hashing.HashBytes(data)
	_, err, shared := s.group.Do(sha, func() (any, error) {
		return nil, s.write(sha, bytes.NewReader(data))
	})
	if err != nil {
		return "", err
	}
	if shared {
		s.logger.Debug("attachment store shared", "sha256", sha)
	}
	return sha, nil
}

// StoreReader streams r into the store and returns its digest and size.
// The content is spooled to a temp file while hashing, so r is read once.
func (s *Store) StoreReader(r io.Reader) (string, int64, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "blob-*")
	if err != nil {
		return "", 0, fmt.Errorf("creating temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	sha, size, err := hashing.HashReader(io.TeeReader(r, tmp))
	if err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("spooling blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", 0, fmt.Errorf("syncing temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("closing temp blob: %w", err)
	}

	_, err, _ = s.group.Do(sha, func() (any, error) {
		return nil, s.publish(sha, tmpPath)
	})
	if err != nil {
		return "", 0, err
	}
	return sha, size, nil
}

// Put stores data and returns its descriptor.
func (s *Store) Put(data []byte, kind, mime, filename string) (Attachment, error) {
	sha, err := s.Store(data)
	if err != nil {
		return Attachment{}, err
	}
	return Attachment{
		SHA256:    sha,
		Kind:      kind,
		Mime:      mime,
		Filename:  filename,
		SizeBytes: int64(len(data)),
		CreatedAt: s.now().UTC(),
	}, nil
}

// write spools r to a temp file and publishes it under sha.
func (s *Store) write(sha string, r io.Reader) error {
	final, err := s.Path(sha)
	if err != nil {
		return err
	}
	if _, err := os.Stat(final); err == nil {
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "blob-*")
	if err != nil {
		return fmt.Errorf("creating temp blob: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp blob: %w", err)
	}
	return s.publish(sha, tmpPath)
}

// publish renames a fully written temp file into its sharded location.
// Identical content produces an identical path, so an existing blob wins.
func (s *Store) publish(sha, tmpPath string) error {
	final, err := s.Path(sha)
	if err != nil {
		return err
	}
	if _, err := os.Stat(final); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("creating shard directory: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return fmt.Errorf("renaming blob to %s: %w", final, err)
	}
	s.logger.Debug("attachment stored", "sha256", sha)
	return nil
}

// Get returns the blob's bytes. A missing blob is found=false with a nil
// error.
func (s *Store) Get(sha string) ([]byte, bool, error) {
	path, err := s.Path(sha)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading blob %s: %w", sha, err)
	}
	return data, true, nil
}

// Open returns a reader over the blob. The caller closes it.
func (s *Store) Open(sha string) (io.ReadCloser, bool, error) {
	path, err := s.Path(sha)
	if err != nil {
		return nil, false, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("opening blob %s: %w", sha, err)
	}
	return f, true, nil
}

// Exists reports whether a blob is stored under sha.
func (s *Store) Exists(sha string) bool {
	path, err := s.Path(sha)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Size returns the stored blob's length in bytes.
func (s *Store) Size(sha string) (int64, bool, error) {
	path, err := s.Path(sha)
	if err != nil {
		return 0, false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat blob %s: %w", sha, err)
	}
	return info.Size(), true, nil
}

// Delete removes a blob. Blobs are shared by every reference to the same
// content and nothing tracks those references, so deleting is only safe
// during explicit cleanup when the caller knows the blob is unreferenced.
func (s *Store) Delete(sha string) error {
	path, err := s.Path(sha)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting blob %s: %w", sha, err)
	}
	return nil
}
