package hashing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// ErrEmptyPayload is returned by HashJSON for nil or empty payloads. The
// JSON hash backs required artifact fields and must never be derived from
// nothing; callers treat it as a validation failure.
var ErrEmptyPayload = errors.New("cannot hash empty payload")

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// HashBytes returns the hex SHA-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashText returns the hex SHA-256 digest of the UTF-8 bytes of s.
func HashText(s string) string {
	return HashBytes([]byte(s))
}

// HashReader streams r through SHA-256 and returns the digest together
// with the number of bytes read.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("hashing stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashFile returns the hex SHA-256 digest of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	digest, _, err := HashReader(f)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return digest, nil
}

// HashJSON returns the hex SHA-256 digest of the canonical JSON form of v.
// Returns ErrEmptyPayload when v is nil or an empty map/slice.
func HashJSON(v any) (string, error) {
	if isEmptyPayload(v) {
		return "", ErrEmptyPayload
	}
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("HashJSON: %w", err)
	}
	return HashBytes(canonical), nil
}

// MustHashJSON is like HashJSON but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHashJSON(v any) string {
	digest, err := HashJSON(v)
	if err != nil {
		panic(err)
	}
	return digest
}

// VerifyHash compares two hex digests in constant time. Hex case is
// ignored; digests of different lengths never match.
func VerifyHash(expected, actual string) bool {
	e := []byte(strings.ToLower(strings.TrimSpace(expected)))
	a := []byte(strings.ToLower(strings.TrimSpace(actual)))
	if len(e) == 0 || len(a) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(e, a) == 1
}

// IsDigest reports whether s is a lowercase hex SHA-256 digest.
func IsDigest(s string) bool {
	return digestPattern.MatchString(s)
}
