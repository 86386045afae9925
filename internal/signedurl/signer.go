// Package signedurl issues and checks expiring, HMAC-signed references to
// attachment blobs, and serves the blobs behind them over HTTP.
//
// A reference names a blob by digest and carries an expiry plus optional
// response hints (mime type, download filename). The signature covers all
// of them, so none can be altered without invalidating the reference.
// Storage paths never appear in a reference.
package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/runledger/internal/hashing"
)

// MinKeyBytes is the shortest signing key NewSigner accepts.
const MinKeyBytes = 32

// signingDomain prefixes every signed message so a signature minted here
// cannot be replayed against another HMAC consumer sharing the key.
const signingDomain = "runledger.attachment.v1"

// Query parameter names.
const (
	ParamSHA256   = "sha256"
	ParamExpires  = "exp"
	ParamMime     = "mime"
	ParamFilename = "filename"
	ParamSig      = "sig"
)

var (
	// ErrExpired is returned for a correctly signed reference whose expiry
	// has passed.
	ErrExpired = errors.New("signed reference expired")

	// ErrBadSignature is returned when the signature does not match.
	ErrBadSignature = errors.New("signed reference signature mismatch")

	// ErrMalformed is returned when a reference is missing fields or
	// carries an invalid digest, expiry, or signature encoding.
	ErrMalformed = errors.New("malformed signed reference")

	// ErrKeyTooShort is returned by NewSigner for keys under MinKeyBytes.
	ErrKeyTooShort = fmt.Errorf("signing key must be at least %d bytes", MinKeyBytes)
)

// Ref is a signed reference to one blob.
type Ref struct {
	SHA256   string
	Expires  int64
	Mime     string
	Filename string
	Sig      string
}

// ExpiresAt returns the expiry as a time.
func (r Ref) ExpiresAt() time.Time {
	return time.Unix(r.Expires, 0).UTC()
}

// Query encodes the reference as URL query parameters. Empty hints are
// omitted.
func (r Ref) Query() url.Values {
	q := url.Values{}
	q.Set(ParamSHA256, r.SHA256)
	q.Set(ParamExpires, strconv.FormatInt(r.Expires, 10))
	if r.Mime != "" {
		q.Set(ParamMime, r.Mime)
	}
	if r.Filename != "" {
		q.Set(ParamFilename, r.Filename)
	}
	q.Set(ParamSig, r.Sig)
	return q
}

// URL appends the encoded reference to base.
func (r Ref) URL(base string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + r.Query().Encode()
}

// ParseRef decodes a reference from URL query parameters. It checks shape
// only; call Signer.Verify to authenticate it.
func ParseRef(q url.Values) (Ref, error) {
	ref := Ref{
		SHA256:   strings.ToLower(q.Get(ParamSHA256)),
		Mime:     q.Get(ParamMime),
		Filename: q.Get(ParamFilename),
		Sig:      strings.ToLower(q.Get(ParamSig)),
	}
	if !hashing.IsDigest(ref.SHA256) {
		return Ref{}, fmt.Errorf("%w: %s must be 64 hex characters", ErrMalformed, ParamSHA256)
	}
	exp, err := strconv.ParseInt(q.Get(ParamExpires), 10, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("%w: %s: %v", ErrMalformed, ParamExpires, err)
	}
	ref.Expires = exp
	if ref.Sig == "" {
		return Ref{}, fmt.Errorf("%w: %s is required", ErrMalformed, ParamSig)
	}
	return ref, nil
}

// Signer mints and verifies references with one HMAC-SHA256 key.
type Signer struct {
	key []byte
	now func() time.Time
}

// SignerOption configures a Signer.
type SignerOption func(*Signer)

// WithClock overrides the clock used for minting and expiry checks.
func WithClock(now func() time.Time) SignerOption {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSigner returns a Signer for key. The key is copied.
func NewSigner(key []byte, opts ...SignerOption) (*Signer, error) {
	if len(key) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}
	s := &Signer{key: append([]byte(nil), key...), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sign returns a reference to sha valid for ttl.
func (s *Signer) Sign(sha string, ttl time.Duration, mime, filename string) (Ref, error) {
	sha = strings.ToLower(strings.TrimSpace(sha))
	if !hashing.IsDigest(sha) {
		return Ref{}, fmt.Errorf("%w: %s must be 64 hex characters", ErrMalformed, ParamSHA256)
	}
	if ttl <= 0 {
		return Ref{}, fmt.Errorf("sign: ttl must be positive, got %s", ttl)
	}
	ref := Ref{
		SHA256:   sha,
		Expires:  s.now().Add(ttl).Unix(),
		Mime:     mime,
		Filename: filename,
	}
	ref.Sig = hex.EncodeToString(s.mac(ref))
	return ref, nil
}

// Verify authenticates ref. The signature is checked before the expiry so
// that a forged reference is always reported as ErrBadSignature.
func (s *Signer) Verify(ref Ref) error {
	if !hashing.IsDigest(ref.SHA256) {
		return fmt.Errorf("%w: %s must be 64 hex characters", ErrMalformed, ParamSHA256)
	}
	got, err := hex.DecodeString(ref.Sig)
	if err != nil {
		return fmt.Errorf("%w: invalid hex signature: %v", ErrMalformed, err)
	}
	if !hmac.Equal(s.mac(ref), got) {
		return ErrBadSignature
	}
	if !s.now().Before(ref.ExpiresAt()) {
		return ErrExpired
	}
	return nil
}

func (s *Signer) mac(ref Ref) []byte {
	m := hmac.New(sha256.New, s.key)
	// The free-text hints are length-prefixed so no choice of separator
	// inside them can shift bytes from one field into the next.
	fmt.Fprintf(m, "%s\n%s\n%d\n%d:%s\n%d:%s",
		signingDomain, ref.SHA256, ref.Expires,
		len(ref.Mime), ref.Mime, len(ref.Filename), ref.Filename)
	return m.Sum(nil)
}
