package artifact

import (
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

const (
	// RunIDPrefix is the literal prefix of every run id.
	RunIDPrefix = "run_"

	// RunIDHexLen is the number of lowercase hex characters after the prefix.
	RunIDHexLen = 12
)

var runIDPattern = regexp.MustCompile(`^run_[0-9a-f]{12}$`)

// ValidRunID reports whether id has the run id shape.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

// ValidateRunID returns a *ValidationError when id does not have the run id
// shape. Callers check this before any filesystem access: the id becomes a
// path component.
func ValidateRunID(id string) error {
	if !ValidRunID(id) {
		return &ValidationError{
			Field:   "run_id",
			Message: fmt.Sprintf("invalid run id %q: want %s followed by %d lowercase hex characters", id, RunIDPrefix, RunIDHexLen),
		}
	}
	return nil
}

// NewRunID mints a fresh run id from the random tail of a UUIDv7.
func NewRunID() string {
	u := uuid.Must(uuid.NewV7())
	return RunIDPrefix + hex.EncodeToString(u[10:16])
}
