package migrate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"
)

// ErrNoLegacySource is returned when the legacy file does not exist.
var ErrNoLegacySource = errors.New("legacy store not found")

// legacyRecord is one entry of the legacy store.
type legacyRecord struct {
	Key    string
	Fields map[string]any

	// Positional is set for array entries without a run_id. Key then only
	// names the entry for reports; a position is not an identity.
	Positional bool
}

// idKey is the key Convert may derive a run id from.
func (r legacyRecord) idKey() string {
	if r.Positional {
		return ""
	}
	return r.Key
}

// loadLegacy reads the whole legacy file. The canonical shape is an object
// keyed by run id; an array of records carrying their own run_id is also
// accepted. Records come back sorted by key so runs are reproducible.
// Numbers are decoded as json.Number to keep their exact text.
func loadLegacy(path string) ([]legacyRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoLegacySource, path)
		}
		return nil, fmt.Errorf("reading legacy store: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return []legacyRecord{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var records []legacyRecord
	switch trimmed[0] {
	case '{':
		var byKey map[string]any
		if err := dec.Decode(&byKey); err != nil {
			return nil, fmt.Errorf("parsing legacy store: %w", err)
		}
		for key, v := range byKey {
			records = append(records, legacyRecord{Key: key, Fields: asObject(v)})
		}
	case '[':
		var list []any
		if err := dec.Decode(&list); err != nil {
			return nil, fmt.Errorf("parsing legacy store: %w", err)
		}
		for i, v := range list {
			fields := asObject(v)
			var key string
			if id, ok := fields["run_id"]; ok && id != nil {
				key = strings.TrimSpace(fmt.Sprint(id))
			}
			if key == "" {
				records = append(records, legacyRecord{Key: fmt.Sprintf("#%d", i), Fields: fields, Positional: true})
				continue
			}
			records = append(records, legacyRecord{Key: key, Fields: fields})
		}
	default:
		return nil, fmt.Errorf("parsing legacy store: expected a JSON object or array")
	}

	slices.SortFunc(records, func(a, b legacyRecord) int {
		return strings.Compare(a.Key, b.Key)
	})
	return records, nil
}

// asObject returns v as a record, or nil when it is not a JSON object.
func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
