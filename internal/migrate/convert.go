package migrate

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/hashing"
)

// Meta keys written by Convert.
const (
	MetaLegacy           = "legacy"
	MetaMigratedFrom     = "migrated_from"
	MetaMigratedAt       = "migrated_at"
	MetaLegacyRunID      = "legacy_run_id"
	MetaCreatedAtDerived = "created_at_synthesized"

	migratedFromV1 = "v1"
)

// Gate decisions recorded by the legacy store.
const (
	GateGo          = "GO"
	GateNoGo        = "NO_GO"
	GateConditional = "CONDITIONAL"
)

var gateRisk = map[string]string{
	GateGo:          artifact.RiskGreen,
	GateNoGo:        artifact.RiskRed,
	GateConditional: artifact.RiskYellow,
}

// legacyTimeLayouts are tried in order for string timestamps.
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// DeriveRunID maps a legacy id that does not have the current shape onto
// one that does. The mapping is deterministic so re-runs hit the same id.
func DeriveRunID(legacyID string) string {
	if artifact.ValidRunID(legacyID) {
		return legacyID
	}
	return artifact.RunIDPrefix + hashing.HashText(legacyID)[:artifact.RunIDHexLen]
}

// Convert turns one legacy record into an artifact. key is the record's key
// in the legacy map; a "run_id" field inside the record takes precedence.
// now stamps the conversion and stands in for a missing created_at.
func Convert(key string, rec map[string]any, now time.Time) (*artifact.RunArtifact, error) {
	c := converter{rec: rec, used: make(map[string]bool)}

	legacyID := c.str("run_id")
	if legacyID == "" {
		legacyID = strings.TrimSpace(key)
	}
	if legacyID == "" {
		return nil, &artifact.ValidationError{Field: "run_id", Message: "legacy record has no run id"}
	}

	a := &artifact.RunArtifact{
		RunID:          DeriveRunID(legacyID),
		Mode:           c.str("mode"),
		ToolID:         c.str("tool_id"),
		RequestSummary: c.object("request_summary"),
		Feasibility:    c.object("feasibility"),
		Outputs:        c.object("outputs"),
		Meta:           map[string]any{},
	}
	if existing := c.object("meta"); existing != nil {
		maps.Copy(a.Meta, existing)
	}
	if a.RunID != legacyID {
		a.Meta[MetaLegacyRunID] = legacyID
	}

	rawCreated, hasCreated := rec["created_at"]
	c.used["created_at"] = true
	if hasCreated && rawCreated != nil {
		t, err := parseLegacyTime(rawCreated)
		if err != nil {
			return nil, &artifact.ValidationError{Field: "created_at", Message: err.Error()}
		}
		a.CreatedAt = t
	} else {
		a.CreatedAt = now.UTC()
		a.Meta[MetaCreatedAtDerived] = true
	}

	decision := c.object("decision")
	dc := converter{rec: decision, used: make(map[string]bool)}
	// The gate decision only feeds derivations, so it is kept verbatim in
	// the legacy bucket as well.
	gate := strings.ToUpper(firstNonEmpty(c.peek("gate_decision"), dc.peek("gate_decision")))

	// An unrecognised status is not consumed, so it stays verbatim in the
	// legacy bucket.
	legacyStatus := c.peek("status")
	if artifact.Status(strings.ToUpper(legacyStatus)).Valid() {
		c.used["status"] = true
	}
	a.Status = deriveStatus(legacyStatus, gate)
	a.Decision = artifact.Decision{
		RiskLevel:   deriveRisk(firstNonEmpty(dc.str("risk_level"), c.str("risk_level")), gate),
		Score:       firstNumber(dc.number("score"), c.number("score")),
		BlockReason: firstNonEmpty(dc.str("block_reason"), c.str("block_reason")),
		Warnings:    firstStrings(dc.strings("warnings"), c.strings("warnings")),
	}
	if a.Decision.Warnings == nil {
		a.Decision.Warnings = []string{}
	}
	if leftover := dc.leftover(); len(leftover) > 0 {
		c.extra("decision", leftover)
	}

	hashes := c.object("hashes")
	hc := converter{rec: hashes, used: make(map[string]bool)}
	feasibilityHash, err := deriveFeasibilityHash(
		firstNonEmpty(hc.str("feasibility_sha256"), c.str("request_hash"), c.str("feasibility_hash")),
		a.Feasibility, legacyID, rawCreated)
	if err != nil {
		return nil, err
	}
	a.Hashes = artifact.Hashes{
		FeasibilitySHA256: feasibilityHash,
		ToolpathsSHA256:   firstNonEmpty(hc.str("toolpaths_sha256"), c.str("toolpaths_hash")),
		GcodeSHA256:       firstNonEmpty(hc.str("gcode_sha256"), c.str("gcode_hash")),
	}
	if leftover := hc.leftover(); len(leftover) > 0 {
		c.extra("hashes", leftover)
	}

	// Overlay data does not belong in the primary file. Keep it with the
	// rest of the unmapped fields.
	legacy := c.leftover()
	maps.Copy(legacy, c.extras)
	if len(legacy) > 0 {
		a.Meta[MetaLegacy] = legacy
	}
	a.Meta[MetaMigratedFrom] = migratedFromV1
	a.Meta[MetaMigratedAt] = now.UTC().Format(time.RFC3339Nano)

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func deriveStatus(legacy, gate string) artifact.Status {
	if s := artifact.Status(strings.ToUpper(legacy)); s.Valid() {
		return s
	}
	if gate == GateNoGo {
		return artifact.StatusBlocked
	}
	return artifact.StatusOK
}

func deriveRisk(legacy, gate string) string {
	if legacy != "" {
		return strings.ToUpper(legacy)
	}
	if risk, ok := gateRisk[gate]; ok {
		return risk
	}
	return artifact.RiskUnknown
}

// deriveFeasibilityHash walks the fallback chain: a recorded hash, the hash
// of the feasibility payload, and finally the hash of the record identity,
// which is always available.
func deriveFeasibilityHash(recorded string, feasibility map[string]any, legacyID string, rawCreated any) (string, error) {
	if recorded != "" {
		return strings.ToLower(recorded), nil
	}
	if len(feasibility) > 0 {
		h, err := hashing.HashJSON(feasibility)
		if err != nil {
			return "", &artifact.ValidationError{Field: "feasibility", Message: "cannot be hashed", Err: err}
		}
		return h, nil
	}
	h, err := hashing.HashJSON(map[string]any{"run_id": legacyID, "created_at": rawCreated})
	if err != nil {
		return "", fmt.Errorf("hashing record identity: %w", err)
	}
	return h, nil
}

func parseLegacyTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range legacyTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", x)
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return time.Time{}, fmt.Errorf("unrecognised timestamp %q", x)
		}
		return unixTime(f)
	case float64:
		return unixTime(x)
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}

func unixTime(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return time.Time{}, fmt.Errorf("invalid epoch timestamp %v", f)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// converter reads typed values out of a loosely shaped record and tracks
// which keys were consumed.
type converter struct {
	rec    map[string]any
	used   map[string]bool
	extras map[string]any
}

func (c *converter) str(key string) string {
	if _, ok := c.rec[key]; !ok {
		return ""
	}
	c.used[key] = true
	return c.peek(key)
}

// peek reads a string without consuming the key.
func (c *converter) peek(key string) string {
	switch x := c.rec[key].(type) {
	case string:
		return strings.TrimSpace(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func (c *converter) object(key string) map[string]any {
	v, ok := c.rec[key]
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		// Wrong shape: leave it for the legacy bucket.
		return nil
	}
	c.used[key] = true
	return m
}

func (c *converter) number(key string) *float64 {
	v, ok := c.rec[key]
	if !ok {
		return nil
	}
	var f float64
	switch x := v.(type) {
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case float64:
		f = x
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	c.used[key] = true
	return &f
}

func (c *converter) strings(key string) []string {
	v, ok := c.rec[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	c.used[key] = true
	return out
}

func (c *converter) extra(key string, v any) {
	if c.extras == nil {
		c.extras = make(map[string]any)
	}
	c.extras[key] = v
}

// leftover returns the record's unconsumed keys.
func (c *converter) leftover() map[string]any {
	out := make(map[string]any)
	for k, v := range c.rec {
		if !c.used[k] {
			out[k] = v
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNumber(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstStrings(values ...[]string) []string {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
