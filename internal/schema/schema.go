// Package schema validates run artifact documents against an embedded CUE
// definition before they are decoded. It catches shape errors (unknown
// fields, wrong types, missing required values) with field paths, which a
// plain json.Unmarshal silently accepts.
package schema

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"

	"github.com/roach88/runledger/internal/artifact"
)

//go:embed artifact.cue
var artifactCUE string

// Issue is one schema violation.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// Error lists every violation found in a document. It matches
// artifact.ErrValidation.
type Error struct {
	Issues []Issue
}

func (e *Error) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		parts[i] = issue.String()
	}
	return "schema validation failed: " + strings.Join(parts, "; ")
}

// Is reports whether target is artifact.ErrValidation.
func (e *Error) Is(target error) bool {
	return target == artifact.ErrValidation
}

// Validator checks documents against #RunArtifact. A Validator is not safe
// for concurrent use because cue.Context is not.
type Validator struct {
	ctx *cue.Context
	def cue.Value
}

// New compiles the embedded schema.
func New() (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(artifactCUE, cue.Filename("artifact.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compiling artifact schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#RunArtifact"))
	if !def.Exists() {
		return nil, fmt.Errorf("compiling artifact schema: #RunArtifact not defined")
	}
	return &Validator{ctx: ctx, def: def}, nil
}

// ValidateJSON checks one JSON document. Syntax errors and schema
// violations are both returned as *Error.
func (v *Validator) ValidateJSON(name string, data []byte) error {
	expr, err := cuejson.Extract(name, data)
	if err != nil {
		return &Error{Issues: []Issue{{Message: "invalid JSON: " + err.Error()}}}
	}
	doc := v.ctx.BuildExpr(expr)
	if err := doc.Err(); err != nil {
		return &Error{Issues: issues(err)}
	}

	unified := v.def.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &Error{Issues: issues(err)}
	}
	return nil
}

// issues flattens a CUE error list into Issues, one per distinct message.
func issues(err error) []Issue {
	var out []Issue
	seen := make(map[string]bool)
	for _, e := range errors.Errors(err) {
		format, args := e.Msg()
		issue := Issue{
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		if seen[issue.String()] {
			continue
		}
		seen[issue.String()] = true
		out = append(out, issue)
	}
	if len(out) == 0 {
		out = append(out, Issue{Message: err.Error()})
	}
	return out
}
