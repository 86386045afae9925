package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/migrate"
	"github.com/roach88/runledger/internal/signedurl"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf, ErrWriter: io.Discard}

	details := map[string]string{"field": "run_id"}
	require.NoError(t, formatter.Error(ErrCodeValidation, "bad artifact", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "bad artifact", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

type rendered struct{}

func (rendered) WriteText(w io.Writer) error {
	_, err := fmt.Fprint(w, "custom text")
	return err
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("plain value"))
	assert.Equal(t, "plain value\n", buf.String())

	buf.Reset()
	require.NoError(t, formatter.Success(rendered{}))
	assert.Equal(t, "custom text", buf.String())
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut, Verbose: true}

	require.NoError(t, formatter.Error(ErrCodeNotFound, "no such run", "run_000000000001"))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [E004]: no such run")
	assert.Contains(t, errOut.String(), "Details: run_000000000001")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	quiet := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}
	quiet.VerboseLog("hidden %d", 1)
	assert.Empty(t, errOut.String())

	loud := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}
	loud.VerboseLog("shown %d", 2)
	assert.Equal(t, "shown 2\n", errOut.String())
	assert.Empty(t, out.String(), "verbose logs never corrupt JSON output")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"conflict", &artifact.ImmutabilityError{RunID: "run_000000000001"}, ExitConflict, ErrCodeConflict},
		{"not found", &artifact.NotFoundError{RunID: "run_000000000001"}, ExitNotFound, ErrCodeNotFound},
		{"wrapped not found", fmt.Errorf("diff: %w", &artifact.NotFoundError{RunID: "run_000000000001"}), ExitNotFound, ErrCodeNotFound},
		{"no legacy", fmt.Errorf("%w: runs.json", migrate.ErrNoLegacySource), ExitNotFound, ErrCodeNotFound},
		{"no backup", migrate.ErrNoBackup, ExitNotFound, ErrCodeNotFound},
		{"validation", &artifact.ValidationError{Field: "status", Message: "invalid"}, ExitValidation, ErrCodeValidation},
		{"malformed digest", signedurl.ErrMalformed, ExitValidation, ErrCodeValidation},
		{"corrupt", &artifact.CorruptRecordError{Path: "x.json", Err: errors.New("eof")}, ExitFailure, ErrCodeCorrupt},
		{"cancelled", context.Canceled, ExitFailure, ErrCodeGeneric},
		{"other", errors.New("disk full"), ExitFailure, ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("operation failed", tt.err)
			assert.Equal(t, tt.wantCode, GetExitCode(err))
			assert.Equal(t, tt.wantErr, errorCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassify_PassesExitErrorsThrough(t *testing.T) {
	original := NewExitError(ExitValidation, "bad flag")
	assert.Same(t, original, classify("ignored", original))
	assert.Nil(t, classify("ignored", nil))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitNotFound, GetExitCode(fmt.Errorf("outer: %w", NewExitError(ExitNotFound, "inner"))))
}

func TestExitError_Message(t *testing.T) {
	assert.Equal(t, "bad", NewExitError(ExitFailure, "bad").Error())
	assert.Equal(t, "bad: cause", WrapExitError(ExitFailure, "bad", errors.New("cause")).Error())
}
