package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/runstore"
	"github.com/roach88/runledger/internal/schema"
)

// PutOptions holds flags for the put command.
type PutOptions struct {
	*RootOptions
	File      string
	NewID     bool
	RequestID string
}

// PutResult is the put command's output.
type PutResult struct {
	RunID     string `json:"run_id"`
	CreatedAt string `json:"created_at"`
	Partition string `json:"partition"`
}

// WriteText implements TextRenderer.
func (r PutResult) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Stored %s (partition %s)\n", r.RunID, r.Partition)
	return err
}

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Store a new run artifact",
		Long: `Validate a run artifact document and store it.

The document is checked against the artifact schema before anything is
written. Storing a run id that already exists fails with exit code 3 and
leaves the stored artifact untouched.

Example:
  runledger put --file run.json
  cat run.json | runledger put --file - --request-id req-42
  runledger put --file draft.json --new-id`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "artifact JSON file, or - for stdin (required)")
	cmd.Flags().BoolVar(&opts.NewID, "new-id", false, "mint a fresh run_id (and created_at when absent)")
	cmd.Flags().StringVar(&opts.RequestID, "request-id", "", "correlation id recorded in meta.request_id")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runPut(opts *PutOptions, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}

	data, err := readInput(opts.File, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitValidation, "failed to read artifact", err)
	}
	if opts.NewID {
		if data, err = mintIdentity(data, opts.now()().UTC()); err != nil {
			return WrapExitError(ExitValidation, "failed to assign run id", err)
		}
	}

	validator, err := schema.New()
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load artifact schema", err)
	}
	if err := validator.ValidateJSON(opts.File, data); err != nil {
		return schemaExitError(err)
	}

	var a artifact.RunArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return WrapExitError(ExitValidation, "failed to decode artifact", err)
	}

	repo, err := s.repository()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if opts.RequestID != "" {
		ctx = runstore.WithRequestID(ctx, opts.RequestID)
	}
	if err := repo.Put(ctx, &a); err != nil {
		return classify("failed to store artifact", err)
	}

	return s.out.Success(PutResult{
		RunID:     a.RunID,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339Nano),
		Partition: a.PartitionDate(),
	})
}

// mintIdentity sets a fresh run_id on the document, and created_at when
// the document has none.
func mintIdentity(data []byte, now time.Time) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("artifact document must be a JSON object")
	}
	doc["run_id"] = artifact.NewRunID()
	if _, ok := doc["created_at"]; !ok {
		doc["created_at"] = now.Format(time.RFC3339Nano)
	}
	return json.Marshal(doc)
}

// schemaExitError reports schema violations with the issue list as details.
func schemaExitError(err error) error {
	e := &ExitError{Code: ExitValidation, Message: "artifact failed schema validation", Err: err}
	var serr *schema.Error
	if errors.As(err, &serr) {
		e.Details = serr.Issues
	}
	return e
}

// readInput reads path, or in when path is "-".
func readInput(path string, in io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(in)
	}
	return os.ReadFile(path)
}
