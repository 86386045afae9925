package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runledger/internal/attachments"
	"github.com/roach88/runledger/internal/signedurl"
)

// NewAttachmentCommand creates the attachment command group.
func NewAttachmentCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attachment",
		Short: "Manage the content-addressed attachment store",
	}
	cmd.AddCommand(newAttachmentStoreCommand(rootOpts))
	cmd.AddCommand(newAttachmentVerifyCommand(rootOpts))
	cmd.AddCommand(newAttachmentSignCommand(rootOpts))
	cmd.AddCommand(newAttachmentServeCommand(rootOpts))
	return cmd
}

type attachmentView attachments.Attachment

func (v attachmentView) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s  %d bytes\n", v.SHA256, v.SizeBytes)
	return err
}

// AttachmentStoreOptions holds flags for attachment store.
type AttachmentStoreOptions struct {
	*RootOptions
	Kind     string
	Mime     string
	Filename string
}

func newAttachmentStoreCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AttachmentStoreOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "store <file>",
		Short: "Store a file and print its SHA-256",
		Long: `Store a file in the attachment store and print its SHA-256.

Storing identical bytes again returns the same digest and writes nothing.
Use - to read from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			data, err := readInput(args[0], cmd.InOrStdin())
			if err != nil {
				return WrapExitError(ExitValidation, "failed to read attachment", err)
			}
			filename := opts.Filename
			if filename == "" && args[0] != "-" {
				filename = filepath.Base(args[0])
			}

			store, err := s.attachmentStore()
			if err != nil {
				return err
			}
			att, err := store.Put(data, opts.Kind, opts.Mime, filename)
			if err != nil {
				return classify("failed to store attachment", err)
			}
			return s.out.Success(attachmentView(att))
		},
	}

	cmd.Flags().StringVar(&opts.Kind, "kind", "", "attachment kind, e.g. gcode or report")
	cmd.Flags().StringVar(&opts.Mime, "mime", "", "media type")
	cmd.Flags().StringVar(&opts.Filename, "filename", "", "display filename (default: base name of <file>)")

	return cmd
}

// blobCheck is the result of verifying specific digests.
type blobCheck struct {
	SHA256 string `json:"sha256"`
	Status string `json:"status"` // ok | mismatch | missing
}

type blobChecks []blobCheck

func (c blobChecks) WriteText(w io.Writer) error {
	for _, b := range c {
		fmt.Fprintf(w, "%-8s %s\n", b.Status, b.SHA256)
	}
	return nil
}

type verifyAllView attachments.VerifyReport

func (v verifyAllView) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "checked %d, ok %d\n", v.Checked, v.OK)
	for _, sha := range v.Mismatched {
		fmt.Fprintf(w, "mismatch   %s\n", sha)
	}
	for _, sha := range v.Unreadable {
		fmt.Fprintf(w, "unreadable %s\n", sha)
	}
	for _, p := range v.Misplaced {
		fmt.Fprintf(w, "misplaced  %s\n", p)
	}
	return nil
}

func newAttachmentVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [sha256]...",
		Short: "Re-hash stored blobs and report corruption",
		Long: `Re-hash stored blobs and compare them with their digests.

With no arguments the whole store is scanned. Exits 1 when any blob is
corrupt, unreadable or misplaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(rootOpts, cmd)
			if err != nil {
				return err
			}
			store, err := s.attachmentStore()
			if err != nil {
				return err
			}

			if len(args) == 0 {
				report, err := store.VerifyAll()
				if err != nil {
					return classify("failed to verify attachment store", err)
				}
				if err := s.out.Success(verifyAllView(report)); err != nil {
					return err
				}
				if !report.Healthy() {
					return &ExitError{Code: ExitFailure, ErrCode: ErrCodeFailed, Message: "attachment store is not healthy", Reported: true}
				}
				return nil
			}

			checks := make(blobChecks, 0, len(args))
			healthy := true
			for _, sha := range args {
				if _, err := store.Path(sha); err != nil {
					return classify("invalid digest", err)
				}
				status := "ok"
				switch {
				case !store.Exists(sha):
					status = "missing"
				case !store.Verify(sha):
					status = "mismatch"
				}
				healthy = healthy && status == "ok"
				checks = append(checks, blobCheck{SHA256: sha, Status: status})
			}
			if err := s.out.Success(checks); err != nil {
				return err
			}
			if !healthy {
				return &ExitError{Code: ExitFailure, ErrCode: ErrCodeFailed, Message: "verification failed", Reported: true}
			}
			return nil
		},
	}
}

// AttachmentSignOptions holds flags for attachment sign.
type AttachmentSignOptions struct {
	*RootOptions
	TTL      time.Duration
	Mime     string
	Filename string
	BaseURL  string
}

// signedView is the output of attachment sign.
type signedView struct {
	SHA256    string    `json:"sha256"`
	ExpiresAt time.Time `json:"expires_at"`
	URL       string    `json:"url"`
}

func (v signedView) WriteText(w io.Writer) error {
	_, err := fmt.Fprintln(w, v.URL)
	return err
}

func newAttachmentSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AttachmentSignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sign <sha256>",
		Short: "Print a time-limited signed URL for a stored blob",
		Long: `Print a time-limited signed URL for a stored blob.

The key is read from the environment variable named by signing_key_env
(default RUNLEDGER_SIGNING_KEY) and must be at least 32 bytes.

Example:
  runledger attachment sign 9f86d0...08 --ttl 5m --mime text/plain --base-url https://files.example/attachments`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			signer, err := s.signer()
			if err != nil {
				return err
			}
			store, err := s.attachmentStore()
			if err != nil {
				return err
			}
			if _, err := store.Path(args[0]); err != nil {
				return classify("invalid digest", err)
			}
			if !store.Exists(args[0]) {
				return &ExitError{Code: ExitNotFound, ErrCode: ErrCodeNotFound, Message: fmt.Sprintf("attachment %s not found", args[0])}
			}

			ttl := opts.TTL
			if ttl <= 0 {
				ttl = s.cfg.TTL()
			}
			ref, err := signer.Sign(args[0], ttl, opts.Mime, opts.Filename)
			if err != nil {
				return classify("failed to sign reference", err)
			}
			return s.out.Success(signedView{SHA256: ref.SHA256, ExpiresAt: ref.ExpiresAt(), URL: ref.URL(opts.BaseURL)})
		},
	}

	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "lifetime of the URL (default from config)")
	cmd.Flags().StringVar(&opts.Mime, "mime", "", "Content-Type to serve the blob with")
	cmd.Flags().StringVar(&opts.Filename, "filename", "", "download filename")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "/attachments", "URL the serve command is reachable at")

	return cmd
}

// AttachmentServeOptions holds flags for attachment serve.
type AttachmentServeOptions struct {
	*RootOptions
	Addr string
	Path string

	// Ready, when set, receives the bound address once the listener is up
	// (for testing).
	Ready func(addr string)
}

func newAttachmentServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AttachmentServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored blobs to holders of signed URLs",
		Long: `Serve stored blobs over HTTP to holders of URLs produced by
"attachment sign". Requests with a missing, forged or expired signature get
403; unknown blobs get 404. Stops on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&opts.Path, "path", "/attachments", "URL path to serve on")

	return cmd
}

func runServe(opts *AttachmentServeOptions, cmd *cobra.Command) error {
	s, err := newSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	signer, err := s.signer()
	if err != nil {
		return err
	}
	store, err := s.attachmentStore()
	if err != nil {
		return err
	}
	handler, err := signedurl.NewHandler(signer, store, s.logger)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build handler", err)
	}

	mux := http.NewServeMux()
	mux.Handle(opts.Path, handler)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to listen", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	addr := ln.Addr().String()
	s.logger.Info("serving attachments", "addr", addr, "path", opts.Path)
	if opts.Ready != nil {
		opts.Ready(addr)
	}

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "reason", context.Cause(ctx))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during shutdown", slog.Any("error", err))
		return WrapExitError(ExitFailure, "server shutdown", err)
	}
	return nil
}
