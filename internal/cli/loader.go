package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runledger/internal/attachments"
	"github.com/roach88/runledger/internal/config"
	"github.com/roach88/runledger/internal/journal"
	"github.com/roach88/runledger/internal/migrate"
	"github.com/roach88/runledger/internal/runstore"
	"github.com/roach88/runledger/internal/signedurl"
)

// session carries what every command needs: resolved configuration, a
// logger and an output formatter. Stores are opened lazily so commands
// only create the directories they use.
type session struct {
	opts   *RootOptions
	cfg    *config.Config
	logger *slog.Logger
	out    *OutputFormatter
}

// newSession resolves configuration with precedence flags > environment >
// config file > defaults, and configures logging on the command's stderr.
func newSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, &ExitError{Code: ExitValidation, ErrCode: ErrCodeConfig, Message: "failed to load config", Err: err}
		}
		cfg = loaded
	}
	cfg.ApplyEnv(opts.lookupEnv())
	if opts.ArtifactsRoot != "" {
		cfg.ArtifactsRoot = opts.ArtifactsRoot
	}
	if opts.AttachmentsRoot != "" {
		cfg.AttachmentsRoot = opts.AttachmentsRoot
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ExitError{Code: ExitValidation, ErrCode: ErrCodeConfig, Message: "invalid configuration", Err: err}
	}

	return &session{
		opts:   opts,
		cfg:    cfg,
		logger: logger,
		out: &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
			Verbose:   opts.Verbose,
		},
	}, nil
}

func (o *RootOptions) lookupEnv() func(string) (string, bool) {
	if o.LookupEnv != nil {
		return o.LookupEnv
	}
	return os.LookupEnv
}

func (o *RootOptions) now() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

func (s *session) repository() (*runstore.Repository, error) {
	s.out.VerboseLog("Artifacts root: %s", s.cfg.ArtifactsRoot)
	repo, err := runstore.Open(s.cfg.ArtifactsRoot,
		runstore.WithLogger(s.logger),
		runstore.WithClock(s.opts.now()),
	)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open artifact repository", err)
	}
	return repo, nil
}

func (s *session) attachmentStore() (*attachments.Store, error) {
	s.out.VerboseLog("Attachments root: %s", s.cfg.AttachmentsRoot)
	store, err := attachments.Open(s.cfg.AttachmentsRoot,
		attachments.WithLogger(s.logger),
		attachments.WithClock(s.opts.now()),
	)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to open attachment store", err)
	}
	return store, nil
}

func (s *session) signer() (*signedurl.Signer, error) {
	key, err := s.cfg.SigningKey(s.opts.lookupEnv())
	if err != nil {
		return nil, &ExitError{Code: ExitValidation, ErrCode: ErrCodeConfig, Message: "signing unavailable", Err: err}
	}
	signer, err := signedurl.NewSigner(key, signedurl.WithClock(s.opts.now()))
	if err != nil {
		return nil, classify("signing unavailable", err)
	}
	return signer, nil
}

// migrationEngine wires the repository, journal and legacy paths into a
// migration engine. legacy overrides the configured legacy path when set.
// The returned close func releases the journal.
func (s *session) migrationEngine(legacy string) (*migrate.Engine, func(), error) {
	if legacy != "" {
		s.cfg.LegacyPath = legacy
	}
	if s.cfg.LegacyPath == "" {
		return nil, nil, &ExitError{
			Code:    ExitValidation,
			ErrCode: ErrCodeConfig,
			Message: fmt.Sprintf("legacy store path not set: use --legacy, legacy_path or %s", config.EnvLegacyPath),
		}
	}

	repo, err := s.repository()
	if err != nil {
		return nil, nil, err
	}

	journalPath := s.cfg.JournalPathOrDefault()
	s.out.VerboseLog("Journal: %s", journalPath)
	j, err := journal.Open(journalPath)
	if err != nil {
		return nil, nil, WrapExitError(ExitFailure, "failed to open migration journal", err)
	}
	closeJournal := func() {
		if closeErr := j.Close(); closeErr != nil {
			s.logger.Error("error closing journal", "error", closeErr)
		}
	}

	engine, err := migrate.NewEngine(s.cfg.LegacyPath, s.cfg.BackupDirOrDefault(), repo,
		migrate.WithJournal(j),
		migrate.WithLogger(s.logger),
		migrate.WithClock(s.opts.now()),
	)
	if err != nil {
		closeJournal()
		return nil, nil, WrapExitError(ExitValidation, "failed to configure migration", err)
	}
	return engine, closeJournal, nil
}
