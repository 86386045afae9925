package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/runledger/internal/journal"
	"github.com/roach88/runledger/internal/migrate"
)

// MigrateOptions holds flags shared by the migration commands.
type MigrateOptions struct {
	*RootOptions
	Legacy     string
	DryRun     bool
	SkipBackup bool
	Backup     string
	History    int
}

func addLegacyFlag(cmd *cobra.Command, opts *MigrateOptions) {
	cmd.Flags().StringVar(&opts.Legacy, "legacy", "", "legacy store file (overrides config)")
}

type migrateView struct{ *migrate.Report }

func (v migrateView) WriteText(w io.Writer) error {
	prefix := ""
	if v.DryRun {
		prefix = "[dry run] "
	}
	fmt.Fprintf(w, "%stotal %d, migrated %d, skipped %d, errors %d\n", prefix, v.Total, v.Migrated, v.Skipped, v.Errors)
	if v.BackupPath != "" {
		fmt.Fprintf(w, "backup: %s\n", v.BackupPath)
	}
	for _, e := range v.ErrorSamples {
		fmt.Fprintf(w, "  %s: %s\n", e.Key, e.Error)
	}
	if v.Errors > len(v.ErrorSamples) {
		fmt.Fprintf(w, "  ... %d more\n", v.Errors-len(v.ErrorSamples))
	}
	return nil
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Import a legacy single-file store into the repository",
		Long: `Convert every record of a legacy single-file store into a run artifact
and store it. The legacy file is backed up first unless --skip-backup is
given. Records already in the repository are skipped, so the command can be
re-run safely. Exits 1 when any record failed to convert or store.

Example:
  runledger migrate --legacy data/runs.json --dry-run
  runledger migrate --legacy data/runs.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			engine, closeEngine, err := s.migrationEngine(opts.Legacy)
			if err != nil {
				return err
			}
			defer closeEngine()

			report, err := engine.Migrate(cmd.Context(), migrate.Options{DryRun: opts.DryRun, SkipBackup: opts.SkipBackup})
			if err != nil {
				return classify("migration failed", err)
			}
			if err := s.out.Success(migrateView{report}); err != nil {
				return err
			}
			if !report.Success {
				return &ExitError{
					Code:     ExitFailure,
					ErrCode:  ErrCodeFailed,
					Message:  fmt.Sprintf("%d record(s) not migrated", report.Errors),
					Reported: true,
				}
			}
			return nil
		},
	}

	addLegacyFlag(cmd, opts)
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "convert and report without writing anything")
	cmd.Flags().BoolVar(&opts.SkipBackup, "skip-backup", false, "do not back up the legacy file first")

	return cmd
}

type verifyView struct{ *migrate.VerifyReport }

func (v verifyView) WriteText(w io.Writer) error {
	verdict := "PASS"
	if !v.Success {
		verdict = "FAIL"
	}
	fmt.Fprintf(w, "%s: legacy %d, repository %d, missing %d, mismatched %d, unconvertible %d\n",
		verdict, v.V1Count, v.V2Count, len(v.Missing), len(v.Mismatched), len(v.Unconvertible))
	for _, id := range v.Missing {
		fmt.Fprintf(w, "  missing    %s\n", id)
	}
	for _, m := range v.Mismatched {
		fmt.Fprintf(w, "  mismatch   %s %s: %q != %q\n", m.RunID, m.Field, m.Expected, m.Actual)
	}
	for _, u := range v.Unconvertible {
		fmt.Fprintf(w, "  unconvertible %s: %s\n", u.Key, u.Error)
	}
	return nil
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every legacy record made it into the repository",
		Long: `Re-read the legacy store and the repository and compare the critical
fields of every migrated record. Exits 1 on any missing or mismatched run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			engine, closeEngine, err := s.migrationEngine(opts.Legacy)
			if err != nil {
				return err
			}
			defer closeEngine()

			report, err := engine.Verify(cmd.Context())
			if err != nil {
				return classify("verification failed", err)
			}
			if err := s.out.Success(verifyView{report}); err != nil {
				return err
			}
			if !report.Success {
				return &ExitError{Code: ExitFailure, ErrCode: ErrCodeFailed, Message: "migration verification failed", Reported: true}
			}
			return nil
		},
	}

	addLegacyFlag(cmd, opts)
	return cmd
}

type rollbackView struct{ *migrate.RollbackReport }

func (v rollbackView) WriteText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Restored %s from %s\n", v.RestoredPath, v.BackupPath)
	return err
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore the legacy store from a backup",
		Long: `Restore the legacy store file from a backup taken by migrate, the most
recent one unless --backup names another. The repository is not modified:
migrated runs stay stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			engine, closeEngine, err := s.migrationEngine(opts.Legacy)
			if err != nil {
				return err
			}
			defer closeEngine()

			report, err := engine.Rollback(cmd.Context(), opts.Backup)
			if err != nil {
				return classify("rollback failed", err)
			}
			return s.out.Success(rollbackView{report})
		},
	}

	addLegacyFlag(cmd, opts)
	cmd.Flags().StringVar(&opts.Backup, "backup", "", "backup file to restore (default: most recent)")
	return cmd
}

type statusView struct{ *migrate.StatusReport }

func (v statusView) WriteText(w io.Writer) error {
	legacy := "absent"
	if v.LegacyPresent {
		legacy = fmt.Sprintf("%d record(s)", v.LegacyRecords)
	}
	fmt.Fprintf(w, "legacy:     %s (%s)\n", v.LegacyPath, legacy)
	fmt.Fprintf(w, "repository: %d artifact(s)\n", v.RepositoryCount)
	fmt.Fprintf(w, "backups:    %d\n", len(v.Backups))
	if op := v.LastOperation; op != nil {
		fmt.Fprintf(w, "last:       %s\n", describeEntry(*op))
	}
	if len(v.History) > 0 {
		fmt.Fprintln(w, "history:")
		for _, op := range v.History {
			fmt.Fprintf(w, "  %s\n", describeEntry(op))
		}
	}
	return nil
}

func describeEntry(op journal.Entry) string {
	outcome := "ok"
	if !op.Success {
		outcome = "failed"
	}
	if op.DryRun {
		outcome += ", dry run"
	}
	return fmt.Sprintf("%s at %s (%s)", op.Operation, op.FinishedAt.UTC().Format(time.RFC3339), outcome)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration state: legacy store, repository size, backups, last operation",
		Long: `Show migration state: the legacy store, repository size, backups and the
last journaled operation. --history N also lists the N most recent
operations, newest first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.History < 0 {
				return NewExitError(ExitValidation, fmt.Sprintf("invalid --history %d: want a non-negative count", opts.History))
			}
			s, err := newSession(opts.RootOptions, cmd)
			if err != nil {
				return err
			}
			engine, closeEngine, err := s.migrationEngine(opts.Legacy)
			if err != nil {
				return err
			}
			defer closeEngine()

			report, err := engine.Status(cmd.Context())
			if err != nil {
				return classify("status failed", err)
			}
			if opts.History > 0 {
				if report.History, err = engine.History(cmd.Context(), opts.History); err != nil {
					return classify("status failed", err)
				}
			}
			return s.out.Success(statusView{report})
		},
	}

	addLegacyFlag(cmd, opts)
	cmd.Flags().IntVar(&opts.History, "history", 0, "also list the N most recent journaled operations")
	return cmd
}
