package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/runledger/internal/artifact"
	"github.com/roach88/runledger/internal/journal"
)

// MaxErrorSamples bounds Report.ErrorSamples.
const MaxErrorSamples = 20

// Repository is the subset of *runstore.Repository the engine uses.
type Repository interface {
	Put(ctx context.Context, a *artifact.RunArtifact) error
	Get(ctx context.Context, runID string) (*artifact.RunArtifact, bool, error)
	Count(ctx context.Context) (int, error)
}

// Journal records finished operations. *journal.Journal satisfies it.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
	Last(ctx context.Context, operation string) (journal.Entry, bool, error)
	List(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Options controls a Migrate run.
type Options struct {
	// DryRun converts and validates every record but writes nothing: no
	// backup, no artifacts, no journal entry.
	DryRun bool
	// SkipBackup skips the pre-migration snapshot of the legacy file.
	SkipBackup bool
}

// RecordError describes one record that could not be migrated.
type RecordError struct {
	Key   string `json:"key"`
	RunID string `json:"run_id,omitempty"`
	Error string `json:"error"`
}

// Report summarises a Migrate run.
type Report struct {
	Total        int           `json:"total"`
	Migrated     int           `json:"migrated"`
	Skipped      int           `json:"skipped"`
	Errors       int           `json:"errors"`
	ErrorSamples []RecordError `json:"error_samples"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	BackupPath   string        `json:"backup_path,omitempty"`
	DryRun       bool          `json:"dry_run"`
	Success      bool          `json:"success"`
}

// Engine runs migrations from one legacy file into one repository.
type Engine struct {
	legacyPath string
	backupDir  string
	repo       Repository
	journal    Journal
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithJournal records every live operation in j.
func WithJournal(j Journal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine returns an engine migrating legacyPath into repo, keeping
// backups in backupDir.
func NewEngine(legacyPath, backupDir string, repo Repository, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(legacyPath) == "" {
		return nil, fmt.Errorf("migration engine: legacy path is empty")
	}
	if strings.TrimSpace(backupDir) == "" {
		return nil, fmt.Errorf("migration engine: backup directory is empty")
	}
	if repo == nil {
		return nil, fmt.Errorf("migration engine: repository is nil")
	}
	e := &Engine{
		legacyPath: legacyPath,
		backupDir:  backupDir,
		repo:       repo,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Migrate converts every legacy record and stores it. Records already in
// the repository count as skipped. Per-record failures are counted and
// sampled; only failures that stop the whole run are returned as errors.
func (e *Engine) Migrate(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{
		ErrorSamples: []RecordError{},
		StartedAt:    e.now().UTC(),
		DryRun:       opts.DryRun,
	}

	if err := e.checkLegacy(); err != nil {
		return nil, err
	}

	if !opts.DryRun && !opts.SkipBackup {
		path, err := e.backup()
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		report.BackupPath = path
		e.logger.Info("legacy store backed up", "path", path)
	}

	records, err := loadLegacy(e.legacyPath)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	report.Total = len(records)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.migrateRecord(ctx, rec, opts.DryRun, report)
	}

	report.FinishedAt = e.now().UTC()
	report.Success = report.Errors == 0 && report.Migrated+report.Skipped == report.Total

	e.logger.Info("migration finished",
		"total", report.Total,
		"migrated", report.Migrated,
		"skipped", report.Skipped,
		"errors", report.Errors,
		"dry_run", report.DryRun,
	)

	if !opts.DryRun {
		e.record(ctx, journal.Entry{
			Operation:  journal.OpMigrate,
			StartedAt:  report.StartedAt,
			FinishedAt: report.FinishedAt,
			Success:    report.Success,
			BackupPath: report.BackupPath,
			Details: map[string]any{
				"total":    report.Total,
				"migrated": report.Migrated,
				"skipped":  report.Skipped,
				"errors":   report.Errors,
			},
		})
	}
	return report, nil
}

func (e *Engine) migrateRecord(ctx context.Context, rec legacyRecord, dryRun bool, report *Report) {
	fail := func(runID string, err error) {
		report.Errors++
		if len(report.ErrorSamples) < MaxErrorSamples {
			report.ErrorSamples = append(report.ErrorSamples, RecordError{Key: rec.Key, RunID: runID, Error: err.Error()})
		}
		e.logger.Warn("legacy record not migrated", "key", rec.Key, "run_id", runID, "error", err)
	}

	if rec.Fields == nil {
		fail("", &artifact.ValidationError{Message: "legacy record is not an object"})
		return
	}
	a, err := Convert(rec.idKey(), rec.Fields, report.StartedAt)
	if err != nil {
		fail("", err)
		return
	}

	if dryRun {
		_, found, err := e.repo.Get(ctx, a.RunID)
		switch {
		case err != nil:
			fail(a.RunID, err)
		case found:
			report.Skipped++
		default:
			report.Migrated++
		}
		return
	}

	err = e.repo.Put(ctx, a)
	switch {
	case err == nil:
		report.Migrated++
	case artifact.IsImmutabilityViolation(err):
		report.Skipped++
		e.logger.Debug("legacy record already migrated", "run_id", a.RunID)
	default:
		fail(a.RunID, err)
	}
}

// record journals e when a journal is wired. Journal failures are logged,
// not returned: the operation itself already happened.
func (e *Engine) record(ctx context.Context, entry journal.Entry) {
	if e.journal == nil {
		return
	}
	if _, err := e.journal.Record(ctx, entry); err != nil {
		e.logger.Error("journaling operation", "operation", entry.Operation, "error", err)
	}
}
