package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/runledger/internal/hashing"
)

// Operation names.
const (
	OpMigrate  = "migrate"
	OpVerify   = "verify"
	OpRollback = "rollback"
)

// Entry is one journaled operation.
type Entry struct {
	Seq        int64          `json:"seq"`
	ID         string         `json:"id"`
	Operation  string         `json:"operation"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Success    bool           `json:"success"`
	DryRun     bool           `json:"dry_run"`
	BackupPath string         `json:"backup_path,omitempty"`
	Error      string         `json:"error,omitempty"`
	Details    map[string]any `json:"details"`
}

// Record appends e and returns it with Seq and ID filled in. An entry with
// an ID that is already journaled is ignored and the stored row returned,
// so retrying a Record is safe.
func (j *Journal) Record(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.Operation) == "" {
		return Entry{}, fmt.Errorf("record: operation is required")
	}
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Entry{}, fmt.Errorf("record: generating id: %w", err)
		}
		e.ID = id.String()
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	details, err := marshalDetails(e.Details)
	if err != nil {
		return Entry{}, fmt.Errorf("record: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO operations
		(id, operation, started_at, finished_at, success, dry_run, backup_path, error, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.Operation,
		formatTime(e.StartedAt),
		formatTime(e.FinishedAt),
		boolToInt(e.Success),
		boolToInt(e.DryRun),
		e.BackupPath,
		e.Error,
		details,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("record: %w", err)
	}

	return j.read(ctx, e.ID)
}

// Last returns the most recent entry for operation, or for any operation
// when operation is empty.
func (j *Journal) Last(ctx context.Context, operation string) (Entry, bool, error) {
	query := `
		SELECT seq, id, operation, started_at, finished_at, success, dry_run, backup_path, error, details
		FROM operations`
	var args []any
	if operation != "" {
		query += ` WHERE operation = ?`
		args = append(args, operation)
	}
	query += ` ORDER BY seq DESC LIMIT 1`

	e, err := scanEntry(j.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("last entry: %w", err)
	}
	return e, true, nil
}

// List returns up to limit entries, newest first. A non-positive limit
// returns every entry.
func (j *Journal) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT seq, id, operation, started_at, finished_at, success, dry_run, backup_path, error, details
		FROM operations
		ORDER BY seq DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (j *Journal) read(ctx context.Context, id string) (Entry, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT seq, id, operation, started_at, finished_at, success, dry_run, backup_path, error, details
		FROM operations
		WHERE id = ?
	`, id)
	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, fmt.Errorf("read entry %s: %w", id, err)
	}
	return e, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                 Entry
		started, finished string
		success, dryRun   int
		details           string
	)
	if err := s.Scan(&e.Seq, &e.ID, &e.Operation, &started, &finished, &success, &dryRun, &e.BackupPath, &e.Error, &details); err != nil {
		return Entry{}, err
	}

	var err error
	if e.StartedAt, err = parseTime(started); err != nil {
		return Entry{}, fmt.Errorf("entry %s started_at: %w", e.ID, err)
	}
	if e.FinishedAt, err = parseTime(finished); err != nil {
		return Entry{}, fmt.Errorf("entry %s finished_at: %w", e.ID, err)
	}
	e.Success = success != 0
	e.DryRun = dryRun != 0

	dec := json.NewDecoder(strings.NewReader(details))
	dec.UseNumber()
	if err := dec.Decode(&e.Details); err != nil {
		return Entry{}, fmt.Errorf("entry %s details: %w", e.ID, err)
	}
	return e, nil
}

// marshalDetails stores details as canonical JSON so identical reports
// produce identical rows.
func marshalDetails(details map[string]any) (string, error) {
	if len(details) == 0 {
		return "{}", nil
	}
	data, err := hashing.MarshalCanonical(details)
	if err != nil {
		return "", fmt.Errorf("marshal details: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
