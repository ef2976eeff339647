package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
	"github.com/matijagrcic/sane-shopify/pkg/telemetry"
)

// ErrRunNotFound is returned by GetRun for unknown ids.
var ErrRunNotFound = errors.New("run not found")

// RecordRun inserts or replaces the history entry for summary.RunID.
func (s *SQLiteStore) RecordRun(ctx context.Context, summary *engine.RunSummary) error {
	if summary.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := summary.Status.Validate(); err != nil {
		return err
	}

	archived, err := json.Marshal(nonNil(summary.Archived))
	if err != nil {
		return fmt.Errorf("failed to encode archived ids: %w", err)
	}
	unresolved, err := json.Marshal(nonNil(summary.Unresolved))
	if err != nil {
		return fmt.Errorf("failed to encode unresolved ids: %w", err)
	}

	var finishedAt *string
	if !summary.FinishedAt.IsZero() {
		f := formatTime(summary.FinishedAt)
		finishedAt = &f
	}

	query := `
		INSERT INTO runs (
			id, operation, status, started_at, finished_at,
			fetched, created, updated, skipped, linked, archived, unresolved, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			finished_at = excluded.finished_at,
			fetched = excluded.fetched,
			created = excluded.created,
			updated = excluded.updated,
			skipped = excluded.skipped,
			linked = excluded.linked,
			archived = excluded.archived,
			unresolved = excluded.unresolved,
			error = excluded.error
	`

	_, err = s.db.ExecContext(ctx, query,
		summary.RunID,
		summary.Operation,
		string(summary.Status),
		formatTime(summary.StartedAt),
		finishedAt,
		summary.Fetched,
		summary.Created,
		summary.Updated,
		summary.Skipped,
		summary.Linked,
		string(archived),
		string(unresolved),
		summary.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

const runColumns = `id, operation, status, started_at, finished_at,
	fetched, created, updated, skipped, linked, archived, unresolved, error`

// GetRun retrieves a run summary by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*engine.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns lists runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]engine.RunSummary, error) {
	var where []string
	var args []any
	if filter.Operation != "" {
		where = append(where, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC LIMIT ? OFFSET ?"
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []engine.RunSummary{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*engine.RunSummary, error) {
	var (
		run                  engine.RunSummary
		status, started      string
		finished             sql.NullString
		archived, unresolved string
	)
	err := row.Scan(
		&run.RunID,
		&run.Operation,
		&status,
		&started,
		&finished,
		&run.Fetched,
		&run.Created,
		&run.Updated,
		&run.Skipped,
		&run.Linked,
		&archived,
		&unresolved,
		&run.Error,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = engine.RunStatus(status)
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("run %s: invalid started_at: %w", run.RunID, err)
	}
	if finished.Valid {
		if run.FinishedAt, err = parseTime(finished.String); err != nil {
			return nil, fmt.Errorf("run %s: invalid finished_at: %w", run.RunID, err)
		}
	}
	if err := json.Unmarshal([]byte(archived), &run.Archived); err != nil {
		return nil, fmt.Errorf("run %s: invalid archived ids: %w", run.RunID, err)
	}
	if err := json.Unmarshal([]byte(unresolved), &run.Unresolved); err != nil {
		return nil, fmt.Errorf("run %s: invalid unresolved ids: %w", run.RunID, err)
	}
	if len(run.Archived) == 0 {
		run.Archived = nil
	}
	if len(run.Unresolved) == 0 {
		run.Unresolved = nil
	}
	return &run, nil
}

// AppendEvent appends an event to the log. Events without an id get one.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *telemetry.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}

	query := `
		INSERT INTO events (id, run_id, type, source, external_id, phase, level, message, data, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		event.Type,
		event.Source,
		event.ExternalID,
		event.Phase,
		event.Level,
		event.Message,
		string(data),
		formatTime(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns events in the order they were appended.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter EventFilter) ([]telemetry.Event, error) {
	query := `
		SELECT id, run_id, type, source, external_id, phase, level, message, data, timestamp
		FROM events
		WHERE (? = '' OR run_id = ?)
		  AND (? = '' OR external_id = ?)
		  AND (? = '' OR level = ?)
		ORDER BY seq
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query,
		filter.RunID, filter.RunID,
		filter.ExternalID, filter.ExternalID,
		filter.Level, filter.Level,
		limitOrDefault(filter.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []telemetry.Event{}
	for rows.Next() {
		var ev telemetry.Event
		var data, ts string
		err := rows.Scan(
			&ev.ID,
			&ev.RunID,
			&ev.Type,
			&ev.Source,
			&ev.ExternalID,
			&ev.Phase,
			&ev.Level,
			&ev.Message,
			&data,
			&ts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &ev.Data); err != nil {
			return nil, fmt.Errorf("event %s: invalid data: %w", ev.ID, err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("event %s: invalid timestamp: %w", ev.ID, err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// EventSink returns a subscriber that persists every delivered event.
// Write failures are passed to onError when it is set.
func (s *SQLiteStore) EventSink(ctx context.Context, onError func(error)) telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		if err := s.AppendEvent(ctx, &event); err != nil && onError != nil {
			onError(err)
		}
	}
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
