package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/neomorfeo/orderdesk/internal/dispatch"
)

// Compile-time check: ResultStore implements dispatch.ResultStore.
var _ dispatch.ResultStore = (*ResultStore)(nil)

// ResultStore keeps submitted tasks and their terminal envelopes in the
// task_results table, so clients can poll for outcomes by correlation id.
type ResultStore struct {
	db *sql.DB
}

// NewResultStore creates a store on a database already migrated by New or NewFromDB.
func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db}
}

// Register records an accepted task. It may run after a fast worker already
// delivered the envelope, so a conflict only fills in the submission fields.
func (s *ResultStore) Register(ctx context.Context, h dispatch.Handle) error {
	return register(ctx, s.db, h)
}

// RegisterTx records an accepted task inside tx, so the registration commits
// or rolls back together with the job insert.
func (s *ResultStore) RegisterTx(ctx context.Context, tx *sql.Tx, h dispatch.Handle) error {
	return register(ctx, tx, h)
}

func register(ctx context.Context, q querier, h dispatch.Handle) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO task_results (correlation_id, job_id, operation, submitted_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (correlation_id) DO UPDATE SET
		     job_id = excluded.job_id,
		     submitted_at = excluded.submitted_at`,
		h.CorrelationID, h.JobID, string(h.Operation), formatTime(h.SubmittedAt),
	)
	if err != nil {
		return unavailable("registering task", err)
	}
	return nil
}

// Deliver stores a terminal envelope. The first envelope stored for a task wins,
// so a redelivered task never replaces the outcome clients may already have read.
func (s *ResultStore) Deliver(ctx context.Context, env dispatch.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO task_results (correlation_id, operation, submitted_at, envelope, completed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (correlation_id) DO UPDATE SET
		     envelope = excluded.envelope,
		     completed_at = excluded.completed_at
		 WHERE task_results.envelope IS NULL`,
		env.CorrelationID, string(env.Operation), formatTime(env.CompletedAt),
		string(raw), formatTime(env.CompletedAt),
	)
	if err != nil {
		return unavailable("storing envelope", err)
	}
	return nil
}

// Lookup returns what is known about a task. It returns dispatch.ErrTaskNotFound
// for an id that was never registered or delivered.
func (s *ResultStore) Lookup(ctx context.Context, correlationID string) (dispatch.TaskRecord, error) {
	var (
		rec       dispatch.TaskRecord
		operation string
		submitted string
		envelope  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT correlation_id, job_id, operation, submitted_at, envelope
		 FROM task_results WHERE correlation_id = ?`, correlationID,
	).Scan(&rec.CorrelationID, &rec.JobID, &operation, &submitted, &envelope)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.TaskRecord{}, dispatch.ErrTaskNotFound
	}
	if err != nil {
		return dispatch.TaskRecord{}, unavailable("looking up task", err)
	}

	rec.Operation = dispatch.Operation(operation)
	if rec.SubmittedAt, err = parseTime(submitted); err != nil {
		return dispatch.TaskRecord{}, err
	}

	if envelope.Valid {
		var env dispatch.Envelope
		if err := json.Unmarshal([]byte(envelope.String), &env); err != nil {
			return dispatch.TaskRecord{}, fmt.Errorf("decoding stored envelope: %w", err)
		}
		rec.Envelope = &env
	}
	return rec, nil
}
