package river

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/neomorfeo/orderdesk/internal/dispatch"
	"github.com/neomorfeo/orderdesk/internal/domain"
)

// Compile-time check: Submitter implements dispatch.Submitter.
var _ dispatch.Submitter = (*Submitter)(nil)

// TxRegistrar records accepted tasks inside the transaction that enqueues them.
type TxRegistrar interface {
	RegisterTx(ctx context.Context, tx *sql.Tx, h dispatch.Handle) error
}

// Submitter implements dispatch.Submitter by enqueuing River jobs.
type Submitter struct {
	client   *Client
	db       *sql.DB
	registry *dispatch.Registry
	store    TxRegistrar
	accepts  func(replyTo string) bool
	now      func() time.Time
}

// SubmitterOption configures a Submitter.
type SubmitterOption func(*Submitter)

// WithReplyChannels rejects submissions whose reply channel fails accepts.
// Without it every reply channel is accepted.
func WithReplyChannels(accepts func(replyTo string) bool) SubmitterOption {
	return func(s *Submitter) { s.accepts = accepts }
}

// NewSubmitter creates a submitter backed by the given River client. Each job
// is inserted in the same transaction on db that registers it in store, so a
// failed submission leaves neither behind.
func NewSubmitter(client *Client, db *sql.DB, registry *dispatch.Registry, store TxRegistrar, opts ...SubmitterOption) *Submitter {
	s := &Submitter{client: client, db: db, registry: registry, store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit enqueues op with a fresh correlation id. The job's attempt budget comes
// from the operation's retry policy.
func (s *Submitter) Submit(ctx context.Context, op dispatch.Operation, payload []byte, replyTo string) (dispatch.Handle, error) {
	desc, ok := s.registry.Lookup(op)
	if !ok {
		return dispatch.Handle{}, fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidRequest, op)
	}
	if s.accepts != nil && !s.accepts(replyTo) {
		return dispatch.Handle{}, fmt.Errorf("%w: unknown reply channel %q", domain.ErrInvalidRequest, replyTo)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return dispatch.Handle{}, fmt.Errorf("%w: payload is not valid JSON", domain.ErrInvalidRequest)
	}

	args := TaskArgs{
		CorrelationID: uuid.NewString(),
		Operation:     string(op),
		Payload:       payload,
		ReplyTo:       replyTo,
		SubmittedAt:   s.now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dispatch.Handle{}, fmt.Errorf("beginning submit: %w: %w", domain.ErrStorageUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := s.client.InsertTx(ctx, tx, args, &river.InsertOpts{
		MaxAttempts: desc.Retry.MaxAttempts(),
	})
	if err != nil {
		return dispatch.Handle{}, fmt.Errorf("enqueuing task: %w", err)
	}

	h := dispatch.Handle{
		JobID:         res.Job.ID,
		CorrelationID: args.CorrelationID,
		Operation:     op,
		SubmittedAt:   args.SubmittedAt,
	}
	if err := s.store.RegisterTx(ctx, tx, h); err != nil {
		return dispatch.Handle{}, fmt.Errorf("registering task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return dispatch.Handle{}, fmt.Errorf("committing submit: %w: %w", domain.ErrStorageUnavailable, err)
	}
	return h, nil
}
