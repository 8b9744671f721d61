package dispatch

import (
	"context"
	"fmt"

	"courier/internal/storage"
	logx "courier/pkg/logx"
)

// Recorder is the single authority for "a delivery happened".
// Everything History returns went through Record exactly once.
type Recorder struct {
	store storage.Store
	log   logx.Logger
}

func NewRecorder(store storage.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Record persists one message and returns its id.
//
// With a non-empty idempotency key the insert is insert-if-absent: a
// second Record with the same key returns the first record's id without
// inserting a duplicate. Store failures are surfaced, never swallowed —
// losing a delivery record is a correctness violation.
func (r *Recorder) Record(ctx context.Context, m storage.Message, idempotencyKey string) (int64, error) {
	id, err := r.store.InsertMessage(ctx, m, idempotencyKey)
	if err != nil {
		return 0, fmt.Errorf("record delivery: %w", err)
	}
	r.log.Debug("delivery recorded",
		logx.Int64("message_id", id),
		logx.String("recipient", m.Recipient),
	)
	return id, nil
}
