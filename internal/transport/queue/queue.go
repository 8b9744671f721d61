// Package queue is the decoupled delivery transport: Deliver durably
// enqueues the message and acks as soon as the enqueue commits. A
// consumer pool performs the actual send later.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"courier/internal/dispatch"
	"courier/internal/storage"
	logx "courier/pkg/logx"
)

// Envelope is the queue wire payload. It carries everything the consumer
// needs to re-derive the full message without another registry lookup:
// the recipient address is the one resolved at dispatch time.
type Envelope struct {
	Sender         string    `json:"sender"`
	Recipient      string    `json:"recipient"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body,omitempty"`
	IdempotencyKey string    `json:"idempotency_key"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// Message rebuilds the deliverable message from the payload alone.
func (e Envelope) Message() storage.Message {
	return storage.Message{
		Sender:    e.Sender,
		Recipient: e.Recipient,
		Subject:   e.Subject,
		Body:      e.Body,
	}
}

func DecodeEnvelope(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// Transport enqueues deliveries into the durable queue.
type Transport struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Transport {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Transport{store: store, log: log}
}

func (t *Transport) Inline() bool { return false }
func (t *Transport) Name() string { return "queue" }

// Deliver commits the envelope to the queue. Success means the entry
// survives a restart; it says nothing about the eventual send. The
// enqueue is atomic per call — there is no partial-enqueue state.
func (t *Transport) Deliver(ctx context.Context, m storage.Message, idempotencyKey string) error {
	env := Envelope{
		Sender:         m.Sender,
		Recipient:      m.Recipient,
		Subject:        m.Subject,
		Body:           m.Body,
		IdempotencyKey: idempotencyKey,
		EnqueuedAt:     time.Now().UTC(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return &dispatch.TransportError{Transport: t.Name(), Err: err}
	}
	id, err := t.store.EnqueueDelivery(ctx, payload)
	if err != nil {
		return &dispatch.TransportError{Transport: t.Name(), Err: err}
	}
	t.log.Debug("delivery enqueued",
		logx.Int64("queue_id", id),
		logx.String("recipient", m.Recipient),
	)
	return nil
}
