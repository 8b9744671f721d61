package dispatch

import (
	"context"

	"courier/internal/storage"
)

// Request asks for one notification to be delivered to a known contact.
// Subject is assumed non-empty; the HTTP boundary rejects blank subjects
// before a Request is ever built.
type Request struct {
	ContactID int64
	Subject   string
	Body      string

	// IdempotencyKey suppresses duplicate records when a request is
	// retried or redelivered. Optional on the inline path; on the queued
	// path the Dispatcher derives one when the caller supplied none.
	IdempotencyKey string
}

// Receipt echoes the address a dispatch targeted. On the queued transport
// it confirms enqueue, not completed delivery.
type Receipt struct {
	Email string
}

// Resolver looks up a contact in the recipient registry.
// Absence is reported via ok=false, not an error.
type Resolver interface {
	ResolveContact(ctx context.Context, id int64) (storage.Contact, bool, error)
}

// Transport moves a composed message out of this process.
// A nil return means the message left the transport's responsibility
// (relay accepted it, or the enqueue committed); it is not an
// end-recipient delivery guarantee.
type Transport interface {
	Deliver(ctx context.Context, m storage.Message, idempotencyKey string) error
	// Inline reports whether Deliver completed the send itself. When
	// true the Dispatcher records the message after Deliver returns;
	// when false the queue consumer records it later.
	Inline() bool
	Name() string
}
