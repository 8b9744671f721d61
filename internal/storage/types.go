package storage

import (
	"context"
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": volatile in-process store (tests / throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Contact is a recipient registry record.
type Contact struct {
	ID        int64
	Name      string
	Email     string
	Age       int
	CreatedAt time.Time
}

// Message records one delivery. Immutable once inserted.
type Message struct {
	ID             int64
	Sender         string
	Recipient      string
	Subject        string
	Body           string
	IdempotencyKey string
	CreatedAt      time.Time
}

// MessageFilter narrows and pages a message read.
// Recipient is exact, case-sensitive match when non-empty.
// The store applies Skip/Take literally; defaulting and clamping belong
// to the callers.
type MessageFilter struct {
	Recipient string
	Skip      int
	Take      int
}

// QueueEntry is one pending queued delivery.
// Attempts counts leases handed out so far (incremented on lease).
type QueueEntry struct {
	ID         int64
	Payload    []byte
	Attempts   int
	NotBefore  time.Time
	EnqueuedAt time.Time
}

// Store is the persistence API used by the dispatch core, the registry
// and the queue consumer.
type Store interface {
	// InsertMessage appends a message and returns its new id.
	// When idempotencyKey is non-empty and a message with that key already
	// exists, the existing id is returned and nothing is inserted. The
	// check-then-insert is atomic under concurrent identical keys.
	InsertMessage(ctx context.Context, m Message, idempotencyKey string) (int64, error)
	MessageByID(ctx context.Context, id int64) (Message, bool, error)
	// Messages returns messages ordered by id descending.
	Messages(ctx context.Context, f MessageFilter) ([]Message, error)
	CountMessages(ctx context.Context) (int64, error)

	CreateContact(ctx context.Context, c Contact) (int64, error)
	// ContactByID reports ok=false for an unknown id; absence is not an error.
	ContactByID(ctx context.Context, id int64) (Contact, bool, error)
	Contacts(ctx context.Context, age *int) ([]Contact, error)
	DeleteContact(ctx context.Context, id int64) error

	// EnqueueDelivery durably appends a queue entry. The returned id is
	// the enqueue acknowledgment: once it returns, the entry survives a
	// process restart.
	EnqueueDelivery(ctx context.Context, payload []byte) (int64, error)
	// LeaseDeliveries hands out up to limit ready entries and marks them
	// leased for the given duration. A leased entry is redelivered after
	// the lease expires, so consumers must be idempotent.
	LeaseDeliveries(ctx context.Context, limit int, lease time.Duration) ([]QueueEntry, error)
	CompleteDelivery(ctx context.Context, id int64) error
	// ReleaseDelivery returns a leased entry to the queue, not eligible
	// again before retryIn elapses.
	ReleaseDelivery(ctx context.Context, id int64, retryIn time.Duration) error
	MarkDeliveryDead(ctx context.Context, id int64) error

	ReclaimExpiredLeases(ctx context.Context) (int64, error)
	PruneDeadDeliveries(ctx context.Context, olderThan time.Duration) (int64, error)

	// Reset clears all collections. Administrative only; nothing in the
	// dispatch core calls it.
	Reset(ctx context.Context) error

	Close() error
}
