package dispatch

import (
	"context"
	"errors"
	"testing"

	"courier/internal/eventbus"
	"courier/internal/storage"
	logx "courier/pkg/logx"

	"github.com/stretchr/testify/require"
)

type mapResolver map[int64]storage.Contact

func (m mapResolver) ResolveContact(_ context.Context, id int64) (storage.Contact, bool, error) {
	c, ok := m[id]
	return c, ok, nil
}

type fakeTransport struct {
	inline bool
	err    error

	delivered []storage.Message
	keys      []string
}

func (f *fakeTransport) Deliver(_ context.Context, m storage.Message, key string) error {
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, m)
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeTransport) Inline() bool { return f.inline }
func (f *fakeTransport) Name() string { return "fake" }

func newTestDispatcher(t *testing.T, tr Transport) (*Dispatcher, storage.Store) {
	t.Helper()
	store := storage.NewMemory()
	resolver := mapResolver{
		1: {ID: 1, Name: "Kurt Cobain", Email: "kurt@example.com", Age: 27},
		2: {ID: 2, Name: "Jimi Hendrix", Email: "jimi@example.com", Age: 27},
	}
	rec := NewRecorder(store, logx.Nop())
	return NewDispatcher(resolver, tr, rec, "noreply@courier.local", eventbus.New(), logx.Nop()), store
}

func TestDispatchRecordsInlineDelivery(t *testing.T) {
	tr := &fakeTransport{inline: true}
	d, store := newTestDispatcher(t, tr)

	receipt, err := d.Dispatch(context.Background(), Request{ContactID: 1, Subject: "Hi", Body: "body"})
	require.NoError(t, err)
	require.Equal(t, "kurt@example.com", receipt.Email)

	msgs, err := store.Messages(context.Background(), storage.MessageFilter{Take: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "kurt@example.com", msgs[0].Recipient)
	require.Equal(t, "noreply@courier.local", msgs[0].Sender)
	require.Equal(t, "Hi", msgs[0].Subject)
	require.Equal(t, "body", msgs[0].Body)

	require.Len(t, tr.delivered, 1)
}

func TestDispatchUnknownContact(t *testing.T) {
	tr := &fakeTransport{inline: true}
	d, store := newTestDispatcher(t, tr)

	before, err := store.CountMessages(context.Background())
	require.NoError(t, err)

	_, err = d.Dispatch(context.Background(), Request{ContactID: -1, Subject: "Hi"})
	require.ErrorIs(t, err, ErrContactNotFound)

	after, err := store.CountMessages(context.Background())
	require.NoError(t, err)
	require.Equal(t, before, after, "a failed resolve must not record anything")
	require.Empty(t, tr.delivered)
}

func TestDispatchTransportFailureRecordsNothing(t *testing.T) {
	tr := &fakeTransport{inline: true, err: errors.New("connection refused")}
	d, store := newTestDispatcher(t, tr)

	_, err := d.Dispatch(context.Background(), Request{ContactID: 1, Subject: "Hi"})
	require.Error(t, err)
	require.True(t, IsTransport(err))

	n, err := store.CountMessages(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDispatchQueuedDerivesIdempotencyKey(t *testing.T) {
	tr := &fakeTransport{inline: false}
	d, store := newTestDispatcher(t, tr)

	_, err := d.Dispatch(context.Background(), Request{ContactID: 2, Subject: "Hi"})
	require.NoError(t, err)

	require.Len(t, tr.keys, 1)
	require.NotEmpty(t, tr.keys[0], "queued path must always carry an idempotency key")

	// Nothing recorded yet: on the queued transport the consumer records.
	n, err := store.CountMessages(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDispatchKeepsClientIdempotencyKey(t *testing.T) {
	tr := &fakeTransport{inline: false}
	d, _ := newTestDispatcher(t, tr)

	_, err := d.Dispatch(context.Background(), Request{ContactID: 1, Subject: "Hi", IdempotencyKey: "client-key-1"})
	require.NoError(t, err)
	require.Equal(t, []string{"client-key-1"}, tr.keys)
}
