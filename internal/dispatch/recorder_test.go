package dispatch

import (
	"context"
	"sync"
	"testing"

	"courier/internal/storage"
	logx "courier/pkg/logx"

	"github.com/stretchr/testify/require"
)

func TestRecordIdempotency(t *testing.T) {
	store := storage.NewMemory()
	rec := NewRecorder(store, logx.Nop())
	msg := storage.Message{Sender: "s@x.com", Recipient: "r@x.com", Subject: "once"}

	first, err := rec.Record(context.Background(), msg, "key-1")
	require.NoError(t, err)

	second, err := rec.Record(context.Background(), msg, "key-1")
	require.NoError(t, err)
	require.Equal(t, first, second, "same key must return the first record's id")

	n, err := store.CountMessages(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRecordDistinctKeys(t *testing.T) {
	store := storage.NewMemory()
	rec := NewRecorder(store, logx.Nop())
	msg := storage.Message{Recipient: "r@x.com", Subject: "twice"}

	a, err := rec.Record(context.Background(), msg, "key-a")
	require.NoError(t, err)
	b, err := rec.Record(context.Background(), msg, "key-b")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestRecordConcurrentSameKey(t *testing.T) {
	store := storage.NewMemory()
	rec := NewRecorder(store, logx.Nop())
	msg := storage.Message{Recipient: "r@x.com", Subject: "race"}

	const goroutines = 16
	ids := make([]int64, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := rec.Record(context.Background(), msg, "shared-key")
			require.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	n, err := store.CountMessages(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestComposeCopiesVerbatim(t *testing.T) {
	req := Request{ContactID: 7, Subject: "Subject Line", Body: "Body text"}
	contact := storage.Contact{ID: 7, Email: "kurt@example.com"}

	m := Compose(req, contact, "noreply@courier.local")
	require.Equal(t, "noreply@courier.local", m.Sender)
	require.Equal(t, "kurt@example.com", m.Recipient)
	require.Equal(t, "Subject Line", m.Subject)
	require.Equal(t, "Body text", m.Body)
	require.Zero(t, m.ID, "ids are assigned by the store, not the composer")
}
