package dispatch

import (
	"context"
	"fmt"
	"testing"

	"courier/internal/storage"
	logx "courier/pkg/logx"

	"github.com/stretchr/testify/require"
)

func seedMessages(t *testing.T, store storage.Store, msgs ...storage.Message) []int64 {
	t.Helper()
	rec := NewRecorder(store, logx.Nop())
	ids := make([]int64, 0, len(msgs))
	for _, m := range msgs {
		id, err := rec.Record(context.Background(), m, "")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestHistoryNewestFirst(t *testing.T) {
	store := storage.NewMemory()
	ids := seedMessages(t, store,
		storage.Message{Recipient: "a@x.com", Subject: "M1"},
		storage.Message{Recipient: "a@x.com", Subject: "M2"},
		storage.Message{Recipient: "a@x.com", Subject: "M3"},
	)

	got, err := NewHistory(store).Find(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, []string{"M3", "M2", "M1"}, []string{got[0].Subject, got[1].Subject, got[2].Subject})
	require.Equal(t, ids[2], got[0].ID, "order is by id descending")
}

func TestHistoryRecipientFilter(t *testing.T) {
	store := storage.NewMemory()
	seedMessages(t, store,
		storage.Message{Recipient: "a@x.com", Subject: "to-a-1"},
		storage.Message{Recipient: "b@x.com", Subject: "to-b-1"},
		storage.Message{Recipient: "a@x.com", Subject: "to-a-2"},
	)

	got, err := NewHistory(store).Find(context.Background(), Filter{Recipient: "a@x.com"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		require.Equal(t, "a@x.com", m.Recipient)
	}
	require.Greater(t, got[0].ID, got[1].ID)

	// Exact match only: no case normalization.
	got, err = NewHistory(store).Find(context.Background(), Filter{Recipient: "A@x.com"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestHistoryPagination(t *testing.T) {
	store := storage.NewMemory()
	msgs := make([]storage.Message, 15)
	for i := range msgs {
		msgs[i] = storage.Message{Recipient: "a@x.com", Subject: fmt.Sprintf("m-%02d", i+1)}
	}
	seedMessages(t, store, msgs...)

	got, err := NewHistory(store).Find(context.Background(), Filter{Skip: 10, Take: 10})
	require.NoError(t, err)
	require.Len(t, got, 5, "skipping 10 of 15 leaves the 5 oldest")
	require.Equal(t, "m-05", got[0].Subject)
	require.Equal(t, "m-01", got[4].Subject)
}

func TestHistoryDefaultTake(t *testing.T) {
	store := storage.NewMemory()
	msgs := make([]storage.Message, 12)
	for i := range msgs {
		msgs[i] = storage.Message{Recipient: "a@x.com", Subject: fmt.Sprintf("m-%02d", i+1)}
	}
	seedMessages(t, store, msgs...)

	got, err := NewHistory(store).Find(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, DefaultTake)
}
