package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	logx "courier/pkg/logx"

	"github.com/stretchr/testify/require"
)

// Both drivers must honor the same contracts, so every test runs against
// both.
func forEachDriver(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	drivers := []struct {
		name string
		open func(t *testing.T) Store
	}{
		{"memory", func(t *testing.T) Store { return NewMemory() }},
		{"sqlite", func(t *testing.T) Store {
			s, err := Open(Config{
				Driver:      "sqlite",
				Path:        filepath.Join(t.TempDir(), "courier.db"),
				BusyTimeout: time.Second,
			}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
	for _, d := range drivers {
		t.Run(d.name, func(t *testing.T) {
			fn(t, d.open(t))
		})
	}
}

func TestInsertMessageAssignsMonotonicIDs(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var prev int64
		for i := 0; i < 5; i++ {
			id, err := s.InsertMessage(ctx, Message{Recipient: "a@x.com", Subject: fmt.Sprintf("m%d", i)}, "")
			require.NoError(t, err)
			require.Greater(t, id, prev)
			prev = id
		}
	})
}

func TestInsertMessageIdempotencyKey(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		m := Message{Recipient: "a@x.com", Subject: "hello"}

		first, err := s.InsertMessage(ctx, m, "dup-key")
		require.NoError(t, err)
		second, err := s.InsertMessage(ctx, m, "dup-key")
		require.NoError(t, err)
		require.Equal(t, first, second)

		n, err := s.CountMessages(ctx)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)

		// Empty keys never collide with each other.
		a, err := s.InsertMessage(ctx, m, "")
		require.NoError(t, err)
		b, err := s.InsertMessage(ctx, m, "")
		require.NoError(t, err)
		require.NotEqual(t, a, b)
	})
}

func TestMessageByID(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id, err := s.InsertMessage(ctx, Message{Sender: "s@x.com", Recipient: "a@x.com", Subject: "find me", Body: "b"}, "")
		require.NoError(t, err)

		m, ok, err := s.MessageByID(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "find me", m.Subject)
		require.Equal(t, "s@x.com", m.Sender)
		require.False(t, m.CreatedAt.IsZero())

		_, ok, err = s.MessageByID(ctx, id+100)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestMessagesOrderFilterPage(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 1; i <= 6; i++ {
			to := "a@x.com"
			if i%2 == 0 {
				to = "b@x.com"
			}
			_, err := s.InsertMessage(ctx, Message{Recipient: to, Subject: fmt.Sprintf("m%d", i)}, "")
			require.NoError(t, err)
		}

		all, err := s.Messages(ctx, MessageFilter{Take: 10})
		require.NoError(t, err)
		require.Len(t, all, 6)
		for i := 1; i < len(all); i++ {
			require.Greater(t, all[i-1].ID, all[i].ID, "id descending")
		}

		onlyA, err := s.Messages(ctx, MessageFilter{Recipient: "a@x.com", Take: 10})
		require.NoError(t, err)
		require.Len(t, onlyA, 3)
		for _, m := range onlyA {
			require.Equal(t, "a@x.com", m.Recipient)
		}

		page, err := s.Messages(ctx, MessageFilter{Skip: 4, Take: 10})
		require.NoError(t, err)
		require.Len(t, page, 2)
		require.Equal(t, "m2", page[0].Subject)
		require.Equal(t, "m1", page[1].Subject)
	})
}

func TestMessagesNegativeSkipTake(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 1; i <= 3; i++ {
			_, err := s.InsertMessage(ctx, Message{Recipient: "a@x.com", Subject: fmt.Sprintf("m%d", i)}, "")
			require.NoError(t, err)
		}

		// The store applies skip/take literally, so both drivers must
		// agree on out-of-range inputs: negative skip reads as 0,
		// negative take as unlimited.
		got, err := s.Messages(ctx, MessageFilter{Skip: -1, Take: 10})
		require.NoError(t, err)
		require.Len(t, got, 3)

		got, err = s.Messages(ctx, MessageFilter{Skip: 0, Take: -1})
		require.NoError(t, err)
		require.Len(t, got, 3)

		got, err = s.Messages(ctx, MessageFilter{Skip: -5, Take: -5})
		require.NoError(t, err)
		require.Len(t, got, 3)
		require.Equal(t, "m3", got[0].Subject)
	})
}

func TestContactLifecycle(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.CreateContact(ctx, Contact{Name: "Kurt Cobain", Email: "kurt@example.com", Age: 27})
		require.NoError(t, err)

		c, ok, err := s.ContactByID(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "kurt@example.com", c.Email)

		// Absence is ok=false, not an error.
		_, ok, err = s.ContactByID(ctx, id+99)
		require.NoError(t, err)
		require.False(t, ok)

		_, err = s.CreateContact(ctx, Contact{Name: "Jimi Hendrix", Email: "jimi@example.com", Age: 27})
		require.NoError(t, err)
		_, err = s.CreateContact(ctx, Contact{Name: "Michael Jackson", Email: "michael@example.com", Age: 50})
		require.NoError(t, err)

		all, err := s.Contacts(ctx, nil)
		require.NoError(t, err)
		require.Len(t, all, 3)

		age := 27
		young, err := s.Contacts(ctx, &age)
		require.NoError(t, err)
		require.Len(t, young, 2)

		require.NoError(t, s.DeleteContact(ctx, id))
		_, ok, err = s.ContactByID(ctx, id)
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestQueueLeaseComplete(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.EnqueueDelivery(ctx, []byte(`{"recipient":"a@x.com"}`))
		require.NoError(t, err)
		require.Positive(t, id)

		leased, err := s.LeaseDeliveries(ctx, 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, leased, 1)
		require.Equal(t, id, leased[0].ID)
		require.Equal(t, 1, leased[0].Attempts)

		// Leased entries are invisible until the lease expires.
		again, err := s.LeaseDeliveries(ctx, 10, time.Minute)
		require.NoError(t, err)
		require.Empty(t, again)

		require.NoError(t, s.CompleteDelivery(ctx, id))
		after, err := s.LeaseDeliveries(ctx, 10, time.Minute)
		require.NoError(t, err)
		require.Empty(t, after)
	})
}

func TestQueueReleaseAndDead(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		id, err := s.EnqueueDelivery(ctx, []byte(`{}`))
		require.NoError(t, err)

		leased, err := s.LeaseDeliveries(ctx, 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, leased, 1)

		// Released with zero delay: immediately leasable again, attempts grow.
		require.NoError(t, s.ReleaseDelivery(ctx, id, 0))
		leased, err = s.LeaseDeliveries(ctx, 1, time.Minute)
		require.NoError(t, err)
		require.Len(t, leased, 1)
		require.Equal(t, 2, leased[0].Attempts)

		// Released with a future delay: not eligible yet.
		require.NoError(t, s.ReleaseDelivery(ctx, id, time.Hour))
		empty, err := s.LeaseDeliveries(ctx, 1, time.Minute)
		require.NoError(t, err)
		require.Empty(t, empty)

		require.NoError(t, s.ReleaseDelivery(ctx, id, 0))
		require.NoError(t, s.MarkDeliveryDead(ctx, id))
		empty, err = s.LeaseDeliveries(ctx, 1, time.Minute)
		require.NoError(t, err)
		require.Empty(t, empty, "dead entries never lease")

		pruned, err := s.PruneDeadDeliveries(ctx, 0)
		require.NoError(t, err)
		require.EqualValues(t, 1, pruned)
	})
}

func TestReset(t *testing.T) {
	forEachDriver(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.InsertMessage(ctx, Message{Recipient: "a@x.com", Subject: "m"}, "")
		require.NoError(t, err)
		_, err = s.CreateContact(ctx, Contact{Name: "n", Email: "e@x.com", Age: 1})
		require.NoError(t, err)
		_, err = s.EnqueueDelivery(ctx, []byte(`{}`))
		require.NoError(t, err)

		require.NoError(t, s.Reset(ctx))

		n, err := s.CountMessages(ctx)
		require.NoError(t, err)
		require.Zero(t, n)
		contacts, err := s.Contacts(ctx, nil)
		require.NoError(t, err)
		require.Empty(t, contacts)
		leased, err := s.LeaseDeliveries(ctx, 10, time.Minute)
		require.NoError(t, err)
		require.Empty(t, leased)
	})
}
