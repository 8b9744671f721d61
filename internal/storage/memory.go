package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memoryStore is a volatile Store for tests and throwaway runs.
// It honors the same id-monotonicity and idempotency contracts as the
// sqlite driver.
type memoryStore struct {
	mu sync.Mutex

	nextMessageID  int64
	nextContactID  int64
	nextDeliveryID int64

	messages []Message
	byIdem   map[string]int64
	contacts map[int64]Contact

	deliveries map[int64]*memDelivery
}

type memDelivery struct {
	entry       QueueEntry
	leasedUntil time.Time
	dead        bool
	deadAt      time.Time
}

func NewMemory() Store {
	return &memoryStore{
		byIdem:     map[string]int64{},
		contacts:   map[int64]Contact{},
		deliveries: map[int64]*memDelivery{},
	}
}

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) InsertMessage(_ context.Context, m Message, idempotencyKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idempotencyKey != "" {
		if id, ok := s.byIdem[idempotencyKey]; ok {
			return id, nil
		}
	}

	s.nextMessageID++
	m.ID = s.nextMessageID
	m.IdempotencyKey = idempotencyKey
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, m)
	if idempotencyKey != "" {
		s.byIdem[idempotencyKey] = m.ID
	}
	return m.ID, nil
}

func (s *memoryStore) MessageByID(_ context.Context, id int64) (Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ID == id {
			return m, true, nil
		}
	}
	return Message{}, false, nil
}

func (s *memoryStore) Messages(_ context.Context, f MessageFilter) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]Message, 0, len(s.messages))
	for _, m := range s.messages {
		if f.Recipient != "" && m.Recipient != f.Recipient {
			continue
		}
		matched = append(matched, m)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	// Same semantics as the sqlite driver: negative OFFSET reads as 0,
	// negative LIMIT reads as unlimited.
	skip := f.Skip
	if skip < 0 {
		skip = 0
	}
	if skip >= len(matched) {
		return nil, nil
	}
	matched = matched[skip:]
	if f.Take >= 0 && f.Take < len(matched) {
		matched = matched[:f.Take]
	}
	out := make([]Message, len(matched))
	copy(out, matched)
	return out, nil
}

func (s *memoryStore) CountMessages(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.messages)), nil
}

func (s *memoryStore) CreateContact(_ context.Context, c Contact) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextContactID++
	c.ID = s.nextContactID
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.contacts[c.ID] = c
	return c.ID, nil
}

func (s *memoryStore) ContactByID(_ context.Context, id int64) (Contact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[id]
	return c, ok, nil
}

func (s *memoryStore) Contacts(_ context.Context, age *int) ([]Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		if age != nil && c.Age != *age {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) DeleteContact(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contacts, id)
	return nil
}

func (s *memoryStore) EnqueueDelivery(_ context.Context, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextDeliveryID++
	id := s.nextDeliveryID
	p := make([]byte, len(payload))
	copy(p, payload)
	s.deliveries[id] = &memDelivery{
		entry: QueueEntry{ID: id, Payload: p, EnqueuedAt: time.Now().UTC()},
	}
	return id, nil
}

func (s *memoryStore) LeaseDeliveries(_ context.Context, limit int, lease time.Duration) ([]QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	ids := make([]int64, 0, len(s.deliveries))
	for id := range s.deliveries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []QueueEntry
	for _, id := range ids {
		if len(out) >= limit {
			break
		}
		d := s.deliveries[id]
		if d.dead || d.leasedUntil.After(now) || d.entry.NotBefore.After(now) {
			continue
		}
		d.leasedUntil = now.Add(lease)
		d.entry.Attempts++
		out = append(out, d.entry)
	}
	return out, nil
}

func (s *memoryStore) CompleteDelivery(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deliveries, id)
	return nil
}

func (s *memoryStore) ReleaseDelivery(_ context.Context, id int64, retryIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deliveries[id]; ok {
		d.leasedUntil = time.Time{}
		d.entry.NotBefore = time.Now().Add(retryIn)
	}
	return nil
}

func (s *memoryStore) MarkDeliveryDead(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deliveries[id]; ok {
		d.dead = true
		d.deadAt = time.Now()
		d.leasedUntil = time.Time{}
	}
	return nil
}

func (s *memoryStore) ReclaimExpiredLeases(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var n int64
	for _, d := range s.deliveries {
		if !d.dead && !d.leasedUntil.IsZero() && !d.leasedUntil.After(now) {
			d.leasedUntil = time.Time{}
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) PruneDeadDeliveries(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for id, d := range s.deliveries {
		if d.dead && !d.deadAt.After(cutoff) {
			delete(s.deliveries, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.byIdem = map[string]int64{}
	s.contacts = map[int64]Contact{}
	s.deliveries = map[int64]*memDelivery{}
	s.nextMessageID = 0
	s.nextContactID = 0
	s.nextDeliveryID = 0
	return nil
}
