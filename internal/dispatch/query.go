package dispatch

import (
	"context"
	"fmt"

	"courier/internal/storage"
)

// DefaultTake is the page size used when a query doesn't specify one.
const DefaultTake = 10

// Filter narrows a history read. Recipient is exact, case-sensitive
// match when non-empty; no normalization happens here.
type Filter struct {
	Recipient string
	Skip      int
	Take      int
}

// History answers reads over recorded messages. It shares the store with
// the Recorder but is otherwise independent of the dispatch path.
type History struct {
	store storage.Store
}

func NewHistory(store storage.Store) *History {
	return &History{store: store}
}

// Find returns messages newest-first.
//
// Ordering is strictly by id descending: ids are monotonic while stored
// timestamps can collide at store resolution, so id is the only stable
// tie-break. Skip and Take apply after filtering and ordering; Take
// defaults to DefaultTake when zero. Negative values are passed through —
// rejecting or clamping them is the boundary's policy, not ours.
func (h *History) Find(ctx context.Context, f Filter) ([]storage.Message, error) {
	take := f.Take
	if take == 0 {
		take = DefaultTake
	}
	msgs, err := h.store.Messages(ctx, storage.MessageFilter{
		Recipient: f.Recipient,
		Skip:      f.Skip,
		Take:      take,
	})
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	return msgs, nil
}
