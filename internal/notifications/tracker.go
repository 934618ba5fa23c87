package notifications

import (
	"context"
	"fmt"
	"iter"
	"time"
)

const defaultHistoryPage = 50

// Tracker exposes the read state of deliveries to their recipients.
type Tracker struct {
	store    Store
	pageSize int
	now      func() time.Time
}

func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:    store,
		pageSize: defaultHistoryPage,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// MarkRead marks the delivery of messageID to userID as read. It succeeds
// without changing read_at when the delivery is already read and returns
// ErrDeliveryNotFound when no such delivery exists.
func (t *Tracker) MarkRead(ctx context.Context, messageID, userID string) error {
	if messageID == "" || userID == "" {
		return fmt.Errorf("%w: message id and user id are required", ErrDeliveryNotFound)
	}
	return t.store.MarkRead(ctx, messageID, userID, t.now())
}

// MarkAllRead marks every unread delivery of userID as read and returns how
// many changed.
func (t *Tracker) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return t.store.MarkAllRead(ctx, userID, t.now())
}

func (t *Tracker) UnreadCount(ctx context.Context, userID string) (int, error) {
	return t.store.UnreadCount(ctx, userID)
}

// Page returns one page of history after cursor and the cursor of the next
// page, which is nil on the last page.
func (t *Tracker) Page(ctx context.Context, userID string, cursor *HistoryCursor, limit int) ([]HistoryEntry, *HistoryCursor, error) {
	if limit <= 0 || limit > 100 {
		limit = t.pageSize
	}
	entries, err := t.store.History(ctx, userID, cursor, limit)
	if err != nil {
		return nil, nil, err
	}
	if len(entries) < limit {
		return entries, nil, nil
	}
	return entries, cursorOf(entries[len(entries)-1]), nil
}

// History walks every delivery of userID, newest message first, fetching
// one page at a time. Each range over the sequence starts from the top.
func (t *Tracker) History(ctx context.Context, userID string) iter.Seq2[HistoryEntry, error] {
	return func(yield func(HistoryEntry, error) bool) {
		var cursor *HistoryCursor
		for {
			entries, next, err := t.Page(ctx, userID, cursor, t.pageSize)
			if err != nil {
				yield(HistoryEntry{}, err)
				return
			}
			for _, e := range entries {
				if !yield(e, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			cursor = next
		}
	}
}
