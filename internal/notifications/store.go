package notifications

import (
	"context"
	"time"
)

// Store persists messages and their per-recipient deliveries. The pair
// (message id, user id) is unique and implementations enforce it atomically,
// so concurrent writers need no application-level lock.
type Store interface {
	// CreateMessage stores m. When m carries an idempotency key that is
	// already taken, m is overwritten with the stored message and created is
	// false.
	CreateMessage(ctx context.Context, m *Message) (created bool, err error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	GetMessageByIdempotencyKey(ctx context.Context, key string) (*Message, error)

	// InsertDeliveries inserts one unread delivery per user id, skipping
	// pairs that already exist, and returns the ids that were newly created.
	InsertDeliveries(ctx context.Context, messageID string, userIDs []string) ([]string, error)

	// MarkRead flips an unread delivery to read at the given time. Marking an
	// already read delivery is a no-op that keeps the original read time.
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)

	// History returns up to limit entries for userID ordered by message
	// creation time descending, strictly after the cursor when one is given.
	History(ctx context.Context, userID string, after *HistoryCursor, limit int) ([]HistoryEntry, error)
	ListMessages(ctx context.Context, params ListParams) ([]MessageSummary, int, error)

	Totals(ctx context.Context) (Totals, error)
	MessageStats(ctx context.Context, messageID string) (MessageStats, error)
}
