package notifications

import (
	"context"
)

// Totals aggregates the whole message store.
type Totals struct {
	TotalMessages   int `json:"total_messages"`
	TotalDeliveries int `json:"total_deliveries"`
	TotalRead       int `json:"total_read"`
}

// MessageStats is the delivery summary of one message.
type MessageStats struct {
	MessageID string `json:"message_id"`
	SentCount int    `json:"sent_count"`
	ReadCount int    `json:"read_count"`
}

// Stats is the answer of Aggregator.Stats. Message is only set when a
// message id was asked for.
type Stats struct {
	Totals
	Message *MessageStats `json:"message,omitempty"`
}

// Aggregator derives statistics from the delivery rows on every call. It
// keeps no counters of its own.
type Aggregator struct {
	store Store
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// Stats returns the global totals and, when messageID is non-nil, the sent
// and read counts of that message.
func (a *Aggregator) Stats(ctx context.Context, messageID *string) (Stats, error) {
	totals, err := a.store.Totals(ctx)
	if err != nil {
		return Stats{}, err
	}
	out := Stats{Totals: totals}
	if messageID != nil {
		ms, err := a.store.MessageStats(ctx, *messageID)
		if err != nil {
			return Stats{}, err
		}
		out.Message = &ms
	}
	return out, nil
}
