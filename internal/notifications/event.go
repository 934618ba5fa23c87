package notifications

import (
	"time"

	"github.com/google/uuid"
)

// TopicDeliveries is the default topic carrying DeliveryBatch events.
const TopicDeliveries = "notifications.delivered"

// DeliveryBatch announces deliveries committed by one fan-out chunk. Only
// users whose delivery row was newly created are listed.
type DeliveryBatch struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Kind      Kind      `json:"type"`
	UserIDs   []string  `json:"user_ids"`
	Timestamp time.Time `json:"timestamp"`
}

// NewDeliveryBatch creates a DeliveryBatch with a generated id and the
// current timestamp.
func NewDeliveryBatch(m *Message, userIDs []string) DeliveryBatch {
	return DeliveryBatch{
		ID:        uuid.New().String(),
		MessageID: m.ID,
		Title:     m.Title,
		Body:      m.Body,
		Kind:      m.Kind,
		UserIDs:   userIDs,
		Timestamp: time.Now().UTC(),
	}
}

// EventHandler is a callback invoked when a subscribed event is received.
type EventHandler func(event DeliveryBatch)
