package notifications

import (
	"github.com/sirupsen/logrus"
)

// Pusher delivers a live payload to the connected sessions of some users.
// ws.Hub implements it.
type Pusher interface {
	SendToUsers(userIDs []string, msgType string, payload interface{})
}

// PushTypeNotification is the live message type sent to recipients.
const PushTypeNotification = "notification"

// livePayload is what a connected recipient receives for a new delivery.
type livePayload struct {
	MessageID string `json:"message_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Kind      Kind   `json:"type"`
}

// Consumer subscribes to the delivery topic and pushes every batch to the
// recipients' live sessions.
type Consumer struct {
	broker MessageBroker
	pusher Pusher
	topic  string
	log    logrus.FieldLogger
}

func NewConsumer(broker MessageBroker, pusher Pusher, topic string, log logrus.FieldLogger) *Consumer {
	if topic == "" {
		topic = TopicDeliveries
	}
	return &Consumer{broker: broker, pusher: pusher, topic: topic, log: log}
}

// Start subscribes and returns immediately; events are handled on the
// broker's goroutines.
func (c *Consumer) Start() error {
	if _, err := c.broker.Subscribe(c.topic, c.handle); err != nil {
		return err
	}
	c.log.WithField("topic", c.topic).Info("notifications: consumer subscribed")
	return nil
}

func (c *Consumer) handle(event DeliveryBatch) {
	if len(event.UserIDs) == 0 {
		return
	}
	c.pusher.SendToUsers(event.UserIDs, PushTypeNotification, livePayload{
		MessageID: event.MessageID,
		Title:     event.Title,
		Body:      event.Body,
		Kind:      event.Kind,
	})
	c.log.WithFields(logrus.Fields{
		"message_id": event.MessageID,
		"recipients": len(event.UserIDs),
	}).Debug("notifications: pushed delivery batch")
}
