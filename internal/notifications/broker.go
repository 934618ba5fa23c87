package notifications

// MessageBroker publishes and subscribes to delivery events. Implementations
// are InMemoryBroker for a single node and KafkaBroker for several.
type MessageBroker interface {
	// Publish sends an event to the given topic. Subscribers registered for
	// that topic receive it asynchronously.
	Publish(topic string, event DeliveryBatch) error

	// Subscribe registers a handler called for every event published to the
	// topic and returns a subscription id.
	Subscribe(topic string, handler EventHandler) (string, error)

	// Close releases connections and goroutines. Publish and Subscribe must
	// not be called afterwards.
	Close() error
}
