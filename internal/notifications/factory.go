package notifications

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Syaminata/ticketaf-sub000/internal/config"
)

// NewBroker returns a KafkaBroker when KAFKA_BROKERS is set and an
// InMemoryBroker otherwise.
func NewBroker(cfg *config.Config, log logrus.FieldLogger) (MessageBroker, error) {
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		log.WithFields(logrus.Fields{
			"brokers": brokers,
			"group":   cfg.KafkaConsumerGroup,
		}).Info("notifications: using kafka broker")
		return NewKafkaBroker(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, log)
	}

	log.Info("notifications: using in-memory broker (KAFKA_BROKERS not set)")
	return NewInMemoryBroker(), nil
}
