package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const (
	defaultConsumerGroup = "ticketaf-notifications"
	headerEventID        = "event-id"
	headerContentType    = "content-type"
	contentTypeJSON      = "application/json"

	// readRetryDelay paces a consumer whose reads keep failing.
	readRetryDelay = time.Second
)

// KafkaConfig holds configuration for the Kafka broker.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

// KafkaBroker carries DeliveryBatch events over Kafka so that every node's
// websocket hub sees batches produced by any node.
//
// Every record is keyed by its message id. The hash balancer therefore puts
// all batches of one message on one partition, so a consumer never pushes a
// later chunk of a message before an earlier one.
//
// Consumers commit an offset only after the handler returned, giving
// at-least-once delivery to the handler. Live push tolerates a duplicate.
type KafkaBroker struct {
	config KafkaConfig
	writer *kafka.Writer
	log    logrus.FieldLogger

	mu     sync.Mutex
	subs   map[string]*kafka.Reader
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewKafkaBroker(config KafkaConfig, log logrus.FieldLogger) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = defaultConsumerGroup
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &KafkaBroker{
		config: config,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		log:    log,
		subs:   make(map[string]*kafka.Reader),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (b *KafkaBroker) Publish(topic string, event DeliveryBatch) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return errBrokerClosed
	}

	msg, err := encodeBatch(topic, event)
	if err != nil {
		return err
	}
	if err := b.writer.WriteMessages(b.ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

// Subscribe joins the consumer group on topic. The handler runs on the
// subscription's goroutine until Close.
func (b *KafkaBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", errBrokerClosed
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.config.Brokers,
		Topic:    topic,
		GroupID:  b.config.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	id := uuid.New().String()
	b.subs[id] = reader

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.consume(b.ctx, reader, handler, b.log.WithFields(logrus.Fields{"subscription": id, "topic": topic}))
	}()
	return id, nil
}

// Close stops every consumer, waits for in-flight handlers and flushes the
// producer.
func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.cancel()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	b.wg.Wait()

	var errs []error
	for _, r := range subs {
		errs = append(errs, r.Close())
	}
	errs = append(errs, b.writer.Close())
	return errors.Join(errs...)
}

type committer interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

func (b *KafkaBroker) consume(ctx context.Context, r committer, handler EventHandler, log logrus.FieldLogger) {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("kafka: fetch failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}

		// A malformed record is committed too, or it would be redelivered
		// forever.
		if event, err := decodeBatch(msg); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("kafka: dropping malformed delivery batch")
		} else {
			handler(event)
		}

		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.WithError(err).WithField("offset", msg.Offset).Warn("kafka: commit failed")
		}
	}
}

// encodeBatch builds the record for event, keyed by message id.
func encodeBatch(topic string, event DeliveryBatch) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal delivery batch: %w", err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(event.MessageID),
		Value: value,
		Headers: []kafka.Header{
			{Key: headerEventID, Value: []byte(event.ID)},
			{Key: headerContentType, Value: []byte(contentTypeJSON)},
		},
	}, nil
}

func decodeBatch(msg kafka.Message) (DeliveryBatch, error) {
	var event DeliveryBatch
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return DeliveryBatch{}, err
	}
	if event.MessageID == "" {
		return DeliveryBatch{}, errors.New("delivery batch without message id")
	}
	if key := string(msg.Key); key != "" && key != event.MessageID {
		return DeliveryBatch{}, fmt.Errorf("record key %q does not match message id %q", key, event.MessageID)
	}
	return event, nil
}
