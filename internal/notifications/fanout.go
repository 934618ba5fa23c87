package notifications

import (
	"context"
	"errors"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Syaminata/ticketaf-sub000/internal/metrics"
)

const defaultBatchSize = 500

// FanoutResult counts the delivery rows touched by one fan-out. Replayed is
// set when an idempotency key matched an earlier send.
type FanoutResult struct {
	MessageID      string `json:"message_id"`
	Created        int    `json:"created"`
	AlreadyExisted int    `json:"already_existed"`
	Replayed       bool   `json:"-"`
}

// SentCount is the number of recipients that hold a delivery for the message.
func (r FanoutResult) SentCount() int { return r.Created + r.AlreadyExisted }

// EngineConfig tunes the fan-out engine.
type EngineConfig struct {
	BatchSize int
	Topic     string
}

// Engine persists messages and expands them into delivery rows, one chunk at
// a time.
type Engine struct {
	store     Store
	resolver  *Resolver
	broker    MessageBroker
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
	batchSize int
	topic     string
	now       func() time.Time
}

// NewEngine wires an Engine. broker and m may be nil.
func NewEngine(store Store, resolver *Resolver, broker MessageBroker, m *metrics.Metrics, log logrus.FieldLogger, cfg EngineConfig) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Topic == "" {
		cfg.Topic = TopicDeliveries
	}
	return &Engine{
		store:     store,
		resolver:  resolver,
		broker:    broker,
		metrics:   m,
		log:       log,
		batchSize: cfg.BatchSize,
		topic:     cfg.Topic,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Send records msg addressed to t and creates one delivery per recipient.
//
// A user target is resolved before anything is written, so an unknown user
// leaves no trace. When msg carries an idempotency key already used by an
// earlier send, the stored message and its target are reused and the
// fan-out is replayed; existing deliveries count as AlreadyExisted.
//
// A failure after the message was stored returns *FanoutError with the
// counts of the chunks already committed.
func (e *Engine) Send(ctx context.Context, msg Message, t Target) (FanoutResult, error) {
	msg.Target = t
	msg.Title = strings.TrimSpace(msg.Title)
	msg.Body = strings.TrimSpace(msg.Body)
	if err := msg.validate(); err != nil {
		return FanoutResult{}, err
	}

	if msg.IdempotencyKey != "" {
		existing, err := e.store.GetMessageByIdempotencyKey(ctx, msg.IdempotencyKey)
		switch {
		case err == nil:
			return e.replay(ctx, existing)
		case !errors.Is(err, ErrMessageNotFound):
			return FanoutResult{}, err
		}
	}

	var recipients []string
	if ut, ok := t.(UserTarget); ok {
		if err := e.resolver.lookup(ctx, ut.UserID); err != nil {
			e.metrics.ObserveFanout(string(t.Type()), "rejected", 0, 0)
			return FanoutResult{}, err
		}
		recipients = []string{ut.UserID}
	}

	msg.ID = uuid.New().String()
	msg.CreatedAt = e.now()
	created, err := e.store.CreateMessage(ctx, &msg)
	if err != nil {
		return FanoutResult{}, err
	}
	if !created {
		// Lost a race with a concurrent send using the same key.
		return e.replay(ctx, &msg)
	}

	e.log.WithFields(logrus.Fields{
		"message_id":   msg.ID,
		"target_type":  t.Type(),
		"target_value": t.Value(),
		"sender_id":    msg.SenderID,
	}).Info("notifications: message recorded")

	if recipients != nil {
		return e.fanout(ctx, &msg, chunks(recipients, e.batchSize))
	}
	return e.fanout(ctx, &msg, e.resolver.Stream(ctx, t, e.batchSize))
}

// Deliver fans an existing message out to an already materialised recipient
// set. Duplicate ids in recipients are collapsed.
func (e *Engine) Deliver(ctx context.Context, messageID string, recipients []string) (FanoutResult, error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return FanoutResult{}, err
	}
	ids := slices.Clone(recipients)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return e.fanout(ctx, msg, chunks(ids, e.batchSize))
}

// Redeliver resolves the stored target of a message again and fans it out.
// Recipients that already hold a delivery are reported as AlreadyExisted;
// users who joined the audience since the first send are added.
func (e *Engine) Redeliver(ctx context.Context, messageID string) (FanoutResult, error) {
	msg, err := e.store.GetMessage(ctx, messageID)
	if err != nil {
		return FanoutResult{}, err
	}
	return e.fanout(ctx, msg, e.resolver.Stream(ctx, msg.Target, e.batchSize))
}

func (e *Engine) replay(ctx context.Context, msg *Message) (FanoutResult, error) {
	e.log.WithFields(logrus.Fields{
		"message_id":      msg.ID,
		"idempotency_key": msg.IdempotencyKey,
	}).Info("notifications: replaying send for idempotency key")

	res, err := e.fanout(ctx, msg, e.resolver.Stream(ctx, msg.Target, e.batchSize))
	res.Replayed = true
	return res, err
}

func (e *Engine) fanout(ctx context.Context, msg *Message, batches iter.Seq2[[]string, error]) (FanoutResult, error) {
	res := FanoutResult{MessageID: msg.ID}
	targetType := string(msg.Target.Type())

	fail := func(err error) (FanoutResult, error) {
		e.metrics.ObserveFanout(targetType, "partial", res.Created, res.AlreadyExisted)
		e.log.WithError(err).WithFields(logrus.Fields{
			"message_id":      msg.ID,
			"created":         res.Created,
			"already_existed": res.AlreadyExisted,
		}).Error("notifications: fan-out interrupted")
		return res, &FanoutError{MessageID: msg.ID, Created: res.Created, AlreadyExisted: res.AlreadyExisted, Err: err}
	}

	for batch, err := range batches {
		if err != nil {
			return fail(err)
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		created, err := e.store.InsertDeliveries(ctx, msg.ID, batch)
		if err != nil {
			return fail(err)
		}
		res.Created += len(created)
		res.AlreadyExisted += len(batch) - len(created)
		e.publish(msg, created)
	}

	e.metrics.ObserveFanout(targetType, "ok", res.Created, res.AlreadyExisted)
	e.log.WithFields(logrus.Fields{
		"message_id":      msg.ID,
		"created":         res.Created,
		"already_existed": res.AlreadyExisted,
	}).Info("notifications: fan-out complete")
	return res, nil
}

func (e *Engine) publish(msg *Message, userIDs []string) {
	if e.broker == nil || len(userIDs) == 0 {
		return
	}
	if err := e.broker.Publish(e.topic, NewDeliveryBatch(msg, userIDs)); err != nil {
		e.log.WithError(err).WithField("message_id", msg.ID).Warn("notifications: publish delivery batch failed")
	}
}

// chunks yields ids in slices of at most size.
func chunks(ids []string, size int) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		for c := range slices.Chunk(ids, size) {
			if !yield(c, nil) {
				return
			}
		}
	}
}
