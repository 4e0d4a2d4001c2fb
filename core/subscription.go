package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Subscription consumes topics from Kafka and hands the messages to a RecordSender. Offsets are
// committed for the delivered prefix of every batch; the subscription stops at the first batch
// that was not fully delivered so the remaining records are redelivered on restart.
type Subscription struct {
	ID      uuid.UUID
	Topics  []string
	GroupID string
	Config  Config
	Sender  RecordSender

	logger *slog.Logger
}

var ErrSendFailed = errors.New("send failed")

func NewSubscription(topics []string, groupID string, cfg Config, sender RecordSender) *Subscription {
	s := &Subscription{
		ID:      uuid.New(),
		Topics:  topics,
		GroupID: groupID,
		Config:  cfg,
		Sender:  sender,
		logger:  slog.Default(),
	}
	if s.GroupID == "" {
		s.GroupID = fmt.Sprintf("httpsink-%s", s.ID)
	}
	return s
}

func (s *Subscription) WithLogger(logger *slog.Logger) *Subscription {
	s.logger = logger
	return s
}

// consumer is the part of *kafka.Consumer the poll loop uses
type consumer interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

// Run consumes until ctx is cancelled or a batch fails. It blocks, so run it in a go routine.
// A nil error means the subscription was stopped through ctx.
func (s *Subscription) Run(ctx context.Context, kafkaServers string) error {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaServers,
		// Avoid connecting to IPv6 brokers, the OSX resolver returns the IPv6 addresses first
		"broker.address.family": "v4",
		"group.id":              s.GroupID,
		"auto.offset.reset":     "earliest",
		"enable.auto.commit":    false,
	})
	if err != nil {
		return errors.Wrap(err, "create consumer")
	}
	defer c.Close()
	s.logger.Info("start consumer", slog.String("bootstrap.servers", kafkaServers), slog.String("consumer_id", s.ID.String()), slog.String("group_id", s.GroupID), slog.Any("topics", s.Topics))
	return s.consume(ctx, c)
}

func (s *Subscription) consume(ctx context.Context, c consumer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("consumer recovered from panic", slog.Any("error", r), slog.String("consumer_id", s.ID.String()), slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("consumer panic: %v", r)
		}
	}()

	if err := c.SubscribeTopics(s.Topics, nil); err != nil {
		return errors.Wrap(err, "subscribe to topics")
	}

	maxWait := s.Config.MaxWait
	if maxWait < MinWait {
		maxWait = MinWait
	}
	batchSize := s.Config.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	batch := make([]*kafka.Message, 0, batchSize)
	pushTicker := time.NewTicker(maxWait)
	defer pushTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("consume loop terminating", slog.String("consumer_id", s.ID.String()), slog.Int("pending", len(batch)))
			return nil
		case <-pushTicker.C:
			if len(batch) == 0 {
				continue
			}
			if err := s.deliver(ctx, c, batch); err != nil {
				return err
			}
			batch = batch[:0]
		default:
			ev := c.Poll(100)
			if ev == nil {
				continue
			}
			switch e := ev.(type) {
			case *kafka.Message:
				batch = append(batch, e)
				if len(batch) < batchSize {
					continue
				}
				if err := s.deliver(ctx, c, batch); err != nil {
					return err
				}
				batch = batch[:0]
			case kafka.Error:
				s.logger.Warn("kafka error", slog.String("consumer_id", s.ID.String()), slog.Any("error", e))
				if e.IsFatal() {
					return errors.Wrap(e, "fatal kafka error")
				}
			default:
				s.logger.Debug("ignore kafka event", slog.String("consumer_id", s.ID.String()), slog.String("kafka_event", e.String()))
			}
		}
	}
}

// deliver sends batch and commits the offsets of its delivered prefix. It returns an error when
// some record was not delivered or a commit failed.
func (s *Subscription) deliver(ctx context.Context, c consumer, batch []*kafka.Message) error {
	records := make([]Record, len(batch))
	for i, msg := range batch {
		records[i] = RecordFromMessage(msg)
	}
	report := s.Sender.Send(ctx, records)

	n := report.DeliveredPrefix()
	for _, msg := range batch[:n] {
		if _, err := c.CommitMessage(msg); err != nil {
			return errors.Wrap(err, "commit offset")
		}
	}
	if n < len(batch) {
		cause := report.Err()
		s.logger.Info("consumer stopping, send to destination failed", slog.String("consumer_id", s.ID.String()), slog.Int("delivered", n), slog.Int("batch_size", len(batch)), slog.Any("error", cause))
		if errors.Is(cause, ErrNotDelivered) && ctx.Err() != nil {
			return nil
		}
		return errors.Wrapf(ErrSendFailed, "%v", cause)
	}
	s.logger.Debug("consumer sent batch ok", slog.String("consumer_id", s.ID.String()), slog.Int("batch_size", len(batch)))
	return nil
}

// RecordFromMessage maps a Kafka message to a Record. The value is left as raw bytes, a tombstone
// has a nil value.
func RecordFromMessage(msg *kafka.Message) Record {
	rec := Record{
		Partition: msg.TopicPartition.Partition,
		Offset:    int64(msg.TopicPartition.Offset),
		Key:       msg.Key,
	}
	if msg.Value != nil {
		rec.Value = msg.Value
	}
	if msg.TopicPartition.Topic != nil {
		rec.Topic = *msg.TopicPartition.Topic
	}
	for _, h := range msg.Headers {
		rec.Headers = append(rec.Headers, Header{Key: h.Key, Value: h.Value})
	}
	return rec
}
