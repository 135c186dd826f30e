package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaWriter is the subset of *kafka.Writer used by KafkaBus.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReader is the subset of *kafka.Reader used by KafkaConsumer.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter builds a writer that routes by each message's Topic and
// partitions by key.
func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
}

// NewKafkaReader builds a consumer-group reader over topics.
func NewKafkaReader(brokers []string, group string, topics []string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     group,
		GroupTopics: topics,
	})
}

// KafkaBus publishes to Kafka topics.
type KafkaBus struct {
	writer KafkaWriter
}

func NewKafkaBus(writer KafkaWriter) *KafkaBus {
	return &KafkaBus{writer: writer}
}

func (b *KafkaBus) Publish(ctx context.Context, msg Outgoing) error {
	if msg.Destination == "" {
		return errors.New("publish: destination is required")
	}
	err := b.writer.WriteMessages(ctx, kafka.Message{
		Topic: msg.Destination,
		Key:   []byte(msg.Key),
		Value: msg.Data,
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", msg.Destination, err)
	}
	return nil
}

func (b *KafkaBus) Close() error {
	return b.writer.Close()
}

// KafkaConsumer delivers messages from a consumer-group reader. Messages are
// handled in fetch order so per-key ordering within a partition holds.
type KafkaConsumer struct {
	reader     KafkaReader
	deadLetter KafkaWriter
	opts       ConsumerOptions
}

// NewKafkaConsumer constructs a consumer. Exhausted messages are written to
// "<topic>.dlq" through deadLetter.
func NewKafkaConsumer(reader KafkaReader, deadLetter KafkaWriter, opts ConsumerOptions) *KafkaConsumer {
	return &KafkaConsumer{reader: reader, deadLetter: deadLetter, opts: opts.withDefaults()}
}

func (c *KafkaConsumer) Subscribe(ctx context.Context, handler Handler) error {
	d := deliverer{handler: handler, retry: c.opts.Retry, logger: c.opts.Logger, recorder: c.opts.Recorder}
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		id := m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10)
		deadLetter, herr := d.deliver(ctx, m.Topic, id, m.Value)
		if herr != nil && !deadLetter {
			return nil
		}
		if deadLetter {
			if err := c.writeDeadLetter(ctx, m, herr); err != nil {
				return fmt.Errorf("kafka dead-letter %s: %w", id, err)
			}
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.opts.Logger.Warn("kafka commit failed", zap.String("message_id", id), zap.Error(err))
		}
	}
}

func (c *KafkaConsumer) writeDeadLetter(ctx context.Context, m kafka.Message, cause error) error {
	if c.deadLetter == nil {
		return nil
	}
	return c.deadLetter.WriteMessages(ctx, kafka.Message{
		Topic: m.Topic + ".dlq",
		Key:   m.Key,
		Value: m.Value,
		Headers: []kafka.Header{
			{Key: "reason", Value: []byte(cause.Error())},
			{Key: "group", Value: []byte(c.opts.Group)},
		},
	})
}

func (c *KafkaConsumer) Close() error {
	return c.reader.Close()
}
