package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	fieldData     = "data"
	fieldKey      = "key"
	deadLetterTag = ":dlq"
)

// RedisBus publishes to and consumes from Redis Streams.
type RedisBus struct {
	client redis.UniversalClient
	maxLen int64
}

// NewRedisBus constructs a RedisBus. maxLen > 0 trims streams approximately.
func NewRedisBus(client redis.UniversalClient, maxLen int64) *RedisBus {
	return &RedisBus{client: client, maxLen: maxLen}
}

// Publish appends the message to the destination stream.
func (b *RedisBus) Publish(ctx context.Context, msg Outgoing) error {
	if msg.Destination == "" {
		return errors.New("publish: destination is required")
	}
	args := &redis.XAddArgs{
		Stream: msg.Destination,
		Values: map[string]any{
			fieldData: string(msg.Data),
			fieldKey:  msg.Key,
		},
	}
	if b.maxLen > 0 {
		args.MaxLen = b.maxLen
		args.Approx = true
	}
	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", msg.Destination, err)
	}
	return nil
}

// RedisConsumer reads streams through a consumer group.
type RedisConsumer struct {
	client redis.UniversalClient
	opts   ConsumerOptions
}

// NewRedisConsumer constructs a consumer for opts.Sources.
func NewRedisConsumer(client redis.UniversalClient, opts ConsumerOptions) *RedisConsumer {
	return &RedisConsumer{client: client, opts: opts.withDefaults()}
}

// Subscribe ensures the groups exist, replays this consumer's pending
// entries, then consumes new entries until ctx ends.
func (c *RedisConsumer) Subscribe(ctx context.Context, handler Handler) error {
	if len(c.opts.Sources) == 0 {
		return errors.New("subscribe: no streams configured")
	}
	for _, stream := range c.opts.Sources {
		err := c.client.XGroupCreateMkStream(ctx, stream, c.opts.Group, "0").Err()
		if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
			return fmt.Errorf("create group %s on %s: %w", c.opts.Group, stream, err)
		}
	}

	d := deliverer{handler: handler, retry: c.opts.Retry, logger: c.opts.Logger, recorder: c.opts.Recorder}

	for _, stream := range c.opts.Sources {
		cursor := "0"
		for {
			last, n, err := c.poll(ctx, d, []string{stream}, cursor)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if n == 0 {
				break
			}
			cursor = last
		}
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, _, err := c.poll(ctx, d, c.opts.Sources, ">"); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// poll reads one batch after cursor ("0" or an entry id for this consumer's
// pending entries, ">" for new ones) and processes it with bounded
// parallelism. It returns the last entry id read.
func (c *RedisConsumer) poll(ctx context.Context, d deliverer, sources []string, cursor string) (string, int, error) {
	streams := make([]string, 0, len(sources)*2)
	streams = append(streams, sources...)
	for range sources {
		streams = append(streams, cursor)
	}

	args := &redis.XReadGroupArgs{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Streams:  streams,
		Count:    int64(c.opts.BatchSize),
	}
	if cursor == ">" {
		args.Block = c.opts.BlockTime
	}
	results, err := c.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("xreadgroup: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(c.opts.Workers)
	count := 0
	last := ""
	for _, result := range results {
		for _, m := range result.Messages {
			count++
			last = m.ID
			stream, m := result.Stream, m
			g.Go(func() error {
				c.process(ctx, d, stream, m)
				return nil
			})
		}
	}
	_ = g.Wait()
	return last, count, nil
}

func (c *RedisConsumer) process(ctx context.Context, d deliverer, stream string, m redis.XMessage) {
	data, ok := m.Values[fieldData].(string)
	if !ok {
		c.opts.Logger.Warn("stream entry without data, acking", zap.String("stream", stream), zap.String("message_id", m.ID))
		c.ack(ctx, stream, m.ID)
		return
	}

	deadLetter, err := d.deliver(ctx, stream, m.ID, []byte(data))
	if err != nil && !deadLetter {
		return
	}
	if deadLetter {
		if dlqErr := c.deadLetter(ctx, stream, m, err); dlqErr != nil {
			c.opts.Logger.Error("dead-letter write failed", zap.String("stream", stream), zap.String("message_id", m.ID), zap.Error(dlqErr))
			return
		}
	}
	c.ack(ctx, stream, m.ID)
}

func (c *RedisConsumer) deadLetter(ctx context.Context, stream string, m redis.XMessage, cause error) error {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream + deadLetterTag,
		Values: map[string]any{
			"stream":   stream,
			"msgId":    m.ID,
			"reason":   cause.Error(),
			fieldData:  m.Values[fieldData],
			"tsMs":     time.Now().UnixMilli(),
			"group":    c.opts.Group,
			"consumer": c.opts.Consumer,
		},
	}).Err()
}

func (c *RedisConsumer) ack(ctx context.Context, stream, id string) {
	if err := c.client.XAck(ctx, stream, c.opts.Group, id).Err(); err != nil {
		c.opts.Logger.Warn("xack failed", zap.String("stream", stream), zap.String("message_id", id), zap.Error(err))
	}
}
