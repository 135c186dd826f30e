package messaging

import (
	"context"
	"errors"
	"time"

	"trading/internal/reliability"

	"go.uber.org/zap"
)

// Outgoing is one encoded message bound for a queue, stream or topic.
type Outgoing struct {
	Destination string
	// Key orders messages of one saga where the broker supports it.
	Key  string
	Data []byte
}

// Publisher sends encoded messages to a destination.
type Publisher interface {
	Publish(ctx context.Context, msg Outgoing) error
}

// Handler processes one encoded message.
type Handler func(ctx context.Context, data []byte) error

// Subscriber delivers messages to a handler until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler) error
}

// DeliveryRecorder observes the outcome of each delivery.
type DeliveryRecorder interface {
	RecordDelivery(source string, err error, deadLettered bool)
}

type nopDeliveryRecorder struct{}

func (nopDeliveryRecorder) RecordDelivery(string, error, bool) {}

// deliverer runs a handler under the retry policy and reports whether the
// message should be dead-lettered.
type deliverer struct {
	handler  Handler
	retry    reliability.RetryPolicy
	logger   *zap.Logger
	recorder DeliveryRecorder
}

func (d deliverer) deliver(ctx context.Context, source, id string, data []byte) (deadLetter bool, err error) {
	retry := d.retry
	retry.OnRetry = func(attempt int, err error) {
		d.logger.Warn("message handling failed, retrying",
			zap.String("source", source),
			zap.String("message_id", id),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	err = retry.Do(ctx, func() error {
		return d.handler(ctx, data)
	})
	if err == nil {
		d.recorder.RecordDelivery(source, nil, false)
		return false, nil
	}
	// Shutdown mid-delivery leaves the message for redelivery.
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false, err
	}
	d.recorder.RecordDelivery(source, err, true)
	d.logger.Error("message dead-lettered",
		zap.String("source", source),
		zap.String("message_id", id),
		zap.Error(err),
	)
	return true, err
}

// ConsumerOptions configures a bus consumer.
type ConsumerOptions struct {
	Group     string
	Consumer  string
	Sources   []string
	BatchSize int
	BlockTime time.Duration
	Workers   int
	Retry     reliability.RetryPolicy
	Logger    *zap.Logger
	Recorder  DeliveryRecorder
}

func (o ConsumerOptions) withDefaults() ConsumerOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.BlockTime <= 0 {
		o.BlockTime = 5 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Recorder == nil {
		o.Recorder = nopDeliveryRecorder{}
	}
	return o
}
