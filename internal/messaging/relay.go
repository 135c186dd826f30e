package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trading/internal/reliability"
	"trading/internal/trading/saga"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RelayRecorder observes outbox dispatch.
type RelayRecorder interface {
	RecordOutboxDispatch(destination string, err error)
}

type nopRelayRecorder struct{}

func (nopRelayRecorder) RecordOutboxDispatch(string, error) {}

// RelayOptions configures a Relay.
type RelayOptions struct {
	Interval  time.Duration
	BatchSize int
	// Breaker configures one circuit breaker per destination. Nil disables them.
	Breaker   *reliability.CircuitBreakerConfig
	Logger    *zap.Logger
	Recorder  RelayRecorder
}

// Relay publishes staged outbox messages after their saga write committed.
// Delivery is at-least-once: a crash between publish and mark resends.
type Relay struct {
	outbox    saga.Outbox
	publisher Publisher
	interval  time.Duration
	batch     int
	breaker   *reliability.CircuitBreakerConfig
	mu        sync.Mutex
	breakers  map[string]*reliability.CircuitBreaker
	logger    *zap.Logger
	recorder  RelayRecorder
}

func NewRelay(outbox saga.Outbox, publisher Publisher, opts RelayOptions) *Relay {
	r := &Relay{
		outbox:    outbox,
		publisher: publisher,
		interval:  opts.Interval,
		batch:     opts.BatchSize,
		breaker:   opts.Breaker,
		breakers:  make(map[string]*reliability.CircuitBreaker),
		logger:    opts.Logger,
		recorder:  opts.Recorder,
	}
	if r.interval <= 0 {
		r.interval = 500 * time.Millisecond
	}
	if r.batch <= 0 {
		r.batch = 100
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.recorder == nil {
		r.recorder = nopRelayRecorder{}
	}
	return r
}

// Run dispatches pending messages every interval until ctx ends.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		for {
			n, err := r.DispatchPending(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Warn("outbox dispatch incomplete", zap.Error(err))
				break
			}
			if n < r.batch {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchPending publishes one batch in staging order and returns how many
// were dispatched. A failed message holds back the later messages of its own
// saga; other sagas and destinations keep flowing.
func (r *Relay) DispatchPending(ctx context.Context) (int, error) {
	pending, err := r.outbox.PendingOutbox(ctx, r.batch)
	if err != nil {
		return 0, fmt.Errorf("load outbox: %w", err)
	}
	sent := 0
	var failures []error
	blocked := make(map[uuid.UUID]struct{})
	for _, msg := range pending {
		if _, ok := blocked[msg.CorrelationID]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		out := Outgoing{
			Destination: msg.Destination,
			Key:         msg.CorrelationID.String(),
			Data:        msg.Payload,
		}
		err := r.breakerFor(msg.Destination).Execute(func() error {
			return r.publisher.Publish(ctx, out)
		})
		r.recorder.RecordOutboxDispatch(msg.Destination, err)
		if err != nil {
			failures = append(failures, fmt.Errorf("publish %s to %s: %w", msg.MessageType, msg.Destination, err))
			blocked[msg.CorrelationID] = struct{}{}
			if errors.Is(err, reliability.ErrCircuitOpen) {
				continue
			}
			r.logger.Warn("outbox publish failed",
				zap.String("correlation_id", msg.CorrelationID.String()),
				zap.String("message_type", msg.MessageType),
				zap.String("destination", msg.Destination),
				zap.Error(err),
			)
			continue
		}
		if err := r.outbox.MarkDispatched(ctx, msg.ID); err != nil {
			return sent, errors.Join(append(failures, fmt.Errorf("mark %s dispatched: %w", msg.ID, err))...)
		}
		sent++
		r.logger.Debug("outbox message dispatched",
			zap.String("correlation_id", msg.CorrelationID.String()),
			zap.String("message_type", msg.MessageType),
			zap.String("destination", msg.Destination),
		)
	}
	return sent, errors.Join(failures...)
}

func (r *Relay) breakerFor(destination string) *reliability.CircuitBreaker {
	if r.breaker == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[destination]
	if !ok {
		b = reliability.NewCircuitBreaker(*r.breaker)
		r.breakers[destination] = b
	}
	return b
}
