package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading/internal/contracts"
	"trading/internal/reliability"
	"trading/internal/trading/saga"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder observes engine outcomes.
type Recorder interface {
	RecordTransition(from, to saga.State, event string)
	RecordIgnored(state saga.State, event string)
	RecordNotification(err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordTransition(saga.State, saga.State, string) {}
func (nopRecorder) RecordIgnored(saga.State, string)               {}
func (nopRecorder) RecordNotification(error)                       {}

// Engine runs load, decide, save and notify for each delivered event.
type Engine struct {
	store    saga.Store
	machine  *Machine
	notifier saga.Notifier
	recorder Recorder
	logger   *zap.Logger
	conflict reliability.RetryPolicy
	now      func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

func WithNotifier(n saga.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConflictRetry overrides how version conflicts are retried.
func WithConflictRetry(p reliability.RetryPolicy) EngineOption {
	return func(e *Engine) { e.conflict = p }
}

// NewEngine constructs an Engine over a store and machine.
func NewEngine(store saga.Store, machine *Machine, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		machine:  machine,
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		conflict: reliability.RetryPolicy{
			MaxAttempts: 10,
			BaseDelay:   5 * time.Millisecond,
			MaxDelay:    200 * time.Millisecond,
			ShouldRetry: func(err error) bool { return errors.Is(err, saga.ErrConcurrencyConflict) },
		},
		now: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage decodes a bus envelope and handles the event it carries.
func (e *Engine) HandleMessage(ctx context.Context, data []byte) error {
	env, err := contracts.DecodeEnvelope(data)
	if err != nil {
		return err
	}
	ev, err := DecodeEvent(env)
	if err != nil {
		return err
	}
	return e.Handle(ctx, ev)
}

// Handle applies ev to its instance. A version conflict re-runs the whole
// step from a fresh load.
func (e *Engine) Handle(ctx context.Context, ev Event) error {
	return e.conflict.Do(ctx, func() error {
		return e.handleOnce(ctx, ev)
	})
}

func (e *Engine) handleOnce(ctx context.Context, ev Event) error {
	var current *saga.Instance
	loaded, err := e.store.Load(ctx, ev.CorrelationID)
	switch {
	case err == nil:
		current = &loaded
	case errors.Is(err, saga.ErrNotFound):
	default:
		return fmt.Errorf("load saga %s: %w", ev.CorrelationID, err)
	}

	var expected int64
	if current != nil {
		expected = current.Version
	}

	dec, err := e.machine.Decide(ctx, current, ev)
	if err != nil {
		return err
	}
	if dec.Outcome == OutcomeIgnore {
		e.recorder.RecordIgnored(dec.From, string(ev.Kind))
		e.logger.Debug("event ignored",
			zap.String("correlation_id", ev.CorrelationID.String()),
			zap.String("event", string(ev.Kind)),
			zap.String("state", string(dec.From)),
		)
		return nil
	}

	outbox, err := e.stage(dec.Command)
	if err != nil {
		return err
	}
	saved, err := e.store.Save(ctx, dec.Instance, expected, outbox)
	if err != nil {
		if errors.Is(err, saga.ErrConcurrencyConflict) {
			e.logger.Debug("saga version conflict, reloading",
				zap.String("correlation_id", ev.CorrelationID.String()),
				zap.String("event", string(ev.Kind)),
			)
			return err
		}
		return fmt.Errorf("save saga %s: %w", ev.CorrelationID, err)
	}

	e.recorder.RecordTransition(dec.From, saved.CurrentState, string(ev.Kind))
	fields := []zap.Field{
		zap.String("correlation_id", saved.CorrelationID.String()),
		zap.String("event", string(ev.Kind)),
		zap.String("from", string(dec.From)),
		zap.String("to", string(saved.CurrentState)),
	}
	if dec.Command != nil {
		fields = append(fields,
			zap.String("message_type", dec.Command.Command.MessageType()),
			zap.String("destination", dec.Command.Destination),
		)
	}
	if saved.ErrorMessage != nil {
		fields = append(fields, zap.String("reason", *saved.ErrorMessage))
	}
	e.logger.Info("saga transition", fields...)

	if dec.Notify {
		e.notify(ctx, saved)
	}
	return nil
}

func (e *Engine) stage(cmd *OutboundCommand) ([]saga.OutboxMessage, error) {
	if cmd == nil {
		return nil, nil
	}
	messageType := cmd.Command.MessageType()
	correlationID := cmd.Command.Correlation()
	// One command of each type per saga, so the id is stable across redeliveries.
	id := uuid.NewSHA1(correlationID, []byte(messageType))
	now := e.now()

	env, err := contracts.NewEnvelope(id, messageType, correlationID, cmd.Command, now)
	if err != nil {
		return nil, err
	}
	payload, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", messageType, err)
	}
	return []saga.OutboxMessage{{
		ID:            id,
		CorrelationID: correlationID,
		Destination:   cmd.Destination,
		MessageType:   messageType,
		Payload:       payload,
		CreatedAt:     now,
	}}, nil
}

func (e *Engine) notify(ctx context.Context, inst saga.Instance) {
	if e.notifier == nil {
		return
	}
	err := e.notifier.NotifyStatus(ctx, inst.Snapshot())
	e.recorder.RecordNotification(err)
	if err != nil {
		e.logger.Warn("status notification failed",
			zap.String("correlation_id", inst.CorrelationID.String()),
			zap.String("user_id", inst.UserID.String()),
			zap.Error(err),
		)
	}
}
