package nats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"trading/internal/contracts"
	"trading/internal/trading/saga"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// QueryHandler answers purchase state queries.
type QueryHandler interface {
	GetPurchaseState(ctx context.Context, req contracts.GetPurchaseState) (saga.Snapshot, error)
}

// Reply is the response body sent back to the requester.
type Reply struct {
	Found bool           `json:"found"`
	State *saga.Snapshot `json:"state,omitempty"`
	Error string         `json:"error,omitempty"`
}

// Responder serves GetPurchaseState requests over NATS request/reply.
type Responder struct {
	queries QueryHandler
	timeout time.Duration
	logger  *zap.Logger
}

func NewResponder(queries QueryHandler, timeout time.Duration, logger *zap.Logger) *Responder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Responder{queries: queries, timeout: timeout, logger: logger}
}

// Serve subscribes on subject in queue group until ctx is done.
func (r *Responder) Serve(ctx context.Context, conn *nats.Conn, subject, queue string) error {
	sub, err := conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		if err := msg.Respond(r.handle(reqCtx, msg.Data)); err != nil {
			r.logger.Warn("nats reply failed", zap.String("subject", msg.Subject), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return sub.Drain()
}

func (r *Responder) handle(ctx context.Context, data []byte) []byte {
	var req contracts.GetPurchaseState
	if err := json.Unmarshal(data, &req); err != nil {
		return encodeReply(Reply{Error: "malformed request"})
	}
	snap, err := r.queries.GetPurchaseState(ctx, req)
	switch {
	case errors.Is(err, saga.ErrNotFound):
		return encodeReply(Reply{Found: false})
	case err != nil:
		r.logger.Warn("purchase state query failed", zap.String("correlation_id", req.CorrelationID.String()), zap.Error(err))
		return encodeReply(Reply{Error: "query failed"})
	}
	return encodeReply(Reply{Found: true, State: &snap})
}

func encodeReply(reply Reply) []byte {
	data, _ := json.Marshal(reply)
	return data
}
