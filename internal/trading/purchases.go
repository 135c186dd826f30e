package trading

import (
	"context"
	"fmt"
	"time"

	"trading/internal/contracts"
	"trading/internal/messaging"
	"trading/internal/trading/saga"

	"github.com/google/uuid"
)

// MaxPurchaseQuantity bounds a single submission.
const MaxPurchaseQuantity = 100

// SubmitPurchase is a client submission keyed by its idempotency id.
type SubmitPurchase struct {
	ItemID        uuid.UUID
	Quantity      int
	IdempotencyID uuid.UUID
}

// PurchaseService is the front door: it publishes PurchaseRequested and
// serves status queries.
type PurchaseService struct {
	publisher messaging.Publisher
	stream    string
	queries   *QueryResponder
	now       func() time.Time
}

// NewPurchaseService publishes submissions to stream.
func NewPurchaseService(publisher messaging.Publisher, stream string, queries *QueryResponder) *PurchaseService {
	return &PurchaseService{
		publisher: publisher,
		stream:    stream,
		queries:   queries,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit publishes PurchaseRequested for userID. Resubmitting the same
// idempotency id is harmless: the saga ignores the duplicate.
func (s *PurchaseService) Submit(ctx context.Context, userID uuid.UUID, req SubmitPurchase) error {
	if err := validateSubmission(userID, req); err != nil {
		return err
	}
	msg := contracts.PurchaseRequested{
		UserID:        userID,
		ItemID:        req.ItemID,
		Quantity:      req.Quantity,
		CorrelationID: req.IdempotencyID,
	}
	messageID := uuid.NewSHA1(req.IdempotencyID, []byte(contracts.TypePurchaseRequested))
	env, err := contracts.NewEnvelope(messageID, contracts.TypePurchaseRequested, req.IdempotencyID, msg, s.now())
	if err != nil {
		return err
	}
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode purchase request: %w", err)
	}
	return s.publisher.Publish(ctx, messaging.Outgoing{
		Destination: s.stream,
		Key:         req.IdempotencyID.String(),
		Data:        data,
	})
}

// Status returns the saga snapshot, or saga.ErrNotFound.
func (s *PurchaseService) Status(ctx context.Context, idempotencyID uuid.UUID) (saga.Snapshot, error) {
	return s.queries.GetPurchaseState(ctx, contracts.GetPurchaseState{CorrelationID: idempotencyID})
}

func validateSubmission(userID uuid.UUID, req SubmitPurchase) error {
	switch {
	case userID == uuid.Nil:
		return fmt.Errorf("%w: user id is required", ErrInvalidPurchase)
	case req.ItemID == uuid.Nil:
		return fmt.Errorf("%w: item id is required", ErrInvalidPurchase)
	case req.IdempotencyID == uuid.Nil:
		return fmt.Errorf("%w: idempotency id is required", ErrInvalidPurchase)
	case req.Quantity < 1 || req.Quantity > MaxPurchaseQuantity:
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidPurchase, MaxPurchaseQuantity)
	}
	return nil
}
