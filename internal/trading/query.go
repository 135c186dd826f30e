package trading

import (
	"context"
	"errors"
	"fmt"

	"trading/internal/contracts"
	"trading/internal/trading/saga"
)

// QueryResponder answers GetPurchaseState in any state without mutating the instance.
type QueryResponder struct {
	store saga.Store
}

func NewQueryResponder(store saga.Store) *QueryResponder {
	return &QueryResponder{store: store}
}

// GetPurchaseState returns the current snapshot, or saga.ErrNotFound when no
// instance exists yet. It never waits for one to appear.
func (q *QueryResponder) GetPurchaseState(ctx context.Context, req contracts.GetPurchaseState) (saga.Snapshot, error) {
	inst, err := q.store.Load(ctx, req.CorrelationID)
	if errors.Is(err, saga.ErrNotFound) {
		return saga.Snapshot{}, err
	}
	if err != nil {
		return saga.Snapshot{}, fmt.Errorf("load saga %s: %w", req.CorrelationID, err)
	}
	return inst.Snapshot(), nil
}
