package trading

import (
	"context"
	"errors"
	"fmt"

	"trading/internal/catalog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ItemLookup resolves catalog items by id.
type ItemLookup interface {
	GetItem(ctx context.Context, id uuid.UUID) (catalog.Item, error)
}

// PurchaseTotalActivity prices a purchase from the local catalog replica.
type PurchaseTotalActivity struct {
	items ItemLookup
}

// NewPurchaseTotalActivity constructs the activity over a catalog lookup.
func NewPurchaseTotalActivity(items ItemLookup) *PurchaseTotalActivity {
	return &PurchaseTotalActivity{items: items}
}

// Execute returns price * quantity. A missing item yields *UnknownItemError
// and a corrupt catalog record a permanent error; any other lookup failure
// is returned wrapped and is retryable.
func (a *PurchaseTotalActivity) Execute(ctx context.Context, itemID uuid.UUID, quantity int) (decimal.Decimal, error) {
	item, err := a.items.GetItem(ctx, itemID)
	if errors.Is(err, catalog.ErrNotFound) {
		return decimal.Decimal{}, &UnknownItemError{ItemID: itemID}
	}
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("look up catalog item %s: %w", itemID, err)
	}
	return item.Price.Mul(decimal.NewFromInt(int64(quantity))), nil
}
