package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StoreItem is a catalog item with the caller's owned quantity.
type StoreItem struct {
	Item
	OwnedQuantity int
}

// StoreView is what a user sees when browsing the store.
type StoreView struct {
	Items   []StoreItem
	UserGil decimal.Decimal
}

// BuildStoreView joins catalog items with the user's inventory and balance.
// A user without a replicated balance sees zero Gil.
func BuildStoreView(ctx context.Context, repo Repository, userID uuid.UUID) (StoreView, error) {
	items, err := repo.ListItems(ctx)
	if err != nil {
		return StoreView{}, err
	}
	inventory, err := repo.ListInventory(ctx, userID)
	if err != nil {
		return StoreView{}, err
	}
	var gil decimal.Decimal
	user, err := repo.GetUser(ctx, userID)
	switch {
	case err == nil:
		gil = user.Gil
	case errors.Is(err, ErrNotFound):
	default:
		return StoreView{}, fmt.Errorf("load user %s: %w", userID, err)
	}

	owned := make(map[uuid.UUID]int, len(inventory))
	for _, entry := range inventory {
		owned[entry.CatalogItemID] += entry.Quantity
	}

	view := StoreView{Items: make([]StoreItem, 0, len(items)), UserGil: gil}
	for _, item := range items {
		view.Items = append(view.Items, StoreItem{Item: item, OwnedQuantity: owned[item.ID]})
	}
	return view, nil
}
