package catalog

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a catalog item or user is unknown.
	ErrNotFound = errors.New("catalog: not found")
	// ErrCorruptRecord marks a stored document that cannot be converted.
	// Reading it again returns the same result.
	ErrCorruptRecord = errors.New("catalog: corrupt record")
)

// Item is a purchasable catalog entry.
type Item struct {
	ID          uuid.UUID
	Name        string
	Description string
	Price       decimal.Decimal
}

// InventoryItem is a quantity of a catalog item owned by a user.
type InventoryItem struct {
	UserID        uuid.UUID
	CatalogItemID uuid.UUID
	Quantity      int
	AcquiredDate  time.Time
}

// User holds the Gil balance of a buyer.
type User struct {
	ID  uuid.UUID
	Gil decimal.Decimal
}

// Repository reads the local replicas of catalog, inventory and identity data.
type Repository interface {
	GetItem(ctx context.Context, id uuid.UUID) (Item, error)
	ListItems(ctx context.Context) ([]Item, error)
	ListInventory(ctx context.Context, userID uuid.UUID) ([]InventoryItem, error)
	GetUser(ctx context.Context, userID uuid.UUID) (User, error)
}

// MemoryRepository keeps read models in process.
type MemoryRepository struct {
	mu        sync.RWMutex
	items     map[uuid.UUID]Item
	inventory map[uuid.UUID][]InventoryItem
	users     map[uuid.UUID]User
}

// NewMemoryRepository constructs a MemoryRepository seeded with items.
func NewMemoryRepository(items ...Item) *MemoryRepository {
	repo := &MemoryRepository{
		items:     make(map[uuid.UUID]Item),
		inventory: make(map[uuid.UUID][]InventoryItem),
		users:     make(map[uuid.UUID]User),
	}
	for _, item := range items {
		repo.items[item.ID] = item
	}
	return repo
}

func (r *MemoryRepository) PutItem(item Item) {
	r.mu.Lock()
	r.items[item.ID] = item
	r.mu.Unlock()
}

func (r *MemoryRepository) PutUser(user User) {
	r.mu.Lock()
	r.users[user.ID] = user
	r.mu.Unlock()
}

func (r *MemoryRepository) PutInventory(entry InventoryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.inventory[entry.UserID]
	for i := range entries {
		if entries[i].CatalogItemID == entry.CatalogItemID {
			entries[i] = entry
			return
		}
	}
	r.inventory[entry.UserID] = append(entries, entry)
}

func (r *MemoryRepository) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return item, nil
}

func (r *MemoryRepository) ListItems(ctx context.Context) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]Item, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (r *MemoryRepository) ListInventory(ctx context.Context, userID uuid.UUID) ([]InventoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]InventoryItem(nil), r.inventory[userID]...), nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}
