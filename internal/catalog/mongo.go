package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	catalogCollection   = "catalogitems"
	inventoryCollection = "inventoryitems"
	usersCollection     = "users"
)

type itemDocument struct {
	ID          string               `bson:"_id"`
	Name        string               `bson:"name"`
	Description string               `bson:"description"`
	Price       primitive.Decimal128 `bson:"price"`
}

type inventoryDocument struct {
	ID            string    `bson:"_id,omitempty"`
	UserID        string    `bson:"userId"`
	CatalogItemID string    `bson:"catalogItemId"`
	Quantity      int       `bson:"quantity"`
	AcquiredDate  time.Time `bson:"acquiredDate"`
}

type userDocument struct {
	ID  string               `bson:"_id"`
	Gil primitive.Decimal128 `bson:"gil"`
}

// MongoRepository reads catalog, inventory and user replicas from MongoDB.
type MongoRepository struct {
	items     *mongo.Collection
	inventory *mongo.Collection
	users     *mongo.Collection
}

// NewMongoRepository constructs a repository over the given database.
func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		items:     db.Collection(catalogCollection),
		inventory: db.Collection(inventoryCollection),
		users:     db.Collection(usersCollection),
	}
}

// EnsureIndexes creates the inventory lookup index.
func (r *MongoRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.inventory.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "catalogItemId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *MongoRepository) GetItem(ctx context.Context, id uuid.UUID) (Item, error) {
	var doc itemDocument
	err := r.items.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("find catalog item %s: %w", id, err)
	}
	return doc.toItem()
}

func (r *MongoRepository) ListItems(ctx context.Context) ([]Item, error) {
	cursor, err := r.items.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list catalog items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []Item
	for cursor.Next(ctx) {
		var doc itemDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		item, err := doc.toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, cursor.Err()
}

func (r *MongoRepository) ListInventory(ctx context.Context, userID uuid.UUID) ([]InventoryItem, error) {
	cursor, err := r.inventory.Find(ctx, bson.M{"userId": userID.String()})
	if err != nil {
		return nil, fmt.Errorf("list inventory for %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var entries []InventoryItem
	for cursor.Next(ctx) {
		var doc inventoryDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		entry, err := doc.toInventoryItem()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, cursor.Err()
}

func (r *MongoRepository) GetUser(ctx context.Context, userID uuid.UUID) (User, error) {
	var doc userDocument
	err := r.users.FindOne(ctx, bson.M{"_id": userID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("find user %s: %w", userID, err)
	}
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return User{}, fmt.Errorf("%w: user id %q: %w", ErrCorruptRecord, doc.ID, err)
	}
	gil, err := fromDecimal128(doc.Gil)
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Gil: gil}, nil
}

func (d itemDocument) toItem() (Item, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return Item{}, fmt.Errorf("%w: catalog item id %q: %w", ErrCorruptRecord, d.ID, err)
	}
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return Item{}, err
	}
	return Item{ID: id, Name: d.Name, Description: d.Description, Price: price}, nil
}

func (d inventoryDocument) toInventoryItem() (InventoryItem, error) {
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return InventoryItem{}, fmt.Errorf("%w: inventory user id %q: %w", ErrCorruptRecord, d.UserID, err)
	}
	itemID, err := uuid.Parse(d.CatalogItemID)
	if err != nil {
		return InventoryItem{}, fmt.Errorf("%w: inventory item id %q: %w", ErrCorruptRecord, d.CatalogItemID, err)
	}
	return InventoryItem{
		UserID:        userID,
		CatalogItemID: itemID,
		Quantity:      d.Quantity,
		AcquiredDate:  d.AcquiredDate,
	}, nil
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	out, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: decimal128 %s: %w", ErrCorruptRecord, d.String(), err)
	}
	return out, nil
}
