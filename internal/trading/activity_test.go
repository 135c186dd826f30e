package trading

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"trading/internal/catalog"
	"trading/internal/trading/saga"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestPurchaseTotalActivity_MultipliesPrice(t *testing.T) {
	item := catalog.Item{ID: uuid.New(), Price: decimal.RequireFromString("2.50")}
	activity := NewPurchaseTotalActivity(catalog.NewMemoryRepository(item))

	total, err := activity.Execute(context.Background(), item.ID, 3)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !total.Equal(decimal.RequireFromString("7.5")) {
		t.Fatalf("expected 7.5, got %s", total)
	}
}

func TestPurchaseTotalActivity_UnknownItem(t *testing.T) {
	activity := NewPurchaseTotalActivity(catalog.NewMemoryRepository())
	id := uuid.New()

	_, err := activity.Execute(context.Background(), id, 1)
	var unknown *UnknownItemError
	if !errors.As(err, &unknown) || unknown.ItemID != id {
		t.Fatalf("expected UnknownItemError for %s, got %v", id, err)
	}
	if !IsPermanent(err) {
		t.Fatalf("unknown item must be permanent")
	}
}

func TestPurchaseTotalActivity_LookupFailureIsTransient(t *testing.T) {
	boom := errors.New("replica unavailable")
	activity := NewPurchaseTotalActivity(stubLookup{err: boom})

	_, err := activity.Execute(context.Background(), uuid.New(), 1)
	if !errors.Is(err, boom) || IsPermanent(err) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
}

func TestPurchaseTotalActivity_CorruptRecordIsPermanent(t *testing.T) {
	corrupt := fmt.Errorf("%w: decimal128 NaN: bad price", catalog.ErrCorruptRecord)
	activity := NewPurchaseTotalActivity(stubLookup{err: corrupt})

	_, err := activity.Execute(context.Background(), uuid.New(), 1)
	if !errors.Is(err, catalog.ErrCorruptRecord) || !IsPermanent(err) {
		t.Fatalf("expected permanent corrupt-record error, got %v", err)
	}
}

func TestMachine_CorruptCatalogRecordFaults(t *testing.T) {
	corrupt := fmt.Errorf("%w: decimal128 NaN: bad price", catalog.ErrCorruptRecord)
	m := NewMachine(NewPurchaseTotalActivity(stubLookup{err: corrupt}), testRoutes, newTestClock().Now)

	dec, err := m.Decide(context.Background(), nil, purchaseEvent(uuid.New(), uuid.New(), uuid.New(), 1))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Instance.CurrentState != saga.StateFaulted || dec.Command != nil || !dec.Notify {
		t.Fatalf("expected Faulted without a command, got %+v", dec)
	}
}
