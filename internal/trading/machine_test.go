package trading

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"trading/internal/catalog"
	"trading/internal/contracts"
	"trading/internal/trading/saga"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var testRoutes = NewRoutes("inventory-grant-items", "identity-debit-gil", "inventory-subtract-items")

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

type stubLookup struct {
	item catalog.Item
	err  error
}

func (s stubLookup) GetItem(ctx context.Context, id uuid.UUID) (catalog.Item, error) {
	if s.err != nil {
		return catalog.Item{}, s.err
	}
	return s.item, nil
}

func pricedItem(price int64) catalog.Item {
	return catalog.Item{ID: uuid.New(), Name: "Potion", Price: decimal.NewFromInt(price)}
}

func purchaseEvent(userID, itemID, correlationID uuid.UUID, qty int) Event {
	return PurchaseRequestedEvent(contracts.PurchaseRequested{
		UserID:        userID,
		ItemID:        itemID,
		Quantity:      qty,
		CorrelationID: correlationID,
	})
}

func TestTransitionTable_IsTotal(t *testing.T) {
	for _, state := range saga.States {
		row, ok := transitions[state]
		if !ok {
			t.Fatalf("state %s missing from transition table", state)
		}
		for _, kind := range EventKinds {
			if row[kind] == nil {
				t.Fatalf("no entry for %s in %s", kind, state)
			}
		}
		if len(row) != len(EventKinds) {
			t.Fatalf("state %s has %d entries, expected %d", state, len(row), len(EventKinds))
		}
	}
}

func TestMachine_AcceptComputesTotal(t *testing.T) {
	clock := newTestClock()
	item := pricedItem(10)
	m := NewMachine(NewPurchaseTotalActivity(stubLookup{item: item}), testRoutes, clock.Now)
	userID, correlationID := uuid.New(), uuid.New()

	dec, err := m.Decide(context.Background(), nil, purchaseEvent(userID, item.ID, correlationID, 3))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Outcome != OutcomeTransition || dec.From != saga.StateInitial {
		t.Fatalf("unexpected decision: %+v", dec)
	}
	inst := dec.Instance
	if inst.CurrentState != saga.StateAccepted {
		t.Fatalf("expected Accepted, got %s", inst.CurrentState)
	}
	if inst.PurchaseTotal == nil || !inst.PurchaseTotal.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("expected total 30, got %v", inst.PurchaseTotal)
	}
	if !inst.Received.Equal(clock.now) || !inst.LastUpdated.Equal(clock.now) {
		t.Fatalf("unexpected timestamps: %v %v", inst.Received, inst.LastUpdated)
	}
	if inst.ErrorMessage != nil {
		t.Fatalf("unexpected error message: %s", *inst.ErrorMessage)
	}
	if dec.Notify {
		t.Fatalf("did not expect notification on accept")
	}

	grant, ok := dec.Command.Command.(contracts.GrantItems)
	if !ok {
		t.Fatalf("expected GrantItems, got %T", dec.Command.Command)
	}
	if dec.Command.Destination != "inventory-grant-items" {
		t.Fatalf("unexpected destination %q", dec.Command.Destination)
	}
	if grant.Quantity != 3 || grant.CatalogItemID != item.ID || grant.UserID != userID || grant.CorrelationID != correlationID {
		t.Fatalf("unexpected GrantItems: %+v", grant)
	}
}

func TestMachine_AcceptPermanentFailuresFault(t *testing.T) {
	item := pricedItem(10)
	cases := []struct {
		name    string
		lookup  stubLookup
		routes  Routes
		qty     int
		contain string
	}{
		{name: "unknown item", lookup: stubLookup{err: catalog.ErrNotFound}, routes: testRoutes, qty: 1, contain: "unknown item"},
		{name: "missing route", lookup: stubLookup{item: item}, routes: Routes{}, qty: 1, contain: "no route"},
		{name: "zero quantity", lookup: stubLookup{item: item}, routes: testRoutes, qty: 0, contain: "quantity"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine(NewPurchaseTotalActivity(tc.lookup), tc.routes, newTestClock().Now)
			dec, err := m.Decide(context.Background(), nil, purchaseEvent(uuid.New(), item.ID, uuid.New(), tc.qty))
			if err != nil {
				t.Fatalf("Decide: %v", err)
			}
			if dec.Instance.CurrentState != saga.StateFaulted {
				t.Fatalf("expected Faulted, got %s", dec.Instance.CurrentState)
			}
			if dec.Instance.ErrorMessage == nil || !strings.Contains(*dec.Instance.ErrorMessage, tc.contain) {
				t.Fatalf("unexpected error message: %v", dec.Instance.ErrorMessage)
			}
			if dec.Command != nil {
				t.Fatalf("expected no command, got %+v", dec.Command)
			}
			if !dec.Notify {
				t.Fatalf("expected notification on fault")
			}
		})
	}
}

func TestMachine_AcceptTransientFailureIsReturned(t *testing.T) {
	boom := errors.New("catalog timeout")
	m := NewMachine(NewPurchaseTotalActivity(stubLookup{err: boom}), testRoutes, newTestClock().Now)

	_, err := m.Decide(context.Background(), nil, purchaseEvent(uuid.New(), uuid.New(), uuid.New(), 1))
	if !errors.Is(err, boom) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if IsPermanent(err) {
		t.Fatalf("transient error classified as permanent")
	}
}

func TestMachine_NonStartEventsIgnoredWithoutInstance(t *testing.T) {
	m := NewMachine(NewPurchaseTotalActivity(stubLookup{item: pricedItem(1)}), testRoutes, newTestClock().Now)
	id := uuid.New()
	events := []Event{
		ItemsGrantedEvent(contracts.InventoryItemsGranted{CorrelationID: id}),
		GilDebitedEvent(contracts.GilDebited{CorrelationID: id}),
		GrantItemsFaultedEvent(contracts.Fault[contracts.GrantItems]{Message: contracts.GrantItems{CorrelationID: id}}),
		DebitGilFaultedEvent(contracts.Fault[contracts.DebitGil]{Message: contracts.DebitGil{CorrelationID: id}}),
	}
	for _, ev := range events {
		dec, err := m.Decide(context.Background(), nil, ev)
		if err != nil {
			t.Fatalf("%s: %v", ev.Kind, err)
		}
		if dec.Outcome != OutcomeIgnore {
			t.Fatalf("%s: expected ignore, got %s", ev.Kind, dec.Outcome)
		}
	}
}

func TestMachine_TerminalStatesAbsorbEverything(t *testing.T) {
	m := NewMachine(NewPurchaseTotalActivity(stubLookup{item: pricedItem(1)}), testRoutes, newTestClock().Now)
	id := uuid.New()
	events := []Event{
		purchaseEvent(uuid.New(), uuid.New(), id, 1),
		ItemsGrantedEvent(contracts.InventoryItemsGranted{CorrelationID: id}),
		GilDebitedEvent(contracts.GilDebited{CorrelationID: id}),
		GrantItemsFaultedEvent(contracts.Fault[contracts.GrantItems]{Message: contracts.GrantItems{CorrelationID: id}}),
		DebitGilFaultedEvent(contracts.Fault[contracts.DebitGil]{Message: contracts.DebitGil{CorrelationID: id}}),
	}
	for _, state := range []saga.State{saga.StateCompleted, saga.StateFaulted} {
		inst := &saga.Instance{CorrelationID: id, CurrentState: state, Version: 4}
		for _, ev := range events {
			dec, err := m.Decide(context.Background(), inst, ev)
			if err != nil {
				t.Fatalf("%s/%s: %v", state, ev.Kind, err)
			}
			if dec.Outcome != OutcomeIgnore || dec.Command != nil || dec.Notify {
				t.Fatalf("%s/%s: expected silent ignore, got %+v", state, ev.Kind, dec)
			}
		}
	}
}

func TestMachine_LastUpdatedNeverBeforeReceived(t *testing.T) {
	clock := newTestClock()
	total := decimal.NewFromInt(5)
	m := NewMachine(NewPurchaseTotalActivity(stubLookup{item: pricedItem(5)}), testRoutes, clock.Now)
	inst := &saga.Instance{
		CorrelationID: uuid.New(),
		CurrentState:  saga.StateAccepted,
		PurchaseTotal: &total,
		Received:      clock.now,
		LastUpdated:   clock.now,
	}

	clock.Advance(-time.Hour)
	dec, err := m.Decide(context.Background(), inst, ItemsGrantedEvent(contracts.InventoryItemsGranted{CorrelationID: inst.CorrelationID}))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Instance.LastUpdated.Before(dec.Instance.Received) {
		t.Fatalf("LastUpdated %v before Received %v", dec.Instance.LastUpdated, dec.Instance.Received)
	}
}

func TestMachine_GrantFaultWithoutExceptionsUsesFallback(t *testing.T) {
	m := NewMachine(NewPurchaseTotalActivity(stubLookup{item: pricedItem(5)}), testRoutes, newTestClock().Now)
	id := uuid.New()
	inst := &saga.Instance{CorrelationID: id, CurrentState: saga.StateAccepted}

	dec, err := m.Decide(context.Background(), inst, GrantItemsFaultedEvent(contracts.Fault[contracts.GrantItems]{Message: contracts.GrantItems{CorrelationID: id}}))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if dec.Instance.CurrentState != saga.StateFaulted || dec.Instance.ErrorMessage == nil || *dec.Instance.ErrorMessage == "" {
		t.Fatalf("expected Faulted with a reason, got %+v", dec.Instance)
	}
	if dec.Command != nil {
		t.Fatalf("grant fault must not emit a command")
	}
}

func TestDecide_DoesNotMutateInput(t *testing.T) {
	total := decimal.NewFromInt(5)
	m := NewMachine(NewPurchaseTotalActivity(stubLookup{item: pricedItem(5)}), testRoutes, newTestClock().Now)
	inst := &saga.Instance{CorrelationID: uuid.New(), CurrentState: saga.StateItemsGranted, PurchaseTotal: &total}

	_, err := m.Decide(context.Background(), inst, DebitGilFaultedEvent(contracts.Fault[contracts.DebitGil]{
		Message:    contracts.DebitGil{CorrelationID: inst.CorrelationID},
		Exceptions: []contracts.ExceptionInfo{{Message: "insufficient funds"}},
	}))
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if inst.CurrentState != saga.StateItemsGranted || inst.ErrorMessage != nil {
		t.Fatalf("input instance mutated: %+v", inst)
	}
}
