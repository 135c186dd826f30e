package trading

import (
	"context"
	"fmt"
	"time"

	"trading/internal/contracts"
	"trading/internal/trading/saga"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome says whether a decision changes the instance.
type Outcome int

const (
	OutcomeIgnore Outcome = iota
	OutcomeTransition
)

func (o Outcome) String() string {
	if o == OutcomeTransition {
		return "transition"
	}
	return "ignore"
}

// OutboundCommand is a command bound to its destination.
type OutboundCommand struct {
	Destination string
	Command     contracts.Command
}

// Decision is the result of applying one event to one instance.
type Decision struct {
	Outcome  Outcome
	From     saga.State
	Instance saga.Instance
	Command  *OutboundCommand
	Notify   bool
}

// PriceCalculator computes the total of a purchase.
type PriceCalculator interface {
	Execute(ctx context.Context, itemID uuid.UUID, quantity int) (decimal.Decimal, error)
}

type transitionFunc func(m *Machine, ctx context.Context, inst saga.Instance, ev Event) (Decision, error)

func ignore(*Machine, context.Context, saga.Instance, Event) (Decision, error) {
	return Decision{Outcome: OutcomeIgnore}, nil
}

// transitions is total over saga.States x EventKinds. Instances that do not
// exist yet are evaluated in StateInitial.
var transitions = map[saga.State]map[EventKind]transitionFunc{
	saga.StateInitial: {
		EventPurchaseRequested:     (*Machine).accept,
		EventInventoryItemsGranted: ignore,
		EventGilDebited:            ignore,
		EventGrantItemsFaulted:     ignore,
		EventDebitGilFaulted:       ignore,
	},
	saga.StateAccepted: {
		EventPurchaseRequested:     ignore,
		EventInventoryItemsGranted: (*Machine).itemsGranted,
		EventGilDebited:            ignore,
		EventGrantItemsFaulted:     (*Machine).grantFaulted,
		EventDebitGilFaulted:       ignore,
	},
	saga.StateItemsGranted: {
		EventPurchaseRequested:     ignore,
		EventInventoryItemsGranted: ignore,
		EventGilDebited:            (*Machine).gilDebited,
		EventGrantItemsFaulted:     ignore,
		EventDebitGilFaulted:       (*Machine).debitFaulted,
	},
	saga.StateCompleted: {
		EventPurchaseRequested:     ignore,
		EventInventoryItemsGranted: ignore,
		EventGilDebited:            ignore,
		EventGrantItemsFaulted:     ignore,
		EventDebitGilFaulted:       ignore,
	},
	saga.StateFaulted: {
		EventPurchaseRequested:     ignore,
		EventInventoryItemsGranted: ignore,
		EventGilDebited:            ignore,
		EventGrantItemsFaulted:     ignore,
		EventDebitGilFaulted:       ignore,
	},
}

// Machine decides purchase saga transitions. It holds no instance state.
type Machine struct {
	pricing PriceCalculator
	routes  Routes
	now     func() time.Time
}

// NewMachine constructs a Machine. now defaults to time.Now in UTC.
func NewMachine(pricing PriceCalculator, routes Routes, now func() time.Time) *Machine {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Machine{pricing: pricing, routes: routes, now: now}
}

// Decide applies ev to current, which is nil when no instance exists.
// Permanent business failures become Faulted decisions; transient failures
// are returned so the delivery can be retried.
func (m *Machine) Decide(ctx context.Context, current *saga.Instance, ev Event) (Decision, error) {
	state := saga.StateInitial
	var inst saga.Instance
	if current != nil {
		inst = current.Clone()
		state = inst.CurrentState
	}

	handle, ok := transitions[state][ev.Kind]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s in %s", ErrUnhandledTransition, ev.Kind, state)
	}
	dec, err := handle(m, ctx, inst, ev)
	if err != nil {
		return Decision{}, err
	}
	dec.From = state
	return dec, nil
}

func (m *Machine) accept(ctx context.Context, _ saga.Instance, ev Event) (Decision, error) {
	if ev.Purchase == nil {
		return Decision{}, fmt.Errorf("%w: purchase request without payload", ErrInvalidPurchase)
	}
	now := m.now()
	inst := saga.Instance{
		CorrelationID: ev.CorrelationID,
		CurrentState:  saga.StateInitial,
		UserID:        ev.Purchase.UserID,
		ItemID:        ev.Purchase.ItemID,
		Quantity:      ev.Purchase.Quantity,
		Received:      now,
		LastUpdated:   now,
	}

	cmd, err := m.startPurchase(ctx, &inst)
	if err != nil {
		if !IsPermanent(err) {
			return Decision{}, err
		}
		return m.fault(inst, err.Error(), nil), nil
	}

	inst.CurrentState = saga.StateAccepted
	return Decision{Outcome: OutcomeTransition, Instance: inst, Command: cmd}, nil
}

func (m *Machine) startPurchase(ctx context.Context, inst *saga.Instance) (*OutboundCommand, error) {
	if inst.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidPurchase, inst.Quantity)
	}
	total, err := m.pricing.Execute(ctx, inst.ItemID, inst.Quantity)
	if err != nil {
		return nil, err
	}
	inst.PurchaseTotal = &total
	return m.route(contracts.GrantItems{
		UserID:        inst.UserID,
		CatalogItemID: inst.ItemID,
		Quantity:      inst.Quantity,
		CorrelationID: inst.CorrelationID,
	})
}

func (m *Machine) itemsGranted(_ context.Context, inst saga.Instance, _ Event) (Decision, error) {
	if inst.PurchaseTotal == nil {
		return Decision{}, fmt.Errorf("%w: purchase %s accepted without a total", ErrInvalidPurchase, inst.CorrelationID)
	}
	cmd, err := m.route(contracts.DebitGil{
		UserID:        inst.UserID,
		Gil:           *inst.PurchaseTotal,
		CorrelationID: inst.CorrelationID,
	})
	if err != nil {
		return Decision{}, err
	}
	m.touch(&inst)
	inst.CurrentState = saga.StateItemsGranted
	return Decision{Outcome: OutcomeTransition, Instance: inst, Command: cmd}, nil
}

func (m *Machine) grantFaulted(_ context.Context, inst saga.Instance, ev Event) (Decision, error) {
	return m.fault(inst, faultReason(ev, "grant items failed"), nil), nil
}

func (m *Machine) gilDebited(_ context.Context, inst saga.Instance, _ Event) (Decision, error) {
	m.touch(&inst)
	inst.CurrentState = saga.StateCompleted
	return Decision{Outcome: OutcomeTransition, Instance: inst, Notify: true}, nil
}

func (m *Machine) debitFaulted(_ context.Context, inst saga.Instance, ev Event) (Decision, error) {
	cmd, err := m.route(contracts.SubtractItems{
		UserID:        inst.UserID,
		CatalogItemID: inst.ItemID,
		Quantity:      inst.Quantity,
		CorrelationID: inst.CorrelationID,
	})
	if err != nil {
		return Decision{}, err
	}
	return m.fault(inst, faultReason(ev, "debit gil failed"), cmd), nil
}

func (m *Machine) fault(inst saga.Instance, reason string, cmd *OutboundCommand) Decision {
	m.touch(&inst)
	inst.ErrorMessage = &reason
	inst.CurrentState = saga.StateFaulted
	return Decision{Outcome: OutcomeTransition, Instance: inst, Command: cmd, Notify: true}
}

// touch advances LastUpdated without ever moving it before Received.
func (m *Machine) touch(inst *saga.Instance) {
	now := m.now()
	if now.Before(inst.Received) {
		now = inst.Received
	}
	inst.LastUpdated = now
}

func (m *Machine) route(cmd contracts.Command) (*OutboundCommand, error) {
	dest, err := m.routes.Destination(cmd.MessageType())
	if err != nil {
		return nil, err
	}
	return &OutboundCommand{Destination: dest, Command: cmd}, nil
}

func faultReason(ev Event, fallback string) string {
	if ev.FaultMessage != "" {
		return ev.FaultMessage
	}
	return fallback
}
