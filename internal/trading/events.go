package trading

import (
	"fmt"

	"trading/internal/contracts"

	"github.com/google/uuid"
)

// EventKind names the lifecycle events the state machine consumes.
type EventKind string

const (
	EventPurchaseRequested     EventKind = "PurchaseRequested"
	EventInventoryItemsGranted EventKind = "InventoryItemsGranted"
	EventGilDebited            EventKind = "GilDebited"
	EventGrantItemsFaulted     EventKind = "GrantItemsFaulted"
	EventDebitGilFaulted       EventKind = "DebitGilFaulted"
)

// EventKinds lists every lifecycle event kind.
var EventKinds = []EventKind{
	EventPurchaseRequested,
	EventInventoryItemsGranted,
	EventGilDebited,
	EventGrantItemsFaulted,
	EventDebitGilFaulted,
}

// Event is a decoded lifecycle message addressed to one saga instance.
type Event struct {
	Kind          EventKind
	CorrelationID uuid.UUID
	// Purchase is set for EventPurchaseRequested.
	Purchase *contracts.PurchaseRequested
	// FaultMessage is the first exception message of a fault event.
	FaultMessage string
}

func PurchaseRequestedEvent(m contracts.PurchaseRequested) Event {
	return Event{Kind: EventPurchaseRequested, CorrelationID: m.CorrelationID, Purchase: &m}
}

func ItemsGrantedEvent(m contracts.InventoryItemsGranted) Event {
	return Event{Kind: EventInventoryItemsGranted, CorrelationID: m.CorrelationID}
}

func GilDebitedEvent(m contracts.GilDebited) Event {
	return Event{Kind: EventGilDebited, CorrelationID: m.CorrelationID}
}

// GrantItemsFaultedEvent correlates by the faulted command, never by the fault's own id.
func GrantItemsFaultedEvent(f contracts.Fault[contracts.GrantItems]) Event {
	return Event{Kind: EventGrantItemsFaulted, CorrelationID: f.CorrelationID(), FaultMessage: f.FirstExceptionMessage()}
}

// DebitGilFaultedEvent correlates by the faulted command, never by the fault's own id.
func DebitGilFaultedEvent(f contracts.Fault[contracts.DebitGil]) Event {
	return Event{Kind: EventDebitGilFaulted, CorrelationID: f.CorrelationID(), FaultMessage: f.FirstExceptionMessage()}
}

type eventDecoder func(contracts.Envelope) (Event, error)

var eventDecoders = map[string]eventDecoder{
	contracts.TypePurchaseRequested: func(env contracts.Envelope) (Event, error) {
		var m contracts.PurchaseRequested
		if err := env.DecodePayload(&m); err != nil {
			return Event{}, err
		}
		return PurchaseRequestedEvent(m), nil
	},
	contracts.TypeInventoryItemsGranted: func(env contracts.Envelope) (Event, error) {
		var m contracts.InventoryItemsGranted
		if err := env.DecodePayload(&m); err != nil {
			return Event{}, err
		}
		return ItemsGrantedEvent(m), nil
	},
	contracts.TypeGilDebited: func(env contracts.Envelope) (Event, error) {
		var m contracts.GilDebited
		if err := env.DecodePayload(&m); err != nil {
			return Event{}, err
		}
		return GilDebitedEvent(m), nil
	},
	contracts.FaultType(contracts.TypeGrantItems): func(env contracts.Envelope) (Event, error) {
		var f contracts.Fault[contracts.GrantItems]
		if err := env.DecodePayload(&f); err != nil {
			return Event{}, err
		}
		return GrantItemsFaultedEvent(f), nil
	},
	contracts.FaultType(contracts.TypeDebitGil): func(env contracts.Envelope) (Event, error) {
		var f contracts.Fault[contracts.DebitGil]
		if err := env.DecodePayload(&f); err != nil {
			return Event{}, err
		}
		return DebitGilFaultedEvent(f), nil
	},
}

// DecodeEvent maps an envelope to a lifecycle event. Faults of SubtractItems
// and any other type the saga does not consume yield ErrUnknownMessageType.
func DecodeEvent(env contracts.Envelope) (Event, error) {
	decode, ok := eventDecoders[env.MessageType]
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrUnknownMessageType, env.MessageType)
	}
	ev, err := decode(env)
	if err != nil {
		return Event{}, err
	}
	if ev.CorrelationID == uuid.Nil {
		return Event{}, fmt.Errorf("%w: %s without correlation id", contracts.ErrMalformedEnvelope, env.MessageType)
	}
	return ev, nil
}
