package contracts

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Message type names carried in envelopes on the bus.
const (
	TypePurchaseRequested     = "trading.purchase-requested"
	TypeGetPurchaseState      = "trading.get-purchase-state"
	TypeInventoryItemsGranted = "inventory.items-granted"
	TypeGilDebited            = "identity.gil-debited"
	TypeGrantItems            = "inventory.grant-items"
	TypeDebitGil              = "identity.debit-gil"
	TypeSubtractItems         = "inventory.subtract-items"
)

const faultPrefix = "fault:"

// FaultType returns the message type of a fault wrapping the given command type.
func FaultType(commandType string) string {
	return faultPrefix + commandType
}

// PurchaseRequested starts a purchase saga. CorrelationID doubles as the idempotency id.
type PurchaseRequested struct {
	UserID        uuid.UUID `json:"userId"`
	ItemID        uuid.UUID `json:"itemId"`
	Quantity      int       `json:"quantity"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

// GetPurchaseState asks for the current snapshot of a saga.
type GetPurchaseState struct {
	CorrelationID uuid.UUID `json:"correlationId"`
}

// InventoryItemsGranted is published by the inventory service once items are granted.
type InventoryItemsGranted struct {
	CorrelationID uuid.UUID `json:"correlationId"`
}

// GilDebited is published by the identity service once the buyer was charged.
type GilDebited struct {
	CorrelationID uuid.UUID `json:"correlationId"`
}

// Command is a message the saga sends to a collaborating service.
type Command interface {
	MessageType() string
	Correlation() uuid.UUID
}

// GrantItems asks the inventory service to add items to a user.
type GrantItems struct {
	UserID        uuid.UUID `json:"userId"`
	CatalogItemID uuid.UUID `json:"catalogItemId"`
	Quantity      int       `json:"quantity"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

func (GrantItems) MessageType() string      { return TypeGrantItems }
func (c GrantItems) Correlation() uuid.UUID { return c.CorrelationID }

// DebitGil asks the identity service to charge a user.
type DebitGil struct {
	UserID        uuid.UUID       `json:"userId"`
	Gil           decimal.Decimal `json:"gil"`
	CorrelationID uuid.UUID       `json:"correlationId"`
}

func (DebitGil) MessageType() string      { return TypeDebitGil }
func (c DebitGil) Correlation() uuid.UUID { return c.CorrelationID }

// SubtractItems reverses a previous GrantItems.
type SubtractItems struct {
	UserID        uuid.UUID `json:"userId"`
	CatalogItemID uuid.UUID `json:"catalogItemId"`
	Quantity      int       `json:"quantity"`
	CorrelationID uuid.UUID `json:"correlationId"`
}

func (SubtractItems) MessageType() string      { return TypeSubtractItems }
func (c SubtractItems) Correlation() uuid.UUID { return c.CorrelationID }

// ExceptionInfo describes one failure reported inside a Fault.
type ExceptionInfo struct {
	ExceptionType string `json:"exceptionType,omitempty"`
	Message       string `json:"message"`
}

// Fault is published by the transport when a consumer of T gave up.
type Fault[T Command] struct {
	FaultID    uuid.UUID       `json:"faultId"`
	Message    T               `json:"message"`
	Exceptions []ExceptionInfo `json:"exceptions"`
	Timestamp  time.Time       `json:"timestamp"`
}

// CorrelationID is the correlation id of the wrapped command, not FaultID.
func (f Fault[T]) CorrelationID() uuid.UUID {
	return f.Message.Correlation()
}

// FirstExceptionMessage returns the message of the first exception, or "".
func (f Fault[T]) FirstExceptionMessage() string {
	if len(f.Exceptions) == 0 {
		return ""
	}
	return f.Exceptions[0].Message
}
