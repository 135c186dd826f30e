package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// State captures the lifecycle position of a purchase saga.
type State string

const (
	StateInitial      State = "Initial"
	StateAccepted     State = "Accepted"
	StateItemsGranted State = "ItemsGranted"
	StateCompleted    State = "Completed"
	StateFaulted      State = "Faulted"
)

// States lists every state in lifecycle order.
var States = []State{StateInitial, StateAccepted, StateItemsGranted, StateCompleted, StateFaulted}

// Terminal reports whether no further transitions leave the state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFaulted
}

// Instance is the persisted state of one purchase, keyed by CorrelationID.
type Instance struct {
	CorrelationID uuid.UUID
	CurrentState  State
	UserID        uuid.UUID
	ItemID        uuid.UUID
	Quantity      int
	PurchaseTotal *decimal.Decimal
	Received      time.Time
	LastUpdated   time.Time
	ErrorMessage  *string
	Version       int64
}

// Clone returns a copy that shares no pointers with i.
func (i Instance) Clone() Instance {
	out := i
	if i.PurchaseTotal != nil {
		total := *i.PurchaseTotal
		out.PurchaseTotal = &total
	}
	if i.ErrorMessage != nil {
		msg := *i.ErrorMessage
		out.ErrorMessage = &msg
	}
	return out
}

// Snapshot is the read-only view of an instance handed to queries and notifications.
type Snapshot struct {
	CorrelationID uuid.UUID        `json:"correlationId"`
	CurrentState  State            `json:"currentState"`
	UserID        uuid.UUID        `json:"userId"`
	ItemID        uuid.UUID        `json:"itemId"`
	Quantity      int              `json:"quantity"`
	PurchaseTotal *decimal.Decimal `json:"purchaseTotal,omitempty"`
	Received      time.Time        `json:"received"`
	LastUpdated   time.Time        `json:"lastUpdated"`
	ErrorMessage  *string          `json:"errorMessage,omitempty"`
	Version       int64            `json:"version"`
}

// Snapshot copies the instance into its read-only view.
func (i Instance) Snapshot() Snapshot {
	c := i.Clone()
	return Snapshot{
		CorrelationID: c.CorrelationID,
		CurrentState:  c.CurrentState,
		UserID:        c.UserID,
		ItemID:        c.ItemID,
		Quantity:      c.Quantity,
		PurchaseTotal: c.PurchaseTotal,
		Received:      c.Received,
		LastUpdated:   c.LastUpdated,
		ErrorMessage:  c.ErrorMessage,
		Version:       c.Version,
	}
}

// OutboxMessage is an encoded command staged atomically with a saga write.
type OutboxMessage struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	Destination   string
	MessageType   string
	Payload       []byte
	CreatedAt     time.Time
}

// Store persists saga instances with optimistic concurrency.
type Store interface {
	// Load returns ErrNotFound when no instance exists.
	Load(ctx context.Context, correlationID uuid.UUID) (Instance, error)
	// Save writes inst only if the stored version equals expectedVersion
	// (0 means the instance must not exist yet) and stages outbox in the
	// same write. It returns the instance with its new version.
	Save(ctx context.Context, inst Instance, expectedVersion int64, outbox []OutboxMessage) (Instance, error)
}

// Outbox exposes staged messages to the relay.
type Outbox interface {
	PendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkDispatched(ctx context.Context, id uuid.UUID) error
}

// Notifier pushes status snapshots to the owning user. Delivery is best-effort.
type Notifier interface {
	NotifyStatus(ctx context.Context, snap Snapshot) error
}

var (
	ErrNotFound            = errors.New("saga instance not found")
	ErrConcurrencyConflict = errors.New("saga instance version conflict")
)
