package trading

import (
	"errors"
	"fmt"

	"trading/internal/catalog"
	"trading/internal/contracts"

	"github.com/google/uuid"
)

var (
	// ErrNoRoute indicates an outbound command type has no configured destination.
	ErrNoRoute = errors.New("no route for command")
	// ErrInvalidPurchase indicates a purchase request that can never succeed.
	ErrInvalidPurchase = errors.New("invalid purchase")
	// ErrUnknownMessageType indicates a bus message the saga does not consume.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrUnhandledTransition indicates a state/event pair missing from the transition table.
	ErrUnhandledTransition = errors.New("unhandled transition")
)

// UnknownItemError reports a purchase of an item missing from the catalog.
type UnknownItemError struct {
	ItemID uuid.UUID
}

func (e *UnknownItemError) Error() string {
	return fmt.Sprintf("unknown item %s", e.ItemID)
}

// IsPermanent reports whether retrying err can never succeed.
func IsPermanent(err error) bool {
	var unknown *UnknownItemError
	return errors.As(err, &unknown) ||
		errors.Is(err, ErrNoRoute) ||
		errors.Is(err, ErrInvalidPurchase) ||
		errors.Is(err, ErrUnknownMessageType) ||
		errors.Is(err, ErrUnhandledTransition) ||
		errors.Is(err, contracts.ErrMalformedEnvelope) ||
		errors.Is(err, catalog.ErrCorruptRecord)
}
