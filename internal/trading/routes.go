package trading

import (
	"fmt"

	"trading/internal/contracts"
)

// Routes maps outbound command types to their destination queue or stream.
type Routes map[string]string

// NewRoutes builds the routing table for the three saga commands.
func NewRoutes(grantItems, debitGil, subtractItems string) Routes {
	routes := Routes{}
	if grantItems != "" {
		routes[contracts.TypeGrantItems] = grantItems
	}
	if debitGil != "" {
		routes[contracts.TypeDebitGil] = debitGil
	}
	if subtractItems != "" {
		routes[contracts.TypeSubtractItems] = subtractItems
	}
	return routes
}

// Destination returns the configured destination or ErrNoRoute.
func (r Routes) Destination(messageType string) (string, error) {
	dest, ok := r[messageType]
	if !ok || dest == "" {
		return "", fmt.Errorf("%w: %s", ErrNoRoute, messageType)
	}
	return dest, nil
}
