// README: Order aggregate, lifecycle statuses, and the transition table.
package order

import (
	"time"

	"dispatch/internal/types"
)

type Status string

const (
	StatusOpen      Status = "open"
	StatusClaimed   Status = "claimed"
	StatusCancelled Status = "cancelled"
	StatusDone      Status = "done"
)

type Kind string

const (
	KindRide     Kind = "ride"
	KindDelivery Kind = "delivery"
)

func (k Kind) Valid() bool {
	return k == KindRide || k == KindDelivery
}

// SingleActive reports whether executors of this kind may hold at most one
// claimed order at a time.
func (k Kind) SingleActive() bool {
	return k == KindRide
}

// Location is a free-text query plus its geocoded resolution.
type Location struct {
	Query   string
	Address string
	types.Point
}

type Price struct {
	types.Money
	DistanceKm float64
	EtaMinutes int
}

type Order struct {
	ID           int64
	ShortID      string
	Kind         Kind
	City         string
	Status       Status
	Pickup       Location
	Dropoff      Location
	Price        Price
	ClientID     int64
	ClientChatID int64
	ClaimedBy    *int64
	ClaimedAt    *time.Time
	CompletedAt  *time.Time
	// ChannelChatID/ChannelMessageID address the currently published
	// announcement message, nil when none is live.
	ChannelChatID    *int64
	ChannelMessageID *int
	CreatedAt        time.Time
}

// AllowedTransitions represents the order state flow (diagram) as code.
// claimed → open is a release, done → claimed is a completion undo.
var AllowedTransitions = map[Status][]Status{
	StatusOpen:    {StatusClaimed, StatusCancelled},
	StatusClaimed: {StatusOpen, StatusDone, StatusCancelled},
	StatusDone:    {StatusClaimed},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type Role string

const (
	RoleDriver  Role = "driver"
	RoleCourier Role = "courier"
)

// RequiredRole maps an order kind to the executor role that may claim it.
func RequiredRole(k Kind) Role {
	if k == KindDelivery {
		return RoleCourier
	}
	return RoleDriver
}

// Actor is the engine's view of a resolved executor identity.
type Actor struct {
	ID            int64
	ChatID        int64
	Name          string
	Role          Role
	VerifiedKinds []Kind
	City          string
}

func (a Actor) Verified(k Kind) bool {
	for _, v := range a.VerifiedKinds {
		if v == k {
			return true
		}
	}
	return false
}
