// README: Order lifecycle engine; composes the store, undo windows, dedup-free publication, and notifications.
package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher keeps the single announcement message per order in sync with the
// store. Implemented by the feed synchronizer.
type Publisher interface {
	// Publish sends the announcement for an open order, once.
	Publish(ctx context.Context, o *Order) Outcome
	// Republish retracts the stale announcement and publishes a fresh one.
	Republish(ctx context.Context, o *Order) Outcome
	// Reflect updates or removes the announcement to match o.Status.
	Reflect(ctx context.Context, o *Order)
	// Dismiss records a per-actor decline; false means already dismissed.
	Dismiss(orderID, actorID int64) bool
	ClearDismissals(orderID int64)
}

// UndoWindows tracks who may reverse the last release or completion.
type UndoWindows interface {
	Open(orderID, executorID int64, ttl time.Duration)
	Consume(orderID int64) (executorID int64, ok bool)
	Peek(orderID int64) (executorID int64, ok bool)
}

type Event string

const (
	EventClaimed   Event = "claimed"
	EventReleased  Event = "released"
	EventCompleted Event = "completed"
	EventManual    Event = "manual"
	EventRestored  Event = "restored"
)

// Notifier delivers lifecycle events to the order's requester.
type Notifier interface {
	NotifyClient(ctx context.Context, o *Order, event Event)
}

type Quote struct {
	Pickup  Location
	Dropoff Location
	Price   Price
}

type Pricing interface {
	Quote(ctx context.Context, pickupQuery, dropoffQuery string, kind Kind) (Quote, error)
}

var ErrBadRequest = errors.New("bad request")

type Service struct {
	store   *Store
	pricing Pricing
	undo    UndoWindows
	pub     Publisher
	notify  Notifier
	undoTTL time.Duration
	log     *zap.Logger
}

func NewService(store *Store, pricing Pricing, undo UndoWindows, pub Publisher, undoTTL time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, pricing: pricing, undo: undo, pub: pub, undoTTL: undoTTL, log: log}
}

// SetNotifier breaks the construction cycle with the front door, which both
// calls the service and delivers its notifications.
func (s *Service) SetNotifier(n Notifier) { s.notify = n }

func (s *Service) notifyClient(ctx context.Context, o *Order, ev Event) {
	if s.notify != nil {
		s.notify.NotifyClient(ctx, o, ev)
	}
}

type CreateCommand struct {
	ClientID     int64
	ClientChatID int64
	Kind         Kind
	City         string
	PickupQuery  string
	DropoffQuery string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.ClientID == 0 || cmd.City == "" || !cmd.Kind.Valid() ||
		cmd.PickupQuery == "" || cmd.DropoffQuery == "" {
		return nil, ErrBadRequest
	}

	o := &Order{
		ShortID:      newShortID(),
		Kind:         cmd.Kind,
		City:         cmd.City,
		Status:       StatusOpen,
		Pickup:       Location{Query: cmd.PickupQuery},
		Dropoff:      Location{Query: cmd.DropoffQuery},
		ClientID:     cmd.ClientID,
		ClientChatID: cmd.ClientChatID,
		CreatedAt:    time.Now().UTC(),
	}
	if s.pricing != nil {
		q, err := s.pricing.Quote(ctx, cmd.PickupQuery, cmd.DropoffQuery, cmd.Kind)
		if err != nil {
			s.log.Warn("quote failed, creating order unpriced",
				zap.String("short_id", o.ShortID), zap.Error(err))
		} else {
			o.Pickup = q.Pickup
			o.Dropoff = q.Dropoff
			o.Price = q.Price
		}
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// Publish sends the announcement message for an open order. Idempotent: an
// order that already carries a message id reports already_published.
func (s *Service) Publish(ctx context.Context, orderID int64) (Outcome, error) {
	o, err := s.store.Get(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if o.ChannelMessageID != nil {
		return OutcomeAlreadyPublished, nil
	}
	if o.Status != StatusOpen {
		return OutcomeAlreadyProcessed, nil
	}
	return s.pub.Publish(ctx, o), nil
}

// Claim is the competitive path: of N concurrent attempts exactly one wins.
// All eligibility checks run inside the store transaction on the locked row.
func (s *Service) Claim(ctx context.Context, orderID int64, actor Actor) (Outcome, *Order, error) {
	res, o, err := s.store.Claim(ctx, orderID, actor)
	if err != nil {
		return "", nil, err
	}
	switch res {
	case ClaimNotFound:
		return OutcomeNotFound, nil, nil
	case ClaimNotOpen:
		return OutcomeAlreadyProcessed, o, nil
	case ClaimCityMismatch:
		return OutcomeCityMismatch, o, nil
	case ClaimForbiddenKind:
		return OutcomeForbiddenKind, o, nil
	case ClaimUnverified:
		return OutcomeUnverified, o, nil
	case ClaimLimitExceeded:
		return OutcomeLimitExceeded, o, nil
	case ClaimLost:
		return OutcomeAlreadyTaken, nil, nil
	}

	s.pub.ClearDismissals(o.ID)
	s.pub.Reflect(ctx, o)
	s.notifyClient(ctx, o, EventClaimed)
	return OutcomeClaimed, o, nil
}

// Decline never mutates the order; it only parks the actor in the dismissal
// set, or clears the set when the action is stale.
func (s *Service) Decline(ctx context.Context, orderID, actorID int64) (Outcome, error) {
	o, err := s.store.Get(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if o.Status != StatusOpen {
		s.pub.ClearDismissals(orderID)
		return OutcomeStale, nil
	}
	s.pub.Dismiss(orderID, actorID)
	return OutcomeDeclined, nil
}

// Release returns a claimed order to the feed and opens the undo window for
// the releasing executor. A failed republication keeps the order open and
// flags it for manual handling instead of dropping it from sight.
func (s *Service) Release(ctx context.Context, orderID, actorID int64) (Outcome, error) {
	o, err := s.store.Release(ctx, orderID, actorID)
	if err != nil {
		return "", err
	}
	if o == nil {
		if _, gerr := s.store.Get(ctx, orderID); errors.Is(gerr, ErrNotFound) {
			return OutcomeNotFound, nil
		} else if gerr != nil {
			return "", gerr
		}
		return OutcomeNotClaimed, nil
	}

	out := s.pub.Republish(ctx, o)
	s.undo.Open(o.ID, actorID, s.undoTTL)

	if out == OutcomePublished {
		s.notifyClient(ctx, o, EventReleased)
		return OutcomeReleased, nil
	}
	s.log.Warn("republish after release failed, order kept open for manual handling",
		zap.Int64("order_id", o.ID), zap.String("publish_outcome", string(out)))
	s.notifyClient(ctx, o, EventManual)
	return OutcomeReleasedManual, nil
}

func (s *Service) Complete(ctx context.Context, orderID, actorID int64) (Outcome, error) {
	o, err := s.store.Complete(ctx, orderID, actorID)
	if err != nil {
		return "", err
	}
	if o == nil {
		if _, gerr := s.store.Get(ctx, orderID); errors.Is(gerr, ErrNotFound) {
			return OutcomeNotFound, nil
		} else if gerr != nil {
			return "", gerr
		}
		return OutcomeNotClaimed, nil
	}
	s.undo.Open(o.ID, actorID, s.undoTTL)
	s.notifyClient(ctx, o, EventCompleted)
	return OutcomeCompleted, nil
}

// UndoRelease lets the releasing executor take the order back, provided
// nobody claimed it in the meantime.
func (s *Service) UndoRelease(ctx context.Context, orderID, actorID int64) (Outcome, error) {
	out := s.consumeWindow(orderID, actorID)
	if out != "" {
		return out, nil
	}
	o, err := s.store.ReclaimAfterRelease(ctx, orderID, actorID)
	if err != nil {
		return "", err
	}
	if o == nil {
		return OutcomeTooLate, nil
	}
	s.pub.ClearDismissals(o.ID)
	s.pub.Reflect(ctx, o)
	s.notifyClient(ctx, o, EventClaimed)
	return OutcomeUndone, nil
}

// UndoComplete restores a just-completed order to claimed.
func (s *Service) UndoComplete(ctx context.Context, orderID, actorID int64) (Outcome, error) {
	out := s.consumeWindow(orderID, actorID)
	if out != "" {
		return out, nil
	}
	o, err := s.store.RestoreCompleted(ctx, orderID, actorID)
	if err != nil {
		return "", err
	}
	if o == nil {
		return OutcomeTooLate, nil
	}
	s.notifyClient(ctx, o, EventRestored)
	return OutcomeUndone, nil
}

// consumeWindow validates and burns the undo record. Peek first so a
// wrong-actor attempt does not consume somebody else's window.
func (s *Service) consumeWindow(orderID, actorID int64) Outcome {
	ex, ok := s.undo.Peek(orderID)
	if !ok {
		return OutcomeExpired
	}
	if ex != actorID {
		return OutcomeNotYours
	}
	ex, ok = s.undo.Consume(orderID)
	if !ok {
		return OutcomeExpired
	}
	if ex != actorID {
		return OutcomeNotYours
	}
	return ""
}

func (s *Service) CancelByClient(ctx context.Context, orderID, clientID int64) (Outcome, *Order, error) {
	o, err := s.store.CancelByClient(ctx, orderID, clientID)
	if err != nil {
		return "", nil, err
	}
	if o == nil {
		return OutcomeNotFound, nil, nil
	}
	s.pub.ClearDismissals(o.ID)
	s.pub.Reflect(ctx, o)
	return OutcomeCancelled, o, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetByShortID(ctx context.Context, shortID string) (*Order, error) {
	return s.store.GetByShortID(ctx, shortID)
}

func (s *Service) ListClaimedBy(ctx context.Context, actorID int64) ([]*Order, error) {
	return s.store.ListClaimedBy(ctx, actorID)
}

func newShortID() string {
	return strings.ToUpper(uuid.NewString()[:8])
}
