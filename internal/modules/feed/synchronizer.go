// README: Publication synchronizer; keeps the one announcement message per order in step with the store.
package feed

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dispatch/internal/modules/order"
)

// announcementBinder persists a freshly sent message address on the order row
// inside the transaction that read the row. Satisfied by *order.Store.
type announcementBinder interface {
	BindAnnouncement(ctx context.Context, orderID int64, send func(*order.Order) (int64, int, error)) (order.PublishResult, *order.Order, error)
}

type Synchronizer struct {
	store     announcementBinder
	transport Transport
	dest      Destinations
	states    *stateCache
	dismissed *dismissalSet
	log       *zap.Logger
}

func NewSynchronizer(store announcementBinder, transport Transport, dest Destinations, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{
		store:     store,
		transport: transport,
		dest:      dest,
		states:    newStateCache(),
		dismissed: newDismissalSet(),
		log:       log,
	}
}

// Publish sends the announcement for an open order, publish-once under the
// order row lock. All failure modes are outcomes; callers decide whether to
// keep the order pending or escalate.
func (s *Synchronizer) Publish(ctx context.Context, o *order.Order) order.Outcome {
	chatID, ok := s.dest.FeedChat(o.City, o.Kind)
	if !ok {
		return order.OutcomeMissingDestination
	}

	var text string
	res, bound, err := s.store.BindAnnouncement(ctx, o.ID, func(locked *order.Order) (int64, int, error) {
		text = renderOpen(locked)
		messageID, sendErr := s.transport.Send(ctx, chatID, text, claimActions(locked.ID))
		return chatID, messageID, sendErr
	})
	if err != nil {
		s.log.Warn("announcement publish failed",
			zap.Int64("order_id", o.ID), zap.Int64("chat_id", chatID), zap.Error(err))
		return order.OutcomePublishFailed
	}
	switch res {
	case order.PublishOK:
		s.states.put(o.ID, messageState{
			chatID:    chatID,
			messageID: *bound.ChannelMessageID,
			baseText:  text,
			rendered:  order.StatusOpen,
		})
		return order.OutcomePublished
	case order.PublishAlready:
		return order.OutcomeAlreadyPublished
	case order.PublishOrderNotFound:
		return order.OutcomeNotFound
	case order.PublishNotOpen:
		return order.OutcomeAlreadyProcessed
	default:
		return order.OutcomePublishFailed
	}
}

// Republish retracts the stale announcement, forgets dismissals, and
// publishes fresh. Used after a release returns the order to the feed.
func (s *Synchronizer) Republish(ctx context.Context, o *order.Order) order.Outcome {
	s.retract(ctx, o)
	s.dismissed.clear(o.ID)
	return s.Publish(ctx, o)
}

// Reflect brings the announcement in line with o.Status. Claimed orders
// disappear from the feed (edit fallback when deletion fails); cancelled ones
// get a terminal edit. A matching rendered status short-circuits to avoid
// redundant external calls.
func (s *Synchronizer) Reflect(ctx context.Context, o *order.Order) {
	st, cached := s.states.get(o.ID)
	if cached && st.rendered == o.Status {
		return
	}
	if !cached {
		// Cold cache after a restart: fall back to the address on the order
		// snapshot; with no address there is nothing left to sync.
		if o.ChannelChatID == nil || o.ChannelMessageID == nil {
			return
		}
		st = messageState{
			chatID:    *o.ChannelChatID,
			messageID: *o.ChannelMessageID,
			baseText:  renderOpen(o),
		}
	}

	switch o.Status {
	case order.StatusClaimed:
		if err := s.transport.Delete(ctx, st.chatID, st.messageID); err != nil {
			s.log.Warn("announcement delete failed, editing instead",
				zap.Int64("order_id", o.ID), zap.Error(err))
			s.edit(ctx, o.ID, st, st.baseText+"\n\n✅ Уже занят", order.StatusClaimed)
			return
		}
		// Keep the entry with the target status so repeat reflects (and cold
		// snapshots still carrying the old address) stay no-ops.
		st.rendered = order.StatusClaimed
		s.states.put(o.ID, st)
	case order.StatusCancelled:
		s.edit(ctx, o.ID, st, st.baseText+"\n\n❌ Отменён", order.StatusCancelled)
	case order.StatusOpen, order.StatusDone:
		// open is handled by Publish/Republish; done never has a live message
	}
}

func (s *Synchronizer) edit(ctx context.Context, orderID int64, st messageState, text string, rendered order.Status) {
	if err := s.transport.Edit(ctx, st.chatID, st.messageID, text, nil); err != nil {
		s.log.Warn("announcement edit failed", zap.Int64("order_id", orderID), zap.Error(err))
		return
	}
	st.rendered = rendered
	s.states.put(orderID, st)
}

// retract removes the current announcement, preferring the cache and falling
// back to the address retained on the order snapshot.
func (s *Synchronizer) retract(ctx context.Context, o *order.Order) {
	st, cached := s.states.get(o.ID)
	if !cached {
		if o.ChannelChatID == nil || o.ChannelMessageID == nil {
			return
		}
		st = messageState{chatID: *o.ChannelChatID, messageID: *o.ChannelMessageID}
	}
	if err := s.transport.Delete(ctx, st.chatID, st.messageID); err != nil {
		s.log.Warn("stale announcement delete failed", zap.Int64("order_id", o.ID), zap.Error(err))
	}
	s.states.drop(o.ID)
}

func (s *Synchronizer) Dismiss(orderID, actorID int64) bool {
	return s.dismissed.add(orderID, actorID)
}

func (s *Synchronizer) ClearDismissals(orderID int64) {
	s.dismissed.clear(orderID)
}

func renderOpen(o *order.Order) string {
	icon := "🚕"
	label := "Поездка"
	if o.Kind == order.KindDelivery {
		icon = "📦"
		label = "Доставка"
	}
	pickup := o.Pickup.Address
	if pickup == "" {
		pickup = o.Pickup.Query
	}
	dropoff := o.Dropoff.Address
	if dropoff == "" {
		dropoff = o.Dropoff.Query
	}
	text := fmt.Sprintf("%s %s %s — %s\nОткуда: %s\nКуда: %s",
		icon, label, o.ShortID, o.City, pickup, dropoff)
	if o.Price.Amount > 0 {
		text += fmt.Sprintf("\n%d %s · %.1f км · ~%d мин",
			o.Price.Amount, o.Price.Currency, o.Price.DistanceKm, o.Price.EtaMinutes)
	}
	return text
}

func claimActions(orderID int64) []Action {
	return []Action{
		{Label: "✅ Принять", Data: fmt.Sprintf("claim:%d", orderID)},
		{Label: "🚫 Скрыть", Data: fmt.Sprintf("decline:%d", orderID)},
	}
}
