// README: Dispatch front door; authenticates telegram actors and routes their actions through the dedup guard into the lifecycle engine.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"dispatch/internal/modules/dedup"
	"dispatch/internal/modules/identity"
	"dispatch/internal/modules/order"
)

type Bot struct {
	api      *tgbotapi.BotAPI
	orders   *order.Service
	identity *identity.Store
	guard    *dedup.Guard
	log      *zap.Logger
}

func New(api *tgbotapi.BotAPI, orders *order.Service, ident *identity.Store, guard *dedup.Guard, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{api: api, orders: orders, identity: ident, guard: guard, log: log}
}

// Run consumes telegram updates until ctx is done. Each update is handled as
// an independent task; per-order serialization happens in the store, not here.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	action, idStr, ok := strings.Cut(cb.Data, ":")
	orderID, perr := strconv.ParseInt(idStr, 10, 64)
	if !ok || perr != nil {
		b.answer(cb.ID, "Неизвестное действие")
		return
	}

	actor, err := b.identity.Resolve(ctx, cb.From.ID)
	if errors.Is(err, identity.ErrUnknownActor) {
		b.answer(cb.ID, "Вы не зарегистрированы. Отправьте /start боту.")
		return
	}
	if err != nil {
		b.log.Error("identity resolve failed", zap.Int64("user_id", cb.From.ID), zap.Error(err))
		b.answer(cb.ID, replyTryLater)
		return
	}

	var reply string
	status, err := b.guard.Do(ctx, actor.ID, action, idStr, func(ctx context.Context) error {
		var ferr error
		reply, ferr = b.dispatch(ctx, action, orderID, actor)
		return ferr
	})
	if status == dedup.Duplicate {
		b.answer(cb.ID, "Запрос уже обрабатывается")
		return
	}
	if err != nil {
		b.log.Error("action failed",
			zap.String("action", action), zap.Int64("order_id", orderID),
			zap.Int64("actor_id", actor.ID), zap.Error(err))
		b.answer(cb.ID, replyTryLater)
		return
	}
	b.answer(cb.ID, reply)
}

// dispatch invokes one lifecycle operation and renders its outcome. Errors
// returned here are infrastructure failures only.
func (b *Bot) dispatch(ctx context.Context, action string, orderID int64, actor order.Actor) (string, error) {
	switch action {
	case "claim":
		out, o, err := b.orders.Claim(ctx, orderID, actor)
		if err != nil {
			return "", err
		}
		if out == order.OutcomeClaimed {
			b.sendClaimedCard(actor.ChatID, o)
		}
		return claimReply(out), nil
	case "decline":
		out, err := b.orders.Decline(ctx, orderID, actor.ID)
		if err != nil {
			return "", err
		}
		return declineReply(out), nil
	case "release":
		out, err := b.orders.Release(ctx, orderID, actor.ID)
		if err != nil {
			return "", err
		}
		if out == order.OutcomeReleased || out == order.OutcomeReleasedManual {
			b.sendUndoCard(actor.ChatID, orderID, "undo_release", "Заказ возвращён в ленту.")
		}
		return releaseReply(out), nil
	case "complete":
		out, err := b.orders.Complete(ctx, orderID, actor.ID)
		if err != nil {
			return "", err
		}
		if out == order.OutcomeCompleted {
			b.sendUndoCard(actor.ChatID, orderID, "undo_complete", "Заказ завершён. Спасибо!")
		}
		return completeReply(out), nil
	case "undo_release":
		out, err := b.orders.UndoRelease(ctx, orderID, actor.ID)
		if err != nil {
			return "", err
		}
		if out == order.OutcomeUndone {
			if o, gerr := b.orders.Get(ctx, orderID); gerr == nil {
				b.sendClaimedCard(actor.ChatID, o)
			}
		}
		return undoReply(out), nil
	case "undo_complete":
		out, err := b.orders.UndoComplete(ctx, orderID, actor.ID)
		if err != nil {
			return "", err
		}
		return undoReply(out), nil
	default:
		return "Неизвестное действие", nil
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "mine":
		b.handleMine(ctx, msg)
	case "release":
		b.handleOrderCommand(ctx, msg, "release")
	case "done":
		b.handleOrderCommand(ctx, msg, "complete")
	case "undo":
		b.handleOrderCommand(ctx, msg, "undo")
	case "help":
		b.send(msg.Chat.ID, helpText)
	default:
		b.send(msg.Chat.ID, "Неизвестная команда. /help — список команд.")
	}
}

// handleStart registers an executor: /start <driver|courier> <city>.
// Verification itself is a moderation flow outside the bot.
func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) != 2 {
		b.send(msg.Chat.ID, "Использование: /start <driver|courier> <город>")
		return
	}
	role := order.Role(args[0])
	if role != order.RoleDriver && role != order.RoleCourier {
		b.send(msg.Chat.ID, "Роль должна быть driver или courier")
		return
	}
	err := b.identity.Register(ctx, order.Actor{
		ID:     msg.From.ID,
		ChatID: msg.Chat.ID,
		Name:   strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName),
		Role:   role,
		City:   strings.ToLower(args[1]),
	})
	if err != nil {
		b.log.Error("executor registration failed", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		b.send(msg.Chat.ID, replyTryLater)
		return
	}
	b.send(msg.Chat.ID, "Заявка принята. Доступ к заказам откроется после проверки документов.")
}

func (b *Bot) handleMine(ctx context.Context, msg *tgbotapi.Message) {
	orders, err := b.orders.ListClaimedBy(ctx, msg.From.ID)
	if err != nil {
		b.log.Error("list claimed failed", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		b.send(msg.Chat.ID, replyTryLater)
		return
	}
	if len(orders) == 0 {
		b.send(msg.Chat.ID, "У вас нет активных заказов.")
		return
	}
	for _, o := range orders {
		b.sendClaimedCard(msg.Chat.ID, o)
	}
}

// handleOrderCommand is the command twin of the inline buttons: the executor
// names the order by its short code, e.g. /done 3F9A21C4.
func (b *Bot) handleOrderCommand(ctx context.Context, msg *tgbotapi.Message, action string) {
	shortID := strings.ToUpper(strings.TrimSpace(msg.CommandArguments()))
	if shortID == "" {
		b.send(msg.Chat.ID, fmt.Sprintf("Использование: /%s <код заказа>", msg.Command()))
		return
	}

	actor, err := b.identity.Resolve(ctx, msg.From.ID)
	if errors.Is(err, identity.ErrUnknownActor) {
		b.send(msg.Chat.ID, "Вы не зарегистрированы. Отправьте /start боту.")
		return
	}
	if err != nil {
		b.log.Error("identity resolve failed", zap.Int64("user_id", msg.From.ID), zap.Error(err))
		b.send(msg.Chat.ID, replyTryLater)
		return
	}

	o, err := b.orders.GetByShortID(ctx, shortID)
	if errors.Is(err, order.ErrNotFound) {
		b.send(msg.Chat.ID, "Заказ не найден.")
		return
	}
	if err != nil {
		b.log.Error("order lookup failed", zap.String("short_id", shortID), zap.Error(err))
		b.send(msg.Chat.ID, replyTryLater)
		return
	}

	if action == "undo" {
		// which undo applies follows from where the order is now
		switch o.Status {
		case order.StatusOpen:
			action = "undo_release"
		case order.StatusDone:
			action = "undo_complete"
		default:
			b.send(msg.Chat.ID, "Нечего отменять.")
			return
		}
	}

	var reply string
	status, err := b.guard.Do(ctx, actor.ID, action, shortID, func(ctx context.Context) error {
		var ferr error
		reply, ferr = b.dispatch(ctx, action, o.ID, actor)
		return ferr
	})
	if status == dedup.Duplicate {
		b.send(msg.Chat.ID, "Запрос уже обрабатывается")
		return
	}
	if err != nil {
		b.log.Error("command failed",
			zap.String("action", action), zap.String("short_id", shortID),
			zap.Int64("actor_id", actor.ID), zap.Error(err))
		b.send(msg.Chat.ID, replyTryLater)
		return
	}
	b.send(msg.Chat.ID, reply)
}

// sendClaimedCard DMs the executor their active order with complete/release
// actions attached.
func (b *Bot) sendClaimedCard(chatID int64, o *order.Order) {
	text := fmt.Sprintf("Ваш заказ %s\nОткуда: %s\nКуда: %s",
		o.ShortID, locationLine(o.Pickup), locationLine(o.Dropoff))
	if o.Price.Amount > 0 {
		text += fmt.Sprintf("\n%d %s", o.Price.Amount, o.Price.Currency)
	}
	m := tgbotapi.NewMessage(chatID, text)
	m.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Выполнено", fmt.Sprintf("complete:%d", o.ID)),
		tgbotapi.NewInlineKeyboardButtonData("↩️ Отказаться", fmt.Sprintf("release:%d", o.ID)),
	))
	if _, err := b.api.Send(m); err != nil {
		b.log.Warn("claimed card send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// sendUndoCard offers the short-lived undo action after a release or
// completion.
func (b *Bot) sendUndoCard(chatID int64, orderID int64, action, text string) {
	m := tgbotapi.NewMessage(chatID, text+"\nМожно отменить в течение 2 минут.")
	m.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("↪️ Вернуть", fmt.Sprintf("%s:%d", action, orderID)),
	))
	if _, err := b.api.Send(m); err != nil {
		b.log.Warn("undo card send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// NotifyClient implements order.Notifier over the requester's chat.
func (b *Bot) NotifyClient(_ context.Context, o *order.Order, event order.Event) {
	if o.ClientChatID == 0 {
		return
	}
	var text string
	switch event {
	case order.EventClaimed:
		text = fmt.Sprintf("По заказу %s найден исполнитель.", o.ShortID)
	case order.EventReleased:
		text = fmt.Sprintf("Исполнитель отказался от заказа %s, ищем нового.", o.ShortID)
	case order.EventCompleted:
		text = fmt.Sprintf("Заказ %s выполнен.", o.ShortID)
	case order.EventRestored:
		text = fmt.Sprintf("Заказ %s снова в работе.", o.ShortID)
	case order.EventManual:
		text = fmt.Sprintf("Заказ %s требует ручной обработки, с вами свяжется оператор.", o.ShortID)
	default:
		return
	}
	b.send(o.ClientChatID, text)
}

func (b *Bot) send(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.log.Warn("message send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Warn("callback answer failed", zap.Error(err))
	}
}

func locationLine(l order.Location) string {
	if l.Address != "" {
		return l.Address
	}
	return l.Query
}
