// README: Outcome-to-reply rendering for callback answers.
package bot

import "dispatch/internal/modules/order"

const replyTryLater = "Сервис временно недоступен, попробуйте позже."

const helpText = `Команды:
/start <driver|courier> <город> — регистрация исполнителя
/mine — ваши активные заказы
/release <код> — отказаться от заказа
/done <код> — отметить заказ выполненным
/undo <код> — отменить последний отказ или завершение
/help — эта справка

Заказы появляются в ленте вашего города. Кнопка «Принять» закрепляет заказ за вами.`

func claimReply(out order.Outcome) string {
	switch out {
	case order.OutcomeClaimed:
		return "Заказ ваш! Детали отправлены в личные сообщения."
	case order.OutcomeAlreadyTaken, order.OutcomeAlreadyProcessed:
		return "Заказ уже занят."
	case order.OutcomeCityMismatch:
		return "Заказ из другого города."
	case order.OutcomeForbiddenKind:
		return "Этот тип заказов не для вашей роли."
	case order.OutcomeUnverified:
		return "Нужна проверка документов для этого типа заказов."
	case order.OutcomeLimitExceeded:
		return "Сначала завершите текущий заказ."
	case order.OutcomeNotFound:
		return "Заказ не найден."
	default:
		return "Не получилось принять заказ."
	}
}

func declineReply(out order.Outcome) string {
	switch out {
	case order.OutcomeDeclined:
		return "Скрыто."
	case order.OutcomeStale:
		return "Заказ уже не актуален."
	case order.OutcomeNotFound:
		return "Заказ не найден."
	default:
		return "Не получилось."
	}
}

func releaseReply(out order.Outcome) string {
	switch out {
	case order.OutcomeReleased:
		return "Заказ возвращён в ленту."
	case order.OutcomeReleasedManual:
		return "Отказ принят, заказ передан оператору."
	case order.OutcomeNotClaimed:
		return "Этот заказ не закреплён за вами."
	case order.OutcomeNotFound:
		return "Заказ не найден."
	default:
		return "Не получилось."
	}
}

func completeReply(out order.Outcome) string {
	switch out {
	case order.OutcomeCompleted:
		return "Заказ завершён."
	case order.OutcomeNotClaimed:
		return "Этот заказ не закреплён за вами."
	case order.OutcomeNotFound:
		return "Заказ не найден."
	default:
		return "Не получилось."
	}
}

func undoReply(out order.Outcome) string {
	switch out {
	case order.OutcomeUndone:
		return "Готово, заказ снова за вами."
	case order.OutcomeExpired:
		return "Время на отмену вышло."
	case order.OutcomeNotYours:
		return "Отменить может только исполнитель последнего действия."
	case order.OutcomeTooLate:
		return "Слишком поздно: заказ уже изменился."
	default:
		return "Не получилось."
	}
}
