// README: Messaging transport and destination resolution boundaries.
package feed

import (
	"context"

	"dispatch/internal/modules/order"
)

// Action is an interactive button attached to an announcement.
type Action struct {
	Label string
	Data  string
}

// Transport is the outward messaging surface. Every call is fallible and
// independently retryable; the synchronizer treats failures as outcomes.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string, actions []Action) (messageID int, err error)
	Edit(ctx context.Context, chatID int64, messageID int, text string, actions []Action) error
	Delete(ctx context.Context, chatID int64, messageID int) error
}

// Destinations maps a logical executor feed to its current physical chat.
type Destinations interface {
	FeedChat(city string, kind order.Kind) (int64, bool)
}

// StaticDestinations is a config-bound resolver keyed by "<city>/<kind>".
type StaticDestinations map[string]int64

func (d StaticDestinations) FeedChat(city string, kind order.Kind) (int64, bool) {
	chatID, ok := d[city+"/"+string(kind)]
	return chatID, ok
}
