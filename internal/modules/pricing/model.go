// README: Fare rate definitions per order kind.
package pricing

import "dispatch/internal/modules/order"

type Rate struct {
	Kind      order.Kind
	Base      int64
	PerKm     int64
	PerMinute int64
	Currency  string
}

// DefaultRates are the launch-market rates; amounts are in the smallest
// currency unit.
var DefaultRates = map[order.Kind]Rate{
	order.KindRide:     {Kind: order.KindRide, Base: 500, PerKm: 120, PerMinute: 30, Currency: "KZT"},
	order.KindDelivery: {Kind: order.KindDelivery, Base: 700, PerKm: 100, PerMinute: 20, Currency: "KZT"},
}
