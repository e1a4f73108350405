// README: Common value types shared across modules.
package types

// Money is an integer amount in the smallest currency unit.
type Money struct {
	Amount   int64
	Currency string
}

type Point struct {
	Lat float64
	Lng float64
}
