// README: Actor identity and eligibility resolution backed by the executors table.
package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dispatch/internal/modules/order"
)

var ErrUnknownActor = errors.New("unknown actor")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Resolve maps a telegram user id to the engine's actor view. Inactive and
// unregistered executors both resolve to ErrUnknownActor.
func (s *Store) Resolve(ctx context.Context, userID int64) (order.Actor, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, chat_id, name, role, city, ride_verified, delivery_verified
		FROM executors
		WHERE id = $1 AND active`, userID,
	)

	var a order.Actor
	var role string
	var rideOK, deliveryOK bool
	err := row.Scan(&a.ID, &a.ChatID, &a.Name, &role, &a.City, &rideOK, &deliveryOK)
	if errors.Is(err, pgx.ErrNoRows) {
		return order.Actor{}, ErrUnknownActor
	}
	if err != nil {
		return order.Actor{}, err
	}

	a.Role = order.Role(role)
	if rideOK {
		a.VerifiedKinds = append(a.VerifiedKinds, order.KindRide)
	}
	if deliveryOK {
		a.VerifiedKinds = append(a.VerifiedKinds, order.KindDelivery)
	}
	return a, nil
}

// Register upserts an executor record; used by the /start onboarding flow.
func (s *Store) Register(ctx context.Context, a order.Actor) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO executors (id, chat_id, name, role, city)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET chat_id = $2, name = $3`,
		a.ID, a.ChatID, a.Name, string(a.Role), a.City,
	)
	return err
}
