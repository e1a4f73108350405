// README: Order store backed by PostgreSQL; every transition is a locked, re-checked transaction.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("order not found")

// Store mutations follow one shape: lock the row with SELECT ... FOR UPDATE,
// re-validate the precondition on the locked row, then run a conditional
// UPDATE whose WHERE clause repeats the precondition. A conditional update
// that matches no row after the locked re-check indicates a logic bug and is
// returned as a hard error; a failed re-check is a normal nil result.
type Store struct {
	db  *pgxpool.Pool
	rdb *redis.Client
	log *zap.Logger
}

func NewStore(db *pgxpool.Pool, rdb *redis.Client, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, rdb: rdb, log: log}
}

const orderColumns = `
	id, short_id, kind, city, status,
	pickup_query, pickup_address, pickup_lat, pickup_lng,
	dropoff_query, dropoff_address, dropoff_lat, dropoff_lng,
	price_amount, price_currency, distance_km, eta_minutes,
	client_id, client_chat_id, claimed_by, claimed_at, completed_at,
	channel_chat_id, channel_message_id, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(
		&o.ID, &o.ShortID, &o.Kind, &o.City, &o.Status,
		&o.Pickup.Query, &o.Pickup.Address, &o.Pickup.Lat, &o.Pickup.Lng,
		&o.Dropoff.Query, &o.Dropoff.Address, &o.Dropoff.Lat, &o.Dropoff.Lng,
		&o.Price.Amount, &o.Price.Currency, &o.Price.DistanceKm, &o.Price.EtaMinutes,
		&o.ClientID, &o.ClientChatID, &o.ClaimedBy, &o.ClaimedAt, &o.CompletedAt,
		&o.ChannelChatID, &o.ChannelMessageID, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) Create(ctx context.Context, o *Order) error {
	row := s.db.QueryRow(ctx, `
		INSERT INTO orders (
			short_id, kind, city, status,
			pickup_query, pickup_address, pickup_lat, pickup_lng,
			dropoff_query, dropoff_address, dropoff_lat, dropoff_lng,
			price_amount, price_currency, distance_km, eta_minutes,
			client_id, client_chat_id, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19
		) RETURNING id`,
		o.ShortID, string(o.Kind), o.City, string(o.Status),
		o.Pickup.Query, o.Pickup.Address, o.Pickup.Lat, o.Pickup.Lng,
		o.Dropoff.Query, o.Dropoff.Address, o.Dropoff.Lat, o.Dropoff.Lng,
		o.Price.Amount, o.Price.Currency, o.Price.DistanceKm, o.Price.EtaMinutes,
		o.ClientID, o.ClientChatID, o.CreatedAt,
	)
	if err := row.Scan(&o.ID); err != nil {
		return err
	}
	s.refreshGauge(ctx, o.City)
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (s *Store) GetByShortID(ctx context.Context, shortID string) (*Order, error) {
	return scanOrder(s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE short_id = $1`, shortID))
}

// ListClaimedBy returns the executor's currently claimed orders, oldest first.
func (s *Store) ListClaimedBy(ctx context.Context, actorID int64) ([]*Order, error) {
	rows, err := s.db.Query(ctx,
		`SELECT`+orderColumns+` FROM orders WHERE claimed_by = $1 AND status = 'claimed' ORDER BY claimed_at`,
		actorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func lockOrder(ctx context.Context, tx pgx.Tx, id int64) (*Order, error) {
	return scanOrder(tx.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
}

// ClaimResult tags every way a claim transaction can resolve.
type ClaimResult int

const (
	ClaimOK ClaimResult = iota
	ClaimNotFound
	ClaimNotOpen
	ClaimCityMismatch
	ClaimForbiddenKind
	ClaimUnverified
	ClaimLimitExceeded
	ClaimLost
)

// Claim moves an open order to claimed on behalf of the actor. City, role,
// verification, and the single-active policy are all checked on the locked
// row, inside the transaction. The returned order keeps the announcement
// address from before the claim cleared it, so the caller can retract the
// published message.
func (s *Store) Claim(ctx context.Context, orderID int64, actor Actor) (ClaimResult, *Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := lockOrder(ctx, tx, orderID)
	if errors.Is(err, ErrNotFound) {
		return ClaimNotFound, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	if o.Status != StatusOpen {
		return ClaimNotOpen, o, nil
	}
	if o.City != actor.City {
		return ClaimCityMismatch, o, nil
	}
	if RequiredRole(o.Kind) != actor.Role {
		return ClaimForbiddenKind, o, nil
	}
	if !actor.Verified(o.Kind) {
		return ClaimUnverified, o, nil
	}
	if o.Kind.SingleActive() {
		// Serialize same-actor claims across different rows; the row lock
		// alone cannot protect the per-executor count.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, actor.ID); err != nil {
			return 0, nil, err
		}
		var busy bool
		err := tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM orders
				WHERE claimed_by = $1 AND status = 'claimed' AND kind = $2
			)`, actor.ID, string(o.Kind),
		).Scan(&busy)
		if err != nil {
			return 0, nil, err
		}
		if busy {
			return ClaimLimitExceeded, o, nil
		}
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'claimed', claimed_by = $2, claimed_at = $3,
		    channel_chat_id = NULL, channel_message_id = NULL
		WHERE id = $1 AND status = 'open'`,
		orderID, actor.ID, now,
	)
	if err != nil {
		return 0, nil, err
	}
	if tag.RowsAffected() == 0 {
		// Lost to a transaction that committed between our snapshot and
		// lock acquisition; the re-read above makes this unreachable, but
		// the conditional clause is the final arbiter.
		return ClaimLost, nil, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, nil, err
	}

	o.Status = StatusClaimed
	o.ClaimedBy = &actor.ID
	o.ClaimedAt = &now
	s.refreshGauge(ctx, o.City)
	return ClaimOK, o, nil
}

// Release returns a claimed order to open. Only the current claimant may
// release; any other state returns nil. The returned order keeps the old
// announcement address so the stale message can be removed before republish.
func (s *Store) Release(ctx context.Context, orderID, actorID int64) (*Order, error) {
	return s.transition(ctx, orderID, func(o *Order) bool {
		return o.Status == StatusClaimed && o.ClaimedBy != nil && *o.ClaimedBy == actorID
	}, `
		UPDATE orders
		SET status = 'open', claimed_by = NULL, claimed_at = NULL,
		    channel_chat_id = NULL, channel_message_id = NULL
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $2`,
		[]any{orderID, actorID},
		func(o *Order) {
			o.Status = StatusOpen
			o.ClaimedBy = nil
			o.ClaimedAt = nil
		})
}

// ReclaimAfterRelease is the undo-release transition: it succeeds only while
// the order is still open and unclaimed.
func (s *Store) ReclaimAfterRelease(ctx context.Context, orderID, actorID int64) (*Order, error) {
	now := time.Now().UTC()
	return s.transition(ctx, orderID, func(o *Order) bool {
		return o.Status == StatusOpen && o.ClaimedBy == nil
	}, `
		UPDATE orders
		SET status = 'claimed', claimed_by = $2, claimed_at = $3,
		    channel_chat_id = NULL, channel_message_id = NULL
		WHERE id = $1 AND status = 'open' AND claimed_by IS NULL`,
		[]any{orderID, actorID, now},
		func(o *Order) {
			o.Status = StatusClaimed
			o.ClaimedBy = &actorID
			o.ClaimedAt = &now
		})
}

func (s *Store) Complete(ctx context.Context, orderID, actorID int64) (*Order, error) {
	now := time.Now().UTC()
	return s.transition(ctx, orderID, func(o *Order) bool {
		return o.Status == StatusClaimed && o.ClaimedBy != nil && *o.ClaimedBy == actorID
	}, `
		UPDATE orders
		SET status = 'done', completed_at = $3
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $2`,
		[]any{orderID, actorID, now},
		func(o *Order) {
			o.Status = StatusDone
			o.CompletedAt = &now
		})
}

// RestoreCompleted is the undo-complete transition: done → claimed for the
// same executor.
func (s *Store) RestoreCompleted(ctx context.Context, orderID, actorID int64) (*Order, error) {
	return s.transition(ctx, orderID, func(o *Order) bool {
		return o.Status == StatusDone && o.ClaimedBy != nil && *o.ClaimedBy == actorID
	}, `
		UPDATE orders
		SET status = 'claimed', completed_at = NULL
		WHERE id = $1 AND status = 'done' AND claimed_by = $2`,
		[]any{orderID, actorID},
		func(o *Order) {
			o.Status = StatusClaimed
			o.CompletedAt = nil
		})
}

func (s *Store) CancelByClient(ctx context.Context, orderID, clientID int64) (*Order, error) {
	return s.transition(ctx, orderID, func(o *Order) bool {
		return (o.Status == StatusOpen || o.Status == StatusClaimed) && o.ClientID == clientID
	}, `
		UPDATE orders
		SET status = 'cancelled', claimed_by = NULL, claimed_at = NULL
		WHERE id = $1 AND status IN ('open', 'claimed') AND client_id = $2`,
		[]any{orderID, clientID},
		func(o *Order) {
			o.Status = StatusCancelled
			o.ClaimedBy = nil
			o.ClaimedAt = nil
		})
}

// transition runs the lock / re-check / conditional-update sequence shared by
// all simple transitions. precheck validates the locked row; apply mutates the
// in-memory snapshot to match the committed row. nil, nil means the
// precondition did not hold.
func (s *Store) transition(
	ctx context.Context,
	orderID int64,
	precheck func(*Order) bool,
	query string,
	args []any,
	apply func(*Order),
) (*Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := lockOrder(ctx, tx, orderID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !precheck(o) {
		return nil, nil
	}

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("order %d: conditional update matched no row after locked re-check", orderID)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	apply(o)
	s.refreshGauge(ctx, o.City)
	return o, nil
}

// PublishResult tags the outcomes of binding an announcement message.
type PublishResult int

const (
	PublishOK PublishResult = iota
	PublishAlready
	PublishOrderNotFound
	PublishNotOpen
	PublishSendFailed
)

// BindAnnouncement sends a new announcement via send and persists its address
// on the order row within the same transaction that read the row, so
// concurrent publish calls serialize on the row lock and at most one message
// is ever live.
func (s *Store) BindAnnouncement(
	ctx context.Context,
	orderID int64,
	send func(*Order) (chatID int64, messageID int, err error),
) (PublishResult, *Order, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := lockOrder(ctx, tx, orderID)
	if errors.Is(err, ErrNotFound) {
		return PublishOrderNotFound, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	if o.Status != StatusOpen {
		return PublishNotOpen, o, nil
	}
	if o.ChannelMessageID != nil {
		return PublishAlready, o, nil
	}

	chatID, messageID, err := send(o)
	if err != nil {
		return PublishSendFailed, o, err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE orders SET channel_chat_id = $2, channel_message_id = $3
		WHERE id = $1 AND channel_message_id IS NULL`,
		orderID, chatID, messageID,
	)
	if err != nil {
		return 0, nil, err
	}
	if tag.RowsAffected() == 0 {
		return 0, nil, fmt.Errorf("order %d: announcement bind matched no row under lock", orderID)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, nil, err
	}

	o.ChannelChatID = &chatID
	o.ChannelMessageID = &messageID
	return PublishOK, o, nil
}

// refreshGauge recomputes the per-city active order gauge after a commit.
// Best effort: failures are logged and never affect the transaction.
func (s *Store) refreshGauge(ctx context.Context, city string) {
	if s.rdb == nil {
		return
	}
	var n int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE city = $1 AND status IN ('open', 'claimed')`, city,
	).Scan(&n)
	if err == nil {
		err = s.rdb.Set(ctx, "dispatch:orders:active:"+city, n, 0).Err()
	}
	if err != nil {
		s.log.Warn("active order gauge refresh failed", zap.String("city", city), zap.Error(err))
	}
}
