// README: Ride repository backed by PostgreSQL; every transition is a conditional UPDATE.
package ride

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rideflow/internal/types"
)

// Repository persists rides. UpdateStatus, SetPaymentOrder and RecordPayment
// must be atomic conditional writes: they report false when the guard no
// longer holds.
type Repository interface {
	Create(ctx context.Context, r *Ride) error
	Get(ctx context.Context, id types.ID) (*Ride, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error)
	SetPaymentOrder(ctx context.Context, id types.ID, orderID string) (bool, error)
	RecordPayment(ctx context.Context, id types.ID, p Payment) (bool, error)
	AppendEvent(ctx context.Context, e *Event) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Ride, error)
}

// StatusUpdate moves a ride From -> To. BindDriver is written only when the
// ride has no driver yet; ExpectDriver additionally guards on the bound driver.
type StatusUpdate struct {
	ID           types.ID
	From         Status
	To           Status
	BindDriver   *types.ID
	ExpectDriver *types.ID
	CancelReason *string
	Payment      *Payment
	At           time.Time
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const rideColumns = `id, rider_id, driver_id, pickup, destination, pickup_address, destination_address,
       vehicle_class, fare, currency, distance_km, duration_min, otp, status, status_version,
       booked_at, scheduled_at, accepted_at, started_at, completed_at, cancelled_at, cancel_reason,
       payment_order_id, payment_id, payment_signature`

func (s *PostgresStore) Create(ctx context.Context, r *Ride) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO rides (
            id, rider_id, driver_id, pickup, destination, pickup_address, destination_address,
            vehicle_class, fare, currency, distance_km, duration_min, otp, status, status_version,
            booked_at, scheduled_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7,
            $8, $9, $10, $11, $12, $13, $14, $15,
            $16, $17
        )`,
		string(r.ID),
		string(r.RiderID),
		idPtr(r.DriverID),
		r.Pickup,
		r.Destination,
		r.PickupAddress,
		r.DestinationAddress,
		string(r.VehicleClass),
		r.Fare,
		r.Currency,
		r.DistanceKm,
		r.DurationMin,
		r.OTP,
		string(r.Status),
		r.StatusVersion,
		r.BookedAt,
		r.ScheduledAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id types.ID) (*Ride, error) {
	row := s.db.QueryRow(ctx, `SELECT `+rideColumns+` FROM rides WHERE id = $1`, string(id))
	r, err := scanRide(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	return r, err
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, u StatusUpdate) (bool, error) {
	var orderID, paymentID, signature *string
	if u.Payment != nil {
		orderID, paymentID, signature = &u.Payment.OrderID, &u.Payment.PaymentID, &u.Payment.Signature
	}
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET status = $1::text,
            status_version = status_version + 1,
            driver_id = COALESCE(driver_id, $2),
            cancel_reason = COALESCE($3, cancel_reason),
            payment_order_id = COALESCE($4::text, payment_order_id),
            payment_id = COALESCE($5, payment_id),
            payment_signature = COALESCE($6, payment_signature),
            accepted_at = CASE WHEN $1::text = 'accepted' THEN $7 ELSE accepted_at END,
            started_at = CASE WHEN $1::text = 'ongoing' THEN $7 ELSE started_at END,
            completed_at = CASE WHEN $1::text = 'completed' THEN $7 ELSE completed_at END,
            cancelled_at = CASE WHEN $1::text = 'cancelled' THEN $7 ELSE cancelled_at END
        WHERE id = $8 AND status = $9
          AND ($10::text IS NULL OR driver_id = $10::text)
          AND ($4::text IS NULL OR payment_order_id = $4::text)`,
		string(u.To),
		idPtr(u.BindDriver),
		u.CancelReason,
		orderID,
		paymentID,
		signature,
		u.At,
		string(u.ID),
		string(u.From),
		idPtr(u.ExpectDriver),
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// SetPaymentOrder binds a gateway order to a ride that can still be paid.
func (s *PostgresStore) SetPaymentOrder(ctx context.Context, id types.ID, orderID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET payment_order_id = $1
        WHERE id = $2 AND payment_id IS NULL
          AND status IN ('ongoing', 'completed')`,
		orderID, string(id),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RecordPayment(ctx context.Context, id types.ID, p Payment) (bool, error) {
	tag, err := s.db.Exec(ctx, `
        UPDATE rides
        SET payment_order_id = $1,
            payment_id = $2,
            payment_signature = $3,
            status_version = status_version + 1
        WHERE id = $4 AND status = 'completed' AND payment_id IS NULL
          AND payment_order_id = $1`,
		p.OrderID, p.PaymentID, p.Signature, string(id),
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
        INSERT INTO ride_state_events (
            ride_id, from_status, to_status, actor_type, actor_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.RideID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorType),
		idPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Ride, error) {
	rows, err := s.db.Query(ctx, `SELECT `+rideColumns+`
        FROM rides
        WHERE status = 'pending' AND booked_at < $1
        ORDER BY booked_at
        LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRide(row pgx.Row) (*Ride, error) {
	var r Ride
	var driverID *string
	err := row.Scan(
		&r.ID, &r.RiderID, &driverID, &r.Pickup, &r.Destination, &r.PickupAddress, &r.DestinationAddress,
		&r.VehicleClass, &r.Fare, &r.Currency, &r.DistanceKm, &r.DurationMin, &r.OTP, &r.Status, &r.StatusVersion,
		&r.BookedAt, &r.ScheduledAt, &r.AcceptedAt, &r.StartedAt, &r.CompletedAt, &r.CancelledAt, &r.CancelReason,
		&r.PaymentOrderID, &r.PaymentID, &r.PaymentSignature,
	)
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		d := types.ID(*driverID)
		r.DriverID = &d
	}
	return &r, nil
}

// isUniqueViolation reports a payment id already settled on another ride.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
