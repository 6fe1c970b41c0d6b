// SPDX-License-Identifier: MIT

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rentmesh/rentmesh/internal/domain"
)

// BookingStore persists bookings, idempotency keys and the history journal.
type BookingStore struct {
	db *sql.DB
}

func NewBookingStore(db *sql.DB) *BookingStore {
	return &BookingStore{db: db}
}

const bookingCols = `id, agent_id, source_id, agreement_ref, supplier_booking_ref, agent_booking_ref,
	idempotency_key, status, pickup_unlocode, dropoff_unlocode, pickup_iso, dropoff_iso,
	vehicle_class, make_model, rate_plan, driver_age, residency_country,
	customer_info, payment_info, payload_snapshot, created_at, updated_at`

func (s *BookingStore) Create(ctx context.Context, b *domain.Booking) error {
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings (`+bookingCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.AgentID, b.SourceID, b.AgreementRef, nullStr(b.SupplierBookingRef), nullStr(b.AgentBookingRef),
		nullStr(b.IdempotencyKey), b.Status,
		nullStr(b.Rental.PickupUnlocode), nullStr(b.Rental.DropoffUnlocode),
		nullStr(b.Rental.PickupISO), nullStr(b.Rental.DropoffISO),
		nullStr(b.Rental.VehicleClass), nullStr(b.Rental.MakeModel), nullStr(b.Rental.RatePlan),
		b.Rental.DriverAge, nullStr(b.Rental.ResidencyCountry),
		nullRaw(b.CustomerInfo), nullRaw(b.PaymentInfo), nullRaw(b.PayloadSnapshot),
		encodeTime(b.CreatedAt), encodeTime(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *BookingStore) Get(ctx context.Context, id string) (*domain.Booking, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookingCols+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.CodeNotFound, "", "booking %s not found", id)
	}
	return b, err
}

// FindBySupplierRef locates a booking by its supplier reference and source.
func (s *BookingStore) FindBySupplierRef(ctx context.Context, supplierRef, sourceID string) (*domain.Booking, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE supplier_booking_ref = ? AND source_id = ?`,
		supplierRef, sourceID)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.E(domain.CodeNotFound, "", "booking %s not found for source %s", supplierRef, sourceID)
	}
	return b, err
}

// Update persists the mutable fields of a booking row.
func (s *BookingStore) Update(ctx context.Context, b *domain.Booking) error {
	b.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE bookings SET status = ?, supplier_booking_ref = ?, agent_booking_ref = ?,
		 pickup_unlocode = ?, dropoff_unlocode = ?, pickup_iso = ?, dropoff_iso = ?,
		 vehicle_class = ?, make_model = ?, rate_plan = ?, driver_age = ?, residency_country = ?,
		 customer_info = ?, payment_info = ?, payload_snapshot = ?, updated_at = ?
		 WHERE id = ?`,
		b.Status, nullStr(b.SupplierBookingRef), nullStr(b.AgentBookingRef),
		nullStr(b.Rental.PickupUnlocode), nullStr(b.Rental.DropoffUnlocode),
		nullStr(b.Rental.PickupISO), nullStr(b.Rental.DropoffISO),
		nullStr(b.Rental.VehicleClass), nullStr(b.Rental.MakeModel), nullStr(b.Rental.RatePlan),
		b.Rental.DriverAge, nullStr(b.Rental.ResidencyCountry),
		nullRaw(b.CustomerInfo), nullRaw(b.PaymentInfo), nullRaw(b.PayloadSnapshot),
		encodeTime(b.UpdatedAt), b.ID)
	if err != nil {
		return fmt.Errorf("update booking: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.E(domain.CodeNotFound, "", "booking %s not found", b.ID)
	}
	return nil
}

// PutIdempotencyKey claims (agentId, scope, key) for responseRef. The unique
// index is authoritative: a concurrent claim loses with ALREADY_EXISTS.
func (s *BookingStore) PutIdempotencyKey(ctx context.Context, agentID, scope, key, responseRef string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO idempotency_keys (agent_id, scope, key, response_ref, created_at) VALUES (?, ?, ?, ?, ?)`,
		agentID, scope, key, responseRef, encodeTime(time.Now().UTC()))
	if isUniqueViolation(err) {
		return domain.E(domain.CodeAlreadyExists, "", "idempotency key already claimed")
	}
	if err != nil {
		return fmt.Errorf("insert idempotency key: %w", err)
	}
	return nil
}

// GetIdempotencyRef returns the response reference previously committed under
// (agentId, scope, key), or "" when the key is unclaimed.
func (s *BookingStore) GetIdempotencyRef(ctx context.Context, agentID, scope, key string) (string, error) {
	var ref string
	err := s.db.QueryRowContext(ctx,
		`SELECT response_ref FROM idempotency_keys WHERE agent_id = ? AND scope = ? AND key = ?`,
		agentID, scope, key).Scan(&ref)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("select idempotency key: %w", err)
	}
	return ref, nil
}

// AppendHistory writes one journal row. Never called inside the booking
// mutation transaction; failures are the caller's to swallow.
func (s *BookingStore) AppendHistory(ctx context.Context, ev *domain.HistoryEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO booking_history (booking_id, event_type, before_state, after_state, changes, actor, actor_source, ts, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.BookingID, ev.EventType, nullRaw(ev.BeforeState), nullRaw(ev.AfterState),
		nullRaw(ev.Changes), nullStr(ev.Actor), ev.ActorSource, encodeTime(ev.Timestamp), nullRaw(ev.Metadata))
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// History returns the journal of a booking in write order.
func (s *BookingStore) History(ctx context.Context, bookingID string) ([]*domain.HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, booking_id, event_type, before_state, after_state, changes, actor, actor_source, ts, metadata
		 FROM booking_history WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("select history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []*domain.HistoryEvent
	for rows.Next() {
		var ev domain.HistoryEvent
		var before, after, changes, actor, metadata sql.NullString
		var ts string
		if err := rows.Scan(&ev.ID, &ev.BookingID, &ev.EventType, &before, &after, &changes, &actor, &ev.ActorSource, &ts, &metadata); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		ev.BeforeState = rawOf(before)
		ev.AfterState = rawOf(after)
		ev.Changes = rawOf(changes)
		ev.Actor = strOf(actor)
		ev.Metadata = rawOf(metadata)
		ev.Timestamp = decodeTime(ts)
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func scanBooking(r rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	var supplierRef, agentRef, idemKey sql.NullString
	var pickup, dropoff, pickupISO, dropoffISO, class, model, plan, residency sql.NullString
	var customer, payment, snapshot sql.NullString
	var driverAge sql.NullInt64
	var createdAt, updatedAt string
	err := r.Scan(&b.ID, &b.AgentID, &b.SourceID, &b.AgreementRef, &supplierRef, &agentRef,
		&idemKey, &b.Status, &pickup, &dropoff, &pickupISO, &dropoffISO,
		&class, &model, &plan, &driverAge, &residency,
		&customer, &payment, &snapshot, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}
	b.SupplierBookingRef = strOf(supplierRef)
	b.AgentBookingRef = strOf(agentRef)
	b.IdempotencyKey = strOf(idemKey)
	b.Rental = domain.RentalDetails{
		PickupUnlocode:   strOf(pickup),
		DropoffUnlocode:  strOf(dropoff),
		PickupISO:        strOf(pickupISO),
		DropoffISO:       strOf(dropoffISO),
		VehicleClass:     strOf(class),
		MakeModel:        strOf(model),
		RatePlan:         strOf(plan),
		DriverAge:        int(driverAge.Int64),
		ResidencyCountry: strOf(residency),
	}
	b.CustomerInfo = rawOf(customer)
	b.PaymentInfo = rawOf(payment)
	b.PayloadSnapshot = rawOf(snapshot)
	b.CreatedAt = decodeTime(createdAt)
	b.UpdatedAt = decodeTime(updatedAt)
	return &b, nil
}

func nullRaw(raw []byte) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawOf(s sql.NullString) []byte {
	if !s.Valid || s.String == "" {
		return nil
	}
	return []byte(s.String)
}
