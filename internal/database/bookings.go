package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"atelier/internal/models"
)

// Active statuses occupy a slot; terminal statuses release it.
const activeBookingStatuses = `('pending', 'confirmed', 'consultation_done', 'quote_submitted', 'quote_accepted', 'paid')`

const bookingColumns = `id, customer_id, tailor_id, date(date), start_time, service,
                 consultation_notes, consultation_at, quote, escrow_ref, payment_status,
                 status, cancel_reason, created_at, updated_at, version`

// CreateBooking inserts the booking and its first history entry inside
// one transaction, re-checking slot availability under the same
// transaction so two concurrent requests cannot both claim the slot.
func (db *DB) CreateBooking(ctx context.Context, booking *models.Booking, change models.StatusChange) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var taken int
	queryCount := `SELECT COUNT(*) FROM bookings
                   WHERE tailor_id = ? AND date(date) = date(?) AND start_time = ?
                   AND status IN ` + activeBookingStatuses
	err = tx.QueryRowContext(ctx, queryCount,
		booking.TailorID, booking.Date.Format("2006-01-02"), booking.StartTime).Scan(&taken)
	if err != nil {
		return fmt.Errorf("failed to check slot in tx: %w", err)
	}
	if taken > 0 {
		return ErrSlotTaken
	}

	quoteJSON, err := marshalQuote(booking.Quote)
	if err != nil {
		return err
	}

	now := time.Now()
	queryInsert := `INSERT INTO bookings (
                customer_id, tailor_id, date, start_time, service,
                consultation_notes, consultation_at, quote, escrow_ref, payment_status,
                status, cancel_reason, created_at, updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := tx.ExecContext(ctx, queryInsert,
		booking.CustomerID,
		booking.TailorID,
		booking.Date.Format("2006-01-02"),
		booking.StartTime,
		booking.Service,
		booking.ConsultationNotes,
		booking.ConsultationAt,
		quoteJSON,
		booking.EscrowRef,
		booking.PaymentStatus,
		booking.Status,
		booking.CancelReason,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	if err := appendBookingHistory(ctx, tx, id, change); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (db *DB) GetBookingHistory(ctx context.Context, id int64, limit, offset int) ([]models.StatusChange, error) {
	if limit <= 0 {
		limit = models.DefaultHistoryPageSize
	}
	query := `SELECT id, status, changed_at, actor_role, actor_id, note
              FROM booking_status_history WHERE booking_id = ?
              ORDER BY id ASC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking history: %w", err)
	}
	defer rows.Close()

	var history []models.StatusChange
	for rows.Next() {
		var h models.StatusChange
		if err := rows.Scan(&h.ID, &h.Status, &h.ChangedAt, &h.ActorRole, &h.ActorID, &h.Note); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (db *DB) GetBookingsByDateRange(ctx context.Context, startDate, endDate time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
              WHERE date(date) >= ? AND date(date) <= ? ORDER BY date ASC, start_time ASC`
	rows, err := db.QueryContext(ctx, query, startDate.Format("2006-01-02"), endDate.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by date range: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// UpdateBookingStatusWithVersion performs a plain status transition:
// the write lands only when the row still carries the expected status
// and version.
func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, from, to string, change models.StatusChange) error {
	return db.bookingTransition(ctx, id, version, from, change,
		`UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND status = ? AND version = ?`,
		to, time.Now(), id, from, version)
}

func (db *DB) CompleteBookingConsultation(ctx context.Context, id, version int64, notes string, change models.StatusChange) error {
	now := time.Now()
	return db.bookingTransition(ctx, id, version, models.BookingConfirmed, change,
		`UPDATE bookings SET status = ?, consultation_notes = ?, consultation_at = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND status = ? AND version = ?`,
		models.BookingConsultationDone, notes, now, now, id, models.BookingConfirmed, version)
}

func (db *DB) SubmitBookingQuote(ctx context.Context, id, version int64, quote *models.Quote, change models.StatusChange) error {
	quoteJSON, err := marshalQuote(quote)
	if err != nil {
		return err
	}
	return db.bookingTransition(ctx, id, version, models.BookingConsultationDone, change,
		`UPDATE bookings SET status = ?, quote = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND status = ? AND version = ?`,
		models.BookingQuoteSubmitted, quoteJSON, time.Now(), id, models.BookingConsultationDone, version)
}

func (db *DB) RespondBookingQuote(ctx context.Context, id, version int64, quote *models.Quote, to string, change models.StatusChange) error {
	quoteJSON, err := marshalQuote(quote)
	if err != nil {
		return err
	}
	return db.bookingTransition(ctx, id, version, models.BookingQuoteSubmitted, change,
		`UPDATE bookings SET status = ?, quote = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND status = ? AND version = ?`,
		to, quoteJSON, time.Now(), id, models.BookingQuoteSubmitted, version)
}

func (db *DB) MarkBookingPaid(ctx context.Context, id, version int64, escrowRef string, change models.StatusChange) error {
	return db.bookingTransition(ctx, id, version, models.BookingQuoteAccepted, change,
		`UPDATE bookings SET status = ?, escrow_ref = ?, payment_status = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND status = ? AND version = ?`,
		models.BookingPaid, escrowRef, models.PaymentHeld, time.Now(), id, models.BookingQuoteAccepted, version)
}

func (db *DB) MarkBookingConverted(ctx context.Context, id, version int64, change models.StatusChange) error {
	return db.bookingTransition(ctx, id, version, models.BookingPaid, change,
		`UPDATE bookings SET status = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND status = ? AND version = ?`,
		models.BookingConverted, time.Now(), id, models.BookingPaid, version)
}

// UpdateBookingPaymentStatus records the escrow outcome (released,
// refunded) without touching the booking status or version.
func (db *DB) UpdateBookingPaymentStatus(ctx context.Context, id int64, paymentStatus string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ?, updated_at = ? WHERE id = ?`,
		paymentStatus, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) CancelBooking(ctx context.Context, id, version int64, from, reason, paymentStatus string, change models.StatusChange) error {
	return db.bookingTransition(ctx, id, version, from, change,
		`UPDATE bookings SET status = ?, cancel_reason = ?, payment_status = ?, version = version + 1, updated_at = ?
         WHERE id = ? AND status = ? AND version = ?`,
		models.BookingCancelled, reason, paymentStatus, time.Now(), id, from, version)
}

// bookingTransition runs the conditional update and the history append
// in one transaction. Zero rows affected means the guard failed: the
// caller distinguishes a vanished record from a concurrent change.
func (db *DB) bookingTransition(ctx context.Context, id, version int64, from string, change models.StatusChange, query string, args ...interface{}) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = ?)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check booking existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}

	if err := appendBookingHistory(ctx, tx, id, change); err != nil {
		return err
	}

	return tx.Commit()
}

func appendBookingHistory(ctx context.Context, tx *sql.Tx, bookingID int64, change models.StatusChange) error {
	if change.ChangedAt.IsZero() {
		change.ChangedAt = time.Now()
	}
	query := `INSERT INTO booking_status_history (booking_id, status, changed_at, actor_role, actor_id, note)
              VALUES (?, ?, ?, ?, ?, ?)`
	_, err := tx.ExecContext(ctx, query, bookingID, change.Status, change.ChangedAt, change.ActorRole, change.ActorID, change.Note)
	if err != nil {
		return fmt.Errorf("failed to append booking history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var dateStr string
	var quoteJSON sql.NullString

	err := row.Scan(
		&b.ID, &b.CustomerID, &b.TailorID, &dateStr, &b.StartTime, &b.Service,
		&b.ConsultationNotes, &b.ConsultationAt, &quoteJSON, &b.EscrowRef, &b.PaymentStatus,
		&b.Status, &b.CancelReason, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	b.Date, err = time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse booking date %s: %w", dateStr, err)
	}

	if quoteJSON.Valid && quoteJSON.String != "" {
		var q models.Quote
		if err := json.Unmarshal([]byte(quoteJSON.String), &q); err != nil {
			return nil, fmt.Errorf("failed to decode quote: %w", err)
		}
		b.Quote = &q
	}
	return &b, nil
}

func marshalQuote(q *models.Quote) (interface{}, error) {
	if q == nil {
		return nil, nil
	}
	data, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to encode quote: %w", err)
	}
	return string(data), nil
}
