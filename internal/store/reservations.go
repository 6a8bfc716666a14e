package store

import (
	"context"
	"database/sql"
	"time"

	"adops-service/internal/apperr"
	"adops-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// All methods here expect a transaction already bound to a tenant schema via
// WithSchemaTx. Slot counters are only ever touched through AdjustSlotCounts
// inside such a transaction, so a reservation row and its capacity change
// commit or roll back together.

// SlotForUpdate locks and returns the inventory slot for one (show, date,
// placement) key.
func (s *Store) SlotForUpdate(ctx context.Context, tx *sqlx.Tx, showID int64, date time.Time, placement string) (*models.InventorySlot, error) {
	var slot models.InventorySlot
	err := tx.GetContext(ctx, &slot, `
		SELECT * FROM inventory_slots
		WHERE show_id = $1 AND slot_date = $2 AND placement_type = $3
		FOR UPDATE`,
		showID, date, placement)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("inventory slot")
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// AdjustSlotCounts applies capacity deltas to a locked slot. The WHERE clause
// refuses any adjustment that would drive a counter negative, so a concurrent
// consumer of the same slot can never push it past totalSpots.
func (s *Store) AdjustSlotCounts(ctx context.Context, tx *sqlx.Tx, slotID int64, dAvailable, dReserved, dBooked int) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE inventory_slots
		SET available_spots = available_spots + $1,
		    reserved_spots  = reserved_spots + $2,
		    booked_spots    = booked_spots + $3,
		    updated_at      = NOW()
		WHERE id = $4
		  AND available_spots + $1 >= 0
		  AND reserved_spots + $2 >= 0
		  AND booked_spots + $3 >= 0`,
		dAvailable, dReserved, dBooked, slotID)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.E(apperr.KindInsufficientInventory, "slot capacity exhausted")
	}
	return nil
}

// InsertReservation persists a new reservation row.
func (s *Store) InsertReservation(ctx context.Context, tx *sqlx.Tx, r *models.Reservation) error {
	query := `
		INSERT INTO reservations
			(reservation_number, advertiser_id, campaign_id, status, hold_duration_hours,
			 expires_at, total_amount, priority, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`

	return tx.GetContext(ctx, r, query,
		r.ReservationNumber, r.AdvertiserID, r.CampaignID, r.Status, r.HoldDurationHours,
		r.ExpiresAt, r.TotalAmount, r.Priority, r.Notes, r.CreatedBy)
}

// InsertReservationItem persists a single reservation item.
func (s *Store) InsertReservationItem(ctx context.Context, tx *sqlx.Tx, item *models.ReservationItem) error {
	query := `
		INSERT INTO reservation_items
			(reservation_id, show_id, episode_id, air_date, placement_type, spot_number, length, rate, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	return tx.GetContext(ctx, &item.ID, query,
		item.ReservationID, item.ShowID, item.EpisodeID, item.AirDate, item.PlacementType,
		item.SpotNumber, item.Length, item.Rate, item.Status)
}

// GetReservation retrieves a reservation by ID.
func (s *Store) GetReservation(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := tx.GetContext(ctx, &r, "SELECT * FROM reservations WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("reservation")
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetReservationForUpdate locks and retrieves a reservation by ID.
func (s *Store) GetReservationForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := tx.GetContext(ctx, &r, "SELECT * FROM reservations WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("reservation")
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ReservationItems retrieves all items owned by a reservation.
func (s *Store) ReservationItems(ctx context.Context, tx *sqlx.Tx, reservationID int64) ([]models.ReservationItem, error) {
	var items []models.ReservationItem
	err := tx.SelectContext(ctx, &items,
		"SELECT * FROM reservation_items WHERE reservation_id = $1 ORDER BY id", reservationID)
	return items, err
}

// SetReservationStatus updates a reservation's status and mirrors it onto the
// owned items.
func (s *Store) SetReservationStatus(ctx context.Context, tx *sqlx.Tx, id int64, status string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE reservations SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE reservation_items SET status = $1 WHERE reservation_id = $2",
		status, id)
	return err
}

// MarkReservationCancelled records a cancellation with actor and reason.
func (s *Store) MarkReservationCancelled(ctx context.Context, tx *sqlx.Tx, id, cancelledBy int64, reason string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE reservations
		SET status = $1, cancelled_by = $2, cancel_reason = $3, cancelled_at = NOW(), updated_at = NOW()
		WHERE id = $4`,
		models.ReservationStatusCancelled, cancelledBy, reason, id)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE reservation_items SET status = $1 WHERE reservation_id = $2",
		models.ReservationStatusCancelled, id)
	return err
}

// SetReservationTerms updates the mutable reservation fields and total.
func (s *Store) SetReservationTerms(ctx context.Context, tx *sqlx.Tx, id int64, holdHours int, expiresAt time.Time, priority, notes string, totalAmount int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE reservations
		SET hold_duration_hours = $1, expires_at = $2, priority = $3, notes = $4,
		    total_amount = $5, updated_at = NOW()
		WHERE id = $6`,
		holdHours, expiresAt, priority, notes, totalAmount, id)
	return err
}

// DeleteReservationItems removes all items for a reservation. Used when an
// update replaces the item set.
func (s *Store) DeleteReservationItems(ctx context.Context, tx *sqlx.Tx, reservationID int64) error {
	_, err := tx.ExecContext(ctx,
		"DELETE FROM reservation_items WHERE reservation_id = $1", reservationID)
	return err
}

// DueHeldReservations lists held reservations whose deadline has passed.
func (s *Store) DueHeldReservations(ctx context.Context, tx *sqlx.Tx, now time.Time, limit int) ([]models.Reservation, error) {
	var out []models.Reservation
	err := tx.SelectContext(ctx, &out, `
		SELECT * FROM reservations
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at
		LIMIT $3`,
		models.ReservationStatusHeld, now, limit)
	return out, err
}
