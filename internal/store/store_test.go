package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"adops-service/internal/apperr"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSchemaIdent(t *testing.T) {
	valid := []string{"catalog", "org_acme", "org_acme_media", "a", "x1_2_3"}
	for _, name := range valid {
		assert.True(t, ValidSchemaIdent(name), "%q should be valid", name)
	}

	invalid := []string{
		"",
		"Org_Acme",
		"1starts_with_digit",
		"_leading_underscore",
		"has-hyphen",
		"has space",
		`quo"ted`,
		"semi;colon",
		"dotted.name",
		"org_acme; DROP SCHEMA catalog",
		"waaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaay_too_long_for_postgres",
	}
	for _, name := range invalid {
		assert.False(t, ValidSchemaIdent(name), "%q should be rejected", name)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
	assert.False(t, IsUniqueViolation(nil))
}

// testStore connects to the database named by ADOPS_TEST_DATABASE_URL, or
// skips. The target database must have the catalog and org_acme schemas from
// the migrations applied.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("ADOPS_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ADOPS_TEST_DATABASE_URL not set")
	}
	s, err := NewStore(url, "catalog")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWithSchemaTxRejectsBadIdent(t *testing.T) {
	s := &Store{}
	err := s.WithSchemaTx(context.Background(), `org_acme"; DROP SCHEMA catalog`, func(tx *sqlx.Tx) error {
		t.Fatal("callback must not run for a bad identifier")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindSchemaError, apperr.KindOf(err))
}

func TestWithSchemaTxMissingSchema(t *testing.T) {
	s := testStore(t)
	err := s.WithSchemaTx(context.Background(), "org_does_not_exist", func(tx *sqlx.Tx) error {
		t.Fatal("callback must not run for a missing schema")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindSchemaError, apperr.KindOf(err))
}

func TestWithSchemaTxRollsBackOnError(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithSchemaTx(ctx, "org_acme", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO reservations (reservation_number, advertiser_id, expires_at, created_by) VALUES ($1, $2, NOW() + INTERVAL '1 hour', 1)",
			"RES-TEST-ROLLBACK", int64(1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	err = s.WithSchemaTx(ctx, "org_acme", func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &count,
			"SELECT COUNT(*) FROM reservations WHERE reservation_number = $1", "RES-TEST-ROLLBACK")
	})
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestAdjustSlotCountsGuards(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	err := s.WithSchemaTx(ctx, "org_acme", func(tx *sqlx.Tx) error {
		var slotID int64
		err := tx.GetContext(ctx, &slotID, `
			INSERT INTO inventory_slots (show_id, slot_date, placement_type, total_spots, available_spots)
			VALUES (9001, '2030-01-01', 'pre-roll', 2, 2)
			ON CONFLICT (show_id, slot_date, placement_type) DO UPDATE
			SET total_spots = 2, available_spots = 2, reserved_spots = 0, booked_spots = 0
			RETURNING id`)
		require.NoError(t, err)

		// Holding 2 of 2 succeeds; a third hold must fail without moving counts.
		require.NoError(t, s.AdjustSlotCounts(ctx, tx, slotID, -2, 2, 0))

		err = s.AdjustSlotCounts(ctx, tx, slotID, -1, 1, 0)
		require.Error(t, err)
		assert.Equal(t, apperr.KindInsufficientInventory, apperr.KindOf(err))

		slot, err := s.SlotForUpdate(ctx, tx, 9001, mustDate(t, "2030-01-01"), "pre-roll")
		require.NoError(t, err)
		assert.Equal(t, 0, slot.AvailableSpots)
		assert.Equal(t, 2, slot.ReservedSpots)
		assert.True(t, slot.Balanced())

		// Put the capacity back so reruns start clean.
		return s.AdjustSlotCounts(ctx, tx, slotID, 2, -2, 0)
	})
	require.NoError(t, err)
}
