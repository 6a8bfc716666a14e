package service

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"adops-service/internal/apperr"
	"adops-service/internal/broker"
	"adops-service/internal/models"
	"adops-service/internal/redisclient"
	"adops-service/internal/store"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv builds the service pair against real backing stores, or skips. The
// database named by ADOPS_TEST_DATABASE_URL must have the catalog and org_acme
// schemas from the migrations applied; ADOPS_TEST_REDIS_ADDR names the redis.
// Event publishing failures are logged, not fatal, so Kafka is optional.
func testEnv(t *testing.T) (*store.Store, *ReservationService, *ApprovalService) {
	t.Helper()
	dbURL := os.Getenv("ADOPS_TEST_DATABASE_URL")
	redisAddr := os.Getenv("ADOPS_TEST_REDIS_ADDR")
	if dbURL == "" || redisAddr == "" {
		t.Skip("ADOPS_TEST_DATABASE_URL or ADOPS_TEST_REDIS_ADDR not set")
	}

	st, err := store.NewStore(dbURL, "catalog")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rc, err := redisclient.NewClient(redisAddr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	kafkaBrokers := os.Getenv("ADOPS_TEST_KAFKA_BROKERS")
	if kafkaBrokers == "" {
		kafkaBrokers = "localhost:9092"
	}
	producer := broker.NewProducer(strings.Split(kafkaBrokers, ","), "adops-events-test")
	t.Cleanup(func() { producer.Close() })
	publisher := broker.NewEventPublisher(producer)

	reservations := NewReservationService(st, rc, publisher, 48)
	approvals := NewApprovalService(st, reservations, publisher, NewKafkaActivityLogger(publisher))
	return st, reservations, approvals
}

// seedSlot resets one pre-roll slot to a known clean capacity.
func seedSlot(t *testing.T, st *store.Store, showID int64, date string, total int) {
	t.Helper()
	ctx := context.Background()
	err := st.WithSchemaTx(ctx, "org_acme", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_slots (show_id, slot_date, placement_type, total_spots, available_spots)
			VALUES ($1, $2, 'pre-roll', $3, $3)
			ON CONFLICT (show_id, slot_date, placement_type) DO UPDATE
			SET total_spots = $3, available_spots = $3, reserved_spots = 0, booked_spots = 0`,
			showID, date, total)
		return err
	})
	require.NoError(t, err)
}

func seedCampaign(t *testing.T, st *store.Store) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := st.WithSchemaTx(ctx, "org_acme", func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &id, `
			INSERT INTO campaigns (name, advertiser_id, budget, probability, status)
			VALUES ('Lifecycle test flight', 1, 500000, 65, 'active')
			RETURNING id`)
	})
	require.NoError(t, err)
	return id
}

func readSlot(t *testing.T, st *store.Store, showID int64, date string) *models.InventorySlot {
	t.Helper()
	ctx := context.Background()
	d, err := time.Parse("2006-01-02", date)
	require.NoError(t, err)

	var slot *models.InventorySlot
	err = st.WithSchemaTx(ctx, "org_acme", func(tx *sqlx.Tx) error {
		var e error
		slot, e = st.SlotForUpdate(ctx, tx, showID, d, models.PlacementPreRoll)
		return e
	})
	require.NoError(t, err)
	return slot
}

func readCampaign(t *testing.T, st *store.Store, id int64) *models.Campaign {
	t.Helper()
	ctx := context.Background()
	var c *models.Campaign
	err := st.WithSchemaTx(ctx, "org_acme", func(tx *sqlx.Tx) error {
		var e error
		c, e = st.GetCampaign(ctx, tx, id)
		return e
	})
	require.NoError(t, err)
	return c
}

// forceExpired pushes a reservation's deadline into the past without touching
// its status, simulating a hold the sweep has not reached yet.
func forceExpired(t *testing.T, st *store.Store, reservationID int64) {
	t.Helper()
	ctx := context.Background()
	err := st.WithSchemaTx(ctx, "org_acme", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			"UPDATE reservations SET expires_at = NOW() - INTERVAL '1 hour' WHERE id = $1", reservationID)
		return err
	})
	require.NoError(t, err)
}

func TestReservationCreateCancelRoundTrip(t *testing.T) {
	st, reservations, _ := testEnv(t)
	ctx := context.Background()
	seedSlot(t, st, 9201, "2030-06-01", 5)

	reservation, items, err := reservations.Create(ctx, "acme", 7, &CreateReservationRequest{
		AdvertiserID: 1,
		Items:        []ReservationItemRequest{itemReq(9201, "2030-06-01", models.PlacementPreRoll)},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ReservationStatusHeld, reservation.Status)

	slot := readSlot(t, st, 9201, "2030-06-01")
	assert.Equal(t, 4, slot.AvailableSpots)
	assert.Equal(t, 1, slot.ReservedSpots)
	assert.True(t, slot.Balanced())

	cancelled, err := reservations.Cancel(ctx, "acme", reservation.ID, 7, "client pulled out")
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusCancelled, cancelled.Status)

	slot = readSlot(t, st, 9201, "2030-06-01")
	assert.Equal(t, 5, slot.AvailableSpots)
	assert.Equal(t, 0, slot.ReservedSpots)
	assert.True(t, slot.Balanced())
}

func TestApprovalApproveLifecycle(t *testing.T) {
	st, reservations, approvals := testEnv(t)
	ctx := context.Background()
	seedSlot(t, st, 9202, "2030-06-02", 3)
	campaignID := seedCampaign(t, st)

	approval, reservation, err := approvals.SubmitForApproval(ctx, "acme", campaignID, 7, &SubmitApprovalRequest{
		Items: []ReservationItemRequest{
			itemReq(9202, "2030-06-02", models.PlacementPreRoll),
			itemReq(9202, "2030-06-02", models.PlacementPreRoll),
		},
		Notes: "Q3 flight",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, approval.Status)

	slot := readSlot(t, st, 9202, "2030-06-02")
	assert.Equal(t, 1, slot.AvailableSpots)
	assert.Equal(t, 2, slot.ReservedSpots)

	campaign := readCampaign(t, st, campaignID)
	assert.Equal(t, models.ProbabilityPending, campaign.Probability)
	require.NotNil(t, campaign.ReservationID)
	assert.Equal(t, reservation.ID, *campaign.ReservationID)

	// An open approval blocks a second submission.
	_, _, err = approvals.SubmitForApproval(ctx, "acme", campaignID, 7, &SubmitApprovalRequest{
		Items: []ReservationItemRequest{itemReq(9202, "2030-06-02", models.PlacementPreRoll)},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

	admin := &models.User{ID: 9, Role: models.RoleAdmin}
	result, err := approvals.Decide(ctx, "acme", approval.ID, admin, &DecideApprovalRequest{Action: ActionApprove})
	require.NoError(t, err)
	require.NotNil(t, result.OrderID)

	campaign = readCampaign(t, st, campaignID)
	assert.Equal(t, models.CampaignStatusWon, campaign.Status)
	assert.Equal(t, models.ProbabilityWon, campaign.Probability)

	slot = readSlot(t, st, 9202, "2030-06-02")
	assert.Equal(t, 1, slot.AvailableSpots)
	assert.Equal(t, 0, slot.ReservedSpots)
	assert.Equal(t, 2, slot.BookedSpots)
	assert.True(t, slot.Balanced())

	converted, _, err := reservations.Get(ctx, "acme", reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusConverted, converted.Status)

	wonCampaign, order, err := approvals.GetCampaign(ctx, "acme", campaignID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignStatusWon, wonCampaign.Status)
	require.NotNil(t, order)
	assert.Equal(t, *result.OrderID, order.ID)
	assert.Equal(t, converted.TotalAmount, order.TotalAmount)

	// Decided approvals cannot be decided again.
	_, err = approvals.Decide(ctx, "acme", approval.ID, admin, &DecideApprovalRequest{Action: ActionReject, Reason: "late"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestApprovalRejectLifecycle(t *testing.T) {
	st, reservations, approvals := testEnv(t)
	ctx := context.Background()
	seedSlot(t, st, 9203, "2030-06-03", 2)
	campaignID := seedCampaign(t, st)

	approval, reservation, err := approvals.SubmitForApproval(ctx, "acme", campaignID, 7, &SubmitApprovalRequest{
		Items: []ReservationItemRequest{itemReq(9203, "2030-06-03", models.PlacementPreRoll)},
	})
	require.NoError(t, err)

	admin := &models.User{ID: 9, Role: models.RoleAdmin}
	result, err := approvals.Decide(ctx, "acme", approval.ID, admin, &DecideApprovalRequest{
		Action: ActionReject,
		Reason: "budget cut",
	})
	require.NoError(t, err)
	assert.Nil(t, result.OrderID)
	assert.Equal(t, models.ApprovalStatusRejected, result.Approval.Status)

	campaign := readCampaign(t, st, campaignID)
	assert.Equal(t, models.CampaignStatusActive, campaign.Status)
	assert.Equal(t, models.ProbabilityVerbal, campaign.Probability)
	assert.Nil(t, campaign.ReservationID)
	assert.Nil(t, campaign.ApprovalRequestID)

	slot := readSlot(t, st, 9203, "2030-06-03")
	assert.Equal(t, 2, slot.AvailableSpots)
	assert.Equal(t, 0, slot.ReservedSpots)
	assert.True(t, slot.Balanced())

	rejected, _, err := reservations.Get(ctx, "acme", reservation.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusCancelled, rejected.Status)
}

func TestLazyExpiryBlocksMutation(t *testing.T) {
	st, reservations, _ := testEnv(t)
	ctx := context.Background()
	seedSlot(t, st, 9204, "2030-06-04", 2)

	create := func() *models.Reservation {
		r, _, err := reservations.Create(ctx, "acme", 7, &CreateReservationRequest{
			AdvertiserID: 1,
			Items:        []ReservationItemRequest{itemReq(9204, "2030-06-04", models.PlacementPreRoll)},
		})
		require.NoError(t, err)
		return r
	}

	t.Run("update on lapsed hold", func(t *testing.T) {
		r := create()
		forceExpired(t, st, r.ID)

		notes := "late edit"
		_, _, err := reservations.Update(ctx, "acme", r.ID, &UpdateReservationRequest{Notes: &notes})
		require.Error(t, err)
		assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))
		assert.Contains(t, err.Error(), "expired")

		expired, _, err := reservations.Get(ctx, "acme", r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReservationStatusExpired, expired.Status)

		slot := readSlot(t, st, 9204, "2030-06-04")
		assert.Equal(t, 2, slot.AvailableSpots)
		assert.Equal(t, 0, slot.ReservedSpots)
	})

	t.Run("cancel on lapsed hold", func(t *testing.T) {
		r := create()
		forceExpired(t, st, r.ID)

		_, err := reservations.Cancel(ctx, "acme", r.ID, 7, "too late")
		require.Error(t, err)
		assert.Equal(t, apperr.KindInvalidState, apperr.KindOf(err))

		expired, _, err := reservations.Get(ctx, "acme", r.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ReservationStatusExpired, expired.Status)

		slot := readSlot(t, st, 9204, "2030-06-04")
		assert.Equal(t, 2, slot.AvailableSpots)
	})
}
