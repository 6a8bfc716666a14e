package store

import (
	"context"
	"database/sql"

	"adops-service/internal/apperr"
	"adops-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetCampaign retrieves a campaign by ID.
func (s *Store) GetCampaign(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Campaign, error) {
	var c models.Campaign
	err := tx.GetContext(ctx, &c, "SELECT * FROM campaigns WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("campaign")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCampaignForUpdate locks and retrieves a campaign by ID.
func (s *Store) GetCampaignForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.Campaign, error) {
	var c models.Campaign
	err := tx.GetContext(ctx, &c, "SELECT * FROM campaigns WHERE id = $1 FOR UPDATE", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("campaign")
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// HasPendingApproval reports whether the campaign already has an open
// approval request.
func (s *Store) HasPendingApproval(ctx context.Context, tx *sqlx.Tx, campaignID int64) (bool, error) {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM campaign_approvals WHERE campaign_id = $1 AND status = $2)",
		campaignID, models.ApprovalStatusPending)
	return exists, err
}

// InsertApproval persists a new pending approval request.
func (s *Store) InsertApproval(ctx context.Context, tx *sqlx.Tx, a *models.CampaignApproval) error {
	query := `
		INSERT INTO campaign_approvals (campaign_id, status, requested_by, notes)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	return tx.GetContext(ctx, a, query, a.CampaignID, a.Status, a.RequestedBy, a.Notes)
}

// GetApproval retrieves an approval by ID.
func (s *Store) GetApproval(ctx context.Context, tx *sqlx.Tx, id int64) (*models.CampaignApproval, error) {
	var a models.CampaignApproval
	err := tx.GetContext(ctx, &a, "SELECT * FROM campaign_approvals WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("campaign approval")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// PendingApprovalForUpdate locks the approval only while it is still pending.
// A decided approval is indistinguishable from a missing one, which is what
// makes a second approve or reject a clean NotFound instead of a double
// processing race.
func (s *Store) PendingApprovalForUpdate(ctx context.Context, tx *sqlx.Tx, id int64) (*models.CampaignApproval, error) {
	var a models.CampaignApproval
	err := tx.GetContext(ctx, &a,
		"SELECT * FROM campaign_approvals WHERE id = $1 AND status = $2 FOR UPDATE",
		id, models.ApprovalStatusPending)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("pending campaign approval")
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// MarkApprovalApproved records an approval decision.
func (s *Store) MarkApprovalApproved(ctx context.Context, tx *sqlx.Tx, id, approvedBy int64, notes string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaign_approvals
		SET status = $1, approved_by = $2, approved_at = NOW(), notes = $3
		WHERE id = $4`,
		models.ApprovalStatusApproved, approvedBy, notes, id)
	return err
}

// MarkApprovalRejected records a rejection with the mandatory reason.
func (s *Store) MarkApprovalRejected(ctx context.Context, tx *sqlx.Tx, id, rejectedBy int64, reason string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaign_approvals
		SET status = $1, rejected_by = $2, rejected_at = NOW(), rejection_reason = $3
		WHERE id = $4`,
		models.ApprovalStatusRejected, rejectedBy, reason, id)
	return err
}

// SetCampaignPending links a campaign to its reservation and approval request
// and moves it to the pending-approval tier.
func (s *Store) SetCampaignPending(ctx context.Context, tx *sqlx.Tx, campaignID, reservationID, approvalID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET probability = $1, reservation_id = $2, approval_request_id = $3, updated_at = NOW()
		WHERE id = $4`,
		models.ProbabilityPending, reservationID, approvalID, campaignID)
	return err
}

// SetCampaignWon moves a campaign to the won tier.
func (s *Store) SetCampaignWon(ctx context.Context, tx *sqlx.Tx, campaignID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET probability = $1, status = $2, updated_at = NOW()
		WHERE id = $3`,
		models.ProbabilityWon, models.CampaignStatusWon, campaignID)
	return err
}

// RevertCampaignToVerbal drops a rejected campaign back to the verbal tier
// and clears the reservation and approval links.
func (s *Store) RevertCampaignToVerbal(ctx context.Context, tx *sqlx.Tx, campaignID int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET probability = $1, reservation_id = NULL, approval_request_id = NULL, updated_at = NOW()
		WHERE id = $2`,
		models.ProbabilityVerbal, campaignID)
	return err
}

// InsertOrder persists the binding order produced by an approved campaign.
func (s *Store) InsertOrder(ctx context.Context, tx *sqlx.Tx, o *models.Order) error {
	query := `
		INSERT INTO orders
			(order_number, campaign_id, advertiser_id, agency_id, reservation_id,
			 total_amount, status, submitted_by, submitted_at, approved_by, approved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at`

	return tx.GetContext(ctx, o, query,
		o.OrderNumber, o.CampaignID, o.AdvertiserID, o.AgencyID, o.ReservationID,
		o.TotalAmount, o.Status, o.SubmittedBy, o.SubmittedAt, o.ApprovedBy, o.ApprovedAt)
}

// GetOrderByCampaign retrieves the order bound to a campaign.
func (s *Store) GetOrderByCampaign(ctx context.Context, tx *sqlx.Tx, campaignID int64) (*models.Order, error) {
	var o models.Order
	err := tx.GetContext(ctx, &o,
		"SELECT * FROM orders WHERE campaign_id = $1 ORDER BY created_at DESC LIMIT 1", campaignID)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("order")
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
