package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"adops-service/internal/apperr"
	"adops-service/internal/broker"
	"adops-service/internal/models"
	"adops-service/internal/store"
	"adops-service/internal/tenant"
	"adops-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Decision actions
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// ApprovalService owns the campaign approval state machine: entering the
// pending tier, approving into a won campaign with a binding order, or
// rejecting back to the verbal tier. All probability writes happen here.
type ApprovalService struct {
	store          *store.Store
	reservations   *ReservationService
	eventPublisher *broker.EventPublisher
	activity       ActivityLogger
	logger         *zap.Logger
}

// NewApprovalService creates a new approval service
func NewApprovalService(
	st *store.Store,
	reservations *ReservationService,
	eventPublisher *broker.EventPublisher,
	activity ActivityLogger,
) *ApprovalService {
	return &ApprovalService{
		store:          st,
		reservations:   reservations,
		eventPublisher: eventPublisher,
		activity:       activity,
		logger:         util.GetLogger(),
	}
}

// SubmitApprovalRequest is the payload for moving a campaign into the
// pending-approval tier.
type SubmitApprovalRequest struct {
	Items             []ReservationItemRequest `json:"items"`
	HoldDurationHours int                      `json:"hold_duration_hours,omitempty"`
	Notes             string                   `json:"notes,omitempty"`
}

// DecideApprovalRequest is the payload for an approve/reject decision.
type DecideApprovalRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// DecisionResult reports the outcome of a decision.
type DecisionResult struct {
	Approval *models.CampaignApproval `json:"approval"`
	OrderID  *int64                   `json:"order_id,omitempty"`
}

// SubmitForApproval moves a campaign to the pending tier: the proposed slots
// are held and an approval request is raised, atomically. A campaign with an
// open approval cannot be submitted again.
func (s *ApprovalService) SubmitForApproval(ctx context.Context, orgSlug string, campaignID, userID int64, req *SubmitApprovalRequest) (*models.CampaignApproval, *models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ApprovalService.SubmitForApproval")
	defer span.End()

	parsed, err := validateItems(req.Items)
	if err != nil {
		return nil, nil, err
	}

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return nil, nil, err
	}

	holdHours := req.HoldDurationHours
	if holdHours <= 0 {
		holdHours = s.reservations.defaultHoldHours
	}

	items := make([]models.ReservationItem, len(parsed))
	for i, p := range parsed {
		items[i] = p.ReservationItem
		items[i].Status = models.ReservationStatusHeld
	}

	var reservation *models.Reservation
	var approval *models.CampaignApproval

	err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		campaign, err := s.store.GetCampaignForUpdate(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if campaign.Status != models.CampaignStatusActive {
			return apperr.Ef(apperr.KindInvalidState, "campaign is %s, only active campaigns may be submitted", campaign.Status)
		}

		pending, err := s.store.HasPendingApproval(ctx, tx, campaignID)
		if err != nil {
			return err
		}
		if pending {
			return apperr.E(apperr.KindInvalidState, "campaign already has a pending approval")
		}

		reservation = &models.Reservation{
			ReservationNumber: newReservationNumber(),
			AdvertiserID:      campaign.AdvertiserID,
			CampaignID:        &campaign.ID,
			Status:            models.ReservationStatusHeld,
			HoldDurationHours: holdHours,
			ExpiresAt:         time.Now().Add(time.Duration(holdHours) * time.Hour),
			TotalAmount:       totalAmount(items),
			Notes:             req.Notes,
			CreatedBy:         userID,
		}

		if err := s.reservations.holdCapacity(ctx, tx, slotDemand(items)); err != nil {
			return err
		}
		if err := s.store.InsertReservation(ctx, tx, reservation); err != nil {
			return fmt.Errorf("failed to insert reservation: %w", err)
		}
		for i := range items {
			items[i].ReservationID = reservation.ID
			if err := s.store.InsertReservationItem(ctx, tx, &items[i]); err != nil {
				return fmt.Errorf("failed to insert reservation item: %w", err)
			}
		}

		approval = &models.CampaignApproval{
			CampaignID:  campaignID,
			Status:      models.ApprovalStatusPending,
			RequestedBy: userID,
			Notes:       req.Notes,
		}
		if err := s.store.InsertApproval(ctx, tx, approval); err != nil {
			return fmt.Errorf("failed to insert approval: %w", err)
		}

		return s.store.SetCampaignPending(ctx, tx, campaignID, reservation.ID, approval.ID)
	})
	if err != nil {
		if apperr.Is(err, apperr.KindInsufficientInventory) {
			util.ReservationsFailedTotal.WithLabelValues("insufficient_inventory").Inc()
		}
		// A concurrent submit can slip past the pending-approval read and hit
		// the unique partial index on (campaign_id) WHERE status = 'pending'.
		if store.IsUniqueViolation(err) {
			return nil, nil, apperr.E(apperr.KindInvalidState, "campaign already has a pending approval")
		}
		return nil, nil, err
	}

	util.ReservationsCreatedTotal.Inc()
	util.ApprovalsRequestedTotal.Inc()
	s.logger.Info("Campaign submitted for approval",
		zap.String("org", orgSlug),
		zap.Int64("campaign_id", campaignID),
		zap.Int64("approval_id", approval.ID),
		zap.Int64("reservation_id", reservation.ID))

	if err := s.reservations.redis.IndexExpiry(ctx, orgSlug, reservation.ID, reservation.ExpiresAt); err != nil {
		s.logger.Warn("Failed to index reservation expiry", zap.Int64("reservation_id", reservation.ID), zap.Error(err))
	}

	event := &models.ApprovalRequestedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeApprovalRequested, orgSlug),
		ApprovalID:    approval.ID,
		CampaignID:    campaignID,
		ReservationID: reservation.ID,
		RequestedBy:   userID,
	}
	if err := s.eventPublisher.PublishApprovalRequested(ctx, event); err != nil {
		s.logger.Error("Failed to publish ApprovalRequested event", zap.Error(err))
	}

	s.activity.Log(ctx, ActivityEvent{
		OrgSlug: orgSlug,
		ActorID: userID,
		Action:  "campaign.submit_approval",
		Detail:  fmt.Sprintf("campaign %d, approval %d, reservation %s", campaignID, approval.ID, reservation.ReservationNumber),
	})

	return approval, reservation, nil
}

// GetCampaign retrieves a campaign, with its binding order once the campaign
// is won. A won campaign has exactly one order.
func (s *ApprovalService) GetCampaign(ctx context.Context, orgSlug string, id int64) (*models.Campaign, *models.Order, error) {
	ctx, span := util.StartSpan(ctx, "ApprovalService.GetCampaign")
	defer span.End()

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return nil, nil, err
	}

	var campaign *models.Campaign
	var order *models.Order
	err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		campaign, err = s.store.GetCampaign(ctx, tx, id)
		if err != nil {
			return err
		}
		if campaign.Status != models.CampaignStatusWon {
			return nil
		}
		order, err = s.store.GetOrderByCampaign(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return campaign, order, nil
}

// GetApproval retrieves an approval request. Restricted to decision-capable
// roles.
func (s *ApprovalService) GetApproval(ctx context.Context, orgSlug string, id int64, actor *models.User) (*models.CampaignApproval, error) {
	ctx, span := util.StartSpan(ctx, "ApprovalService.GetApproval")
	defer span.End()

	if !models.CanDecideApprovals(actor.Role) {
		return nil, apperr.E(apperr.KindForbidden, "role may not view approval requests")
	}

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return nil, err
	}

	var approval *models.CampaignApproval
	err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		approval, err = s.store.GetApproval(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return approval, nil
}

// Decide applies an approve or reject decision. The target row is selected
// with status = pending, so a second decision on the same approval finds
// nothing and fails with NotFound. Approval, campaign update, reservation
// conversion or release, and order creation commit as one transaction.
func (s *ApprovalService) Decide(ctx context.Context, orgSlug string, approvalID int64, actor *models.User, req *DecideApprovalRequest) (*DecisionResult, error) {
	ctx, span := util.StartSpan(ctx, "ApprovalService.Decide")
	defer span.End()

	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action != ActionApprove && action != ActionReject {
		return nil, apperr.Ef(apperr.KindValidation, "action must be %q or %q", ActionApprove, ActionReject)
	}
	if !models.CanDecideApprovals(actor.Role) {
		return nil, apperr.E(apperr.KindForbidden, "role may not decide approval requests")
	}
	if action == ActionReject && strings.TrimSpace(req.Reason) == "" {
		return nil, apperr.E(apperr.KindValidation, "a reason is required to reject")
	}

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return nil, err
	}

	var approval *models.CampaignApproval
	var campaign *models.Campaign
	var order *models.Order
	var reservationID int64

	err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		approval, err = s.store.PendingApprovalForUpdate(ctx, tx, approvalID)
		if err != nil {
			return err
		}
		campaign, err = s.store.GetCampaignForUpdate(ctx, tx, approval.CampaignID)
		if err != nil {
			return err
		}
		if campaign.ReservationID == nil {
			return apperr.E(apperr.KindInvalidState, "campaign has no linked reservation")
		}
		reservationID = *campaign.ReservationID

		if action == ActionApprove {
			return s.approveLocked(ctx, tx, approval, campaign, actor, req.Notes, &order)
		}
		return s.rejectLocked(ctx, tx, approval, campaign, actor, req.Reason)
	})
	if err != nil {
		return nil, err
	}

	util.ApprovalsDecidedTotal.WithLabelValues(action).Inc()

	result := &DecisionResult{Approval: approval}
	event := &models.ApprovalDecidedEvent{
		ApprovalID: approvalID,
		CampaignID: campaign.ID,
		Action:     action,
		DecidedBy:  actor.ID,
	}

	if action == ActionApprove {
		result.OrderID = &order.ID
		event.BaseEvent = newBaseEvent(models.EventTypeApprovalApproved, orgSlug)
		event.OrderID = order.ID

		util.OrdersCreatedTotal.Inc()
		s.reservations.AfterConvert(ctx, orgSlug, reservationID, order.ID, campaign.ID)
		s.logger.Info("Campaign approved",
			zap.String("org", orgSlug),
			zap.Int64("campaign_id", campaign.ID),
			zap.Int64("order_id", order.ID))
	} else {
		event.BaseEvent = newBaseEvent(models.EventTypeApprovalRejected, orgSlug)
		event.Reason = req.Reason

		util.ReservationsCancelledTotal.Inc()
		if err := s.reservations.redis.DropExpiry(ctx, orgSlug, reservationID); err != nil {
			s.logger.Warn("Failed to drop expiry index entry", zap.Int64("reservation_id", reservationID), zap.Error(err))
		}
		s.logger.Info("Campaign rejected",
			zap.String("org", orgSlug),
			zap.Int64("campaign_id", campaign.ID),
			zap.String("reason", req.Reason))
	}

	if err := s.eventPublisher.PublishApprovalDecided(ctx, event); err != nil {
		s.logger.Error("Failed to publish ApprovalDecided event", zap.Error(err))
	}

	s.activity.Log(ctx, ActivityEvent{
		OrgSlug: orgSlug,
		ActorID: actor.ID,
		Action:  "campaign." + action,
		Detail:  fmt.Sprintf("campaign %d, approval %d", campaign.ID, approvalID),
	})

	return result, nil
}

// approveLocked finishes the approval inside the decision transaction: the
// approval row, the campaign tier, the reservation conversion, and the order
// all move together.
func (s *ApprovalService) approveLocked(ctx context.Context, tx *sqlx.Tx, approval *models.CampaignApproval, campaign *models.Campaign, actor *models.User, notes string, orderOut **models.Order) error {
	if err := s.store.MarkApprovalApproved(ctx, tx, approval.ID, actor.ID, notes); err != nil {
		return err
	}
	approval.Status = models.ApprovalStatusApproved
	approval.ApprovedBy = &actor.ID

	if err := s.store.SetCampaignWon(ctx, tx, campaign.ID); err != nil {
		return err
	}

	reservation, err := s.reservations.ConvertTx(ctx, tx, *campaign.ReservationID)
	if err != nil {
		return err
	}

	now := time.Now()
	order := &models.Order{
		OrderNumber:   newOrderNumber(),
		CampaignID:    campaign.ID,
		AdvertiserID:  campaign.AdvertiserID,
		AgencyID:      campaign.AgencyID,
		ReservationID: reservation.ID,
		TotalAmount:   reservation.TotalAmount,
		Status:        models.OrderStatusApproved,
		SubmittedBy:   approval.RequestedBy,
		SubmittedAt:   approval.CreatedAt,
		ApprovedBy:    &actor.ID,
		ApprovedAt:    &now,
	}
	if err := s.store.InsertOrder(ctx, tx, order); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	*orderOut = order
	return nil
}

// rejectLocked finishes the rejection inside the decision transaction: the
// reservation is released and the campaign falls back to the verbal tier with
// its links cleared.
func (s *ApprovalService) rejectLocked(ctx context.Context, tx *sqlx.Tx, approval *models.CampaignApproval, campaign *models.Campaign, actor *models.User, reason string) error {
	if err := s.store.MarkApprovalRejected(ctx, tx, approval.ID, actor.ID, reason); err != nil {
		return err
	}
	approval.Status = models.ApprovalStatusRejected
	approval.RejectedBy = &actor.ID
	approval.RejectionReason = reason

	if err := s.reservations.releaseCapacity(ctx, tx, *campaign.ReservationID); err != nil {
		return err
	}
	if err := s.store.MarkReservationCancelled(ctx, tx, *campaign.ReservationID, actor.ID, reason); err != nil {
		return err
	}

	return s.store.RevertCampaignToVerbal(ctx, tx, campaign.ID)
}

// newOrderNumber generates a human-readable, org-unique order number.
func newOrderNumber() string {
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return fmt.Sprintf("ORD-%s-%s", time.Now().Format("20060102"), suffix)
}
