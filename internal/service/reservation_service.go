package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"adops-service/internal/apperr"
	"adops-service/internal/broker"
	"adops-service/internal/models"
	"adops-service/internal/redisclient"
	"adops-service/internal/store"
	"adops-service/internal/tenant"
	"adops-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const airDateLayout = "2006-01-02"

// ReservationService owns the reservation lifecycle: held, confirmed,
// expired, cancelled, converted. Slot capacity only moves through its
// transactional paths.
type ReservationService struct {
	store            *store.Store
	redis            *redisclient.Client
	eventPublisher   *broker.EventPublisher
	defaultHoldHours int
	logger           *zap.Logger
}

// NewReservationService creates a new reservation service
func NewReservationService(
	st *store.Store,
	redis *redisclient.Client,
	eventPublisher *broker.EventPublisher,
	defaultHoldHours int,
) *ReservationService {
	return &ReservationService{
		store:            st,
		redis:            redis,
		eventPublisher:   eventPublisher,
		defaultHoldHours: defaultHoldHours,
		logger:           util.GetLogger(),
	}
}

// ReservationItemRequest is one requested spot hold.
type ReservationItemRequest struct {
	ShowID        int64  `json:"show_id"`
	EpisodeID     *int64 `json:"episode_id,omitempty"`
	AirDate       string `json:"air_date"`
	PlacementType string `json:"placement_type"`
	SpotNumber    *int   `json:"spot_number,omitempty"`
	Length        int    `json:"length"`
	Rate          int64  `json:"rate"`
}

// CreateReservationRequest is the payload for a new hold.
type CreateReservationRequest struct {
	AdvertiserID      int64                    `json:"advertiser_id"`
	CampaignID        *int64                   `json:"campaign_id,omitempty"`
	Items             []ReservationItemRequest `json:"items"`
	HoldDurationHours int                      `json:"hold_duration_hours,omitempty"`
	Priority          string                   `json:"priority,omitempty"`
	Notes             string                   `json:"notes,omitempty"`
}

// UpdateReservationRequest carries the allow-listed mutable fields. Nil
// pointers mean "leave unchanged"; the API layer rejects unknown fields
// before this struct is populated.
type UpdateReservationRequest struct {
	HoldDurationHours *int                      `json:"hold_duration_hours,omitempty"`
	Priority          *string                   `json:"priority,omitempty"`
	Notes             *string                   `json:"notes,omitempty"`
	Items             *[]ReservationItemRequest `json:"items,omitempty"`
}

type parsedItem struct {
	models.ReservationItem
}

// slotKey identifies one InventorySlot within a tenant.
type slotKey struct {
	ShowID    int64
	Date      time.Time
	Placement string
}

func (k slotKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.ShowID, k.Date.Format(airDateLayout), k.Placement)
}

// validateItems checks required fields and parses air dates.
func validateItems(items []ReservationItemRequest) ([]parsedItem, error) {
	if len(items) == 0 {
		return nil, apperr.E(apperr.KindValidation, "at least one reservation item is required")
	}

	parsed := make([]parsedItem, 0, len(items))
	for i, item := range items {
		if item.ShowID == 0 {
			return nil, apperr.Ef(apperr.KindValidation, "item %d: show_id is required", i)
		}
		if item.AirDate == "" {
			return nil, apperr.Ef(apperr.KindValidation, "item %d: air_date is required", i)
		}
		airDate, err := time.Parse(airDateLayout, item.AirDate)
		if err != nil {
			return nil, apperr.Ef(apperr.KindValidation, "item %d: air_date must be YYYY-MM-DD", i)
		}
		if !models.ValidPlacement(item.PlacementType) {
			return nil, apperr.Ef(apperr.KindValidation, "item %d: unknown placement type %q", i, item.PlacementType)
		}
		if item.Length <= 0 {
			return nil, apperr.Ef(apperr.KindValidation, "item %d: length must be positive", i)
		}
		if item.Rate <= 0 {
			return nil, apperr.Ef(apperr.KindValidation, "item %d: rate must be positive", i)
		}

		parsed = append(parsed, parsedItem{models.ReservationItem{
			ShowID:        item.ShowID,
			EpisodeID:     item.EpisodeID,
			AirDate:       airDate,
			PlacementType: item.PlacementType,
			SpotNumber:    item.SpotNumber,
			Length:        item.Length,
			Rate:          item.Rate,
		}})
	}
	return parsed, nil
}

// slotDemand groups items by slot; each item claims one spot.
func slotDemand(items []models.ReservationItem) map[slotKey]int {
	demand := make(map[slotKey]int)
	for _, item := range items {
		key := slotKey{ShowID: item.ShowID, Date: item.AirDate, Placement: item.PlacementType}
		demand[key]++
	}
	return demand
}

// sortedSlotKeys returns demand keys in a stable order so concurrent
// transactions lock slots in the same sequence and cannot deadlock.
func sortedSlotKeys(demand map[slotKey]int) []slotKey {
	keys := make([]slotKey, 0, len(demand))
	for k := range demand {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

// totalAmount sums item rates.
func totalAmount(items []models.ReservationItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Rate
	}
	return total
}

// newReservationNumber generates a human-readable, org-unique number.
func newReservationNumber() string {
	suffix := strings.ToUpper(uuid.New().String()[:8])
	return fmt.Sprintf("RES-%s-%s", time.Now().Format("20060102"), suffix)
}

// Create holds inventory for the requested items. Either every item is held
// and the reservation exists, or nothing changed.
func (s *ReservationService) Create(ctx context.Context, orgSlug string, userID int64, req *CreateReservationRequest) (*models.Reservation, []models.ReservationItem, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Create")
	defer span.End()

	if req.AdvertiserID == 0 {
		return nil, nil, apperr.E(apperr.KindValidation, "advertiser_id is required")
	}
	parsed, err := validateItems(req.Items)
	if err != nil {
		util.ReservationsFailedTotal.WithLabelValues("invalid_items").Inc()
		return nil, nil, err
	}

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return nil, nil, err
	}

	holdHours := req.HoldDurationHours
	if holdHours <= 0 {
		holdHours = s.defaultHoldHours
	}

	items := make([]models.ReservationItem, len(parsed))
	for i, p := range parsed {
		items[i] = p.ReservationItem
		items[i].Status = models.ReservationStatusHeld
	}

	reservation := &models.Reservation{
		ReservationNumber: newReservationNumber(),
		AdvertiserID:      req.AdvertiserID,
		CampaignID:        req.CampaignID,
		Status:            models.ReservationStatusHeld,
		HoldDurationHours: holdHours,
		ExpiresAt:         time.Now().Add(time.Duration(holdHours) * time.Hour),
		TotalAmount:       totalAmount(items),
		Priority:          req.Priority,
		Notes:             req.Notes,
		CreatedBy:         userID,
	}

	start := time.Now()
	err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		if err := s.holdCapacity(ctx, tx, slotDemand(items)); err != nil {
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
		return nil
	})
	util.SlotHoldLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		if apperr.Is(err, apperr.KindInsufficientInventory) {
			util.ReservationsFailedTotal.WithLabelValues("insufficient_inventory").Inc()
		}
		return nil, nil, err
	}

	util.ReservationsCreatedTotal.Inc()
	s.logger.Info("Reservation created",
		zap.String("org", orgSlug),
		zap.Int64("reservation_id", reservation.ID),
		zap.String("number", reservation.ReservationNumber),
		zap.Int("items", len(items)))

	if err := s.redis.IndexExpiry(ctx, orgSlug, reservation.ID, reservation.ExpiresAt); err != nil {
		s.logger.Warn("Failed to index reservation expiry", zap.Int64("reservation_id", reservation.ID), zap.Error(err))
	}

	event := &models.ReservationCreatedEvent{
		BaseEvent:         newBaseEvent(models.EventTypeReservationCreated, orgSlug),
		ReservationID:     reservation.ID,
		ReservationNumber: reservation.ReservationNumber,
		AdvertiserID:      reservation.AdvertiserID,
		TotalAmount:       reservation.TotalAmount,
		ItemCount:         len(items),
		ExpiresAt:         reservation.ExpiresAt,
	}
	if err := s.eventPublisher.PublishReservationCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReservationCreated event", zap.Error(err))
	}

	return reservation, items, nil
}

// holdCapacity moves availableSpots to reservedSpots for every slot in the
// demand map, locking slots in sorted order. Any shortfall aborts the whole
// transaction.
func (s *ReservationService) holdCapacity(ctx context.Context, tx *sqlx.Tx, demand map[slotKey]int) error {
	for _, key := range sortedSlotKeys(demand) {
		needed := demand[key]
		slot, err := s.store.SlotForUpdate(ctx, tx, key.ShowID, key.Date, key.Placement)
		if err != nil {
			return err
		}
		if slot.AvailableSpots < needed {
			return apperr.Ef(apperr.KindInsufficientInventory,
				"slot %s has %d available, %d requested", key, slot.AvailableSpots, needed)
		}
		if err := s.store.AdjustSlotCounts(ctx, tx, slot.ID, -needed, needed, 0); err != nil {
			return err
		}
	}
	return nil
}

// releaseCapacity returns reservedSpots to availableSpots for all items of a
// reservation. Symmetric to holdCapacity.
func (s *ReservationService) releaseCapacity(ctx context.Context, tx *sqlx.Tx, reservationID int64) error {
	items, err := s.store.ReservationItems(ctx, tx, reservationID)
	if err != nil {
		return err
	}
	demand := slotDemand(items)
	for _, key := range sortedSlotKeys(demand) {
		slot, err := s.store.SlotForUpdate(ctx, tx, key.ShowID, key.Date, key.Placement)
		if err != nil {
			return err
		}
		if err := s.store.AdjustSlotCounts(ctx, tx, slot.ID, demand[key], -demand[key], 0); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a reservation with its items, applying the lazy expiry check:
// a held reservation past its deadline is expired before it is returned.
func (s *ReservationService) Get(ctx context.Context, orgSlug string, id int64) (*models.Reservation, []models.ReservationItem, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Get")
	defer span.End()

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return nil, nil, err
	}

	var reservation *models.Reservation
	var items []models.ReservationItem
	err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		reservation, err = s.store.GetReservation(ctx, tx, id)
		if err != nil {
			return err
		}
		items, err = s.store.ReservationItems(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	if reservation.ExpiredAt(time.Now()) {
		if err := s.Expire(ctx, orgSlug, id); err != nil {
			return nil, nil, err
		}
		reservation.Status = models.ReservationStatusExpired
		for i := range items {
			items[i].Status = models.ReservationStatusExpired
		}
	}

	return reservation, items, nil
}

// Update edits a held reservation. Only the allow-listed fields can change;
// replacing items re-balances slot capacity by delta inside one transaction.
func (s *ReservationService) Update(ctx context.Context, orgSlug string, id int64, req *UpdateReservationRequest) (*models.Reservation, []models.ReservationItem, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Update")
	defer span.End()

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return nil, nil, err
	}

	var newParsed []parsedItem
	if req.Items != nil {
		newParsed, err = validateItems(*req.Items)
		if err != nil {
			return nil, nil, err
		}
	}
	if req.HoldDurationHours != nil && *req.HoldDurationHours <= 0 {
		return nil, nil, apperr.E(apperr.KindValidation, "hold_duration_hours must be positive")
	}

	var reservation *models.Reservation
	var items []models.ReservationItem
	var lapsed bool

	err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		reservation, err = s.store.GetReservationForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if reservation.ExpiredAt(time.Now()) {
			lapsed = true
			return s.expireLocked(ctx, tx, reservation)
		}
		if reservation.Status != models.ReservationStatusHeld {
			return apperr.Ef(apperr.KindInvalidState,
				"reservation is %s, only held reservations may be updated", reservation.Status)
		}

		total := reservation.TotalAmount
		if req.Items != nil {
			newItems := make([]models.ReservationItem, len(newParsed))
			for i, p := range newParsed {
				newItems[i] = p.ReservationItem
				newItems[i].ReservationID = id
				newItems[i].Status = models.ReservationStatusHeld
			}

			oldItems, err := s.store.ReservationItems(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := s.rebalanceCapacity(ctx, tx, slotDemand(oldItems), slotDemand(newItems)); err != nil {
				return err
			}
			if err := s.store.DeleteReservationItems(ctx, tx, id); err != nil {
				return err
			}
			for i := range newItems {
				if err := s.store.InsertReservationItem(ctx, tx, &newItems[i]); err != nil {
					return err
				}
			}
			total = totalAmount(newItems)
		}

		holdHours := reservation.HoldDurationHours
		expiresAt := reservation.ExpiresAt
		if req.HoldDurationHours != nil {
			holdHours = *req.HoldDurationHours
			expiresAt = time.Now().Add(time.Duration(holdHours) * time.Hour)
		}
		priority := reservation.Priority
		if req.Priority != nil {
			priority = *req.Priority
		}
		notes := reservation.Notes
		if req.Notes != nil {
			notes = *req.Notes
		}

		if err := s.store.SetReservationTerms(ctx, tx, id, holdHours, expiresAt, priority, notes, total); err != nil {
			return err
		}

		reservation.HoldDurationHours = holdHours
		reservation.ExpiresAt = expiresAt
		reservation.Priority = priority
		reservation.Notes = notes
		reservation.TotalAmount = total

		items, err = s.store.ReservationItems(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if lapsed {
		s.afterExpiry(ctx, orgSlug, id)
		return nil, nil, apperr.E(apperr.KindInvalidState, "reservation has expired")
	}

	if err := s.redis.IndexExpiry(ctx, orgSlug, id, reservation.ExpiresAt); err != nil {
		s.logger.Warn("Failed to refresh reservation expiry index", zap.Int64("reservation_id", id), zap.Error(err))
	}

	s.logger.Info("Reservation updated", zap.String("org", orgSlug), zap.Int64("reservation_id", id))
	return reservation, items, nil
}

// demandDelta computes the per-slot difference between an old and a new item
// set. Positive deltas need fresh capacity; negative deltas release it.
func demandDelta(oldDemand, newDemand map[slotKey]int) map[slotKey]int {
	delta := make(map[slotKey]int, len(oldDemand)+len(newDemand))
	for k := range oldDemand {
		delta[k] = newDemand[k] - oldDemand[k]
	}
	for k := range newDemand {
		if _, seen := oldDemand[k]; !seen {
			delta[k] = newDemand[k]
		}
	}
	return delta
}

// rebalanceCapacity applies the per-slot delta between the old and new item
// sets, locking the affected slots in sorted order.
func (s *ReservationService) rebalanceCapacity(ctx context.Context, tx *sqlx.Tx, oldDemand, newDemand map[slotKey]int) error {
	deltas := demandDelta(oldDemand, newDemand)
	for _, key := range sortedSlotKeys(deltas) {
		delta := deltas[key]
		if delta == 0 {
			continue
		}
		slot, err := s.store.SlotForUpdate(ctx, tx, key.ShowID, key.Date, key.Placement)
		if err != nil {
			return err
		}
		if delta > 0 && slot.AvailableSpots < delta {
			return apperr.Ef(apperr.KindInsufficientInventory,
				"slot %s has %d available, %d more requested", key, slot.AvailableSpots, delta)
		}
		if err := s.store.AdjustSlotCounts(ctx, tx, slot.ID, -delta, delta, 0); err != nil {
			return err
		}
	}
	return nil
}

// Cancel releases a held reservation and records who cancelled it and why.
func (s *ReservationService) Cancel(ctx context.Context, orgSlug string, id, userID int64, reason string) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Cancel")
	defer span.End()

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return nil, err
	}

	var reservation *models.Reservation
	var lapsed bool
	err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		reservation, err = s.store.GetReservationForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if reservation.ExpiredAt(time.Now()) {
			lapsed = true
			return s.expireLocked(ctx, tx, reservation)
		}
		if reservation.Status != models.ReservationStatusHeld {
			return apperr.Ef(apperr.KindInvalidState,
				"reservation is %s, only held reservations may be cancelled", reservation.Status)
		}

		if err := s.releaseCapacity(ctx, tx, id); err != nil {
			return err
		}
		return s.store.MarkReservationCancelled(ctx, tx, id, userID, reason)
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		s.afterExpiry(ctx, orgSlug, id)
		return nil, apperr.E(apperr.KindInvalidState, "reservation has expired")
	}

	reservation.Status = models.ReservationStatusCancelled
	reservation.CancelledBy = &userID
	reservation.CancelReason = reason

	util.ReservationsCancelledTotal.Inc()
	s.logger.Info("Reservation cancelled",
		zap.String("org", orgSlug),
		zap.Int64("reservation_id", id),
		zap.Int64("cancelled_by", userID))

	if err := s.redis.DropExpiry(ctx, orgSlug, id); err != nil {
		s.logger.Warn("Failed to drop expiry index entry", zap.Int64("reservation_id", id), zap.Error(err))
	}

	event := &models.ReservationReleasedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeReservationCancelled, orgSlug),
		ReservationID: id,
		Reason:        reason,
	}
	if err := s.eventPublisher.PublishReservationReleased(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReservationCancelled event", zap.Error(err))
	}

	return reservation, nil
}

// Confirm transitions a held reservation to confirmed. A confirmed
// reservation keeps its capacity and no longer times out.
func (s *ReservationService) Confirm(ctx context.Context, orgSlug string, id int64) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Confirm")
	defer span.End()

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return nil, err
	}

	var reservation *models.Reservation
	var lapsed bool
	err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		reservation, err = s.store.GetReservationForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if reservation.ExpiredAt(time.Now()) {
			lapsed = true
			return s.expireLocked(ctx, tx, reservation)
		}
		if reservation.Status != models.ReservationStatusHeld {
			return apperr.Ef(apperr.KindInvalidState,
				"reservation is %s, only held reservations may be confirmed", reservation.Status)
		}
		return s.store.SetReservationStatus(ctx, tx, id, models.ReservationStatusConfirmed)
	})
	if err != nil {
		return nil, err
	}
	if lapsed {
		s.afterExpiry(ctx, orgSlug, id)
		return nil, apperr.E(apperr.KindInvalidState, "reservation has expired")
	}

	reservation.Status = models.ReservationStatusConfirmed
	util.ReservationsConfirmedTotal.Inc()
	s.logger.Info("Reservation confirmed", zap.String("org", orgSlug), zap.Int64("reservation_id", id))

	if err := s.redis.DropExpiry(ctx, orgSlug, id); err != nil {
		s.logger.Warn("Failed to drop expiry index entry", zap.Int64("reservation_id", id), zap.Error(err))
	}

	return reservation, nil
}

// Expire transitions a timed-out held reservation to expired and releases its
// capacity. Idempotent: anything not held and due is left alone.
func (s *ReservationService) Expire(ctx context.Context, orgSlug string, id int64) error {
	ctx, span := util.StartSpan(ctx, "ReservationService.Expire")
	defer span.End()

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return err
	}

	var expired bool
	err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
		reservation, err := s.store.GetReservationForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !reservation.ExpiredAt(time.Now()) {
			return nil
		}
		expired = true
		return s.expireLocked(ctx, tx, reservation)
	})
	if err != nil {
		return err
	}

	if expired {
		s.afterExpiry(ctx, orgSlug, id)
	}
	return nil
}

// expireLocked releases capacity and marks the row expired. Caller must hold
// the row lock and have verified the reservation is due.
func (s *ReservationService) expireLocked(ctx context.Context, tx *sqlx.Tx, reservation *models.Reservation) error {
	if err := s.releaseCapacity(ctx, tx, reservation.ID); err != nil {
		return err
	}
	return s.store.SetReservationStatus(ctx, tx, reservation.ID, models.ReservationStatusExpired)
}

// afterExpiry does the out-of-transaction bookkeeping for an expiry.
func (s *ReservationService) afterExpiry(ctx context.Context, orgSlug string, id int64) {
	util.ReservationsExpiredTotal.Inc()
	s.logger.Info("Reservation expired", zap.String("org", orgSlug), zap.Int64("reservation_id", id))

	if err := s.redis.DropExpiry(ctx, orgSlug, id); err != nil {
		s.logger.Warn("Failed to drop expiry index entry", zap.Int64("reservation_id", id), zap.Error(err))
	}

	event := &models.ReservationReleasedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeReservationExpired, orgSlug),
		ReservationID: id,
		Reason:        "hold expired",
	}
	if err := s.eventPublisher.PublishReservationReleased(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReservationExpired event", zap.Error(err))
	}
}

// ConvertTx turns a held or confirmed reservation into booked capacity within
// the caller's transaction. This is the only path from reservation to order
// inventory and is invoked solely by the approval workflow.
func (s *ReservationService) ConvertTx(ctx context.Context, tx *sqlx.Tx, reservationID int64) (*models.Reservation, error) {
	reservation, err := s.store.GetReservationForUpdate(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation.ExpiredAt(time.Now()) {
		return nil, apperr.E(apperr.KindInvalidState, "reservation has expired")
	}
	if reservation.Status != models.ReservationStatusHeld && reservation.Status != models.ReservationStatusConfirmed {
		return nil, apperr.Ef(apperr.KindInvalidState,
			"reservation is %s, only held or confirmed reservations may be converted", reservation.Status)
	}

	items, err := s.store.ReservationItems(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	demand := slotDemand(items)
	for _, key := range sortedSlotKeys(demand) {
		slot, err := s.store.SlotForUpdate(ctx, tx, key.ShowID, key.Date, key.Placement)
		if err != nil {
			return nil, err
		}
		if err := s.store.AdjustSlotCounts(ctx, tx, slot.ID, 0, -demand[key], demand[key]); err != nil {
			return nil, err
		}
	}

	if err := s.store.SetReservationStatus(ctx, tx, reservationID, models.ReservationStatusConverted); err != nil {
		return nil, err
	}
	reservation.Status = models.ReservationStatusConverted
	return reservation, nil
}

// AfterConvert does the out-of-transaction bookkeeping once a conversion has
// committed.
func (s *ReservationService) AfterConvert(ctx context.Context, orgSlug string, reservationID, orderID, campaignID int64) {
	util.ReservationsConvertedTotal.Inc()

	if err := s.redis.DropExpiry(ctx, orgSlug, reservationID); err != nil {
		s.logger.Warn("Failed to drop expiry index entry", zap.Int64("reservation_id", reservationID), zap.Error(err))
	}

	event := &models.ReservationConvertedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeReservationConverted, orgSlug),
		ReservationID: reservationID,
		OrderID:       orderID,
		CampaignID:    campaignID,
	}
	if err := s.eventPublisher.PublishReservationConverted(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReservationConverted event", zap.Error(err))
	}
}

// SweepDue expires every due held reservation across active organizations.
// Used as the database fallback behind the redis-indexed sweep; lazy
// check-on-read remains authoritative either way.
func (s *ReservationService) SweepDue(ctx context.Context, limit int) (int, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.SweepDue")
	defer span.End()

	slugs, err := s.store.ActiveOrgSlugs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list organizations: %w", err)
	}

	expired := 0
	for _, slug := range slugs {
		schema, err := tenant.SchemaName(slug)
		if err != nil {
			s.logger.Error("Skipping organization with invalid slug", zap.String("org", slug), zap.Error(err))
			continue
		}

		var due []models.Reservation
		err = s.store.WithSchemaTx(ctx, schema, func(tx *sqlx.Tx) error {
			due, err = s.store.DueHeldReservations(ctx, tx, time.Now(), limit)
			return err
		})
		if err != nil {
			s.logger.Error("Failed to scan due reservations", zap.String("org", slug), zap.Error(err))
			continue
		}

		for _, r := range due {
			if err := s.Expire(ctx, slug, r.ID); err != nil {
				s.logger.Error("Failed to expire reservation",
					zap.String("org", slug),
					zap.Int64("reservation_id", r.ID),
					zap.Error(err))
				continue
			}
			expired++
		}
	}
	return expired, nil
}

// Summary assembles per-tenant reservation aggregates from independent
// sub-queries. A failing sub-query degrades to a missing section rather than
// failing the endpoint.
func (s *ReservationService) Summary(ctx context.Context, orgSlug string) (map[string]interface{}, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Summary")
	defer span.End()

	schema, err := tenant.SchemaName(orgSlug)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{}

	if res := s.store.SafeQuerySchema(ctx, schema, "status_counts",
		"SELECT status, COUNT(*) AS count FROM reservations GROUP BY status"); res.Err == nil {
		out["status_counts"] = res.Data
	}

	if res := s.store.SafeQuerySchema(ctx, schema, "expiring_soon",
		"SELECT COUNT(*) AS count FROM reservations WHERE status = $1 AND expires_at < $2",
		models.ReservationStatusHeld, time.Now().Add(24*time.Hour)); res.Err == nil {
		out["expiring_soon"] = res.Data
	}

	if res := s.store.SafeQuerySchema(ctx, schema, "booked_value",
		"SELECT COALESCE(SUM(total_amount), 0) AS booked_value FROM reservations WHERE status = $1",
		models.ReservationStatusConverted); res.Err == nil {
		out["booked_value"] = res.Data
	}

	return out, nil
}

func newBaseEvent(eventType, orgSlug string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		OrgSlug:   orgSlug,
		Timestamp: time.Now(),
	}
}
