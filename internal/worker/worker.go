package worker

import (
	"context"
	"fmt"
	"time"

	"adops-service/internal/broker"
	"adops-service/internal/models"
	"adops-service/internal/redisclient"
	"adops-service/internal/service"
	"adops-service/internal/util"

	"go.uber.org/zap"
)

// ExpiryWorker reclaims capacity from timed-out holds. The redis index gives
// it cheap candidates; a periodic full database scan backstops the index so a
// cold redis never strands held inventory. Lazy check-on-read stays the
// authoritative expiry policy either way.
type ExpiryWorker struct {
	redis        *redisclient.Client
	reservations *service.ReservationService
	interval     time.Duration
	batchSize    int
	logger       *zap.Logger
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(
	redis *redisclient.Client,
	reservations *service.ReservationService,
	interval time.Duration,
	batchSize int,
) *ExpiryWorker {
	return &ExpiryWorker{
		redis:        redis,
		reservations: reservations,
		interval:     interval,
		batchSize:    batchSize,
		logger:       util.GetLogger(),
	}
}

// Start runs the sweep loop until the context is cancelled.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting expiry worker", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Full DB scan at a tenth of the claim cadence.
	fullScan := time.NewTicker(10 * w.interval)
	defer fullScan.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Expiry worker stopping")
			return ctx.Err()
		case <-ticker.C:
			w.sweepIndexed(ctx)
		case <-fullScan.C:
			w.sweepDatabase(ctx)
		}
	}
}

// sweepIndexed expires reservations claimed from the redis expiry index.
func (w *ExpiryWorker) sweepIndexed(ctx context.Context) {
	refs, err := w.redis.ClaimExpired(ctx, time.Now(), w.batchSize)
	if err != nil {
		w.logger.Error("Failed to claim expired reservations", zap.Error(err))
		return
	}

	for _, ref := range refs {
		if err := w.reservations.Expire(ctx, ref.OrgSlug, ref.ReservationID); err != nil {
			w.logger.Error("Failed to expire reservation",
				zap.String("org", ref.OrgSlug),
				zap.Int64("reservation_id", ref.ReservationID),
				zap.Error(err))
		}
	}
}

// sweepDatabase walks every active tenant for due holds the index missed.
// Only one instance runs the scan at a time.
func (w *ExpiryWorker) sweepDatabase(ctx context.Context) {
	token, locked, err := w.redis.AcquireLock(ctx, "expiry-full-scan", w.interval*10)
	if err != nil || !locked {
		return
	}
	defer func() {
		if err := w.redis.ReleaseLock(ctx, "expiry-full-scan", token); err != nil {
			w.logger.Warn("Failed to release sweep lock", zap.Error(err))
		}
	}()

	n, err := w.reservations.SweepDue(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("Full expiry scan failed", zap.Error(err))
		return
	}
	if n > 0 {
		w.logger.Info("Full expiry scan reclaimed holds", zap.Int("count", n))
	}
}

// NotificationWorker turns workflow events into notification deliveries.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	notifier     service.Notifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier service.Notifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		notifier: notifier,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnApprovalRequested(w.handleApprovalRequested)
	eventHandler.OnApprovalDecided(w.handleApprovalDecided)
	eventHandler.OnReservationReleased(w.handleReservationReleased)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleApprovalRequested(ctx context.Context, event *models.ApprovalRequestedEvent) error {
	return w.notifier.Send(ctx, service.Notification{
		OrgSlug: event.OrgSlug,
		Kind:    "approval_requested",
		Subject: fmt.Sprintf("Campaign %d awaiting approval", event.CampaignID),
		Detail:  fmt.Sprintf("approval %d, reservation %d", event.ApprovalID, event.ReservationID),
	})
}

func (w *NotificationWorker) handleApprovalDecided(ctx context.Context, event *models.ApprovalDecidedEvent) error {
	verb := "approved"
	if event.Action == "reject" {
		verb = "rejected"
	}
	subject := fmt.Sprintf("Campaign %d %s", event.CampaignID, verb)
	detail := fmt.Sprintf("approval %d", event.ApprovalID)
	if event.OrderID != 0 {
		detail = fmt.Sprintf("approval %d, order %d", event.ApprovalID, event.OrderID)
	}
	if event.Reason != "" {
		detail += ", reason: " + event.Reason
	}

	return w.notifier.Send(ctx, service.Notification{
		OrgSlug: event.OrgSlug,
		Kind:    "approval_" + event.Action,
		Subject: subject,
		Detail:  detail,
	})
}

func (w *NotificationWorker) handleReservationReleased(ctx context.Context, event *models.ReservationReleasedEvent) error {
	return w.notifier.Send(ctx, service.Notification{
		OrgSlug: event.OrgSlug,
		Kind:    "reservation_released",
		Subject: fmt.Sprintf("Reservation %d released", event.ReservationID),
		Detail:  event.Reason,
	})
}
