package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"adops-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing domain events. Events are keyed by tenant
// so one organization's lifecycle stays ordered within a partition.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func tenantKey(orgSlug string) string {
	return "org-" + orgSlug
}

// PublishReservationCreated publishes a ReservationCreated event
func (ep *EventPublisher) PublishReservationCreated(ctx context.Context, event *models.ReservationCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.OrgSlug), event)
}

// PublishReservationReleased publishes a cancelled or expired event
func (ep *EventPublisher) PublishReservationReleased(ctx context.Context, event *models.ReservationReleasedEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.OrgSlug), event)
}

// PublishReservationConverted publishes a ReservationConverted event
func (ep *EventPublisher) PublishReservationConverted(ctx context.Context, event *models.ReservationConvertedEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.OrgSlug), event)
}

// PublishApprovalRequested publishes an ApprovalRequested event
func (ep *EventPublisher) PublishApprovalRequested(ctx context.Context, event *models.ApprovalRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.OrgSlug), event)
}

// PublishApprovalDecided publishes an ApprovalDecided event
func (ep *EventPublisher) PublishApprovalDecided(ctx context.Context, event *models.ApprovalDecidedEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.OrgSlug), event)
}

// PublishCrossTenantAccess publishes the audit record for master access into
// a foreign organization.
func (ep *EventPublisher) PublishCrossTenantAccess(ctx context.Context, event *models.CrossTenantAccessEvent) error {
	return ep.producer.PublishEvent(ctx, tenantKey(event.TargetOrg), event)
}

// EventHandler routes consumed events to registered callbacks.
type EventHandler struct {
	onApprovalRequested   func(context.Context, *models.ApprovalRequestedEvent) error
	onApprovalDecided     func(context.Context, *models.ApprovalDecidedEvent) error
	onReservationReleased func(context.Context, *models.ReservationReleasedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnApprovalRequested registers a handler for ApprovalRequested events
func (eh *EventHandler) OnApprovalRequested(handler func(context.Context, *models.ApprovalRequestedEvent) error) {
	eh.onApprovalRequested = handler
}

// OnApprovalDecided registers a handler for ApprovalDecided events
func (eh *EventHandler) OnApprovalDecided(handler func(context.Context, *models.ApprovalDecidedEvent) error) {
	eh.onApprovalDecided = handler
}

// OnReservationReleased registers a handler for released reservations
func (eh *EventHandler) OnReservationReleased(handler func(context.Context, *models.ReservationReleasedEvent) error) {
	eh.onReservationReleased = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeApprovalRequested:
		if eh.onApprovalRequested != nil {
			var event models.ApprovalRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ApprovalRequested event: %w", err)
			}
			return eh.onApprovalRequested(ctx, &event)
		}

	case models.EventTypeApprovalApproved, models.EventTypeApprovalRejected:
		if eh.onApprovalDecided != nil {
			var event models.ApprovalDecidedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ApprovalDecided event: %w", err)
			}
			return eh.onApprovalDecided(ctx, &event)
		}

	case models.EventTypeReservationCancelled, models.EventTypeReservationExpired:
		if eh.onReservationReleased != nil {
			var event models.ReservationReleasedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ReservationReleased event: %w", err)
			}
			return eh.onReservationReleased(ctx, &event)
		}
	}

	return nil
}
