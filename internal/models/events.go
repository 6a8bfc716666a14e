package models

import "time"

// Event types
const (
	EventTypeReservationCreated   = "RESERVATION_CREATED"
	EventTypeReservationConfirmed = "RESERVATION_CONFIRMED"
	EventTypeReservationCancelled = "RESERVATION_CANCELLED"
	EventTypeReservationExpired   = "RESERVATION_EXPIRED"
	EventTypeReservationConverted = "RESERVATION_CONVERTED"
	EventTypeApprovalRequested    = "APPROVAL_REQUESTED"
	EventTypeApprovalApproved     = "APPROVAL_APPROVED"
	EventTypeApprovalRejected     = "APPROVAL_REJECTED"
	EventTypeCrossTenantAccess    = "CROSS_TENANT_ACCESS"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	OrgSlug   string    `json:"org_slug"`
	Timestamp time.Time `json:"timestamp"`
}

// ReservationCreatedEvent published when inventory is placed on hold
type ReservationCreatedEvent struct {
	BaseEvent
	ReservationID     int64     `json:"reservation_id"`
	ReservationNumber string    `json:"reservation_number"`
	AdvertiserID      int64     `json:"advertiser_id"`
	TotalAmount       int64     `json:"total_amount"`
	ItemCount         int       `json:"item_count"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// ReservationReleasedEvent published when a hold is cancelled or expired
type ReservationReleasedEvent struct {
	BaseEvent
	ReservationID int64  `json:"reservation_id"`
	Reason        string `json:"reason,omitempty"`
}

// ReservationConvertedEvent published when a hold becomes a booked order
type ReservationConvertedEvent struct {
	BaseEvent
	ReservationID int64 `json:"reservation_id"`
	OrderID       int64 `json:"order_id"`
	CampaignID    int64 `json:"campaign_id"`
}

// ApprovalRequestedEvent published when a campaign enters the pending tier
type ApprovalRequestedEvent struct {
	BaseEvent
	ApprovalID    int64 `json:"approval_id"`
	CampaignID    int64 `json:"campaign_id"`
	ReservationID int64 `json:"reservation_id"`
	RequestedBy   int64 `json:"requested_by"`
}

// ApprovalDecidedEvent published on approve or reject
type ApprovalDecidedEvent struct {
	BaseEvent
	ApprovalID int64  `json:"approval_id"`
	CampaignID int64  `json:"campaign_id"`
	Action     string `json:"action"`
	DecidedBy  int64  `json:"decided_by"`
	OrderID    int64  `json:"order_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// CrossTenantAccessEvent is the audit record emitted before a master user
// touches another organization's data.
type CrossTenantAccessEvent struct {
	BaseEvent
	ActorID   int64  `json:"actor_id"`
	ActorOrg  string `json:"actor_org"`
	TargetOrg string `json:"target_org"`
	Path      string `json:"path"`
	Method    string `json:"method"`
}
