package models

import (
	"time"

	"github.com/lib/pq"
)

// Organization is the tenant root, stored in the shared catalog schema.
// Every organization owns one physical database schema derived from Slug.
type Organization struct {
	ID        int64          `db:"id" json:"id"`
	Slug      string         `db:"slug" json:"slug"`
	Name      string         `db:"name" json:"name"`
	Plan      string         `db:"plan" json:"plan"`
	Features  pq.StringArray `db:"features" json:"features"`
	Status    string         `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Organization statuses
const (
	OrgStatusActive    = "active"
	OrgStatusSuspended = "suspended"
)

// User belongs to exactly one organization. A master user may act across
// organizations; such access is audited separately.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	Role           string    `db:"role" json:"role"`
	OrganizationID int64     `db:"organization_id" json:"organization_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// User roles
const (
	RoleMaster   = "master"
	RoleAdmin    = "admin"
	RoleSales    = "sales"
	RoleProducer = "producer"
	RoleTalent   = "talent"
	RoleClient   = "client"
)

// CanDecideApprovals reports whether the role may approve or reject campaigns.
func CanDecideApprovals(role string) bool {
	return role == RoleAdmin || role == RoleMaster
}

// InventorySlot is the sellable unit: one show, one air date, one placement
// type. Counters always satisfy available + reserved + booked == total.
type InventorySlot struct {
	ID             int64     `db:"id" json:"id"`
	ShowID         int64     `db:"show_id" json:"show_id"`
	SlotDate       time.Time `db:"slot_date" json:"slot_date"`
	PlacementType  string    `db:"placement_type" json:"placement_type"`
	TotalSpots     int       `db:"total_spots" json:"total_spots"`
	AvailableSpots int       `db:"available_spots" json:"available_spots"`
	ReservedSpots  int       `db:"reserved_spots" json:"reserved_spots"`
	BookedSpots    int       `db:"booked_spots" json:"booked_spots"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Balanced reports whether the slot counters are internally consistent.
func (s *InventorySlot) Balanced() bool {
	return s.AvailableSpots >= 0 && s.ReservedSpots >= 0 && s.BookedSpots >= 0 &&
		s.AvailableSpots+s.ReservedSpots+s.BookedSpots == s.TotalSpots
}

// Placement types
const (
	PlacementPreRoll  = "pre-roll"
	PlacementMidRoll  = "mid-roll"
	PlacementPostRoll = "post-roll"
)

// ValidPlacement reports whether p is a known placement type.
func ValidPlacement(p string) bool {
	return p == PlacementPreRoll || p == PlacementMidRoll || p == PlacementPostRoll
}

// Reservation is a time-bounded claim on inventory capacity.
type Reservation struct {
	ID                int64      `db:"id" json:"id"`
	ReservationNumber string     `db:"reservation_number" json:"reservation_number"`
	AdvertiserID      int64      `db:"advertiser_id" json:"advertiser_id"`
	CampaignID        *int64     `db:"campaign_id" json:"campaign_id,omitempty"`
	Status            string     `db:"status" json:"status"`
	HoldDurationHours int        `db:"hold_duration_hours" json:"hold_duration_hours"`
	ExpiresAt         time.Time  `db:"expires_at" json:"expires_at"`
	TotalAmount       int64      `db:"total_amount" json:"total_amount"`
	Priority          string     `db:"priority" json:"priority,omitempty"`
	Notes             string     `db:"notes" json:"notes,omitempty"`
	CreatedBy         int64      `db:"created_by" json:"created_by"`
	CancelledBy       *int64     `db:"cancelled_by" json:"cancelled_by,omitempty"`
	CancelReason      string     `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAt       *time.Time `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Reservation statuses
const (
	ReservationStatusHeld      = "held"
	ReservationStatusConfirmed = "confirmed"
	ReservationStatusExpired   = "expired"
	ReservationStatusCancelled = "cancelled"
	ReservationStatusConverted = "converted"
)

// ExpiredAt reports whether the reservation should be treated as expired at
// the given instant. Expiry is defined by wall clock, not by whether the
// sweep has updated the row yet; only held reservations time out.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return r.Status == ReservationStatusHeld && now.After(r.ExpiresAt)
}

// EffectiveStatus resolves the lazily-checked status at the given instant.
func (r *Reservation) EffectiveStatus(now time.Time) string {
	if r.ExpiredAt(now) {
		return ReservationStatusExpired
	}
	return r.Status
}

// ReservationItem is a single spot hold owned by a reservation.
type ReservationItem struct {
	ID            int64     `db:"id" json:"id"`
	ReservationID int64     `db:"reservation_id" json:"reservation_id"`
	ShowID        int64     `db:"show_id" json:"show_id"`
	EpisodeID     *int64    `db:"episode_id" json:"episode_id,omitempty"`
	AirDate       time.Time `db:"air_date" json:"air_date"`
	PlacementType string    `db:"placement_type" json:"placement_type"`
	SpotNumber    *int      `db:"spot_number" json:"spot_number,omitempty"`
	Length        int       `db:"length" json:"length"`
	Rate          int64     `db:"rate" json:"rate"`
	Status        string    `db:"status" json:"status"`
}

// Campaign is a sales opportunity. Probability acts as a coarse pipeline
// stage: 65 verbal, 90 pending approval, 100 won.
type Campaign struct {
	ID                int64     `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	AdvertiserID      int64     `db:"advertiser_id" json:"advertiser_id"`
	AgencyID          *int64    `db:"agency_id" json:"agency_id,omitempty"`
	Budget            int64     `db:"budget" json:"budget"`
	Probability       int       `db:"probability" json:"probability"`
	Status            string    `db:"status" json:"status"`
	ReservationID     *int64    `db:"reservation_id" json:"reservation_id,omitempty"`
	ApprovalRequestID *int64    `db:"approval_request_id" json:"approval_request_id,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Campaign statuses
const (
	CampaignStatusActive = "active"
	CampaignStatusWon    = "won"
	CampaignStatusLost   = "lost"
)

// Probability tiers
const (
	ProbabilityVerbal  = 65
	ProbabilityPending = 90
	ProbabilityWon     = 100
)

// CampaignApproval gates a campaign's conversion into a binding order. At
// most one pending approval may exist per campaign.
type CampaignApproval struct {
	ID              int64      `db:"id" json:"id"`
	CampaignID      int64      `db:"campaign_id" json:"campaign_id"`
	Status          string     `db:"status" json:"status"`
	RequestedBy     int64      `db:"requested_by" json:"requested_by"`
	Notes           string     `db:"notes" json:"notes,omitempty"`
	ApprovedBy      *int64     `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	RejectedBy      *int64     `db:"rejected_by" json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `db:"rejected_at" json:"rejected_at,omitempty"`
	RejectionReason string     `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Approval statuses
const (
	ApprovalStatusPending  = "pending"
	ApprovalStatusApproved = "approved"
	ApprovalStatusRejected = "rejected"
)

// Order is the binding commitment produced by an approved campaign. Created
// exactly once per approved CampaignApproval, never speculatively.
type Order struct {
	ID            int64      `db:"id" json:"id"`
	OrderNumber   string     `db:"order_number" json:"order_number"`
	CampaignID    int64      `db:"campaign_id" json:"campaign_id"`
	AdvertiserID  int64      `db:"advertiser_id" json:"advertiser_id"`
	AgencyID      *int64     `db:"agency_id" json:"agency_id,omitempty"`
	ReservationID int64      `db:"reservation_id" json:"reservation_id"`
	TotalAmount   int64      `db:"total_amount" json:"total_amount"`
	Status        string     `db:"status" json:"status"`
	SubmittedBy   int64      `db:"submitted_by" json:"submitted_by"`
	SubmittedAt   time.Time  `db:"submitted_at" json:"submitted_at"`
	ApprovedBy    *int64     `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// Order statuses
const (
	OrderStatusApproved = "approved"
)
