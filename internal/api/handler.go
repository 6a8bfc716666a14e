package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"adops-service/internal/apperr"
	"adops-service/internal/models"
	"adops-service/internal/service"
	"adops-service/internal/tenant"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReservationAPI is the reservation engine surface the handlers need.
type ReservationAPI interface {
	Create(ctx context.Context, orgSlug string, userID int64, req *service.CreateReservationRequest) (*models.Reservation, []models.ReservationItem, error)
	Get(ctx context.Context, orgSlug string, id int64) (*models.Reservation, []models.ReservationItem, error)
	Update(ctx context.Context, orgSlug string, id int64, req *service.UpdateReservationRequest) (*models.Reservation, []models.ReservationItem, error)
	Cancel(ctx context.Context, orgSlug string, id, userID int64, reason string) (*models.Reservation, error)
	Confirm(ctx context.Context, orgSlug string, id int64) (*models.Reservation, error)
	Summary(ctx context.Context, orgSlug string) (map[string]interface{}, error)
}

// ApprovalAPI is the approval workflow surface the handlers need.
type ApprovalAPI interface {
	SubmitForApproval(ctx context.Context, orgSlug string, campaignID, userID int64, req *service.SubmitApprovalRequest) (*models.CampaignApproval, *models.Reservation, error)
	GetCampaign(ctx context.Context, orgSlug string, id int64) (*models.Campaign, *models.Order, error)
	GetApproval(ctx context.Context, orgSlug string, id int64, actor *models.User) (*models.CampaignApproval, error)
	Decide(ctx context.Context, orgSlug string, approvalID int64, actor *models.User, req *service.DecideApprovalRequest) (*service.DecisionResult, error)
}

// Handler contains HTTP handlers
type Handler struct {
	reservations ReservationAPI
	approvals    ApprovalAPI
	validator    service.SessionValidator
	resolver     *tenant.Resolver
	audit        *service.KafkaActivityLogger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	reservations ReservationAPI,
	approvals ApprovalAPI,
	validator service.SessionValidator,
	resolver *tenant.Resolver,
	audit *service.KafkaActivityLogger,
) *Handler {
	return &Handler{
		reservations: reservations,
		approvals:    approvals,
		validator:    validator,
		resolver:     resolver,
		audit:        audit,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.Use(authMiddleware(h.validator))
	v1.Use(tenantMiddleware(h.resolver, h.audit))
	{
		v1.POST("/reservations", h.createReservation)
		v1.GET("/reservations/summary", h.reservationSummary)
		v1.GET("/reservations/:id", h.getReservation)
		v1.PUT("/reservations/:id", h.updateReservation)
		v1.DELETE("/reservations/:id", h.cancelReservation)
		v1.POST("/reservations/:id/confirm", h.confirmReservation)

		v1.GET("/campaigns/:id", h.getCampaign)
		v1.POST("/campaigns/:id/submit", h.submitCampaign)

		approvals := v1.Group("/approvals")
		approvals.Use(requireRole(models.RoleAdmin, models.RoleMaster))
		{
			approvals.GET("/:id", h.getApproval)
			approvals.PUT("/:id", h.decideApproval)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, apperr.E(apperr.KindValidation, "invalid id"))
		return 0, false
	}
	return id, true
}

// createReservation handles reservation creation
func (h *Handler) createReservation(c *gin.Context) {
	var req service.CreateReservationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}

	reservation, items, err := h.reservations.Create(c.Request.Context(), orgSlug(c), mustUser(c).ID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"reservation": reservation,
		"items":       items,
	})
}

// getReservation handles get reservation by ID
func (h *Handler) getReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	reservation, items, err := h.reservations.Get(c.Request.Context(), orgSlug(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reservation": reservation,
		"items":       items,
	})
}

// updateReservation handles edits to a held reservation. The body is decoded
// strictly: fields outside the allow-list reject the request instead of being
// silently dropped.
func (h *Handler) updateReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req service.UpdateReservationRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}

	reservation, items, err := h.reservations.Update(c.Request.Context(), orgSlug(c), id, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reservation": reservation,
		"items":       items,
	})
}

// cancelReservation handles explicit cancellation of a held reservation
func (h *Handler) cancelReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&body)

	reservation, err := h.reservations.Cancel(c.Request.Context(), orgSlug(c), id, mustUser(c).ID, body.Reason)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reservation": reservation})
}

// confirmReservation handles the held to confirmed transition
func (h *Handler) confirmReservation(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	reservation, err := h.reservations.Confirm(c.Request.Context(), orgSlug(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reservation": reservation})
}

// reservationSummary assembles the per-tenant dashboard aggregates. Sub-query
// failures degrade to missing sections rather than a failed response.
func (h *Handler) reservationSummary(c *gin.Context) {
	summary, err := h.reservations.Summary(c.Request.Context(), orgSlug(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// getCampaign returns a campaign, including its order once the campaign is won
func (h *Handler) getCampaign(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	campaign, order, err := h.approvals.GetCampaign(c.Request.Context(), orgSlug(c), id)
	if err != nil {
		writeError(c, err)
		return
	}

	body := gin.H{"campaign": campaign}
	if order != nil {
		body["order"] = order
	}
	c.JSON(http.StatusOK, body)
}

// submitCampaign moves a campaign into the pending-approval tier
func (h *Handler) submitCampaign(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req service.SubmitApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}

	approval, reservation, err := h.approvals.SubmitForApproval(c.Request.Context(), orgSlug(c), id, mustUser(c).ID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"approval":    approval,
		"reservation": reservation,
	})
}

// getApproval handles get approval by ID
func (h *Handler) getApproval(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	approval, err := h.approvals.GetApproval(c.Request.Context(), orgSlug(c), id, mustUser(c))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"approval": approval})
}

// decideApproval handles the approve/reject decision on a pending approval
func (h *Handler) decideApproval(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req service.DecideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindValidation, "invalid request body", err))
		return
	}

	result, err := h.approvals.Decide(c.Request.Context(), orgSlug(c), id, mustUser(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}
