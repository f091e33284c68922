package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"touchpoint-service/internal/conservation"
	"touchpoint-service/internal/db"
	"touchpoint-service/internal/logging"
	"touchpoint-service/internal/models"
	"touchpoint-service/internal/touchpoint"
)

// Store is the read/write surface the handlers touch directly.
type Store interface {
	GetClient(ctx context.Context, id string) (models.Client, error)
	GetClientByAppCode(ctx context.Context, code string) (models.Client, error)
	SetClientPushAddress(ctx context.Context, clientID, address string) error
	ListNotificationsByClient(ctx context.Context, clientID string, limit, offset int) ([]models.NotificationRecord, int, error)
	GetNotification(ctx context.Context, id string) (models.NotificationRecord, error)
	MarkNotificationRead(ctx context.Context, id string, at time.Time) (models.NotificationRecord, error)
	ListAlertsByAgent(ctx context.Context, agentID string) ([]models.ConservationAlert, error)
}

// TouchpointRunner is one daily batch.
type TouchpointRunner interface {
	Type() models.NotificationType
	Run(ctx context.Context, now time.Time) (touchpoint.RunResult, error)
}

// OutreachTicker fires due conservation outreach.
type OutreachTicker interface {
	Tick(ctx context.Context, now time.Time) (conservation.TickResult, error)
}

// Conservation is the agent-facing alert workflow.
type Conservation interface {
	Ingest(ctx context.Context, n models.LapseNotice) (models.ConservationAlert, error)
	Arm(ctx context.Context, agentID, alertID string) (models.ConservationAlert, error)
	Cancel(ctx context.Context, agentID, alertID string) (models.ConservationAlert, error)
	Resolve(ctx context.Context, agentID, alertID string, status models.AlertStatus, notes *string) (models.ConservationAlert, error)
	UpdateNotes(ctx context.Context, agentID, alertID, notes string) (models.ConservationAlert, error)
	Get(ctx context.Context, agentID, alertID string) (models.ConservationAlert, error)
}

type Handler struct {
	store        Store
	runners      map[models.NotificationType]TouchpointRunner
	outreach     OutreachTicker
	conservation Conservation
	logger       *logging.Logger
	now          func() time.Time
}

func NewHandler(store Store, runners []TouchpointRunner, outreach OutreachTicker, svc Conservation, logger *logging.Logger) *Handler {
	h := &Handler{
		store:        store,
		runners:      make(map[models.NotificationType]TouchpointRunner, len(runners)),
		outreach:     outreach,
		conservation: svc,
		logger:       logger,
		now:          time.Now,
	}
	for _, r := range runners {
		h.runners[r.Type()] = r
	}
	return h
}

// RunTouchpoint returns the cron handler for one touchpoint type.
func (h *Handler) RunTouchpoint(kind models.NotificationType) gin.HandlerFunc {
	return func(c *gin.Context) {
		runner, ok := h.runners[kind]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown touchpoint"})
			return
		}
		res, err := runner.Run(c.Request.Context(), h.now())
		if err != nil {
			h.logger.Errorf("Touchpoint run %s failed: %v", kind, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "type": kind, "error": "Run failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"type":          res.Type,
			"sent":          res.Sent,
			"skipped":       res.Skipped,
			"failed":        res.Failed,
			"agentNotified": res.AgentNotified,
		})
	}
}

func (h *Handler) RunConservation(c *gin.Context) {
	res, err := h.outreach.Tick(c.Request.Context(), h.now())
	if err != nil {
		h.logger.Errorf("Conservation tick failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "type": "conservation", "error": "Run failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"type":    "conservation",
		"due":     res.Due,
		"sent":    res.Sent,
		"skipped": res.Skipped,
		"failed":  res.Failed,
	})
}

type alertRequest struct {
	AlertID string `json:"alertId" binding:"required"`
}

type resolveRequest struct {
	AlertID string  `json:"alertId" binding:"required"`
	Status  string  `json:"status" binding:"required,oneof=saved lost"`
	Notes   *string `json:"notes"`
}

type notesRequest struct {
	AlertID string `json:"alertId" binding:"required"`
	Notes   string `json:"notes"`
}

type lapseRequest struct {
	ClientID   string `json:"clientId"`
	PolicyID   string `json:"policyId"`
	ClientName string `json:"clientName"`
	Reason     string `json:"reason"`
	Notes      string `json:"notes"`
}

func (h *Handler) CreateAlert(c *gin.Context) {
	var req lapseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.ClientID == "" && req.PolicyID == "" && req.ClientName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientId, policyId or clientName is required"})
		return
	}
	alert, err := h.conservation.Ingest(c.Request.Context(), models.LapseNotice{
		AgentID:    agentID(c),
		ClientID:   req.ClientID,
		PolicyID:   req.PolicyID,
		ClientName: req.ClientName,
		Reason:     req.Reason,
		Notes:      req.Notes,
		ReceivedAt: h.now(),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, alert)
}

func (h *Handler) ListAlerts(c *gin.Context) {
	alerts, err := h.store.ListAlertsByAgent(c.Request.Context(), agentID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	if alerts == nil {
		alerts = []models.ConservationAlert{}
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *Handler) GetAlert(c *gin.Context) {
	alert, err := h.conservation.Get(c.Request.Context(), agentID(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) ArmAlert(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alertId is required"})
		return
	}
	alert, err := h.conservation.Arm(c.Request.Context(), agentID(c), req.AlertID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) CancelOutreach(c *gin.Context) {
	var req alertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alertId is required"})
		return
	}
	alert, err := h.conservation.Cancel(c.Request.Context(), agentID(c), req.AlertID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) ResolveAlert(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alertId and status (saved or lost) are required"})
		return
	}
	alert, err := h.conservation.Resolve(c.Request.Context(), agentID(c), req.AlertID, models.AlertStatus(req.Status), req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *Handler) UpdateNotes(c *gin.Context) {
	var req notesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "alertId is required"})
		return
	}
	alert, err := h.conservation.UpdateNotes(c.Request.Context(), agentID(c), req.AlertID, req.Notes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, alert)
}

type registerRequest struct {
	Code      string `json:"code" binding:"required"`
	PushToken string `json:"pushToken" binding:"required"`
}

// RegisterPush attaches a device push address to the client owning code.
func (h *Handler) RegisterPush(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code and pushToken are required"})
		return
	}
	client, err := h.store.GetClientByAppCode(c.Request.Context(), req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.store.SetClientPushAddress(c.Request.Context(), client.ID, req.PushToken); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.With("client_id", client.ID).Infof("Registered push address")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ListClientNotifications(c *gin.Context) {
	client, err := h.store.GetClient(c.Request.Context(), c.Param("id"))
	if err != nil || client.AgentID != agentID(c) {
		h.fail(c, notFound(err))
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
		return
	}

	list, total, err := h.store.ListNotificationsByClient(c.Request.Context(), client.ID, limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	if list == nil {
		list = []models.NotificationRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": total, "limit": limit, "offset": offset})
}

type readRequest struct {
	Code string `json:"code" binding:"required"`
}

// MarkRead is called by the client app, authenticated by its app code.
func (h *Handler) MarkRead(c *gin.Context) {
	var req readRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	ctx := c.Request.Context()
	client, err := h.store.GetClientByAppCode(ctx, req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	n, err := h.store.GetNotification(ctx, c.Param("id"))
	if err != nil || n.ClientID != client.ID {
		h.fail(c, notFound(err))
		return
	}
	n, err = h.store.MarkNotificationRead(ctx, n.ID, h.now())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, n)
}

func notFound(err error) error {
	if err == nil || errors.Is(err, db.ErrNotFound) {
		return db.ErrNotFound
	}
	return err
}

// fail maps domain errors onto the HTTP taxonomy.
func (h *Handler) fail(c *gin.Context, err error) {
	var conflict *conservation.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": conflict.Error()})
	case errors.Is(err, conservation.ErrAlertNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, conservation.ErrInvalidResolution), errors.Is(err, conservation.ErrInvalidNotice):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Errorf("%s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
