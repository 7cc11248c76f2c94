package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"resbac/internal/call"
	"resbac/internal/models"
	"resbac/internal/tracking"
)

// Tracker is the open incident as the control API sees it.
type Tracker interface {
	Info() tracking.Info
	IncidentID() int64
	RequestStatus(ctx context.Context, target models.IncidentStatus) error
	RequestBackup(ctx context.Context, req models.BackupRequest) error
	StartCall(ctx context.Context) (call.Snapshot, error)
	Hangup(ctx context.Context) (call.Snapshot, error)
}

// TrailReader reads recorded location samples.
type TrailReader interface {
	Trail(ctx context.Context, incidentID int64, limit int) ([]models.LocationSample, error)
}

type IncidentHandler interface {
	GetIncident(c *gin.Context)
	UpdateIncidentStatus(c *gin.Context)
	RequestBackup(c *gin.Context)
	StartCall(c *gin.Context)
	Hangup(c *gin.Context)
	GetTrail(c *gin.Context)
}

type incidentHandler struct {
	tracker Tracker
	trail   TrailReader
	logger  *zap.Logger
}

func NewIncidentHandler(tracker Tracker, trail TrailReader, logger *zap.Logger) IncidentHandler {
	return &incidentHandler{tracker: tracker, trail: trail, logger: logger}
}

// statusCode maps tracking errors to HTTP statuses.
func statusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrSyncFailed), errors.Is(err, models.ErrTransientNetwork):
		return http.StatusBadGateway
	case errors.Is(err, tracking.ErrNotResponder):
		return http.StatusForbidden
	case errors.Is(err, tracking.ErrClosed):
		return http.StatusGone
	case errors.Is(err, tracking.ErrCallActive), errors.Is(err, tracking.ErrNoCall):
		return http.StatusConflict
	case errors.Is(err, tracking.ErrNoAudioJoiner):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

// GetIncident handles GET /api/incident
func (h *incidentHandler) GetIncident(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"incident": h.tracker.Info()})
}

type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateIncidentStatus handles POST /api/incident/status
func (h *incidentHandler) UpdateIncidentStatus(c *gin.Context) {
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	target, err := models.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status. Valid values: En Route, On Scene, Resolved, Cancelled"})
		return
	}

	if err := h.tracker.RequestStatus(c.Request.Context(), target); err != nil {
		h.logger.Warn("Status request failed", zap.String("status", target.String()), zap.Error(err))
		c.JSON(statusCode(err), gin.H{"error": err.Error(), "incident": h.tracker.Info()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident": h.tracker.Info()})
}

type BackupRequest struct {
	BackupType string `json:"backup_type" binding:"required"`
	Reason     string `json:"reason"`
}

// RequestBackup handles POST /api/incident/backup
func (h *incidentHandler) RequestBackup(c *gin.Context) {
	var req BackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	br := models.BackupRequest{BackupType: models.BackupType(req.BackupType), Reason: models.BackupReason(req.Reason)}
	if err := br.WithDefaults().Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.tracker.RequestBackup(c.Request.Context(), br); err != nil {
		h.logger.Warn("Backup request failed", zap.Error(err))
		c.JSON(statusCode(err), gin.H{"error": err.Error(), "incident": h.tracker.Info()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident": h.tracker.Info()})
}

// StartCall handles POST /api/incident/call
func (h *incidentHandler) StartCall(c *gin.Context) {
	snap, err := h.tracker.StartCall(c.Request.Context())
	if err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"call": snap})
}

// Hangup handles DELETE /api/incident/call
func (h *incidentHandler) Hangup(c *gin.Context) {
	snap, err := h.tracker.Hangup(c.Request.Context())
	if err != nil {
		c.JSON(statusCode(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": snap})
}

// GetTrail handles GET /api/incident/trail
// Query parameters:
// - limit: number of most recent samples (optional, default 100)
func (h *incidentHandler) GetTrail(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 5000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 5000"})
			return
		}
		limit = n
	}
	samples, err := h.trail.Trail(c.Request.Context(), h.tracker.IncidentID(), limit)
	if err != nil {
		h.logger.Error("Failed to read trail", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve trail"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trail": samples})
}
