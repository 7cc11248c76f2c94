package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"resbac/internal/api"
	"resbac/internal/models"
)

// ResidentAPI is the subset of the backend client behind the resident screens.
type ResidentAPI interface {
	Announcements(ctx context.Context) ([]models.Announcement, error)
	ResidentReports(ctx context.Context) ([]models.IncidentReport, error)
	SubmitReport(ctx context.Context, r api.ResidentReport) (*api.Submission, error)
}

type ResidentHandler interface {
	GetAnnouncements(c *gin.Context)
	GetReports(c *gin.Context)
	SubmitReport(c *gin.Context)
}

type residentHandler struct {
	api    ResidentAPI
	logger *zap.Logger
}

func NewResidentHandler(api ResidentAPI, logger *zap.Logger) ResidentHandler {
	return &residentHandler{api: api, logger: logger}
}

// upstream maps a backend failure onto the response.
func (h *residentHandler) upstream(c *gin.Context, what string, err error) {
	var apiErr *models.APIError
	if errors.As(err, &apiErr) && !apiErr.Transient() {
		c.JSON(apiErr.StatusCode, gin.H{"error": apiErr.Message})
		return
	}
	h.logger.Error("Backend request failed", zap.String("request", what), zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to reach the server"})
}

// GetAnnouncements handles GET /api/announcements
func (h *residentHandler) GetAnnouncements(c *gin.Context) {
	items, err := h.api.Announcements(c.Request.Context())
	if err != nil {
		h.upstream(c, "announcements", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"announcements": items})
}

// GetReports handles GET /api/reports
func (h *residentHandler) GetReports(c *gin.Context) {
	reports, err := h.api.ResidentReports(c.Request.Context())
	if err != nil {
		h.upstream(c, "reports", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

type SubmitReportRequest struct {
	IncidentTypeID int64   `json:"incident_type_id" binding:"required"`
	ReporterType   string  `json:"reporter_type" binding:"required"`
	Latitude       float64 `json:"latitude" binding:"required"`
	Longitude      float64 `json:"longitude" binding:"required"`
	Landmark       string  `json:"landmark"`
	Description    string  `json:"description"`
}

// SubmitReport handles POST /api/reports
func (h *residentHandler) SubmitReport(c *gin.Context) {
	if c.GetString("role") != string(models.UserResident) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only residents can submit reports"})
		return
	}
	var req SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role := models.ReporterRole(req.ReporterType)
	if role != models.RoleVictim && role != models.RoleWitness {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid reporter_type. Valid values: victim, witness"})
		return
	}

	sub, err := h.api.SubmitReport(c.Request.Context(), api.ResidentReport{
		IncidentTypeID: req.IncidentTypeID,
		ReporterType:   role,
		Latitude:       req.Latitude,
		Longitude:      req.Longitude,
		Landmark:       optional(req.Landmark),
		Description:    optional(req.Description),
	})
	if err != nil {
		h.upstream(c, "submit report", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"incident":     sub.Incident,
		"duplicate_of": sub.DuplicateOf,
		"duplicates":   sub.Duplicates,
		"duplicate":    sub.Duplicate(),
	})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
