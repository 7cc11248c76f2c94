package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"resbac/internal/config"
)

type SettingsHandler interface {
	GetSettings(c *gin.Context)
}

type settingsHandler struct {
	cfg *config.Config
}

func NewSettingsHandler(cfg *config.Config) SettingsHandler {
	return &settingsHandler{cfg: cfg}
}

// SettingsResponse is the non-secret part of the running configuration.
type SettingsResponse struct {
	Broker struct {
		Driver  string `json:"driver"`
		Cluster string `json:"cluster,omitempty"`
	} `json:"broker"`
	Tracking struct {
		Accuracy            string  `json:"accuracy"`
		MinMoveMeters       float64 `json:"minMoveMeters"`
		MaxSilenceMs        int64   `json:"maxSilenceMs"`
		AccuracyJitterM     float64 `json:"accuracyJitterMeters"`
		ArrivalRadiusM      float64 `json:"arrivalRadiusMeters"`
		ArrivalMaxAccuracyM float64 `json:"arrivalMaxAccuracyMeters"`
	} `json:"tracking"`
	Call struct {
		PollIntervalMs     int64 `json:"pollIntervalMs"`
		RingTimeoutSeconds int64 `json:"ringTimeoutSeconds"`
	} `json:"call"`
	Geocode struct {
		Provider string `json:"provider"`
	} `json:"geocode"`
	Notify struct {
		Telegram bool `json:"telegram"`
	} `json:"notify"`
}

// GetSettings handles GET /api/settings
func (h *settingsHandler) GetSettings(c *gin.Context) {
	response := SettingsResponse{}
	response.Broker.Driver = h.cfg.Broker.Driver
	if h.cfg.Broker.Driver == "pusher" {
		response.Broker.Cluster = h.cfg.Broker.Cluster
	}
	t := h.cfg.Tracking
	response.Tracking.Accuracy = t.Accuracy
	response.Tracking.MinMoveMeters = t.MinMoveMeters
	response.Tracking.MaxSilenceMs = t.MaxSilenceMs
	response.Tracking.AccuracyJitterM = t.AccuracyJitterM
	response.Tracking.ArrivalRadiusM = t.ArrivalRadiusM
	response.Tracking.ArrivalMaxAccuracyM = t.ArrivalMaxAccuracyM
	response.Call.PollIntervalMs = h.cfg.Call.PollIntervalMs
	response.Call.RingTimeoutSeconds = h.cfg.Call.RingTimeoutSeconds
	response.Geocode.Provider = h.cfg.Geocode.Provider
	response.Notify.Telegram = h.cfg.Notify.TelegramBotToken != ""

	c.JSON(http.StatusOK, response)
}
