package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"resbac/internal/models"
	"resbac/internal/store"
)

// SessionLoader reads the signed-in user stored on the device.
type SessionLoader interface {
	LoadSession(ctx context.Context) (*store.Session, error)
}

// TokenIssuer signs control API tokens.
type TokenIssuer interface {
	Issue(p models.UserProfile) (string, time.Time, error)
}

type AuthHandler interface {
	Login(c *gin.Context)
	Me(c *gin.Context)
}

type authHandler struct {
	sessions SessionLoader
	issuer   TokenIssuer
	logger   *zap.Logger
}

func NewAuthHandler(sessions SessionLoader, issuer TokenIssuer, logger *zap.Logger) AuthHandler {
	return &authHandler{sessions: sessions, issuer: issuer, logger: logger}
}

// LoginRequest proves possession of the device's API token.
type LoginRequest struct {
	Token string `json:"token" binding:"required"`
}

// Login handles POST /api/auth/login
func (h *authHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := h.sessions.LoadSession(c.Request.Context())
	if err != nil {
		if errors.Is(err, store.ErrNoSession) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "No user is signed in on this device"})
			return
		}
		h.logger.Error("Failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to login"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Token), []byte(sess.Token)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}

	tokenString, expirationTime, err := h.issuer.Issue(sess.Profile)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to login"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Login successful",
		"token":      tokenString,
		"expires_at": expirationTime,
	})
}

// Me handles GET /api/auth/me
func (h *authHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"username": c.GetString("username"), "role": c.GetString("role")})
}
