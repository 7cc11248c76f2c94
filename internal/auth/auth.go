// Package auth issues and checks control API tokens and inspects the backend
// bearer token stored on the device.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"resbac/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrOpaqueToken  = errors.New("token is not a JWT")
)

const DefaultTTL = 12 * time.Hour

// Issuer signs HS256 tokens for the local control API.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for the profile and its expiry.
func (i *Issuer) Issue(p models.UserProfile) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.ttl)
	claims := &models.Claims{
		Username: p.DisplayName(),
		Role:     string(p.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(p.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a control token.
func (i *Issuer) Parse(tokenString string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// BackendClaims is what can be read from the API token without its key.
type BackendClaims struct {
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token carried an expiry that has passed.
func (c BackendClaims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// InspectBackendToken decodes the claims of a JWT-shaped backend token. The
// signature is not checked; the server remains the authority. Opaque tokens
// such as "12|abcdef" return ErrOpaqueToken.
func InspectBackendToken(token string) (BackendClaims, error) {
	if strings.Count(token, ".") != 2 {
		return BackendClaims{}, ErrOpaqueToken
	}
	var rc jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &rc); err != nil {
		return BackendClaims{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	out := BackendClaims{Subject: rc.Subject}
	if rc.ExpiresAt != nil {
		out.ExpiresAt = rc.ExpiresAt.Time
	}
	return out, nil
}
