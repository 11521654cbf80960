package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenIssuer = "claimhub-service"
	tokenTTL    = 72 * time.Hour
)

// TokenIssuer signs and verifies the anonymous identity tokens handed out by
// GET /anonid. A token only names an identity for the realtime handshake; it
// grants nothing.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: tokenTTL, now: time.Now}
}

// Issue generates an HS256 JWT carrying anonID.
func (t *TokenIssuer) Issue(anonID string) (string, error) {
	claims := jwt.MapClaims{
		"anon_id": anonID,
		"exp":     t.now().Add(t.ttl).Unix(),
		"iss":     tokenIssuer,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse validates tokenString and returns the identity it carries.
func (t *TokenIssuer) Parse(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("unexpected claims type")
	}
	anonID, _ := claims["anon_id"].(string)
	if anonID == "" {
		return "", fmt.Errorf("token has no anon_id")
	}
	return anonID, nil
}

// GetAnonID creates an anonymous identity and returns its token.
func (h *Handler) GetAnonID(c *gin.Context) {
	if h.Tokens == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Identity tokens are disabled"})
		return
	}
	anonUUID, err := uuid.NewRandom()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create identity"})
		return
	}
	anonID := anonUUID.String()

	token, err := h.Tokens.Issue(anonID)
	if err != nil {
		h.Log.Error().Err(err).Msg("failed to sign token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": anonID})
}

// identityFromRequest returns the identity of a valid token passed as the
// token query parameter or a Bearer header, or "" when there is none.
func (h *Handler) identityFromRequest(c *gin.Context) string {
	if h.Tokens == nil {
		return ""
	}
	tokenString := c.Query("token")
	if tokenString == "" {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenString = strings.TrimSpace(authHeader[len("Bearer "):])
		}
	}
	if tokenString == "" {
		return ""
	}
	anonID, err := h.Tokens.Parse(tokenString)
	if err != nil {
		h.Log.Debug().Err(err).Msg("ignoring invalid handshake token")
		return ""
	}
	return anonID
}
