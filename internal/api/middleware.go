package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"touchpoint-service/internal/logging"
)

const agentIDKey = "agentID"

// SessionClaims is the agent dashboard session token.
type SessionClaims struct {
	AgentID string `json:"agent_id"`
	jwt.RegisteredClaims
}

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		logger.Infof("Request: %s %s, Status: %d, Latency: %v", method, path, status, latency)
	}
}

// CronAuthMiddleware admits requests carrying the shared scheduler secret.
func CronAuthMiddleware(secret string) gin.HandlerFunc {
	want := []byte("Bearer " + secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if secret == "" || subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

// SessionAuthMiddleware validates the agent bearer token and stores the agent
// id in the context.
func SessionAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		agentID, err := ParseSessionToken(strings.TrimPrefix(authHeader, "Bearer "), secret)
		if err != nil {
			msg := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token has expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		c.Set(agentIDKey, agentID)
		c.Next()
	}
}

// ParseSessionToken returns the agent id of a valid HS256 session token.
func ParseSessionToken(tokenString, secret string) (string, error) {
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if claims.AgentID == "" {
		return "", errors.New("token has no agent id")
	}
	return claims.AgentID, nil
}

// GenerateSessionToken issues a session token for agentID.
func GenerateSessionToken(agentID, secret string, ttl time.Duration) (string, error) {
	if agentID == "" {
		return "", errors.New("agent ID is required")
	}
	if secret == "" {
		return "", errors.New("JWT secret is required")
	}

	now := time.Now()
	claims := &SessionClaims{
		AgentID: agentID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

func agentID(c *gin.Context) string {
	return c.GetString(agentIDKey)
}
