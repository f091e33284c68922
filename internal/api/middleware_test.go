package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.Claims, method jwt.SigningMethod, key interface{}) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestSessionAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	valid, err := GenerateSessionToken("agent-1", testJWTSecret, time.Hour)
	require.NoError(t, err)
	expired := signed(t, &SessionClaims{
		AgentID:          "agent-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	}, jwt.SigningMethodHS256, []byte(testJWTSecret))
	noExpiry := signed(t, &SessionClaims{AgentID: "agent-1"}, jwt.SigningMethodHS256, []byte(testJWTSecret))
	noAgent := signed(t, &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}, jwt.SigningMethodHS256, []byte(testJWTSecret))
	otherKey := signed(t, &SessionClaims{
		AgentID:          "agent-1",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}, jwt.SigningMethodHS256, []byte("other"))

	testCases := []struct {
		name           string
		header         string
		expectedStatus int
		expectedAgent  string
	}{
		{"missing token", "", http.StatusUnauthorized, ""},
		{"no bearer prefix", valid, http.StatusUnauthorized, ""},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized, ""},
		{"no expiry", "Bearer " + noExpiry, http.StatusUnauthorized, ""},
		{"no agent id", "Bearer " + noAgent, http.StatusUnauthorized, ""},
		{"wrong key", "Bearer " + otherKey, http.StatusUnauthorized, ""},
		{"valid token", "Bearer " + valid, http.StatusOK, "agent-1"},
	}

	router := gin.New()
	router.Use(SessionAuthMiddleware(testJWTSecret))
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, agentID(c))
	})

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tc.expectedStatus, w.Code)
			if tc.expectedAgent != "" {
				assert.Equal(t, tc.expectedAgent, w.Body.String())
			}
		})
	}
}

func TestGenerateSessionTokenValidation(t *testing.T) {
	_, err := GenerateSessionToken("", testJWTSecret, time.Hour)
	assert.Error(t, err)
	_, err = GenerateSessionToken("agent-1", "", time.Hour)
	assert.Error(t, err)
}
