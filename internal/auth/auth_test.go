package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-key"
	testIssuer = "qrattendance-test"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("kiosk-1", RoleDevice, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := ParseAccess(pair.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", claims.Subject)
	assert.Equal(t, RoleDevice, claims.Role)

	_, err = ParseAccess(pair.RefreshToken, testKey, testIssuer)
	assert.ErrorIs(t, err, ErrWrongTokenUse)

	_, err = Parse(pair.AccessToken, "other-key", testIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = Parse(pair.AccessToken, testKey, "someone-else")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseRefresh(t *testing.T) {
	pair, err := Issue("kiosk-1", RoleDevice, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	claims, err := ParseRefresh(pair.RefreshToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", claims.Subject)

	_, err = ParseRefresh(pair.AccessToken, testKey, testIssuer)
	assert.ErrorIs(t, err, ErrWrongTokenUse)

	again, err := Issue("kiosk-1", RoleDevice, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, again.RefreshToken, "tokens carry a unique id")
}

func TestExpiredTokenRejected(t *testing.T) {
	pair, err := Issue("kiosk-1", RoleDevice, testIssuer, testKey, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = ParseAccess(pair.AccessToken, testKey, testIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestDeviceAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", DeviceAuth(testKey, testIssuer), func(c *gin.Context) {
		c.String(http.StatusOK, DeviceID(c))
	})

	pair, err := Issue("kiosk-7", RoleDevice, testIssuer, testKey, time.Minute, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + pair.RefreshToken, status: http.StatusUnauthorized},
		{name: "ok", header: "Bearer " + pair.AccessToken, status: http.StatusOK, body: "kiosk-7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
