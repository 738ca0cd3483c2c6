package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-secret-key-for-jwt"
	testIssuer = "oncall-test"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("kiosk-1", testIssuer, testKey, time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", claims.Subject)
	assert.Equal(t, RoleDevice, claims.Role)
}

func TestParse_Rejects(t *testing.T) {
	tok, err := Issue("kiosk-1", testIssuer, testKey, time.Hour, time.Now())
	require.NoError(t, err)

	_, err = Parse(tok.AccessToken, "other-key", testIssuer)
	assert.Error(t, err)
	_, err = Parse(tok.AccessToken, testKey, "someone-else")
	assert.Error(t, err)

	expired, err := Issue("kiosk-1", testIssuer, testKey, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = Parse(expired.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/devices/token", TokenHandler("enroll-me", testKey, testIssuer, time.Hour))
	r.POST("/oncall-check", DeviceAuth(testKey, testIssuer), func(c *gin.Context) {
		claims := c.MustGet(ClaimsKey).(Claims)
		c.JSON(http.StatusOK, gin.H{"device": claims.Subject})
	})
	return r
}

func TestTokenHandler_AndMiddleware(t *testing.T) {
	r := newAuthRouter()

	body, _ := json.Marshal(map[string]string{"device_id": "kiosk-7", "enrollment_key": "enroll-me"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/devices/token", bytes.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var tok struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tok))

	req := httptest.NewRequest(http.MethodPost, "/oncall-check", nil)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kiosk-7")
}

func TestTokenHandler_WrongEnrollmentKey(t *testing.T) {
	r := newAuthRouter()
	body, _ := json.Marshal(map[string]string{"device_id": "kiosk-7", "enrollment_key": "guess"})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/devices/token", bytes.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeviceAuth_MissingOrBadToken(t *testing.T) {
	r := newAuthRouter()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oncall-check", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/oncall-check", nil)
	req.Header.Set("Authorization", "Bearer not.a.jwt")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
