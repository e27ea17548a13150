package auth

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

const secret = "test-secret"

// TestIssueAndParse round-trips a token.
func TestIssueAndParse(t *testing.T) {
	token, err := IssueToken("u1", secret, time.Hour)
	require.NoError(t, err)
	userId, err := ParseUserId(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "u1", userId)
}

// TestParseRejects covers wrong secret, expiry and missing claims.
func TestParseRejects(t *testing.T) {
	_, err := ParseUserId("", secret)
	assert.ErrorIs(t, err, ErrMissingToken)

	token, _ := IssueToken("u1", "other", time.Hour)
	_, err = ParseUserId(token, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, _ := IssueToken("u1", secret, -time.Minute)
	_, err = ParseUserId(expired, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte(secret))
	_, err = ParseUserId(noUser, secret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// TestEmptySecret expects that nothing is signed or accepted without a secret.
func TestEmptySecret(t *testing.T) {
	_, err := IssueToken("u1", "", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)

	token, err := IssueToken("u1", secret, time.Hour)
	require.NoError(t, err)
	_, err = ParseUserId(token, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func runMiddleware(header string) (*httptest.ResponseRecorder, string) {
	return run("/whoami", header)
}

func runMiddlewareURL(url string) (*httptest.ResponseRecorder, string) {
	return run(url, "")
}

func run(url string, header string) (*httptest.ResponseRecorder, string) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	var seen string
	router.Use(Middleware(secret))
	router.GET("/whoami", func(c *gin.Context) {
		seen = UserId(c)
		c.Status(http.StatusNoContent)
	})
	recorder := httptest.NewRecorder()
	request, _ := http.NewRequest("GET", url, nil)
	if header != "" {
		request.Header.Set("Authorization", header)
	}
	router.ServeHTTP(recorder, request)
	return recorder, seen
}

// TestMiddleware expects anonymous, authenticated and rejected requests.
func TestMiddleware(t *testing.T) {
	recorder, seen := runMiddleware("")
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, "", seen)

	token, _ := IssueToken("u7", secret, time.Hour)
	recorder, seen = runMiddleware("Bearer " + token)
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, "u7", seen)

	recorder, seen = runMiddlewareURL("/whoami?access_token=" + token)
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, "u7", seen)

	recorder, _ = runMiddleware("Basic abc")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder, _ = runMiddleware("Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
}
