// Package auth resolves the signed-in user of a request from a JWT bearer token.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// userIdKey is the gin context key holding the user id.
const userIdKey = "userId"

var (
	// ErrMissingToken is returned for an empty token.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken is returned for a token that does not verify.
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("missing signing secret")
)

// IssueToken signs a token for userId that expires after ttl.
func IssueToken(userId string, secret string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userId,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	return signed, errors.Wrap(err, "could not sign token")
}

// ParseUserId validates the token and extracts the user_id claim.
func ParseUserId(tokenString string, secret string) (string, error) {
	if tokenString == "" {
		return "", ErrMissingToken
	}
	if secret == "" {
		return "", errors.Wrap(ErrInvalidToken, ErrMissingSecret.Error())
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	userId, ok := claims["user_id"].(string)
	if !ok || userId == "" {
		return "", errors.Wrap(ErrInvalidToken, "no user_id claim")
	}
	return userId, nil
}

// Middleware resolves the user of each request. A request without an Authorization
// header passes through anonymously; a header that does not carry a valid bearer token
// is rejected with 401. Websocket clients that cannot set headers may pass the token in
// the access_token URL parameter instead.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if token := c.Query("access_token"); token != "" {
				header = "Bearer " + token
			}
		}
		if header == "" {
			c.Next()
			return
		}
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid authorization format"})
			return
		}
		userId, err := ParseUserId(strings.TrimSpace(token), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": err.Error()})
			return
		}
		c.Set(userIdKey, userId)
		c.Next()
	}
}

// UserId returns the signed-in user of the request, or "" for anonymous requests.
func UserId(c *gin.Context) string {
	return c.GetString(userIdKey)
}
