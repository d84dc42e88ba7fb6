package middleware

import (
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie the external auth service issues at login.
const SessionCookie = "kiksy-token"

var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims is the JWT payload inside the session cookie. Issuance is
// external; this service only validates.
type SessionClaims struct {
	UserID int    `json:"_id"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// ParseSession validates a session token and returns its claims.
func ParseSession(secret, token string) (SessionClaims, error) {
	var claims SessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid || claims.UserID == 0 {
		return SessionClaims{}, ErrInvalidSession
	}
	return claims, nil
}

// SessionFromRequest extracts the session token from the cookie, falling back
// to a bearer header and then a query parameter (used by socket handshakes).
func SessionFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware validates the session cookie and stores the user identity in
// the gin context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionFromRequest(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
			return
		}

		claims, err := ParseSession(secret, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", claims.UserID)
		c.Set("userName", claims.Name)
		c.Next()
	}
}

// Secret resolves the signing secret shared with the auth service.
func Secret() string {
	if val, ok := os.LookupEnv("JWT_SECRET"); ok {
		return val
	}
	return "dev-secret-do-not-use-in-production"
}
