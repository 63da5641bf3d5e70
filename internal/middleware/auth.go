package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/juju/errors"
)

const (
	userIDKey = "userID"
	scopesKey = "scopes"

	// ScopeBroadcast allows sending and deleting system messages.
	ScopeBroadcast = "notifications:broadcast"
)

// Claims are the JWT claims the service understands. Subject carries the
// numeric user id.
type Claims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scope,omitempty"`
}

// JWTAuth validates and issues HS256 tokens.
type JWTAuth struct {
	secret []byte
}

func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret)}
}

// Parse validates a token and returns its user id and claims.
func (a *JWTAuth) Parse(tokenString string) (int64, *Claims, error) {
	if tokenString == "" {
		return 0, nil, errors.Unauthorizedf("missing token")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return 0, nil, errors.Unauthorizedf("invalid token")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, nil, errors.Unauthorizedf("invalid subject %q", claims.Subject)
	}
	return userID, claims, nil
}

// ValidateToken resolves a token to a user id.
func (a *JWTAuth) ValidateToken(tokenString string) (int64, error) {
	userID, _, err := a.Parse(tokenString)
	return userID, err
}

// Issue signs a token for userID valid for ttl.
func (a *JWTAuth) Issue(userID int64, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// AuthMiddleware validates the Authorization header and stores the user id.
func AuthMiddleware(auth *JWTAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		userID, claims, err := auth.Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(userIDKey, userID)
		c.Set(scopesKey, claims.Scopes)
		c.Next()
	}
}

// RequireScope rejects callers whose token lacks scope.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !HasScope(c, scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

// UserID returns the authenticated user id, or zero.
func UserID(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

// SetUserID is used by tests that bypass token validation.
func SetUserID(c *gin.Context, userID int64, scopes ...string) {
	c.Set(userIDKey, userID)
	c.Set(scopesKey, scopes)
}

func HasScope(c *gin.Context, scope string) bool {
	for _, s := range c.GetStringSlice(scopesKey) {
		if s == scope {
			return true
		}
	}
	return false
}
