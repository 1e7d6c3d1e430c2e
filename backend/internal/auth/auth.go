package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "threadnote/backend/pkg/errors"
	"threadnote/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// claimsKey is where the middleware stores validated claims on the gin context
const claimsKey = "auth.claims"

// Claims is the token payload
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Auth issues and validates HS256 bearer tokens
type Auth struct {
	secret []byte
	expiry time.Duration
	logger *zap.Logger
}

// New creates an authenticator. An empty secret disables authentication.
func New(secret string, expiry time.Duration) *Auth {
	return &Auth{
		secret: []byte(secret),
		expiry: expiry,
		logger: logger.Named("auth"),
	}
}

// Enabled reports whether tokens are checked
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0
}

// GenerateToken signs a token for userID
func (a *Auth) GenerateToken(userID string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken parses tokenStr and checks its signature and expiry
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, apperrors.NewAuthInvalidToken(err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.NewAuthInvalidToken(fmt.Errorf("invalid token"))
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token before any
// handler runs. It passes everything through when authentication is disabled.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		tokenStr, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, apperrors.ErrAuthRequired)
			return
		}

		claims, err := a.ValidateToken(tokenStr)
		if err != nil {
			a.logger.Debug("Rejected bearer token", zap.String("path", c.Request.URL.Path), zap.Error(err))
			abort(c, err)
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims the middleware stored, if any
func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
}
