package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rmitchellscott/holofleet/internal/config"
	"github.com/rmitchellscott/holofleet/internal/logging"
)

var jwtSecret []byte

var (
	authLimiters sync.Map
	authRate     = rate.Every(time.Minute / 10) // 10 auth attempts per minute per IP
)

// Default token lifetime is 1 hour, overridable via DEVICE_TOKEN_TTL.
var tokenTTL = time.Hour

const contextDeviceIDKey = "device_id"

func init() {
	if secret := config.Get("JWT_SECRET", ""); secret != "" {
		jwtSecret = []byte(secret)
	} else {
		jwtSecret = make([]byte, 32)
		rand.Read(jwtSecret)
	}
	tokenTTL = config.GetDuration("DEVICE_TOKEN_TTL", tokenTTL)
}

func getAuthLimiter(ip string) *rate.Limiter {
	val, ok := authLimiters.Load(ip)
	if ok {
		return val.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(authRate, 10)
	authLimiters.Store(ip, limiter)
	return limiter
}

// deviceClaims is the JWT payload for device bearer tokens
type deviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// IssueDeviceToken creates a signed bearer token for an authenticated device
func IssueDeviceToken(deviceID uuid.UUID) (token string, expiresIn int, err error) {
	now := time.Now()
	claims := deviceClaims{
		DeviceID: deviceID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(jwtSecret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign device token: %w", err)
	}
	return signed, int(tokenTTL.Seconds()), nil
}

// ParseDeviceToken validates a bearer token and returns the device id
func ParseDeviceToken(tokenString string) (uuid.UUID, error) {
	claims := &deviceClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return uuid.Nil, errors.New("invalid device token")
	}
	return uuid.Parse(claims.DeviceID)
}

// DeviceAuthMiddleware requires a valid device bearer token and stores the
// device id on the request context.
func DeviceAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		deviceID, err := ParseDeviceToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}

		c.Set(contextDeviceIDKey, deviceID)
		c.Next()
	}
}

// DeviceIDFromContext returns the authenticated device id set by the middleware
func DeviceIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(contextDeviceIDKey)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := val.(uuid.UUID)
	return id, ok
}

// AuthRateLimitMiddleware throttles credential checks per client IP
func AuthRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !getAuthLimiter(c.ClientIP()).Allow() {
			logging.WarnWithComponent(logging.ComponentAuth, "Auth rate limit exceeded", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many authentication attempts"})
			return
		}
		c.Next()
	}
}
