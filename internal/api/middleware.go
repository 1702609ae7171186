package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"forum-api/internal/jwt"
	"forum-api/internal/model"
)

const claimsKey = "userClaims"

var (
	httpRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of http request",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)
)

// RevocationChecker reports whether an access token id was blacklisted at logout.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

func AuthMiddleware(tokens *jwt.Manager, revoked RevocationChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c)
		if !ok {
			if c.Get(fiber.HeaderAuthorization) == "" {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization header"})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid authorization header format"})
		}

		claims, err := tokens.ValidateTyped(tokenString, jwt.TypeAccess)
		if err != nil {
			if errors.Is(err, jwtv5.ErrTokenExpired) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Token has expired"})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}

		if _, err := jwt.Subject(claims); err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid user ID format in token"})
		}

		isRevoked, err := revoked.IsTokenRevoked(c.UserContext(), jwt.ID(claims))
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Token revocation list unavailable"})
		}
		if isRevoked {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Token has been revoked"})
		}

		c.Locals(claimsKey, claims)

		return c.Next()
	}
}

// AdminMiddleware must run after AuthMiddleware.
func AdminMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetRoleFromClaims(c) != model.RoleAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Admin access required"})
		}
		return c.Next()
	}
}

// StripAPIPrefix removes one leading /api segment so routes are registered without it.
func StripAPIPrefix() fiber.Handler {
	return func(c *fiber.Ctx) error {
		path := c.Path()
		switch {
		case path == "/api":
			c.Path("/")
		case strings.HasPrefix(path, "/api/"):
			c.Path(strings.TrimPrefix(path, "/api"))
		}
		return c.Next()
	}
}

// ClientIP returns the limiter key for a request. Behind a trusted gateway it is
// the rightmost X-Forwarded-For hop that is not itself a trusted proxy; the
// leftmost entries are whatever the client chose to send. Any other peer is keyed
// by its socket address.
func ClientIP(trusted []string) func(c *fiber.Ctx) string {
	var (
		addrs  = map[string]struct{}{}
		ranges []*net.IPNet
	)
	for _, p := range trusted {
		if _, ipNet, err := net.ParseCIDR(p); err == nil {
			ranges = append(ranges, ipNet)
		} else if ip := net.ParseIP(p); ip != nil {
			addrs[ip.String()] = struct{}{}
		}
	}
	isTrusted := func(s string) bool {
		ip := net.ParseIP(s)
		if ip == nil {
			return false
		}
		if _, ok := addrs[ip.String()]; ok {
			return true
		}
		for _, r := range ranges {
			if r.Contains(ip) {
				return true
			}
		}
		return false
	}

	return func(c *fiber.Ctx) string {
		remote := c.Context().RemoteIP().String()
		if !isTrusted(remote) {
			return remote
		}
		hops := c.IPs()
		for i := len(hops) - 1; i >= 0; i-- {
			if !isTrusted(hops[i]) {
				return hops[i]
			}
		}
		return remote
	}
}

func GetUserIDFromClaims(c *fiber.Ctx) (uuid.UUID, error) {
	claims, ok := c.Locals(claimsKey).(jwtv5.MapClaims)
	if !ok {
		return uuid.Nil, errors.New("claims not found in context")
	}

	userID, err := jwt.Subject(claims)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid userID format in claims: %w", err)
	}

	return userID, nil
}

func GetRoleFromClaims(c *fiber.Ctx) string {
	claims, ok := c.Locals(claimsKey).(jwtv5.MapClaims)
	if !ok {
		return ""
	}
	role, _ := claims["role"].(string)
	return role
}

func getClaims(c *fiber.Ctx) jwtv5.MapClaims {
	claims, _ := c.Locals(claimsKey).(jwtv5.MapClaims)
	return claims
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	parts := strings.Fields(c.Get(fiber.HeaderAuthorization))
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], true
}

func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		duration := time.Since(start).Seconds()
		statusCode := c.Response().StatusCode()

		if err != nil {
			var e *fiber.Error

			if errors.As(err, &e) {
				statusCode = e.Code
			} else {
				statusCode = fiber.StatusInternalServerError
			}
		}

		method := c.Method()
		// route templates keep the label set bounded
		path := c.Route().Path
		statusStr := fmt.Sprintf("%d", statusCode)

		httpRequestTotal.WithLabelValues(method, path, statusStr).Inc()
		httpRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration)

		return err
	}
}
