package middleware

import (
	"net/http"
	"time"

	"sure_app_go/services/i18n"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// Limit is a token bucket that allows Requests per Window for each client IP
type Limit struct {
	Requests int
	Window   time.Duration
	// MessageKey is the i18n key of the 429 message
	MessageKey string
}

var (
	// LoginLimit guards password attempts
	LoginLimit = Limit{Requests: 5, Window: time.Minute, MessageKey: "error.too_many_logins"}
	// TokenLimit guards verification code SMS
	TokenLimit = Limit{Requests: 5, Window: 10 * time.Minute, MessageKey: "error.too_many_tokens"}
	// PublicLimit covers the anonymous case endpoints
	PublicLimit = Limit{Requests: 60, Window: time.Minute, MessageKey: "error.too_many_requests"}
)

// RateLimit builds echo's rate limiter with an in-memory store for l.
// Every call gets its own store, so share the returned middleware between
// routes that should count together.
func RateLimit(l Limit) echo.MiddlewareFunc {
	store := echomiddleware.NewRateLimiterMemoryStoreWithConfig(echomiddleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Every(l.Window / time.Duration(l.Requests)),
		Burst:     l.Requests,
		ExpiresIn: l.Window,
	})

	return echomiddleware.RateLimiterWithConfig(echomiddleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "request could not be identified")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, i18n.T(c.Request().Context(), l.MessageKey))
		},
	})
}
