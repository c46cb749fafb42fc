package middleware

import (
	"net/http"
	"time"

	"sure_app_go/config"
	"sure_app_go/db"
	"sure_app_go/logger"
	"sure_app_go/services"

	"github.com/labstack/echo/v4"
)

// Guard refuses blocked identifiers and records responses that match a
// protected endpoint. It must run after OptionalAuth so logged in users are
// tracked by user id instead of IP.
func Guard(cfg *config.Config) echo.MiddlewareFunc {
	log := logger.Component("guard")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identifier := services.GuardIdentifier(GetCurrentUser(c), c.RealIP())

			blocked, err := services.IsBlocked(db.DB, identifier, time.Now())
			if err != nil {
				log.Error().Err(err).Str("identifier", identifier).Msg("Failed to check guard block")
			}
			if blocked {
				return c.JSON(http.StatusTooManyRequests, map[string]string{"detail": services.GuardBlockedMessage})
			}

			// Render errors now so the final status is known
			if err := next(c); err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			if _, err := services.RecordHit(db.DB, cfg, identifier, c.Request().URL.Path, status, time.Now()); err != nil {
				log.Error().Err(err).Str("identifier", identifier).Msg("Failed to record guard hit")
			}
			return nil
		}
	}
}
