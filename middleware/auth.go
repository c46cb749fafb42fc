package middleware

import (
	"net/http"

	"sure_app_go/config"
	"sure_app_go/db"
	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/labstack/echo/v4"
)

const (
	// SessionCookieName is the name of the session cookie
	SessionCookieName = "sure_session"
	// ContextKeyUser is the context key for the authenticated user
	ContextKeyUser = "user"
	// ContextKeySession is the context key for the session
	ContextKeySession = "session"
	// ContextKeyConfig is the context key for the loaded configuration
	ContextKeyConfig = "config"
)

// WithConfig makes the configuration available to handlers
func WithConfig(cfg *config.Config) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ContextKeyConfig, cfg)
			return next(c)
		}
	}
}

// GetConfig retrieves the configuration from context
func GetConfig(c echo.Context) *config.Config {
	if cfg, ok := c.Get(ContextKeyConfig).(*config.Config); ok {
		return cfg
	}
	return &config.Config{}
}

// loadSession resolves the session cookie into an active user's session.
// Invalid cookies are cleared.
func loadSession(c echo.Context) *models.Session {
	cookie, err := c.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}

	session, err := services.ValidateSession(db.DB, cookie.Value)
	if err != nil {
		ClearSessionCookie(c)
		return nil
	}
	if !session.User.IsActive {
		ClearSessionCookie(c)
		return nil
	}
	return session
}

// RequireAuth is middleware that requires a valid session
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session := loadSession(c)
			if session == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
			}

			c.Set(ContextKeyUser, &session.User)
			c.Set(ContextKeySession, session)
			return next(c)
		}
	}
}

// OptionalAuth attaches the user when a valid session cookie is present
// and lets anonymous requests through
func OptionalAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if session := loadSession(c); session != nil {
				c.Set(ContextKeyUser, &session.User)
				c.Set(ContextKeySession, session)
			}
			return next(c)
		}
	}
}

// RequireRole is middleware that requires specific roles.
// Superusers pass every role check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := GetCurrentUser(c)
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Not authenticated")
			}
			if user.IsSuperuser() {
				return next(c)
			}

			for _, role := range roles {
				if user.Role == role {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
		}
	}
}

// RequireSuperuser only lets superusers through
func RequireSuperuser() echo.MiddlewareFunc {
	return RequireRole(models.RoleSuperuser)
}

// GetCurrentUser retrieves the current user from context
func GetCurrentUser(c echo.Context) *models.User {
	user, ok := c.Get(ContextKeyUser).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetCurrentSession retrieves the current session from context
func GetCurrentSession(c echo.Context) *models.Session {
	session, ok := c.Get(ContextKeySession).(*models.Session)
	if !ok {
		return nil
	}
	return session
}

// SetSessionCookie stores the session token in an HttpOnly cookie
func SetSessionCookie(c echo.Context, session *models.Session) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   GetConfig(c).IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie clears the session cookie
func ClearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   GetConfig(c).IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}
