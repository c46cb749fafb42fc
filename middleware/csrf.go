package middleware

import (
	"net/http"

	"sure_app_go/config"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
)

const (
	// CSRFHeaderName carries the token on unsafe requests
	CSRFHeaderName = "X-CSRF-Token"
	// CSRFCookieName holds the token issued to the browser
	CSRFCookieName = "sure_csrf"
)

// CSRF protects session authenticated routes. The token is handed out by
// GET /api/me and must be echoed in the X-CSRF-Token header.
func CSRF(cfg *config.Config) echo.MiddlewareFunc {
	return echomiddleware.CSRFWithConfig(echomiddleware.CSRFConfig{
		TokenLookup:    "header:" + CSRFHeaderName,
		CookieName:     CSRFCookieName,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSecure:   cfg.IsProduction(),
		CookieSameSite: http.SameSiteLaxMode,
	})
}

// GetCSRFToken retrieves the CSRF token from the Echo context
func GetCSRFToken(c echo.Context) string {
	token := c.Get("csrf")
	if token == nil {
		return ""
	}
	if tokenStr, ok := token.(string); ok {
		return tokenStr
	}
	return ""
}
