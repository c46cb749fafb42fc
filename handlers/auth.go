package handlers

import (
	"errors"
	"net/http"
	"time"

	"sure_app_go/db"
	"sure_app_go/middleware"
	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/labstack/echo/v4"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginHandler checks credentials and starts a cookie session
func LoginHandler(c echo.Context) error {
	var req loginRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	user, err := services.Authenticate(db.DB, req.Email, req.Password, time.Now())
	if err != nil {
		if errors.Is(err, services.ErrPermission) {
			services.LogSecurityEvent(db.DB, "LOGIN_FAILED", c.RealIP(), "Failed login for "+req.Email)
		}
		return respondError(c, err)
	}

	session, err := services.CreateSession(db.DB, user.ID, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		return respondError(c, err)
	}
	middleware.SetSessionCookie(c, session)

	auditCtx := services.NewAuditContext(user, c.RealIP(), c.Request().UserAgent())
	services.LogAuditEvent(db.DB, auditCtx, models.AuditActionLogin, "User", user.ID, user.Name, "User logged in", nil, nil)

	return success(c, http.StatusOK, map[string]interface{}{"user": user})
}

// LogoutHandler ends the current session
func LogoutHandler(c echo.Context) error {
	if session := middleware.GetCurrentSession(c); session != nil {
		if err := services.DeleteSession(db.DB, session.Token); err != nil {
			return respondError(c, err)
		}
	}
	if user := middleware.GetCurrentUser(c); user != nil {
		services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionLogout,
			"User", user.ID, user.Name, "User logged out", nil, nil)
	}
	middleware.ClearSessionCookie(c)
	return success(c, http.StatusOK, nil)
}

// MeHandler returns the signed in user, the locations they work at and the
// CSRF token for unsafe requests
func MeHandler(c echo.Context) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return respondError(c, services.PermissionError("not-authenticated", "authentication required"))
	}

	locations, err := services.ListLocations(db.DB, user)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{
		"user":       user,
		"locations":  locations,
		"csrf_token": middleware.GetCSRFToken(c),
	})
}
