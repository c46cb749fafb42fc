package handlers

import (
	"errors"
	"net/http"
	"strings"

	"sure_app_go/logger"
	"sure_app_go/middleware"
	"sure_app_go/services"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, services.ErrCaseSubmitted):
		return http.StatusFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrPermission):
		switch services.ErrorCode(err) {
		case "not-authenticated", "invalid-credentials", "session-invalid", "session-expired":
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrExternal):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError renders err as JSON. Submitted unkeyed cases redirect the
// client to the submitted page instead.
func respondError(c echo.Context, err error) error {
	status := statusFor(err)

	if status == http.StatusFound {
		cfg := middleware.GetConfig(c)
		target := strings.TrimRight(cfg.AppURL, "/") + "/case/" + services.PublicMessage(err, "") + "/submitted"
		return c.Redirect(http.StatusFound, target)
	}

	message := services.PublicMessage(err, "")
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(he.Code)
		}
	}

	switch {
	case status >= http.StatusInternalServerError:
		logger.Log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("Request failed")
		if message == "" {
			message = "internal server error"
		}
	case status == http.StatusNotFound && message == "":
		message = "not found"
	}

	return c.JSON(status, ErrorResponse{Success: false, Message: message, Code: services.ErrorCode(err)})
}

// HTTPErrorHandler renders errors returned by handlers and middleware
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	if rerr := respondError(c, err); rerr != nil {
		logger.Log.Error().Err(rerr).Msg("Failed to write error response")
	}
}

// success writes {"success": true} merged with fields
func success(c echo.Context, status int, fields map[string]interface{}) error {
	body := map[string]interface{}{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(status, body)
}

// bindJSON decodes the request body or fails with a validation error
func bindJSON(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return services.ValidationError("invalid-body", "request body is not valid JSON")
	}
	return nil
}
