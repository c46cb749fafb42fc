package handlers

import (
	"net/http"

	"sure_app_go/db"
	"sure_app_go/middleware"
	"sure_app_go/services"

	"github.com/labstack/echo/v4"
)

// ListQuestionnairesHandler returns all questionnaires
func ListQuestionnairesHandler(c echo.Context) error {
	questionnaires, err := services.ListQuestionnaires(db.DB)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"questionnaires": questionnaires})
}

// ListLocationsHandler returns the locations of the current user
func ListLocationsHandler(c echo.Context) error {
	locations, err := services.ListLocations(db.DB, middleware.GetCurrentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"locations": locations})
}

// ListTagsHandler returns the tags usable at the current user's locations
func ListTagsHandler(c echo.Context) error {
	tags, err := services.ListTags(db.DB, middleware.GetCurrentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"tags": tags})
}

// ListTestKindsHandler returns the test kinds and bundles
func ListTestKindsHandler(c echo.Context) error {
	catalog, err := services.ListTestKinds(db.DB)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{
		"test_kinds": catalog.Kinds,
		"bundles":    catalog.Bundles,
	})
}
