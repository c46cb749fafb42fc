package handlers

import (
	"net/http"
	"time"

	"sure_app_go/db"
	"sure_app_go/middleware"
	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/labstack/echo/v4"
)

// exportURLExpiry is how long a signed export download link stays valid
const exportURLExpiry = 30 * time.Minute

// StartExportHandler queues a CSV export of the visible visits
func StartExportHandler(c echo.Context) error {
	if taskQueue == nil {
		return respondError(c, services.ExternalError("queue-unavailable", errQueueMissing))
	}

	export, err := services.StartExport(c.Request().Context(), db.DB, taskQueue,
		middleware.GetCurrentUser(c), middleware.GetAuditContext(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusAccepted, map[string]interface{}{"export": export})
}

// GetExportHandler reports the progress of an export and links the file once done
func GetExportHandler(c echo.Context) error {
	export, err := services.GetExport(db.DB, middleware.GetCurrentUser(c), c.Param("exportId"))
	if err != nil {
		return respondError(c, err)
	}

	fields := map[string]interface{}{"export": export}
	if export.Status == models.ExportDone && export.FileKey != "" {
		fields["download_url"] = "/api/internal/exports/" + export.ID + "/file"
	}
	return success(c, http.StatusOK, fields)
}

// DownloadExportHandler serves a finished export file
func DownloadExportHandler(c echo.Context) error {
	export, err := services.GetExport(db.DB, middleware.GetCurrentUser(c), c.Param("exportId"))
	if err != nil {
		return respondError(c, err)
	}
	if export.Status != models.ExportDone || export.FileKey == "" {
		return respondError(c, services.ValidationError("export-not-ready", "export is %s", export.Status))
	}
	if services.Storage == nil {
		return respondError(c, services.ExternalError("storage-unavailable", errStorageMissing))
	}

	if _, ok := services.Storage.(*services.R2Storage); ok {
		url, err := services.Storage.GetSignedURL(c.Request().Context(), export.FileKey, exportURLExpiry)
		if err != nil {
			return respondError(c, services.ExternalError("download-failed", err))
		}
		return c.Redirect(http.StatusTemporaryRedirect, url)
	}

	reader, _, err := services.Storage.Get(c.Request().Context(), export.FileKey)
	if err != nil {
		return respondError(c, services.ExternalError("download-failed", err))
	}
	defer reader.Close()

	filename := "export-" + export.CreatedAt.Format("20060102-150405") + ".csv"
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename=\""+filename+"\"")
	return c.Stream(http.StatusOK, "text/csv", reader)
}

// CohortHandler returns visit counts per status, grouped by tenant for
// superusers and by location for tenant admins
func CohortHandler(c echo.Context) error {
	user := middleware.GetCurrentUser(c)

	var (
		cohort *services.Cohort
		err    error
	)
	switch {
	case user.IsSuperuser():
		cohort, err = services.CohortByTenant(db.DB)
	case user.Role == models.RoleAdmin && user.TenantID != nil:
		cohort, err = services.CohortByLocation(db.DB, *user.TenantID)
	default:
		err = services.PermissionError("cohort-denied", "reports are limited to administrators")
	}
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"cohort": cohort})
}
