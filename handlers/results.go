package handlers

import (
	"fmt"
	"net/http"
	"time"

	"sure_app_go/db"
	"sure_app_go/middleware"
	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/labstack/echo/v4"
)

// maxDocumentSize caps visit document uploads
const maxDocumentSize = 20 << 20

type setTestsRequest struct {
	TestKindIDs []string `json:"test_kind_ids"`
}

type resultRequest struct {
	TestKindID     string `json:"test_kind_id"`
	ResultOptionID string `json:"result_option_id"`
	Note           string `json:"note"`
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

type noteRequest struct {
	Note   string `json:"note"`
	Hidden bool   `json:"hidden"`
}

// SetTestsHandler replaces the tests ordered for a visit
func SetTestsHandler(c echo.Context) error {
	var req setTestsRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	tests, err := services.SetTests(db.DB, visit, req.TestKindIDs, middleware.GetCurrentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{
		"tests":  tests,
		"status": visit.Status,
	})
}

// RecordResultHandler records the result of one ordered test
func RecordResultHandler(c echo.Context) error {
	var req resultRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	result, err := services.RecordTestResult(db.DB, visit, req.TestKindID, req.ResultOptionID, req.Note, middleware.GetCurrentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusCreated, map[string]interface{}{
		"result": result,
		"status": visit.Status,
	})
}

// GetResultsHandler returns every test of the visit with its latest result
func GetResultsHandler(c echo.Context) error {
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	results, err := services.LatestResults(db.DB, visit.ID)
	if err != nil {
		return respondError(c, err)
	}
	freeForm := []models.FreeFormTest{}
	if err := db.DB.Where("visit_id = ?", visit.ID).Order("created_at ASC").Find(&freeForm).Error; err != nil {
		return respondError(c, fmt.Errorf("failed to load free form tests: %w", err))
	}
	return success(c, http.StatusOK, map[string]interface{}{
		"results":   results,
		"free_form": freeForm,
		"status":    visit.Status,
	})
}

// PublishResultsHandler releases the results to the client
func PublishResultsHandler(c echo.Context) error {
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	result, err := services.PublishCaseResults(c.Request().Context(), db.DB, middleware.GetConfig(c), smsSender, visit, middleware.GetCurrentUser(c))
	if err != nil {
		return respondError(c, err)
	}

	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionPublish,
		"Visit", visit.ID, services.HumanCaseID(visit.CaseID), "Results published", nil,
		map[string]interface{}{"sms_sent": result.SMSSent})

	return success(c, http.StatusOK, map[string]interface{}{
		"status":   result.Status,
		"sms_sent": result.SMSSent,
		"warnings": result.Warnings,
	})
}

// SetTagsHandler replaces the tags of a visit
func SetTagsHandler(c echo.Context) error {
	var req tagsRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	tags, err := services.SetVisitTags(db.DB, visit, req.Tags)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"tags": tags})
}

// AddNoteHandler adds a note to a visit
func AddNoteHandler(c echo.Context) error {
	var req noteRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	note, err := services.AddVisitNote(db.DB, visit, req.Note, req.Hidden, middleware.GetCurrentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusCreated, map[string]interface{}{"note": note})
}

// UploadDocumentHandler stores a file for a visit
func UploadDocumentHandler(c echo.Context) error {
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return respondError(c, services.ValidationError("file-required", "file is required"))
	}
	if file.Size > maxDocumentSize {
		return respondError(c, services.ValidationError("file-too-large", "file exceeds %d MB", maxDocumentSize>>20))
	}

	src, err := file.Open()
	if err != nil {
		return respondError(c, fmt.Errorf("failed to open upload: %w", err))
	}
	defer src.Close()

	name := c.FormValue("name")
	if name == "" {
		name = file.Filename
	}
	hidden := c.FormValue("hidden") == "true"

	doc, err := services.AddVisitDocument(c.Request().Context(), db.DB, services.Storage, visit,
		name, file.Header.Get("Content-Type"), file.Size, src, hidden)
	if err != nil {
		return respondError(c, err)
	}

	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionCreate,
		"VisitDocument", doc.ID, doc.Name, "Document uploaded", nil, doc)

	return success(c, http.StatusCreated, map[string]interface{}{"document": doc})
}

// DownloadDocumentHandler serves a visit document
func DownloadDocumentHandler(c echo.Context) error {
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	var doc models.VisitDocument
	if err := db.DB.Where("id = ? AND visit_id = ?", c.Param("docId"), visit.ID).First(&doc).Error; err != nil {
		return respondError(c, err)
	}
	if services.Storage == nil {
		return respondError(c, services.ExternalError("storage-unavailable", errStorageMissing))
	}

	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionView,
		"VisitDocument", doc.ID, doc.Name, "Document downloaded", nil, nil)

	if _, ok := services.Storage.(*services.R2Storage); ok {
		url, err := services.Storage.GetSignedURL(c.Request().Context(), doc.FileKey, 15*time.Minute)
		if err != nil {
			return respondError(c, services.ExternalError("download-failed", err))
		}
		return c.Redirect(http.StatusTemporaryRedirect, url)
	}

	reader, contentType, err := services.Storage.Get(c.Request().Context(), doc.FileKey)
	if err != nil {
		return respondError(c, services.ExternalError("download-failed", err))
	}
	defer reader.Close()

	if doc.ContentType != "" {
		contentType = doc.ContentType
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Name))
	return c.Stream(http.StatusOK, contentType, reader)
}
