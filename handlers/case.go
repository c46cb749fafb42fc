package handlers

import (
	"net/http"

	"sure_app_go/db"
	"sure_app_go/middleware"
	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/labstack/echo/v4"
)

type searchCasesRequest struct {
	Filters services.CaseFilters `json:"filters"`
	Page    services.Page        `json:"page"`
}

type answersSubmission struct {
	Answers []services.AnswerInput `json:"answers"`
}

// internalVisit resolves the case of the :id path parameter for the current user
func internalVisit(c echo.Context) (*models.Visit, error) {
	return services.GetCaseForUser(db.DB, middleware.GetCurrentUser(c), c.Param("id"))
}

// CreateCaseHandler registers a new case and optionally texts the link
func CreateCaseHandler(c echo.Context) error {
	var in services.CreateCaseInput
	if err := bindJSON(c, &in); err != nil {
		return respondError(c, err)
	}
	user := middleware.GetCurrentUser(c)

	result, err := services.CreateCase(c.Request().Context(), db.DB, middleware.GetConfig(c), smsSender, user, in)
	if err != nil {
		return respondError(c, err)
	}

	humanID := services.HumanCaseID(result.Case.ID)
	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionCreate,
		"Case", result.Case.ID, humanID, "Case created", nil, result.Case)

	return success(c, http.StatusCreated, map[string]interface{}{
		"case":      humanID,
		"visit":     result.Visit,
		"link":      result.Link,
		"link_sent": result.LinkSent,
		"warnings":  result.Warnings,
	})
}

// SearchCasesHandler lists the visible cases matching the filters
func SearchCasesHandler(c echo.Context) error {
	var req searchCasesRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}

	page, err := services.ListCases(db.DB, middleware.GetCurrentUser(c), req.Filters, req.Page)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{
		"items": page.Items,
		"total": page.Total,
		"page":  page.Page,
		"limit": page.Limit,
	})
}

// GetCaseHandler returns a case with its visit and latest answers
func GetCaseHandler(c echo.Context) error {
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	client, err := services.ClientForCase(db.DB, visit.CaseID)
	if err != nil {
		return respondError(c, err)
	}
	clientAnswers, err := services.LatestClientAnswers(db.DB, visit.ID)
	if err != nil {
		return respondError(c, err)
	}
	consultantAnswers, err := services.LatestConsultantAnswers(db.DB, visit.ID)
	if err != nil {
		return respondError(c, err)
	}

	clientID := ""
	if client != nil {
		clientID = services.HumanClientID(client.ID)
	}

	humanID := services.HumanCaseID(visit.CaseID)
	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionView,
		"Case", visit.CaseID, humanID, "Case viewed", nil, nil)

	return success(c, http.StatusOK, map[string]interface{}{
		"case":               humanID,
		"external_id":        visit.Case.ExternalID,
		"language":           visit.Case.Language,
		"has_key":            visit.Case.HasKey(),
		"location":           visit.Case.Location,
		"client":             clientID,
		"visit":              visit,
		"client_answers":     clientAnswers,
		"consultant_answers": consultantAnswers,
	})
}

// GetCaseQuestionnaireHandler returns the questionnaire including consultant questions
func GetCaseQuestionnaireHandler(c echo.Context) error {
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	view, err := services.BuildQuestionnaire(db.DB, visit.QuestionnaireID, visit.Case.Location, true)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"questionnaire": view})
}

// GetCaseHistoryHandler returns every answer given for the case, oldest first
func GetCaseHistoryHandler(c echo.Context) error {
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	history, err := services.CaseHistory(db.DB, visit)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"history": history})
}

// RecordClientAnswersHandler stores client answers entered by a consultant
func RecordClientAnswersHandler(c echo.Context) error {
	var req answersSubmission
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	saved, err := services.RecordClientAnswers(db.DB, visit, req.Answers, middleware.GetCurrentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{
		"saved":  saved,
		"status": visit.Status,
	})
}

// RecordConsultantAnswersHandler stores consultant answers
func RecordConsultantAnswersHandler(c echo.Context) error {
	var req answersSubmission
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	saved, warnings, err := services.RecordConsultantAnswers(db.DB, visit, req.Answers, middleware.GetCurrentUser(c))
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{
		"saved":    saved,
		"status":   visit.Status,
		"warnings": warnings,
	})
}

type statusRequest struct {
	Action string `json:"action"`
}

// ChangeCaseStatusHandler closes or cancels a visit
func ChangeCaseStatusHandler(c echo.Context) error {
	var req statusRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	visit, err := internalVisit(c)
	if err != nil {
		return respondError(c, err)
	}

	old := visit.Status
	if err := services.ChangeVisitStatus(db.DB, visit, req.Action, middleware.GetCurrentUser(c)); err != nil {
		return respondError(c, err)
	}

	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionUpdate,
		"Visit", visit.ID, services.HumanCaseID(visit.CaseID), "Visit status changed",
		map[string]interface{}{"status": old}, map[string]interface{}{"status": visit.Status})

	return success(c, http.StatusOK, map[string]interface{}{"status": visit.Status})
}
