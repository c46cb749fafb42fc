package handlers

import (
	"errors"
	"net/http"
	"time"

	"sure_app_go/config"
	"sure_app_go/db"
	"sure_app_go/middleware"
	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/labstack/echo/v4"
)

type caseKeyRequest struct {
	Key string `json:"key"`
}

type answersRequest struct {
	Key     string                 `json:"key"`
	Answers []services.AnswerInput `json:"answers"`
}

type tokenRequest struct {
	Key   string `json:"key"`
	Phone string `json:"phone"`
}

type connectRequest struct {
	Key     string `json:"key"`
	Phone   string `json:"phone"`
	Code    string `json:"code"`
	Consent string `json:"consent"`
}

// publicVisit resolves the case of the :id path parameter for an anonymous client
func publicVisit(c echo.Context, key string) (*models.Visit, error) {
	if key == "" {
		key = c.QueryParam("key")
	}
	return services.GetCaseUnverified(db.DB, c.Param("id"), key)
}

// GetClientQuestionnaireHandler returns the questionnaire a client answers
func GetClientQuestionnaireHandler(c echo.Context) error {
	visit, err := publicVisit(c, "")
	if err != nil {
		return respondError(c, err)
	}

	view, err := services.BuildQuestionnaire(db.DB, visit.QuestionnaireID, visit.Case.Location, false)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{
		"case":          services.HumanCaseID(visit.CaseID),
		"status":        visit.Status,
		"language":      visit.Case.Language,
		"has_key":       visit.Case.HasKey(),
		"questionnaire": view,
	})
}

// SubmitClientAnswersHandler records an anonymous questionnaire submission
func SubmitClientAnswersHandler(c echo.Context) error {
	var req answersRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	cfg := middleware.GetConfig(c)

	visit, err := publicVisit(c, req.Key)
	if err != nil {
		return respondError(c, err)
	}

	saved, err := services.RecordClientAnswers(db.DB, visit, req.Answers, nil)
	if err != nil {
		return respondError(c, err)
	}

	// only this browser may protect the case with a key later on
	if !visit.Case.HasKey() {
		receipt, err := services.SealSubmitterReceipt(cfg.SessionSecret, visit.CaseID, time.Now())
		if err != nil {
			return respondError(c, err)
		}
		c.SetCookie(&http.Cookie{
			Name:     services.SubmitterCookieName,
			Value:    receipt,
			Path:     "/",
			MaxAge:   cfg.CaseConnectionWindowMinutes * 60,
			HttpOnly: true,
			Secure:   cfg.IsProduction(),
			SameSite: http.SameSiteStrictMode,
		})
	}

	return success(c, http.StatusOK, map[string]interface{}{
		"saved":  saved,
		"status": visit.Status,
	})
}

// SetCaseKeyHandler lets the client protect the case with a key. The key can
// be set once. After submission only the submitting browser may set it.
func SetCaseKeyHandler(c echo.Context) error {
	var req caseKeyRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	cfg := middleware.GetConfig(c)

	visit, err := services.GetCaseUnverified(db.DB, c.Param("id"), "")
	caseID := services.StripID(c.Param("id"))
	switch {
	case errors.Is(err, services.ErrCaseSubmitted):
		if !hasSubmitterReceipt(c, cfg, caseID) {
			return respondError(c, services.PermissionError("submitter-required",
				"only the browser that submitted the case can set its key"))
		}
	case err != nil:
		return respondError(c, err)
	default:
		caseID = visit.CaseID
	}

	if err := services.SetCaseKey(db.DB, caseID, req.Key); err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"case": services.HumanCaseID(caseID)})
}

func hasSubmitterReceipt(c echo.Context, cfg *config.Config, caseID string) bool {
	cookie, err := c.Cookie(services.SubmitterCookieName)
	if err != nil {
		return false
	}
	maxAge := time.Duration(cfg.CaseConnectionWindowMinutes) * time.Minute
	return services.OpenSubmitterReceipt(cfg.SessionSecret, cookie.Value, caseID, maxAge, time.Now()) == nil
}

// GetClientResultsHandler returns the published results of a case
func GetClientResultsHandler(c echo.Context) error {
	visit, err := publicVisit(c, "")
	if err != nil {
		return respondError(c, err)
	}

	results, err := services.ClientResults(db.DB, visit, true)
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"results": results})
}

// GetConnectionHandler reports whether a client may still connect to the case
func GetConnectionHandler(c echo.Context) error {
	visit, err := publicVisit(c, "")
	if err != nil {
		return respondError(c, err)
	}

	ok, err := services.CanConnectCase(db.DB, middleware.GetConfig(c), visit.Case, time.Now())
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"can_connect": ok})
}

// SendTokenHandler sends a verification code and anchors the phone number to
// this browser
func SendTokenHandler(c echo.Context) error {
	var req tokenRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	cfg := middleware.GetConfig(c)

	visit, err := publicVisit(c, req.Key)
	if err != nil {
		return respondError(c, err)
	}

	phone, err := services.SendToken(c.Request().Context(), db.DB, cfg, smsSender, req.Phone, visit.Case)
	if err != nil {
		return respondError(c, err)
	}

	anchor, err := services.SealPhoneAnchor(cfg.SessionSecret, phone, visit.CaseID, time.Now())
	if err != nil {
		return respondError(c, err)
	}
	c.SetCookie(&http.Cookie{
		Name:     services.PhoneAnchorCookieName,
		Value:    anchor,
		Path:     "/",
		MaxAge:   cfg.TokenTTLMinutes * 60,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})

	return success(c, http.StatusOK, map[string]interface{}{
		"phone": services.HumanFormatPhoneNumber(phone, cfg.DefaultRegion),
	})
}

// ConnectCaseHandler links the case to the client behind a verified phone number
func ConnectCaseHandler(c echo.Context) error {
	var req connectRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	cfg := middleware.GetConfig(c)

	visit, err := publicVisit(c, req.Key)
	if err != nil {
		return respondError(c, err)
	}

	anchoredPhone := ""
	if cookie, err := c.Cookie(services.PhoneAnchorCookieName); err == nil {
		maxAge := time.Duration(cfg.TokenTTLMinutes) * time.Minute
		anchoredPhone, _ = services.OpenPhoneAnchor(cfg.SessionSecret, cookie.Value, visit.CaseID, maxAge, time.Now())
	}

	connection, err := services.ConnectCase(db.DB, cfg, visit.Case, req.Phone, anchoredPhone, req.Code, req.Consent)
	if err != nil {
		return respondError(c, err)
	}

	c.SetCookie(&http.Cookie{
		Name:     services.PhoneAnchorCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: http.SameSiteStrictMode,
	})

	services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionConnect,
		"Case", visit.CaseID, services.HumanCaseID(visit.CaseID), "Client connected to case", nil,
		map[string]interface{}{"client_id": services.HumanClientID(connection.ClientID)})

	return success(c, http.StatusOK, map[string]interface{}{
		"client": services.HumanClientID(connection.ClientID),
	})
}

// GetBannersHandler returns the active information banners of a location
func GetBannersHandler(c echo.Context) error {
	banners, err := services.ActiveBanners(db.DB, c.Param("id"), time.Now().UTC())
	if err != nil {
		return respondError(c, err)
	}
	return success(c, http.StatusOK, map[string]interface{}{"banners": banners})
}
