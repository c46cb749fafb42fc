package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientQuestionnaireUnkeyed(t *testing.T) {
	testDB, demo := setupDemo(t)
	visit := newVisit(t, testDB, demo, demo.Location, models.VisitStatusCreated)
	humanID := services.HumanCaseID(visit.CaseID)

	c, rec := setupEcho(t, http.MethodGet, "/api/cases/"+humanID+"/questionnaire", nil)
	withParams(c, "id", humanID)
	require.NoError(t, GetClientQuestionnaireHandler(c))
	assertStatus(t, http.StatusOK, rec)
	body := decodeBody(t, rec)
	assert.Equal(t, models.VisitStatusCreated, body["status"])
	assert.Equal(t, false, body["has_key"])
	questionnaire := body["questionnaire"].(map[string]interface{})
	assert.Len(t, questionnaire["sections"], 2)
	assert.NotContains(t, questionnaire, "consultant_questions")

	answers := map[string]interface{}{
		"answers": []services.AnswerInput{
			{QuestionID: demo.Questions["SEX"].ID, Choices: []services.AnswerChoice{{Code: 2}}},
			{QuestionID: demo.Questions["TESTED_BEFORE"].ID, Choices: []services.AnswerChoice{{Code: "1"}}},
		},
	}
	c, rec = setupEcho(t, http.MethodPost, "/api/cases/"+humanID+"/answers", answers)
	withParams(c, "id", humanID)
	require.NoError(t, SubmitClientAnswersHandler(c))
	assertStatus(t, http.StatusOK, rec)
	body = decodeBody(t, rec)
	assert.Equal(t, float64(2), body["saved"])
	assert.Equal(t, models.VisitStatusClientSubmitted, body["status"])

	// once submitted, an unkeyed case sends the client to the submitted page
	c, rec = setupEcho(t, http.MethodPost, "/api/cases/"+humanID+"/answers", answers)
	withParams(c, "id", humanID)
	require.NoError(t, SubmitClientAnswersHandler(c))
	assert.Equal(t, http.StatusFound, rec.Code)

	c, rec = setupEcho(t, http.MethodGet, "/api/cases/"+humanID+"/questionnaire", nil)
	withParams(c, "id", humanID)
	require.NoError(t, GetClientQuestionnaireHandler(c))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://sure.example.com/case/"+humanID+"/submitted", rec.Header().Get("Location"))

	var count int64
	require.NoError(t, testDB.Model(&models.ClientAnswer{}).Where("visit_id = ?", visit.ID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, models.VisitStatusClientSubmitted, reloadVisit(t, testDB, visit).Status)
}

func TestClientQuestionnaireUnknownCase(t *testing.T) {
	setupDemo(t)

	c, rec := setupEcho(t, http.MethodGet, "/api/cases/SUF-zzzzzz/questionnaire", nil)
	withParams(c, "id", "SUF-zzzzzz")
	require.NoError(t, GetClientQuestionnaireHandler(c))
	assertStatus(t, http.StatusNotFound, rec)
	assert.Equal(t, false, decodeBody(t, rec)["success"])
}

func TestSetCaseKeyHandler(t *testing.T) {
	testDB, demo := setupDemo(t)
	visit := newVisit(t, testDB, demo, demo.Location, models.VisitStatusCreated)
	humanID := services.HumanCaseID(visit.CaseID)

	setKey := func(id, key string) int {
		c, rec := setupEcho(t, http.MethodPost, "/api/cases/"+id+"/key", map[string]string{"key": key})
		withParams(c, "id", id)
		require.NoError(t, SetCaseKeyHandler(c))
		return rec.Code
	}
	getQuestionnaire := func(id, key string) int {
		c, rec := setupEcho(t, http.MethodGet, "/api/cases/"+id+"/questionnaire?key="+key, nil)
		withParams(c, "id", id)
		require.NoError(t, GetClientQuestionnaireHandler(c))
		return rec.Code
	}

	assert.Equal(t, http.StatusBadRequest, setKey(humanID, "abc"))
	assert.Equal(t, http.StatusOK, setKey(humanID, "blue-sky"))

	assert.Equal(t, http.StatusForbidden, getQuestionnaire(humanID, ""))
	assert.Equal(t, http.StatusForbidden, getQuestionnaire(humanID, "wrong-key"))
	assert.Equal(t, http.StatusOK, getQuestionnaire(humanID, "blue-sky"))

	// the key is set once
	assert.Equal(t, http.StatusForbidden, setKey(humanID, "another-key"))

	// nobody but the submitter can key a submitted case
	submitted := newVisit(t, testDB, demo, demo.Location, models.VisitStatusClientSubmitted)
	submittedID := services.HumanCaseID(submitted.CaseID)
	assert.Equal(t, http.StatusFound, getQuestionnaire(submittedID, ""))
	assert.Equal(t, http.StatusForbidden, setKey(submittedID, "green-tree"))
	assert.Equal(t, http.StatusFound, getQuestionnaire(submittedID, ""))
}

func TestSetCaseKeyAfterSubmission(t *testing.T) {
	testDB, demo := setupDemo(t)
	visit := newVisit(t, testDB, demo, demo.Location, models.VisitStatusCreated)
	humanID := services.HumanCaseID(visit.CaseID)

	answers := map[string]interface{}{
		"answers": []services.AnswerInput{
			{QuestionID: demo.Questions["SEX"].ID, Choices: []services.AnswerChoice{{Code: 2}}},
		},
	}
	c, rec := setupEcho(t, http.MethodPost, "/api/cases/"+humanID+"/answers", answers)
	withParams(c, "id", humanID)
	require.NoError(t, SubmitClientAnswersHandler(c))
	assertStatus(t, http.StatusOK, rec)

	var receipt *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == services.SubmitterCookieName {
			receipt = ck
		}
	}
	require.NotNil(t, receipt)
	assert.True(t, receipt.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, receipt.SameSite)

	setKey := func(cookie *http.Cookie) (int, map[string]interface{}) {
		c, rec := setupEcho(t, http.MethodPost, "/api/cases/"+humanID+"/key", map[string]string{"key": "green-tree"})
		if cookie != nil {
			c.Request().AddCookie(cookie)
		}
		withParams(c, "id", humanID)
		require.NoError(t, SetCaseKeyHandler(c))
		return rec.Code, decodeBody(t, rec)
	}

	code, body := setKey(nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "submitter-required", body["code"])

	// a receipt issued for another case does not count
	other, err := services.SealSubmitterReceipt(testConfig().SessionSecret, "zzzzzz", time.Now())
	require.NoError(t, err)
	code, _ = setKey(&http.Cookie{Name: services.SubmitterCookieName, Value: other})
	assert.Equal(t, http.StatusForbidden, code)

	// a phone anchor is no receipt
	anchor, err := services.SealPhoneAnchor(testConfig().SessionSecret, "submitted", visit.CaseID, time.Now())
	require.NoError(t, err)
	code, _ = setKey(&http.Cookie{Name: services.SubmitterCookieName, Value: anchor})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = setKey(&http.Cookie{Name: receipt.Name, Value: receipt.Value})
	assert.Equal(t, http.StatusOK, code)

	c, rec = setupEcho(t, http.MethodGet, "/api/cases/"+humanID+"/questionnaire?key=green-tree", nil)
	withParams(c, "id", humanID)
	require.NoError(t, GetClientQuestionnaireHandler(c))
	assertStatus(t, http.StatusOK, rec)
}

func TestClientResultsHandler(t *testing.T) {
	testDB, demo := setupDemo(t)
	visit := newVisit(t, testDB, demo, demo.Location, models.VisitStatusClientSubmitted)
	humanID := services.HumanCaseID(visit.CaseID)
	require.NoError(t, services.SetCaseKey(testDB, visit.CaseID, "blue-sky"))

	getResults := func() (int, map[string]interface{}) {
		c, rec := setupEcho(t, http.MethodGet, "/api/cases/"+humanID+"/results?key=blue-sky", nil)
		withParams(c, "id", humanID)
		require.NoError(t, GetClientResultsHandler(c))
		return rec.Code, decodeBody(t, rec)
	}

	hiv, syphilis := demo.TestKinds["HIV rapid"], demo.TestKinds["Syphilis"]
	_, err := services.SetTests(testDB, visit, []string{demo.Bundle.ID}, &demo.Consultant)
	require.NoError(t, err)
	_, err = services.RecordTestResult(testDB, visit, hiv.ID, demo.ResultOption("HIV rapid", "reactive").ID, "", &demo.Consultant)
	require.NoError(t, err)
	_, err = services.RecordTestResult(testDB, visit, syphilis.ID, demo.ResultOption("Syphilis", "negative").ID, "", &demo.Consultant)
	require.NoError(t, err)

	code, body := getResults()
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "results-not-available", body["code"])

	_, err = services.PublishCaseResults(context.Background(), testDB, testConfig(), services.NewMockSMSSender(), visit, &demo.Consultant)
	require.NoError(t, err)

	code, body = getResults()
	require.Equal(t, http.StatusOK, code)
	results := body["results"].(map[string]interface{})
	assert.Len(t, results["results"], 2)
	assert.Equal(t, models.VisitStatusResultsSeen, reloadVisit(t, testDB, visit).Status)

	// a later non-safe result is never shown anonymously
	_, err = services.RecordTestResult(testDB, visit, syphilis.ID, demo.ResultOption("Syphilis", "positive").ID, "", &demo.Consultant)
	require.NoError(t, err)
	require.NoError(t, testDB.Model(&models.Visit{}).Where("id = ?", visit.ID).Update("status", models.VisitStatusResultsSent).Error)

	code, body = getResults()
	require.Equal(t, http.StatusOK, code)
	results = body["results"].(map[string]interface{})
	require.Len(t, results["results"], 1)
	only := results["results"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "HIV rapid", only["test_kind"].(map[string]interface{})["name"])
}

func TestConnectFlow(t *testing.T) {
	testDB, demo := setupDemo(t)
	sender := useSender(t)
	visit := newVisit(t, testDB, demo, demo.Location, models.VisitStatusClientSubmitted)
	humanID := services.HumanCaseID(visit.CaseID)
	require.NoError(t, services.SetCaseKey(testDB, visit.CaseID, "blue-sky"))

	canConnect := func() bool {
		c, rec := setupEcho(t, http.MethodGet, "/api/cases/"+humanID+"/connection?key=blue-sky", nil)
		withParams(c, "id", humanID)
		require.NoError(t, GetConnectionHandler(c))
		assertStatus(t, http.StatusOK, rec)
		return decodeBody(t, rec)["can_connect"].(bool)
	}
	assert.True(t, canConnect())

	c, rec := setupEcho(t, http.MethodPost, "/api/cases/"+humanID+"/token",
		map[string]string{"key": "blue-sky", "phone": "079 123 45 67"})
	withParams(c, "id", humanID)
	require.NoError(t, SendTokenHandler(c))
	assertStatus(t, http.StatusOK, rec)
	require.Len(t, sender.Messages(), 1)
	assert.Equal(t, "+41791234567", sender.Messages()[0].To)

	var anchor *http.Cookie
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == services.PhoneAnchorCookieName {
			anchor = ck
		}
	}
	require.NotNil(t, anchor)
	assert.True(t, anchor.HttpOnly)

	var token models.Token
	require.NoError(t, testDB.Where("case_id = ?", visit.CaseID).First(&token).Error)

	connect := func(withAnchor bool) (int, map[string]interface{}) {
		c, rec := setupEcho(t, http.MethodPost, "/api/cases/"+humanID+"/connect", map[string]string{
			"key": "blue-sky", "phone": "+41 79 123 45 67", "code": token.Code, "consent": models.ConsentAllowed,
		})
		if withAnchor {
			c.Request().AddCookie(&http.Cookie{Name: anchor.Name, Value: anchor.Value})
		}
		withParams(c, "id", humanID)
		require.NoError(t, ConnectCaseHandler(c))
		return rec.Code, decodeBody(t, rec)
	}

	// the code only works in the browser it was requested from
	code, body := connect(false)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "phone-mismatch", body["code"])

	code, body = connect(true)
	require.Equal(t, http.StatusOK, code)
	assert.Regexp(t, "^SUC-", body["client"])
	assert.False(t, canConnect())

	services.WaitForAuditEvents()
	var audits int64
	require.NoError(t, testDB.Model(&models.AuditLog{}).Where("action = ?", models.AuditActionConnect).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestSendTokenCooldown(t *testing.T) {
	testDB, demo := setupDemo(t)
	useSender(t)
	visit := newVisit(t, testDB, demo, demo.Location, models.VisitStatusCreated)
	humanID := services.HumanCaseID(visit.CaseID)

	send := func() (int, map[string]interface{}) {
		c, rec := setupEcho(t, http.MethodPost, "/api/cases/"+humanID+"/token", map[string]string{"phone": "+41791234567"})
		withParams(c, "id", humanID)
		require.NoError(t, SendTokenHandler(c))
		return rec.Code, decodeBody(t, rec)
	}

	code, _ := send()
	assert.Equal(t, http.StatusOK, code)
	code, body := send()
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "recent-token", body["code"])
}

func TestGetBannersHandler(t *testing.T) {
	testDB, demo := setupDemo(t)
	published := time.Now().UTC().Add(-time.Hour)
	banner := &models.InformationBanner{Name: "Holidays", Content: "Closed on Monday", PublishedAt: &published,
		Locations: []models.Location{demo.Location}}
	require.NoError(t, testDB.Omit("Locations.*").Create(banner).Error)

	c, rec := setupEcho(t, http.MethodGet, "/api/locations/"+demo.Location.ID+"/banners", nil)
	withParams(c, "id", demo.Location.ID)
	require.NoError(t, GetBannersHandler(c))
	assertStatus(t, http.StatusOK, rec)
	assert.Len(t, decodeBody(t, rec)["banners"], 1)

	c, rec = setupEcho(t, http.MethodGet, "/api/locations/"+demo.OtherLocation.ID+"/banners", nil)
	withParams(c, "id", demo.OtherLocation.ID)
	require.NoError(t, GetBannersHandler(c))
	assertStatus(t, http.StatusOK, rec)
	assert.Empty(t, decodeBody(t, rec)["banners"])

	c, rec = setupEcho(t, http.MethodGet, "/api/locations/missing/banners", nil)
	withParams(c, "id", "missing")
	require.NoError(t, GetBannersHandler(c))
	assertStatus(t, http.StatusNotFound, rec)
}
