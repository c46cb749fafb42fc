package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"sure_app_go/config"
	"sure_app_go/db"
	"sure_app_go/middleware"
	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const demoPassword = "DemoPassword123!"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Unique shared memory name isolates tests while async audit writes see the same database
	dsn := fmt.Sprintf("file:mem_%s?mode=memory&cache=shared", uuid.New().String())
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		services.WaitForAuditEvents()
		sqlDB.Close()
	})

	require.NoError(t, testDB.AutoMigrate(models.AllModels()...))

	// Set global DB and storage
	db.DB = testDB
	services.Storage = services.NewLocalStorage(t.TempDir())
	return testDB
}

func setupDemo(t *testing.T) (*gorm.DB, *services.DemoData) {
	t.Helper()
	testDB := setupTestDB(t)
	demo, err := services.SeedDemoData(testDB, demoPassword)
	require.NoError(t, err)
	return testDB, demo
}

// useSender swaps the SMS gateway for a mock for the duration of the test
func useSender(t *testing.T) *services.MockSMSSender {
	t.Helper()
	sender := services.NewMockSMSSender()
	prev := smsSender
	smsSender = sender
	t.Cleanup(func() { smsSender = prev })
	return sender
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:                 "test",
		AppURL:                      "https://sure.example.com",
		SessionSecret:               "test-secret-with-enough-length-0123456789",
		DefaultRegion:               "CH",
		CaseConnectionWindowMinutes: 120,
		TokenCooldownSeconds:        60,
		TokenTTLMinutes:             15,
		ResultsRetentionDays:        7,
		EmailTestMode:               true,
	}
}

// setupEcho builds a context for method and target. body is encoded as JSON
// unless it is already a reader.
func setupEcho(t *testing.T, method, target string, body interface{}) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	e := echo.New()
	req := httptest.NewRequest(method, target, reader)
	if _, ok := body.(io.Reader); !ok && body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set(middleware.ContextKeyConfig, testConfig())
	return c, rec
}

// withParams sets path parameters in name, value pairs
func withParams(c echo.Context, pairs ...string) {
	var names, values []string
	for i := 0; i+1 < len(pairs); i += 2 {
		names = append(names, pairs[i])
		values = append(values, pairs[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
}

func withUser(c echo.Context, user *models.User) {
	c.Set(middleware.ContextKeyUser, user)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

// newVisit creates a case with its visit at location in the given status
func newVisit(t *testing.T, testDB *gorm.DB, demo *services.DemoData, location models.Location, status string) *models.Visit {
	t.Helper()
	id, err := services.GenerateCaseID()
	require.NoError(t, err)
	c := &models.Case{ID: id, LocationID: location.ID, Language: "en"}
	require.NoError(t, testDB.Create(c).Error)
	v := &models.Visit{CaseID: id, QuestionnaireID: demo.Questionnaire.ID, Status: status}
	require.NoError(t, testDB.Create(v).Error)
	return v
}

func newSuperuser(t *testing.T, testDB *gorm.DB) *models.User {
	t.Helper()
	u := &models.User{Name: "Root", Email: uuid.New().String() + "@sure.local", Password: "x", Role: models.RoleSuperuser, IsActive: true}
	require.NoError(t, testDB.Create(u).Error)
	return u
}

func reloadVisit(t *testing.T, testDB *gorm.DB, visit *models.Visit) *models.Visit {
	t.Helper()
	var v models.Visit
	require.NoError(t, testDB.First(&v, "id = ?", visit.ID).Error)
	return &v
}

func assertStatus(t *testing.T, want int, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, want, rec.Code, rec.Body.String())
}

// connectClient links the visit's case to a new client with the given phone number
func connectClient(t *testing.T, testDB *gorm.DB, visit *models.Visit, phone string) *models.Client {
	t.Helper()
	contact := &models.Contact{PhoneNumber: phone, Active: true}
	require.NoError(t, testDB.Create(contact).Error)
	id, err := services.GenerateClientID()
	require.NoError(t, err)
	client := &models.Client{ID: id, ContactID: contact.ID}
	require.NoError(t, testDB.Create(client).Error)
	require.NoError(t, testDB.Create(&models.Connection{CaseID: visit.CaseID, ClientID: client.ID, Consent: models.ConsentAllowed}).Error)
	return client
}
