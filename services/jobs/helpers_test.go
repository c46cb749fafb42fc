package jobs

import (
	"fmt"
	"testing"
	"time"

	"sure_app_go/config"
	"sure_app_go/models"
	"sure_app_go/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupDemo(t *testing.T) (*gorm.DB, *services.DemoData) {
	t.Helper()
	dsn := fmt.Sprintf("file:mem_%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		services.WaitForAuditEvents()
		sqlDB.Close()
	})
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	demo, err := services.SeedDemoData(db, "DemoPassword123!")
	require.NoError(t, err)
	return db, demo
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:          "test",
		AppURL:               "https://sure.example.com",
		DefaultRegion:        "CH",
		ResultsRetentionDays: 7,
		EmailTestMode:        true,
		SweepSchedule:        "@hourly",
		ReminderSchedule:     "@every 15m",
		CleanupSchedule:      "@daily",
	}
}

func newVisit(t *testing.T, db *gorm.DB, demo *services.DemoData, location models.Location, status string) *models.Visit {
	t.Helper()
	id, err := services.GenerateCaseID()
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Case{ID: id, LocationID: location.ID, Language: "en"}).Error)
	v := &models.Visit{CaseID: id, QuestionnaireID: demo.Questionnaire.ID, Status: status}
	require.NoError(t, db.Create(v).Error)
	return v
}

func connect(t *testing.T, db *gorm.DB, visit *models.Visit, phone string) {
	t.Helper()
	contact := models.Contact{PhoneNumber: phone, Active: true}
	require.NoError(t, db.Create(&contact).Error)
	clientID, err := services.GenerateClientID()
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Client{ID: clientID, ContactID: contact.ID}).Error)
	require.NoError(t, db.Create(&models.Connection{CaseID: visit.CaseID, ClientID: clientID, Consent: models.ConsentAllowed}).Error)
}

// answerReminder stores a consultant answer to the reminder question given at
func answerReminder(t *testing.T, db *gorm.DB, demo *services.DemoData, visit *models.Visit, at time.Time, codes ...int) {
	t.Helper()
	texts := make([]string, len(codes))
	for i := range texts {
		texts[i] = "-"
	}
	require.NoError(t, db.Create(&models.ConsultantAnswer{
		CreatedAt:  at,
		VisitID:    visit.ID,
		QuestionID: demo.ConsultantQuestions[services.ReminderQuestionCode].ID,
		Choices:    datatypes.JSONSlice[int](codes),
		Texts:      datatypes.JSONSlice[string](texts),
	}).Error)
}

func reloadVisit(t *testing.T, db *gorm.DB, id string) models.Visit {
	t.Helper()
	var v models.Visit
	require.NoError(t, db.First(&v, "id = ?", id).Error)
	return v
}
