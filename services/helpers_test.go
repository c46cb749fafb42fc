package services

import (
	"fmt"
	"testing"
	"time"

	"sure_app_go/config"
	"sure_app_go/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const demoPassword = "DemoPassword123!"

// setupTestDB opens an isolated in-memory database with the full schema.
// One connection keeps every query on the same in-memory database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:mem_%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		WaitForAuditEvents()
		sqlDB.Close()
	})

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

// setupDemo returns a database seeded with the demo tenant
func setupDemo(t *testing.T) (*gorm.DB, *DemoData) {
	t.Helper()
	db := setupTestDB(t)
	demo, err := SeedDemoData(db, demoPassword)
	require.NoError(t, err)
	return db, demo
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

func newSuperuser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	u := &models.User{Name: "Root", Email: uuid.New().String() + "@sure.local", Password: "x", Role: models.RoleSuperuser, IsActive: true}
	require.NoError(t, db.Create(u).Error)
	return u
}

// newConsultant creates a consultant user working at the given locations
func newConsultant(t *testing.T, db *gorm.DB, tenantID string, locations ...models.Location) *models.User {
	t.Helper()
	u := &models.User{Name: "Consultant", Email: uuid.New().String() + "@sure.local", Password: "x",
		Role: models.RoleConsultant, TenantID: &tenantID, IsActive: true}
	require.NoError(t, db.Create(u).Error)
	c := &models.Consultant{UserID: u.ID, TenantID: tenantID, Locations: locations}
	require.NoError(t, db.Omit("Locations.*").Create(c).Error)
	return u
}

// newVisit creates a case with its visit at location in the given status
func newVisit(t *testing.T, db *gorm.DB, demo *DemoData, location models.Location, status string) *models.Visit {
	t.Helper()
	id, err := GenerateCaseID()
	require.NoError(t, err)
	c := &models.Case{ID: id, LocationID: location.ID, Language: "en"}
	require.NoError(t, db.Create(c).Error)
	v := &models.Visit{CaseID: id, QuestionnaireID: demo.Questionnaire.ID, Status: status}
	require.NoError(t, db.Create(v).Error)

	loc := location
	c.Location = &loc
	v.Case = c
	return v
}

// connectVisit links the visit's case to a client with the given phone number
func connectVisit(t *testing.T, db *gorm.DB, visit *models.Visit, phone string) *models.Client {
	t.Helper()
	var contact models.Contact
	require.NoError(t, db.Where(models.Contact{PhoneNumber: phone}).Attrs(models.Contact{Active: true}).FirstOrCreate(&contact).Error)
	client, err := getOrCreateClient(db, contact.ID)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Connection{CaseID: visit.CaseID, ClientID: client.ID, Consent: models.ConsentAllowed}).Error)
	return client
}

// backdate moves created_at of rows matching the query into the past
func backdate(t *testing.T, db *gorm.DB, model interface{}, id string, d time.Duration) {
	t.Helper()
	require.NoError(t, db.Model(model).Where("id = ?", id).UpdateColumn("created_at", time.Now().Add(-d)).Error)
}

func reload(t *testing.T, db *gorm.DB, visit *models.Visit) *models.Visit {
	t.Helper()
	var v models.Visit
	require.NoError(t, db.Preload("Case.Location").First(&v, "id = ?", visit.ID).Error)
	return &v
}
