package services

import (
	"context"
	"errors"
	"testing"

	"sure_app_go/models"
	"sure_app_go/services/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type recordingQueue struct {
	tasks []queue.Task
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, task queue.Task) error {
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func answerClient(t *testing.T, db *gorm.DB, visit *models.Visit, q models.ClientQuestion, choices []int, texts []string) {
	t.Helper()
	require.NoError(t, db.Create(&models.ClientAnswer{VisitID: visit.ID, QuestionID: q.ID,
		Choices: datatypes.JSONSlice[int](choices), Texts: datatypes.JSONSlice[string](texts)}).Error)
}

func TestExportCodesAndTexts(t *testing.T) {
	assert.Equal(t, "99", exportCodes(nil))
	assert.Equal(t, "2", exportCodes([]int{2}))
	assert.Equal(t, "1;3", exportCodes([]int{1, 3}))

	assert.Equal(t, "missing", exportTexts(nil))
	assert.Equal(t, "missing", exportTexts([]string{" ", ""}))
	assert.Equal(t, "note", exportTexts([]string{"note"}))
	assert.Equal(t, "a;b", exportTexts([]string{"a", "b"}))
}

func TestExportRecord(t *testing.T) {
	db, demo := setupDemo(t)
	visit := newVisit(t, db, demo, demo.Location, models.VisitStatusTestsRecorded)
	_, err := SetVisitTags(db, visit, []string{"PrEP"})
	require.NoError(t, err)
	client := connectVisit(t, db, visit, "+41791234567")

	answerClient(t, db, visit, demo.Questions["SEX"], []int{3}, []string{"diverse"})
	answerClient(t, db, visit, demo.Questions["TESTED_BEFORE"], []int{2}, []string{"-"})
	answerClient(t, db, visit, demo.Questions["RISK"], []int{1, 3}, []string{"-", "party"})
	require.NoError(t, db.Create(&models.ConsultantAnswer{VisitID: visit.ID, QuestionID: demo.ConsultantQuestions[ReminderQuestionCode].ID,
		Choices: datatypes.JSONSlice[int]{1}, Texts: datatypes.JSONSlice[string]{"-"}}).Error)

	syphilis := models.Test{VisitID: visit.ID, TestKindID: demo.TestKinds["Syphilis"].ID}
	require.NoError(t, db.Create(&syphilis).Error)
	require.NoError(t, db.Create(&models.TestResult{TestID: syphilis.ID,
		ResultOptionID: demo.ResultOption("Syphilis", "positive").ID, Note: "late latent"}).Error)
	require.NoError(t, db.Create(&models.Test{VisitID: visit.ID, TestKindID: demo.TestKinds["Chlamydia"].ID}).Error)

	row, err := ExportRecord(db, reload(t, db, visit))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "created_at", "status", "tags", "location", "tenant", "questionnaire", "client_id"}, row.Columns[:8])
	v := row.Values
	assert.Equal(t, HumanCaseID(visit.CaseID), v["id"])
	assert.Equal(t, models.VisitStatusTestsRecorded, v["status"])
	assert.Equal(t, "PrEP", v["tags"])
	assert.Equal(t, demo.Location.Name, v["location"])
	assert.Equal(t, demo.Tenant.Name, v["tenant"])
	assert.Equal(t, DemoQuestionnaireName, v["questionnaire"])
	assert.Equal(t, HumanClientID(client.ID), v["client_id"])

	assert.Equal(t, "3", v["SEX_codes"])
	assert.Equal(t, "diverse", v["SEX_texts"])
	assert.Equal(t, "2", v["TESTED_BEFORE_codes"])
	assert.NotContains(t, row.Columns, "LAST_TEST_codes")
	assert.Equal(t, "99", v["COUNTRY_codes"])
	assert.Equal(t, "missing", v["COUNTRY_texts"])
	assert.Equal(t, "1;3", v["RISK_codes"])
	assert.Equal(t, "-;party", v["RISK_texts"])

	assert.Equal(t, "1", v["REMINDER_codes"])
	assert.Equal(t, "-", v["REMINDER_texts"])
	assert.Equal(t, "99", v["COUNSELING_codes"])
	assert.Equal(t, "missing", v["COUNSELING_texts"])

	assert.Equal(t, "", v["HIV rapid"])
	assert.Equal(t, "positive", v["Syphilis"])
	assert.Equal(t, "late latent", v[interpretationColumn(demo.TestKinds["Syphilis"])])
	assert.Equal(t, "no_result", v["Chlamydia"])
	assert.NotContains(t, row.Columns, interpretationColumn(demo.TestKinds["Chlamydia"]))
}

func TestExportRecordShowsDependentQuestion(t *testing.T) {
	db, demo := setupDemo(t)
	visit := newVisit(t, db, demo, demo.Location, models.VisitStatusClientSubmitted)
	answerClient(t, db, visit, demo.Questions["TESTED_BEFORE"], []int{1}, []string{"-"})

	row, err := ExportRecord(db, reload(t, db, visit))
	require.NoError(t, err)
	assert.Equal(t, "99", row.Values["LAST_TEST_codes"])
	assert.NotContains(t, row.Columns, "client_id")
}

func TestExportHeader(t *testing.T) {
	a, b := newExportRow(), newExportRow()
	a.Set("id", "1")
	a.Set("x", "1")
	b.Set("id", "2")
	b.Set("y", "2")
	b.Set("x", "2")
	assert.Equal(t, []string{"id", "x", "y"}, ExportHeader([]*ExportRow{a, b}))

	a.Set("x", "3")
	assert.Equal(t, []string{"id", "x"}, a.Columns)
}

func TestExportVisitIDsScope(t *testing.T) {
	db, demo := setupDemo(t)
	zurich := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
	basel := newVisit(t, db, demo, demo.OtherLocation, models.VisitStatusCreated)

	ids, err := ExportVisitIDs(db, newSuperuser(t, db))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{zurich.ID, basel.ID}, ids)

	ids, err = ExportVisitIDs(db, newConsultant(t, db, demo.Tenant.ID, demo.OtherLocation))
	require.NoError(t, err)
	assert.Equal(t, []string{basel.ID}, ids)

	ids, err = ExportVisitIDs(db, newConsultant(t, db, demo.Tenant.ID))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStartExport(t *testing.T) {
	db, demo := setupDemo(t)
	q := &recordingQueue{}

	_, err := StartExport(context.Background(), db, q, &demo.Consultant, AuditContext{})
	assert.ErrorIs(t, err, ErrPermission)

	export, err := StartExport(context.Background(), db, q, &demo.Admin, NewAuditContext(&demo.Admin, "127.0.0.1", "test"))
	require.NoError(t, err)
	assert.Equal(t, models.ExportPending, export.Status)
	require.Len(t, q.tasks, 1)
	assert.Equal(t, queue.KindExport, q.tasks[0].Kind)

	var payload ExportTaskPayload
	require.NoError(t, q.tasks[0].Decode(&payload))
	assert.Equal(t, export.ID, payload.ExportID)

	got, err := GetExport(db, &demo.Admin, export.ID)
	require.NoError(t, err)
	assert.Equal(t, export.ID, got.ID)

	_, err = GetExport(db, &demo.Consultant, export.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = GetExport(db, newSuperuser(t, db), export.ID)
	assert.NoError(t, err)

	q.err = errors.New("queue down")
	_, err = StartExport(context.Background(), db, q, &demo.Admin, AuditContext{})
	require.Error(t, err)
	var failed models.VisitExport
	require.NoError(t, db.Where("status = ?", models.ExportFailed).First(&failed).Error)
	assert.Equal(t, "queue down", failed.Error)
}

func TestCohorts(t *testing.T) {
	db, demo := setupDemo(t)
	newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
	newVisit(t, db, demo, demo.Location, models.VisitStatusClosed)
	newVisit(t, db, demo, demo.OtherLocation, models.VisitStatusCreated)
	require.NoError(t, db.Create(&models.Tenant{Name: "Zz Empty"}).Error)

	statusIndex := func(status string) int {
		for i, s := range models.AllVisitStatuses {
			if s == status {
				return i
			}
		}
		return -1
	}

	byTenant, err := CohortByTenant(db)
	require.NoError(t, err)
	assert.Equal(t, models.AllVisitStatuses, byTenant.Headers)
	require.Len(t, byTenant.Rows, 2)
	assert.Equal(t, demo.Tenant.Name, byTenant.Rows[0].Title)
	assert.Equal(t, int64(2), byTenant.Rows[0].Counts[statusIndex(models.VisitStatusCreated)])
	assert.Equal(t, int64(1), byTenant.Rows[0].Counts[statusIndex(models.VisitStatusClosed)])
	assert.Equal(t, "Zz Empty", byTenant.Rows[1].Title)
	assert.Equal(t, make([]int64, len(models.AllVisitStatuses)), byTenant.Rows[1].Counts)

	byLocation, err := CohortByLocation(db, demo.Tenant.ID)
	require.NoError(t, err)
	require.Len(t, byLocation.Rows, 2)
	counts := map[string][]int64{}
	for _, r := range byLocation.Rows {
		counts[r.Title] = r.Counts
	}
	assert.Equal(t, int64(1), counts[demo.Location.Name][statusIndex(models.VisitStatusCreated)])
	assert.Equal(t, int64(1), counts[demo.Location.Name][statusIndex(models.VisitStatusClosed)])
	assert.Equal(t, int64(1), counts[demo.OtherLocation.Name][statusIndex(models.VisitStatusCreated)])
}
