package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"sure_app_go/models"
	"sure_app_go/services/queue"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Export placeholders
const (
	exportMissingCode = "99"
	exportMissingText = "missing"
	exportNoResult    = "no_result"
	exportTimeLayout  = "2006-01-02 15:04:05"
)

// ExportTaskPayload is the queue payload of an export task
type ExportTaskPayload struct {
	ExportID string `json:"export_id"`
}

// ExportRow is one visit flattened into named columns, in a stable order
type ExportRow struct {
	Columns []string
	Values  map[string]string
}

func newExportRow() *ExportRow {
	return &ExportRow{Values: make(map[string]string)}
}

// Set adds or overwrites a column, keeping the position of its first use
func (r *ExportRow) Set(column, value string) {
	if _, ok := r.Values[column]; !ok {
		r.Columns = append(r.Columns, column)
	}
	r.Values[column] = value
}

// Exporter flattens visits. It caches questionnaires and the test catalog,
// so one Exporter should serve a whole export run.
type Exporter struct {
	db             *gorm.DB
	questionnaires map[string]*models.Questionnaire
	kinds          []models.TestKind
	kindsLoaded    bool
}

func NewExporter(db *gorm.DB) *Exporter {
	return &Exporter{db: db, questionnaires: make(map[string]*models.Questionnaire)}
}

// ExportRecord flattens a single visit
func ExportRecord(db *gorm.DB, visit *models.Visit) (*ExportRow, error) {
	return NewExporter(db).Record(visit)
}

func (e *Exporter) questionnaire(id string) (*models.Questionnaire, error) {
	if q, ok := e.questionnaires[id]; ok {
		return q, nil
	}
	var q models.Questionnaire
	err := e.db.
		Preload("Sections", func(db *gorm.DB) *gorm.DB { return db.Order("sections.\"order\" ASC") }).
		Preload("Sections.Questions", func(db *gorm.DB) *gorm.DB { return db.Order("client_questions.\"order\" ASC") }).
		Preload("Sections.Questions.ShowForOptions.Question").
		Preload("ConsultantQuestions", func(db *gorm.DB) *gorm.DB { return db.Order("consultant_questions.\"order\" ASC") }).
		First(&q, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("questionnaire not found")
		}
		return nil, fmt.Errorf("failed to load questionnaire: %w", err)
	}
	e.questionnaires[id] = &q
	return &q, nil
}

func (e *Exporter) testKinds() ([]models.TestKind, error) {
	if e.kindsLoaded {
		return e.kinds, nil
	}
	if err := e.db.Order("number ASC").Find(&e.kinds).Error; err != nil {
		return nil, fmt.Errorf("failed to load test kinds: %w", err)
	}
	e.kindsLoaded = true
	return e.kinds, nil
}

// Record flattens the visit: metadata, client answers that were visible given
// the earlier answers, consultant answers and one column per test kind
func (e *Exporter) Record(visit *models.Visit) (*ExportRow, error) {
	var c models.Case
	if err := e.db.Preload("Location.Tenant").Preload("Connection").First(&c, "id = ?", visit.CaseID).Error; err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}
	q, err := e.questionnaire(visit.QuestionnaireID)
	if err != nil {
		return nil, err
	}

	row := newExportRow()
	row.Set("id", HumanCaseID(c.ID))
	row.Set("created_at", visit.CreatedAt.UTC().Format(exportTimeLayout))
	row.Set("status", visit.Status)
	row.Set("tags", strings.Join(visit.Tags, ", "))
	if c.Location != nil {
		row.Set("location", c.Location.Name)
		if c.Location.Tenant != nil {
			row.Set("tenant", c.Location.Tenant.Name)
		}
	}
	row.Set("questionnaire", q.Name)
	if c.Connection != nil {
		row.Set("client_id", HumanClientID(c.Connection.ClientID))
	}

	if err := e.clientAnswers(row, visit, q); err != nil {
		return nil, err
	}
	if err := e.consultantAnswers(row, visit, q); err != nil {
		return nil, err
	}
	if err := e.testResults(row, visit); err != nil {
		return nil, err
	}
	return row, nil
}

func exportCodes(codes []int) string {
	if len(codes) == 0 {
		return exportMissingCode
	}
	return strings.Join(lo.Map(codes, func(c int, _ int) string { return strconv.Itoa(c) }), ";")
}

func exportTexts(texts []string) string {
	if lo.EveryBy(texts, func(t string) bool { return strings.TrimSpace(t) == "" }) {
		return exportMissingText
	}
	return strings.Join(texts, ";")
}

func (e *Exporter) clientAnswers(row *ExportRow, visit *models.Visit, q *models.Questionnaire) error {
	latest, err := LatestClientAnswers(e.db, visit.ID)
	if err != nil {
		return err
	}

	history := AnswerHistory{}
	for _, section := range q.Sections {
		for i := range section.Questions {
			question := &section.Questions[i]
			if !Visible(RuleFor(question), history) {
				continue
			}
			answer, ok := latest[question.ID]
			if !ok {
				history[question.Code] = []int{99}
				row.Set(question.Code+"_codes", exportMissingCode)
				row.Set(question.Code+"_texts", exportMissingText)
				continue
			}
			history[question.Code] = answer.Choices
			row.Set(question.Code+"_codes", exportCodes(answer.Choices))
			row.Set(question.Code+"_texts", strings.Join(answer.Texts, ";"))
		}
	}
	return nil
}

func (e *Exporter) consultantAnswers(row *ExportRow, visit *models.Visit, q *models.Questionnaire) error {
	latest, err := LatestConsultantAnswers(e.db, visit.ID)
	if err != nil {
		return err
	}
	for _, question := range q.ConsultantQuestions {
		answer, ok := latest[question.ID]
		if !ok {
			row.Set(question.Code+"_codes", exportMissingCode)
			row.Set(question.Code+"_texts", exportMissingText)
			continue
		}
		row.Set(question.Code+"_codes", exportCodes(answer.Choices))
		row.Set(question.Code+"_texts", exportTexts(answer.Texts))
	}
	return nil
}

// interpretationColumn names the column holding the consultant's reading of a result
func interpretationColumn(kind models.TestKind) string {
	return fmt.Sprintf("%s [%s]", kind.Name, kind.Note)
}

func (e *Exporter) testResults(row *ExportRow, visit *models.Visit) error {
	kinds, err := e.testKinds()
	if err != nil {
		return err
	}
	results, err := LatestResults(e.db, visit.ID)
	if err != nil {
		return err
	}
	byKind := lo.KeyBy(results, func(r LatestResult) string { return r.Test.TestKindID })

	for _, kind := range kinds {
		value, note := "", ""
		if r, ok := byKind[kind.ID]; ok {
			value = exportNoResult
			if r.Result != nil {
				if r.Option != nil {
					value = r.Option.Label
				}
				note = r.Result.Note
			}
		}
		row.Set(kind.Name, value)
		if kind.InterpretationNeeded {
			row.Set(interpretationColumn(kind), note)
		}
	}
	return nil
}

// ExportHeader merges the columns of all rows, keeping first-seen order
func ExportHeader(rows []*ExportRow) []string {
	var header []string
	seen := make(map[string]bool)
	for _, r := range rows {
		for _, col := range r.Columns {
			if !seen[col] {
				seen[col] = true
				header = append(header, col)
			}
		}
	}
	return header
}

// ExportVisitIDs lists the visits user may export, oldest first
func ExportVisitIDs(db *gorm.DB, user *models.User) ([]string, error) {
	locationIDs, all, err := VisibleLocationIDs(db, user)
	if err != nil {
		return nil, err
	}
	query := db.Model(&models.Visit{}).Joins("JOIN cases ON cases.id = visits.case_id")
	if !all {
		if len(locationIDs) == 0 {
			return nil, nil
		}
		query = query.Where("cases.location_id IN ?", locationIDs)
	}

	var ids []string
	if err := query.Order("visits.created_at ASC, visits.id ASC").Pluck("visits.id", &ids).Error; err != nil {
		return nil, fmt.Errorf("failed to list visits for export: %w", err)
	}
	return ids, nil
}

func canExport(user *models.User) bool {
	return user != nil && (user.IsSuperuser() || (user.Role == models.RoleAdmin && user.TenantID != nil))
}

// StartExport records a pending export for user and queues it
func StartExport(ctx context.Context, db *gorm.DB, q queue.Queue, user *models.User, audit AuditContext) (*models.VisitExport, error) {
	if !canExport(user) {
		return nil, PermissionError("export-denied", "exports are limited to administrators")
	}

	export := &models.VisitExport{UserID: user.ID, Status: models.ExportPending}
	if err := db.Create(export).Error; err != nil {
		return nil, fmt.Errorf("failed to create export: %w", err)
	}

	task, err := queue.NewTask(queue.KindExport, ExportTaskPayload{ExportID: export.ID})
	if err == nil {
		err = q.Enqueue(ctx, task)
	}
	if err != nil {
		db.Model(export).Updates(map[string]interface{}{"status": models.ExportFailed, "error": err.Error()})
		return nil, fmt.Errorf("failed to queue export: %w", err)
	}

	LogAuditEvent(db, audit, models.AuditActionExport, "visit_export", export.ID, "", "Visit export requested", nil, nil)
	return export, nil
}

// GetExport returns an export owned by user; superusers see every export
func GetExport(db *gorm.DB, user *models.User, exportID string) (*models.VisitExport, error) {
	if user == nil {
		return nil, PermissionError("not-authenticated", "authentication required")
	}
	var export models.VisitExport
	if err := db.First(&export, "id = ?", exportID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("export not found")
		}
		return nil, fmt.Errorf("failed to load export: %w", err)
	}
	if export.UserID != user.ID && !user.IsSuperuser() {
		return nil, NotFoundError("export not found")
	}
	return &export, nil
}

// Cohort counts visits per status for a set of groups
type Cohort struct {
	Headers []string    `json:"headers"`
	Rows    []CohortRow `json:"rows"`
}

// CohortRow holds the counts of one group in header order
type CohortRow struct {
	Title  string  `json:"title"`
	Counts []int64 `json:"counts"`
}

type cohortCount struct {
	GroupID string
	Status  string
	Total   int64
}

func buildCohort(groups []struct{ ID, Name string }, counts []cohortCount) *Cohort {
	index := make(map[string]map[string]int64)
	for _, c := range counts {
		if index[c.GroupID] == nil {
			index[c.GroupID] = make(map[string]int64)
		}
		index[c.GroupID][c.Status] = c.Total
	}

	cohort := &Cohort{Headers: models.AllVisitStatuses, Rows: make([]CohortRow, 0, len(groups))}
	for _, g := range groups {
		row := CohortRow{Title: g.Name, Counts: make([]int64, len(models.AllVisitStatuses))}
		for i, status := range models.AllVisitStatuses {
			row.Counts[i] = index[g.ID][status]
		}
		cohort.Rows = append(cohort.Rows, row)
	}
	return cohort
}

// CohortByTenant counts visits per status for every tenant
func CohortByTenant(db *gorm.DB) (*Cohort, error) {
	var tenants []struct{ ID, Name string }
	if err := db.Model(&models.Tenant{}).Select("id, name").Order("name ASC").Scan(&tenants).Error; err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	var counts []cohortCount
	err := db.Model(&models.Visit{}).
		Select("locations.tenant_id AS group_id, visits.status AS status, COUNT(*) AS total").
		Joins("JOIN cases ON cases.id = visits.case_id").
		Joins("JOIN locations ON locations.id = cases.location_id").
		Group("locations.tenant_id, visits.status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count visits: %w", err)
	}
	return buildCohort(tenants, counts), nil
}

// CohortByLocation counts visits per status for the locations of a tenant
func CohortByLocation(db *gorm.DB, tenantID string) (*Cohort, error) {
	var locations []struct{ ID, Name string }
	err := db.Model(&models.Location{}).Select("id, name").
		Where("tenant_id = ?", tenantID).Order("name ASC").Scan(&locations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}
	var counts []cohortCount
	err = db.Model(&models.Visit{}).
		Select("cases.location_id AS group_id, visits.status AS status, COUNT(*) AS total").
		Joins("JOIN cases ON cases.id = visits.case_id").
		Joins("JOIN locations ON locations.id = cases.location_id").
		Where("locations.tenant_id = ?", tenantID).
		Group("cases.location_id, visits.status").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count visits: %w", err)
	}
	return buildCohort(locations, counts), nil
}
