package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"sure_app_go/config"
	"sure_app_go/logger"
	"sure_app_go/models"
	"sure_app_go/services/i18n"

	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var notePolicy = bluemonday.UGCPolicy()

// LatestResult is the current outcome of one test of a visit.
// Result and Option are nil when nothing was recorded yet.
type LatestResult struct {
	Test     models.Test              `json:"test"`
	TestKind models.TestKind          `json:"test_kind"`
	Result   *models.TestResult       `json:"result,omitempty"`
	Option   *models.TestResultOption `json:"option,omitempty"`
}

// LatestResults returns every test of the visit with its latest result
func LatestResults(db *gorm.DB, visitID string) ([]LatestResult, error) {
	var tests []models.Test
	if err := db.Preload("TestKind").Where("visit_id = ?", visitID).Order("created_at ASC").Find(&tests).Error; err != nil {
		return nil, fmt.Errorf("failed to load tests: %w", err)
	}
	if len(tests) == 0 {
		return nil, nil
	}

	testIDs := lo.Map(tests, func(t models.Test, _ int) string { return t.ID })
	var results []models.TestResult
	err := db.Preload("ResultOption").
		Where("test_id IN ?", testIDs).
		Where("created_at = (SELECT MAX(r2.created_at) FROM test_results r2 WHERE r2.test_id = test_results.test_id)").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load test results: %w", err)
	}
	byTest := lo.KeyBy(results, func(r models.TestResult) string { return r.TestID })

	latest := make([]LatestResult, 0, len(tests))
	for _, t := range tests {
		entry := LatestResult{Test: t}
		if t.TestKind != nil {
			entry.TestKind = *t.TestKind
		}
		if r, ok := byTest[t.ID]; ok {
			r := r
			entry.Result = &r
			entry.Option = r.ResultOption
		}
		latest = append(latest, entry)
	}
	return latest, nil
}

// IsClientSafe reports whether a result may be shown to the client: its
// option is marked for SMS information, or the kind is a rapid test.
// Tests without a result carry nothing to hide.
func IsClientSafe(r LatestResult) bool {
	if r.TestKind.Rapid || r.Result == nil {
		return true
	}
	return r.Option != nil && r.Option.InformationBySMS
}

// SetTests adds the given test kinds to the visit; bundle ids expand to their kinds.
// Tests already present are kept.
func SetTests(db *gorm.DB, visit *models.Visit, ids []string, actor *models.User) ([]models.Test, error) {
	if len(ids) == 0 {
		return nil, ValidationError("tests-required", "select at least one test")
	}

	var bundles []models.TestBundle
	if err := db.Preload("TestKinds").Where("id IN ?", ids).Find(&bundles).Error; err != nil {
		return nil, fmt.Errorf("failed to load test bundles: %w", err)
	}
	kindIDs := make([]string, 0, len(ids))
	bundleIDs := map[string]bool{}
	for _, b := range bundles {
		bundleIDs[b.ID] = true
		for _, k := range b.TestKinds {
			kindIDs = append(kindIDs, k.ID)
		}
	}
	for _, id := range ids {
		if !bundleIDs[id] {
			kindIDs = append(kindIDs, id)
		}
	}
	kindIDs = lo.Uniq(kindIDs)

	var known int64
	if err := db.Model(&models.TestKind{}).Where("id IN ?", kindIDs).Count(&known).Error; err != nil {
		return nil, fmt.Errorf("failed to check test kinds: %w", err)
	}
	if int(known) != len(kindIDs) {
		return nil, ValidationError("unknown-test-kind", "unknown test kind")
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := Transition(tx, visit, EventRecordTests, actor); err != nil {
			return err
		}
		for _, kindID := range kindIDs {
			test := &models.Test{VisitID: visit.ID, TestKindID: kindID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(test).Error; err != nil {
				return fmt.Errorf("failed to add test: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var tests []models.Test
	if err := db.Preload("TestKind").Where("visit_id = ?", visit.ID).Order("created_at ASC").Find(&tests).Error; err != nil {
		return nil, fmt.Errorf("failed to load tests: %w", err)
	}
	return tests, nil
}

// RecordTestResult appends a result for one test kind of the visit
func RecordTestResult(db *gorm.DB, visit *models.Visit, testKindID, resultOptionID, note string, actor *models.User) (*models.TestResult, error) {
	var test models.Test
	err := db.Where("visit_id = ? AND test_kind_id = ?", visit.ID, testKindID).First(&test).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ValidationError("test-not-ordered", "this test was not ordered for the case")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load test: %w", err)
	}

	var option models.TestResultOption
	err = db.Where("id = ? AND test_kind_id = ?", resultOptionID, testKindID).First(&option).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ValidationError("invalid-result-option", "the result option does not belong to this test")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load result option: %w", err)
	}

	result := &models.TestResult{
		TestID:         test.ID,
		ResultOptionID: option.ID,
		Note:           strings.TrimSpace(note),
	}
	if actor != nil {
		result.UserID = &actor.ID
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := Transition(tx, visit, EventRecordResults, actor); err != nil {
			return err
		}
		if err := tx.Create(result).Error; err != nil {
			return fmt.Errorf("failed to record result: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.ResultOption = &option
	return result, nil
}

// PublishResult reports a publication and whether the client was notified
type PublishResult struct {
	Status   string   `json:"status"`
	SMSSent  bool     `json:"sms_sent"`
	Warnings []string `json:"warnings,omitempty"`
}

// PublishCaseResults makes the results visible to the client. It fails
// without changing the status while any latest result is not client safe.
func PublishCaseResults(ctx context.Context, db *gorm.DB, cfg *config.Config, sender SMSSender, visit *models.Visit, actor *models.User) (*PublishResult, error) {
	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := Transition(tx, visit, EventPublish, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	c := visit.Case
	if c == nil {
		c = &models.Case{}
		if err := db.First(c, "id = ?", visit.CaseID).Error; err != nil {
			return nil, fmt.Errorf("failed to load case: %w", err)
		}
	}

	out := &PublishResult{Status: visit.Status}
	sent, err := SendResultsLink(ctx, db, cfg, sender, c)
	if err != nil {
		logger.Log.Warn().Err(err).Str("component", "results").Str("case", HumanCaseID(c.ID)).
			Msg("Results link SMS not sent")
		out.Warnings = append(out.Warnings, i18n.Translate(c.Language, "error.results_not_sent"))
	}
	out.SMSSent = sent
	return out, nil
}

// ClientResultsView is what a client sees of a visit's results
type ClientResultsView struct {
	Status    string                 `json:"status"`
	Results   []LatestResult         `json:"results"`
	Notes     []models.VisitNote     `json:"notes"`
	Documents []models.VisitDocument `json:"documents"`
}

// ClientResults returns the published results of a visit. Anonymous callers
// never get results that are not client safe. The first view marks the
// results as seen.
func ClientResults(db *gorm.DB, visit *models.Visit, anonymous bool) (*ClientResultsView, error) {
	if visit.Status != models.VisitStatusResultsSent && visit.Status != models.VisitStatusResultsSeen {
		return nil, ValidationError("results-not-available", "results are not available for this case")
	}

	results, err := LatestResults(db, visit.ID)
	if err != nil {
		return nil, err
	}
	results = lo.Filter(results, func(r LatestResult, _ int) bool {
		if r.Result == nil {
			return false
		}
		return !anonymous || IsClientSafe(r)
	})

	var notes []models.VisitNote
	if err := db.Where("visit_id = ? AND hidden = ?", visit.ID, false).Order("created_at ASC").Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}
	var docs []models.VisitDocument
	if err := db.Where("visit_id = ? AND hidden = ?", visit.ID, false).Order("created_at ASC").Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := Transition(tx, visit, EventClientView, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &ClientResultsView{Status: visit.Status, Results: results, Notes: notes, Documents: docs}, nil
}

// AddVisitNote stores a sanitized note on the visit
func AddVisitNote(db *gorm.DB, visit *models.Visit, note string, hidden bool, actor *models.User) (*models.VisitNote, error) {
	clean := strings.TrimSpace(notePolicy.Sanitize(note))
	if clean == "" {
		return nil, ValidationError("note-required", "note must not be empty")
	}
	entry := &models.VisitNote{VisitID: visit.ID, Note: clean, Hidden: hidden}
	if actor != nil {
		entry.UserID = &actor.ID
	}
	if err := db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to add note: %w", err)
	}
	return entry, nil
}

// AddVisitDocument uploads a file for the visit and records it
func AddVisitDocument(ctx context.Context, db *gorm.DB, storage StorageProvider, visit *models.Visit, name, contentType string, size int64, body io.Reader, hidden bool) (*models.VisitDocument, error) {
	if storage == nil {
		return nil, ExternalError("storage-unavailable", errors.New("no storage provider configured"))
	}
	if strings.TrimSpace(name) == "" {
		return nil, ValidationError("document-name-required", "document name is required")
	}
	if contentType != "" && !IsAllowedDocumentType(contentType) {
		return nil, ValidationError("document-type", "file type %s is not allowed", contentType)
	}

	key := GenerateVisitDocumentKey(visit.ID, name)
	res, err := storage.UploadReader(ctx, body, key, contentType, size)
	if err != nil {
		return nil, ExternalError("upload-failed", err)
	}

	doc := &models.VisitDocument{
		VisitID:     visit.ID,
		Name:        name,
		FileKey:     res.Key,
		ContentType: contentType,
		Size:        res.FileSize,
		Hidden:      hidden,
	}
	if err := db.Create(doc).Error; err != nil {
		if delErr := storage.Delete(ctx, res.Key); delErr != nil {
			logger.Log.Error().Err(delErr).Str("component", "storage").Str("key", res.Key).Msg("Failed to remove orphaned upload")
		}
		return nil, fmt.Errorf("failed to record document: %w", err)
	}
	return doc, nil
}

// SetVisitTags replaces the tags of a visit. Every tag must exist and be
// available at the case's location.
func SetVisitTags(db *gorm.DB, visit *models.Visit, names []string) ([]string, error) {
	names = lo.Uniq(lo.Compact(lo.Map(names, func(n string, _ int) string { return strings.TrimSpace(n) })))
	if names == nil {
		names = []string{}
	}

	locationID := ""
	if visit.Case != nil {
		locationID = visit.Case.LocationID
	} else {
		var c models.Case
		if err := db.Select("location_id").First(&c, "id = ?", visit.CaseID).Error; err != nil {
			return nil, fmt.Errorf("failed to load case: %w", err)
		}
		locationID = c.LocationID
	}

	if len(names) > 0 {
		var available []string
		err := db.Model(&models.Tag{}).
			Joins("JOIN tag_locations ON tag_locations.tag_id = tags.id").
			Where("tags.name IN ? AND tag_locations.location_id = ?", names, locationID).
			Pluck("tags.name", &available).Error
		if err != nil {
			return nil, fmt.Errorf("failed to load tags: %w", err)
		}
		if missing, _ := lo.Difference(names, available); len(missing) > 0 {
			return nil, ValidationError("unknown-tag", "tag %s is not available at this location", missing[0])
		}
	}

	if err := db.Model(visit).Updates(map[string]interface{}{
		"tags":       datatypes.JSONSlice[string](names),
		"updated_at": time.Now(),
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to set tags: %w", err)
	}
	visit.Tags = names
	return names, nil
}
