package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"sure_app_go/config"
	"sure_app_go/logger"
	"sure_app_go/models"
	"sure_app_go/services/i18n"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	// MinCaseKeyLength is the shortest key a client may protect a case with
	MinCaseKeyLength = 4

	maxIDAttempts = 10
)

// CreateCaseInput holds the data needed to open a case
type CreateCaseInput struct {
	LocationID      string `json:"location_id"`
	QuestionnaireID string `json:"questionnaire_id"`
	ExternalID      string `json:"external_id"`
	Language        string `json:"language"`
	Phone           string `json:"phone"`
}

// CreateCaseResult is returned after a case was created
type CreateCaseResult struct {
	Case     *models.Case  `json:"case"`
	Visit    *models.Visit `json:"visit"`
	Link     string        `json:"link"`
	LinkSent bool          `json:"link_sent"`
	Warnings []string      `json:"warnings,omitempty"`
}

// CaseLink is the address a client opens to answer the questionnaire
func CaseLink(cfg *config.Config, c *models.Case) string {
	return strings.TrimRight(cfg.AppURL, "/") + "?case=" + url.QueryEscape(HumanCaseID(c.ID))
}

// ResultsLink is the address a client opens to see published results
func ResultsLink(cfg *config.Config, c *models.Case) string {
	return strings.TrimRight(cfg.AppURL, "/") + "/results?case=" + url.QueryEscape(HumanCaseID(c.ID))
}

// CreateCase opens a case with its visit at a location the actor works at.
// When a phone number is given the case link is texted after the commit; a
// failed SMS leaves the case in place and is reported as a warning.
func CreateCase(ctx context.Context, db *gorm.DB, cfg *config.Config, sender SMSSender, actor *models.User, in CreateCaseInput) (*CreateCaseResult, error) {
	if in.LocationID == "" {
		return nil, ValidationError("location-required", "location is required")
	}
	if in.QuestionnaireID == "" {
		return nil, ValidationError("questionnaire-required", "questionnaire is required")
	}

	ok, err := VerifyAccessToLocation(db, actor, in.LocationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, PermissionError("no-access-location", "%s", i18n.Translate(in.Language, "error.no_access_location"))
	}

	var questionnaire models.Questionnaire
	if err := db.Select("id").First(&questionnaire, "id = ?", in.QuestionnaireID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ValidationError("questionnaire-required", "questionnaire not found")
		}
		return nil, fmt.Errorf("failed to load questionnaire: %w", err)
	}

	phone := ""
	if strings.TrimSpace(in.Phone) != "" {
		phone, err = CanonicalizePhoneNumber(in.Phone, cfg.DefaultRegion)
		if err != nil {
			return nil, err
		}
	}

	c := &models.Case{
		LocationID: in.LocationID,
		ExternalID: strings.TrimSpace(in.ExternalID),
		Language:   i18n.Normalize(in.Language),
	}
	visit := &models.Visit{
		QuestionnaireID: in.QuestionnaireID,
		Status:          models.VisitStatusCreated,
	}
	if actor != nil {
		visit.ConsultantID = &actor.ID
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		id, err := uniqueCaseID(tx)
		if err != nil {
			return err
		}
		c.ID = id
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("failed to create case: %w", err)
		}
		visit.CaseID = c.ID
		if err := tx.Create(visit).Error; err != nil {
			return fmt.Errorf("failed to create visit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &CreateCaseResult{Case: c, Visit: visit, Link: CaseLink(cfg, c)}
	logger.Log.Info().Str("component", "case").Str("case", HumanCaseID(c.ID)).
		Str("location", c.LocationID).Msg("Case created")

	if phone != "" {
		if err := SendCaseLink(ctx, db, cfg, sender, c, phone); err != nil {
			logger.Log.Warn().Err(err).Str("component", "case").Str("case", HumanCaseID(c.ID)).
				Msg("Case link SMS not sent")
			result.Warnings = append(result.Warnings, i18n.Translate(c.Language, "error.link_not_sent"))
		} else {
			result.LinkSent = true
		}
	}
	return result, nil
}

// uniqueCaseID draws ids until one is free
func uniqueCaseID(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := GenerateCaseID()
		if err != nil {
			return "", err
		}
		var count int64
		if err := tx.Model(&models.Case{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return "", fmt.Errorf("failed to check case id: %w", err)
		}
		if count == 0 {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique case id after %d attempts", maxIDAttempts)
}

// SetCaseKey protects a case with a client chosen key. It can only be set once.
func SetCaseKey(db *gorm.DB, caseID, key string) error {
	if len([]rune(key)) < MinCaseKeyLength {
		return ValidationError("case-key-too-short", "the key must have at least %d characters", MinCaseKeyLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), BcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash case key: %w", err)
	}

	res := db.Model(&models.Case{}).
		Where("id = ? AND (key_hash IS NULL OR key_hash = '')", caseID).
		Update("key_hash", string(hash))
	if res.Error != nil {
		return fmt.Errorf("failed to set case key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := db.Model(&models.Case{}).Where("id = ?", caseID).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to load case: %w", err)
		}
		if count == 0 {
			return NotFoundError("case not found")
		}
		return ValidationError("case-key-set", "a key was already set for this case")
	}
	return nil
}

// CheckCaseKey compares key against the stored hash in constant time
func CheckCaseKey(c *models.Case, key string) bool {
	if c == nil || !c.HasKey() || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(*c.KeyHash), []byte(key)) == nil
}
