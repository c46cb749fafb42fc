package services

import (
	"fmt"
	"time"

	"sure_app_go/models"

	"gorm.io/gorm"
)

// TestCatalog lists the test kinds with their result options and the bundles
type TestCatalog struct {
	Kinds   []models.TestKind   `json:"kinds"`
	Bundles []models.TestBundle `json:"bundles"`
}

// ListQuestionnaires returns all questionnaires by name
func ListQuestionnaires(db *gorm.DB) ([]models.Questionnaire, error) {
	var questionnaires []models.Questionnaire
	if err := db.Order("name ASC").Find(&questionnaires).Error; err != nil {
		return nil, fmt.Errorf("failed to load questionnaires: %w", err)
	}
	return questionnaires, nil
}

// ListLocations returns the locations user works at
func ListLocations(db *gorm.DB, user *models.User) ([]models.Location, error) {
	ids, all, err := VisibleLocationIDs(db, user)
	if err != nil {
		return nil, err
	}
	locations := []models.Location{}
	if !all && len(ids) == 0 {
		return locations, nil
	}

	q := db.Preload("Tenant").Order("name ASC")
	if !all {
		q = q.Where("id IN ?", ids)
	}
	if err := q.Find(&locations).Error; err != nil {
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}
	return locations, nil
}

// ListTags returns the tags available at one of user's locations, each with
// the locations it may be used at
func ListTags(db *gorm.DB, user *models.User) ([]models.Tag, error) {
	ids, all, err := VisibleLocationIDs(db, user)
	if err != nil {
		return nil, err
	}
	tags := []models.Tag{}
	if !all && len(ids) == 0 {
		return tags, nil
	}

	q := db.Preload("AvailableIn").Order("tags.name ASC")
	if !all {
		q = q.Where("tags.id IN (?)",
			db.Table("tag_locations").Select("tag_id").Where("location_id IN ?", ids))
	}
	if err := q.Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	return tags, nil
}

// ListTestKinds returns the test catalog ordered by kind number
func ListTestKinds(db *gorm.DB) (*TestCatalog, error) {
	catalog := &TestCatalog{Kinds: []models.TestKind{}, Bundles: []models.TestBundle{}}
	err := db.Preload("ResultOptions").Order("number ASC").Find(&catalog.Kinds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load test kinds: %w", err)
	}
	err = db.Preload("TestKinds", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("number ASC")
	}).Order("name ASC").Find(&catalog.Bundles).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load test bundles: %w", err)
	}
	return catalog, nil
}

// ActiveBanners returns the published, unexpired banners of a location,
// newest first
func ActiveBanners(db *gorm.DB, locationID string, now time.Time) ([]models.InformationBanner, error) {
	var count int64
	if err := db.Model(&models.Location{}).Where("id = ?", locationID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	if count == 0 {
		return nil, NotFoundError("location not found")
	}

	banners := []models.InformationBanner{}
	err := db.Joins("JOIN banner_locations ON banner_locations.information_banner_id = information_banners.id").
		Where("banner_locations.location_id = ?", locationID).
		Where("information_banners.published_at IS NOT NULL AND information_banners.published_at <= ?", now).
		Where("information_banners.expires_at IS NULL OR information_banners.expires_at > ?", now).
		Order("information_banners.published_at DESC").
		Find(&banners).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load banners: %w", err)
	}
	return banners, nil
}
