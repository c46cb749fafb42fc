package services

import (
	"errors"
	"fmt"

	"sure_app_go/models"

	"gorm.io/gorm"
)

// VerifyAccessToLocation reports whether user may work with cases at the location
func VerifyAccessToLocation(db *gorm.DB, user *models.User, locationID string) (bool, error) {
	if user == nil {
		return false, nil
	}
	if user.IsSuperuser() {
		return true, nil
	}

	var location models.Location
	if err := db.Select("id", "tenant_id").First(&location, "id = ?", locationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, NotFoundError("location not found")
		}
		return false, fmt.Errorf("failed to load location: %w", err)
	}
	if user.IsTenantAdmin(location.TenantID) {
		return true, nil
	}

	var count int64
	err := db.Table("consultant_locations").
		Joins("JOIN consultants ON consultants.id = consultant_locations.consultant_id").
		Where("consultants.user_id = ? AND consultant_locations.location_id = ?", user.ID, locationID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check consultant locations: %w", err)
	}
	return count > 0, nil
}

// ConsultantLocationIDs returns the locations a consultant is assigned to
func ConsultantLocationIDs(db *gorm.DB, user *models.User) ([]string, error) {
	var ids []string
	err := db.Table("consultant_locations").
		Joins("JOIN consultants ON consultants.id = consultant_locations.consultant_id").
		Where("consultants.user_id = ?", user.ID).
		Pluck("consultant_locations.location_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load consultant locations: %w", err)
	}
	return ids, nil
}

// VisibleLocationIDs returns the locations whose cases user may list.
// all is true for superusers, in which case ids is nil.
func VisibleLocationIDs(db *gorm.DB, user *models.User) (ids []string, all bool, err error) {
	switch {
	case user == nil:
		return nil, false, nil
	case user.IsSuperuser():
		return nil, true, nil
	case user.Role == models.RoleAdmin && user.TenantID != nil:
		err = db.Model(&models.Location{}).Where("tenant_id = ?", *user.TenantID).Pluck("id", &ids).Error
		if err != nil {
			return nil, false, fmt.Errorf("failed to load tenant locations: %w", err)
		}
		return ids, false, nil
	default:
		ids, err = ConsultantLocationIDs(db, user)
		return ids, false, err
	}
}

// LocationCanViewCase reports whether one of the locations may see the case:
// the case belongs to one of them, or its client has another case at one of them
func LocationCanViewCase(db *gorm.DB, locationIDs []string, c *models.Case) (bool, error) {
	if len(locationIDs) == 0 {
		return false, nil
	}
	for _, id := range locationIDs {
		if id == c.LocationID {
			return true, nil
		}
	}

	var connection models.Connection
	err := db.Where("case_id = ?", c.ID).First(&connection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load connection: %w", err)
	}

	var count int64
	err = db.Model(&models.Connection{}).
		Joins("JOIN cases ON cases.id = connections.case_id").
		Where("connections.client_id = ? AND cases.location_id IN ?", connection.ClientID, locationIDs).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check client cases: %w", err)
	}
	return count > 0, nil
}

// loadVisitByHumanID loads the visit of a case with the case and its location
func loadVisitByHumanID(db *gorm.DB, humanID string) (*models.Visit, error) {
	caseID := StripID(humanID)
	if !IsValidID(caseID) {
		return nil, NotFoundError("case not found")
	}

	var visit models.Visit
	err := db.Preload("Case.Location").Where("case_id = ?", caseID).First(&visit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("case not found")
		}
		return nil, fmt.Errorf("failed to load case: %w", err)
	}
	return &visit, nil
}

// GetCaseForUser resolves a case for an authenticated user or fails with a
// permission error; it never returns a partial case
func GetCaseForUser(db *gorm.DB, user *models.User, humanID string) (*models.Visit, error) {
	if user == nil {
		return nil, PermissionError("not-authenticated", "authentication required")
	}

	visit, err := loadVisitByHumanID(db, humanID)
	if err != nil {
		return nil, err
	}

	ids, all, err := VisibleLocationIDs(db, user)
	if err != nil {
		return nil, err
	}
	if all {
		return visit, nil
	}

	ok, err := LocationCanViewCase(db, ids, visit.Case)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, PermissionError("no-access-location", "you do not have access to this case")
	}
	return visit, nil
}

// GetCaseUnverified resolves a case for an anonymous client. Keyed cases need
// the key. Unkeyed cases are open until the first submission, after which
// ErrCaseSubmitted tells the caller to redirect to the submitted page.
func GetCaseUnverified(db *gorm.DB, humanID, key string) (*models.Visit, error) {
	visit, err := loadVisitByHumanID(db, humanID)
	if err != nil {
		return nil, err
	}

	if visit.Case.HasKey() {
		if key == "" {
			return nil, PermissionError("case-key-required", "a key is required to open this case")
		}
		if !CheckCaseKey(visit.Case, key) {
			return nil, PermissionError("invalid-case-key", "the key is not valid for this case")
		}
		return visit, nil
	}

	if visit.Status != models.VisitStatusCreated {
		return nil, CaseSubmittedError(HumanCaseID(visit.CaseID))
	}
	return visit, nil
}
