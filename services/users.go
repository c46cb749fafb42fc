package services

import (
	"fmt"
	"strings"

	"sure_app_go/logger"
	"sure_app_go/models"

	"github.com/samber/lo"
	"gorm.io/gorm"
)

// StaffUserInput describes a staff account to create
type StaffUserInput struct {
	Name     string
	Email    string
	Password string
	Role     string
	TenantID string
	// LocationIDs are the locations a consultant works at
	LocationIDs []string
}

// CreateStaffUser creates a superuser, tenant admin or consultant. Consultants
// get a consultant record linked to locations of their tenant.
func CreateStaffUser(db *gorm.DB, input StaffUserInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	name := strings.TrimSpace(input.Name)
	if email == "" || name == "" {
		return nil, ValidationError("user-required", "name and email are required")
	}
	if !lo.Contains([]string{models.RoleSuperuser, models.RoleAdmin, models.RoleConsultant}, input.Role) {
		return nil, ValidationError("invalid-role", "unknown role %q", input.Role)
	}
	if err := ValidatePassword(input.Password); err != nil {
		return nil, err
	}

	var count int64
	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if count > 0 {
		return nil, ValidationError("email-taken", "a user with email %s already exists", email)
	}

	var tenantID *string
	if input.Role != models.RoleSuperuser {
		if input.TenantID == "" {
			return nil, ValidationError("tenant-required", "%s accounts need a tenant", input.Role)
		}
		if err := db.Model(&models.Tenant{}).Where("id = ?", input.TenantID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to load tenant: %w", err)
		}
		if count == 0 {
			return nil, NotFoundError("tenant not found")
		}
		tenantID = &input.TenantID
	}

	var locations []models.Location
	if input.Role == models.RoleConsultant {
		ids := lo.Uniq(input.LocationIDs)
		if len(ids) == 0 {
			return nil, ValidationError("location-required", "consultants need at least one location")
		}
		if err := db.Where("id IN ? AND tenant_id = ?", ids, input.TenantID).Find(&locations).Error; err != nil {
			return nil, fmt.Errorf("failed to load locations: %w", err)
		}
		if len(locations) != len(ids) {
			return nil, ValidationError("invalid-location", "every location must belong to the tenant")
		}
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Name:     name,
		Email:    email,
		Password: hash,
		Role:     input.Role,
		TenantID: tenantID,
		IsActive: true,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		if input.Role != models.RoleConsultant {
			return nil
		}
		consultant := models.Consultant{UserID: user.ID, TenantID: input.TenantID, Locations: locations}
		if err := tx.Omit("Locations.*").Create(&consultant).Error; err != nil {
			return fmt.Errorf("failed to create consultant: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Component("users").Info().Str("email", email).Str("role", input.Role).Msg("Staff user created")
	return user, nil
}
