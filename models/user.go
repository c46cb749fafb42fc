package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User roles
const (
	RoleSuperuser  = "superuser"
	RoleAdmin      = "admin" // tenant administrator
	RoleConsultant = "consultant"
)

type User struct {
	ID        string         `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name        string     `gorm:"not null" json:"name"`
	Email       string     `gorm:"uniqueIndex;not null" json:"email"`
	Password    string     `gorm:"not null" json:"-"`
	Role        string     `gorm:"not null;default:consultant" json:"role"`
	TenantID    *string    `gorm:"type:varchar(36);index" json:"tenant_id"` // Nullable for superusers
	IsActive    bool       `gorm:"not null;default:true" json:"is_active"`
	LastLoginAt *time.Time `json:"last_login_at"`

	// Lockout after repeated failed logins
	FailedLoginAttempts int        `gorm:"not null;default:0" json:"-"`
	LockoutUntil        *time.Time `json:"-"`

	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
}

// BeforeCreate hook to generate UUID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	return nil
}

// IsSuperuser reports whether the user may see every tenant
func (u *User) IsSuperuser() bool {
	return u.Role == RoleSuperuser
}

// IsTenantAdmin reports whether the user administers the given tenant
func (u *User) IsTenantAdmin(tenantID string) bool {
	return u.Role == RoleAdmin && u.TenantID != nil && *u.TenantID == tenantID
}

// IsLockedOut reports whether logins are currently refused for the user
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutUntil != nil && u.LockoutUntil.After(now)
}

// TableName specifies the table name for User model
func (User) TableName() string {
	return "users"
}
