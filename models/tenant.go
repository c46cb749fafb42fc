package models

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tenant is an organisation running one or more testing locations
type Tenant struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name string `gorm:"not null;uniqueIndex" json:"name"`
	Slug string `gorm:"uniqueIndex;not null" json:"slug"`

	Locations []Location `gorm:"foreignKey:TenantID" json:"locations,omitempty"`
}

// BeforeCreate hook to generate UUID and slug
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Slug == "" {
		t.Slug = generateSlug(tx, t.Name)
	}
	return nil
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9-]+`)
	slugHyphens = regexp.MustCompile(`-+`)
)

// generateSlug derives a unique URL-friendly slug from the tenant name
func generateSlug(tx *gorm.DB, name string) string {
	slug := strings.ReplaceAll(strings.ToLower(name), " ", "-")
	slug = slugInvalid.ReplaceAllString(slug, "")
	slug = strings.Trim(slugHyphens.ReplaceAllString(slug, "-"), "-")
	if len(slug) > 50 {
		slug = strings.TrimRight(slug[:50], "-")
	}
	if slug == "" {
		slug = "tenant"
	}

	base := slug
	for n := 1; ; n++ {
		var count int64
		tx.Model(&Tenant{}).Where("slug = ?", slug).Count(&count)
		if count == 0 {
			return slug
		}
		slug = base + "-" + strconv.Itoa(n)
	}
}

// TableName specifies the table name for Tenant model
func (Tenant) TableName() string {
	return "tenants"
}

// Location is a single testing/counseling center
type Location struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TenantID     string `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	Name         string `gorm:"not null" json:"name"`
	Address      string `json:"address"`
	ReminderText string `gorm:"type:text" json:"reminder_text"`

	// Client question ids toggled for this location
	ExcludedQuestions datatypes.JSONSlice[string] `json:"excluded_questions"`
	IncludedQuestions datatypes.JSONSlice[string] `json:"included_questions"`

	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
}

// BeforeCreate hook to generate UUID
func (l *Location) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// Excludes reports whether an optional question is switched off here
func (l *Location) Excludes(questionID string) bool {
	for _, id := range l.ExcludedQuestions {
		if id == questionID {
			return true
		}
	}
	return false
}

// Includes reports whether an extra question is switched on here
func (l *Location) Includes(questionID string) bool {
	for _, id := range l.IncludedQuestions {
		if id == questionID {
			return true
		}
	}
	return false
}

// TableName specifies the table name for Location model
func (Location) TableName() string {
	return "locations"
}

// Consultant links a user to the locations they work at
type Consultant struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID   string `gorm:"type:varchar(36);not null;uniqueIndex" json:"user_id"`
	TenantID string `gorm:"type:varchar(36);not null;index" json:"tenant_id"`

	User      *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Locations []Location `gorm:"many2many:consultant_locations" json:"locations,omitempty"`
}

// BeforeCreate hook to generate UUID
func (c *Consultant) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for Consultant model
func (Consultant) TableName() string {
	return "consultants"
}

// Tag is a label consultants can attach to visits
type Tag struct {
	ID   string `gorm:"type:varchar(36);primarykey" json:"id"`
	Name string `gorm:"not null;uniqueIndex" json:"name"`
	Note string `json:"note"`

	AvailableIn []Location `gorm:"many2many:tag_locations" json:"available_in,omitempty"`
}

// BeforeCreate hook to generate UUID
func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for Tag model
func (Tag) TableName() string {
	return "tags"
}

// Banner severities
const (
	BannerSeverityInfo    = "info"
	BannerSeverityWarning = "warning"
	BannerSeverityError   = "error"
)

// InformationBanner is a notice shown on the client pages of some locations
type InformationBanner struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	Name        string     `gorm:"not null" json:"name"`
	Content     string     `gorm:"type:text" json:"content"`
	Severity    string     `gorm:"not null;default:info" json:"severity"`
	PublishedAt *time.Time `gorm:"index" json:"published_at"`
	ExpiresAt   *time.Time `json:"expires_at"`

	Locations []Location `gorm:"many2many:banner_locations" json:"-"`
}

// BeforeCreate hook to generate UUID
func (b *InformationBanner) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// IsActive reports whether the banner is published and not yet expired
func (b *InformationBanner) IsActive(now time.Time) bool {
	if b.PublishedAt == nil || b.PublishedAt.After(now) {
		return false
	}
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

// TableName specifies the table name for InformationBanner model
func (InformationBanner) TableName() string {
	return "information_banners"
}
