package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Consent values for a connection
const (
	ConsentAllowed = "allowed"
	ConsentDenied  = "denied"
)

// Contact is a verified way of reaching a client
type Contact struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	PhoneNumber string `gorm:"not null;uniqueIndex" json:"phone_number"` // E.164
	Email       string `json:"email"`
	Active      bool   `gorm:"not null;default:true" json:"active"`
}

// BeforeCreate hook to generate UUID
func (c *Contact) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for Contact model
func (Contact) TableName() string {
	return "contacts"
}

// Client groups the cases of one person; shown as SUC-<id>
type Client struct {
	ID        string    `gorm:"type:varchar(6);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	ContactID string `gorm:"type:varchar(36);not null;uniqueIndex" json:"contact_id"`

	Contact     *Contact     `gorm:"foreignKey:ContactID" json:"-"`
	Connections []Connection `gorm:"foreignKey:ClientID" json:"-"`
}

// TableName specifies the table name for Client model
func (Client) TableName() string {
	return "clients"
}

// Connection links a case to a client; a case has at most one
type Connection struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	CaseID   string `gorm:"type:varchar(6);not null;uniqueIndex" json:"case_id"`
	ClientID string `gorm:"type:varchar(6);not null;index" json:"client_id"`
	Consent  string `gorm:"not null" json:"consent"`

	Case   *Case   `gorm:"foreignKey:CaseID" json:"-"`
	Client *Client `gorm:"foreignKey:ClientID" json:"-"`
}

// BeforeCreate hook to generate UUID
func (c *Connection) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for Connection model
func (Connection) TableName() string {
	return "connections"
}

// Token is a one-time SMS verification code bound to a contact and a case
type Token struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	ContactID string     `gorm:"type:varchar(36);not null;index" json:"contact_id"`
	CaseID    string     `gorm:"type:varchar(6);not null;index" json:"case_id"`
	Code      string     `gorm:"type:varchar(6);not null" json:"-"`
	Disabled  bool       `gorm:"not null;default:false" json:"disabled"`
	UsedAt    *time.Time `json:"used_at"`
}

// BeforeCreate hook to generate UUID
func (t *Token) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// IsUsable reports whether the token can still verify a phone number
func (t *Token) IsUsable(now time.Time, ttl time.Duration) bool {
	return !t.Disabled && t.UsedAt == nil && now.Sub(t.CreatedAt) <= ttl
}

// TableName specifies the table name for Token model
func (Token) TableName() string {
	return "tokens"
}
