package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is a staff login. The cookie value itself is never stored, only
// its SHA-256 digest.
type Session struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID     string    `gorm:"type:varchar(36);not null;index" json:"user_id"`
	TokenHash  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"-"`
	ExpiresAt  time.Time `gorm:"not null;index" json:"expires_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
	IPAddress  string    `gorm:"type:varchar(45)" json:"ip_address"`
	UserAgent  string    `gorm:"type:varchar(512)" json:"user_agent"`

	// Token is the raw cookie value; only known right after creation
	Token string `gorm:"-" json:"-"`

	User User `gorm:"foreignKey:UserID" json:"-"`
}

// HashSessionToken returns the stored form of a session cookie value
func HashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BeforeCreate fills the id and derives the token hash
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.TokenHash == "" && s.Token != "" {
		s.TokenHash = HashSessionToken(s.Token)
	}
	if s.LastSeenAt.IsZero() {
		s.LastSeenAt = time.Now()
	}
	return nil
}

// TableName specifies the table name for Session model
func (Session) TableName() string {
	return "sessions"
}

// ExpiredAt reports whether the session is no longer valid at t
func (s *Session) ExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}
