package models

import (
	"regexp"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProtectedEndpoint describes responses that count as suspicious when repeated,
// e.g. 404s on case URLs from someone guessing ids
type ProtectedEndpoint struct {
	ID            string `gorm:"type:varchar(36);primarykey" json:"id"`
	PathPattern   string `gorm:"not null" json:"path_pattern"` // regular expression on the request path
	Description   string `gorm:"type:text" json:"description"`
	NotifyEmail   string `json:"notify_email"` // receives a message for every new block
	StatusCode    int    `gorm:"not null;default:404" json:"status_code"`
	MaxErrors     int    `gorm:"not null;default:5" json:"max_errors"`
	WindowSeconds int    `gorm:"not null;default:900" json:"window_seconds"`
	BlockSeconds  int    `gorm:"not null" json:"block_seconds"` // 0 blocks permanently
}

// BeforeCreate hook to generate UUID and apply defaults
func (p *ProtectedEndpoint) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.StatusCode == 0 {
		p.StatusCode = 404
	}
	if p.MaxErrors == 0 {
		p.MaxErrors = 5
	}
	if p.WindowSeconds == 0 {
		p.WindowSeconds = 900
	}
	return nil
}

// Matches reports whether a response on path with status counts as a hit.
// The pattern is anchored at the start of the path.
func (p *ProtectedEndpoint) Matches(path string, status int) bool {
	if p.StatusCode != status || p.PathPattern == "" {
		return false
	}
	re, err := regexp.Compile(p.PathPattern)
	if err != nil {
		return false
	}
	loc := re.FindStringIndex(path)
	return loc != nil && loc[0] == 0
}

// TableName specifies the table name for ProtectedEndpoint model
func (ProtectedEndpoint) TableName() string {
	return "protected_endpoints"
}

// BlockedEndpointHit is one suspicious response served to an identifier
type BlockedEndpointHit struct {
	ID         string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt  time.Time `gorm:"index:idx_guard_hit,priority:3" json:"created_at"`
	EndpointID string    `gorm:"type:varchar(36);not null;index:idx_guard_hit,priority:1" json:"endpoint_id"`
	Identifier string    `gorm:"not null;index:idx_guard_hit,priority:2" json:"identifier"`
	Path       string    `json:"path"`
}

// BeforeCreate hook to generate UUID
func (h *BlockedEndpointHit) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for BlockedEndpointHit model
func (BlockedEndpointHit) TableName() string {
	return "blocked_endpoint_hits"
}

// BlockedIdentifier is a user or IP that is currently refused
type BlockedIdentifier struct {
	ID           string     `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt    time.Time  `json:"created_at"`
	Identifier   string     `gorm:"not null;uniqueIndex" json:"identifier"`
	BlockedUntil *time.Time `json:"blocked_until"` // nil blocks permanently
	Reason       string     `json:"reason"`
}

// BeforeCreate hook to generate UUID
func (b *BlockedIdentifier) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// IsActive reports whether the block still applies
func (b *BlockedIdentifier) IsActive(now time.Time) bool {
	return b.BlockedUntil == nil || b.BlockedUntil.After(now)
}

// TableName specifies the table name for BlockedIdentifier model
func (BlockedIdentifier) TableName() string {
	return "blocked_identifiers"
}
