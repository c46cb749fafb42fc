package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VisitNote is a free-text note written by a consultant
type VisitNote struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	VisitID string  `gorm:"type:varchar(36);not null;index" json:"visit_id"`
	Note    string  `gorm:"type:text;not null" json:"note"`
	Hidden  bool    `gorm:"not null;default:false" json:"hidden"` // hidden notes are never shown to clients
	UserID  *string `gorm:"type:varchar(36)" json:"user_id"`
}

// BeforeCreate hook to generate UUID
func (n *VisitNote) BeforeCreate(tx *gorm.DB) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for VisitNote model
func (VisitNote) TableName() string {
	return "visit_notes"
}

type VisitDocument struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	VisitID     string `gorm:"type:varchar(36);not null;index" json:"visit_id"`
	Name        string `gorm:"not null" json:"name"`
	FileKey     string `gorm:"not null" json:"-"` // storage key
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Hidden      bool   `gorm:"not null;default:false" json:"hidden"`
}

// BeforeCreate hook to generate UUID
func (d *VisitDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for VisitDocument model
func (VisitDocument) TableName() string {
	return "visit_documents"
}

// ErrVisitLogImmutable is returned when a status log row is changed
var ErrVisitLogImmutable = errors.New("visit logs are append only")

// VisitLog records one status change of a visit
type VisitLog struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	VisitID    string  `gorm:"type:varchar(36);not null;index" json:"visit_id"`
	FromStatus string  `gorm:"not null" json:"from_status"`
	ToStatus   string  `gorm:"not null" json:"to_status"`
	Event      string  `gorm:"not null" json:"event"`
	UserID     *string `gorm:"type:varchar(36)" json:"user_id"`
}

// BeforeCreate hook to generate UUID
func (l *VisitLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// BeforeUpdate rejects changes to status history
func (l *VisitLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrVisitLogImmutable
}

// BeforeDelete rejects removal of status history
func (l *VisitLog) BeforeDelete(tx *gorm.DB) error {
	return ErrVisitLogImmutable
}

// TableName specifies the table name for VisitLog model
func (VisitLog) TableName() string {
	return "visit_logs"
}
