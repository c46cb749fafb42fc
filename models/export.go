package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Export status values
const (
	ExportPending = "pending"
	ExportRunning = "running"
	ExportDone    = "done"
	ExportFailed  = "failed"
)

// VisitExport tracks a background CSV export of visits
type VisitExport struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	UserID     string     `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Status     string     `gorm:"not null;default:pending" json:"status"`
	Progress   int        `gorm:"not null;default:0" json:"progress"`
	Total      int        `gorm:"not null;default:0" json:"total"`
	FileKey    string     `json:"file_key,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	FinishedAt *time.Time `json:"finished_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

// BeforeCreate hook to generate UUID
func (e *VisitExport) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = ExportPending
	}
	return nil
}

// TableName specifies the table name for VisitExport model
func (VisitExport) TableName() string {
	return "visit_exports"
}
