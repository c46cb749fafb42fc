package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Visit status values
const (
	VisitStatusCreated             = "created"
	VisitStatusClientSubmitted     = "client_submitted"
	VisitStatusConsultantSubmitted = "consultant_submitted"
	VisitStatusTestsRecorded       = "tests_recorded"
	VisitStatusResultsRecorded     = "results_recorded"
	VisitStatusResultsSent         = "results_sent"
	VisitStatusResultsSeen         = "results_seen"
	VisitStatusResultsMissed       = "results_missed"
	VisitStatusClosed              = "closed"
	VisitStatusCanceled            = "canceled"
)

// AllVisitStatuses lists the statuses in lifecycle order
var AllVisitStatuses = []string{
	VisitStatusCreated,
	VisitStatusClientSubmitted,
	VisitStatusConsultantSubmitted,
	VisitStatusTestsRecorded,
	VisitStatusResultsRecorded,
	VisitStatusResultsSent,
	VisitStatusResultsSeen,
	VisitStatusResultsMissed,
	VisitStatusClosed,
	VisitStatusCanceled,
}

// Case is one client visit at a location; the id is shown to clients as SUF-<id>
type Case struct {
	ID        string    `gorm:"type:varchar(6);primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	LocationID string  `gorm:"type:varchar(36);not null;index" json:"location_id"`
	KeyHash    *string `json:"-"` // bcrypt hash, set once by the client
	ExternalID string  `gorm:"index" json:"external_id"`
	Language   string  `gorm:"not null;default:de" json:"language"`

	Location   *Location   `gorm:"foreignKey:LocationID" json:"location,omitempty"`
	Visit      *Visit      `gorm:"foreignKey:CaseID" json:"visit,omitempty"`
	Connection *Connection `gorm:"foreignKey:CaseID" json:"-"`
}

// HasKey reports whether the client protected the case with a key
func (c *Case) HasKey() bool {
	return c.KeyHash != nil && *c.KeyHash != ""
}

// TableName specifies the table name for Case model
func (Case) TableName() string {
	return "cases"
}

// Visit carries the workflow state of a case
type Visit struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CaseID          string                      `gorm:"type:varchar(6);not null;uniqueIndex" json:"case_id"`
	QuestionnaireID string                      `gorm:"type:varchar(36);not null;index" json:"questionnaire_id"`
	ConsultantID    *string                     `gorm:"type:varchar(36);index" json:"consultant_id"`
	Status          string                      `gorm:"not null;default:created;index" json:"status"`
	Tags            datatypes.JSONSlice[string] `json:"tags"`
	PublishedAt     *time.Time                  `gorm:"index" json:"published_at"`
	ReminderSentAt  *time.Time                  `json:"reminder_sent_at"`
	NoReminder      bool                        `gorm:"not null;default:false" json:"no_reminder"`

	Case          *Case          `gorm:"foreignKey:CaseID" json:"-"`
	Questionnaire *Questionnaire `gorm:"foreignKey:QuestionnaireID" json:"-"`
}

// BeforeCreate hook to generate UUID
func (v *Visit) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = VisitStatusCreated
	}
	return nil
}

// TableName specifies the table name for Visit model
func (Visit) TableName() string {
	return "visits"
}
