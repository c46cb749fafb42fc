package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ClientAnswer is one submission for a client question; later rows supersede earlier ones
type ClientAnswer struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_client_answer_latest,priority:3" json:"created_at"`

	VisitID    string                      `gorm:"type:varchar(36);not null;index:idx_client_answer_latest,priority:1" json:"visit_id"`
	QuestionID string                      `gorm:"type:varchar(36);not null;index:idx_client_answer_latest,priority:2" json:"question_id"`
	Choices    datatypes.JSONSlice[int]    `json:"choices"` // option codes
	Texts      datatypes.JSONSlice[string] `json:"texts"`
	UserID     *string                     `gorm:"type:varchar(36)" json:"user_id"` // nil for anonymous submissions

	Question *ClientQuestion `gorm:"foreignKey:QuestionID" json:"-"`
}

// BeforeCreate hook to generate UUID
func (a *ClientAnswer) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for ClientAnswer model
func (ClientAnswer) TableName() string {
	return "client_answers"
}

type ConsultantAnswer struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_consultant_answer_latest,priority:3" json:"created_at"`

	VisitID    string                      `gorm:"type:varchar(36);not null;index:idx_consultant_answer_latest,priority:1" json:"visit_id"`
	QuestionID string                      `gorm:"type:varchar(36);not null;index:idx_consultant_answer_latest,priority:2" json:"question_id"`
	Choices    datatypes.JSONSlice[int]    `json:"choices"`
	Texts      datatypes.JSONSlice[string] `json:"texts"`
	UserID     *string                     `gorm:"type:varchar(36)" json:"user_id"`

	Question *ConsultantQuestion `gorm:"foreignKey:QuestionID" json:"-"`
}

// BeforeCreate hook to generate UUID
func (a *ConsultantAnswer) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for ConsultantAnswer model
func (ConsultantAnswer) TableName() string {
	return "consultant_answers"
}
