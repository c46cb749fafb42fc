package models

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Question formats
const (
	FormatSingleChoice            = "single choice"
	FormatSingleChoiceText        = "single choice + open text field"
	FormatMultipleChoice          = "multiple choice"
	FormatMultipleChoiceText      = "multiple choice + open text field"
	FormatMultipleChoiceMultiText = "multiple choice + multiple open text field"
	FormatOpenText                = "open text field"
)

// Questionnaire groups the client sections and consultant questions used for a visit
type Questionnaire struct {
	ID   string `gorm:"type:varchar(36);primarykey" json:"id"`
	Name string `gorm:"not null;uniqueIndex" json:"name"`

	Sections            []Section            `gorm:"foreignKey:QuestionnaireID" json:"sections,omitempty"`
	ConsultantQuestions []ConsultantQuestion `gorm:"foreignKey:QuestionnaireID" json:"consultant_questions,omitempty"`
}

// BeforeCreate hook to generate UUID
func (q *Questionnaire) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for Questionnaire model
func (Questionnaire) TableName() string {
	return "questionnaires"
}

type Section struct {
	ID              string `gorm:"type:varchar(36);primarykey" json:"id"`
	QuestionnaireID string `gorm:"type:varchar(36);not null;index" json:"questionnaire_id"`
	Order           int    `gorm:"not null;default:0" json:"order"`
	Title           string `json:"title"`
	Description     string `gorm:"type:text" json:"description"`

	Questions []ClientQuestion `gorm:"foreignKey:SectionID" json:"questions,omitempty"`
}

// BeforeCreate hook to generate UUID
func (s *Section) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for Section model
func (Section) TableName() string {
	return "sections"
}

// ClientQuestion is answered by the client, or by a consultant on their behalf
type ClientQuestion struct {
	ID           string `gorm:"type:varchar(36);primarykey" json:"id"`
	SectionID    string `gorm:"type:varchar(36);not null;index" json:"section_id"`
	Code         string `gorm:"not null;index" json:"code"`
	QuestionText string `gorm:"type:text" json:"question_text"`
	Format       string `gorm:"not null" json:"format"`
	Label        string `json:"label"`
	CopyPaste    string `json:"copy_paste"`
	Order        int    `gorm:"not null;default:0" json:"order"`
	Validation   string `json:"validation"` // regex applied to free text

	DoNotShowDirectly  bool `gorm:"not null;default:false" json:"do_not_show_directly"`
	OptionalForCenters bool `gorm:"not null;default:false" json:"optional_for_centers"`
	ExtraForCenters    bool `gorm:"not null;default:false" json:"extra_for_centers"`

	Section        *Section       `gorm:"foreignKey:SectionID" json:"-"`
	Options        []ClientOption `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
	ShowForOptions []ClientOption `gorm:"many2many:client_question_show_for_options" json:"-"`
}

// BeforeCreate hook to generate UUID
func (q *ClientQuestion) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for ClientQuestion model
func (ClientQuestion) TableName() string {
	return "client_questions"
}

type ClientOption struct {
	ID                string                      `gorm:"type:varchar(36);primarykey" json:"id"`
	QuestionID        string                      `gorm:"type:varchar(36);not null;uniqueIndex:idx_client_option_code" json:"question_id"`
	Code              int                         `gorm:"not null;uniqueIndex:idx_client_option_code" json:"code"`
	Text              string                      `json:"text"`
	AllowText         bool                        `gorm:"not null;default:false" json:"allow_text"`
	Order             int                         `gorm:"not null;default:0" json:"order"`
	Choices           datatypes.JSONSlice[string] `json:"choices"`
	TextForConsultant string                      `json:"text_for_consultant"`

	Question *ClientQuestion `gorm:"foreignKey:QuestionID" json:"-"`
}

// BeforeCreate hook to generate UUID
func (o *ClientOption) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// IsDropdown reports whether the option renders as a dropdown of choices
func (o *ClientOption) IsDropdown() bool {
	return len(o.Choices) > 0
}

// TableName specifies the table name for ClientOption model
func (ClientOption) TableName() string {
	return "client_options"
}

// ConsultantQuestion is only answered by consultants
type ConsultantQuestion struct {
	ID              string `gorm:"type:varchar(36);primarykey" json:"id"`
	QuestionnaireID string `gorm:"type:varchar(36);not null;index" json:"questionnaire_id"`
	Code            string `gorm:"not null;index" json:"code"`
	QuestionText    string `gorm:"type:text" json:"question_text"`
	Format          string `gorm:"not null" json:"format"`
	Label           string `json:"label"`
	Order           int    `gorm:"not null;default:0" json:"order"`
	Validation      string `json:"validation"`

	Options []ConsultantOption `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
}

// BeforeCreate hook to generate UUID
func (q *ConsultantQuestion) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for ConsultantQuestion model
func (ConsultantQuestion) TableName() string {
	return "consultant_questions"
}

type ConsultantOption struct {
	ID         string                      `gorm:"type:varchar(36);primarykey" json:"id"`
	QuestionID string                      `gorm:"type:varchar(36);not null;uniqueIndex:idx_consultant_option_code" json:"question_id"`
	Code       int                         `gorm:"not null;uniqueIndex:idx_consultant_option_code" json:"code"`
	Text       string                      `json:"text"`
	AllowText  bool                        `gorm:"not null;default:false" json:"allow_text"`
	Order      int                         `gorm:"not null;default:0" json:"order"`
	Choices    datatypes.JSONSlice[string] `json:"choices"`
}

// BeforeCreate hook to generate UUID
func (o *ConsultantOption) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// IsDropdown reports whether the option renders as a dropdown of choices
func (o *ConsultantOption) IsDropdown() bool {
	return len(o.Choices) > 0
}

// TableName specifies the table name for ConsultantOption model
func (ConsultantOption) TableName() string {
	return "consultant_options"
}
