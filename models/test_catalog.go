package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TestCategory struct {
	ID          string `gorm:"type:varchar(36);primarykey" json:"id"`
	Number      int    `gorm:"not null;uniqueIndex" json:"number"`
	Name        string `gorm:"not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`

	Kinds []TestKind `gorm:"foreignKey:CategoryID" json:"kinds,omitempty"`
}

// BeforeCreate hook to generate UUID
func (c *TestCategory) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for TestCategory model
func (TestCategory) TableName() string {
	return "test_categories"
}

// TestKind is a single test a location can perform, e.g. an HIV rapid test
type TestKind struct {
	ID                   string `gorm:"type:varchar(36);primarykey" json:"id"`
	CategoryID           string `gorm:"type:varchar(36);not null;index" json:"category_id"`
	Number               int    `gorm:"not null;uniqueIndex" json:"number"`
	Name                 string `gorm:"not null" json:"name"`
	InterpretationNeeded bool   `gorm:"not null;default:false" json:"interpretation_needed"`
	Rapid                bool   `gorm:"not null;default:false" json:"rapid"`
	Note                 string `gorm:"type:text" json:"note"`

	Category      *TestCategory      `gorm:"foreignKey:CategoryID" json:"-"`
	ResultOptions []TestResultOption `gorm:"foreignKey:TestKindID" json:"result_options,omitempty"`
}

// BeforeCreate hook to generate UUID
func (k *TestKind) BeforeCreate(tx *gorm.DB) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for TestKind model
func (TestKind) TableName() string {
	return "test_kinds"
}

// TestResultOption is one possible outcome of a test kind
type TestResultOption struct {
	ID               string `gorm:"type:varchar(36);primarykey" json:"id"`
	TestKindID       string `gorm:"type:varchar(36);not null;index" json:"test_kind_id"`
	Label            string `gorm:"not null" json:"label"`
	Color            string `json:"color"`
	InformationBySMS bool   `gorm:"column:information_by_sms;not null;default:false" json:"information_by_sms"`
	InformationText  string `gorm:"type:text" json:"information_text"`
}

// BeforeCreate hook to generate UUID
func (o *TestResultOption) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for TestResultOption model
func (TestResultOption) TableName() string {
	return "test_result_options"
}

// TestBundle is a named set of test kinds ordered together
type TestBundle struct {
	ID   string `gorm:"type:varchar(36);primarykey" json:"id"`
	Name string `gorm:"not null;uniqueIndex" json:"name"`

	TestKinds []TestKind `gorm:"many2many:test_bundle_kinds" json:"test_kinds,omitempty"`
}

// BeforeCreate hook to generate UUID
func (b *TestBundle) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for TestBundle model
func (TestBundle) TableName() string {
	return "test_bundles"
}
