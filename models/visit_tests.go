package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Test is a test kind performed during a visit
type Test struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	VisitID    string `gorm:"type:varchar(36);not null;uniqueIndex:idx_test_visit_kind" json:"visit_id"`
	TestKindID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_test_visit_kind" json:"test_kind_id"`
	Note       string `gorm:"type:text" json:"note"`

	TestKind *TestKind `gorm:"foreignKey:TestKindID" json:"test_kind,omitempty"`
}

// BeforeCreate hook to generate UUID
func (t *Test) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for Test model
func (Test) TableName() string {
	return "tests"
}

// TestResult records an outcome for a test; the latest row per test wins
type TestResult struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index:idx_test_result_latest,priority:2" json:"created_at"`

	TestID         string  `gorm:"type:varchar(36);not null;index:idx_test_result_latest,priority:1" json:"test_id"`
	ResultOptionID string  `gorm:"type:varchar(36);not null" json:"result_option_id"`
	Note           string  `gorm:"type:text" json:"note"`
	UserID         *string `gorm:"type:varchar(36)" json:"user_id"`

	Test         *Test             `gorm:"foreignKey:TestID" json:"-"`
	ResultOption *TestResultOption `gorm:"foreignKey:ResultOptionID" json:"result_option,omitempty"`
}

// BeforeCreate hook to generate UUID
func (r *TestResult) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for TestResult model
func (TestResult) TableName() string {
	return "test_results"
}

// FreeFormTest holds a lab result that no test profile maps to a known kind
type FreeFormTest struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	VisitID string `gorm:"type:varchar(36);not null;index" json:"visit_id"`
	Name    string `gorm:"not null" json:"name"`
	Result  string `gorm:"type:text" json:"result"`
}

// BeforeCreate hook to generate UUID
func (f *FreeFormTest) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for FreeFormTest model
func (FreeFormTest) TableName() string {
	return "free_form_tests"
}
