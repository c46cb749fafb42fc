package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Lab order status values
const (
	LabOrderPending   = "pending"
	LabOrderSent      = "sent"
	LabOrderCompleted = "completed"
	LabOrderFailed    = "failed"
	LabOrderCanceled  = "canceled"
)

type Laboratory struct {
	ID   string `gorm:"type:varchar(36);primarykey" json:"id"`
	Name string `gorm:"not null;uniqueIndex" json:"name"`
}

// BeforeCreate hook to generate UUID
func (l *Laboratory) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for Laboratory model
func (Laboratory) TableName() string {
	return "laboratories"
}

// LocationToLab configures which laboratory serves a location
type LocationToLab struct {
	ID           string `gorm:"type:varchar(36);primarykey" json:"id"`
	LocationID   string `gorm:"type:varchar(36);not null;uniqueIndex" json:"location_id"`
	LaboratoryID string `gorm:"type:varchar(36);not null;index" json:"laboratory_id"`
	ClientCode   string `gorm:"not null" json:"client_code"`
	NrKreis      string `gorm:"not null" json:"nr_kreis"` // order number range of the location

	Laboratory *Laboratory `gorm:"foreignKey:LaboratoryID" json:"-"`
}

// BeforeCreate hook to generate UUID
func (l *LocationToLab) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for LocationToLab model
func (LocationToLab) TableName() string {
	return "location_to_labs"
}

// LabOrderCounter hands out order numbers for one number range
type LabOrderCounter struct {
	ID         string `gorm:"type:varchar(36);primarykey" json:"id"`
	NrKreis    string `gorm:"not null;uniqueIndex" json:"nr_kreis"`
	BaseNumber string `gorm:"not null" json:"base_number"` // zero padded, its width fixes the suffix width
	LastIndex  int    `gorm:"not null;default:0" json:"last_index"`
}

// BeforeCreate hook to generate UUID
func (c *LabOrderCounter) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for LabOrderCounter model
func (LabOrderCounter) TableName() string {
	return "lab_order_counters"
}

// TestProfile maps a test kind to a laboratory order profile
type TestProfile struct {
	ID                string                      `gorm:"type:varchar(36);primarykey" json:"id"`
	LaboratoryID      string                      `gorm:"type:varchar(36);not null;index" json:"laboratory_id"`
	TestKindID        string                      `gorm:"type:varchar(36);not null;index" json:"test_kind_id"`
	ProfileName       string                      `gorm:"not null" json:"profile_name"`
	ProfileCode       string                      `gorm:"not null" json:"profile_code"`
	ResultLabel       string                      `gorm:"index" json:"result_label"` // OBX-3 identifier of the result
	Materials         datatypes.JSONSlice[string] `json:"materials"`
	MaterialCodes     datatypes.JSONSlice[string] `json:"material_codes"`
	RequireAdditional bool                        `gorm:"not null;default:false" json:"require_additional"`
	Note              string                      `json:"note"`

	TestKind *TestKind `gorm:"foreignKey:TestKindID" json:"-"`
}

// BeforeCreate hook to generate UUID
func (p *TestProfile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for TestProfile model
func (TestProfile) TableName() string {
	return "test_profiles"
}

type LabOrder struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	VisitID     string                      `gorm:"type:varchar(36);not null;index" json:"visit_id"`
	CounterID   string                      `gorm:"type:varchar(36);not null;index" json:"counter_id"`
	OrderNumber string                      `gorm:"not null;uniqueIndex" json:"order_number"`
	Status      string                      `gorm:"not null;default:pending" json:"status"`
	Content     string                      `gorm:"type:text" json:"content"` // HL7 message
	Profiles    datatypes.JSONSlice[string] `json:"profiles"`
	Codes       datatypes.JSONSlice[string] `json:"codes"`
	Materials   datatypes.JSONSlice[string] `json:"materials"`
	Note        string                      `json:"note"`
}

// BeforeCreate hook to generate UUID
func (o *LabOrder) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for LabOrder model
func (LabOrder) TableName() string {
	return "lab_orders"
}

// LabResult keeps the raw HL7 result message received for an order
type LabResult struct {
	ID         string    `gorm:"type:varchar(36);primarykey" json:"id"`
	VisitID    string    `gorm:"type:varchar(36);not null;index" json:"visit_id"`
	OrderID    string    `gorm:"type:varchar(36);not null;index" json:"order_id"`
	Content    string    `gorm:"type:text" json:"content"`
	ReceivedAt time.Time `gorm:"not null" json:"received_at"`
}

// BeforeCreate hook to generate UUID
func (r *LabResult) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for LabResult model
func (LabResult) TableName() string {
	return "lab_results"
}
