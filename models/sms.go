package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SMSMessage is the billing record of a delivered SMS; the body itself is not stored
type SMSMessage struct {
	ID        string    `gorm:"type:varchar(36);primarykey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	TenantID   *string `gorm:"type:varchar(36);index" json:"tenant_id"`
	To         string  `gorm:"column:to_number;not null" json:"to"`
	BodyLength int     `gorm:"not null" json:"body_length"`
	ProviderID string  `json:"provider_id"`
}

// BeforeCreate hook to generate UUID
func (m *SMSMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for SMSMessage model
func (SMSMessage) TableName() string {
	return "sms_messages"
}
