package services

import (
	"encoding/json"
	"sync"
	"time"

	"sure_app_go/logger"
	"sure_app_go/models"

	"gorm.io/gorm"
)

// AuditContext contains contextual information for audit logging
type AuditContext struct {
	UserID    string
	UserName  string
	UserRole  string
	TenantID  string
	IPAddress string
	UserAgent string
}

// NewAuditContext builds the actor part of an audit context from a user
func NewAuditContext(user *models.User, ip, userAgent string) AuditContext {
	ctx := AuditContext{IPAddress: ip, UserAgent: userAgent}
	if user != nil {
		ctx.UserID = user.ID
		ctx.UserName = user.Name
		ctx.UserRole = user.Role
		if user.TenantID != nil {
			ctx.TenantID = *user.TenantID
		}
	}
	return ctx
}

var auditWG sync.WaitGroup

// LogAuditEvent creates a new audit log entry asynchronously
func LogAuditEvent(
	db *gorm.DB,
	ctx AuditContext,
	action models.AuditAction,
	resourceType string,
	resourceID string,
	resourceName string,
	description string,
	oldValues interface{},
	newValues interface{},
) {
	auditWG.Add(1)
	go func() {
		defer auditWG.Done()

		entry := models.AuditLog{
			UserID:       ptrIfNotEmpty(ctx.UserID),
			UserName:     ctx.UserName,
			UserRole:     ctx.UserRole,
			TenantID:     ptrIfNotEmpty(ctx.TenantID),
			ResourceType: resourceType,
			ResourceID:   resourceID,
			ResourceName: resourceName,
			Action:       action,
			Description:  description,
			OldValues:    marshalAuditValues(oldValues),
			NewValues:    marshalAuditValues(newValues),
			IPAddress:    ctx.IPAddress,
			UserAgent:    ctx.UserAgent,
		}
		if entry.UserName == "" {
			entry.UserName = "anonymous"
		}

		if err := db.Create(&entry).Error; err != nil {
			logger.Log.Error().Err(err).Str("component", "audit").
				Str("resource_type", resourceType).Str("resource_id", resourceID).
				Msg("Failed to create audit log")
		}
	}()
}

// WaitForAuditEvents blocks until pending audit writes are done
func WaitForAuditEvents() {
	auditWG.Wait()
}

func marshalAuditValues(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// GetResourceAuditHistory retrieves the audit history for a specific resource
func GetResourceAuditHistory(db *gorm.DB, resourceType, resourceID string) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := db.Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at DESC").
		Find(&logs).Error
	return logs, err
}

// AuditLogFilters contains filter options for audit log queries
type AuditLogFilters struct {
	UserID       string
	ResourceType string
	Action       string
	DateFrom     time.Time
	DateTo       time.Time
}

// GetTenantAuditLogs retrieves paginated audit logs of a tenant; an empty
// tenant id returns logs of all tenants
func GetTenantAuditLogs(db *gorm.DB, tenantID string, filters AuditLogFilters, page, pageSize int) ([]models.AuditLog, int64, error) {
	query := db.Model(&models.AuditLog{})
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}
	if filters.UserID != "" {
		query = query.Where("user_id = ?", filters.UserID)
	}
	if filters.ResourceType != "" {
		query = query.Where("resource_type = ?", filters.ResourceType)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if !filters.DateFrom.IsZero() {
		query = query.Where("created_at >= ?", filters.DateFrom)
	}
	if !filters.DateTo.IsZero() {
		query = query.Where("created_at <= ?", filters.DateTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	var logs []models.AuditLog
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&logs).Error
	return logs, total, err
}

// LogSecurityEvent logs security-related events to the log and the audit trail
func LogSecurityEvent(db *gorm.DB, eventType, identifier, details string) {
	logger.Log.Warn().Str("component", "security").Str("event", eventType).
		Str("identifier", identifier).Msg(details)

	LogAuditEvent(db, AuditContext{UserName: identifier}, models.AuditAction("SECURITY"),
		"SECURITY_EVENT", eventType, identifier, details, nil, nil)
}

// ptrIfNotEmpty returns a pointer to the string if not empty, nil otherwise
func ptrIfNotEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
