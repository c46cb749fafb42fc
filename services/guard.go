package services

import (
	"errors"
	"fmt"
	"time"

	"sure_app_go/config"
	"sure_app_go/logger"
	"sure_app_go/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GuardBlockedMessage is returned to blocked identifiers
const GuardBlockedMessage = "Too many invalid requests. Access blocked."

// DefaultCaseGuardPattern protects the public case endpoints against id guessing
const DefaultCaseGuardPattern = `^/api/cases/[^/]+`

// GuardIdentifier names who made a request: the user when signed in, else the IP
func GuardIdentifier(user *models.User, ip string) string {
	if user != nil {
		return "user:" + user.ID
	}
	return "ip:" + ip
}

// IsBlocked reports whether identifier has an active block
func IsBlocked(db *gorm.DB, identifier string, now time.Time) (bool, error) {
	var block models.BlockedIdentifier
	err := db.Where("identifier = ?", identifier).First(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check block: %w", err)
	}
	return block.IsActive(now), nil
}

// matchProtectedEndpoint returns the first endpoint a response counts against
func matchProtectedEndpoint(db *gorm.DB, path string, status int) (*models.ProtectedEndpoint, error) {
	var endpoints []models.ProtectedEndpoint
	if err := db.Where("status_code = ?", status).Order("id ASC").Find(&endpoints).Error; err != nil {
		return nil, fmt.Errorf("failed to load protected endpoints: %w", err)
	}
	for i := range endpoints {
		if endpoints[i].Matches(path, status) {
			return &endpoints[i], nil
		}
	}
	return nil, nil
}

// RecordHit counts a response against the matching protected endpoint and
// blocks the identifier once it reached the endpoint's limit in its window.
// blocked is true when this hit created the block.
func RecordHit(db *gorm.DB, cfg *config.Config, identifier, path string, status int, now time.Time) (blocked bool, err error) {
	endpoint, err := matchProtectedEndpoint(db, path, status)
	if err != nil || endpoint == nil {
		return false, err
	}

	hit := &models.BlockedEndpointHit{EndpointID: endpoint.ID, Identifier: identifier, Path: path, CreatedAt: now}
	if err := db.Create(hit).Error; err != nil {
		return false, fmt.Errorf("failed to record guard hit: %w", err)
	}

	var count int64
	windowStart := now.Add(-time.Duration(endpoint.WindowSeconds) * time.Second)
	err = db.Model(&models.BlockedEndpointHit{}).
		Where("endpoint_id = ? AND identifier = ? AND created_at >= ?", endpoint.ID, identifier, windowStart).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to count guard hits: %w", err)
	}
	if count < int64(endpoint.MaxErrors) {
		return false, nil
	}

	block := &models.BlockedIdentifier{Identifier: identifier, CreatedAt: now, Reason: endpoint.PathPattern}
	if endpoint.BlockSeconds > 0 {
		until := now.Add(time.Duration(endpoint.BlockSeconds) * time.Second)
		block.BlockedUntil = &until
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}},
		DoUpdates: clause.AssignmentColumns([]string{"blocked_until", "reason", "created_at"}),
	}).Create(block).Error
	if err != nil {
		return false, fmt.Errorf("failed to block identifier: %w", err)
	}

	logger.Component("guard").Warn().Str("identifier", identifier).Str("path", path).
		Int("status", status).Int64("hits", count).Msg("Identifier blocked")
	LogSecurityEvent(db, "GUARD_BLOCK", identifier, fmt.Sprintf("%d responses with status %d on %s", count, status, endpoint.PathPattern))
	notifyBlock(cfg, endpoint, block)
	return true, nil
}

func notifyBlock(cfg *config.Config, endpoint *models.ProtectedEndpoint, block *models.BlockedIdentifier) {
	if cfg == nil || endpoint.NotifyEmail == "" {
		return
	}
	until := "permanently"
	if block.BlockedUntil != nil {
		until = block.BlockedUntil.UTC().Format(time.RFC3339)
	}
	email := buildTranslatedEmail(endpoint.NotifyEmail, "", "email.guard_block", map[string]interface{}{
		"identifier":  block.Identifier,
		"pattern":     endpoint.PathPattern,
		"status":      endpoint.StatusCode,
		"until":       until,
		"description": endpoint.Description,
	})
	SendEmailAsync(cfg, email)
}

// Unblock lifts a block. It returns a not-found error when nothing was blocked.
func Unblock(db *gorm.DB, identifier string) error {
	result := db.Where("identifier = ?", identifier).Delete(&models.BlockedIdentifier{})
	if result.Error != nil {
		return fmt.Errorf("failed to unblock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return NotFoundError("no block for %s", identifier)
	}
	return nil
}

// CleanupGuardHits deletes hits outside every endpoint window and expired blocks
func CleanupGuardHits(db *gorm.DB, now time.Time) (int64, error) {
	var maxWindow int
	if err := db.Model(&models.ProtectedEndpoint{}).Select("COALESCE(MAX(window_seconds), 0)").Scan(&maxWindow).Error; err != nil {
		return 0, fmt.Errorf("failed to load guard windows: %w", err)
	}
	cutoff := now.Add(-time.Duration(maxWindow) * time.Second)

	result := db.Where("created_at < ?", cutoff).Delete(&models.BlockedEndpointHit{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete guard hits: %w", result.Error)
	}
	if err := db.Where("blocked_until IS NOT NULL AND blocked_until < ?", now).Delete(&models.BlockedIdentifier{}).Error; err != nil {
		return result.RowsAffected, fmt.Errorf("failed to delete expired blocks: %w", err)
	}
	return result.RowsAffected, nil
}

// EnsureDefaultProtectedEndpoints creates the case id guessing protection
// when no endpoint is configured yet
func EnsureDefaultProtectedEndpoints(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.ProtectedEndpoint{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count protected endpoints: %w", err)
	}
	if count > 0 {
		return nil
	}
	endpoint := &models.ProtectedEndpoint{
		PathPattern:   DefaultCaseGuardPattern,
		Description:   "Unknown case ids on the public case API",
		StatusCode:    404,
		MaxErrors:     5,
		WindowSeconds: 900,
		BlockSeconds:  3600,
	}
	if err := db.Create(endpoint).Error; err != nil {
		return fmt.Errorf("failed to create protected endpoint: %w", err)
	}
	return nil
}
