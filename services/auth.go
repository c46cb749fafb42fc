package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"sure_app_go/logger"
	"sure_app_go/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 10
	// SessionTokenLength is the length of the session token in bytes (64 chars hex)
	SessionTokenLength = 32
	// DefaultSessionDuration is how long an idle session stays valid
	DefaultSessionDuration = 12 * time.Hour
	// SessionRefreshInterval limits how often activity extends a session
	SessionRefreshInterval = 5 * time.Minute
	// MaxFailedLogins locks the account once reached
	MaxFailedLogins = 5
	// LockoutDuration is how long a locked account refuses logins
	LockoutDuration = 15 * time.Minute
)

// ErrInvalidCredentials is returned for unknown emails and wrong passwords alike
var ErrInvalidCredentials = &Error{Kind: ErrPermission, Code: "invalid-credentials", Message: "invalid email or password"}

// dummyHash is compared against when the email is unknown so both paths cost one bcrypt run
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy_password_for_timing_mitigation"), BcryptCost)

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// VerifyPassword verifies a password against a bcrypt hash
func VerifyPassword(hashedPassword, password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil
}

// Authenticate checks credentials and maintains the lockout counter
func Authenticate(db *gorm.DB, email, password string, now time.Time) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ValidationError("missing-credentials", "email and password are required")
	}

	var user models.User
	if err := db.Where("LOWER(email) = ?", email).First(&user).Error; err != nil {
		VerifyPassword(string(dummyHash), password)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if user.IsLockedOut(now) {
		return nil, PermissionError("account-locked", "account is locked, try again later")
	}

	if !VerifyPassword(user.Password, password) {
		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= MaxFailedLogins {
			until := now.Add(LockoutDuration)
			user.LockoutUntil = &until
			user.FailedLoginAttempts = 0
			logger.Log.Warn().Str("component", "auth").Str("user_id", user.ID).Msg("Account locked after repeated failed logins")
		}
		if err := db.Model(&user).Select("failed_login_attempts", "lockout_until").Updates(&user).Error; err != nil {
			return nil, fmt.Errorf("failed to record failed login: %w", err)
		}
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, PermissionError("account-inactive", "your account has been deactivated")
	}

	user.FailedLoginAttempts = 0
	user.LockoutUntil = nil
	user.LastLoginAt = &now
	if err := db.Model(&user).Select("failed_login_attempts", "lockout_until", "last_login_at").Updates(&user).Error; err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}
	return &user, nil
}

// GenerateSessionToken generates a cryptographically secure random token
func GenerateSessionToken() (string, error) {
	bytes := make([]byte, SessionTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// CreateSession creates a new session for a user. The returned session
// carries the raw token for the cookie.
func CreateSession(db *gorm.DB, userID, ipAddress, userAgent string) (*models.Session, error) {
	token, err := GenerateSessionToken()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	session := &models.Session{
		UserID:     userID,
		Token:      token,
		ExpiresAt:  now.Add(DefaultSessionDuration),
		LastSeenAt: now,
		IPAddress:  ipAddress,
		UserAgent:  truncate(userAgent, 512),
	}
	if err := db.Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// ValidateSession resolves a cookie token into its session. Sessions idle
// for longer than SessionRefreshInterval get their expiry pushed out.
func ValidateSession(db *gorm.DB, token string) (*models.Session, error) {
	if token == "" {
		return nil, PermissionError("session-invalid", "session not found")
	}
	var session models.Session
	err := db.Preload("User").Where("token_hash = ?", models.HashSessionToken(token)).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, PermissionError("session-invalid", "session not found")
		}
		return nil, fmt.Errorf("failed to validate session: %w", err)
	}

	now := time.Now()
	if session.ExpiredAt(now) {
		db.Delete(&session)
		return nil, PermissionError("session-expired", "session expired")
	}

	if now.Sub(session.LastSeenAt) > SessionRefreshInterval {
		session.LastSeenAt = now
		session.ExpiresAt = now.Add(DefaultSessionDuration)
		err := db.Model(&session).Updates(map[string]interface{}{
			"last_seen_at": session.LastSeenAt,
			"expires_at":   session.ExpiresAt,
		}).Error
		if err != nil {
			logger.Component("auth").Warn().Err(err).Str("session", session.ID).Msg("Failed to refresh session")
		}
	}
	session.Token = token
	return &session, nil
}

// DeleteSession deletes a session (logout)
func DeleteSession(db *gorm.DB, token string) error {
	if err := db.Where("token_hash = ?", models.HashSessionToken(token)).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes all expired sessions and returns how many were removed
func CleanupExpiredSessions(db *gorm.DB, now time.Time) (int64, error) {
	result := db.Where("expires_at < ?", now).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteAllUserSessions deletes all sessions for a specific user
func DeleteAllUserSessions(db *gorm.DB, userID string) error {
	if err := db.Where("user_id = ?", userID).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}
