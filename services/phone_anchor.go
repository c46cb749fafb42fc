package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const (
	// PhoneAnchorCookieName holds the phone number a verification code was sent to
	PhoneAnchorCookieName = "sure_phone_anchor"
	// SubmitterCookieName marks the browser that submitted an unkeyed case
	SubmitterCookieName = "sure_submitter"
)

const (
	purposePhoneAnchor = "phone-anchor"
	purposeSubmitter   = "submitter"
)

var (
	// ErrInvalidAnchor indicates the anchor is malformed, forged or for another case
	ErrInvalidAnchor = errors.New("invalid phone anchor")
	// ErrAnchorExpired indicates the anchor is older than its max age
	ErrAnchorExpired = errors.New("phone anchor expired")
)

// sealKey derives a per-purpose AES-256 key from the session secret
func sealKey(secret, purpose string) []byte {
	sum := sha256.Sum256([]byte(purpose + ":" + secret))
	return sum[:]
}

func newSealGCM(secret, purpose string) (cipher.AEAD, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is not set")
	}
	block, err := aes.NewCipher(sealKey(secret, purpose))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// sealCaseValue encrypts value together with the case id and issue time
func sealCaseValue(secret, purpose, value, caseID string, now time.Time) (string, error) {
	gcm, err := newSealGCM(secret, purpose)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	plaintext := strings.Join([]string{value, caseID, strconv.FormatInt(now.Unix(), 10)}, "|")
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// openCaseValue reverses sealCaseValue for caseID and rejects values older than maxAge
func openCaseValue(secret, purpose, sealed, caseID string, maxAge time.Duration, now time.Time) (string, error) {
	if sealed == "" {
		return "", ErrInvalidAnchor
	}
	gcm, err := newSealGCM(secret, purpose)
	if err != nil {
		return "", err
	}

	data, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil || len(data) < gcm.NonceSize() {
		return "", ErrInvalidAnchor
	}
	nonce, cipherData := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return "", ErrInvalidAnchor
	}

	parts := strings.Split(string(plaintext), "|")
	if len(parts) != 3 || parts[1] != caseID {
		return "", ErrInvalidAnchor
	}
	issued, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", ErrInvalidAnchor
	}
	if now.Sub(time.Unix(issued, 0)) > maxAge {
		return "", ErrAnchorExpired
	}
	return parts[0], nil
}

// SealPhoneAnchor encrypts the phone number bound to a case so the client
// can carry it in a cookie without being able to read or change it
func SealPhoneAnchor(secret, phone, caseID string, now time.Time) (string, error) {
	return sealCaseValue(secret, purposePhoneAnchor, phone, caseID, now)
}

// OpenPhoneAnchor decrypts an anchor and returns the phone number when it was
// issued for caseID no longer than maxAge ago
func OpenPhoneAnchor(secret, value, caseID string, maxAge time.Duration, now time.Time) (string, error) {
	return openCaseValue(secret, purposePhoneAnchor, value, caseID, maxAge, now)
}

// SealSubmitterReceipt issues the receipt handed to the browser that submitted
// an unkeyed case
func SealSubmitterReceipt(secret, caseID string, now time.Time) (string, error) {
	return sealCaseValue(secret, purposeSubmitter, "submitted", caseID, now)
}

// OpenSubmitterReceipt checks that value is a receipt for caseID issued no
// longer than maxAge ago
func OpenSubmitterReceipt(secret, value, caseID string, maxAge time.Duration, now time.Time) error {
	got, err := openCaseValue(secret, purposeSubmitter, value, caseID, maxAge, now)
	if err != nil {
		return err
	}
	if got != "submitted" {
		return ErrInvalidAnchor
	}
	return nil
}
