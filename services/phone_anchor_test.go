package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneAnchor(t *testing.T) {
	secret := testConfig().SessionSecret
	now := time.Now()

	anchor, err := SealPhoneAnchor(secret, "+41791234567", "a3Bx9K", now)
	require.NoError(t, err)
	assert.NotContains(t, anchor, "41791234567")

	phone, err := OpenPhoneAnchor(secret, anchor, "a3Bx9K", 15*time.Minute, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "+41791234567", phone)

	t.Run("other case", func(t *testing.T) {
		_, err := OpenPhoneAnchor(secret, anchor, "zzzzzz", 15*time.Minute, now)
		assert.ErrorIs(t, err, ErrInvalidAnchor)
	})

	t.Run("other secret", func(t *testing.T) {
		_, err := OpenPhoneAnchor(secret+"x", anchor, "a3Bx9K", 15*time.Minute, now)
		assert.ErrorIs(t, err, ErrInvalidAnchor)
	})

	t.Run("tampered", func(t *testing.T) {
		b := []byte(anchor)
		if b[20] == 'A' {
			b[20] = 'B'
		} else {
			b[20] = 'A'
		}
		_, err := OpenPhoneAnchor(secret, string(b), "a3Bx9K", 15*time.Minute, now)
		assert.ErrorIs(t, err, ErrInvalidAnchor)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := OpenPhoneAnchor(secret, anchor, "a3Bx9K", 15*time.Minute, now.Add(16*time.Minute))
		assert.ErrorIs(t, err, ErrAnchorExpired)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := OpenPhoneAnchor(secret, "", "a3Bx9K", 15*time.Minute, now)
		assert.ErrorIs(t, err, ErrInvalidAnchor)
	})

	t.Run("no secret", func(t *testing.T) {
		_, err := SealPhoneAnchor("", "+41791234567", "a3Bx9K", now)
		assert.Error(t, err)
	})
}

func TestSubmitterReceipt(t *testing.T) {
	secret := testConfig().SessionSecret
	now := time.Now()

	receipt, err := SealSubmitterReceipt(secret, "a3Bx9K", now)
	require.NoError(t, err)
	assert.NoError(t, OpenSubmitterReceipt(secret, receipt, "a3Bx9K", time.Hour, now.Add(time.Minute)))

	assert.ErrorIs(t, OpenSubmitterReceipt(secret, receipt, "zzzzzz", time.Hour, now), ErrInvalidAnchor)
	assert.ErrorIs(t, OpenSubmitterReceipt(secret, receipt, "a3Bx9K", time.Hour, now.Add(2*time.Hour)), ErrAnchorExpired)
	assert.ErrorIs(t, OpenSubmitterReceipt(secret, "", "a3Bx9K", time.Hour, now), ErrInvalidAnchor)

	t.Run("keys are separated by purpose", func(t *testing.T) {
		anchor, err := SealPhoneAnchor(secret, "submitted", "a3Bx9K", now)
		require.NoError(t, err)
		assert.ErrorIs(t, OpenSubmitterReceipt(secret, anchor, "a3Bx9K", time.Hour, now), ErrInvalidAnchor)

		_, err = OpenPhoneAnchor(secret, receipt, "a3Bx9K", time.Hour, now)
		assert.ErrorIs(t, err, ErrInvalidAnchor)
	})
}
