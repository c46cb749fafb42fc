package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"sure_app_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestCanonicalizePhoneNumber(t *testing.T) {
	phone, err := CanonicalizePhoneNumber("079 123 45 67", "CH")
	require.NoError(t, err)
	assert.Equal(t, "+41791234567", phone)

	phone, err = CanonicalizePhoneNumber("+49 151 23456789", "CH")
	require.NoError(t, err)
	assert.Equal(t, "+4915123456789", phone)

	_, err = CanonicalizePhoneNumber("12", "CH")
	assert.Equal(t, "invalid-phone", ErrorCode(err))

	assert.Equal(t, "079 123 45 67", HumanFormatPhoneNumber("+41791234567", "CH"))
	assert.Contains(t, HumanFormatPhoneNumber("+4915123456789", "CH"), "+49 ")
}

func TestCanConnectCase(t *testing.T) {
	db, demo := setupDemo(t)
	cfg := testConfig()
	visit := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)

	ok, err := CanConnectCase(db, cfg, visit.Case, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CanConnectCase(db, cfg, visit.Case, visit.Case.CreatedAt.Add(121*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "window elapsed")

	connectVisit(t, db, visit, "+41791234567")
	ok, err = CanConnectCase(db, cfg, visit.Case, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "already connected")
}

// latestToken returns the newest token of a phone number
func latestToken(t *testing.T, db *gorm.DB, phone string) models.Token {
	t.Helper()
	var token models.Token
	require.NoError(t, db.Joins("JOIN contacts ON contacts.id = tokens.contact_id").
		Where("contacts.phone_number = ?", phone).
		Order("tokens.created_at DESC").First(&token).Error)
	return token
}

func TestSendToken(t *testing.T) {
	db, demo := setupDemo(t)
	cfg := testConfig()
	ctx := context.Background()
	sender := NewMockSMSSender()
	visit := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)

	phone, err := SendToken(ctx, db, cfg, sender, "079 123 45 67", visit.Case)
	require.NoError(t, err)
	assert.Equal(t, "+41791234567", phone)
	first := latestToken(t, db, phone)
	require.Len(t, sender.Messages(), 1)
	assert.Contains(t, sender.Messages()[0].Body, first.Code)

	_, err = SendToken(ctx, db, cfg, sender, phone, visit.Case)
	assert.Equal(t, "recent-token", ErrorCode(err))
	assert.Len(t, sender.Messages(), 1)

	// after the cooldown a new code disables the old one
	backdate(t, db, &models.Token{}, first.ID, 2*time.Minute)
	_, err = SendToken(ctx, db, cfg, sender, phone, visit.Case)
	require.NoError(t, err)

	var old models.Token
	require.NoError(t, db.First(&old, "id = ?", first.ID).Error)
	assert.True(t, old.Disabled)
	assert.NotEqual(t, first.ID, latestToken(t, db, phone).ID)

	t.Run("connected case refuses tokens", func(t *testing.T) {
		other := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
		connectVisit(t, db, other, "+41797654321")
		_, err := SendToken(ctx, db, cfg, sender, "+41797654321", other.Case)
		assert.Equal(t, "case-not-connectable", ErrorCode(err))
	})

	t.Run("SMS failure is external", func(t *testing.T) {
		other := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
		failing := NewMockSMSSender()
		failing.Err = errors.New("gateway down")
		_, err := SendToken(ctx, db, cfg, failing, "+41781112233", other.Case)
		assert.True(t, errors.Is(err, ErrExternal))
	})
}

func TestConnectCase(t *testing.T) {
	db, demo := setupDemo(t)
	cfg := testConfig()
	ctx := context.Background()
	sender := NewMockSMSSender()
	visit := newVisit(t, db, demo, demo.Location, models.VisitStatusClientSubmitted)

	phone, err := SendToken(ctx, db, cfg, sender, "+41791234567", visit.Case)
	require.NoError(t, err)
	code := latestToken(t, db, phone).Code

	_, err = ConnectCase(db, cfg, visit.Case, phone, phone, code, models.ConsentDenied)
	assert.Equal(t, "consent-required", ErrorCode(err))

	_, err = ConnectCase(db, cfg, visit.Case, phone, "", code, models.ConsentAllowed)
	assert.Equal(t, "phone-mismatch", ErrorCode(err))

	_, err = ConnectCase(db, cfg, visit.Case, phone, phone, "000000x", models.ConsentAllowed)
	assert.Equal(t, "invalid-token", ErrorCode(err))

	connection, err := ConnectCase(db, cfg, visit.Case, "079 123 45 67", phone, code, models.ConsentAllowed)
	require.NoError(t, err)
	assert.True(t, IsValidID(connection.ClientID))

	client, err := ClientForCase(db, visit.CaseID)
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, phone, client.Contact.PhoneNumber)

	cases, err := ClientCases(db, client)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, visit.CaseID, cases[0].ID)

	_, err = ConnectCase(db, cfg, visit.Case, phone, phone, code, models.ConsentAllowed)
	assert.Equal(t, "case-not-connectable", ErrorCode(err))

	t.Run("same phone reuses the client", func(t *testing.T) {
		other := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
		backdate(t, db, &models.Token{}, latestToken(t, db, phone).ID, time.Hour)
		_, err := SendToken(ctx, db, cfg, sender, phone, other.Case)
		require.NoError(t, err)
		second, err := ConnectCase(db, cfg, other.Case, phone, phone, latestToken(t, db, phone).Code, models.ConsentAllowed)
		require.NoError(t, err)
		assert.Equal(t, connection.ClientID, second.ClientID)
	})
}

func TestSendResultsLink(t *testing.T) {
	db, demo := setupDemo(t)
	cfg := testConfig()
	sender := NewMockSMSSender()
	visit := newVisit(t, db, demo, demo.Location, models.VisitStatusResultsRecorded)

	sent, err := SendResultsLink(context.Background(), db, cfg, sender, visit.Case)
	require.NoError(t, err)
	assert.False(t, sent)

	connectVisit(t, db, visit, "+41791234567")
	sent, err = SendResultsLink(context.Background(), db, cfg, sender, visit.Case)
	require.NoError(t, err)
	assert.True(t, sent)
	require.Len(t, sender.Messages(), 1)
	assert.Equal(t, "+41791234567", sender.Messages()[0].To)
	assert.Contains(t, sender.Messages()[0].Body, ResultsLink(cfg, visit.Case))
}
