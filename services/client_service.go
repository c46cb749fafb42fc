package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"sure_app_go/config"
	"sure_app_go/logger"
	"sure_app_go/models"
	"sure_app_go/services/i18n"

	"github.com/nyaruka/phonenumbers"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CanonicalizePhoneNumber parses a phone number, validates it and formats it as E.164
func CanonicalizePhoneNumber(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(raw, region)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return "", ValidationError("invalid-phone", "%q is not a valid phone number", raw)
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

// HumanFormatPhoneNumber formats numbers of the default region nationally and
// all others internationally
func HumanFormatPhoneNumber(phone, region string) string {
	num, err := phonenumbers.Parse(phone, region)
	if err != nil {
		return phone
	}
	if phonenumbers.GetRegionCodeForNumber(num) != region {
		return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
	}
	return phonenumbers.Format(num, phonenumbers.NATIONAL)
}

func generateTokenCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// getOrCreateContact finds the active contact for a canonical phone number or creates it
func getOrCreateContact(tx *gorm.DB, phone string) (*models.Contact, error) {
	contact := models.Contact{PhoneNumber: phone, Active: true}
	if err := tx.Where(models.Contact{PhoneNumber: phone}).FirstOrCreate(&contact).Error; err != nil {
		return nil, fmt.Errorf("failed to load contact: %w", err)
	}
	if !contact.Active {
		return nil, PermissionError("contact-inactive", "this phone number can not be used")
	}
	return &contact, nil
}

// caseTenantID returns the tenant of the case's location for SMS billing
func caseTenantID(db *gorm.DB, c *models.Case) string {
	if c.Location != nil {
		return c.Location.TenantID
	}
	var location models.Location
	if err := db.Select("tenant_id").First(&location, "id = ?", c.LocationID).Error; err != nil {
		return ""
	}
	return location.TenantID
}

// CanConnectCase reports whether a client may still link themselves to the
// case: it has no connection yet and was created within the connection window
func CanConnectCase(db *gorm.DB, cfg *config.Config, c *models.Case, now time.Time) (bool, error) {
	var count int64
	if err := db.Model(&models.Connection{}).Where("case_id = ?", c.ID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check connection: %w", err)
	}
	if count > 0 {
		return false, nil
	}
	window := time.Duration(cfg.CaseConnectionWindowMinutes) * time.Minute
	return now.Sub(c.CreatedAt) <= window, nil
}

// SendToken issues a verification code for phone and case and sends it by SMS.
// A contact can only get a new code once its last unused code is older than
// the cooldown; issuing a code disables all earlier unused codes.
// It returns the canonical phone number the code was sent to.
func SendToken(ctx context.Context, db *gorm.DB, cfg *config.Config, sender SMSSender, phone string, c *models.Case) (string, error) {
	canonical, err := CanonicalizePhoneNumber(phone, cfg.DefaultRegion)
	if err != nil {
		return "", err
	}

	ok, err := CanConnectCase(db, cfg, c, time.Now())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ValidationError("case-not-connectable", "this case can no longer be connected")
	}

	code, err := generateTokenCode()
	if err != nil {
		return "", err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		contact, err := getOrCreateContact(tx, canonical)
		if err != nil {
			return err
		}

		cooldown := time.Duration(cfg.TokenCooldownSeconds) * time.Second
		var recent int64
		err = tx.Model(&models.Token{}).
			Where("contact_id = ? AND used_at IS NULL AND disabled = ? AND created_at > ?", contact.ID, false, time.Now().Add(-cooldown)).
			Count(&recent).Error
		if err != nil {
			return fmt.Errorf("failed to check recent tokens: %w", err)
		}
		if recent > 0 {
			return ValidationError("recent-token", "%s", i18n.Translate(c.Language, "error.recent_token"))
		}

		err = tx.Model(&models.Token{}).
			Where("contact_id = ? AND used_at IS NULL AND disabled = ?", contact.ID, false).
			Update("disabled", true).Error
		if err != nil {
			return fmt.Errorf("failed to disable old tokens: %w", err)
		}

		token := &models.Token{ContactID: contact.ID, CaseID: c.ID, Code: code}
		if err := tx.Create(token).Error; err != nil {
			return fmt.Errorf("failed to create token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	msg := i18n.Translate(c.Language, "sms.verification_code", map[string]interface{}{
		"token":    code,
		"site_url": cfg.AppURL,
	})
	if err := SendSMS(ctx, db, sender, caseTenantID(db, c), canonical, msg); err != nil {
		return "", err
	}
	return canonical, nil
}

// VerifyToken checks a code for phone and case. The phone must be the one the
// code was sent to in this browser (anchoredPhone).
func VerifyToken(db *gorm.DB, cfg *config.Config, code, phone, anchoredPhone string, c *models.Case) (*models.Contact, *models.Token, error) {
	canonical, err := CanonicalizePhoneNumber(phone, cfg.DefaultRegion)
	if err != nil {
		return nil, nil, err
	}
	if anchoredPhone == "" || canonical != anchoredPhone {
		return nil, nil, PermissionError("phone-mismatch", "the phone number does not match the verified number")
	}

	invalid := PermissionError("invalid-token", "%s", i18n.Translate(c.Language, "error.invalid_token"))

	var contact models.Contact
	err = db.Where("phone_number = ? AND active = ?", canonical, true).First(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, invalid
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load contact: %w", err)
	}

	var token models.Token
	err = db.Where("contact_id = ? AND case_id = ? AND code = ?", contact.ID, c.ID, code).
		Order("created_at DESC").
		First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, invalid
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load token: %w", err)
	}

	if !token.IsUsable(time.Now(), time.Duration(cfg.TokenTTLMinutes)*time.Minute) {
		return nil, nil, invalid
	}
	return &contact, &token, nil
}

// ConnectCase links the case to the client behind a verified phone number
func ConnectCase(db *gorm.DB, cfg *config.Config, c *models.Case, phone, anchoredPhone, code, consent string) (*models.Connection, error) {
	var connection *models.Connection

	err := db.Transaction(func(tx *gorm.DB) error {
		ok, err := CanConnectCase(tx, cfg, c, time.Now())
		if err != nil {
			return err
		}
		if !ok {
			return ValidationError("case-not-connectable", "this case can no longer be connected")
		}
		if consent != models.ConsentAllowed {
			return ValidationError("consent-required", "consent must be allowed to connect the case")
		}

		contact, token, err := VerifyToken(tx, cfg, code, phone, anchoredPhone, c)
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&models.Token{}).
			Where("id = ? AND used_at IS NULL", token.ID).
			Update("used_at", now)
		if res.Error != nil {
			return fmt.Errorf("failed to use token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return PermissionError("invalid-token", "%s", i18n.Translate(c.Language, "error.invalid_token"))
		}

		client, err := getOrCreateClient(tx, contact.ID)
		if err != nil {
			return err
		}

		connection = &models.Connection{CaseID: c.ID, ClientID: client.ID, Consent: consent}
		res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(connection)
		if res.Error != nil {
			return fmt.Errorf("failed to create connection: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ValidationError("case-not-connectable", "this case is already connected")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info().Str("component", "client").Str("case", HumanCaseID(c.ID)).
		Str("client", HumanClientID(connection.ClientID)).Msg("Case connected")
	return connection, nil
}

func getOrCreateClient(tx *gorm.DB, contactID string) (*models.Client, error) {
	var client models.Client
	err := tx.Where("contact_id = ?", contactID).First(&client).Error
	if err == nil {
		return &client, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := GenerateClientID()
		if err != nil {
			return nil, err
		}
		var count int64
		if err := tx.Model(&models.Client{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to check client id: %w", err)
		}
		if count > 0 {
			continue
		}
		client = models.Client{ID: id, ContactID: contactID}
		if err := tx.Create(&client).Error; err != nil {
			return nil, fmt.Errorf("failed to create client: %w", err)
		}
		return &client, nil
	}
	return nil, fmt.Errorf("failed to generate unique client id after %d attempts", maxIDAttempts)
}

// ClientCases returns the cases a client connected to with consent
func ClientCases(db *gorm.DB, client *models.Client) ([]models.Case, error) {
	var cases []models.Case
	err := db.Joins("JOIN connections ON connections.case_id = cases.id").
		Where("connections.client_id = ? AND connections.consent = ?", client.ID, models.ConsentAllowed).
		Order("cases.created_at DESC").
		Find(&cases).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load client cases: %w", err)
	}
	return cases, nil
}

// ClientForCase returns the client connected to a case, or nil
func ClientForCase(db *gorm.DB, caseID string) (*models.Client, error) {
	var connection models.Connection
	err := db.Preload("Client.Contact").Where("case_id = ?", caseID).First(&connection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return connection.Client, nil
}

// SendCaseLink texts the case link to a phone number
func SendCaseLink(ctx context.Context, db *gorm.DB, cfg *config.Config, sender SMSSender, c *models.Case, phone string) error {
	canonical, err := CanonicalizePhoneNumber(phone, cfg.DefaultRegion)
	if err != nil {
		return err
	}
	if _, err := getOrCreateContact(db, canonical); err != nil {
		return err
	}

	msg := i18n.Translate(c.Language, "sms.case_link", map[string]interface{}{
		"link":    CaseLink(cfg, c),
		"case_id": HumanCaseID(c.ID),
	})
	return SendSMS(ctx, db, sender, caseTenantID(db, c), canonical, msg)
}

// SendResultsLink texts the results link to the connected client. sent is
// false when the case has no connection.
func SendResultsLink(ctx context.Context, db *gorm.DB, cfg *config.Config, sender SMSSender, c *models.Case) (bool, error) {
	client, err := ClientForCase(db, c.ID)
	if err != nil {
		return false, err
	}
	if client == nil || client.Contact == nil {
		return false, nil
	}

	msg := i18n.Translate(c.Language, "sms.results_link", map[string]interface{}{
		"link": ResultsLink(cfg, c),
	})
	if err := SendSMS(ctx, db, sender, caseTenantID(db, c), client.Contact.PhoneNumber, msg); err != nil {
		return false, err
	}
	return true, nil
}
