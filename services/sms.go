package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"sure_app_go/config"
	"sure_app_go/logger"
	"sure_app_go/models"

	"github.com/google/uuid"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"gorm.io/gorm"
)

// SMSSender delivers a text message and returns the provider's message id
type SMSSender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// NewSMSSender picks the sender configured by SMS_PROVIDER
func NewSMSSender(cfg *config.Config) (SMSSender, error) {
	switch cfg.SMSProvider {
	case "twilio":
		return NewTwilioSender(
			WithAccountSID(cfg.TwilioAccountSID),
			WithAuthToken(cfg.TwilioAuthToken),
			WithFromNumber(cfg.TwilioFromNumber),
		)
	case "log", "":
		return &LogSender{}, nil
	default:
		return nil, fmt.Errorf("unknown SMS_PROVIDER %q", cfg.SMSProvider)
	}
}

// TwilioOpts holds the credentials of the Twilio client
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioOption configures the Twilio client
type TwilioOption func(*TwilioOpts)

func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sender number or alphanumeric sender id
func WithFromNumber(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromNumber = from }
}

// TwilioSender sends SMS through the Twilio REST API
type TwilioSender struct {
	client *twilio.RestClient
	from   string
}

func NewTwilioSender(opts ...TwilioOption) (*TwilioSender, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{client: client, from: cfg.FromNumber}, nil
}

// Send sends one SMS
func (s *TwilioSender) Send(ctx context.Context, to, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.client.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS via Twilio: %w", err)
	}
	if resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}

// LogSender only logs messages; used in development
type LogSender struct{}

// Send logs the message and returns a fake provider id
func (LogSender) Send(ctx context.Context, to, body string) (string, error) {
	logger.Log.Info().Str("component", "sms").Str("to", to).Str("body", body).Msg("Simulated SMS")
	return "log-" + uuid.New().String(), nil
}

// SentSMS is one message captured by MockSMSSender
type SentSMS struct {
	To   string
	Body string
}

// MockSMSSender records messages instead of sending them; set Err to make sends fail
type MockSMSSender struct {
	mu   sync.Mutex
	Sent []SentSMS
	Err  error
}

func NewMockSMSSender() *MockSMSSender {
	return &MockSMSSender{}
}

func (m *MockSMSSender) Send(ctx context.Context, to, body string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Sent = append(m.Sent, SentSMS{To: to, Body: body})
	return fmt.Sprintf("mock-%d", len(m.Sent)), nil
}

// Messages returns a copy of the recorded messages
func (m *MockSMSSender) Messages() []SentSMS {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentSMS(nil), m.Sent...)
}

// SendSMS sends a message and records it for billing. Failures are returned
// as external errors; nothing is retried.
func SendSMS(ctx context.Context, db *gorm.DB, sender SMSSender, tenantID, to, body string) error {
	if sender == nil {
		return ExternalError("sms-failed", errors.New("no SMS sender configured"))
	}

	providerID, err := sender.Send(ctx, to, body)
	if err != nil {
		logger.Log.Error().Err(err).Str("component", "sms").Str("to", to).Msg("Failed to send SMS")
		return ExternalError("sms-failed", err)
	}

	msg := &models.SMSMessage{
		TenantID:   ptrIfNotEmpty(tenantID),
		To:         to,
		BodyLength: len([]rune(body)),
		ProviderID: providerID,
	}
	if err := db.Create(msg).Error; err != nil {
		logger.Log.Error().Err(err).Str("component", "sms").Msg("Failed to record SMS message")
	}
	return nil
}
