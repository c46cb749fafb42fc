package services

import (
	"fmt"
	"html/template"
	"strings"

	"sure_app_go/config"
	"sure_app_go/logger"
	"sure_app_go/services/i18n"

	"github.com/resend/resend-go/v2"
)

// Email represents an email message
type Email struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

// SendEmail sends an email using Resend API
func SendEmail(cfg *config.Config, email *Email) error {
	log := logger.Component("email")

	// In development mode, log the email instead of sending
	if cfg.EmailTestMode {
		log.Info().
			Strs("to", email.To).
			Str("subject", email.Subject).
			Str("body", truncate(email.TextBody, 500)).
			Msg("Email logged (test mode, not sent)")
		return nil
	}

	if cfg.ResendAPIKey == "" {
		return fmt.Errorf("RESEND_API_KEY not configured")
	}

	client := resend.NewClient(cfg.ResendAPIKey)
	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", cfg.EmailFromName, cfg.EmailFrom),
		To:      email.To,
		Subject: email.Subject,
		Html:    email.HTMLBody,
		Text:    email.TextBody,
	}
	if params.Html == "" && params.Text == "" {
		return fmt.Errorf("email must have either HTMLBody or TextBody")
	}

	sent, err := client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send email via Resend: %w", err)
	}

	log.Info().Str("id", sent.Id).Strs("to", email.To).Msg("Email sent")
	return nil
}

// truncate truncates a string to a maximum length
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// SendEmailAsync sends an email in a goroutine so callers are not blocked
func SendEmailAsync(cfg *config.Config, email *Email) {
	emailCopy := &Email{
		To:       append([]string{}, email.To...),
		Subject:  email.Subject,
		HTMLBody: email.HTMLBody,
		TextBody: email.TextBody,
	}

	go func(cfg *config.Config, email *Email) {
		if err := SendEmail(cfg, email); err != nil {
			logger.Log.Error().Err(err).Str("component", "email").Msg("Error sending async email")
		}
	}(cfg, emailCopy)
}

// buildTranslatedEmail renders a catalog subject and body; the HTML part is
// the escaped text with line breaks
func buildTranslatedEmail(to, lang, key string, args map[string]interface{}) *Email {
	text := i18n.Translate(lang, key+".body", args)
	html := strings.ReplaceAll(template.HTMLEscapeString(text), "\n", "<br>\n")
	return &Email{
		To:       []string{to},
		Subject:  i18n.Translate(lang, key+".subject"),
		HTMLBody: "<p>" + html + "</p>",
		TextBody: text,
	}
}

// BuildExportReadyEmail tells the requester where to download a finished export
func BuildExportReadyEmail(to, name string, total int, link, lang string) *Email {
	return buildTranslatedEmail(to, lang, "email.export_ready", map[string]interface{}{
		"name":  name,
		"total": total,
		"link":  link,
	})
}

// BuildExportFailedEmail tells the requester that an export could not be built
func BuildExportFailedEmail(to, name, reason, lang string) *Email {
	return buildTranslatedEmail(to, lang, "email.export_failed", map[string]interface{}{
		"name":  name,
		"error": reason,
	})
}
