package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sure_app_go/config"
	"sure_app_go/logger"
	"sure_app_go/models"
	"sure_app_go/services"
	"sure_app_go/services/i18n"

	"gorm.io/gorm"
)

// ErrInvalidDuration is returned for reminder texts that are not "<n> <unit>"
var ErrInvalidDuration = errors.New("invalid duration string")

// ParseDurationString reads "2 weeks", "3 days", "1 month" or "1 year".
// A month counts as 4 weeks and a year as 52 weeks.
func ParseDurationString(s string) (time.Duration, error) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	n, err := strconv.Atoi(parts[0])
	if err != nil || n < 0 || strings.ContainsAny(parts[0], "+-") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}

	const (
		day  = 24 * time.Hour
		week = 7 * day
	)
	unit := strings.TrimSpace(parts[1])
	switch {
	case strings.HasPrefix(unit, "week"):
		return time.Duration(n) * week, nil
	case strings.HasPrefix(unit, "day"):
		return time.Duration(n) * day, nil
	case strings.HasPrefix(unit, "month"):
		return time.Duration(n) * 4 * week, nil
	case strings.HasPrefix(unit, "year"):
		return time.Duration(n) * 52 * week, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
}

// ReminderDate derives when the client should be reminded from the latest
// consultant answer to the reminder question. nil means no reminder.
func ReminderDate(db *gorm.DB, visit *models.Visit) (*time.Time, error) {
	var answer models.ConsultantAnswer
	err := db.Joins("JOIN consultant_questions ON consultant_questions.id = consultant_answers.question_id").
		Where("consultant_answers.visit_id = ? AND consultant_questions.code = ?", visit.ID, services.ReminderQuestionCode).
		Order("consultant_answers.created_at DESC").
		First(&answer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reminder answer: %w", err)
	}
	if len(answer.Choices) != 1 {
		return nil, nil
	}

	var option models.ConsultantOption
	err = db.Where("question_id = ? AND code = ?", answer.QuestionID, answer.Choices[0]).First(&option).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reminder option: %w", err)
	}

	d, err := ParseDurationString(option.Text)
	if err != nil {
		logger.Component("reminders").Warn().Str("option_id", option.ID).Str("text", option.Text).Msg("Reminder option is not a duration")
		return nil, nil
	}
	at := answer.CreatedAt.Add(d)
	return &at, nil
}

// reminderText joins the generic reminder with the location's own text
func reminderText(c *models.Case) string {
	text := i18n.Translate(c.Language, "sms.reminder")
	if c.Location != nil && strings.TrimSpace(c.Location.ReminderText) != "" {
		text += "\n" + c.Location.ReminderText
	}
	return text
}

// SendReminders texts connected clients whose reminder date has passed.
// Visits without a reminder date are marked so they are not checked again.
// A failed SMS leaves the visit for the next run.
func SendReminders(ctx context.Context, db *gorm.DB, cfg *config.Config, sender services.SMSSender, now time.Time) (sent, total int, err error) {
	log := logger.Component("reminders")

	var visits []models.Visit
	err = db.Preload("Case.Location").Preload("Case.Connection.Client.Contact").
		Joins("JOIN connections ON connections.case_id = visits.case_id").
		Where("visits.no_reminder = ? AND visits.reminder_sent_at IS NULL", false).
		Find(&visits).Error
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load visits for reminders: %w", err)
	}
	total = len(visits)

	for i := range visits {
		visit := &visits[i]
		at, err := ReminderDate(db, visit)
		if err != nil {
			log.Error().Err(err).Str("visit_id", visit.ID).Msg("Failed to compute reminder date")
			continue
		}
		if at == nil {
			if err := db.Model(visit).UpdateColumn("no_reminder", true).Error; err != nil {
				log.Error().Err(err).Str("visit_id", visit.ID).Msg("Failed to mark visit without reminder")
			}
			continue
		}
		if at.After(now) {
			continue
		}

		c := visit.Case
		if c == nil || c.Connection == nil || c.Connection.Client == nil || c.Connection.Client.Contact == nil {
			continue
		}
		tenantID := ""
		if c.Location != nil {
			tenantID = c.Location.TenantID
		}
		if err := services.SendSMS(ctx, db, sender, tenantID, c.Connection.Client.Contact.PhoneNumber, reminderText(c)); err != nil {
			log.Error().Err(err).Str("visit_id", visit.ID).Msg("Failed to send reminder")
			continue
		}

		if err := db.Model(visit).UpdateColumn("reminder_sent_at", now).Error; err != nil {
			log.Error().Err(err).Str("visit_id", visit.ID).Msg("Failed to mark reminder as sent")
			continue
		}
		sent++
	}

	log.Info().Int("sent", sent).Int("total", total).Msg("Reminder job completed")
	return sent, total, nil
}
