package jobs

import (
	"fmt"
	"time"

	"sure_app_go/logger"
	"sure_app_go/models"
	"sure_app_go/services"

	"gorm.io/gorm"
)

// ResetUnseen moves published results the client never opened within window
// to results_missed. Returns how many visits were moved.
func ResetUnseen(db *gorm.DB, now time.Time, window time.Duration) (int, error) {
	var visits []models.Visit
	err := db.Where("status = ? AND published_at IS NOT NULL AND published_at < ?", models.VisitStatusResultsSent, now.Add(-window)).
		Find(&visits).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load unseen visits: %w", err)
	}
	return applyEvent(db, visits, services.EventExpire)
}

// CloseSeen closes visits whose results were seen and that did not change within window
func CloseSeen(db *gorm.DB, now time.Time, window time.Duration) (int, error) {
	var visits []models.Visit
	err := db.Where("status = ? AND updated_at < ?", models.VisitStatusResultsSeen, now.Add(-window)).
		Find(&visits).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load seen visits: %w", err)
	}
	return applyEvent(db, visits, services.EventClose)
}

// applyEvent transitions each visit in its own transaction so one failure
// does not hold back the rest
func applyEvent(db *gorm.DB, visits []models.Visit, event services.VisitEvent) (int, error) {
	log := logger.Component("sweep")
	moved := 0
	for i := range visits {
		visit := &visits[i]
		var changed bool
		err := db.Transaction(func(tx *gorm.DB) error {
			var err error
			changed, err = services.Transition(tx, visit, event, nil)
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("visit_id", visit.ID).Str("event", string(event)).Msg("Sweep transition failed")
			continue
		}
		if changed {
			moved++
		}
	}
	log.Info().Str("event", string(event)).Int("visits", len(visits)).Int("moved", moved).Msg("Sweep done")
	return moved, nil
}

// RunSweeps runs both sweeps with the configured retention
func RunSweeps(db *gorm.DB, retentionDays int, now time.Time) error {
	window := time.Duration(retentionDays) * 24 * time.Hour
	if _, err := ResetUnseen(db, now, window); err != nil {
		return err
	}
	if _, err := CloseSeen(db, now, window); err != nil {
		return err
	}
	return nil
}
