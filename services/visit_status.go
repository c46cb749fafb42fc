package services

import (
	"fmt"
	"time"

	"sure_app_go/models"

	"gorm.io/gorm"
)

// VisitEvent is something that happened to a visit and may move its status
type VisitEvent string

const (
	EventClientSubmit     VisitEvent = "client_submit"
	EventConsultantSubmit VisitEvent = "consultant_submit"
	EventRecordTests      VisitEvent = "record_tests"
	EventRecordResults    VisitEvent = "record_results"
	EventPublish          VisitEvent = "publish"
	EventClientView       VisitEvent = "client_view"
	EventExpire           VisitEvent = "expire"
	EventClose            VisitEvent = "close"
	EventCancel           VisitEvent = "cancel"
)

// keepStatus marks a transition that is allowed but leaves the status as it is
const keepStatus = ""

type transitionGuard func(tx *gorm.DB, visit *models.Visit, actor *models.User) error

type transition struct {
	from  []string
	to    string
	guard transitionGuard
}

var nonTerminalStatuses = []string{
	models.VisitStatusCreated,
	models.VisitStatusClientSubmitted,
	models.VisitStatusConsultantSubmitted,
	models.VisitStatusTestsRecorded,
	models.VisitStatusResultsRecorded,
	models.VisitStatusResultsSent,
	models.VisitStatusResultsSeen,
	models.VisitStatusResultsMissed,
}

// visitTransitions is the single source of truth for status changes.
// The first rule whose from list contains the current status applies.
var visitTransitions = map[VisitEvent][]transition{
	EventClientSubmit: {
		{from: []string{models.VisitStatusCreated}, to: models.VisitStatusClientSubmitted},
		{from: []string{models.VisitStatusClientSubmitted}, to: models.VisitStatusClientSubmitted, guard: requireActor},
		{
			from: []string{
				models.VisitStatusConsultantSubmitted,
				models.VisitStatusTestsRecorded,
				models.VisitStatusResultsRecorded,
				models.VisitStatusResultsSent,
				models.VisitStatusResultsSeen,
				models.VisitStatusResultsMissed,
			},
			to:    keepStatus,
			guard: requireActor,
		},
	},
	EventConsultantSubmit: {
		{
			from: []string{
				models.VisitStatusCreated,
				models.VisitStatusClientSubmitted,
				models.VisitStatusConsultantSubmitted,
			},
			to:    models.VisitStatusConsultantSubmitted,
			guard: requireActor,
		},
		{
			from: []string{
				models.VisitStatusTestsRecorded,
				models.VisitStatusResultsRecorded,
				models.VisitStatusResultsSent,
				models.VisitStatusResultsSeen,
				models.VisitStatusResultsMissed,
			},
			to:    keepStatus,
			guard: requireActor,
		},
	},
	EventRecordTests: {
		{
			from: []string{
				models.VisitStatusClientSubmitted,
				models.VisitStatusConsultantSubmitted,
				models.VisitStatusTestsRecorded,
			},
			to:    models.VisitStatusTestsRecorded,
			guard: requireActor,
		},
		{from: []string{models.VisitStatusResultsRecorded}, to: keepStatus, guard: requireActor},
	},
	EventRecordResults: {
		{
			from: []string{
				models.VisitStatusConsultantSubmitted,
				models.VisitStatusTestsRecorded,
				models.VisitStatusResultsRecorded,
				models.VisitStatusResultsSent,
				models.VisitStatusResultsSeen,
				models.VisitStatusResultsMissed,
			},
			to: models.VisitStatusResultsRecorded,
		},
	},
	EventPublish: {
		{
			from:  []string{models.VisitStatusTestsRecorded, models.VisitStatusResultsRecorded},
			to:    models.VisitStatusResultsSent,
			guard: requireClientSafeResults,
		},
	},
	EventClientView: {
		{from: []string{models.VisitStatusResultsSent}, to: models.VisitStatusResultsSeen},
		{from: []string{models.VisitStatusResultsSeen}, to: keepStatus},
	},
	EventExpire: {
		{from: []string{models.VisitStatusResultsSent}, to: models.VisitStatusResultsMissed},
	},
	EventClose: {
		{from: nonTerminalStatuses, to: models.VisitStatusClosed},
	},
	EventCancel: {
		{from: nonTerminalStatuses, to: models.VisitStatusCanceled},
	},
}

func requireActor(tx *gorm.DB, visit *models.Visit, actor *models.User) error {
	if actor == nil {
		return ValidationError("visit-submitted", "answers can no longer be changed for this case")
	}
	return nil
}

func requireClientSafeResults(tx *gorm.DB, visit *models.Visit, actor *models.User) error {
	results, err := LatestResults(tx, visit.ID)
	if err != nil {
		return err
	}
	for _, r := range results {
		if !IsClientSafe(r) {
			return ValidationError("results-not-sms-safe",
				"results of %s can not be published to the client", r.TestKind.Name)
		}
	}
	return nil
}

// NextStatus looks up the status an event leads to without running guards.
// changed is false when the event is legal but keeps the current status.
func NextStatus(current string, event VisitEvent) (next string, changed bool, err error) {
	rule, ok := findTransition(current, event)
	if !ok {
		return current, false, invalidTransition(current, event)
	}
	if rule.to == keepStatus || rule.to == current {
		return current, false, nil
	}
	return rule.to, true, nil
}

// CanTransition reports whether an event is legal for a status, ignoring guards
func CanTransition(current string, event VisitEvent) bool {
	_, ok := findTransition(current, event)
	return ok
}

func findTransition(current string, event VisitEvent) (transition, bool) {
	for _, rule := range visitTransitions[event] {
		for _, from := range rule.from {
			if from == current {
				return rule, true
			}
		}
	}
	return transition{}, false
}

func invalidTransition(current string, event VisitEvent) *Error {
	return ValidationError("invalid-transition", "cannot %s a visit in status %s", event, current)
}

// Transition applies event to the visit inside tx. It writes nothing when the
// status stays the same; real changes update the visit and append a VisitLog.
func Transition(tx *gorm.DB, visit *models.Visit, event VisitEvent, actor *models.User) (bool, error) {
	rule, ok := findTransition(visit.Status, event)
	if !ok {
		return false, invalidTransition(visit.Status, event)
	}
	if rule.guard != nil {
		if err := rule.guard(tx, visit, actor); err != nil {
			return false, err
		}
	}
	if rule.to == keepStatus || rule.to == visit.Status {
		return false, nil
	}

	from := visit.Status
	publishedAt := visit.PublishedAt
	updates := map[string]interface{}{"status": rule.to}
	switch event {
	case EventPublish:
		now := time.Now()
		publishedAt = &now
		updates["published_at"] = publishedAt
	case EventExpire:
		publishedAt = nil
		updates["published_at"] = nil
	}

	if err := tx.Model(visit).Updates(updates).Error; err != nil {
		return false, fmt.Errorf("failed to update visit status: %w", err)
	}

	entry := &models.VisitLog{
		VisitID:    visit.ID,
		FromStatus: from,
		ToStatus:   rule.to,
		Event:      string(event),
	}
	if actor != nil {
		entry.UserID = &actor.ID
	}
	if err := tx.Create(entry).Error; err != nil {
		return false, fmt.Errorf("failed to write visit log: %w", err)
	}

	visit.Status = rule.to
	visit.PublishedAt = publishedAt
	return true, nil
}

// ChangeVisitStatus closes or cancels a visit on behalf of a consultant
func ChangeVisitStatus(db *gorm.DB, visit *models.Visit, action string, actor *models.User) error {
	var event VisitEvent
	switch VisitEvent(action) {
	case EventClose, EventCancel:
		event = VisitEvent(action)
	default:
		return ValidationError("invalid-status-action", "unknown status action %q", action)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		_, err := Transition(tx, visit, event, actor)
		return err
	})
}
