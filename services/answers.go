package services

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"sure_app_go/models"

	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// WarningConsultantStatus is returned when consultant answers are recorded
// for a visit the client has not submitted
const WarningConsultantStatus = "warning.consultant_status"

// emptyText replaces blank free text so every choice keeps a text slot
const emptyText = "-"

// AnswerChoice is one chosen option; Code must be an integer but clients
// may send it as a string
type AnswerChoice struct {
	Code interface{} `json:"code"`
	Text string      `json:"text"`
}

// AnswerInput is the submission for one question
type AnswerInput struct {
	QuestionID string         `json:"question_id"`
	Choices    []AnswerChoice `json:"choices"`
}

func parseOptionCode(v interface{}) (int, bool) {
	switch c := v.(type) {
	case int:
		return c, true
	case float64:
		if c != math.Trunc(c) {
			return 0, false
		}
		return int(c), true
	case json.Number:
		n, err := strconv.Atoi(c.String())
		return n, err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(c))
		return n, err == nil
	default:
		return 0, false
	}
}

type normalizedAnswer struct {
	questionID string
	choices    []int
	texts      []string
}

// compileValidations turns question id to pattern pairs into matchers.
// Questions without a usable pattern map to nil.
func compileValidations(patterns map[string]string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(patterns))
	for id, pattern := range patterns {
		var re *regexp.Regexp
		if pattern != "" {
			re, _ = regexp.Compile(pattern)
		}
		out[id] = re
	}
	return out
}

func normalizeAnswers(answers []AnswerInput, validations map[string]*regexp.Regexp) ([]normalizedAnswer, error) {
	out := make([]normalizedAnswer, 0, len(answers))
	seen := map[string]bool{}
	for _, a := range answers {
		re, ok := validations[a.QuestionID]
		if !ok {
			return nil, ValidationError("invalid-question", "question %s does not belong to this questionnaire", a.QuestionID)
		}
		if seen[a.QuestionID] {
			return nil, ValidationError("duplicate-question", "question %s was answered twice", a.QuestionID)
		}
		seen[a.QuestionID] = true

		n := normalizedAnswer{questionID: a.QuestionID, choices: []int{}, texts: []string{}}
		for _, c := range a.Choices {
			code, ok := parseOptionCode(c.Code)
			if !ok {
				return nil, ValidationError("invalid-code", "option code %v is not an integer", c.Code)
			}
			text := strings.TrimSpace(c.Text)
			if text == "" {
				text = emptyText
			} else if re != nil && !re.MatchString(text) {
				return nil, ValidationError("invalid-text", "the answer %q has an invalid format", text)
			}
			n.choices = append(n.choices, code)
			n.texts = append(n.texts, text)
		}
		out = append(out, n)
	}
	return out, nil
}

// sameAnswer compares choices and texts ignoring order
func sameAnswer(choices []int, texts []string, latestChoices []int, latestTexts []string) bool {
	if len(choices) != len(latestChoices) || len(texts) != len(latestTexts) {
		return false
	}
	a, b := append([]int(nil), choices...), append([]int(nil), latestChoices...)
	sort.Ints(a)
	sort.Ints(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	s, t := append([]string(nil), texts...), append([]string(nil), latestTexts...)
	sort.Strings(s)
	sort.Strings(t)
	for i := range s {
		if s[i] != t[i] {
			return false
		}
	}
	return true
}

const latestAnswerCondition = "created_at = (SELECT MAX(a2.created_at) FROM %[1]s a2 WHERE a2.visit_id = %[1]s.visit_id AND a2.question_id = %[1]s.question_id)"

// LatestClientAnswers returns the current client answer per question id
func LatestClientAnswers(db *gorm.DB, visitID string) (map[string]models.ClientAnswer, error) {
	var rows []models.ClientAnswer
	err := db.Where("visit_id = ?", visitID).
		Where(fmt.Sprintf(latestAnswerCondition, "client_answers")).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load client answers: %w", err)
	}
	return lo.KeyBy(rows, func(a models.ClientAnswer) string { return a.QuestionID }), nil
}

// LatestConsultantAnswers returns the current consultant answer per question id
func LatestConsultantAnswers(db *gorm.DB, visitID string) (map[string]models.ConsultantAnswer, error) {
	var rows []models.ConsultantAnswer
	err := db.Where("visit_id = ?", visitID).
		Where(fmt.Sprintf(latestAnswerCondition, "consultant_answers")).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load consultant answers: %w", err)
	}
	return lo.KeyBy(rows, func(a models.ConsultantAnswer) string { return a.QuestionID }), nil
}

// ClientAnswerHistory returns the latest chosen codes per client question code
func ClientAnswerHistory(db *gorm.DB, visitID string) (AnswerHistory, error) {
	var rows []models.ClientAnswer
	err := db.Preload("Question").
		Where("visit_id = ?", visitID).
		Where(fmt.Sprintf(latestAnswerCondition, "client_answers")).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load client answers: %w", err)
	}
	history := AnswerHistory{}
	for _, a := range rows {
		if a.Question != nil {
			history[a.Question.Code] = a.Choices
		}
	}
	return history, nil
}

// clientQuestionValidations maps the client questions of a questionnaire that
// are asked at location to their text matcher
func clientQuestionValidations(db *gorm.DB, questionnaireID string, location *models.Location) (map[string]*regexp.Regexp, error) {
	var questions []models.ClientQuestion
	err := db.Select("client_questions.id", "client_questions.validation",
		"client_questions.optional_for_centers", "client_questions.extra_for_centers").
		Joins("JOIN sections ON sections.id = client_questions.section_id").
		Where("sections.questionnaire_id = ?", questionnaireID).
		Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load questions: %w", err)
	}
	questions = lo.Filter(questions, func(q models.ClientQuestion, _ int) bool { return questionAvailableAt(&q, location) })
	return compileValidations(lo.SliceToMap(questions, func(q models.ClientQuestion) (string, string) { return q.ID, q.Validation })), nil
}

func consultantQuestionValidations(db *gorm.DB, questionnaireID string) (map[string]*regexp.Regexp, error) {
	var questions []models.ConsultantQuestion
	err := db.Select("id", "validation").Where("questionnaire_id = ?", questionnaireID).Find(&questions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load consultant questions: %w", err)
	}
	return compileValidations(lo.SliceToMap(questions, func(q models.ConsultantQuestion) (string, string) { return q.ID, q.Validation })), nil
}

// visitLocation returns the location of the visit's case, loading what was
// not preloaded
func visitLocation(db *gorm.DB, visit *models.Visit) (*models.Location, error) {
	c, err := visitCase(db, visit)
	if err != nil {
		return nil, err
	}
	if c.Location == nil {
		var location models.Location
		if err := db.First(&location, "id = ?", c.LocationID).Error; err != nil {
			return nil, fmt.Errorf("failed to load location: %w", err)
		}
		c.Location = &location
	}
	return c.Location, nil
}

// RecordClientAnswers stores client answers that differ from the latest
// answer to the same question and moves the visit to client_submitted.
// Without an actor it is only allowed while the visit is created.
// It returns how many answers were stored.
func RecordClientAnswers(db *gorm.DB, visit *models.Visit, answers []AnswerInput, actor *models.User) (int, error) {
	location, err := visitLocation(db, visit)
	if err != nil {
		return 0, err
	}
	validations, err := clientQuestionValidations(db, visit.QuestionnaireID, location)
	if err != nil {
		return 0, err
	}
	normalized, err := normalizeAnswers(answers, validations)
	if err != nil {
		return 0, err
	}

	stored := 0
	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := Transition(tx, visit, EventClientSubmit, actor); err != nil {
			return err
		}

		latest, err := LatestClientAnswers(tx, visit.ID)
		if err != nil {
			return err
		}

		for _, a := range normalized {
			if prev, ok := latest[a.questionID]; ok && sameAnswer(a.choices, a.texts, prev.Choices, prev.Texts) {
				continue
			}
			row := &models.ClientAnswer{
				VisitID:    visit.ID,
				QuestionID: a.questionID,
				Choices:    datatypes.JSONSlice[int](a.choices),
				Texts:      datatypes.JSONSlice[string](a.texts),
			}
			if actor != nil {
				row.UserID = &actor.ID
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to store answer: %w", err)
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

// RecordConsultantAnswers stores changed consultant answers. Recording for a
// visit the client has not submitted works but returns a warning key.
func RecordConsultantAnswers(db *gorm.DB, visit *models.Visit, answers []AnswerInput, actor *models.User) (int, []string, error) {
	validations, err := consultantQuestionValidations(db, visit.QuestionnaireID)
	if err != nil {
		return 0, nil, err
	}
	normalized, err := normalizeAnswers(answers, validations)
	if err != nil {
		return 0, nil, err
	}

	var warnings []string
	if visit.Status != models.VisitStatusClientSubmitted {
		warnings = append(warnings, WarningConsultantStatus)
	}

	stored := 0
	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := Transition(tx, visit, EventConsultantSubmit, actor); err != nil {
			return err
		}

		latest, err := LatestConsultantAnswers(tx, visit.ID)
		if err != nil {
			return err
		}

		for _, a := range normalized {
			if prev, ok := latest[a.questionID]; ok && sameAnswer(a.choices, a.texts, prev.Choices, prev.Texts) {
				continue
			}
			row := &models.ConsultantAnswer{
				VisitID:    visit.ID,
				QuestionID: a.questionID,
				Choices:    datatypes.JSONSlice[int](a.choices),
				Texts:      datatypes.JSONSlice[string](a.texts),
			}
			if actor != nil {
				row.UserID = &actor.ID
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to store consultant answer: %w", err)
			}
			stored++
		}

		if actor != nil && visit.ConsultantID == nil {
			if err := tx.Model(visit).Update("consultant_id", actor.ID).Error; err != nil {
				return fmt.Errorf("failed to assign consultant: %w", err)
			}
			visit.ConsultantID = &actor.ID
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return stored, warnings, nil
}

// HistoryEntry is one stored answer of a visit
type HistoryEntry struct {
	Source       string    `json:"source"` // client or consultant
	QuestionID   string    `json:"question_id"`
	QuestionCode string    `json:"question_code"`
	Choices      []int     `json:"choices"`
	Texts        []string  `json:"texts"`
	UserID       *string   `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// CaseHistory returns every client and consultant answer of a visit in the order given
func CaseHistory(db *gorm.DB, visit *models.Visit) ([]HistoryEntry, error) {
	var clientRows []models.ClientAnswer
	if err := db.Preload("Question").Where("visit_id = ?", visit.ID).Find(&clientRows).Error; err != nil {
		return nil, fmt.Errorf("failed to load client answers: %w", err)
	}
	var consultantRows []models.ConsultantAnswer
	if err := db.Preload("Question").Where("visit_id = ?", visit.ID).Find(&consultantRows).Error; err != nil {
		return nil, fmt.Errorf("failed to load consultant answers: %w", err)
	}

	history := make([]HistoryEntry, 0, len(clientRows)+len(consultantRows))
	for _, a := range clientRows {
		e := HistoryEntry{Source: "client", QuestionID: a.QuestionID, Choices: a.Choices, Texts: a.Texts, UserID: a.UserID, CreatedAt: a.CreatedAt}
		if a.Question != nil {
			e.QuestionCode = a.Question.Code
		}
		history = append(history, e)
	}
	for _, a := range consultantRows {
		e := HistoryEntry{Source: "consultant", QuestionID: a.QuestionID, Choices: a.Choices, Texts: a.Texts, UserID: a.UserID, CreatedAt: a.CreatedAt}
		if a.Question != nil {
			e.QuestionCode = a.Question.Code
		}
		history = append(history, e)
	}
	sort.SliceStable(history, func(i, j int) bool { return history[i].CreatedAt.Before(history[j].CreatedAt) })
	return history, nil
}
