package services

import (
	"errors"
	"fmt"
	"sort"

	"sure_app_go/models"

	"gorm.io/gorm"
)

// Visibility kinds of a question
const (
	VisibilityAlways    = "always"
	VisibilityDependsOn = "depends_on"
)

// OptionRef names one option of a question by codes
type OptionRef struct {
	QuestionCode string `json:"question_code"`
	OptionCode   int    `json:"option_code"`
}

// VisibilityRule decides when a question is shown. A depends_on question is
// shown once any of its trigger options was chosen.
type VisibilityRule struct {
	Kind     string      `json:"kind"`
	Triggers []OptionRef `json:"triggers,omitempty"`
}

// AnswerHistory maps a question code to the option codes chosen for it
type AnswerHistory map[string][]int

// Visible evaluates a rule against the answers given so far
func Visible(rule VisibilityRule, answers AnswerHistory) bool {
	if rule.Kind != VisibilityDependsOn {
		return true
	}
	for _, trigger := range rule.Triggers {
		for _, code := range answers[trigger.QuestionCode] {
			if code == trigger.OptionCode {
				return true
			}
		}
	}
	return false
}

// OptionView is an answer option as sent to the form
type OptionView struct {
	ID                string   `json:"id"`
	Code              int      `json:"code"`
	Text              string   `json:"text"`
	AllowText         bool     `json:"allow_text"`
	Choices           []string `json:"choices,omitempty"`
	TextForConsultant string   `json:"text_for_consultant,omitempty"`
}

// QuestionView is a question with its static options and dropdowns split apart
type QuestionView struct {
	ID         string         `json:"id"`
	Code       string         `json:"code"`
	Text       string         `json:"question_text"`
	Format     string         `json:"format"`
	Label      string         `json:"label,omitempty"`
	CopyPaste  string         `json:"copy_paste,omitempty"`
	Validation string         `json:"validation,omitempty"`
	Options    []OptionView   `json:"options"`
	Dropdowns  []OptionView   `json:"dropdowns"`
	Visibility VisibilityRule `json:"visibility"`
}

// SectionView is one page of the client form
type SectionView struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Questions   []QuestionView `json:"questions"`
}

// QuestionnaireView is the assembled form of a visit
type QuestionnaireView struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Sections            []SectionView  `json:"sections"`
	ConsultantQuestions []QuestionView `json:"consultant_questions,omitempty"`
}

// BuildQuestionnaire assembles the questionnaire for a location. Optional
// questions the location excluded and extra questions it did not include
// are left out. internal adds the consultant questions.
func BuildQuestionnaire(db *gorm.DB, questionnaireID string, location *models.Location, internal bool) (*QuestionnaireView, error) {
	var q models.Questionnaire
	query := db.
		Preload("Sections", func(db *gorm.DB) *gorm.DB { return db.Order("sections.\"order\" ASC") }).
		Preload("Sections.Questions", func(db *gorm.DB) *gorm.DB { return db.Order("client_questions.\"order\" ASC") }).
		Preload("Sections.Questions.Options", func(db *gorm.DB) *gorm.DB { return db.Order("client_options.\"order\" ASC") }).
		Preload("Sections.Questions.ShowForOptions.Question")
	if internal {
		query = query.
			Preload("ConsultantQuestions", func(db *gorm.DB) *gorm.DB { return db.Order("consultant_questions.\"order\" ASC") }).
			Preload("ConsultantQuestions.Options", func(db *gorm.DB) *gorm.DB { return db.Order("consultant_options.\"order\" ASC") })
	}
	if err := query.First(&q, "id = ?", questionnaireID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NotFoundError("questionnaire not found")
		}
		return nil, fmt.Errorf("failed to load questionnaire: %w", err)
	}

	view := &QuestionnaireView{ID: q.ID, Name: q.Name, Sections: make([]SectionView, 0, len(q.Sections))}
	for _, s := range q.Sections {
		sv := SectionView{ID: s.ID, Title: s.Title, Description: s.Description, Questions: []QuestionView{}}
		for _, cq := range s.Questions {
			if !questionAvailableAt(&cq, location) {
				continue
			}
			sv.Questions = append(sv.Questions, clientQuestionView(&cq, internal))
		}
		view.Sections = append(view.Sections, sv)
	}

	if internal {
		for _, cq := range q.ConsultantQuestions {
			view.ConsultantQuestions = append(view.ConsultantQuestions, consultantQuestionView(&cq))
		}
	}
	return view, nil
}

func questionAvailableAt(q *models.ClientQuestion, location *models.Location) bool {
	if location == nil {
		return !q.ExtraForCenters
	}
	if q.OptionalForCenters && location.Excludes(q.ID) {
		return false
	}
	if q.ExtraForCenters && !location.Includes(q.ID) {
		return false
	}
	return true
}

// RuleFor returns the visibility rule of a client question. ShowForOptions
// must be preloaded with their questions.
func RuleFor(q *models.ClientQuestion) VisibilityRule {
	if len(q.ShowForOptions) == 0 {
		return VisibilityRule{Kind: VisibilityAlways}
	}
	rule := VisibilityRule{Kind: VisibilityDependsOn}
	for _, o := range q.ShowForOptions {
		ref := OptionRef{OptionCode: o.Code}
		if o.Question != nil {
			ref.QuestionCode = o.Question.Code
		}
		rule.Triggers = append(rule.Triggers, ref)
	}
	sort.Slice(rule.Triggers, func(i, j int) bool {
		if rule.Triggers[i].QuestionCode != rule.Triggers[j].QuestionCode {
			return rule.Triggers[i].QuestionCode < rule.Triggers[j].QuestionCode
		}
		return rule.Triggers[i].OptionCode < rule.Triggers[j].OptionCode
	})
	return rule
}

// clientQuestionView renders a client question; consultant notes on options
// are only shown internally
func clientQuestionView(q *models.ClientQuestion, internal bool) QuestionView {
	view := QuestionView{
		ID:         q.ID,
		Code:       q.Code,
		Text:       q.QuestionText,
		Format:     q.Format,
		Label:      q.Label,
		CopyPaste:  q.CopyPaste,
		Validation: q.Validation,
		Options:    []OptionView{},
		Dropdowns:  []OptionView{},
		Visibility: RuleFor(q),
	}
	for _, o := range q.Options {
		ov := OptionView{ID: o.ID, Code: o.Code, Text: o.Text, AllowText: o.AllowText, Choices: o.Choices}
		if internal {
			ov.TextForConsultant = o.TextForConsultant
		}
		if o.IsDropdown() {
			view.Dropdowns = append(view.Dropdowns, ov)
		} else {
			view.Options = append(view.Options, ov)
		}
	}
	return view
}

func consultantQuestionView(q *models.ConsultantQuestion) QuestionView {
	view := QuestionView{
		ID:         q.ID,
		Code:       q.Code,
		Text:       q.QuestionText,
		Format:     q.Format,
		Label:      q.Label,
		Validation: q.Validation,
		Options:    []OptionView{},
		Dropdowns:  []OptionView{},
		Visibility: VisibilityRule{Kind: VisibilityAlways},
	}
	for _, o := range q.Options {
		ov := OptionView{ID: o.ID, Code: o.Code, Text: o.Text, AllowText: o.AllowText, Choices: o.Choices}
		if o.IsDropdown() {
			view.Dropdowns = append(view.Dropdowns, ov)
		} else {
			view.Options = append(view.Options, ov)
		}
	}
	return view
}
