package services

import (
	"testing"

	"sure_app_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func questionCodes(view *QuestionnaireView) []string {
	var codes []string
	for _, s := range view.Sections {
		for _, q := range s.Questions {
			codes = append(codes, q.Code)
		}
	}
	return codes
}

func findQuestion(t *testing.T, view *QuestionnaireView, code string) QuestionView {
	t.Helper()
	for _, s := range view.Sections {
		for _, q := range s.Questions {
			if q.Code == code {
				return q
			}
		}
	}
	t.Fatalf("question %s not in questionnaire", code)
	return QuestionView{}
}

func TestVisible(t *testing.T) {
	rule := VisibilityRule{Kind: VisibilityDependsOn, Triggers: []OptionRef{
		{QuestionCode: "TESTED_BEFORE", OptionCode: 1},
		{QuestionCode: "RISK", OptionCode: 3},
	}}

	tests := []struct {
		name    string
		rule    VisibilityRule
		answers AnswerHistory
		want    bool
	}{
		{"always without answers", VisibilityRule{Kind: VisibilityAlways}, nil, true},
		{"no answers", rule, AnswerHistory{}, false},
		{"first trigger", rule, AnswerHistory{"TESTED_BEFORE": {1}}, true},
		{"other option", rule, AnswerHistory{"TESTED_BEFORE": {2}}, false},
		{"second trigger in multi choice", rule, AnswerHistory{"RISK": {1, 3}}, true},
		{"same code other question", rule, AnswerHistory{"SEX": {1}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Visible(tt.rule, tt.answers))
		})
	}
}

func TestBuildQuestionnaire(t *testing.T) {
	db, demo := setupDemo(t)

	t.Run("location filters optional and extra questions", func(t *testing.T) {
		view, err := BuildQuestionnaire(db, demo.Questionnaire.ID, &demo.Location, false)
		require.NoError(t, err)
		assert.Equal(t, DemoQuestionnaireName, view.Name)
		require.Len(t, view.Sections, 2)
		assert.Equal(t, "About you", view.Sections[0].Title)
		assert.Equal(t, []string{"SEX", "TESTED_BEFORE", "LAST_TEST", "COUNTRY", "RISK"}, questionCodes(view))
		assert.Empty(t, view.ConsultantQuestions)
	})

	t.Run("other location keeps optional questions", func(t *testing.T) {
		view, err := BuildQuestionnaire(db, demo.Questionnaire.ID, &demo.OtherLocation, false)
		require.NoError(t, err)
		assert.Contains(t, questionCodes(view), "PREP")
		assert.NotContains(t, questionCodes(view), "STUDY")
	})

	t.Run("included extra question", func(t *testing.T) {
		loc := demo.OtherLocation
		loc.IncludedQuestions = []string{demo.Questions["STUDY"].ID}
		view, err := BuildQuestionnaire(db, demo.Questionnaire.ID, &loc, false)
		require.NoError(t, err)
		assert.Contains(t, questionCodes(view), "STUDY")
	})

	t.Run("internal view adds consultant questions", func(t *testing.T) {
		view, err := BuildQuestionnaire(db, demo.Questionnaire.ID, &demo.Location, true)
		require.NoError(t, err)
		require.Len(t, view.ConsultantQuestions, 2)
		assert.Equal(t, ReminderQuestionCode, view.ConsultantQuestions[0].Code)
		assert.Len(t, view.ConsultantQuestions[0].Options, 4)
	})

	t.Run("rules and dropdowns", func(t *testing.T) {
		view, err := BuildQuestionnaire(db, demo.Questionnaire.ID, &demo.Location, false)
		require.NoError(t, err)

		lastTest := findQuestion(t, view, "LAST_TEST")
		assert.Equal(t, VisibilityDependsOn, lastTest.Visibility.Kind)
		assert.Equal(t, []OptionRef{{QuestionCode: "TESTED_BEFORE", OptionCode: 1}}, lastTest.Visibility.Triggers)
		assert.Equal(t, VisibilityAlways, findQuestion(t, view, "SEX").Visibility.Kind)

		country := findQuestion(t, view, "COUNTRY")
		require.Len(t, country.Options, 1)
		require.Len(t, country.Dropdowns, 1)
		assert.Equal(t, 2, country.Dropdowns[0].Code)
		assert.Contains(t, country.Dropdowns[0].Choices, "Germany")

		sex := findQuestion(t, view, "SEX")
		assert.True(t, sex.Options[2].AllowText)
	})

	t.Run("consultant notes stay internal", func(t *testing.T) {
		require.NoError(t, db.Model(&models.ClientOption{}).
			Where("question_id = ? AND code = ?", demo.Questions["RISK"].ID, 1).
			Update("text_for_consultant", "ask about condom use").Error)

		public, err := BuildQuestionnaire(db, demo.Questionnaire.ID, &demo.Location, false)
		require.NoError(t, err)
		for _, o := range findQuestion(t, public, "RISK").Options {
			assert.Empty(t, o.TextForConsultant)
		}

		internal, err := BuildQuestionnaire(db, demo.Questionnaire.ID, &demo.Location, true)
		require.NoError(t, err)
		risk := findQuestion(t, internal, "RISK")
		require.NotEmpty(t, risk.Options)
		assert.Equal(t, 1, risk.Options[0].Code)
		assert.Equal(t, "ask about condom use", risk.Options[0].TextForConsultant)
	})

	t.Run("unknown questionnaire", func(t *testing.T) {
		_, err := BuildQuestionnaire(db, "missing", &demo.Location, false)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRuleForWithoutTriggers(t *testing.T) {
	rule := RuleFor(&models.ClientQuestion{})
	assert.Equal(t, VisibilityRule{Kind: VisibilityAlways}, rule)
}
