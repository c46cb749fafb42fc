package services

import (
	"testing"

	"sure_app_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionCode(t *testing.T) {
	tests := []struct {
		in   interface{}
		code int
		ok   bool
	}{
		{2, 2, true},
		{float64(3), 3, true},
		{1.5, 0, false},
		{" 4 ", 4, true},
		{"four", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		code, ok := parseOptionCode(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.Equal(t, tt.code, code, "%v", tt.in)
	}
}

func TestRecordClientAnswers(t *testing.T) {
	db, demo := setupDemo(t)
	answers := []AnswerInput{
		{QuestionID: demo.Questions["SEX"].ID, Choices: []AnswerChoice{{Code: "3", Text: " nonbinary "}}},
		{QuestionID: demo.Questions["TESTED_BEFORE"].ID, Choices: []AnswerChoice{{Code: float64(1)}}},
	}

	t.Run("first submission moves the visit", func(t *testing.T) {
		visit := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)

		stored, err := RecordClientAnswers(db, visit, answers, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, stored)
		assert.Equal(t, models.VisitStatusClientSubmitted, visit.Status)

		latest, err := LatestClientAnswers(db, visit.ID)
		require.NoError(t, err)
		sex := latest[demo.Questions["SEX"].ID]
		assert.Equal(t, []int{3}, []int(sex.Choices))
		assert.Equal(t, []string{"nonbinary"}, []string(sex.Texts))
		assert.Equal(t, []string{emptyText}, []string(latest[demo.Questions["TESTED_BEFORE"].ID].Texts))

		history, err := ClientAnswerHistory(db, visit.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, history["TESTED_BEFORE"])
	})

	t.Run("anonymous resubmission is refused", func(t *testing.T) {
		visit := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
		_, err := RecordClientAnswers(db, visit, answers, nil)
		require.NoError(t, err)

		_, err = RecordClientAnswers(db, visit, answers, nil)
		assert.Equal(t, "visit-submitted", ErrorCode(err))
	})

	t.Run("identical answers are stored once", func(t *testing.T) {
		visit := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
		_, err := RecordClientAnswers(db, visit, answers, nil)
		require.NoError(t, err)

		stored, err := RecordClientAnswers(db, visit, answers, &demo.Consultant)
		require.NoError(t, err)
		assert.Zero(t, stored)

		changed := []AnswerInput{{QuestionID: demo.Questions["TESTED_BEFORE"].ID, Choices: []AnswerChoice{{Code: 2}}}}
		stored, err = RecordClientAnswers(db, visit, changed, &demo.Consultant)
		require.NoError(t, err)
		assert.Equal(t, 1, stored)

		var count int64
		require.NoError(t, db.Model(&models.ClientAnswer{}).Where("visit_id = ?", visit.ID).Count(&count).Error)
		assert.Equal(t, int64(3), count)

		history, err := ClientAnswerHistory(db, visit.ID)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, history["TESTED_BEFORE"])
	})

	t.Run("staff corrects answers after results went out", func(t *testing.T) {
		visit := newVisit(t, db, demo, demo.Location, models.VisitStatusResultsSeen)
		stored, err := RecordClientAnswers(db, visit, answers, &demo.Consultant)
		require.NoError(t, err)
		assert.Equal(t, 2, stored)
		assert.Equal(t, models.VisitStatusResultsSeen, reload(t, db, visit).Status)

		_, err = RecordClientAnswers(db, visit, answers, nil)
		assert.Equal(t, "visit-submitted", ErrorCode(err))
	})

	t.Run("multiple choice order does not matter", func(t *testing.T) {
		visit := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
		risk := demo.Questions["RISK"].ID
		_, err := RecordClientAnswers(db, visit, []AnswerInput{{QuestionID: risk,
			Choices: []AnswerChoice{{Code: 1}, {Code: 2}}}}, nil)
		require.NoError(t, err)

		stored, err := RecordClientAnswers(db, visit, []AnswerInput{{QuestionID: risk,
			Choices: []AnswerChoice{{Code: 2}, {Code: 1}}}}, &demo.Consultant)
		require.NoError(t, err)
		assert.Zero(t, stored)
	})

	cases := []struct {
		name    string
		answers []AnswerInput
		code    string
	}{
		{"foreign question", []AnswerInput{{QuestionID: demo.ConsultantQuestions["COUNSELING"].ID}}, "invalid-question"},
		{"duplicate question", []AnswerInput{answers[1], answers[1]}, "duplicate-question"},
		{"non integer code", []AnswerInput{{QuestionID: demo.Questions["SEX"].ID,
			Choices: []AnswerChoice{{Code: "female"}}}}, "invalid-code"},
		{"question switched off at the location", []AnswerInput{{QuestionID: demo.Questions["PREP"].ID,
			Choices: []AnswerChoice{{Code: 1}}}}, "invalid-question"},
		{"extra question not included", []AnswerInput{{QuestionID: demo.Questions["STUDY"].ID,
			Choices: []AnswerChoice{{Code: 1, Text: "hello"}}}}, "invalid-question"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			visit := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
			_, err := RecordClientAnswers(db, visit, tc.answers, nil)
			assert.Equal(t, tc.code, ErrorCode(err))
			assert.Equal(t, models.VisitStatusCreated, reload(t, db, visit).Status)
		})
	}
}

func TestRecordClientAnswersByLocation(t *testing.T) {
	db, demo := setupDemo(t)
	prep := []AnswerInput{{QuestionID: demo.Questions["PREP"].ID, Choices: []AnswerChoice{{Code: 1}}}}

	basel := newVisit(t, db, demo, demo.OtherLocation, models.VisitStatusCreated)
	stored, err := RecordClientAnswers(db, basel, prep, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stored)

	// without a preloaded case the location is looked up
	zurich := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
	zurich.Case = nil
	_, err = RecordClientAnswers(db, zurich, prep, nil)
	assert.Equal(t, "invalid-question", ErrorCode(err))
}

func TestNormalizeAnswersValidation(t *testing.T) {
	validations := compileValidations(map[string]string{
		"zip":    `^[0-9]{4}$`,
		"free":   "",
		"broken": "([",
	})
	require.NotNil(t, validations["zip"])
	assert.Nil(t, validations["free"])
	assert.Nil(t, validations["broken"])

	out, err := normalizeAnswers([]AnswerInput{
		{QuestionID: "zip", Choices: []AnswerChoice{{Code: 1, Text: "8001"}}},
		{QuestionID: "broken", Choices: []AnswerChoice{{Code: 1, Text: "anything"}}},
	}, validations)
	require.NoError(t, err)
	assert.Len(t, out, 2)

	_, err = normalizeAnswers([]AnswerInput{
		{QuestionID: "zip", Choices: []AnswerChoice{{Code: 1, Text: "80011"}}},
	}, validations)
	assert.Equal(t, "invalid-text", ErrorCode(err))
}

func TestRecordConsultantAnswers(t *testing.T) {
	db, demo := setupDemo(t)
	answers := []AnswerInput{
		{QuestionID: demo.ConsultantQuestions[ReminderQuestionCode].ID, Choices: []AnswerChoice{{Code: 1}}},
		{QuestionID: demo.ConsultantQuestions["COUNSELING"].ID, Choices: []AnswerChoice{{Code: 1, Text: "talked about PrEP"}}},
	}

	t.Run("warns before the client submitted", func(t *testing.T) {
		visit := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)
		stored, warnings, err := RecordConsultantAnswers(db, visit, answers, &demo.Consultant)
		require.NoError(t, err)
		assert.Equal(t, 2, stored)
		assert.Equal(t, []string{WarningConsultantStatus}, warnings)
		assert.Equal(t, models.VisitStatusConsultantSubmitted, visit.Status)
		require.NotNil(t, visit.ConsultantID)
		assert.Equal(t, demo.Consultant.ID, *visit.ConsultantID)
	})

	t.Run("no warning after client submission", func(t *testing.T) {
		visit := newVisit(t, db, demo, demo.Location, models.VisitStatusClientSubmitted)
		_, warnings, err := RecordConsultantAnswers(db, visit, answers, &demo.Consultant)
		require.NoError(t, err)
		assert.Empty(t, warnings)

		stored, _, err := RecordConsultantAnswers(db, visit, answers, &demo.Consultant)
		require.NoError(t, err)
		assert.Zero(t, stored)

		latest, err := LatestConsultantAnswers(db, visit.ID)
		require.NoError(t, err)
		assert.Len(t, latest, 2)
	})

	t.Run("client questions are rejected", func(t *testing.T) {
		visit := newVisit(t, db, demo, demo.Location, models.VisitStatusClientSubmitted)
		_, _, err := RecordConsultantAnswers(db, visit, []AnswerInput{{QuestionID: demo.Questions["SEX"].ID}}, &demo.Consultant)
		assert.Equal(t, "invalid-question", ErrorCode(err))
	})

	t.Run("anonymous callers are refused", func(t *testing.T) {
		visit := newVisit(t, db, demo, demo.Location, models.VisitStatusClientSubmitted)
		_, _, err := RecordConsultantAnswers(db, visit, answers, nil)
		assert.Equal(t, "visit-submitted", ErrorCode(err))
	})

	for _, status := range []string{
		models.VisitStatusResultsSent,
		models.VisitStatusResultsSeen,
		models.VisitStatusResultsMissed,
	} {
		t.Run("follow-up notes after "+status, func(t *testing.T) {
			visit := newVisit(t, db, demo, demo.Location, status)
			stored, warnings, err := RecordConsultantAnswers(db, visit, answers, &demo.Consultant)
			require.NoError(t, err)
			assert.Equal(t, 2, stored)
			assert.Equal(t, []string{WarningConsultantStatus}, warnings)
			assert.Equal(t, status, visit.Status)
			assert.Equal(t, status, reload(t, db, visit).Status)
		})
	}
}

func TestCaseHistory(t *testing.T) {
	db, demo := setupDemo(t)
	visit := newVisit(t, db, demo, demo.Location, models.VisitStatusCreated)

	_, err := RecordClientAnswers(db, visit, []AnswerInput{
		{QuestionID: demo.Questions["SEX"].ID, Choices: []AnswerChoice{{Code: 1}}},
	}, nil)
	require.NoError(t, err)
	_, _, err = RecordConsultantAnswers(db, visit, []AnswerInput{
		{QuestionID: demo.ConsultantQuestions[ReminderQuestionCode].ID, Choices: []AnswerChoice{{Code: 4}}},
	}, &demo.Consultant)
	require.NoError(t, err)
	_, err = RecordClientAnswers(db, visit, []AnswerInput{
		{QuestionID: demo.Questions["SEX"].ID, Choices: []AnswerChoice{{Code: 2}}},
	}, &demo.Consultant)
	require.NoError(t, err)

	history, err := CaseHistory(db, visit)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "client", history[0].Source)
	assert.Equal(t, "SEX", history[0].QuestionCode)
	assert.Nil(t, history[0].UserID)
	assert.Equal(t, "consultant", history[1].Source)
	assert.Equal(t, ReminderQuestionCode, history[1].QuestionCode)
	assert.Equal(t, []int{2}, history[2].Choices)
	require.NotNil(t, history[2].UserID)
	assert.Equal(t, demo.Consultant.ID, *history[2].UserID)
}
