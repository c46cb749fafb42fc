package services

import (
	"fmt"
	"os"
	"strings"

	"sure_app_go/logger"
	"sure_app_go/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// DemoQuestionnaireName names the questionnaire created by SeedDemoData
const DemoQuestionnaireName = "SURE demo"

// ReminderQuestionCode is the consultant question whose answer schedules the reminder SMS
const ReminderQuestionCode = "REMINDER"

// SeedSuperuserFromEnv creates a superuser from SUPERUSER_EMAIL and
// SUPERUSER_PASSWORD unless a superuser already exists
func SeedSuperuserFromEnv(db *gorm.DB) error {
	email := strings.ToLower(strings.TrimSpace(os.Getenv("SUPERUSER_EMAIL")))
	password := os.Getenv("SUPERUSER_PASSWORD")
	name := os.Getenv("SUPERUSER_NAME")
	if email == "" || password == "" {
		return nil
	}
	if name == "" {
		name = "Superuser"
	}
	log := logger.Component("seed")

	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleSuperuser).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count superusers: %w", err)
	}
	if count > 0 {
		log.Info().Msg("Superuser already exists, skipping seed")
		return nil
	}

	if err := db.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if count > 0 {
		log.Info().Str("email", email).Msg("User with this email already exists, skipping superuser seed")
		return nil
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return err
	}
	user := &models.User{
		Name:     name,
		Email:    email,
		Password: hashedPassword,
		Role:     models.RoleSuperuser,
		IsActive: true,
	}
	if err := db.Create(user).Error; err != nil {
		return fmt.Errorf("failed to create superuser: %w", err)
	}

	log.Info().Str("email", email).Msg("Created superuser")
	return nil
}

// DemoData holds the records created by SeedDemoData
type DemoData struct {
	Tenant        models.Tenant
	Location      models.Location
	OtherLocation models.Location
	Admin         models.User
	Consultant    models.User
	Questionnaire models.Questionnaire
	// Client questions by code
	Questions map[string]models.ClientQuestion
	// Consultant questions by code
	ConsultantQuestions map[string]models.ConsultantQuestion
	// Test kinds by name
	TestKinds map[string]models.TestKind
	Bundle    models.TestBundle
	Tags      []models.Tag
}

// ResultOption returns the option of a demo test kind by label
func (d *DemoData) ResultOption(kind, label string) models.TestResultOption {
	for _, o := range d.TestKinds[kind].ResultOptions {
		if o.Label == label {
			return o
		}
	}
	return models.TestResultOption{}
}

type demoOption struct {
	code      int
	text      string
	allowText bool
	choices   []string
}

type demoQuestion struct {
	code       string
	text       string
	format     string
	options    []demoOption
	optional   bool
	extra      bool
	showFor    [2]int // question index and option code this question depends on
	hasShowFor bool
}

// SeedDemoData creates one tenant with two locations, staff users, a
// questionnaire, a test catalog and a laboratory setup. password is used for
// both demo users.
func SeedDemoData(db *gorm.DB, password string) (*DemoData, error) {
	var count int64
	if err := db.Model(&models.Questionnaire{}).Where("name = ?", DemoQuestionnaireName).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check demo data: %w", err)
	}
	if count > 0 {
		return nil, ValidationError("demo-seeded", "demo data already present")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	demo := &DemoData{
		Questions:           map[string]models.ClientQuestion{},
		ConsultantQuestions: map[string]models.ConsultantQuestion{},
		TestKinds:           map[string]models.TestKind{},
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		demo.Tenant = models.Tenant{Name: "Checkpoint Demo"}
		if err := tx.Create(&demo.Tenant).Error; err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}
		demo.Location = models.Location{
			TenantID:     demo.Tenant.ID,
			Name:         "Zurich",
			Address:      "Konradstrasse 1, 8005 Zurich",
			ReminderText: "Checkpoint Zurich, Mon-Fri 16-20h",
		}
		demo.OtherLocation = models.Location{TenantID: demo.Tenant.ID, Name: "Basel"}
		if err := tx.Create(&demo.Location).Error; err != nil {
			return fmt.Errorf("failed to create location: %w", err)
		}
		if err := tx.Create(&demo.OtherLocation).Error; err != nil {
			return fmt.Errorf("failed to create location: %w", err)
		}

		tenantID := demo.Tenant.ID
		demo.Admin = models.User{Name: "Demo Admin", Email: "admin@demo.sure.local", Password: hash,
			Role: models.RoleAdmin, TenantID: &tenantID, IsActive: true}
		demo.Consultant = models.User{Name: "Demo Consultant", Email: "consultant@demo.sure.local", Password: hash,
			Role: models.RoleConsultant, TenantID: &tenantID, IsActive: true}
		for _, u := range []*models.User{&demo.Admin, &demo.Consultant} {
			if err := tx.Create(u).Error; err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
		}
		consultant := models.Consultant{UserID: demo.Consultant.ID, TenantID: tenantID,
			Locations: []models.Location{demo.Location}}
		if err := tx.Omit("Locations.*").Create(&consultant).Error; err != nil {
			return fmt.Errorf("failed to create consultant: %w", err)
		}

		if err := seedQuestionnaire(tx, demo); err != nil {
			return err
		}
		if err := seedTestCatalog(tx, demo); err != nil {
			return err
		}
		if err := seedLab(tx, demo); err != nil {
			return err
		}

		for _, name := range []string{"PrEP", "Follow-up"} {
			tag := models.Tag{Name: name, AvailableIn: []models.Location{demo.Location}}
			if err := tx.Omit("AvailableIn.*").Create(&tag).Error; err != nil {
				return fmt.Errorf("failed to create tag: %w", err)
			}
			demo.Tags = append(demo.Tags, tag)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Log.Info().Str("component", "seed").Str("tenant", demo.Tenant.Name).Msg("Demo data created")
	return demo, nil
}

func seedQuestionnaire(tx *gorm.DB, demo *DemoData) error {
	demo.Questionnaire = models.Questionnaire{Name: DemoQuestionnaireName}
	if err := tx.Create(&demo.Questionnaire).Error; err != nil {
		return fmt.Errorf("failed to create questionnaire: %w", err)
	}

	sections := []struct {
		title     string
		questions []demoQuestion
	}{
		{
			title: "About you",
			questions: []demoQuestion{
				{code: "SEX", text: "What is your sex?", format: models.FormatSingleChoiceText, options: []demoOption{
					{code: 1, text: "female"}, {code: 2, text: "male"}, {code: 3, text: "other", allowText: true},
				}},
				{code: "TESTED_BEFORE", text: "Have you been tested before?", format: models.FormatSingleChoice, options: []demoOption{
					{code: 1, text: "yes"}, {code: 2, text: "no"},
				}},
				{code: "LAST_TEST", text: "When was your last test?", format: models.FormatSingleChoice, options: []demoOption{
					{code: 1, text: "less than a year ago"}, {code: 2, text: "more than a year ago"},
				}, showFor: [2]int{1, 1}, hasShowFor: true},
				{code: "COUNTRY", text: "Where do you live?", format: models.FormatSingleChoice, options: []demoOption{
					{code: 1, text: "Switzerland"}, {code: 2, text: "other", choices: []string{"Germany", "France", "Italy", "Austria"}},
				}},
			},
		},
		{
			title: "Risk",
			questions: []demoQuestion{
				{code: "RISK", text: "Which risks did you take?", format: models.FormatMultipleChoiceText, options: []demoOption{
					{code: 1, text: "condomless sex"}, {code: 2, text: "shared needles"}, {code: 3, text: "other", allowText: true},
				}},
				{code: "PREP", text: "Do you take PrEP?", format: models.FormatSingleChoice, optional: true, options: []demoOption{
					{code: 1, text: "yes"}, {code: 2, text: "no"},
				}},
				{code: "STUDY", text: "Anything you want to tell the study team?", format: models.FormatOpenText, extra: true},
			},
		},
	}

	var created []models.ClientQuestion
	for si, s := range sections {
		section := models.Section{QuestionnaireID: demo.Questionnaire.ID, Order: si + 1, Title: s.title}
		if err := tx.Create(&section).Error; err != nil {
			return fmt.Errorf("failed to create section: %w", err)
		}
		for qi, dq := range s.questions {
			q := models.ClientQuestion{
				SectionID:          section.ID,
				Code:               dq.code,
				QuestionText:       dq.text,
				Format:             dq.format,
				Order:              qi + 1,
				OptionalForCenters: dq.optional,
				ExtraForCenters:    dq.extra,
			}
			for oi, do := range dq.options {
				q.Options = append(q.Options, models.ClientOption{
					Code:      do.code,
					Text:      do.text,
					AllowText: do.allowText,
					Order:     oi + 1,
					Choices:   datatypes.JSONSlice[string](do.choices),
				})
			}
			if dq.hasShowFor {
				trigger := created[dq.showFor[0]]
				for _, o := range trigger.Options {
					if o.Code == dq.showFor[1] {
						q.ShowForOptions = []models.ClientOption{o}
						q.DoNotShowDirectly = true
					}
				}
			}
			if err := tx.Omit("ShowForOptions.*").Create(&q).Error; err != nil {
				return fmt.Errorf("failed to create question %s: %w", dq.code, err)
			}
			created = append(created, q)
			demo.Questions[q.Code] = q
		}
	}

	consultantQuestions := []demoQuestion{
		{code: ReminderQuestionCode, text: "Send a test reminder in", format: models.FormatSingleChoice, options: []demoOption{
			{code: 1, text: "3 months"}, {code: 2, text: "6 months"}, {code: 3, text: "1 year"}, {code: 4, text: "no reminder"},
		}},
		{code: "COUNSELING", text: "Counseling notes", format: models.FormatOpenText},
	}
	for qi, dq := range consultantQuestions {
		q := models.ConsultantQuestion{
			QuestionnaireID: demo.Questionnaire.ID,
			Code:            dq.code,
			QuestionText:    dq.text,
			Format:          dq.format,
			Order:           qi + 1,
		}
		for oi, do := range dq.options {
			q.Options = append(q.Options, models.ConsultantOption{Code: do.code, Text: do.text, Order: oi + 1})
		}
		if err := tx.Create(&q).Error; err != nil {
			return fmt.Errorf("failed to create consultant question %s: %w", dq.code, err)
		}
		demo.ConsultantQuestions[q.Code] = q
	}

	demo.Location.ExcludedQuestions = datatypes.JSONSlice[string]{demo.Questions["PREP"].ID}
	return tx.Model(&demo.Location).Update("excluded_questions", demo.Location.ExcludedQuestions).Error
}

func seedTestCatalog(tx *gorm.DB, demo *DemoData) error {
	category := models.TestCategory{Number: 1, Name: "Sexually transmitted infections"}
	if err := tx.Create(&category).Error; err != nil {
		return fmt.Errorf("failed to create test category: %w", err)
	}

	kinds := []models.TestKind{
		{Number: 1, Name: "HIV rapid", Rapid: true, ResultOptions: []models.TestResultOption{
			{Label: "negative", Color: "green", InformationBySMS: true},
			{Label: "reactive", Color: "red"},
		}},
		{Number: 2, Name: "Syphilis", InterpretationNeeded: true, ResultOptions: []models.TestResultOption{
			{Label: "negative", Color: "green", InformationBySMS: true},
			{Label: "positive", Color: "red"},
		}},
		{Number: 3, Name: "Chlamydia", ResultOptions: []models.TestResultOption{
			{Label: "negative", Color: "green", InformationBySMS: true},
			{Label: "positive", Color: "red"},
		}},
	}
	for i := range kinds {
		kinds[i].CategoryID = category.ID
		if err := tx.Create(&kinds[i]).Error; err != nil {
			return fmt.Errorf("failed to create test kind: %w", err)
		}
		demo.TestKinds[kinds[i].Name] = kinds[i]
	}

	demo.Bundle = models.TestBundle{Name: "Standard", TestKinds: []models.TestKind{kinds[0], kinds[1]}}
	if err := tx.Omit("TestKinds.*").Create(&demo.Bundle).Error; err != nil {
		return fmt.Errorf("failed to create test bundle: %w", err)
	}
	return nil
}

func seedLab(tx *gorm.DB, demo *DemoData) error {
	lab := models.Laboratory{Name: "Demo Lab"}
	if err := tx.Create(&lab).Error; err != nil {
		return fmt.Errorf("failed to create laboratory: %w", err)
	}
	link := models.LocationToLab{LocationID: demo.Location.ID, LaboratoryID: lab.ID, ClientCode: "4711", NrKreis: "12"}
	if err := tx.Create(&link).Error; err != nil {
		return fmt.Errorf("failed to link laboratory: %w", err)
	}
	counter := models.LabOrderCounter{NrKreis: "12", BaseNumber: "000000"}
	if err := tx.Create(&counter).Error; err != nil {
		return fmt.Errorf("failed to create order counter: %w", err)
	}

	profiles := []models.TestProfile{
		{LaboratoryID: lab.ID, TestKindID: demo.TestKinds["Syphilis"].ID, ProfileName: "Syphilis TPPA",
			ProfileCode: "TPPA", ResultLabel: "TPPA", Materials: datatypes.JSONSlice[string]{"Serum"},
			MaterialCodes: datatypes.JSONSlice[string]{"S"}},
		{LaboratoryID: lab.ID, TestKindID: demo.TestKinds["Chlamydia"].ID, ProfileName: "Chlamydia PCR",
			ProfileCode: "CTPCR", ResultLabel: "CT", Materials: datatypes.JSONSlice[string]{"Urine"},
			MaterialCodes: datatypes.JSONSlice[string]{"U"}},
	}
	if err := tx.Create(&profiles).Error; err != nil {
		return fmt.Errorf("failed to create test profiles: %w", err)
	}
	return nil
}
