package models

// AllModels returns every model in migration order
func AllModels() []interface{} {
	return []interface{}{
		&Tenant{},
		&Location{},
		&User{},
		&Session{},
		&Consultant{},
		&Tag{},
		&InformationBanner{},
		&Questionnaire{},
		&Section{},
		&ClientQuestion{},
		&ClientOption{},
		&ConsultantQuestion{},
		&ConsultantOption{},
		&Case{},
		&Visit{},
		&ClientAnswer{},
		&ConsultantAnswer{},
		&VisitNote{},
		&VisitDocument{},
		&VisitLog{},
		&TestCategory{},
		&TestKind{},
		&TestResultOption{},
		&TestBundle{},
		&Test{},
		&TestResult{},
		&FreeFormTest{},
		&Contact{},
		&Client{},
		&Connection{},
		&Token{},
		&Laboratory{},
		&LocationToLab{},
		&LabOrderCounter{},
		&TestProfile{},
		&LabOrder{},
		&LabResult{},
		&SMSMessage{},
		&VisitExport{},
		&ProtectedEndpoint{},
		&BlockedEndpointHit{},
		&BlockedIdentifier{},
		&AuditLog{},
	}
}
