package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"sure_app_go/logger"
	"sure_app_go/models"
	"sure_app_go/services/hl7"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// hl7Timestamp is the TS layout used in outgoing orders
const hl7Timestamp = "20060102150405"

// barcodeMaterialWidth is the width of the material part of a specimen barcode
const barcodeMaterialWidth = 8

// labNoteFallback names notes that precede any observation
const labNoteFallback = "general"

var administrativeSexes = []string{"M", "F", "O", "U", "A", "N"}

// observation value types mapped onto test results
var observationValueTypes = []string{"NM", "TX", "ST", "CE", "CWE"}

// PatientData is what the laboratory learns about the client
type PatientData struct {
	BirthYear int    `json:"birth_year"`
	Gender    string `json:"gender"`
	Note      string `json:"note"`
}

func (p *PatientData) validate(now time.Time) error {
	if p.BirthYear < 1900 || p.BirthYear > now.Year() {
		return ValidationError("invalid-birth-year", "birth year %d is not valid", p.BirthYear)
	}
	p.Gender = strings.ToUpper(strings.TrimSpace(p.Gender))
	if !lo.Contains(administrativeSexes, p.Gender) {
		return ValidationError("invalid-gender", "gender must be one of %s", strings.Join(administrativeSexes, ", "))
	}
	p.Note = strings.TrimSpace(p.Note)
	return nil
}

type orderMaterial struct {
	name    string
	code    string
	profile string
}

// lockedCounter selects the counter of a number range with a row lock.
// SQLite drops the clause; it serialises writers on its own.
func lockedCounter(tx *gorm.DB, nrKreis string) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate}).Where("nr_kreis = ?", nrKreis)
}

// GenerateLabOrder draws the next order number from the counter of the
// location's number range and builds the OML^O21 message for the visit's
// tests. The counter row stays locked until the order is stored.
func GenerateLabOrder(db *gorm.DB, visit *models.Visit, patient PatientData, now time.Time) (*models.LabOrder, error) {
	if err := patient.validate(now); err != nil {
		return nil, err
	}
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

	var order *models.LabOrder
	err = db.Transaction(func(tx *gorm.DB) error {
		var link models.LocationToLab
		err := tx.Where("location_id = ?", c.LocationID).First(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ValidationError("no-laboratory", "no laboratory configured for location %s", c.Location.Name)
		}
		if err != nil {
			return fmt.Errorf("failed to load laboratory link: %w", err)
		}

		var counter models.LabOrderCounter
		err = lockedCounter(tx, link.NrKreis).First(&counter).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ValidationError("no-lab-counter", "no lab order counter for location %s", c.Location.Name)
		}
		if err != nil {
			return fmt.Errorf("failed to lock lab order counter: %w", err)
		}
		if err := tx.Model(&counter).UpdateColumn("last_index", gorm.Expr("last_index + ?", 1)).Error; err != nil {
			return fmt.Errorf("failed to advance lab order counter: %w", err)
		}
		if err := tx.First(&counter, "id = ?", counter.ID).Error; err != nil {
			return fmt.Errorf("failed to reload lab order counter: %w", err)
		}

		orderNumber, err := formatOrderNumber(link.NrKreis, counter.BaseNumber, counter.LastIndex)
		if err != nil {
			return err
		}

		var kindIDs []string
		if err := tx.Model(&models.Test{}).Where("visit_id = ?", visit.ID).Pluck("test_kind_id", &kindIDs).Error; err != nil {
			return fmt.Errorf("failed to load tests: %w", err)
		}
		var profiles []models.TestProfile
		if len(kindIDs) > 0 {
			err = tx.Where("laboratory_id = ? AND test_kind_id IN ?", link.LaboratoryID, kindIDs).
				Order("profile_code ASC").Find(&profiles).Error
			if err != nil {
				return fmt.Errorf("failed to load test profiles: %w", err)
			}
		}
		if len(profiles) == 0 {
			return ValidationError("no-lab-tests", "none of the tests of this case can be sent to the laboratory")
		}

		pid := HumanCaseID(c.ID)
		client, err := ClientForCase(tx, c.ID)
		if err != nil {
			return err
		}
		if client != nil {
			pid = HumanClientID(client.ID)
		}

		order = &models.LabOrder{
			VisitID:     visit.ID,
			CounterID:   counter.ID,
			OrderNumber: orderNumber,
			Status:      models.LabOrderPending,
			Note:        patient.Note,
		}
		order.Content, order.Codes, order.Materials, order.Profiles = buildOrderMessage(
			c.Location.Name, link.ClientCode, orderNumber, pid, patient, profiles, now)

		if err := tx.Create(order).Error; err != nil {
			return fmt.Errorf("failed to create lab order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Component("lab").Info().
		Str("visit_id", visit.ID).
		Str("order_number", order.OrderNumber).
		Int("profiles", len(order.Profiles)).
		Msg("Lab order generated")
	return order, nil
}

// formatOrderNumber appends base+index, zero padded to the width of base, to the range prefix
func formatOrderNumber(nrKreis, baseNumber string, lastIndex int) (string, error) {
	base, err := strconv.Atoi(baseNumber)
	if err != nil {
		return "", fmt.Errorf("invalid base number %q for range %s: %w", baseNumber, nrKreis, err)
	}
	return nrKreis + fmt.Sprintf("%0*d", len(baseNumber), base+lastIndex), nil
}

// specimenBarcode is the order number followed by the material code padded with zeros
func specimenBarcode(orderNumber, materialCode string) string {
	code := strings.TrimSpace(materialCode)
	if len(code) < barcodeMaterialWidth {
		code += strings.Repeat("0", barcodeMaterialWidth-len(code))
	}
	return orderNumber + code
}

// buildOrderMessage renders the OML^O21 order. Materials shared between
// profiles are sampled once unless a profile requires its own specimen.
func buildOrderMessage(locationName, clientCode, orderNumber, pid string, patient PatientData, profiles []models.TestProfile, now time.Time) (content string, codes, materials, profileCodes []string) {
	ts := now.Format(hl7Timestamp)

	var b hl7.Builder
	b.Add("MSH", `^~\&`, "SURE", hl7.Escape(locationName), "TEAMW", "TEAMW", ts, "", "OML^O21", ts, "P", "2.8",
		"", "", "NE", "NE", "CHE", "8859/1", "de")
	b.Add("PID", "1", pid, pid, "", "Anonym^"+pid+"^^^", "", fmt.Sprintf("%d0101", patient.BirthYear), patient.Gender)
	b.Add("ORC", "NW", orderNumber, "", "", "", "", "", "", ts, "", "", hl7.Escape(clientCode)+"^^^^^^", "")

	var specimens []orderMaterial
	seen := map[string]bool{}
	for i, p := range profiles {
		b.Add("OBR", strconv.Itoa(i+1), orderNumber, "", hl7.Escape(p.ProfileCode)+"^"+hl7.Escape(p.ProfileName),
			"", "", ts, ts, "", "", "", "", "", "", "", "", hl7.Escape(clientCode), "")

		for j, code := range p.MaterialCodes {
			if j >= len(p.Materials) {
				break
			}
			if !p.RequireAdditional {
				if seen[code] {
					continue
				}
				seen[code] = true
			}
			specimens = append(specimens, orderMaterial{name: p.Materials[j], code: code, profile: p.ProfileCode})
		}
	}

	codes = []string{}
	materials = []string{}
	profileCodes = []string{}
	for i, m := range specimens {
		barcode := specimenBarcode(orderNumber, m.code)
		codes = append(codes, barcode)
		materials = append(materials, m.code)
		profileCodes = append(profileCodes, m.profile)

		fields := []string{strconv.Itoa(i + 1), barcode, "", hl7.Escape(strings.TrimSpace(m.code)) + "^" + hl7.Escape(m.name)}
		fields = append(fields, make([]string, 12)...)
		fields = append(fields, ts)
		b.Add("SPM", fields...)
	}

	if patient.Note != "" {
		b.Add("NTE", "1", "", hl7.Escape(patient.Note))
	}
	return b.String(), codes, materials, profileCodes
}

func visitCase(db *gorm.DB, visit *models.Visit) (*models.Case, error) {
	if visit.Case != nil {
		return visit.Case, nil
	}
	var c models.Case
	if err := db.Preload("Location").First(&c, "id = ?", visit.CaseID).Error; err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}
	visit.Case = &c
	return &c, nil
}

// ListLabOrders returns the orders of a visit, newest first
func ListLabOrders(db *gorm.DB, visit *models.Visit) ([]models.LabOrder, error) {
	orders := []models.LabOrder{}
	if err := db.Where("visit_id = ?", visit.ID).Order("created_at DESC").Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to load lab orders: %w", err)
	}
	return orders, nil
}

// CancelLabOrder cancels an order that was not yet sent to the laboratory
// and returns the remaining orders of the visit
func CancelLabOrder(db *gorm.DB, visit *models.Visit, orderNumber string) ([]models.LabOrder, error) {
	var order models.LabOrder
	err := db.Where("visit_id = ? AND order_number = ?", visit.ID, orderNumber).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError("lab order %s not found", orderNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lab order: %w", err)
	}
	if order.Status != models.LabOrderPending {
		return nil, ValidationError("lab-order-not-pending", "lab order %s is %s", orderNumber, order.Status)
	}
	if err := db.Model(&order).Update("status", models.LabOrderCanceled).Error; err != nil {
		return nil, fmt.Errorf("failed to cancel lab order: %w", err)
	}
	logger.Component("lab").Info().Str("order_number", orderNumber).Msg("Lab order canceled")
	return ListLabOrders(db, visit)
}

// orderNumberOf returns ORC-2 or OBR-2 of the first segment that has one
func orderNumberOf(msg *hl7.Message) string {
	for i := range msg.Segments {
		seg := &msg.Segments[i]
		if seg.Name != "ORC" && seg.Name != "OBR" {
			continue
		}
		if n := strings.TrimSpace(seg.Component(2, 1)); n != "" {
			return n
		}
	}
	return ""
}

type labDocument struct {
	name string
	data []byte
}

// ProcessLabResult stores an HL7 result message received for one of our
// orders and maps its observations onto the visit
func ProcessLabResult(ctx context.Context, db *gorm.DB, storage StorageProvider, content string) (*models.LabResult, error) {
	log := logger.Component("lab")

	msg, err := hl7.Parse(content)
	if err != nil {
		return nil, ValidationError("invalid-hl7", "%s", err.Error())
	}
	orderNumber := orderNumberOf(msg)
	if orderNumber == "" {
		return nil, ValidationError("hl7-order-missing", "order number not found in message")
	}
	pidSeg := msg.Segment("PID")
	if pidSeg == nil || pidSeg.Component(3, 1) == "" {
		return nil, ValidationError("hl7-patient-missing", "patient id not found in message")
	}
	patientID := StripID(pidSeg.Component(3, 1))

	var order models.LabOrder
	err = db.Where("order_number = ?", orderNumber).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFoundError("lab order %s not found", orderNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load lab order: %w", err)
	}
	if order.Status == models.LabOrderCanceled {
		return nil, ValidationError("lab-order-canceled", "lab order %s was canceled", orderNumber)
	}

	var visit models.Visit
	if err := db.Preload("Case.Location").First(&visit, "id = ?", order.VisitID).Error; err != nil {
		return nil, fmt.Errorf("failed to load visit: %w", err)
	}
	if patientID != visit.CaseID {
		client, err := ClientForCase(db, visit.CaseID)
		if err != nil {
			return nil, err
		}
		if client == nil || client.ID != patientID {
			return nil, NotFoundError("lab order %s not found", orderNumber)
		}
	}

	var link models.LocationToLab
	err = db.Where("location_id = ?", visit.Case.LocationID).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ValidationError("no-laboratory", "no laboratory configured for the location of case %s", HumanCaseID(visit.CaseID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load laboratory link: %w", err)
	}

	result := &models.LabResult{
		VisitID:    visit.ID,
		OrderID:    order.ID,
		Content:    content,
		ReceivedAt: time.Now(),
	}
	var documents []labDocument

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(result).Error; err != nil {
			return fmt.Errorf("failed to store lab result: %w", err)
		}

		recorded := false
		lastTest := labNoteFallback
		for i := range msg.Segments {
			seg := &msg.Segments[i]
			switch seg.Name {
			case "OBX":
				code := seg.Component(3, 1)
				name := seg.Component(3, 2)
				if name == "" {
					name = code
				}
				lastTest = name

				valueType := seg.Field(2)
				switch {
				case lo.Contains(observationValueTypes, valueType):
					value, _, _ := strings.Cut(seg.Field(5), "~")
					ok, err := applyObservation(tx, &visit, link.LaboratoryID, code, name, hl7.Unescape(value), seg.Field(8))
					if err != nil {
						return err
					}
					recorded = recorded || ok
				case valueType == "ED":
					data, err := base64.StdEncoding.DecodeString(seg.Component(5, 5))
					if err != nil || len(data) == 0 {
						log.Error().Err(err).Str("order_number", orderNumber).Str("test", code).Msg("Failed to decode lab document")
						continue
					}
					documents = append(documents, labDocument{name: "Lab Result " + name, data: data})
				}
			case "NTE":
				text := strings.TrimSpace(hl7.Unescape(seg.Field(3)))
				if text == "" {
					continue
				}
				note := &models.VisitNote{VisitID: visit.ID, Note: fmt.Sprintf("Lab Note (%s):\n%s", lastTest, text)}
				if err := tx.Create(note).Error; err != nil {
					return fmt.Errorf("failed to store lab note: %w", err)
				}
			}
		}

		if recorded {
			if CanTransition(visit.Status, EventRecordResults) {
				if _, err := Transition(tx, &visit, EventRecordResults, nil); err != nil {
					return err
				}
			} else {
				log.Warn().Str("visit_id", visit.ID).Str("status", visit.Status).Msg("Lab results recorded without status change")
			}
		}

		if err := tx.Model(&order).Update("status", models.LabOrderCompleted).Error; err != nil {
			return fmt.Errorf("failed to complete lab order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, doc := range documents {
		_, err := AddVisitDocument(ctx, db, storage, &visit, doc.name, "application/pdf", int64(len(doc.data)), bytes.NewReader(doc.data), false)
		if err != nil {
			log.Error().Err(err).Str("visit_id", visit.ID).Str("document", doc.name).Msg("Failed to store lab document")
		}
	}

	log.Info().Str("order_number", orderNumber).Str("visit_id", visit.ID).Msg("Lab result processed")
	return result, nil
}

// applyObservation maps one OBX value. Known profiles record a result when
// the value names a result option and otherwise extend the test note; unknown
// observations become free form tests. recorded reports a new TestResult.
func applyObservation(tx *gorm.DB, visit *models.Visit, laboratoryID, code, name, value, flag string) (recorded bool, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return false, nil
	}

	var profile models.TestProfile
	err = tx.Where("laboratory_id = ? AND result_label = ?", laboratoryID, code).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) && name != code {
		err = tx.Where("laboratory_id = ? AND result_label = ?", laboratoryID, name).First(&profile).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		free := &models.FreeFormTest{VisitID: visit.ID, Name: name, Result: value}
		if flag != "" {
			free.Result = fmt.Sprintf("%s (%s)", value, flag)
		}
		if err := tx.Create(free).Error; err != nil {
			return false, fmt.Errorf("failed to store free form result: %w", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load test profile: %w", err)
	}

	test := models.Test{VisitID: visit.ID, TestKindID: profile.TestKindID}
	if err := tx.Where("visit_id = ? AND test_kind_id = ?", visit.ID, profile.TestKindID).FirstOrCreate(&test).Error; err != nil {
		return false, fmt.Errorf("failed to load test: %w", err)
	}

	option, err := matchResultOption(tx, profile.TestKindID, value)
	if err != nil {
		return false, err
	}
	if option != nil {
		if err := tx.Create(&models.TestResult{TestID: test.ID, ResultOptionID: option.ID, Note: value}).Error; err != nil {
			return false, fmt.Errorf("failed to record lab result: %w", err)
		}
		return true, nil
	}

	line := fmt.Sprintf("Result: %s (Flag: %s)", value, flag)
	note := line
	if test.Note != "" {
		note = test.Note + "\n" + line
	}
	if err := tx.Model(&test).Update("note", note).Error; err != nil {
		return false, fmt.Errorf("failed to update test note: %w", err)
	}
	return false, nil
}

// matchResultOption finds the option whose label equals the value, or one of
// its components for coded values, ignoring case
func matchResultOption(tx *gorm.DB, testKindID, value string) (*models.TestResultOption, error) {
	var options []models.TestResultOption
	if err := tx.Where("test_kind_id = ?", testKindID).Find(&options).Error; err != nil {
		return nil, fmt.Errorf("failed to load result options: %w", err)
	}
	candidates := append([]string{value}, strings.Split(value, "^")...)
	for _, candidate := range candidates {
		for i := range options {
			if strings.EqualFold(options[i].Label, strings.TrimSpace(candidate)) {
				return &options[i], nil
			}
		}
	}
	return nil, nil
}
