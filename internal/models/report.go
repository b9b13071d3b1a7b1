package models

import (
	"encoding/json"
	"strings"
	"time"
)

type ReporterType string

const (
	ReporterPatient                ReporterType = "patient"
	ReporterHealthcareProfessional ReporterType = "healthcare_professional"
	ReporterFamily                 ReporterType = "family"
)

// ReporterTypes lists every report source table in archival order.
var ReporterTypes = []ReporterType{ReporterPatient, ReporterHealthcareProfessional, ReporterFamily}

var reportTables = map[ReporterType]string{
	ReporterPatient:                "patient_reports",
	ReporterHealthcareProfessional: "hcp_reports",
	ReporterFamily:                 "family_reports",
}

// Table is the source table holding reports of this type.
func (t ReporterType) Table() string {
	return reportTables[t]
}

// Valid reports whether t names one of the three reporter variants.
func (t ReporterType) Valid() bool {
	_, ok := reportTables[t]
	return ok
}

func (t ReporterType) DisplayName() string {
	switch t {
	case ReporterPatient:
		return "Patient"
	case ReporterHealthcareProfessional:
		return "Healthcare Professional"
	case ReporterFamily:
		return "Family"
	default:
		return "Unknown"
	}
}

// ReporterTypeForTable maps a source table name back to its reporter type.
func ReporterTypeForTable(table string) (ReporterType, bool) {
	for t, name := range reportTables {
		if name == table {
			return t, true
		}
	}
	return "", false
}

type ReportStatus string

const (
	StatusNew         ReportStatus = "new"
	StatusUnderReview ReportStatus = "under_review"
	StatusApproved    ReportStatus = "approved"
	StatusClosed      ReportStatus = "closed"
)

// Normalize folds legacy spellings ("pending", "Under Review") onto the
// canonical statuses.
func (s ReportStatus) Normalize() ReportStatus {
	v := strings.ToLower(strings.TrimSpace(string(s)))
	v = strings.ReplaceAll(v, " ", "_")
	v = strings.ReplaceAll(v, "-", "_")
	if v == "pending" {
		return StatusNew
	}
	return ReportStatus(v)
}

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityUrgent  Severity = "urgent"
)

// Rank orders severities: info(0) < warning(1) < urgent(2). Unknown values
// rank as info.
func (s Severity) Rank() int {
	switch Severity(strings.ToLower(string(s))) {
	case SeverityUrgent:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

type Product struct {
	Name        string `json:"name"`
	BatchNumber string `json:"batchNumber,omitempty"`
	Dosage      string `json:"dosage,omitempty"`
	Indication  string `json:"indication,omitempty"`
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
}

type Symptom struct {
	Name        string `json:"name"`
	Seriousness string `json:"seriousness,omitempty"`
	OnsetDate   string `json:"onsetDate,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
}

type Attachment struct {
	FileName    string `json:"fileName"`
	URL         string `json:"url"`
	ContentType string `json:"contentType,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// Report is the superset of the patient, healthcare-professional and family
// report variants. Each variant requires a different subset of fields.
type Report struct {
	ID           string       `json:"id" db:"id"`
	ReferenceID  string       `json:"referenceId" db:"reference_id"`
	ReporterType ReporterType `json:"reporterType" db:"reporter_type"`
	Status       ReportStatus `json:"status" db:"status"`
	Severity     Severity     `json:"severity" db:"severity"`
	AdminNotes   string       `json:"adminNotes,omitempty" db:"admin_notes"`

	PatientName     string `json:"patientName,omitempty" db:"patient_name"`
	PatientInitials string `json:"patientInitials,omitempty" db:"patient_initials"`
	PatientAge      string `json:"patientAge,omitempty" db:"patient_age"`
	PatientGender   string `json:"patientGender,omitempty" db:"patient_gender"`

	ReporterName         string `json:"reporterName,omitempty" db:"reporter_name"`
	ReporterEmail        string `json:"reporterEmail,omitempty" db:"reporter_email"`
	ReporterPhone        string `json:"reporterPhone,omitempty" db:"reporter_phone"`
	ReporterProfession   string `json:"reporterProfession,omitempty" db:"reporter_profession"`
	ReporterInstitution  string `json:"reporterInstitution,omitempty" db:"reporter_institution"`
	ReporterRelationship string `json:"reporterRelationship,omitempty" db:"reporter_relationship"`

	Products       []Product       `json:"products,omitempty" db:"products"`
	Symptoms       []Symptom       `json:"symptoms,omitempty" db:"symptoms"`
	MedicalHistory json.RawMessage `json:"medicalHistory,omitempty" db:"medical_history"`
	Attachments    []Attachment    `json:"attachments,omitempty" db:"attachments"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ReportUpdate carries the administrative review fields. Nil means unchanged.
type ReportUpdate struct {
	Status     *ReportStatus `json:"status,omitempty"`
	Severity   *Severity     `json:"severity,omitempty"`
	AdminNotes *string       `json:"adminNotes,omitempty"`
}
