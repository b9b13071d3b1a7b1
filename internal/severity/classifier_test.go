package severity

import (
	"testing"

	"policy-core/internal/models"

	"github.com/stretchr/testify/assert"
)

func symptoms(tags ...string) []models.Symptom {
	out := make([]models.Symptom, len(tags))
	for i, tag := range tags {
		out[i] = models.Symptom{Seriousness: tag}
	}
	return out
}

func TestDeathOverridesDisabilityInAnyOrder(t *testing.T) {
	for _, order := range [][]string{{"disability", "death"}, {"death", "disability"}} {
		c := Classify(models.Report{Symptoms: symptoms(order...)})
		assert.Equal(t, models.SeverityUrgent, c.Severity, order)
		assert.Contains(t, c.Reason, "death", order)
		assert.NotContains(t, c.Reason, "disability", order)
	}
}

func TestFirstOfEqualSeverityWins(t *testing.T) {
	c := Classify(models.Report{Symptoms: symptoms("disability", "medically significant")})
	assert.Equal(t, models.SeverityWarning, c.Severity)
	assert.Contains(t, c.Reason, "disability")
}

func TestStopsAtFirstUrgent(t *testing.T) {
	c := Classify(models.Report{Symptoms: symptoms("hospitalization", "death")})
	assert.Equal(t, models.SeverityUrgent, c.Severity)
	assert.Contains(t, c.Reason, "hospitalization")
}

func TestTagNormalization(t *testing.T) {
	cases := map[string]models.Severity{
		"Life Threatening":     models.SeverityUrgent,
		"life_threatening":     models.SeverityUrgent,
		" HOSPITALISATION ":    models.SeverityUrgent,
		"Congenital Anomaly":   models.SeverityWarning,
		"medical_intervention": models.SeverityWarning,
		"non-serious":          models.SeverityInfo,
		"":                     models.SeverityInfo,
	}
	for tag, want := range cases {
		assert.Equal(t, want, Classify(models.Report{Symptoms: symptoms(tag)}).Severity, tag)
	}
}

func TestEmptyReportDefaults(t *testing.T) {
	c := Classify(models.Report{})
	assert.Equal(t, models.SeverityInfo, c.Severity)
	assert.Equal(t, DefaultReason, c.Reason)
	assert.Equal(t, "New Unknown Report — Unknown Product", c.Title)
	assert.Contains(t, c.Description, UnknownPatient)
}

func TestTitleAndDescription(t *testing.T) {
	r := models.Report{
		ID:              "r-1",
		ReferenceID:     "AE-2024-0001",
		ReporterType:    models.ReporterHealthcareProfessional,
		PatientInitials: "J.D.",
		Products:        []models.Product{{Name: "Amoxicillin"}},
		Symptoms:        []models.Symptom{{Name: "Rash", Seriousness: "non-serious"}, {Name: "Anaphylaxis", Seriousness: "life-threatening"}},
	}
	c := Classify(r)

	assert.Equal(t, "Critical Healthcare Professional Report — Amoxicillin", c.Title)
	assert.Contains(t, c.Description, "AE-2024-0001")
	assert.Contains(t, c.Description, "J.D.")
	assert.Contains(t, c.Description, "life-threatening")
	assert.Contains(t, c.Description, "Symptom: Rash")
}

func TestInfoDescriptionOmitsReason(t *testing.T) {
	c := Classify(models.Report{ID: "r-2", ReporterType: models.ReporterPatient, PatientName: "Ann"})
	assert.Equal(t, "New Patient Report — Unknown Product", c.Title)
	assert.NotContains(t, c.Description, DefaultReason)
	assert.Contains(t, c.Description, "Ann")
}

func TestTextIsStoredUnescaped(t *testing.T) {
	c := Classify(models.Report{ID: "r", PatientName: "O'Brien", Products: []models.Product{{Name: "A & B\x07"}}})
	assert.Equal(t, "New Unknown Report — A & B", c.Title)
	assert.Contains(t, c.Description, "O'Brien")
	assert.NotContains(t, c.Description, "&#39;")
}
