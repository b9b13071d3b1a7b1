package severity

import (
	"fmt"
	"strings"

	"policy-core/internal/models"
	"policy-core/internal/util"
)

const (
	DefaultReason  = "New report submitted"
	UnknownProduct = "Unknown Product"
	UnknownPatient = "A patient"
)

// seriousness tags, normalized, mapped to the severity they raise a report to.
var seriousness = map[string]models.Severity{
	"death":                 models.SeverityUrgent,
	"life-threatening":      models.SeverityUrgent,
	"hospitalization":       models.SeverityUrgent,
	"hospitalisation":       models.SeverityUrgent,
	"disability":            models.SeverityWarning,
	"congenital":            models.SeverityWarning,
	"congenital-anomaly":    models.SeverityWarning,
	"medically-significant": models.SeverityWarning,
	"medical-intervention":  models.SeverityWarning,
	"required-intervention": models.SeverityWarning,
}

// Classification is the derived severity of a report with the notification
// text that describes it.
type Classification struct {
	Severity    models.Severity `json:"severity"`
	Reason      string          `json:"reason"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
}

// Classify walks the symptoms in order, keeping the highest severity seen.
// A later symptom replaces the current one only when strictly more severe,
// and the walk stops at the first urgent symptom. Missing data degrades to
// info rather than failing.
func Classify(r models.Report) Classification {
	level := models.SeverityInfo
	reason := DefaultReason
	for _, s := range r.Symptoms {
		mapped, ok := seriousness[normalizeTag(s.Seriousness)]
		if !ok || mapped.Rank() <= level.Rank() {
			continue
		}
		level = mapped
		reason = reasonFor(s)
		if level == models.SeverityUrgent {
			break
		}
	}

	return Classification{
		Severity:    level,
		Reason:      reason,
		Title:       title(level, r),
		Description: description(level, reason, r),
	}
}

func reasonFor(s models.Symptom) string {
	tag := strings.TrimSpace(s.Seriousness)
	if name := strings.TrimSpace(s.Name); name != "" {
		return fmt.Sprintf("Serious outcome reported: %s (%s)", tag, name)
	}
	return fmt.Sprintf("Serious outcome reported: %s", tag)
}

func title(level models.Severity, r models.Report) string {
	prefix := "New"
	switch level {
	case models.SeverityUrgent:
		prefix = "Critical"
	case models.SeverityWarning:
		prefix = "Warning"
	}
	return util.CleanText(fmt.Sprintf("%s %s Report — %s", prefix, r.ReporterType.DisplayName(), productName(r)))
}

func description(level models.Severity, reason string, r models.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Report %s submitted for %s.",
		util.FirstNonEmpty(r.ReferenceID, r.ID, "(unassigned)"),
		util.FirstNonEmpty(r.PatientName, r.PatientInitials, UnknownPatient),
	)
	if level != models.SeverityInfo {
		fmt.Fprintf(&b, " %s.", reason)
	}
	if len(r.Symptoms) > 0 {
		if name := strings.TrimSpace(r.Symptoms[0].Name); name != "" {
			fmt.Fprintf(&b, " Symptom: %s.", name)
		}
	}
	return util.CleanText(b.String())
}

func productName(r models.Report) string {
	if len(r.Products) == 0 {
		return UnknownProduct
	}
	return util.FirstNonEmpty(r.Products[0].Name, UnknownProduct)
}

func normalizeTag(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	tag = strings.ReplaceAll(tag, "_", "-")
	return strings.ReplaceAll(tag, " ", "-")
}
