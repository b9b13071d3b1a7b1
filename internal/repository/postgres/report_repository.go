package postgres

import (
	"context"
	"errors"
	"fmt"

	"policy-core/internal/apperrors"
	"policy-core/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const reportColumns = `id, reference_id, reporter_type, status, severity, admin_notes,
	patient_name, patient_initials, patient_age, patient_gender,
	reporter_name, reporter_email, reporter_phone, reporter_profession, reporter_institution, reporter_relationship,
	products, symptoms, medical_history, attachments, created_at, updated_at`

const reportPlaceholders = `$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22`

// ReportRepository reads and writes the three reporter-type tables. Personal
// fields are sealed with cipher when one is set.
type ReportRepository struct {
	pool   *pgxpool.Pool
	cipher FieldCipher
}

func NewReportRepository(pool *pgxpool.Pool, cipher FieldCipher) *ReportRepository {
	return &ReportRepository{pool: pool, cipher: cipher}
}

func (r *ReportRepository) Create(ctx context.Context, rep models.Report) error {
	return insertReport(ctx, r.pool, r.cipher, rep)
}

func (r *ReportRepository) Get(ctx context.Context, rt models.ReporterType, id string) (*models.Report, error) {
	table, err := tableFor(rt)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+reportColumns+` FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("select report: %w", err)
	}
	reports, err := collectReports(ctx, rows, r.cipher)
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &reports[0], nil
}

// ApplyUpdate writes the review fields of u and returns the report as it was
// before the change.
func (r *ReportRepository) ApplyUpdate(ctx context.Context, rt models.ReporterType, id string, u models.ReportUpdate) (*models.Report, error) {
	table, err := tableFor(rt)
	if err != nil {
		return nil, err
	}
	var old *models.Report
	err = inTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+reportColumns+` FROM `+table+` WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return fmt.Errorf("select report: %w", err)
		}
		reports, err := collectReports(ctx, rows, r.cipher)
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			return apperrors.ErrNotFound
		}
		old = &reports[0]

		next := *old
		if u.Status != nil {
			next.Status = u.Status.Normalize()
		}
		if u.Severity != nil {
			next.Severity = *u.Severity
		}
		if u.AdminNotes != nil {
			next.AdminNotes = *u.AdminNotes
		}
		_, err = tx.Exec(ctx, `
			UPDATE `+table+` SET status = $2, severity = $3, admin_notes = $4, updated_at = now()
			WHERE id = $1`,
			id, string(next.Status), string(next.Severity), next.AdminNotes,
		)
		if err != nil {
			return fmt.Errorf("update report: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return old, nil
}

func tableFor(rt models.ReporterType) (string, error) {
	if !rt.Valid() {
		return "", fmt.Errorf("unknown reporter type %q", rt)
	}
	return rt.Table(), nil
}

func insertReport(ctx context.Context, q querier, c FieldCipher, rep models.Report) error {
	table, err := tableFor(rep.ReporterType)
	if err != nil {
		return err
	}
	rep, err = sealReport(ctx, c, rep)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `INSERT INTO `+table+` (`+reportColumns+`) VALUES (`+reportPlaceholders+`)`, reportArgs(rep)...)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

func reportArgs(rep models.Report) []any {
	return []any{
		rep.ID, rep.ReferenceID, string(rep.ReporterType), string(rep.Status.Normalize()), string(rep.Severity), rep.AdminNotes,
		rep.PatientName, rep.PatientInitials, rep.PatientAge, rep.PatientGender,
		rep.ReporterName, rep.ReporterEmail, rep.ReporterPhone, rep.ReporterProfession, rep.ReporterInstitution, rep.ReporterRelationship,
		rep.Products, rep.Symptoms, nullJSON(rep.MedicalHistory), rep.Attachments, rep.CreatedAt, rep.UpdatedAt,
	}
}

// reportDest returns scan targets in reportColumns order.
func reportDest(rep *models.Report, reporterType, status, severity *string, history *[]byte) []any {
	return []any{
		&rep.ID, &rep.ReferenceID, reporterType, status, severity, &rep.AdminNotes,
		&rep.PatientName, &rep.PatientInitials, &rep.PatientAge, &rep.PatientGender,
		&rep.ReporterName, &rep.ReporterEmail, &rep.ReporterPhone, &rep.ReporterProfession, &rep.ReporterInstitution, &rep.ReporterRelationship,
		&rep.Products, &rep.Symptoms, history, &rep.Attachments, &rep.CreatedAt, &rep.UpdatedAt,
	}
}

// collectReports scans rows and opens their sealed fields.
func collectReports(ctx context.Context, rows pgx.Rows, c FieldCipher) ([]models.Report, error) {
	defer rows.Close()
	var out []models.Report
	for rows.Next() {
		var (
			rep                            models.Report
			reporterType, status, severity string
			history                        []byte
		)
		if err := rows.Scan(reportDest(&rep, &reporterType, &status, &severity, &history)...); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		rep.ReporterType = models.ReporterType(reporterType)
		rep.Status = models.ReportStatus(status)
		rep.Severity = models.Severity(severity)
		if len(history) > 0 {
			rep.MedicalHistory = history
		}
		if err := openReport(ctx, c, &rep); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return out, nil
}

var errUnknownReport = errors.New("report not found in source table")
