package postgres

import (
	"context"
	"fmt"
	"time"

	"policy-core/internal/archive"
	"policy-core/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArchiveStore runs archival moves inside one Postgres transaction. Reports
// leave it decrypted and are sealed again on the way into archived_reports.
type ArchiveStore struct {
	pool   *pgxpool.Pool
	cipher FieldCipher
}

func NewArchiveStore(pool *pgxpool.Pool, cipher FieldCipher) *ArchiveStore {
	return &ArchiveStore{pool: pool, cipher: cipher}
}

func (s *ArchiveStore) InTx(ctx context.Context, fn func(tx archive.Tx) error) error {
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&archiveTx{tx: tx, cipher: s.cipher})
	})
}

type archiveTx struct {
	tx     pgx.Tx
	cipher FieldCipher
}

// SelectExpired locks the qualifying rows so a concurrent writer cannot
// change them between the copy and the delete.
func (t *archiveTx) SelectExpired(ctx context.Context, rt models.ReporterType, cutoff time.Time) ([]models.Report, error) {
	table, err := tableFor(rt)
	if err != nil {
		return nil, err
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+reportColumns+` FROM `+table+`
		WHERE created_at < $1
		ORDER BY created_at
		FOR UPDATE`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("select expired reports: %w", err)
	}
	return collectReports(ctx, rows, t.cipher)
}

func (t *archiveTx) InsertArchived(ctx context.Context, a models.ArchivedReport) error {
	sealed, err := sealReport(ctx, t.cipher, a.Report)
	if err != nil {
		return err
	}
	args := append([]any{a.ArchiveID, a.OriginalTable, a.OriginalCreatedAt, a.ArchivedAt}, reportArgs(sealed)...)
	_, err = t.tx.Exec(ctx, `
		INSERT INTO archived_reports (archive_id, original_table, original_created_at, archived_at, `+reportColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("insert archived report: %w", err)
	}
	return nil
}

func (t *archiveTx) DeleteReport(ctx context.Context, rt models.ReporterType, id string) error {
	table, err := tableFor(rt)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s/%s", errUnknownReport, table, id)
	}
	return nil
}

func (t *archiveTx) InsertAudit(ctx context.Context, e models.AuditEntry) error {
	return insertAudit(ctx, t.tx, e)
}

func (t *archiveTx) InsertNotification(ctx context.Context, n models.Notification) error {
	return insertNotification(ctx, t.tx, n)
}

// ListArchived returns archived projections, newest first.
func (s *ArchiveStore) ListArchived(ctx context.Context, limit int) ([]models.ArchivedReport, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT archive_id, original_table, original_created_at, archived_at, `+reportColumns+`
		FROM archived_reports ORDER BY archived_at DESC, archive_id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("select archived reports: %w", err)
	}
	defer rows.Close()

	var out []models.ArchivedReport
	for rows.Next() {
		var (
			a                              models.ArchivedReport
			reporterType, status, severity string
			history                        []byte
		)
		dest := append([]any{&a.ArchiveID, &a.OriginalTable, &a.OriginalCreatedAt, &a.ArchivedAt},
			reportDest(&a.Report, &reporterType, &status, &severity, &history)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan archived report: %w", err)
		}
		a.ReporterType = models.ReporterType(reporterType)
		a.Status = models.ReportStatus(status)
		a.Severity = models.Severity(severity)
		if len(history) > 0 {
			a.MedicalHistory = history
		}
		if err := openReport(ctx, s.cipher, &a.Report); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived reports: %w", err)
	}
	return out, nil
}
