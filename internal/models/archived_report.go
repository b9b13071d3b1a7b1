package models

import "time"

// ArchivedReport is the flattened archive projection of any report variant.
// It is written once by the archival job and never changed afterwards.
type ArchivedReport struct {
	ArchiveID         string    `json:"archiveId" db:"archive_id"`
	OriginalTable     string    `json:"originalTable" db:"original_table"`
	OriginalCreatedAt time.Time `json:"originalCreatedAt" db:"original_created_at"`
	ArchivedAt        time.Time `json:"archivedAt" db:"archived_at"`

	Report
}

func NewArchivedReport(archiveID, table string, r Report, archivedAt time.Time) ArchivedReport {
	return ArchivedReport{
		ArchiveID:         archiveID,
		OriginalTable:     table,
		OriginalCreatedAt: r.CreatedAt,
		ArchivedAt:        archivedAt,
		Report:            r,
	}
}

// Restore rebuilds the source report from the projection.
func (a ArchivedReport) Restore() Report {
	r := a.Report
	r.CreatedAt = a.OriginalCreatedAt
	if !r.ReporterType.Valid() {
		if t, ok := ReporterTypeForTable(a.OriginalTable); ok {
			r.ReporterType = t
		}
	}
	return r
}
