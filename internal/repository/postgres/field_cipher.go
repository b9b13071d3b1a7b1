package postgres

import (
	"context"
	"fmt"

	"policy-core/internal/models"
)

// FieldCipher seals personal columns at rest. *encryption.Manager satisfies it.
type FieldCipher interface {
	EncryptField(ctx context.Context, plaintext string) (string, error)
	DecryptField(ctx context.Context, value string) (string, error)
}

// personalFields lists the report columns stored sealed.
func personalFields(rep *models.Report) []*string {
	return []*string{&rep.PatientName, &rep.ReporterName, &rep.ReporterEmail, &rep.ReporterPhone}
}

// sealReport returns a copy of rep with its personal fields encrypted. A nil
// cipher leaves rep unchanged.
func sealReport(ctx context.Context, c FieldCipher, rep models.Report) (models.Report, error) {
	if c == nil {
		return rep, nil
	}
	for _, f := range personalFields(&rep) {
		v, err := c.EncryptField(ctx, *f)
		if err != nil {
			return rep, fmt.Errorf("seal report %s: %w", rep.ID, err)
		}
		*f = v
	}
	return rep, nil
}

// openReport decrypts the personal fields of rep in place.
func openReport(ctx context.Context, c FieldCipher, rep *models.Report) error {
	if c == nil {
		return nil
	}
	for _, f := range personalFields(rep) {
		v, err := c.DecryptField(ctx, *f)
		if err != nil {
			return fmt.Errorf("open report %s: %w", rep.ID, err)
		}
		*f = v
	}
	return nil
}
