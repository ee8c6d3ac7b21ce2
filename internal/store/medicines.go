package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/healthsync/healthsync/internal/model"
)

const medicineColumns = `id, user_id, name, brand, quantity, expiry_date, is_sealed, is_donatable,
	requires_prescription, prescription_verified, prescription_verified_by, prescription_verified_at,
	photo_mime, status, version, created_at, updated_at, deleted_at`

func scanMedicine(s scanner) (*model.Medicine, error) {
	m := &model.Medicine{}
	var expiry string
	var mime sql.NullString
	err := s.Scan(&m.ID, &m.UserID, &m.Name, &m.Brand, &m.Quantity, &expiry,
		&m.IsSealed, &m.IsDonatable, &m.RequiresPrescription, &m.PrescriptionVerified,
		&m.PrescriptionVerifiedBy, &m.PrescriptionVerifiedAt, &mime, &m.Status,
		&m.Version, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if err != nil {
		return nil, err
	}
	if m.ExpiryDate, err = model.ParseDate(expiry); err != nil {
		return nil, fmt.Errorf("medicine %d: %w", m.ID, err)
	}
	m.PhotoMime = mime.String
	return m, nil
}

func queryMedicines(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Medicine, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing medicines: %w", err)
	}
	defer rows.Close()

	var medicines []model.Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning medicine: %w", err)
		}
		medicines = append(medicines, *m)
	}
	return medicines, rows.Err()
}

// CreateMedicine inserts a medicine. New items are never donatable.
func CreateMedicine(ctx context.Context, db *sql.DB, m *model.Medicine) (*model.Medicine, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO medicines (user_id, name, brand, quantity, expiry_date, is_sealed,
		     requires_prescription, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, m.Name, m.Brand, m.Quantity, m.Expiry(), m.IsSealed,
		m.RequiresPrescription, m.Status,
	)
	if err != nil {
		return nil, fmt.Errorf("creating medicine: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting medicine id: %w", err)
	}

	return GetMedicine(ctx, db, id)
}

// GetMedicine returns a non-deleted medicine by ID regardless of owner.
func GetMedicine(ctx context.Context, db *sql.DB, id int64) (*model.Medicine, error) {
	m, err := scanMedicine(db.QueryRowContext(ctx,
		`SELECT `+medicineColumns+` FROM medicines WHERE id = ? AND deleted_at IS NULL`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting medicine: %w", err)
	}
	return m, nil
}

// GetOwnedMedicine returns a medicine only if userID owns it. Items owned
// by someone else are indistinguishable from missing ones.
func GetOwnedMedicine(ctx context.Context, db *sql.DB, id, userID int64) (*model.Medicine, error) {
	m, err := scanMedicine(db.QueryRowContext(ctx,
		`SELECT `+medicineColumns+` FROM medicines
		 WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting medicine: %w", err)
	}
	return m, nil
}

// ListMedicines returns a user's non-deleted medicines, newest first.
func ListMedicines(ctx context.Context, db *sql.DB, userID int64) ([]model.Medicine, error) {
	return queryMedicines(ctx, db,
		`SELECT `+medicineColumns+` FROM medicines
		 WHERE user_id = ? AND deleted_at IS NULL
		 ORDER BY created_at DESC, id DESC`, userID)
}

// ListExpiringMedicines returns a user's active medicines expiring within
// [from, to], both calendar days inclusive.
func ListExpiringMedicines(ctx context.Context, db *sql.DB, userID int64, from, to time.Time) ([]model.Medicine, error) {
	return queryMedicines(ctx, db,
		`SELECT `+medicineColumns+` FROM medicines
		 WHERE user_id = ? AND deleted_at IS NULL AND status = 'ACTIVE'
		   AND expiry_date BETWEEN ? AND ?
		 ORDER BY expiry_date, id`,
		userID, model.FormatDate(from), model.FormatDate(to))
}

// UpdateMedicine replaces the owner-editable fields of a medicine and bumps
// its version. Returns nil if the medicine is missing or not owned. While the
// medicine is donatable, an edit that changes its seal, expiry date or
// prescription flag is refused with ErrActiveDonation.
func UpdateMedicine(ctx context.Context, db *sql.DB, m *model.Medicine) (*model.Medicine, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE medicines SET name = ?, brand = ?, quantity = ?, expiry_date = ?, is_sealed = ?,
		     requires_prescription = ?, status = ?, version = version + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND user_id = ? AND deleted_at IS NULL
		   AND (is_donatable = 0
		        OR (is_sealed = ? AND expiry_date = ? AND requires_prescription = ?))`,
		m.Name, m.Brand, m.Quantity, m.Expiry(), m.IsSealed, m.RequiresPrescription,
		m.Status, m.ID, m.UserID,
		m.IsSealed, m.Expiry(), m.RequiresPrescription,
	)
	if err != nil {
		return nil, fmt.Errorf("updating medicine: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("updating medicine: %w", err)
	}

	current, err := GetOwnedMedicine(ctx, db, m.ID, m.UserID)
	if err != nil || current == nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrActiveDonation
	}
	return current, nil
}

// DeleteMedicine soft-deletes a medicine owned by userID. It refuses with
// ErrActiveDonation while a non-terminal donation references the item and
// reports false if there was nothing to delete.
func DeleteMedicine(ctx context.Context, db *sql.DB, id, userID int64) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM donations
		 WHERE medicine_id = ? AND status NOT IN ('COMPLETED', 'CANCELLED')`, id,
	).Scan(&active); err != nil {
		return false, fmt.Errorf("checking donations: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE medicines SET deleted_at = CURRENT_TIMESTAMP, version = version + 1
		 WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return false, fmt.Errorf("deleting medicine: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if active > 0 {
		return false, ErrActiveDonation
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing medicine delete: %w", err)
	}
	return true, nil
}

// SetMedicinePhoto stores a processed photo for a medicine owned by userID.
func SetMedicinePhoto(ctx context.Context, db *sql.DB, id, userID int64, data []byte, mime string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE medicines SET photo = ?, photo_mime = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND user_id = ? AND deleted_at IS NULL`,
		data, mime, id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("setting medicine photo: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetMedicinePhoto returns the stored photo of a medicine owned by userID.
// A nil slice means there is no photo.
func GetMedicinePhoto(ctx context.Context, db *sql.DB, id, userID int64) ([]byte, string, error) {
	var data []byte
	var mime sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT photo, photo_mime FROM medicines
		 WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID,
	).Scan(&data, &mime)
	if err == sql.ErrNoRows {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("getting medicine photo: %w", err)
	}
	return data, mime.String, nil
}

// SetPrescriptionImage stores the scanned prescription of a prescription-only
// medicine owned by userID, replacing any earlier upload. Reports false if no
// such medicine exists.
func SetPrescriptionImage(ctx context.Context, db *sql.DB, id, userID int64, data []byte, mime string) (bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO prescription_images (medicine_id, image, mime)
		 SELECT id, ?, ? FROM medicines
		 WHERE id = ? AND user_id = ? AND requires_prescription = 1 AND deleted_at IS NULL
		 ON CONFLICT (medicine_id) DO UPDATE SET image = excluded.image,
		     mime = excluded.mime, uploaded_at = CURRENT_TIMESTAMP`,
		data, mime, id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("setting prescription image: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetPrescriptionImage returns the prescription image of a live medicine and
// the medicine's owner. A nil slice means there is no image.
func GetPrescriptionImage(ctx context.Context, db *sql.DB, id int64) ([]byte, string, int64, error) {
	var data []byte
	var mime string
	var ownerID int64
	err := db.QueryRowContext(ctx,
		`SELECT p.image, p.mime, m.user_id FROM prescription_images p
		 JOIN medicines m ON m.id = p.medicine_id
		 WHERE p.medicine_id = ? AND m.deleted_at IS NULL`, id,
	).Scan(&data, &mime, &ownerID)
	if err == sql.ErrNoRows {
		return nil, "", 0, nil
	}
	if err != nil {
		return nil, "", 0, fmt.Errorf("getting prescription image: %w", err)
	}
	return data, mime, ownerID, nil
}

// VerifyPrescription records that verifierID checked the prescription of a
// prescription-only medicine. Reports false if no such medicine exists.
func VerifyPrescription(ctx context.Context, db *sql.DB, id, verifierID int64) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE medicines SET prescription_verified = 1, prescription_verified_by = ?,
		     prescription_verified_at = CURRENT_TIMESTAMP, version = version + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND requires_prescription = 1 AND deleted_at IS NULL`,
		verifierID, id,
	)
	if err != nil {
		return false, fmt.Errorf("verifying prescription: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkExpiredMedicines flips every active medicine whose expiry date is
// before today to EXPIRED and returns how many changed.
func MarkExpiredMedicines(ctx context.Context, db *sql.DB, today time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE medicines SET status = 'EXPIRED', version = version + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE status = 'ACTIVE' AND expiry_date < ? AND deleted_at IS NULL`,
		model.FormatDate(today),
	)
	if err != nil {
		return 0, fmt.Errorf("marking expired medicines: %w", err)
	}
	return res.RowsAffected()
}
