package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/healthsync/healthsync/internal/model"
)

const donationSelect = `SELECT d.id, d.medicine_id, d.owner_id, d.status, d.version,
	       d.created_at, d.updated_at,
	       m.name, m.brand, m.quantity, m.expiry_date, m.is_sealed,
	       o.name, o.email, o.phone, o.city, o.postal_code
	FROM donations d
	JOIN medicines m ON m.id = d.medicine_id
	JOIN users o ON o.id = d.owner_id`

func scanDonation(s scanner) (*model.Donation, error) {
	d := &model.Donation{Medicine: &model.MedicineSummary{}, Owner: &model.Contact{}}
	err := s.Scan(&d.ID, &d.MedicineID, &d.OwnerID, &d.Status, &d.Version,
		&d.CreatedAt, &d.UpdatedAt,
		&d.Medicine.Name, &d.Medicine.Brand, &d.Medicine.Quantity, &d.Medicine.ExpiryDate,
		&d.Medicine.IsSealed,
		&d.Owner.Name, &d.Owner.Email, &d.Owner.Phone, &d.Owner.City, &d.Owner.PostalCode)
	if err != nil {
		return nil, err
	}
	d.Medicine.ID = d.MedicineID
	d.Owner.ID = d.OwnerID
	return d, nil
}

func queryDonations(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Donation, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing donations: %w", err)
	}
	defer rows.Close()

	var donations []model.Donation
	for rows.Next() {
		d, err := scanDonation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning donation: %w", err)
		}
		donations = append(donations, *d)
	}
	return donations, rows.Err()
}

// CreateDonation marks a medicine donatable and opens an AVAILABLE donation
// for it in one transaction. The medicine update is conditioned on the
// version the caller evaluated eligibility against; if anything changed in
// between, ErrConflict is returned and nothing is written. ErrActiveDonation
// means a non-terminal donation already exists for the medicine.
func CreateDonation(ctx context.Context, db *sql.DB, medicineID, ownerID, version int64) (*model.Donation, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var active int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM donations
		 WHERE medicine_id = ? AND status NOT IN ('COMPLETED', 'CANCELLED')`, medicineID,
	).Scan(&active); err != nil {
		return nil, fmt.Errorf("checking active donations: %w", err)
	}
	if active > 0 {
		return nil, ErrActiveDonation
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE medicines SET is_donatable = 1, version = version + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND user_id = ? AND version = ? AND is_donatable = 0
		   AND deleted_at IS NULL`,
		medicineID, ownerID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("marking medicine donatable: %w", err)
	}
	if err := requireOneRow(res, "marking medicine donatable"); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO donations (medicine_id, owner_id, status) VALUES (?, ?, 'AVAILABLE')`,
		medicineID, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating donation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting donation id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing donation: %w", err)
	}

	return GetDonation(ctx, db, id)
}

// GetDonation returns a donation with its medicine and owner details.
func GetDonation(ctx context.Context, db *sql.DB, id int64) (*model.Donation, error) {
	d, err := scanDonation(db.QueryRowContext(ctx, donationSelect+` WHERE d.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting donation: %w", err)
	}
	return d, nil
}

// CountActiveDonations returns the number of non-terminal donations of a medicine.
func CountActiveDonations(ctx context.Context, db *sql.DB, medicineID int64) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM donations
		 WHERE medicine_id = ? AND status NOT IN ('COMPLETED', 'CANCELLED')`, medicineID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active donations: %w", err)
	}
	return n, nil
}

// ListDonationsByOwner returns every donation the user has offered, newest first.
func ListDonationsByOwner(ctx context.Context, db *sql.DB, ownerID int64) ([]model.Donation, error) {
	return queryDonations(ctx, db,
		donationSelect+` WHERE d.owner_id = ? ORDER BY d.created_at DESC, d.id DESC`, ownerID)
}

// ListAvailableDonations returns AVAILABLE donations of live, unexpired items
// that belong to anyone but excludeOwnerID, newest first.
func ListAvailableDonations(ctx context.Context, db *sql.DB, excludeOwnerID int64) ([]model.Donation, error) {
	return queryDonations(ctx, db,
		donationSelect+` WHERE d.status = 'AVAILABLE' AND d.owner_id <> ?
		   AND m.status = 'ACTIVE' AND m.deleted_at IS NULL AND o.deleted_at IS NULL
		 ORDER BY d.created_at DESC, d.id DESC`, excludeOwnerID)
}
