package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/healthsync/healthsync/internal/model"
)

const requestSelect = `SELECT r.id, r.donation_id, r.requester_id, r.message, r.status,
	       r.created_at, r.updated_at,
	       d.id, d.medicine_id, d.owner_id, d.status, d.version, d.created_at, d.updated_at,
	       m.name, m.brand, m.quantity, m.expiry_date, m.is_sealed,
	       o.name, o.email, o.phone, o.city, o.postal_code,
	       q.name, q.email, q.phone, q.city, q.postal_code
	FROM donation_requests r
	JOIN donations d ON d.id = r.donation_id
	JOIN medicines m ON m.id = d.medicine_id
	JOIN users o ON o.id = d.owner_id
	JOIN users q ON q.id = r.requester_id`

func scanRequest(s scanner) (*model.DonationRequest, error) {
	d := &model.Donation{Medicine: &model.MedicineSummary{}, Owner: &model.Contact{}}
	r := &model.DonationRequest{Donation: d, Requester: &model.Contact{}}
	err := s.Scan(&r.ID, &r.DonationID, &r.RequesterID, &r.Message, &r.Status,
		&r.CreatedAt, &r.UpdatedAt,
		&d.ID, &d.MedicineID, &d.OwnerID, &d.Status, &d.Version, &d.CreatedAt, &d.UpdatedAt,
		&d.Medicine.Name, &d.Medicine.Brand, &d.Medicine.Quantity, &d.Medicine.ExpiryDate,
		&d.Medicine.IsSealed,
		&d.Owner.Name, &d.Owner.Email, &d.Owner.Phone, &d.Owner.City, &d.Owner.PostalCode,
		&r.Requester.Name, &r.Requester.Email, &r.Requester.Phone, &r.Requester.City,
		&r.Requester.PostalCode)
	if err != nil {
		return nil, err
	}
	d.Medicine.ID = d.MedicineID
	d.Owner.ID = d.OwnerID
	r.Requester.ID = r.RequesterID
	return r, nil
}

func queryRequests(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.DonationRequest, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing donation requests: %w", err)
	}
	defer rows.Close()

	var requests []model.DonationRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning donation request: %w", err)
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// CreateRequest records a PENDING request and moves the donation from
// AVAILABLE to REQUESTED in one transaction. The donation update is
// conditioned on the version and status the caller read; if either changed,
// ErrConflict is returned. ErrDuplicateRequest means the requester already
// holds a live request for the donation.
func CreateRequest(ctx context.Context, db *sql.DB, donationID, version, requesterID int64, message string) (*model.DonationRequest, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var live int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM donation_requests
		 WHERE donation_id = ? AND requester_id = ? AND status IN ('PENDING', 'ACCEPTED')`,
		donationID, requesterID,
	).Scan(&live); err != nil {
		return nil, fmt.Errorf("checking existing requests: %w", err)
	}
	if live > 0 {
		return nil, ErrDuplicateRequest
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE donations SET status = 'REQUESTED', version = version + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND version = ? AND status = 'AVAILABLE'
		   AND EXISTS (
		       SELECT 1 FROM medicines m JOIN users o ON o.id = m.user_id
		       WHERE m.id = donations.medicine_id AND m.status = 'ACTIVE'
		         AND m.deleted_at IS NULL AND o.deleted_at IS NULL)`,
		donationID, version,
	)
	if err != nil {
		return nil, fmt.Errorf("marking donation requested: %w", err)
	}
	if err := requireOneRow(res, "marking donation requested"); err != nil {
		return nil, err
	}

	result, err := tx.ExecContext(ctx,
		`INSERT INTO donation_requests (donation_id, requester_id, message, status)
		 VALUES (?, ?, ?, 'PENDING')`,
		donationID, requesterID, message,
	)
	if err != nil {
		return nil, fmt.Errorf("creating donation request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting donation request id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing donation request: %w", err)
	}

	return GetRequest(ctx, db, id)
}

// GetRequest returns a request with its donation, owner and requester details.
func GetRequest(ctx context.Context, db *sql.DB, id int64) (*model.DonationRequest, error) {
	r, err := scanRequest(db.QueryRowContext(ctx, requestSelect+` WHERE r.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting donation request: %w", err)
	}
	return r, nil
}

// FindActiveRequest returns the requester's PENDING or ACCEPTED request for
// a donation, if any.
func FindActiveRequest(ctx context.Context, db *sql.DB, donationID, requesterID int64) (*model.DonationRequest, error) {
	r, err := scanRequest(db.QueryRowContext(ctx,
		requestSelect+` WHERE r.donation_id = ? AND r.requester_id = ?
		   AND r.status IN ('PENDING', 'ACCEPTED')`, donationID, requesterID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding active request: %w", err)
	}
	return r, nil
}

// CountPendingRequests returns the PENDING requests on a donation other than
// excludeRequestID.
func CountPendingRequests(ctx context.Context, db *sql.DB, donationID, excludeRequestID int64) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM donation_requests
		 WHERE donation_id = ? AND id <> ? AND status = 'PENDING'`,
		donationID, excludeRequestID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pending requests: %w", err)
	}
	return n, nil
}

// Resolution is the write set of an owner's decision on a request.
type Resolution struct {
	RequestID       int64
	DonationID      int64
	DonationVersion int64
	Decision        model.RequestStatus
	DonationStatus  model.DonationStatus
	// ReleaseMedicine clears the medicine's donatable flag.
	ReleaseMedicine bool
}

// ResolveRequest applies a decision atomically: the donation moves to
// res.DonationStatus if it is still at res.DonationVersion, the request
// leaves PENDING, and the medicine is optionally released. A stale version
// or an already-resolved request yields ErrConflict.
func ResolveRequest(ctx context.Context, db *sql.DB, res Resolution) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	r, err := tx.ExecContext(ctx,
		`UPDATE donations SET status = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND version = ?`,
		res.DonationStatus, res.DonationID, res.DonationVersion,
	)
	if err != nil {
		return fmt.Errorf("updating donation status: %w", err)
	}
	if err := requireOneRow(r, "updating donation status"); err != nil {
		return err
	}

	r, err = tx.ExecContext(ctx,
		`UPDATE donation_requests SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND donation_id = ? AND status = 'PENDING'`,
		res.Decision, res.RequestID, res.DonationID,
	)
	if err != nil {
		return fmt.Errorf("updating request status: %w", err)
	}
	if err := requireOneRow(r, "updating request status"); err != nil {
		return err
	}

	if res.ReleaseMedicine {
		if _, err := tx.ExecContext(ctx,
			`UPDATE medicines SET is_donatable = 0, version = version + 1,
			     updated_at = CURRENT_TIMESTAMP
			 WHERE id = (SELECT medicine_id FROM donations WHERE id = ?)`,
			res.DonationID,
		); err != nil {
			return fmt.Errorf("releasing medicine: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing resolution: %w", err)
	}
	return nil
}

// ListSentRequests returns the requests a user has made, newest first.
func ListSentRequests(ctx context.Context, db *sql.DB, requesterID int64) ([]model.DonationRequest, error) {
	return queryRequests(ctx, db,
		requestSelect+` WHERE r.requester_id = ? ORDER BY r.created_at DESC, r.id DESC`, requesterID)
}

// ListReceivedRequests returns the requests made on a user's donations, newest first.
func ListReceivedRequests(ctx context.Context, db *sql.DB, ownerID int64) ([]model.DonationRequest, error) {
	return queryRequests(ctx, db,
		requestSelect+` WHERE d.owner_id = ? ORDER BY r.created_at DESC, r.id DESC`, ownerID)
}
