package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/healthsync/healthsync/internal/model"
)

const userColumns = `id, email, name, password_hash, phone, city, postal_code, role, created_at, deleted_at`

func scanUser(s scanner) (*model.User, error) {
	u := &model.User{}
	err := s.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Phone, &u.City,
		&u.PostalCode, &u.Role, &u.CreatedAt, &u.DeletedAt)
	return u, err
}

// CreateUser inserts a user. The email is stored normalized.
func CreateUser(ctx context.Context, db *sql.DB, u *model.User) (*model.User, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO users (email, name, password_hash, phone, city, postal_code, role)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		model.NormalizeEmail(u.Email), u.Name, u.PasswordHash, u.Phone, u.City, u.PostalCode, u.Role,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	return GetUser(ctx, db, id)
}

// GetUser returns a user by ID.
func GetUser(ctx context.Context, db *sql.DB, id int64) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns the live user registered under email.
func GetUserByEmail(ctx context.Context, db *sql.DB, email string) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? AND deleted_at IS NULL`,
		model.NormalizeEmail(email)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// CountUsers returns the number of non-deleted users.
func CountUsers(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE deleted_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// ListUsers returns all non-deleted users.
func ListUsers(ctx context.Context, db *sql.DB) ([]model.User, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateProfile replaces the editable profile fields of a user.
func UpdateProfile(ctx context.Context, db *sql.DB, u *model.User) (*model.User, error) {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET name = ?, phone = ?, city = ?, postal_code = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		u.Name, u.Phone, u.City, u.PostalCode, u.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return GetUser(ctx, db, u.ID)
}

// UpdateUserRole changes a user's role.
func UpdateUserRole(ctx context.Context, db *sql.DB, id int64, role string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET role = ? WHERE id = ? AND deleted_at IS NULL`,
		role, id,
	)
	if err != nil {
		return fmt.Errorf("updating user role: %w", err)
	}
	return nil
}

// UpdateUserPassword updates a user's password hash.
func UpdateUserPassword(ctx context.Context, db *sql.DB, id int64, passwordHash string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return nil
}

// DeleteUser soft-deletes a user and withdraws their open offers in the same
// transaction. AVAILABLE and REQUESTED donations are CANCELLED, their PENDING
// requests are REJECTED and the medicines stop being donatable. ACCEPTED
// donations are left for the requester to follow up on.
func DeleteUser(ctx context.Context, db *sql.DB, id int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE users SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("deleting user: %w", err)
	} else if n == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE donation_requests SET status = 'REJECTED', updated_at = CURRENT_TIMESTAMP
		 WHERE status = 'PENDING' AND donation_id IN (
		     SELECT id FROM donations
		     WHERE owner_id = ? AND status IN ('AVAILABLE', 'REQUESTED'))`,
		id,
	); err != nil {
		return fmt.Errorf("rejecting requests of deleted user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE medicines SET is_donatable = 0, version = version + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id IN (
		     SELECT medicine_id FROM donations
		     WHERE owner_id = ? AND status IN ('AVAILABLE', 'REQUESTED'))`,
		id,
	); err != nil {
		return fmt.Errorf("withdrawing medicines of deleted user: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE donations SET status = 'CANCELLED', version = version + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE owner_id = ? AND status IN ('AVAILABLE', 'REQUESTED')`,
		id,
	); err != nil {
		return fmt.Errorf("cancelling donations of deleted user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing user deletion: %w", err)
	}
	return nil
}
