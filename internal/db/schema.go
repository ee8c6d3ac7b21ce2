package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    email         TEXT NOT NULL,
    name          TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    phone         TEXT NOT NULL DEFAULT '',
    city          TEXT NOT NULL DEFAULT '',
    postal_code   TEXT NOT NULL DEFAULT '',
    role          TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('admin', 'user')),
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_active
    ON users(email) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS medicines (
    id                       INTEGER PRIMARY KEY,
    user_id                  INTEGER NOT NULL REFERENCES users(id),
    name                     TEXT NOT NULL,
    brand                    TEXT NOT NULL DEFAULT '',
    quantity                 INTEGER NOT NULL DEFAULT 1 CHECK (quantity > 0),
    expiry_date              TEXT NOT NULL,
    is_sealed                INTEGER NOT NULL DEFAULT 1,
    is_donatable             INTEGER NOT NULL DEFAULT 0,
    requires_prescription    INTEGER NOT NULL DEFAULT 0,
    prescription_verified    INTEGER NOT NULL DEFAULT 0,
    prescription_verified_by INTEGER REFERENCES users(id),
    prescription_verified_at DATETIME,
    photo                    BLOB,
    photo_mime               TEXT,
    status                   TEXT NOT NULL DEFAULT 'ACTIVE' CHECK (status IN ('ACTIVE', 'EXPIRED')),
    version                  INTEGER NOT NULL DEFAULT 1,
    created_at               DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at               DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at               DATETIME
);

CREATE INDEX IF NOT EXISTS idx_medicines_user
    ON medicines(user_id) WHERE deleted_at IS NULL;

-- Scanned prescription of a prescription-only medicine, kept for admin review.
CREATE TABLE IF NOT EXISTS prescription_images (
    medicine_id INTEGER PRIMARY KEY REFERENCES medicines(id),
    image       BLOB NOT NULL,
    mime        TEXT NOT NULL,
    uploaded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS donations (
    id          INTEGER PRIMARY KEY,
    medicine_id INTEGER NOT NULL REFERENCES medicines(id),
    owner_id    INTEGER NOT NULL REFERENCES users(id),
    status      TEXT NOT NULL DEFAULT 'AVAILABLE'
                CHECK (status IN ('AVAILABLE', 'REQUESTED', 'ACCEPTED', 'COMPLETED', 'CANCELLED')),
    version     INTEGER NOT NULL DEFAULT 1,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- At most one non-terminal donation per medicine.
CREATE UNIQUE INDEX IF NOT EXISTS idx_donations_one_active_per_medicine
    ON donations(medicine_id) WHERE status NOT IN ('COMPLETED', 'CANCELLED');

CREATE INDEX IF NOT EXISTS idx_donations_status
    ON donations(status, owner_id);

CREATE TABLE IF NOT EXISTS donation_requests (
    id           INTEGER PRIMARY KEY,
    donation_id  INTEGER NOT NULL REFERENCES donations(id),
    requester_id INTEGER NOT NULL REFERENCES users(id),
    message      TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'ACCEPTED', 'REJECTED')),
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- At most one live request per requester and donation.
CREATE UNIQUE INDEX IF NOT EXISTS idx_donation_requests_one_active
    ON donation_requests(donation_id, requester_id) WHERE status IN ('PENDING', 'ACCEPTED');

CREATE INDEX IF NOT EXISTS idx_donation_requests_requester
    ON donation_requests(requester_id);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: backfill the lifecycle status of rows imported before the
	// expiry sweeper existed.
	`UPDATE medicines SET status = 'EXPIRED'
	     WHERE status = 'ACTIVE' AND expiry_date < date('now', 'localtime')`,
}

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Migrate ensures the schema and runs the migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
