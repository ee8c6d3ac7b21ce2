package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Sentinel errors returned by the transactional write paths. Callers map
// them to domain errors; lookups report "not found" as a nil result instead.
var (
	// ErrConflict means a guarded UPDATE matched no row: the version or
	// status it was conditioned on changed since it was read.
	ErrConflict = errors.New("store: concurrent modification")

	// ErrActiveDonation means the medicine already has a non-terminal donation.
	ErrActiveDonation = errors.New("store: medicine has an active donation")

	// ErrDuplicateRequest means the requester already holds a live request
	// for the donation.
	ErrDuplicateRequest = errors.New("store: duplicate donation request")
)

// scanner is implemented by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// requireOneRow turns a zero-row guarded UPDATE into ErrConflict.
func requireOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
