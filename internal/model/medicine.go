package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// DateLayout is the storage and wire format for calendar dates.
const DateLayout = "2006-01-02"

// Medicine is an inventory item owned by a single user.
type Medicine struct {
	ID                     int64      `json:"id"`
	UserID                 int64      `json:"user_id"`
	Name                   string     `json:"name"`
	Brand                  string     `json:"brand"`
	Quantity               int        `json:"quantity"`
	ExpiryDate             time.Time  `json:"-"`
	IsSealed               bool       `json:"is_sealed"`
	IsDonatable            bool       `json:"is_donatable"`
	RequiresPrescription   bool       `json:"requires_prescription"`
	PrescriptionVerified   bool       `json:"prescription_verified"`
	PrescriptionVerifiedBy *int64     `json:"prescription_verified_by,omitempty"`
	PrescriptionVerifiedAt *time.Time `json:"prescription_verified_at,omitempty"`
	PhotoMime              string     `json:"photo_mime,omitempty"`
	Status                 string     `json:"status"`
	Version                int64      `json:"version"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	DeletedAt              *time.Time `json:"deleted_at,omitempty"`
}

// Expiry returns the expiry date in DateLayout form.
func (m Medicine) Expiry() string {
	return FormatDate(m.ExpiryDate)
}

// MarshalJSON renders the expiry date as a plain calendar date.
func (m Medicine) MarshalJSON() ([]byte, error) {
	type alias Medicine
	return json.Marshal(struct {
		alias
		ExpiryDate string `json:"expiry_date"`
	}{alias(m), m.Expiry()})
}

// Medicine lifecycle statuses.
const (
	MedicineStatusActive  = "ACTIVE"
	MedicineStatusExpired = "EXPIRED"
)

// ParseDate parses a calendar date in DateLayout form.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return t, nil
}

// FormatDate formats a calendar date in DateLayout form.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// Midnight truncates t to the start of its calendar day in its own location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StatusFor returns the lifecycle status of an item expiring on expiry as of
// now. An item expiring today is still active.
func StatusFor(expiry, now time.Time) string {
	if Midnight(expiry).Before(Midnight(now)) {
		return MedicineStatusExpired
	}
	return MedicineStatusActive
}
