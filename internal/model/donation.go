package model

import "time"

// DonationStatus is the lifecycle state of a donation.
type DonationStatus string

// Donation statuses. COMPLETED and CANCELLED are terminal.
const (
	DonationAvailable DonationStatus = "AVAILABLE"
	DonationRequested DonationStatus = "REQUESTED"
	DonationAccepted  DonationStatus = "ACCEPTED"
	DonationCompleted DonationStatus = "COMPLETED"
	DonationCancelled DonationStatus = "CANCELLED"
)

// Terminal reports whether no further transition leaves s.
func (s DonationStatus) Terminal() bool {
	return s == DonationCompleted || s == DonationCancelled
}

// Valid reports whether s is a known donation status.
func (s DonationStatus) Valid() bool {
	switch s {
	case DonationAvailable, DonationRequested, DonationAccepted, DonationCompleted, DonationCancelled:
		return true
	}
	return false
}

// Donation is an offer of one medicine to other users.
type Donation struct {
	ID         int64          `json:"id"`
	MedicineID int64          `json:"medicine_id"`
	OwnerID    int64          `json:"owner_id"`
	Status     DonationStatus `json:"status"`
	Version    int64          `json:"version"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`

	// Joined fields (not always populated).
	Medicine *MedicineSummary `json:"medicine,omitempty"`
	Owner    *Contact         `json:"owner,omitempty"`
}

// RequestStatus is the state of a donation request.
type RequestStatus string

// Request statuses. ACCEPTED and REJECTED are terminal.
const (
	RequestPending  RequestStatus = "PENDING"
	RequestAccepted RequestStatus = "ACCEPTED"
	RequestRejected RequestStatus = "REJECTED"
)

// Active reports whether the request still counts against the
// one-live-request-per-requester rule.
func (s RequestStatus) Active() bool {
	return s == RequestPending || s == RequestAccepted
}

// DonationRequest is a user's interest in a donation.
type DonationRequest struct {
	ID          int64         `json:"id"`
	DonationID  int64         `json:"donation_id"`
	RequesterID int64         `json:"requester_id"`
	Message     string        `json:"message"`
	Status      RequestStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`

	// Joined fields (not always populated).
	Donation  *Donation `json:"donation,omitempty"`
	Requester *Contact  `json:"requester,omitempty"`
}

// MedicineSummary is the medicine detail attached to donations for display.
type MedicineSummary struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Brand      string `json:"brand,omitempty"`
	Quantity   int    `json:"quantity"`
	ExpiryDate string `json:"expiry_date"`
	IsSealed   bool   `json:"is_sealed"`
}

// Contact is the user detail attached to donations and requests for display.
type Contact struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}
