package donation

import (
	"context"
	"strings"
	"time"

	"github.com/healthsync/healthsync/internal/model"
)

// FindNearby returns the AVAILABLE donations of other users who share the
// requester's postal code or city. Storage order is preserved.
func (s *Service) FindNearby(ctx context.Context, requesterID int64) ([]model.Donation, error) {
	u, err := s.store.GetUser(ctx, requesterID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	if !u.HasLocation() {
		return nil, ErrLocationRequired
	}

	candidates, err := s.store.ListAvailableDonations(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	nearby := []model.Donation{}
	for _, d := range candidates {
		if d.OwnerID == requesterID || d.Status != model.DonationAvailable || expired(&d, now) {
			continue
		}
		if d.Owner != nil && sameArea(u, d.Owner) {
			nearby = append(nearby, d)
		}
	}
	return nearby, nil
}

// expired reports whether the donated item is past its expiry date as of now.
// Listings read between a date change and the next sweep still see it as ACTIVE.
func expired(d *model.Donation, now time.Time) bool {
	if d.Medicine == nil {
		return false
	}
	expiry, err := model.ParseDate(d.Medicine.ExpiryDate)
	if err != nil {
		return false
	}
	return model.StatusFor(expiry, now) == model.MedicineStatusExpired
}

// sameArea matches on exact postal code or case-insensitive city.
func sameArea(u *model.User, c *model.Contact) bool {
	if postal := strings.TrimSpace(u.PostalCode); postal != "" &&
		postal == strings.TrimSpace(c.PostalCode) {
		return true
	}
	city := strings.TrimSpace(u.City)
	return city != "" && strings.EqualFold(city, strings.TrimSpace(c.City))
}
