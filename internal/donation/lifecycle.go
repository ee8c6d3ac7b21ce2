package donation

import "github.com/healthsync/healthsync/internal/model"

// transition returns the donation status that follows an owner's decision on
// one of its requests, and whether the medicine leaves the donatable pool.
//
//	AVAILABLE|REQUESTED --accept--> ACCEPTED (medicine released)
//	AVAILABLE|REQUESTED --reject--> REQUESTED if other requests are pending, else AVAILABLE
//	ACCEPTED|COMPLETED|CANCELLED --reject--> unchanged
//
// Accepting from any other status fails with ErrNotAvailable.
func transition(current model.DonationStatus, decision model.RequestStatus, otherPending bool) (model.DonationStatus, bool, error) {
	open := current == model.DonationAvailable || current == model.DonationRequested

	switch decision {
	case model.RequestAccepted:
		if !open {
			return current, false, ErrNotAvailable
		}
		return model.DonationAccepted, true, nil
	case model.RequestRejected:
		if !open {
			return current, false, nil
		}
		if otherPending {
			return model.DonationRequested, false, nil
		}
		return model.DonationAvailable, false, nil
	}
	return current, false, ErrInvalidDecision
}
