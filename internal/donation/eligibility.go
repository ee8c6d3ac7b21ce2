package donation

import (
	"time"

	"github.com/healthsync/healthsync/internal/model"
)

// CanDonate reports whether m may be offered for donation as of now. Checks
// run in a fixed order and the first failure wins. overrideUnsealed only
// lifts the seal check; nothing bypasses the prescription check.
func CanDonate(m *model.Medicine, overrideUnsealed bool, now time.Time) error {
	if model.Midnight(m.ExpiryDate).Before(model.Midnight(now)) {
		return ErrExpired
	}
	if m.IsDonatable {
		return ErrAlreadyDonatable
	}
	if m.RequiresPrescription && !m.PrescriptionVerified {
		return ErrPrescriptionRequired
	}
	if !m.IsSealed && !overrideUnsealed {
		return ErrUnsealedRequireForce
	}
	return nil
}
