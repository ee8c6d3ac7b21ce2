package donation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/healthsync/healthsync/internal/metrics"
	"github.com/healthsync/healthsync/internal/model"
	"github.com/healthsync/healthsync/internal/store"
)

// Store is the persistence the Service needs. Lookups return (nil, nil) for
// missing rows. The write methods are atomic and conditioned on the version
// they are given; a stale version yields store.ErrConflict.
type Store interface {
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetOwnedMedicine(ctx context.Context, id, userID int64) (*model.Medicine, error)

	CreateDonation(ctx context.Context, medicineID, ownerID, version int64) (*model.Donation, error)
	GetDonation(ctx context.Context, id int64) (*model.Donation, error)
	ListDonationsByOwner(ctx context.Context, ownerID int64) ([]model.Donation, error)
	ListAvailableDonations(ctx context.Context, excludeOwnerID int64) ([]model.Donation, error)

	CreateRequest(ctx context.Context, donationID, version, requesterID int64, message string) (*model.DonationRequest, error)
	GetRequest(ctx context.Context, id int64) (*model.DonationRequest, error)
	FindActiveRequest(ctx context.Context, donationID, requesterID int64) (*model.DonationRequest, error)
	CountPendingRequests(ctx context.Context, donationID, excludeRequestID int64) (int, error)
	ResolveRequest(ctx context.Context, res store.Resolution) error
	ListSentRequests(ctx context.Context, requesterID int64) ([]model.DonationRequest, error)
	ListReceivedRequests(ctx context.Context, ownerID int64) ([]model.DonationRequest, error)
}

// maxAttempts bounds read-decide-write cycles per operation: the first try
// plus one retry from a fresh read after a conflict.
const maxAttempts = 2

// Operation names used in logs and metrics.
const (
	opConvert = "convert"
	opRequest = "request"
	opResolve = "resolve"
)

// Service drives donations through their lifecycle. Callers pass an
// already-authenticated user id.
type Service struct {
	store   Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now for eligibility checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics records operation outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a Service backed by st.
func NewService(st Store, opts ...Option) *Service {
	s := &Service{store: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConvertToDonation offers a medicine owned by ownerID for donation. force
// confirms that an unsealed item may be donated.
func (s *Service) ConvertToDonation(ctx context.Context, medicineID, ownerID int64, force bool) (*model.Donation, error) {
	var d *model.Donation
	err := s.retry(ctx, opConvert, func() error {
		m, err := s.store.GetOwnedMedicine(ctx, medicineID, ownerID)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrNotFound
		}
		if err := CanDonate(m, force, s.now()); err != nil {
			return err
		}

		d, err = s.store.CreateDonation(ctx, m.ID, ownerID, m.Version)
		if errors.Is(err, store.ErrActiveDonation) {
			return ErrActiveDonationExists
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("medicine offered for donation", "user_id", ownerID,
		"medicine_id", medicineID, "donation_id", d.ID, "force", force)
	return d, nil
}

// RequestDonation records requesterID's interest in an AVAILABLE donation.
func (s *Service) RequestDonation(ctx context.Context, donationID, requesterID int64, message string) (*model.DonationRequest, error) {
	var r *model.DonationRequest
	err := s.retry(ctx, opRequest, func() error {
		d, err := s.store.GetDonation(ctx, donationID)
		if err != nil {
			return err
		}
		if d == nil {
			return ErrNotFound
		}
		if d.OwnerID == requesterID {
			return ErrSelfRequest
		}
		if d.Status != model.DonationAvailable {
			return ErrNotAvailable
		}
		if expired(d, s.now()) {
			return ErrExpired
		}

		existing, err := s.store.FindActiveRequest(ctx, donationID, requesterID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateRequest
		}

		r, err = s.store.CreateRequest(ctx, d.ID, d.Version, requesterID, message)
		if errors.Is(err, store.ErrDuplicateRequest) {
			return ErrDuplicateRequest
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("donation requested", "user_id", requesterID,
		"donation_id", donationID, "request_id", r.ID)
	return r, nil
}

// ResolveRequest applies the donation owner's decision to a PENDING request.
// decision must be ACCEPTED or REJECTED. Other PENDING requests on the same
// donation are left as they are.
func (s *Service) ResolveRequest(ctx context.Context, requestID, resolverID int64, decision model.RequestStatus) (*model.DonationRequest, error) {
	if decision != model.RequestAccepted && decision != model.RequestRejected {
		s.metrics.IncrementDonationOp(opResolve, string(CodeInvalidDecision))
		return nil, ErrInvalidDecision
	}

	var next model.DonationStatus
	err := s.retry(ctx, opResolve, func() error {
		r, err := s.store.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if r == nil {
			return ErrNotFound
		}
		if r.Donation.OwnerID != resolverID {
			return ErrForbidden
		}
		if r.Status != model.RequestPending {
			return ErrRequestNotPending
		}

		others, err := s.store.CountPendingRequests(ctx, r.DonationID, r.ID)
		if err != nil {
			return err
		}

		var release bool
		next, release, err = transition(r.Donation.Status, decision, others > 0)
		if err != nil {
			return err
		}

		return s.store.ResolveRequest(ctx, store.Resolution{
			RequestID:       r.ID,
			DonationID:      r.DonationID,
			DonationVersion: r.Donation.Version,
			Decision:        decision,
			DonationStatus:  next,
			ReleaseMedicine: release,
		})
	})
	if err != nil {
		return nil, err
	}

	slog.Info("donation request resolved", "user_id", resolverID,
		"request_id", requestID, "decision", decision, "donation_status", next)
	return s.store.GetRequest(ctx, requestID)
}

// ListMyDonations returns the donations ownerID has offered, newest first.
func (s *Service) ListMyDonations(ctx context.Context, ownerID int64) ([]model.Donation, error) {
	return s.store.ListDonationsByOwner(ctx, ownerID)
}

// ListSentRequests returns the requests requesterID has made, newest first.
func (s *Service) ListSentRequests(ctx context.Context, requesterID int64) ([]model.DonationRequest, error) {
	return s.store.ListSentRequests(ctx, requesterID)
}

// ListReceivedRequests returns the requests made on ownerID's donations, newest first.
func (s *Service) ListReceivedRequests(ctx context.Context, ownerID int64) ([]model.DonationRequest, error) {
	return s.store.ListReceivedRequests(ctx, ownerID)
}

// retry runs fn, running it once more from scratch if the store reports a
// conflict. A second conflict is surfaced as ErrConflict. The outcome is
// recorded under op.
func (s *Service) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		s.metrics.IncrementConflict(op)
		slog.Warn("donation write conflicted", "operation", op, "attempt", attempt)
		if ctx.Err() != nil {
			break
		}
	}
	if errors.Is(err, store.ErrConflict) {
		err = ErrConflict
	}

	s.metrics.IncrementDonationOp(op, outcomeCode(err))
	return err
}

func outcomeCode(err error) string {
	if err == nil {
		return "ok"
	}
	var de *Error
	if errors.As(err, &de) {
		return string(de.Code)
	}
	return "error"
}
