package donation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"github.com/healthsync/healthsync/internal/db"
	"github.com/healthsync/healthsync/internal/metrics"
	"github.com/healthsync/healthsync/internal/model"
	"github.com/healthsync/healthsync/internal/store"
)

// ServiceSuite runs the lifecycle manager against an in-memory database.
type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	db      *sql.DB
	metrics *metrics.Metrics
	svc     *Service
	now     time.Time

	owner     *model.User
	requester *model.User
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.db = db.NewTestDB(s.T())
	s.now = time.Date(2025, 6, 1, 10, 0, 0, 0, time.Local)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.svc = NewService(store.NewDonationStore(s.db),
		WithClock(func() time.Time { return s.now }),
		WithMetrics(s.metrics))

	s.owner = s.user("owner@example.com", "Pune", "411001")
	s.requester = s.user("requester@example.com", "pune", "")
}

func (s *ServiceSuite) user(email, city, postal string) *model.User {
	u, err := store.CreateUser(s.ctx, s.db, &model.User{
		Email: email, Name: email, PasswordHash: "hash",
		City: city, PostalCode: postal, Role: model.RoleUser,
	})
	s.Require().NoError(err)
	return u
}

// medicine creates an eligible medicine for owner, then applies mutate.
func (s *ServiceSuite) medicine(owner *model.User, mutate func(m *model.Medicine)) *model.Medicine {
	m := &model.Medicine{
		UserID:     owner.ID,
		Name:       "Paracetamol",
		Quantity:   1,
		ExpiryDate: model.Midnight(s.now).AddDate(0, 6, 0),
		IsSealed:   true,
		Status:     model.MedicineStatusActive,
	}
	if mutate != nil {
		mutate(m)
	}
	created, err := store.CreateMedicine(s.ctx, s.db, m)
	s.Require().NoError(err)
	if m.PrescriptionVerified {
		_, err := store.VerifyPrescription(s.ctx, s.db, created.ID, owner.ID)
		s.Require().NoError(err)
	}
	return created
}

func (s *ServiceSuite) donation(owner *model.User) *model.Donation {
	d, err := s.svc.ConvertToDonation(s.ctx, s.medicine(owner, nil).ID, owner.ID, false)
	s.Require().NoError(err)
	return d
}

// seedPendingRequest inserts a PENDING request directly, bypassing the
// AVAILABLE check, to model several requesters queued on one donation.
func (s *ServiceSuite) seedPendingRequest(donationID, requesterID int64) int64 {
	res, err := s.db.ExecContext(s.ctx,
		`INSERT INTO donation_requests (donation_id, requester_id, status) VALUES (?, ?, 'PENDING')`,
		donationID, requesterID)
	s.Require().NoError(err)
	id, err := res.LastInsertId()
	s.Require().NoError(err)
	return id
}

func (s *ServiceSuite) reloadMedicine(id int64) *model.Medicine {
	m, err := store.GetMedicine(s.ctx, s.db, id)
	s.Require().NoError(err)
	s.Require().NotNil(m)
	return m
}

func (s *ServiceSuite) reloadDonation(id int64) *model.Donation {
	d, err := store.GetDonation(s.ctx, s.db, id)
	s.Require().NoError(err)
	s.Require().NotNil(d)
	return d
}

func (s *ServiceSuite) reloadRequest(id int64) *model.DonationRequest {
	r, err := store.GetRequest(s.ctx, s.db, id)
	s.Require().NoError(err)
	s.Require().NotNil(r)
	return r
}

func (s *ServiceSuite) TestConvertToDonation() {
	s.Run("creates available donation and flags medicine", func() {
		m := s.medicine(s.owner, nil)
		d, err := s.svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, false)
		s.Require().NoError(err)
		s.Equal(model.DonationAvailable, d.Status)
		s.Equal(m.ID, d.MedicineID)
		s.Equal("Paracetamol", d.Medicine.Name)
		s.Equal("Pune", d.Owner.City)
		s.True(s.reloadMedicine(m.ID).IsDonatable)
	})

	s.Run("expired fails regardless of force", func() {
		m := s.medicine(s.owner, func(m *model.Medicine) {
			m.ExpiryDate = model.Midnight(s.now).AddDate(0, 0, -1)
		})
		for _, force := range []bool{false, true} {
			_, err := s.svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, force)
			s.ErrorIs(err, ErrExpired, "force=%v", force)
		}
		s.False(s.reloadMedicine(m.ID).IsDonatable)
	})

	s.Run("unverified prescription fails even with force", func() {
		m := s.medicine(s.owner, func(m *model.Medicine) {
			m.RequiresPrescription = true
			m.IsSealed = false
		})
		_, err := s.svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, true)
		s.ErrorIs(err, ErrPrescriptionRequired)
	})

	s.Run("verified prescription succeeds", func() {
		m := s.medicine(s.owner, func(m *model.Medicine) {
			m.RequiresPrescription = true
			m.PrescriptionVerified = true
		})
		_, err := s.svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, false)
		s.NoError(err)
	})

	s.Run("unsealed needs force", func() {
		m := s.medicine(s.owner, func(m *model.Medicine) { m.IsSealed = false })

		_, err := s.svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, false)
		s.ErrorIs(err, ErrUnsealedRequireForce)
		s.False(s.reloadMedicine(m.ID).IsDonatable)

		d, err := s.svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, true)
		s.Require().NoError(err)
		s.Equal(model.DonationAvailable, d.Status)
	})

	s.Run("second conversion is already donatable", func() {
		m := s.medicine(s.owner, nil)
		_, err := s.svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, false)
		s.Require().NoError(err)

		_, err = s.svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, false)
		s.ErrorIs(err, ErrAlreadyDonatable)
	})

	s.Run("foreign or missing medicine is not found", func() {
		m := s.medicine(s.owner, nil)
		_, err := s.svc.ConvertToDonation(s.ctx, m.ID, s.requester.ID, false)
		s.ErrorIs(err, ErrNotFound)

		_, err = s.svc.ConvertToDonation(s.ctx, 99999, s.owner.ID, false)
		s.ErrorIs(err, ErrNotFound)
	})
}

func (s *ServiceSuite) TestConvertAfterAcceptKeepsOneActiveDonation() {
	d := s.donation(s.owner)
	r, err := s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
	s.Require().NoError(err)
	_, err = s.svc.ResolveRequest(s.ctx, r.ID, s.owner.ID, model.RequestAccepted)
	s.Require().NoError(err)

	// The medicine is no longer donatable but its donation is still live.
	_, err = s.svc.ConvertToDonation(s.ctx, d.MedicineID, s.owner.ID, false)
	s.ErrorIs(err, ErrActiveDonationExists)
}

func (s *ServiceSuite) TestRequestDonation() {
	s.Run("moves donation to requested", func() {
		d := s.donation(s.owner)
		r, err := s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "I need this")
		s.Require().NoError(err)
		s.Equal(model.RequestPending, r.Status)
		s.Equal("I need this", r.Message)
		s.Equal(model.DonationRequested, s.reloadDonation(d.ID).Status)
	})

	s.Run("missing donation", func() {
		_, err := s.svc.RequestDonation(s.ctx, 99999, s.requester.ID, "")
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("own donation", func() {
		d := s.donation(s.owner)
		_, err := s.svc.RequestDonation(s.ctx, d.ID, s.owner.ID, "")
		s.ErrorIs(err, ErrSelfRequest)
	})

	s.Run("already requested by someone else", func() {
		d := s.donation(s.owner)
		other := s.user(fmt.Sprintf("other-%d@example.com", d.ID), "Pune", "")
		_, err := s.svc.RequestDonation(s.ctx, d.ID, other.ID, "")
		s.Require().NoError(err)

		_, err = s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
		s.ErrorIs(err, ErrNotAvailable)
	})

	s.Run("duplicate live request", func() {
		d := s.donation(s.owner)
		s.seedPendingRequest(d.ID, s.requester.ID)

		_, err := s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
		s.ErrorIs(err, ErrDuplicateRequest)
		s.Equal(model.DonationAvailable, s.reloadDonation(d.ID).Status)
	})
}

func (s *ServiceSuite) TestDeletedOwnerWithdrawsDonations() {
	offered := s.donation(s.owner)
	queued := s.donation(s.owner)
	pending, err := s.svc.RequestDonation(s.ctx, queued.ID, s.requester.ID, "")
	s.Require().NoError(err)

	nearby, err := s.svc.FindNearby(s.ctx, s.requester.ID)
	s.Require().NoError(err)
	s.Len(nearby, 1)

	s.Require().NoError(store.DeleteUser(s.ctx, s.db, s.owner.ID))

	nearby, err = s.svc.FindNearby(s.ctx, s.requester.ID)
	s.Require().NoError(err)
	s.Empty(nearby)

	_, err = s.svc.RequestDonation(s.ctx, offered.ID, s.requester.ID, "")
	s.ErrorIs(err, ErrNotAvailable)

	for _, d := range []*model.Donation{offered, queued} {
		s.Equal(model.DonationCancelled, s.reloadDonation(d.ID).Status)
		s.False(s.reloadMedicine(d.MedicineID).IsDonatable)
	}
	s.Equal(model.RequestRejected, s.reloadRequest(pending.ID).Status)
}

func (s *ServiceSuite) TestExpiredDonationLeavesListings() {
	d := s.donation(s.owner)

	s.Run("past expiry by the clock", func() {
		s.now = s.now.AddDate(0, 7, 0)
		defer func() { s.now = s.now.AddDate(0, -7, 0) }()

		nearby, err := s.svc.FindNearby(s.ctx, s.requester.ID)
		s.Require().NoError(err)
		s.Empty(nearby)

		_, err = s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
		s.ErrorIs(err, ErrExpired)
		s.Equal(model.DonationAvailable, s.reloadDonation(d.ID).Status)
	})

	s.Run("marked expired by the sweeper", func() {
		_, err := s.db.ExecContext(s.ctx,
			`UPDATE medicines SET status = 'EXPIRED' WHERE id = ?`, d.MedicineID)
		s.Require().NoError(err)

		nearby, err := s.svc.FindNearby(s.ctx, s.requester.ID)
		s.Require().NoError(err)
		s.Empty(nearby)

		_, err = store.CreateRequest(s.ctx, s.db, d.ID, d.Version, s.requester.ID, "")
		s.ErrorIs(err, store.ErrConflict)
	})
}

func (s *ServiceSuite) TestAcceptRequest() {
	d := s.donation(s.owner)
	r, err := s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
	s.Require().NoError(err)
	sibling := s.seedPendingRequest(d.ID, s.user("sibling@example.com", "", "").ID)

	resolved, err := s.svc.ResolveRequest(s.ctx, r.ID, s.owner.ID, model.RequestAccepted)
	s.Require().NoError(err)
	s.Equal(model.RequestAccepted, resolved.Status)
	s.Equal(model.DonationAccepted, resolved.Donation.Status)
	s.False(s.reloadMedicine(d.MedicineID).IsDonatable)

	// Siblings are left for the owner to handle.
	s.Equal(model.RequestPending, s.reloadRequest(sibling).Status)

	// Accepting a sibling of an accepted donation is refused.
	_, err = s.svc.ResolveRequest(s.ctx, sibling, s.owner.ID, model.RequestAccepted)
	s.ErrorIs(err, ErrNotAvailable)

	// Rejecting it cleans up without disturbing the accepted donation.
	_, err = s.svc.ResolveRequest(s.ctx, sibling, s.owner.ID, model.RequestRejected)
	s.Require().NoError(err)
	s.Equal(model.RequestRejected, s.reloadRequest(sibling).Status)
	s.Equal(model.DonationAccepted, s.reloadDonation(d.ID).Status)
}

func (s *ServiceSuite) TestRejectLastPendingRevertsToAvailable() {
	d := s.donation(s.owner)
	r, err := s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
	s.Require().NoError(err)

	resolved, err := s.svc.ResolveRequest(s.ctx, r.ID, s.owner.ID, model.RequestRejected)
	s.Require().NoError(err)
	s.Equal(model.RequestRejected, resolved.Status)
	s.Equal(model.DonationAvailable, resolved.Donation.Status)
	s.True(s.reloadMedicine(d.MedicineID).IsDonatable)

	// A rejected requester may ask again.
	_, err = s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "second try")
	s.NoError(err)
}

func (s *ServiceSuite) TestRejectOneOfSeveralStaysRequested() {
	d := s.donation(s.owner)
	r, err := s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
	s.Require().NoError(err)
	s.seedPendingRequest(d.ID, s.user("second@example.com", "", "").ID)

	resolved, err := s.svc.ResolveRequest(s.ctx, r.ID, s.owner.ID, model.RequestRejected)
	s.Require().NoError(err)
	s.Equal(model.DonationRequested, resolved.Donation.Status)
}

func (s *ServiceSuite) TestResolveRequestErrors() {
	d := s.donation(s.owner)
	r, err := s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
	s.Require().NoError(err)

	s.Run("invalid decision checked first", func() {
		_, err := s.svc.ResolveRequest(s.ctx, 99999, s.requester.ID, model.RequestPending)
		s.ErrorIs(err, ErrInvalidDecision)
		_, err = s.svc.ResolveRequest(s.ctx, r.ID, s.owner.ID, "MAYBE")
		s.ErrorIs(err, ErrInvalidDecision)
	})

	s.Run("missing request", func() {
		_, err := s.svc.ResolveRequest(s.ctx, 99999, s.owner.ID, model.RequestAccepted)
		s.ErrorIs(err, ErrNotFound)
	})

	s.Run("only the owner resolves", func() {
		_, err := s.svc.ResolveRequest(s.ctx, r.ID, s.requester.ID, model.RequestAccepted)
		s.ErrorIs(err, ErrForbidden)
		s.Equal(model.RequestPending, s.reloadRequest(r.ID).Status)
	})

	s.Run("resolved requests are final", func() {
		_, err := s.svc.ResolveRequest(s.ctx, r.ID, s.owner.ID, model.RequestRejected)
		s.Require().NoError(err)
		_, err = s.svc.ResolveRequest(s.ctx, r.ID, s.owner.ID, model.RequestAccepted)
		s.ErrorIs(err, ErrRequestNotPending)
	})
}

func (s *ServiceSuite) TestAtMostOneLiveRequestPerRequester() {
	d := s.donation(s.owner)
	r, err := s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
	s.Require().NoError(err)
	_, err = s.svc.ResolveRequest(s.ctx, r.ID, s.owner.ID, model.RequestRejected)
	s.Require().NoError(err)
	r, err = s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
	s.Require().NoError(err)
	_, err = s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
	s.Error(err)
	_, err = s.svc.ResolveRequest(s.ctx, r.ID, s.owner.ID, model.RequestAccepted)
	s.Require().NoError(err)

	var live int
	s.Require().NoError(s.db.QueryRowContext(s.ctx,
		`SELECT COUNT(*) FROM donation_requests
		 WHERE donation_id = ? AND requester_id = ? AND status IN ('PENDING', 'ACCEPTED')`,
		d.ID, s.requester.ID).Scan(&live))
	s.Equal(1, live)
}

func (s *ServiceSuite) TestConcurrentRequestsSingleWinner() {
	d := s.donation(s.owner)

	const n = 6
	users := make([]*model.User, n)
	for i := range users {
		users[i] = s.user(fmt.Sprintf("racer-%d@example.com", i), "Pune", "")
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range users {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.svc.RequestDonation(s.ctx, d.ID, users[i].ID, "")
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		s.True(errors.Is(err, ErrNotAvailable) || errors.Is(err, ErrConflict), "unexpected error: %v", err)
	}
	s.Equal(1, wins)

	var pending int
	s.Require().NoError(s.db.QueryRowContext(s.ctx,
		`SELECT COUNT(*) FROM donation_requests WHERE donation_id = ?`, d.ID).Scan(&pending))
	s.Equal(1, pending)
	s.Equal(model.DonationRequested, s.reloadDonation(d.ID).Status)
}

func (s *ServiceSuite) TestFindNearby() {
	nearCity := s.user("city@example.com", "  PUNE ", "")
	nearPostal := s.user("postal@example.com", "Elsewhere", "411001")
	far := s.user("far@example.com", "Mumbai", "400001")

	// requester: city "pune", no postal code. Give them a postal code too.
	s.requester.PostalCode = "411001"
	_, err := store.UpdateProfile(s.ctx, s.db, s.requester)
	s.Require().NoError(err)

	cityDonation := s.donation(nearCity)
	postalDonation := s.donation(nearPostal)
	s.donation(far)
	s.donation(s.requester)

	taken := s.donation(s.owner)
	_, err = s.svc.RequestDonation(s.ctx, taken.ID, nearCity.ID, "")
	s.Require().NoError(err)

	got, err := s.svc.FindNearby(s.ctx, s.requester.ID)
	s.Require().NoError(err)

	ids := make([]int64, 0, len(got))
	for _, d := range got {
		ids = append(ids, d.ID)
		s.NotEqual(s.requester.ID, d.OwnerID)
		s.Equal(model.DonationAvailable, d.Status)
	}
	s.ElementsMatch([]int64{cityDonation.ID, postalDonation.ID}, ids)

	s.Run("location required", func() {
		nowhere := s.user("nowhere@example.com", "", "")
		_, err := s.svc.FindNearby(s.ctx, nowhere.ID)
		s.ErrorIs(err, ErrLocationRequired)
	})

	s.Run("unknown requester", func() {
		_, err := s.svc.FindNearby(s.ctx, 99999)
		s.ErrorIs(err, ErrNotFound)
	})
}

func (s *ServiceSuite) TestListings() {
	d := s.donation(s.owner)
	_, err := s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "hello")
	s.Require().NoError(err)

	mine, err := s.svc.ListMyDonations(s.ctx, s.owner.ID)
	s.Require().NoError(err)
	s.Len(mine, 1)

	sent, err := s.svc.ListSentRequests(s.ctx, s.requester.ID)
	s.Require().NoError(err)
	s.Require().Len(sent, 1)
	s.Equal("hello", sent[0].Message)
	s.Equal(s.owner.ID, sent[0].Donation.Owner.ID)

	received, err := s.svc.ListReceivedRequests(s.ctx, s.owner.ID)
	s.Require().NoError(err)
	s.Require().Len(received, 1)
	s.Equal(s.requester.ID, received[0].Requester.ID)

	none, err := s.svc.ListReceivedRequests(s.ctx, s.requester.ID)
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *ServiceSuite) TestMetricsRecordOutcomes() {
	m := s.medicine(s.owner, func(m *model.Medicine) { m.IsSealed = false })
	_, err := s.svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, false)
	s.Require().Error(err)
	_, err = s.svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, true)
	s.Require().NoError(err)

	s.Equal(1.0, testutil.ToFloat64(s.metrics.DonationOps.WithLabelValues(opConvert, "ok")))
	s.Equal(1.0, testutil.ToFloat64(
		s.metrics.DonationOps.WithLabelValues(opConvert, string(CodeUnsealedRequireForce))))
}

// conflictingStore fails the first failures write calls with store.ErrConflict.
type conflictingStore struct {
	Store
	failures int
	calls    int
}

func (c *conflictingStore) CreateDonation(ctx context.Context, medicineID, ownerID, version int64) (*model.Donation, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, store.ErrConflict
	}
	return c.Store.CreateDonation(ctx, medicineID, ownerID, version)
}

func (c *conflictingStore) ResolveRequest(ctx context.Context, res store.Resolution) error {
	c.calls++
	if c.calls <= c.failures {
		return store.ErrConflict
	}
	return c.Store.ResolveRequest(ctx, res)
}

func (s *ServiceSuite) TestConflictRetry() {
	s.Run("one conflict is retried", func() {
		cs := &conflictingStore{Store: store.NewDonationStore(s.db), failures: 1}
		svc := NewService(cs, WithClock(func() time.Time { return s.now }))

		m := s.medicine(s.owner, nil)
		d, err := svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, false)
		s.Require().NoError(err)
		s.Equal(model.DonationAvailable, d.Status)
		s.Equal(2, cs.calls)
	})

	s.Run("two conflicts surface", func() {
		cs := &conflictingStore{Store: store.NewDonationStore(s.db), failures: 2}
		svc := NewService(cs, WithClock(func() time.Time { return s.now }), WithMetrics(s.metrics))

		m := s.medicine(s.owner, nil)
		_, err := svc.ConvertToDonation(s.ctx, m.ID, s.owner.ID, false)
		s.ErrorIs(err, ErrConflict)
		s.Equal(2, cs.calls)
		s.False(s.reloadMedicine(m.ID).IsDonatable)
		s.Equal(2.0, testutil.ToFloat64(s.metrics.Conflicts.WithLabelValues(opConvert)))
	})

	s.Run("resolve retries from a fresh read", func() {
		d := s.donation(s.owner)
		r, err := s.svc.RequestDonation(s.ctx, d.ID, s.requester.ID, "")
		s.Require().NoError(err)

		cs := &conflictingStore{Store: store.NewDonationStore(s.db), failures: 1}
		svc := NewService(cs)
		resolved, err := svc.ResolveRequest(s.ctx, r.ID, s.owner.ID, model.RequestAccepted)
		s.Require().NoError(err)
		s.Equal(model.DonationAccepted, resolved.Donation.Status)
	})
}
