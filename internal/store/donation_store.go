package store

import (
	"context"
	"database/sql"

	"github.com/healthsync/healthsync/internal/model"
)

// DonationStore binds the donation lifecycle queries to one database handle.
// Each method forwards to the package function of the same name.
type DonationStore struct {
	db *sql.DB
}

// NewDonationStore returns a DonationStore backed by db.
func NewDonationStore(db *sql.DB) *DonationStore {
	return &DonationStore{db: db}
}

func (s *DonationStore) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return GetUser(ctx, s.db, id)
}

func (s *DonationStore) GetOwnedMedicine(ctx context.Context, id, userID int64) (*model.Medicine, error) {
	return GetOwnedMedicine(ctx, s.db, id, userID)
}

func (s *DonationStore) CreateDonation(ctx context.Context, medicineID, ownerID, version int64) (*model.Donation, error) {
	return CreateDonation(ctx, s.db, medicineID, ownerID, version)
}

func (s *DonationStore) GetDonation(ctx context.Context, id int64) (*model.Donation, error) {
	return GetDonation(ctx, s.db, id)
}

func (s *DonationStore) ListDonationsByOwner(ctx context.Context, ownerID int64) ([]model.Donation, error) {
	return ListDonationsByOwner(ctx, s.db, ownerID)
}

func (s *DonationStore) ListAvailableDonations(ctx context.Context, excludeOwnerID int64) ([]model.Donation, error) {
	return ListAvailableDonations(ctx, s.db, excludeOwnerID)
}

func (s *DonationStore) FindActiveRequest(ctx context.Context, donationID, requesterID int64) (*model.DonationRequest, error) {
	return FindActiveRequest(ctx, s.db, donationID, requesterID)
}

func (s *DonationStore) CreateRequest(ctx context.Context, donationID, version, requesterID int64, message string) (*model.DonationRequest, error) {
	return CreateRequest(ctx, s.db, donationID, version, requesterID, message)
}

func (s *DonationStore) GetRequest(ctx context.Context, id int64) (*model.DonationRequest, error) {
	return GetRequest(ctx, s.db, id)
}

func (s *DonationStore) CountPendingRequests(ctx context.Context, donationID, excludeRequestID int64) (int, error) {
	return CountPendingRequests(ctx, s.db, donationID, excludeRequestID)
}

func (s *DonationStore) ResolveRequest(ctx context.Context, res Resolution) error {
	return ResolveRequest(ctx, s.db, res)
}

func (s *DonationStore) ListSentRequests(ctx context.Context, requesterID int64) ([]model.DonationRequest, error) {
	return ListSentRequests(ctx, s.db, requesterID)
}

func (s *DonationStore) ListReceivedRequests(ctx context.Context, ownerID int64) ([]model.DonationRequest, error) {
	return ListReceivedRequests(ctx, s.db, ownerID)
}
