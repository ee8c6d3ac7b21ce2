package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/healthsync/healthsync/internal/db"
	"github.com/healthsync/healthsync/internal/model"
)

func TestCreateAndGetMedicine(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, ctx, database, "owner@example.com", "Pune", "")
	other := createTestUser(t, ctx, database, "other@example.com", "Pune", "")
	expiry := nextYear()

	m := createTestMedicine(t, ctx, database, owner.ID, "Paracetamol", expiry)
	if m.IsDonatable {
		t.Error("new medicine must not be donatable")
	}
	if !m.ExpiryDate.Equal(expiry) {
		t.Errorf("expiry = %s, want %s", m.Expiry(), model.FormatDate(expiry))
	}
	if m.Version != 1 {
		t.Errorf("expected version 1, got %d", m.Version)
	}

	got, err := GetOwnedMedicine(ctx, database, m.ID, owner.ID)
	if err != nil {
		t.Fatalf("GetOwnedMedicine: %v", err)
	}
	if got == nil || got.Name != "Paracetamol" {
		t.Fatalf("unexpected medicine: %+v", got)
	}

	foreign, err := GetOwnedMedicine(ctx, database, m.ID, other.ID)
	if err != nil {
		t.Fatalf("GetOwnedMedicine: %v", err)
	}
	if foreign != nil {
		t.Error("expected nil for medicine owned by someone else")
	}
}

func TestUpdateMedicineBumpsVersion(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, ctx, database, "owner@example.com", "", "")
	m := createTestMedicine(t, ctx, database, owner.ID, "Ibuprofen", nextYear())

	m.Quantity = 3
	m.IsSealed = false
	updated, err := UpdateMedicine(ctx, database, m)
	if err != nil {
		t.Fatalf("UpdateMedicine: %v", err)
	}
	if updated.Quantity != 3 || updated.IsSealed {
		t.Errorf("fields not updated: %+v", updated)
	}
	if updated.Version != m.Version+1 {
		t.Errorf("expected version %d, got %d", m.Version+1, updated.Version)
	}
}

func TestListExpiringMedicines(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, ctx, database, "owner@example.com", "", "")
	today := model.Midnight(time.Now())

	createTestMedicine(t, ctx, database, owner.ID, "soon", today.AddDate(0, 0, 5))
	createTestMedicine(t, ctx, database, owner.ID, "later", today.AddDate(0, 3, 0))

	got, err := ListExpiringMedicines(ctx, database, owner.ID, today, today.AddDate(0, 0, 30))
	if err != nil {
		t.Fatalf("ListExpiringMedicines: %v", err)
	}
	if len(got) != 1 || got[0].Name != "soon" {
		t.Errorf("expected only 'soon', got %+v", got)
	}

	all, err := ListMedicines(ctx, database, owner.ID)
	if err != nil {
		t.Fatalf("ListMedicines: %v", err)
	}
	if len(all) != 2 || all[0].Name != "later" {
		t.Errorf("expected 2 medicines newest first, got %+v", all)
	}
}

func TestMarkExpiredMedicines(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, ctx, database, "owner@example.com", "", "")
	today := model.Midnight(time.Now())

	old := createTestMedicine(t, ctx, database, owner.ID, "old", today.AddDate(0, 0, -1))
	fresh := createTestMedicine(t, ctx, database, owner.ID, "fresh", today)

	n, err := MarkExpiredMedicines(ctx, database, today)
	if err != nil {
		t.Fatalf("MarkExpiredMedicines: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired, got %d", n)
	}

	got, _ := GetMedicine(ctx, database, old.ID)
	if got.Status != model.MedicineStatusExpired {
		t.Errorf("expected EXPIRED, got %q", got.Status)
	}
	got, _ = GetMedicine(ctx, database, fresh.ID)
	if got.Status != model.MedicineStatusActive {
		t.Errorf("item expiring today should stay ACTIVE, got %q", got.Status)
	}

	// Second sweep is a no-op.
	n, _ = MarkExpiredMedicines(ctx, database, today)
	if n != 0 {
		t.Errorf("expected idempotent sweep, got %d", n)
	}
}

func TestDeleteMedicineRefusedWithActiveDonation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, ctx, database, "owner@example.com", "", "")
	m := createTestMedicine(t, ctx, database, owner.ID, "Cetirizine", nextYear())

	if _, err := CreateDonation(ctx, database, m.ID, owner.ID, m.Version); err != nil {
		t.Fatalf("CreateDonation: %v", err)
	}

	_, err := DeleteMedicine(ctx, database, m.ID, owner.ID)
	if !errors.Is(err, ErrActiveDonation) {
		t.Fatalf("expected ErrActiveDonation, got %v", err)
	}

	got, _ := GetMedicine(ctx, database, m.ID)
	if got == nil {
		t.Fatal("medicine should survive refused delete")
	}
}

func TestDeleteMedicine(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, ctx, database, "owner@example.com", "", "")
	other := createTestUser(t, ctx, database, "other@example.com", "", "")
	m := createTestMedicine(t, ctx, database, owner.ID, "Cetirizine", nextYear())

	deleted, err := DeleteMedicine(ctx, database, m.ID, other.ID)
	if err != nil {
		t.Fatalf("DeleteMedicine: %v", err)
	}
	if deleted {
		t.Error("non-owner must not delete")
	}

	deleted, err = DeleteMedicine(ctx, database, m.ID, owner.ID)
	if err != nil {
		t.Fatalf("DeleteMedicine: %v", err)
	}
	if !deleted {
		t.Error("expected delete to succeed")
	}

	got, _ := GetMedicine(ctx, database, m.ID)
	if got != nil {
		t.Error("expected deleted medicine to be hidden")
	}
}

func TestMedicinePhoto(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, ctx, database, "owner@example.com", "", "")
	m := createTestMedicine(t, ctx, database, owner.ID, "Vitamin D", nextYear())

	data, _, err := GetMedicinePhoto(ctx, database, m.ID, owner.ID)
	if err != nil {
		t.Fatalf("GetMedicinePhoto: %v", err)
	}
	if data != nil {
		t.Error("expected no photo")
	}

	ok, err := SetMedicinePhoto(ctx, database, m.ID, owner.ID, []byte{0xff, 0xd8}, "image/jpeg")
	if err != nil || !ok {
		t.Fatalf("SetMedicinePhoto: ok=%v err=%v", ok, err)
	}

	data, mime, err := GetMedicinePhoto(ctx, database, m.ID, owner.ID)
	if err != nil {
		t.Fatalf("GetMedicinePhoto: %v", err)
	}
	if len(data) != 2 || mime != "image/jpeg" {
		t.Errorf("unexpected photo: %d bytes, %q", len(data), mime)
	}
}

func TestVerifyPrescription(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, ctx, database, "owner@example.com", "", "")
	admin := createTestUser(t, ctx, database, "admin@example.com", "", "")

	otc := createTestMedicine(t, ctx, database, owner.ID, "Antacid", nextYear())
	ok, err := VerifyPrescription(ctx, database, otc.ID, admin.ID)
	if err != nil {
		t.Fatalf("VerifyPrescription: %v", err)
	}
	if ok {
		t.Error("expected no verification for non-prescription medicine")
	}

	rx, err := CreateMedicine(ctx, database, &model.Medicine{
		UserID: owner.ID, Name: "Amoxicillin", Quantity: 1, ExpiryDate: nextYear(),
		IsSealed: true, RequiresPrescription: true, Status: model.MedicineStatusActive,
	})
	if err != nil {
		t.Fatalf("CreateMedicine: %v", err)
	}

	ok, err = VerifyPrescription(ctx, database, rx.ID, admin.ID)
	if err != nil || !ok {
		t.Fatalf("VerifyPrescription: ok=%v err=%v", ok, err)
	}

	got, _ := GetMedicine(ctx, database, rx.ID)
	if !got.PrescriptionVerified {
		t.Error("expected prescription verified")
	}
	if got.PrescriptionVerifiedBy == nil || *got.PrescriptionVerifiedBy != admin.ID {
		t.Errorf("expected verifier %d, got %v", admin.ID, got.PrescriptionVerifiedBy)
	}
}

func TestUpdateMedicineFrozenWhileDonatable(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, ctx, database, "owner@example.com", "", "")
	m := createTestMedicine(t, ctx, database, owner.ID, "Ibuprofen", nextYear())
	if _, err := CreateDonation(ctx, database, m.ID, owner.ID, m.Version); err != nil {
		t.Fatalf("CreateDonation: %v", err)
	}
	m, _ = GetOwnedMedicine(ctx, database, m.ID, owner.ID)

	unsealed := *m
	unsealed.IsSealed = false
	if _, err := UpdateMedicine(ctx, database, &unsealed); !errors.Is(err, ErrActiveDonation) {
		t.Errorf("expected ErrActiveDonation for unsealing, got %v", err)
	}

	pastExpiry := *m
	pastExpiry.ExpiryDate = model.Midnight(time.Now()).AddDate(0, 0, -1)
	pastExpiry.Status = model.MedicineStatusExpired
	if _, err := UpdateMedicine(ctx, database, &pastExpiry); !errors.Is(err, ErrActiveDonation) {
		t.Errorf("expected ErrActiveDonation for past expiry, got %v", err)
	}

	current, _ := GetOwnedMedicine(ctx, database, m.ID, owner.ID)
	if !current.IsSealed || current.Expiry() != m.Expiry() || current.Version != m.Version {
		t.Errorf("refused edits changed the medicine: %+v", current)
	}

	renamed := *m
	renamed.Name = "Ibuprofen 200"
	renamed.Quantity = 2
	updated, err := UpdateMedicine(ctx, database, &renamed)
	if err != nil {
		t.Fatalf("UpdateMedicine: %v", err)
	}
	if updated.Name != "Ibuprofen 200" || updated.Quantity != 2 {
		t.Errorf("expected descriptive edit to apply, got %+v", updated)
	}

	missing := *m
	missing.ID = 99999
	if got, err := UpdateMedicine(ctx, database, &missing); err != nil || got != nil {
		t.Errorf("expected nil for missing medicine, got %+v %v", got, err)
	}
}

func TestPrescriptionImage(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	owner := createTestUser(t, ctx, database, "owner@example.com", "", "")
	other := createTestUser(t, ctx, database, "other@example.com", "", "")
	otc := createTestMedicine(t, ctx, database, owner.ID, "Antacid", nextYear())
	rx, err := CreateMedicine(ctx, database, &model.Medicine{
		UserID: owner.ID, Name: "Amoxicillin", Quantity: 1, ExpiryDate: nextYear(),
		IsSealed: true, RequiresPrescription: true, Status: model.MedicineStatusActive,
	})
	if err != nil {
		t.Fatalf("CreateMedicine: %v", err)
	}

	if ok, err := SetPrescriptionImage(ctx, database, otc.ID, owner.ID, []byte{1}, "image/jpeg"); err != nil || ok {
		t.Errorf("expected no image for non-prescription medicine: ok=%v err=%v", ok, err)
	}
	if ok, err := SetPrescriptionImage(ctx, database, rx.ID, other.ID, []byte{1}, "image/jpeg"); err != nil || ok {
		t.Errorf("expected no image for someone else's medicine: ok=%v err=%v", ok, err)
	}

	data, _, _, err := GetPrescriptionImage(ctx, database, rx.ID)
	if err != nil || data != nil {
		t.Fatalf("expected no image yet: %v %v", data, err)
	}

	for _, upload := range [][]byte{{0xff, 0xd8}, {0xff, 0xd8, 0xff}} {
		ok, err := SetPrescriptionImage(ctx, database, rx.ID, owner.ID, upload, "image/jpeg")
		if err != nil || !ok {
			t.Fatalf("SetPrescriptionImage: ok=%v err=%v", ok, err)
		}
	}

	data, mime, ownerID, err := GetPrescriptionImage(ctx, database, rx.ID)
	if err != nil {
		t.Fatalf("GetPrescriptionImage: %v", err)
	}
	if len(data) != 3 || mime != "image/jpeg" || ownerID != owner.ID {
		t.Errorf("expected latest upload, got %d bytes %q owner %d", len(data), mime, ownerID)
	}
}
