package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/healthsync/healthsync/internal/model"
)

func createTestUser(t *testing.T, ctx context.Context, database *sql.DB, email, city, postal string) *model.User {
	t.Helper()
	u, err := CreateUser(ctx, database, &model.User{
		Email:        email,
		Name:         email,
		PasswordHash: "hash",
		City:         city,
		PostalCode:   postal,
		Role:         model.RoleUser,
	})
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", email, err)
	}
	return u
}

func createTestMedicine(t *testing.T, ctx context.Context, database *sql.DB, userID int64, name string, expiry time.Time) *model.Medicine {
	t.Helper()
	m, err := CreateMedicine(ctx, database, &model.Medicine{
		UserID:     userID,
		Name:       name,
		Quantity:   1,
		ExpiryDate: expiry,
		IsSealed:   true,
		Status:     model.MedicineStatusActive,
	})
	if err != nil {
		t.Fatalf("CreateMedicine(%s): %v", name, err)
	}
	return m
}

// nextYear is a calendar date safely in the future.
func nextYear() time.Time {
	return model.Midnight(time.Now().AddDate(1, 0, 0))
}
