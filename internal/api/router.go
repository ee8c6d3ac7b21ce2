package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthsync/healthsync/internal/auth"
	"github.com/healthsync/healthsync/internal/donation"
	"github.com/healthsync/healthsync/internal/intake"
	"github.com/healthsync/healthsync/internal/model"
)

// Deps are the collaborators the API is built from.
type Deps struct {
	DB        *sql.DB
	Tokens    *auth.Tokens
	Donations *donation.Service
	Intake    *intake.Pipeline
	// Gatherer backs GET /metrics when set.
	Gatherer prometheus.Gatherer
	// Now replaces time.Now for expiry-dependent endpoints.
	Now func() time.Time
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(deps Deps) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{DB: deps.DB, Tokens: deps.Tokens}
	profileHandler := &ProfileHandler{DB: deps.DB}
	medicinesHandler := &MedicinesHandler{DB: deps.DB, Now: deps.Now}
	donationsHandler := &DonationsHandler{Service: deps.Donations}
	scanHandler := &ScanHandler{Pipeline: deps.Intake}
	usersHandler := &UsersHandler{DB: deps.DB}

	authMW := AuthMiddleware(deps.Tokens, deps.DB)
	requireAdmin := RequireRole(model.RoleAdmin)
	authed := func(h http.HandlerFunc) http.Handler { return authMW(h) }
	admin := func(h http.HandlerFunc) http.Handler { return authMW(requireAdmin(h)) }

	// Public.
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/auth/login", authHandler.Login)
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	// Session and profile.
	mux.Handle("POST /api/auth/logout", authed(authHandler.Logout))
	mux.Handle("PUT /api/auth/password", authed(authHandler.ChangePassword))
	mux.Handle("GET /api/profile", authed(profileHandler.Get))
	mux.Handle("PUT /api/profile", authed(profileHandler.Update))

	// Medicines: owner-scoped.
	mux.Handle("GET /api/medicines", authed(medicinesHandler.List))
	mux.Handle("POST /api/medicines", authed(medicinesHandler.Create))
	mux.Handle("GET /api/medicines/expiring-soon", authed(medicinesHandler.ExpiringSoon))
	mux.Handle("GET /api/medicines/{id}", authed(medicinesHandler.Get))
	mux.Handle("PUT /api/medicines/{id}", authed(medicinesHandler.Update))
	mux.Handle("DELETE /api/medicines/{id}", authed(medicinesHandler.Delete))
	mux.Handle("PUT /api/medicines/{id}/photo", authed(medicinesHandler.UploadPhoto))
	mux.Handle("GET /api/medicines/{id}/photo", authed(medicinesHandler.GetPhoto))
	mux.Handle("PUT /api/medicines/{id}/prescription", authed(medicinesHandler.UploadPrescription))
	mux.Handle("GET /api/medicines/{id}/prescription", authed(medicinesHandler.GetPrescription))
	mux.Handle("POST /api/medicines/{id}/prescription/verify", admin(medicinesHandler.VerifyPrescription))

	// Donations.
	mux.Handle("POST /api/donations/{medicineId}", authed(donationsHandler.Convert))
	mux.Handle("GET /api/donations/my", authed(donationsHandler.ListMine))
	mux.Handle("GET /api/donations/nearby", authed(donationsHandler.Nearby))
	mux.Handle("POST /api/donations/{donationId}/requests", authed(donationsHandler.Request))
	mux.Handle("GET /api/donations/requests/sent", authed(donationsHandler.Sent))
	mux.Handle("GET /api/donations/requests/received", authed(donationsHandler.Received))
	mux.Handle("PATCH /api/donations/requests/{id}", authed(donationsHandler.Resolve))

	// Intake.
	mux.Handle("POST /api/ai/scan-medicine", authed(scanHandler.ScanMedicine))

	// Users (admin only).
	mux.Handle("GET /api/users", admin(usersHandler.List))
	mux.Handle("PUT /api/users/{id}", admin(usersHandler.Update))
	mux.Handle("DELETE /api/users/{id}", admin(usersHandler.Delete))

	return mux
}
