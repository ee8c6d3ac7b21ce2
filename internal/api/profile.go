package api

import (
	"database/sql"
	"log/slog"
	"net/http"
	"strings"

	"github.com/healthsync/healthsync/internal/store"
)

// ProfileHandler serves the caller's own profile.
type ProfileHandler struct {
	DB *sql.DB
}

type profileRequest struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

// Get handles GET /api/profile.
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	user, err := store.GetUser(r.Context(), h.DB, claims.UserID)
	if err != nil {
		slog.Error("failed to get profile", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	if user == nil {
		jsonError(w, http.StatusNotFound, "user not found")
		return
	}
	jsonResponse(w, http.StatusOK, user)
}

// Update handles PUT /api/profile.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req profileRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := store.GetUser(r.Context(), h.DB, claims.UserID)
	if err != nil || user == nil {
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = name
	}
	user.Phone = strings.TrimSpace(req.Phone)
	user.City = strings.TrimSpace(req.City)
	user.PostalCode = strings.TrimSpace(req.PostalCode)

	updated, err := store.UpdateProfile(r.Context(), h.DB, user)
	if err != nil {
		slog.Error("failed to update profile", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	slog.Info("profile updated", "user_id", claims.UserID)
	jsonResponse(w, http.StatusOK, updated)
}
