package api

import (
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/healthsync/healthsync/internal/donation"
	"github.com/healthsync/healthsync/internal/imaging"
	"github.com/healthsync/healthsync/internal/model"
	"github.com/healthsync/healthsync/internal/store"
)

// ExpiringSoonDays is how many calendar days ahead
// GET /api/medicines/expiring-soon looks.
const ExpiringSoonDays = 30

// MedicinesHandler handles the caller's medicine inventory.
type MedicinesHandler struct {
	DB  *sql.DB
	Now func() time.Time
}

type medicineRequest struct {
	Name                 string `json:"name"`
	Brand                string `json:"brand"`
	Quantity             *int   `json:"quantity"`
	ExpiryDate           string `json:"expiry_date"`
	IsSealed             *bool  `json:"is_sealed"`
	RequiresPrescription bool   `json:"requires_prescription"`
}

func (h *MedicinesHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// apply validates req and copies it onto m. The lifecycle status follows
// the expiry date.
func (h *MedicinesHandler) apply(req medicineRequest, m *model.Medicine) string {
	m.Name = strings.TrimSpace(req.Name)
	if m.Name == "" {
		return "name required"
	}
	if req.ExpiryDate == "" {
		return "expiry_date required"
	}
	expiry, err := model.ParseDate(req.ExpiryDate)
	if err != nil {
		return err.Error()
	}

	m.Brand = strings.TrimSpace(req.Brand)
	m.Quantity = 1
	if req.Quantity != nil {
		if *req.Quantity < 1 {
			return "quantity must be at least 1"
		}
		m.Quantity = *req.Quantity
	}
	m.IsSealed = true
	if req.IsSealed != nil {
		m.IsSealed = *req.IsSealed
	}
	m.ExpiryDate = expiry
	m.RequiresPrescription = req.RequiresPrescription
	m.Status = model.StatusFor(expiry, h.now())
	return ""
}

// List handles GET /api/medicines.
func (h *MedicinesHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	medicines, err := store.ListMedicines(r.Context(), h.DB, claims.UserID)
	if err != nil {
		slog.Error("failed to list medicines", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list medicines")
		return
	}
	if medicines == nil {
		medicines = []model.Medicine{}
	}
	jsonResponse(w, http.StatusOK, medicines)
}

// ExpiringSoon handles GET /api/medicines/expiring-soon.
func (h *MedicinesHandler) ExpiringSoon(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	from, to := expiringSoonRange(h.now())
	medicines, err := store.ListExpiringMedicines(r.Context(), h.DB, claims.UserID, from, to)
	if err != nil {
		slog.Error("failed to list expiring medicines", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to list medicines")
		return
	}
	if medicines == nil {
		medicines = []model.Medicine{}
	}
	jsonResponse(w, http.StatusOK, medicines)
}

// expiringSoonRange returns the calendar days from today through
// ExpiringSoonDays ahead, in now's location.
func expiringSoonRange(now time.Time) (from, to time.Time) {
	from = model.Midnight(now)
	return from, from.AddDate(0, 0, ExpiringSoonDays)
}

// Create handles POST /api/medicines.
func (h *MedicinesHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())

	var req medicineRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m := &model.Medicine{UserID: claims.UserID}
	if msg := h.apply(req, m); msg != "" {
		jsonError(w, http.StatusBadRequest, msg)
		return
	}

	created, err := store.CreateMedicine(r.Context(), h.DB, m)
	if err != nil {
		slog.Error("failed to create medicine", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to create medicine")
		return
	}

	slog.Info("medicine created", "user_id", claims.UserID, "medicine_id", created.ID)
	jsonResponse(w, http.StatusCreated, created)
}

// Get handles GET /api/medicines/{id}.
func (h *MedicinesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}

	m, err := store.GetOwnedMedicine(r.Context(), h.DB, id, GetClaims(r.Context()).UserID)
	if err != nil {
		slog.Error("failed to get medicine", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get medicine")
		return
	}
	if m == nil {
		jsonError(w, http.StatusNotFound, "medicine not found")
		return
	}
	jsonResponse(w, http.StatusOK, m)
}

// Update handles PUT /api/medicines/{id}. The donatable and prescription
// verification flags are not owner-editable, and while the medicine is
// donatable its eligibility fields are frozen.
func (h *MedicinesHandler) Update(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}

	var req medicineRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m := &model.Medicine{ID: id, UserID: claims.UserID}
	if msg := h.apply(req, m); msg != "" {
		jsonError(w, http.StatusBadRequest, msg)
		return
	}

	updated, err := store.UpdateMedicine(r.Context(), h.DB, m)
	if errors.Is(err, store.ErrActiveDonation) {
		codedError(w, http.StatusConflict, donation.CodeActiveDonationExists,
			"medicine is offered for donation; seal, expiry and prescription cannot change")
		return
	}
	if err != nil {
		slog.Error("failed to update medicine", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to update medicine")
		return
	}
	if updated == nil {
		jsonError(w, http.StatusNotFound, "medicine not found")
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/medicines/{id}.
func (h *MedicinesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}

	deleted, err := store.DeleteMedicine(r.Context(), h.DB, id, claims.UserID)
	if errors.Is(err, store.ErrActiveDonation) {
		codedError(w, http.StatusConflict, donation.CodeActiveDonationExists,
			"medicine has an active donation and cannot be deleted")
		return
	}
	if err != nil {
		slog.Error("failed to delete medicine", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to delete medicine")
		return
	}
	if !deleted {
		jsonError(w, http.StatusNotFound, "medicine not found")
		return
	}

	slog.Info("medicine deleted", "user_id", claims.UserID, "medicine_id", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "medicine deleted"})
}

// UploadPhoto handles PUT /api/medicines/{id}/photo. The upload is
// downscaled and stored as JPEG.
func (h *MedicinesHandler) UploadPhoto(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}

	img, ok := processUpload(w, r)
	if !ok {
		return
	}

	stored, err := store.SetMedicinePhoto(r.Context(), h.DB, id, claims.UserID, img.Data, img.MIME)
	if err != nil {
		slog.Error("failed to save photo", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save photo")
		return
	}
	if !stored {
		jsonError(w, http.StatusNotFound, "medicine not found")
		return
	}

	jsonResponse(w, http.StatusOK, map[string]string{"message": "photo uploaded"})
}

// GetPhoto handles GET /api/medicines/{id}/photo.
func (h *MedicinesHandler) GetPhoto(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}

	data, mime, err := store.GetMedicinePhoto(r.Context(), h.DB, id, GetClaims(r.Context()).UserID)
	if err != nil {
		slog.Error("failed to get photo", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get photo")
		return
	}
	if data == nil {
		jsonError(w, http.StatusNotFound, "no photo")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(data)
}

// UploadPrescription handles PUT /api/medicines/{id}/prescription. Only
// prescription-only medicines take an image.
func (h *MedicinesHandler) UploadPrescription(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}

	img, ok := processUpload(w, r)
	if !ok {
		return
	}

	stored, err := store.SetPrescriptionImage(r.Context(), h.DB, id, claims.UserID, img.Data, img.MIME)
	if err != nil {
		slog.Error("failed to save prescription image", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to save prescription image")
		return
	}
	if !stored {
		jsonError(w, http.StatusNotFound, "no prescription medicine with that id")
		return
	}

	slog.Info("prescription image uploaded", "user_id", claims.UserID, "medicine_id", id)
	jsonResponse(w, http.StatusOK, map[string]string{"message": "prescription uploaded"})
}

// GetPrescription handles GET /api/medicines/{id}/prescription. The owner and
// admins may read it.
func (h *MedicinesHandler) GetPrescription(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}

	data, mime, ownerID, err := store.GetPrescriptionImage(r.Context(), h.DB, id)
	if err != nil {
		slog.Error("failed to get prescription image", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to get prescription image")
		return
	}
	if data == nil || (ownerID != claims.UserID && claims.Role != model.RoleAdmin) {
		jsonError(w, http.StatusNotFound, "no prescription image")
		return
	}

	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "private, no-store")
	w.Write(data)
}

// VerifyPrescription handles POST /api/medicines/{id}/prescription/verify (admin).
func (h *MedicinesHandler) VerifyPrescription(w http.ResponseWriter, r *http.Request) {
	claims := GetClaims(r.Context())
	id, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}

	verified, err := store.VerifyPrescription(r.Context(), h.DB, id, claims.UserID)
	if err != nil {
		slog.Error("failed to verify prescription", "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to verify prescription")
		return
	}
	if !verified {
		jsonError(w, http.StatusNotFound, "no prescription medicine with that id")
		return
	}

	m, err := store.GetMedicine(r.Context(), h.DB, id)
	if err != nil || m == nil {
		jsonError(w, http.StatusInternalServerError, "failed to get medicine")
		return
	}

	slog.Info("prescription verified", "user_id", claims.UserID, "medicine_id", id)
	jsonResponse(w, http.StatusOK, m)
}

// processUpload reads the multipart "image" field and downscales it to a
// stored JPEG. It writes the error response itself.
func processUpload(w http.ResponseWriter, r *http.Request) (*imaging.Image, bool) {
	data, ok := readUpload(w, r)
	if !ok {
		return nil, false
	}

	img, err := imaging.Process(data)
	if errors.Is(err, imaging.ErrUnsupported) {
		jsonError(w, http.StatusBadRequest, "image must be JPEG or PNG")
		return nil, false
	}
	if err != nil {
		jsonError(w, http.StatusBadRequest, "could not decode image")
		return nil, false
	}
	return img, true
}

// readUpload reads the multipart "image" field, capped at
// imaging.MaxUploadBytes. It writes the error response itself.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	file, _, ok := openUpload(w, r)
	if !ok {
		return nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		jsonError(w, http.StatusBadRequest, "failed to read image")
		return nil, false
	}
	return data, true
}

func openUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(imaging.MaxUploadBytes); err != nil {
		jsonError(w, http.StatusBadRequest, "file too large or invalid multipart form")
		return nil, nil, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		jsonError(w, http.StatusBadRequest, "image file required")
		return nil, nil, false
	}
	if header.Size > imaging.MaxUploadBytes {
		file.Close()
		jsonError(w, http.StatusBadRequest, "image exceeds 5 MB")
		return nil, nil, false
	}
	return file, header, true
}
