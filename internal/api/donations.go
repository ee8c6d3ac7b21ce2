package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/healthsync/healthsync/internal/donation"
	"github.com/healthsync/healthsync/internal/model"
)

// DonationsHandler exposes the donation lifecycle.
type DonationsHandler struct {
	Service *donation.Service
}

type convertRequest struct {
	Force bool `json:"force"`
}

type requestDonationRequest struct {
	Message string `json:"message"`
}

type resolveRequest struct {
	Status string `json:"status"`
}

// Convert handles POST /api/donations/{medicineId}. force may be given in
// the body or as a query parameter.
func (h *DonationsHandler) Convert(w http.ResponseWriter, r *http.Request) {
	medicineID, ok := pathID(r, "medicineId")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid medicine id")
		return
	}

	var req convertRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if q := r.URL.Query().Get("force"); q != "" {
		force, err := strconv.ParseBool(q)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "force must be true or false")
			return
		}
		req.Force = req.Force || force
	}

	d, err := h.Service.ConvertToDonation(r.Context(), medicineID, GetClaims(r.Context()).UserID, req.Force)
	if err != nil {
		domainError(w, r, err, "failed to create donation")
		return
	}
	jsonResponse(w, http.StatusCreated, d)
}

// ListMine handles GET /api/donations/my.
func (h *DonationsHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	donations, err := h.Service.ListMyDonations(r.Context(), GetClaims(r.Context()).UserID)
	if err != nil {
		domainError(w, r, err, "failed to list donations")
		return
	}
	writeDonations(w, donations)
}

// Nearby handles GET /api/donations/nearby.
func (h *DonationsHandler) Nearby(w http.ResponseWriter, r *http.Request) {
	donations, err := h.Service.FindNearby(r.Context(), GetClaims(r.Context()).UserID)
	if err != nil {
		domainError(w, r, err, "failed to list nearby donations")
		return
	}
	writeDonations(w, donations)
}

// Request handles POST /api/donations/{donationId}/requests.
func (h *DonationsHandler) Request(w http.ResponseWriter, r *http.Request) {
	donationID, ok := pathID(r, "donationId")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid donation id")
		return
	}

	var req requestDonationRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dr, err := h.Service.RequestDonation(r.Context(), donationID, GetClaims(r.Context()).UserID,
		strings.TrimSpace(req.Message))
	if err != nil {
		domainError(w, r, err, "failed to request donation")
		return
	}
	jsonResponse(w, http.StatusCreated, dr)
}

// Sent handles GET /api/donations/requests/sent.
func (h *DonationsHandler) Sent(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Service.ListSentRequests(r.Context(), GetClaims(r.Context()).UserID)
	if err != nil {
		domainError(w, r, err, "failed to list requests")
		return
	}
	writeRequests(w, requests)
}

// Received handles GET /api/donations/requests/received.
func (h *DonationsHandler) Received(w http.ResponseWriter, r *http.Request) {
	requests, err := h.Service.ListReceivedRequests(r.Context(), GetClaims(r.Context()).UserID)
	if err != nil {
		domainError(w, r, err, "failed to list requests")
		return
	}
	writeRequests(w, requests)
}

// Resolve handles PATCH /api/donations/requests/{id}.
func (h *DonationsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	requestID, ok := pathID(r, "id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dr, err := h.Service.ResolveRequest(r.Context(), requestID, GetClaims(r.Context()).UserID,
		model.RequestStatus(req.Status))
	if err != nil {
		domainError(w, r, err, "failed to resolve request")
		return
	}
	jsonResponse(w, http.StatusOK, dr)
}

func writeDonations(w http.ResponseWriter, donations []model.Donation) {
	if donations == nil {
		donations = []model.Donation{}
	}
	jsonResponse(w, http.StatusOK, donations)
}

func writeRequests(w http.ResponseWriter, requests []model.DonationRequest) {
	if requests == nil {
		requests = []model.DonationRequest{}
	}
	jsonResponse(w, http.StatusOK, requests)
}
