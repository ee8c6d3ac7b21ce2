package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/healthsync/healthsync/internal/donation"
)

// errorBody is the shape of every error response. Code is set for refusals
// the client can act on.
type errorBody struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response failed", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, errorBody{Error: message})
}

// codedError writes a JSON error response carrying a machine-readable code.
func codedError(w http.ResponseWriter, status int, code donation.Code, message string) {
	jsonResponse(w, status, errorBody{Code: string(code), Error: message})
}

// domainError maps a lifecycle refusal to its HTTP status. Anything else is
// logged and reported as an internal error with the given message.
func domainError(w http.ResponseWriter, r *http.Request, err error, message string) {
	var de *donation.Error
	if !errors.As(err, &de) {
		slog.Error(message, "error", err, "request_id", RequestID(r.Context()))
		jsonError(w, http.StatusInternalServerError, message)
		return
	}
	codedError(w, statusFor(de.Code), de.Code, de.Message)
}

func statusFor(code donation.Code) int {
	switch code {
	case donation.CodeNotFound:
		return http.StatusNotFound
	case donation.CodeForbidden:
		return http.StatusForbidden
	case donation.CodeInvalidDecision, donation.CodeSelfRequest,
		donation.CodeExpired, donation.CodeAlreadyDonatable,
		donation.CodePrescriptionRequired, donation.CodeUnsealedRequireForce,
		donation.CodeLocationRequired:
		return http.StatusBadRequest
	case donation.CodeNotAvailable, donation.CodeDuplicateRequest,
		donation.CodeActiveDonationExists, donation.CodeRequestNotPending,
		donation.CodeConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
// An empty chunked body counts as omitted.
func decodeOptionalJSON(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := decodeJSON(r, target); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// pathID parses the named path wildcard as a positive row id.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}
