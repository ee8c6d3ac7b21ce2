package api

import (
	"net/http"

	"github.com/healthsync/healthsync/internal/intake"
)

// ScanHandler reads medicine packages with the vision model.
type ScanHandler struct {
	Pipeline *intake.Pipeline
}

type scanResponse struct {
	Success bool `json:"success"`
	intake.Extraction
}

// ScanMedicine handles POST /api/ai/scan-medicine. Model failures degrade to
// a fallback result, so any readable upload gets a 200.
func (h *ScanHandler) ScanMedicine(w http.ResponseWriter, r *http.Request) {
	file, header, ok := openUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()

	ext := h.Pipeline.Extract(r.Context(), file, header.Header.Get("Content-Type"))
	jsonResponse(w, http.StatusOK, scanResponse{Success: true, Extraction: ext})
}
