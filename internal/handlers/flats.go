package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/4k-champ/cozy-flat-match/internal/api/middleware"
	"github.com/4k-champ/cozy-flat-match/internal/models"
)

// CreateFlatRequest is the request body for posting a listing.
type CreateFlatRequest struct {
	Address string `json:"address"`
	Rent    int64  `json:"rent"`
}

// CreateFlat handles POST /api/flats. The caller becomes the owner.
func (h *Handler) CreateFlat(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r.Context())
	if identity == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req CreateFlatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req.Address = sanitizeName(req.Address)
	if req.Address == "" {
		h.Error(w, http.StatusBadRequest, "address is required")
		return
	}
	if req.Rent < 0 {
		h.Error(w, http.StatusBadRequest, "rent must not be negative")
		return
	}

	flat, err := h.data.CreateFlat(r.Context(), identity.UserID, req.Address, req.Rent)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to create flat")
		return
	}

	h.JSON(w, http.StatusCreated, flat)
}

// ListFlats handles GET /api/flats with limit/offset pagination.
func (h *Handler) ListFlats(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 200 {
		limit = 200
	}

	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			offset = o
		}
	}

	flats, err := h.data.ListFlats(r.Context(), limit, offset)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to list flats")
		return
	}
	if flats == nil {
		flats = []models.Flat{}
	}

	h.JSON(w, http.StatusOK, flats)
}
