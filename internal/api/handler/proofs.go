package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/szhabolcs/something-sub000/internal/api/respond"
	"github.com/szhabolcs/something-sub000/internal/ledger"
)

// UserIDHeader carries the authenticated user, set by the upstream gateway.
const UserIDHeader = "X-User-ID"

type submitProofRequest struct {
	Filename string `json:"filename"`
}

type submitProofResponse struct {
	*ledger.Result
	Total int `json:"total"`
}

// SubmitProof records a proof image for a thing and returns the rewards.
// @Summary Submit proof
// @Description Records a proof for the thing and atomically updates streak, score, badges and level.
// @Tags proofs
// @Accept json
// @Produce json
// @Param thingID path int true "Thing ID"
// @Param X-User-ID header int true "Authenticated user ID"
// @Param body body submitProofRequest true "Uploaded image filename"
// @Success 201 {object} submitProofResponse
// @Failure 400 {object} respond.ErrorResponse
// @Failure 401 {object} respond.ErrorResponse
// @Failure 403 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Failure 500 {object} respond.ErrorResponse
// @Router /api/v1/things/{thingID}/proofs [post]
func (h *Handler) SubmitProof(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	thingID, ok := parseThingID(w, r)
	if !ok {
		return
	}

	var req submitProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON")
		return
	}
	req.Filename = strings.TrimSpace(req.Filename)
	if req.Filename == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_FILENAME", "filename is required")
		return
	}

	res, err := h.ledger.Submit(r.Context(), ledger.Submission{
		UserID:   userID,
		ThingID:  thingID,
		Filename: req.Filename,
	})
	switch {
	case errors.Is(err, ledger.ErrForbidden):
		respond.WriteError(w, http.StatusForbidden, "FORBIDDEN", "You do not have access to this thing")
		return
	case errors.Is(err, ledger.ErrScheduleNotFound):
		respond.WriteError(w, http.StatusNotFound, "SCHEDULE_NOT_FOUND", "Thing has no schedule")
		return
	case err != nil:
		h.logger.Error("proof submission failed", "user_id", userID, "thing_id", thingID, "error", err)
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to record proof")
		return
	}

	respond.WriteJSONObject(w, http.StatusCreated, submitProofResponse{Result: res, Total: res.Total()})
}

func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.Header.Get(UserIDHeader)
	if raw == "" {
		respond.WriteError(w, http.StatusUnauthorized, "MISSING_USER", UserIDHeader+" header is required")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respond.WriteError(w, http.StatusUnauthorized, "INVALID_USER", UserIDHeader+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseThingID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "thingID"), 10, 64)
	if err != nil || id <= 0 {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_THING_ID", "thingID must be a positive integer")
		return 0, false
	}
	return id, true
}
