package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/compclub/testengine/internal/assessment"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// errStatus maps domain errors to HTTP codes: policy and consistency
// violations are 409, missing records 404, everything else 500.
func errStatus(err error) int {
	switch {
	case errors.Is(err, assessment.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, assessment.ErrNotPublished),
		errors.Is(err, assessment.ErrNotOpen),
		errors.Is(err, assessment.ErrClosed),
		errors.Is(err, assessment.ErrAttemptOpen),
		errors.Is(err, assessment.ErrMaxAttempts),
		errors.Is(err, assessment.ErrNotInProgress),
		errors.Is(err, assessment.ErrNotSubmitted),
		errors.Is(err, assessment.ErrOverrideUnsupported),
		errors.Is(err, assessment.ErrTournamentNotEnded):
		return http.StatusConflict
	case errors.Is(err, assessment.ErrUnknownItem),
		errors.Is(err, assessment.ErrNotFreeResponse):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func httpError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), errStatus(err))
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if v, err := strconv.Atoi(s); err == nil && v >= 0 {
		return v
	}
	return def
}
