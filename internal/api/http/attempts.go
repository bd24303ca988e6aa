package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/compclub/testengine/internal/assessment"
	"github.com/compclub/testengine/internal/rbac"
)

// POST /attempts  { "assessment_id": "..." }
func StartAttemptHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AssessmentID string `json:"assessment_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AssessmentID == "" {
			http.Error(w, "assessment_id required", http.StatusBadRequest)
			return
		}
		id := rbac.IdentityFromContext(r.Context())
		if id.MembershipID == "" {
			http.Error(w, "no membership", http.StatusForbidden)
			return
		}
		att, err := store.StartAttempt(r.Context(), req.AssessmentID, id.MembershipID, time.Now())
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, att)
	}
}

// ownAttempt loads the attempt and enforces that students only touch their
// own; graders/admins pass through.
func ownAttempt(store assessment.Store, r *http.Request) (assessment.Attempt, int, error) {
	att, err := store.GetAttempt(r.Context(), chi.URLParam(r, "attemptID"))
	if err != nil {
		return assessment.Attempt{}, errStatus(err), err
	}
	id := rbac.IdentityFromContext(r.Context())
	checker := rbac.NewChecker(nil)
	if att.MembershipID != id.MembershipID && !checker.Has(id.Role, "attempt:view-all") {
		return assessment.Attempt{}, http.StatusForbidden, errForbidden
	}
	return att, 0, nil
}

var errForbidden = forbiddenError{}

type forbiddenError struct{}

func (forbiddenError) Error() string { return "forbidden" }

// POST /attempts/{attemptID}/answers  { itemID: {answer_text|selected_option_ids|numeric_answer} }
func SaveAnswersHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		att, code, err := ownAttempt(store, r)
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		var in map[string]assessment.AnswerInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		updated, err := store.SaveAnswers(r.Context(), att.ID, in)
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, updated)
	}
}

// POST /attempts/{attemptID}/proctor  { "tab_switches": 1, "time_off_page_sec": 12 }
// Counters only ever accumulate.
func ProctorSignalsHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		att, code, err := ownAttempt(store, r)
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		var req struct {
			TabSwitches    int `json:"tab_switches"`
			TimeOffPageSec int `json:"time_off_page_sec"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if err := store.RecordProctorSignals(r.Context(), att.ID, req.TabSwitches, req.TimeOffPageSec); err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /attempts/{attemptID}/submit
func SubmitAttemptHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		att, code, err := ownAttempt(store, r)
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		submitted, err := store.Submit(r.Context(), att.ID, time.Now())
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, submitted)
	}
}

// GET /attempts/{attemptID}
func GetAttemptHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		att, code, err := ownAttempt(store, r)
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		writeJSON(w, att)
	}
}

// GET /attempts?assessment_id=...&membership_id=...&status=...
// Students are forced to their own membership regardless of filters.
func ListAttemptsHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := rbac.IdentityFromContext(r.Context())
		q := r.URL.Query()

		membershipID := q.Get("membership_id")
		if !rbac.NewChecker(nil).Has(id.Role, "attempt:view-all") {
			membershipID = id.MembershipID
		}
		list, err := store.ListAttempts(r.Context(), assessment.AttemptListOpts{
			AssessmentID: q.Get("assessment_id"),
			MembershipID: membershipID,
			Status:       q.Get("status"),
			Limit:        parseIntDefault(q.Get("limit"), 50),
			Offset:       parseIntDefault(q.Get("offset"), 0),
		})
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, list)
	}
}
