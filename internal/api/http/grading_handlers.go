package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/compclub/testengine/internal/assessment"
	"github.com/compclub/testengine/internal/rbac"
)

// clubScoped rejects graders acting outside their own club; admins pass.
func clubScoped(store assessment.Store, r *http.Request, assessmentID string) (int, error) {
	id := rbac.IdentityFromContext(r.Context())
	if id.Role == "admin" {
		return 0, nil
	}
	a, err := store.GetAssessmentAdmin(r.Context(), assessmentID)
	if err != nil {
		return errStatus(err), err
	}
	if a.ClubID != id.ClubID {
		return http.StatusForbidden, errForbidden
	}
	return 0, nil
}

type gradingItemView struct {
	Item   assessment.Item   `json:"item"`
	Answer assessment.Answer `json:"answer"`
}

// GET /attempts/{attemptID}/grading — full answers plus keys, for the
// grader review view.
func GetAttemptGradingHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		att, err := store.GetAttempt(r.Context(), attemptID)
		if err != nil {
			httpError(w, err)
			return
		}
		if code, err := clubScoped(store, r, att.AssessmentID); err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		a, err := store.GetAssessmentAdmin(r.Context(), att.AssessmentID)
		if err != nil {
			httpError(w, err)
			return
		}
		answers, err := store.GetAnswers(r.Context(), attemptID)
		if err != nil {
			httpError(w, err)
			return
		}
		byItem := make(map[string]assessment.Answer, len(answers))
		for _, ans := range answers {
			byItem[ans.ItemID] = ans
		}
		views := make([]gradingItemView, 0, len(a.Items))
		for _, it := range a.Items {
			views = append(views, gradingItemView{Item: it, Answer: byItem[it.ID]})
		}
		writeJSON(w, views)
	}
}

type applyGradesReq struct {
	Items map[string]assessment.ManualGradeInput `json:"items"` // item_id -> grade
}

// POST /attempts/{attemptID}/grading
func ApplyGradesHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attemptID := chi.URLParam(r, "attemptID")
		att, err := store.GetAttempt(r.Context(), attemptID)
		if err != nil {
			httpError(w, err)
			return
		}
		if code, err := clubScoped(store, r, att.AssessmentID); err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		var req applyGradesReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		id := rbac.IdentityFromContext(r.Context())
		updated, err := store.ApplyManualGrades(r.Context(), attemptID, req.Items, id.Subject)
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, updated)
	}
}
