package http

import (
	"net/http"
	"time"

	"github.com/compclub/testengine/internal/assessment"
	"github.com/compclub/testengine/internal/release"
)

// GET /attempts/{attemptID}/results
//
// The payload is shaped entirely by the release authorizer: before release
// (or before submission) only status and proctoring counters come back; the
// detail level afterwards follows the assessment's release mode.
func AttemptResultsHandler(store assessment.Store, az release.Authorizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		att, code, err := ownAttempt(store, r)
		if err != nil {
			http.Error(w, err.Error(), code)
			return
		}
		a, err := store.GetAssessmentAdmin(r.Context(), att.AssessmentID)
		if err != nil {
			httpError(w, err)
			return
		}
		answers, err := store.GetAnswers(r.Context(), att.ID)
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, az.BuildResult(a, att, answers, time.Now()))
	}
}
