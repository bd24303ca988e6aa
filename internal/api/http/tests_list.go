package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/compclub/testengine/internal/assessment"
	"github.com/compclub/testengine/internal/rbac"
	"github.com/compclub/testengine/internal/roster"
	"github.com/compclub/testengine/internal/visibility"
)

// GET /tournaments/{tournamentID}/tests
//
// The student-facing test list: published tests partitioned into the
// caller's event groups, trial-event groups and general tests, each entry
// annotated with the caller's attempt state.
func TournamentTestsHandler(store assessment.Store, rosters *roster.Repo, resolver *visibility.Resolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tournamentID := chi.URLParam(r, "tournamentID")
		id := rbac.IdentityFromContext(r.Context())
		if id.MembershipID == "" {
			http.Error(w, "no membership", http.StatusForbidden)
			return
		}

		tournament, err := store.GetTournament(r.Context(), tournamentID)
		if err != nil {
			httpError(w, err)
			return
		}
		events, err := store.ListEvents(r.Context(), tournamentID)
		if err != nil {
			httpError(w, err)
			return
		}
		assignments, err := rosters.AssignmentsFor(r.Context(), id.MembershipID, tournamentID)
		if err != nil {
			httpError(w, err)
			return
		}
		tests, err := store.ListAssessments(r.Context(), assessment.ListOpts{
			Kind:         assessment.KindTournament,
			TournamentID: tournamentID,
			Status:       assessment.StatusPublished,
		})
		if err != nil {
			httpError(w, err)
			return
		}
		ids := make([]string, 0, len(tests))
		for _, t := range tests {
			ids = append(ids, t.ID)
		}
		states, err := store.AttemptStates(r.Context(), id.MembershipID, ids)
		if err != nil {
			httpError(w, err)
			return
		}

		writeJSON(w, resolver.Resolve(r.Context(), tournament, events, assignments, tests, states))
	}
}
