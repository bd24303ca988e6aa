package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/compclub/testengine/internal/assessment"
	"github.com/compclub/testengine/internal/audit"
	"github.com/compclub/testengine/internal/rbac"
)

var validate = validator.New()

type itemReq struct {
	ID              string              `json:"id"`
	Type            assessment.ItemType `json:"type" validate:"required,oneof=mcq_single mcq_multi short_text long_text numeric"`
	PromptHTML      string              `json:"prompt_html"`
	Points          float64             `json:"points" validate:"gte=0"`
	Position        int                 `json:"position"`
	Options         []assessment.Option `json:"options,omitempty"`
	NumericAnswer   *float64            `json:"numeric_answer,omitempty"`
	Tolerance       float64             `json:"tolerance,omitempty" validate:"gte=0"`
	ExplanationHTML string              `json:"explanation_html,omitempty"`
}

type upsertAssessmentReq struct {
	ID           string                 `json:"id,omitempty"`
	Kind         assessment.Kind        `json:"kind" validate:"required,oneof=club tournament"`
	TournamentID string                 `json:"tournament_id,omitempty"`
	EventID      *string                `json:"event_id,omitempty"`
	EventName    string                 `json:"event_name,omitempty"` // origin name recorded in the audit trail
	Title        string                 `json:"title" validate:"required,min=1,max=200"`
	Division     string                 `json:"division,omitempty"`
	StartAt      *int64                 `json:"start_at,omitempty"`
	EndAt        *int64                 `json:"end_at,omitempty"`
	AllowLate    *int64                 `json:"allow_late_until,omitempty"`
	DurationSec  int                    `json:"duration_sec" validate:"gte=0"`
	MaxAttempts  *int                   `json:"max_attempts,omitempty"`

	RequireFullscreen bool   `json:"require_fullscreen"`
	AllowCalculator   bool   `json:"allow_calculator"`
	CalculatorType    string `json:"calculator_type,omitempty"`
	AllowNoteSheet    bool   `json:"allow_note_sheet"`

	ReleaseMode     assessment.ReleaseMode `json:"score_release_mode" validate:"required,oneof=none score_only score_with_wrong full_test"`
	ReleaseScoresAt *int64                 `json:"release_scores_at,omitempty"`

	Items []itemReq `json:"items" validate:"dive"`
}

// POST /assessments
func UpsertAssessmentHandler(store assessment.Store, auditLog *audit.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req upsertAssessmentReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := validate.Struct(req); err != nil {
			http.Error(w, "invalid payload: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Kind == assessment.KindTournament && req.TournamentID == "" {
			http.Error(w, "tournament_id required for tournament tests", http.StatusBadRequest)
			return
		}

		id := rbac.IdentityFromContext(r.Context())
		created := req.ID == ""
		if created {
			req.ID = uuid.NewString()
		}
		a := assessment.Assessment{
			ID:                req.ID,
			Kind:              req.Kind,
			ClubID:            id.ClubID,
			TournamentID:      req.TournamentID,
			EventID:           req.EventID,
			Title:             req.Title,
			Division:          req.Division,
			Status:            assessment.StatusDraft,
			StartAt:           req.StartAt,
			EndAt:             req.EndAt,
			AllowLateUntil:    req.AllowLate,
			DurationSec:       req.DurationSec,
			MaxAttempts:       req.MaxAttempts,
			RequireFullscreen: req.RequireFullscreen,
			AllowCalculator:   req.AllowCalculator,
			CalculatorType:    req.CalculatorType,
			AllowNoteSheet:    req.AllowNoteSheet,
			ReleaseMode:       req.ReleaseMode,
			ReleaseScoresAt:   req.ReleaseScoresAt,
			CreatedBy:         id.Subject,
		}
		for _, it := range req.Items {
			if it.ID == "" {
				it.ID = uuid.NewString()
			}
			a.Items = append(a.Items, assessment.Item{
				ID:              it.ID,
				Type:            it.Type,
				PromptHTML:      it.PromptHTML,
				Points:          it.Points,
				Position:        it.Position,
				Options:         it.Options,
				NumericAnswer:   it.NumericAnswer,
				Tolerance:       it.Tolerance,
				ExplanationHTML: it.ExplanationHTML,
			})
		}
		if err := store.PutAssessment(r.Context(), a); err != nil {
			httpError(w, err)
			return
		}
		if created {
			// Best effort; the resolver falls back to "general" when the
			// record is missing.
			_ = auditLog.Append(r.Context(), audit.TypeAssessmentCreated, a.ID, audit.CreationData{
				EventName: req.EventName,
				CreatedBy: id.Subject,
			})
		}
		writeJSON(w, map[string]string{"id": a.ID})
	}
}

// GET /assessments/{assessmentID} — student-safe, keys stripped.
func GetAssessmentHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := store.GetAssessment(r.Context(), chi.URLParam(r, "assessmentID"))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// GET /assessments/{assessmentID}/full — with answer keys, grader/admin only.
func GetAssessmentAdminHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := store.GetAssessmentAdmin(r.Context(), chi.URLParam(r, "assessmentID"))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, a)
	}
}

// POST /assessments/{assessmentID}/status  { "status": "published" }
func SetAssessmentStatusHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Status assessment.Status `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		switch req.Status {
		case assessment.StatusDraft, assessment.StatusPublished, assessment.StatusArchived:
		default:
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		if err := store.SetStatus(r.Context(), chi.URLParam(r, "assessmentID"), req.Status); err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": string(req.Status)})
	}
}

// POST /assessments/{assessmentID}/release — tournament override; rejected
// until the tournament has ended.
func ReleaseScoresHandler(store assessment.Store, auditLog *audit.Repo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "assessmentID")
		if err := store.ReleaseScores(r.Context(), id, time.Now()); err != nil {
			httpError(w, err)
			return
		}
		_ = auditLog.Append(r.Context(), audit.TypeScoresReleased, id, map[string]string{
			"released_by": rbac.IdentityFromContext(r.Context()).Subject,
		})
		writeJSON(w, map[string]bool{"scores_released": true})
	}
}

// GET /assessments?kind=club&status=published&limit=50&offset=0
func ListAssessmentsHandler(store assessment.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := rbac.IdentityFromContext(r.Context())
		q := r.URL.Query()
		list, err := store.ListAssessments(r.Context(), assessment.ListOpts{
			Kind:         assessment.Kind(q.Get("kind")),
			ClubID:       id.ClubID,
			TournamentID: q.Get("tournament_id"),
			Status:       assessment.Status(q.Get("status")),
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
