package assessment

import (
	"context"
	"time"
)

type ListOpts struct {
	Kind         Kind
	ClubID       string
	TournamentID string
	Status       Status
	Limit        int
	Offset       int
}

type AttemptListOpts struct {
	AssessmentID string
	MembershipID string
	Status       string
	Limit        int
	Offset       int
}

// Store is the transactional persistence surface of the engine. Attempt and
// Answer rows are created and mutated exclusively through it.
type Store interface {
	PutAssessment(ctx context.Context, a Assessment) error
	GetAssessment(ctx context.Context, id string) (Assessment, error)      // student-safe, keys stripped
	GetAssessmentAdmin(ctx context.Context, id string) (Assessment, error) // full, for graders/admins
	SetStatus(ctx context.Context, id string, status Status) error
	ListAssessments(ctx context.Context, opts ListOpts) ([]Assessment, error)

	// ReleaseScores sets the tournament-variant override flag. The owning
	// tournament must have ended.
	ReleaseScores(ctx context.Context, id string, now time.Time) error

	GetTournament(ctx context.Context, id string) (Tournament, error)
	ListEvents(ctx context.Context, tournamentID string) ([]Event, error)

	StartAttempt(ctx context.Context, assessmentID, membershipID string, now time.Time) (Attempt, error)
	SaveAnswers(ctx context.Context, attemptID string, in map[string]AnswerInput) (Attempt, error)
	// RecordProctorSignals applies monotonic counter increments reported by
	// the client on focus loss. Commutative; no transaction needed.
	RecordProctorSignals(ctx context.Context, attemptID string, tabSwitches, offPageSec int) error
	Submit(ctx context.Context, attemptID string, now time.Time) (Attempt, error)

	GetAttempt(ctx context.Context, id string) (Attempt, error)
	GetAnswers(ctx context.Context, attemptID string) ([]Answer, error)
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error)
	// AttemptStates summarizes one membership's attempts per assessment for
	// the student test list.
	AttemptStates(ctx context.Context, membershipID string, assessmentIDs []string) (map[string]AttemptState, error)

	// ApplyManualGrades scores free-response answers; idempotent overwrite.
	ApplyManualGrades(ctx context.Context, attemptID string, updates map[string]ManualGradeInput, gradedBy string) (Attempt, error)
}
