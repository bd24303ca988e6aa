package assessment

// Kind tags the two structurally-identical assessment variants. Club tests
// and tournament tests share every field this engine cares about; the only
// divergence is the explicit scores-released override, which exists on the
// tournament variant only and is modeled as an optional capability
// (ScoresReleased == nil means "absent", not "false").
type Kind string

const (
	KindClub       Kind = "club"
	KindTournament Kind = "tournament"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// ReleaseMode controls how much result detail is ever shown to students.
type ReleaseMode string

const (
	ReleaseNone           ReleaseMode = "none"
	ReleaseScoreOnly      ReleaseMode = "score_only"
	ReleaseScoreWithWrong ReleaseMode = "score_with_wrong"
	ReleaseFullTest       ReleaseMode = "full_test"
)

type ItemType string

const (
	ItemMCQSingle ItemType = "mcq_single"
	ItemMCQMulti  ItemType = "mcq_multi"
	ItemShortText ItemType = "short_text"
	ItemLongText  ItemType = "long_text"
	ItemNumeric   ItemType = "numeric"
)

// FreeResponse reports whether the type is graded by a human.
func (t ItemType) FreeResponse() bool {
	return t == ItemShortText || t == ItemLongText
}

type Option struct {
	ID        string `json:"id"`
	LabelHTML string `json:"label_html,omitempty"`
	Correct   bool   `json:"correct,omitempty"` // stripped for students
	Position  int    `json:"position"`
}

type Item struct {
	ID         string   `json:"id"`
	Type       ItemType `json:"type"`
	PromptHTML string   `json:"prompt_html,omitempty"`
	Points     float64  `json:"points"`
	Position   int      `json:"position"`

	Options []Option `json:"options,omitempty"` // mcq types only

	NumericAnswer *float64 `json:"numeric_answer,omitempty"` // numeric only
	Tolerance     float64  `json:"tolerance,omitempty"`

	ExplanationHTML string `json:"explanation_html,omitempty"` // disclosed under full_test only
}

// CorrectOptionIDs returns the ids of options flagged correct.
func (it Item) CorrectOptionIDs() []string {
	var out []string
	for _, o := range it.Options {
		if o.Correct {
			out = append(out, o.ID)
		}
	}
	return out
}

type Assessment struct {
	ID           string `json:"id"`
	Kind         Kind   `json:"kind"`
	ClubID       string `json:"club_id"`
	TournamentID string `json:"tournament_id,omitempty"` // tournament kind only
	EventID      *string `json:"event_id,omitempty"`     // nil = general/trial test
	Title        string `json:"title"`
	Division     string `json:"division,omitempty"`
	Status       Status `json:"status"`

	StartAt        *int64 `json:"start_at,omitempty"` // unix seconds
	EndAt          *int64 `json:"end_at,omitempty"`
	AllowLateUntil *int64 `json:"allow_late_until,omitempty"`
	DurationSec    int    `json:"duration_sec"`
	MaxAttempts    *int   `json:"max_attempts,omitempty"` // nil = unlimited

	RequireFullscreen bool   `json:"require_fullscreen"`
	AllowCalculator   bool   `json:"allow_calculator"`
	CalculatorType    string `json:"calculator_type,omitempty"`
	AllowNoteSheet    bool   `json:"allow_note_sheet"`

	ReleaseMode     ReleaseMode `json:"score_release_mode"`
	ReleaseScoresAt *int64      `json:"release_scores_at,omitempty"`
	ScoresReleased  *bool       `json:"scores_released,omitempty"` // tournament override; nil = absent

	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`

	Items []Item `json:"items,omitempty"`
}

// SubmissionCutoff is the last instant a new attempt may start: the late
// window when one is configured, otherwise the scheduled end.
func (a Assessment) SubmissionCutoff() *int64 {
	if a.AllowLateUntil != nil {
		return a.AllowLateUntil
	}
	return a.EndAt
}

// Attempt statuses. "graded" is derived from the answer set and never
// written to the attempts table.
const (
	AttemptInProgress = "in_progress"
	AttemptSubmitted  = "submitted"
	AttemptGraded     = "graded"
)

type Attempt struct {
	ID           string `json:"id"`
	AssessmentID string `json:"assessment_id"`
	MembershipID string `json:"membership_id"`
	Status       string `json:"status"`
	StartedAt    int64  `json:"started_at"`
	SubmittedAt  *int64 `json:"submitted_at,omitempty"`
	Late         bool   `json:"late,omitempty"`

	TabSwitchCount int `json:"tab_switch_count"`
	TimeOffPageSec int `json:"time_off_page_sec"`
}

type Answer struct {
	ID        string `json:"id"`
	AttemptID string `json:"attempt_id"`
	ItemID    string `json:"item_id"`

	AnswerText        *string  `json:"answer_text,omitempty"`
	SelectedOptionIDs []string `json:"selected_option_ids,omitempty"`
	NumericAnswer     *float64 `json:"numeric_answer,omitempty"`

	PointsAwarded *float64 `json:"points_awarded,omitempty"`
	GradedAt      *int64   `json:"graded_at,omitempty"`
	GradedBy      string   `json:"graded_by,omitempty"`
	GraderNote    *string  `json:"grader_note,omitempty"` // free-response items only
}

// Graded reports whether the answer has been scored (automatically or by a
// human).
func (a Answer) Graded() bool { return a.GradedAt != nil }

// AnswerInput is one autosaved response, keyed by item id in the request
// body. Exactly one of the three payload fields applies per item type.
type AnswerInput struct {
	AnswerText        *string  `json:"answer_text,omitempty"`
	SelectedOptionIDs []string `json:"selected_option_ids,omitempty"`
	NumericAnswer     *float64 `json:"numeric_answer,omitempty"`
}

type ManualGradeInput struct {
	PointsAwarded float64 `json:"points_awarded"`
	GraderNote    string  `json:"grader_note,omitempty"`
}

// AttemptState summarizes one student's attempts against one assessment,
// for the student-facing test list.
type AttemptState struct {
	Count           int    `json:"count"`
	LatestAttemptID string `json:"latest_attempt_id,omitempty"`
	LatestStatus    string `json:"latest_status,omitempty"`
}

type Event struct {
	ID           string `json:"id"`
	TournamentID string `json:"tournament_id"`
	Name         string `json:"name"`
	Division     string `json:"division,omitempty"`
}

type Tournament struct {
	ID       string `json:"id"`
	ClubID   string `json:"club_id"`
	Name     string `json:"name"`
	Division string `json:"division,omitempty"`
	EndAt    *int64 `json:"end_at,omitempty"`

	// Raw trial-event declarations; historically either a bare string array
	// or a list of {name, division} objects. Parsed by the visibility
	// package.
	TrialEventsJSON []byte `json:"-"`
}
