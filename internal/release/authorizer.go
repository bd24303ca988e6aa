// Package release decides whether an attempt's results are visible at all
// and, once visible, how much per-item detail the student may see.
package release

import (
	"time"

	"github.com/compclub/testengine/internal/assessment"
	"github.com/compclub/testengine/internal/grading"
)

// DefaultSkew absorbs clock/transport skew at the release boundary. Larger
// than expected skew, smaller than any scheduling granularity.
const DefaultSkew = time.Second

type Authorizer struct {
	Skew time.Duration
}

func NewAuthorizer(skew time.Duration) Authorizer {
	if skew <= 0 {
		skew = DefaultSkew
	}
	return Authorizer{Skew: skew}
}

// ScoresReleased implements the visibility gate. The club-scoped variant has
// no override column; a nil override falls through to the timestamp rule so
// both variants gate identically.
func (az Authorizer) ScoresReleased(a assessment.Assessment, now time.Time) bool {
	if a.ReleaseMode == assessment.ReleaseNone {
		return false
	}
	if a.Status != assessment.StatusPublished {
		// Draft/archived tests have no meaningful release gating.
		return true
	}
	if a.ScoresReleased != nil && *a.ScoresReleased {
		return true
	}
	if a.ReleaseScoresAt == nil {
		return true
	}
	return now.Add(az.Skew).Unix() >= *a.ReleaseScoresAt
}

// CanViewResults gates whether the student-facing UI should fetch the
// result payload at all.
func (az Authorizer) CanViewResults(att assessment.Attempt, a assessment.Assessment, now time.Time) bool {
	return att.Status == assessment.AttemptSubmitted && az.ScoresReleased(a, now)
}

// AttemptView is the attempt slice of the results payload. Status reflects
// the derived graded state, never a stored flag.
type AttemptView struct {
	ID             string   `json:"id"`
	Status         string   `json:"status"`
	GradeEarned    *float64 `json:"grade_earned,omitempty"`
	TabSwitchCount int      `json:"tab_switch_count"`
	SubmittedAt    *int64   `json:"submitted_at,omitempty"`
	Late           bool     `json:"late,omitempty"`
}

// AnswerView is one item's result detail. Under score_with_wrong only ItemID
// and Correct survive; answer content, keys, explanations and grader notes
// are reserved for full_test.
type AnswerView struct {
	ItemID  string `json:"item_id"`
	Correct *bool  `json:"correct,omitempty"`

	AnswerText        *string  `json:"answer_text,omitempty"`
	SelectedOptionIDs []string `json:"selected_option_ids,omitempty"`
	NumericAnswer     *float64 `json:"numeric_answer,omitempty"`
	PointsAwarded     *float64 `json:"points_awarded,omitempty"`
	MaxPoints         float64  `json:"max_points,omitempty"`

	CorrectOptionIDs []string `json:"correct_option_ids,omitempty"`
	CorrectNumeric   *float64 `json:"correct_numeric,omitempty"`
	ExplanationHTML  string   `json:"explanation_html,omitempty"`
	GraderNote       *string  `json:"grader_note,omitempty"`
}

type Score struct {
	grading.Summary
	GradingComplete bool    `json:"grading_complete"`
	Fraction        float64 `json:"fraction"`
}

// Result is the student-facing results payload.
type Result struct {
	Attempt        AttemptView            `json:"attempt"`
	ScoresReleased bool                   `json:"scores_released"`
	ReleaseMode    assessment.ReleaseMode `json:"score_release_mode"`
	Score          *Score                 `json:"score,omitempty"`
	Answers        []AnswerView           `json:"answers,omitempty"`
}

// BuildResult applies both gates and shapes the payload. When the release
// gate is closed only the attempt status and proctoring counters survive.
func (az Authorizer) BuildResult(a assessment.Assessment, att assessment.Attempt, answers []assessment.Answer, now time.Time) Result {
	items := make(map[string]assessment.Item, len(a.Items))
	for _, it := range a.Items {
		items[it.ID] = it
	}

	scores := make([]grading.AnswerScore, 0, len(answers))
	for _, ans := range answers {
		scores = append(scores, grading.AnswerScore{
			MaxPoints: items[ans.ItemID].Points,
			Awarded:   ans.PointsAwarded,
		})
	}
	sum := grading.Summarize(scores)

	status := att.Status
	if status == assessment.AttemptSubmitted && sum.Complete() {
		status = assessment.AttemptGraded
	}

	res := Result{
		Attempt: AttemptView{
			ID:             att.ID,
			Status:         status,
			TabSwitchCount: att.TabSwitchCount,
			SubmittedAt:    att.SubmittedAt,
			Late:           att.Late,
		},
		ReleaseMode:    a.ReleaseMode,
		ScoresReleased: az.ScoresReleased(a, now),
	}
	if !res.ScoresReleased || att.Status != assessment.AttemptSubmitted {
		return res
	}

	if sum.GradedAnswers > 0 {
		earned := sum.EarnedPoints
		res.Attempt.GradeEarned = &earned
	}
	res.Score = &Score{Summary: sum, GradingComplete: sum.Complete(), Fraction: sum.Fraction()}

	switch a.ReleaseMode {
	case assessment.ReleaseScoreWithWrong:
		for _, ans := range answers {
			res.Answers = append(res.Answers, AnswerView{
				ItemID:  ans.ItemID,
				Correct: correctness(items[ans.ItemID], ans),
			})
		}
	case assessment.ReleaseFullTest:
		for _, ans := range answers {
			it := items[ans.ItemID]
			v := AnswerView{
				ItemID:            ans.ItemID,
				Correct:           correctness(it, ans),
				AnswerText:        ans.AnswerText,
				SelectedOptionIDs: ans.SelectedOptionIDs,
				NumericAnswer:     ans.NumericAnswer,
				PointsAwarded:     ans.PointsAwarded,
				MaxPoints:         it.Points,
				ExplanationHTML:   it.ExplanationHTML,
			}
			if !it.Type.FreeResponse() {
				v.CorrectOptionIDs = it.CorrectOptionIDs()
				v.CorrectNumeric = it.NumericAnswer
			} else {
				v.GraderNote = ans.GraderNote
			}
			res.Answers = append(res.Answers, v)
		}
	}
	// score_only: aggregate figures only, no per-item answers.
	return res
}

// correctness is nil until the answer is graded; full credit counts as
// correct.
func correctness(it assessment.Item, ans assessment.Answer) *bool {
	if ans.PointsAwarded == nil || ans.GradedAt == nil {
		return nil
	}
	ok := *ans.PointsAwarded >= it.Points && it.Points > 0
	return &ok
}
