package release

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compclub/testengine/internal/assessment"
)

func i64(v int64) *int64     { return &v }
func f64(v float64) *float64 { return &v }
func strp(s string) *string  { return &s }
func boolp(b bool) *bool     { return &b }

func published(mode assessment.ReleaseMode) assessment.Assessment {
	return assessment.Assessment{
		ID:          "t1",
		Kind:        assessment.KindTournament,
		Status:      assessment.StatusPublished,
		ReleaseMode: mode,
	}
}

func TestScoresReleasedGate(t *testing.T) {
	az := NewAuthorizer(time.Second)
	now := time.Unix(1_700_000_000, 0)

	t.Run("mode none is never released", func(t *testing.T) {
		a := published(assessment.ReleaseNone)
		a.ScoresReleased = boolp(true)
		a.ReleaseScoresAt = i64(now.Unix() - 3600)
		assert.False(t, az.ScoresReleased(a, now))
	})

	t.Run("non-published status counts as released", func(t *testing.T) {
		a := published(assessment.ReleaseFullTest)
		a.Status = assessment.StatusArchived
		a.ReleaseScoresAt = i64(now.Unix() + 3600)
		assert.True(t, az.ScoresReleased(a, now))
	})

	t.Run("explicit override wins over future timestamp", func(t *testing.T) {
		a := published(assessment.ReleaseScoreOnly)
		a.ReleaseScoresAt = i64(now.Unix() + 3600)
		a.ScoresReleased = boolp(true)
		assert.True(t, az.ScoresReleased(a, now))
	})

	t.Run("absent override falls through to timestamp", func(t *testing.T) {
		// Club-scoped tests have no override column at all; nil must behave
		// like the tournament variant with no override set.
		a := published(assessment.ReleaseScoreOnly)
		a.Kind = assessment.KindClub
		a.ScoresReleased = nil
		a.ReleaseScoresAt = i64(now.Unix() + 3600)
		assert.False(t, az.ScoresReleased(a, now))
	})

	t.Run("nil timestamp releases immediately", func(t *testing.T) {
		assert.True(t, az.ScoresReleased(published(assessment.ReleaseScoreOnly), now))
	})

	t.Run("past timestamp releases", func(t *testing.T) {
		a := published(assessment.ReleaseScoreOnly)
		a.ReleaseScoresAt = i64(now.Unix() - 1)
		assert.True(t, az.ScoresReleased(a, now))
	})

	t.Run("future timestamp outside tolerance does not release", func(t *testing.T) {
		a := published(assessment.ReleaseScoreOnly)
		a.ReleaseScoresAt = i64(now.Unix() + 2)
		assert.False(t, az.ScoresReleased(a, now))
	})

	t.Run("boundary within skew tolerance releases", func(t *testing.T) {
		a := published(assessment.ReleaseScoreOnly)
		a.ReleaseScoresAt = i64(now.Unix() + 1)
		assert.True(t, az.ScoresReleased(a, now))
	})
}

func TestCanViewResults(t *testing.T) {
	az := NewAuthorizer(time.Second)
	now := time.Now()
	a := published(assessment.ReleaseFullTest)

	inProgress := assessment.Attempt{Status: assessment.AttemptInProgress}
	submitted := assessment.Attempt{Status: assessment.AttemptSubmitted}

	assert.False(t, az.CanViewResults(inProgress, a, now))
	assert.True(t, az.CanViewResults(submitted, a, now))

	a.ReleaseMode = assessment.ReleaseNone
	assert.False(t, az.CanViewResults(submitted, a, now))
}

func gradedFixture() (assessment.Assessment, assessment.Attempt, []assessment.Answer) {
	a := published(assessment.ReleaseFullTest)
	a.Items = []assessment.Item{
		{
			ID: "i1", Type: assessment.ItemMCQSingle, Points: 4,
			Options: []assessment.Option{
				{ID: "a", Correct: false},
				{ID: "b", Correct: true},
			},
			ExplanationHTML: "<p>because</p>",
		},
		{ID: "i2", Type: assessment.ItemLongText, Points: 10},
	}
	sub := int64(1_700_000_100)
	att := assessment.Attempt{
		ID: "att1", Status: assessment.AttemptSubmitted,
		SubmittedAt: &sub, TabSwitchCount: 3,
	}
	answers := []assessment.Answer{
		{
			ItemID:            "i1",
			SelectedOptionIDs: []string{"a"},
			PointsAwarded:     f64(0),
			GradedAt:          i64(1_700_000_100),
		},
		{
			ItemID:     "i2",
			AnswerText: strp("my essay"),
			GraderNote: strp("needs work"),
			// ungraded: no points, no graded_at
		},
	}
	return a, att, answers
}

func TestBuildResultScoreOnly(t *testing.T) {
	az := NewAuthorizer(time.Second)
	a, att, answers := gradedFixture()
	a.ReleaseMode = assessment.ReleaseScoreOnly

	res := az.BuildResult(a, att, answers, time.Now())

	require.True(t, res.ScoresReleased)
	require.NotNil(t, res.Score)
	assert.Empty(t, res.Answers, "score_only must not return per-item answers")
	assert.False(t, res.Score.GradingComplete)
	assert.Equal(t, 4.0, res.Score.GradedTotalPoints)
	assert.Equal(t, 14.0, res.Score.OverallTotal)
}

func TestBuildResultScoreWithWrongRedactsContent(t *testing.T) {
	az := NewAuthorizer(time.Second)
	a, att, answers := gradedFixture()
	a.ReleaseMode = assessment.ReleaseScoreWithWrong

	res := az.BuildResult(a, att, answers, time.Now())
	require.Len(t, res.Answers, 2)

	graded := res.Answers[0]
	require.NotNil(t, graded.Correct)
	assert.False(t, *graded.Correct)

	ungraded := res.Answers[1]
	assert.Nil(t, ungraded.Correct, "ungraded answers carry no correctness yet")

	// The wire payload must never leak answer content, keys, explanations
	// or grader notes under score_with_wrong.
	buf, err := json.Marshal(res)
	require.NoError(t, err)
	for _, forbidden := range []string{
		"answer_text", "selected_option_ids", "numeric_answer",
		"correct_option_ids", "correct_numeric", "explanation_html", "grader_note",
	} {
		assert.NotContains(t, string(buf), forbidden)
	}
}

func TestBuildResultFullTest(t *testing.T) {
	az := NewAuthorizer(time.Second)
	a, att, answers := gradedFixture()

	res := az.BuildResult(a, att, answers, time.Now())
	require.Len(t, res.Answers, 2)

	objective := res.Answers[0]
	assert.Equal(t, []string{"a"}, objective.SelectedOptionIDs)
	assert.Equal(t, []string{"b"}, objective.CorrectOptionIDs)
	assert.Equal(t, "<p>because</p>", objective.ExplanationHTML)
	assert.Nil(t, objective.GraderNote, "grader notes belong to free-response items only")

	free := res.Answers[1]
	require.NotNil(t, free.AnswerText)
	assert.Equal(t, "my essay", *free.AnswerText)
	require.NotNil(t, free.GraderNote)
	assert.Equal(t, "needs work", *free.GraderNote)
	assert.Empty(t, free.CorrectOptionIDs)
}

func TestBuildResultGatedBeforeRelease(t *testing.T) {
	az := NewAuthorizer(time.Second)
	a, att, answers := gradedFixture()
	a.ReleaseScoresAt = i64(time.Now().Add(time.Hour).Unix())

	res := az.BuildResult(a, att, answers, time.Now())

	assert.False(t, res.ScoresReleased)
	assert.Nil(t, res.Score)
	assert.Empty(t, res.Answers)
	assert.Nil(t, res.Attempt.GradeEarned)
	// Status and proctoring signals remain visible.
	assert.Equal(t, 3, res.Attempt.TabSwitchCount)
}

func TestDerivedGradedStatus(t *testing.T) {
	az := NewAuthorizer(time.Second)
	a, att, answers := gradedFixture()

	res := az.BuildResult(a, att, answers, time.Now())
	assert.Equal(t, assessment.AttemptSubmitted, res.Attempt.Status,
		"attempt with an ungraded answer stays submitted")

	answers[1].PointsAwarded = f64(8)
	answers[1].GradedAt = i64(1_700_000_200)
	res = az.BuildResult(a, att, answers, time.Now())
	assert.Equal(t, assessment.AttemptGraded, res.Attempt.Status,
		"attempt becomes graded exactly when every answer has graded_at")
	require.NotNil(t, res.Attempt.GradeEarned)
	assert.Equal(t, 8.0, *res.Attempt.GradeEarned)
}
