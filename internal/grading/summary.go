package grading

// AnswerScore is the slice of an answer that aggregation needs: the item's
// max points and the awarded points, nil until graded.
type AnswerScore struct {
	MaxPoints float64
	Awarded   *float64
}

// Summary aggregates an attempt's grading state. The displayed fraction is
// Earned/GradedTotal so a partially graded attempt shows an in-progress
// score instead of an artificially depressed one.
type Summary struct {
	EarnedPoints      float64 `json:"earned_points"`
	GradedTotalPoints float64 `json:"graded_total_points"`
	OverallTotal      float64 `json:"overall_total_points"`
	GradedAnswers     int     `json:"graded_answers"`
	TotalAnswers      int     `json:"total_answers"`
}

func Summarize(answers []AnswerScore) Summary {
	var s Summary
	for _, a := range answers {
		s.TotalAnswers++
		s.OverallTotal += a.MaxPoints
		if a.Awarded != nil {
			s.GradedAnswers++
			s.EarnedPoints += *a.Awarded
			s.GradedTotalPoints += a.MaxPoints
		}
	}
	return s
}

// Complete reports whether every answer has been graded; an attempt is
// "graded" exactly when this holds.
func (s Summary) Complete() bool {
	return s.TotalAnswers > 0 && s.GradedAnswers == s.TotalAnswers
}

// Fraction is the displayed score fraction, 0 when nothing is graded yet.
func (s Summary) Fraction() float64 {
	if s.GradedTotalPoints == 0 {
		return 0
	}
	return s.EarnedPoints / s.GradedTotalPoints
}
