package grading

import "testing"

func fp(v float64) *float64 { return &v }

func TestMCQSingle(t *testing.T) {
	item := Item{Type: "mcq_single", Points: 4, CorrectOptionIDs: []string{"b"}}
	tests := []struct {
		name     string
		selected []string
		want     float64
	}{
		{"correct", []string{"b"}, 4},
		{"wrong", []string{"a"}, 0},
		{"multiple selected", []string{"a", "b"}, 0},
		{"nothing selected", nil, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NewDefaultGrader().Grade(item, Response{SelectedOptionIDs: tc.selected})
			if got.NeedsManual {
				t.Fatalf("mcq_single should never need manual grading")
			}
			if got.Points != tc.want {
				t.Fatalf("points = %v, want %v", got.Points, tc.want)
			}
		})
	}
}

func TestMCQMultiExactSetNoPartialCredit(t *testing.T) {
	item := Item{Type: "mcq_multi", Points: 6, CorrectOptionIDs: []string{"opt1", "opt3"}}
	tests := []struct {
		name     string
		selected []string
		want     float64
	}{
		{"exact set", []string{"opt1", "opt3"}, 6},
		{"exact set reordered", []string{"opt3", "opt1"}, 6},
		{"superset scores zero", []string{"opt1", "opt2", "opt3"}, 0},
		{"subset scores zero", []string{"opt1"}, 0},
		{"disjoint", []string{"opt2"}, 0},
		{"empty", nil, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NewDefaultGrader().Grade(item, Response{SelectedOptionIDs: tc.selected})
			if got.Points != tc.want {
				t.Fatalf("points = %v, want %v", got.Points, tc.want)
			}
		})
	}
}

func TestNumericTolerance(t *testing.T) {
	item := Item{Type: "numeric", Points: 5, NumericAnswer: fp(3.14), Tolerance: 0.01}
	tests := []struct {
		name string
		resp *float64
		want float64
	}{
		{"exact", fp(3.14), 5},
		{"inside tolerance", fp(3.149), 5},
		{"boundary", fp(3.15), 5},
		{"outside tolerance", fp(3.2), 0},
		{"missing submission", nil, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := NewDefaultGrader().Grade(item, Response{Numeric: tc.resp})
			if got.Points != tc.want {
				t.Fatalf("points = %v, want %v", got.Points, tc.want)
			}
		})
	}
}

func TestNumericMissingKeyScoresZero(t *testing.T) {
	item := Item{Type: "numeric", Points: 5}
	got := NewDefaultGrader().Grade(item, Response{Numeric: fp(1)})
	if got.Points != 0 || got.NeedsManual {
		t.Fatalf("got %+v, want zero points and no manual flag", got)
	}
}

func TestFreeResponseNeedsManual(t *testing.T) {
	for _, typ := range []string{"short_text", "long_text", "unknown_type"} {
		text := "an essay"
		got := NewDefaultGrader().Grade(Item{Type: typ, Points: 10}, Response{Text: &text})
		if !got.NeedsManual {
			t.Fatalf("%s: expected NeedsManual", typ)
		}
		if got.Points != 0 {
			t.Fatalf("%s: free response must not auto-score", typ)
		}
	}
}

func TestClampManual(t *testing.T) {
	tests := []struct {
		in, max, want float64
	}{
		{5, 10, 5},
		{15, 10, 10},
		{-3, 10, 0},
		{10, 10, 10},
	}
	for _, tc := range tests {
		if got := ClampManual(tc.in, tc.max); got != tc.want {
			t.Fatalf("ClampManual(%v, %v) = %v, want %v", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestSummarize(t *testing.T) {
	answers := []AnswerScore{
		{MaxPoints: 4, Awarded: fp(4)},
		{MaxPoints: 6, Awarded: fp(3)},
		{MaxPoints: 10, Awarded: nil}, // ungraded free response
	}
	s := Summarize(answers)

	if s.EarnedPoints != 7 {
		t.Fatalf("earned = %v, want 7", s.EarnedPoints)
	}
	if s.GradedTotalPoints != 10 {
		t.Fatalf("graded total = %v, want 10", s.GradedTotalPoints)
	}
	if s.OverallTotal != 20 {
		t.Fatalf("overall total = %v, want 20", s.OverallTotal)
	}
	if s.GradedTotalPoints > s.OverallTotal {
		t.Fatalf("graded total must never exceed overall total")
	}
	if s.Complete() {
		t.Fatalf("summary with an ungraded answer must not be complete")
	}
	// The displayed fraction uses the graded denominator, not the overall
	// one, so a half-graded attempt is not artificially depressed.
	if s.Fraction() != 0.7 {
		t.Fatalf("fraction = %v, want 0.7", s.Fraction())
	}
}

func TestSummarizeComplete(t *testing.T) {
	s := Summarize([]AnswerScore{{MaxPoints: 2, Awarded: fp(2)}, {MaxPoints: 3, Awarded: fp(0)}})
	if !s.Complete() {
		t.Fatalf("all answers graded, expected complete")
	}
	if s.Fraction() != 0.4 {
		t.Fatalf("fraction = %v, want 0.4", s.Fraction())
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Complete() {
		t.Fatalf("empty attempt must not count as graded")
	}
	if s.Fraction() != 0 {
		t.Fatalf("fraction of nothing graded must be 0")
	}
}
