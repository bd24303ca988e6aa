package grading

import "math"

// Item is the minimal view of a question needed for grading.
type Item struct {
	Type             string
	Points           float64
	CorrectOptionIDs []string
	NumericAnswer    *float64
	Tolerance        float64
}

// Response is the student's payload for one item. At most one field is set,
// matching the item type.
type Response struct {
	Text              *string
	SelectedOptionIDs []string
	Numeric           *float64
}

// Result is the outcome of one automatic grading pass.
type Result struct {
	Points      float64
	NeedsManual bool // free-response: no automatic score exists
}

// Strategy grades a single item type.
type Strategy interface {
	Grade(item Item, resp Response) Result
}

// Grader routes by item type to the correct Strategy. Types without a
// strategy are treated as manual.
type Grader interface {
	Grade(item Item, resp Response) Result
}

type defaultGrader struct {
	strategies map[string]Strategy
}

func (g *defaultGrader) Grade(item Item, resp Response) Result {
	s, ok := g.strategies[item.Type]
	if !ok {
		return Result{NeedsManual: true}
	}
	return s.Grade(item, resp)
}

// NewDefaultGrader installs the built-in strategies for the closed set of
// item types.
func NewDefaultGrader() Grader {
	return &defaultGrader{
		strategies: map[string]Strategy{
			"mcq_single": mcqSingleStrategy{},
			"mcq_multi":  mcqMultiStrategy{},
			"numeric":    numericStrategy{},
			"short_text": manualStrategy{},
			"long_text":  manualStrategy{},
		},
	}
}

type mcqSingleStrategy struct{}

func (mcqSingleStrategy) Grade(item Item, resp Response) Result {
	if len(resp.SelectedOptionIDs) != 1 || len(item.CorrectOptionIDs) != 1 {
		return Result{}
	}
	if resp.SelectedOptionIDs[0] == item.CorrectOptionIDs[0] {
		return Result{Points: item.Points}
	}
	return Result{}
}

type mcqMultiStrategy struct{}

// Exact set equality, no partial credit.
func (mcqMultiStrategy) Grade(item Item, resp Response) Result {
	correct := toSet(item.CorrectOptionIDs)
	selected := toSet(resp.SelectedOptionIDs)
	if len(correct) > 0 && setEqual(correct, selected) {
		return Result{Points: item.Points}
	}
	return Result{}
}

type numericStrategy struct{}

// Full points iff |submitted - correct| <= tolerance. A missing submission
// or missing key scores zero.
func (numericStrategy) Grade(item Item, resp Response) Result {
	if resp.Numeric == nil || item.NumericAnswer == nil {
		return Result{}
	}
	if math.Abs(*resp.Numeric-*item.NumericAnswer) <= item.Tolerance {
		return Result{Points: item.Points}
	}
	return Result{}
}

type manualStrategy struct{}

func (manualStrategy) Grade(Item, Response) Result {
	return Result{NeedsManual: true}
}

// ClampManual bounds a human-entered score to [0, max].
func ClampManual(points, max float64) float64 {
	if points < 0 {
		return 0
	}
	if points > max {
		return max
	}
	return points
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
