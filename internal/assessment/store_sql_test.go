package assessment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/compclub/testengine/internal/db"
	"github.com/compclub/testengine/internal/grading"
)

var memDBSeq int

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	memDBSeq++
	dsn := fmt.Sprintf("file:storetest%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", memDBSeq)
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { dbh.Close() })
	return NewSQLStore(dbh, grading.NewDefaultGrader())
}

var base = time.Unix(1_700_000_000, 0)

func ip(v int) *int         { return &v }
func lp(v int64) *int64     { return &v }
func dp(v float64) *float64 { return &v }

// testAssessment is a published club test with one item per grading path:
// an MCQ, a numeric and a free-response essay.
func testAssessment(id string) Assessment {
	return Assessment{
		ID:     id,
		Kind:   KindClub,
		ClubID: "club1",
		Title:  "Unit 3 Quiz",
		Status: StatusPublished,
		Items: []Item{
			{ID: "i1", Type: ItemMCQSingle, Points: 4, Position: 0,
				Options: []Option{{ID: "a"}, {ID: "b", Correct: true}}},
			{ID: "i2", Type: ItemNumeric, Points: 5, Position: 1,
				NumericAnswer: dp(2.5), Tolerance: 0.1},
			{ID: "i3", Type: ItemLongText, Points: 10, Position: 2},
		},
	}
}

func mustPut(t *testing.T, s *SQLStore, a Assessment) {
	t.Helper()
	if err := s.PutAssessment(context.Background(), a); err != nil {
		t.Fatalf("put assessment: %v", err)
	}
}

func mustStart(t *testing.T, s *SQLStore, assessmentID string) Attempt {
	t.Helper()
	att, err := s.StartAttempt(context.Background(), assessmentID, "m1", base)
	if err != nil {
		t.Fatalf("start attempt: %v", err)
	}
	return att
}

func TestStartAttemptPolicyChecks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.StartAttempt(ctx, "missing", "m1", base); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing assessment: got %v, want ErrNotFound", err)
	}

	draft := testAssessment("draft1")
	draft.Status = StatusDraft
	mustPut(t, s, draft)
	if _, err := s.StartAttempt(ctx, "draft1", "m1", base); !errors.Is(err, ErrNotPublished) {
		t.Fatalf("draft: got %v, want ErrNotPublished", err)
	}

	early := testAssessment("early1")
	early.StartAt = lp(base.Unix() + 3600)
	mustPut(t, s, early)
	if _, err := s.StartAttempt(ctx, "early1", "m1", base); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("before window: got %v, want ErrNotOpen", err)
	}

	// The late window extends the cutoff past end_at.
	closed := testAssessment("closed1")
	closed.EndAt = lp(base.Unix() - 600)
	mustPut(t, s, closed)
	if _, err := s.StartAttempt(ctx, "closed1", "m1", base); !errors.Is(err, ErrClosed) {
		t.Fatalf("after end: got %v, want ErrClosed", err)
	}
	closed.AllowLateUntil = lp(base.Unix() + 600)
	mustPut(t, s, closed)
	if _, err := s.StartAttempt(ctx, "closed1", "m1", base); err != nil {
		t.Fatalf("inside late window: %v", err)
	}
}

func TestStartAttemptCreatesAnswerShells(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))
	att := mustStart(t, s, "a1")

	if att.Status != AttemptInProgress {
		t.Fatalf("status = %q, want in_progress", att.Status)
	}
	answers, err := s.GetAnswers(context.Background(), att.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 3 {
		t.Fatalf("got %d answer shells, want 3", len(answers))
	}
	for _, a := range answers {
		if a.Graded() || a.PointsAwarded != nil {
			t.Fatalf("shell %s must start ungraded", a.ItemID)
		}
	}
}

func TestStartAttemptRejectsSecondWhileOpen(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))
	mustStart(t, s, "a1")

	if _, err := s.StartAttempt(context.Background(), "a1", "m1", base); !errors.Is(err, ErrAttemptOpen) {
		t.Fatalf("got %v, want ErrAttemptOpen", err)
	}
	// A different student is unaffected.
	if _, err := s.StartAttempt(context.Background(), "a1", "m2", base); err != nil {
		t.Fatalf("other membership: %v", err)
	}
}

func TestConcurrentStartsOpenOneAttempt(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.StartAttempt(context.Background(), "a1", "m1", base)
		}(i)
	}
	wg.Wait()

	// One winner; the loser fails on the count check or on the unique index
	// over open attempts.
	started := 0
	for _, err := range errs {
		if err == nil {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("%d attempts started, want exactly 1 (errs: %v)", started, errs)
	}
	list, err := s.ListAttempts(context.Background(), AttemptListOpts{
		AssessmentID: "a1", MembershipID: "m1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("%d attempt rows, want 1", len(list))
	}
}

func TestStartAttemptEnforcesMaxAttempts(t *testing.T) {
	s := newTestStore(t)
	a := testAssessment("a1")
	a.MaxAttempts = ip(1)
	mustPut(t, s, a)
	ctx := context.Background()

	att := mustStart(t, s, "a1")
	if _, err := s.Submit(ctx, att.ID, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.StartAttempt(ctx, "a1", "m1", base); !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("got %v, want ErrMaxAttempts", err)
	}
}

func TestSaveAnswersAndSubmitGrades(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))
	att := mustStart(t, s, "a1")
	ctx := context.Background()

	essay := "my essay"
	if _, err := s.SaveAnswers(ctx, att.ID, map[string]AnswerInput{
		"i1": {SelectedOptionIDs: []string{"b"}},
		"i2": {NumericAnswer: dp(2.55)}, // inside tolerance
		"i3": {AnswerText: &essay},
	}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Submit(ctx, att.ID, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != AttemptSubmitted || got.SubmittedAt == nil {
		t.Fatalf("attempt after submit = %+v", got)
	}
	if got.Late {
		t.Fatalf("no late window configured, submit must not be late")
	}

	answers, err := s.GetAnswers(ctx, att.ID)
	if err != nil {
		t.Fatal(err)
	}
	byItem := map[string]Answer{}
	for _, a := range answers {
		byItem[a.ItemID] = a
	}
	if a := byItem["i1"]; !a.Graded() || *a.PointsAwarded != 4 {
		t.Fatalf("i1 = %+v, want 4 points auto-graded", a)
	}
	if a := byItem["i2"]; !a.Graded() || *a.PointsAwarded != 5 {
		t.Fatalf("i2 = %+v, want 5 points auto-graded", a)
	}
	if a := byItem["i3"]; a.Graded() {
		t.Fatalf("free response must stay ungraded after submit: %+v", a)
	}
}

func TestSaveAnswersValidation(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))
	att := mustStart(t, s, "a1")
	ctx := context.Background()

	if _, err := s.SaveAnswers(ctx, att.ID, map[string]AnswerInput{
		"nope": {NumericAnswer: dp(1)},
	}); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("got %v, want ErrUnknownItem", err)
	}

	if _, err := s.Submit(ctx, att.ID, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveAnswers(ctx, att.ID, map[string]AnswerInput{
		"i1": {SelectedOptionIDs: []string{"b"}},
	}); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("save after submit: got %v, want ErrNotInProgress", err)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))
	att := mustStart(t, s, "a1")
	ctx := context.Background()

	first, err := s.Submit(ctx, att.ID, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	// A retried submit must not move the timestamp or re-grade.
	second, err := s.Submit(ctx, att.ID, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if *second.SubmittedAt != *first.SubmittedAt {
		t.Fatalf("submitted_at moved on retry: %d -> %d", *first.SubmittedAt, *second.SubmittedAt)
	}
}

func TestConcurrentSubmitsGradeOnce(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))
	att := mustStart(t, s, "a1")

	times := []time.Time{base.Add(time.Minute), base.Add(2 * time.Minute)}
	results := make([]Attempt, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.Submit(context.Background(), att.ID, times[i])
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	if results[0].Status != AttemptSubmitted || results[1].Status != AttemptSubmitted {
		t.Fatalf("both callers must observe a submitted attempt")
	}
	if *results[0].SubmittedAt != *results[1].SubmittedAt {
		t.Fatalf("racing submits produced two timestamps: %d vs %d",
			*results[0].SubmittedAt, *results[1].SubmittedAt)
	}
}

func TestManualGradesClampAndOverwrite(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))
	att := mustStart(t, s, "a1")
	ctx := context.Background()

	if _, err := s.ApplyManualGrades(ctx, att.ID, map[string]ManualGradeInput{
		"i3": {PointsAwarded: 5},
	}, "grader1"); !errors.Is(err, ErrNotSubmitted) {
		t.Fatalf("grading in_progress attempt: got %v, want ErrNotSubmitted", err)
	}
	if _, err := s.Submit(ctx, att.ID, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	// Over-maximum scores clamp to the item's points.
	if _, err := s.ApplyManualGrades(ctx, att.ID, map[string]ManualGradeInput{
		"i3": {PointsAwarded: 15, GraderNote: "generous"},
	}, "grader1"); err != nil {
		t.Fatal(err)
	}
	answers, _ := s.GetAnswers(ctx, att.ID)
	var essay Answer
	for _, a := range answers {
		if a.ItemID == "i3" {
			essay = a
		}
	}
	if essay.PointsAwarded == nil || *essay.PointsAwarded != 10 {
		t.Fatalf("points = %v, want clamped to 10", essay.PointsAwarded)
	}
	if essay.GradedBy != "grader1" || essay.GraderNote == nil {
		t.Fatalf("grader attribution missing: %+v", essay)
	}

	// Re-grading overwrites, never accumulates.
	if _, err := s.ApplyManualGrades(ctx, att.ID, map[string]ManualGradeInput{
		"i3": {PointsAwarded: 4},
	}, "grader2"); err != nil {
		t.Fatal(err)
	}
	answers, _ = s.GetAnswers(ctx, att.ID)
	for _, a := range answers {
		if a.ItemID == "i3" {
			if *a.PointsAwarded != 4 || a.GradedBy != "grader2" {
				t.Fatalf("re-grade = %+v, want 4 points by grader2", a)
			}
		}
	}

	if _, err := s.ApplyManualGrades(ctx, att.ID, map[string]ManualGradeInput{
		"nope": {PointsAwarded: 1},
	}, "grader1"); !errors.Is(err, ErrUnknownItem) {
		t.Fatalf("got %v, want ErrUnknownItem", err)
	}
}

func TestManualGradesRejectObjectiveItems(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))
	att := mustStart(t, s, "a1")
	ctx := context.Background()

	if _, err := s.SaveAnswers(ctx, att.ID, map[string]AnswerInput{
		"i1": {SelectedOptionIDs: []string{"b"}},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Submit(ctx, att.ID, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}

	for _, itemID := range []string{"i1", "i2"} {
		if _, err := s.ApplyManualGrades(ctx, att.ID, map[string]ManualGradeInput{
			itemID: {PointsAwarded: 1, GraderNote: "adjusted"},
		}, "grader1"); !errors.Is(err, ErrNotFreeResponse) {
			t.Fatalf("%s: got %v, want ErrNotFreeResponse", itemID, err)
		}
	}

	// A batch mixing a valid essay grade with an objective item must apply
	// nothing.
	if _, err := s.ApplyManualGrades(ctx, att.ID, map[string]ManualGradeInput{
		"i1": {PointsAwarded: 0},
		"i3": {PointsAwarded: 7},
	}, "grader1"); !errors.Is(err, ErrNotFreeResponse) {
		t.Fatalf("mixed batch: got %v, want ErrNotFreeResponse", err)
	}
	answers, err := s.GetAnswers(ctx, att.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range answers {
		switch a.ItemID {
		case "i1":
			if a.PointsAwarded == nil || *a.PointsAwarded != 4 || a.GraderNote != nil {
				t.Fatalf("auto-graded score overwritten: %+v", a)
			}
		case "i3":
			if a.Graded() {
				t.Fatalf("rejected batch must not partially apply: %+v", a)
			}
		}
	}
}

func TestProctorCountersMonotonic(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))
	att := mustStart(t, s, "a1")
	ctx := context.Background()

	if err := s.RecordProctorSignals(ctx, att.ID, 3, 10); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordProctorSignals(ctx, att.ID, 2, 5); err != nil {
		t.Fatal(err)
	}
	// Negative deltas are dropped, not applied.
	if err := s.RecordProctorSignals(ctx, att.ID, -4, -2); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAttempt(ctx, att.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TabSwitchCount != 5 || got.TimeOffPageSec != 15 {
		t.Fatalf("counters = (%d, %d), want (5, 15)", got.TabSwitchCount, got.TimeOffPageSec)
	}

	if _, err := s.Submit(ctx, att.ID, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordProctorSignals(ctx, att.ID, 1, 1); !errors.Is(err, ErrNotInProgress) {
		t.Fatalf("signals after submit: got %v, want ErrNotInProgress", err)
	}
	if err := s.RecordProctorSignals(ctx, "missing", 1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown attempt: got %v, want ErrNotFound", err)
	}
}

func TestSubmitPastLateWindowFlagsLate(t *testing.T) {
	s := newTestStore(t)
	a := testAssessment("a1")
	a.EndAt = lp(base.Unix() + 60)
	a.AllowLateUntil = lp(base.Unix() + 120)
	mustPut(t, s, a)
	att := mustStart(t, s, "a1")

	got, err := s.Submit(context.Background(), att.ID, base.Add(5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Late {
		t.Fatalf("submit past allow_late_until must be accepted and flagged late")
	}
}

func TestReleaseScoresRequiresEndedTournament(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO tournaments (id, club_id, name, division, end_at, trial_events_json)
		 VALUES ('t1','club1','Regionals','C',$1,'[]')`, base.Unix()+3600); err != nil {
		t.Fatal(err)
	}
	a := testAssessment("a1")
	a.Kind = KindTournament
	a.TournamentID = "t1"
	mustPut(t, s, a)

	if err := s.ReleaseScores(ctx, "a1", base); !errors.Is(err, ErrTournamentNotEnded) {
		t.Fatalf("before end: got %v, want ErrTournamentNotEnded", err)
	}
	if err := s.ReleaseScores(ctx, "a1", base.Add(2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetAssessmentAdmin(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ScoresReleased == nil || !*got.ScoresReleased {
		t.Fatalf("override not persisted: %+v", got.ScoresReleased)
	}

	club := testAssessment("c1")
	mustPut(t, s, club)
	if err := s.ReleaseScores(ctx, "c1", base); !errors.Is(err, ErrOverrideUnsupported) {
		t.Fatalf("club kind: got %v, want ErrOverrideUnsupported", err)
	}
}

func TestStudentViewStripsAnswerKey(t *testing.T) {
	s := newTestStore(t)
	a := testAssessment("a1")
	a.Items[0].ExplanationHTML = "<p>because</p>"
	mustPut(t, s, a)

	got, err := s.GetAssessment(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range got.Items {
		for _, o := range it.Options {
			if o.Correct {
				t.Fatalf("correct flag leaked on %s", it.ID)
			}
		}
		if it.NumericAnswer != nil || it.Tolerance != 0 || it.ExplanationHTML != "" {
			t.Fatalf("answer key leaked on %s: %+v", it.ID, it)
		}
	}

	admin, err := s.GetAssessmentAdmin(context.Background(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	if len(admin.Items[0].CorrectOptionIDs()) != 1 {
		t.Fatalf("admin view must keep the key")
	}
}

func TestAttemptStates(t *testing.T) {
	s := newTestStore(t)
	mustPut(t, s, testAssessment("a1"))
	mustPut(t, s, testAssessment("a2"))
	ctx := context.Background()

	first := mustStart(t, s, "a1")
	if _, err := s.Submit(ctx, first.ID, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	second, err := s.StartAttempt(ctx, "a1", "m1", base.Add(2*time.Minute))
	if err != nil {
		t.Fatal(err)
	}

	states, err := s.AttemptStates(ctx, "m1", []string{"a1", "a2"})
	if err != nil {
		t.Fatal(err)
	}
	st := states["a1"]
	if st.Count != 2 || st.LatestAttemptID != second.ID || st.LatestStatus != AttemptInProgress {
		t.Fatalf("a1 state = %+v", st)
	}
	if _, ok := states["a2"]; ok {
		t.Fatalf("a2 has no attempts, must be absent")
	}
}
