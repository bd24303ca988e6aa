package assessment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/compclub/testengine/internal/grading"
)

type SQLStore struct {
	db     *sql.DB
	grader grading.Grader
}

func NewSQLStore(db *sql.DB, grader grading.Grader) *SQLStore {
	return &SQLStore{db: db, grader: grader}
}

const assessmentCols = `id, kind, club_id, tournament_id, event_id, title, division, status,
	start_at, end_at, allow_late_until, duration_sec, max_attempts,
	require_fullscreen, allow_calculator, calculator_type, allow_note_sheet,
	release_mode, release_scores_at, scores_released, created_by, created_at, items_json`

func (s *SQLStore) PutAssessment(ctx context.Context, a Assessment) error {
	if a.ID == "" {
		return errors.New("assessment id required")
	}
	items, err := json.Marshal(a.Items)
	if err != nil {
		return err
	}
	if a.CreatedAt == 0 {
		a.CreatedAt = time.Now().Unix()
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO assessments (`+assessmentCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title, division=EXCLUDED.division, event_id=EXCLUDED.event_id,
			start_at=EXCLUDED.start_at, end_at=EXCLUDED.end_at, allow_late_until=EXCLUDED.allow_late_until,
			duration_sec=EXCLUDED.duration_sec, max_attempts=EXCLUDED.max_attempts,
			require_fullscreen=EXCLUDED.require_fullscreen, allow_calculator=EXCLUDED.allow_calculator,
			calculator_type=EXCLUDED.calculator_type, allow_note_sheet=EXCLUDED.allow_note_sheet,
			release_mode=EXCLUDED.release_mode, release_scores_at=EXCLUDED.release_scores_at,
			items_json=EXCLUDED.items_json`,
		a.ID, a.Kind, a.ClubID, nullStr(a.TournamentID), a.EventID, a.Title, a.Division, a.Status,
		a.StartAt, a.EndAt, a.AllowLateUntil, a.DurationSec, a.MaxAttempts,
		a.RequireFullscreen, a.AllowCalculator, a.CalculatorType, a.AllowNoteSheet,
		a.ReleaseMode, a.ReleaseScoresAt, a.ScoresReleased, a.CreatedBy, a.CreatedAt, string(items))
	return err
}

func (s *SQLStore) getAssessment(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, id string) (Assessment, error) {
	row := q.QueryRowContext(ctx, `SELECT `+assessmentCols+` FROM assessments WHERE id=$1`, id)
	var a Assessment
	var tournamentID sql.NullString
	var itemsJSON string
	err := row.Scan(&a.ID, &a.Kind, &a.ClubID, &tournamentID, &a.EventID, &a.Title, &a.Division, &a.Status,
		&a.StartAt, &a.EndAt, &a.AllowLateUntil, &a.DurationSec, &a.MaxAttempts,
		&a.RequireFullscreen, &a.AllowCalculator, &a.CalculatorType, &a.AllowNoteSheet,
		&a.ReleaseMode, &a.ReleaseScoresAt, &a.ScoresReleased, &a.CreatedBy, &a.CreatedAt, &itemsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Assessment{}, ErrNotFound
		}
		return Assessment{}, err
	}
	a.TournamentID = tournamentID.String
	if err := json.Unmarshal([]byte(itemsJSON), &a.Items); err != nil {
		return Assessment{}, err
	}
	return a, nil
}

// GetAssessment strips anything that discloses answers before serving a
// student: correct flags, numeric keys, explanations.
func (s *SQLStore) GetAssessment(ctx context.Context, id string) (Assessment, error) {
	a, err := s.getAssessment(ctx, s.db, id)
	if err != nil {
		return Assessment{}, err
	}
	sanitizeForStudent(&a)
	return a, nil
}

func (s *SQLStore) GetAssessmentAdmin(ctx context.Context, id string) (Assessment, error) {
	return s.getAssessment(ctx, s.db, id)
}

func sanitizeForStudent(a *Assessment) {
	for i := range a.Items {
		it := &a.Items[i]
		for j := range it.Options {
			it.Options[j].Correct = false
		}
		it.NumericAnswer = nil
		it.Tolerance = 0
		it.ExplanationHTML = ""
	}
}

func (s *SQLStore) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `UPDATE assessments SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) ListAssessments(ctx context.Context, opts ListOpts) ([]Assessment, error) {
	q := `SELECT ` + assessmentCols + ` FROM assessments WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(" AND %s=$%d", clause, len(args))
	}
	if opts.Kind != "" {
		add("kind", opts.Kind)
	}
	if opts.ClubID != "" {
		add("club_id", opts.ClubID)
	}
	if opts.TournamentID != "" {
		add("tournament_id", opts.TournamentID)
	}
	if opts.Status != "" {
		add("status", opts.Status)
	}
	q += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assessment
	for rows.Next() {
		var a Assessment
		var tournamentID sql.NullString
		var itemsJSON string
		if err := rows.Scan(&a.ID, &a.Kind, &a.ClubID, &tournamentID, &a.EventID, &a.Title, &a.Division, &a.Status,
			&a.StartAt, &a.EndAt, &a.AllowLateUntil, &a.DurationSec, &a.MaxAttempts,
			&a.RequireFullscreen, &a.AllowCalculator, &a.CalculatorType, &a.AllowNoteSheet,
			&a.ReleaseMode, &a.ReleaseScoresAt, &a.ScoresReleased, &a.CreatedBy, &a.CreatedAt, &itemsJSON); err != nil {
			return nil, err
		}
		a.TournamentID = tournamentID.String
		// List views never need item content.
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ReleaseScores(ctx context.Context, id string, now time.Time) error {
	a, err := s.getAssessment(ctx, s.db, id)
	if err != nil {
		return err
	}
	if a.Kind != KindTournament {
		return ErrOverrideUnsupported
	}
	t, err := s.GetTournament(ctx, a.TournamentID)
	if err != nil {
		return err
	}
	if t.EndAt == nil || now.Unix() < *t.EndAt {
		return ErrTournamentNotEnded
	}
	_, err = s.db.ExecContext(ctx, `UPDATE assessments SET scores_released=TRUE WHERE id=$1`, id)
	return err
}

func (s *SQLStore) GetTournament(ctx context.Context, id string) (Tournament, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, club_id, name, division, end_at, trial_events_json FROM tournaments WHERE id=$1`, id)
	var t Tournament
	var trials string
	if err := row.Scan(&t.ID, &t.ClubID, &t.Name, &t.Division, &t.EndAt, &trials); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Tournament{}, ErrNotFound
		}
		return Tournament{}, err
	}
	t.TrialEventsJSON = []byte(trials)
	return t, nil
}

func (s *SQLStore) ListEvents(ctx context.Context, tournamentID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tournament_id, name, division FROM events WHERE tournament_id=$1 ORDER BY name`, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.TournamentID, &ev.Name, &ev.Division); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// StartAttempt enforces publish state, the scheduling window and the
// attempt limit, then creates the attempt with one answer shell per item so
// later writes are plain updates.
func (s *SQLStore) StartAttempt(ctx context.Context, assessmentID, membershipID string, now time.Time) (Attempt, error) {
	a, err := s.getAssessment(ctx, s.db, assessmentID)
	if err != nil {
		return Attempt{}, err
	}
	if a.Status != StatusPublished {
		return Attempt{}, ErrNotPublished
	}
	if a.StartAt != nil && now.Unix() < *a.StartAt {
		return Attempt{}, ErrNotOpen
	}
	if cutoff := a.SubmissionCutoff(); cutoff != nil && now.Unix() > *cutoff {
		return Attempt{}, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attempt{}, err
	}
	defer tx.Rollback()

	// The count answers which error to report. Racing starts that both pass
	// this read are caught by the partial unique index on open attempts; the
	// loser's insert fails.
	var total, open int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status=$1 THEN 1 ELSE 0 END),0)
		   FROM attempts WHERE assessment_id=$2 AND membership_id=$3`,
		AttemptInProgress, assessmentID, membershipID).Scan(&total, &open); err != nil {
		return Attempt{}, err
	}
	if open > 0 {
		return Attempt{}, ErrAttemptOpen
	}
	if a.MaxAttempts != nil && total >= *a.MaxAttempts {
		return Attempt{}, ErrMaxAttempts
	}

	att := Attempt{
		ID:           uuid.NewString(),
		AssessmentID: assessmentID,
		MembershipID: membershipID,
		Status:       AttemptInProgress,
		StartedAt:    now.Unix(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO attempts (id, assessment_id, membership_id, status, started_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		att.ID, att.AssessmentID, att.MembershipID, att.Status, att.StartedAt); err != nil {
		return Attempt{}, err
	}
	for _, it := range a.Items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO answers (id, attempt_id, item_id) VALUES ($1,$2,$3)`,
			uuid.NewString(), att.ID, it.ID); err != nil {
			return Attempt{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Attempt{}, err
	}
	return att, nil
}

func (s *SQLStore) SaveAnswers(ctx context.Context, attemptID string, in map[string]AnswerInput) (Attempt, error) {
	att, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if att.Status != AttemptInProgress {
		return Attempt{}, ErrNotInProgress
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attempt{}, err
	}
	defer tx.Rollback()

	for itemID, input := range in {
		var selected *string
		if input.SelectedOptionIDs != nil {
			buf, err := json.Marshal(input.SelectedOptionIDs)
			if err != nil {
				return Attempt{}, err
			}
			str := string(buf)
			selected = &str
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE answers SET answer_text=$1, selected_option_ids_json=$2, numeric_answer=$3
			  WHERE attempt_id=$4 AND item_id=$5`,
			input.AnswerText, selected, input.NumericAnswer, attemptID, itemID)
		if err != nil {
			return Attempt{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return Attempt{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
		}
	}
	if err := tx.Commit(); err != nil {
		return Attempt{}, err
	}
	return att, nil
}

// RecordProctorSignals applies commutative, monotonic increments; negative
// deltas are dropped so counters never decrease.
func (s *SQLStore) RecordProctorSignals(ctx context.Context, attemptID string, tabSwitches, offPageSec int) error {
	if tabSwitches < 0 {
		tabSwitches = 0
	}
	if offPageSec < 0 {
		offPageSec = 0
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE attempts
		    SET tab_switch_count = tab_switch_count + $1,
		        time_off_page_sec = time_off_page_sec + $2
		  WHERE id=$3 AND status=$4`,
		tabSwitches, offPageSec, attemptID, AttemptInProgress)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either unknown or already submitted; distinguish for the caller.
		if _, err := s.GetAttempt(ctx, attemptID); err != nil {
			return err
		}
		return ErrNotInProgress
	}
	return nil
}

// Submit transitions in_progress -> submitted and runs the automatic
// grading pass in the same transaction. The transition is a conditional
// update so a concurrent submit observes a no-op and returns the existing
// record instead of double-scoring.
func (s *SQLStore) Submit(ctx context.Context, attemptID string, now time.Time) (Attempt, error) {
	att, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	a, err := s.getAssessment(ctx, s.db, att.AssessmentID)
	if err != nil {
		return Attempt{}, err
	}
	// Accepted past the cutoff but flagged; a student mid-attempt must be
	// able to finish.
	cutoff := a.SubmissionCutoff()
	late := cutoff != nil && now.Unix() > *cutoff

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attempt{}, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE attempts SET status=$1, submitted_at=$2, late=$3 WHERE id=$4 AND status=$5`,
		AttemptSubmitted, now.Unix(), late, attemptID, AttemptInProgress)
	if err != nil {
		return Attempt{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already submitted: idempotent no-op. Release the tx before
		// re-reading: on shared-cache SQLite the open write tx blocks the
		// read on the other connection, deadlocking this goroutine.
		tx.Rollback()
		return s.GetAttempt(ctx, attemptID)
	}

	items := make(map[string]Item, len(a.Items))
	for _, it := range a.Items {
		items[it.ID] = it
	}
	answers, err := loadAnswers(ctx, tx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	gradedAt := now.Unix()
	for _, ans := range answers {
		it, ok := items[ans.ItemID]
		if !ok {
			continue
		}
		result := s.grader.Grade(gradingItem(it), gradingResponse(ans))
		if result.NeedsManual {
			continue // stays ungraded until a human scores it
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE answers SET points_awarded=$1, graded_at=$2 WHERE id=$3`,
			result.Points, gradedAt, ans.ID); err != nil {
			return Attempt{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Attempt{}, err
	}
	return s.GetAttempt(ctx, attemptID)
}

func gradingItem(it Item) grading.Item {
	return grading.Item{
		Type:             string(it.Type),
		Points:           it.Points,
		CorrectOptionIDs: it.CorrectOptionIDs(),
		NumericAnswer:    it.NumericAnswer,
		Tolerance:        it.Tolerance,
	}
}

func gradingResponse(a Answer) grading.Response {
	return grading.Response{
		Text:              a.AnswerText,
		SelectedOptionIDs: a.SelectedOptionIDs,
		Numeric:           a.NumericAnswer,
	}
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, assessment_id, membership_id, status, started_at, submitted_at, late,
		        tab_switch_count, time_off_page_sec
		   FROM attempts WHERE id=$1`, id)
	var a Attempt
	if err := row.Scan(&a.ID, &a.AssessmentID, &a.MembershipID, &a.Status, &a.StartedAt,
		&a.SubmittedAt, &a.Late, &a.TabSwitchCount, &a.TimeOffPageSec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attempt{}, ErrNotFound
		}
		return Attempt{}, err
	}
	return a, nil
}

type queryer interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

func loadAnswers(ctx context.Context, q queryer, attemptID string) ([]Answer, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, attempt_id, item_id, answer_text, selected_option_ids_json, numeric_answer,
		        points_awarded, graded_at, graded_by, grader_note
		   FROM answers WHERE attempt_id=$1 ORDER BY item_id`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		var a Answer
		var selected sql.NullString
		if err := rows.Scan(&a.ID, &a.AttemptID, &a.ItemID, &a.AnswerText, &selected,
			&a.NumericAnswer, &a.PointsAwarded, &a.GradedAt, &a.GradedBy, &a.GraderNote); err != nil {
			return nil, err
		}
		if selected.Valid && selected.String != "" {
			if err := json.Unmarshal([]byte(selected.String), &a.SelectedOptionIDs); err != nil {
				a.SelectedOptionIDs = nil
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetAnswers(ctx context.Context, attemptID string) ([]Answer, error) {
	return loadAnswers(ctx, s.db, attemptID)
}

func (s *SQLStore) ListAttempts(ctx context.Context, opts AttemptListOpts) ([]Attempt, error) {
	q := `SELECT id, assessment_id, membership_id, status, started_at, submitted_at, late,
	             tab_switch_count, time_off_page_sec
	        FROM attempts WHERE 1=1`
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(" AND %s=$%d", col, len(args))
	}
	if opts.AssessmentID != "" {
		add("assessment_id", opts.AssessmentID)
	}
	if opts.MembershipID != "" {
		add("membership_id", opts.MembershipID)
	}
	if opts.Status != "" {
		add("status", opts.Status)
	}
	q += " ORDER BY started_at DESC"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.AssessmentID, &a.MembershipID, &a.Status, &a.StartedAt,
			&a.SubmittedAt, &a.Late, &a.TabSwitchCount, &a.TimeOffPageSec); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) AttemptStates(ctx context.Context, membershipID string, assessmentIDs []string) (map[string]AttemptState, error) {
	states := make(map[string]AttemptState, len(assessmentIDs))
	if len(assessmentIDs) == 0 {
		return states, nil
	}
	wanted := make(map[string]bool, len(assessmentIDs))
	for _, id := range assessmentIDs {
		wanted[id] = true
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, assessment_id, status FROM attempts
		  WHERE membership_id=$1 ORDER BY started_at ASC`, membershipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, assessmentID, status string
		if err := rows.Scan(&id, &assessmentID, &status); err != nil {
			return nil, err
		}
		if !wanted[assessmentID] {
			continue
		}
		st := states[assessmentID]
		st.Count++
		st.LatestAttemptID = id
		st.LatestStatus = status
		states[assessmentID] = st
	}
	return states, rows.Err()
}

// ApplyManualGrades scores free-response answers. Re-grading overwrites
// points, note and graded_at rather than accumulating.
func (s *SQLStore) ApplyManualGrades(ctx context.Context, attemptID string, updates map[string]ManualGradeInput, gradedBy string) (Attempt, error) {
	att, err := s.GetAttempt(ctx, attemptID)
	if err != nil {
		return Attempt{}, err
	}
	if att.Status != AttemptSubmitted {
		return Attempt{}, ErrNotSubmitted
	}
	a, err := s.getAssessment(ctx, s.db, att.AssessmentID)
	if err != nil {
		return Attempt{}, err
	}
	items := make(map[string]Item, len(a.Items))
	for _, it := range a.Items {
		items[it.ID] = it
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Attempt{}, err
	}
	defer tx.Rollback()

	gradedAt := time.Now().Unix()
	for itemID, in := range updates {
		it, ok := items[itemID]
		if !ok {
			return Attempt{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
		}
		if !it.Type.FreeResponse() {
			return Attempt{}, fmt.Errorf("%w: %s", ErrNotFreeResponse, itemID)
		}
		points := grading.ClampManual(in.PointsAwarded, it.Points)
		var note *string
		if in.GraderNote != "" {
			note = &in.GraderNote
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE answers SET points_awarded=$1, graded_at=$2, graded_by=$3, grader_note=$4
			  WHERE attempt_id=$5 AND item_id=$6`,
			points, gradedAt, gradedBy, note, attemptID, itemID)
		if err != nil {
			return Attempt{}, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return Attempt{}, fmt.Errorf("%w: %s", ErrUnknownItem, itemID)
		}
	}
	if err := tx.Commit(); err != nil {
		return Attempt{}, err
	}
	return att, nil
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
