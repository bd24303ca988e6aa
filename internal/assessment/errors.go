package assessment

import "errors"

// Policy and consistency violations carry a specific reason so callers can
// show an actionable message. None of these is retryable; the caller must
// re-query state first.
var (
	ErrNotFound     = errors.New("not found")
	ErrNotPublished = errors.New("test is not published")
	ErrNotOpen      = errors.New("test is not open yet")
	ErrClosed       = errors.New("test is closed")

	// ErrAttemptOpen: a prior attempt is still in progress, so a second one
	// cannot start regardless of the attempt limit.
	ErrAttemptOpen = errors.New("prior attempt still open")

	ErrMaxAttempts = errors.New("maximum attempts reached")

	// ErrNotInProgress: autosave or proctor signals against an attempt that
	// already left in_progress.
	ErrNotInProgress = errors.New("attempt is not in progress")

	// ErrNotSubmitted: manual grading requires a submitted attempt.
	ErrNotSubmitted = errors.New("attempt has not been submitted")

	ErrUnknownItem = errors.New("unknown item")

	// ErrNotFreeResponse: manual scores and grader notes apply to
	// short_text/long_text items only; objective items keep their automatic
	// score.
	ErrNotFreeResponse = errors.New("item is not manually graded")

	// ErrOverrideUnsupported: the explicit release override exists only on
	// tournament-scoped tests.
	ErrOverrideUnsupported = errors.New("release override not supported for this test")

	ErrTournamentNotEnded = errors.New("tournament has not ended")
)
