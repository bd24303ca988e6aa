// Package visibility computes, for one student and one tournament, exactly
// which published tests are listed and how they are grouped. It never
// filters on scheduling windows; time enforcement belongs to the attempt
// lifecycle.
package visibility

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/compclub/testengine/internal/assessment"
	"github.com/compclub/testengine/internal/roster"
)

// TrialEvent is an ad-hoc event declared on a tournament without a real
// Event row behind it.
type TrialEvent struct {
	Name     string `json:"name"`
	Division string `json:"division,omitempty"`
}

// ParseTrialEvents tolerates both declaration formats: the current list of
// {name, division} objects and the legacy bare string array. Anything
// unparseable yields no declarations rather than an error.
func ParseTrialEvents(raw []byte) []TrialEvent {
	if len(raw) == 0 {
		return nil
	}
	var objs []TrialEvent
	if err := json.Unmarshal(raw, &objs); err == nil {
		out := objs[:0]
		for _, t := range objs {
			if strings.TrimSpace(t.Name) != "" {
				out = append(out, t)
			}
		}
		return out
	}
	var names []string
	if err := json.Unmarshal(raw, &names); err == nil {
		var out []TrialEvent
		for _, n := range names {
			if strings.TrimSpace(n) != "" {
				out = append(out, TrialEvent{Name: n})
			}
		}
		return out
	}
	return nil
}

// AuditReader recovers the origin event name an assessment was created
// under. Implementations are fallible; the resolver treats any failure as
// "no origin known".
type AuditReader interface {
	CreationEventName(ctx context.Context, assessmentID string) (string, error)
}

// TestInfo carries what the student-facing list view renders per test.
type TestInfo struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	DurationSec int    `json:"duration_sec"`
	StartAt     *int64 `json:"start_at,omitempty"`
	EndAt       *int64 `json:"end_at,omitempty"`
	MaxAttempts *int   `json:"max_attempts,omitempty"`

	RequireFullscreen bool   `json:"require_fullscreen"`
	AllowCalculator   bool   `json:"allow_calculator"`
	CalculatorType    string `json:"calculator_type,omitempty"`
	AllowNoteSheet    bool   `json:"allow_note_sheet"`

	AttemptCount    int    `json:"attempt_count"`
	LatestAttemptID string `json:"latest_attempt_id,omitempty"`
	LatestStatus    string `json:"latest_status,omitempty"`
}

type GroupEvent struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Division string `json:"division,omitempty"`
	IsTrial  bool   `json:"is_trial,omitempty"`
}

type EventGroup struct {
	Event GroupEvent `json:"event"`
	Tests []TestInfo `json:"tests"`
}

// Payload is the three disjoint collections the list view consumes.
type Payload struct {
	EventGroups      []EventGroup `json:"event_groups"`
	TrialEventGroups []EventGroup `json:"trial_event_groups"`
	GeneralTests     []TestInfo   `json:"general_tests"`
}

type Resolver struct {
	Audit AuditReader
}

func NewResolver(audit AuditReader) *Resolver { return &Resolver{Audit: audit} }

// Resolve partitions the tournament's published tests for one student.
//
// Tests bound to an event follow the roster: with at least one assignment
// the student sees their assigned events' tests (empty groups included);
// with no assignments at all, every event group of the tournament's
// division is shown so unconfigured rosters never hide tests. Tests bound
// to no event are classified through the creation audit trail: a recovered
// name matching a declared trial event forms a synthetic trial group,
// everything else lands in the general list.
func (r *Resolver) Resolve(
	ctx context.Context,
	tournament assessment.Tournament,
	events []assessment.Event,
	assignments []roster.Assignment,
	tests []assessment.Assessment,
	states map[string]assessment.AttemptState,
) Payload {
	eventByID := make(map[string]assessment.Event, len(events))
	for _, ev := range events {
		eventByID[ev.ID] = ev
	}

	var eventTests, looseTests []assessment.Assessment
	for _, t := range tests {
		if t.Status != assessment.StatusPublished {
			continue
		}
		if t.EventID != nil && *t.EventID != "" {
			eventTests = append(eventTests, t)
		} else {
			looseTests = append(looseTests, t)
		}
	}

	var p Payload

	if len(assignments) > 0 {
		// Groups come strictly from the student's own assignments; an
		// assigned event with zero matching tests still appears empty.
		seen := map[string]bool{}
		for _, as := range assignments {
			if seen[as.EventID] {
				continue
			}
			seen[as.EventID] = true
			ev, ok := eventByID[as.EventID]
			if !ok {
				ev = assessment.Event{ID: as.EventID, Name: as.EventName, Division: as.Division}
			}
			group := EventGroup{
				Event: GroupEvent{ID: ev.ID, Name: ev.Name, Division: ev.Division},
				Tests: []TestInfo{},
			}
			for _, t := range eventTests {
				if *t.EventID == as.EventID {
					group.Tests = append(group.Tests, testInfo(t, states))
				}
			}
			p.EventGroups = append(p.EventGroups, group)
		}
	} else {
		// Roster not configured yet: show every event group for the
		// tournament's division rather than nothing.
		byEvent := map[string][]TestInfo{}
		for _, t := range eventTests {
			if tournament.Division != "" && t.Division != "" && t.Division != tournament.Division {
				continue
			}
			byEvent[*t.EventID] = append(byEvent[*t.EventID], testInfo(t, states))
		}
		for id, infos := range byEvent {
			ev, ok := eventByID[id]
			if !ok {
				ev = assessment.Event{ID: id}
			}
			p.EventGroups = append(p.EventGroups, EventGroup{
				Event: GroupEvent{ID: ev.ID, Name: ev.Name, Division: ev.Division},
				Tests: infos,
			})
		}
	}
	sortGroups(p.EventGroups)

	// Null-event tests: trial classification via the audit trail, general
	// otherwise. Audit failures degrade to general, never to an error.
	trials := ParseTrialEvents(tournament.TrialEventsJSON)
	trialTests := map[string][]TestInfo{}
	for _, t := range looseTests {
		origin := ""
		if r.Audit != nil {
			if name, err := r.Audit.CreationEventName(ctx, t.ID); err == nil {
				origin = strings.TrimSpace(name)
			}
		}
		// Bucket under the declaration's name, not the recorded origin: the
		// match is case-insensitive and the group render looks up by
		// declaration.
		if tr, ok := matchTrial(trials, origin); ok {
			trialTests[tr.Name] = append(trialTests[tr.Name], testInfo(t, states))
			continue
		}
		p.GeneralTests = append(p.GeneralTests, testInfo(t, states))
	}
	for _, tr := range trials {
		p.TrialEventGroups = append(p.TrialEventGroups, EventGroup{
			Event: GroupEvent{Name: tr.Name, Division: tr.Division, IsTrial: true},
			Tests: orEmpty(trialTests[tr.Name]),
		})
	}
	if p.GeneralTests == nil {
		p.GeneralTests = []TestInfo{}
	}
	return p
}

func matchTrial(trials []TrialEvent, name string) (TrialEvent, bool) {
	if name == "" {
		return TrialEvent{}, false
	}
	for _, t := range trials {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return TrialEvent{}, false
}

func testInfo(t assessment.Assessment, states map[string]assessment.AttemptState) TestInfo {
	info := TestInfo{
		ID:                t.ID,
		Title:             t.Title,
		DurationSec:       t.DurationSec,
		StartAt:           t.StartAt,
		EndAt:             t.EndAt,
		MaxAttempts:       t.MaxAttempts,
		RequireFullscreen: t.RequireFullscreen,
		AllowCalculator:   t.AllowCalculator,
		CalculatorType:    t.CalculatorType,
		AllowNoteSheet:    t.AllowNoteSheet,
	}
	if st, ok := states[t.ID]; ok {
		info.AttemptCount = st.Count
		info.LatestAttemptID = st.LatestAttemptID
		info.LatestStatus = st.LatestStatus
	}
	return info
}

func sortGroups(groups []EventGroup) {
	sort.Slice(groups, func(i, j int) bool {
		return groups[i].Event.Name < groups[j].Event.Name
	})
	for _, g := range groups {
		sort.Slice(g.Tests, func(i, j int) bool { return g.Tests[i].Title < g.Tests[j].Title })
	}
}

func orEmpty(ts []TestInfo) []TestInfo {
	if ts == nil {
		return []TestInfo{}
	}
	return ts
}
