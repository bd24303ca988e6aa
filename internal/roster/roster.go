// Package roster provides the membership and roster-assignment lookups the
// engine consumes. Assignments are input to visibility resolution only and
// are never mutated here.
package roster

import (
	"context"
	"database/sql"
	"errors"
)

type Membership struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	ClubID string `json:"club_id"`
	Role   string `json:"role"` // student|grader|admin
}

// Assignment links a membership to an Event within a team scope.
type Assignment struct {
	ID           string `json:"id"`
	MembershipID string `json:"membership_id"`
	TournamentID string `json:"tournament_id"`
	TeamID       string `json:"team_id,omitempty"`
	EventID      string `json:"event_id"`
	EventName    string `json:"event_name,omitempty"`
	Division     string `json:"division,omitempty"`
}

var ErrNoMembership = errors.New("membership not found")

type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) MembershipForUser(ctx context.Context, userID, clubID string) (Membership, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, club_id, role FROM memberships WHERE user_id=$1 AND club_id=$2`,
		userID, clubID)
	var m Membership
	if err := row.Scan(&m.ID, &m.UserID, &m.ClubID, &m.Role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Membership{}, ErrNoMembership
		}
		return Membership{}, err
	}
	return m, nil
}

func (r *Repo) AssignmentsFor(ctx context.Context, membershipID, tournamentID string) ([]Assignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, membership_id, tournament_id, team_id, event_id, event_name, division
		   FROM roster_assignments
		  WHERE membership_id=$1 AND tournament_id=$2`,
		membershipID, tournamentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.ID, &a.MembershipID, &a.TournamentID, &a.TeamID, &a.EventID, &a.EventName, &a.Division); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
