// Package audit is an append-only event log. The visibility resolver reads
// assessment-creation events back to recover the origin event name of tests
// that carry no Event identity; everything else is write-only bookkeeping.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

const (
	TypeAssessmentCreated = "AssessmentCreated"
	TypeScoresReleased    = "ScoresReleased"
	TypeAttemptSubmitted  = "AttemptSubmitted"
)

type Event struct {
	Seq       int64
	Type      string
	Key       string // natural key, e.g. assessment or attempt id
	DataJSON  string
	CreatedAt int64
}

// CreationData is the payload recorded when an assessment is created.
type CreationData struct {
	EventName string `json:"event_name,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

type Repo struct {
	db *sql.DB
}

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) Append(ctx context.Context, typ, key string, data interface{}) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO audit_log (typ, key, data, created_at) VALUES ($1,$2,$3,$4)`,
		typ, key, string(buf), time.Now().Unix())
	return err
}

// CreationEventName returns the origin event name recorded when the
// assessment was created. Callers treat any error or empty name as "no
// origin known"; this lookup is best-effort enrichment, never load-bearing.
func (r *Repo) CreationEventName(ctx context.Context, assessmentID string) (string, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT data FROM audit_log WHERE typ=$1 AND key=$2 ORDER BY seq DESC LIMIT 1`,
		TypeAssessmentCreated, assessmentID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	var d CreationData
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return "", err
	}
	return d.EventName, nil
}
