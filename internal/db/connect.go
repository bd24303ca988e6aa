package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:testengine.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/testengine?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id),
  club_id TEXT NOT NULL,
  role TEXT NOT NULL,
  UNIQUE(user_id, club_id)
);

CREATE TABLE IF NOT EXISTS tournaments (
  id TEXT PRIMARY KEY,
  club_id TEXT NOT NULL,
  name TEXT NOT NULL,
  division TEXT NOT NULL DEFAULT '',
  end_at INTEGER,
  trial_events_json TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  tournament_id TEXT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  division TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS roster_assignments (
  id TEXT PRIMARY KEY,
  membership_id TEXT NOT NULL REFERENCES memberships(id),
  tournament_id TEXT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
  team_id TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL,
  event_name TEXT NOT NULL DEFAULT '',
  division TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,                -- club|tournament
  club_id TEXT NOT NULL,
  tournament_id TEXT,
  event_id TEXT,
  title TEXT NOT NULL,
  division TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'draft',
  start_at INTEGER,
  end_at INTEGER,
  allow_late_until INTEGER,
  duration_sec INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER,
  require_fullscreen INTEGER NOT NULL DEFAULT 0,
  allow_calculator INTEGER NOT NULL DEFAULT 0,
  calculator_type TEXT NOT NULL DEFAULT '',
  allow_note_sheet INTEGER NOT NULL DEFAULT 0,
  release_mode TEXT NOT NULL DEFAULT 'none',
  release_scores_at INTEGER,
  scores_released INTEGER,           -- NULL = no override (club kind)
  created_by TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  items_json TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  membership_id TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  submitted_at INTEGER,
  late INTEGER NOT NULL DEFAULT 0,
  tab_switch_count INTEGER NOT NULL DEFAULT 0,
  time_off_page_sec INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_attempts_assessment_membership
  ON attempts(assessment_id, membership_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_one_open
  ON attempts(assessment_id, membership_id) WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS answers (
  id TEXT PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
  item_id TEXT NOT NULL,
  answer_text TEXT,
  selected_option_ids_json TEXT,
  numeric_answer REAL,
  points_awarded REAL,
  graded_at INTEGER,
  graded_by TEXT NOT NULL DEFAULT '',
  grader_note TEXT,
  UNIQUE(attempt_id, item_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT, -- BIGSERIAL in Postgres
  typ TEXT NOT NULL,                        -- e.g. AssessmentCreated
  key TEXT NOT NULL,                        -- natural key: assessment/attempt id
  data TEXT NOT NULL,                       -- JSON payload
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL REFERENCES users(id),
  club_id TEXT NOT NULL,
  role TEXT NOT NULL,
  UNIQUE(user_id, club_id)
);

CREATE TABLE IF NOT EXISTS tournaments (
  id TEXT PRIMARY KEY,
  club_id TEXT NOT NULL,
  name TEXT NOT NULL,
  division TEXT NOT NULL DEFAULT '',
  end_at BIGINT,
  trial_events_json TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  tournament_id TEXT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
  name TEXT NOT NULL,
  division TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS roster_assignments (
  id TEXT PRIMARY KEY,
  membership_id TEXT NOT NULL REFERENCES memberships(id),
  tournament_id TEXT NOT NULL REFERENCES tournaments(id) ON DELETE CASCADE,
  team_id TEXT NOT NULL DEFAULT '',
  event_id TEXT NOT NULL,
  event_name TEXT NOT NULL DEFAULT '',
  division TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS assessments (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  club_id TEXT NOT NULL,
  tournament_id TEXT,
  event_id TEXT,
  title TEXT NOT NULL,
  division TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'draft',
  start_at BIGINT,
  end_at BIGINT,
  allow_late_until BIGINT,
  duration_sec INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER,
  require_fullscreen BOOLEAN NOT NULL DEFAULT FALSE,
  allow_calculator BOOLEAN NOT NULL DEFAULT FALSE,
  calculator_type TEXT NOT NULL DEFAULT '',
  allow_note_sheet BOOLEAN NOT NULL DEFAULT FALSE,
  release_mode TEXT NOT NULL DEFAULT 'none',
  release_scores_at BIGINT,
  scores_released BOOLEAN,
  created_by TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  items_json TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  assessment_id TEXT NOT NULL REFERENCES assessments(id) ON DELETE CASCADE,
  membership_id TEXT NOT NULL,
  status TEXT NOT NULL,
  started_at BIGINT NOT NULL,
  submitted_at BIGINT,
  late BOOLEAN NOT NULL DEFAULT FALSE,
  tab_switch_count INTEGER NOT NULL DEFAULT 0,
  time_off_page_sec INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_attempts_assessment_membership
  ON attempts(assessment_id, membership_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_attempts_one_open
  ON attempts(assessment_id, membership_id) WHERE status = 'in_progress';

CREATE TABLE IF NOT EXISTS answers (
  id TEXT PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id) ON DELETE CASCADE,
  item_id TEXT NOT NULL,
  answer_text TEXT,
  selected_option_ids_json TEXT,
  numeric_answer DOUBLE PRECISION,
  points_awarded DOUBLE PRECISION,
  graded_at BIGINT,
  graded_by TEXT NOT NULL DEFAULT '',
  grader_note TEXT,
  UNIQUE(attempt_id, item_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
  seq BIGSERIAL PRIMARY KEY,
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
