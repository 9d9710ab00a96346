package audit

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"

	dErrors "warden/pkg/domain-errors"
)

// PostgresStore persists audit events to a relational table, keeping the
// trail durable and queryable independently of the state document.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "open audit database")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ping audit database")
	}
	return db, nil
}

// EnsureSchema creates the audit table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS audit_events (
    id        TEXT PRIMARY KEY,
    ts        TIMESTAMPTZ NOT NULL,
    category  TEXT NOT NULL,
    action    TEXT NOT NULL,
    subject   TEXT NOT NULL,
    actor     TEXT NOT NULL DEFAULT '',
    guild_id  TEXT NOT NULL DEFAULT '',
    decision  TEXT NOT NULL DEFAULT '',
    reason    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS audit_events_subject_idx ON audit_events (subject, ts);`
	_, err := s.db.ExecContext(ctx, ddl)
	return dErrors.Wrap(err, dErrors.CodePersistence, "ensure audit schema")
}

// Append inserts one event. Replays of an already-stored id are ignored so
// the worker can retry safely.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	const q = `
INSERT INTO audit_events (id, ts, category, action, subject, actor, guild_id, decision, reason)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q,
		event.ID, event.Timestamp, string(event.Category), event.Action,
		event.Subject, event.Actor, event.GuildID, event.Decision, event.Reason)
	return dErrors.Wrap(err, dErrors.CodePersistence, "append audit event")
}

// ListBySubject returns a subject's events in chronological order.
func (s *PostgresStore) ListBySubject(ctx context.Context, subject string) ([]Event, error) {
	const q = `
SELECT id, ts, category, action, subject, actor, guild_id, decision, reason
FROM audit_events WHERE subject = $1 ORDER BY ts`
	rows, err := s.db.QueryContext(ctx, q, subject)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "list audit events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var category string
		if err := rows.Scan(&e.ID, &e.Timestamp, &category, &e.Action,
			&e.Subject, &e.Actor, &e.GuildID, &e.Decision, &e.Reason); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodePersistence, "scan audit event")
		}
		e.Category = Category(category)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "iterate audit events")
	}
	return events, nil
}
