package store

// Schema definitions for the Harrier case store.
// Compatible with both SQLite and PostgreSQL unless noted.

const schemaCases = `
CREATE TABLE IF NOT EXISTS cases (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    subject_name TEXT,
    profile TEXT NOT NULL,
    evidence TEXT NOT NULL,
    score TEXT,
    score_value INTEGER NOT NULL DEFAULT 0,
    state TEXT NOT NULL,
    narrative TEXT,
    decision TEXT,
    revision INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_state ON cases(state);
CREATE INDEX IF NOT EXISTS idx_cases_created ON cases(created_at);
CREATE INDEX IF NOT EXISTS idx_cases_score ON cases(score_value);
CREATE INDEX IF NOT EXISTS idx_cases_subject ON cases(subject_id);
`

// The audit trail is append-only: no UPDATE or DELETE is ever issued
// against this table. seq is assigned by the database so event order
// is total even when timestamps collide.
const schemaAuditSQLite = `
CREATE TABLE IF NOT EXISTS audit_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    case_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    actor TEXT NOT NULL,
    payload TEXT,
    typologies TEXT,
    rule_set_version TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_case ON audit_events(case_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_events(actor, seq);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
`

const schemaAuditPostgres = `
CREATE TABLE IF NOT EXISTS audit_events (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL,
    case_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    actor TEXT NOT NULL,
    payload TEXT,
    typologies TEXT,
    rule_set_version TEXT,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_case ON audit_events(case_id, seq);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_events(actor, seq);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
`

// Schemas returns the schema statements for the given driver, in order.
func Schemas(driver string) []string {
	audit := schemaAuditSQLite
	if driver == "postgres" {
		audit = schemaAuditPostgres
	}
	return []string{schemaCases, audit}
}
