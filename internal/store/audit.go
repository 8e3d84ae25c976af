package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Audit trail queries. Events are written inside case transactions via
// insertAudit; Append exists for events with no accompanying case
// write. Nothing in this file ever updates or deletes a row.

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// insertAudit persists one event and fills in its database-assigned
// sequence number.
func (s *SQLStore) insertAudit(ctx context.Context, q rowQuerier, ev *domain.AuditEvent) error {
	payload := ""
	if len(ev.Payload) > 0 {
		payload = string(ev.Payload)
	}

	query := `
		INSERT INTO audit_events (
			id, case_id, kind, actor, payload, typologies, rule_set_version, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING seq
	`

	err := q.QueryRowContext(ctx, s.rebind(query),
		ev.ID, ev.CaseID, string(ev.Kind), ev.Actor,
		payload, encodeTypologies(ev.Typologies), ev.RuleSetVersion, ev.Timestamp,
	).Scan(&ev.Seq)
	if err != nil {
		return storageErr(err)
	}
	return nil
}

// Append persists one standalone event.
func (s *SQLStore) Append(ctx context.Context, ev *domain.AuditEvent) error {
	return s.insertAudit(ctx, s.db, ev)
}

// ByCase returns a case's events in sequence order.
func (s *SQLStore) ByCase(ctx context.Context, caseID string) ([]*domain.AuditEvent, error) {
	query := auditSelect + ` WHERE case_id = ? ORDER BY seq ASC`
	return s.queryAudit(ctx, query, caseID)
}

// ByActor returns the most recent events recorded by an actor.
func (s *SQLStore) ByActor(ctx context.Context, actor string, limit int) ([]*domain.AuditEvent, error) {
	query := auditSelect + ` WHERE actor = ? ORDER BY seq DESC LIMIT ?`
	return s.queryAudit(ctx, query, actor, normalizeLimit(limit))
}

// ByDateRange returns events within [from, to] in sequence order.
func (s *SQLStore) ByDateRange(ctx context.Context, from, to time.Time, limit int) ([]*domain.AuditEvent, error) {
	query := auditSelect + ` WHERE timestamp >= ? AND timestamp <= ? ORDER BY seq ASC LIMIT ?`
	return s.queryAudit(ctx, query, from, to, normalizeLimit(limit))
}

// ByTypology returns the most recent scored events that matched the
// given typology rule.
func (s *SQLStore) ByTypology(ctx context.Context, typologyID string, limit int) ([]*domain.AuditEvent, error) {
	query := auditSelect + ` WHERE typologies LIKE ? ESCAPE '\' ORDER BY seq DESC LIMIT ?`
	pattern := "%," + escapeLike(typologyID) + ",%"
	return s.queryAudit(ctx, query, pattern, normalizeLimit(limit))
}

// escapeLike neutralizes LIKE wildcards so rule IDs containing _ or %
// match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

const auditSelect = `
	SELECT seq, id, case_id, kind, actor, payload, typologies, rule_set_version, timestamp
	FROM audit_events
`

func (s *SQLStore) queryAudit(ctx context.Context, query string, args ...any) ([]*domain.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var events []*domain.AuditEvent
	for rows.Next() {
		var ev domain.AuditEvent
		var payload, typologies string

		if err := rows.Scan(
			&ev.Seq, &ev.ID, &ev.CaseID, (*string)(&ev.Kind), &ev.Actor,
			&payload, &typologies, &ev.RuleSetVersion, &ev.Timestamp,
		); err != nil {
			return nil, storageErr(err)
		}

		if payload != "" {
			ev.Payload = json.RawMessage(payload)
		}
		ev.Typologies = decodeTypologies(typologies)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// Typologies are stored as a comma-delimited string with leading and
// trailing delimiters so a LIKE '%,id,%' match cannot hit substrings
// of other rule IDs.
func encodeTypologies(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return "," + strings.Join(ids, ",") + ","
}

func decodeTypologies(encoded string) []string {
	trimmed := strings.Trim(encoded, ",")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, ",")
}
