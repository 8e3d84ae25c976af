// Package store provides data persistence for cases and audit events.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SQLStore implements domain.CaseStore and domain.AuditTrail using
// database/sql. Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a store based on configuration.
func New(cfg domain.StoreConfig) (*SQLStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{db: db, driver: cfg.Driver}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range Schemas(s.driver) {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateCase persists a new case together with its initial scored
// audit event in one transaction. If either write fails, neither is
// visible afterwards.
func (s *SQLStore) CreateCase(ctx context.Context, c *domain.Case, scored *domain.AuditEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()

	profile, _ := json.Marshal(c.Profile)
	evidence, _ := json.Marshal(c.Evidence)
	score, scoreValue := marshalScore(c.Score)

	query := `
		INSERT INTO cases (
			id, subject_id, subject_name, profile, evidence,
			score, score_value, state, narrative, decision,
			revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, s.rebind(query),
		c.ID, c.SubjectID, c.SubjectName,
		string(profile), string(evidence),
		score, scoreValue, string(c.State),
		c.Narrative, "",
		c.Revision, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return storageErr(err)
	}

	if err := s.insertAudit(ctx, tx, scored); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

// GetCase retrieves a case by ID.
func (s *SQLStore) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	query := `
		SELECT id, subject_id, subject_name, profile, evidence,
		       score, state, narrative, decision,
		       revision, created_at, updated_at
		FROM cases
		WHERE id = ?
	`
	return s.scanCase(s.db.QueryRowContext(ctx, s.rebind(query), caseID))
}

// ListCases retrieves cases matching the filter, newest first.
func (s *SQLStore) ListCases(ctx context.Context, filter domain.CaseFilter) ([]*domain.Case, error) {
	var conds []string
	var args []any

	if filter.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, string(filter.State))
	}
	if !filter.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.To)
	}
	if filter.MinScore > 0 {
		conds = append(conds, "score_value >= ?")
		args = append(args, filter.MinScore)
	}
	if filter.MaxScore > 0 {
		conds = append(conds, "score_value <= ?")
		args = append(args, filter.MaxScore)
	}

	query := `
		SELECT id, subject_id, subject_name, profile, evidence,
		       score, state, narrative, decision,
		       revision, created_at, updated_at
		FROM cases
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, normalizeLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var cases []*domain.Case
	for rows.Next() {
		c, err := s.scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// Transition applies one state-machine edge under optimistic
// concurrency control. The state change and its audit event commit in
// the same transaction; a stale revision aborts with
// ErrConcurrentModification and writes nothing.
func (s *SQLStore) Transition(ctx context.Context, req domain.TransitionRequest) (*domain.Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	c, err := s.getCaseTx(ctx, tx, req.CaseID)
	if err != nil {
		return nil, err
	}

	if req.Event == domain.EventNarrativeFilled && c.State != domain.StateGenerated {
		return nil, fmt.Errorf("%w: case %s is %s", domain.ErrStaleNarrativeFill, c.ID, c.State)
	}

	next, ok := domain.NextState(c.State, req.Event)
	if !ok {
		return nil, fmt.Errorf("%w: %s in state %s", domain.ErrIllegalTransition, req.Event, c.State)
	}

	now := time.Now().UTC()
	applyTransition(c, req, next, now)

	decision, _ := marshalDecision(c.Decision)
	update := `
		UPDATE cases
		SET state = ?, narrative = ?, decision = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ?
	`
	result, err := tx.ExecContext(ctx, s.rebind(update),
		string(c.State), c.Narrative, decision, now, c.ID, c.Revision,
	)
	if err != nil {
		return nil, storageErr(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, storageErr(err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: case %s revision %d", domain.ErrConcurrentModification, c.ID, c.Revision)
	}
	c.Revision++
	c.UpdatedAt = now

	ev := auditForTransition(c, req, now)
	if err := s.insertAudit(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}
	return c, nil
}

// AppendScore records a re-scoring run: replaces the case's latest
// score and appends a scored audit event. Lifecycle state and any
// recorded decision are untouched.
func (s *SQLStore) AppendScore(ctx context.Context, caseID string, result *domain.ScoreResult, actor string) (*domain.Case, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	c, err := s.getCaseTx(ctx, tx, caseID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	score, scoreValue := marshalScore(result)

	update := `
		UPDATE cases
		SET score = ?, score_value = ?, revision = revision + 1, updated_at = ?
		WHERE id = ? AND revision = ?
	`
	res, err := tx.ExecContext(ctx, s.rebind(update), score, scoreValue, now, c.ID, c.Revision)
	if err != nil {
		return nil, storageErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr(err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: case %s revision %d", domain.ErrConcurrentModification, c.ID, c.Revision)
	}

	c.Score = result
	c.Revision++
	c.UpdatedAt = now

	ev := &domain.AuditEvent{
		ID:             uuid.NewString(),
		CaseID:         c.ID,
		Kind:           domain.AuditScored,
		Actor:          actor,
		Payload:        domain.MarshalPayload(domain.ScoredPayload{Score: result.Score, RawScore: result.RawScore, Matches: result.Matches}),
		Typologies:     result.TypologyIDs(),
		RuleSetVersion: result.RuleSetVersion,
		Timestamp:      now,
	}
	if err := s.insertAudit(ctx, tx, ev); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}
	return c, nil
}

// Stats derives aggregate counters from stored cases.
func (s *SQLStore) Stats(ctx context.Context) (*domain.CaseStats, error) {
	stats := &domain.CaseStats{
		ByState:           make(map[domain.CaseState]int),
		TypologyFrequency: make(map[string]int),
		RefreshedAt:       time.Now().UTC(),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM cases GROUP BY state`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, storageErr(err)
		}
		stats.ByState[domain.CaseState(state)] = count
		stats.TotalCases += count
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT AVG(score_value) FROM cases`).Scan(&avg); err != nil {
		return nil, storageErr(err)
	}
	if avg.Valid {
		stats.AverageScore = avg.Float64
	}

	high := `SELECT COUNT(*) FROM cases WHERE score_value >= ?`
	if err := s.db.QueryRowContext(ctx, s.rebind(high), domain.HighRiskThreshold).Scan(&stats.HighRisk); err != nil {
		return nil, storageErr(err)
	}

	// Typology frequency over each case's latest score.
	scoreRows, err := s.db.QueryContext(ctx, `SELECT score FROM cases WHERE score IS NOT NULL AND score != ''`)
	if err != nil {
		return nil, storageErr(err)
	}
	defer scoreRows.Close()
	for scoreRows.Next() {
		var raw string
		if err := scoreRows.Scan(&raw); err != nil {
			return nil, storageErr(err)
		}
		var result domain.ScoreResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			continue
		}
		for _, m := range result.Matches {
			stats.TypologyFrequency[m.RuleID]++
		}
	}
	return stats, scoreRows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var profile, evidence, score, decision string

	err := row.Scan(
		&c.ID, &c.SubjectID, &c.SubjectName,
		&profile, &evidence,
		&score, (*string)(&c.State), &c.Narrative, &decision,
		&c.Revision, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storageErr(err)
	}

	// A row that no longer parses is an infrastructure failure, same
	// as a connection error.
	if err := json.Unmarshal([]byte(profile), &c.Profile); err != nil {
		return nil, storageErr(fmt.Errorf("failed to parse case profile: %w", err))
	}
	if err := json.Unmarshal([]byte(evidence), &c.Evidence); err != nil {
		return nil, storageErr(fmt.Errorf("failed to parse case evidence: %w", err))
	}
	if score != "" {
		c.Score = &domain.ScoreResult{}
		if err := json.Unmarshal([]byte(score), c.Score); err != nil {
			return nil, storageErr(fmt.Errorf("failed to parse case score: %w", err))
		}
	}
	if decision != "" {
		c.Decision = &domain.Decision{}
		if err := json.Unmarshal([]byte(decision), c.Decision); err != nil {
			return nil, storageErr(fmt.Errorf("failed to parse case decision: %w", err))
		}
	}
	return &c, nil
}

func (s *SQLStore) getCaseTx(ctx context.Context, tx *sql.Tx, caseID string) (*domain.Case, error) {
	query := `
		SELECT id, subject_id, subject_name, profile, evidence,
		       score, state, narrative, decision,
		       revision, created_at, updated_at
		FROM cases
		WHERE id = ?
	`
	return s.scanCase(tx.QueryRowContext(ctx, s.rebind(query), caseID))
}

// applyTransition mutates the in-memory case for the requested edge.
func applyTransition(c *domain.Case, req domain.TransitionRequest, next domain.CaseState, now time.Time) {
	switch req.Event {
	case domain.EventNarrativeFilled:
		c.Narrative = req.Narrative
	case domain.EventApprove:
		// An analyst may submit an edited final narrative on approval.
		if req.Narrative != "" {
			c.Narrative = req.Narrative
		}
		c.Decision = &domain.Decision{Outcome: "approved", Reviewer: req.Actor, Comment: req.Comment, At: now}
	case domain.EventReject:
		c.Decision = &domain.Decision{Outcome: "rejected", Reviewer: req.Actor, Comment: req.Comment, At: now}
	case domain.EventReopen:
		c.Decision = nil
	}
	c.State = next
}

// auditKindFor maps a transition event to the audit kind it records.
var auditKindFor = map[domain.CaseEvent]domain.AuditKind{
	domain.EventNarrativeFilled: domain.AuditNarrativeFilled,
	domain.EventOpenReview:      domain.AuditReviewed,
	domain.EventApprove:         domain.AuditApproved,
	domain.EventReject:          domain.AuditRejected,
	domain.EventReopen:          domain.AuditReopened,
	domain.EventArchive:         domain.AuditArchived,
}

func auditForTransition(c *domain.Case, req domain.TransitionRequest, now time.Time) *domain.AuditEvent {
	ev := &domain.AuditEvent{
		ID:        uuid.NewString(),
		CaseID:    c.ID,
		Kind:      auditKindFor[req.Event],
		Actor:     req.Actor,
		Timestamp: now,
	}

	switch req.Event {
	case domain.EventNarrativeFilled:
		ev.Payload = domain.MarshalPayload(domain.NarrativePayload{Length: len(req.Narrative), Source: req.Source})
	case domain.EventApprove:
		ev.Payload = domain.MarshalPayload(domain.DecisionPayload{Comment: req.Comment, EditsMade: req.Narrative != ""})
	case domain.EventReject:
		ev.Payload = domain.MarshalPayload(domain.DecisionPayload{Comment: req.Comment})
	case domain.EventReopen:
		ev.Payload = domain.MarshalPayload(domain.ReopenPayload{Reason: req.Reason})
	}
	return ev
}

func marshalScore(result *domain.ScoreResult) (string, int) {
	if result == nil {
		return "", 0
	}
	data, _ := json.Marshal(result)
	return string(data), result.Score
}

func marshalDecision(d *domain.Decision) (string, error) {
	if d == nil {
		return "", nil
	}
	data, err := json.Marshal(d)
	return string(data), err
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

// storageErr wraps infrastructure failures in the storage sentinel so
// callers can distinguish them from domain outcomes.
func storageErr(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
