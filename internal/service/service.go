// Package service orchestrates the case pipeline: scoring evidence
// into cases, moving them through review and exposing audit queries.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// ErrInvalidRequest marks caller mistakes that are not evidence
// validation failures, such as a reopen without a reason.
var ErrInvalidRequest = errors.New("invalid request")

// Service is the application core behind the HTTP API and the async
// workers. All case writes flow through it.
type Service struct {
	store    domain.CaseStore
	trail    domain.AuditTrail
	registry *scoring.Registry
	cache    domain.Cache
	bus      domain.EventBus
}

// New creates the case service.
func New(store domain.CaseStore, trail domain.AuditTrail, registry *scoring.Registry, cache domain.Cache, bus domain.EventBus) *Service {
	return &Service{
		store:    store,
		trail:    trail,
		registry: registry,
		cache:    cache,
		bus:      bus,
	}
}

// SubmitRequest carries an evidence bundle for case creation.
type SubmitRequest struct {
	SubjectID   string                       `json:"subjectId"`
	SubjectName string                       `json:"subjectName,omitempty"`
	Profile     domain.CustomerProfile       `json:"profile"`
	Evidence    []domain.TransactionEvidence `json:"evidence"`
}

// caseEventMessage is the bus payload for case lifecycle topics.
type caseEventMessage struct {
	CaseID         string `json:"caseId"`
	State          string `json:"state"`
	Score          int    `json:"score"`
	RuleSetVersion string `json:"ruleSetVersion,omitempty"`
}

// SubmitEvidence scores an evidence bundle against the active rule-set
// snapshot and opens a case in the generated state. The case row and
// its scored audit event commit atomically.
func (s *Service) SubmitEvidence(ctx context.Context, req SubmitRequest) (*domain.Case, error) {
	if req.SubjectID == "" {
		return nil, fmt.Errorf("%w: subjectId is required", ErrInvalidRequest)
	}

	snap := s.registry.Current()
	result, err := scoring.Score(snap, req.Evidence, &req.Profile)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	c := &domain.Case{
		ID:          uuid.NewString(),
		SubjectID:   req.SubjectID,
		SubjectName: req.SubjectName,
		Profile:     req.Profile,
		Evidence:    req.Evidence,
		Score:       result,
		State:       domain.StateGenerated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	scored := &domain.AuditEvent{
		ID:     uuid.NewString(),
		CaseID: c.ID,
		Kind:   domain.AuditScored,
		Actor:  domain.ActorSystem,
		Payload: domain.MarshalPayload(domain.ScoredPayload{
			Score:    result.Score,
			RawScore: result.RawScore,
			Matches:  result.Matches,
		}),
		Typologies:     result.TypologyIDs(),
		RuleSetVersion: result.RuleSetVersion,
		Timestamp:      now,
	}

	if err := s.store.CreateCase(ctx, c, scored); err != nil {
		return nil, err
	}

	slog.Info("case created",
		"case_id", c.ID,
		"subject_id", c.SubjectID,
		"score", result.Score,
		"matches", len(result.Matches),
		"rule_set_version", result.RuleSetVersion,
	)

	s.publish(ctx, domain.TopicCaseScored, c, result)
	if result.Score >= domain.HighRiskThreshold {
		s.publish(ctx, domain.TopicCaseAlert, c, result)
	}

	return c, nil
}

// Rescore re-runs scoring for a case against the active snapshot. The
// new result replaces the case's latest score; the previous run stays
// in the audit trail and past decisions are untouched.
func (s *Service) Rescore(ctx context.Context, caseID, actor string) (*domain.Case, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	snap := s.registry.Current()
	result, err := scoring.Score(snap, c.Evidence, &c.Profile)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.AppendScore(ctx, caseID, result, actorOrSystem(actor))
	if err != nil {
		return nil, err
	}

	slog.Info("case re-scored",
		"case_id", caseID,
		"score", result.Score,
		"rule_set_version", result.RuleSetVersion,
	)

	s.publish(ctx, domain.TopicCaseScored, updated, result)
	return updated, nil
}

// AttachNarrative records a generated draft and moves the case to
// narrative_ready. Fails with ErrStaleNarrativeFill if the case has
// already moved on.
func (s *Service) AttachNarrative(ctx context.Context, caseID, text, source string) (*domain.Case, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: narrative text is required", ErrInvalidRequest)
	}

	c, err := s.store.Transition(ctx, domain.TransitionRequest{
		CaseID:    caseID,
		Event:     domain.EventNarrativeFilled,
		Actor:     domain.ActorSystem,
		Narrative: text,
		Source:    source,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, domain.TopicCaseNarrativeReady, c, c.Score)
	return c, nil
}

// OpenReview moves a narrative_ready case to under_review.
func (s *Service) OpenReview(ctx context.Context, caseID, actor string) (*domain.Case, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	}
	return s.store.Transition(ctx, domain.TransitionRequest{
		CaseID: caseID,
		Event:  domain.EventOpenReview,
		Actor:  actor,
	})
}

// Approve records an approval decision. The analyst may submit an
// edited final narrative, which replaces the generated draft and is
// flagged in the audit payload.
func (s *Service) Approve(ctx context.Context, caseID, actor, comment, editedNarrative string) (*domain.Case, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	}
	c, err := s.store.Transition(ctx, domain.TransitionRequest{
		CaseID:    caseID,
		Event:     domain.EventApprove,
		Actor:     actor,
		Comment:   comment,
		Narrative: editedNarrative,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("case approved", "case_id", caseID, "reviewer", actor, "edited", editedNarrative != "")
	s.publish(ctx, domain.TopicCaseDecided, c, c.Score)
	return c, nil
}

// Reject records a rejection decision.
func (s *Service) Reject(ctx context.Context, caseID, actor, comment string) (*domain.Case, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	}
	c, err := s.store.Transition(ctx, domain.TransitionRequest{
		CaseID:  caseID,
		Event:   domain.EventReject,
		Actor:   actor,
		Comment: comment,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("case rejected", "case_id", caseID, "reviewer", actor)
	s.publish(ctx, domain.TopicCaseDecided, c, c.Score)
	return c, nil
}

// Reopen moves a decided case back to under_review. The supervisory
// reason is mandatory and is recorded in the audit trail.
func (s *Service) Reopen(ctx context.Context, caseID, actor, reason string) (*domain.Case, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: reopen requires a reason", ErrInvalidRequest)
	}
	c, err := s.store.Transition(ctx, domain.TransitionRequest{
		CaseID: caseID,
		Event:  domain.EventReopen,
		Actor:  actor,
		Reason: reason,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("case reopened", "case_id", caseID, "actor", actor)
	return c, nil
}

// Archive moves a decided case to the terminal archived state.
func (s *Service) Archive(ctx context.Context, caseID, actor string) (*domain.Case, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidRequest)
	}
	return s.store.Transition(ctx, domain.TransitionRequest{
		CaseID: caseID,
		Event:  domain.EventArchive,
		Actor:  actor,
	})
}

// GetCase retrieves a case by ID.
func (s *Service) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	return s.store.GetCase(ctx, caseID)
}

// ListCases retrieves cases matching the filter.
func (s *Service) ListCases(ctx context.Context, filter domain.CaseFilter) ([]*domain.Case, error) {
	return s.store.ListCases(ctx, filter)
}

// CaseAudit returns a case's full audit trail in sequence order.
func (s *Service) CaseAudit(ctx context.Context, caseID string) ([]*domain.AuditEvent, error) {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	return s.trail.ByCase(ctx, caseID)
}

// AuditByActor returns an actor's recent audit events.
func (s *Service) AuditByActor(ctx context.Context, actor string, limit int) ([]*domain.AuditEvent, error) {
	return s.trail.ByActor(ctx, actor, limit)
}

// AuditByDateRange returns audit events within a time window.
func (s *Service) AuditByDateRange(ctx context.Context, from, to time.Time, limit int) ([]*domain.AuditEvent, error) {
	return s.trail.ByDateRange(ctx, from, to, limit)
}

// AuditByTypology returns scored events that matched a typology rule.
func (s *Service) AuditByTypology(ctx context.Context, typologyID string, limit int) ([]*domain.AuditEvent, error) {
	return s.trail.ByTypology(ctx, typologyID, limit)
}

// RuleSet returns the active rule set.
func (s *Service) RuleSet() *domain.RuleSet {
	return s.registry.Current().RuleSet()
}

// ReloadRules compiles and activates a new rule set. In-flight scoring
// keeps its snapshot; subsequent calls see the new version.
func (s *Service) ReloadRules(rs *domain.RuleSet) error {
	if err := s.registry.Reload(rs); err != nil {
		return err
	}
	slog.Info("rule set reloaded",
		"version", rs.Version,
		"rules", len(rs.Rules),
	)
	return nil
}

// Ping reports backend health.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) publish(ctx context.Context, topic string, c *domain.Case, result *domain.ScoreResult) {
	if s.bus == nil {
		return
	}
	msg := caseEventMessage{CaseID: c.ID, State: string(c.State)}
	if result != nil {
		msg.Score = result.Score
		msg.RuleSetVersion = result.RuleSetVersion
	}
	payload, _ := json.Marshal(msg)
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish case event",
			"topic", topic,
			"case_id", c.ID,
			"error", err,
		)
	}
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return domain.ActorSystem
	}
	return actor
}
