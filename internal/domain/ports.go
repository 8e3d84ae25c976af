package domain

import (
	"context"
	"time"
)

// CaseStore owns case records and their lifecycle. It is the only
// writer of case state, and it guarantees that a state change and its
// audit event either both persist or neither does.
type CaseStore interface {
	// CreateCase persists a new case in the generated state together
	// with its initial scored audit event, atomically.
	CreateCase(ctx context.Context, c *Case, scored *AuditEvent) error

	GetCase(ctx context.Context, caseID string) (*Case, error)
	ListCases(ctx context.Context, filter CaseFilter) ([]*Case, error)

	// Transition applies one state-machine edge. Illegal edges fail
	// with ErrIllegalTransition; losing a per-case write race fails
	// with ErrConcurrentModification. Both leave the case and the
	// audit trail untouched.
	Transition(ctx context.Context, req TransitionRequest) (*Case, error)

	// AppendScore records a re-scoring run: updates the case's latest
	// ScoreResult and appends a scored audit event without touching
	// lifecycle state. Past analyst decisions are never invalidated
	// by a later re-score.
	AppendScore(ctx context.Context, caseID string, result *ScoreResult, actor string) (*Case, error)

	// Stats derives aggregate counters from stored cases and audit
	// events, read-only.
	Stats(ctx context.Context) (*CaseStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// TransitionRequest carries one transition attempt.
type TransitionRequest struct {
	CaseID string
	Event  CaseEvent
	Actor  string

	// Comment accompanies approve/reject decisions.
	Comment string

	// Reason is the mandatory supervisory override for reopen.
	Reason string

	// Narrative carries the draft text for narrative_filled, or an
	// analyst-edited final text on approve.
	Narrative string

	// Source identifies the narrative generator, recorded in the
	// audit payload.
	Source string
}

// AuditTrail is the append-only event log. No update or delete exists
// in this contract; corrections are new events.
type AuditTrail interface {
	// Append persists one event. Fails only with ErrStorageUnavailable.
	Append(ctx context.Context, ev *AuditEvent) error

	// ByCase returns a case's events in sequence order. Replaying
	// them reconstructs the case's current state.
	ByCase(ctx context.Context, caseID string) ([]*AuditEvent, error)

	// Compliance reporting queries. All read-only, all returning
	// deterministic order for identical inputs.
	ByActor(ctx context.Context, actor string, limit int) ([]*AuditEvent, error)
	ByDateRange(ctx context.Context, from, to time.Time, limit int) ([]*AuditEvent, error)
	ByTypology(ctx context.Context, typologyID string, limit int) ([]*AuditEvent, error)
}

// NarrativeGenerator is the boundary to the excluded narrative
// subsystem: given a scored case it returns draft prose or fails with
// ErrGenerationFailed. The core never retries this itself.
type NarrativeGenerator interface {
	Generate(ctx context.Context, c *Case) (string, error)

	// Name identifies the generator in audit payloads.
	Name() string
}

// Cache is the read-side cache used for aggregate statistics.
type Cache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// EventBus decouples the core from the orchestration glue that reacts
// to case events (narrative fill, alerting, downstream feeds).
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming bus messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is an event bus envelope.
type Message struct {
	ID        string `json:"id"`
	Topic     string `json:"topic"`
	Payload   []byte `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Subscription is an active bus subscription.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// Bus topics for the case pipeline.
const (
	TopicCaseScored         = "harrier.case.scored"
	TopicCaseNarrativeReady = "harrier.case.narrative_ready"
	TopicCaseDecided        = "harrier.case.decided"
	TopicCaseAlert          = "harrier.case.alert"
)

// CaseStats is the dashboard aggregate, derivable entirely from stored
// cases and audit events.
type CaseStats struct {
	TotalCases        int               `json:"totalCases"`
	ByState           map[CaseState]int `json:"byState"`
	AverageScore      float64           `json:"averageScore"`
	HighRisk          int               `json:"highRisk"`
	TypologyFrequency map[string]int    `json:"typologyFrequency"`
	RefreshedAt       time.Time         `json:"refreshedAt"`
}

// HighRiskThreshold is the score at or above which a case counts as
// high risk in the dashboard stats.
const HighRiskThreshold = 70
