package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuditKind identifies what an audit event records.
type AuditKind string

const (
	AuditScored          AuditKind = "scored"
	AuditNarrativeFilled AuditKind = "narrative_filled"
	AuditReviewed        AuditKind = "reviewed"
	AuditApproved        AuditKind = "approved"
	AuditRejected        AuditKind = "rejected"
	AuditReopened        AuditKind = "reopened"
	AuditArchived        AuditKind = "archived"
)

// ActorSystem is the actor identity for events the engine itself emits.
const ActorSystem = "system"

// AuditEvent is one immutable fact in the append-only trail. Events
// are never updated or removed; any correction is itself a new event.
type AuditEvent struct {
	ID string `json:"id"`

	// Seq is assigned by the store on append and orders events for a
	// case deterministically even when wall-clock timestamps collide.
	Seq int64 `json:"seq"`

	CaseID string    `json:"caseId"`
	Kind   AuditKind `json:"kind"`

	// Actor is "system" or the analyst identity.
	Actor string `json:"actor"`

	// Payload carries the data relevant to the kind: score snapshot,
	// reviewer comment, reopen reason.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Typologies lists matched rule IDs for scored events, denormalized
	// for the by-typology compliance query.
	Typologies []string `json:"typologies,omitempty"`

	// RuleSetVersion is set on scored events.
	RuleSetVersion string `json:"ruleSetVersion,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// ScoredPayload is the payload for scored events.
type ScoredPayload struct {
	Score    int             `json:"score"`
	RawScore int             `json:"rawScore"`
	Matches  []TypologyMatch `json:"matches"`
}

// NarrativePayload is the payload for narrative_filled events. The
// text itself lives on the case; the trail records its shape.
type NarrativePayload struct {
	Length int    `json:"length"`
	Source string `json:"source,omitempty"`
}

// DecisionPayload is the payload for approved and rejected events.
type DecisionPayload struct {
	Comment   string `json:"comment,omitempty"`
	EditsMade bool   `json:"editsMade,omitempty"`
}

// ReopenPayload is the payload for reopened events. Reason is the
// mandatory supervisory override justification.
type ReopenPayload struct {
	Reason string `json:"reason"`
}

// MarshalPayload encodes a typed payload for an AuditEvent.
func MarshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Payload types are plain structs; this cannot fail at runtime.
		return json.RawMessage("{}")
	}
	return data
}

// eventState maps an audit kind to the case state it evidences.
var eventState = map[AuditKind]CaseState{
	AuditScored:          StateGenerated,
	AuditNarrativeFilled: StateNarrativeReady,
	AuditReviewed:        StateUnderReview,
	AuditApproved:        StateApproved,
	AuditRejected:        StateRejected,
	AuditReopened:        StateUnderReview,
	AuditArchived:        StateArchived,
}

// ReplayState folds a case's audit events, in order, into the state
// the case must currently be in. The current state is always a
// provable function of the log; this is used after a crash to verify
// no transition committed without its audit evidence.
func ReplayState(events []*AuditEvent) (CaseState, error) {
	if len(events) == 0 {
		return "", fmt.Errorf("replay: no events")
	}
	if events[0].Kind != AuditScored {
		return "", fmt.Errorf("replay: first event is %q, want %q", events[0].Kind, AuditScored)
	}

	state := StateGenerated
	for _, ev := range events[1:] {
		next, ok := eventState[ev.Kind]
		if !ok {
			return "", fmt.Errorf("replay: unknown event kind %q", ev.Kind)
		}
		// Re-scores append evidence but never move the case.
		if ev.Kind == AuditScored {
			continue
		}
		state = next
	}
	return state, nil
}
