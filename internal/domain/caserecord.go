package domain

import (
	"time"
)

// CaseState is a lifecycle state of a compliance case.
type CaseState string

const (
	// StateGenerated: scored, no narrative yet.
	StateGenerated CaseState = "generated"

	// StateNarrativeReady: the external generator filled the draft.
	StateNarrativeReady CaseState = "narrative_ready"

	// StateUnderReview: an analyst opened the case.
	StateUnderReview CaseState = "under_review"

	// StateApproved and StateRejected are terminal unless reopened.
	StateApproved CaseState = "approved"
	StateRejected CaseState = "rejected"

	// StateArchived is terminal: no further transitions.
	StateArchived CaseState = "archived"
)

// CaseEvent is a transition trigger applied to a case.
type CaseEvent string

const (
	EventNarrativeFilled CaseEvent = "narrative_filled"
	EventOpenReview      CaseEvent = "open_review"
	EventApprove         CaseEvent = "approve"
	EventReject          CaseEvent = "reject"
	EventReopen          CaseEvent = "reopen"
	EventArchive         CaseEvent = "archive"
)

// transitions is the legal edge table. Any (state, event) pair not
// listed here fails with ErrIllegalTransition and leaves the case and
// its audit trail unchanged.
var transitions = map[CaseState]map[CaseEvent]CaseState{
	StateGenerated: {
		EventNarrativeFilled: StateNarrativeReady,
	},
	StateNarrativeReady: {
		EventOpenReview: StateUnderReview,
	},
	StateUnderReview: {
		EventApprove: StateApproved,
		EventReject:  StateRejected,
	},
	StateApproved: {
		EventReopen:  StateUnderReview,
		EventArchive: StateArchived,
	},
	StateRejected: {
		EventReopen:  StateUnderReview,
		EventArchive: StateArchived,
	},
}

// NextState returns the target state for applying event in from,
// or false if the edge is not in the transition table.
func NextState(from CaseState, event CaseEvent) (CaseState, bool) {
	next, ok := transitions[from][event]
	return next, ok
}

// Terminal reports whether no transition leaves the state.
func (s CaseState) Terminal() bool {
	return len(transitions[s]) == 0
}

// Decision records the analyst outcome on a case.
type Decision struct {
	// Outcome mirrors the terminal review state: "approved" or "rejected".
	Outcome  string    `json:"outcome"`
	Reviewer string    `json:"reviewer"`
	Comment  string    `json:"comment,omitempty"`
	At       time.Time `json:"at"`
}

// Case is the unit of review: evidence, latest score, narrative and
// decision state. Owned exclusively by the case store; no other
// component mutates it.
type Case struct {
	ID string `json:"id"`

	// Subject
	SubjectID   string          `json:"subjectId"`
	SubjectName string          `json:"subjectName,omitempty"`
	Profile     CustomerProfile `json:"profile"`

	// Evidence bundle, immutable after creation.
	Evidence []TransactionEvidence `json:"evidence"`

	// Score is the latest ScoreResult. Historical runs live in the
	// audit trail as `scored` events.
	Score *ScoreResult `json:"score,omitempty"`

	State CaseState `json:"state"`

	// Narrative is empty until the external generator fills it.
	Narrative string `json:"narrative,omitempty"`

	Decision *Decision `json:"decision,omitempty"`

	// Revision guards concurrent transitions: every successful write
	// increments it, and a stale writer loses with
	// ErrConcurrentModification.
	Revision int64 `json:"revision"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CaseFilter narrows ListCases.
type CaseFilter struct {
	State    CaseState
	From     time.Time
	To       time.Time
	MinScore int
	MaxScore int // 0 means no upper bound
	Limit    int
}
