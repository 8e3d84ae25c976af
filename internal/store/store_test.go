package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	s, err := New(domain.StoreConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestCase(id string, score int) (*domain.Case, *domain.AuditEvent) {
	now := time.Now().UTC()
	result := &domain.ScoreResult{
		Score:    score,
		RawScore: score,
		Matches: []domain.TypologyMatch{
			{RuleID: "structuring-inbound", Name: "Structuring / smurfing", Contribution: score, Rationale: "test"},
		},
		RuleSetVersion: "v-test",
	}
	c := &domain.Case{
		ID:        id,
		SubjectID: "cust-001",
		Profile:   domain.CustomerProfile{CustomerID: "cust-001", AccountID: "acct-001", RiskTier: "medium"},
		Evidence: []domain.TransactionEvidence{
			{
				ID: "tx-001", Amount: 950, Currency: "USD",
				OriginAccountID: "acct-x", DestinationAccountID: "acct-001",
				Channel: domain.ChannelWire, Timestamp: now,
			},
		},
		Score:     result,
		State:     domain.StateGenerated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	scored := &domain.AuditEvent{
		ID:             uuid.NewString(),
		CaseID:         id,
		Kind:           domain.AuditScored,
		Actor:          domain.ActorSystem,
		Payload:        domain.MarshalPayload(domain.ScoredPayload{Score: score, RawScore: score, Matches: result.Matches}),
		Typologies:     result.TypologyIDs(),
		RuleSetVersion: result.RuleSetVersion,
		Timestamp:      now,
	}
	return c, scored
}

func TestSQLStoreCorruptRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, scored := newTestCase("case-corrupt", 40)
	if err := s.CreateCase(ctx, c, scored); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE cases SET profile = 'not json' WHERE id = 'case-corrupt'`); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	_, err := s.GetCase(ctx, "case-corrupt")
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable for unparseable row, got %v", err)
	}
}

func TestSQLStoreCaseLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, scored := newTestCase("case-001", 85)
	if err := s.CreateCase(ctx, c, scored); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	t.Run("GetCase", func(t *testing.T) {
		got, err := s.GetCase(ctx, "case-001")
		if err != nil {
			t.Fatalf("GetCase: %v", err)
		}
		if got.State != domain.StateGenerated {
			t.Errorf("expected state generated, got %s", got.State)
		}
		if got.Score == nil || got.Score.Score != 85 {
			t.Errorf("expected score 85, got %+v", got.Score)
		}
		if got.Profile.CustomerID != "cust-001" {
			t.Errorf("profile did not round-trip")
		}
		if len(got.Evidence) != 1 {
			t.Errorf("evidence did not round-trip")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.GetCase(ctx, "nonexistent")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("FullLifecycle", func(t *testing.T) {
		steps := []struct {
			req       domain.TransitionRequest
			wantState domain.CaseState
		}{
			{domain.TransitionRequest{CaseID: "case-001", Event: domain.EventNarrativeFilled, Actor: domain.ActorSystem, Narrative: "Draft narrative.", Source: "template"}, domain.StateNarrativeReady},
			{domain.TransitionRequest{CaseID: "case-001", Event: domain.EventOpenReview, Actor: "analyst-1"}, domain.StateUnderReview},
			{domain.TransitionRequest{CaseID: "case-001", Event: domain.EventApprove, Actor: "analyst-1", Comment: "confirmed", Narrative: "Edited final narrative."}, domain.StateApproved},
		}

		for _, step := range steps {
			got, err := s.Transition(ctx, step.req)
			if err != nil {
				t.Fatalf("Transition %s: %v", step.req.Event, err)
			}
			if got.State != step.wantState {
				t.Fatalf("after %s: expected %s, got %s", step.req.Event, step.wantState, got.State)
			}
		}

		got, err := s.GetCase(ctx, "case-001")
		if err != nil {
			t.Fatalf("GetCase: %v", err)
		}
		if got.Narrative != "Edited final narrative." {
			t.Errorf("approve must persist the edited narrative, got %q", got.Narrative)
		}
		if got.Decision == nil || got.Decision.Outcome != "approved" || got.Decision.Reviewer != "analyst-1" {
			t.Errorf("decision did not persist: %+v", got.Decision)
		}
		if got.Revision != 3 {
			t.Errorf("expected revision 3 after three transitions, got %d", got.Revision)
		}
	})

	t.Run("IllegalTransition", func(t *testing.T) {
		// Case is approved; open_review is not a legal edge from there.
		_, err := s.Transition(ctx, domain.TransitionRequest{CaseID: "case-001", Event: domain.EventOpenReview, Actor: "analyst-1"})
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("expected ErrIllegalTransition, got %v", err)
		}
	})

	t.Run("StaleNarrativeFill", func(t *testing.T) {
		_, err := s.Transition(ctx, domain.TransitionRequest{CaseID: "case-001", Event: domain.EventNarrativeFilled, Actor: domain.ActorSystem, Narrative: "late draft"})
		if !errors.Is(err, domain.ErrStaleNarrativeFill) {
			t.Errorf("expected ErrStaleNarrativeFill, got %v", err)
		}
	})

	t.Run("ReopenAndArchive", func(t *testing.T) {
		got, err := s.Transition(ctx, domain.TransitionRequest{CaseID: "case-001", Event: domain.EventReopen, Actor: "supervisor-1", Reason: "new evidence"})
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		if got.State != domain.StateUnderReview {
			t.Errorf("expected under_review after reopen, got %s", got.State)
		}
		if got.Decision != nil {
			t.Errorf("reopen must clear the prior decision")
		}

		if _, err := s.Transition(ctx, domain.TransitionRequest{CaseID: "case-001", Event: domain.EventReject, Actor: "supervisor-1", Comment: "false positive"}); err != nil {
			t.Fatalf("reject: %v", err)
		}
		got, err = s.Transition(ctx, domain.TransitionRequest{CaseID: "case-001", Event: domain.EventArchive, Actor: "supervisor-1"})
		if err != nil {
			t.Fatalf("archive: %v", err)
		}
		if got.State != domain.StateArchived {
			t.Errorf("expected archived, got %s", got.State)
		}

		// Archived is terminal.
		_, err = s.Transition(ctx, domain.TransitionRequest{CaseID: "case-001", Event: domain.EventReopen, Actor: "supervisor-1", Reason: "again"})
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("expected ErrIllegalTransition from archived, got %v", err)
		}
	})

	t.Run("AuditTrailReplay", func(t *testing.T) {
		events, err := s.ByCase(ctx, "case-001")
		if err != nil {
			t.Fatalf("ByCase: %v", err)
		}
		// scored, narrative_filled, reviewed, approved, reopened, rejected, archived
		if len(events) != 7 {
			t.Fatalf("expected 7 events, got %d", len(events))
		}
		for i := 1; i < len(events); i++ {
			if events[i].Seq <= events[i-1].Seq {
				t.Errorf("events out of sequence order at %d", i)
			}
		}

		state, err := domain.ReplayState(events)
		if err != nil {
			t.Fatalf("ReplayState: %v", err)
		}
		got, _ := s.GetCase(ctx, "case-001")
		if state != got.State {
			t.Errorf("replayed state %s does not match stored state %s", state, got.State)
		}
	})
}

func TestSQLStoreAppendScore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, scored := newTestCase("case-002", 40)
	if err := s.CreateCase(ctx, c, scored); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	rescored := &domain.ScoreResult{
		Score:    60,
		RawScore: 60,
		Matches: []domain.TypologyMatch{
			{RuleID: "profile-deviation", Name: "Activity inconsistent with profile", Contribution: 60, Rationale: "test"},
		},
		RuleSetVersion: "v-test-2",
	}

	got, err := s.AppendScore(ctx, "case-002", rescored, domain.ActorSystem)
	if err != nil {
		t.Fatalf("AppendScore: %v", err)
	}
	if got.Score.Score != 60 {
		t.Errorf("expected updated score 60, got %d", got.Score.Score)
	}
	if got.State != domain.StateGenerated {
		t.Errorf("re-score must not change lifecycle state, got %s", got.State)
	}

	events, err := s.ByCase(ctx, "case-002")
	if err != nil {
		t.Fatalf("ByCase: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 scored events, got %d", len(events))
	}
	if events[1].RuleSetVersion != "v-test-2" {
		t.Errorf("second scored event must carry the new rule-set version")
	}

	// Both scoring runs remain in the trail.
	state, err := domain.ReplayState(events)
	if err != nil {
		t.Fatalf("ReplayState: %v", err)
	}
	if state != domain.StateGenerated {
		t.Errorf("replay with re-scores must stay generated, got %s", state)
	}
}

func TestSQLStoreConcurrentTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, scored := newTestCase("case-003", 85)
	if err := s.CreateCase(ctx, c, scored); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := s.Transition(ctx, domain.TransitionRequest{
				CaseID:    "case-003",
				Event:     domain.EventNarrativeFilled,
				Actor:     domain.ActorSystem,
				Narrative: fmt.Sprintf("draft %d", idx),
			})
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrConcurrentModification), errors.Is(err, domain.ErrStaleNarrativeFill):
			conflicted++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly 1 winner, got %d", succeeded)
	}
	if conflicted != attempts-1 {
		t.Errorf("expected %d losers, got %d", attempts-1, conflicted)
	}

	got, err := s.GetCase(ctx, "case-003")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if got.State != domain.StateNarrativeReady {
		t.Errorf("expected narrative_ready, got %s", got.State)
	}
	if got.Revision != 1 {
		t.Errorf("expected exactly one committed write, revision is %d", got.Revision)
	}

	events, _ := s.ByCase(ctx, "case-003")
	if len(events) != 2 {
		t.Errorf("losers must leave no audit evidence: expected 2 events, got %d", len(events))
	}
}

func TestSQLStoreListCases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, score := range []int{20, 50, 85} {
		c, scored := newTestCase(fmt.Sprintf("case-%03d", i), score)
		if err := s.CreateCase(ctx, c, scored); err != nil {
			t.Fatalf("CreateCase: %v", err)
		}
	}

	t.Run("All", func(t *testing.T) {
		cases, err := s.ListCases(ctx, domain.CaseFilter{})
		if err != nil {
			t.Fatalf("ListCases: %v", err)
		}
		if len(cases) != 3 {
			t.Errorf("expected 3 cases, got %d", len(cases))
		}
	})

	t.Run("MinScore", func(t *testing.T) {
		cases, err := s.ListCases(ctx, domain.CaseFilter{MinScore: 50})
		if err != nil {
			t.Fatalf("ListCases: %v", err)
		}
		if len(cases) != 2 {
			t.Errorf("expected 2 cases with score >= 50, got %d", len(cases))
		}
	})

	t.Run("ByState", func(t *testing.T) {
		cases, err := s.ListCases(ctx, domain.CaseFilter{State: domain.StateGenerated})
		if err != nil {
			t.Fatalf("ListCases: %v", err)
		}
		if len(cases) != 3 {
			t.Errorf("expected 3 generated cases, got %d", len(cases))
		}
		cases, err = s.ListCases(ctx, domain.CaseFilter{State: domain.StateApproved})
		if err != nil {
			t.Fatalf("ListCases: %v", err)
		}
		if len(cases) != 0 {
			t.Errorf("expected no approved cases, got %d", len(cases))
		}
	})

	t.Run("Limit", func(t *testing.T) {
		cases, err := s.ListCases(ctx, domain.CaseFilter{Limit: 2})
		if err != nil {
			t.Fatalf("ListCases: %v", err)
		}
		if len(cases) != 2 {
			t.Errorf("expected 2 cases, got %d", len(cases))
		}
	})
}

func TestSQLStoreStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, score := range []int{20, 85, 90} {
		c, scored := newTestCase(fmt.Sprintf("case-%03d", i), score)
		if err := s.CreateCase(ctx, c, scored); err != nil {
			t.Fatalf("CreateCase: %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalCases != 3 {
		t.Errorf("expected 3 total cases, got %d", stats.TotalCases)
	}
	if stats.ByState[domain.StateGenerated] != 3 {
		t.Errorf("expected 3 generated, got %d", stats.ByState[domain.StateGenerated])
	}
	if stats.HighRisk != 2 {
		t.Errorf("expected 2 high-risk cases, got %d", stats.HighRisk)
	}
	wantAvg := float64(20+85+90) / 3
	if stats.AverageScore != wantAvg {
		t.Errorf("expected average %.2f, got %.2f", wantAvg, stats.AverageScore)
	}
	if stats.TypologyFrequency["structuring-inbound"] != 3 {
		t.Errorf("expected typology frequency 3, got %d", stats.TypologyFrequency["structuring-inbound"])
	}
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := New(domain.StoreConfig{Driver: "mysql"})
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	s := &SQLStore{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := s.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
