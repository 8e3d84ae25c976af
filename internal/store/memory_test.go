package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestMemoryStoreLifecycle(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	c, scored := newTestCase("case-001", 85)
	if err := s.CreateCase(ctx, c, scored); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	got, err := s.GetCase(ctx, "case-001")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if got.State != domain.StateGenerated {
		t.Errorf("expected generated, got %s", got.State)
	}

	if _, err := s.Transition(ctx, domain.TransitionRequest{CaseID: "case-001", Event: domain.EventNarrativeFilled, Actor: domain.ActorSystem, Narrative: "draft"}); err != nil {
		t.Fatalf("narrative_filled: %v", err)
	}
	if _, err := s.Transition(ctx, domain.TransitionRequest{CaseID: "case-001", Event: domain.EventOpenReview, Actor: "analyst-1"}); err != nil {
		t.Fatalf("open_review: %v", err)
	}
	final, err := s.Transition(ctx, domain.TransitionRequest{CaseID: "case-001", Event: domain.EventApprove, Actor: "analyst-1", Comment: "ok"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if final.State != domain.StateApproved {
		t.Errorf("expected approved, got %s", final.State)
	}

	events, err := s.ByCase(ctx, "case-001")
	if err != nil {
		t.Fatalf("ByCase: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	state, err := domain.ReplayState(events)
	if err != nil {
		t.Fatalf("ReplayState: %v", err)
	}
	if state != domain.StateApproved {
		t.Errorf("replayed %s, want approved", state)
	}
}

func TestMemoryStoreConcurrentTransitions(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	c, scored := newTestCase("case-002", 85)
	if err := s.CreateCase(ctx, c, scored); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, err := s.Transition(ctx, domain.TransitionRequest{
				CaseID:    "case-002",
				Event:     domain.EventNarrativeFilled,
				Actor:     domain.ActorSystem,
				Narrative: "draft",
			})
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrConcurrentModification), errors.Is(err, domain.ErrStaleNarrativeFill):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly 1 winner, got %d", succeeded)
	}

	got, _ := s.GetCase(ctx, "case-002")
	if got.Revision != 1 {
		t.Errorf("expected revision 1, got %d", got.Revision)
	}
	events, _ := s.ByCase(ctx, "case-002")
	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
}

func TestMemoryStoreIsolation(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	c, scored := newTestCase("case-003", 40)
	if err := s.CreateCase(ctx, c, scored); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	// Mutating a returned case must not affect the stored copy.
	got, _ := s.GetCase(ctx, "case-003")
	got.State = domain.StateArchived
	got.Narrative = "tampered"

	fresh, _ := s.GetCase(ctx, "case-003")
	if fresh.State != domain.StateGenerated || fresh.Narrative != "" {
		t.Errorf("stored case was mutated through a returned copy")
	}
}

func TestMemoryStoreStats(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for _, tc := range []struct {
		id    string
		score int
	}{
		{"case-a", 20},
		{"case-b", 85},
	} {
		c, scored := newTestCase(tc.id, tc.score)
		if err := s.CreateCase(ctx, c, scored); err != nil {
			t.Fatalf("CreateCase: %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalCases != 2 {
		t.Errorf("expected 2 cases, got %d", stats.TotalCases)
	}
	if stats.HighRisk != 1 {
		t.Errorf("expected 1 high-risk case, got %d", stats.HighRisk)
	}
	if stats.AverageScore != 52.5 {
		t.Errorf("expected average 52.5, got %.2f", stats.AverageScore)
	}
}
