package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/syncutil"
)

// MemoryStore is an in-memory implementation of domain.CaseStore and
// domain.AuditTrail for tests and ephemeral deployments. It enforces
// the same optimistic concurrency semantics as the SQL store: a writer
// that raced on a case loses with ErrConcurrentModification.
type MemoryStore struct {
	locks syncutil.ShardedMutex

	mu     sync.RWMutex
	cases  map[string]*domain.Case
	events []*domain.AuditEvent
	seq    int64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*domain.Case)}
}

func (s *MemoryStore) CreateCase(ctx context.Context, c *domain.Case, scored *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.ID]; exists {
		return fmt.Errorf("%w: case %s already exists", domain.ErrStorageUnavailable, c.ID)
	}
	s.cases[c.ID] = cloneCase(c)
	s.appendLocked(scored)
	return nil
}

func (s *MemoryStore) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneCase(c), nil
}

func (s *MemoryStore) ListCases(ctx context.Context, filter domain.CaseFilter) ([]*domain.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Case
	for _, c := range s.cases {
		if filter.State != "" && c.State != filter.State {
			continue
		}
		if !filter.From.IsZero() && c.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && c.CreatedAt.After(filter.To) {
			continue
		}
		score := 0
		if c.Score != nil {
			score = c.Score.Score
		}
		if filter.MinScore > 0 && score < filter.MinScore {
			continue
		}
		if filter.MaxScore > 0 && score > filter.MaxScore {
			continue
		}
		out = append(out, cloneCase(c))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit := normalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Transition(ctx context.Context, req domain.TransitionRequest) (*domain.Case, error) {
	// Snapshot the case to validate against, mirroring the read phase
	// of the SQL store's transaction.
	snap, err := s.GetCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}

	if req.Event == domain.EventNarrativeFilled && snap.State != domain.StateGenerated {
		return nil, fmt.Errorf("%w: case %s is %s", domain.ErrStaleNarrativeFill, snap.ID, snap.State)
	}

	next, ok := domain.NextState(snap.State, req.Event)
	if !ok {
		return nil, fmt.Errorf("%w: %s in state %s", domain.ErrIllegalTransition, req.Event, snap.State)
	}

	unlock := s.locks.Lock(req.CaseID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.cases[req.CaseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if current.Revision != snap.Revision {
		return nil, fmt.Errorf("%w: case %s revision %d", domain.ErrConcurrentModification, req.CaseID, snap.Revision)
	}

	now := time.Now().UTC()
	applyTransition(current, req, next, now)
	current.Revision++
	current.UpdatedAt = now

	s.appendLocked(auditForTransition(current, req, now))
	return cloneCase(current), nil
}

func (s *MemoryStore) AppendScore(ctx context.Context, caseID string, result *domain.ScoreResult, actor string) (*domain.Case, error) {
	unlock := s.locks.Lock(caseID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, domain.ErrNotFound
	}

	now := time.Now().UTC()
	c.Score = result
	c.Revision++
	c.UpdatedAt = now

	s.appendLocked(&domain.AuditEvent{
		ID:             uuid.NewString(),
		CaseID:         caseID,
		Kind:           domain.AuditScored,
		Actor:          actor,
		Payload:        domain.MarshalPayload(domain.ScoredPayload{Score: result.Score, RawScore: result.RawScore, Matches: result.Matches}),
		Typologies:     result.TypologyIDs(),
		RuleSetVersion: result.RuleSetVersion,
		Timestamp:      now,
	})
	return cloneCase(c), nil
}

func (s *MemoryStore) Stats(ctx context.Context) (*domain.CaseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &domain.CaseStats{
		ByState:           make(map[domain.CaseState]int),
		TypologyFrequency: make(map[string]int),
		RefreshedAt:       time.Now().UTC(),
	}

	var scoreSum int
	for _, c := range s.cases {
		stats.TotalCases++
		stats.ByState[c.State]++
		if c.Score != nil {
			scoreSum += c.Score.Score
			if c.Score.Score >= domain.HighRiskThreshold {
				stats.HighRisk++
			}
			for _, m := range c.Score.Matches {
				stats.TypologyFrequency[m.RuleID]++
			}
		}
	}
	if stats.TotalCases > 0 {
		stats.AverageScore = float64(scoreSum) / float64(stats.TotalCases)
	}
	return stats, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// Append persists one standalone event.
func (s *MemoryStore) Append(ctx context.Context, ev *domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(ev)
	return nil
}

func (s *MemoryStore) ByCase(ctx context.Context, caseID string) ([]*domain.AuditEvent, error) {
	return s.filterEvents(func(ev *domain.AuditEvent) bool {
		return ev.CaseID == caseID
	}, 0, false)
}

func (s *MemoryStore) ByActor(ctx context.Context, actor string, limit int) ([]*domain.AuditEvent, error) {
	return s.filterEvents(func(ev *domain.AuditEvent) bool {
		return ev.Actor == actor
	}, normalizeLimit(limit), true)
}

func (s *MemoryStore) ByDateRange(ctx context.Context, from, to time.Time, limit int) ([]*domain.AuditEvent, error) {
	return s.filterEvents(func(ev *domain.AuditEvent) bool {
		return !ev.Timestamp.Before(from) && !ev.Timestamp.After(to)
	}, normalizeLimit(limit), false)
}

func (s *MemoryStore) ByTypology(ctx context.Context, typologyID string, limit int) ([]*domain.AuditEvent, error) {
	return s.filterEvents(func(ev *domain.AuditEvent) bool {
		for _, id := range ev.Typologies {
			if id == typologyID {
				return true
			}
		}
		return false
	}, normalizeLimit(limit), true)
}

// appendLocked assigns the next sequence number and stores the event.
// Caller must hold s.mu.
func (s *MemoryStore) appendLocked(ev *domain.AuditEvent) {
	s.seq++
	ev.Seq = s.seq
	s.events = append(s.events, ev)
}

func (s *MemoryStore) filterEvents(keep func(*domain.AuditEvent) bool, limit int, newestFirst bool) ([]*domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.AuditEvent
	for _, ev := range s.events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	if newestFirst {
		sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// cloneCase returns a shallow copy. Evidence, score and decision are
// treated as immutable once stored, so sharing them is safe.
func cloneCase(c *domain.Case) *domain.Case {
	copied := *c
	return &copied
}
