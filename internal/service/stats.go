package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const (
	statsCacheKey = "stats:dashboard"

	// statsTTL bounds how stale the dashboard may be. Stats are
	// derived data; the cases and audit events themselves are always
	// read fresh.
	statsTTL = 30 * time.Second
)

// Stats returns the dashboard aggregates, served from cache for up to
// statsTTL and recomputed from the store on a miss.
func (s *Service) Stats(ctx context.Context) (*domain.CaseStats, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, statsCacheKey); err == nil && data != nil {
			var stats domain.CaseStats
			if err := json.Unmarshal(data, &stats); err == nil {
				return &stats, nil
			}
		}
	}

	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(stats); err == nil {
			if err := s.cache.Set(ctx, statsCacheKey, data, statsTTL); err != nil {
				slog.Warn("failed to cache stats", "error", err)
			}
		}
	}

	return stats, nil
}
