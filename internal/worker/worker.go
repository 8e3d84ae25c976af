// Package worker provides async narrative generation for scored cases.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/service"
)

// Worker listens for scored cases on the event bus and fills their
// draft narratives through the configured generator. It is the only
// caller of AttachNarrative in normal operation; the synchronous API
// route exists for deployments without a bus.
type Worker struct {
	bus       domain.EventBus
	svc       *service.Service
	generator domain.NarrativeGenerator

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a narrative worker.
func NewWorker(bus domain.EventBus, svc *service.Service, generator domain.NarrativeGenerator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		svc:       svc,
		generator: generator,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the scored-case topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicCaseScored, w.handleScored)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("narrative worker started",
		"topic", domain.TopicCaseScored,
		"generator", w.generator.Name(),
	)
	return nil
}

// scoredMessage is the payload published on the scored-case topic.
type scoredMessage struct {
	CaseID string `json:"caseId"`
	Score  int    `json:"score"`
}

// handleScored fills the narrative for one scored case.
func (w *Worker) handleScored(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var scored scoredMessage
	if err := json.Unmarshal(msg.Payload, &scored); err != nil {
		slog.Error("failed to parse scored message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	c, err := w.svc.GetCase(ctx, scored.CaseID)
	if err != nil {
		slog.Error("failed to load case for narrative",
			"case_id", scored.CaseID,
			"error", err,
		)
		return err
	}

	// A re-score of a case that already has its narrative also lands
	// here; there is nothing to generate for it.
	if c.State != domain.StateGenerated {
		slog.Debug("skipping narrative for advanced case",
			"case_id", c.ID,
			"state", c.State,
		)
		return nil
	}

	text, err := w.generator.Generate(ctx, c)
	if err != nil {
		slog.Error("narrative generation failed",
			"case_id", c.ID,
			"generator", w.generator.Name(),
			"error", err,
		)
		return err
	}

	if _, err := w.svc.AttachNarrative(ctx, c.ID, text, w.generator.Name()); err != nil {
		// The case moved on while we were generating. The late draft
		// is dropped; the trail stays consistent with the analyst's
		// actions.
		if errors.Is(err, domain.ErrStaleNarrativeFill) || errors.Is(err, domain.ErrConcurrentModification) {
			slog.Warn("dropping stale narrative fill",
				"case_id", c.ID,
				"error", err,
			)
			return nil
		}
		slog.Error("failed to attach narrative",
			"case_id", c.ID,
			"error", err,
		)
		return err
	}

	slog.Info("narrative filled",
		"case_id", c.ID,
		"generator", w.generator.Name(),
		"length", len(text),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("narrative worker stopped")
	return nil
}
