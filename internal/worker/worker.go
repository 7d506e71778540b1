// Package worker provides async processing of evaluation events.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/condor/internal/domain"
)

// Worker consumes pipeline events from the EventBus. It materializes the
// tax calendar after each evaluation and drops stale cache entries when a
// rule set or threshold changes.
type Worker struct {
	bus   domain.EventBus
	repo  domain.Repository
	cache domain.Cache

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = the default tenant)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		repo:   repo,
		cache:  cache,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing events for the given tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{"default"}
	}

	for _, tenantID := range tenants {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(tenants),
	)

	return nil
}

// startTenantWorker subscribes one tenant to every pipeline topic.
func (w *Worker) startTenantWorker(tenantID string) error {
	topics := map[string]domain.MessageHandler{
		domain.TopicEvaluationCompleted: w.handleEvaluationCompleted,
		domain.TopicRuleSetPublished:    w.handleRuleSetPublished,
		domain.TopicThresholdUpdated:    w.handleThresholdUpdated,
	}

	for topic, handler := range topics {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, handler)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
	)

	return nil
}

// handleEvaluationCompleted rebuilds the user's tax calendar for the fiscal
// year from the evaluation's applies results.
func (w *Worker) handleEvaluationCompleted(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var event domain.EvaluationCompletedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse evaluation completed event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tenantID := msg.TenantID

	evaluation, err := w.repo.GetEvaluation(ctx, tenantID, event.EvaluationID)
	if err != nil {
		slog.Error("failed to load evaluation for calendar",
			"evaluation_id", event.EvaluationID,
			"error", err,
		)
		return err
	}

	// The NIT last digit selects the DIAN due date; it comes from the frozen
	// snapshot, not from the mutable profile.
	var snapshot domain.TaxProfile
	if err := json.Unmarshal(evaluation.ProfileSnapshot, &snapshot); err != nil {
		slog.Error("failed to parse profile snapshot",
			"evaluation_id", event.EvaluationID,
			"error", err,
		)
		return err
	}

	periodicities, err := w.repo.ListPeriodicities(ctx, tenantID, evaluation.FiscalYearID)
	if err != nil {
		slog.Error("failed to load periodicities",
			"fiscal_year_id", evaluation.FiscalYearID,
			"error", err,
		)
		return err
	}
	byObligation := make(map[string]*domain.ObligationPeriodicity, len(periodicities))
	for _, p := range periodicities {
		byObligation[p.ObligationTypeID] = p
	}

	var entries []*domain.CalendarEntry
	for _, result := range evaluation.Results {
		if result.Result != domain.ResultApplies {
			continue
		}

		entry := &domain.CalendarEntry{
			ID:               uuid.New().String(),
			UserID:           evaluation.UserID,
			TenantID:         tenantID,
			EvaluationID:     evaluation.ID,
			ObligationTypeID: result.ObligationTypeID,
			ObligationCode:   result.ObligationCode,
			ObligationName:   result.ObligationName,
			FiscalYearID:     evaluation.FiscalYearID,
			Periodicity:      result.Periodicity,
			Status:           domain.CalendarPending,
		}
		if p, ok := byObligation[result.ObligationTypeID]; ok {
			entry.DueDate = p.DueDateFor(snapshot.NITLastDigit)
		}
		entries = append(entries, entry)
	}

	err = w.repo.ReplaceCalendarEntries(ctx, tenantID, evaluation.UserID, evaluation.FiscalYearID, entries)
	if err != nil {
		slog.Error("failed to replace calendar entries",
			"evaluation_id", evaluation.ID,
			"error", err,
		)
		return err
	}

	slog.Info("calendar materialized",
		"evaluation_id", evaluation.ID,
		"tenant_id", tenantID,
		"entry_count", len(entries),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// handleRuleSetPublished drops the fiscal year's derived cache entries so
// the next evaluation reads the new corpus.
func (w *Worker) handleRuleSetPublished(ctx context.Context, msg *domain.Message) error {
	var event domain.RuleSetPublishedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse rule set published event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	return w.invalidateFiscalYear(ctx, msg.TenantID, event.FiscalYearID, "ruleset_published")
}

// handleThresholdUpdated drops the fiscal year's derived cache entries so
// threshold maps are rebuilt with the new value.
func (w *Worker) handleThresholdUpdated(ctx context.Context, msg *domain.Message) error {
	var event domain.ThresholdUpdatedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		slog.Error("failed to parse threshold updated event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	return w.invalidateFiscalYear(ctx, msg.TenantID, event.FiscalYearID, "threshold_updated")
}

func (w *Worker) invalidateFiscalYear(ctx context.Context, tenantID, fyID, reason string) error {
	if w.cache == nil {
		return nil
	}

	if err := w.cache.DeleteByPrefix(ctx, tenantID, domain.FiscalYearPrefix(fyID)); err != nil {
		slog.Error("failed to invalidate fiscal year cache",
			"tenant_id", tenantID,
			"fiscal_year_id", fyID,
			"error", err,
		)
		return err
	}

	slog.Info("fiscal year cache invalidated",
		"tenant_id", tenantID,
		"fiscal_year_id", fyID,
		"reason", reason,
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
