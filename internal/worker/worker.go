// Package worker scores transactions published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pesaguard/pesaguard/internal/domain"
	"github.com/pesaguard/pesaguard/internal/scoring"
)

// alertThrottle bounds how many alert notifications one business can
// generate per window; further flagged assessments are still scored
// and persisted, just not re-alerted.
const (
	alertThrottleWindow = time.Minute
	alertThrottleLimit  = 10
)

// ingestedEvent is the payload published on the transaction-ingested
// topic.
type ingestedEvent struct {
	TransactionID string `json:"transactionId"`
	BusinessID    string `json:"businessId"`
}

// Worker consumes transaction-ingested events and scores each
// transaction asynchronously. It exists for deployments where the
// ingestion path must acknowledge before scoring completes; the
// synchronous API path does not go through it.
type Worker struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	service *scoring.Service
	logger  *slog.Logger

	sub domain.Subscription
}

// New creates a worker. cache may be nil, disabling alert throttling.
func New(repo domain.Repository, cache domain.Cache, bus domain.EventBus, service *scoring.Service, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		service: service,
		logger:  logger,
	}
}

// Start subscribes to the transaction-ingested topic.
func (w *Worker) Start(ctx context.Context) error {
	sub, err := w.bus.Subscribe(ctx, domain.TopicTransactionIngested, w.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe worker: %w", err)
	}
	w.sub = sub

	w.logger.Info("scoring worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

// Stop unsubscribes the worker.
func (w *Worker) Stop() error {
	if w.sub == nil {
		return nil
	}
	return w.sub.Unsubscribe()
}

func (w *Worker) handle(ctx context.Context, msg *domain.Message) error {
	var event ingestedEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.logger.Error("failed to decode ingested event", "error", err)
		return err
	}

	tx, err := w.repo.GetTransaction(ctx, event.TransactionID)
	if err != nil {
		w.logger.Error("failed to load transaction for scoring",
			"transaction_id", event.TransactionID, "error", err)
		return err
	}

	assessment, err := w.service.ScoreTransaction(ctx, tx)
	if err != nil {
		w.logger.Error("failed to score transaction",
			"transaction_id", tx.ID, "error", err)
		return err
	}

	if assessment.Flagged {
		w.maybeAlert(ctx, assessment)
	}

	return nil
}

// maybeAlert logs a flagged assessment unless the business has already
// hit its alert budget for the window. The service has already
// published the alert event; this is the operator-facing log line.
func (w *Worker) maybeAlert(ctx context.Context, a *domain.FraudAssessment) {
	if w.cache != nil {
		count, err := w.cache.IncrementCounter(ctx, "alerts:"+a.BusinessID, alertThrottleWindow)
		if err == nil && count > alertThrottleLimit {
			return
		}
	}

	w.logger.Warn("flagged transaction",
		"assessment_id", a.ID,
		"transaction_id", a.TransactionID,
		"business_id", a.BusinessID,
		"score", a.Score,
		"risk_level", a.RiskLevel,
	)
}
