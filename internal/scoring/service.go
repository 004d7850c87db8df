package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pesaguard/pesaguard/internal/domain"
	"github.com/pesaguard/pesaguard/internal/history"
)

// assessmentTTL bounds how long cached assessments live; a review
// refreshes the entry.
const assessmentTTL = 10 * time.Minute

// Service orchestrates a scoring call: gather history, evaluate,
// persist, cache, publish. History and persistence failures fail the
// call; a transaction is never given a partial score. Cache and bus
// failures are logged and ignored.
type Service struct {
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	history *history.Aggregator
	engine  *Engine
	logger  *slog.Logger
}

// NewService creates a scoring service. cache and bus may be nil.
func NewService(repo domain.Repository, cache domain.Cache, bus domain.EventBus, agg *history.Aggregator, engine *Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		bus:     bus,
		history: agg,
		engine:  engine,
		logger:  logger,
	}
}

// Engine exposes the underlying engine for pattern management.
func (s *Service) Engine() *Engine {
	return s.engine
}

// ScoreTransaction assesses one stored transaction.
func (s *Service) ScoreTransaction(ctx context.Context, tx *domain.Transaction) (*domain.FraudAssessment, error) {
	snap, err := s.history.Gather(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to gather transaction history: %w", err)
	}

	assessment, err := s.engine.Evaluate(Input{
		Transaction: tx,
		Business:    snap.Business,
		Customer:    snap.Customer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate transaction: %w", err)
	}

	if err := s.repo.SaveAssessment(ctx, assessment); err != nil {
		return nil, fmt.Errorf("failed to save assessment: %w", err)
	}

	s.cacheAssessment(ctx, assessment)
	s.publishAssessment(ctx, assessment)

	s.logger.Info("transaction assessed",
		"transaction_id", tx.ID,
		"score", assessment.Score,
		"risk_level", assessment.RiskLevel,
		"flagged", assessment.Flagged,
		"factors", len(assessment.Factors),
	)

	return assessment, nil
}

// BatchResult is one outcome of a batch scoring call.
type BatchResult struct {
	TransactionID string                  `json:"transactionId"`
	Assessment    *domain.FraudAssessment `json:"assessment,omitempty"`
	Err           error                   `json:"-"`
}

// ScoreBatch assesses a list of stored transactions. Failures are
// per-item; one bad transaction does not abort the rest.
func (s *Service) ScoreBatch(ctx context.Context, txIDs []string) []BatchResult {
	results := make([]BatchResult, 0, len(txIDs))

	for _, txID := range txIDs {
		result := BatchResult{TransactionID: txID}

		tx, err := s.repo.GetTransaction(ctx, txID)
		if err != nil {
			result.Err = fmt.Errorf("failed to load transaction: %w", err)
			results = append(results, result)
			continue
		}

		assessment, err := s.ScoreTransaction(ctx, tx)
		if err != nil {
			result.Err = err
		} else {
			result.Assessment = assessment
		}
		results = append(results, result)
	}

	return results
}

// GetAssessment reads an assessment through the cache.
func (s *Service) GetAssessment(ctx context.Context, assessmentID string) (*domain.FraudAssessment, error) {
	if s.cache != nil {
		if cached, err := s.cache.GetAssessment(ctx, assessmentID); err == nil && cached != nil {
			return cached, nil
		}
	}

	assessment, err := s.repo.GetAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	s.cacheAssessment(ctx, assessment)
	return assessment, nil
}

// Review marks an assessment as reviewed and refreshes the cached
// entry so readers never see the stale pre-review state.
func (s *Service) Review(ctx context.Context, assessmentID, reviewedBy, notes string) (*domain.FraudAssessment, error) {
	assessment, err := s.repo.ReviewAssessment(ctx, assessmentID, reviewedBy, notes)
	if err != nil {
		return nil, err
	}

	s.cacheAssessment(ctx, assessment)

	s.logger.Info("assessment reviewed",
		"assessment_id", assessmentID,
		"reviewed_by", reviewedBy,
	)

	return assessment, nil
}

// ReloadPatterns reloads the active pattern catalog from the
// repository.
func (s *Service) ReloadPatterns(ctx context.Context) error {
	patterns, err := s.repo.ListPatterns(ctx, true)
	if err != nil {
		return fmt.Errorf("failed to load patterns: %w", err)
	}

	if err := s.engine.LoadPatterns(patterns); err != nil {
		return err
	}

	builtin, custom := s.engine.PatternCount()
	s.logger.Info("pattern catalog loaded", "builtin", builtin, "custom", custom)

	return nil
}

func (s *Service) cacheAssessment(ctx context.Context, a *domain.FraudAssessment) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetAssessment(ctx, a, assessmentTTL); err != nil {
		s.logger.Warn("failed to cache assessment", "assessment_id", a.ID, "error", err)
	}
}

func (s *Service) publishAssessment(ctx context.Context, a *domain.FraudAssessment) {
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(a)
	if err != nil {
		s.logger.Warn("failed to encode assessment event", "assessment_id", a.ID, "error", err)
		return
	}

	if err := s.bus.Publish(ctx, domain.TopicAssessment, payload); err != nil {
		s.logger.Warn("failed to publish assessment", "assessment_id", a.ID, "error", err)
	}

	if a.Flagged {
		if err := s.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			s.logger.Warn("failed to publish alert", "assessment_id", a.ID, "error", err)
		}
	}
}
