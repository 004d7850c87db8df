package scoring

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"

	"github.com/pesaguard/pesaguard/internal/domain"
)

// Engine evaluates transactions against the active pattern catalog.
// Evaluation is pure: given the same input and catalog it always
// produces the same score, factors, and risk level. Safe for
// concurrent use; LoadPatterns swaps the catalog atomically.
type Engine struct {
	mu        sync.RWMutex
	catalog   catalog
	customs   []*customPattern
	env       *cel.Env
	predictor Predictor
	cfg       domain.ScoringConfig
}

// NewEngine creates a scoring engine with an empty catalog. Call
// LoadPatterns before scoring; with no active patterns every
// transaction scores zero.
func NewEngine(cfg domain.ScoringConfig, predictor Predictor) (*Engine, error) {
	env, err := newScoringEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring environment: %w", err)
	}

	if predictor == nil {
		predictor = LinearPredictor{}
	}

	return &Engine{
		catalog:   buildCatalog(nil),
		env:       env,
		predictor: predictor,
		cfg:       cfg,
	}, nil
}

// LoadPatterns replaces the active catalog. Custom patterns are
// compiled up front; a pattern that fails to compile rejects the whole
// load and leaves the previous catalog in place.
func (e *Engine) LoadPatterns(patterns []*domain.FraudPattern) error {
	var customs []*customPattern
	for _, p := range patterns {
		if !p.Active || p.PatternType != domain.SignalCustom {
			continue
		}
		compiled, err := compileCustomPattern(e.env, p)
		if err != nil {
			return err
		}
		customs = append(customs, compiled)
	}

	next := buildCatalog(patterns)

	e.mu.Lock()
	e.catalog = next
	e.customs = customs
	e.mu.Unlock()

	return nil
}

// PatternCount returns the number of enabled built-in and custom
// patterns.
func (e *Engine) PatternCount() (builtin, custom int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.catalog.weights), len(e.customs)
}

// Evaluate scores one transaction. The returned assessment carries the
// clamped rule score, the advisory model and blended scores, the risk
// level, and the contributing factors in evaluation order.
func (e *Engine) Evaluate(in Input) (*domain.FraudAssessment, error) {
	if in.Transaction == nil {
		return nil, fmt.Errorf("transaction is required")
	}

	e.mu.RLock()
	cat := e.catalog
	customs := e.customs
	e.mu.RUnlock()

	var acc accumulator
	for _, signal := range domain.BuiltinSignals {
		weight, enabled := cat.weight(signal)
		if !enabled {
			continue
		}
		contribution, factor := builtinEvaluators[signal](e.cfg, in, weight, &acc)
		if factor != nil {
			acc.add(contribution, *factor)
		}
	}

	for _, custom := range customs {
		contribution, factor, err := custom.evaluate(in)
		if err != nil {
			return nil, err
		}
		if factor != nil {
			acc.add(contribution, *factor)
		}
	}

	score := clamp01(acc.total)

	modelScore := e.predictor.Predict(ExtractFeatures(in))
	blended := Ensemble(score, modelScore, e.cfg.EnsembleRuleWeight, e.cfg.EnsembleModelWeight)

	level, flagged := Classify(score)

	return &domain.FraudAssessment{
		ID:            uuid.NewString(),
		BusinessID:    in.Transaction.BusinessID,
		TransactionID: in.Transaction.ID,
		Score:         score,
		ModelScore:    modelScore,
		BlendedScore:  blended,
		RiskLevel:     level,
		Flagged:       flagged,
		Factors:       acc.factors,
		AssessedAt:    time.Now().UTC(),
	}, nil
}

// Classify maps a normalized score to a risk level and the flagged
// decision. Band boundaries are inclusive at the lower edge. Inside
// the medium band only scores of 0.4 and above are flagged; the band
// and the flag are separate review policies.
func Classify(score float64) (domain.RiskLevel, bool) {
	switch {
	case score >= 0.75:
		return domain.RiskCritical, true
	case score >= 0.5:
		return domain.RiskHigh, true
	case score >= 0.3:
		return domain.RiskMedium, score >= 0.4
	default:
		return domain.RiskLow, false
	}
}
