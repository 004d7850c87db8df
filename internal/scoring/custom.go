package scoring

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/pesaguard/pesaguard/internal/domain"
)

// customPattern is an operator-defined CEL pattern compiled against
// the scoring environment. A boolean result fires at full weight; a
// numeric result scales the weight.
type customPattern struct {
	pattern *domain.FraudPattern
	program cel.Program
}

// newScoringEnv builds the CEL environment custom pattern expressions
// are compiled in.
func newScoringEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("customer_count", cel.IntType),
		cel.Variable("round_count", cel.IntType),
		cel.Variable("msisdn", cel.StringType),
		cel.Variable("is_round", cel.BoolType),
		cel.Variable("is_off_hours", cel.BoolType),
	)
}

func compileCustomPattern(env *cel.Env, p *domain.FraudPattern) (*customPattern, error) {
	if p.Expression == "" {
		return nil, fmt.Errorf("custom pattern %s has no expression", p.ID)
	}

	ast, issues := env.Compile(p.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile pattern %s: %w", p.ID, issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program for pattern %s: %w", p.ID, err)
	}

	return &customPattern{pattern: p, program: program}, nil
}

// activation builds the CEL variable bindings for one input.
func activation(in Input) map[string]any {
	fv := ExtractFeatures(in)

	var velocity, roundCount int64
	if in.Customer != nil {
		velocity = in.Customer.VelocityCount
		roundCount = in.Customer.RoundNumberCount
	}

	return map[string]any{
		"amount":         in.Transaction.Amount,
		"hour":           int64(in.Transaction.TransTime.Hour()),
		"day_of_week":    int64(in.Transaction.TransTime.Weekday()),
		"velocity_count": velocity,
		"customer_count": fv.CustomerCount,
		"round_count":    roundCount,
		"msisdn":         in.Transaction.MSISDN,
		"is_round":       fv.IsRound,
		"is_off_hours":   fv.IsUnusualHour,
	}
}

// evaluate runs the pattern against one input. An evaluation error is
// returned to the caller; a single broken pattern fails the whole
// assessment rather than silently skewing the score.
func (c *customPattern) evaluate(in Input) (float64, *domain.RiskFactor, error) {
	out, _, err := c.program.Eval(activation(in))
	if err != nil {
		return 0, nil, fmt.Errorf("pattern %s evaluation failed: %w", c.pattern.ID, err)
	}

	match, err := resultScore(out)
	if err != nil {
		return 0, nil, fmt.Errorf("pattern %s: %w", c.pattern.ID, err)
	}
	if match == 0 {
		return 0, nil, nil
	}

	contribution := c.pattern.Weight * match

	return contribution, &domain.RiskFactor{
		Type:        domain.SignalCustom,
		Description: c.pattern.Name,
		Severity:    customSeverity(contribution),
		Details: map[string]any{
			"pattern_id": c.pattern.ID,
		},
	}, nil
}

// resultScore coerces a CEL result to a match strength in [0,1].
func resultScore(val ref.Val) (float64, error) {
	switch v := val.(type) {
	case types.Bool:
		if bool(v) {
			return 1, nil
		}
		return 0, nil
	case types.Double:
		return clamp01(float64(v)), nil
	case types.Int:
		return clamp01(float64(v)), nil
	case types.Uint:
		return clamp01(float64(v)), nil
	default:
		return 0, fmt.Errorf("expression returned %T, want bool or number", val.Value())
	}
}

func customSeverity(contribution float64) domain.Severity {
	switch {
	case contribution >= 0.3:
		return domain.SeverityHigh
	case contribution >= 0.15:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}
