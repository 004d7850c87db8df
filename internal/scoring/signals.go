package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/pesaguard/pesaguard/internal/domain"
)

// Input carries everything a single scoring call depends on. The
// statistics are read once before evaluation so the result is a pure
// function of this value.
type Input struct {
	Transaction *domain.Transaction
	Business    *domain.BusinessStatistics
	Customer    *domain.CustomerStatistics
}

// accumulator collects signal contributions during one evaluation.
type accumulator struct {
	total   float64
	factors []domain.RiskFactor
}

func (a *accumulator) add(contribution float64, factor domain.RiskFactor) {
	a.total += contribution
	a.factors = append(a.factors, factor)
}

// signalFunc evaluates one built-in signal against the input. It
// returns the contribution and factor if the signal fired.
type signalFunc func(cfg domain.ScoringConfig, in Input, weight float64, acc *accumulator) (float64, *domain.RiskFactor)

// builtinEvaluators maps each built-in signal type to its evaluator.
// Evaluation follows domain.BuiltinSignals order; the prefix anomaly
// inspects the accumulator and only fires when another factor already
// has.
var builtinEvaluators = map[domain.SignalType]signalFunc{
	domain.SignalUnusualAmount:   evalUnusualAmount,
	domain.SignalUnusualTime:     evalUnusualTime,
	domain.SignalRapidSuccession: evalRapidSuccession,
	domain.SignalLargeAmount:     evalLargeAmount,
	domain.SignalRoundNumber:     evalRoundNumber,
	domain.SignalPrefixAnomaly:   evalPrefixAnomaly,
}

// evalUnusualAmount fires when the amount deviates from the business
// baseline by more than 3 standard deviations. It needs at least two
// prior data points; with no usable baseline it stays silent.
func evalUnusualAmount(_ domain.ScoringConfig, in Input, weight float64, _ *accumulator) (float64, *domain.RiskFactor) {
	if in.Business == nil || in.Business.AvgAmount == nil || in.Business.StdDevAmount == nil {
		return 0, nil
	}
	stddev := *in.Business.StdDevAmount
	if stddev <= 0 {
		return 0, nil
	}

	avg := *in.Business.AvgAmount
	z := math.Abs(in.Transaction.Amount-avg) / stddev
	if z <= 3 {
		return 0, nil
	}

	// Deviation scales the contribution up to the full weight at 5
	// standard deviations.
	contribution := weight * math.Min(z/5, 1)

	severity := domain.SeverityMedium
	if z > 5 {
		severity = domain.SeverityHigh
	}

	return contribution, &domain.RiskFactor{
		Type:        domain.SignalUnusualAmount,
		Description: "Transaction amount significantly deviates from business average",
		Severity:    severity,
		Details: map[string]any{
			"amount":     in.Transaction.Amount,
			"avg_amount": round2(avg),
			"z_score":    round2(z),
		},
	}
}

// evalUnusualTime fires for transactions between 23:00 and 05:59.
func evalUnusualTime(_ domain.ScoringConfig, in Input, weight float64, _ *accumulator) (float64, *domain.RiskFactor) {
	hour := in.Transaction.TransTime.Hour()
	if hour < 23 && hour > 5 {
		return 0, nil
	}

	return weight, &domain.RiskFactor{
		Type:        domain.SignalUnusualTime,
		Description: "Transaction occurred during unusual hours",
		Severity:    domain.SeverityLow,
		Details: map[string]any{
			"hour": hour,
			"time": in.Transaction.TransTime.Format("15:04"),
		},
	}
}

// evalRapidSuccession fires when the customer has made 3 or more
// transactions inside the velocity window, the scored one included.
// The contribution grows with the count, up to twice the configured
// weight.
func evalRapidSuccession(cfg domain.ScoringConfig, in Input, weight float64, _ *accumulator) (float64, *domain.RiskFactor) {
	if in.Customer == nil || in.Customer.VelocityCount < 3 {
		return 0, nil
	}

	contribution := weight * math.Min(float64(in.Customer.VelocityCount)/3, 2)

	severity := domain.SeverityMedium
	if in.Customer.VelocityCount >= 5 {
		severity = domain.SeverityHigh
	}

	return contribution, &domain.RiskFactor{
		Type:        domain.SignalRapidSuccession,
		Description: "Multiple transactions in rapid succession",
		Severity:    severity,
		Details: map[string]any{
			"transaction_count": in.Customer.VelocityCount,
			"time_window":       fmt.Sprintf("%d minutes", int(cfg.VelocityWindow.Minutes())),
		},
	}
}

// evalLargeAmount fires when the amount exceeds the large-amount
// threshold. A first-time customer contributes the full weight; an
// established customer contributes a reduced share.
func evalLargeAmount(cfg domain.ScoringConfig, in Input, weight float64, _ *accumulator) (float64, *domain.RiskFactor) {
	if in.Transaction.Amount <= cfg.LargeAmountThreshold {
		return 0, nil
	}

	firstTime := in.Customer == nil || in.Customer.LifetimeCount == 0

	contribution := weight
	if !firstTime {
		contribution = weight * 0.7
	}

	return contribution, &domain.RiskFactor{
		Type:        domain.SignalLargeAmount,
		Description: "Large transaction amount",
		Severity:    domain.SeverityHigh,
		Details: map[string]any{
			"amount":               in.Transaction.Amount,
			"is_first_transaction": firstTime,
			"threshold":            cfg.LargeAmountThreshold,
		},
	}
}

// evalRoundNumber fires when the amount is one of the configured round
// amounts and the customer already has at least 2 prior round-amount
// transactions.
func evalRoundNumber(cfg domain.ScoringConfig, in Input, weight float64, _ *accumulator) (float64, *domain.RiskFactor) {
	if in.Customer == nil || in.Customer.RoundNumberCount < 2 {
		return 0, nil
	}
	if !isRoundAmount(in.Transaction.Amount, cfg.RoundAmounts) {
		return 0, nil
	}

	return weight, &domain.RiskFactor{
		Type:        domain.SignalRoundNumber,
		Description: "Repeated round-number transactions",
		Severity:    domain.SeverityLow,
		Details: map[string]any{
			"amount":                  in.Transaction.Amount,
			"round_transaction_count": in.Customer.RoundNumberCount,
		},
	}
}

// evalPrefixAnomaly fires when the customer's phone number carries a
// suspicious prefix. It only ever corroborates: with no other factor
// accumulated it contributes nothing.
func evalPrefixAnomaly(cfg domain.ScoringConfig, in Input, weight float64, acc *accumulator) (float64, *domain.RiskFactor) {
	if len(acc.factors) == 0 {
		return 0, nil
	}

	prefix, ok := matchPrefix(in.Transaction.MSISDN, cfg.SuspiciousPrefixes)
	if !ok {
		return 0, nil
	}

	return weight * 0.5, &domain.RiskFactor{
		Type:        domain.SignalPrefixAnomaly,
		Description: "Phone number prefix associated with elevated fraud reports",
		Severity:    domain.SeverityLow,
		Details: map[string]any{
			"phone":  in.Transaction.MSISDN,
			"prefix": prefix,
		},
	}
}

func matchPrefix(msisdn string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(msisdn, p) {
			return p, true
		}
	}
	return "", false
}

func isRoundAmount(amount float64, roundAmounts []float64) bool {
	for _, r := range roundAmounts {
		if amount == r {
			return true
		}
	}
	return false
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
