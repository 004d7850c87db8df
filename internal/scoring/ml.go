package scoring

import (
	"math"
	"strings"
)

// FeatureVector holds the derived features the secondary predictor
// scores on. It deliberately carries more features than the linear
// placeholder uses so a trained model can be swapped in behind the
// same contract.
type FeatureVector struct {
	// Standard deviations from the business average amount; zero when
	// no baseline exists.
	AmountDeviation float64

	Hour      int
	DayOfWeek int

	// Amount is a multiple of 1000.
	IsRound bool

	// Transaction happened between 23:00 and 05:59.
	IsUnusualHour bool

	// Customer's prior transaction count with the business.
	CustomerCount int64

	PhoneLength    int
	HasCountryCode bool
}

// ExtractFeatures derives the predictor's feature vector from a
// scoring input.
func ExtractFeatures(in Input) FeatureVector {
	fv := FeatureVector{
		Hour:      in.Transaction.TransTime.Hour(),
		DayOfWeek: int(in.Transaction.TransTime.Weekday()),

		PhoneLength:    len(in.Transaction.MSISDN),
		HasCountryCode: strings.HasPrefix(in.Transaction.MSISDN, "+"),
	}

	if in.Business != nil && in.Business.AvgAmount != nil {
		stddev := 1.0
		if in.Business.StdDevAmount != nil && *in.Business.StdDevAmount > 0 {
			stddev = *in.Business.StdDevAmount
		}
		fv.AmountDeviation = (in.Transaction.Amount - *in.Business.AvgAmount) / stddev
	}

	fv.IsRound = math.Mod(in.Transaction.Amount, 1000) == 0
	fv.IsUnusualHour = fv.Hour >= 23 || fv.Hour <= 5

	if in.Customer != nil {
		fv.CustomerCount = in.Customer.LifetimeCount
	}

	return fv
}

// Predictor produces an advisory fraud probability from a feature
// vector. It never influences the rule-based risk level.
type Predictor interface {
	Predict(fv FeatureVector) float64
}

// LinearPredictor is a fixed-coefficient linear model. Deviation and
// off-hours activity push the probability up; an established customer
// history pulls it down logarithmically. The coefficients are static
// stand-ins, not learned.
type LinearPredictor struct{}

func (LinearPredictor) Predict(fv FeatureVector) float64 {
	score := 0.5

	score += 0.25 * math.Min(math.Abs(fv.AmountDeviation), 1)
	if fv.IsRound {
		score += 0.1
	}
	if fv.IsUnusualHour {
		score += 0.15
	}
	if fv.CustomerCount > 0 {
		score -= 0.05 * math.Log(float64(fv.CustomerCount)+1)
	}

	return clamp01(score)
}

// Ensemble blends the rule-based score with the predictor's score.
func Ensemble(ruleScore, modelScore, ruleWeight, modelWeight float64) float64 {
	return clamp01(ruleScore*ruleWeight + modelScore*modelWeight)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
