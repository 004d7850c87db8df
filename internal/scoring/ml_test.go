package scoring

import (
	"math"
	"testing"
	"time"

	"github.com/pesaguard/pesaguard/internal/domain"
)

func TestExtractFeatures(t *testing.T) {
	avg := 1000.0
	stddev := 500.0
	tx := &domain.Transaction{
		Amount:    3000,
		MSISDN:    "+254712345678",
		TransTime: time.Date(2024, 6, 10, 2, 0, 0, 0, time.UTC),
	}

	fv := ExtractFeatures(Input{
		Transaction: tx,
		Business:    &domain.BusinessStatistics{AvgAmount: &avg, StdDevAmount: &stddev},
		Customer:    &domain.CustomerStatistics{LifetimeCount: 4},
	})

	// (3000 - 1000) / 500
	if fv.AmountDeviation != 4 {
		t.Errorf("expected deviation 4, got %v", fv.AmountDeviation)
	}
	if !fv.IsRound {
		t.Error("3000 is a multiple of 1000")
	}
	if fv.Hour != 2 || !fv.IsUnusualHour {
		t.Error("02:00 is an unusual hour")
	}
	if fv.DayOfWeek != 1 {
		t.Errorf("2024-06-10 is a Monday, got day %d", fv.DayOfWeek)
	}
	if fv.CustomerCount != 4 {
		t.Errorf("expected customer count 4, got %d", fv.CustomerCount)
	}
	if !fv.HasCountryCode || fv.PhoneLength != 13 {
		t.Errorf("unexpected phone features: %+v", fv)
	}
}

func TestExtractFeaturesMissingStdDev(t *testing.T) {
	// With an average but no stddev the deviation falls back to a
	// unit scale.
	avg := 1000.0
	fv := ExtractFeatures(Input{
		Transaction: &domain.Transaction{
			Amount:    1200,
			TransTime: time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC),
		},
		Business: &domain.BusinessStatistics{AvgAmount: &avg},
	})

	if fv.AmountDeviation != 200 {
		t.Errorf("expected deviation 200 with unit stddev, got %v", fv.AmountDeviation)
	}
}

func TestExtractFeaturesNoBaseline(t *testing.T) {
	fv := ExtractFeatures(Input{
		Transaction: &domain.Transaction{
			Amount:    750,
			TransTime: time.Date(2024, 6, 10, 14, 0, 0, 0, time.UTC),
		},
	})

	if fv.AmountDeviation != 0 {
		t.Errorf("expected zero deviation without a baseline, got %v", fv.AmountDeviation)
	}
	if fv.IsRound {
		t.Error("750 is not a multiple of 1000")
	}
	if fv.IsUnusualHour {
		t.Error("14:00 is not an unusual hour")
	}
}

func TestLinearPredictor(t *testing.T) {
	p := LinearPredictor{}

	// Neutral vector sits at the bias.
	if got := p.Predict(FeatureVector{}); got != 0.5 {
		t.Errorf("expected 0.5 for neutral features, got %v", got)
	}

	// Every risk feature on, no history: 0.5 + 0.25 + 0.1 + 0.15 = 1.
	got := p.Predict(FeatureVector{
		AmountDeviation: 5,
		IsRound:         true,
		IsUnusualHour:   true,
	})
	if got != 1 {
		t.Errorf("expected saturated score 1, got %v", got)
	}

	// Established history pulls the score down.
	got = p.Predict(FeatureVector{CustomerCount: 20})
	want := 0.5 - 0.05*math.Log(21)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, got)
	}

	// Output is always in [0,1].
	got = p.Predict(FeatureVector{CustomerCount: 1 << 40})
	if got < 0 || got > 1 {
		t.Errorf("score out of range: %v", got)
	}
}
