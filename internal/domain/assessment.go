package domain

import (
	"time"
)

// Severity grades a single risk factor.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// RiskLevel classifies the normalized fraud score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFactor records one contributing signal. Factor order follows
// evaluation order, not severity.
type RiskFactor struct {
	Type        SignalType     `json:"type"`
	Description string         `json:"description"`
	Severity    Severity       `json:"severity"`
	Details     map[string]any `json:"details,omitempty"`
}

// ReviewState tracks whether a flagged assessment has been looked at
// by a human. The transition is external to the engine; re-review is
// last-write-wins.
type ReviewState struct {
	Reviewed   bool       `json:"reviewed"`
	ReviewedBy string     `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
	Notes      string     `json:"notes,omitempty"`
}

// FraudAssessment is the engine's output for one transaction. The
// score and factor set are a deterministic function of the transaction,
// the statistics, and the pattern catalog at evaluation time; only the
// review fields mutate afterwards.
type FraudAssessment struct {
	ID            string `json:"id"`
	BusinessID    string `json:"businessId"`
	TransactionID string `json:"transactionId"`

	// Score is the normalized rule-based score in [0,1]; it drives the
	// risk bands. ModelScore is the secondary predictor's output and
	// BlendedScore the ensemble combination, both advisory.
	Score        float64 `json:"score"`
	ModelScore   float64 `json:"modelScore"`
	BlendedScore float64 `json:"blendedScore"`

	RiskLevel RiskLevel    `json:"riskLevel"`
	Flagged   bool         `json:"flagged"`
	Factors   []RiskFactor `json:"factors"`

	AssessedAt time.Time `json:"assessedAt"`

	ReviewState
}

// FlaggedTransaction pairs a flagged assessment with its transaction
// for the review feed.
type FlaggedTransaction struct {
	Transaction *Transaction     `json:"transaction"`
	Assessment  *FraudAssessment `json:"assessment"`
}

// FraudStatistics aggregates assessment outcomes for reporting.
type FraudStatistics struct {
	TotalAssessed int64   `json:"totalAssessed"`
	FlaggedCount  int64   `json:"flaggedCount"`
	HighRiskCount int64   `json:"highRiskCount"`
	AvgScore      float64 `json:"avgScore"`
	PendingReview int64   `json:"pendingReview"`
}
