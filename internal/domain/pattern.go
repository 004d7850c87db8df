package domain

import "time"

// SignalType identifies one fraud detection signal.
type SignalType string

// Built-in signal kinds, in evaluation order. The prefix anomaly is a
// corroborating signal: it is evaluated last and only contributes when
// at least one other factor already fired.
const (
	SignalUnusualAmount   SignalType = "unusual_amount"
	SignalUnusualTime     SignalType = "unusual_time"
	SignalRapidSuccession SignalType = "rapid_succession"
	SignalLargeAmount     SignalType = "new_customer_large_amount"
	SignalRoundNumber     SignalType = "round_number_pattern"
	SignalPrefixAnomaly   SignalType = "geographic_anomaly"

	// SignalCustom marks operator-defined CEL patterns.
	SignalCustom SignalType = "custom"
)

// BuiltinSignals lists the built-in signal kinds in evaluation order.
var BuiltinSignals = [...]SignalType{
	SignalUnusualAmount,
	SignalUnusualTime,
	SignalRapidSuccession,
	SignalLargeAmount,
	SignalRoundNumber,
	SignalPrefixAnomaly,
}

// FraudPattern configures one signal: whether it is active and how much
// a firing contributes to the raw score. A pattern that is absent or
// inactive silently disables its signal.
type FraudPattern struct {
	ID          string     `json:"id"`
	PatternType SignalType `json:"patternType"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`

	// Expression holds a CEL expression for custom patterns; empty for
	// built-in signal kinds.
	Expression string `json:"expression,omitempty"`

	Weight float64 `json:"weight"`
	Active bool    `json:"active"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
