package domain

import "time"

// BusinessStatistics is the per-business amount baseline, recomputed
// from the full transaction history on every scoring call. AvgAmount
// and StdDevAmount are nil when the history is too small to derive
// them; the amount-deviation signal must not fire in that case.
type BusinessStatistics struct {
	BusinessID        string   `json:"businessId"`
	AvgAmount         *float64 `json:"avgAmount,omitempty"`
	StdDevAmount      *float64 `json:"stdDevAmount,omitempty"`
	TotalTransactions int64    `json:"totalTransactions"`
}

// CustomerStatistics counts one customer's history with one business.
// LifetimeCount and RoundNumberCount exclude the transaction being
// scored, so "zero prior transactions" means exactly that; the
// velocity count covers everything inside the trailing window.
type CustomerStatistics struct {
	BusinessID       string `json:"businessId"`
	MSISDN           string `json:"msisdn"`
	LifetimeCount    int64  `json:"lifetimeCount"`
	RoundNumberCount int64  `json:"roundNumberCount"`
	VelocityCount    int64  `json:"velocityCount"`
}

// CustomerStatsQuery parameterizes the customer counters.
type CustomerStatsQuery struct {
	BusinessID string
	MSISDN     string

	// ExcludeTxID is the transaction being scored; it is left out of
	// the lifetime and round-number counts.
	ExcludeTxID string

	// Velocity window, counted back from Now.
	Window time.Duration
	Now    time.Time

	// Amounts considered "round" for the repetition check.
	RoundAmounts []float64
}
