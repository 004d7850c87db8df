package domain

import (
	"time"
)

// Transaction is a completed mobile-money payment received from the
// gateway callback. Once recorded it is never mutated.
type Transaction struct {
	// Internal identifier
	ID string `json:"id"`

	// Owning business
	BusinessID string `json:"businessId"`

	// Gateway receipt number (e.g. "TGH7YU12XX")
	TransactionID string `json:"transactionId"`

	// Gateway transaction type (e.g. "Pay Bill", "Buy Goods")
	Type string `json:"type"`

	Amount float64 `json:"amount"`

	// Paybill / till number the payment was made to
	ShortCode string `json:"shortCode"`

	// Business-specific reference codes
	BillRefNumber     string  `json:"billRefNumber,omitempty"`
	InvoiceNumber     string  `json:"invoiceNumber,omitempty"`
	OrgAccountBalance float64 `json:"orgAccountBalance,omitempty"`
	ThirdPartyTransID string  `json:"thirdPartyTransId,omitempty"`

	// Paying customer
	MSISDN     string `json:"msisdn"`
	FirstName  string `json:"firstName,omitempty"`
	MiddleName string `json:"middleName,omitempty"`
	LastName   string `json:"lastName,omitempty"`

	// Temporal
	TransTime time.Time `json:"transTime"`
	CreatedAt time.Time `json:"createdAt"`
}

// Business is the merchant a paybill/till number belongs to.
type Business struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ShortCode string    `json:"shortCode"`
	CreatedAt time.Time `json:"createdAt"`
}
