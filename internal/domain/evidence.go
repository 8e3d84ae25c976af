// Package domain defines the core types and interfaces for Harrier.
package domain

import (
	"time"
)

// TransactionEvidence is one financial movement under review.
// Immutable once ingested: the scoring engine and the case record
// only ever read it.
type TransactionEvidence struct {
	ID string `json:"id"`

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Parties
	OriginAccountID      string `json:"originAccountId"`
	DestinationAccountID string `json:"destinationAccountId"`

	// Channel (e.g., "wire", "cash", "card", "swift")
	Channel string `json:"channel"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`

	// Geographic indicators (ISO 3166-1 alpha-2)
	OriginCountry      string `json:"originCountry,omitempty"`
	DestinationCountry string `json:"destinationCountry,omitempty"`

	// Free-text narration from the payment instruction
	Narration string `json:"narration,omitempty"`
}

// CustomerProfile holds the static KYC attributes of the case subject.
// Immutable for the duration of a scoring run; an external system may
// refresh it between cases.
type CustomerProfile struct {
	CustomerID string `json:"customerId"`

	// AccountID is the subject's account, used to orient evidence
	// as inbound or outbound relative to the subject.
	AccountID string `json:"accountId"`

	// RiskTier is the KYC classification (e.g., "low", "medium", "high").
	RiskTier string `json:"riskTier"`

	AccountAgeMonths int    `json:"accountAgeMonths"`
	Occupation       string `json:"occupation,omitempty"`
	BusinessType     string `json:"businessType,omitempty"`

	// AvgMonthlyVolume is the historical average transaction volume.
	AvgMonthlyVolume float64 `json:"avgMonthlyVolume"`
}

// Known evidence channels.
const (
	ChannelWire  = "wire"
	ChannelCash  = "cash"
	ChannelCard  = "card"
	ChannelSWIFT = "swift"
)
