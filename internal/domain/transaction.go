// Package domain holds the core types of the gateway: parsed payment
// transactions, rent bills, plots/units and the event types exchanged
// between the ingestion and sync components.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle status of a parsed transaction.
// Messages that fail to parse are dropped, never persisted, so the only
// stored status is Confirmed.
type TransactionStatus string

const (
	// StatusConfirmed means the confirmation message parsed successfully.
	StatusConfirmed TransactionStatus = "confirmed"
)

// Transaction is a structured payment fact extracted from a bank
// confirmation SMS. Immutable once created, except for the reconciled
// flag and timestamp which are set by the reconciler.
type Transaction struct {
	// ID is derived from the external reference, the account reference
	// and the ingestion time. Note: the ingestion-time component makes
	// the ID non-deterministic across OS redeliveries of the same SMS.
	// Deduplication is therefore done on ExternalRef, never on ID.
	ID string `json:"id"`

	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	// Recipient is the payee name as printed by the bank.
	Recipient string `json:"recipient"`

	// AccountRef is the free-text account reference the tenant typed at
	// payment time. It maps to a unit code.
	AccountRef string `json:"account_ref"`

	// ExternalRef is the payment network's own transaction identifier
	// (e.g. an M-PESA receipt code). This is the dedup key.
	ExternalRef string `json:"external_ref"`

	// Method is the payment method label from the message, e.g. "MPESA".
	Method string `json:"method"`

	SenderName string `json:"sender_name"`
	// SenderPhone is E.164-like without the leading zero, e.g. 2547...
	SenderPhone string `json:"sender_phone"`

	// Date and Time are kept as the bank printed them (DD-MM-YYYY and
	// HH:MM, bank-local). They are not normalized to ISO.
	Date string `json:"date"`
	Time string `json:"time"`

	// RawText is the original message body, retained for audit.
	RawText string `json:"raw_text"`
	// Source is the SMS sender identifier the message arrived from.
	Source string `json:"source"`

	Status       TransactionStatus `json:"status"`
	Reconciled   bool              `json:"reconciled"`
	ReconciledAt *time.Time        `json:"reconciled_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// NewTransactionID derives a transaction id from the external and account
// references plus the ingestion instant as a tie-breaker. The result is
// unique per ingestion, not per payment; see the ID field doc.
func NewTransactionID(externalRef, accountRef string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", externalRef, accountRef, at.UnixNano())
}
