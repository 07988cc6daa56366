package model

import "time"

// Credit entry reasons. External payment and admin-adjustment flows write
// their own reasons; the core only ever writes debits and refunds.
const (
	EntryReasonGeneration = "generation"
	EntryReasonRefund     = "refund"
	EntryReasonPurchase   = "purchase"
	EntryReasonAdjustment = "adjustment"
)

// CreditEntry is one immutable signed amount on an account's ledger. The
// balance of an account is always the sum of its entries; entries are never
// updated or deleted. A debit and its refund are two separate rows.
type CreditEntry struct {
	ID        int64     `json:"-"`
	EntryID   string    `json:"entry_id"`
	AccountID string    `json:"account_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	JobID     string    `json:"job_id,omitempty"`
	PaymentID string    `json:"payment_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DebitAmount returns the signed ledger amount for admitting a job. Mannequin
// renders consume a second credit because they run the model twice.
func DebitAmount(mannequinMode string) int64 {
	if mannequinMode != "" && mannequinMode != "none" {
		return -2
	}
	return -1
}
